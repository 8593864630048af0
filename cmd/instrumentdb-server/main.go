// Command instrumentdb-server serves the read-only catalog API and the
// Prometheus metrics endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"instrumentdb/docs/schema/openapi"
	"instrumentdb/internal/adapters/catalog"
	"instrumentdb/internal/blob"
	"instrumentdb/internal/config"
	"instrumentdb/internal/core"
	"instrumentdb/internal/platform/logger"
)

const shutdownTimeout = 10 * time.Second

var (
	exitFunc   = os.Exit
	loadConfig = config.Load
	// listen is replaced in tests to learn the bound address.
	listen = net.Listen
)

func main() {
	code := cli(os.Args[1:], os.Stderr)
	exitFunc(code)
}

func cli(args []string, stderr io.Writer) int {
	fs := pflag.NewFlagSet("instrumentdb-server", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", "", "listen address (default $"+config.EnvHTTPAddr+" or "+config.DefaultHTTPAddr+")")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := serve(ctx, *addr); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func serve(ctx context.Context, addr string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if addr == "" {
		addr = cfg.HTTPAddr
	}
	log, err := cfg.NewLogger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	handler, closeFn, err := newHandler(ctx, cfg, reg, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); cerr != nil && err == nil {
			err = fmt.Errorf("close catalog: %w", cerr)
		}
	}()

	ln, err := listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	log.Info("serving catalog", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Info("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// newHandler wires the catalog service, blob store and metrics into the
// server mux. The returned function closes the catalog store.
func newHandler(ctx context.Context, cfg config.Config, reg *prometheus.Registry, log *logger.Logger) (http.Handler, func() error, error) {
	recorder, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		return nil, nil, err
	}
	httpMetrics, err := catalog.NewMetrics(reg)
	if err != nil {
		return nil, nil, err
	}
	store, err := core.OpenPersistentStore(cfg.Storage, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("open catalog: %w", err)
	}
	svc := core.NewService(store, core.WithLogger(log), core.WithMetricsRecorder(recorder))
	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = svc.Close()
		return nil, nil, fmt.Errorf("open blob store: %w", err)
	}

	api := catalog.NewHandler(svc, blobs)
	api.Logger = log
	api.Metrics = httpMetrics

	mux := http.NewServeMux()
	mux.Handle("/api/", api)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(openapi.Spec())
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return mux, svc.Close, nil
}
