// Command instrumentdb-import loads YAML/JSON catalog manifests into the
// configured catalog store and blob store.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"instrumentdb/internal/blob"
	"instrumentdb/internal/config"
	"instrumentdb/internal/core"
	"instrumentdb/internal/importer"
)

var (
	exitFunc   = os.Exit
	loadConfig = config.Load
)

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

type flags struct {
	dryRun      bool
	noOverwrite bool
	json        bool
	trace       bool
	metricsFile string
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("instrumentdb-import", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		_, _ = fmt.Fprintln(stderr, "usage: instrumentdb-import [flags] MANIFEST...")
		fs.PrintDefaults()
	}
	var f flags
	fs.BoolVar(&f.dryRun, "dry-run", false, "validate manifests without writing to the catalog")
	fs.BoolVar(&f.noOverwrite, "no-overwrite", false, "skip records whose UUID already exists")
	fs.BoolVar(&f.json, "json", false, "accepted for compatibility; has no effect")
	fs.BoolVar(&f.trace, "trace", false, "write a JSON span per catalog operation to stderr")
	fs.StringVar(&f.metricsFile, "metrics-textfile", "", "write import metrics in Prometheus text format to this file")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, f, fs.Args(), stdout, stderr); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, f flags, manifests []string, stdout, stderr io.Writer) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, err := cfg.NewLogger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer log.Sync()

	reg := prometheus.NewRegistry()
	metrics, err := importer.NewMetrics(reg)
	if err != nil {
		return err
	}
	deps := importer.Dependencies{Logger: log, Output: stdout, Metrics: metrics}

	if !f.dryRun {
		recorder, err := core.NewPrometheusMetricsRecorder(reg)
		if err != nil {
			return err
		}
		opts := []core.Option{
			core.WithLogger(log),
			core.WithAuditRecorder(core.LoggerAuditRecorder{Logger: log}),
			core.WithMetricsRecorder(recorder),
		}
		if f.trace {
			opts = append(opts, core.WithTracer(core.NewJSONTracer(stderr)))
		}
		store, err := core.OpenPersistentStore(cfg.Storage, nil)
		if err != nil {
			return fmt.Errorf("open catalog: %w", err)
		}
		svc := core.NewService(store, opts...)
		defer func() {
			if cerr := svc.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("close catalog: %w", cerr)
			}
		}()
		blobs, err := blob.Open(ctx, cfg.Blob)
		if err != nil {
			return fmt.Errorf("open blob store: %w", err)
		}
		deps.Service = svc
		deps.Blobs = blobs
	}

	engine, err := importer.New(deps, importer.Options{
		DryRun:      f.dryRun,
		NoOverwrite: f.noOverwrite,
		JSON:        f.json,
		TimeZone:    cfg.TimeZone,
	})
	if err != nil {
		return err
	}
	runErr := engine.Run(ctx, manifests...)
	if f.metricsFile != "" {
		if werr := prometheus.WriteToTextfile(f.metricsFile, reg); werr != nil {
			log.Warn("write metrics textfile", "path", f.metricsFile, "error", werr)
		}
	}
	return runErr
}
