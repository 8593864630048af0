package integration

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"instrumentdb/internal/adapters/catalog"
	"instrumentdb/internal/blob"
	"instrumentdb/internal/config"
	"instrumentdb/internal/core"
	"instrumentdb/internal/importer"
)

const smokeManifest = `
format_specifications:
  - uuid: 3f2504e0-4f89-41d3-9a0c-0305e82c3301
    document_ref: LFI-DOC-1
    file_mime_type: text/csv
entities:
  - uuid: 0f8fad5b-d9cb-469f-a165-70867728950e
    name: Sat
    children:
      - name: Radiometer
        quantities:
          - uuid: 7c9e6679-7425-40de-944b-e07fc1f90ae7
            name: Gain
            format_spec: LFI-DOC-1
            data_files:
              - uuid: a3bb189e-8bf9-4888-9912-ace4e6543002
                name: gain_v1
                upload_date: 2024-01-01T00:00:00
                file_data: gain.csv
                metadata: {db: 3.5}
releases:
  - tag: v1.0
    release_date: 2024-02-01T00:00:00
    data_files: [a3bb189e-8bf9-4888-9912-ace4e6543002]
`

// TestIntegrationSmoke imports a manifest and reads it back over HTTP for
// every catalog store and blob driver combination.
func TestIntegrationSmoke(t *testing.T) {
	ctx := context.Background()

	storeVariants := []struct {
		name    string
		storage func(t *testing.T) config.Storage
	}{
		{"memory-store", func(*testing.T) config.Storage { return config.Storage{Driver: "memory"} }},
		{"sqlite-store", func(t *testing.T) config.Storage {
			return config.Storage{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "catalog.db")}
		}},
	}
	blobVariants := []struct {
		name string
		open func(t *testing.T) blob.Store
	}{
		{"memory-blob", func(*testing.T) blob.Store { return blob.NewMemory() }},
		{"filesystem-blob", func(t *testing.T) blob.Store {
			fs, err := blob.NewFilesystem(t.TempDir())
			if err != nil {
				t.Fatalf("new filesystem blob: %v", err)
			}
			return fs
		}},
		{"mock-s3-blob", func(*testing.T) blob.Store { return blob.NewMockS3ForTests() }},
	}

	for _, sv := range storeVariants {
		for _, bv := range blobVariants {
			t.Run(sv.name+"/"+bv.name, func(t *testing.T) {
				store, err := core.OpenPersistentStore(sv.storage(t), nil)
				if err != nil {
					t.Fatalf("open store: %v", err)
				}
				var trace bytes.Buffer
				svc := core.NewService(store, core.WithTracer(core.NewJSONTracer(&trace)))
				defer func() { _ = svc.Close() }()
				blobs := bv.open(t)

				dir := t.TempDir()
				manifest := filepath.Join(dir, "catalog.yaml")
				if err := os.WriteFile(manifest, []byte(smokeManifest), 0o600); err != nil {
					t.Fatalf("write manifest: %v", err)
				}
				if err := os.WriteFile(filepath.Join(dir, "gain.csv"), []byte("db\n3.5\n"), 0o600); err != nil {
					t.Fatalf("write data: %v", err)
				}
				engine, err := importer.New(importer.Dependencies{Service: svc, Blobs: blobs}, importer.Options{})
				if err != nil {
					t.Fatalf("importer: %v", err)
				}
				if err := engine.Run(ctx, manifest); err != nil {
					t.Fatalf("import: %v", err)
				}
				if !strings.Contains(trace.String(), `"operation":"save_release"`) {
					t.Fatalf("expected a save_release span, got %s", trace.String())
				}
				if _, err := blobs.Head(ctx, importer.ReleaseDumpKey("v1.0")); err != nil {
					t.Fatalf("release dump: %v", err)
				}

				srv := httptest.NewServer(catalog.NewHandler(svc, blobs))
				defer srv.Close()
				client := srv.Client()
				client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

				resp, err := client.Get(srv.URL + "/api/releases/v1.0/Sat/Radiometer/Gain")
				if err != nil {
					t.Fatalf("resolve: %v", err)
				}
				_ = resp.Body.Close()
				location := resp.Header.Get("Location")
				if resp.StatusCode != http.StatusFound || location != "/api/data_files/a3bb189e-8bf9-4888-9912-ace4e6543002" {
					t.Fatalf("unexpected redirect %d %q", resp.StatusCode, location)
				}

				resp, err = client.Get(srv.URL + location + "/download")
				if err != nil {
					t.Fatalf("download: %v", err)
				}
				body, _ := io.ReadAll(resp.Body)
				_ = resp.Body.Close()
				if resp.StatusCode != http.StatusOK || string(body) != "db\n3.5\n" {
					t.Fatalf("unexpected download %d %q", resp.StatusCode, body)
				}
				if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
					t.Fatalf("download should use the format spec type, got %q", ct)
				}
			})
		}
	}
}
