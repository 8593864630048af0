package importer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"instrumentdb/internal/blob"
	"instrumentdb/internal/core"
)

const (
	satID    = "0f8fad5b-d9cb-469f-a165-70867728950e"
	massID   = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	massV1ID = "a3bb189e-8bf9-4888-9912-ace4e6543002"
	unknown  = "f47ac10b-58cc-4372-a567-0e02b2c3d479"
)

// satManifest is one root entity with a nested quantity, data file and a
// release listing the file.
const satManifest = `
entities:
  - uuid: ` + satID + `
    name: Sat
    quantities:
      - uuid: ` + massID + `
        name: Mass
        data_files:
          - uuid: ` + massV1ID + `
            name: mass_v1
            upload_date: 2024-01-01T00:00:00
            metadata:
              kg: 12.5
releases:
  - tag: v1
    release_date: "2024-02-01 12:00:00"
    comment: first release
    data_files: [` + massV1ID + `]
`

type harness struct {
	svc     *core.Service
	blobs   blob.Store
	out     *bytes.Buffer
	metrics *Metrics
	dir     string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	metrics, err := NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	return &harness{
		svc:     core.NewInMemoryService(nil),
		blobs:   blob.NewMemory(),
		out:     &bytes.Buffer{},
		metrics: metrics,
		dir:     t.TempDir(),
	}
}

func (h *harness) engine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e, err := New(Dependencies{
		Service: h.svc,
		Blobs:   h.blobs,
		Output:  h.out,
		Metrics: h.metrics,
	}, opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

// write creates a file below the harness directory and returns its path.
func (h *harness) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}
