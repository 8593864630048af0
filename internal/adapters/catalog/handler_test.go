package catalog_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"instrumentdb/internal/adapters/catalog"
	"instrumentdb/internal/blob"
	"instrumentdb/internal/core"
	"instrumentdb/pkg/domain"
)

const (
	specID   = "3f2504e0-4f89-41d3-9a0c-0305e82c3301"
	satID    = "0f8fad5b-d9cb-469f-a165-70867728950e"
	massID   = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	massV1ID = "a3bb189e-8bf9-4888-9912-ace4e6543002"
	unknown  = "f47ac10b-58cc-4372-a567-0e02b2c3d479"
)

type fixture struct {
	handler *catalog.Handler
	svc     *core.Service
	blobs   blob.Store
	reg     *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	svc := core.NewInMemoryService(nil)
	blobs := blob.NewMemory()

	put := func(key, content, contentType string) *domain.Attachment {
		info, err := blobs.Put(ctx, key, strings.NewReader(content), blob.PutOptions{ContentType: contentType})
		if err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
		return &domain.Attachment{Key: key, FileName: key[strings.LastIndex(key, "/")+1:], ContentType: contentType, Size: info.Size}
	}

	if _, _, err := svc.SaveFormatSpecification(ctx, domain.FormatSpecification{
		Base:         domain.Base{ID: specID},
		DocumentRef:  "LFI-DOC-1",
		Title:        "Mass format",
		DocFile:      put("format_specs/"+specID+"/spec.pdf", "%PDF-1.4 spec", "application/octet-stream"),
		DocMimeType:  "application/pdf",
		FileMimeType: "text/csv",
	}); err != nil {
		t.Fatalf("spec: %v", err)
	}
	if _, _, err := svc.SaveEntity(ctx, domain.Entity{Base: domain.Base{ID: satID}, Name: "Sat"}); err != nil {
		t.Fatalf("entity: %v", err)
	}
	if _, _, err := svc.SaveQuantity(ctx, domain.Quantity{Base: domain.Base{ID: massID}, Name: "Mass", EntityID: satID, FormatSpecID: specID}); err != nil {
		t.Fatalf("quantity: %v", err)
	}
	if _, _, err := svc.SaveDataFile(ctx, domain.DataFile{
		Base:         domain.Base{ID: massV1ID},
		Name:         "mass_v1",
		QuantityID:   massID,
		UploadDate:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Metadata:     json.RawMessage(`{"kg":12.5}`),
		FileData:     put("data_files/"+massV1ID+"/mass.csv", "kg\n12.5\n", "text/plain"),
		PlotFile:     put("plot_files/"+massV1ID+"/mass.png", "png", "image/png"),
		PlotMimeType: "image/png",
	}, nil); err != nil {
		t.Fatalf("data file: %v", err)
	}
	if _, _, err := svc.SaveRelease(ctx, domain.Release{
		Tag:         "v1.0",
		ReleaseDate: time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC),
		Comment:     "first release",
	}, []string{massV1ID}); err != nil {
		t.Fatalf("release: %v", err)
	}

	reg := prometheus.NewRegistry()
	metrics, err := catalog.NewMetrics(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	h := catalog.NewHandler(svc, blobs)
	h.Metrics = metrics
	return &fixture{handler: h, svc: svc, blobs: blobs, reg: reg}
}

func (f *fixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestListings(t *testing.T) {
	f := newFixture(t)
	cases := map[string]string{
		"/api/format_specs": "format_specs",
		"/api/entities/":    "entities",
		"/api/quantities":   "quantities",
		"/api/data_files":   "data_files",
		"/api/releases":     "releases",
	}
	for target, key := range cases {
		rec := f.get(t, target)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d", target, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("%s: content type %q", target, ct)
		}
		body := decode[map[string][]json.RawMessage](t, rec)
		if len(body[key]) != 1 {
			t.Fatalf("%s: expected one %s, got %v", target, key, body)
		}
	}
}

func TestGetRecords(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/api/quantities/"+massID)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body := decode[struct {
		Quantity domain.Quantity `json:"quantity"`
	}](t, rec)
	if body.Quantity.Name != "Mass" || body.Quantity.EntityID != satID || body.Quantity.FormatSpecID != specID {
		t.Fatalf("unexpected quantity %+v", body.Quantity)
	}

	rec = f.get(t, "/api/entities/"+unknown)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown entity, got %d", rec.Code)
	}
	if msg := decode[map[string]string](t, rec)["error"]; msg == "" {
		t.Fatalf("expected an error message")
	}
}

func TestReleaseContents(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/api/releases/v1.0")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	body := decode[struct {
		Release core.ReleaseContents `json:"release"`
	}](t, rec)
	if body.Release.Tag != "v1.0" || len(body.Release.DataFiles) != 1 {
		t.Fatalf("unexpected release %+v", body.Release)
	}
	if entry := body.Release.DataFiles[0]; entry.Path != "Sat/Mass" || entry.UUID != massV1ID {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if rec := f.get(t, "/api/releases/v9"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown release, got %d", rec.Code)
	}
}

func TestReleasePathRedirect(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/api/releases/v1.0/Sat/Mass")
	if rec.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/api/data_files/"+massV1ID {
		t.Fatalf("unexpected location %q", loc)
	}

	for _, target := range []string{
		"/api/releases/v1.0/Sat/Volume",
		"/api/releases/v1.0/Probe/Mass",
		"/api/releases/v2/Sat/Mass",
		"/api/releases/v1.0/sat/Mass",
	} {
		if rec := f.get(t, target); rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", target, rec.Code)
		}
	}
}

func TestReleasePathMetadata(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/api/releases/v1.0/Sat/Mass?view=metadata")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	body := decode[struct {
		UUID     string         `json:"uuid"`
		Metadata map[string]any `json:"metadata"`
	}](t, rec)
	if body.UUID != massV1ID || body.Metadata["kg"] != 12.5 {
		t.Fatalf("unexpected metadata response %+v", body)
	}
}

func TestDownloads(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		target      string
		contentType string
		filename    string
		body        string
	}{
		{"/api/format_specs/" + specID + "/download", "application/pdf", "spec.pdf", "%PDF-1.4 spec"},
		{"/api/data_files/" + massV1ID + "/download", "text/csv", "mass_v1", "kg\n12.5\n"},
		{"/api/data_files/" + massV1ID + "/plot", "image/png", "mass_v1.png", "png"},
	}
	for _, tc := range cases {
		rec := f.get(t, tc.target)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status %d: %s", tc.target, rec.Code, rec.Body.String())
		}
		if ct := rec.Header().Get("Content-Type"); ct != tc.contentType {
			t.Fatalf("%s: content type %q, want %q", tc.target, ct, tc.contentType)
		}
		want := fmt.Sprintf("attachment; filename=%q", tc.filename)
		if cd := rec.Header().Get("Content-Disposition"); cd != want {
			t.Fatalf("%s: disposition %q, want %q", tc.target, cd, want)
		}
		if rec.Body.String() != tc.body {
			t.Fatalf("%s: body %q", tc.target, rec.Body.String())
		}
	}
}

func TestDownloadWithoutSpecUsesStoredType(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, _, err := f.svc.SaveQuantity(ctx, domain.Quantity{Base: domain.Base{ID: massID}, Name: "Mass", EntityID: satID}); err != nil {
		t.Fatalf("detach spec: %v", err)
	}
	rec := f.get(t, "/api/data_files/"+massV1ID+"/download")
	if ct := rec.Header().Get("Content-Type"); rec.Code != http.StatusOK || ct != "text/plain" {
		t.Fatalf("expected stored content type, got %d %q", rec.Code, ct)
	}
}

func TestMissingAttachments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := "c9bf9e57-1685-4c89-bafb-ff5af830be8a"
	if _, _, err := f.svc.SaveDataFile(ctx, domain.DataFile{
		Base:       domain.Base{ID: id},
		Name:       "bare",
		QuantityID: massID,
		UploadDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}, nil); err != nil {
		t.Fatalf("data file: %v", err)
	}
	for _, target := range []string{"/api/data_files/" + id + "/download", "/api/data_files/" + id + "/plot"} {
		if rec := f.get(t, target); rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", target, rec.Code)
		}
	}

	if _, err := f.blobs.Delete(ctx, "data_files/"+massV1ID+"/mass.csv"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if rec := f.get(t, "/api/data_files/"+massV1ID+"/download"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a missing blob, got %d", rec.Code)
	}
}

type ambiguousCatalog struct {
	catalog.Catalog
}

func (ambiguousCatalog) ResolveReleasePath(context.Context, string, string) (domain.DataFile, error) {
	return domain.DataFile{}, fmt.Errorf("%w: 2 data files", domain.ErrAmbiguous)
}

type brokenCatalog struct {
	catalog.Catalog
}

func (brokenCatalog) ListEntities(context.Context) ([]domain.Entity, error) {
	return nil, errors.New("store offline")
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t)
	h := catalog.NewHandler(ambiguousCatalog{Catalog: f.svc}, f.blobs)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/releases/v1.0/Sat/Mass", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	h = catalog.NewHandler(brokenCatalog{Catalog: f.svc}, f.blobs)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/entities", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if msg := decode[map[string]string](t, rec)["error"]; strings.Contains(msg, "offline") {
		t.Fatalf("internal errors must not leak: %q", msg)
	}
}

func TestRoutingErrors(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/entities", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	for _, target := range []string{"/api/unknown", "/api/entities/" + satID + "/extra", "/health"} {
		if rec := f.get(t, target); rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", target, rec.Code)
		}
	}

	rec = httptest.NewRecorder()
	(&catalog.Handler{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/entities", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 without a catalog, got %d", rec.Code)
	}
}

func TestRequestMetrics(t *testing.T) {
	f := newFixture(t)
	f.get(t, "/api/entities")
	f.get(t, "/api/entities")
	f.get(t, "/api/entities/"+unknown)
	f.get(t, "/api/releases/v1.0/Sat/Mass")

	if _, err := catalog.NewMetrics(f.reg); err == nil {
		t.Fatalf("registering twice must fail")
	}
	if n := testutil.CollectAndCount(f.reg, "instrumentdb_http_requests_total"); n != 3 {
		t.Fatalf("expected 3 series, got %d", n)
	}
}
