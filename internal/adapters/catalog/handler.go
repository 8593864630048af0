// Package catalog serves the read-only catalog API: JSON listings of format
// specifications, entities, quantities, data files and releases, attachment
// downloads and the release path redirect.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"instrumentdb/internal/blob"
	"instrumentdb/internal/core"
	"instrumentdb/internal/mediatype"
	"instrumentdb/internal/platform/logger"
	"instrumentdb/pkg/domain"
)

const apiPrefix = "/api/"

// Catalog is the read side of core.Service used by the handler.
type Catalog interface {
	ListFormatSpecifications(ctx context.Context) ([]domain.FormatSpecification, error)
	GetFormatSpecification(ctx context.Context, id string) (domain.FormatSpecification, error)
	ListEntities(ctx context.Context) ([]domain.Entity, error)
	GetEntity(ctx context.Context, id string) (domain.Entity, error)
	ListQuantities(ctx context.Context) ([]domain.Quantity, error)
	GetQuantity(ctx context.Context, id string) (domain.Quantity, error)
	ListDataFiles(ctx context.Context) ([]domain.DataFile, error)
	GetDataFile(ctx context.Context, id string) (domain.DataFile, error)
	DataFileDownload(ctx context.Context, id string) (domain.DataFile, *domain.FormatSpecification, error)
	ListReleases(ctx context.Context) ([]domain.Release, error)
	ReleaseContents(ctx context.Context, tag string) (core.ReleaseContents, error)
	ResolveReleasePath(ctx context.Context, tag, reference string) (domain.DataFile, error)
	ReleaseMetadata(ctx context.Context, tag, reference string) (domain.DataFile, map[string]any, error)
}

var _ Catalog = (*core.Service)(nil)

// Handler provides HTTP access to the catalog.
type Handler struct {
	Catalog Catalog
	Blobs   blob.Store
	Media   *mediatype.Registry
	Logger  *logger.Logger
	Metrics *Metrics
}

// NewHandler constructs a catalog HTTP handler.
func NewHandler(c Catalog, blobs blob.Store) *Handler {
	return &Handler{Catalog: c, Blobs: blobs, Media: mediatype.New(), Logger: logger.NewNop()}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	route := h.route(rec, r)
	h.Metrics.observe(route, rec.status)
}

// route dispatches the request and returns the route template for metrics.
func (h *Handler) route(w http.ResponseWriter, r *http.Request) string {
	if h.Catalog == nil {
		writeError(w, http.StatusInternalServerError, "catalog not configured")
		return "unconfigured"
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return "method_not_allowed"
	}
	p := strings.TrimSuffix(r.URL.Path, "/")
	if !strings.HasPrefix(p, apiPrefix) {
		http.NotFound(w, r)
		return "unknown"
	}
	collection, rest, _ := strings.Cut(strings.TrimPrefix(p, apiPrefix), "/")
	segments := []string{}
	if rest != "" {
		segments = strings.Split(rest, "/")
	}
	ctx := r.Context()
	switch collection {
	case "format_specs":
		switch {
		case len(segments) == 0:
			list(ctx, h, w, "format_specs", h.Catalog.ListFormatSpecifications)
			return "/api/format_specs"
		case len(segments) == 1:
			get(ctx, h, w, "format_spec", segments[0], h.Catalog.GetFormatSpecification)
			return "/api/format_specs/{uuid}"
		case len(segments) == 2 && segments[1] == "download":
			h.handleFormatSpecDownload(w, r, segments[0])
			return "/api/format_specs/{uuid}/download"
		}
	case "entities":
		switch len(segments) {
		case 0:
			list(ctx, h, w, "entities", h.Catalog.ListEntities)
			return "/api/entities"
		case 1:
			get(ctx, h, w, "entity", segments[0], h.Catalog.GetEntity)
			return "/api/entities/{uuid}"
		}
	case "quantities":
		switch len(segments) {
		case 0:
			list(ctx, h, w, "quantities", h.Catalog.ListQuantities)
			return "/api/quantities"
		case 1:
			get(ctx, h, w, "quantity", segments[0], h.Catalog.GetQuantity)
			return "/api/quantities/{uuid}"
		}
	case "data_files":
		switch {
		case len(segments) == 0:
			list(ctx, h, w, "data_files", h.Catalog.ListDataFiles)
			return "/api/data_files"
		case len(segments) == 1:
			get(ctx, h, w, "data_file", segments[0], h.Catalog.GetDataFile)
			return "/api/data_files/{uuid}"
		case len(segments) == 2 && segments[1] == "download":
			h.handleDataFileDownload(w, r, segments[0])
			return "/api/data_files/{uuid}/download"
		case len(segments) == 2 && segments[1] == "plot":
			h.handlePlotDownload(w, r, segments[0])
			return "/api/data_files/{uuid}/plot"
		}
	case "releases":
		switch {
		case len(segments) == 0:
			list(ctx, h, w, "releases", h.Catalog.ListReleases)
			return "/api/releases"
		case len(segments) == 1:
			get(ctx, h, w, "release", segments[0], h.Catalog.ReleaseContents)
			return "/api/releases/{tag}"
		default:
			h.handleReleasePath(w, r, segments[0], strings.Join(segments[1:], "/"))
			return "/api/releases/{tag}/{reference}"
		}
	}
	writeError(w, http.StatusNotFound, "endpoint not found")
	return "unknown"
}

func list[T any](ctx context.Context, h *Handler, w http.ResponseWriter, key string, fetch func(context.Context) ([]T, error)) {
	items, err := fetch(ctx)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, map[string]any{key: items})
}

func get[T any](ctx context.Context, h *Handler, w http.ResponseWriter, key, id string, fetch func(context.Context, string) (T, error)) {
	item, err := fetch(ctx, id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{key: item})
}

func (h *Handler) handleReleasePath(w http.ResponseWriter, r *http.Request, tag, reference string) {
	ctx := r.Context()
	if r.URL.Query().Get("view") == "metadata" {
		file, meta, err := h.Catalog.ReleaseMetadata(ctx, tag, reference)
		if err != nil {
			h.writeLookupError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"uuid": file.ID, "name": file.Name, "metadata": meta})
		return
	}
	file, err := h.Catalog.ResolveReleasePath(ctx, tag, reference)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	http.Redirect(w, r, apiPrefix+"data_files/"+url.PathEscape(file.ID), http.StatusFound)
}

func (h *Handler) handleFormatSpecDownload(w http.ResponseWriter, r *http.Request, id string) {
	spec, err := h.Catalog.GetFormatSpecification(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	if spec.DocFile == nil {
		writeError(w, http.StatusNotFound, "format specification has no document")
		return
	}
	h.serveAttachment(w, r, spec.DocFile, firstNonEmpty(spec.DocMimeType, spec.DocFile.ContentType), path.Base(spec.DocFile.FileName))
}

func (h *Handler) handleDataFileDownload(w http.ResponseWriter, r *http.Request, id string) {
	file, spec, err := h.Catalog.DataFileDownload(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	if file.FileData == nil {
		writeError(w, http.StatusNotFound, "data file has no payload")
		return
	}
	contentType := file.FileData.ContentType
	if spec != nil && spec.FileMimeType != "" {
		contentType = spec.FileMimeType
	}
	h.serveAttachment(w, r, file.FileData, contentType, path.Base(file.Name))
}

func (h *Handler) handlePlotDownload(w http.ResponseWriter, r *http.Request, id string) {
	file, err := h.Catalog.GetDataFile(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	if file.PlotFile == nil {
		writeError(w, http.StatusNotFound, "data file has no plot")
		return
	}
	contentType := firstNonEmpty(file.PlotMimeType, file.PlotFile.ContentType)
	h.serveAttachment(w, r, file.PlotFile, contentType, path.Base(file.Name)+h.media().ExtensionFor(contentType))
}

func (h *Handler) serveAttachment(w http.ResponseWriter, r *http.Request, att *domain.Attachment, contentType, filename string) {
	if h.Blobs == nil {
		writeError(w, http.StatusInternalServerError, "attachment storage not configured")
		return
	}
	info, body, err := h.Blobs.Get(r.Context(), att.Key)
	if errors.Is(err, blob.ErrNotFound) {
		writeError(w, http.StatusNotFound, "attachment content missing")
		return
	}
	if err != nil {
		h.log().Error("read attachment", "key", att.Key, "error", err)
		writeError(w, http.StatusInternalServerError, "attachment unavailable")
		return
	}
	defer func() { _ = body.Close() }()
	if contentType == "" {
		contentType = mediatype.DefaultType
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+strings.ReplaceAll(filename, `"`, `\"`)+`"`)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		h.log().Warn("stream attachment", "key", att.Key, "error", err)
	}
}

func (h *Handler) writeLookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrAmbiguous):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.log().Error("catalog lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) log() *logger.Logger {
	if h.Logger == nil {
		return logger.NewNop()
	}
	return h.Logger
}

func (h *Handler) media() *mediatype.Registry {
	if h.Media == nil {
		return mediatype.New()
	}
	return h.Media
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
