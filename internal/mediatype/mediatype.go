// Package mediatype maps MIME types to file extensions and sniffs attachment
// content. A Registry is built once at startup and handed to the components
// that need it.
package mediatype

import (
	"io"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultType is reported for content nothing more specific matches.
const DefaultType = "application/octet-stream"

// Registry resolves extensions and sniffs content types. It is immutable after
// New and safe for concurrent use.
type Registry struct {
	extensions map[string]string
}

// New builds a registry seeded with the types instrument data usually carries.
// Extra pairs of (MIME type, extension) override the defaults.
func New(overrides ...[2]string) *Registry {
	r := &Registry{extensions: map[string]string{
		"application/fits": ".fits",
		"image/fits":       ".fits",
		"application/json": ".json",
		"application/pdf":  ".pdf",
		"image/png":        ".png",
		"image/jpeg":       ".jpg",
		"image/svg+xml":    ".svg",
		"text/csv":         ".csv",
		"text/plain":       ".txt",
	}}
	for _, pair := range overrides {
		r.extensions[normalize(pair[0])] = pair[1]
	}
	return r
}

// ExtensionFor returns the preferred extension (with leading dot) for the MIME
// type, or "" when it is unknown.
func (r *Registry) ExtensionFor(contentType string) string {
	key := normalize(contentType)
	if key == "" {
		return ""
	}
	if ext, ok := r.extensions[key]; ok {
		return ext
	}
	if m := mimetype.Lookup(key); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	if exts, err := mime.ExtensionsByType(key); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// Detect sniffs the MIME type of head, the leading bytes of a file.
func (r *Registry) Detect(head []byte) string {
	if len(head) == 0 {
		return DefaultType
	}
	return mimetype.Detect(head).String()
}

// DetectReader sniffs from the start of rd.
func (r *Registry) DetectReader(rd io.Reader) (string, error) {
	m, err := mimetype.DetectReader(rd)
	if err != nil {
		return "", err
	}
	return m.String(), nil
}

// Resolve returns declared when set and otherwise the sniffed type of head.
func (r *Registry) Resolve(declared string, head []byte) string {
	if strings.TrimSpace(declared) != "" {
		return strings.TrimSpace(declared)
	}
	return r.Detect(head)
}

func normalize(contentType string) string {
	base, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return base
}
