// Package manifest decodes import manifests: YAML or JSON documents listing
// format specifications, entities, quantities, data files and releases.
// JSON manifests may carry comments and trailing commas.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Syntax is the document syntax of a manifest.
type Syntax string

const (
	SyntaxYAML Syntax = "yaml"
	SyntaxJSON Syntax = "json"
)

// SyntaxFor picks the syntax from the file extension: .yaml and .yml are YAML,
// everything else is JSON.
func SyntaxFor(path string) Syntax {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return SyntaxYAML
	default:
		return SyntaxJSON
	}
}

// Manifest is the decoded document. Path is the file it was read from, if
// any; attachments resolve relative to its directory.
type Manifest struct {
	Path                 string                `yaml:"-" json:"-"`
	FormatSpecifications []FormatSpecification `yaml:"format_specifications" json:"format_specifications"`
	Entities             []Entity              `yaml:"entities" json:"entities"`
	Quantities           []Quantity            `yaml:"quantities" json:"quantities"`
	DataFiles            []DataFile            `yaml:"data_files" json:"data_files"`
	Releases             []Release             `yaml:"releases" json:"releases"`
}

// Dir is the directory attachments are looked up in.
func (m *Manifest) Dir() string {
	if m.Path == "" {
		return "."
	}
	return filepath.Dir(m.Path)
}

type FormatSpecification struct {
	UUID         string `yaml:"uuid" json:"uuid"`
	DocumentRef  string `yaml:"document_ref" json:"document_ref"`
	Title        string `yaml:"title" json:"title"`
	DocFile      string `yaml:"doc_file" json:"doc_file"`
	DocMimeType  string `yaml:"doc_mime_type" json:"doc_mime_type"`
	FileMimeType string `yaml:"file_mime_type" json:"file_mime_type"`
}

// Entity may nest child entities and quantities.
type Entity struct {
	UUID       string     `yaml:"uuid" json:"uuid"`
	Name       string     `yaml:"name" json:"name"`
	Children   []Entity   `yaml:"children" json:"children"`
	Quantities []Quantity `yaml:"quantities" json:"quantities"`
}

// Quantity may nest data files. Entity is only read for top-level quantities
// and FormatSpec holds a UUID or a document reference.
type Quantity struct {
	UUID       string     `yaml:"uuid" json:"uuid"`
	Name       string     `yaml:"name" json:"name"`
	Entity     string     `yaml:"entity" json:"entity"`
	FormatSpec string     `yaml:"format_spec" json:"format_spec"`
	DataFiles  []DataFile `yaml:"data_files" json:"data_files"`
}

// DataFile names its attachments by file name. Quantity is only read for
// top-level data files.
type DataFile struct {
	UUID         string   `yaml:"uuid" json:"uuid"`
	Name         string   `yaml:"name" json:"name"`
	UploadDate   DateTime `yaml:"upload_date" json:"upload_date"`
	Metadata     any      `yaml:"metadata" json:"metadata"`
	FileData     string   `yaml:"file_data" json:"file_data"`
	PlotFile     string   `yaml:"plot_file" json:"plot_file"`
	PlotMimeType string   `yaml:"plot_mime_type" json:"plot_mime_type"`
	SpecVersion  string   `yaml:"spec_version" json:"spec_version"`
	Dependencies []string `yaml:"dependencies" json:"dependencies"`
	Quantity     string   `yaml:"quantity" json:"quantity"`
}

// MetadataJSON encodes the metadata as a JSON document; absent metadata is {}.
func (d DataFile) MetadataJSON() ([]byte, error) {
	if d.Metadata == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(normalize(d.Metadata))
}

type Release struct {
	Tag         string   `yaml:"tag" json:"tag"`
	ReleaseDate DateTime `yaml:"release_date" json:"release_date"`
	Comment     string   `yaml:"comment" json:"comment"`
	DataFiles   []string `yaml:"data_files" json:"data_files"`
}

// DateTime keeps the raw text of a date-time value. Interpretation is left to
// the importer so errors can name the record.
type DateTime string

// IsZero reports whether the value was absent or blank.
func (d DateTime) IsZero() bool { return strings.TrimSpace(string(d)) == "" }

// UnmarshalYAML keeps the scalar text, including values YAML resolves to timestamps.
func (d *DateTime) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a date-time scalar", node.Line)
	}
	*d = DateTime(node.Value)
	return nil
}

// UnmarshalJSON accepts a JSON string.
func (d *DateTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("expected a date-time string, got %s", b)
	}
	*d = DateTime(s)
	return nil
}

// ParseError reports a manifest that could not be decoded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("parse manifest: %v", e.Err)
	}
	return fmt.Sprintf("parse manifest %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseFile reads and decodes the manifest at path.
func ParseFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	m, err := Parse(data, SyntaxFor(path))
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			perr.Path = path
		}
		return nil, err
	}
	m.Path = path
	return m, nil
}

// Decode reads r fully and decodes it with the given syntax.
func Decode(r io.Reader, syntax Syntax) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ParseError{Err: err}
	}
	return Parse(data, syntax)
}

// Parse decodes data. Either the whole document decodes or an error is
// returned; there are no partial results.
func Parse(data []byte, syntax Syntax) (*Manifest, error) {
	var m Manifest
	switch syntax {
	case SyntaxYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&m); err != nil && !errors.Is(err, io.EOF) {
			return nil, &ParseError{Err: err}
		}
	case SyntaxJSON:
		if len(bytes.TrimSpace(data)) == 0 {
			return nil, &ParseError{Err: fmt.Errorf("empty document")}
		}
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.UseNumber()
		if err := dec.Decode(&m); err != nil {
			return nil, &ParseError{Err: err}
		}
	default:
		return nil, &ParseError{Err: fmt.Errorf("unsupported syntax %q", syntax)}
	}
	return &m, nil
}

// normalize turns YAML's map[any]any into JSON-encodable map[string]any.
// json.Number values from JSON manifests pass through untouched.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
