package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const yamlManifest = `
format_specifications:
  - document_ref: LFI-DOC-1
    title: Beam format
    doc_file: beam_spec.pdf
    file_mime_type: application/fits
entities:
  - uuid: 2f1e2a4c-8b0e-4d55-9a43-61b0c3b1d9a0
    name: Sat
    quantities:
      - name: Mass
        data_files:
          - name: mass_v1
            upload_date: 2024-01-01T00:00:00
            metadata:
              kg: 12.5
              tags: [a, b]
    children:
      - name: Payload
        children:
          - name: Channel
quantities:
  - name: Temperature
    entity: 2f1e2a4c-8b0e-4d55-9a43-61b0c3b1d9a0
    format_spec: LFI-DOC-1
data_files:
  - name: temp_v1
    quantity: 9b0e3c55-1b7e-4c8f-8d1a-1c9a1e3b2f44
    upload_date: "2024-02-03 10:11:12+01:00"
    dependencies:
      - 5b1c4f8e-3a9d-4f6b-9c2e-7d8e9f0a1b2c
releases:
  - tag: 1.0
    release_date: 2024-03-01
    comment: first
    data_files: [5b1c4f8e-3a9d-4f6b-9c2e-7d8e9f0a1b2c]
`

func TestParseYAML(t *testing.T) {
	m, err := Parse([]byte(yamlManifest), SyntaxYAML)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(m.FormatSpecifications) != 1 || m.FormatSpecifications[0].FileMimeType != "application/fits" {
		t.Fatalf("unexpected specs %+v", m.FormatSpecifications)
	}
	if len(m.Entities) != 1 {
		t.Fatalf("expected one root entity, got %d", len(m.Entities))
	}
	sat := m.Entities[0]
	if sat.UUID != "2f1e2a4c-8b0e-4d55-9a43-61b0c3b1d9a0" || len(sat.Children) != 1 || len(sat.Children[0].Children) != 1 {
		t.Fatalf("unexpected hierarchy %+v", sat)
	}
	file := sat.Quantities[0].DataFiles[0]
	if file.UploadDate != "2024-01-01T00:00:00" {
		t.Fatalf("expected raw timestamp text, got %q", file.UploadDate)
	}
	meta, err := file.MetadataJSON()
	if err != nil || string(meta) != `{"kg":12.5,"tags":["a","b"]}` {
		t.Fatalf("unexpected metadata %s %v", meta, err)
	}
	if m.Quantities[0].FormatSpec != "LFI-DOC-1" || m.Quantities[0].Entity != sat.UUID {
		t.Fatalf("unexpected quantity %+v", m.Quantities[0])
	}
	if m.DataFiles[0].UploadDate != "2024-02-03 10:11:12+01:00" || len(m.DataFiles[0].Dependencies) != 1 {
		t.Fatalf("unexpected data file %+v", m.DataFiles[0])
	}
	rel := m.Releases[0]
	if rel.Tag != "1.0" || rel.ReleaseDate != "2024-03-01" || rel.Comment != "first" || len(rel.DataFiles) != 1 {
		t.Fatalf("unexpected release %+v", rel)
	}
}

func TestParseJSONWithComments(t *testing.T) {
	doc := `{
  // entities first
  "entities": [
    {"name": "Sat", "quantities": [{"name": "Mass"}],},
  ],
  "releases": [{"tag": "v1", "release_date": "2024-01-01T00:00:00Z", "data_files": []}],
  "unknown_key": true,
}`
	m, err := Parse([]byte(doc), SyntaxJSON)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(m.Entities) != 1 || m.Entities[0].Quantities[0].Name != "Mass" {
		t.Fatalf("unexpected entities %+v", m.Entities)
	}
	if m.Releases[0].ReleaseDate != "2024-01-01T00:00:00Z" {
		t.Fatalf("unexpected release %+v", m.Releases[0])
	}
	if meta, _ := (DataFile{}).MetadataJSON(); string(meta) != "{}" {
		t.Fatalf("expected empty metadata object, got %s", meta)
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name   string
		data   string
		syntax Syntax
	}{
		{"broken yaml", "entities: [name: Sat", SyntaxYAML},
		{"yaml scalar", "just text", SyntaxYAML},
		{"yaml date mapping", "data_files:\n  - upload_date: {a: 1}\n", SyntaxYAML},
		{"broken json", `{"entities": [}`, SyntaxJSON},
		{"empty json", "  ", SyntaxJSON},
		{"json date number", `{"releases": [{"tag": "v1", "release_date": 2024}]}`, SyntaxJSON},
		{"unknown syntax", "{}", Syntax("toml")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := Parse([]byte(tc.data), tc.syntax)
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected ParseError, got %v", err)
			}
			if m != nil {
				t.Fatalf("expected no partial manifest")
			}
		})
	}
}

func TestEmptyYAMLIsAnEmptyManifest(t *testing.T) {
	m, err := Parse(nil, SyntaxYAML)
	if err != nil || len(m.Entities) != 0 {
		t.Fatalf("expected empty manifest, got %+v %v", m, err)
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "catalog.YML")
	if err := os.WriteFile(yamlPath, []byte(yamlManifest), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := ParseFile(yamlPath)
	if err != nil {
		t.Fatalf("parse file: %v", err)
	}
	if m.Path != yamlPath || m.Dir() != dir {
		t.Fatalf("unexpected path %s / %s", m.Path, m.Dir())
	}

	badPath := filepath.Join(dir, "bad.json")
	if err := os.WriteFile(badPath, []byte("{"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err = ParseFile(badPath)
	var perr *ParseError
	if !errors.As(err, &perr) || perr.Path != badPath || !strings.Contains(err.Error(), "bad.json") {
		t.Fatalf("expected parse error naming the file, got %v", err)
	}
	if _, err := ParseFile(filepath.Join(dir, "missing.yaml")); !errors.As(err, &perr) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected wrapped not-exist error, got %v", err)
	}
	if (&Manifest{}).Dir() != "." {
		t.Fatalf("expected current directory for in-memory manifests")
	}
}

func TestDecodeAndSyntaxFor(t *testing.T) {
	m, err := Decode(strings.NewReader(`{"entities": [{"name": "Sat"}]}`), SyntaxJSON)
	if err != nil || m.Entities[0].Name != "Sat" {
		t.Fatalf("decode: %+v %v", m, err)
	}
	for path, want := range map[string]Syntax{"a.yaml": SyntaxYAML, "a.yml": SyntaxYAML, "a.json": SyntaxJSON, "a.jsonc": SyntaxJSON, "a": SyntaxJSON} {
		if got := SyntaxFor(path); got != want {
			t.Fatalf("SyntaxFor(%s) = %s", path, got)
		}
	}
}

func TestNormalizeNestedMaps(t *testing.T) {
	in := map[any]any{1: "one", "nested": map[any]any{true: []any{map[any]any{"k": "v"}}}}
	meta, err := DataFile{Metadata: in}.MetadataJSON()
	if err != nil || string(meta) != `{"1":"one","nested":{"true":[{"k":"v"}]}}` {
		t.Fatalf("unexpected metadata %s %v", meta, err)
	}
	if _, err := (DataFile{Metadata: map[string]any{"f": func() {}}}).MetadataJSON(); err == nil {
		t.Fatalf("expected unencodable metadata error")
	}
}

func TestMetadataKeepsLargeIntegers(t *testing.T) {
	const want = `{"detector_id":12345678901234567891,"gain":1.5,"serial":9007199254740993}`
	docs := map[Syntax]string{
		SyntaxJSON: `{"entities": [{"name": "Sat", "quantities": [{"name": "Mass", "data_files": [
  {"name": "v1", "metadata": {"detector_id": 12345678901234567891, "serial": 9007199254740993, "gain": 1.5}}
]}]}]}`,
		SyntaxYAML: `
entities:
  - name: Sat
    quantities:
      - name: Mass
        data_files:
          - name: v1
            metadata: {detector_id: 12345678901234567891, serial: 9007199254740993, gain: 1.5}
`,
	}
	for syntax, doc := range docs {
		m, err := Parse([]byte(doc), syntax)
		if err != nil {
			t.Fatalf("%s: parse: %v", syntax, err)
		}
		meta, err := m.Entities[0].Quantities[0].DataFiles[0].MetadataJSON()
		if err != nil {
			t.Fatalf("%s: metadata: %v", syntax, err)
		}
		if string(meta) != want {
			t.Fatalf("%s: metadata changed: %s", syntax, meta)
		}
	}
}
