// Package domain defines the catalog records, value types, and rule
// evaluation primitives used by instrumentdb.
package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// EntityType identifies the type of record stored in the catalog.
type EntityType string

// Supported record type identifiers used in Change records and persistence tables.
const (
	// EntityEntity identifies a node of the instrument hierarchy.
	EntityEntity EntityType = "entity"
	// EntityFormatSpecification identifies a data file format specification.
	EntityFormatSpecification EntityType = "format_specification"
	// EntityQuantity identifies a quantity attached to an entity.
	EntityQuantity EntityType = "quantity"
	// EntityDataFile identifies a versioned data file.
	EntityDataFile EntityType = "data_file"
	// EntityRelease identifies a tagged release.
	EntityRelease EntityType = "release"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all catalog records keyed by UUID.
type Base struct {
	ID        string    `json:"uuid"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Attachment references a binary payload kept in the blob store.
type Attachment struct {
	Key         string `json:"key"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size_bytes"`
	Checksum    string `json:"checksum,omitempty"`
}

// Entity is a node of the instrument hierarchy (instrument, sub-assembly, channel...).
type Entity struct {
	Base
	Name     string `json:"name"`
	ParentID string `json:"parent,omitempty"`

	// Derived on read.
	ChildIDs    []string `json:"children"`
	QuantityIDs []string `json:"quantities"`
}

// IsRoot reports whether the entity sits at the top of the hierarchy.
func (e Entity) IsRoot() bool { return e.ParentID == "" }

// FormatSpecification documents the structure of a class of data files.
type FormatSpecification struct {
	Base
	DocumentRef  string      `json:"document_ref"`
	Title        string      `json:"title"`
	DocFile      *Attachment `json:"doc_file,omitempty"`
	DocMimeType  string      `json:"doc_mime_type,omitempty"`
	FileMimeType string      `json:"file_mime_type,omitempty"`
}

// Quantity is a named property owned by exactly one entity.
type Quantity struct {
	Base
	Name         string `json:"name"`
	EntityID     string `json:"parent_entity"`
	FormatSpecID string `json:"format_spec,omitempty"`

	// Derived on read.
	DataFileIDs []string `json:"data_files"`
}

// DataFile is a concrete versioned artifact belonging to one quantity.
type DataFile struct {
	Base
	Name          string          `json:"name"`
	QuantityID    string          `json:"quantity"`
	UploadDate    time.Time       `json:"upload_date"`
	Metadata      json.RawMessage `json:"metadata"`
	FileData      *Attachment     `json:"file_data,omitempty"`
	PlotFile      *Attachment     `json:"plot_file,omitempty"`
	PlotMimeType  string          `json:"plot_mime_type,omitempty"`
	SpecVersion   string          `json:"spec_version,omitempty"`
	DependencyIDs []string        `json:"dependencies"`

	// Derived on read.
	ReleaseTags []string `json:"release_tags"`
}

// MetadataMap decodes the JSON metadata blob. An empty blob yields an empty
// map. Numbers decode as json.Number so integers keep every digit.
func (d DataFile) MetadataMap() (map[string]any, error) {
	out := map[string]any{}
	if len(d.Metadata) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(d.Metadata))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// Release is a named, dated snapshot grouping a set of data files. The tag is
// the external identifier.
type Release struct {
	Tag         string    `json:"tag"`
	ReleaseDate time.Time `json:"release_date"`
	Comment     string    `json:"comment,omitempty"`
	DataFileIDs []string  `json:"data_files"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Action enumerates the mutations captured in Change records.
type Action string

// Change actions. The catalog never deletes through the import pipeline.
const (
	// ActionCreate indicates a record was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates a record was updated.
	ActionUpdate Action = "update"
)

// Change describes a mutation applied within a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Message
		}
	}
	return "transaction blocked by rules"
}
