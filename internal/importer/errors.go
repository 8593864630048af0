package importer

import (
	"fmt"
	"io/fs"
	"strings"
)

// CommandError aborts an import run. It wraps the cause, which is one of
// *ValidationError, *FileNotFoundError, *domain.NotFoundError,
// *manifest.ParseError or a storage failure.
type CommandError struct {
	Manifest string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Manifest == "" {
		return "import: " + e.Err.Error()
	}
	return fmt.Sprintf("import %s: %v", e.Manifest, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ValidationError reports a manifest record that lacks a required field or
// carries a value that cannot be interpreted.
type ValidationError struct {
	Kind   string
	Name   string
	UUID   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Kind, describe(e.Name, e.UUID), e.Reason)
}

func invalid(kind, name, id, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, Name: name, UUID: id, Reason: fmt.Sprintf(format, args...)}
}

// FileNotFoundError reports an attachment missing from every candidate location.
type FileNotFoundError struct {
	Name  string
	Tried []string
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("attachment %q not found (tried %s)", e.Name, strings.Join(e.Tried, ", "))
}

// Unwrap lets errors.Is(err, fs.ErrNotExist) match.
func (e *FileNotFoundError) Unwrap() error { return fs.ErrNotExist }

func describe(name, id string) string {
	switch {
	case name == "" && id == "":
		return "<unnamed>"
	case id == "":
		return fmt.Sprintf("%q", name)
	case name == "":
		return "(" + short(id) + ")"
	default:
		return fmt.Sprintf("%q (%s)", name, short(id))
	}
}

// short abbreviates a UUID for progress output.
func short(id string) string {
	if len(id) > 6 {
		return id[:6]
	}
	return id
}
