package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by every lookup failure, see NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrAmbiguous is returned when a lookup that must yield one record yields several.
	ErrAmbiguous = errors.New("ambiguous match")
)

// NotFoundError reports a reference (UUID, tag or name) that does not resolve.
type NotFoundError struct {
	Entity EntityType
	Key    string
	// Scope optionally names where the lookup happened, e.g. "children of Sat".
	Scope string
}

func (e *NotFoundError) Error() string {
	if e.Scope != "" {
		return fmt.Sprintf("%s %q not found in %s", e.Entity, e.Key, e.Scope)
	}
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

// Is lets errors.Is(err, ErrNotFound) match any NotFoundError.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// NewNotFound builds a NotFoundError for the given record type and key.
func NewNotFound(entity EntityType, key string) *NotFoundError {
	return &NotFoundError{Entity: entity, Key: key}
}
