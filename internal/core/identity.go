package core

import (
	"strings"

	"github.com/google/uuid"
)

// FieldUUID is the lookup field used for keys that are UUIDs.
const FieldUUID = "uuid"

// Lookup names the field a reference is matched against.
type Lookup struct {
	Field string
	Value string
}

// IsUUID reports whether the lookup is keyed on the record UUID.
func (l Lookup) IsUUID() bool { return l.Field == FieldUUID }

// ResolveLookup classifies key as a UUID (RFC 4122 version 4, canonical
// 8-4-4-4-12 form, any case) or as a value of nameField.
func ResolveLookup(key, nameField string) Lookup {
	if IsUUIDv4(key) {
		return Lookup{Field: FieldUUID, Value: strings.ToLower(key)}
	}
	return Lookup{Field: nameField, Value: key}
}

// IsUUIDv4 reports whether s is a canonical version 4 UUID.
func IsUUIDv4(s string) bool {
	if len(s) != 36 {
		return false
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return u.Version() == 4 && u.Variant() == uuid.RFC4122
}

// findFormatSpecification resolves a quantity's format_spec reference, which
// holds either a UUID or a document reference.
func findFormatSpecification(view TransactionView, ref string) (FormatSpecification, bool) {
	lookup := ResolveLookup(strings.TrimSpace(ref), "document_ref")
	if lookup.Value == "" {
		return FormatSpecification{}, false
	}
	if lookup.IsUUID() {
		return view.FindFormatSpecification(lookup.Value)
	}
	return view.FindFormatSpecificationByRef(lookup.Value)
}
