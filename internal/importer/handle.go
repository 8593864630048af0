package importer

import "instrumentdb/pkg/domain"

// Record kinds as reported in validation errors and metrics.
const (
	kindFormatSpecification = string(domain.EntityFormatSpecification)
	kindEntity              = string(domain.EntityEntity)
	kindQuantity            = string(domain.EntityQuantity)
	kindDataFile            = string(domain.EntityDataFile)
	kindRelease             = string(domain.EntityRelease)
)

type parentState uint8

const (
	parentNone parentState = iota
	parentPersisted
	parentSimulated
)

// parentRef is the record nested manifest nodes hang off. It is either a
// persisted record, identified by its UUID, or, during dry runs, a simulated
// record known only by name. The zero value means "not nested".
type parentRef struct {
	state parentState
	id    string
	name  string
}

var topLevel = parentRef{}

func persisted(id, name string) parentRef {
	return parentRef{state: parentPersisted, id: id, name: name}
}

func simulated(name string) parentRef {
	return parentRef{state: parentSimulated, name: name}
}

func (p parentRef) isTopLevel() bool { return p.state == parentNone }

// persistedID returns the UUID of a persisted parent.
func (p parentRef) persistedID() (string, bool) {
	if p.state != parentPersisted {
		return "", false
	}
	return p.id, true
}

func (p parentRef) String() string {
	switch p.state {
	case parentPersisted:
		return p.name + " (" + short(p.id) + ")"
	case parentSimulated:
		return p.name + " (not persisted)"
	default:
		return "<top level>"
	}
}
