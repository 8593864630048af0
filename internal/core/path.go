package core

import (
	"fmt"
	"slices"
	"strings"

	"instrumentdb/pkg/domain"
)

// ResolveReleasePath walks reference, a slash separated chain of entity names
// ending in a quantity name, from a root entity down to the data file of that
// quantity that belongs to the release tagged tag. Matching is exact and
// case-sensitive. Misses return a NotFoundError; several candidate data files
// return ErrAmbiguous.
func ResolveReleasePath(view TransactionView, tag, reference string) (DataFile, error) {
	if _, ok := view.FindRelease(tag); !ok {
		return DataFile{}, domain.NewNotFound(EntityRelease, tag)
	}
	segments := strings.Split(reference, "/")
	if len(segments) < 2 || slices.Contains(segments, "") {
		return DataFile{}, &domain.NotFoundError{Entity: EntityQuantity, Key: reference, Scope: "release " + tag}
	}
	entityNames, quantityName := segments[:len(segments)-1], segments[len(segments)-1]

	entity, ok := findByName(view.ListRootEntities(), entityNames[0])
	if !ok {
		return DataFile{}, &domain.NotFoundError{Entity: EntityEntity, Key: entityNames[0], Scope: "root entities"}
	}
	for _, name := range entityNames[1:] {
		child, ok := findByName(view.ListChildren(entity.ID), name)
		if !ok {
			return DataFile{}, &domain.NotFoundError{Entity: EntityEntity, Key: name, Scope: "children of " + entity.Name}
		}
		entity = child
	}

	var quantity Quantity
	found := false
	for _, q := range view.ListEntityQuantities(entity.ID) {
		if q.Name == quantityName {
			quantity, found = q, true
			break
		}
	}
	if !found {
		return DataFile{}, &domain.NotFoundError{Entity: EntityQuantity, Key: quantityName, Scope: "quantities of " + entity.Name}
	}

	var matches []DataFile
	for _, df := range view.ListQuantityDataFiles(quantity.ID) {
		if slices.Contains(df.ReleaseTags, tag) {
			matches = append(matches, df)
		}
	}
	switch len(matches) {
	case 0:
		return DataFile{}, &domain.NotFoundError{Entity: EntityDataFile, Key: reference, Scope: "release " + tag}
	case 1:
		return matches[0], nil
	default:
		return DataFile{}, fmt.Errorf("%w: %d data files of %s in release %s", domain.ErrAmbiguous, len(matches), reference, tag)
	}
}

// EntityPath returns the names from the root entity down to id.
func EntityPath(view TransactionView, id string) ([]string, error) {
	var names []string
	seen := map[string]struct{}{}
	for id != "" {
		if _, loop := seen[id]; loop {
			return nil, fmt.Errorf("entity %s: cycle in hierarchy", id)
		}
		seen[id] = struct{}{}
		entity, ok := view.FindEntity(id)
		if !ok {
			return nil, domain.NewNotFound(EntityEntity, id)
		}
		names = append(names, entity.Name)
		id = entity.ParentID
	}
	slices.Reverse(names)
	return names, nil
}

// QuantityPath returns the release path of a quantity: its entity chain
// followed by the quantity name.
func QuantityPath(view TransactionView, quantityID string) (string, error) {
	quantity, ok := view.FindQuantity(quantityID)
	if !ok {
		return "", domain.NewNotFound(EntityQuantity, quantityID)
	}
	names, err := EntityPath(view, quantity.EntityID)
	if err != nil {
		return "", err
	}
	return strings.Join(append(names, quantity.Name), "/"), nil
}

func findByName(entities []Entity, name string) (Entity, bool) {
	for _, e := range entities {
		if e.Name == name {
			return e, true
		}
	}
	return Entity{}, false
}
