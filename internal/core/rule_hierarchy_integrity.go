package core

import (
	"context"
	"fmt"

	"instrumentdb/pkg/domain"
)

// HierarchyIntegrityRule keeps the entity tree well formed: parents exist, no
// cycles, sibling entity names are unique, and quantity names are unique within
// their entity. Only records touched by the transaction are checked.
func HierarchyIntegrityRule() domain.Rule {
	return hierarchyIntegrityRule{}
}

type hierarchyIntegrityRule struct{}

func (hierarchyIntegrityRule) Name() string { return "hierarchy_integrity" }

func (hierarchyIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	checkedEntities := map[string]struct{}{}
	checkedQuantities := map[string]struct{}{}

	for _, change := range changes {
		switch after := change.After.(type) {
		case domain.Entity:
			if _, done := checkedEntities[after.ID]; done {
				continue
			}
			checkedEntities[after.ID] = struct{}{}
			evaluateEntity(&res, view, after)
		case domain.Quantity:
			if _, done := checkedQuantities[after.ID]; done {
				continue
			}
			checkedQuantities[after.ID] = struct{}{}
			evaluateQuantity(&res, view, after)
		case domain.DataFile:
			if _, ok := view.FindQuantity(after.QuantityID); !ok {
				res.Violations = append(res.Violations, hierarchyViolation(domain.EntityDataFile, after.ID,
					fmt.Sprintf("data file %s references missing quantity %s", after.ID, after.QuantityID)))
			}
		}
	}
	return res, nil
}

func evaluateEntity(res *domain.Result, view domain.RuleView, entity domain.Entity) {
	current, ok := view.FindEntity(entity.ID)
	if !ok {
		return
	}
	seen := map[string]struct{}{current.ID: {}}
	for parentID := current.ParentID; parentID != ""; {
		parent, ok := view.FindEntity(parentID)
		if !ok {
			res.Violations = append(res.Violations, hierarchyViolation(domain.EntityEntity, current.ID,
				fmt.Sprintf("entity %s references missing parent %s", current.ID, parentID)))
			return
		}
		if _, loop := seen[parent.ID]; loop {
			res.Violations = append(res.Violations, hierarchyViolation(domain.EntityEntity, current.ID,
				fmt.Sprintf("entity %s is part of a cycle", current.ID)))
			return
		}
		seen[parent.ID] = struct{}{}
		parentID = parent.ParentID
	}

	var siblings []domain.Entity
	if current.IsRoot() {
		siblings = view.ListRootEntities()
	} else {
		siblings = view.ListChildren(current.ParentID)
	}
	for _, sibling := range siblings {
		if sibling.ID != current.ID && sibling.Name == current.Name {
			scope := "root entities"
			if !current.IsRoot() {
				scope = "children of " + current.ParentID
			}
			res.Violations = append(res.Violations, hierarchyViolation(domain.EntityEntity, current.ID,
				fmt.Sprintf("entity name %q already used by %s among %s", current.Name, sibling.ID, scope)))
			return
		}
	}
}

func evaluateQuantity(res *domain.Result, view domain.RuleView, quantity domain.Quantity) {
	if _, ok := view.FindEntity(quantity.EntityID); !ok {
		res.Violations = append(res.Violations, hierarchyViolation(domain.EntityQuantity, quantity.ID,
			fmt.Sprintf("quantity %s references missing entity %s", quantity.ID, quantity.EntityID)))
		return
	}
	for _, other := range view.ListEntityQuantities(quantity.EntityID) {
		if other.ID != quantity.ID && other.Name == quantity.Name {
			res.Violations = append(res.Violations, hierarchyViolation(domain.EntityQuantity, quantity.ID,
				fmt.Sprintf("quantity name %q already used by %s in entity %s", quantity.Name, other.ID, quantity.EntityID)))
			return
		}
	}
}

func hierarchyViolation(entity domain.EntityType, id, message string) domain.Violation {
	return domain.Violation{
		Rule:     "hierarchy_integrity",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   entity,
		EntityID: id,
	}
}
