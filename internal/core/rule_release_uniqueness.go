package core

import (
	"context"
	"fmt"
	"sort"

	"instrumentdb/pkg/domain"
)

// ReleaseUniquenessRule warns when a release holds more than one data file of
// the same quantity, which makes release paths for that quantity ambiguous.
func ReleaseUniquenessRule() domain.Rule {
	return releaseUniquenessRule{}
}

type releaseUniquenessRule struct{}

func (releaseUniquenessRule) Name() string { return "release_uniqueness" }

func (releaseUniquenessRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	checked := map[string]struct{}{}
	for _, change := range changes {
		rel, ok := change.After.(domain.Release)
		if !ok {
			continue
		}
		if _, done := checked[rel.Tag]; done {
			continue
		}
		checked[rel.Tag] = struct{}{}
		current, ok := view.FindRelease(rel.Tag)
		if !ok {
			continue
		}
		byQuantity := map[string][]string{}
		for _, id := range current.DataFileIDs {
			if df, ok := view.FindDataFile(id); ok {
				byQuantity[df.QuantityID] = append(byQuantity[df.QuantityID], df.ID)
			}
		}
		quantities := make([]string, 0, len(byQuantity))
		for q, ids := range byQuantity {
			if len(ids) > 1 {
				quantities = append(quantities, q)
			}
		}
		sort.Strings(quantities)
		for _, q := range quantities {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "release_uniqueness",
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("release %s contains %d data files of quantity %s", current.Tag, len(byQuantity[q]), q),
				Entity:   domain.EntityRelease,
				EntityID: current.Tag,
			})
		}
	}
	return res, nil
}
