package core

import "instrumentdb/pkg/domain"

// NewRulesEngine constructs an empty engine instance.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in catalog policies.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(HierarchyIntegrityRule())
	engine.Register(ReleaseUniquenessRule())
	return engine
}
