package core

import "instrumentdb/pkg/domain"

type (
	EntityType          = domain.EntityType
	Severity            = domain.Severity
	Base                = domain.Base
	Attachment          = domain.Attachment
	Entity              = domain.Entity
	FormatSpecification = domain.FormatSpecification
	Quantity            = domain.Quantity
	DataFile            = domain.DataFile
	Release             = domain.Release
	Change              = domain.Change
	Action              = domain.Action
	Violation           = domain.Violation
	Result              = domain.Result
	RuleViolationError  = domain.RuleViolationError
	Rule                = domain.Rule
	RulesEngine         = domain.RulesEngine
	Transaction         = domain.Transaction
	TransactionView     = domain.TransactionView
	PersistentStore     = domain.PersistentStore
)

const (
	EntityEntity              = domain.EntityEntity
	EntityFormatSpecification = domain.EntityFormatSpecification
	EntityQuantity            = domain.EntityQuantity
	EntityDataFile            = domain.EntityDataFile
	EntityRelease             = domain.EntityRelease
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
)
