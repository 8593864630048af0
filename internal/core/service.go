package core

import (
	"context"
	"time"

	"instrumentdb/internal/infra/persistence/memory"
)

// Service exposes the transactional catalog operations used by the import
// pipeline and the browsing API. Every operation is traced, metered and, for
// writes, audited.
type Service struct {
	store   PersistentStore
	logger  Logger
	clock   Clock
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
}

type serviceOptions struct {
	logger  Logger
	clock   Clock
	audit   AuditRecorder
	metrics MetricsRecorder
	tracer  Tracer
}

// Option customises a Service.
type Option func(*serviceOptions)

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		logger:  noopLogger{},
		clock:   ClockFunc(nil),
		audit:   noopAuditRecorder{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
	}
}

// WithLogger sets the logger; nil keeps the no-op logger.
func WithLogger(logger Logger) Option {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock sets the clock used for audit timestamps.
func WithClock(clock Clock) Option {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithAuditRecorder sets the audit sink for catalog writes.
func WithAuditRecorder(audit AuditRecorder) Option {
	return func(o *serviceOptions) {
		if audit != nil {
			o.audit = audit
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(metrics MetricsRecorder) Option {
	return func(o *serviceOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) Option {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Service{
		store:   store,
		logger:  o.logger,
		clock:   o.clock,
		audit:   o.audit,
		metrics: o.metrics,
		tracer:  o.tracer,
	}
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// Close releases the underlying store.
func (s *Service) Close() error {
	return s.store.Close()
}

// WriteResult carries the rule evaluation of a write and whether it created
// the record.
type WriteResult struct {
	Result
	Created bool
}

// SaveFormatSpecification creates or updates a format specification.
func (s *Service) SaveFormatSpecification(ctx context.Context, spec FormatSpecification) (FormatSpecification, WriteResult, error) {
	var saved FormatSpecification
	wr, err := s.write(ctx, "save_format_specification", func(tx Transaction) (string, bool, error) {
		var created bool
		var err error
		saved, created, err = tx.UpsertFormatSpecification(spec)
		return saved.ID, created, err
	})
	return saved, wr, err
}

// SaveEntity creates or updates an entity.
func (s *Service) SaveEntity(ctx context.Context, entity Entity) (Entity, WriteResult, error) {
	var saved Entity
	wr, err := s.write(ctx, "save_entity", func(tx Transaction) (string, bool, error) {
		var created bool
		var err error
		saved, created, err = tx.UpsertEntity(entity)
		return saved.ID, created, err
	})
	return saved, wr, err
}

// SaveQuantity creates or updates a quantity.
func (s *Service) SaveQuantity(ctx context.Context, quantity Quantity) (Quantity, WriteResult, error) {
	var saved Quantity
	wr, err := s.write(ctx, "save_quantity", func(tx Transaction) (string, bool, error) {
		var created bool
		var err error
		saved, created, err = tx.UpsertQuantity(quantity)
		return saved.ID, created, err
	})
	return saved, wr, err
}

// SaveDataFile creates or updates a data file and links its dependencies in
// the same transaction. An unknown dependency rolls back the whole write.
func (s *Service) SaveDataFile(ctx context.Context, file DataFile, dependencies []string) (DataFile, WriteResult, error) {
	var saved DataFile
	wr, err := s.write(ctx, "save_data_file", func(tx Transaction) (string, bool, error) {
		written, created, err := tx.UpsertDataFile(file)
		if err != nil {
			return file.ID, false, err
		}
		if err := LinkDependencies(tx, written.ID, dependencies); err != nil {
			return written.ID, created, err
		}
		saved, _ = tx.FindDataFile(written.ID)
		return written.ID, created, nil
	})
	return saved, wr, err
}

// SaveRelease creates or updates a release and adds the listed data files.
// An unknown data file rolls back the whole write.
func (s *Service) SaveRelease(ctx context.Context, release Release, dataFileIDs []string) (Release, WriteResult, error) {
	var saved Release
	wr, err := s.write(ctx, "save_release", func(tx Transaction) (string, bool, error) {
		written, created, err := tx.UpsertRelease(release)
		if err != nil {
			return release.Tag, false, err
		}
		if err := LinkReleaseDataFiles(tx, written.Tag, dataFileIDs); err != nil {
			return written.Tag, created, err
		}
		saved, _ = tx.FindRelease(written.Tag)
		return written.Tag, created, nil
	})
	return saved, wr, err
}

func (s *Service) write(ctx context.Context, op string, fn func(Transaction) (string, bool, error)) (WriteResult, error) {
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	var id string
	var created bool
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		id, created, err = fn(tx)
		return err
	})
	duration := time.Since(start)
	s.metrics.Observe(ctx, op, err == nil, duration)
	for _, v := range res.Violations {
		if v.Severity != SeverityBlock {
			s.logger.Warn("rule violation", "rule", v.Rule, "severity", v.Severity, "entity", v.Entity, "uuid", v.EntityID, "message", v.Message)
		}
	}
	if err != nil {
		s.logger.Debug("catalog write failed", "operation", op, "uuid", id, "error", err)
		s.recordAuditError(ctx, op, id, duration, err)
	} else {
		s.logger.Debug("catalog write", "operation", op, "uuid", id, "created", created)
		s.recordAuditSuccess(ctx, op, id, created, duration)
	}
	span.End(err)
	return WriteResult{Result: res, Created: created}, err
}

var auditedOperations = map[string]EntityType{
	"save_format_specification": EntityFormatSpecification,
	"save_entity":               EntityEntity,
	"save_quantity":             EntityQuantity,
	"save_data_file":            EntityDataFile,
	"save_release":              EntityRelease,
}

func (s *Service) recordAuditSuccess(ctx context.Context, op, id string, created bool, duration time.Duration) {
	entity, ok := auditedOperations[op]
	if !ok {
		return
	}
	action := ActionUpdate
	if created {
		action = ActionCreate
	}
	s.audit.Record(ctx, AuditEntry{
		Operation: op,
		Entity:    entity,
		Action:    action,
		EntityID:  id,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: s.clock.Now(),
	})
}

func (s *Service) recordAuditError(ctx context.Context, op, id string, duration time.Duration, err error) {
	entity, ok := auditedOperations[op]
	if !ok {
		return
	}
	s.audit.Record(ctx, AuditEntry{
		Operation: op,
		Entity:    entity,
		EntityID:  id,
		Status:    AuditStatusError,
		Error:     err.Error(),
		Duration:  duration,
		Timestamp: s.clock.Now(),
	})
}
