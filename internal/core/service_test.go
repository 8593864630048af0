package core

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type captureTracer struct {
	ended map[string][]error
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	return ctx, &captureSpan{tracer: c, op: op}
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	if s.tracer.ended == nil {
		s.tracer.ended = map[string][]error{}
	}
	s.tracer.ended[s.op] = append(s.tracer.ended[s.op], err)
}

func TestServiceObservability(t *testing.T) {
	ctx := context.Background()
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	fixed := time.Date(2024, 10, 1, 8, 30, 0, 0, time.UTC)

	svc := NewInMemoryService(NewDefaultRulesEngine(),
		WithAuditRecorder(audit),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
		WithClock(ClockFunc(func() time.Time { return fixed })),
	)

	entity, wr, err := svc.SaveEntity(ctx, Entity{Name: "Sat"})
	if err != nil || !wr.Created {
		t.Fatalf("save entity: %v %+v", err, wr)
	}
	if !audit.has("save_entity", AuditStatusSuccess, func(e AuditEntry) bool {
		return e.EntityID == entity.ID && e.Action == ActionCreate && e.Entity == EntityEntity && e.Timestamp.Equal(fixed)
	}) {
		t.Fatalf("expected create audit entry, got %+v", audit.entries)
	}
	if _, wr, err = svc.SaveEntity(ctx, Entity{Base: Base{ID: entity.ID}, Name: "Satellite"}); err != nil || wr.Created {
		t.Fatalf("update entity: %v %+v", err, wr)
	}
	if !audit.has("save_entity", AuditStatusSuccess, func(e AuditEntry) bool { return e.Action == ActionUpdate }) {
		t.Fatalf("expected update audit entry")
	}

	if _, _, err := svc.SaveQuantity(ctx, Quantity{Name: "Mass", EntityID: uuid.NewString()}); !isNotFound(err) {
		t.Fatalf("expected missing entity, got %v", err)
	}
	if !audit.has("save_quantity", AuditStatusError, func(e AuditEntry) bool { return strings.Contains(e.Error, "not found") }) {
		t.Fatalf("expected audit error entry")
	}
	if !metrics.has("save_quantity", false) || !metrics.has("save_entity", true) {
		t.Fatalf("unexpected metrics %+v", metrics.calls)
	}
	if errs := tracer.ended["save_quantity"]; len(errs) != 1 || errs[0] == nil {
		t.Fatalf("expected failed span, got %v", errs)
	}

	if _, err := svc.GetEntity(ctx, entity.ID); err != nil {
		t.Fatalf("get entity: %v", err)
	}
	if !metrics.has("get_entity", true) || len(tracer.ended["get_entity"]) != 1 {
		t.Fatalf("expected reads to be traced and metered")
	}
	if audit.has("get_entity", AuditStatusSuccess, nil) {
		t.Fatalf("reads must not be audited")
	}
}

func TestSaveDataFileRollsBackOnUnknownDependency(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(nil)
	fx := seedCatalog(t, svc)

	missing := uuid.NewString()
	newID := uuid.NewString()
	_, _, err := svc.SaveDataFile(ctx, DataFile{Base: Base{ID: newID}, Name: "derived", QuantityID: fx.mass.ID, UploadDate: testDate}, []string{fx.file.ID, missing})
	if !isNotFound(err) || !strings.Contains(err.Error(), missing) {
		t.Fatalf("expected lookup failure naming %s, got %v", missing, err)
	}
	if ok, _ := svc.Exists(ctx, EntityDataFile, newID); ok {
		t.Fatalf("data file must not be created when a dependency is unknown")
	}

	saved, _, err := svc.SaveDataFile(ctx, DataFile{Base: Base{ID: newID}, Name: "derived", QuantityID: fx.mass.ID, UploadDate: testDate}, []string{fx.file.ID, fx.file.ID})
	if err != nil {
		t.Fatalf("save with known dependency: %v", err)
	}
	if len(saved.DependencyIDs) != 1 || saved.DependencyIDs[0] != fx.file.ID {
		t.Fatalf("unexpected dependencies %v", saved.DependencyIDs)
	}
}

func TestSaveReleaseRollsBackOnUnknownDataFile(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(nil)
	fx := seedCatalog(t, svc)

	_, _, err := svc.SaveRelease(ctx, Release{Tag: "v2.0", ReleaseDate: testDate}, []string{fx.file.ID, uuid.NewString()})
	if !isNotFound(err) {
		t.Fatalf("expected lookup failure, got %v", err)
	}
	if ok, _ := svc.Exists(ctx, EntityRelease, "v2.0"); ok {
		t.Fatalf("release must not exist after failed link")
	}
	rel, err := svc.GetRelease(ctx, "v1")
	if err != nil || len(rel.DataFileIDs) != 1 {
		t.Fatalf("earlier release must stay committed: %+v %v", rel, err)
	}
}

func TestSaveWarningsAreLogged(t *testing.T) {
	ctx := context.Background()
	logger := &captureLogger{}
	svc := NewInMemoryService(nil, WithLogger(logger))
	fx := seedCatalog(t, svc)
	other, _, err := svc.SaveDataFile(ctx, DataFile{Name: "mass_v2", QuantityID: fx.mass.ID, UploadDate: testDate}, nil)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, _, err := svc.SaveRelease(ctx, Release{Tag: "v1", ReleaseDate: testDate}, []string{other.ID}); err != nil {
		t.Fatalf("save release: %v", err)
	}
	if len(logger.warnings) != 1 || logger.warnings[0] != "rule violation" {
		t.Fatalf("expected one warning, got %v", logger.warnings)
	}
	if len(logger.debugs) == 0 {
		t.Fatalf("expected debug lines for writes")
	}
}

func TestExistsAndGetters(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(nil)
	fx := seedCatalog(t, svc)
	spec, _, err := svc.SaveFormatSpecification(ctx, FormatSpecification{DocumentRef: "DOC-1", FileMimeType: "application/fits"})
	if err != nil {
		t.Fatalf("save spec: %v", err)
	}
	fx.mass.FormatSpecID = spec.ID
	if _, _, err := svc.SaveQuantity(ctx, fx.mass); err != nil {
		t.Fatalf("attach spec: %v", err)
	}

	checks := []struct {
		kind EntityType
		key  string
	}{
		{EntityFormatSpecification, spec.ID},
		{EntityEntity, fx.sat.ID},
		{EntityQuantity, fx.mass.ID},
		{EntityDataFile, fx.file.ID},
		{EntityRelease, "v1"},
	}
	for _, c := range checks {
		ok, err := svc.Exists(ctx, c.kind, c.key)
		if err != nil || !ok {
			t.Fatalf("expected %s %s to exist: %v", c.kind, c.key, err)
		}
		if ok, _ := svc.Exists(ctx, c.kind, uuid.NewString()); ok {
			t.Fatalf("unexpected %s match", c.kind)
		}
	}
	if _, err := svc.Exists(ctx, "other", "x"); err == nil {
		t.Fatalf("expected unknown type error")
	}

	if list, err := svc.ListEntities(ctx); err != nil || len(list) != 3 {
		t.Fatalf("list entities: %d %v", len(list), err)
	}
	if list, err := svc.ListQuantities(ctx); err != nil || len(list) != 1 {
		t.Fatalf("list quantities: %d %v", len(list), err)
	}
	if list, err := svc.ListDataFiles(ctx); err != nil || len(list) != 1 {
		t.Fatalf("list data files: %d %v", len(list), err)
	}
	if list, err := svc.ListReleases(ctx); err != nil || len(list) != 1 {
		t.Fatalf("list releases: %d %v", len(list), err)
	}
	if list, err := svc.ListFormatSpecifications(ctx); err != nil || len(list) != 1 {
		t.Fatalf("list specs: %d %v", len(list), err)
	}
	if _, err := svc.GetFormatSpecification(ctx, spec.ID); err != nil {
		t.Fatalf("get spec: %v", err)
	}
	if q, err := svc.GetQuantity(ctx, fx.mass.ID); err != nil || len(q.DataFileIDs) != 1 {
		t.Fatalf("get quantity: %+v %v", q, err)
	}
	file, gotSpec, err := svc.DataFileDownload(ctx, fx.file.ID)
	if err != nil || file.ID != fx.file.ID || gotSpec == nil || gotSpec.FileMimeType != "application/fits" {
		t.Fatalf("download lookup: %+v %+v %v", file, gotSpec, err)
	}
	for _, err := range []error{
		func() error { _, err := svc.GetEntity(ctx, "missing"); return err }(),
		func() error { _, err := svc.GetQuantity(ctx, "missing"); return err }(),
		func() error { _, err := svc.GetDataFile(ctx, "missing"); return err }(),
		func() error { _, err := svc.GetFormatSpecification(ctx, "missing"); return err }(),
		func() error { _, err := svc.GetRelease(ctx, "missing"); return err }(),
		func() error { _, _, err := svc.DataFileDownload(ctx, "missing"); return err }(),
	} {
		if !isNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestDefaultServiceOptions(t *testing.T) {
	opts := defaultServiceOptions()
	if opts.clock == nil || opts.logger == nil || opts.audit == nil || opts.metrics == nil || opts.tracer == nil {
		t.Fatalf("expected defaults populated")
	}
	opts.logger.Info("noop")
	opts.audit.Record(context.Background(), AuditEntry{})
	opts.metrics.Observe(context.Background(), "noop", true, 0)
	_, span := opts.tracer.Start(context.Background(), "noop")
	span.End(nil)

	svc := NewService(NewInMemoryService(nil).Store(), WithLogger(nil), WithClock(nil), WithAuditRecorder(nil), WithMetricsRecorder(nil), WithTracer(nil))
	if svc.logger == nil || svc.clock == nil || svc.audit == nil || svc.metrics == nil || svc.tracer == nil {
		t.Fatalf("nil options must keep defaults")
	}
}

func TestClockFunc(t *testing.T) {
	if got := ClockFunc(nil).Now(); got.IsZero() || got.Location() != time.UTC {
		t.Fatalf("expected current UTC time, got %v", got)
	}
	local := time.Date(2024, 7, 4, 12, 0, 0, 0, time.FixedZone("offset", -5*3600))
	if got := ClockFunc(func() time.Time { return local }).Now(); !got.Equal(local) || got.Location() != time.UTC {
		t.Fatalf("expected UTC conversion, got %v", got)
	}
}

func TestLoggerAuditRecorder(t *testing.T) {
	var buf bytes.Buffer
	logger := &lineLogger{buf: &buf}
	rec := LoggerAuditRecorder{Logger: logger}
	rec.Record(context.Background(), AuditEntry{Operation: "save_entity", Status: AuditStatusSuccess})
	rec.Record(context.Background(), AuditEntry{Operation: "save_release", Status: AuditStatusError, Error: "boom"})
	LoggerAuditRecorder{}.Record(context.Background(), AuditEntry{})
	if got := buf.String(); got != "info audit\nwarn audit\n" {
		t.Fatalf("unexpected log output %q", got)
	}
}

type lineLogger struct{ buf *bytes.Buffer }

func (l *lineLogger) Debug(msg string, _ ...any) { l.buf.WriteString("debug " + msg + "\n") }
func (l *lineLogger) Info(msg string, _ ...any)  { l.buf.WriteString("info " + msg + "\n") }
func (l *lineLogger) Warn(msg string, _ ...any)  { l.buf.WriteString("warn " + msg + "\n") }
func (l *lineLogger) Error(msg string, _ ...any) { l.buf.WriteString("error " + msg + "\n") }
