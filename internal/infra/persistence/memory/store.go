// Package memory provides an in-memory implementation of the catalog
// persistence store used for tests, dry runs and as the working set of the
// SQL-backed stores.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"instrumentdb/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Entity aliases domain.Entity for in-memory persistence operations.
	Entity = domain.Entity
	// FormatSpecification aliases domain.FormatSpecification.
	FormatSpecification = domain.FormatSpecification
	// Quantity aliases domain.Quantity.
	Quantity = domain.Quantity
	// DataFile aliases domain.DataFile.
	DataFile = domain.DataFile
	// Release aliases domain.Release.
	Release = domain.Release
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// CommitHook runs after rules accepted a transaction and before its state
// becomes visible. Returning an error aborts the commit.
type CommitHook func(ctx context.Context, changes []Change) error

// Option configures a Store.
type Option func(*Store)

// WithCommitHook installs a hook used by durable backends to mirror changes.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) { s.hook = hook }
}

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

type memoryState struct {
	formatSpecs map[string]FormatSpecification
	entities    map[string]Entity
	quantities  map[string]Quantity
	dataFiles   map[string]DataFile
	releases    map[string]Release
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	FormatSpecifications map[string]FormatSpecification `json:"format_specifications"`
	Entities             map[string]Entity              `json:"entities"`
	Quantities           map[string]Quantity            `json:"quantities"`
	DataFiles            map[string]DataFile            `json:"data_files"`
	Releases             map[string]Release             `json:"releases"`
}

func newMemoryState() memoryState {
	return memoryState{
		formatSpecs: make(map[string]FormatSpecification),
		entities:    make(map[string]Entity),
		quantities:  make(map[string]Quantity),
		dataFiles:   make(map[string]DataFile),
		releases:    make(map[string]Release),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		FormatSpecifications: make(map[string]FormatSpecification, len(state.formatSpecs)),
		Entities:             make(map[string]Entity, len(state.entities)),
		Quantities:           make(map[string]Quantity, len(state.quantities)),
		DataFiles:            make(map[string]DataFile, len(state.dataFiles)),
		Releases:             make(map[string]Release, len(state.releases)),
	}
	for k, v := range state.formatSpecs {
		s.FormatSpecifications[k] = cloneFormatSpecification(v)
	}
	for k, v := range state.entities {
		s.Entities[k] = cloneEntity(v)
	}
	for k, v := range state.quantities {
		s.Quantities[k] = cloneQuantity(v)
	}
	for k, v := range state.dataFiles {
		s.DataFiles[k] = cloneDataFile(v)
	}
	for k, v := range state.releases {
		s.Releases[k] = cloneRelease(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.FormatSpecifications {
		state.formatSpecs[k] = cloneFormatSpecification(v)
	}
	for k, v := range s.Entities {
		state.entities[k] = stripEntity(cloneEntity(v))
	}
	for k, v := range s.Quantities {
		state.quantities[k] = stripQuantity(cloneQuantity(v))
	}
	for k, v := range s.DataFiles {
		state.dataFiles[k] = stripDataFile(cloneDataFile(v))
	}
	for k, v := range s.Releases {
		state.releases[k] = cloneRelease(v)
	}
	return state
}

// migrateSnapshot fills missing buckets and drops links that point at records
// absent from the snapshot.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.FormatSpecifications == nil {
		snapshot.FormatSpecifications = map[string]FormatSpecification{}
	}
	if snapshot.Entities == nil {
		snapshot.Entities = map[string]Entity{}
	}
	if snapshot.Quantities == nil {
		snapshot.Quantities = map[string]Quantity{}
	}
	if snapshot.DataFiles == nil {
		snapshot.DataFiles = map[string]DataFile{}
	}
	if snapshot.Releases == nil {
		snapshot.Releases = map[string]Release{}
	}

	dataFileExists := func(id string) bool {
		_, ok := snapshot.DataFiles[id]
		return ok
	}

	for id, quantity := range snapshot.Quantities {
		if quantity.FormatSpecID != "" {
			if _, ok := snapshot.FormatSpecifications[quantity.FormatSpecID]; !ok {
				quantity.FormatSpecID = ""
			}
		}
		snapshot.Quantities[id] = quantity
	}
	for id, dataFile := range snapshot.DataFiles {
		if filtered, changed := filterIDs(dataFile.DependencyIDs, dataFileExists); changed {
			dataFile.DependencyIDs = filtered
		}
		snapshot.DataFiles[id] = dataFile
	}
	for tag, release := range snapshot.Releases {
		if release.Tag == "" {
			release.Tag = tag
		}
		if filtered, changed := filterIDs(release.DataFileIDs, dataFileExists); changed {
			release.DataFileIDs = filtered
		}
		snapshot.Releases[tag] = release
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.formatSpecs {
		cloned.formatSpecs[k] = cloneFormatSpecification(v)
	}
	for k, v := range s.entities {
		cloned.entities[k] = cloneEntity(v)
	}
	for k, v := range s.quantities {
		cloned.quantities[k] = cloneQuantity(v)
	}
	for k, v := range s.dataFiles {
		cloned.dataFiles[k] = cloneDataFile(v)
	}
	for k, v := range s.releases {
		cloned.releases[k] = cloneRelease(v)
	}
	return cloned
}

func cloneAttachment(a *domain.Attachment) *domain.Attachment {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

func cloneFormatSpecification(f FormatSpecification) FormatSpecification {
	cp := f
	cp.DocFile = cloneAttachment(f.DocFile)
	return cp
}

func cloneEntity(e Entity) Entity {
	cp := e
	cp.ChildIDs = append([]string(nil), e.ChildIDs...)
	cp.QuantityIDs = append([]string(nil), e.QuantityIDs...)
	return cp
}

func cloneQuantity(q Quantity) Quantity {
	cp := q
	cp.DataFileIDs = append([]string(nil), q.DataFileIDs...)
	return cp
}

func cloneDataFile(d DataFile) DataFile {
	cp := d
	if d.Metadata != nil {
		cp.Metadata = append([]byte(nil), d.Metadata...)
	}
	cp.FileData = cloneAttachment(d.FileData)
	cp.PlotFile = cloneAttachment(d.PlotFile)
	cp.DependencyIDs = append([]string(nil), d.DependencyIDs...)
	cp.ReleaseTags = append([]string(nil), d.ReleaseTags...)
	return cp
}

func cloneRelease(r Release) Release {
	cp := r
	cp.DataFileIDs = append([]string(nil), r.DataFileIDs...)
	return cp
}

// strip* remove derived fields before a record is stored.
func stripEntity(e Entity) Entity {
	e.ChildIDs = nil
	e.QuantityIDs = nil
	return e
}

func stripQuantity(q Quantity) Quantity {
	q.DataFileIDs = nil
	return q
}

func stripDataFile(d DataFile) DataFile {
	d.ReleaseTags = nil
	return d
}

func containsString(values []string, id string) bool {
	for _, existing := range values {
		if existing == id {
			return true
		}
	}
	return false
}

func filterIDs(values []string, exists func(string) bool) ([]string, bool) {
	if len(values) == 0 {
		return nil, false
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	changed := false
	for _, v := range values {
		if _, ok := seen[v]; ok {
			changed = true
			continue
		}
		seen[v] = struct{}{}
		if !exists(v) {
			changed = true
			continue
		}
		out = append(out, v)
	}
	if !changed && len(out) == len(values) {
		return values, false
	}
	return out, true
}

func decorateEntity(state *memoryState, entity Entity) Entity {
	var children, quantities []string
	for _, e := range state.entities {
		if e.ParentID == entity.ID {
			children = append(children, e.ID)
		}
	}
	for _, q := range state.quantities {
		if q.EntityID == entity.ID {
			quantities = append(quantities, q.ID)
		}
	}
	sort.Strings(children)
	sort.Strings(quantities)
	entity.ChildIDs = children
	entity.QuantityIDs = quantities
	return entity
}

func decorateQuantity(state *memoryState, quantity Quantity) Quantity {
	var ids []string
	for _, d := range state.dataFiles {
		if d.QuantityID == quantity.ID {
			ids = append(ids, d.ID)
		}
	}
	sort.Strings(ids)
	quantity.DataFileIDs = ids
	return quantity
}

func decorateDataFile(state *memoryState, dataFile DataFile) DataFile {
	var tags []string
	for _, r := range state.releases {
		if containsString(r.DataFileIDs, dataFile.ID) {
			tags = append(tags, r.Tag)
		}
	}
	sort.Strings(tags)
	dataFile.ReleaseTags = tags
	return dataFile
}

// canonicalID normalizes a UUID string to its lowercase hyphenated form.
func canonicalID(id string) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("invalid uuid %q: %w", id, err)
	}
	return parsed.String(), nil
}

// lookupID canonicalizes id for lookups, falling back to the raw value so
// that malformed keys simply miss.
func lookupID(id string) string {
	if c, err := canonicalID(id); err == nil {
		return c
	}
	return id
}

// Store provides an in-memory transactional store for the catalog.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	hook   CommitHook
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

type transaction struct {
	transactionView
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}
	tx.transactionView = transactionView{state: &tx.state}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, newTransactionView(&tx.state), tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	if s.hook != nil && len(tx.changes) > 0 {
		if err := s.hook(ctx, tx.changes); err != nil {
			return result, err
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()

	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// resolveNewID canonicalizes a supplied ID or allocates a fresh one.
func (tx *transaction) resolveNewID(id string) (string, error) {
	if id == "" {
		return tx.store.newID(), nil
	}
	return canonicalID(id)
}

// UpsertFormatSpecification creates or replaces a format specification.
func (tx *transaction) UpsertFormatSpecification(f FormatSpecification) (FormatSpecification, bool, error) {
	id, err := tx.resolveNewID(f.ID)
	if err != nil {
		return FormatSpecification{}, false, err
	}
	f.ID = id
	if f.DocumentRef == "" {
		return FormatSpecification{}, false, fmt.Errorf("format specification %s: document reference required", id)
	}
	before, exists := tx.state.formatSpecs[id]
	if exists {
		f.CreatedAt = before.CreatedAt
	} else {
		f.CreatedAt = tx.now
	}
	f.UpdatedAt = tx.now
	tx.state.formatSpecs[id] = cloneFormatSpecification(f)
	tx.recordChange(changeFor(domain.EntityFormatSpecification, exists, cloneFormatSpecification(before), cloneFormatSpecification(f)))
	return cloneFormatSpecification(f), !exists, nil
}

// UpsertEntity creates or replaces an entity.
func (tx *transaction) UpsertEntity(e Entity) (Entity, bool, error) {
	id, err := tx.resolveNewID(e.ID)
	if err != nil {
		return Entity{}, false, err
	}
	e = stripEntity(e)
	e.ID = id
	if e.Name == "" {
		return Entity{}, false, fmt.Errorf("entity %s: name required", id)
	}
	if e.ParentID != "" {
		parentID := lookupID(e.ParentID)
		if _, ok := tx.state.entities[parentID]; !ok {
			return Entity{}, false, domain.NewNotFound(domain.EntityEntity, e.ParentID)
		}
		e.ParentID = parentID
	}
	before, exists := tx.state.entities[id]
	if exists {
		e.CreatedAt = before.CreatedAt
	} else {
		e.CreatedAt = tx.now
	}
	e.UpdatedAt = tx.now
	tx.state.entities[id] = cloneEntity(e)
	tx.recordChange(changeFor(domain.EntityEntity, exists, cloneEntity(before), cloneEntity(e)))
	return decorateEntity(&tx.state, cloneEntity(e)), !exists, nil
}

// UpsertQuantity creates or replaces a quantity.
func (tx *transaction) UpsertQuantity(q Quantity) (Quantity, bool, error) {
	id, err := tx.resolveNewID(q.ID)
	if err != nil {
		return Quantity{}, false, err
	}
	q = stripQuantity(q)
	q.ID = id
	if q.Name == "" {
		return Quantity{}, false, fmt.Errorf("quantity %s: name required", id)
	}
	entityID := lookupID(q.EntityID)
	if _, ok := tx.state.entities[entityID]; !ok {
		return Quantity{}, false, domain.NewNotFound(domain.EntityEntity, q.EntityID)
	}
	q.EntityID = entityID
	if q.FormatSpecID != "" {
		specID := lookupID(q.FormatSpecID)
		if _, ok := tx.state.formatSpecs[specID]; !ok {
			return Quantity{}, false, domain.NewNotFound(domain.EntityFormatSpecification, q.FormatSpecID)
		}
		q.FormatSpecID = specID
	}
	before, exists := tx.state.quantities[id]
	if exists {
		q.CreatedAt = before.CreatedAt
	} else {
		q.CreatedAt = tx.now
	}
	q.UpdatedAt = tx.now
	tx.state.quantities[id] = cloneQuantity(q)
	tx.recordChange(changeFor(domain.EntityQuantity, exists, cloneQuantity(before), cloneQuantity(q)))
	return decorateQuantity(&tx.state, cloneQuantity(q)), !exists, nil
}

// UpsertDataFile creates or replaces a data file, keeping its dependency set.
func (tx *transaction) UpsertDataFile(d DataFile) (DataFile, bool, error) {
	id, err := tx.resolveNewID(d.ID)
	if err != nil {
		return DataFile{}, false, err
	}
	d = stripDataFile(d)
	d.ID = id
	if d.Name == "" {
		return DataFile{}, false, fmt.Errorf("data file %s: name required", id)
	}
	if d.UploadDate.IsZero() {
		return DataFile{}, false, fmt.Errorf("data file %s: upload date required", id)
	}
	quantityID := lookupID(d.QuantityID)
	if _, ok := tx.state.quantities[quantityID]; !ok {
		return DataFile{}, false, domain.NewNotFound(domain.EntityQuantity, d.QuantityID)
	}
	d.QuantityID = quantityID
	before, exists := tx.state.dataFiles[id]
	if exists {
		d.CreatedAt = before.CreatedAt
		d.DependencyIDs = append([]string(nil), before.DependencyIDs...)
	} else {
		d.CreatedAt = tx.now
		d.DependencyIDs = nil
	}
	d.UpdatedAt = tx.now
	tx.state.dataFiles[id] = cloneDataFile(d)
	tx.recordChange(changeFor(domain.EntityDataFile, exists, cloneDataFile(before), cloneDataFile(d)))
	return decorateDataFile(&tx.state, cloneDataFile(d)), !exists, nil
}

// UpsertRelease creates or replaces a release keyed by tag, keeping its data file set.
func (tx *transaction) UpsertRelease(r Release) (Release, bool, error) {
	if r.Tag == "" {
		return Release{}, false, fmt.Errorf("release tag required")
	}
	if r.ReleaseDate.IsZero() {
		return Release{}, false, fmt.Errorf("release %s: release date required", r.Tag)
	}
	before, exists := tx.state.releases[r.Tag]
	if exists {
		r.CreatedAt = before.CreatedAt
		r.DataFileIDs = append([]string(nil), before.DataFileIDs...)
	} else {
		r.CreatedAt = tx.now
		r.DataFileIDs = nil
	}
	r.UpdatedAt = tx.now
	tx.state.releases[r.Tag] = cloneRelease(r)
	tx.recordChange(changeFor(domain.EntityRelease, exists, cloneRelease(before), cloneRelease(r)))
	return cloneRelease(r), !exists, nil
}

// AddDataFileDependency links dataFileID to an existing dependency. Adding an
// existing edge is a no-op.
func (tx *transaction) AddDataFileDependency(dataFileID, dependencyID string) error {
	id := lookupID(dataFileID)
	current, ok := tx.state.dataFiles[id]
	if !ok {
		return domain.NewNotFound(domain.EntityDataFile, dataFileID)
	}
	depID := lookupID(dependencyID)
	if _, ok := tx.state.dataFiles[depID]; !ok {
		return domain.NewNotFound(domain.EntityDataFile, dependencyID)
	}
	if containsString(current.DependencyIDs, depID) {
		return nil
	}
	before := cloneDataFile(current)
	current.DependencyIDs = append(current.DependencyIDs, depID)
	current.UpdatedAt = tx.now
	tx.state.dataFiles[id] = cloneDataFile(current)
	tx.recordChange(Change{Entity: domain.EntityDataFile, Action: domain.ActionUpdate, Before: before, After: cloneDataFile(current)})
	return nil
}

// AddReleaseDataFile adds an existing data file to a release. Adding a member
// twice is a no-op.
func (tx *transaction) AddReleaseDataFile(tag, dataFileID string) error {
	current, ok := tx.state.releases[tag]
	if !ok {
		return domain.NewNotFound(domain.EntityRelease, tag)
	}
	id := lookupID(dataFileID)
	if _, ok := tx.state.dataFiles[id]; !ok {
		return domain.NewNotFound(domain.EntityDataFile, dataFileID)
	}
	if containsString(current.DataFileIDs, id) {
		return nil
	}
	before := cloneRelease(current)
	current.DataFileIDs = append(current.DataFileIDs, id)
	current.UpdatedAt = tx.now
	tx.state.releases[tag] = cloneRelease(current)
	tx.recordChange(Change{Entity: domain.EntityRelease, Action: domain.ActionUpdate, Before: before, After: cloneRelease(current)})
	return nil
}

func changeFor(entity domain.EntityType, existed bool, before, after any) Change {
	if existed {
		return Change{Entity: entity, Action: domain.ActionUpdate, Before: before, After: after}
	}
	return Change{Entity: entity, Action: domain.ActionCreate, After: after}
}

// Read helpers ---------------------------------------------------------------

// ListFormatSpecifications returns all format specifications ordered by document reference.
func (v transactionView) ListFormatSpecifications() []FormatSpecification {
	out := make([]FormatSpecification, 0, len(v.state.formatSpecs))
	for _, f := range v.state.formatSpecs {
		out = append(out, cloneFormatSpecification(f))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocumentRef != out[j].DocumentRef {
			return out[i].DocumentRef < out[j].DocumentRef
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListEntities returns all entities ordered by name.
func (v transactionView) ListEntities() []Entity {
	return v.filterEntities(func(Entity) bool { return true })
}

// ListRootEntities returns the entities without a parent.
func (v transactionView) ListRootEntities() []Entity {
	return v.filterEntities(func(e Entity) bool { return e.ParentID == "" })
}

// ListChildren returns the direct children of parentID.
func (v transactionView) ListChildren(parentID string) []Entity {
	id := lookupID(parentID)
	return v.filterEntities(func(e Entity) bool { return e.ParentID != "" && e.ParentID == id })
}

func (v transactionView) filterEntities(keep func(Entity) bool) []Entity {
	out := make([]Entity, 0)
	for _, e := range v.state.entities {
		if keep(e) {
			out = append(out, decorateEntity(v.state, cloneEntity(e)))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListQuantities returns all quantities ordered by name.
func (v transactionView) ListQuantities() []Quantity {
	return v.filterQuantities(func(Quantity) bool { return true })
}

// ListEntityQuantities returns the quantities owned by entityID.
func (v transactionView) ListEntityQuantities(entityID string) []Quantity {
	id := lookupID(entityID)
	return v.filterQuantities(func(q Quantity) bool { return q.EntityID == id })
}

func (v transactionView) filterQuantities(keep func(Quantity) bool) []Quantity {
	out := make([]Quantity, 0)
	for _, q := range v.state.quantities {
		if keep(q) {
			out = append(out, decorateQuantity(v.state, cloneQuantity(q)))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListDataFiles returns all data files ordered by name.
func (v transactionView) ListDataFiles() []DataFile {
	return v.filterDataFiles(func(DataFile) bool { return true })
}

// ListQuantityDataFiles returns the data files attached to quantityID.
func (v transactionView) ListQuantityDataFiles(quantityID string) []DataFile {
	id := lookupID(quantityID)
	return v.filterDataFiles(func(d DataFile) bool { return d.QuantityID == id })
}

func (v transactionView) filterDataFiles(keep func(DataFile) bool) []DataFile {
	out := make([]DataFile, 0)
	for _, d := range v.state.dataFiles {
		if keep(d) {
			out = append(out, decorateDataFile(v.state, cloneDataFile(d)))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListReleases returns all releases ordered by release date, then tag.
func (v transactionView) ListReleases() []Release {
	out := make([]Release, 0, len(v.state.releases))
	for _, r := range v.state.releases {
		out = append(out, cloneRelease(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReleaseDate.Equal(out[j].ReleaseDate) {
			return out[i].ReleaseDate.Before(out[j].ReleaseDate)
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}

// FindFormatSpecification retrieves a format specification by UUID.
func (v transactionView) FindFormatSpecification(id string) (FormatSpecification, bool) {
	f, ok := v.state.formatSpecs[lookupID(id)]
	if !ok {
		return FormatSpecification{}, false
	}
	return cloneFormatSpecification(f), true
}

// FindFormatSpecificationByRef retrieves a format specification by document
// reference. When several share the reference, the lowest UUID wins.
func (v transactionView) FindFormatSpecificationByRef(documentRef string) (FormatSpecification, bool) {
	var (
		found FormatSpecification
		ok    bool
	)
	for _, f := range v.state.formatSpecs {
		if f.DocumentRef != documentRef {
			continue
		}
		if !ok || f.ID < found.ID {
			found, ok = f, true
		}
	}
	if !ok {
		return FormatSpecification{}, false
	}
	return cloneFormatSpecification(found), true
}

// FindEntity retrieves an entity by UUID.
func (v transactionView) FindEntity(id string) (Entity, bool) {
	e, ok := v.state.entities[lookupID(id)]
	if !ok {
		return Entity{}, false
	}
	return decorateEntity(v.state, cloneEntity(e)), true
}

// FindQuantity retrieves a quantity by UUID.
func (v transactionView) FindQuantity(id string) (Quantity, bool) {
	q, ok := v.state.quantities[lookupID(id)]
	if !ok {
		return Quantity{}, false
	}
	return decorateQuantity(v.state, cloneQuantity(q)), true
}

// FindDataFile retrieves a data file by UUID.
func (v transactionView) FindDataFile(id string) (DataFile, bool) {
	d, ok := v.state.dataFiles[lookupID(id)]
	if !ok {
		return DataFile{}, false
	}
	return decorateDataFile(v.state, cloneDataFile(d)), true
}

// FindRelease retrieves a release by tag.
func (v transactionView) FindRelease(tag string) (Release, bool) {
	r, ok := v.state.releases[tag]
	if !ok {
		return Release{}, false
	}
	return cloneRelease(r), true
}
