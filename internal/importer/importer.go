// Package importer loads manifests into the catalog. Each manifest is applied
// in five passes (format specifications, entities with their nested
// quantities and data files, top-level quantities, top-level data files,
// releases); every record is written in its own transaction and the first
// failing record aborts the run.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"instrumentdb/internal/blob"
	"instrumentdb/internal/core"
	"instrumentdb/internal/manifest"
	"instrumentdb/internal/mediatype"
	"instrumentdb/internal/platform/logger"
	"instrumentdb/pkg/domain"
)

// Options mirror the import command flags.
type Options struct {
	// DryRun validates manifests and locates attachments without reading or
	// writing the catalog or the blob store.
	DryRun bool
	// NoOverwrite skips records whose UUID (tag for releases) already exists.
	NoOverwrite bool
	// JSON is accepted for command-line compatibility and has no effect.
	JSON bool
	// TimeZone makes naive timestamps aware. Nil means UTC.
	TimeZone *time.Location
}

// Dependencies are the collaborators of an Engine. Service and Blobs may be
// nil for dry runs; the rest default to no-op or fresh instances.
type Dependencies struct {
	Service    *core.Service
	Blobs      blob.Store
	MediaTypes *mediatype.Registry
	Logger     *logger.Logger
	// Output receives the human-readable progress lines.
	Output  io.Writer
	Metrics *Metrics
}

// Engine runs manifest imports.
type Engine struct {
	svc     *core.Service
	blobs   blob.Store
	media   *mediatype.Registry
	log     *logger.Logger
	out     io.Writer
	metrics *Metrics
	opts    Options
}

// New validates deps against opts and builds an Engine.
func New(deps Dependencies, opts Options) (*Engine, error) {
	if !opts.DryRun {
		if deps.Service == nil {
			return nil, errors.New("importer: catalog service is required")
		}
		if deps.Blobs == nil {
			return nil, errors.New("importer: blob store is required")
		}
	}
	if opts.TimeZone == nil {
		opts.TimeZone = time.UTC
	}
	e := &Engine{
		svc:     deps.Service,
		blobs:   deps.Blobs,
		media:   deps.MediaTypes,
		log:     deps.Logger,
		out:     deps.Output,
		metrics: deps.Metrics,
		opts:    opts,
	}
	if e.media == nil {
		e.media = mediatype.New()
	}
	if e.log == nil {
		e.log = logger.NewNop()
	}
	if e.out == nil {
		e.out = io.Discard
	}
	return e, nil
}

// Run imports the manifests at paths in order, then refreshes the release
// dumps. The first failure stops the run; records written before it stay.
func (e *Engine) Run(ctx context.Context, paths ...string) error {
	start := time.Now()
	err := e.run(ctx, paths)
	e.metrics.observeRun(err == nil, time.Since(start))
	if err != nil {
		e.log.Error("import failed", "error", err, "dry_run", e.opts.DryRun)
	}
	return err
}

func (e *Engine) run(ctx context.Context, paths []string) error {
	for _, p := range paths {
		m, err := manifest.ParseFile(p)
		if err != nil {
			return &CommandError{Manifest: p, Err: err}
		}
		if err := e.Import(ctx, m); err != nil {
			return err
		}
	}
	if e.opts.DryRun {
		return nil
	}
	if err := e.DumpReleases(ctx); err != nil {
		return &CommandError{Err: err}
	}
	return nil
}

// Import applies one decoded manifest. Errors are *CommandError.
func (e *Engine) Import(ctx context.Context, m *manifest.Manifest) error {
	r := &manifestRun{
		Engine: e,
		dir:    m.Dir(),
		log:    e.log.With("manifest", m.Path, "dry_run", e.opts.DryRun),
	}
	passes := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"format_specifications", func(ctx context.Context) error { return r.formatSpecifications(ctx, m.FormatSpecifications) }},
		{"entities", func(ctx context.Context) error { return r.entities(ctx, m.Entities, topLevel, 0) }},
		{"quantities", func(ctx context.Context) error { return r.quantities(ctx, m.Quantities, topLevel, 0) }},
		{"data_files", func(ctx context.Context) error { return r.dataFiles(ctx, m.DataFiles, topLevel, 0) }},
		{"releases", func(ctx context.Context) error { return r.releases(ctx, m.Releases) }},
	}
	for _, pass := range passes {
		r.log.Debug("import pass", "pass", pass.name)
		if err := pass.fn(ctx); err != nil {
			return &CommandError{Manifest: m.Path, Err: err}
		}
	}
	return nil
}

// manifestRun carries the state of one manifest import.
type manifestRun struct {
	*Engine
	dir string
	log *logger.Logger
}

func (r *manifestRun) printf(depth int, format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, strings.Repeat("  ", depth)+format+"\n", args...)
}

// recordID canonicalises a manifest UUID. Records without one get a fresh
// UUID, except in dry runs where nothing is written.
func (r *manifestRun) recordID(kind, name, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if r.opts.DryRun {
			return "", nil
		}
		return uuid.NewString(), nil
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return "", invalid(kind, name, raw, "invalid uuid: %v", err)
	}
	return parsed.String(), nil
}

// skipExisting reports whether a NoOverwrite run should leave the record alone.
func (r *manifestRun) skipExisting(ctx context.Context, entity domain.EntityType, key string) (bool, error) {
	if !r.opts.NoOverwrite || r.opts.DryRun || key == "" {
		return false, nil
	}
	exists, err := r.svc.Exists(ctx, entity, key)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *manifestRun) written(kind string, created bool) {
	if created {
		r.metrics.record(kind, OutcomeCreated)
		return
	}
	r.metrics.record(kind, OutcomeUpdated)
}

func (r *manifestRun) parseDate(kind, name, id, field string, raw manifest.DateTime) (time.Time, error) {
	if raw.IsZero() {
		return time.Time{}, invalid(kind, name, id, "no %s specified", field)
	}
	t, err := parseDateTime(string(raw), r.opts.TimeZone)
	if err != nil {
		return time.Time{}, invalid(kind, name, id, "invalid %s: %v", field, err)
	}
	return t, nil
}

func (r *manifestRun) formatSpecifications(ctx context.Context, specs []manifest.FormatSpecification) error {
	for _, in := range specs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.formatSpecification(ctx, in); err != nil {
			r.metrics.record(kindFormatSpecification, OutcomeFailed)
			return err
		}
	}
	return nil
}

func (r *manifestRun) formatSpecification(ctx context.Context, in manifest.FormatSpecification) error {
	id, err := r.recordID(kindFormatSpecification, in.DocumentRef, in.UUID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(in.DocumentRef) == "" {
		return invalid(kindFormatSpecification, in.DocumentRef, id, "missing document_ref")
	}
	skip, err := r.skipExisting(ctx, domain.EntityFormatSpecification, id)
	if err != nil {
		return err
	}
	if skip {
		r.printf(0, "Format specification %s already exists in the database", in.DocumentRef)
		r.log.Info("format specification exists, skipped", "uuid", id, "document_ref", in.DocumentRef)
		r.metrics.record(kindFormatSpecification, OutcomeSkipped)
		return nil
	}

	st := r.newStaging(r.dir)
	doc, located, err := st.stage(ctx, docAttachment, id, in.DocFile, in.DocMimeType)
	if err != nil {
		return fmt.Errorf("format specification %s: %w", describe(in.DocumentRef, id), err)
	}
	if located == "" {
		located = "<no file>"
	}
	if id != "" {
		r.printf(0, "Format specification %q (%s, %s)", in.DocumentRef, short(id), located)
	} else {
		r.printf(0, "Format specification %q (%s)", in.DocumentRef, located)
	}
	if r.opts.DryRun {
		r.metrics.record(kindFormatSpecification, OutcomeSimulated)
		return nil
	}

	previous, err := r.previousFormatSpecification(ctx, in.UUID, id)
	if err != nil {
		st.discard(ctx)
		return err
	}
	saved, wr, err := r.svc.SaveFormatSpecification(ctx, domain.FormatSpecification{
		Base:         domain.Base{ID: id},
		DocumentRef:  strings.TrimSpace(in.DocumentRef),
		Title:        in.Title,
		DocFile:      doc,
		DocMimeType:  in.DocMimeType,
		FileMimeType: in.FileMimeType,
	})
	if err != nil {
		st.discard(ctx)
		return fmt.Errorf("save format specification %s: %w", describe(in.DocumentRef, id), err)
	}
	r.replaced(ctx, previous, saved.DocFile)
	r.written(kindFormatSpecification, wr.Created)
	r.log.Info("format specification imported", "uuid", saved.ID, "document_ref", saved.DocumentRef, "created", wr.Created)
	return nil
}

func (r *manifestRun) previousFormatSpecification(ctx context.Context, raw, id string) (*domain.Attachment, error) {
	if raw == "" {
		return nil, nil
	}
	prev, err := r.svc.GetFormatSpecification(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return prev.DocFile, nil
}

func (r *manifestRun) entities(ctx context.Context, entities []manifest.Entity, parent parentRef, depth int) error {
	for _, in := range entities {
		if err := ctx.Err(); err != nil {
			return err
		}
		handle, err := r.entity(ctx, in, parent, depth)
		if err != nil {
			r.metrics.record(kindEntity, OutcomeFailed)
			return err
		}
		if err := r.quantities(ctx, in.Quantities, handle, depth+1); err != nil {
			return err
		}
		if err := r.entities(ctx, in.Children, handle, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// entity writes one entity and returns the handle its children hang off.
func (r *manifestRun) entity(ctx context.Context, in manifest.Entity, parent parentRef, depth int) (parentRef, error) {
	id, err := r.recordID(kindEntity, in.Name, in.UUID)
	if err != nil {
		return parentRef{}, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return parentRef{}, invalid(kindEntity, in.Name, id, "missing name")
	}
	if id != "" && in.UUID != "" {
		r.printf(depth, "Entity %s (%s)", in.Name, short(id))
	} else {
		r.printf(depth, "Entity %s", in.Name)
	}
	r.log.Debug("entity", "name", in.Name, "parent", parent.String())
	if r.opts.DryRun {
		r.metrics.record(kindEntity, OutcomeSimulated)
		return simulated(in.Name), nil
	}
	skip, err := r.skipExisting(ctx, domain.EntityEntity, id)
	if err != nil {
		return parentRef{}, err
	}
	if skip {
		r.printf(depth, "Entity %s already exists in the database", in.Name)
		r.log.Info("entity exists, skipped", "uuid", id, "name", in.Name)
		r.metrics.record(kindEntity, OutcomeSkipped)
		return persisted(id, in.Name), nil
	}
	parentID, _ := parent.persistedID()
	saved, wr, err := r.svc.SaveEntity(ctx, domain.Entity{
		Base:     domain.Base{ID: id},
		Name:     in.Name,
		ParentID: parentID,
	})
	if err != nil {
		return parentRef{}, fmt.Errorf("save entity %s: %w", describe(in.Name, id), err)
	}
	r.written(kindEntity, wr.Created)
	r.log.Info("entity imported", "uuid", saved.ID, "name", saved.Name, "parent", parentID, "created", wr.Created)
	return persisted(saved.ID, saved.Name), nil
}

func (r *manifestRun) quantities(ctx context.Context, quantities []manifest.Quantity, parent parentRef, depth int) error {
	for _, in := range quantities {
		if err := ctx.Err(); err != nil {
			return err
		}
		handle, err := r.quantity(ctx, in, parent, depth)
		if err != nil {
			r.metrics.record(kindQuantity, OutcomeFailed)
			return err
		}
		if err := r.dataFiles(ctx, in.DataFiles, handle, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (r *manifestRun) quantity(ctx context.Context, in manifest.Quantity, parent parentRef, depth int) (parentRef, error) {
	id, err := r.recordID(kindQuantity, in.Name, in.UUID)
	if err != nil {
		return parentRef{}, err
	}
	if strings.TrimSpace(in.Name) == "" {
		return parentRef{}, invalid(kindQuantity, in.Name, id, "missing name")
	}
	skip, err := r.skipExisting(ctx, domain.EntityQuantity, id)
	if err != nil {
		return parentRef{}, err
	}
	if skip {
		r.printf(depth, "Quantity %s already exists in the database", in.Name)
		r.log.Info("quantity exists, skipped", "uuid", id, "name", in.Name)
		r.metrics.record(kindQuantity, OutcomeSkipped)
		return persisted(id, in.Name), nil
	}
	if in.UUID != "" {
		r.printf(depth, "Quantity %s (%s)", in.Name, short(id))
	} else {
		r.printf(depth, "Quantity %s", in.Name)
	}

	entity := parent
	if entity.isTopLevel() {
		ref := strings.TrimSpace(in.Entity)
		if ref == "" {
			return parentRef{}, invalid(kindQuantity, in.Name, id, "expected entity for quantity")
		}
		if r.opts.DryRun {
			entity = simulated(ref)
		} else {
			found, err := r.svc.GetEntity(ctx, ref)
			if err != nil {
				return parentRef{}, fmt.Errorf("parent of quantity %s: %w", describe(in.Name, id), err)
			}
			entity = persisted(found.ID, found.Name)
		}
	}
	r.log.Debug("quantity", "name", in.Name, "entity", entity.String())
	if r.opts.DryRun {
		r.metrics.record(kindQuantity, OutcomeSimulated)
		return simulated(in.Name), nil
	}
	entityID, _ := entity.persistedID()

	var specID string
	if ref := strings.TrimSpace(in.FormatSpec); ref != "" {
		spec, err := r.svc.FindFormatSpecification(ctx, ref)
		switch {
		case err == nil:
			specID = spec.ID
		case errors.Is(err, domain.ErrNotFound):
			r.printf(depth, "Error, format specification %s for quantity %s does not exist", ref, describe(in.Name, id))
			r.log.Warn("format specification not found", "reference", ref, "lookup", core.ResolveLookup(ref, "document_ref").Field, "quantity", in.Name, "uuid", id)
		default:
			return parentRef{}, err
		}
	}
	saved, wr, err := r.svc.SaveQuantity(ctx, domain.Quantity{
		Base:         domain.Base{ID: id},
		Name:         in.Name,
		EntityID:     entityID,
		FormatSpecID: specID,
	})
	if err != nil {
		return parentRef{}, fmt.Errorf("save quantity %s: %w", describe(in.Name, id), err)
	}
	r.written(kindQuantity, wr.Created)
	r.log.Info("quantity imported", "uuid", saved.ID, "name", saved.Name, "entity", entityID, "created", wr.Created)
	return persisted(saved.ID, saved.Name), nil
}

func (r *manifestRun) dataFiles(ctx context.Context, files []manifest.DataFile, parent parentRef, depth int) error {
	for _, in := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.dataFile(ctx, in, parent, depth); err != nil {
			r.metrics.record(kindDataFile, OutcomeFailed)
			return err
		}
	}
	return nil
}

func (r *manifestRun) dataFile(ctx context.Context, in manifest.DataFile, parent parentRef, depth int) error {
	id, err := r.recordID(kindDataFile, in.Name, in.UUID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(in.Name) == "" {
		return invalid(kindDataFile, in.Name, id, "missing name")
	}
	skip, err := r.skipExisting(ctx, domain.EntityDataFile, id)
	if err != nil {
		return err
	}
	if skip {
		r.printf(depth, "Data file %s already exists in the database", in.Name)
		r.log.Info("data file exists, skipped", "uuid", id, "name", in.Name)
		r.metrics.record(kindDataFile, OutcomeSkipped)
		return nil
	}
	uploadDate, err := r.parseDate(kindDataFile, in.Name, id, "upload date", in.UploadDate)
	if err != nil {
		return err
	}
	metadata, err := in.MetadataJSON()
	if err != nil {
		return invalid(kindDataFile, in.Name, id, "invalid metadata: %v", err)
	}
	dependencies := make([]string, 0, len(in.Dependencies))
	for _, dep := range in.Dependencies {
		if dep = strings.TrimSpace(dep); dep != "" {
			dependencies = append(dependencies, dep)
		}
	}

	quantity := parent
	if quantity.isTopLevel() {
		ref := strings.TrimSpace(in.Quantity)
		if ref == "" {
			return invalid(kindDataFile, in.Name, id, "expected quantity for data file")
		}
		if r.opts.DryRun {
			quantity = simulated(ref)
		} else {
			found, err := r.svc.GetQuantity(ctx, ref)
			if err != nil {
				return fmt.Errorf("quantity of data file %s: %w", describe(in.Name, id), err)
			}
			quantity = persisted(found.ID, found.Name)
		}
	}

	st := r.newStaging(r.dir)
	fileData, _, err := st.stage(ctx, dataAttachment, id, in.FileData, "")
	if err != nil {
		return fmt.Errorf("data file %s: %w", describe(in.Name, id), err)
	}
	plot, _, err := st.stage(ctx, plotAttachment, id, in.PlotFile, in.PlotMimeType)
	if err != nil {
		st.discard(ctx)
		return fmt.Errorf("data file %s: %w", describe(in.Name, id), err)
	}
	if in.UUID != "" {
		r.printf(depth, "Data file %q (%s, %s)", in.Name, short(id), in.FileData)
	} else {
		r.printf(depth, "Data file %q (%s)", in.Name, in.FileData)
	}
	for _, dep := range dependencies {
		r.printf(depth, "  Depends on %s", short(dep))
	}
	if r.opts.DryRun {
		r.metrics.record(kindDataFile, OutcomeSimulated)
		return nil
	}

	quantityID, _ := quantity.persistedID()
	var previous domain.DataFile
	if in.UUID != "" {
		prev, err := r.svc.GetDataFile(ctx, id)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			st.discard(ctx)
			return err
		}
		previous = prev
	}
	saved, wr, err := r.svc.SaveDataFile(ctx, domain.DataFile{
		Base:         domain.Base{ID: id},
		Name:         in.Name,
		QuantityID:   quantityID,
		UploadDate:   uploadDate,
		Metadata:     metadata,
		FileData:     fileData,
		PlotFile:     plot,
		PlotMimeType: in.PlotMimeType,
		SpecVersion:  in.SpecVersion,
	}, dependencies)
	if err != nil {
		st.discard(ctx)
		return fmt.Errorf("save data file %s: %w", describe(in.Name, id), err)
	}
	r.replaced(ctx, previous.FileData, saved.FileData)
	r.replaced(ctx, previous.PlotFile, saved.PlotFile)
	r.written(kindDataFile, wr.Created)
	r.log.Info("data file imported", "uuid", saved.ID, "name", saved.Name, "quantity", quantityID, "dependencies", len(dependencies), "created", wr.Created)
	return nil
}

// releaseInput is a validated release entry.
type releaseInput struct {
	tag       string
	date      time.Time
	comment   string
	dataFiles []string
}

// releaseTag matches the tags the catalog API can route.
var releaseTag = regexp.MustCompile(`^[\w.]+$`)

// releases validates every entry of the pass before writing any release.
func (r *manifestRun) releases(ctx context.Context, releases []manifest.Release) error {
	inputs := make([]releaseInput, 0, len(releases))
	for _, in := range releases {
		tag := strings.TrimSpace(in.Tag)
		if tag == "" {
			r.metrics.record(kindRelease, OutcomeFailed)
			return invalid(kindRelease, "", "", "missing tag")
		}
		if !releaseTag.MatchString(tag) {
			r.metrics.record(kindRelease, OutcomeFailed)
			return invalid(kindRelease, tag, "", "invalid tag: only letters, digits, '_' and '.' are allowed")
		}
		date, err := r.parseDate(kindRelease, tag, "", "release date", in.ReleaseDate)
		if err != nil {
			r.metrics.record(kindRelease, OutcomeFailed)
			return err
		}
		if in.DataFiles == nil {
			r.metrics.record(kindRelease, OutcomeFailed)
			return invalid(kindRelease, tag, "", "no data files specified")
		}
		inputs = append(inputs, releaseInput{tag: tag, date: date, comment: in.Comment, dataFiles: in.DataFiles})
	}
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.release(ctx, in); err != nil {
			r.metrics.record(kindRelease, OutcomeFailed)
			return err
		}
	}
	return nil
}

func (r *manifestRun) release(ctx context.Context, in releaseInput) error {
	skip, err := r.skipExisting(ctx, domain.EntityRelease, in.tag)
	if err != nil {
		return err
	}
	if skip {
		r.printf(0, "Release %s already exists in the database", in.tag)
		r.log.Info("release exists, skipped", "tag", in.tag)
		r.metrics.record(kindRelease, OutcomeSkipped)
		return nil
	}
	r.printf(0, "Release tag %q (%s), %d objects", in.tag, in.date.Format(time.RFC3339), len(in.dataFiles))
	if r.opts.DryRun {
		r.metrics.record(kindRelease, OutcomeSimulated)
		return nil
	}
	saved, wr, err := r.svc.SaveRelease(ctx, domain.Release{
		Tag:         in.tag,
		ReleaseDate: in.date,
		Comment:     in.comment,
	}, in.dataFiles)
	if err != nil {
		return fmt.Errorf("save release %s: %w", in.tag, err)
	}
	r.written(kindRelease, wr.Created)
	r.log.Info("release imported", "tag", saved.Tag, "data_files", len(saved.DataFileIDs), "created", wr.Created)
	return nil
}
