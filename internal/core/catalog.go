package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"instrumentdb/pkg/domain"
)

// View runs fn against a consistent read-only snapshot of the catalog.
func (s *Service) View(ctx context.Context, fn func(TransactionView) error) error {
	return s.store.View(ctx, fn)
}

func (s *Service) read(ctx context.Context, op string, fn func(TransactionView) error) error {
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	err := s.store.View(ctx, fn)
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	span.End(err)
	return err
}

// Exists reports whether a record of the given type is stored under key
// (a UUID, or the tag for releases).
func (s *Service) Exists(ctx context.Context, entity EntityType, key string) (bool, error) {
	var found bool
	err := s.store.View(ctx, func(view TransactionView) error {
		switch entity {
		case EntityFormatSpecification:
			_, found = view.FindFormatSpecification(key)
		case EntityEntity:
			_, found = view.FindEntity(key)
		case EntityQuantity:
			_, found = view.FindQuantity(key)
		case EntityDataFile:
			_, found = view.FindDataFile(key)
		case EntityRelease:
			_, found = view.FindRelease(key)
		default:
			return fmt.Errorf("unknown record type %s", entity)
		}
		return nil
	})
	return found, err
}

// FindFormatSpecification resolves a UUID or a document reference.
func (s *Service) FindFormatSpecification(ctx context.Context, ref string) (FormatSpecification, error) {
	var spec FormatSpecification
	err := s.read(ctx, "find_format_specification", func(view TransactionView) error {
		var ok bool
		if spec, ok = findFormatSpecification(view, ref); !ok {
			return domain.NewNotFound(EntityFormatSpecification, ref)
		}
		return nil
	})
	return spec, err
}

// ListFormatSpecifications returns every format specification.
func (s *Service) ListFormatSpecifications(ctx context.Context) ([]FormatSpecification, error) {
	var out []FormatSpecification
	err := s.read(ctx, "list_format_specifications", func(view TransactionView) error {
		out = view.ListFormatSpecifications()
		return nil
	})
	return out, err
}

// GetFormatSpecification returns the format specification with the given UUID.
func (s *Service) GetFormatSpecification(ctx context.Context, id string) (FormatSpecification, error) {
	var spec FormatSpecification
	err := s.read(ctx, "get_format_specification", func(view TransactionView) error {
		var ok bool
		if spec, ok = view.FindFormatSpecification(id); !ok {
			return domain.NewNotFound(EntityFormatSpecification, id)
		}
		return nil
	})
	return spec, err
}

// ListEntities returns every entity.
func (s *Service) ListEntities(ctx context.Context) ([]Entity, error) {
	var out []Entity
	err := s.read(ctx, "list_entities", func(view TransactionView) error {
		out = view.ListEntities()
		return nil
	})
	return out, err
}

// GetEntity returns the entity with the given UUID.
func (s *Service) GetEntity(ctx context.Context, id string) (Entity, error) {
	var entity Entity
	err := s.read(ctx, "get_entity", func(view TransactionView) error {
		var ok bool
		if entity, ok = view.FindEntity(id); !ok {
			return domain.NewNotFound(EntityEntity, id)
		}
		return nil
	})
	return entity, err
}

// ListQuantities returns every quantity.
func (s *Service) ListQuantities(ctx context.Context) ([]Quantity, error) {
	var out []Quantity
	err := s.read(ctx, "list_quantities", func(view TransactionView) error {
		out = view.ListQuantities()
		return nil
	})
	return out, err
}

// GetQuantity returns the quantity with the given UUID.
func (s *Service) GetQuantity(ctx context.Context, id string) (Quantity, error) {
	var quantity Quantity
	err := s.read(ctx, "get_quantity", func(view TransactionView) error {
		var ok bool
		if quantity, ok = view.FindQuantity(id); !ok {
			return domain.NewNotFound(EntityQuantity, id)
		}
		return nil
	})
	return quantity, err
}

// ListDataFiles returns every data file.
func (s *Service) ListDataFiles(ctx context.Context) ([]DataFile, error) {
	var out []DataFile
	err := s.read(ctx, "list_data_files", func(view TransactionView) error {
		out = view.ListDataFiles()
		return nil
	})
	return out, err
}

// GetDataFile returns the data file with the given UUID.
func (s *Service) GetDataFile(ctx context.Context, id string) (DataFile, error) {
	var file DataFile
	err := s.read(ctx, "get_data_file", func(view TransactionView) error {
		var ok bool
		if file, ok = view.FindDataFile(id); !ok {
			return domain.NewNotFound(EntityDataFile, id)
		}
		return nil
	})
	return file, err
}

// DataFileDownload returns the data file together with the format
// specification of its quantity, if any.
func (s *Service) DataFileDownload(ctx context.Context, id string) (DataFile, *FormatSpecification, error) {
	var file DataFile
	var spec *FormatSpecification
	err := s.read(ctx, "get_data_file", func(view TransactionView) error {
		var ok bool
		if file, ok = view.FindDataFile(id); !ok {
			return domain.NewNotFound(EntityDataFile, id)
		}
		if q, ok := view.FindQuantity(file.QuantityID); ok && q.FormatSpecID != "" {
			if fs, ok := view.FindFormatSpecification(q.FormatSpecID); ok {
				spec = &fs
			}
		}
		return nil
	})
	return file, spec, err
}

// ListReleases returns every release, oldest first.
func (s *Service) ListReleases(ctx context.Context) ([]Release, error) {
	var out []Release
	err := s.read(ctx, "list_releases", func(view TransactionView) error {
		out = view.ListReleases()
		return nil
	})
	return out, err
}

// GetRelease returns the release with the given tag.
func (s *Service) GetRelease(ctx context.Context, tag string) (Release, error) {
	var rel Release
	err := s.read(ctx, "get_release", func(view TransactionView) error {
		var ok bool
		if rel, ok = view.FindRelease(tag); !ok {
			return domain.NewNotFound(EntityRelease, tag)
		}
		return nil
	})
	return rel, err
}

// ResolveReleasePath resolves "entity/.../quantity" within a release to a data file.
func (s *Service) ResolveReleasePath(ctx context.Context, tag, reference string) (DataFile, error) {
	var file DataFile
	err := s.read(ctx, "resolve_release_path", func(view TransactionView) error {
		var err error
		file, err = ResolveReleasePath(view, tag, reference)
		return err
	})
	return file, err
}

// ReleaseMetadata decodes the metadata of the data file a release path
// resolves to.
func (s *Service) ReleaseMetadata(ctx context.Context, tag, reference string) (DataFile, map[string]any, error) {
	file, err := s.ResolveReleasePath(ctx, tag, reference)
	if err != nil {
		return DataFile{}, nil, err
	}
	meta, err := file.MetadataMap()
	if err != nil {
		return DataFile{}, nil, fmt.Errorf("data file %s: decode metadata: %w", file.ID, err)
	}
	return file, meta, nil
}

// ReleaseEntry describes one data file of a release listing.
type ReleaseEntry struct {
	UUID        string    `json:"uuid"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Quantity    string    `json:"quantity"`
	UploadDate  time.Time `json:"upload_date"`
	SpecVersion string    `json:"spec_version,omitempty"`
}

// ReleaseContents lists a release with the release path of every data file.
type ReleaseContents struct {
	Tag         string         `json:"tag"`
	ReleaseDate time.Time      `json:"release_date"`
	Comment     string         `json:"comment,omitempty"`
	DataFiles   []ReleaseEntry `json:"data_files"`
}

// ReleaseContents builds the listing of the release tagged tag. Entries are
// ordered by path.
func (s *Service) ReleaseContents(ctx context.Context, tag string) (ReleaseContents, error) {
	var out ReleaseContents
	err := s.read(ctx, "release_contents", func(view TransactionView) error {
		rel, ok := view.FindRelease(tag)
		if !ok {
			return domain.NewNotFound(EntityRelease, tag)
		}
		out = ReleaseContents{Tag: rel.Tag, ReleaseDate: rel.ReleaseDate, Comment: rel.Comment, DataFiles: []ReleaseEntry{}}
		for _, id := range rel.DataFileIDs {
			file, ok := view.FindDataFile(id)
			if !ok {
				return domain.NewNotFound(EntityDataFile, id)
			}
			path, err := QuantityPath(view, file.QuantityID)
			if err != nil {
				return err
			}
			out.DataFiles = append(out.DataFiles, ReleaseEntry{
				UUID:        file.ID,
				Name:        file.Name,
				Path:        path,
				Quantity:    file.QuantityID,
				UploadDate:  file.UploadDate,
				SpecVersion: file.SpecVersion,
			})
		}
		sortReleaseEntries(out.DataFiles)
		return nil
	})
	return out, err
}

func sortReleaseEntries(entries []ReleaseEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Path != entries[j].Path {
			return entries[i].Path < entries[j].Path
		}
		return entries[i].UUID < entries[j].UUID
	})
}
