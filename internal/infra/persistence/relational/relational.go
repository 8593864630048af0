// Package relational maps catalog records onto the normalized SQL schema
// shared by the SQLite and Postgres stores.
package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"instrumentdb/internal/infra/persistence/memory"
	"instrumentdb/pkg/domain"
)

// Dialect captures the placeholder syntax of a SQL backend.
type Dialect struct {
	Name        string
	Placeholder func(position int) string
}

var (
	// SQLite binds positional parameters with '?'.
	SQLite = Dialect{Name: "sqlite", Placeholder: func(int) string { return "?" }}
	// Postgres binds numbered parameters with '$n'.
	Postgres = Dialect{Name: "postgres", Placeholder: func(i int) string { return "$" + strconv.Itoa(i) }}
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Queryer is satisfied by *sql.DB and *sql.Tx.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type table struct {
	name    string
	columns []string
}

var (
	formatSpecTable = table{"format_specifications", []string{"id", "document_ref", "title", "doc_file", "doc_mime_type", "file_mime_type", "created_at", "updated_at"}}
	entityTable     = table{"entities", []string{"id", "name", "parent_id", "created_at", "updated_at"}}
	quantityTable   = table{"quantities", []string{"id", "name", "entity_id", "format_spec_id", "created_at", "updated_at"}}
	dataFileTable   = table{"data_files", []string{"id", "name", "quantity_id", "upload_date", "metadata", "file_data", "plot_file", "plot_mime_type", "spec_version", "created_at", "updated_at"}}
	dependencyTable = table{"data_file_dependencies", []string{"data_file_id", "dependency_id"}}
	releaseTable    = table{"releases", []string{"tag", "release_date", "comment", "created_at", "updated_at"}}
	memberTable     = table{"release_data_files", []string{"release_tag", "data_file_id"}}
)

func (d Dialect) placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.Placeholder(i + 1)
	}
	return strings.Join(parts, ",")
}

// upsertSQL builds an INSERT that replaces the row keyed by the first column.
func (d Dialect) upsertSQL(t table) string {
	key := t.columns[0]
	sets := make([]string, 0, len(t.columns)-1)
	for _, col := range t.columns[1:] {
		sets = append(sets, col+"=excluded."+col)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		t.name, strings.Join(t.columns, ", "), d.placeholders(len(t.columns)), key, strings.Join(sets, ", "))
}

func (d Dialect) insertSQL(t table) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", t.name, strings.Join(t.columns, ", "), d.placeholders(len(t.columns)))
}

func (d Dialect) deleteSQL(t table) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = %s", t.name, t.columns[0], d.Placeholder(1))
}

func selectSQL(t table) string {
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(t.columns, ", "), t.name)
}

// Apply writes the changes recorded by a catalog transaction.
func Apply(ctx context.Context, exec Execer, d Dialect, changes []domain.Change) error {
	for _, change := range changes {
		if err := applyChange(ctx, exec, d, change); err != nil {
			return fmt.Errorf("%s %s: %w", change.Action, change.Entity, err)
		}
	}
	return nil
}

func applyChange(ctx context.Context, exec Execer, d Dialect, change domain.Change) error {
	switch after := change.After.(type) {
	case domain.FormatSpecification:
		doc, err := encodeAttachment(after.DocFile)
		if err != nil {
			return err
		}
		_, err = exec.ExecContext(ctx, d.upsertSQL(formatSpecTable),
			after.ID, after.DocumentRef, after.Title, doc, after.DocMimeType, after.FileMimeType,
			formatTime(after.CreatedAt), formatTime(after.UpdatedAt))
		return err
	case domain.Entity:
		_, err := exec.ExecContext(ctx, d.upsertSQL(entityTable),
			after.ID, after.Name, nullable(after.ParentID), formatTime(after.CreatedAt), formatTime(after.UpdatedAt))
		return err
	case domain.Quantity:
		_, err := exec.ExecContext(ctx, d.upsertSQL(quantityTable),
			after.ID, after.Name, after.EntityID, nullable(after.FormatSpecID), formatTime(after.CreatedAt), formatTime(after.UpdatedAt))
		return err
	case domain.DataFile:
		return applyDataFile(ctx, exec, d, after)
	case domain.Release:
		return applyRelease(ctx, exec, d, after)
	default:
		return fmt.Errorf("unsupported change payload %T", change.After)
	}
}

func applyDataFile(ctx context.Context, exec Execer, d Dialect, df domain.DataFile) error {
	fileData, err := encodeAttachment(df.FileData)
	if err != nil {
		return err
	}
	plot, err := encodeAttachment(df.PlotFile)
	if err != nil {
		return err
	}
	metadata := "{}"
	if len(df.Metadata) > 0 {
		metadata = string(df.Metadata)
	}
	if _, err := exec.ExecContext(ctx, d.upsertSQL(dataFileTable),
		df.ID, df.Name, df.QuantityID, formatTime(df.UploadDate), metadata, fileData, plot,
		df.PlotMimeType, df.SpecVersion, formatTime(df.CreatedAt), formatTime(df.UpdatedAt)); err != nil {
		return err
	}
	if _, err := exec.ExecContext(ctx, d.deleteSQL(dependencyTable), df.ID); err != nil {
		return err
	}
	for _, dep := range df.DependencyIDs {
		if _, err := exec.ExecContext(ctx, d.insertSQL(dependencyTable), df.ID, dep); err != nil {
			return err
		}
	}
	return nil
}

func applyRelease(ctx context.Context, exec Execer, d Dialect, r domain.Release) error {
	if _, err := exec.ExecContext(ctx, d.upsertSQL(releaseTable),
		r.Tag, formatTime(r.ReleaseDate), r.Comment, formatTime(r.CreatedAt), formatTime(r.UpdatedAt)); err != nil {
		return err
	}
	if _, err := exec.ExecContext(ctx, d.deleteSQL(memberTable), r.Tag); err != nil {
		return err
	}
	for _, id := range r.DataFileIDs {
		if _, err := exec.ExecContext(ctx, d.insertSQL(memberTable), r.Tag, id); err != nil {
			return err
		}
	}
	return nil
}

// Load reads every catalog table into a memory snapshot.
func Load(ctx context.Context, q Queryer) (memory.Snapshot, error) {
	snapshot := memory.Snapshot{
		FormatSpecifications: map[string]memory.FormatSpecification{},
		Entities:             map[string]memory.Entity{},
		Quantities:           map[string]memory.Quantity{},
		DataFiles:            map[string]memory.DataFile{},
		Releases:             map[string]memory.Release{},
	}

	err := scanTable(ctx, q, formatSpecTable, func(rows *sql.Rows) error {
		var (
			f                    domain.FormatSpecification
			doc, docMime, fMime  sql.NullString
			title                sql.NullString
			createdAt, updatedAt any
		)
		if err := rows.Scan(&f.ID, &f.DocumentRef, &title, &doc, &docMime, &fMime, &createdAt, &updatedAt); err != nil {
			return err
		}
		var err error
		if f.DocFile, err = decodeAttachment(doc); err != nil {
			return err
		}
		f.Title, f.DocMimeType, f.FileMimeType = title.String, docMime.String, fMime.String
		if f.CreatedAt, err = parseTime(createdAt); err != nil {
			return err
		}
		if f.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return err
		}
		snapshot.FormatSpecifications[f.ID] = f
		return nil
	})
	if err != nil {
		return memory.Snapshot{}, err
	}

	err = scanTable(ctx, q, entityTable, func(rows *sql.Rows) error {
		var (
			e                    domain.Entity
			parent               sql.NullString
			createdAt, updatedAt any
		)
		if err := rows.Scan(&e.ID, &e.Name, &parent, &createdAt, &updatedAt); err != nil {
			return err
		}
		e.ParentID = parent.String
		var err error
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return err
		}
		if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return err
		}
		snapshot.Entities[e.ID] = e
		return nil
	})
	if err != nil {
		return memory.Snapshot{}, err
	}

	err = scanTable(ctx, q, quantityTable, func(rows *sql.Rows) error {
		var (
			qty                  domain.Quantity
			spec                 sql.NullString
			createdAt, updatedAt any
		)
		if err := rows.Scan(&qty.ID, &qty.Name, &qty.EntityID, &spec, &createdAt, &updatedAt); err != nil {
			return err
		}
		qty.FormatSpecID = spec.String
		var err error
		if qty.CreatedAt, err = parseTime(createdAt); err != nil {
			return err
		}
		if qty.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return err
		}
		snapshot.Quantities[qty.ID] = qty
		return nil
	})
	if err != nil {
		return memory.Snapshot{}, err
	}

	err = scanTable(ctx, q, dataFileTable, func(rows *sql.Rows) error {
		var (
			df                               domain.DataFile
			metadata, fileData, plot         sql.NullString
			plotMime, specVersion            sql.NullString
			uploadDate, createdAt, updatedAt any
		)
		if err := rows.Scan(&df.ID, &df.Name, &df.QuantityID, &uploadDate, &metadata, &fileData, &plot, &plotMime, &specVersion, &createdAt, &updatedAt); err != nil {
			return err
		}
		var err error
		if df.FileData, err = decodeAttachment(fileData); err != nil {
			return err
		}
		if df.PlotFile, err = decodeAttachment(plot); err != nil {
			return err
		}
		if metadata.Valid && metadata.String != "" {
			df.Metadata = json.RawMessage(metadata.String)
		}
		df.PlotMimeType, df.SpecVersion = plotMime.String, specVersion.String
		if df.UploadDate, err = parseTime(uploadDate); err != nil {
			return err
		}
		if df.CreatedAt, err = parseTime(createdAt); err != nil {
			return err
		}
		if df.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return err
		}
		snapshot.DataFiles[df.ID] = df
		return nil
	})
	if err != nil {
		return memory.Snapshot{}, err
	}

	err = scanTable(ctx, q, dependencyTable, func(rows *sql.Rows) error {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return err
		}
		df, ok := snapshot.DataFiles[from]
		if !ok {
			return nil
		}
		df.DependencyIDs = append(df.DependencyIDs, to)
		snapshot.DataFiles[from] = df
		return nil
	})
	if err != nil {
		return memory.Snapshot{}, err
	}

	err = scanTable(ctx, q, releaseTable, func(rows *sql.Rows) error {
		var (
			r                                 domain.Release
			comment                           sql.NullString
			releaseDate, createdAt, updatedAt any
		)
		if err := rows.Scan(&r.Tag, &releaseDate, &comment, &createdAt, &updatedAt); err != nil {
			return err
		}
		r.Comment = comment.String
		var err error
		if r.ReleaseDate, err = parseTime(releaseDate); err != nil {
			return err
		}
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return err
		}
		if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return err
		}
		snapshot.Releases[r.Tag] = r
		return nil
	})
	if err != nil {
		return memory.Snapshot{}, err
	}

	err = scanTable(ctx, q, memberTable, func(rows *sql.Rows) error {
		var tag, id string
		if err := rows.Scan(&tag, &id); err != nil {
			return err
		}
		r, ok := snapshot.Releases[tag]
		if !ok {
			return nil
		}
		r.DataFileIDs = append(r.DataFileIDs, id)
		snapshot.Releases[tag] = r
		return nil
	})
	if err != nil {
		return memory.Snapshot{}, err
	}
	return snapshot, nil
}

func scanTable(ctx context.Context, q Queryer, t table, scan func(*sql.Rows) error) error {
	rows, err := q.QueryContext(ctx, selectSQL(t))
	if err != nil {
		return fmt.Errorf("select %s: %w", t.name, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return fmt.Errorf("scan %s: %w", t.name, err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", t.name, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func encodeAttachment(a *domain.Attachment) (any, error) {
	if a == nil {
		return nil, nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeAttachment(raw sql.NullString) (*domain.Attachment, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var a domain.Attachment
	if err := json.Unmarshal([]byte(raw.String), &a); err != nil {
		return nil, fmt.Errorf("decode attachment: %w", err)
	}
	return &a, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t.UTC(), nil
	case []byte:
		return parseTimeString(string(t))
	case string:
		return parseTimeString(t)
	default:
		return time.Time{}, fmt.Errorf("unsupported time value %T", v)
	}
}

func parseTimeString(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}
