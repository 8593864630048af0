package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"instrumentdb/internal/blob"
	"instrumentdb/pkg/domain"
)

// attachmentKind names the blob key prefix and the fallback directory next
// to the manifest for one kind of attached file.
type attachmentKind struct {
	prefix string
	dir    string
}

var (
	docAttachment  = attachmentKind{prefix: "format_specs", dir: "format_spec"}
	dataAttachment = attachmentKind{prefix: "data_files", dir: "data_files"}
	plotAttachment = attachmentKind{prefix: "plot_files", dir: "plot_files"}
)

const sniffLen = 512

// locate finds name in dir, then in the kind's subdirectory of dir.
func locate(dir string, kind attachmentKind, name string) (string, error) {
	candidates := []string{
		filepath.Join(dir, name),
		filepath.Join(dir, kind.dir, name),
	}
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", &FileNotFoundError{Name: name, Tried: candidates}
}

// staging tracks the blobs uploaded for one record so they can be discarded
// when the record's transaction fails.
type staging struct {
	engine *Engine
	dir    string
	fresh  []string
}

func (e *Engine) newStaging(dir string) *staging {
	return &staging{engine: e, dir: dir}
}

// stage locates the attachment and, unless the run is a dry run, uploads it
// under <prefix>/<record>/<digest>/<file name>. Identical content already
// stored for the record is reused. The located path is returned for progress
// output.
func (s *staging) stage(ctx context.Context, kind attachmentKind, recordID, name, declaredType string) (*domain.Attachment, string, error) {
	if name == "" {
		return nil, "", nil
	}
	located, err := locate(s.dir, kind, name)
	if err != nil {
		return nil, "", err
	}
	if s.engine.opts.DryRun {
		return nil, located, nil
	}
	f, err := os.Open(located)
	if err != nil {
		return nil, located, fmt.Errorf("open attachment: %w", err)
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, located, fmt.Errorf("read attachment %s: %w", located, err)
	}
	head = head[:n]
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, located, err
	}
	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return nil, located, fmt.Errorf("read attachment %s: %w", located, err)
	}
	checksum := hex.EncodeToString(h.Sum(nil))
	att := &domain.Attachment{
		Key:         path.Join(kind.prefix, recordID, checksum[:12], filepath.Base(name)),
		FileName:    filepath.Base(name),
		ContentType: s.engine.media.Resolve(declaredType, head),
		Size:        size,
		Checksum:    checksum,
	}
	if _, err := s.engine.blobs.Head(ctx, att.Key); err == nil {
		return att, located, nil
	} else if !errors.Is(err, blob.ErrNotFound) {
		return nil, located, fmt.Errorf("inspect blob %s: %w", att.Key, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, located, err
	}
	_, err = s.engine.blobs.Put(ctx, att.Key, f, blob.PutOptions{
		ContentType: att.ContentType,
		Metadata:    map[string]string{"file_name": att.FileName},
	})
	if err != nil {
		return nil, located, fmt.Errorf("upload %s: %w", att.Key, err)
	}
	s.fresh = append(s.fresh, att.Key)
	return att, located, nil
}

// discard removes the blobs uploaded by this staging.
func (s *staging) discard(ctx context.Context) {
	for _, key := range s.fresh {
		if _, err := s.engine.blobs.Delete(ctx, key); err != nil {
			s.engine.log.Warn("discard staged attachment", "key", key, "error", err)
		}
	}
	s.fresh = nil
}

// replaced deletes the blob of a previous attachment that a committed write
// no longer references.
func (e *Engine) replaced(ctx context.Context, previous, current *domain.Attachment) {
	if previous == nil || previous.Key == "" {
		return
	}
	if current != nil && current.Key == previous.Key {
		return
	}
	if _, err := e.blobs.Delete(ctx, previous.Key); err != nil {
		e.log.Warn("remove replaced attachment", "key", previous.Key, "error", err)
	}
}
