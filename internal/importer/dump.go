package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"instrumentdb/internal/blob"
)

// ReleaseDumpKey is the blob key of the JSON listing of release tag. Dots
// are percent-encoded when the plain key would contain "..", which blob
// drivers reject; tags never contain '%' so the keys stay distinct.
func ReleaseDumpKey(tag string) string {
	key := "releases/" + tag + ".json"
	if strings.Contains(key, "..") {
		key = "releases/" + strings.ReplaceAll(tag, ".", "%2E") + ".json"
	}
	return key
}

// DumpReleases writes the listing of every release to the blob store,
// replacing earlier dumps.
func (e *Engine) DumpReleases(ctx context.Context) error {
	if e.svc == nil || e.blobs == nil {
		return nil
	}
	releases, err := e.svc.ListReleases(ctx)
	if err != nil {
		return fmt.Errorf("list releases: %w", err)
	}
	for _, rel := range releases {
		contents, err := e.svc.ReleaseContents(ctx, rel.Tag)
		if err != nil {
			return fmt.Errorf("release %s: %w", rel.Tag, err)
		}
		payload, err := json.MarshalIndent(contents, "", "  ")
		if err != nil {
			return fmt.Errorf("encode release %s: %w", rel.Tag, err)
		}
		key := ReleaseDumpKey(rel.Tag)
		if _, err := e.blobs.Delete(ctx, key); err != nil {
			return fmt.Errorf("remove previous dump %s: %w", key, err)
		}
		if _, err := e.blobs.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{ContentType: "application/json"}); err != nil {
			return fmt.Errorf("write dump %s: %w", key, err)
		}
		e.log.Debug("release dump written", "tag", rel.Tag, "key", key, "data_files", len(contents.DataFiles))
	}
	return nil
}
