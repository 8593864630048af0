package core

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"instrumentdb/pkg/domain"
)

func TestResolveReleasePathRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(nil)
	fx := seedCatalog(t, svc)
	if _, _, err := svc.SaveRelease(ctx, Release{Tag: "v2", ReleaseDate: testDate}, nil); err != nil {
		t.Fatalf("save v2: %v", err)
	}

	got, err := svc.ResolveReleasePath(ctx, "v1", "Sat/Payload/Channel/Mass")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != fx.file.ID {
		t.Fatalf("expected %s, got %s", fx.file.ID, got.ID)
	}
	if _, err := svc.ResolveReleasePath(ctx, "v2", "Sat/Payload/Channel/Mass"); !isNotFound(err) {
		t.Fatalf("expected not found for release without the file, got %v", err)
	}
}

func TestResolveReleasePathMisses(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(nil)
	seedCatalog(t, svc)

	cases := map[string]struct {
		tag, ref string
		scope    string
	}{
		"unknown release":    {tag: "v9", ref: "Sat/Payload/Channel/Mass"},
		"single segment":     {tag: "v1", ref: "Mass"},
		"empty segment":      {tag: "v1", ref: "Sat//Channel/Mass"},
		"trailing slash":     {tag: "v1", ref: "Sat/Payload/Channel/Mass/"},
		"unknown root":       {tag: "v1", ref: "Moon/Payload/Channel/Mass", scope: "root entities"},
		"child is not root":  {tag: "v1", ref: "Payload/Channel/Mass", scope: "root entities"},
		"unknown child":      {tag: "v1", ref: "Sat/Bus/Channel/Mass", scope: "children of Sat"},
		"case sensitive":     {tag: "v1", ref: "sat/Payload/Channel/Mass"},
		"unknown quantity":   {tag: "v1", ref: "Sat/Payload/Channel/Volume", scope: "quantities of Channel"},
		"quantity on parent": {tag: "v1", ref: "Sat/Payload/Mass", scope: "quantities of Payload"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ResolveReleasePath(ctx, tc.tag, tc.ref)
			if !isNotFound(err) {
				t.Fatalf("expected not found, got %v", err)
			}
			if tc.scope != "" && !strings.Contains(err.Error(), tc.scope) {
				t.Fatalf("expected scope %q in %v", tc.scope, err)
			}
		})
	}
}

func TestResolveReleasePathAmbiguous(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(nil)
	fx := seedCatalog(t, svc)
	second, _, err := svc.SaveDataFile(ctx, DataFile{Name: "mass_v2", QuantityID: fx.mass.ID, UploadDate: testDate}, nil)
	if err != nil {
		t.Fatalf("save second: %v", err)
	}
	wr := WriteResult{}
	if _, wr, err = svc.SaveRelease(ctx, Release{Tag: "v1", ReleaseDate: testDate}, []string{second.ID}); err != nil {
		t.Fatalf("extend release: %v", err)
	}
	if len(wr.Violations) != 1 || wr.Violations[0].Rule != "release_uniqueness" {
		t.Fatalf("expected release uniqueness warning, got %+v", wr.Violations)
	}
	if _, err := svc.ResolveReleasePath(ctx, "v1", "Sat/Payload/Channel/Mass"); !errors.Is(err, domain.ErrAmbiguous) {
		t.Fatalf("expected ambiguous, got %v", err)
	}
}

func TestEntityAndQuantityPaths(t *testing.T) {
	svc := NewInMemoryService(nil)
	fx := seedCatalog(t, svc)
	err := svc.View(context.Background(), func(view TransactionView) error {
		names, err := EntityPath(view, fx.channel.ID)
		if err != nil || strings.Join(names, "/") != "Sat/Payload/Channel" {
			t.Fatalf("entity path = %v, %v", names, err)
		}
		path, err := QuantityPath(view, fx.mass.ID)
		if err != nil || path != "Sat/Payload/Channel/Mass" {
			t.Fatalf("quantity path = %q, %v", path, err)
		}
		if _, err := QuantityPath(view, "missing"); !isNotFound(err) {
			t.Fatalf("expected not found, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestReleaseMetadataAndContents(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(nil)
	fx := seedCatalog(t, svc)

	file, meta, err := svc.ReleaseMetadata(ctx, "v1", "Sat/Payload/Channel/Mass")
	if err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if file.ID != fx.file.ID || meta["kg"] != json.Number("12.5") {
		t.Fatalf("unexpected metadata %v for %s", meta, file.ID)
	}

	contents, err := svc.ReleaseContents(ctx, "v1")
	if err != nil {
		t.Fatalf("contents: %v", err)
	}
	if len(contents.DataFiles) != 1 {
		t.Fatalf("expected one entry, got %+v", contents)
	}
	entry := contents.DataFiles[0]
	if entry.UUID != fx.file.ID || entry.Path != "Sat/Payload/Channel/Mass" || entry.Name != "mass_v1" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if _, err := svc.ReleaseContents(ctx, "nope"); !isNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
