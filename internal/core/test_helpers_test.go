package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"instrumentdb/pkg/domain"
)

var testDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type captureLogger struct {
	warnings []string
	debugs   []string
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.debugs = append(c.debugs, msg) }
func (c *captureLogger) Info(string, ...any)        {}
func (c *captureLogger) Warn(msg string, _ ...any)  { c.warnings = append(c.warnings, msg) }
func (c *captureLogger) Error(string, ...any)       {}

// catalogFixture is the hierarchy Sat/Payload/Channel with quantity Mass on
// Channel and one data file released as v1.
type catalogFixture struct {
	sat, payload, channel Entity
	mass                  Quantity
	file                  DataFile
	release               Release
}

func seedCatalog(t *testing.T, svc *Service) catalogFixture {
	t.Helper()
	ctx := context.Background()
	var fx catalogFixture
	var err error
	if fx.sat, _, err = svc.SaveEntity(ctx, Entity{Name: "Sat"}); err != nil {
		t.Fatalf("save sat: %v", err)
	}
	if fx.payload, _, err = svc.SaveEntity(ctx, Entity{Name: "Payload", ParentID: fx.sat.ID}); err != nil {
		t.Fatalf("save payload: %v", err)
	}
	if fx.channel, _, err = svc.SaveEntity(ctx, Entity{Name: "Channel", ParentID: fx.payload.ID}); err != nil {
		t.Fatalf("save channel: %v", err)
	}
	if fx.mass, _, err = svc.SaveQuantity(ctx, Quantity{Name: "Mass", EntityID: fx.channel.ID}); err != nil {
		t.Fatalf("save quantity: %v", err)
	}
	if fx.file, _, err = svc.SaveDataFile(ctx, DataFile{Name: "mass_v1", QuantityID: fx.mass.ID, UploadDate: testDate, Metadata: []byte(`{"kg": 12.5}`)}, nil); err != nil {
		t.Fatalf("save data file: %v", err)
	}
	if fx.release, _, err = svc.SaveRelease(ctx, Release{Tag: "v1", ReleaseDate: testDate}, []string{fx.file.ID}); err != nil {
		t.Fatalf("save release: %v", err)
	}
	return fx
}

func isNotFound(err error) bool { return errors.Is(err, domain.ErrNotFound) }
