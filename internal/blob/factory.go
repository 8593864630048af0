package blob

import (
	"context"
	"fmt"
)

// Config selects and parameterizes the attachment store.
type Config struct {
	Driver Driver
	// Root is the storage path for the filesystem driver.
	Root string
	S3   S3Config
}

// Open constructs the blob.Store selected by cfg.Driver (default fs).
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.Root)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
