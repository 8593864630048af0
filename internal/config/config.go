// Package config resolves process configuration from INSTRUMENTDB_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"instrumentdb/internal/blob"
	"instrumentdb/internal/platform/logger"
)

// Environment variable names.
const (
	EnvStorageDriver = "INSTRUMENTDB_STORAGE_DRIVER"
	EnvSQLitePath    = "INSTRUMENTDB_SQLITE_PATH"
	EnvPostgresDSN   = "INSTRUMENTDB_POSTGRES_DSN"
	EnvBlobDriver    = "INSTRUMENTDB_BLOB_DRIVER"
	EnvStoragePath   = "INSTRUMENTDB_STORAGE_PATH"
	EnvS3Bucket      = "INSTRUMENTDB_BLOB_S3_BUCKET"
	EnvS3Region      = "INSTRUMENTDB_BLOB_S3_REGION"
	EnvS3Endpoint    = "INSTRUMENTDB_BLOB_S3_ENDPOINT"
	EnvS3PathStyle   = "INSTRUMENTDB_BLOB_S3_PATH_STYLE"
	EnvS3AccessKey   = "INSTRUMENTDB_BLOB_S3_ACCESS_KEY_ID"
	EnvS3SecretKey   = "INSTRUMENTDB_BLOB_S3_SECRET_ACCESS_KEY"
	EnvS3Session     = "INSTRUMENTDB_BLOB_S3_SESSION_TOKEN"
	EnvTimeZone      = "INSTRUMENTDB_TIME_ZONE"
	EnvLogMode       = "INSTRUMENTDB_LOG_MODE"
	EnvLogLevel      = "INSTRUMENTDB_LOG_LEVEL"
	EnvHTTPAddr      = "INSTRUMENTDB_HTTP_ADDR"
)

// Defaults applied when a variable is unset.
const (
	DefaultStorageDriver = "sqlite"
	DefaultSQLitePath    = "var/instrumentdb.sqlite3"
	DefaultPostgresDSN   = "postgres://localhost/instrumentdb?sslmode=disable"
	DefaultStoragePath   = "var"
	DefaultTimeZone      = "UTC"
	DefaultLogMode       = "dev"
	DefaultLogLevel      = "info"
	DefaultHTTPAddr      = ":8000"
)

// Storage selects the catalog backend.
type Storage struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
}

// Config is the resolved process configuration.
type Config struct {
	Storage  Storage
	Blob     blob.Config
	TimeZone *time.Location
	LogMode  string
	LogLevel string
	HTTPAddr string
}

// Load reads the process environment.
func Load() (Config, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom resolves the configuration through getenv.
func LoadFrom(getenv func(string) string) (Config, error) {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := Config{
		Storage: Storage{
			Driver:      strings.ToLower(get(EnvStorageDriver, DefaultStorageDriver)),
			SQLitePath:  get(EnvSQLitePath, DefaultSQLitePath),
			PostgresDSN: get(EnvPostgresDSN, DefaultPostgresDSN),
		},
		Blob: blob.Config{
			Driver: blob.Driver(strings.ToLower(get(EnvBlobDriver, string(blob.DriverFilesystem)))),
			Root:   get(EnvStoragePath, DefaultStoragePath),
			S3: blob.S3Config{
				Bucket:          get(EnvS3Bucket, ""),
				Region:          get(EnvS3Region, ""),
				Endpoint:        get(EnvS3Endpoint, ""),
				AccessKeyID:     get(EnvS3AccessKey, ""),
				SecretAccessKey: get(EnvS3SecretKey, ""),
				SessionToken:    get(EnvS3Session, ""),
			},
		},
		LogMode:  strings.ToLower(get(EnvLogMode, DefaultLogMode)),
		LogLevel: strings.ToLower(get(EnvLogLevel, DefaultLogLevel)),
		HTTPAddr: get(EnvHTTPAddr, DefaultHTTPAddr),
	}

	switch cfg.Storage.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return Config{}, fmt.Errorf("%s: unknown storage driver %q", EnvStorageDriver, cfg.Storage.Driver)
	}
	switch cfg.Blob.Driver {
	case blob.DriverFilesystem, blob.DriverS3, blob.DriverMemory:
	default:
		return Config{}, fmt.Errorf("%s: unknown blob driver %q", EnvBlobDriver, cfg.Blob.Driver)
	}
	if cfg.Blob.Driver == blob.DriverS3 && cfg.Blob.S3.Bucket == "" {
		return Config{}, fmt.Errorf("%s is required for the s3 blob driver", EnvS3Bucket)
	}
	if raw := get(EnvS3PathStyle, ""); raw != "" {
		pathStyle, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvS3PathStyle, err)
		}
		cfg.Blob.S3.PathStyle = pathStyle
	}

	tz := get(EnvTimeZone, DefaultTimeZone)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Config{}, fmt.Errorf("%s: unknown time zone %q", EnvTimeZone, tz)
	}
	cfg.TimeZone = loc

	if _, err := logger.ParseLevel(cfg.LogLevel); err != nil {
		return Config{}, fmt.Errorf("%s: %w", EnvLogLevel, err)
	}
	return cfg, nil
}

// NewLogger builds the process logger described by the configuration.
func (c Config) NewLogger() (*logger.Logger, error) {
	return logger.New(c.LogMode, c.LogLevel)
}
