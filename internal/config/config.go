// Package config loads the composer server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Storage backends
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config validation errors
var (
	// ErrMissingPDSURL is returned when no PDS host is configured
	ErrMissingPDSURL = errors.New("PDS_URL is required")
	// ErrMissingCredentials is returned when neither password nor token auth is configured
	ErrMissingCredentials = errors.New("PDS_HANDLE and PDS_PASSWORD, or PDS_DID and PDS_ACCESS_TOKEN, are required")
	// ErrMissingDatabaseURL is returned when the postgres store is selected without a DSN
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required for postgres storage")
	// ErrInvalidStorage is returned for an unknown storage backend
	ErrInvalidStorage = errors.New("COURIER_STORAGE must be postgres or memory")
	// ErrInvalidUploadConcurrency is returned when UploadConcurrency is not positive
	ErrInvalidUploadConcurrency = errors.New("UploadConcurrency must be positive")
	// ErrInvalidWriteTimeout is returned when WriteTimeout is not positive
	ErrInvalidWriteTimeout = errors.New("WriteTimeout must be positive")
	// ErrInvalidMaxMessageGraphemes is returned when MaxMessageGraphemes is not positive
	ErrInvalidMaxMessageGraphemes = errors.New("MaxMessageGraphemes must be positive")
)

// Config holds the configuration for the composer server.
type Config struct {
	// Storage selects the post store backend: "postgres" or "memory".
	Storage string

	// DatabaseURL is the PostgreSQL DSN used when Storage is "postgres".
	DatabaseURL string

	// PDSURL is the author's PDS host (e.g., "https://pds.example.com").
	PDSURL string

	// PDSHandle and PDSPassword authenticate through createSession.
	PDSHandle   string
	PDSPassword string

	// PDSDID and PDSAccessToken reuse an existing session instead.
	PDSDID         string
	PDSAccessToken string

	// JetstreamURL is the subscribe endpoint of the event feed. Empty disables the feed.
	JetstreamURL string

	// Port is the HTTP listen port.
	Port string

	// UploadConcurrency bounds simultaneous attachment uploads per composer session.
	UploadConcurrency int

	// WriteTimeout bounds each record write against the PDS.
	WriteTimeout time.Duration

	// MaxMessageGraphemes is the message length limit in user-perceived characters.
	MaxMessageGraphemes int
}

// UsesAccessToken reports whether the config carries a reusable session
func (c Config) UsesAccessToken() bool {
	return c.PDSDID != "" && c.PDSAccessToken != ""
}

// Validate checks the configuration for missing or invalid values.
func (c Config) Validate() error {
	if c.PDSURL == "" {
		return ErrMissingPDSURL
	}
	if !c.UsesAccessToken() && (c.PDSHandle == "" || c.PDSPassword == "") {
		return ErrMissingCredentials
	}

	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return ErrMissingDatabaseURL
		}
	case StorageMemory:
	default:
		return fmt.Errorf("%w: got %q", ErrInvalidStorage, c.Storage)
	}

	if c.UploadConcurrency <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidUploadConcurrency, c.UploadConcurrency)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidWriteTimeout, c.WriteTimeout)
	}
	if c.MaxMessageGraphemes <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxMessageGraphemes, c.MaxMessageGraphemes)
	}
	return nil
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Storage:             StoragePostgres,
		Port:                "8080",
		UploadConcurrency:   4,
		WriteTimeout:        30 * time.Second,
		MaxMessageGraphemes: 16383,
	}
}

// FromEnv creates a Config from environment variables.
// Uses defaults for any missing environment variables; call Validate before use.
//
// Environment variables:
//   - COURIER_STORAGE: "postgres" or "memory" (default: postgres)
//   - DATABASE_URL: PostgreSQL DSN
//   - PDS_URL: author's PDS host
//   - PDS_HANDLE / PDS_PASSWORD: password authentication
//   - PDS_DID / PDS_ACCESS_TOKEN: bearer token authentication, preferred when both are set
//   - JETSTREAM_URL: Jetstream subscribe endpoint (default: "" to disable the feed)
//   - COMPOSER_PORT: HTTP listen port (default: 8080)
//   - UPLOAD_CONCURRENCY: concurrent uploads per composer session (default: 4)
//   - WRITE_TIMEOUT_SECONDS: PDS write timeout in seconds (default: 30)
//   - MAX_MESSAGE_GRAPHEMES: message length limit (default: 16383)
func FromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("COURIER_STORAGE"); v != "" {
		cfg.Storage = v
	}
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.PDSURL = os.Getenv("PDS_URL")
	cfg.PDSHandle = os.Getenv("PDS_HANDLE")
	cfg.PDSPassword = os.Getenv("PDS_PASSWORD")
	cfg.PDSDID = os.Getenv("PDS_DID")
	cfg.PDSAccessToken = os.Getenv("PDS_ACCESS_TOKEN")
	cfg.JetstreamURL = os.Getenv("JETSTREAM_URL")

	if v := os.Getenv("COMPOSER_PORT"); v != "" {
		cfg.Port = v
	}

	if v := os.Getenv("UPLOAD_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.UploadConcurrency = n
		} else {
			slog.Warn("[CONFIG] invalid UPLOAD_CONCURRENCY value, using default",
				"value", v,
				"default", cfg.UploadConcurrency,
				"error", err,
			)
		}
	}

	if v := os.Getenv("WRITE_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.WriteTimeout = time.Duration(n) * time.Second
		} else {
			slog.Warn("[CONFIG] invalid WRITE_TIMEOUT_SECONDS value, using default",
				"value", v,
				"default_seconds", int(cfg.WriteTimeout.Seconds()),
				"error", err,
			)
		}
	}

	if v := os.Getenv("MAX_MESSAGE_GRAPHEMES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxMessageGraphemes = n
		} else {
			slog.Warn("[CONFIG] invalid MAX_MESSAGE_GRAPHEMES value, using default",
				"value", v,
				"default", cfg.MaxMessageGraphemes,
				"error", err,
			)
		}
	}

	return cfg
}
