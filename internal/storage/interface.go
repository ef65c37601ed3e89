package storage

import (
	"cachegate/internal/models"
	"context"
	"time"
)

// Storage persists the invalidation audit log and API keys. Implementations
// must be safe for concurrent use and must return copies, never shared pointers.
type Storage interface {
	InvalidationLog

	// ListInvalidations returns at most limit records, newest first.
	// A non-positive limit returns every record.
	ListInvalidations(ctx context.Context, limit int) ([]*models.InvalidationRecord, error)

	// CreateAPIKey stores a new API key.
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	// GetAPIKeyByHash returns ErrNotFound if no key has the given hash.
	GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error)

	// ListAPIKeys returns enabled and disabled keys.
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)

	// UpdateAPIKey returns ErrNotFound if the key does not exist.
	UpdateAPIKey(ctx context.Context, key *models.APIKey) error

	// DeleteAPIKey returns ErrNotFound if the key does not exist.
	DeleteAPIKey(ctx context.Context, id string) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// InvalidationLog is the write side of the audit log, used by the invalidator.
type InvalidationLog interface {
	RecordInvalidation(ctx context.Context, rec *models.InvalidationRecord) error
}

// Config holds configuration for storage backends
type Config struct {
	// Type specifies the storage backend type (memory, sqlite, postgres)
	Type string `json:"type" yaml:"type"`

	// ConnectionString is used for database backends
	ConnectionString string `json:"connection_string,omitempty" yaml:"connection_string,omitempty"`

	MaxOpenConns    int           `json:"max_open_conns,omitempty" yaml:"max_open_conns,omitempty"`
	MaxIdleConns    int           `json:"max_idle_conns,omitempty" yaml:"max_idle_conns,omitempty"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime,omitempty" yaml:"conn_max_lifetime,omitempty"`
}
