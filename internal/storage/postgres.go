package storage

import (
	"cachegate/internal/models"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS invalidations (
		id          TEXT PRIMARY KEY,
		request_id  TEXT NOT NULL,
		tags        TEXT[] NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		success     BOOLEAN NOT NULL,
		error       TEXT NOT NULL DEFAULT '',
		duration_ns BIGINT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invalidations_created_at ON invalidations (created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		key_hash    TEXT NOT NULL UNIQUE,
		prefix      TEXT NOT NULL,
		permissions TEXT[] NOT NULL,
		enabled     BOOLEAN NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
}

// PostgresStorage implements the Storage interface using a pgx connection pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects to PostgreSQL and creates the schema if needed.
func NewPostgresStorage(config Config) (*PostgresStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for PostgreSQL storage")
	}

	poolCfg, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if config.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(min(config.MaxIdleConns, int(poolCfg.MaxConns)))
	}
	if config.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = config.ConnMaxLifetime
	}

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, stmt := range postgresSchema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &PostgresStorage{pool: pool}, nil
}

// RecordInvalidation inserts an audit record.
func (ps *PostgresStorage) RecordInvalidation(ctx context.Context, rec *models.InvalidationRecord) error {
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := ps.pool.Exec(ctx,
		`INSERT INTO invalidations (id, request_id, tags, reason, success, error, duration_ns, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.RequestID, tags, rec.Reason, rec.Success, rec.Error,
		int64(rec.Duration), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record invalidation: %w", err)
	}
	return nil
}

// ListInvalidations returns the most recent records first.
func (ps *PostgresStorage) ListInvalidations(ctx context.Context, limit int) ([]*models.InvalidationRecord, error) {
	query := `SELECT id, request_id, tags, reason, success, error, duration_ns, created_at
		FROM invalidations ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := ps.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invalidations: %w", err)
	}
	defer rows.Close()

	out := []*models.InvalidationRecord{}
	for rows.Next() {
		var (
			rec      models.InvalidationRecord
			duration int64
		)
		if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.Tags, &rec.Reason, &rec.Success,
			&rec.Error, &duration, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan invalidation: %w", err)
		}
		rec.Duration = time.Duration(duration)
		rec.CreatedAt = rec.CreatedAt.UTC()
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// CreateAPIKey stores a new API key.
func (ps *PostgresStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := ps.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, prefix, permissions, enabled, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.Name, key.KeyHash, key.Prefix, nonNil(key.Permissions), key.Enabled,
		key.CreatedAt, key.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

const postgresAPIKeyColumns = `id, name, key_hash, prefix, permissions, enabled, created_at, updated_at`

func scanPostgresAPIKey(row pgx.Row) (*models.APIKey, error) {
	var key models.APIKey
	if err := row.Scan(&key.ID, &key.Name, &key.KeyHash, &key.Prefix, &key.Permissions,
		&key.Enabled, &key.CreatedAt, &key.UpdatedAt); err != nil {
		return nil, err
	}
	key.CreatedAt = key.CreatedAt.UTC()
	key.UpdatedAt = key.UpdatedAt.UTC()
	return &key, nil
}

// GetAPIKeyByHash returns ErrNotFound if no key matches.
func (ps *PostgresStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	row := ps.pool.QueryRow(ctx,
		`SELECT `+postgresAPIKeyColumns+` FROM api_keys WHERE key_hash = $1`, hash)
	key, err := scanPostgresAPIKey(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return key, nil
}

// ListAPIKeys returns every key ordered by creation time.
func (ps *PostgresStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := ps.pool.Query(ctx,
		`SELECT `+postgresAPIKeyColumns+` FROM api_keys ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	out := []*models.APIKey{}
	for rows.Next() {
		key, err := scanPostgresAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

// UpdateAPIKey returns ErrNotFound if the key does not exist.
func (ps *PostgresStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	tag, err := ps.pool.Exec(ctx,
		`UPDATE api_keys SET name = $2, key_hash = $3, prefix = $4, permissions = $5, enabled = $6, updated_at = $7
		 WHERE id = $1`,
		key.ID, key.Name, key.KeyHash, key.Prefix, nonNil(key.Permissions), key.Enabled, key.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAPIKey returns ErrNotFound if the key does not exist.
func (ps *PostgresStorage) DeleteAPIKey(ctx context.Context, id string) error {
	tag, err := ps.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks the pool can reach the server.
func (ps *PostgresStorage) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

// Close closes the connection pool.
func (ps *PostgresStorage) Close() error {
	ps.pool.Close()
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
