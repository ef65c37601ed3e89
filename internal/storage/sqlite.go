package storage

import (
	"cachegate/internal/models"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS invalidations (
		id          TEXT PRIMARY KEY,
		request_id  TEXT NOT NULL,
		tags        TEXT NOT NULL,
		reason      TEXT NOT NULL DEFAULT '',
		success     INTEGER NOT NULL,
		error       TEXT NOT NULL DEFAULT '',
		duration_ns INTEGER NOT NULL,
		created_at  TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_invalidations_created_at ON invalidations (created_at)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		key_hash    TEXT NOT NULL UNIQUE,
		prefix      TEXT NOT NULL,
		permissions TEXT NOT NULL,
		enabled     INTEGER NOT NULL,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`,
}

// SQLiteStorage keeps the audit log and API keys in a single SQLite file.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens the database and creates the schema if needed.
func NewSQLiteStorage(config Config) (*SQLiteStorage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required for SQLite storage")
	}

	db, err := sql.Open("sqlite", config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &SQLiteStorage{db: db}, nil
}

// RecordInvalidation inserts an audit record.
func (ss *SQLiteStorage) RecordInvalidation(ctx context.Context, rec *models.InvalidationRecord) error {
	tags, err := marshalStrings(rec.Tags)
	if err != nil {
		return err
	}
	_, err = ss.db.ExecContext(ctx,
		`INSERT INTO invalidations (id, request_id, tags, reason, success, error, duration_ns, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RequestID, tags, rec.Reason, rec.Success, rec.Error,
		int64(rec.Duration), formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record invalidation: %w", err)
	}
	return nil
}

// ListInvalidations returns the most recent records first.
func (ss *SQLiteStorage) ListInvalidations(ctx context.Context, limit int) ([]*models.InvalidationRecord, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	rows, err := ss.db.QueryContext(ctx,
		`SELECT id, request_id, tags, reason, success, error, duration_ns, created_at
		 FROM invalidations ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list invalidations: %w", err)
	}
	defer rows.Close()

	out := []*models.InvalidationRecord{}
	for rows.Next() {
		var (
			rec       models.InvalidationRecord
			tags      string
			duration  int64
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.RequestID, &tags, &rec.Reason, &rec.Success,
			&rec.Error, &duration, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan invalidation: %w", err)
		}
		if rec.Tags, err = unmarshalStrings(tags); err != nil {
			return nil, err
		}
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		rec.Duration = time.Duration(duration)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// CreateAPIKey stores a new API key.
func (ss *SQLiteStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	perms, err := marshalStrings(key.Permissions)
	if err != nil {
		return err
	}
	_, err = ss.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, key_hash, prefix, permissions, enabled, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.Name, key.KeyHash, key.Prefix, perms, key.Enabled,
		formatTime(key.CreatedAt), formatTime(key.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

const sqliteAPIKeyColumns = `id, name, key_hash, prefix, permissions, enabled, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteAPIKey(row rowScanner) (*models.APIKey, error) {
	var (
		key                  models.APIKey
		perms                string
		createdAt, updatedAt string
	)
	if err := row.Scan(&key.ID, &key.Name, &key.KeyHash, &key.Prefix, &perms,
		&key.Enabled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if key.Permissions, err = unmarshalStrings(perms); err != nil {
		return nil, err
	}
	if key.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if key.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &key, nil
}

// GetAPIKeyByHash returns ErrNotFound if no key matches.
func (ss *SQLiteStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	row := ss.db.QueryRowContext(ctx,
		`SELECT `+sqliteAPIKeyColumns+` FROM api_keys WHERE key_hash = ?`, hash)
	key, err := scanSQLiteAPIKey(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return key, nil
}

// ListAPIKeys returns every key ordered by creation time.
func (ss *SQLiteStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := ss.db.QueryContext(ctx,
		`SELECT `+sqliteAPIKeyColumns+` FROM api_keys ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	out := []*models.APIKey{}
	for rows.Next() {
		key, err := scanSQLiteAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

// UpdateAPIKey returns ErrNotFound if the key does not exist.
func (ss *SQLiteStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	perms, err := marshalStrings(key.Permissions)
	if err != nil {
		return err
	}
	res, err := ss.db.ExecContext(ctx,
		`UPDATE api_keys SET name = ?, key_hash = ?, prefix = ?, permissions = ?, enabled = ?, updated_at = ?
		 WHERE id = ?`,
		key.Name, key.KeyHash, key.Prefix, perms, key.Enabled, formatTime(key.UpdatedAt), key.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update api key: %w", err)
	}
	return requireAffected(res)
}

// DeleteAPIKey returns ErrNotFound if the key does not exist.
func (ss *SQLiteStorage) DeleteAPIKey(ctx context.Context, id string) error {
	res, err := ss.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks the database connection.
func (ss *SQLiteStorage) Ping(ctx context.Context) error {
	return ss.db.PingContext(ctx)
}

// Close closes the database connection
func (ss *SQLiteStorage) Close() error {
	if ss.db != nil {
		return ss.db.Close()
	}
	return nil
}
