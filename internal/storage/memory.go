package storage

import (
	"cachegate/internal/models"
	"context"
	"sync"
)

// MemoryStorage implements Storage using in-memory maps.
// Data is lost on restart. Useful for tests and single-instance development.
type MemoryStorage struct {
	mu            sync.RWMutex
	invalidations []*models.InvalidationRecord // oldest first
	apiKeys       map[string]*models.APIKey    // keyed by ID
	apiKeyHashes  map[string]string            // hash -> ID
}

// NewMemoryStorage creates a new memory-based storage instance
func NewMemoryStorage(config Config) (*MemoryStorage, error) {
	return &MemoryStorage{
		apiKeys:      make(map[string]*models.APIKey),
		apiKeyHashes: make(map[string]string),
	}, nil
}

// RecordInvalidation appends a purge attempt to the audit log.
func (m *MemoryStorage) RecordInvalidation(ctx context.Context, rec *models.InvalidationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidations = append(m.invalidations, copyRecord(rec))
	return nil
}

// ListInvalidations returns the most recent records first.
func (m *MemoryStorage) ListInvalidations(ctx context.Context, limit int) ([]*models.InvalidationRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.invalidations)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*models.InvalidationRecord, 0, n)
	for i := len(m.invalidations) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, copyRecord(m.invalidations[i]))
	}
	return out, nil
}

func copyRecord(rec *models.InvalidationRecord) *models.InvalidationRecord {
	c := *rec
	c.Tags = append([]string(nil), rec.Tags...)
	return &c
}

func copyKey(key *models.APIKey) *models.APIKey {
	c := *key
	c.Permissions = append([]string(nil), key.Permissions...)
	return &c
}

// CreateAPIKey stores a new API key in memory.
func (m *MemoryStorage) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiKeys[key.ID] = copyKey(key)
	m.apiKeyHashes[key.KeyHash] = key.ID
	return nil
}

// GetAPIKeyByHash retrieves an API key by its SHA-256 hash.
// Returns ErrNotFound if no matching key exists.
func (m *MemoryStorage) GetAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.apiKeyHashes[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return copyKey(m.apiKeys[id]), nil
}

// ListAPIKeys returns all API keys (both enabled and disabled).
func (m *MemoryStorage) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.APIKey, 0, len(m.apiKeys))
	for _, k := range m.apiKeys {
		out = append(out, copyKey(k))
	}
	return out, nil
}

// UpdateAPIKey replaces the mutable fields of an existing API key.
// Returns ErrNotFound if the key does not exist.
func (m *MemoryStorage) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.apiKeys[key.ID]
	if !ok {
		return ErrNotFound
	}
	if existing.KeyHash != key.KeyHash {
		delete(m.apiKeyHashes, existing.KeyHash)
		m.apiKeyHashes[key.KeyHash] = key.ID
	}
	m.apiKeys[key.ID] = copyKey(key)
	return nil
}

// DeleteAPIKey permanently removes an API key by ID.
// Returns ErrNotFound if the key does not exist.
func (m *MemoryStorage) DeleteAPIKey(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.apiKeyHashes, k.KeyHash)
	delete(m.apiKeys, id)
	return nil
}

// Ping always succeeds for memory storage.
func (m *MemoryStorage) Ping(ctx context.Context) error {
	return nil
}

// Close clears all data.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.invalidations = nil
	m.apiKeys = make(map[string]*models.APIKey)
	m.apiKeyHashes = make(map[string]string)

	return nil
}
