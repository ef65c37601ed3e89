package models

import (
	"time"

	"github.com/google/uuid"
)

// InvalidationRecord is the audit entry written for every CDN purge attempt.
// Purges are never retried, so a record with Success=false is final.
type InvalidationRecord struct {
	ID        string        `json:"id"`
	RequestID string        `json:"request_id"`
	Tags      []string      `json:"tags"`
	Reason    string        `json:"reason,omitempty"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewInvalidationRecord builds a record for a completed purge attempt.
// A nil purgeErr marks the purge successful.
func NewInvalidationRecord(requestID string, tags []string, reason string, purgeErr error, took time.Duration) *InvalidationRecord {
	rec := &InvalidationRecord{
		ID:        uuid.New().String(),
		RequestID: requestID,
		Tags:      append([]string(nil), tags...),
		Reason:    reason,
		Success:   purgeErr == nil,
		Duration:  took,
		CreatedAt: time.Now().UTC(),
	}
	if purgeErr != nil {
		rec.Error = purgeErr.Error()
	}
	return rec
}

// NewRequestID returns a new identifier for an accepted invalidation request.
func NewRequestID() string {
	return uuid.New().String()
}
