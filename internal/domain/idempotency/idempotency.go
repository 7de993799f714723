// Package idempotency stores responses of mutating requests so a retried
// request with the same Idempotency-Key replays the first answer.
package idempotency

import (
	"context"
	"time"
)

// DefaultTTL is how long a recorded response can be replayed.
const DefaultTTL = 24 * time.Hour

type Record struct {
	Key            string
	ResponseBody   string
	ResponseStatus int
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// NewRecord records a response that expires ttl from now.
func NewRecord(key string, status int, body string, ttl time.Duration) *Record {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	return &Record{
		Key:            key,
		ResponseBody:   body,
		ResponseStatus: status,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
}

// Expired reports whether r can no longer be replayed at now.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

type Store interface {
	// Get returns the live record for key, or nil when there is none.
	Get(ctx context.Context, key string) (*Record, error)
	// Set stores rec, replacing any previous record for its key.
	Set(ctx context.Context, rec *Record) error
}
