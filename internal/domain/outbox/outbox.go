package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Entry is an event staged in the outbox table until the worker relays it.
type Entry struct {
	ID          uuid.UUID
	Topic       string
	Key         string
	Payload     []byte
	Status      Status
	Attempts    int
	MaxAttempts int
	LastError   string
	CreatedAt   time.Time
	PublishedAt *time.Time
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

const DefaultMaxAttempts = 5

// NewEntry stages payload under topic. key is the partition/ordering key,
// normally the payment id.
func NewEntry(topic, key string, payload []byte) *Entry {
	return &Entry{
		ID:          uuid.New(),
		Topic:       topic,
		Key:         key,
		Payload:     payload,
		Status:      StatusPending,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   time.Now(),
	}
}

// Exhausted reports whether the entry has used up its relay attempts.
func (e *Entry) Exhausted() bool {
	return e.Attempts >= e.MaxAttempts
}
