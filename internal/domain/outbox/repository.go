package outbox

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Insert stages a new outbox entry
	Insert(ctx context.Context, entry *Entry) error

	// GetPending returns pending entries, oldest first, up to limit
	GetPending(ctx context.Context, limit int) ([]*Entry, error)

	// MarkPublished marks an entry as relayed
	MarkPublished(ctx context.Context, id uuid.UUID) error

	// MarkFailed records a failed relay attempt; the entry moves to failed
	// once its attempts are exhausted
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}
