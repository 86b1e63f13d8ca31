package driven

import (
	"context"

	"github.com/emontero/chatworker/internal/domain/model"
)

// TranscriptStore defines the driven port for the append-only message log.
type TranscriptStore interface {
	// Append inserts a transcript entry. Entries are never mutated after insert.
	Append(ctx context.Context, entry model.TranscriptEntry) error

	// Recent returns the newest limit entries for (instanceID, counterpartID)
	// ordered oldest-first, ties broken by insertion order. Fewer entries than
	// limit is not an error.
	Recent(ctx context.Context, instanceID, counterpartID string, limit int) ([]model.TranscriptEntry, error)
}
