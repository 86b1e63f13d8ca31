package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/emontero/chatworker/internal/domain/model"
	"github.com/emontero/chatworker/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TranscriptStore = (*MessageRepo)(nil)

// MessageRepo is the SQLite implementation of the TranscriptStore port
// interface. The messages table is append-only.
type MessageRepo struct {
	db *DB
}

// NewMessageRepo creates a new MessageRepo backed by the given DB.
func NewMessageRepo(db *DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Append inserts a transcript entry.
func (r *MessageRepo) Append(ctx context.Context, entry model.TranscriptEntry) error {
	const query = `INSERT INTO messages (instance_id, sender, content, is_from_me, created_at) VALUES (?, ?, ?, ?, ?)`

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.Writer.ExecContext(ctx, query,
		entry.InstanceID,
		entry.CounterpartID,
		entry.Body,
		entry.Direction == model.DirectionOutbound,
		createdAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("append message for %s: %w", entry.InstanceID, err)
	}
	return nil
}

// Recent returns the newest limit entries for the (instance, counterpart)
// pair ordered oldest-first. Chronological ties resolve by insertion order
// via the rowid secondary sort.
func (r *MessageRepo) Recent(ctx context.Context, instanceID, counterpartID string, limit int) ([]model.TranscriptEntry, error) {
	const query = `
		SELECT id, instance_id, sender, content, is_from_me, created_at
		FROM messages
		WHERE instance_id = ? AND sender = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, instanceID, counterpartID, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent messages for %s/%s: %w", instanceID, counterpartID, err)
	}
	defer rows.Close()

	var entries []model.TranscriptEntry
	for rows.Next() {
		var entry model.TranscriptEntry
		var isFromMe bool
		var createdAt string

		if err := rows.Scan(&entry.ID, &entry.InstanceID, &entry.CounterpartID, &entry.Body, &isFromMe, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		entry.Direction = model.DirectionInbound
		if isFromMe {
			entry.Direction = model.DirectionOutbound
		}

		entry.CreatedAt, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// The query returns newest-first; history consumers need oldest-first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}

	return entries, nil
}
