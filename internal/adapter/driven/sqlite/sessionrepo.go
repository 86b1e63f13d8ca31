package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/emontero/chatworker/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SessionStore = (*SessionRepo)(nil)

// SessionRepo is the SQLite implementation of the SessionStore port interface.
// Rows hold the already-encoded credential payloads; the codec and caching
// live above this layer in the authstore.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a new SessionRepo backed by the given DB.
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// Get retrieves the payload for (instanceID, keyID). found is false when no
// row exists. A row whose data column is NULL is found with a nil payload;
// the two cases are deliberately distinguishable.
func (r *SessionRepo) Get(ctx context.Context, instanceID, keyID string) (json.RawMessage, bool, error) {
	const query = `SELECT data FROM sessions WHERE session_id = ? AND key_id = ?`

	var data sql.NullString
	err := r.db.Reader.QueryRowContext(ctx, query, instanceID, keyID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get session record %s/%s: %w", instanceID, keyID, err)
	}

	if !data.Valid {
		return nil, true, nil
	}
	return json.RawMessage(data.String), true, nil
}

// Put inserts or replaces the payload for (instanceID, keyID).
func (r *SessionRepo) Put(ctx context.Context, instanceID, keyID string, data json.RawMessage) error {
	const query = `INSERT OR REPLACE INTO sessions (session_id, key_id, data, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)`

	_, err := r.db.Writer.ExecContext(ctx, query, instanceID, keyID, string(data))
	if err != nil {
		return fmt.Errorf("put session record %s/%s: %w", instanceID, keyID, err)
	}
	return nil
}

// Delete removes the row for (instanceID, keyID). Missing rows are a no-op.
func (r *SessionRepo) Delete(ctx context.Context, instanceID, keyID string) error {
	const query = `DELETE FROM sessions WHERE session_id = ? AND key_id = ?`

	_, err := r.db.Writer.ExecContext(ctx, query, instanceID, keyID)
	if err != nil {
		return fmt.Errorf("delete session record %s/%s: %w", instanceID, keyID, err)
	}
	return nil
}

// DeleteAll removes every credential record for the instance.
func (r *SessionRepo) DeleteAll(ctx context.Context, instanceID string) error {
	const query = `DELETE FROM sessions WHERE session_id = ?`

	_, err := r.db.Writer.ExecContext(ctx, query, instanceID)
	if err != nil {
		return fmt.Errorf("delete session records for %s: %w", instanceID, err)
	}
	return nil
}
