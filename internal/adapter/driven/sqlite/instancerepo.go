package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/emontero/chatworker/internal/domain/model"
	"github.com/emontero/chatworker/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.InstanceStore = (*InstanceRepo)(nil)

// InstanceRepo is the SQLite implementation of the InstanceStore port
// interface. Instance rows are provisioned by the control plane; this process
// reads response configuration and publishes lifecycle status into them.
type InstanceRepo struct {
	db *DB
}

// NewInstanceRepo creates a new InstanceRepo backed by the given DB.
func NewInstanceRepo(db *DB) *InstanceRepo {
	return &InstanceRepo{db: db}
}

// Get retrieves an instance by id. Returns (nil, nil) if no row exists.
func (r *InstanceRepo) Get(ctx context.Context, id string) (*model.Instance, error) {
	const query = `SELECT id, status, qr_code, system_prompt, webhook_url FROM instances WHERE id = ?`

	var inst model.Instance
	var status string
	var pendingCode, systemPrompt, webhookURL sql.NullString

	err := r.db.Reader.QueryRowContext(ctx, query, id).
		Scan(&inst.ID, &status, &pendingCode, &systemPrompt, &webhookURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get instance %q: %w", id, err)
	}

	inst.Status = model.InstanceStatus(status)
	if pendingCode.Valid {
		inst.PendingCode = &pendingCode.String
	}
	if systemPrompt.Valid {
		inst.SystemPrompt = &systemPrompt.String
	}
	if webhookURL.Valid {
		inst.WebhookURL = &webhookURL.String
	}

	return &inst, nil
}

// SetStatus publishes the lifecycle status and pending code in one write.
// A nil pendingCode clears the qr_code column; a non-nil value overwrites it,
// so a fresh QR payload always replaces a stale one.
func (r *InstanceRepo) SetStatus(ctx context.Context, id string, status model.InstanceStatus, pendingCode *string) error {
	const query = `UPDATE instances SET status = ?, qr_code = ? WHERE id = ?`

	var code sql.NullString
	if pendingCode != nil {
		code = sql.NullString{String: *pendingCode, Valid: true}
	}

	_, err := r.db.Writer.ExecContext(ctx, query, string(status), code, id)
	if err != nil {
		return fmt.Errorf("set status for instance %q: %w", id, err)
	}
	return nil
}
