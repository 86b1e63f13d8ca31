// Package driven defines the driven ports: interfaces the application core
// depends on, implemented by adapters.
package driven

import (
	"context"

	"github.com/emontero/chatworker/internal/domain/model"
)

// InstanceStore defines the driven port for instance persistence. The control
// plane provisions instance rows; this process only reads configuration and
// publishes lifecycle status into them.
type InstanceStore interface {
	// Get retrieves an instance by id. Returns (nil, nil) when no row exists.
	Get(ctx context.Context, id string) (*model.Instance, error)

	// SetStatus publishes the lifecycle status and pending code together.
	// pendingCode nil clears the qr_code column; non-nil overwrites it.
	SetStatus(ctx context.Context, id string, status model.InstanceStatus, pendingCode *string) error
}
