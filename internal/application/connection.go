package application

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/emontero/chatworker/internal/domain/model"
	"github.com/emontero/chatworker/internal/domain/port/driven"
)

// Connection drives one live transport for one instance through its
// lifecycle: Initializing, AwaitingQr or AwaitingPairingCode, Connected, and
// finally Closed with either a scheduled reconnect or a terminal status. All
// transport events are consumed by a single loop; there are no callbacks.
type Connection struct {
	instanceID string
	phone      string // raw phone number as supplied; empty selects QR delivery
	generation uint64

	transport driven.Transport
	instances driven.InstanceStore
	auth      *AuthStore
	router    *Router
	registry  *Registry

	settleDelay time.Duration
	cancel      context.CancelFunc
}

// terminate tears the connection down. Close errors are swallowed: the
// handle is being replaced or stopped and the old transport's fate is moot.
func (c *Connection) terminate() {
	c.cancel()
	_ = c.transport.Close()
}

// run is the event loop. It exits when the transport closes or the
// connection context is canceled. The context is released on every exit path:
// a transport-initiated close must still stop a pending pairing-code request
// and free the cancel registration on the registry's base context.
func (c *Connection) run(ctx context.Context) {
	defer c.cancel()

	if c.phone != "" && !c.transport.Registered() {
		go c.requestPairingCode(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.transport.Events():
			if !ok {
				c.registry.evictIf(c.instanceID, c.generation)
				return
			}
			switch e := ev.(type) {
			case driven.QRCodeEvent:
				if c.phone == "" {
					slog.Info("qr code issued", "instance", c.instanceID)
					c.persistStatus(ctx, model.StatusScanning, &e.Code)
				}
			case driven.ConnectedEvent:
				slog.Info("session connected", "instance", c.instanceID)
				c.persistStatus(ctx, model.StatusConnected, nil)
			case driven.CredentialsEvent:
				if err := c.auth.PersistCredentials(ctx, e.Creds); err != nil {
					slog.Error("credentials persist failed", "instance", c.instanceID, "error", err)
				}
			case driven.MessagesEvent:
				go c.router.HandleBatch(ctx, c.instanceID, c.transport, e.Messages)
			case driven.ClosedEvent:
				c.handleClose(e.StatusCode)
				return
			}
		}
	}
}

// requestPairingCode waits for the transport to settle, then requests a
// pairing code for the normalized phone number, exactly once per connection
// attempt. The code is persisted under the same field as a QR payload so the
// control plane does not distinguish delivery mode.
func (c *Connection) requestPairingCode(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(c.settleDelay):
	}

	phone := normalizePhone(c.phone)
	code, err := c.transport.RequestPairingCode(ctx, phone)
	if err != nil {
		slog.Error("pairing code request failed", "instance", c.instanceID, "phone", phone, "error", err)
		return
	}

	slog.Info("pairing code issued", "instance", c.instanceID, "phone", phone)
	c.persistStatus(ctx, model.StatusPairingCode, &code)
}

// handleClose decides between terminal shutdown and reconnection based on the
// status code the remote end supplied.
func (c *Connection) handleClose(statusCode int) {
	c.registry.evictIf(c.instanceID, c.generation)

	// Status writes here use the registry's base context: the connection
	// context is already dead but the terminal state must still land.
	ctx := c.registry.baseCtx

	switch {
	case statusCode == driven.CloseLoggedOut:
		// Explicit logout: the stored credentials are invalid. Reset them so
		// the next start begins a fresh login instead of looping on a
		// rejected credential.
		slog.Info("session logged out", "instance", c.instanceID)
		if err := c.auth.Reset(ctx); err != nil {
			slog.Error("credential reset failed", "instance", c.instanceID, "error", err)
		}
		c.persistStatus(ctx, model.StatusDisconnected, nil)
	case driven.TerminalCloseCode(statusCode):
		slog.Error("session rejected by remote end", "instance", c.instanceID, "status_code", statusCode)
		c.persistStatus(ctx, model.StatusAuthError, nil)
	default:
		slog.Info("session closed, scheduling reconnect", "instance", c.instanceID, "status_code", statusCode)
		c.registry.scheduleReconnect(c.instanceID, c.phone, c.generation)
	}
}

// persistStatus publishes status and pending code. Persistence failures are
// logged and otherwise ignored: the session's availability outranks strict
// durability of every status write.
func (c *Connection) persistStatus(ctx context.Context, status model.InstanceStatus, pendingCode *string) {
	if err := c.instances.SetStatus(ctx, c.instanceID, status, pendingCode); err != nil {
		slog.Error("status write failed", "instance", c.instanceID, "status", string(status), "error", err)
	}
}

// normalizePhone strips every non-digit character.
func normalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
