package driven

import (
	"context"

	"github.com/emontero/chatworker/internal/domain/model"
)

// Close status codes reported by the remote end. The values mirror the
// protocol's HTTP-shaped disconnect reasons.
const (
	CloseLoggedOut           = 401
	CloseForbidden           = 403
	CloseMultideviceMismatch = 411
	CloseConnectionReplaced  = 440
	CloseRestartRequired     = 515
)

// TerminalCloseCode reports whether a close status code must suppress
// reconnection: the remote end is actively rejecting the credential, so
// retrying would loop forever.
func TerminalCloseCode(code int) bool {
	switch code {
	case CloseLoggedOut, CloseForbidden, CloseMultideviceMismatch:
		return true
	}
	return false
}

// TransportEvent is one event emitted by a transport's event stream.
// Exactly one of the concrete event types below is delivered per receive.
type TransportEvent interface {
	transportEvent()
}

// QRCodeEvent carries a scannable login code for an unregistered session.
type QRCodeEvent struct {
	Code string
}

// ConnectedEvent signals the link is open and authenticated.
type ConnectedEvent struct{}

// ClosedEvent signals the link closed, with the status code supplied by the
// remote end (0 when the close was local or carried no code).
type ClosedEvent struct {
	StatusCode int
}

// CredentialsEvent carries an updated login credential value that must be
// persisted immediately, regardless of connection state.
type CredentialsEvent struct {
	Creds any
}

// MessagesEvent carries a batch of inbound messages in receipt order.
type MessagesEvent struct {
	Messages []model.InboundMessage
}

func (QRCodeEvent) transportEvent()      {}
func (ConnectedEvent) transportEvent()   {}
func (ClosedEvent) transportEvent()      {}
func (CredentialsEvent) transportEvent() {}
func (MessagesEvent) transportEvent()    {}

// Transport is the live protocol connection for one instance. The wire
// protocol itself (framing, handshake, encryption) is opaque; the core only
// drives this narrow contract.
type Transport interface {
	// Events returns the event stream. The channel is closed when the
	// transport shuts down; a ClosedEvent is delivered first when the remote
	// end initiated the close.
	Events() <-chan TransportEvent

	// Registered reports whether the loaded credentials already carry a
	// registered identity. Unregistered transports need a QR scan or pairing
	// code before they can connect.
	Registered() bool

	// RequestPairingCode asks the remote end for a phone-number pairing code.
	// phone must already be normalized to digits only.
	RequestPairingCode(ctx context.Context, phone string) (string, error)

	// SendText sends a plain text message to the given counterpart.
	SendText(ctx context.Context, to, body string) error

	// Close terminates the connection. Safe to call more than once.
	Close() error
}

// CredentialStore is the capability handed to a transport for loading and
// persisting its session state. Values are decoded JSON values (maps, slices,
// strings, numbers, []byte for binary fields); the adapter behind this
// interface owns the tagged-binary encoding at the persistence boundary. The
// transport depends only on this interface, never on a concrete store.
type CredentialStore interface {
	// GetKeys fetches the requested ids of one key category. Missing ids are
	// absent from the returned map; read failures are treated as absent so the
	// transport re-acquires the key.
	GetKeys(ctx context.Context, keyType string, ids []string) (map[string]any, error)

	// SetKeys applies a batch of per-category upserts and deletes. A nil value
	// is a tombstone. The call returns once every operation has completed or
	// failed.
	SetKeys(ctx context.Context, updates map[string]map[string]any) error

	// LoadCredentials returns the persisted login credential value, or
	// (nil, nil) when none exists yet and the transport must start a fresh login.
	LoadCredentials(ctx context.Context) (any, error)

	// PersistCredentials durably stores the login credential value.
	PersistCredentials(ctx context.Context, creds any) error
}

// TransportDialer constructs a live transport for an instance using the given
// credential store. Implemented by the bridge adapter; faked in tests.
type TransportDialer interface {
	Dial(ctx context.Context, instanceID string, creds CredentialStore) (Transport, error)
}
