package driven

import (
	"context"
	"encoding/json"
)

// SessionStore defines the driven port for raw credential-record persistence.
// Values are the encoded (tagged-binary) JSON payloads; the authstore layers
// the codec and caching on top of this interface.
type SessionStore interface {
	// Get retrieves the payload for (instanceID, keyID). found is false when
	// no row exists; a stored row with a null payload yields (nil, true, nil).
	Get(ctx context.Context, instanceID, keyID string) (data json.RawMessage, found bool, err error)

	// Put inserts or replaces the payload for (instanceID, keyID).
	Put(ctx context.Context, instanceID, keyID string, data json.RawMessage) error

	// Delete removes the row for (instanceID, keyID). Deleting a missing row
	// is not an error.
	Delete(ctx context.Context, instanceID, keyID string) error

	// DeleteAll removes every credential record for the instance. Used on
	// forced reset when the remote end has invalidated the login.
	DeleteAll(ctx context.Context, instanceID string) error
}
