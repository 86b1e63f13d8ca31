package model

import (
	"encoding/json"
	"time"
)

// CredentialRecord is a single named blob of transport-internal session state
// keyed by (instance, key id). Data holds the decoded JSON value; binary
// sub-fields are carried through the tagged-binary codec so they survive the
// round trip to the sessions table.
type CredentialRecord struct {
	InstanceID string
	KeyID      string
	Data       json.RawMessage
	UpdatedAt  time.Time
}

// CredsKeyID is the key id of the login credential itself. A transport is
// only considered registered once a row with this key exists.
const CredsKeyID = "creds"
