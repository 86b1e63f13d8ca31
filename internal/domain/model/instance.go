// Package model contains the domain entities shared across ports and adapters.
package model

// InstanceStatus is the durable lifecycle state of a tenant instance as
// persisted in the instances table and read by the control plane.
type InstanceStatus string

const (
	StatusInitializing InstanceStatus = "initializing"
	StatusScanning     InstanceStatus = "scanning"
	StatusPairingCode  InstanceStatus = "pairing_code"
	StatusConnected    InstanceStatus = "connected"
	StatusDisconnected InstanceStatus = "disconnected"
	StatusAuthError    InstanceStatus = "error_401"
)

// Instance is one tenant's chat identity. Liveness is owned by the session
// registry; the durable status lives in the instances table.
type Instance struct {
	ID           string
	Status       InstanceStatus
	PendingCode  *string // QR payload or pairing code awaiting confirmation.
	SystemPrompt *string
	WebhookURL   *string
}
