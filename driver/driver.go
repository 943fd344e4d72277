// Package driver defines the capability contract between the session
// lifecycle manager and a messaging-platform connection. Any transport that
// implements Driver and reports its lifecycle through Events is substitutable;
// the manager never depends on a concrete implementation.
package driver

import (
	"context"
	"time"
)

// Driver is a live connection to the messaging platform for one tenant.
type Driver interface {
	// Initialize starts the connection. It returns once the transport is up
	// and emitting lifecycle events, or with an error if it failed to start.
	Initialize(ctx context.Context) error

	// SendMessage delivers a message to the given target and blocks until the
	// transport acknowledges it or fails.
	SendMessage(ctx context.Context, to, body string) error

	// Destroy releases all resources held by the connection. It must be safe
	// to call regardless of connection state.
	Destroy(ctx context.Context) error

	// Info returns a snapshot of the authenticated account. The second return
	// value is false until the connection is fully established.
	Info() (Info, bool)
}

// Factory constructs a driver for a tenant. Construction must be cheap and
// free of I/O; all connection work happens in Initialize.
type Factory interface {
	New(tenantID string, events Events) (Driver, error)
}

// Events is the sink a driver reports its lifecycle into. For a single driver
// instance, calls must arrive in the order the platform emitted them.
type Events interface {
	// PairingCode reports a fresh pairing/QR code. May fire repeatedly while
	// the platform rotates codes.
	PairingCode(code string)

	// Authenticated reports that a pairing code was accepted.
	Authenticated()

	// Ready reports that the connection is established and usable.
	Ready(info Info)

	// AuthFailed reports that authentication failed terminally.
	AuthFailed(err error)

	// Disconnected reports that the platform dropped the connection.
	Disconnected(reason string)

	// Message reports an inbound message on the established connection.
	Message(msg InboundMessage)
}

// Info describes the authenticated account behind a connected driver.
type Info struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
	Platform    string `json:"platform"`
}

// InboundMessage is a message received through an established connection.
type InboundMessage struct {
	From      string
	Body      string
	Timestamp time.Time
	ID        string
}
