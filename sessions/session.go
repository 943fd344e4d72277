// Package sessions holds the session record and the registry that maps tenant
// IDs to records. The registry is the single source of truth for which
// sessions exist; it enforces key uniqueness but not transition legality,
// which belongs to the lifecycle manager.
package sessions

import (
	"time"

	"github.com/chatwire/whatsapp-gateway/driver"
)

// State is the connection state of a tenant's session. A tenant with no
// record in the registry is implicitly absent.
type State string

const (
	StateConnecting     State = "connecting"
	StateQRPending      State = "qr_pending"
	StateAuthenticating State = "authenticating"
	StateConnected      State = "connected"
	StateDisconnected   State = "disconnected"
	StateError          State = "error"
)

// Live reports whether the state owns a driver handle. Records in a live
// state hold the tenant's single driver instance; all other states have
// released it.
func (s State) Live() bool {
	switch s {
	case StateConnecting, StateQRPending, StateAuthenticating, StateConnected:
		return true
	}
	return false
}

// Record is one tenant's session. PairingCode is non-empty only in
// qr_pending, Driver and HandleID are set only in live states, and Info is
// set only when connected.
type Record struct {
	TenantID    string
	State       State
	PairingCode string

	// HandleID identifies the driver instance this record owns. Events
	// carrying a different handle ID belong to an instance that was already
	// released and must be discarded.
	HandleID string
	Driver   driver.Driver

	Info *driver.Info

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Registry is a concurrency-safe map of tenant ID to session record. All
// operations are atomic; no caller observes a partially updated record.
type Registry interface {
	Get(tenantID string) (Record, bool)
	Upsert(tenantID string, record Record) error
	Remove(tenantID string)
	Exists(tenantID string) bool

	// ActiveCount returns the number of records in a live state.
	ActiveCount() int

	// Tenants returns the tenant IDs of all existing records.
	Tenants() []string
}
