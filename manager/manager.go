// Package manager owns the session lifecycle: it creates one driver per
// tenant on demand, funnels every state change through a single mutex-guarded
// transition path, and guarantees at most one live driver instance per tenant
// no matter how control requests and driver events interleave.
package manager

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chatwire/whatsapp-gateway/driver"
	"github.com/chatwire/whatsapp-gateway/internal/errors"
	"github.com/chatwire/whatsapp-gateway/sessions"
)

// InboundRelay receives messages that arrive on an established session. The
// driver handle that produced the message is passed along so an auto-reply
// can go back through the same connection.
type InboundRelay interface {
	HandleInbound(ctx context.Context, tenantID string, msg driver.InboundMessage, d driver.Driver)
}

// Manager orchestrates session lifecycles for all tenants.
type Manager struct {
	registry sessions.Registry
	drivers  driver.Factory
	relay    InboundRelay
	log      zerolog.Logger

	// mu serializes every check-then-act against the registry. Driver I/O
	// (Initialize, SendMessage, Destroy) never runs while mu is held.
	mu sync.Mutex
}

// New creates a lifecycle manager. relay may be nil, in which case inbound
// messages are logged and dropped.
func New(registry sessions.Registry, drivers driver.Factory, relay InboundRelay, log zerolog.Logger) *Manager {
	return &Manager{
		registry: registry,
		drivers:  drivers,
		relay:    relay,
		log:      log.With().Str("component", "manager").Logger(),
	}
}

// Snapshot is a consistent read of one tenant's session state.
type Snapshot struct {
	TenantID    string
	State       sessions.State
	PairingCode string
	HasDriver   bool
	Info        *driver.Info

	// Existed distinguishes a registry record reporting disconnected from a
	// tenant that has no record at all.
	Existed bool
}

func snapshotOf(rec sessions.Record) Snapshot {
	return Snapshot{
		TenantID:    rec.TenantID,
		State:       rec.State,
		PairingCode: rec.PairingCode,
		HasDriver:   rec.Driver != nil,
		Info:        rec.Info,
		Existed:     true,
	}
}

// Connect establishes (or reports) the session for a tenant.
//
// If a live record already exists the call is a no-op that returns the
// current state: a connected session is never replaced, a qr_pending session
// returns the existing pairing code rather than regenerating it. Stale
// disconnected/error records are replaced by a fresh driver instance, as is a
// tenant with no record.
func (m *Manager) Connect(ctx context.Context, tenantID string) (Snapshot, error) {
	m.mu.Lock()
	if rec, ok := m.registry.Get(tenantID); ok && rec.State.Live() {
		snap := snapshotOf(rec)
		m.mu.Unlock()
		m.log.Info().Str("tenant_id", tenantID).Str("state", string(rec.State)).Msg("Connect on existing session")
		return snap, nil
	}

	// Absent, or a stale disconnected/error record whose handle was already
	// released. Register the new record before initializing so a concurrent
	// connect observes it and does not create a second driver.
	handleID := uuid.New().String()
	events := &eventBinding{manager: m, tenantID: tenantID, handleID: handleID}
	drv, err := m.drivers.New(tenantID, events)
	if err != nil {
		m.mu.Unlock()
		return Snapshot{}, errors.Wrapf(errors.ErrDriverInit, "create driver for tenant %q (%v)", tenantID, err)
	}
	now := time.Now()
	rec := sessions.Record{
		TenantID:  tenantID,
		State:     sessions.StateConnecting,
		HandleID:  handleID,
		Driver:    drv,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.registry.Upsert(tenantID, rec); err != nil {
		m.mu.Unlock()
		return Snapshot{}, errors.Wrapf(err, "register session for tenant %q", tenantID)
	}
	m.mu.Unlock()

	m.log.Info().Str("tenant_id", tenantID).Msg("Creating new session")

	// Initialize outside the lock; pairing events may already arrive while
	// this call is in flight.
	if err := drv.Initialize(ctx); err != nil {
		m.failInit(tenantID, handleID, err)
		return Snapshot{}, errors.Wrapf(errors.ErrDriverInit, "initialize driver for tenant %q (%v)", tenantID, err)
	}

	return m.Status(tenantID), nil
}

// failInit moves a session whose driver failed to start into the error state
// and releases the handle, unless the record was already replaced or removed.
func (m *Manager) failInit(tenantID, handleID string, cause error) {
	m.log.Error().Err(cause).Str("tenant_id", tenantID).Msg("Driver initialization failed")

	m.mu.Lock()
	rec, ok := m.registry.Get(tenantID)
	if !ok || rec.HandleID != handleID {
		m.mu.Unlock()
		return
	}
	drv := rec.Driver
	rec.State = sessions.StateError
	rec.PairingCode = ""
	rec.Driver = nil
	rec.HandleID = ""
	rec.Info = nil
	rec.UpdatedAt = time.Now()
	_ = m.registry.Upsert(tenantID, rec)
	m.mu.Unlock()

	m.destroyDriver(tenantID, drv)
}

// Disconnect tears the tenant's session down. The registry slot is freed
// unconditionally; a teardown failure is logged, not surfaced. Disconnecting
// a tenant with no record is a no-op success.
func (m *Manager) Disconnect(ctx context.Context, tenantID string) error {
	m.mu.Lock()
	rec, ok := m.registry.Get(tenantID)
	if !ok {
		m.mu.Unlock()
		m.log.Info().Str("tenant_id", tenantID).Msg("Disconnect for unknown tenant, nothing to do")
		return nil
	}
	m.registry.Remove(tenantID)
	drv := rec.Driver
	m.mu.Unlock()

	if drv != nil {
		if err := drv.Destroy(ctx); err != nil {
			m.log.Warn().Err(errors.Wrapf(errors.ErrTeardown, "tenant %q (%v)", tenantID, err)).
				Str("tenant_id", tenantID).Msg("Driver teardown failed, session removed anyway")
		}
	}
	m.log.Info().Str("tenant_id", tenantID).Msg("Session disconnected")
	return nil
}

// Send delivers a message through the tenant's connected session.
func (m *Manager) Send(ctx context.Context, tenantID, to, body string) error {
	m.mu.Lock()
	rec, ok := m.registry.Get(tenantID)
	if !ok {
		m.mu.Unlock()
		return errors.Wrapf(errors.ErrSessionNotFound, "tenant %q", tenantID)
	}
	if rec.State != sessions.StateConnected {
		m.mu.Unlock()
		return errors.Wrapf(errors.ErrNotConnected, "tenant %q in state %q", tenantID, rec.State)
	}
	drv := rec.Driver
	m.mu.Unlock()

	if err := drv.SendMessage(ctx, to, body); err != nil {
		// A failed dispatch does not change session state.
		return errors.Wrapf(errors.ErrDriverSend, "tenant %q to %q (%v)", tenantID, to, err)
	}
	return nil
}

// Status returns the tenant's current state. A tenant with no record reports
// disconnected with no driver.
func (m *Manager) Status(tenantID string) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.registry.Get(tenantID)
	if !ok {
		return Snapshot{TenantID: tenantID, State: sessions.StateDisconnected}
	}
	return snapshotOf(rec)
}

// Info returns the tenant's state and, when connected, the account info
// captured at connection time.
func (m *Manager) Info(tenantID string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.registry.Get(tenantID)
	if !ok {
		return Snapshot{}, errors.Wrapf(errors.ErrSessionNotFound, "tenant %q", tenantID)
	}
	return snapshotOf(rec), nil
}

// ActiveSessions returns the number of sessions holding a live driver.
func (m *Manager) ActiveSessions() int {
	return m.registry.ActiveCount()
}

// Shutdown destroys every live driver. Used during process shutdown.
func (m *Manager) Shutdown(ctx context.Context) {
	type teardown struct {
		tenantID string
		drv      driver.Driver
	}

	m.mu.Lock()
	var teardowns []teardown
	for _, tenantID := range m.registry.Tenants() {
		rec, ok := m.registry.Get(tenantID)
		if !ok {
			continue
		}
		m.registry.Remove(tenantID)
		if rec.Driver != nil {
			teardowns = append(teardowns, teardown{tenantID, rec.Driver})
		}
	}
	m.mu.Unlock()

	for _, t := range teardowns {
		if err := t.drv.Destroy(ctx); err != nil {
			m.log.Warn().Err(err).Str("tenant_id", t.tenantID).Msg("Driver teardown failed during shutdown")
		}
	}
}

func (m *Manager) destroyDriver(tenantID string, drv driver.Driver) {
	if drv == nil {
		return
	}
	if err := drv.Destroy(context.Background()); err != nil {
		m.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("Driver teardown failed")
	}
}
