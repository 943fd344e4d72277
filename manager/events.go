package manager

import (
	"context"
	"time"

	"github.com/chatwire/whatsapp-gateway/driver"
	"github.com/chatwire/whatsapp-gateway/sessions"
)

// eventBinding routes one driver instance's events into the manager. It
// carries the handle ID the driver was created under so events from a
// replaced or torn-down instance can be recognized and discarded instead of
// resurrecting a removed record.
type eventBinding struct {
	manager  *Manager
	tenantID string
	handleID string
}

var _ driver.Events = (*eventBinding)(nil)

func (b *eventBinding) PairingCode(code string) {
	b.manager.onPairingCode(b.tenantID, b.handleID, code)
}

func (b *eventBinding) Authenticated() {
	b.manager.onAuthenticated(b.tenantID, b.handleID)
}

func (b *eventBinding) Ready(info driver.Info) {
	b.manager.onReady(b.tenantID, b.handleID, info)
}

func (b *eventBinding) AuthFailed(err error) {
	b.manager.onAuthFailed(b.tenantID, b.handleID, err)
}

func (b *eventBinding) Disconnected(reason string) {
	b.manager.onDisconnected(b.tenantID, b.handleID, reason)
}

func (b *eventBinding) Message(msg driver.InboundMessage) {
	b.manager.onMessage(b.tenantID, b.handleID, msg)
}

// current returns the tenant's record if it still belongs to the given
// handle. Caller must hold m.mu.
func (m *Manager) current(tenantID, handleID string) (sessions.Record, bool) {
	rec, ok := m.registry.Get(tenantID)
	if !ok || rec.HandleID != handleID {
		m.log.Debug().Str("tenant_id", tenantID).Msg("Dropping event from stale driver handle")
		return sessions.Record{}, false
	}
	return rec, true
}

func (m *Manager) onPairingCode(tenantID, handleID, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.current(tenantID, handleID)
	if !ok {
		return
	}
	switch rec.State {
	case sessions.StateConnecting, sessions.StateQRPending:
	default:
		m.log.Warn().Str("tenant_id", tenantID).Str("state", string(rec.State)).Msg("Ignoring pairing code in unexpected state")
		return
	}
	rec.State = sessions.StateQRPending
	rec.PairingCode = code
	rec.UpdatedAt = time.Now()
	_ = m.registry.Upsert(tenantID, rec)
	m.log.Info().Str("tenant_id", tenantID).Msg("Pairing code issued")
}

func (m *Manager) onAuthenticated(tenantID, handleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.current(tenantID, handleID)
	if !ok {
		return
	}
	switch rec.State {
	case sessions.StateConnecting, sessions.StateQRPending:
	default:
		m.log.Warn().Str("tenant_id", tenantID).Str("state", string(rec.State)).Msg("Ignoring authenticated event in unexpected state")
		return
	}
	rec.State = sessions.StateAuthenticating
	rec.PairingCode = ""
	rec.UpdatedAt = time.Now()
	_ = m.registry.Upsert(tenantID, rec)
	m.log.Info().Str("tenant_id", tenantID).Msg("Authenticated")
}

func (m *Manager) onReady(tenantID, handleID string, info driver.Info) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.current(tenantID, handleID)
	if !ok {
		return
	}
	if rec.State == sessions.StateConnected {
		return
	}
	// Sessions restored from stored credentials go straight from connecting
	// to connected without a pairing round.
	rec.State = sessions.StateConnected
	rec.PairingCode = ""
	rec.Info = &info
	rec.UpdatedAt = time.Now()
	_ = m.registry.Upsert(tenantID, rec)
	m.log.Info().Str("tenant_id", tenantID).Str("account_id", info.AccountID).Msg("Session connected")
}

func (m *Manager) onAuthFailed(tenantID, handleID string, cause error) {
	m.mu.Lock()
	rec, ok := m.current(tenantID, handleID)
	if !ok {
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

	m.log.Error().Err(cause).Str("tenant_id", tenantID).Msg("Authentication failed")
	// Destroy on a separate goroutine: this event may be delivered from the
	// driver's own event loop, which Destroy has to wind down.
	go m.destroyDriver(tenantID, drv)
}

func (m *Manager) onDisconnected(tenantID, handleID, reason string) {
	m.mu.Lock()
	rec, ok := m.current(tenantID, handleID)
	if !ok {
		m.mu.Unlock()
		return
	}
	// Tombstone rather than evict: the record distinguishes "was connected,
	// then dropped" from a tenant that never connected. An explicit
	// disconnect request removes the record entirely.
	drv := rec.Driver
	rec.State = sessions.StateDisconnected
	rec.PairingCode = ""
	rec.Driver = nil
	rec.HandleID = ""
	rec.Info = nil
	rec.UpdatedAt = time.Now()
	_ = m.registry.Upsert(tenantID, rec)
	m.mu.Unlock()

	m.log.Info().Str("tenant_id", tenantID).Str("reason", reason).Msg("Session disconnected by platform")
	go m.destroyDriver(tenantID, drv)
}

func (m *Manager) onMessage(tenantID, handleID string, msg driver.InboundMessage) {
	m.mu.Lock()
	rec, ok := m.current(tenantID, handleID)
	if !ok {
		m.mu.Unlock()
		return
	}
	drv := rec.Driver
	m.mu.Unlock()

	m.log.Info().Str("tenant_id", tenantID).Str("from", msg.From).Msg("Message received")
	if m.relay == nil {
		return
	}
	// Relay off the event path so a slow collaborator cannot hold up
	// lifecycle events for this tenant.
	go m.relay.HandleInbound(context.Background(), tenantID, msg, drv)
}
