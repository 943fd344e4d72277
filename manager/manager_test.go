package manager_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/chatwire/whatsapp-gateway/driver"
	"github.com/chatwire/whatsapp-gateway/driver/driverfake"
	"github.com/chatwire/whatsapp-gateway/internal/errors"
	"github.com/chatwire/whatsapp-gateway/manager"
	"github.com/chatwire/whatsapp-gateway/sessions"
)

type relayCall struct {
	tenantID string
	msg      driver.InboundMessage
	d        driver.Driver
}

type fakeRelay struct {
	mu    sync.Mutex
	calls []relayCall
}

func (f *fakeRelay) HandleInbound(ctx context.Context, tenantID string, msg driver.InboundMessage, d driver.Driver) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, relayCall{tenantID, msg, d})
}

func (f *fakeRelay) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRelay) last() relayCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fixture struct {
	factory *driverfake.Factory
	relay   *fakeRelay
	mgr     *manager.Manager
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		factory: driverfake.NewFactory(),
		relay:   &fakeRelay{},
	}
	f.mgr = manager.New(sessions.NewInMemoryRegistry(), f.factory, f.relay, zerolog.Nop())
	return f
}

// connectReady brings a tenant to the connected state.
func (f *fixture) connectReady(t *testing.T, tenantID string, info driver.Info) *driverfake.Driver {
	t.Helper()
	_, err := f.mgr.Connect(context.Background(), tenantID)
	require.NoError(t, err)
	d := f.factory.Last()
	d.SetInfo(info)
	d.Events.PairingCode("QR-" + tenantID)
	d.Events.Authenticated()
	d.Events.Ready(info)
	return d
}

func TestConnect_FreshTenant(t *testing.T) {
	f := setup(t)

	snap, err := f.mgr.Connect(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, sessions.StateConnecting, snap.State)
	require.True(t, snap.HasDriver)
	require.Equal(t, 1, f.factory.Created())
	require.True(t, f.factory.Last().Initialized())
	require.Equal(t, 1, f.mgr.ActiveSessions())
}

func TestConnect_Idempotent(t *testing.T) {
	f := setup(t)

	_, err := f.mgr.Connect(context.Background(), "u1")
	require.NoError(t, err)
	f.factory.Last().Events.PairingCode("QR123")

	t.Run("qr_pending returns existing code without a new driver", func(t *testing.T) {
		snap, err := f.mgr.Connect(context.Background(), "u1")
		require.NoError(t, err)
		require.Equal(t, sessions.StateQRPending, snap.State)
		require.Equal(t, "QR123", snap.PairingCode)
		require.Equal(t, 1, f.factory.Created())
	})

	t.Run("connected is a no-op", func(t *testing.T) {
		f.factory.Last().Events.Authenticated()
		f.factory.Last().Events.Ready(driver.Info{AccountID: "5551234"})

		snap, err := f.mgr.Connect(context.Background(), "u1")
		require.NoError(t, err)
		require.Equal(t, sessions.StateConnected, snap.State)
		require.Equal(t, 1, f.factory.Created())
	})
}

func TestConnect_ConcurrentSingleDriver(t *testing.T) {
	f := setup(t)

	type result struct {
		state sessions.State
		err   error
	}
	results := make(chan result, 10)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := f.mgr.Connect(context.Background(), "u1")
			results <- result{snap.State, err}
		}()
	}
	wg.Wait()
	close(results)

	require.Equal(t, 1, f.factory.Created(), "concurrent connects must share one driver")
	for res := range results {
		require.NoError(t, res.err)
		require.Equal(t, sessions.StateConnecting, res.state)
	}
}

func TestConnect_InitFailure(t *testing.T) {
	f := setup(t)
	f.factory.InitErr = fmt.Errorf("browser exploded")

	_, err := f.mgr.Connect(context.Background(), "u1")
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.ErrDriverInit))

	snap := f.mgr.Status("u1")
	require.Equal(t, sessions.StateError, snap.State)
	require.False(t, snap.HasDriver)
	require.True(t, f.factory.Last().Destroyed())

	t.Run("retry replaces the errored record", func(t *testing.T) {
		f.factory.InitErr = nil
		snap, err := f.mgr.Connect(context.Background(), "u1")
		require.NoError(t, err)
		require.Equal(t, sessions.StateConnecting, snap.State)
		require.Equal(t, 2, f.factory.Created())
	})
}

func TestPairingPayload_PresentOnlyWhilePending(t *testing.T) {
	f := setup(t)
	_, err := f.mgr.Connect(context.Background(), "u1")
	require.NoError(t, err)
	d := f.factory.Last()

	require.Empty(t, f.mgr.Status("u1").PairingCode)

	d.Events.PairingCode("QR123")
	snap := f.mgr.Status("u1")
	require.Equal(t, sessions.StateQRPending, snap.State)
	require.Equal(t, "QR123", snap.PairingCode)

	t.Run("rotated code replaces the old one", func(t *testing.T) {
		d.Events.PairingCode("QR456")
		snap := f.mgr.Status("u1")
		require.Equal(t, sessions.StateQRPending, snap.State)
		require.Equal(t, "QR456", snap.PairingCode)
	})

	t.Run("authenticating clears the code", func(t *testing.T) {
		d.Events.Authenticated()
		snap := f.mgr.Status("u1")
		require.Equal(t, sessions.StateAuthenticating, snap.State)
		require.Empty(t, snap.PairingCode)
	})
}

func TestLifecycle_FullScenario(t *testing.T) {
	f := setup(t)
	info := driver.Info{AccountID: "5551234", DisplayName: "Alice", Platform: "android"}

	snap, err := f.mgr.Connect(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, sessions.StateConnecting, snap.State)

	d := f.factory.Last()
	d.Events.PairingCode("QR123")
	require.Equal(t, "QR123", f.mgr.Status("u1").PairingCode)

	d.Events.Authenticated()
	d.SetInfo(info)
	d.Events.Ready(info)

	snap = f.mgr.Status("u1")
	require.Equal(t, sessions.StateConnected, snap.State)
	require.Empty(t, snap.PairingCode)

	got, err := f.mgr.Info("u1")
	require.NoError(t, err)
	require.NotNil(t, got.Info)
	require.Equal(t, info, *got.Info)
}

func TestLifecycle_RestoredSessionSkipsPairing(t *testing.T) {
	f := setup(t)
	_, err := f.mgr.Connect(context.Background(), "u1")
	require.NoError(t, err)

	// Stored credentials: the driver goes straight to ready.
	f.factory.Last().Events.Ready(driver.Info{AccountID: "5551234"})
	require.Equal(t, sessions.StateConnected, f.mgr.Status("u1").State)
}

func TestAuthFailure_ReleasesHandle(t *testing.T) {
	f := setup(t)
	_, err := f.mgr.Connect(context.Background(), "u1")
	require.NoError(t, err)
	d := f.factory.Last()
	d.Events.PairingCode("QR123")

	d.Events.AuthFailed(fmt.Errorf("bad pairing"))

	snap := f.mgr.Status("u1")
	require.Equal(t, sessions.StateError, snap.State)
	require.Empty(t, snap.PairingCode)
	require.False(t, snap.HasDriver)
	require.Eventually(t, d.Destroyed, time.Second, 5*time.Millisecond)
}

func TestDriverDisconnect_LeavesTombstone(t *testing.T) {
	f := setup(t)
	d := f.connectReady(t, "u1", driver.Info{AccountID: "5551234"})

	d.Events.Disconnected("connection lost")

	snap := f.mgr.Status("u1")
	require.Equal(t, sessions.StateDisconnected, snap.State)
	require.False(t, snap.HasDriver)
	require.Nil(t, snap.Info)
	require.Equal(t, 0, f.mgr.ActiveSessions())

	// The tombstone is still a record: send reports not-connected, not missing.
	err := f.mgr.Send(context.Background(), "u1", "5559999", "hi")
	require.True(t, errors.Is(err, errors.ErrNotConnected))

	t.Run("reconnect replaces the tombstone", func(t *testing.T) {
		snap, err := f.mgr.Connect(context.Background(), "u1")
		require.NoError(t, err)
		require.Equal(t, sessions.StateConnecting, snap.State)
		require.Equal(t, 2, f.factory.Created())
	})
}

func TestDisconnect_NoRecordIsNoop(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.mgr.Disconnect(context.Background(), "ghost"))
}

func TestDisconnect_DestroysDriverAndRemovesRecord(t *testing.T) {
	f := setup(t)
	d := f.connectReady(t, "u1", driver.Info{AccountID: "5551234"})

	require.NoError(t, f.mgr.Disconnect(context.Background(), "u1"))
	require.True(t, d.Destroyed())

	snap := f.mgr.Status("u1")
	require.Equal(t, sessions.StateDisconnected, snap.State)
	require.False(t, snap.HasDriver)
	require.False(t, snap.Existed)

	_, err := f.mgr.Info("u1")
	require.True(t, errors.Is(err, errors.ErrSessionNotFound))
}

func TestDisconnect_TeardownFailureStillFreesSlot(t *testing.T) {
	f := setup(t)
	d := f.connectReady(t, "u1", driver.Info{AccountID: "5551234"})
	d.DestroyErr = fmt.Errorf("browser refused to die")

	require.NoError(t, f.mgr.Disconnect(context.Background(), "u1"))
	require.False(t, f.mgr.Status("u1").Existed)
}

func TestStaleDriverEvents_Discarded(t *testing.T) {
	f := setup(t)
	d := f.connectReady(t, "u1", driver.Info{AccountID: "5551234"})
	require.NoError(t, f.mgr.Disconnect(context.Background(), "u1"))

	// Late events from the torn-down driver must not resurrect the record.
	d.Events.PairingCode("QR-LATE")
	d.Events.Ready(driver.Info{AccountID: "zombie"})
	d.Events.Disconnected("late")

	snap := f.mgr.Status("u1")
	require.False(t, snap.Existed)
	require.Equal(t, sessions.StateDisconnected, snap.State)

	t.Run("old events do not touch a replacement session", func(t *testing.T) {
		_, err := f.mgr.Connect(context.Background(), "u1")
		require.NoError(t, err)

		d.Events.Ready(driver.Info{AccountID: "zombie"})
		require.Equal(t, sessions.StateConnecting, f.mgr.Status("u1").State)
	})
}

func TestSend(t *testing.T) {
	f := setup(t)

	t.Run("no session", func(t *testing.T) {
		err := f.mgr.Send(context.Background(), "u1", "5559999", "hi")
		require.True(t, errors.Is(err, errors.ErrSessionNotFound))
	})

	t.Run("qr_pending does not reach the driver", func(t *testing.T) {
		_, err := f.mgr.Connect(context.Background(), "u1")
		require.NoError(t, err)
		d := f.factory.Last()
		d.Events.PairingCode("QR123")

		err = f.mgr.Send(context.Background(), "u1", "5559999", "hi")
		require.True(t, errors.Is(err, errors.ErrNotConnected))
		require.Empty(t, d.Sent())
	})

	t.Run("connected delivers", func(t *testing.T) {
		d := f.factory.Last()
		d.Events.Authenticated()
		d.Events.Ready(driver.Info{AccountID: "5551234"})

		require.NoError(t, f.mgr.Send(context.Background(), "u1", "5559999", "hi"))
		require.Equal(t, []driverfake.SentMessage{{To: "5559999", Body: "hi"}}, d.Sent())
	})

	t.Run("driver failure leaves state connected", func(t *testing.T) {
		d := f.factory.Last()
		d.SendErr = fmt.Errorf("dispatch failed")

		err := f.mgr.Send(context.Background(), "u1", "5559999", "hi")
		require.True(t, errors.Is(err, errors.ErrDriverSend))
		require.Equal(t, sessions.StateConnected, f.mgr.Status("u1").State)
	})
}

func TestInboundMessage_RelayedWithOwningDriver(t *testing.T) {
	f := setup(t)
	d := f.connectReady(t, "u1", driver.Info{AccountID: "5551234"})

	msg := driver.InboundMessage{From: "5559999@s.whatsapp.net", Body: "hello", Timestamp: time.Now(), ID: "MSG1"}
	d.Events.Message(msg)

	require.Eventually(t, func() bool { return f.relay.count() == 1 }, time.Second, 5*time.Millisecond)
	call := f.relay.last()
	require.Equal(t, "u1", call.tenantID)
	require.Equal(t, msg, call.msg)
	require.Same(t, d, call.d)

	// A relay round trip never changes session state.
	require.Equal(t, sessions.StateConnected, f.mgr.Status("u1").State)
}

func TestTenantIsolation(t *testing.T) {
	f := setup(t)
	f.connectReady(t, "u1", driver.Info{AccountID: "1"})
	d2 := f.connectReady(t, "u2", driver.Info{AccountID: "2"})

	d2.Events.Disconnected("gone")

	require.Equal(t, sessions.StateConnected, f.mgr.Status("u1").State)
	require.Equal(t, sessions.StateDisconnected, f.mgr.Status("u2").State)
	require.Equal(t, 1, f.mgr.ActiveSessions())
}

func TestShutdown_DestroysAllDrivers(t *testing.T) {
	f := setup(t)
	d1 := f.connectReady(t, "u1", driver.Info{AccountID: "1"})
	d2 := f.connectReady(t, "u2", driver.Info{AccountID: "2"})

	f.mgr.Shutdown(context.Background())

	require.True(t, d1.Destroyed())
	require.True(t, d2.Destroyed())
	require.Equal(t, 0, f.mgr.ActiveSessions())
}
