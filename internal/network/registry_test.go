package network

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moongate-community/moongate/internal/events"
)

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) record(_ context.Context, e events.Event) error {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
	return nil
}

func (l *eventLog) ofType(t events.EventType) []events.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []events.Event
	for _, e := range l.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newObservedRegistry(t *testing.T) (*ConnectionRegistry, *events.EventBus, *eventLog) {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)
	log := &eventLog{}
	for _, et := range []events.EventType{events.EventConnectionOpened, events.EventConnectionClosed, events.EventStateChanged} {
		bus.Subscribe(et, "test", log.record)
	}
	return NewConnectionRegistry(bus), bus, log
}

func TestRegistryRegisterAndUnregister(t *testing.T) {
	reg, _, log := newObservedRegistry(t)
	ctx := context.Background()
	c := NewConnection(&recordingConn{}, ConnectionOptions{})

	require.NoError(t, reg.Register(ctx, c))
	assert.Equal(t, StateConnected, c.State())
	assert.Equal(t, 1, reg.Count())
	got, ok := reg.Get(c.ID())
	require.True(t, ok)
	assert.Same(t, c, got)

	assert.Error(t, reg.Register(ctx, c))

	assert.True(t, reg.Unregister(ctx, c.ID(), ErrIdleTimeout))
	assert.False(t, reg.Unregister(ctx, c.ID(), ErrIdleTimeout))
	assert.Zero(t, reg.Count())
	assert.False(t, c.IsConnected())

	require.Eventually(t, func() bool {
		return len(log.ofType(events.EventConnectionClosed)) == 1
	}, time.Second, 5*time.Millisecond)

	opened := log.ofType(events.EventConnectionOpened)
	require.Len(t, opened, 1)
	assert.Equal(t, c.ID(), opened[0].Source)

	closed := log.ofType(events.EventConnectionClosed)[0].Payload.(events.ConnectionPayload)
	assert.Equal(t, c.ID(), closed.ConnID)
	assert.Equal(t, ErrIdleTimeout.Error(), closed.Reason)
}

func TestRegistryEmitsStateChanges(t *testing.T) {
	reg, _, log := newObservedRegistry(t)
	ctx := context.Background()
	c := NewConnection(&recordingConn{}, ConnectionOptions{})
	require.NoError(t, reg.Register(ctx, c))
	require.NoError(t, c.BeginAuthentication())

	require.Eventually(t, func() bool {
		return len(log.ofType(events.EventStateChanged)) == 2
	}, time.Second, 5*time.Millisecond)

	var to []string
	for _, e := range log.ofType(events.EventStateChanged) {
		to = append(to, e.Payload.(events.StateChangedPayload).To)
	}
	assert.ElementsMatch(t, []string{"connected", "authenticating"}, to)
}

func TestRegistryKick(t *testing.T) {
	reg := NewConnectionRegistry(nil)
	ctx := context.Background()
	c := NewConnection(&recordingConn{}, ConnectionOptions{})
	require.NoError(t, reg.Register(ctx, c))

	require.NoError(t, reg.Kick(ctx, c.ID(), "spamming"))
	assert.False(t, c.IsConnected())

	err := reg.Kick(ctx, c.ID(), "")
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestRegistrySnapshotOrderedByConnectTime(t *testing.T) {
	reg := NewConnectionRegistry(nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		c := NewConnection(&recordingConn{}, ConnectionOptions{})
		c.connectedAt = time.Now().Add(time.Duration(-10+i) * time.Minute)
		require.NoError(t, reg.Register(ctx, c))
		ids = append(ids, c.ID())
	}

	var got []string
	for _, c := range reg.Snapshot() {
		got = append(got, c.ID())
	}
	assert.Equal(t, ids, got)

	assert.Equal(t, 3, reg.CloseAll(ctx, nil))
	assert.Zero(t, reg.Count())
}

func TestRegistryCleanStale(t *testing.T) {
	reg := NewConnectionRegistry(nil)
	ctx := context.Background()

	idle := NewConnection(&recordingConn{}, ConnectionOptions{})
	idle.lastActivity = time.Now().Add(-time.Hour)
	busy := NewConnection(&recordingConn{}, ConnectionOptions{})
	require.NoError(t, reg.Register(ctx, idle))
	require.NoError(t, reg.Register(ctx, busy))

	assert.Zero(t, reg.CleanStale(ctx, 0))
	assert.Equal(t, 1, reg.CleanStale(ctx, time.Minute))

	_, ok := reg.Get(idle.ID())
	assert.False(t, ok)
	_, ok = reg.Get(busy.ID())
	assert.True(t, ok)
}

func TestRegistryCleanStalled(t *testing.T) {
	reg := NewConnectionRegistry(nil)
	ctx := context.Background()

	stuck := NewConnection(&recordingConn{}, ConnectionOptions{})
	fresh := NewConnection(&recordingConn{}, ConnectionOptions{})
	require.NoError(t, reg.Register(ctx, stuck))
	require.NoError(t, reg.Register(ctx, fresh))

	stuck.setStall(errBrokenPipe)
	stuck.stalledSince = time.Now().Add(-time.Minute)
	fresh.setStall(errBrokenPipe)

	assert.Equal(t, 1, reg.CleanStalled(ctx, 10*time.Second))
	_, ok := reg.Get(stuck.ID())
	assert.False(t, ok)
	assert.Equal(t, 1, reg.Count())
}

func TestReasonLabel(t *testing.T) {
	assert.Equal(t, "closed", reasonLabel(nil))
	assert.Equal(t, "kicked", reasonLabel(ErrKicked))
	assert.Equal(t, "cipher", reasonLabel(&CipherError{Err: ErrPlaintextRefused}))
	assert.Equal(t, "overflow", reasonLabel(ErrWindowOverflow))
	assert.Equal(t, "shutdown", reasonLabel(context.Canceled))
	assert.Equal(t, "transport", reasonLabel(errBrokenPipe))
}

func TestRegistryEnforcesConnectionLimit(t *testing.T) {
	reg := NewConnectionRegistry(nil)
	reg.SetMaxConnections(2)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewConnection(&recordingConn{}, ConnectionOptions{})
			if err := reg.Register(ctx, c); err != nil {
				assert.ErrorIs(t, err, ErrConnectionLimit)
				return
			}
			mu.Lock()
			accepted++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, accepted)
	assert.Equal(t, 2, reg.Count())
}

func TestRegistryRollsBackFailedAccept(t *testing.T) {
	reg, _, log := newObservedRegistry(t)
	ctx := context.Background()

	c := NewConnection(&recordingConn{}, ConnectionOptions{})
	c.Close(nil)

	require.Error(t, reg.Register(ctx, c))
	assert.Zero(t, reg.Count())
	_, ok := reg.Get(c.ID())
	assert.False(t, ok)

	require.Eventually(t, func() bool {
		return len(log.ofType(events.EventConnectionClosed)) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRegistryClaimAccount(t *testing.T) {
	reg := NewConnectionRegistry(nil)
	ctx := context.Background()
	a := NewConnection(&recordingConn{}, ConnectionOptions{})
	b := NewConnection(&recordingConn{}, ConnectionOptions{})
	require.NoError(t, reg.Register(ctx, a))
	require.NoError(t, reg.Register(ctx, b))

	assert.False(t, reg.ClaimAccount("missing", "admin"))

	require.True(t, reg.ClaimAccount(a.ID(), "admin"))
	assert.True(t, reg.ClaimAccount(a.ID(), "ADMIN"))
	assert.False(t, reg.ClaimAccount(b.ID(), "Admin"))

	// Only the owner releases.
	reg.ReleaseAccount(b.ID(), "admin")
	assert.False(t, reg.ClaimAccount(b.ID(), "admin"))
	reg.ReleaseAccount(a.ID(), "admin")
	assert.True(t, reg.ClaimAccount(b.ID(), "admin"))

	// Unregister drops the owner's claims.
	reg.Unregister(ctx, b.ID(), nil)
	assert.True(t, reg.ClaimAccount(a.ID(), "admin"))
}

func TestRegistryClaimSeesAuthenticatedAccounts(t *testing.T) {
	reg := NewConnectionRegistry(nil)
	ctx := context.Background()
	a := NewConnection(&recordingConn{}, ConnectionOptions{})
	b := NewConnection(&recordingConn{}, ConnectionOptions{})
	require.NoError(t, reg.Register(ctx, a))
	require.NoError(t, reg.Register(ctx, b))
	require.NoError(t, a.Authenticate("guard"))

	assert.False(t, reg.ClaimAccount(b.ID(), "GUARD"))
}
