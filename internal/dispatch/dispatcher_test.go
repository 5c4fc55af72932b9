package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moongate-community/moongate/internal/events"
	"github.com/moongate-community/moongate/internal/protocol"
	"github.com/moongate-community/moongate/internal/scheduler"
)

// recordingScheduler runs units inline and keeps their names and results.
type recordingScheduler struct {
	mu     sync.Mutex
	names  []string
	errs   []error
	reject error
}

func (s *recordingScheduler) Submit(ctx context.Context, name string, task scheduler.Task) error {
	if s.reject != nil {
		return s.reject
	}
	err := task(ctx)
	s.mu.Lock()
	s.names = append(s.names, name)
	s.errs = append(s.errs, err)
	s.mu.Unlock()
	return nil
}

func TestDispatchRunsHandlersInOrder(t *testing.T) {
	sched := &recordingScheduler{}
	d := NewDispatcher(sched, nil, nil)

	var order []string
	for _, name := range []string{"movement", "anticheat"} {
		name := name
		require.NoError(t, d.RegisterHandler(protocol.OpPing, name, func(context.Context, string, protocol.Packet) error {
			order = append(order, name)
			return nil
		}))
	}

	d.Dispatch(context.Background(), "c1", &protocol.Ping{Sequence: 1})

	assert.Equal(t, []string{"movement", "anticheat"}, order)
	assert.Equal(t, []string{"c1:0x73", "c1:0x73"}, sched.names)
}

func TestDispatchPassesConnectionAndPacket(t *testing.T) {
	d := NewDispatcher(&recordingScheduler{}, nil, nil)

	var gotConn string
	var gotSeq byte
	require.NoError(t, d.RegisterHandler(protocol.OpPing, "echo", func(_ context.Context, connID string, p protocol.Packet) error {
		gotConn = connID
		gotSeq = p.(*protocol.Ping).Sequence
		return nil
	}))

	d.Dispatch(context.Background(), "abc", &protocol.Ping{Sequence: 9})
	assert.Equal(t, "abc", gotConn)
	assert.Equal(t, byte(9), gotSeq)
}

func TestDuplicateHandlerRejected(t *testing.T) {
	d := NewDispatcher(&recordingScheduler{}, nil, nil)
	noop := func(context.Context, string, protocol.Packet) error { return nil }

	require.NoError(t, d.RegisterHandler(0x02, "movement", noop))
	err := d.RegisterHandler(0x02, "movement", noop)
	assert.ErrorIs(t, err, ErrDuplicateHandler)
	assert.Equal(t, 1, d.HandlerCount(0x02))

	// Same name on another opcode is fine.
	assert.NoError(t, d.RegisterHandler(0x73, "movement", noop))
}

func TestUnregister(t *testing.T) {
	d := NewDispatcher(&recordingScheduler{}, nil, nil)
	noop := func(context.Context, string, protocol.Packet) error { return nil }
	require.NoError(t, d.RegisterHandler(0x02, "a", noop))
	require.NoError(t, d.RegisterHandler(0x02, "b", noop))
	require.NoError(t, d.RegisterHandler(0x02, "c", noop))

	assert.True(t, d.Unregister(0x02, "b"))
	assert.False(t, d.Unregister(0x02, "b"))
	assert.Equal(t, []string{"a", "c"}, d.HandlerNames(0x02))

	// Registering again after removal is allowed.
	assert.NoError(t, d.RegisterHandler(0x02, "b", noop))
}

func TestHandlerErrorWrappedPerUnit(t *testing.T) {
	sched := &recordingScheduler{}
	d := NewDispatcher(sched, nil, nil)
	cause := errors.New("boom")

	secondRan := false
	require.NoError(t, d.RegisterHandler(protocol.OpPing, "failing", func(context.Context, string, protocol.Packet) error {
		return cause
	}))
	require.NoError(t, d.RegisterHandler(protocol.OpPing, "after", func(context.Context, string, protocol.Packet) error {
		secondRan = true
		return nil
	}))

	d.Dispatch(context.Background(), "c9", &protocol.Ping{})

	require.Len(t, sched.errs, 2)
	var de *DispatchError
	require.ErrorAs(t, sched.errs[0], &de)
	assert.Equal(t, protocol.OpPing, de.OpCode)
	assert.Equal(t, "c9", de.ConnID)
	assert.Equal(t, "failing", de.Handler)
	assert.ErrorIs(t, sched.errs[0], cause)
	assert.NoError(t, sched.errs[1])
	assert.True(t, secondRan)
}

func TestHandlerPanicBecomesDispatchError(t *testing.T) {
	sched := &recordingScheduler{}
	d := NewDispatcher(sched, nil, nil)
	require.NoError(t, d.RegisterHandler(protocol.OpPing, "panicky", func(context.Context, string, protocol.Packet) error {
		panic("nil map")
	}))

	require.NotPanics(t, func() { d.Dispatch(context.Background(), "c1", &protocol.Ping{}) })

	var de *DispatchError
	require.ErrorAs(t, sched.errs[0], &de)
	assert.Contains(t, de.Error(), "panic: nil map")
}

func TestDispatchWithoutHandlersDrops(t *testing.T) {
	sched := &recordingScheduler{}
	d := NewDispatcher(sched, nil, protocol.NewRegistry())

	assert.NotPanics(t, func() { d.Dispatch(context.Background(), "c1", &protocol.Ping{}) })
	assert.Empty(t, sched.names)
}

func TestDispatchSchedulerRejectionIsLogged(t *testing.T) {
	sched := &recordingScheduler{reject: scheduler.ErrStopped}
	d := NewDispatcher(sched, nil, nil)
	require.NoError(t, d.RegisterHandler(protocol.OpPing, "x", func(context.Context, string, protocol.Packet) error { return nil }))

	assert.NotPanics(t, func() { d.Dispatch(context.Background(), "c1", &protocol.Ping{}) })
}

func TestDispatchRaisesReceivedEvent(t *testing.T) {
	bus := events.NewEventBus()
	received := make(chan events.PacketPayload, 1)
	bus.Subscribe(events.EventPacketReceived, "test", func(_ context.Context, e events.Event) error {
		received <- e.Payload.(events.PacketPayload)
		return nil
	})

	registry := protocol.NewRegistry()
	registry.Register(protocol.OpPing, 2, "Ping")
	d := NewDispatcher(&recordingScheduler{}, bus, registry)
	d.Dispatch(context.Background(), "c7", &protocol.Ping{})

	payload := <-received
	bus.Stop()
	assert.Equal(t, "c7", payload.ConnID)
	assert.Equal(t, protocol.OpPing, payload.OpCode)
	assert.Equal(t, "Ping", payload.Description)
}

func TestDispatchOnLaneScheduler(t *testing.T) {
	sched := scheduler.NewLaneScheduler(scheduler.Config{Lanes: 2, QueueSize: 16})
	sched.Start(context.Background())

	d := NewDispatcher(sched, nil, nil)
	done := make(chan string, 1)
	require.NoError(t, d.RegisterHandler(protocol.OpPing, "x", func(_ context.Context, connID string, _ protocol.Packet) error {
		done <- connID
		return nil
	}))
	d.Dispatch(context.Background(), "lane-conn", &protocol.Ping{})

	assert.Equal(t, "lane-conn", <-done)
	sched.Stop()
}

func TestHandlerFailureRaisesEvent(t *testing.T) {
	bus := events.NewEventBus()
	failed := make(chan events.HandlerFailedPayload, 1)
	bus.Subscribe(events.EventHandlerFailed, "test", func(_ context.Context, e events.Event) error {
		failed <- e.Payload.(events.HandlerFailedPayload)
		return nil
	})

	d := NewDispatcher(&recordingScheduler{}, bus, nil)
	require.NoError(t, d.RegisterHandler(protocol.OpPing, "broken", func(context.Context, string, protocol.Packet) error {
		return errors.New("boom")
	}))
	d.Dispatch(context.Background(), "c9", &protocol.Ping{})

	payload := <-failed
	bus.Stop()
	assert.Equal(t, "c9", payload.ConnID)
	assert.Equal(t, protocol.OpPing, payload.OpCode)
	assert.Equal(t, "broken", payload.Handler)
	assert.Contains(t, payload.Error, "boom")
}
