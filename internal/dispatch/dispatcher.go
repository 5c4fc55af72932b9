// Package dispatch routes decoded packets to the handlers registered for
// their opcode. Every handler invocation is its own scheduled unit of work.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/moongate-community/moongate/internal/events"
	"github.com/moongate-community/moongate/internal/metrics"
	"github.com/moongate-community/moongate/internal/protocol"
	"github.com/moongate-community/moongate/internal/scheduler"
)

// ErrDuplicateHandler is returned when a handler name is registered twice
// for the same opcode.
var ErrDuplicateHandler = errors.New("handler already registered")

// HandlerFunc consumes one decoded packet for a connection.
type HandlerFunc func(ctx context.Context, connID string, p protocol.Packet) error

// DispatchError wraps a handler failure with the context it ran in.
type DispatchError struct {
	OpCode  byte
	ConnID  string
	Handler string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("handler %s for %s on %s: %v", e.Handler, protocol.FormatOpCode(e.OpCode), e.ConnID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

type handlerEntry struct {
	name string
	fn   HandlerFunc
}

// Dispatcher holds an ordered handler list per opcode.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[byte][]handlerEntry

	sched    scheduler.Scheduler
	bus      *events.EventBus
	registry *protocol.Registry
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher that runs handlers on sched. bus and
// registry may be nil; registry is only used for log descriptions.
func NewDispatcher(sched scheduler.Scheduler, bus *events.EventBus, registry *protocol.Registry) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[byte][]handlerEntry),
		sched:    sched,
		bus:      bus,
		registry: registry,
		logger:   log.With().Str("component", "dispatcher").Logger(),
	}
}

// UnitName is the scheduler name for work on connID triggered by opcode.
func UnitName(connID string, opcode byte) string {
	return connID + ":" + protocol.FormatOpCode(opcode)
}

// RegisterHandler appends fn to the opcode's handler list under name.
func (d *Dispatcher) RegisterHandler(opcode byte, name string, fn HandlerFunc) error {
	if fn == nil {
		return fmt.Errorf("nil handler %q for %s", name, protocol.FormatOpCode(opcode))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, h := range d.handlers[opcode] {
		if h.name == name {
			return fmt.Errorf("%w: %s for %s", ErrDuplicateHandler, name, protocol.FormatOpCode(opcode))
		}
	}
	d.handlers[opcode] = append(d.handlers[opcode], handlerEntry{name: name, fn: fn})

	d.logger.Debug().
		Str("opcode", protocol.FormatOpCode(opcode)).
		Str("handler", name).
		Msg("handler registered")
	return nil
}

// Unregister removes the named handler and reports whether it existed.
func (d *Dispatcher) Unregister(opcode byte, name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.handlers[opcode]
	for i, h := range list {
		if h.name == name {
			d.handlers[opcode] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// HandlerCount returns the number of handlers bound to opcode.
func (d *Dispatcher) HandlerCount(opcode byte) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[opcode])
}

// HandlerNames returns the handler names bound to opcode in order.
func (d *Dispatcher) HandlerNames(opcode byte) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.handlers[opcode]))
	for _, h := range d.handlers[opcode] {
		names = append(names, h.name)
	}
	return names
}

// Dispatch submits one unit of work per handler bound to p's opcode.
// A packet nobody handles is logged and dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, connID string, p protocol.Packet) {
	opcode := p.OpCode()

	d.mu.RLock()
	handlers := make([]handlerEntry, len(d.handlers[opcode]))
	copy(handlers, d.handlers[opcode])
	d.mu.RUnlock()

	if d.bus != nil {
		d.bus.Emit(ctx, events.Event{
			Type:   events.EventPacketReceived,
			Source: connID,
			Payload: events.PacketPayload{
				ConnID:      connID,
				OpCode:      opcode,
				Description: d.describe(opcode),
			},
		})
	}

	if len(handlers) == 0 {
		metrics.UnhandledPackets.WithLabelValues(protocol.FormatOpCode(opcode)).Inc()
		d.logger.Debug().
			Str("conn", connID).
			Str("opcode", protocol.FormatOpCode(opcode)).
			Str("packet", d.describe(opcode)).
			Msg("no handler registered, dropping packet")
		return
	}

	name := UnitName(connID, opcode)
	for _, h := range handlers {
		h := h
		err := d.sched.Submit(ctx, name, func(ctx context.Context) error {
			return d.invoke(ctx, connID, opcode, h, p)
		})
		if err != nil {
			d.logger.Error().
				Err(err).
				Str("conn", connID).
				Str("opcode", protocol.FormatOpCode(opcode)).
				Str("handler", h.name).
				Msg("failed to schedule handler")
		}
	}
}

func (d *Dispatcher) invoke(ctx context.Context, connID string, opcode byte, h handlerEntry, p protocol.Packet) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			metrics.HandlerErrors.WithLabelValues(protocol.FormatOpCode(opcode)).Inc()
			err = &DispatchError{OpCode: opcode, ConnID: connID, Handler: h.name, Err: err}
			d.logger.Error().
				Err(err).
				Str("conn", connID).
				Str("opcode", protocol.FormatOpCode(opcode)).
				Str("packet", d.describe(opcode)).
				Str("handler", h.name).
				Msg("packet handler failed")
			if d.bus != nil {
				d.bus.Emit(ctx, events.Event{
					Type:   events.EventHandlerFailed,
					Source: connID,
					Payload: events.HandlerFailedPayload{
						ConnID:  connID,
						OpCode:  opcode,
						Handler: h.name,
						Error:   err.Error(),
					},
				})
			}
		}
	}()
	return h.fn(ctx, connID, p)
}

func (d *Dispatcher) describe(opcode byte) string {
	if d.registry == nil {
		return protocol.UnknownDescription
	}
	return d.registry.Describe(opcode)
}
