package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/moongate-community/moongate/internal/dispatch"
	"github.com/moongate-community/moongate/internal/events"
	"github.com/moongate-community/moongate/internal/metrics"
	"github.com/moongate-community/moongate/internal/protocol"
	"github.com/moongate-community/moongate/internal/scheduler"
)

// ErrEmptyFrame is returned when asked to send zero bytes.
var ErrEmptyFrame = errors.New("empty frame")

// Outbound funnels every write through a unit of work named after the
// target connection and opcode.
type Outbound struct {
	registry *ConnectionRegistry
	sched    scheduler.Scheduler
	bus      *events.EventBus
	describe func(byte) string
	logger   zerolog.Logger
}

// NewOutbound creates the send queue. bus and packets may be nil.
func NewOutbound(registry *ConnectionRegistry, sched scheduler.Scheduler, bus *events.EventBus, packets *protocol.Registry) *Outbound {
	o := &Outbound{
		registry: registry,
		sched:    sched,
		bus:      bus,
		describe: func(byte) string { return protocol.UnknownDescription },
		logger:   log.With().Str("component", "outbound").Logger(),
	}
	if packets != nil {
		o.describe = packets.Describe
	}
	return o
}

// Send encodes p and queues it for connID.
func (o *Outbound) Send(ctx context.Context, connID string, p protocol.Packet) error {
	return o.SendRaw(ctx, connID, p.Encode())
}

// SendRaw queues an already encoded frame for connID. A connection that
// closes before the unit runs makes the unit fail and log; it is not
// reported here.
func (o *Outbound) SendRaw(ctx context.Context, connID string, frame []byte) error {
	if len(frame) == 0 {
		return ErrEmptyFrame
	}
	if _, ok := o.registry.Get(connID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
	}

	payload := make([]byte, len(frame))
	copy(payload, frame)
	opcode := payload[0]

	return o.sched.Submit(ctx, dispatch.UnitName(connID, opcode), func(ctx context.Context) error {
		return o.write(ctx, connID, opcode, payload)
	})
}

func (o *Outbound) write(ctx context.Context, connID string, opcode byte, payload []byte) error {
	c, ok := o.registry.Get(connID)
	if !ok {
		o.logger.Debug().
			Str("conn", connID).
			Str("opcode", protocol.FormatOpCode(opcode)).
			Msg("dropping frame for departed connection")
		return nil
	}

	if err := c.Write(payload); err != nil {
		o.logger.Warn().
			Err(err).
			Str("conn", connID).
			Str("opcode", protocol.FormatOpCode(opcode)).
			Msg("failed to send frame")
		return err
	}

	metrics.BytesSent.Add(float64(len(payload)))
	metrics.FramesSent.WithLabelValues(protocol.FormatOpCode(opcode)).Inc()

	if o.bus != nil {
		o.bus.Emit(ctx, events.Event{
			Type:   events.EventPacketSent,
			Source: connID,
			Payload: events.PacketPayload{
				ConnID:      connID,
				OpCode:      opcode,
				Description: o.describe(opcode),
				Size:        len(payload),
			},
		})
	}
	return nil
}

// Broadcast sends p to every live connection not in exclude and returns
// how many sends were queued.
func (o *Outbound) Broadcast(ctx context.Context, p protocol.Packet, exclude ...string) int {
	return o.BroadcastRaw(ctx, p.Encode(), exclude...)
}

// BroadcastRaw sends frame to every live connection not in exclude. The
// target list is a snapshot; a failure for one target is logged and the
// fan-out continues.
func (o *Outbound) BroadcastRaw(ctx context.Context, frame []byte, exclude ...string) int {
	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	queued := 0
	for _, c := range o.registry.Snapshot() {
		if _, excluded := skip[c.ID()]; excluded {
			continue
		}
		if err := o.SendRaw(ctx, c.ID(), frame); err != nil {
			o.logger.Warn().
				Err(err).
				Str("conn", c.ID()).
				Msg("broadcast target failed")
			continue
		}
		queued++
	}
	return queued
}
