package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DecodeResult reports one pass of the FrameDecoder over a window.
type DecodeResult struct {
	// Consumed is how many bytes from the head of the window were used,
	// including skipped bytes. Always <= len(window).
	Consumed int
	// Frames is the number of packets handed to the sink.
	Frames int
	// Skipped counts bytes dropped by desync recovery.
	Skipped int
	// Stall is set when decoding stopped on bytes it cannot make progress
	// on without outside help. It wraps ErrUnknownOpcode, ErrUnboundOpcode
	// or ErrDecodeFailed. Waiting for more bytes is not a stall.
	Stall error
}

// FrameDecoder turns an accumulated receive window into packets.
// It holds no per-connection state and is safe for concurrent use.
type FrameDecoder struct {
	registry  *Registry
	factories *FactoryTable
	logger    zerolog.Logger
}

// NewFrameDecoder creates a decoder over registry and factories.
func NewFrameDecoder(registry *Registry, factories *FactoryTable) *FrameDecoder {
	return &FrameDecoder{
		registry:  registry,
		factories: factories,
		logger:    log.With().Str("component", "frame_decoder").Logger(),
	}
}

// Decode emits every complete frame at the head of window to sink and
// returns how far it got. The window itself is never modified; packets
// receive a private copy of their frame.
func (d *FrameDecoder) Decode(window []byte, sink func(Packet)) DecodeResult {
	var res DecodeResult

	for {
		avail := window[res.Consumed:]
		if len(avail) == 0 {
			return res
		}

		opcode := avail[0]
		var size int

		switch length := d.registry.Lookup(opcode); length.Kind {
		case NotRegistered:
			d.logger.Warn().
				Str("opcode", FormatOpCode(opcode)).
				Int("pending", len(avail)).
				Msg("unregistered opcode, holding window")
			res.Stall = fmt.Errorf("%w: %s", ErrUnknownOpcode, FormatOpCode(opcode))
			return res

		case Fixed:
			if len(avail) < length.Size {
				return res
			}
			size = length.Size

		case Variable:
			if len(avail) < variableMinWindow {
				return res
			}
			declared := int(binary.BigEndian.Uint16(avail[1:3]))
			if declared < VariableHeaderSize || declared > len(avail) {
				d.logger.Debug().
					Str("opcode", FormatOpCode(opcode)).
					Int("declared", declared).
					Int("available", len(avail)).
					Msg("declared length out of window, skipping one byte")
				res.Consumed++
				res.Skipped++
				continue
			}
			size = declared
		}

		pkt, ok := d.factories.Build(opcode)
		if !ok {
			d.logger.Warn().
				Str("opcode", FormatOpCode(opcode)).
				Str("packet", d.registry.Describe(opcode)).
				Msg("no factory bound, holding window")
			res.Stall = fmt.Errorf("%w: %s", ErrUnboundOpcode, FormatOpCode(opcode))
			return res
		}

		frame := make([]byte, size)
		copy(frame, avail[:size])
		if err := pkt.Decode(frame); err != nil {
			d.logger.Warn().
				Err(err).
				Str("opcode", FormatOpCode(opcode)).
				Str("packet", d.registry.Describe(opcode)).
				Int("size", size).
				Msg("packet rejected its frame, holding window")
			res.Stall = fmt.Errorf("%w: %s: %w", ErrDecodeFailed, FormatOpCode(opcode), err)
			return res
		}

		if sink != nil {
			sink(pkt)
		}
		res.Consumed += size
		res.Frames++
	}
}
