package protocol

import "fmt"

// Packet is a typed protocol message. Instances are created per decode or
// per send and are never shared between connections.
type Packet interface {
	OpCode() byte
	// Decode populates the packet from one complete frame, opcode included.
	Decode(frame []byte) error
	// Encode returns the complete frame, opcode included.
	Encode() []byte
}

// Constructor builds an empty packet ready to decode.
type Constructor func() Packet

// RawPacket carries an opaque frame for opcodes without a typed packet.
type RawPacket struct {
	Code  byte
	Frame []byte
}

// NewRawConstructor returns a Constructor producing RawPacket values for opcode.
func NewRawConstructor(opcode byte) Constructor {
	return func() Packet { return &RawPacket{Code: opcode} }
}

func (p *RawPacket) OpCode() byte { return p.Code }

func (p *RawPacket) Decode(frame []byte) error {
	if err := expectOpCode(frame, p.Code); err != nil {
		return err
	}
	p.Frame = append([]byte(nil), frame...)
	return nil
}

func (p *RawPacket) Encode() []byte {
	if len(p.Frame) == 0 {
		return []byte{p.Code}
	}
	out := make([]byte, len(p.Frame))
	copy(out, p.Frame)
	out[0] = p.Code
	return out
}

func expectOpCode(frame []byte, opcode byte) error {
	if len(frame) == 0 {
		return ErrShortFrame
	}
	if frame[0] != opcode {
		return fmt.Errorf("%w: expected %s, got %s", ErrOpCodeMismatch, FormatOpCode(opcode), FormatOpCode(frame[0]))
	}
	return nil
}

func expectFixed(frame []byte, opcode byte, length int) error {
	if err := expectOpCode(frame, opcode); err != nil {
		return err
	}
	if len(frame) != length {
		return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortFrame, FormatOpCode(opcode), length, len(frame))
	}
	return nil
}
