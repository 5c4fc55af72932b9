package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// PacketBuilder constructs outbound frames in wire order.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder starts a frame with opcode.
func NewPacketBuilder(opcode byte) *PacketBuilder {
	b := &PacketBuilder{}
	b.buf.WriteByte(opcode)
	return b
}

// NewVariablePacketBuilder starts a variable-length frame; the length field
// is reserved and patched by BuildVariable.
func NewVariablePacketBuilder(opcode byte) *PacketBuilder {
	b := NewPacketBuilder(opcode)
	b.buf.Write([]byte{0, 0})
	return b
}

func (b *PacketBuilder) WriteUint8(v byte) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

func (b *PacketBuilder) WriteBool(v bool) *PacketBuilder {
	if v {
		return b.WriteUint8(1)
	}
	return b.WriteUint8(0)
}

func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

// WriteFixedString writes s truncated or NUL-padded to exactly n bytes.
func (b *PacketBuilder) WriteFixedString(s string, n int) *PacketBuilder {
	data := []byte(s)
	if len(data) > n {
		data = data[:n]
	}
	b.buf.Write(data)
	for i := len(data); i < n; i++ {
		b.buf.WriteByte(0)
	}
	return b
}

func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the frame as written.
func (b *PacketBuilder) Build() []byte {
	return append([]byte(nil), b.buf.Bytes()...)
}

// BuildVariable returns the frame with the total length patched into
// bytes 1..2. Frames larger than MaxFrameSize are truncated to it.
func (b *PacketBuilder) BuildVariable() []byte {
	data := b.Build()
	if len(data) > MaxFrameSize {
		data = data[:MaxFrameSize]
	}
	if len(data) >= VariableHeaderSize {
		binary.BigEndian.PutUint16(data[1:3], uint16(len(data)))
	}
	return data
}

// Len returns the current size of the frame being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current frame for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}
