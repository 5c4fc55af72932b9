package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rejectingPacket struct{ code byte }

func (p *rejectingPacket) OpCode() byte          { return p.code }
func (p *rejectingPacket) Decode(_ []byte) error { return errors.New("malformed") }
func (p *rejectingPacket) Encode() []byte        { return []byte{p.code} }

func newTestDecoder(t *testing.T) (*Registry, *FactoryTable, *FrameDecoder) {
	t.Helper()
	r := NewRegistry()
	require.True(t, r.Register(OpPing, 2, "Ping"))
	require.True(t, r.Register(OpGeneralInformation, VariableLength, "General Information"))
	f := NewFactoryTable(r)
	require.True(t, f.Bind(OpPing, func() Packet { return &Ping{} }))
	require.True(t, f.Bind(OpGeneralInformation, NewRawConstructor(OpGeneralInformation)))
	return r, f, NewFrameDecoder(r, f)
}

func collect(d *FrameDecoder, window []byte) ([]Packet, DecodeResult) {
	var out []Packet
	res := d.Decode(window, func(p Packet) { out = append(out, p) })
	return out, res
}

func TestDecodePingScenario(t *testing.T) {
	_, _, d := newTestDecoder(t)

	packets, res := collect(d, []byte{0x73, 0x05})

	require.Len(t, packets, 1)
	ping, ok := packets[0].(*Ping)
	require.True(t, ok)
	assert.Equal(t, byte(5), ping.Sequence)
	assert.Equal(t, 2, res.Consumed)
	assert.Equal(t, 1, res.Frames)
	assert.NoError(t, res.Stall)
}

func TestDecodeVariableScenario(t *testing.T) {
	_, _, d := newTestDecoder(t)
	window := []byte{0xBF, 0x00, 0x06, 0xAA, 0xBB, 0xCC}

	packets, res := collect(d, window)

	require.Len(t, packets, 1)
	raw := packets[0].(*RawPacket)
	assert.Equal(t, window, raw.Frame)
	assert.Equal(t, 6, res.Consumed)
	assert.Zero(t, res.Skipped)
}

func TestDecodeOversizedDeclarationScenario(t *testing.T) {
	_, _, d := newTestDecoder(t)
	window := append([]byte{0xBF, 0x01, 0x2C}, bytes.Repeat([]byte{0x00}, 50)...)

	var res DecodeResult
	require.NotPanics(t, func() { _, res = collect(d, window) })

	assert.GreaterOrEqual(t, res.Consumed, 1)
	assert.LessOrEqual(t, res.Consumed, 52)
	assert.GreaterOrEqual(t, res.Skipped, 1)
	assert.Zero(t, res.Frames)
}

func TestDecodeExactConsumptionForEveryFixedDefault(t *testing.T) {
	r := NewRegistry()
	RegisterDefaults(r)
	f := NewFactoryTable(r)
	for _, def := range r.Definitions() {
		f.Bind(def.OpCode, NewRawConstructor(def.OpCode))
	}
	d := NewFrameDecoder(r, f)

	for _, def := range r.Definitions() {
		if def.IsVariable() {
			continue
		}
		window := make([]byte, def.Length)
		window[0] = def.OpCode

		packets, res := collect(d, window)
		assert.Len(t, packets, 1, def.Description)
		assert.Equal(t, def.Length, res.Consumed, def.Description)
		assert.NoError(t, res.Stall, def.Description)
	}
}

func TestDecodeVariableExactConsumption(t *testing.T) {
	_, _, d := newTestDecoder(t)

	for _, payload := range []int{1, 17, 300} {
		frame := NewVariablePacketBuilder(OpGeneralInformation).
			WriteBytes(bytes.Repeat([]byte{0x5A}, payload)).
			BuildVariable()

		packets, res := collect(d, frame)
		require.Len(t, packets, 1)
		assert.Equal(t, payload+VariableHeaderSize, res.Consumed)
	}
}

func TestDecodeWaitsForMoreBytes(t *testing.T) {
	_, _, d := newTestDecoder(t)

	cases := map[string][]byte{
		"empty":             {},
		"partial fixed":     {0x73},
		"short var header":  {0xBF, 0x00, 0x08},
		"ping then partial": {0x73, 0x01, 0x73},
	}
	for name, window := range cases {
		t.Run(name, func(t *testing.T) {
			_, res := collect(d, window)
			assert.NoError(t, res.Stall)
			assert.Less(t, res.Consumed, len(window)+1)
			if len(window) > 0 && res.Frames == 0 {
				assert.Zero(t, res.Consumed)
			}
		})
	}
}

func TestDecodeAcrossChunks(t *testing.T) {
	_, _, d := newTestDecoder(t)
	chunks := [][]byte{
		{0x73},
		{0x01, 0xBF, 0x00, 0x05, 0x01, 0x02, 0x73},
		{0x02},
	}

	var window []byte
	var seqs []byte
	frames := 0
	for _, chunk := range chunks {
		window = append(window, chunk...)
		res := d.Decode(window, func(p Packet) {
			frames++
			if ping, ok := p.(*Ping); ok {
				seqs = append(seqs, ping.Sequence)
			}
		})
		require.NoError(t, res.Stall)
		window = window[res.Consumed:]
	}

	assert.Empty(t, window)
	assert.Equal(t, 3, frames)
	assert.Equal(t, []byte{1, 2}, seqs)
}

// A variable frame whose tail has not arrived yet is treated as desync.
func TestDecodeSplitVariableFrameIsSkipped(t *testing.T) {
	_, _, d := newTestDecoder(t)

	_, res := collect(d, []byte{0xBF, 0x00, 0x08, 0x01})

	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Consumed)
}

func TestDecodeUnregisteredOpcodeStalls(t *testing.T) {
	_, _, d := newTestDecoder(t)
	window := []byte{0x73, 0x09, 0x42, 0x73, 0x01}

	packets, res := collect(d, window)

	assert.Len(t, packets, 1)
	assert.Equal(t, 2, res.Consumed)
	assert.ErrorIs(t, res.Stall, ErrUnknownOpcode)
}

func TestDecodeUnboundOpcodeStalls(t *testing.T) {
	r, _, d := newTestDecoder(t)
	require.True(t, r.Register(0x02, 7, "Move Request"))

	_, res := collect(d, []byte{0x02, 0, 0, 0, 0, 0, 0})

	assert.Zero(t, res.Consumed)
	assert.ErrorIs(t, res.Stall, ErrUnboundOpcode)
}

func TestDecodeFailureDoesNotAdvance(t *testing.T) {
	r, f, d := newTestDecoder(t)
	require.True(t, r.Register(0x05, 5, "Request Attack"))
	require.True(t, f.Bind(0x05, func() Packet { return &rejectingPacket{code: 0x05} }))
	window := []byte{0x73, 0x01, 0x05, 1, 2, 3, 4, 0x73, 0x02}

	packets, res := collect(d, window)
	assert.Len(t, packets, 1)
	assert.Equal(t, 2, res.Consumed)
	assert.ErrorIs(t, res.Stall, ErrDecodeFailed)

	// Re-running over the same bytes reaches the same stall without moving.
	_, again := collect(d, window[res.Consumed:])
	assert.Zero(t, again.Consumed)
	assert.ErrorIs(t, again.Stall, ErrDecodeFailed)
}

func TestDecodeDesyncAlwaysMakesProgress(t *testing.T) {
	_, _, d := newTestDecoder(t)
	// Every byte is 0xBF declaring a length of 0xBFBF.
	window := bytes.Repeat([]byte{0xBF}, 64)

	iterations := 0
	for len(window) > 0 && iterations <= 64 {
		res := d.Decode(window, nil)
		if res.Consumed == 0 {
			break
		}
		window = window[res.Consumed:]
		iterations++
	}

	assert.LessOrEqual(t, iterations, 64)
	assert.Less(t, len(window), variableMinWindow)
}

func TestDecodeUndersizedDeclarationSkips(t *testing.T) {
	_, _, d := newTestDecoder(t)

	_, res := collect(d, []byte{0xBF, 0x00, 0x02, 0x73, 0x07})

	assert.Equal(t, 1, res.Skipped)
	// 0x00 is unregistered in this table, so the window stalls after the skip.
	assert.ErrorIs(t, res.Stall, ErrUnknownOpcode)
	assert.Equal(t, 1, res.Consumed)
}

func TestDecodeDoesNotAliasWindow(t *testing.T) {
	_, _, d := newTestDecoder(t)
	window := []byte{0xBF, 0x00, 0x04, 0x11}

	packets, _ := collect(d, window)
	require.Len(t, packets, 1)
	window[3] = 0xFF

	assert.Equal(t, byte(0x11), packets[0].(*RawPacket).Frame[3])
}
