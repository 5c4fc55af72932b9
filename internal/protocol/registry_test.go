package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryFirstRegistrationWins(t *testing.T) {
	r := NewRegistry()

	require.True(t, r.Register(0x73, 2, "Ping"))
	assert.False(t, r.Register(0x73, 10, "Not Ping"))

	assert.Equal(t, 2, r.LengthOf(0x73))
	assert.Equal(t, "Ping", r.Describe(0x73))
	assert.Equal(t, 1, r.Count())
}

func TestRegistryRejectsInvalidLengths(t *testing.T) {
	r := NewRegistry()

	for _, length := range []int{0, -2, MaxFrameSize + 1} {
		assert.False(t, r.Register(0x10, length, "bad"), "length %d", length)
	}
	assert.False(t, r.IsRegistered(0x10))
}

func TestRegistryLookupIsTagged(t *testing.T) {
	r := NewRegistry()
	r.Register(0x73, 2, "Ping")
	r.Register(0xBF, VariableLength, "General Information")

	assert.Equal(t, Length{Kind: Fixed, Size: 2}, r.Lookup(0x73))
	assert.Equal(t, Length{Kind: Variable}, r.Lookup(0xBF))
	assert.Equal(t, Length{Kind: NotRegistered}, r.Lookup(0x99))

	// The raw sentinel cannot tell these two apart; Lookup can.
	assert.Equal(t, r.LengthOf(0xBF), r.LengthOf(0x99))
}

func TestRegistryDescribeUnknown(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, UnknownDescription, r.Describe(0x42))

	_, ok := r.Definition(0x42)
	assert.False(t, ok)
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(0xBF, VariableLength, "General Information")
	r.Register(0x02, 7, "Move Request")
	r.Register(0x73, 2, "Ping")

	defs := r.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, byte(0x02), defs[0].OpCode)
	assert.Equal(t, byte(0x73), defs[1].OpCode)
	assert.Equal(t, byte(0xBF), defs[2].OpCode)
	assert.True(t, defs[2].IsVariable())
}

func TestRegisterDefaults(t *testing.T) {
	r := NewRegistry()
	added := RegisterDefaults(r)

	assert.Equal(t, len(DefaultDefinitions), added)
	assert.GreaterOrEqual(t, r.Count(), 100)

	cases := []struct {
		opcode byte
		length Length
	}{
		{0x02, Length{Kind: Fixed, Size: 7}},
		{0x73, Length{Kind: Fixed, Size: 2}},
		{0x80, Length{Kind: Fixed, Size: 62}},
		{0x91, Length{Kind: Fixed, Size: 65}},
		{0xEF, Length{Kind: Fixed, Size: 21}},
		{0xBF, Length{Kind: Variable}},
		{0xD6, Length{Kind: Variable}},
		{0x3A, Length{Kind: Variable}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.length, r.Lookup(tc.opcode), FormatOpCode(tc.opcode))
	}

	// A second load keeps the first definitions and adds nothing.
	assert.Zero(t, RegisterDefaults(r))
}

func TestDefaultDefinitionsHaveUniqueOpcodes(t *testing.T) {
	seen := make(map[byte]string)
	for _, def := range DefaultDefinitions {
		prev, dup := seen[def.OpCode]
		assert.False(t, dup, "%s listed as %q and %q", FormatOpCode(def.OpCode), prev, def.Description)
		seen[def.OpCode] = def.Description
	}
}
