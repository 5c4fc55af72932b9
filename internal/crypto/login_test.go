package crypto

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) ClientVersion {
	t.Helper()
	v, err := ParseClientVersion(s)
	require.NoError(t, err)
	return v
}

func TestParseClientVersion(t *testing.T) {
	v := mustParse(t, "7.0.15.1")
	assert.Equal(t, ClientVersion{Major: 7, Minor: 0, Revision: 15, Prototype: 1}, v)
	assert.Equal(t, "7.0.15.1", v.String())

	v = mustParse(t, " 5.0.9 ")
	assert.Equal(t, ClientVersion{Major: 5, Minor: 0, Revision: 9}, v)

	for _, bad := range []string{"", "7", "7.0", "7.0.x.1", "1.2.3.4.5", "7.0.-1.0"} {
		_, err := ParseClientVersion(bad)
		assert.Error(t, err, bad)
	}
}

func TestDeriveKeysDeterministic(t *testing.T) {
	v := mustParse(t, "7.0.15.1")
	assert.Equal(t, DeriveKeys(v), DeriveKeys(v))
}

func TestDeriveKeysIgnoresPrototype(t *testing.T) {
	assert.Equal(t, DeriveKeys(mustParse(t, "7.0.15.0")), DeriveKeys(mustParse(t, "7.0.15.1")))
}

func TestDeriveKeysDistinguishesVersions(t *testing.T) {
	seen := make(map[Keys]string)
	for _, s := range []string{"4.0.11", "5.0.9", "6.0.14.2", "7.0.15.1", "7.0.86.2"} {
		k := DeriveKeys(mustParse(t, s))
		prev, dup := seen[k]
		assert.False(t, dup, "%s collides with %s", s, prev)
		seen[k] = s
	}
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	big := make([]byte, 1000)
	rng.Read(big)

	combos := []struct {
		version string
		seed    uint32
	}{
		{"7.0.15.1", 0x00000000},
		{"6.0.14.2", 0x7F000001},
		{"5.0.9.0", 0xDEADBEEF},
		{"7.0.86.2", 0xFFFFFFFF},
	}
	inputs := [][]byte{{}, {0x80}, big}

	for _, c := range combos {
		keys := DeriveKeys(mustParse(t, c.version))
		for _, in := range inputs {
			original := append([]byte(nil), in...)

			enc := Encrypt(in, keys, c.seed)
			assert.Equal(t, original, in, "Encrypt mutated its input")
			require.Len(t, enc, len(in))

			dec := Decrypt(enc, keys, c.seed)
			assert.Equal(t, original, dec, "%s seed=%08x len=%d", c.version, c.seed, len(in))
		}
	}
}

func TestDecryptDoesNotMutateInput(t *testing.T) {
	keys := DeriveKeys(mustParse(t, "7.0.15.1"))
	enc := Encrypt([]byte("some login bytes"), keys, 1)
	snapshot := append([]byte(nil), enc...)

	Decrypt(enc, keys, 1)
	assert.Equal(t, snapshot, enc)
}

func TestSeedSensitivity(t *testing.T) {
	keys := DeriveKeys(mustParse(t, "7.0.15.1"))
	plain := bytes.Repeat([]byte{0x41}, 62)

	assert.NotEqual(t, Encrypt(plain, keys, 1), Encrypt(plain, keys, 2))
	assert.NotEqual(t, Encrypt(plain, keys, 0x0100), Encrypt(plain, keys, 0x0200))
}

func TestKeySensitivity(t *testing.T) {
	a := DeriveKeys(mustParse(t, "7.0.15.1"))
	b := DeriveKeys(mustParse(t, "6.0.14.2"))
	plain := bytes.Repeat([]byte{0x41}, 62)

	assert.NotEqual(t, Encrypt(plain, a, 7), Encrypt(plain, b, 7))
}

func TestStreamMatchesOneShot(t *testing.T) {
	keys := DeriveKeys(mustParse(t, "7.0.15.1"))
	plain := make([]byte, 200)
	for i := range plain {
		plain[i] = byte(i)
	}
	want := Encrypt(plain, keys, 99)

	stream := Session{Keys: keys, Seed: 99}.NewStream()
	got := make([]byte, 0, len(plain))
	for _, chunk := range [][]byte{plain[:1], plain[1:62], plain[62:63], plain[63:]} {
		out := make([]byte, len(chunk))
		stream.XORKeyStream(out, chunk)
		got = append(got, out...)
	}
	assert.Equal(t, want, got)
}

func TestXORKeyStreamInPlace(t *testing.T) {
	keys := DeriveKeys(mustParse(t, "7.0.15.1"))
	buf := []byte("in place")
	want := Encrypt(buf, keys, 5)

	NewLoginStream(keys, 5).XORKeyStream(buf, buf)
	assert.Equal(t, want, buf)
}

func TestFindKeys(t *testing.T) {
	right := DeriveKeys(mustParse(t, "7.0.15.1"))
	wrong := DeriveKeys(mustParse(t, "5.0.9.0"))
	plain := append([]byte{0x80}, bytes.Repeat([]byte{0x61}, 61)...)
	sample := Encrypt(plain, right, 1234)

	accept := func(p []byte) bool { return bytes.Equal(p, plain) }

	keys, ok := FindKeys(sample, 1234, []Keys{wrong, right}, accept)
	require.True(t, ok)
	assert.Equal(t, right, keys)

	_, ok = FindKeys(sample, 1234, []Keys{wrong}, accept)
	assert.False(t, ok)
}
