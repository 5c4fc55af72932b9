package crypto

import "errors"

// ErrCipherMismatch is returned when no configured key pair produces a
// well-formed login request.
var ErrCipherMismatch = errors.New("no login key matches client data")

// Keys is the login key pair derived from a client version.
type Keys struct {
	Key1 uint32
	Key2 uint32
}

// DeriveKeys computes the login key pair for v. The prototype part does
// not take part in the derivation.
func DeriveKeys(v ClientVersion) Keys {
	major, minor, rev := v.Major, v.Minor, v.Revision

	key1 := (major << 23) | (minor << 14) | (rev << 4)
	key1 ^= (rev * rev) << 9
	key1 ^= minor * minor
	key1 ^= (minor * 11) << 24
	key1 ^= (rev * 7) << 19
	key1 ^= 0x2C13A5FD

	key2 := (major << 22) | (rev << 13) | (minor << 3)
	key2 ^= (rev * rev * 3) << 10
	key2 ^= minor * minor
	key2 ^= (minor * 13) << 23
	key2 ^= (rev * 7) << 18
	key2 ^= 0xA31D527F

	return Keys{Key1: key1, Key2: key2}
}

// Session is the immutable cipher state chosen for one connection.
type Session struct {
	Keys Keys
	Seed uint32
}

// NewStream starts the keystream at its first byte.
func (s Session) NewStream() *LoginStream {
	return NewLoginStream(s.Keys, s.Seed)
}

// LoginStream is the stateful keystream. It continues across calls so a
// connection can decrypt its input chunk by chunk. Not safe for concurrent use.
type LoginStream struct {
	keys   Keys
	table1 uint32
	table2 uint32
}

// NewLoginStream seeds a keystream.
func NewLoginStream(keys Keys, seed uint32) *LoginStream {
	return &LoginStream{
		keys:   keys,
		table1: (((^seed) ^ 0x00001357) << 16) | ((seed ^ 0xFFFFAAAA) & 0x0000FFFF),
		table2: ((seed ^ 0x43210000) >> 16) | (((^seed) ^ 0xABCDFFFF) & 0xFFFF0000),
	}
}

// XORKeyStream writes src combined with the keystream into dst, which must
// be at least len(src) long. dst and src may overlap entirely.
func (s *LoginStream) XORKeyStream(dst, src []byte) {
	if len(dst) < len(src) {
		panic("crypto: output smaller than input")
	}
	for i, b := range src {
		dst[i] = b ^ byte(s.table1)
		s.advance()
	}
}

func (s *LoginStream) advance() {
	t1, t2 := s.table1, s.table2

	high := t1 << 31
	next2 := ((((t2 >> 1) | high) ^ (s.keys.Key1 - 1)) >> 1) | high
	next2 ^= s.keys.Key1
	next1 := ((t1 >> 1) | (t2 << 31)) ^ s.keys.Key2

	s.table1 = next1
	s.table2 = next2
}

// Encrypt returns src encrypted under keys and seed. src is not modified.
func Encrypt(src []byte, keys Keys, seed uint32) []byte {
	out := make([]byte, len(src))
	NewLoginStream(keys, seed).XORKeyStream(out, src)
	return out
}

// Decrypt reverses Encrypt. src is not modified.
func Decrypt(src []byte, keys Keys, seed uint32) []byte {
	return Encrypt(src, keys, seed)
}

// FindKeys returns the first candidate whose decryption of sample is
// accepted by accept.
func FindKeys(sample []byte, seed uint32, candidates []Keys, accept func(plain []byte) bool) (Keys, bool) {
	for _, keys := range candidates {
		if accept(Decrypt(sample, keys, seed)) {
			return keys, true
		}
	}
	return Keys{}, false
}
