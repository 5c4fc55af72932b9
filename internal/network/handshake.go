package network

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/moongate-community/moongate/internal/config"
	"github.com/moongate-community/moongate/internal/crypto"
	"github.com/moongate-community/moongate/internal/protocol"
)

const (
	rawSeedSize         = 4
	seedPacketSize      = 21
	loginRequestSize    = 62
	loginFieldSize      = 30
	loginAccountOffset  = 1
	loginPasswordOffset = loginAccountOffset + loginFieldSize
)

// CryptoMode selects how the handshake treats login encryption.
type CryptoMode int

const (
	CryptoNone CryptoMode = iota
	CryptoAuto
	CryptoRequired
)

// ParseCryptoMode maps a config value onto a CryptoMode.
func ParseCryptoMode(s string) (CryptoMode, error) {
	switch s {
	case config.CryptoModeNone:
		return CryptoNone, nil
	case config.CryptoModeAuto, "":
		return CryptoAuto, nil
	case config.CryptoModeRequired:
		return CryptoRequired, nil
	default:
		return CryptoNone, fmt.Errorf("unknown crypto mode %q", s)
	}
}

// CipherError terminates a connection whose login bytes could not be
// matched to any configured key pair.
type CipherError struct {
	Seed uint32
	Err  error
}

func (e *CipherError) Error() string {
	return fmt.Sprintf("login cipher (seed %08x): %v", e.Seed, e.Err)
}

func (e *CipherError) Unwrap() error { return e.Err }

// ErrPlaintextRefused is the CipherError cause when encryption is required
// but the client logged in without it.
var ErrPlaintextRefused = errors.New("plaintext login refused")

// HandshakeConfig is shared by every connection's Handshake.
type HandshakeConfig struct {
	Mode CryptoMode
	Keys []crypto.Keys
}

// NewHandshakeConfig builds the handshake configuration from config values.
func NewHandshakeConfig(cfg config.CryptoConfig) (HandshakeConfig, error) {
	mode, err := ParseCryptoMode(cfg.Mode)
	if err != nil {
		return HandshakeConfig{}, err
	}
	hc := HandshakeConfig{Mode: mode}
	for _, s := range cfg.ClientVersions {
		v, err := crypto.ParseClientVersion(s)
		if err != nil {
			return HandshakeConfig{}, err
		}
		hc.Keys = append(hc.Keys, crypto.DeriveKeys(v))
	}
	return hc, nil
}

type handshakeStage int

const (
	stageAwaitingSeed handshakeStage = iota
	stageDetecting
	stageEstablished
)

// Handshake sits in front of the frame decoder. It finds the seed at the
// start of the stream, decides whether the client encrypts, and from then
// on turns socket bytes into plaintext for framing.
type Handshake struct {
	cfg     HandshakeConfig
	stage   handshakeStage
	pending []byte

	seed          uint32
	seedPacket    bool
	clientVersion string
	session       *crypto.Session
	stream        *crypto.LoginStream
}

// NewHandshake starts a handshake awaiting the seed.
func NewHandshake(cfg HandshakeConfig) *Handshake {
	return &Handshake{cfg: cfg}
}

// Feed consumes one chunk from the socket and returns the bytes ready for
// framing, which may be none while the handshake buffers. A *CipherError
// is terminal for the connection.
func (h *Handshake) Feed(chunk []byte) ([]byte, error) {
	if h.stage == stageEstablished {
		return h.decrypt(chunk), nil
	}

	h.pending = append(h.pending, chunk...)
	var out []byte

	if h.stage == stageAwaitingSeed {
		passthrough, ok := h.takeSeed()
		if !ok {
			return nil, nil
		}
		out = passthrough
		h.stage = stageDetecting
	}

	if h.stage == stageDetecting {
		ready, err := h.detect()
		if err != nil {
			return nil, err
		}
		if !ready {
			return out, nil
		}
		h.stage = stageEstablished
		rest := h.pending
		h.pending = nil
		out = append(out, h.decrypt(rest)...)
	}

	return out, nil
}

// takeSeed strips a raw 4-byte seed or parses the 0xEF seed packet, which
// is left in the stream for the decoder.
func (h *Handshake) takeSeed() ([]byte, bool) {
	if len(h.pending) == 0 {
		return nil, false
	}

	if h.pending[0] == protocol.OpLoginSeed {
		if len(h.pending) < seedPacketSize {
			return nil, false
		}
		var seed protocol.LoginSeed
		if err := seed.Decode(h.pending[:seedPacketSize]); err == nil {
			h.seed = seed.Seed
			h.clientVersion = seed.Version()
		}
		h.seedPacket = true
		packet := append([]byte(nil), h.pending[:seedPacketSize]...)
		h.pending = h.pending[seedPacketSize:]
		return packet, true
	}

	if len(h.pending) < rawSeedSize {
		return nil, false
	}
	h.seed = binary.BigEndian.Uint32(h.pending[:rawSeedSize])
	h.pending = h.pending[rawSeedSize:]
	return nil, true
}

// detect decides the encryption of the first post-seed frame. It reports
// false while more bytes are needed.
func (h *Handshake) detect() (bool, error) {
	if h.cfg.Mode == CryptoNone {
		return true, nil
	}
	if len(h.pending) == 0 {
		return false, nil
	}

	// Post-relay game logins are never login-encrypted.
	if h.pending[0] == protocol.OpGameServerLogin {
		return true, nil
	}

	if len(h.pending) < loginRequestSize {
		return false, nil
	}
	sample := h.pending[:loginRequestSize]

	if h.cfg.Mode == CryptoAuto && plausibleLoginRequest(sample) {
		return true, nil
	}

	keys, ok := crypto.FindKeys(sample, h.seed, h.cfg.Keys, plausibleLoginRequest)
	if !ok {
		cause := crypto.ErrCipherMismatch
		if plausibleLoginRequest(sample) {
			cause = ErrPlaintextRefused
		}
		return false, &CipherError{Seed: h.seed, Err: cause}
	}

	h.session = &crypto.Session{Keys: keys, Seed: h.seed}
	h.stream = h.session.NewStream()
	return true, nil
}

func (h *Handshake) decrypt(chunk []byte) []byte {
	out := make([]byte, len(chunk))
	if h.stream == nil {
		copy(out, chunk)
		return out
	}
	h.stream.XORKeyStream(out, chunk)
	return out
}

// Established reports whether the handshake has finished.
func (h *Handshake) Established() bool { return h.stage == stageEstablished }

// Encrypted reports whether a login key pair was selected.
func (h *Handshake) Encrypted() bool { return h.session != nil }

// Seed returns the connection seed once known.
func (h *Handshake) Seed() uint32 { return h.seed }

// ClientVersion returns the version reported by a seed packet, if any.
func (h *Handshake) ClientVersion() string { return h.clientVersion }

// Session returns the selected cipher session, or nil.
func (h *Handshake) Session() *crypto.Session { return h.session }

// plausibleLoginRequest checks a 62-byte candidate for the 0x80 opcode and
// NUL-padded printable account and password fields.
func plausibleLoginRequest(frame []byte) bool {
	if len(frame) < loginRequestSize || frame[0] != protocol.OpLoginRequest {
		return false
	}
	return plausibleField(frame[loginAccountOffset:loginAccountOffset+loginFieldSize], true) &&
		plausibleField(frame[loginPasswordOffset:loginPasswordOffset+loginFieldSize], false)
}

func plausibleField(field []byte, required bool) bool {
	end := len(field)
	for i, b := range field {
		if b == 0 {
			end = i
			break
		}
		if b < 0x20 || b > 0x7E {
			return false
		}
	}
	if required && end == 0 {
		return false
	}
	for _, b := range field[end:] {
		if b != 0 {
			return false
		}
	}
	return true
}
