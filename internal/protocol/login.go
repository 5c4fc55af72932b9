package protocol

import "fmt"

const (
	accountFieldSize  = 30
	passwordFieldSize = 30

	loginSeedSize       = 21
	loginRequestSize    = 62
	loginDeniedSize     = 2
	gameServerLoginSize = 65
)

// LoginSeed is sent first by 6.0.5+ clients instead of a raw 4-byte seed.
type LoginSeed struct {
	Seed      uint32
	Major     uint32
	Minor     uint32
	Revision  uint32
	Prototype uint32
}

func (p *LoginSeed) OpCode() byte { return OpLoginSeed }

func (p *LoginSeed) Decode(frame []byte) error {
	if err := expectFixed(frame, OpLoginSeed, loginSeedSize); err != nil {
		return err
	}
	r := NewReader(frame[1:])
	p.Seed = r.ReadUint32()
	p.Major = r.ReadUint32()
	p.Minor = r.ReadUint32()
	p.Revision = r.ReadUint32()
	p.Prototype = r.ReadUint32()
	return r.Err()
}

func (p *LoginSeed) Encode() []byte {
	return NewPacketBuilder(OpLoginSeed).
		WriteUint32(p.Seed).
		WriteUint32(p.Major).
		WriteUint32(p.Minor).
		WriteUint32(p.Revision).
		WriteUint32(p.Prototype).
		Build()
}

// Version renders the reported client version as major.minor.revision.prototype.
func (p *LoginSeed) Version() string {
	return fmt.Sprintf("%d.%d.%d.%d", p.Major, p.Minor, p.Revision, p.Prototype)
}

// LoginRequest is the account login sent to the login server.
type LoginRequest struct {
	Account      string
	Password     string
	NextLoginKey byte
}

func (p *LoginRequest) OpCode() byte { return OpLoginRequest }

func (p *LoginRequest) Decode(frame []byte) error {
	if err := expectFixed(frame, OpLoginRequest, loginRequestSize); err != nil {
		return err
	}
	r := NewReader(frame[1:])
	p.Account = r.ReadFixedString(accountFieldSize)
	p.Password = r.ReadFixedString(passwordFieldSize)
	p.NextLoginKey = r.ReadUint8()
	if err := r.Err(); err != nil {
		return err
	}
	if p.Account == "" {
		return fmt.Errorf("login request with empty account")
	}
	return nil
}

func (p *LoginRequest) Encode() []byte {
	return NewPacketBuilder(OpLoginRequest).
		WriteFixedString(p.Account, accountFieldSize).
		WriteFixedString(p.Password, passwordFieldSize).
		WriteUint8(p.NextLoginKey).
		Build()
}

// LoginDenied tells the client why a login failed.
type LoginDenied struct {
	Reason DeniedReason
}

func (p *LoginDenied) OpCode() byte { return OpLoginDenied }

func (p *LoginDenied) Decode(frame []byte) error {
	if err := expectFixed(frame, OpLoginDenied, loginDeniedSize); err != nil {
		return err
	}
	p.Reason = DeniedReason(frame[1])
	return nil
}

func (p *LoginDenied) Encode() []byte {
	return []byte{OpLoginDenied, byte(p.Reason)}
}

// GameServerLogin is sent after the client has been relayed to a game server.
type GameServerLogin struct {
	AuthKey  uint32
	Account  string
	Password string
}

func (p *GameServerLogin) OpCode() byte { return OpGameServerLogin }

func (p *GameServerLogin) Decode(frame []byte) error {
	if err := expectFixed(frame, OpGameServerLogin, gameServerLoginSize); err != nil {
		return err
	}
	r := NewReader(frame[1:])
	p.AuthKey = r.ReadUint32()
	p.Account = r.ReadFixedString(accountFieldSize)
	p.Password = r.ReadFixedString(passwordFieldSize)
	if err := r.Err(); err != nil {
		return err
	}
	if p.Account == "" {
		return fmt.Errorf("game server login with empty account")
	}
	return nil
}

func (p *GameServerLogin) Encode() []byte {
	return NewPacketBuilder(OpGameServerLogin).
		WriteUint32(p.AuthKey).
		WriteFixedString(p.Account, accountFieldSize).
		WriteFixedString(p.Password, passwordFieldSize).
		Build()
}
