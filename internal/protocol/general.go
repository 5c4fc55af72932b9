package protocol

import (
	"encoding/binary"
	"fmt"
)

// Sub-commands of General Information seen during login.
const (
	SubCommandScreenSize     uint16 = 0x05
	SubCommandClientLanguage uint16 = 0x0B
	SubCommandClientType     uint16 = 0x0F
)

// GeneralInformation is the 0xBF carrier. Data holds the sub-command
// payload and is left uninterpreted.
type GeneralInformation struct {
	SubCommand uint16
	Data       []byte
}

func (p *GeneralInformation) OpCode() byte { return OpGeneralInformation }

func (p *GeneralInformation) Decode(frame []byte) error {
	if err := expectOpCode(frame, OpGeneralInformation); err != nil {
		return err
	}
	if len(frame) < VariableHeaderSize {
		return ErrShortFrame
	}
	declared := int(binary.BigEndian.Uint16(frame[1:3]))
	if declared != len(frame) {
		return fmt.Errorf("%w: declared %d, frame %d", ErrShortFrame, declared, len(frame))
	}

	r := NewReader(frame[VariableHeaderSize:])
	if r.Remaining() >= 2 {
		p.SubCommand = r.ReadUint16()
	}
	p.Data = r.ReadBytes(r.Remaining())
	return r.Err()
}

func (p *GeneralInformation) Encode() []byte {
	return NewVariablePacketBuilder(OpGeneralInformation).
		WriteUint16(p.SubCommand).
		WriteBytes(p.Data).
		BuildVariable()
}
