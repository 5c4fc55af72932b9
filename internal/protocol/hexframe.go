package protocol

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseHexFrame decodes operator input such as "73 01", "0x7301" or
// "73:01" into a frame.
func ParseHexFrame(s string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':', '-':
			return -1
		}
		return r
	}, s)
	cleaned = strings.TrimPrefix(strings.TrimPrefix(cleaned, "0x"), "0X")

	frame, err := hex.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	if len(frame) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	return frame, nil
}

// CheckFrame rejects a frame whose opcode is unknown or whose length
// contradicts the registered definition.
func (r *Registry) CheckFrame(frame []byte) error {
	if len(frame) == 0 {
		return fmt.Errorf("empty frame")
	}
	opcode := FormatOpCode(frame[0])

	length := r.Lookup(frame[0])
	switch length.Kind {
	case NotRegistered:
		return fmt.Errorf("opcode %s is not registered", opcode)
	case Fixed:
		if len(frame) != length.Size {
			return fmt.Errorf("opcode %s is %d bytes, payload has %d", opcode, length.Size, len(frame))
		}
	case Variable:
		if len(frame) < VariableHeaderSize {
			return fmt.Errorf("variable frame shorter than its header")
		}
		declared := int(frame[1])<<8 | int(frame[2])
		if declared != len(frame) {
			return fmt.Errorf("opcode %s declares %d bytes, payload has %d", opcode, declared, len(frame))
		}
	}
	return nil
}
