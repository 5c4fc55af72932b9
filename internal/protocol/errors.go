package protocol

import "errors"

var (
	// ErrUnknownOpcode stalls a window whose head opcode has no definition.
	ErrUnknownOpcode = errors.New("unregistered opcode")
	// ErrUnboundOpcode stalls a window whose head opcode has no factory.
	ErrUnboundOpcode = errors.New("no packet factory bound")
	// ErrDecodeFailed stalls a window whose head frame was rejected by its packet.
	ErrDecodeFailed = errors.New("packet decode failed")
	// ErrShortFrame is reported by Reader when a field runs past the frame.
	ErrShortFrame = errors.New("frame too short")
	// ErrOpCodeMismatch is reported when a frame is handed to the wrong packet type.
	ErrOpCodeMismatch = errors.New("opcode mismatch")
)
