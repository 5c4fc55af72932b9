// Package protocol implements the client wire protocol engine: the packet
// definition registry, the factory table that builds typed packets, and the
// frame decoder that reassembles the inbound byte stream into frames.
// All multi-byte integers on the wire are big-endian.
package protocol

// VariableLength marks a definition whose frame size is carried in the
// two bytes following the opcode.
const VariableLength = -1

// VariableHeaderSize is the opcode plus the 16-bit length field.
const VariableHeaderSize = 3

// variableMinWindow is the smallest window the decoder inspects for a
// variable-length frame.
const variableMinWindow = 4

// MaxFrameSize is the largest frame a 16-bit length field can declare.
const MaxFrameSize = 0xFFFF

// Opcodes with typed packets in this package.
const (
	OpMoveRequest        byte = 0x02 // Walk request with fast-walk key
	OpPing               byte = 0x73 // Keep-alive echo
	OpLoginRequest       byte = 0x80 // Account login to the login server
	OpLoginDenied        byte = 0x82 // Login rejected with reason code
	OpGameServerLogin    byte = 0x91 // Post-relay login to the game server
	OpGeneralInformation byte = 0xBF // Extended command carrier (variable)
	OpLoginSeed          byte = 0xEF // Seed and client version (2D 6.0.5+)
)

// DeniedReason is the reason code carried by LoginDenied.
type DeniedReason byte

const (
	DeniedBadCredentials  DeniedReason = 0x00
	DeniedAccountInUse    DeniedReason = 0x01
	DeniedAccountBlocked  DeniedReason = 0x02
	DeniedInvalidAccount  DeniedReason = 0x03
	DeniedCommunication   DeniedReason = 0x04
	DeniedConcurrentLimit DeniedReason = 0x05
	DeniedTimeLimit       DeniedReason = 0x06
	DeniedGeneralFailure  DeniedReason = 0x07
)

var deniedReasonStrings = map[DeniedReason]string{
	DeniedBadCredentials:  "bad_credentials",
	DeniedAccountInUse:    "account_in_use",
	DeniedAccountBlocked:  "account_blocked",
	DeniedInvalidAccount:  "invalid_account",
	DeniedCommunication:   "communication_problem",
	DeniedConcurrentLimit: "concurrent_limit",
	DeniedTimeLimit:       "time_limit",
	DeniedGeneralFailure:  "general_failure",
}

// String returns the lowercase name of the reason.
func (r DeniedReason) String() string {
	if s, ok := deniedReasonStrings[r]; ok {
		return s
	}
	return "general_failure"
}
