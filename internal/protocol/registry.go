package protocol

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// UnknownDescription is returned by Describe for unregistered opcodes.
const UnknownDescription = "Unknown"

// PacketDefinition declares the framing of one opcode.
type PacketDefinition struct {
	OpCode      byte   `json:"opcode"`
	Length      int    `json:"length"`
	Description string `json:"description"`
}

// IsVariable reports whether the frame size is read from the header.
func (d PacketDefinition) IsVariable() bool {
	return d.Length == VariableLength
}

// LengthKind tags the result of a registry lookup.
type LengthKind uint8

const (
	NotRegistered LengthKind = iota
	Fixed
	Variable
)

// Length is the tagged answer to "how long is a frame for this opcode".
// Size is only meaningful when Kind is Fixed.
type Length struct {
	Kind LengthKind
	Size int
}

func (l Length) String() string {
	switch l.Kind {
	case Fixed:
		return fmt.Sprintf("fixed(%d)", l.Size)
	case Variable:
		return "variable"
	default:
		return "not_registered"
	}
}

// Registry maps opcodes to their PacketDefinition. Definitions are
// write-once: the first registration for an opcode wins.
type Registry struct {
	mu     sync.RWMutex
	defs   [256]*PacketDefinition
	count  int
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: log.With().Str("component", "packet_registry").Logger(),
	}
}

// Register stores a definition for opcode. It returns false, leaving the
// existing definition untouched, when the opcode is already registered or
// the length is neither positive nor VariableLength.
func (r *Registry) Register(opcode byte, length int, description string) bool {
	if length < 1 && length != VariableLength {
		r.logger.Warn().
			Str("opcode", FormatOpCode(opcode)).
			Int("length", length).
			Msg("rejected packet definition with invalid length")
		return false
	}
	if length > MaxFrameSize {
		r.logger.Warn().
			Str("opcode", FormatOpCode(opcode)).
			Int("length", length).
			Msg("rejected packet definition larger than a frame")
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing := r.defs[opcode]; existing != nil {
		r.logger.Warn().
			Str("opcode", FormatOpCode(opcode)).
			Str("existing", existing.Description).
			Str("ignored", description).
			Msg("packet already registered, keeping first definition")
		return false
	}

	r.defs[opcode] = &PacketDefinition{
		OpCode:      opcode,
		Length:      length,
		Description: description,
	}
	r.count++
	return true
}

// Lookup returns the tagged length for opcode.
func (r *Registry) Lookup(opcode byte) Length {
	r.mu.RLock()
	def := r.defs[opcode]
	r.mu.RUnlock()

	switch {
	case def == nil:
		return Length{Kind: NotRegistered}
	case def.IsVariable():
		return Length{Kind: Variable}
	default:
		return Length{Kind: Fixed, Size: def.Length}
	}
}

// LengthOf returns the declared length, or -1 when the opcode is not
// registered. Use Lookup to tell "unknown" from "variable".
func (r *Registry) LengthOf(opcode byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def := r.defs[opcode]; def != nil {
		return def.Length
	}
	return VariableLength
}

// Describe returns the description for opcode or UnknownDescription.
func (r *Registry) Describe(opcode byte) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def := r.defs[opcode]; def != nil {
		return def.Description
	}
	return UnknownDescription
}

// IsRegistered reports whether opcode has a definition.
func (r *Registry) IsRegistered(opcode byte) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defs[opcode] != nil
}

// Definition returns a copy of the definition for opcode.
func (r *Registry) Definition(opcode byte) (PacketDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def := r.defs[opcode]; def != nil {
		return *def, true
	}
	return PacketDefinition{}, false
}

// Definitions returns all definitions ordered by opcode.
func (r *Registry) Definitions() []PacketDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]PacketDefinition, 0, r.count)
	for _, def := range r.defs {
		if def != nil {
			result = append(result, *def)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].OpCode < result[j].OpCode })
	return result
}

// Count returns the number of registered opcodes.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// FormatOpCode renders an opcode the way it appears in logs and the API.
func FormatOpCode(opcode byte) string {
	return fmt.Sprintf("0x%02X", opcode)
}
