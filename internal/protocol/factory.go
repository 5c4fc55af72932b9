package protocol

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// FactoryTable maps opcodes to packet constructors. It consults the
// registry only to refuse bindings for opcodes that cannot be framed.
type FactoryTable struct {
	mu       sync.RWMutex
	ctors    map[byte]Constructor
	registry *Registry
	logger   zerolog.Logger
}

// NewFactoryTable creates an empty table validated against registry.
func NewFactoryTable(registry *Registry) *FactoryTable {
	return &FactoryTable{
		ctors:    make(map[byte]Constructor),
		registry: registry,
		logger:   log.With().Str("component", "packet_factory").Logger(),
	}
}

// Bind associates ctor with opcode. Binding an already bound opcode is a
// no-op and returns false, as is binding an opcode the registry does not know.
func (f *FactoryTable) Bind(opcode byte, ctor Constructor) bool {
	if ctor == nil {
		return false
	}
	if f.registry != nil && !f.registry.IsRegistered(opcode) {
		f.logger.Warn().
			Str("opcode", FormatOpCode(opcode)).
			Msg("refusing factory for unregistered opcode")
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.ctors[opcode]; exists {
		return false
	}
	f.ctors[opcode] = ctor
	return true
}

// IsBound reports whether opcode has a constructor.
func (f *FactoryTable) IsBound(opcode byte) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.ctors[opcode]
	return ok
}

// Build returns a fresh packet for opcode, or false when unbound.
func (f *FactoryTable) Build(opcode byte) (Packet, bool) {
	f.mu.RLock()
	ctor, ok := f.ctors[opcode]
	f.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return ctor(), true
}

// Count returns the number of bound opcodes.
func (f *FactoryTable) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ctors)
}

// BindDefaults binds every typed packet in this package.
func BindDefaults(f *FactoryTable) {
	f.Bind(OpMoveRequest, func() Packet { return &MoveRequest{} })
	f.Bind(OpPing, func() Packet { return &Ping{} })
	f.Bind(OpLoginRequest, func() Packet { return &LoginRequest{} })
	f.Bind(OpLoginDenied, func() Packet { return &LoginDenied{} })
	f.Bind(OpGameServerLogin, func() Packet { return &GameServerLogin{} })
	f.Bind(OpGeneralInformation, func() Packet { return &GeneralInformation{} })
	f.Bind(OpLoginSeed, func() Packet { return &LoginSeed{} })

	f.logger.Debug().Int("bound", f.Count()).Msg("default packet factories bound")
}
