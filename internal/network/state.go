package network

import (
	"context"

	"github.com/qmuntal/stateless"
)

// ConnState is the lifecycle state of a client connection.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateConnected
	StateAuthenticating
	StateAuthenticated
	StateInGame
	StateDisconnected
	StateError
)

var connStateStrings = map[ConnState]string{
	StateConnecting:     "connecting",
	StateConnected:      "connected",
	StateAuthenticating: "authenticating",
	StateAuthenticated:  "authenticated",
	StateInGame:         "in_game",
	StateDisconnected:   "disconnected",
	StateError:          "error",
}

func (s ConnState) String() string {
	if str, ok := connStateStrings[s]; ok {
		return str
	}
	return "unknown"
}

// MarshalJSON serializes ConnState as its lowercase name.
func (s ConnState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Trigger drives connection state transitions.
type Trigger string

const (
	TriggerAccept       Trigger = "accept"
	TriggerBeginAuth    Trigger = "begin_auth"
	TriggerAuthenticate Trigger = "authenticate"
	TriggerEnterGame    Trigger = "enter_game"
	TriggerDisconnect   Trigger = "disconnect"
	TriggerFail         Trigger = "fail"
)

// newStateMachine wires the connection lifecycle onto state, which the
// caller owns and guards.
func newStateMachine(state *ConnState) *stateless.StateMachine {
	fsm := stateless.NewStateMachineWithExternalStorage(func(_ context.Context) (stateless.State, error) {
		return *state, nil
	}, func(_ context.Context, s stateless.State) error {
		*state = s.(ConnState)
		return nil
	}, stateless.FiringImmediate)

	fsm.Configure(StateConnecting).
		Permit(TriggerAccept, StateConnected).
		Permit(TriggerFail, StateError).
		Permit(TriggerDisconnect, StateDisconnected)

	fsm.Configure(StateConnected).
		Permit(TriggerBeginAuth, StateAuthenticating).
		Permit(TriggerAuthenticate, StateAuthenticated).
		Permit(TriggerFail, StateError).
		Permit(TriggerDisconnect, StateDisconnected)

	fsm.Configure(StateAuthenticating).
		Permit(TriggerAuthenticate, StateAuthenticated).
		Permit(TriggerFail, StateError).
		Permit(TriggerDisconnect, StateDisconnected)

	fsm.Configure(StateAuthenticated).
		Permit(TriggerEnterGame, StateInGame).
		Permit(TriggerFail, StateError).
		Permit(TriggerDisconnect, StateDisconnected)

	fsm.Configure(StateInGame).
		Permit(TriggerFail, StateError).
		Permit(TriggerDisconnect, StateDisconnected)

	// Error absorbs everything but the final teardown.
	fsm.Configure(StateError).
		Permit(TriggerDisconnect, StateDisconnected).
		Ignore(TriggerFail)

	fsm.Configure(StateDisconnected)

	return fsm
}
