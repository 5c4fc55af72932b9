// Package handlers holds the packet handlers the shard ships with: seed
// bookkeeping, ping echo, and the account and game server logins.
package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/moongate-community/moongate/internal/db"
	"github.com/moongate-community/moongate/internal/dispatch"
	"github.com/moongate-community/moongate/internal/network"
	"github.com/moongate-community/moongate/internal/protocol"
	"github.com/moongate-community/moongate/internal/scheduler"
)

// CredentialChecker validates an account login. A *db.DeniedError carries
// the reason reported to the client; other errors are service failures.
type CredentialChecker interface {
	CheckCredentials(ctx context.Context, account, password string) error
}

// LoginRecorder keeps login history. Optional.
type LoginRecorder interface {
	RecordLogin(ctx context.Context, account, remoteAddr, result, detail string) error
}

// Sender queues packets for a connection.
type Sender interface {
	Send(ctx context.Context, connID string, p protocol.Packet) error
}

// Registrar accepts handler registrations.
type Registrar interface {
	RegisterHandler(opcode byte, name string, fn dispatch.HandlerFunc) error
}

// Deps are the collaborators the handlers need.
type Deps struct {
	Connections *network.ConnectionRegistry
	Sender      Sender
	Scheduler   scheduler.Scheduler
	Credentials CredentialChecker
	History     LoginRecorder
}

// Handlers implements the built-in packet handlers.
type Handlers struct {
	deps   Deps
	logger zerolog.Logger
}

// New creates the handler set.
func New(deps Deps) *Handlers {
	return &Handlers{
		deps:   deps,
		logger: log.With().Str("component", "handlers").Logger(),
	}
}

// Register binds every handler on r.
func (h *Handlers) Register(r Registrar) error {
	for _, b := range []struct {
		opcode byte
		name   string
		fn     dispatch.HandlerFunc
	}{
		{protocol.OpLoginSeed, "seed", h.handleSeed},
		{protocol.OpPing, "ping", h.handlePing},
		{protocol.OpLoginRequest, "login", h.handleLogin},
		{protocol.OpGameServerLogin, "game_login", h.handleGameLogin},
	} {
		if err := r.RegisterHandler(b.opcode, b.name, b.fn); err != nil {
			return fmt.Errorf("failed to register %s handler: %w", b.name, err)
		}
	}
	return nil
}

func (h *Handlers) connection(connID string) (*network.Connection, error) {
	c, ok := h.deps.Connections.Get(connID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", network.ErrUnknownConnection, connID)
	}
	return c, nil
}

func (h *Handlers) handleSeed(_ context.Context, connID string, p protocol.Packet) error {
	seed, ok := p.(*protocol.LoginSeed)
	if !ok {
		return fmt.Errorf("unexpected packet %T", p)
	}
	c, err := h.connection(connID)
	if err != nil {
		return err
	}
	c.SetClientVersion(seed.Version())
	h.logger.Debug().
		Str("conn", connID).
		Str("version", seed.Version()).
		Msg("client version reported")
	return nil
}

func (h *Handlers) handlePing(ctx context.Context, connID string, p protocol.Packet) error {
	ping, ok := p.(*protocol.Ping)
	if !ok {
		return fmt.Errorf("unexpected packet %T", p)
	}
	return h.deps.Sender.Send(ctx, connID, &protocol.Ping{Sequence: ping.Sequence})
}

func (h *Handlers) handleLogin(ctx context.Context, connID string, p protocol.Packet) error {
	req, ok := p.(*protocol.LoginRequest)
	if !ok {
		return fmt.Errorf("unexpected packet %T", p)
	}
	return h.login(ctx, connID, req.Account, req.Password)
}

func (h *Handlers) handleGameLogin(ctx context.Context, connID string, p protocol.Packet) error {
	req, ok := p.(*protocol.GameServerLogin)
	if !ok {
		return fmt.Errorf("unexpected packet %T", p)
	}
	return h.login(ctx, connID, req.Account, req.Password)
}

// login moves the connection through Authenticating and either
// authenticates it or reports the denial and disconnects.
func (h *Handlers) login(ctx context.Context, connID, account, password string) error {
	c, err := h.connection(connID)
	if err != nil {
		return err
	}
	if err := c.BeginAuthentication(); err != nil {
		return err
	}

	logger := h.logger.With().Str("conn", connID).Str("account", account).Logger()

	// The claim is taken before the credential check so two connections
	// racing on one account cannot both pass.
	if !h.deps.Connections.ClaimAccount(connID, account) {
		logger.Info().Msg("account already in use")
		h.record(ctx, c, account, db.LoginRejected, protocol.DeniedAccountInUse.String())
		return h.deny(ctx, connID, protocol.DeniedAccountInUse)
	}

	err = h.deps.Credentials.CheckCredentials(ctx, account, password)
	var denied *db.DeniedError
	switch {
	case errors.As(err, &denied):
		h.deps.Connections.ReleaseAccount(connID, account)
		logger.Info().Str("reason", denied.Reason.String()).Msg("login denied")
		h.record(ctx, c, account, db.LoginRejected, denied.Reason.String())
		return h.deny(ctx, connID, denied.Reason)
	case err != nil:
		h.deps.Connections.ReleaseAccount(connID, account)
		logger.Error().Err(err).Msg("credential check failed")
		h.record(ctx, c, account, db.LoginRejected, err.Error())
		if denyErr := h.deny(ctx, connID, protocol.DeniedCommunication); denyErr != nil {
			return errors.Join(err, denyErr)
		}
		return err
	}

	if err := c.Authenticate(account); err != nil {
		h.deps.Connections.ReleaseAccount(connID, account)
		return err
	}
	h.record(ctx, c, account, db.LoginAccepted, "")
	return nil
}

// deny sends LoginDenied and then kicks the connection. The kick is queued
// under the same unit name as the send so it runs after the write.
func (h *Handlers) deny(ctx context.Context, connID string, reason protocol.DeniedReason) error {
	if err := h.deps.Sender.Send(ctx, connID, &protocol.LoginDenied{Reason: reason}); err != nil {
		return err
	}
	return h.deps.Scheduler.Submit(ctx, dispatch.UnitName(connID, protocol.OpLoginDenied), func(ctx context.Context) error {
		return h.deps.Connections.Kick(ctx, connID, "login denied: "+reason.String())
	})
}

func (h *Handlers) record(ctx context.Context, c *network.Connection, account, result, detail string) {
	if h.deps.History == nil {
		return
	}
	if err := h.deps.History.RecordLogin(ctx, account, c.RemoteAddr(), result, detail); err != nil {
		h.logger.Warn().Err(err).Str("account", account).Msg("failed to record login attempt")
	}
}
