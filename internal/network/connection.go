// Package network owns client TCP connections: accepting them, running the
// handshake and frame decoder over each inbound stream, tracking session
// state, and serializing outbound frames.
package network

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"
)

var (
	// ErrConnectionClosed is returned when writing to a closed connection.
	ErrConnectionClosed = errors.New("connection is closed")
	// ErrUnknownConnection is returned for ids not in the registry.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrWindowOverflow disconnects a client whose unconsumed input grew
	// past the configured window.
	ErrWindowOverflow = errors.New("receive window overflow")
)

// StateChange describes one transition of a connection's state machine.
type StateChange struct {
	ConnID  string
	From    ConnState
	To      ConnState
	Trigger Trigger
}

// ConnectionOptions are the per-connection knobs taken from config.
type ConnectionOptions struct {
	WriteTimeout      time.Duration
	MaxReadsPerSecond int
	Handshake         HandshakeConfig
}

// Connection is one client session. Only the read loop touches the
// receive window and handshake; writes are serialized by writeMu.
type Connection struct {
	id     string
	conn   net.Conn
	remote string
	logger zerolog.Logger
	opts   ConnectionOptions

	writeMu sync.Mutex

	mu           sync.Mutex
	state        ConnState
	fsm          *stateless.StateMachine
	account      string
	version      string
	encrypted    bool
	lastActivity time.Time
	stalledSince time.Time
	stallReason  error

	connectedAt time.Time
	closed      *atomic.Bool
	closeOnce   sync.Once

	handshake *Handshake
	window    []byte
	limiter   *rate.Limiter

	bytesIn   *atomic.Uint64
	bytesOut  *atomic.Uint64
	framesIn  *atomic.Uint64
	framesOut *atomic.Uint64

	onStateChange func(StateChange)
}

// NewConnection wraps an accepted socket in the Connecting state.
func NewConnection(conn net.Conn, opts ConnectionOptions) *Connection {
	now := time.Now()
	id := uuid.NewString()
	remote := "unknown"
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	c := &Connection{
		id:           id,
		conn:         conn,
		remote:       remote,
		opts:         opts,
		state:        StateConnecting,
		lastActivity: now,
		connectedAt:  now,
		closed:       atomic.NewBool(false),
		handshake:    NewHandshake(opts.Handshake),
		bytesIn:      atomic.NewUint64(0),
		bytesOut:     atomic.NewUint64(0),
		framesIn:     atomic.NewUint64(0),
		framesOut:    atomic.NewUint64(0),
		logger: log.With().
			Str("component", "connection").
			Str("conn", id).
			Str("remote", remote).
			Logger(),
	}
	c.fsm = newStateMachine(&c.state)
	if opts.MaxReadsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.MaxReadsPerSecond), opts.MaxReadsPerSecond)
	}
	return c
}

// ID returns the session id.
func (c *Connection) ID() string { return c.id }

// RemoteAddr returns the client address as text.
func (c *Connection) RemoteAddr() string { return c.remote }

// ConnectedAt returns the accept time.
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// IsConnected reports whether the socket is still open.
func (c *Connection) IsConnected() bool { return !c.closed.Load() }

// State returns the current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Account returns the authenticated account name, if any.
func (c *Connection) Account() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.account
}

// LastActivity returns the time of the last read or write.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Stall returns when the inbound pipeline stalled and why; zero time when
// it is flowing.
func (c *Connection) Stall() (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stalledSince, c.stallReason
}

// Handshake exposes the connection's handshake stage.
func (c *Connection) Handshake() *Handshake { return c.handshake }

// recordHandshake publishes handshake results for readers outside the
// read loop.
func (c *Connection) recordHandshake() {
	c.mu.Lock()
	c.version = c.handshake.ClientVersion()
	c.encrypted = c.handshake.Encrypted()
	c.mu.Unlock()
}

// SetClientVersion records a version reported after the handshake.
func (c *Connection) SetClientVersion(v string) {
	c.mu.Lock()
	c.version = v
	c.mu.Unlock()
}

func (c *Connection) touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Connection) setStall(reason error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if reason == nil {
		c.stalledSince = time.Time{}
		c.stallReason = nil
		return
	}
	if c.stalledSince.IsZero() {
		c.stalledSince = time.Now()
	}
	c.stallReason = reason
}

// fire runs trigger through the state machine and reports the change
// after the lock is released.
func (c *Connection) fire(trigger Trigger) error {
	c.mu.Lock()
	from := c.state
	err := c.fsm.Fire(trigger)
	to := c.state
	notify := c.onStateChange
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("connection %s: %s from %s: %w", c.id, trigger, from, err)
	}
	if from != to {
		c.logger.Debug().
			Str("from", from.String()).
			Str("to", to.String()).
			Str("trigger", string(trigger)).
			Msg("connection state changed")
		if notify != nil {
			notify(StateChange{ConnID: c.id, From: from, To: to, Trigger: trigger})
		}
	}
	return nil
}

// BeginAuthentication moves a connected client into Authenticating.
func (c *Connection) BeginAuthentication() error {
	return c.fire(TriggerBeginAuth)
}

// Authenticate records account and moves to Authenticated.
func (c *Connection) Authenticate(account string) error {
	if err := c.fire(TriggerAuthenticate); err != nil {
		return err
	}
	c.mu.Lock()
	c.account = account
	c.mu.Unlock()
	c.logger.Info().Str("account", account).Msg("connection authenticated")
	return nil
}

// EnterGame moves an authenticated client into the world.
func (c *Connection) EnterGame() error {
	return c.fire(TriggerEnterGame)
}

// Fail moves the connection to Error and closes it.
func (c *Connection) Fail(cause error) {
	if err := c.fire(TriggerFail); err != nil {
		c.logger.Debug().Err(err).Msg("fail trigger ignored")
	}
	c.Close(cause)
}

// Close releases the socket and moves to Disconnected. Safe to call more
// than once; only the first call has effect.
func (c *Connection) Close(reason error) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if err := c.fire(TriggerDisconnect); err != nil {
			c.logger.Debug().Err(err).Msg("disconnect trigger ignored")
		}
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.logger.Debug().Err(err).Msg("socket close failed")
		}
		ev := c.logger.Info()
		if reason != nil {
			ev = ev.Err(reason)
		}
		ev.Uint64("bytes_in", c.bytesIn.Load()).
			Uint64("bytes_out", c.bytesOut.Load()).
			Msg("connection closed")
	})
}

// Write sends one complete frame. Frames never interleave on the socket.
func (c *Connection) Write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return ErrConnectionClosed
	}

	if c.opts.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	n, err := c.conn.Write(frame)
	c.bytesOut.Add(uint64(n))
	if err != nil {
		if c.closed.Load() {
			return ErrConnectionClosed
		}
		return fmt.Errorf("failed to write frame: %w", err)
	}

	c.framesOut.Inc()
	c.touch()
	return nil
}

// Stats is a point-in-time view of a connection for operators.
type Stats struct {
	ID            string    `json:"id"`
	RemoteAddr    string    `json:"remote_addr"`
	State         ConnState `json:"state"`
	Account       string    `json:"account,omitempty"`
	ClientVersion string    `json:"client_version,omitempty"`
	Encrypted     bool      `json:"encrypted"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastActivity  time.Time `json:"last_activity"`
	StalledSince  time.Time `json:"stalled_since,omitempty"`
	StallReason   string    `json:"stall_reason,omitempty"`
	BytesIn       uint64    `json:"bytes_in"`
	BytesOut      uint64    `json:"bytes_out"`
	FramesIn      uint64    `json:"frames_in"`
	FramesOut     uint64    `json:"frames_out"`
}

// Stats snapshots the connection.
func (c *Connection) Stats() Stats {
	c.mu.Lock()
	s := Stats{
		ID:            c.id,
		RemoteAddr:    c.remote,
		State:         c.state,
		Account:       c.account,
		ClientVersion: c.version,
		Encrypted:     c.encrypted,
		ConnectedAt:   c.connectedAt,
		LastActivity:  c.lastActivity,
		StalledSince:  c.stalledSince,
	}
	if c.stallReason != nil {
		s.StallReason = c.stallReason.Error()
	}
	c.mu.Unlock()

	s.BytesIn = c.bytesIn.Load()
	s.BytesOut = c.bytesOut.Load()
	s.FramesIn = c.framesIn.Load()
	s.FramesOut = c.framesOut.Load()
	return s
}
