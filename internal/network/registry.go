package network

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/moongate-community/moongate/internal/events"
	"github.com/moongate-community/moongate/internal/metrics"
)

var (
	// ErrKicked is the close reason for operator kicks.
	ErrKicked = errors.New("kicked")
	// ErrIdleTimeout is the close reason for connections with no traffic.
	ErrIdleTimeout = errors.New("idle timeout")
	// ErrStalled is the close reason for connections whose decoder is stuck.
	ErrStalled = errors.New("inbound stalled")
	// ErrConnectionLimit refuses a connection past MaxConnections.
	ErrConnectionLimit = errors.New("connection limit reached")
)

// ConnectionRegistry is the live connection set. One mutex guards
// membership; lifecycle events are emitted after it is released.
type ConnectionRegistry struct {
	mu     sync.Mutex
	conns  map[string]*Connection
	claims map[string]string // folded account -> conn id
	max    int
	bus    *events.EventBus
	logger zerolog.Logger
}

// NewConnectionRegistry creates an empty registry. bus may be nil.
func NewConnectionRegistry(bus *events.EventBus) *ConnectionRegistry {
	return &ConnectionRegistry{
		conns:  make(map[string]*Connection),
		claims: make(map[string]string),
		bus:    bus,
		logger: log.With().Str("component", "session_manager").Logger(),
	}
}

// SetMaxConnections limits the live set. Zero means unlimited.
func (r *ConnectionRegistry) SetMaxConnections(n int) {
	r.mu.Lock()
	r.max = n
	r.mu.Unlock()
}

// Register adds c to the live set and moves it to Connected. It fails with
// ErrConnectionLimit when the set is full; c is left untouched then.
func (r *ConnectionRegistry) Register(ctx context.Context, c *Connection) error {
	r.mu.Lock()
	if _, exists := r.conns[c.ID()]; exists {
		r.mu.Unlock()
		return fmt.Errorf("connection %s already registered", c.ID())
	}
	if r.max > 0 && len(r.conns) >= r.max {
		r.mu.Unlock()
		return fmt.Errorf("%w (%d)", ErrConnectionLimit, r.max)
	}

	c.mu.Lock()
	c.onStateChange = func(change StateChange) { r.emitStateChange(ctx, change) }
	c.mu.Unlock()

	r.conns[c.ID()] = c
	count := len(r.conns)
	r.mu.Unlock()

	metrics.ConnectionsActive.Set(float64(count))
	metrics.ConnectionsTotal.Inc()

	r.emit(ctx, events.EventConnectionOpened, events.ConnectionPayload{
		ConnID:      c.ID(),
		RemoteAddr:  c.RemoteAddr(),
		ConnectedAt: c.ConnectedAt(),
	})

	if err := c.fire(TriggerAccept); err != nil {
		r.Unregister(ctx, c.ID(), err)
		return err
	}

	r.logger.Info().
		Str("conn", c.ID()).
		Str("remote", c.RemoteAddr()).
		Int("active", count).
		Msg("connection registered")
	return nil
}

// Unregister removes id, closes it with reason and emits connection_closed.
// Unknown ids are ignored.
func (r *ConnectionRegistry) Unregister(ctx context.Context, id string, reason error) bool {
	r.mu.Lock()
	c, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
		for account, owner := range r.claims {
			if owner == id {
				delete(r.claims, account)
			}
		}
	}
	count := len(r.conns)
	r.mu.Unlock()

	if !ok {
		return false
	}

	c.Close(reason)
	metrics.ConnectionsActive.Set(float64(count))
	metrics.DisconnectsTotal.WithLabelValues(reasonLabel(reason)).Inc()

	payload := events.ConnectionPayload{
		ConnID:      c.ID(),
		RemoteAddr:  c.RemoteAddr(),
		Account:     c.Account(),
		ConnectedAt: c.ConnectedAt(),
		Duration:    time.Since(c.ConnectedAt()),
	}
	if reason != nil {
		payload.Reason = reason.Error()
	}
	r.emit(ctx, events.EventConnectionClosed, payload)

	r.logger.Info().
		Str("conn", id).
		Int("active", count).
		Msg("connection unregistered")
	return true
}

// ClaimAccount reserves account for connID. It fails when another live
// connection holds the claim or is already authenticated on the account.
// Names compare case-insensitively.
func (r *ConnectionRegistry) ClaimAccount(connID, account string) bool {
	key := strings.ToLower(account)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, live := r.conns[connID]; !live {
		return false
	}
	if owner, held := r.claims[key]; held && owner != connID {
		return false
	}
	for id, c := range r.conns {
		if id != connID && strings.EqualFold(c.Account(), account) {
			return false
		}
	}
	r.claims[key] = connID
	return true
}

// ReleaseAccount drops connID's claim on account, if it holds one.
func (r *ConnectionRegistry) ReleaseAccount(connID, account string) {
	key := strings.ToLower(account)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claims[key] == connID {
		delete(r.claims, key)
	}
}

// Kick disconnects id.
func (r *ConnectionRegistry) Kick(ctx context.Context, id string, reason string) error {
	cause := ErrKicked
	if reason != "" {
		cause = fmt.Errorf("%w: %s", ErrKicked, reason)
	}
	if !r.Unregister(ctx, id, cause) {
		return fmt.Errorf("%w: %s", ErrUnknownConnection, id)
	}
	return nil
}

// Get returns the connection for id.
func (r *ConnectionRegistry) Get(id string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	return c, ok
}

// Snapshot returns the live connections ordered by connect time.
func (r *ConnectionRegistry) Snapshot() []*Connection {
	r.mu.Lock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ConnectedAt().Before(out[j].ConnectedAt())
	})
	return out
}

// Count returns the number of live connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// CloseAll disconnects every live connection.
func (r *ConnectionRegistry) CloseAll(ctx context.Context, reason error) int {
	closed := 0
	for _, c := range r.Snapshot() {
		if r.Unregister(ctx, c.ID(), reason) {
			closed++
		}
	}
	if closed > 0 {
		r.logger.Info().Int("closed", closed).Msg("all connections closed")
	}
	return closed
}

// CleanStale disconnects connections inactive for longer than timeout.
func (r *ConnectionRegistry) CleanStale(ctx context.Context, timeout time.Duration) int {
	if timeout <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-timeout)
	cleaned := 0
	for _, c := range r.Snapshot() {
		last := c.LastActivity()
		if last.Before(cutoff) {
			if r.Unregister(ctx, c.ID(), fmt.Errorf("%w: last activity %s", ErrIdleTimeout, last.Format(time.RFC3339))) {
				cleaned++
				r.logger.Warn().
					Str("conn", c.ID()).
					Time("last_activity", last).
					Msg("cleaned stale connection")
			}
		}
	}
	return cleaned
}

// CleanStalled disconnects connections whose inbound pipeline has been
// stalled for longer than timeout.
func (r *ConnectionRegistry) CleanStalled(ctx context.Context, timeout time.Duration) int {
	if timeout <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-timeout)
	cleaned := 0
	for _, c := range r.Snapshot() {
		since, reason := c.Stall()
		if since.IsZero() || !since.Before(cutoff) {
			continue
		}
		if r.Unregister(ctx, c.ID(), fmt.Errorf("%w: %w", ErrStalled, reason)) {
			cleaned++
			r.logger.Warn().
				Err(reason).
				Str("conn", c.ID()).
				Time("stalled_since", since).
				Msg("dropped stalled connection")
		}
	}
	return cleaned
}

func (r *ConnectionRegistry) emitStateChange(ctx context.Context, change StateChange) {
	r.emit(ctx, events.EventStateChanged, events.StateChangedPayload{
		ConnID:  change.ConnID,
		From:    change.From.String(),
		To:      change.To.String(),
		Trigger: string(change.Trigger),
	})
}

func (r *ConnectionRegistry) emit(ctx context.Context, t events.EventType, payload interface{}) {
	if r.bus == nil {
		return
	}
	source := ""
	switch p := payload.(type) {
	case events.ConnectionPayload:
		source = p.ConnID
	case events.StateChangedPayload:
		source = p.ConnID
	}
	r.bus.Emit(ctx, events.Event{Type: t, Source: source, Payload: payload})
}

func reasonLabel(reason error) string {
	var cipherErr *CipherError
	switch {
	case reason == nil:
		return "closed"
	case errors.Is(reason, ErrKicked):
		return "kicked"
	case errors.As(reason, &cipherErr):
		return "cipher"
	case errors.Is(reason, ErrWindowOverflow):
		return "overflow"
	case errors.Is(reason, ErrIdleTimeout):
		return "idle"
	case errors.Is(reason, ErrStalled):
		return "stalled"
	case errors.Is(reason, context.Canceled):
		return "shutdown"
	default:
		return "transport"
	}
}
