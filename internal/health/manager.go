// Package health runs the shard watchdog: periodic reaping of idle and
// stalled sessions, login history pruning, and the telemetry heartbeat.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"

	"github.com/moongate-community/moongate/internal/config"
	"github.com/moongate-community/moongate/internal/events"
	"github.com/moongate-community/moongate/internal/util"
)

// SessionReaper is the part of the connection registry the watchdog drives.
type SessionReaper interface {
	CleanStale(ctx context.Context, timeout time.Duration) int
	CleanStalled(ctx context.Context, timeout time.Duration) int
	Count() int
}

// LoginPruner deletes login history older than a number of days.
type LoginPruner interface {
	CleanOldLogins(ctx context.Context, days int) (int64, error)
}

// Options holds the intervals and thresholds the manager runs with.
// A zero interval disables that check.
type Options struct {
	WatchdogInterval     time.Duration
	HeartbeatInterval    time.Duration
	LoginCleanupInterval time.Duration
	IdleTimeout          time.Duration
	StallTimeout         time.Duration
	LoginRetentionDays   int
	DiskPath             string
}

// OptionsFromConfig derives manager options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	server := cfg.GetServerData()
	app := cfg.GetApplicationData()
	return Options{
		WatchdogInterval:     config.Seconds(app.Timers.WatchdogInterval),
		HeartbeatInterval:    config.Seconds(app.Timers.HeartbeatInterval),
		LoginCleanupInterval: config.Seconds(app.Timers.LoginCleanupInterval),
		IdleTimeout:          config.Seconds(server.Network.IdleTimeoutSec),
		StallTimeout:         config.Seconds(server.Network.StallTimeoutSec),
		LoginRetentionDays:   app.Database.LoginRetentionDays,
		DiskPath:             ".",
	}
}

// Manager runs each check on its own ticker.
type Manager struct {
	opts     Options
	sessions SessionReaper
	logins   LoginPruner
	eventBus *events.EventBus
	logger   zerolog.Logger

	startedAt time.Time
	beats     atomic.Int64
	reaped    atomic.Int64
	pruned    atomic.Int64
}

// NewManager creates a health manager. logins may be nil.
func NewManager(opts Options, sessions SessionReaper, logins LoginPruner, eventBus *events.EventBus) *Manager {
	if opts.DiskPath == "" {
		opts.DiskPath = "."
	}
	return &Manager{
		opts:     opts,
		sessions: sessions,
		logins:   logins,
		eventBus: eventBus,
		logger:   log.With().Str("component", "health").Logger(),
	}
}

type check struct {
	name     string
	interval time.Duration
	fn       func(context.Context)
}

// Start launches the checks and blocks until ctx is cancelled and every
// check goroutine has returned.
func (m *Manager) Start(ctx context.Context) {
	m.startedAt = time.Now()

	checks := []check{
		{"stale_sessions", m.opts.WatchdogInterval, m.checkStaleSessions},
		{"stalled_sessions", m.opts.WatchdogInterval, m.checkStalledSessions},
	}
	if m.logins != nil && m.opts.LoginRetentionDays > 0 {
		checks = append(checks, check{"login_history", m.opts.LoginCleanupInterval, m.pruneLoginHistory})
	}

	var wg sync.WaitGroup
	started := 0
	for _, c := range checks {
		if c.interval <= 0 {
			continue
		}
		started++

		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(c.interval)
			defer ticker.Stop()

			m.logger.Debug().Str("check", c.name).Msg("running initial health check")
			c.fn(ctx)

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					c.fn(ctx)
				}
			}
		}()
	}

	if m.opts.HeartbeatInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.heartbeatLoop(ctx, m.opts.HeartbeatInterval)
		}()
	}

	m.logger.Info().Int("checks", started).Msg("health check manager started")

	<-ctx.Done()
	wg.Wait()
	m.logger.Info().Msg("health check manager stopped")
}

func (m *Manager) checkStaleSessions(ctx context.Context) {
	if m.opts.IdleTimeout <= 0 {
		return
	}
	if n := m.sessions.CleanStale(ctx, m.opts.IdleTimeout); n > 0 {
		m.reaped.Add(int64(n))
		m.logger.Info().Int("cleaned", n).Msg("closed idle sessions")
	}
}

func (m *Manager) checkStalledSessions(ctx context.Context) {
	if m.opts.StallTimeout <= 0 {
		return
	}
	if n := m.sessions.CleanStalled(ctx, m.opts.StallTimeout); n > 0 {
		m.reaped.Add(int64(n))
		m.logger.Warn().Int("cleaned", n).Msg("closed sessions stuck on undecodable input")
	}
}

func (m *Manager) pruneLoginHistory(ctx context.Context) {
	n, err := m.logins.CleanOldLogins(ctx, m.opts.LoginRetentionDays)
	if err != nil {
		m.logger.Warn().Err(err).Msg("login history cleanup failed")
		return
	}
	if n > 0 {
		m.pruned.Add(n)
		m.logger.Info().Int64("deleted", n).Int("retention_days", m.opts.LoginRetentionDays).Msg("pruned login history")
	}
}

// Reaped returns how many sessions the watchdog has closed.
func (m *Manager) Reaped() int64 { return m.reaped.Load() }

// Pruned returns how many login history rows have been deleted.
func (m *Manager) Pruned() int64 { return m.pruned.Load() }

// heartbeatLoop emits a heartbeat event on every tick.
func (m *Manager) heartbeatLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.eventBus.Emit(ctx, events.Event{
				Type:    events.EventHeartbeat,
				Source:  "heartbeat",
				Payload: m.heartbeat(),
			})
		}
	}
}

func (m *Manager) heartbeat() events.HeartbeatPayload {
	beat := events.HeartbeatPayload{
		Count:    m.beats.Inc(),
		Sessions: m.sessions.Count(),
		Uptime:   time.Since(m.startedAt).Truncate(time.Second).String(),
		At:       time.Now().UTC(),
	}

	usage, err := util.GetResourceUsage(m.opts.DiskPath)
	if err != nil {
		m.logger.Debug().Err(err).Msg("resource usage unavailable")
	}
	beat.CPUPercent = usage.CPUPercent
	beat.MemoryPercent = usage.MemoryPercent
	beat.ProcessRSSMB = usage.ProcessRSSMB
	beat.Goroutines = usage.Goroutines
	return beat
}
