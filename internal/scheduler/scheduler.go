// Package scheduler runs named units of work for the protocol engine.
// Units that share a name always land on the same lane and run in
// submission order; units with different names may run in parallel.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/moongate-community/moongate/internal/metrics"
)

var (
	// ErrStopped is returned by Submit once the scheduler is stopping.
	ErrStopped = errors.New("scheduler stopped")
	// ErrLaneFull is returned by Submit when the unit's lane has no room.
	ErrLaneFull = errors.New("scheduler lane full")
)

// Task is one unit of work. The context is cancelled when the scheduler's
// parent context is.
type Task func(ctx context.Context) error

// Scheduler accepts named units of work.
type Scheduler interface {
	Submit(ctx context.Context, name string, task Task) error
}

// Config sizes the lane scheduler.
type Config struct {
	Lanes     int `json:"lanes"`
	QueueSize int `json:"queue_size"`
}

// DefaultConfig returns a scheduler sized for a single shard.
func DefaultConfig() Config {
	return Config{
		Lanes:     8,
		QueueSize: 1024,
	}
}

type unit struct {
	name     string
	task     Task
	enqueued time.Time
}

// LaneScheduler hashes unit names onto a fixed set of FIFO lanes, each
// drained by one worker.
type LaneScheduler struct {
	lanes []chan unit

	mu      sync.RWMutex
	started bool
	stopped bool

	group  *errgroup.Group
	done   chan struct{}
	logger zerolog.Logger
}

// NewLaneScheduler creates a scheduler; Start must be called before units run.
func NewLaneScheduler(cfg Config) *LaneScheduler {
	if cfg.Lanes <= 0 {
		cfg.Lanes = DefaultConfig().Lanes
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}

	lanes := make([]chan unit, cfg.Lanes)
	for i := range lanes {
		lanes[i] = make(chan unit, cfg.QueueSize)
	}

	return &LaneScheduler{
		lanes:  lanes,
		done:   make(chan struct{}),
		logger: log.With().Str("component", "scheduler").Logger(),
	}
}

// Start launches one worker per lane. Cancelling ctx stops intake; queued
// units still run, with ctx as their (cancelled) context.
func (s *LaneScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	s.group = &errgroup.Group{}
	for i, lane := range s.lanes {
		i, lane := i, lane
		s.group.Go(func() error {
			s.drain(ctx, i, lane)
			return nil
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			s.closeLanes()
		case <-s.done:
		}
	}()

	s.logger.Info().Int("lanes", len(s.lanes)).Msg("scheduler started")
}

// Submit queues task on the lane owned by name. It never blocks: a full
// lane yields ErrLaneFull.
func (s *LaneScheduler) Submit(ctx context.Context, name string, task Task) error {
	if task == nil {
		return fmt.Errorf("nil task for %q", name)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		metrics.UnitsRejected.Inc()
		return ErrStopped
	}

	select {
	case s.lanes[s.laneFor(name)] <- unit{name: name, task: task, enqueued: time.Now()}:
		return nil
	default:
		metrics.UnitsRejected.Inc()
		return fmt.Errorf("%w: %s", ErrLaneFull, name)
	}
}

// Stop refuses new units, lets queued units finish and waits for the workers.
func (s *LaneScheduler) Stop() {
	s.closeLanes()

	s.mu.RLock()
	group := s.group
	s.mu.RUnlock()

	if group != nil {
		_ = group.Wait()
	}
	s.logger.Info().Msg("scheduler stopped")
}

// Pending returns the number of queued units across all lanes.
func (s *LaneScheduler) Pending() int {
	total := 0
	for _, lane := range s.lanes {
		total += len(lane)
	}
	return total
}

// Lanes returns the lane count.
func (s *LaneScheduler) Lanes() int {
	return len(s.lanes)
}

func (s *LaneScheduler) laneFor(name string) int {
	return int(xxhash.Sum64String(name) % uint64(len(s.lanes)))
}

func (s *LaneScheduler) closeLanes() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.done)
	for _, lane := range s.lanes {
		close(lane)
	}
}

func (s *LaneScheduler) drain(ctx context.Context, index int, lane <-chan unit) {
	for u := range lane {
		start := time.Now()
		if err := Run(ctx, u.name, u.task); err != nil {
			s.logger.Error().
				Err(err).
				Str("unit", u.name).
				Int("lane", index).
				Dur("queued", start.Sub(u.enqueued)).
				Msg("unit of work failed")
		}
		metrics.UnitDuration.Observe(time.Since(start).Seconds())
		metrics.UnitsExecuted.Inc()
	}
}

// Run executes task, converting a panic into an error.
func Run(ctx context.Context, name string, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit %s panicked: %v", name, r)
			log.Error().
				Str("unit", name).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("unit of work panicked")
		}
	}()
	return task(ctx)
}
