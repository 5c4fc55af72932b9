package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus delivers events to named subscribers. Subscribers of one event
// type are invoked in registration order; a subscriber that fails or
// panics is logged and the rest still run. Events emitted with the same
// Source are delivered in emit order.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopCh   chan struct{}
	stopped  bool
	wg       sync.WaitGroup

	qmu    sync.Mutex
	queues map[string]*sourceQueue
}

type delivery struct {
	ctx      context.Context
	event    Event
	handlers []handlerEntry
}

// sourceQueue holds the undelivered events of one source. It lives while
// its drain goroutine runs.
type sourceQueue struct {
	pending []delivery
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]handlerEntry),
		stopCh:   make(chan struct{}),
		queues:   make(map[string]*sourceQueue),
	}
}

// Subscribe registers a handler function for a specific event type.
// A second subscription under the same name replaces the first in place.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	entry := handlerEntry{name: name, handler: handler}
	list := eb.handlers[eventType]
	for i := range list {
		if list[i].name == name {
			list[i] = entry
			log.Debug().
				Str("event", string(eventType)).
				Str("handler", name).
				Msg("replaced event subscription")
			return
		}
	}
	eb.handlers[eventType] = append(list, entry)

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes a named handler from a specific event type.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	handlers, exists := eb.handlers[eventType]
	if !exists {
		return
	}

	filtered := make([]handlerEntry, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	eb.handlers[eventType] = filtered

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("unsubscribed from event")
}

// snapshot copies the subscriber list so handlers run without the lock.
func (eb *EventBus) snapshot(eventType EventType) []handlerEntry {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return nil
	}
	handlers := eb.handlers[eventType]
	if len(handlers) == 0 {
		return nil
	}
	out := make([]handlerEntry, len(handlers))
	copy(out, handlers)
	return out
}

// Emit delivers event on a background goroutine, one subscriber after
// another, and returns immediately. Events sharing a non-empty Source go
// through one queue per source, so a connection's opened event always
// reaches subscribers before its closed event.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	handlers := eb.snapshot(event.Type)
	if len(handlers) == 0 {
		return
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(handlers)).
		Msg("emitting event")

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.stopped {
		return
	}

	d := delivery{ctx: ctx, event: event, handlers: handlers}
	if event.Source == "" {
		eb.wg.Add(1)
		go func() {
			defer eb.wg.Done()
			d.run()
		}()
		return
	}

	eb.qmu.Lock()
	defer eb.qmu.Unlock()
	if q, ok := eb.queues[event.Source]; ok {
		q.pending = append(q.pending, d)
		return
	}
	q := &sourceQueue{pending: []delivery{d}}
	eb.queues[event.Source] = q
	eb.wg.Add(1)
	go eb.drain(event.Source, q)
}

func (eb *EventBus) drain(source string, q *sourceQueue) {
	defer eb.wg.Done()
	for {
		eb.qmu.Lock()
		if len(q.pending) == 0 {
			delete(eb.queues, source)
			eb.qmu.Unlock()
			return
		}
		d := q.pending[0]
		q.pending[0] = delivery{}
		q.pending = q.pending[1:]
		eb.qmu.Unlock()

		d.run()
	}
}

func (d delivery) run() {
	for _, h := range d.handlers {
		_ = invoke(d.ctx, h, d.event)
	}
}

// EmitSync delivers event on the calling goroutine and returns the first
// subscriber error, if any.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	var firstErr error
	for _, h := range eb.snapshot(event.Type) {
		if err := invoke(ctx, h, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func invoke(ctx context.Context, h handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err = h.handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", h.name).
			Msg("handler returned error")
	}
	return err
}

// Stop signals the EventBus to stop accepting new events and waits
// for all in-flight handlers to complete.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns the number of handlers registered for a specific event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
