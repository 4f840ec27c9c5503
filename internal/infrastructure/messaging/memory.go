// Package messaging delivers domain events to subscribers. InMemoryEventBus
// serves a single process; RedisEventBus adds Redis Pub/Sub so events reach
// every server instance.
package messaging

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/alem-hub/shadow-ranch/internal/domain/shared"
)

var (
	// ErrEventBusClosed is returned by Publish and Subscribe after Close.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("handler panicked")

	errNilHandler = errors.New("handler cannot be nil")
	errNilEvent   = errors.New("event cannot be nil")
)

// ═══════════════════════════════════════════════════════════════════════════
// IN-MEMORY BUS
// ═══════════════════════════════════════════════════════════════════════════

// InMemoryEventBusConfig configures InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers off the publisher's goroutine.
	AsyncMode bool
	// WorkerPoolSize bounds concurrently running async handlers.
	WorkerPoolSize int
	Logger         *slog.Logger
}

// DefaultInMemoryEventBusConfig returns an async bus with ten workers.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{AsyncMode: true, WorkerPoolSize: 10}
}

// InMemoryEventBus fans events out to handlers registered in this process.
// Handler errors and panics are logged and counted, never returned to the
// publisher.
type InMemoryEventBus struct {
	log   *slog.Logger
	async bool
	slots chan struct{}

	mu       sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	wildcard []shared.EventHandler
	closed   bool
	inflight sync.WaitGroup

	stats counters
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)

func NewInMemoryEventBus(cfg InMemoryEventBusConfig) *InMemoryEventBus {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 10
	}
	return &InMemoryEventBus{
		log:    cfg.Logger,
		async:  cfg.AsyncMode,
		slots:  make(chan struct{}, cfg.WorkerPoolSize),
		byType: make(map[shared.EventType][]shared.EventHandler),
		stats:  counters{published: make(map[shared.EventType]*atomic.Int64)},
	}
}

func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.register(func() { b.byType[eventType] = append(b.byType[eventType], handler) }, handler)
}

func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.register(func() { b.wildcard = append(b.wildcard, handler) }, handler)
}

func (b *InMemoryEventBus) register(add func(), handler shared.EventHandler) error {
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	add()
	return nil
}

// Publish hands event to every matching handler. Typed handlers run before
// wildcard ones in sync mode.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	targets := append(append([]shared.EventHandler(nil), b.byType[event.EventType()]...), b.wildcard...)
	// Registered while holding the read lock so Close waits for them.
	if b.async {
		b.inflight.Add(len(targets))
	}
	b.mu.RUnlock()

	b.stats.publish(event.EventType())

	for _, h := range targets {
		if !b.async {
			b.deliver(event, h)
			continue
		}
		go func(h shared.EventHandler) {
			defer b.inflight.Done()
			b.slots <- struct{}{}
			defer func() { <-b.slots }()
			b.deliver(event, h)
		}(h)
	}
	return nil
}

func (b *InMemoryEventBus) deliver(event shared.Event, h shared.EventHandler) {
	err := invoke(event, h)
	b.stats.delivered(err)
	if err != nil {
		b.log.Error("event handler failed",
			slog.String("event_type", string(event.EventType())),
			slog.String("error", err.Error()))
	}
}

func invoke(event shared.Event, h shared.EventHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h(event)
}

// Close rejects further publishes and waits for running handlers.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	already := b.closed
	b.closed = true
	b.mu.Unlock()
	if already {
		return nil
	}
	b.inflight.Wait()
	b.log.Debug("event bus closed")
	return nil
}

// Stats returns delivery counters.
func (b *InMemoryEventBus) Stats() Stats {
	return b.stats.snapshot()
}

// ═══════════════════════════════════════════════════════════════════════════
// COUNTERS
// ═══════════════════════════════════════════════════════════════════════════

// Stats is a point-in-time copy of bus counters.
type Stats struct {
	Published  map[shared.EventType]int64
	Deliveries int64
	Failures   int64
}

type counters struct {
	mu         sync.Mutex
	published  map[shared.EventType]*atomic.Int64
	deliveries atomic.Int64
	failures   atomic.Int64
}

func (c *counters) publish(t shared.EventType) {
	c.mu.Lock()
	n, ok := c.published[t]
	if !ok {
		n = new(atomic.Int64)
		c.published[t] = n
	}
	c.mu.Unlock()
	n.Add(1)
}

func (c *counters) delivered(err error) {
	c.deliveries.Add(1)
	if err != nil {
		c.failures.Add(1)
	}
}

func (c *counters) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Published:  make(map[shared.EventType]int64, len(c.published)),
		Deliveries: c.deliveries.Load(),
		Failures:   c.failures.Load(),
	}
	for t, n := range c.published {
		s.Published[t] = n.Load()
	}
	return s
}
