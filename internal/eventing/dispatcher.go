package eventing

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"roomwatch/internal/observability/metrics"
)

var (
	// ErrQueueFull is returned when a shard queue has no room; the event is dropped.
	ErrQueueFull = errors.New("eventing: dispatch queue full")
	// ErrDispatcherClosed is returned after Close.
	ErrDispatcherClosed = errors.New("eventing: dispatcher closed")
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
	defaultTimeout   = 5 * time.Second
)

// Publisher is the minimal publish interface.
type Publisher interface {
	Publish(ctx context.Context, event any) error
}

type job struct {
	env   Envelope
	event any
}

// Dispatcher delivers events to a bus asynchronously. Events with the same
// ordering key go to the same worker, so they are handled in publish order.
// Each delivery runs under its own timeout.
type Dispatcher struct {
	bus       Publisher
	workers   int
	queueSize int
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.RWMutex
	closed bool
	shards []chan job
	wg     sync.WaitGroup
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithWorkers sets the number of ordered worker shards.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueSize sets the buffered capacity of each shard.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithTimeout sets the per-delivery timeout.
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher and starts its workers.
func NewDispatcher(bus Publisher, opts ...DispatcherOption) (*Dispatcher, error) {
	if bus == nil {
		return nil, errors.New("eventing dispatcher: nil bus")
	}
	d := &Dispatcher{
		bus:       bus,
		workers:   defaultWorkers,
		queueSize: defaultQueueSize,
		timeout:   defaultTimeout,
		logger:    zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	d.shards = make([]chan job, d.workers)
	for i := range d.shards {
		d.shards[i] = make(chan job, d.queueSize)
		d.wg.Add(1)
		go d.run(d.shards[i])
	}
	return d, nil
}

// Publish enqueues the event without blocking. A full shard drops the event.
func (d *Dispatcher) Publish(ctx context.Context, event any) error {
	if d == nil {
		return ErrDispatcherClosed
	}
	env, err := BuildEnvelope(event, d.now())
	if err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.shards[d.shardFor(env.Key)] <- job{env: env, event: event}:
		metrics.AddDispatchQueue(1)
		return nil
	default:
		metrics.IncSideEffect(env.EventType, metrics.ResultDropped)
		d.logger.Warn("side effect dropped, queue full",
			zap.String("event_type", env.EventType),
			zap.String("key", env.Key))
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, ch := range d.shards {
		close(ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.shards)))
}

func (d *Dispatcher) run(ch chan job) {
	defer d.wg.Done()
	for j := range ch {
		metrics.AddDispatchQueue(-1)
		d.deliver(j)
	}
}

func (d *Dispatcher) deliver(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	ctx = WithEnvelope(ctx, j.env)

	if err := d.bus.Publish(ctx, j.event); err != nil {
		metrics.IncSideEffect(j.env.EventType, metrics.ResultError)
		d.logger.Warn("side effect failed",
			zap.String("event_type", j.env.EventType),
			zap.String("event_id", j.env.EventID),
			zap.String("key", j.env.Key),
			zap.Error(err))
		return
	}
	metrics.IncSideEffect(j.env.EventType, metrics.ResultSuccess)
}
