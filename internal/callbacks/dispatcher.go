package callbacks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/CedrosPay/checkout/internal/circuitbreaker"
	"github.com/CedrosPay/checkout/internal/config"
	"github.com/CedrosPay/checkout/internal/httputil"
	"github.com/CedrosPay/checkout/internal/logger"
	"github.com/CedrosPay/checkout/internal/metrics"
	"github.com/rs/zerolog"
)

// Dispatcher delivers events to the merchant webhook from a bounded queue
// drained by a fixed pool of workers. Publish never blocks the caller; when
// the queue is full the event is dead-lettered instead.
type Dispatcher struct {
	cfg     config.CallbacksConfig
	client  *http.Client
	breaker *circuitbreaker.Manager
	dlq     DLQStore
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time

	queue  chan queued
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

type queued struct {
	event     Event
	requestID string
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(log zerolog.Logger) Option {
	return func(d *Dispatcher) { d.logger = log }
}

// WithDLQStore enables the dead letter queue.
func WithDLQStore(store DLQStore) Option {
	return func(d *Dispatcher) { d.dlq = store }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithCircuitBreaker routes deliveries through the webhook breaker.
func WithCircuitBreaker(m *circuitbreaker.Manager) Option {
	return func(d *Dispatcher) { d.breaker = m }
}

// WithHTTPClient overrides the delivery client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// NewDispatcher starts cfg.Workers delivery goroutines. Callers must Close it.
func NewDispatcher(cfg config.CallbacksConfig, opts ...Option) (*Dispatcher, error) {
	if cfg.URL == "" {
		return nil, ErrCallbackDisabled
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		cfg:    cfg,
		client: httputil.NewClient(timeout),
		logger: zerolog.Nop(),
		now:    time.Now,
		queue:  make(chan queued, size),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.worker()
	}
	return d, nil
}

// Publish enqueues event for asynchronous delivery.
func (d *Dispatcher) Publish(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = generateEventID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = d.now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn().Str("event_id", event.ID).Msg("webhook.publish_after_close")
		d.overflow(event, errors.New("dispatcher closed"))
		return
	}

	select {
	case d.queue <- queued{event: event, requestID: logger.GetRequestID(ctx)}:
		d.metrics.SetWebhookQueueDepth(len(d.queue))
	default:
		d.logger.Warn().
			Str("event_id", event.ID).
			Int("queue_size", cap(d.queue)).
			Msg("webhook.queue_full")
		d.overflow(event, errors.New("webhook queue full"))
	}
}

func (d *Dispatcher) overflow(event Event, cause error) {
	payload, err := json.Marshal(event.payload())
	if err != nil {
		d.logger.Error().Err(err).Str("event_id", event.ID).Msg("webhook.marshal_failed")
		return
	}
	d.deadLetter(event, payload, 0, cause)
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for item := range d.queue {
		d.metrics.SetWebhookQueueDepth(len(d.queue))
		ctx := logger.WithRequestID(d.ctx, item.requestID)
		// deliver already logged and dead-lettered on failure.
		_ = d.deliver(ctx, item.event)
	}
}

// Close stops accepting events and waits for queued deliveries. If ctx ends
// first, in-flight retries are abandoned and their events dead-lettered.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

// SendOnce delivers a single event synchronously without queueing, retrying
// per cfg. Used by operator tooling to test a webhook endpoint.
func SendOnce(ctx context.Context, cfg config.CallbacksConfig, event Event, opts ...Option) error {
	if cfg.URL == "" {
		return ErrCallbackDisabled
	}
	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &Dispatcher{
		cfg:    cfg,
		client: httputil.NewClient(timeout),
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if event.ID == "" {
		event.ID = generateEventID()
	}
	return d.deliver(ctx, event)
}
