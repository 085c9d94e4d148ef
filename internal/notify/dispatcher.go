package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/signalsfoundry/safespaces/internal/logging"
	"github.com/signalsfoundry/safespaces/model"
)

type job struct {
	ctx    context.Context
	remote bool
	msg    Message
}

// Dispatcher is an asynchronous NotificationSink. Local and Remote enqueue
// onto a bounded queue and return immediately; a pool of workers delivers.
// A full queue drops the message. Failed deliveries are logged and counted
// and never retried.
type Dispatcher struct {
	locals    []LocalChannel
	publisher RemotePublisher
	resolver  EndpointResolver
	limiter   *rate.Limiter
	log       logging.Logger
	metrics   MetricsRecorder
	now       func() time.Time
	newID     func() string

	queueSize int
	workers   int

	mu     sync.RWMutex
	closed bool
	queue  chan job
	wg     sync.WaitGroup
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLocalChannels sets the channels that receive local halves.
func WithLocalChannels(ch ...LocalChannel) DispatcherOption {
	return func(d *Dispatcher) { d.locals = append(d.locals, ch...) }
}

// WithRemote sets the remote publisher and the resolver that maps guardians
// to its endpoints.
func WithRemote(p RemotePublisher, r EndpointResolver) DispatcherOption {
	return func(d *Dispatcher) {
		d.publisher = p
		d.resolver = r
	}
}

// WithQueueSize bounds the pending-message queue.
func WithQueueSize(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithWorkers sets the number of delivery goroutines.
func WithWorkers(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithRateLimit caps remote deliveries per second. rps <= 0 disables the
// limit.
func WithRateLimit(rps float64, burst int) DispatcherOption {
	return func(d *Dispatcher) {
		if rps <= 0 {
			d.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithDispatcherLogger sets the diagnostics logger.
func WithDispatcherLogger(l logging.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithDispatcherMetrics attaches a metrics recorder.
func WithDispatcherMetrics(m MetricsRecorder) DispatcherOption {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// WithDispatcherClock overrides the timestamp source for messages.
func WithDispatcherClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher builds a dispatcher and starts its workers. Call Close to
// drain and stop them.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		log:       logging.Noop(),
		metrics:   noopMetrics{},
		now:       time.Now,
		newID:     uuid.NewString,
		queueSize: 256,
		workers:   2,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan job, d.queueSize)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Local enqueues a message for the local channels.
func (d *Dispatcher) Local(ctx context.Context, title, body string) error {
	return d.enqueue(ctx, job{msg: Message{Title: title, Body: body}})
}

// Remote enqueues a message for guardian.
func (d *Dispatcher) Remote(ctx context.Context, guardian model.Guardian, title, body string) error {
	return d.enqueue(ctx, job{remote: true, msg: Message{Title: title, Body: body, Guardian: guardian}})
}

func (d *Dispatcher) enqueue(ctx context.Context, j job) error {
	channel := ChannelLocal
	if j.remote {
		channel = ChannelRemote
	}
	j.msg.ID = d.newID()
	j.msg.At = d.now()
	// Delivery outlives the triggering call.
	j.ctx = context.WithoutCancel(ctx)

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.metrics.ObserveFailed(channel, "closed")
		return ErrClosed
	}
	select {
	case d.queue <- j:
		return nil
	default:
		d.metrics.ObserveFailed(channel, "queue_full")
		d.log.Warn(ctx, "notification dropped: queue full",
			logging.String("channel", channel),
			logging.Int("queue_size", d.queueSize),
		)
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		if j.remote {
			d.deliverRemote(j.ctx, j.msg)
		} else {
			d.deliverLocal(j.ctx, j.msg)
		}
	}
}

func (d *Dispatcher) deliverLocal(ctx context.Context, msg Message) {
	delivered := true
	for _, ch := range d.locals {
		if err := ch.Show(ctx, msg); err != nil {
			delivered = false
			d.metrics.ObserveFailed(ChannelLocal, "error")
			d.log.Warn(ctx, "local delivery failed",
				logging.String("notification_id", msg.ID), logging.Err(err))
		}
	}
	if delivered {
		d.metrics.ObserveSent(ChannelLocal)
	}
}

func (d *Dispatcher) deliverRemote(ctx context.Context, msg Message) {
	if d.publisher == nil || d.resolver == nil {
		d.metrics.ObserveFailed(ChannelRemote, "disabled")
		return
	}

	endpoint, err := d.resolver.Resolve(ctx, msg.Guardian)
	if err != nil {
		reason := "resolve_error"
		if errors.Is(err, ErrEndpointNotFound) {
			reason = "unresolved"
		}
		d.metrics.ObserveFailed(ChannelRemote, reason)
		d.log.Warn(ctx, "remote notification skipped: guardian endpoint unavailable",
			logging.String("notification_id", msg.ID),
			logging.String("guardian", msg.Guardian.Name),
			logging.Err(err),
		)
		return
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			d.metrics.ObserveFailed(ChannelRemote, "rate_limited")
			d.log.Warn(ctx, "remote notification dropped by rate limiter", logging.Err(err))
			return
		}
	}

	if err := d.publisher.Publish(ctx, endpoint, msg); err != nil {
		d.metrics.ObserveFailed(ChannelRemote, "publish_error")
		d.log.Warn(ctx, "remote delivery failed",
			logging.String("notification_id", msg.ID),
			logging.String("endpoint", endpoint),
			logging.Err(err),
		)
		return
	}
	d.metrics.ObserveSent(ChannelRemote)
	d.log.Debug(ctx, "remote notification delivered",
		logging.String("notification_id", msg.ID),
		logging.String("endpoint", endpoint),
	)
}

// Close stops accepting messages, then waits for queued ones to be
// delivered or for ctx to expire.
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
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher drain: %w", ctx.Err())
	}
}
