// Package worker runs post-commit side effects (summary refresh, change
// publishing) off the request path with bounded retries.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/niceverygood/maria-reservation-sub000/internal/platform/metrics"
)

// Task is a unit of background work. Run receives the dispatcher's context,
// never the caller's request context.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

type Option func(*Dispatcher)

func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithRetryDelays sets the wait before each retry. A task is attempted
// len(delays)+1 times in total.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(d *Dispatcher) { d.retryDelays = delays }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

type Dispatcher struct {
	logger      zerolog.Logger
	metrics     *metrics.Collector
	workers     int
	queueSize   int
	retryDelays []time.Duration

	queue  chan Task
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewDispatcher(logger zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:      logger.With().Str("component", "worker").Logger(),
		workers:     4,
		queueSize:   1024,
		retryDelays: []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second},
	}
	for _, o := range opts {
		o(d)
	}
	d.queue = make(chan Task, d.queueSize)
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Start launches the worker goroutines.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for t := range d.queue {
				d.execute(t)
			}
		}()
	}
}

// Submit never blocks. When the queue is full, or the dispatcher has been
// stopped, the task runs on its own goroutine so it is still attempted.
func (d *Dispatcher) Submit(t Task) {
	d.mu.RLock()
	closed := d.closed
	if !closed {
		select {
		case d.queue <- t:
			d.mu.RUnlock()
			return
		default:
		}
		d.wg.Add(1)
	}
	d.mu.RUnlock()

	d.logger.Debug().Str("task", t.Name).Bool("stopped", closed).Msg("queue unavailable, running task on its own goroutine")
	go func() {
		if !closed {
			defer d.wg.Done()
		}
		d.execute(t)
	}()
}

func (d *Dispatcher) execute(t Task) {
	var err error
	for attempt := 0; ; attempt++ {
		err = d.runOnce(t)
		if err == nil {
			d.metrics.RecordWorkerTask(t.Name, "ok")
			return
		}
		if attempt >= len(d.retryDelays) {
			break
		}
		d.logger.Warn().Err(err).Str("task", t.Name).Int("attempt", attempt+1).Msg("task failed, retrying")

		timer := time.NewTimer(d.retryDelays[attempt])
		select {
		case <-d.ctx.Done():
			timer.Stop()
			d.metrics.RecordWorkerTask(t.Name, "aborted")
			d.logger.Error().Err(err).Str("task", t.Name).Msg("task abandoned on shutdown")
			return
		case <-timer.C:
		}
	}
	d.metrics.RecordWorkerTask(t.Name, "failed")
	d.logger.Error().Err(err).Str("task", t.Name).Int("attempts", len(d.retryDelays)+1).Msg("task failed permanently")
}

func (d *Dispatcher) runOnce(t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Str("task", t.Name).Msg("task panicked")
			err = errPanicked
		}
	}()
	return t.Run(d.ctx)
}

// Stop closes the queue and waits for queued tasks to drain. If ctx ends
// first, in-flight retries are aborted and ctx.Err() is returned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
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
		return ctx.Err()
	}
}
