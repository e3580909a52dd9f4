package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"quorum/internal/config"
	"quorum/internal/logging"
	"quorum/internal/telemetry"
)

// Task is a unit of background work. Its error is logged, never returned to a caller.
type Task func(ctx context.Context) error

type job struct {
	name string
	ctx  context.Context
	fn   Task
}

// Dispatcher runs fire-and-forget side effects (notifications, audit entries)
// on a bounded queue drained by a fixed set of workers.
type Dispatcher struct {
	queue   chan job
	workers int
	timeout time.Duration
	metrics *telemetry.Metrics
	logger  *zap.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

func NewDispatcher(cfg config.NotificationsConfig, metrics *telemetry.Metrics) *Dispatcher {
	timeout := cfg.TaskTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Dispatcher{
		queue:   make(chan job, cfg.QueueSize),
		workers: cfg.Workers,
		timeout: timeout,
		metrics: metrics,
		logger:  logging.WithComponent("dispatcher"),
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.logger.Info("Dispatcher started", zap.Int("workers", d.workers), zap.Int("queue_size", cap(d.queue)))
}

// Submit queues fn without blocking. The task keeps the values of ctx (request
// id, trace) but not its cancellation. Returns false when the task was dropped.
func (d *Dispatcher) Submit(ctx context.Context, name string, fn Task) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("Dispatcher closed, dropping task", zap.String("task", name))
		d.metrics.TaskDropped(ctx, name)
		return false
	}

	select {
	case d.queue <- job{name: name, ctx: context.WithoutCancel(ctx), fn: fn}:
		return true
	default:
		d.logger.Warn("Dispatcher queue full, dropping task", zap.String("task", name))
		d.metrics.TaskDropped(ctx, name)
		return false
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		d.run(j)
	}
}

func (d *Dispatcher) run(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, d.timeout)
	defer cancel()

	log := logging.WithRequestID(d.logger, logging.RequestIDFromContext(ctx)).With(zap.String("task", j.name))
	defer func() {
		if r := recover(); r != nil {
			log.Error("Task panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()

	start := time.Now()
	if err := j.fn(ctx); err != nil {
		log.Error("Task failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return
	}
	log.Debug("Task done", zap.Duration("elapsed", time.Since(start)))
}

// Shutdown stops intake and waits for queued tasks to finish. If ctx expires
// first the remaining tasks keep running and ctx.Err() is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	if !d.started {
		// nobody would drain the queue otherwise
		d.started = true
		d.wg.Add(1)
		go d.worker()
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Dispatcher drained")
		return nil
	case <-ctx.Done():
		d.logger.Warn("Dispatcher shutdown deadline exceeded", zap.Int("pending", len(d.queue)))
		return ctx.Err()
	}
}
