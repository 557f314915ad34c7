// Package dispatch fans routing decisions out to capability handlers over
// an in-process queue, isolating every handler invocation from its
// siblings and from the ingestion path.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"shopbot/internal/domain"
	"shopbot/internal/metrics"
)

const submitTimeout = 10 * time.Second

// HandlerRegistry resolves capability names to handlers. Built once at
// startup; lookup of an unknown name is a dispatch failure, not a panic.
type HandlerRegistry interface {
	Handler(name string) (domain.CapabilityHandler, bool)
}

// Dispatcher implements domain.Dispatcher over a buffered channel with a
// bounded worker pool. One slow or failing handler never blocks another
// dispatch: each task gets its own goroutine slot and its own timeout.
type Dispatcher struct {
	tasks    chan domain.DispatchTask
	registry HandlerRegistry
	workers  int
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.RWMutex
	closed bool
}

type Config struct {
	Registry   HandlerRegistry
	BufferSize int
	Workers    int
	Timeout    time.Duration // budget for one capability invocation
	Logger     *slog.Logger
}

func New(cfg Config) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	return &Dispatcher{
		tasks:    make(chan domain.DispatchTask, cfg.BufferSize),
		registry: cfg.Registry,
		workers:  cfg.Workers,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}
}

// Submit enqueues one routing decision. Blocks up to 10 seconds when the
// queue is full instead of dropping; after that the task is dropped and
// logged, never surfaced to the ingestion path.
func (d *Dispatcher) Submit(task domain.DispatchTask) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("submit to closed dispatcher", "capability", task.Decision.Capability)
		return
	}

	select {
	case d.tasks <- task:
	default:
		d.logger.Warn("dispatch queue full, waiting", "capability", task.Decision.Capability)
		timer := time.NewTimer(submitTimeout)
		defer timer.Stop()
		select {
		case d.tasks <- task:
		case <-timer.C:
			metrics.Collector.Inc("dispatch_dropped_total")
			d.logger.Error("dispatch dropped: queue full",
				"capability", task.Decision.Capability,
				"customer", task.Customer.ID,
			)
		}
	}
}

// Run consumes tasks until ctx is cancelled or Close is called.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", "workers", d.workers)

	sem := make(chan struct{}, d.workers)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case task, ok := <-d.tasks:
			if !ok {
				d.logger.Info("dispatch queue closed, dispatcher stopping")
				return
			}
			sem <- struct{}{}
			go func(t domain.DispatchTask) {
				defer func() { <-sem }()
				d.process(ctx, t)
			}(task)
		}
	}
}

// process runs one capability invocation with its own timeout and panic
// boundary. Failures here are terminal for this task only.
func (d *Dispatcher) process(ctx context.Context, task domain.DispatchTask) {
	defer func() {
		if r := recover(); r != nil {
			metrics.Collector.Inc("dispatch_panics_total")
			d.logger.Error("capability handler panicked",
				"capability", task.Decision.Capability,
				"customer", task.Customer.ID,
				"panic", r,
			)
		}
	}()

	handler, ok := d.registry.Handler(task.Decision.Capability)
	if !ok {
		metrics.Collector.Inc("dispatch_unknown_capability_total")
		d.logger.Error("unknown capability in routing decision", "capability", task.Decision.Capability)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := handler.Handle(runCtx, task)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		metrics.Collector.Inc("dispatches_total")
		d.logger.Debug("dispatch done",
			"capability", task.Decision.Capability,
			"customer", task.Customer.ID,
			"elapsed_ms", elapsed.Milliseconds(),
		)
	case errors.Is(err, context.DeadlineExceeded):
		metrics.Collector.Inc("dispatch_timeouts_total")
		d.logger.Error("dispatch timed out",
			"capability", task.Decision.Capability,
			"customer", task.Customer.ID,
			"timeout", d.timeout,
		)
	default:
		metrics.Collector.Inc("dispatch_failures_total")
		d.logger.Error("dispatch failed",
			"capability", task.Decision.Capability,
			"customer", task.Customer.ID,
			"err", err,
		)
	}
}

// Close stops accepting tasks and lets Run drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.tasks)
	}
}
