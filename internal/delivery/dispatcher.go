package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Jeffreasy/LaventeCareMailer/internal/storage"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueClosed      = errors.New("delivery queue is closed")
	ErrQueueUnavailable = errors.New("delivery queue unavailable")
)

const failTimeout = 5 * time.Second

// Runner executes jobs. *Orchestrator is the production implementation.
type Runner interface {
	Run(ctx context.Context, job Job) storage.Outcome
	Fail(ctx context.Context, recordID uuid.UUID, reason string) error
}

type DispatcherConfig struct {
	Workers   int
	QueueSize int
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Dispatcher is a bounded in-memory queue served by a fixed worker pool.
// Jobs are not persisted; a crash loses queued work.
type Dispatcher struct {
	runner  Runner
	jobs    chan Job
	workers int
	metrics *Metrics
	logger  *slog.Logger

	mu      sync.RWMutex
	closed  bool
	started bool

	group  errgroup.Group
	cancel context.CancelFunc
}

func NewDispatcher(runner Runner, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		runner:  runner,
		jobs:    make(chan Job, cfg.QueueSize),
		workers: cfg.Workers,
		metrics: cfg.Metrics,
		logger:  cfg.Logger.With("component", "dispatcher"),
	}
}

// Start launches the workers. Jobs run on a context derived from ctx that
// ignores its cancellation, so a shutdown signal lets in-flight work finish.
// Only a Shutdown deadline cancels running jobs.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel

	for i := 0; i < d.workers; i++ {
		worker := i
		d.group.Go(func() error {
			for job := range d.jobs {
				d.metrics.setQueueDepth(len(d.jobs))
				d.logger.Debug("delivery_job_started", "worker", worker, "delivery_id", job.RecordID)
				d.runner.Run(runCtx, job)
			}
			return nil
		})
	}
	d.logger.Info("dispatcher_started", "workers", d.workers, "queue_size", cap(d.jobs))
}

// Submit enqueues job, blocking while the queue is full until ctx ends.
// When the job cannot be queued its record is completed as failed so it
// never stays pending.
func (d *Dispatcher) Submit(ctx context.Context, job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.failRecord(ctx, job.RecordID)
		return ErrQueueClosed
	}

	// A free slot wins even when ctx is already done.
	select {
	case d.jobs <- job:
		d.metrics.setQueueDepth(len(d.jobs))
		return nil
	default:
	}

	select {
	case d.jobs <- job:
		d.metrics.setQueueDepth(len(d.jobs))
		return nil
	case <-ctx.Done():
		d.logger.Warn("delivery_queue_full", "delivery_id", job.RecordID, "error", ctx.Err())
		d.failRecord(ctx, job.RecordID)
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, ctx.Err())
	}
}

// Shutdown stops intake and waits for queued and running jobs. If ctx ends
// first, running jobs are cancelled and ctx.Err() is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	started := d.started
	d.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- d.group.Wait() }()

	select {
	case err := <-done:
		d.logger.Info("dispatcher_drained")
		return err
	case <-ctx.Done():
		d.cancel()
		d.logger.Warn("dispatcher_shutdown_timeout", "pending", len(d.jobs))
		return ctx.Err()
	}
}

func (d *Dispatcher) failRecord(ctx context.Context, id uuid.UUID) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failTimeout)
	defer cancel()
	if err := d.runner.Fail(fctx, id, ErrQueueUnavailable.Error()); err != nil {
		d.logger.Error("delivery_fail_record_failed", "delivery_id", id, "error", err)
	}
}
