package delivery_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Jeffreasy/LaventeCareMailer/internal/delivery"
	"github.com/Jeffreasy/LaventeCareMailer/internal/storage"
	"github.com/Jeffreasy/LaventeCareMailer/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingRunner holds every job until release is closed.
type blockingRunner struct {
	release chan struct{}
	ran     atomic.Int32
	active  atomic.Int32
	peak    atomic.Int32

	mu     sync.Mutex
	failed []uuid.UUID
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{release: make(chan struct{})}
}

func (r *blockingRunner) Run(ctx context.Context, _ delivery.Job) storage.Outcome {
	n := r.active.Add(1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	r.active.Add(-1)
	r.ran.Add(1)
	return storage.Outcome{Status: storage.StatusSuccess}
}

func (r *blockingRunner) Fail(_ context.Context, id uuid.UUID, _ string) error {
	r.mu.Lock()
	r.failed = append(r.failed, id)
	r.mu.Unlock()
	return nil
}

func (r *blockingRunner) failedIDs() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.failed...)
}

func TestDispatcher_DrainsOnShutdown(t *testing.T) {
	runner := newBlockingRunner()
	d := delivery.NewDispatcher(runner, delivery.DispatcherConfig{Workers: 2, QueueSize: 10, Logger: logger.Discard()})
	d.Start(context.Background())

	for i := 0; i < 6; i++ {
		require.NoError(t, d.Submit(context.Background(), delivery.Job{RecordID: uuid.New()}))
	}
	close(runner.release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))

	assert.Equal(t, int32(6), runner.ran.Load())
	assert.LessOrEqual(t, runner.peak.Load(), int32(2), "never more jobs in flight than workers")
	assert.Empty(t, runner.failedIDs())
}

func TestDispatcher_SubmitAfterShutdown(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release)
	d := delivery.NewDispatcher(runner, delivery.DispatcherConfig{Workers: 1, QueueSize: 1, Logger: logger.Discard()})
	d.Start(context.Background())
	require.NoError(t, d.Shutdown(context.Background()))

	id := uuid.New()
	err := d.Submit(context.Background(), delivery.Job{RecordID: id})
	assert.ErrorIs(t, err, delivery.ErrQueueClosed)
	assert.Equal(t, []uuid.UUID{id}, runner.failedIDs())
}

func TestDispatcher_BackPressure(t *testing.T) {
	runner := newBlockingRunner()
	d := delivery.NewDispatcher(runner, delivery.DispatcherConfig{Workers: 1, QueueSize: 1, Logger: logger.Discard()})
	d.Start(context.Background())

	// One job occupies the worker, one fills the queue.
	require.NoError(t, d.Submit(context.Background(), delivery.Job{RecordID: uuid.New()}))
	require.Eventually(t, func() bool { return runner.active.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Submit(context.Background(), delivery.Job{RecordID: uuid.New()}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	blocked := uuid.New()
	err := d.Submit(ctx, delivery.Job{RecordID: blocked})
	assert.ErrorIs(t, err, delivery.ErrQueueUnavailable)
	assert.Equal(t, []uuid.UUID{blocked}, runner.failedIDs(), "an unqueued job must not stay pending")

	close(runner.release)
	require.NoError(t, d.Shutdown(context.Background()))
	assert.Equal(t, int32(2), runner.ran.Load())
}

func TestDispatcher_ShutdownDeadlineCancelsJobs(t *testing.T) {
	runner := newBlockingRunner()
	d := delivery.NewDispatcher(runner, delivery.DispatcherConfig{Workers: 1, QueueSize: 1, Logger: logger.Discard()})
	d.Start(context.Background())
	require.NoError(t, d.Submit(context.Background(), delivery.Job{RecordID: uuid.New()}))
	require.Eventually(t, func() bool { return runner.active.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Shutdown(ctx), context.DeadlineExceeded)

	require.Eventually(t, func() bool { return runner.ran.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDispatcher_WithOrchestrator(t *testing.T) {
	f := newFixture(t)
	f.saveCredential(t, "app-password-1234")

	orch := f.orchestrator(delivery.Options{})
	d := delivery.NewDispatcher(orch, delivery.DispatcherConfig{Workers: 3, QueueSize: 8, Logger: logger.Discard()})
	d.Start(context.Background())

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		job := f.pendingJob(t, []string{"a@example.net", "b@example.net"}, nil, nil)
		ids = append(ids, job.RecordID)
		require.NoError(t, d.Submit(context.Background(), job))
	}
	require.NoError(t, d.Shutdown(context.Background()))

	for _, id := range ids {
		rec := f.record(t, id)
		assert.Equal(t, storage.StatusSuccess, rec.Status)
		assert.Equal(t, 2, rec.SuccessCount)
	}
	assert.Len(t, f.transport.calls(), 10)
}

func TestDispatcher_SubmitWithDoneContextUsesFreeSlot(t *testing.T) {
	runner := newBlockingRunner()
	close(runner.release)
	d := delivery.NewDispatcher(runner, delivery.DispatcherConfig{Workers: 1, QueueSize: 64, Logger: logger.Discard()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Workers are not started, so every slot stays free while submitting.
	for i := 0; i < 50; i++ {
		require.NoError(t, d.Submit(ctx, delivery.Job{RecordID: uuid.New()}))
	}
	assert.Empty(t, runner.failedIDs())

	d.Start(context.Background())
	require.NoError(t, d.Shutdown(context.Background()))
	assert.Equal(t, int32(50), runner.ran.Load())
}
