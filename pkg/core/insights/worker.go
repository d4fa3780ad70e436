package insights

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrQueueFull = errors.New("insights: queue full")

type Job func(ctx context.Context) error

// Worker runs insight jobs in the background on a fixed number of goroutines.
// Each job gets its own timeout; Close cancels whatever is still running.
type Worker struct {
	queue   chan namedJob
	timeout time.Duration
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type namedJob struct {
	name string
	run  Job
}

func NewWorker(concurrency, queueSize int, timeout time.Duration, logger *slog.Logger) *Worker {
	if concurrency <= 0 {
		concurrency = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		queue:   make(chan namedJob, queueSize),
		timeout: timeout,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
	w.wg.Add(concurrency)
	for range concurrency {
		go w.loop()
	}
	return w
}

// Submit never blocks.
func (w *Worker) Submit(name string, job Job) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return context.Canceled
	}
	select {
	case w.queue <- namedJob{name: name, run: job}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for job := range w.queue {
		w.run(job)
	}
}

func (w *Worker) run(job namedJob) {
	ctx, cancel := context.WithTimeout(w.ctx, w.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("insights job panicked", "job", job.name, "panic", r)
		}
	}()
	if err := job.run(ctx); err != nil {
		w.logger.Warn("insights job failed", "job", job.name, "error", err)
	}
}

// Close stops accepting jobs and waits for queued ones until ctx is done,
// after which running jobs are canceled.
func (w *Worker) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.cancel()
		return nil
	case <-ctx.Done():
		w.cancel()
		<-done
		return ctx.Err()
	}
}
