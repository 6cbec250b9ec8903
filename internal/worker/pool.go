// Package worker runs background jobs on a fixed set of goroutines fed by
// a bounded queue. Submitting never blocks the caller.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	ErrQueueFull = errors.New("worker: queue is full")
	ErrStopped   = errors.New("worker: pool is stopped")
)

// Job is one unit of background work. ctx is cancelled when the pool stops.
type Job struct {
	Name string
	Run  func(ctx context.Context)
}

// Pool executes submitted jobs on a fixed number of goroutines.
type Pool struct {
	workers int
	logger  *slog.Logger
	jobs    chan Job

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	stopped   bool
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewPool(workers, queueSize int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers: workers,
		logger:  logger,
		jobs:    make(chan Job, queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. Calling it more than once has no effect.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting worker pool",
			slog.Int("workers", p.workers),
			slog.Int("queueSize", cap(p.jobs)),
		)
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.loop(i)
		}
	})
}

// Submit enqueues job. It fails fast with ErrQueueFull or ErrStopped
// instead of waiting for room.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop cancels running jobs, discards queued ones and waits for the
// workers to exit.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("shutting down worker pool")
		p.mu.Lock()
		p.stopped = true
		close(p.jobs)
		p.mu.Unlock()

		p.cancel()
		p.wg.Wait()
	})
}

func (p *Pool) loop(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		if p.ctx.Err() != nil {
			p.logger.Warn("dropping queued job on shutdown", slog.String("job", job.Name))
			continue
		}
		p.run(id, job)
	}
}

func (p *Pool) run(id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked",
				slog.String("job", job.Name),
				slog.Int("worker", id),
				slog.Any("panic", r),
			)
		}
	}()
	job.Run(p.ctx)
}
