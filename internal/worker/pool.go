// Package worker runs background jobs on a fixed set of goroutines fed by a
// bounded queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull is returned by Submit when the queue has no free slot.
	ErrQueueFull = errors.New("worker: queue full")
	// ErrClosed is returned by Submit after the pool has shut down.
	ErrClosed = errors.New("worker: pool closed")
)

const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
)

// Job is one unit of background work.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Stats are cumulative job counters.
type Stats struct {
	Queued    int
	Succeeded int64
	Failed    int64
}

// Pool executes submitted jobs on a fixed number of workers.
type Pool struct {
	workers int
	jobs    chan Job

	mu     sync.RWMutex
	closed bool

	succeeded atomic.Int64
	failed    atomic.Int64
}

// New creates a pool. Non-positive values fall back to the defaults.
func New(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Pool{workers: workers, jobs: make(chan Job, queueSize)}
}

// Submit queues job without blocking.
func (p *Pool) Submit(job Job) error {
	if job.Run == nil {
		return fmt.Errorf("worker: job %q has no Run func", job.Name)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run starts the workers and blocks until ctx is cancelled. On cancellation
// the pool stops accepting jobs, finishes what is already queued, and
// returns once every worker has exited. Jobs receive a context that is not
// cancelled by shutdown; they bound themselves with their own timeouts.
func (p *Pool) Run(ctx context.Context) error {
	jobCtx := context.WithoutCancel(ctx)
	var g errgroup.Group
	for i := 1; i <= p.workers; i++ {
		id := i
		g.Go(func() error {
			for job := range p.jobs {
				p.execute(jobCtx, id, job)
			}
			return nil
		})
	}

	<-ctx.Done()
	p.Close()
	return g.Wait()
}

// Close stops accepting jobs. Queued jobs still run if workers are running.
// Safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.jobs)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Queued:    len(p.jobs),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
	}
}

func (p *Pool) execute(ctx context.Context, workerID int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			log.Printf("worker %d: job %s panicked: %v", workerID, job.Name, r)
		}
	}()
	if err := job.Run(ctx); err != nil {
		p.failed.Add(1)
		log.Printf("worker %d: job %s: %v", workerID, job.Name, err)
		return
	}
	p.succeeded.Add(1)
}
