// Package runtime owns the named worker pools that bound concurrency for
// ingestion, orchestrator subtasks, and tool execution.
package runtime

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

// ErrShutdown is returned when work is submitted after Shutdown.
var ErrShutdown = errors.New("runtime: pool shut down")

// OverflowPolicy decides what happens when a pool's queue is full.
type OverflowPolicy int

const (
	// CallerRuns executes the task on the submitting goroutine.
	CallerRuns OverflowPolicy = iota
	// Block waits for queue space or context cancellation.
	Block
)

// Pool is a fixed-size worker pool with a bounded queue.
type Pool struct {
	name     string
	tasks    chan func()
	overflow OverflowPolicy

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts workers goroutines draining a queue of the given depth.
func NewPool(name string, workers, queue int, overflow OverflowPolicy) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	p := &Pool{
		name:     name,
		tasks:    make(chan func(), queue),
		overflow: overflow,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// Name returns the pool's name.
func (p *Pool) Name() string { return p.name }

// Submit enqueues task. When the queue is full, CallerRuns pools execute
// the task inline so producers self-throttle; Block pools wait for space.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrShutdown
	}
	p.mu.Unlock()

	if p.overflow == CallerRuns {
		select {
		case p.tasks <- task:
			return nil
		default:
			task()
			return nil
		}
	}
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting work and waits for queued tasks to drain or
// ctx to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Config sizes the runtime's pools. Zero values fall back to defaults.
type Config struct {
	IngestWorkers  int
	IngestQueue    int
	SubtaskWorkers int
	ToolWorkers    int
}

// Runtime bundles the named pools used across the service.
type Runtime struct {
	// Ingest runs background document chunking and embedding. Producers
	// run the task themselves when the queue is full.
	Ingest *Pool

	// Subtask runs orchestrator retrieval and flow subtasks.
	Subtask *Pool

	// Tools runs tool invocations under the gateway's fairness rules.
	Tools *Pool
}

// New builds the runtime from config.
func New(cfg Config) *Runtime {
	if cfg.IngestWorkers <= 0 {
		cfg.IngestWorkers = 10
	}
	if cfg.IngestQueue <= 0 {
		cfg.IngestQueue = 1000
	}
	if cfg.SubtaskWorkers <= 0 {
		cfg.SubtaskWorkers = runtime.NumCPU() * 2
	}
	if cfg.ToolWorkers <= 0 {
		cfg.ToolWorkers = 10
	}
	return &Runtime{
		Ingest:  NewPool("ingest", cfg.IngestWorkers, cfg.IngestQueue, CallerRuns),
		Subtask: NewPool("subtask", cfg.SubtaskWorkers, cfg.SubtaskWorkers*4, Block),
		Tools:   NewPool("tools", cfg.ToolWorkers, cfg.ToolWorkers*10, Block),
	}
}

// Shutdown drains all pools.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error
	for _, p := range []*Pool{r.Ingest, r.Subtask, r.Tools} {
		if err := p.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
