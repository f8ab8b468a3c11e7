// Package workerpool runs tasks on a fixed set of goroutines fed by a bounded queue.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"placelink-backend/internal/shared/telemetry"
)

var (
	// ErrQueueFull is returned by Submit when the queue is at capacity.
	ErrQueueFull = errors.New("worker queue full")
	// ErrClosed is returned by Submit after Shutdown.
	ErrClosed = errors.New("worker pool closed")
)

// Config sizes the pool. Zero values use NumCPU*2 workers and a queue of Size*16.
type Config struct {
	Size       int
	QueueDepth int
}

// Pool executes submitted tasks on Size workers.
type Pool struct {
	size  int
	tasks chan func()

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// New builds a pool. Call Start before submitting work.
func New(cfg Config) *Pool {
	size := cfg.Size
	if size <= 0 {
		size = runtime.NumCPU() * 2
	}
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = size * 16
	}
	return &Pool{size: size, tasks: make(chan func(), depth)}
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// QueueDepth returns the queue capacity.
func (p *Pool) QueueDepth() int { return cap(p.tasks) }

// Pending returns the number of queued tasks not yet picked up by a worker.
func (p *Pool) Pending() int { return len(p.tasks) }

// Start launches the workers. Calling it more than once has no effect.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true
	p.wg.Add(p.size)
	for i := 0; i < p.size; i++ {
		go p.work(i)
	}
	telemetry.Info("workerpool.started", map[string]any{"size": p.size, "queue_depth": cap(p.tasks)})
}

// Submit queues task without blocking.
func (p *Pool) Submit(task func()) error {
	if task == nil {
		return fmt.Errorf("nil task")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting work and waits for queued and running tasks to finish or ctx to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	started := p.started
	p.mu.Unlock()
	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		telemetry.Info("workerpool.stopped", map[string]any{"size": p.size})
		return nil
	case <-ctx.Done():
		telemetry.Warn("workerpool.shutdown_timeout", map[string]any{"pending": len(p.tasks)})
		return ctx.Err()
	}
}

func (p *Pool) work(id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(id, task)
	}
}

func (p *Pool) run(id int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.Error("workerpool.task_panic", map[string]any{"worker": id, "panic": fmt.Sprint(r)})
		}
	}()
	task()
}
