// Package processing runs fire-and-forget background work on a small pool of
// goroutines fed by a bounded channel. Producers never block: when the buffer
// is full the task is dropped and logged.
package processing

import (
	"context"
	"log"
	"sync"
)

// Task is one unit of background work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool consumes Tasks on a fixed number of workers.
type Pool struct {
	queue   chan Task
	workers int
	logger  *log.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New builds a Pool. capacity bounds the number of queued tasks.
func New(workers, capacity int, logger *log.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if capacity <= 0 {
		capacity = workers * 4
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Pool{
		queue:   make(chan Task, capacity),
		workers: workers,
		logger:  logger,
	}
}

// Start launches worker goroutines. They exit when ctx is cancelled or the
// pool is closed and drained.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Submit queues a task without blocking and reports whether it was accepted.
func (p *Pool) Submit(task Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Printf("processing pool closed, dropping %s", task.Name)
		return false
	}
	select {
	case p.queue <- task:
		return true
	default:
		p.logger.Printf("processing queue full, dropping %s", task.Name)
		return false
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(ctx, task)
		}
	}
}

func (p *Pool) process(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Printf("task %s panicked: %v", task.Name, r)
		}
	}()
	if err := task.Run(ctx); err != nil {
		p.logger.Printf("task %s failed: %v", task.Name, err)
	}
}
