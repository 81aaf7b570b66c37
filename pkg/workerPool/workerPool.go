// Package workerpool runs short CPU bound jobs on a fixed set of goroutines.
// Jobs are grouped in rooms; a room collects the results of its own jobs.
package workerpool

import (
	"errors"
	"runtime"
	"sync"
)

var ErrQueueFull = errors.New("global buffer is full")

type WorkerPool struct {
	config    Config
	taskQueue chan func()
	closeOnce sync.Once
}

type Config struct {
	WorkerCount  int
	GlobalBuffer int
}

func New(config Config) *WorkerPool {
	if config.WorkerCount < 1 {
		config.WorkerCount = runtime.NumCPU() * 3
	}
	if config.GlobalBuffer < 1 {
		config.GlobalBuffer = 10000
	}

	wp := &WorkerPool{
		config:    config,
		taskQueue: make(chan func(), config.GlobalBuffer),
	}
	for i := 0; i < config.WorkerCount; i++ {
		go wp.worker()
	}
	return wp
}

var shared = sync.OnceValue(func() *WorkerPool { return New(Config{}) })

// Shared returns the process wide pool used by bulk store operations.
func Shared() *WorkerPool {
	return shared()
}

func (wp *WorkerPool) worker() {
	for run := range wp.taskQueue {
		run()
	}
}

// Close stops the workers once queued jobs are done. Submitting after Close
// panics.
func (wp *WorkerPool) Close() {
	wp.closeOnce.Do(func() { close(wp.taskQueue) })
}

// Room collects the results of up to size jobs.
type Room[T any] struct {
	results chan T
	wg      sync.WaitGroup
	wp      *WorkerPool
}

// NewRoom creates a room; no more than size jobs may be submitted before
// Collect is called.
func NewRoom[T any](wp *WorkerPool, size int) *Room[T] {
	return &Room[T]{
		results: make(chan T, size),
		wp:      wp,
	}
}

// Submit queues a job, waiting for a free slot in the global buffer.
func (ro *Room[T]) Submit(job func() T) {
	ro.wg.Add(1)
	ro.wp.taskQueue <- ro.wrap(job)
}

// TrySubmit queues a job or fails when the global buffer is full.
func (ro *Room[T]) TrySubmit(job func() T) error {
	ro.wg.Add(1)
	select {
	case ro.wp.taskQueue <- ro.wrap(job):
		return nil
	default:
		ro.wg.Done()
		return ErrQueueFull
	}
}

func (ro *Room[T]) wrap(job func() T) func() {
	return func() {
		defer ro.wg.Done()
		ro.results <- job()
	}
}

// Collect waits for all submitted jobs and returns their results in
// completion order.
func (ro *Room[T]) Collect() []T {
	go func() {
		ro.wg.Wait()
		close(ro.results)
	}()

	results := make([]T, 0, cap(ro.results))
	for r := range ro.results {
		results = append(results, r)
	}
	return results
}
