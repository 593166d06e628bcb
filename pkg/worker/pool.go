package worker

import (
	"errors"
	"sync"
)

var (
	ErrPoolStarted    = errors.New("worker pool already started")
	ErrPoolNotStarted = errors.New("worker pool not started")
)

// WorkerPool owns a fixed set of workers and a WaitGroup which tracks
// their goroutines. Workers must all be pushed before the pool is started.
type WorkerPool struct {
	workers []Worker
	wg      sync.WaitGroup
	started bool
}

// NewWorkerPool creates a new WorkerPool struct
// and initialises the 'workers' slice.
func NewWorkerPool() *WorkerPool {
	return &WorkerPool{workers: make([]Worker, 0)}
}

// Start cycles through all the workers
// currently inside the WorkerPool and creates
// a goroutine for each. The 'Start' method of
// each worker is executed concurrently.
//
// Start does NOT block; use Wait to block until
// every worker has finished.
func (pool *WorkerPool) Start() error {
	if pool.started {
		return ErrPoolStarted
	}

	pool.started = true
	for _, worker := range pool.workers {
		pool.wg.Add(1)
		go func(w Worker) {
			defer pool.wg.Done()
			w.Start()
		}(worker)
	}

	return nil
}

// PushWorker inserts the workers provided in to the worker pool. Workers
// cannot be added once the pool has been started.
func (pool *WorkerPool) PushWorker(workers ...Worker) error {
	if pool.started {
		return ErrPoolStarted
	}

	pool.workers = append(pool.workers, workers...)
	return nil
}

// Wait blocks until every worker in the pool has returned from its task,
// after which the pool may not be started again.
func (pool *WorkerPool) Wait() error {
	if !pool.started {
		return ErrPoolNotStarted
	}

	pool.wg.Wait()
	return nil
}

// Size returns the number of workers in the pool.
func (pool *WorkerPool) Size() int { return len(pool.workers) }

// Workers returns the workers in this pool.
func (pool *WorkerPool) Workers() []Worker { return pool.workers }
