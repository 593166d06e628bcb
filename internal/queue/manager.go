package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hbomb79/episodemux/internal/event"
	"github.com/hbomb79/episodemux/internal/request"
	"github.com/hbomb79/episodemux/pkg/logger"
	tsync "github.com/hbomb79/episodemux/pkg/sync"
	"github.com/hbomb79/episodemux/pkg/worker"
)

var (
	log = logger.Get("Queue")

	ErrInvalidWorkerCount = errors.New("worker count must be at least 1")
	ErrAlreadyRunning     = errors.New("queue manager is already running")
)

type (
	// Executor performs a single job, returning the path of the file
	// produced or an error describing why the job failed.
	Executor interface {
		Execute(context.Context, Job) (string, error)
	}

	// Summary reports the outcome of every job processed by a call to Run.
	Summary struct {
		Total     int
		Succeeded int
		Failed    int
		Results   []Result
	}

	// Manager expands download requests in to jobs, and drives a fixed size pool
	// of workers which execute those jobs until the queue has drained.
	//
	// Jobs are dequeued in FIFO order, however as many workers consume the queue
	// concurrently, jobs may complete in any order. A failing job never affects its
	// siblings; it is recorded and the worker moves on to the next job.
	Manager struct {
		*sync.Mutex
		executor Executor
		eventBus event.EventDispatcher

		queue   *tsync.TypedQueue[Job]
		jobs    tsync.TypedSyncMap[uuid.UUID, Job]
		results tsync.TypedSyncMap[uuid.UUID, Result]
		order   []uuid.UUID
		running bool
	}
)

func NewManager(executor Executor, eventBus event.EventDispatcher) *Manager {
	return &Manager{
		Mutex:    &sync.Mutex{},
		executor: executor,
		eventBus: eventBus,
		queue:    tsync.NewTypedQueue[Job](),
		order:    make([]uuid.UUID, 0),
	}
}

// Submit expands each of the requests provided and enqueues the resulting jobs.
// Requests which describe no chapters are skipped without error.
// The number of jobs enqueued is returned.
func (manager *Manager) Submit(requests ...request.Request) int {
	manager.Lock()
	defer manager.Unlock()

	count := 0
	for _, req := range requests {
		jobs := Expand(req)
		if len(jobs) == 0 {
			log.Emit(logger.DEBUG, "Request %s describes no chapters, skipping\n", req)
			continue
		}

		for _, job := range jobs {
			manager.jobs.Store(job.ID, job)
			manager.order = append(manager.order, job.ID)
			manager.queue.Put(job)
			manager.eventBus.Dispatch(event.JobQueuedEvent, job.ID)
			count++
		}
	}

	return count
}

// Run starts exactly workerCount workers, each of which pulls jobs from the queue
// until it receives a sentinel. Run blocks until every enqueued job has been fully
// processed, at which point one sentinel per worker is enqueued and Run waits for
// every worker to exit before returning the summary of the jobs processed.
//
// Cancelling the context does not abandon the queue; in-flight tool invocations are
// killed by the executor, and remaining jobs fail fast, so Run still returns once
// the queue has drained.
func (manager *Manager) Run(ctx context.Context, workerCount int) (Summary, error) {
	if workerCount < 1 {
		return Summary{}, ErrInvalidWorkerCount
	}

	manager.Lock()
	if manager.running {
		manager.Unlock()
		return Summary{}, ErrAlreadyRunning
	}
	manager.running = true
	batch := manager.order
	manager.order = make([]uuid.UUID, 0)
	manager.Unlock()

	defer func() {
		manager.Lock()
		manager.running = false
		manager.Unlock()
	}()

	pool := worker.NewWorkerPool()
	for i := 0; i < workerCount; i++ {
		label := fmt.Sprintf("download-worker-%d", i)
		if err := pool.PushWorker(worker.NewWorker(label, manager.consumer(ctx))); err != nil {
			return Summary{}, err
		}
	}

	log.Emit(logger.NEW, "Starting %d workers for %d jobs\n", workerCount, len(batch))
	if err := pool.Start(); err != nil {
		return Summary{}, err
	}

	manager.queue.Join()
	for i := 0; i < pool.Size(); i++ {
		manager.queue.PutSentinel()
	}
	if err := pool.Wait(); err != nil {
		return Summary{}, err
	}

	summary := manager.summarise(batch)
	log.Emit(logger.STOP, "Queue drained: %d succeeded, %d failed\n", summary.Succeeded, summary.Failed)

	return summary, nil
}

// Job returns the job with the ID provided, if it is known to this manager.
func (manager *Manager) Job(id uuid.UUID) (Job, bool) {
	return manager.jobs.Load(id)
}

// Result returns the result for the job with the ID provided, if it has completed.
func (manager *Manager) Result(id uuid.UUID) (Result, bool) {
	return manager.results.Load(id)
}

// Pending returns the number of jobs which have been submitted but not yet fully processed.
func (manager *Manager) Pending() int {
	return manager.queue.Unfinished()
}

// consumer returns the task body for a single worker. The worker
// loops, executing jobs, until it dequeues a sentinel.
func (manager *Manager) consumer(ctx context.Context) worker.WorkerTask {
	return func(w worker.Worker) error {
		for {
			job, ok := manager.queue.Get()
			if !ok {
				return nil
			}

			manager.process(ctx, w, job)
			manager.queue.TaskDone()
		}
	}
}

// process executes a single job and records its result. A panicking
// executor is recovered and recorded as a failure so that the queue can
// still drain.
func (manager *Manager) process(ctx context.Context, w worker.Worker, job Job) {
	result := Result{Job: job}
	defer func() {
		if r := recover(); r != nil {
			result.OutputPath = ""
			result.Err = fmt.Errorf("executor panic: %v", r)
		}

		manager.results.Store(job.ID, result)
		if result.Err != nil {
			log.Emit(logger.ERROR, "%s failed job %s: %v\n", w.Label(), job, result.Err)
			manager.eventBus.Dispatch(event.JobFailedEvent, job.ID)
		} else {
			log.Emit(logger.DEBUG, "%s finished job %s\n", w.Label(), job)
			manager.eventBus.Dispatch(event.JobCompleteEvent, job.ID)
		}
	}()

	log.Emit(logger.DEBUG, "%s picked up job %s\n", w.Label(), job)
	manager.eventBus.Dispatch(event.JobStartEvent, job.ID)
	result.OutputPath, result.Err = manager.executor.Execute(ctx, job)
}

func (manager *Manager) summarise(batch []uuid.UUID) Summary {
	summary := Summary{Total: len(batch), Results: make([]Result, 0, len(batch))}
	for _, id := range batch {
		result, ok := manager.results.Load(id)
		if !ok {
			continue
		}

		if result.Err != nil {
			summary.Failed++
		} else {
			summary.Succeeded++
		}
		summary.Results = append(summary.Results, result)
	}

	return summary
}

// Err returns a joined error of every failed job in the summary, or
// nil if every job succeeded.
func (summary Summary) Err() error {
	errs := make([]error, 0, summary.Failed)
	for _, result := range summary.Results {
		if result.Err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", result.Job, result.Err))
		}
	}

	return errors.Join(errs...)
}

// Failures returns the results for the jobs which failed.
func (summary Summary) Failures() []Result {
	failures := make([]Result, 0, summary.Failed)
	for _, result := range summary.Results {
		if result.Err != nil {
			failures = append(failures, result)
		}
	}

	return failures
}
