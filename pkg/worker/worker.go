package worker

import (
	"sync/atomic"

	"github.com/hbomb79/episodemux/pkg/logger"
)

var workerLogger = logger.Get("Worker")

type WorkerStatus int32

const (
	Idle WorkerStatus = iota
	Working
	Finished
)

// WorkerTask is the body of a worker. It is called exactly once when the
// worker starts, and the worker is considered finished when it returns. Long-lived
// workers are expected to loop inside the task until told to stop.
type WorkerTask func(Worker) error

type Worker interface {
	Start()
	Status() WorkerStatus
	Label() string
}

type taskWorker struct {
	label         string
	task          WorkerTask
	currentStatus atomic.Int32
}

func NewWorker(label string, task WorkerTask) *taskWorker {
	return &taskWorker{label: label, task: task}
}

// Start runs the workers task on the calling goroutine, and returns
// once the task has returned.
func (worker *taskWorker) Start() {
	workerLogger.Emit(logger.NEW, "Starting worker %v\n", worker.label)
	worker.currentStatus.Store(int32(Working))
	if err := worker.task(worker); err != nil {
		workerLogger.Emit(logger.ERROR, "Worker %v has reported an error(%T): %v\n", worker.label, err, err.Error())
	}

	worker.currentStatus.Store(int32(Finished))
	workerLogger.Emit(logger.STOP, "Worker %v has stopped\n", worker.label)
}

// Status returns the current status of this worker
func (worker *taskWorker) Status() WorkerStatus {
	return WorkerStatus(worker.currentStatus.Load())
}

// Label returns the label for this worker
func (worker *taskWorker) Label() string {
	return worker.label
}
