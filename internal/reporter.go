package internal

import (
	"sync"

	"github.com/google/uuid"
	"github.com/hbomb79/episodemux/internal/event"
	"github.com/hbomb79/episodemux/internal/queue"
	"github.com/hbomb79/episodemux/pkg/logger"
)

var reportLog = logger.Get("Progress")

type (
	jobStore interface {
		Job(uuid.UUID) (queue.Job, bool)
		Result(uuid.UUID) (queue.Result, bool)
	}

	// progressReporter listens for job lifecycle events and emits a
	// progress line for each. Handlers run synchronously on the worker
	// dispatching the event, so lines for a job are always in order.
	progressReporter struct {
		*sync.Mutex
		store  jobStore
		counts map[event.Event]int
	}
)

func newProgressReporter(store jobStore, eventBus event.EventHandler) *progressReporter {
	reporter := &progressReporter{
		Mutex:  &sync.Mutex{},
		store:  store,
		counts: make(map[event.Event]int),
	}

	for _, ev := range []event.Event{event.JobQueuedEvent, event.JobStartEvent, event.JobCompleteEvent, event.JobFailedEvent} {
		eventBus.RegisterHandlerFunction(ev, reporter.handleEvent)
	}

	return reporter
}

func (reporter *progressReporter) handleEvent(ev event.Event, payload event.Payload) {
	id, ok := payload.(uuid.UUID)
	if !ok {
		reportLog.Emit(logger.WARNING, "Ignoring %s event with unexpected payload %v\n", ev, payload)
		return
	}

	reporter.Lock()
	reporter.counts[ev]++
	reporter.Unlock()

	job, ok := reporter.store.Job(id)
	if !ok {
		reportLog.Emit(logger.WARNING, "Received %s event for unknown job %s\n", ev, id)
		return
	}

	switch ev {
	case event.JobQueuedEvent:
		reportLog.Emit(logger.DEBUG, "Queued: %s\n", job)
	case event.JobStartEvent:
		reportLog.Emit(logger.INFO, "Start: %s\n", job)
	case event.JobCompleteEvent:
		result, _ := reporter.store.Result(id)
		reportLog.Emit(logger.SUCCESS, "END: %s -> %s\n", job, result.OutputPath)
	case event.JobFailedEvent:
		result, _ := reporter.store.Result(id)
		reportLog.Emit(logger.ERROR, "ERROR: %s: %v\n", job, result.Err)
	}
}

// Count returns the number of events of the type provided seen by this reporter.
func (reporter *progressReporter) Count(ev event.Event) int {
	reporter.Lock()
	defer reporter.Unlock()

	return reporter.counts[ev]
}
