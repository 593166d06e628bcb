package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hbomb79/episodemux/internal/event"
	"github.com/hbomb79/episodemux/internal/queue"
	"github.com/hbomb79/episodemux/internal/request"
	"github.com/hbomb79/episodemux/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errExpected = errors.New("test: expected error")

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

type executorFunc func(context.Context, queue.Job) (string, error)

func (fn executorFunc) Execute(ctx context.Context, job queue.Job) (string, error) {
	return fn(ctx, job)
}

type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) Execute(ctx context.Context, job queue.Job) (string, error) {
	args := m.Called(ctx, job)
	return args.String(0), args.Error(1)
}

func Test_Run_RejectsInvalidWorkerCount(t *testing.T) {
	manager := queue.NewManager(executorFunc(func(context.Context, queue.Job) (string, error) { return "", nil }), event.New())
	_, err := manager.Run(context.Background(), 0)
	assert.ErrorIs(t, err, queue.ErrInvalidWorkerCount)
}

func Test_Run_WaitsForEveryJob(t *testing.T) {
	var completed atomic.Int32
	manager := queue.NewManager(executorFunc(func(_ context.Context, job queue.Job) (string, error) {
		time.Sleep(20 * time.Millisecond)
		completed.Add(1)
		return fmt.Sprintf("/out/%d.mkv", job.Chapter), nil
	}), event.New())

	assert.Equal(t, 10, manager.Submit(request.NewRange("https://example.com/show", 1, 10, defaults)))
	summary, err := manager.Run(context.Background(), 3)
	require.NoError(t, err)

	assert.EqualValues(t, 10, completed.Load(), "Run returned before every job completed")
	assert.Equal(t, 10, summary.Total)
	assert.Equal(t, 10, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.NoError(t, summary.Err())
	assert.Equal(t, 0, manager.Pending())
}

func Test_Run_FailureDoesNotAffectSiblings(t *testing.T) {
	manager := queue.NewManager(executorFunc(func(_ context.Context, job queue.Job) (string, error) {
		switch job.Chapter {
		case 2:
			return "", errExpected
		case 4:
			panic("test: executor panic")
		}
		return "/out/ok.mkv", nil
	}), event.New())

	manager.Submit(request.NewRange("https://example.com/show", 1, 5, defaults))
	summary, err := manager.Run(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 2, summary.Failed)
	assert.ErrorIs(t, summary.Err(), errExpected)

	failed := make([]int, 0)
	for _, result := range summary.Failures() {
		failed = append(failed, result.Job.Chapter)
	}
	assert.ElementsMatch(t, []int{2, 4}, failed)
}

func Test_Run_EmitsLifecycleEvents(t *testing.T) {
	bus := event.New()
	var mu sync.Mutex
	counts := make(map[event.Event]int)
	for _, ev := range []event.Event{event.JobQueuedEvent, event.JobStartEvent, event.JobCompleteEvent, event.JobFailedEvent} {
		bus.RegisterHandlerFunction(ev, func(ev event.Event, _ event.Payload) {
			mu.Lock()
			counts[ev]++
			mu.Unlock()
		})
	}

	manager := queue.NewManager(executorFunc(func(_ context.Context, job queue.Job) (string, error) {
		if job.Chapter == 1 {
			return "", errExpected
		}
		return "/out/ok.mkv", nil
	}), bus)

	manager.Submit(request.NewRange("https://example.com/show", 1, 3, defaults))
	_, err := manager.Run(context.Background(), 2)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, counts[event.JobQueuedEvent])
	assert.Equal(t, 3, counts[event.JobStartEvent])
	assert.Equal(t, 2, counts[event.JobCompleteEvent])
	assert.Equal(t, 1, counts[event.JobFailedEvent])
}

func Test_Run_ConcurrencyBoundedByWorkerCount(t *testing.T) {
	var active, peak atomic.Int32
	manager := queue.NewManager(executorFunc(func(context.Context, queue.Job) (string, error) {
		now := active.Add(1)
		for {
			old := peak.Load()
			if now <= old || peak.CompareAndSwap(old, now) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		return "", nil
	}), event.New())

	manager.Submit(request.NewRange("https://example.com/show", 1, 20, defaults))
	_, err := manager.Run(context.Background(), 4)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(4))
}

func Test_Run_EmptyQueue(t *testing.T) {
	manager := queue.NewManager(executorFunc(func(context.Context, queue.Job) (string, error) {
		t.Fatal("executor must not be called for an empty queue")
		return "", nil
	}), event.New())

	assert.Equal(t, 0, manager.Submit(request.Request{URL: "https://example.com/show"}))
	summary, err := manager.Run(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total)
}

// Test_Run_SingleRequestTwoWorkers runs the smallest realistic batch: one
// request for chapter 3 processed by two workers.
func Test_Run_SingleRequestTwoWorkers(t *testing.T) {
	executor := &mockExecutor{}
	executor.On("Execute", mock.Anything, mock.MatchedBy(func(job queue.Job) bool {
		return job.Chapter == 3 && job.URL == "http://x" && job.Season == 1 && job.DefaultSub == "enUS"
	})).Return("/out/Show - S01E03.mkv", nil).Once()

	manager := queue.NewManager(executor, event.New())
	reqs, err := request.Decode([]map[string]any{{"url": "http://x", "chapter": 3, "season": 1, "default_sub": "enUS"}}, defaults)
	require.NoError(t, err)
	assert.Equal(t, 1, manager.Submit(reqs...))

	summary, err := manager.Run(context.Background(), 2)
	require.NoError(t, err)
	executor.AssertExpectations(t)

	require.Len(t, summary.Results, 1)
	result := summary.Results[0]
	assert.Equal(t, "/out/Show - S01E03.mkv", result.OutputPath)
	assert.NoError(t, result.Err)

	stored, ok := manager.Result(result.Job.ID)
	assert.True(t, ok)
	assert.Equal(t, result, stored)

	job, ok := manager.Job(result.Job.ID)
	assert.True(t, ok)
	assert.Equal(t, 3, job.Chapter)
}

func Test_Run_CancelledContextStillDrains(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	manager := queue.NewManager(executorFunc(func(ctx context.Context, _ queue.Job) (string, error) {
		return "", ctx.Err()
	}), event.New())

	manager.Submit(request.NewRange("https://example.com/show", 1, 5, defaults))
	summary, err := manager.Run(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.Failed)
	assert.ErrorIs(t, summary.Err(), context.Canceled)
}

func Test_Run_ManagerIsReusable(t *testing.T) {
	manager := queue.NewManager(executorFunc(func(context.Context, queue.Job) (string, error) { return "", nil }), event.New())

	manager.Submit(request.New("https://example.com/a", 1, defaults))
	first, err := manager.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Total)

	manager.Submit(request.NewRange("https://example.com/b", 1, 2, defaults))
	second, err := manager.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Total, "second batch must only report its own jobs")
}
