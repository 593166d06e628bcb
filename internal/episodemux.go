package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/hbomb79/episodemux/internal/check"
	"github.com/hbomb79/episodemux/internal/download"
	"github.com/hbomb79/episodemux/internal/event"
	"github.com/hbomb79/episodemux/internal/inbox"
	"github.com/hbomb79/episodemux/internal/queue"
	"github.com/hbomb79/episodemux/internal/request"
	"github.com/hbomb79/episodemux/internal/tool"
	"github.com/hbomb79/episodemux/pkg/logger"
)

var log = logger.Get("Core")

// inboxForceSync is how often the inbox is rescanned regardless of notifications.
const inboxForceSync = time.Minute

// EpisodeMux is the top-level object, responsible for wiring together the
// event bus, job executor, queue manager and progress reporting.
type EpisodeMux struct {
	config   Config
	eventBus event.EventCoordinator
	manager  *queue.Manager
	reporter *progressReporter
}

// New constructs an EpisodeMux which executes jobs using the executor provided.
func New(config Config, executor queue.Executor) *EpisodeMux {
	log.Emit(logger.DEBUG, "Bootstrapping using config: %+v\n", redact(config))
	eventBus := event.New()
	manager := queue.NewManager(executor, eventBus)

	return &EpisodeMux{
		config:   config,
		eventBus: eventBus,
		manager:  manager,
		reporter: newProgressReporter(manager, eventBus),
	}
}

// NewExecutor builds the executor which drives the real downloader and muxer found at
// the tool paths provided.
func NewExecutor(config Config, tools check.Tools, runner tool.Runner) *download.Executor {
	return download.New(download.Config{
		TempRoot:        config.TempDir,
		OutputDir:       config.OutputDir,
		Quality:         config.Quality,
		Subs:            config.Subs,
		Auth:            config.Auth,
		Verbosity:       config.Verbosity,
		DownloaderPath:  tools.Downloader,
		MuxerPath:       tools.Muxer,
		DownloadTimeout: config.Tools.DownloadTimeout,
		MuxTimeout:      config.Tools.MuxTimeout,
	}, runner)
}

// RunBatch enqueues every request provided and blocks until each resulting job has
// been processed by the worker pool.
func (app *EpisodeMux) RunBatch(ctx context.Context, requests []request.Request) (queue.Summary, error) {
	count := app.manager.Submit(requests...)
	if count == 0 {
		log.Emit(logger.WARNING, "No jobs to run\n")
		return queue.Summary{}, nil
	}

	return app.manager.Run(ctx, app.config.Workers)
}

// RunFile loads the requests file at the path provided and runs it as a batch. An
// error is returned if the file cannot be loaded or any job in the batch fails.
func (app *EpisodeMux) RunFile(ctx context.Context, path string) error {
	requests, err := request.LoadFile(path, app.config.RequestDefaults())
	if err != nil {
		return err
	}

	summary, err := app.RunBatch(ctx, requests)
	if err != nil {
		return err
	}

	return summary.Err()
}

// RunInbox watches the configured inbox directory, running each requests file dropped
// in to it, until the context is cancelled.
func (app *EpisodeMux) RunInbox(ctx context.Context) error {
	watcher, err := inbox.New(inbox.Config{
		Dir:       app.config.InboxDir,
		Settle:    app.config.InboxSettle,
		ForceSync: inboxForceSync,
	}, app)
	if err != nil {
		return fmt.Errorf("failed to start inbox: %w", err)
	}

	return watcher.Run(ctx)
}

func redact(config Config) Config {
	if config.Auth.Password != "" {
		config.Auth.Password = "********"
	}

	return config
}
