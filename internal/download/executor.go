package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hbomb79/episodemux/internal/mkvmerge"
	"github.com/hbomb79/episodemux/internal/queue"
	"github.com/hbomb79/episodemux/internal/tool"
	"github.com/hbomb79/episodemux/internal/ytdl"
	"github.com/hbomb79/episodemux/pkg/logger"
)

var log = logger.Get("Executor")

const tempDirPattern = "episodemux-*"

type (
	// Config is the immutable configuration shared by every job an executor runs.
	Config struct {
		TempRoot        string
		OutputDir       string
		Quality         string
		Subs            string
		Auth            ytdl.Auth
		Verbosity       int
		DownloaderPath  string
		MuxerPath       string
		DownloadTimeout time.Duration
		MuxTimeout      time.Duration
	}

	// ExecutionContext is the transient state of a single job's execution. It is
	// owned by the worker running the job, and its temp directory is removed
	// when the job finishes.
	ExecutionContext struct {
		TempDir   string
		Auth      ytdl.Auth
		OutputDir string
		Verbosity int
	}

	// Executor downloads a single episode in to an isolated temp directory,
	// muxes the media and its subtitles in to a single Matroska file and
	// cleans up after itself.
	Executor struct {
		config Config
		runner tool.Runner
	}
)

func New(config Config, runner tool.Runner) *Executor {
	return &Executor{config: config, runner: runner}
}

// Execute runs the job provided, returning the path of the muxed file. Any error
// returned is a Trouble identifying the stage which failed. The job's temp
// directory is always removed before Execute returns.
func (executor *Executor) Execute(ctx context.Context, job queue.Job) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", newTrouble(Cancelled, fmt.Errorf("job %s not started: %w", job, err))
	}

	execCtx, err := executor.newExecutionContext()
	if err != nil {
		return "", newTrouble(WorkspaceFailure, err)
	}
	defer executor.cleanUp(execCtx)

	if err := executor.download(ctx, job, execCtx); err != nil {
		return "", err
	}

	mediaPath, err := mkvmerge.FindMedia(execCtx.TempDir)
	if err != nil {
		log.Emit(logger.ERROR, "Download of %s produced no media\n", job.URL)
		return "", newTrouble(NoMediaProduced, err)
	}

	outputPath, err := executor.mux(ctx, job, execCtx, mediaPath)
	if err != nil {
		return "", err
	}

	log.Emit(logger.SUCCESS, "Video %s downloaded successfully!\n", outputPath)
	return outputPath, nil
}

// newExecutionContext allocates a fresh, uniquely named temp directory under the
// configured temp root.
func (executor *Executor) newExecutionContext() (*ExecutionContext, error) {
	tempDir, err := os.MkdirTemp(executor.config.TempRoot, tempDirPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate temp directory: %w", err)
	}

	return &ExecutionContext{
		TempDir:   tempDir,
		Auth:      executor.config.Auth,
		OutputDir: executor.config.OutputDir,
		Verbosity: executor.config.Verbosity,
	}, nil
}

func (executor *Executor) download(ctx context.Context, job queue.Job, execCtx *ExecutionContext) error {
	inv := tool.Invocation{
		Name: "downloader",
		Path: executor.config.DownloaderPath,
		Args: ytdl.Args(ytdl.Options{
			URL:       job.URL,
			Quality:   executor.config.Quality,
			Auth:      execCtx.Auth,
			Chapter:   job.Chapter,
			Subs:      executor.config.Subs,
			OutputDir: execCtx.TempDir,
		}),
		Timeout:     executor.config.DownloadTimeout,
		Secrets:     execCtx.Auth.Secrets(),
		Passthrough: execCtx.Verbosity > 1,
	}

	log.Emit(logger.INFO, "Trying to download video from URL: %s (chapter %d)\n", job.URL, job.Chapter)
	log.Emit(logger.INFO, "Running command: %s\n", inv)
	if err := executor.runner.Run(ctx, inv); err != nil {
		log.Emit(logger.ERROR, "Error while downloading URL %s: %v\n", job.URL, err)
		return executor.troubleFor(DownloadFailure, fmt.Errorf("download of %s failed: %w", job.URL, err))
	}

	return nil
}

func (executor *Executor) mux(ctx context.Context, job queue.Job, execCtx *ExecutionContext, mediaPath string) (string, error) {
	subtitles, err := mkvmerge.FindSubtitles(mediaPath)
	if err != nil {
		return "", newTrouble(MuxFailure, err)
	}

	args, outputPath := mkvmerge.Args(mkvmerge.Options{
		MediaPath:  mediaPath,
		OutputDir:  execCtx.OutputDir,
		Season:     job.Season,
		DefaultSub: job.DefaultSub,
	}, subtitles)

	inv := tool.Invocation{
		Name:        "muxer",
		Path:        executor.config.MuxerPath,
		Args:        args,
		Timeout:     executor.config.MuxTimeout,
		Passthrough: execCtx.Verbosity > 1,
	}

	log.Emit(logger.INFO, "Trying to create %s\n", outputPath)
	log.Emit(logger.INFO, "Running command: %s\n", inv)
	if err := executor.runner.Run(ctx, inv); err != nil {
		log.Emit(logger.ERROR, "Error while creating %s file: %v\n", outputPath, err)
		return "", executor.troubleFor(MuxFailure, fmt.Errorf("mux of %s failed: %w", filepath.Base(mediaPath), err))
	}

	return outputPath, nil
}

// troubleFor wraps a tool failure in a trouble of the type provided, unless the
// failure was caused by the job being cancelled.
func (executor *Executor) troubleFor(tType TroubleType, err error) Trouble {
	if errors.Is(err, context.Canceled) {
		return newTrouble(Cancelled, err)
	}

	return newTrouble(tType, err)
}

func (executor *Executor) cleanUp(execCtx *ExecutionContext) {
	log.Emit(logger.INFO, "Cleaning up directory: %s\n", execCtx.TempDir)
	if err := os.RemoveAll(execCtx.TempDir); err != nil {
		log.Emit(logger.WARNING, "Failed to remove temp directory %s: %v\n", execCtx.TempDir, err)
	}
}
