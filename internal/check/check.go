// Package check resolves the external tools episodemux depends on, failing fast
// at startup when either is missing, and can report their versions (-check).
package check

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/hbomb79/episodemux/pkg/logger"
)

var (
	log = logger.Get("Check")

	ErrDownloaderNotFound = errors.New("downloader not found")
	ErrMuxerNotFound      = errors.New("muxer not found")
)

const versionTimeout = 10 * time.Second

type (
	// Config names the external tools and bounds their run time. The tool names may be
	// bare executable names (resolved via PATH) or paths.
	Config struct {
		Downloader      string        `yaml:"downloader" env:"EPISODEMUX_DOWNLOADER" env-default:"youtube-dl" validate:"required"`
		Muxer           string        `yaml:"muxer" env:"EPISODEMUX_MUXER" env-default:"mkvmerge" validate:"required"`
		DownloadTimeout time.Duration `yaml:"download_timeout" env:"EPISODEMUX_DOWNLOAD_TIMEOUT" env-default:"0s" validate:"min=0"`
		MuxTimeout      time.Duration `yaml:"mux_timeout" env:"EPISODEMUX_MUX_TIMEOUT" env-default:"0s" validate:"min=0"`
	}

	// Tools holds the resolved, absolute paths of the external tools.
	Tools struct {
		Downloader string
		Muxer      string
	}

	lookupFunc func(string) (string, error)
)

// Resolve looks up both tools, returning an error wrapping ErrDownloaderNotFound or
// ErrMuxerNotFound if either cannot be found.
func Resolve(config Config) (Tools, error) {
	return resolve(config, exec.LookPath)
}

func resolve(config Config, lookup lookupFunc) (Tools, error) {
	downloader, err := lookup(config.Downloader)
	if err != nil {
		return Tools{}, fmt.Errorf("%w (%s): %w", ErrDownloaderNotFound, config.Downloader, err)
	}

	muxer, err := lookup(config.Muxer)
	if err != nil {
		return Tools{}, fmt.Errorf("%w (%s): %w", ErrMuxerNotFound, config.Muxer, err)
	}

	return Tools{Downloader: downloader, Muxer: muxer}, nil
}

// Report logs the location and version of each tool. This is informational
// only and never fails.
func Report(ctx context.Context, tools Tools) {
	reportTool(ctx, "downloader", tools.Downloader)
	reportTool(ctx, "muxer", tools.Muxer)
}

func reportTool(ctx context.Context, label string, path string) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		log.Emit(logger.WARNING, "%s found at %s but --version failed: %v\n", label, path, err)
		return
	}

	log.Emit(logger.SUCCESS, "%s: %s (%s)\n", label, firstLine(string(out)), path)
}

func firstLine(output string) string {
	line := strings.TrimSpace(output)
	if idx := strings.Index(line, "\n"); idx > 0 {
		line = line[:idx]
	}

	return line
}
