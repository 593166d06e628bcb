// Package inbox watches a directory for requests files. Each new file is run as its
// own batch once it has stopped changing, after which it is renamed to record the
// outcome, so that a long running episodemux can be fed by dropping files in to a
// directory.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hbomb79/episodemux/pkg/logger"
	"github.com/rjeczalik/notify"
)

var log = logger.Get("Inbox")

const (
	DoneSuffix   = ".done"
	FailedSuffix = ".failed"
)

var requestFileExtensions = []string{".yaml", ".yml"}

type (
	// BatchRunner runs every request in the requests file at the path provided.
	BatchRunner interface {
		RunFile(context.Context, string) error
	}

	Config struct {
		// Dir is the directory to watch. It is created if missing.
		Dir string

		// A file that has just appeared is likely still being written, so we wait for its
		// modtime to be at least this long in the past before running it.
		Settle time.Duration

		// The watcher is backed by a regular scan of the directory in case a
		// notification is missed. Zero disables the scan.
		ForceSync time.Duration
	}

	// Watcher detects requests files in its directory and runs them, one at a time,
	// in the order they become ready.
	Watcher struct {
		*sync.Mutex
		config Config
		runner BatchRunner

		known      map[string]bool
		holdTimers map[string]*time.Timer
		pending    []string
		wake       chan struct{}
	}
)

// New creates a watcher for the directory in the config provided. The directory is
// created if missing; if the path points to an existing file an error is returned.
func New(config Config, runner BatchRunner) (*Watcher, error) {
	dir, err := filepath.Abs(config.Dir)
	if err != nil {
		return nil, fmt.Errorf("inbox path '%s' could not be resolved: %w", config.Dir, err)
	}
	config.Dir = dir

	if info, err := os.Stat(dir); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("inbox path '%s' is not a directory", dir)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, os.ModeDir|os.ModePerm); err != nil {
			return nil, fmt.Errorf("inbox path '%s' could not be created: %w", dir, err)
		}
	} else {
		return nil, fmt.Errorf("inbox path '%s' could not be accessed: %w", dir, err)
	}

	return &Watcher{
		Mutex:      &sync.Mutex{},
		config:     config,
		runner:     runner,
		known:      make(map[string]bool),
		holdTimers: make(map[string]*time.Timer),
		pending:    make([]string, 0),
		wake:       make(chan struct{}, 1),
	}, nil
}

// Run watches the directory until the context is cancelled. Files already in the
// directory when Run is called are picked up immediately.
func (watcher *Watcher) Run(ctx context.Context) error {
	fsNotifyChannel := make(chan notify.EventInfo, 16)
	if err := notify.Watch(watcher.config.Dir, fsNotifyChannel, notify.Create, notify.Rename, notify.Write); err != nil {
		return fmt.Errorf("failed to watch inbox %s: %w", watcher.config.Dir, err)
	}
	defer notify.Stop(fsNotifyChannel)

	var forceSyncChannel <-chan time.Time
	if watcher.config.ForceSync > 0 {
		ticker := time.NewTicker(watcher.config.ForceSync)
		defer ticker.Stop()
		forceSyncChannel = ticker.C
	}

	defer watcher.clearAllHoldTimers()

	log.Emit(logger.NEW, "Watching %s for requests files\n", watcher.config.Dir)
	watcher.DiscoverNewFiles()

	for {
		select {
		case <-fsNotifyChannel:
			watcher.DiscoverNewFiles()
		case <-forceSyncChannel:
			watcher.DiscoverNewFiles()
		case <-watcher.wake:
			watcher.processPending(ctx)
		case <-ctx.Done():
			log.Emit(logger.STOP, "Stopped watching %s\n", watcher.config.Dir)
			return nil
		}
	}
}

// DiscoverNewFiles scans the directory for requests files we do not yet know about. Files
// which have settled are marked ready immediately, others are placed on hold until they do.
//
// Note: This function will take ownership of the mutex, and releases it when returning
func (watcher *Watcher) DiscoverNewFiles() {
	watcher.Lock()
	defer watcher.Unlock()

	entries, err := os.ReadDir(watcher.config.Dir)
	if err != nil {
		log.Emit(logger.ERROR, "Failed to scan inbox: %v\n", err)
		return
	}

	for _, entry := range entries {
		path := filepath.Join(watcher.config.Dir, entry.Name())
		if entry.IsDir() || !isRequestsFile(entry.Name()) || watcher.known[path] {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		watcher.known[path] = true
		age := time.Since(info.ModTime())
		if age >= watcher.config.Settle {
			watcher.markReady(path)
		} else {
			log.Emit(logger.DEBUG, "Holding %s until it settles\n", path)
			watcher.scheduleHoldTimer(path, watcher.config.Settle-age)
		}
	}
}

// evaluateHold checks the modtime of a file on hold, marking it ready if it has
// settled or scheduling another check if not. Files which have gone away are forgotten.
//
// Note: this function takes ownership of the mutex, and releases it when returning
func (watcher *Watcher) evaluateHold(path string) {
	watcher.Lock()
	defer watcher.Unlock()

	delete(watcher.holdTimers, path)
	info, err := os.Stat(path)
	if err != nil {
		delete(watcher.known, path)
		return
	}

	if age := time.Since(info.ModTime()); age < watcher.config.Settle {
		watcher.scheduleHoldTimer(path, watcher.config.Settle-age)
		return
	}

	watcher.markReady(path)
}

// markReady must be called with the mutex held.
func (watcher *Watcher) markReady(path string) {
	watcher.pending = append(watcher.pending, path)
	select {
	case watcher.wake <- struct{}{}:
	default:
	}
}

func (watcher *Watcher) scheduleHoldTimer(path string, delay time.Duration) {
	watcher.clearHoldTimer(path)
	watcher.holdTimers[path] = time.AfterFunc(delay, func() {
		watcher.evaluateHold(path)
	})
}

func (watcher *Watcher) clearHoldTimer(path string) {
	if timer, ok := watcher.holdTimers[path]; ok {
		timer.Stop()
		delete(watcher.holdTimers, path)
	}
}

func (watcher *Watcher) clearAllHoldTimers() {
	watcher.Lock()
	defer watcher.Unlock()

	for path, timer := range watcher.holdTimers {
		timer.Stop()
		delete(watcher.holdTimers, path)
	}
}

// processPending runs each ready file in turn. The mutex is not held while a
// batch runs so that discovery can continue.
func (watcher *Watcher) processPending(ctx context.Context) {
	for {
		watcher.Lock()
		if len(watcher.pending) == 0 {
			watcher.Unlock()
			return
		}
		path := watcher.pending[0]
		watcher.pending = watcher.pending[1:]
		watcher.Unlock()

		if ctx.Err() != nil {
			return
		}

		watcher.process(ctx, path)
	}
}

func (watcher *Watcher) process(ctx context.Context, path string) {
	log.Emit(logger.INFO, "Running requests file %s\n", path)
	err := watcher.runner.RunFile(ctx, path)
	if err != nil && ctx.Err() != nil {
		// Interrupted; leave the file in place so it is run again next time.
		log.Emit(logger.WARNING, "Run of %s was interrupted: %v\n", path, err)
		return
	}

	suffix := DoneSuffix
	if err != nil {
		log.Emit(logger.ERROR, "Requests file %s failed: %v\n", path, err)
		suffix = FailedSuffix
	} else {
		log.Emit(logger.SUCCESS, "Requests file %s completed\n", path)
	}

	// A file we could not rename stays known, else it would be run again on the next scan.
	if err := os.Rename(path, path+suffix); err != nil {
		log.Emit(logger.ERROR, "Failed to mark %s as %s: %v\n", path, strings.TrimPrefix(suffix, "."), err)
		return
	}

	watcher.Lock()
	delete(watcher.known, path)
	watcher.Unlock()
}

func isRequestsFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range requestFileExtensions {
		if ext == allowed {
			return true
		}
	}

	return false
}
