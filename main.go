package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hbomb79/episodemux/internal"
	"github.com/hbomb79/episodemux/internal/check"
	"github.com/hbomb79/episodemux/internal/request"
	"github.com/hbomb79/episodemux/internal/tool"
	"github.com/hbomb79/episodemux/pkg/logger"
)

const (
	exitOK       = 0
	exitStartup  = 1
	exitJobsFail = 2
)

var log = logger.Get("Main")

// cliFlags holds the values of the command line flags. Only flags the user actually
// passed override the loaded configuration.
type cliFlags struct {
	configPath string
	checkOnly  bool

	url     string
	chapter int
	from    int
	to      int

	requestsFile string
	inboxDir     string
	season       int
	defaultSub   string
	workers      int
	verbosity    int
	outputDir    string
	tempDir      string
	quality      string
	subs         string
}

// main is the entry point to the program. It loads the users configuration,
// resolves the external tools and then either runs a single batch of
// downloads, or watches an inbox directory for requests files.
func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("episodemux", flag.ContinueOnError)
	flags := defineFlags(fs)
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitStartup
	}

	config, err := internal.LoadConfig(flags.configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitStartup
	}
	applyFlags(fs, flags, &config)

	if err := config.Normalise(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitStartup
	}
	if err := config.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitStartup
	}

	logger.SetMinLoggingLevel(logger.StatusForVerbosity(config.Verbosity).Level())
	if flags.checkOnly {
		logger.SetMinLoggingLevel(logger.INFO.Level())
	}

	tools, err := check.Resolve(config.Tools)
	if err != nil {
		log.Emit(logger.FATAL, "%v\n", err)
		return exitStartup
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if flags.checkOnly {
		check.Report(ctx, tools)
		return exitOK
	}

	app := internal.New(config, internal.NewExecutor(config, tools, tool.NewCommandRunner()))
	if config.InboxDir != "" {
		if err := app.RunInbox(ctx); err != nil {
			log.Emit(logger.FATAL, "%v\n", err)
			return exitStartup
		}
		return exitOK
	}

	requests, err := collectRequests(fs, flags, config)
	if err != nil {
		log.Emit(logger.FATAL, "%v\n", err)
		return exitStartup
	}

	summary, err := app.RunBatch(ctx, requests)
	if err != nil {
		log.Emit(logger.FATAL, "%v\n", err)
		return exitStartup
	}

	if summary.Failed > 0 {
		for _, failure := range summary.Failures() {
			log.Emit(logger.ERROR, "Failed: %s: %v\n", failure.Job, failure.Err)
		}
		return exitJobsFail
	}

	return exitOK
}

func defineFlags(fs *flag.FlagSet) *cliFlags {
	flags := &cliFlags{}
	fs.StringVar(&flags.configPath, "config", "", "Path to a YAML configuration file")
	fs.BoolVar(&flags.checkOnly, "check", false, "Print the resolved tools and their versions, then exit")

	fs.StringVar(&flags.url, "url", "", "URL of a show to download")
	fs.IntVar(&flags.chapter, "chapter", 0, "Single chapter of -url to download")
	fs.IntVar(&flags.from, "from", 0, "First chapter of a range of -url to download")
	fs.IntVar(&flags.to, "to", 0, "Last chapter (inclusive) of a range of -url to download")

	fs.StringVar(&flags.requestsFile, "requests", "", "Path to a YAML requests file")
	fs.StringVar(&flags.inboxDir, "inbox", "", "Watch this directory for requests files instead of running a single batch")
	fs.IntVar(&flags.season, "season", 1, "Season number used when renaming episodes")
	fs.StringVar(&flags.defaultSub, "default-sub", "esLA", "Subtitle suffix marked as the default track")
	fs.IntVar(&flags.workers, "workers", 10, "Number of concurrent download workers")
	fs.IntVar(&flags.verbosity, "verbosity", 0, "Verbosity: 0 errors only, 1 progress, 2 everything")
	fs.IntVar(&flags.verbosity, "v", 0, "Same as -verbosity")
	fs.StringVar(&flags.outputDir, "output", ".", "Directory the muxed files are written to")
	fs.StringVar(&flags.tempDir, "temp", ".", "Directory under which per-job temp directories are created")
	fs.StringVar(&flags.quality, "quality", "best", "Downloader format selector")
	fs.StringVar(&flags.subs, "subs", "all", "Subtitles to download: all, none, or a comma separated list")

	return flags
}

// applyFlags copies the value of every flag the user set in to the config.
func applyFlags(fs *flag.FlagSet, flags *cliFlags, config *internal.Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "requests":
			config.RequestsFile = flags.requestsFile
		case "inbox":
			config.InboxDir = flags.inboxDir
		case "season":
			config.Season = flags.season
		case "default-sub":
			config.DefaultSub = flags.defaultSub
		case "workers":
			config.Workers = flags.workers
		case "verbosity", "v":
			config.Verbosity = flags.verbosity
		case "output":
			config.OutputDir = flags.outputDir
		case "temp":
			config.TempDir = flags.tempDir
		case "quality":
			config.Quality = flags.quality
		case "subs":
			config.Subs = flags.subs
		}
	})
}

// collectRequests gathers the requests from the requests file (if configured) and
// from the -url flags (if given).
func collectRequests(fs *flag.FlagSet, flags *cliFlags, config internal.Config) ([]request.Request, error) {
	requests := make([]request.Request, 0)
	if config.RequestsFile != "" {
		loaded, err := request.LoadFile(config.RequestsFile, config.RequestDefaults())
		if err != nil {
			return nil, err
		}
		requests = append(requests, loaded...)
	}

	if flags.url != "" {
		set := make(map[string]bool)
		fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

		var req request.Request
		switch {
		case set["chapter"]:
			req = request.New(flags.url, flags.chapter, config.RequestDefaults())
		case set["from"] && set["to"]:
			req = request.NewRange(flags.url, flags.from, flags.to, config.RequestDefaults())
		default:
			return nil, errors.New("-url requires either -chapter, or both -from and -to")
		}

		if err := request.Validate(req); err != nil {
			return nil, fmt.Errorf("invalid -url request: %w", err)
		}
		requests = append(requests, req)
	}

	if len(requests) == 0 {
		return nil, errors.New("nothing to download: provide -requests, -url or -inbox")
	}

	return requests, nil
}
