package download_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/uuid"
	"github.com/hbomb79/episodemux/internal/download"
	"github.com/hbomb79/episodemux/internal/queue"
	"github.com/hbomb79/episodemux/internal/tool"
	"github.com/hbomb79/episodemux/internal/ytdl"
	"github.com/hbomb79/episodemux/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var errExpected = errors.New("test: expected error")

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, inv tool.Invocation) error {
	return m.Called(ctx, inv).Error(0)
}

func isTool(name string) any {
	return mock.MatchedBy(func(inv tool.Invocation) bool { return inv.Name == name })
}

// downloadDir extracts the directory the downloader was told to write in to.
func downloadDir(t *testing.T, inv tool.Invocation) string {
	idx := slices.Index(inv.Args, ytdl.Output)
	require.GreaterOrEqual(t, idx, 0, "downloader invocation missing --output")

	return filepath.Dir(inv.Args[idx+1])
}

// writeFiles returns a mock hook which creates the files named inside of the
// downloader's output directory, and records the directory.
func writeFiles(t *testing.T, tempDir *string, names ...string) func(mock.Arguments) {
	return func(args mock.Arguments) {
		dir := downloadDir(t, args.Get(1).(tool.Invocation))
		*tempDir = dir
		for _, name := range names {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte{}, 0o644))
		}
	}
}

func newExecutor(t *testing.T, runner tool.Runner) (*download.Executor, string) {
	outputDir := t.TempDir()
	return download.New(download.Config{
		TempRoot:       t.TempDir(),
		OutputDir:      outputDir,
		Quality:        "best",
		Subs:           "all",
		Auth:           ytdl.Auth{Mode: ytdl.CookieAuth},
		DownloaderPath: "/usr/bin/youtube-dl",
		MuxerPath:      "/usr/bin/mkvmerge",
	}, runner), outputDir
}

func newJob() queue.Job {
	return queue.Job{ID: uuid.New(), URL: "https://example.com/show", DefaultSub: "esLA", Season: 1, Chapter: 3}
}

func assertTrouble(t *testing.T, err error, expected download.TroubleType) {
	var trouble download.Trouble
	require.True(t, errors.As(err, &trouble), "expected a download.Trouble, got %T (%v)", err, err)
	assert.Equal(t, expected, trouble.Type(), "unexpected trouble type: %s", trouble.Type())
}

func assertRemoved(t *testing.T, dir string) {
	require.NotEmpty(t, dir, "temp dir was never observed")
	_, err := os.Stat(dir)
	assert.True(t, errors.Is(err, os.ErrNotExist), "temp dir %s was not removed", dir)
}

func Test_Execute_Success(t *testing.T) {
	runner := &mockRunner{}
	executor, outputDir := newExecutor(t, runner)

	var tempDir string
	runner.On("Run", mock.Anything, isTool("downloader")).
		Run(writeFiles(t, &tempDir, "Show Episodio 3 - Title.mp4", "Show Episodio 3 - Title.esLA.ass")).
		Return(nil).Once()

	expectedOutput := filepath.Join(outputDir, "Show - S01E03 - Title.mkv")
	runner.On("Run", mock.Anything, mock.MatchedBy(func(inv tool.Invocation) bool {
		return inv.Name == "muxer" &&
			inv.Path == "/usr/bin/mkvmerge" &&
			slices.Contains(inv.Args, expectedOutput) &&
			slices.Contains(inv.Args, "0:spa") &&
			slices.Contains(inv.Args, "0:yes")
	})).Return(nil).Once()

	output, err := executor.Execute(context.Background(), newJob())
	require.NoError(t, err)
	assert.Equal(t, expectedOutput, output)
	runner.AssertExpectations(t)
	assertRemoved(t, tempDir)
}

func Test_Execute_DownloaderArgs(t *testing.T) {
	runner := &mockRunner{}
	executor, _ := newExecutor(t, runner)

	var tempDir string
	runner.On("Run", mock.Anything, mock.MatchedBy(func(inv tool.Invocation) bool {
		return inv.Name == "downloader" &&
			inv.Path == "/usr/bin/youtube-dl" &&
			!inv.Passthrough &&
			slices.Contains(inv.Args, "--playlist-items") &&
			slices.Contains(inv.Args, "3") &&
			inv.Args[len(inv.Args)-1] == "https://example.com/show"
	})).Run(writeFiles(t, &tempDir)).Return(errExpected).Once()

	_, err := executor.Execute(context.Background(), newJob())
	assertTrouble(t, err, download.DownloadFailure)
	assert.ErrorIs(t, err, errExpected)
	runner.AssertExpectations(t)
	assertRemoved(t, tempDir)
}

func Test_Execute_NoMediaProduced(t *testing.T) {
	runner := &mockRunner{}
	executor, _ := newExecutor(t, runner)

	var tempDir string
	runner.On("Run", mock.Anything, isTool("downloader")).Run(writeFiles(t, &tempDir, "partial.mp4.part")).Return(nil).Once()

	_, err := executor.Execute(context.Background(), newJob())
	assertTrouble(t, err, download.NoMediaProduced)
	runner.AssertNotCalled(t, "Run", mock.Anything, isTool("muxer"))
	assertRemoved(t, tempDir)
}

func Test_Execute_MuxFailure(t *testing.T) {
	runner := &mockRunner{}
	executor, outputDir := newExecutor(t, runner)

	var tempDir string
	runner.On("Run", mock.Anything, isTool("downloader")).Run(writeFiles(t, &tempDir, "Show Episodio 3.webm")).Return(nil).Once()
	runner.On("Run", mock.Anything, isTool("muxer")).Return(&tool.ExitError{Tool: "muxer", ExitCode: 2, Err: errExpected}).Once()

	output, err := executor.Execute(context.Background(), newJob())
	assert.Empty(t, output)
	assertTrouble(t, err, download.MuxFailure)

	var exitErr *tool.ExitError
	assert.True(t, errors.As(err, &exitErr))
	runner.AssertExpectations(t)
	assertRemoved(t, tempDir)

	entries, _ := os.ReadDir(outputDir)
	assert.Empty(t, entries)
}

func Test_Execute_CancelledBeforeStart(t *testing.T) {
	runner := &mockRunner{}
	executor, _ := newExecutor(t, runner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := executor.Execute(ctx, newJob())
	assertTrouble(t, err, download.Cancelled)
	assert.ErrorIs(t, err, context.Canceled)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func Test_Execute_CancelledDuringDownload(t *testing.T) {
	runner := &mockRunner{}
	executor, _ := newExecutor(t, runner)

	var tempDir string
	runner.On("Run", mock.Anything, isTool("downloader")).
		Run(writeFiles(t, &tempDir)).
		Return(fmt.Errorf("downloader was interrupted: %w", context.Canceled)).Once()

	_, err := executor.Execute(context.Background(), newJob())
	assertTrouble(t, err, download.Cancelled)
	assertRemoved(t, tempDir)
}

func Test_Execute_WorkspaceFailure(t *testing.T) {
	runner := &mockRunner{}
	executor := download.New(download.Config{TempRoot: filepath.Join(t.TempDir(), "missing", "root")}, runner)

	_, err := executor.Execute(context.Background(), newJob())
	assertTrouble(t, err, download.WorkspaceFailure)
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func Test_Execute_UniqueTempDirPerJob(t *testing.T) {
	runner := &mockRunner{}
	executor, _ := newExecutor(t, runner)

	dirs := make([]string, 2)
	runner.On("Run", mock.Anything, isTool("downloader")).Run(writeFiles(t, &dirs[0])).Return(errExpected).Once()
	runner.On("Run", mock.Anything, isTool("downloader")).Run(writeFiles(t, &dirs[1])).Return(errExpected).Once()

	_, _ = executor.Execute(context.Background(), newJob())
	_, _ = executor.Execute(context.Background(), newJob())
	assert.NotEqual(t, dirs[0], dirs[1])
}

func Test_Execute_PassthroughAtHighestVerbosity(t *testing.T) {
	runner := &mockRunner{}
	executor := download.New(download.Config{
		TempRoot:  t.TempDir(),
		OutputDir: t.TempDir(),
		Verbosity: 2,
		Auth:      ytdl.Auth{Mode: ytdl.PasswordAuth, Username: "user", Password: "hunter2"},
	}, runner)

	runner.On("Run", mock.Anything, mock.MatchedBy(func(inv tool.Invocation) bool {
		return inv.Passthrough && slices.Equal(inv.Secrets, []string{"hunter2"})
	})).Return(errExpected).Once()

	_, err := executor.Execute(context.Background(), newJob())
	assertTrouble(t, err, download.DownloadFailure)
	runner.AssertExpectations(t)
}

func Test_TroubleType_String(t *testing.T) {
	assert.Equal(t, "DOWNLOAD_FAILURE[1]", download.DownloadFailure.String())
	assert.Equal(t, "CANCELLED[4]", download.Cancelled.String())
}
