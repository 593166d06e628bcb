// Package tool runs the external command line tools which do the real work of
// downloading and muxing. It knows nothing about the tools themselves; callers
// build an Invocation and hand it to a Runner.
package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/alessio/shellescape"
)

const (
	// waitDelay bounds how long we wait for a killed tool's output pipes to close.
	waitDelay  = 5 * time.Second
	secretMask = "********"
)

var ErrTimeout = errors.New("tool exceeded its timeout")

type (
	// Invocation describes a single run of an external tool.
	Invocation struct {
		// Name is a human readable label for the tool (e.g. 'downloader').
		Name string
		Path string
		Args []string

		// Timeout bounds the run time of the tool; when exceeded the tool is killed. Zero
		// means no timeout.
		Timeout time.Duration

		// Secrets are replaced with a mask when the invocation is printed.
		Secrets []string

		// Passthrough connects the tool's stdout/stderr to ours, rather than
		// discarding stdout and capturing stderr for diagnostics.
		Passthrough bool
	}

	Runner interface {
		Run(context.Context, Invocation) error
	}

	// ExitError is returned when a tool ran but exited unsuccessfully.
	ExitError struct {
		Tool     string
		ExitCode int
		Stderr   string
		Err      error
	}

	// CommandRunner runs invocations as child processes of this program.
	CommandRunner struct {
		Stdout io.Writer
		Stderr io.Writer
	}
)

func (inv Invocation) String() string {
	words := make([]string, 0, len(inv.Args)+1)
	words = append(words, inv.Path)
	for _, arg := range inv.Args {
		if slices.Contains(inv.Secrets, arg) {
			arg = secretMask
		}
		words = append(words, arg)
	}

	return shellescape.QuoteCommand(words)
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s exited with status %d: %s", e.Tool, e.ExitCode, e.Stderr)
	}

	return fmt.Sprintf("%s exited with status %d", e.Tool, e.ExitCode)
}

func (e *ExitError) Unwrap() error { return e.Err }

func NewCommandRunner() *CommandRunner {
	return &CommandRunner{Stdout: os.Stdout, Stderr: os.Stderr}
}

// Run starts the tool and blocks until it exits. A non-zero exit status is reported
// as an *ExitError. If the invocation's timeout expires the tool is killed and the
// error wraps ErrTimeout; if the parent context is cancelled the error wraps the
// context's error.
func (runner *CommandRunner) Run(parent context.Context, inv Invocation) error {
	ctx := parent
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, inv.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, inv.Path, inv.Args...)
	cmd.WaitDelay = waitDelay

	var stderr bytes.Buffer
	if inv.Passthrough {
		cmd.Stdout = runner.Stdout
		cmd.Stderr = runner.Stderr
	} else {
		cmd.Stdout = io.Discard
		cmd.Stderr = &stderr
	}

	err := cmd.Run()
	if err == nil {
		return nil
	}

	if parentErr := parent.Err(); parentErr != nil {
		return fmt.Errorf("%s was interrupted: %w", inv.Name, parentErr)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s killed after %s: %w", inv.Name, inv.Timeout, ErrTimeout)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ExitError{
			Tool:     inv.Name,
			ExitCode: exitErr.ExitCode(),
			Stderr:   lastLine(stderr.String()),
			Err:      err,
		}
	}

	return fmt.Errorf("failed to run %s: %w", inv.Name, err)
}

// lastLine returns the final non-empty line of the output provided, which for
// both tools we drive is where the reason for failure is printed.
func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}

	return ""
}
