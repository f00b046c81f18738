package extractor

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"

	"tokgate/pkg/logger"
)

const stderrTailLines = 5

type (
	// processHandle is the supervisor's owned representation of one spawned
	// process. Wait must be observed on every path so no child is leaked;
	// Cancel kills the process if it is still running.
	processHandle interface {
		Stdout() io.Reader
		Stderr() io.Reader
		Wait() error
		Cancel()
	}

	commandRunner interface {
		Start(ctx context.Context, name string, args ...string) (processHandle, error)
	}
)

type execRunner struct{}

func (runner *execRunner) Start(ctx context.Context, name string, args ...string) (processHandle, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	log.Emit(logger.DEBUG, "Spawned '%s' with args %v (pid=%d)\n", name, args, cmd.Process.Pid)
	return &execHandle{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type execHandle struct {
	cmd      *exec.Cmd
	stdout   io.Reader
	stderr   io.Reader
	waitOnce sync.Once
	waitErr  error
}

func (handle *execHandle) Stdout() io.Reader { return handle.stdout }
func (handle *execHandle) Stderr() io.Reader { return handle.stderr }

// Wait reaps the process, returning a non-nil error for a non-zero exit.
// Safe to call multiple times; the underlying wait happens once.
func (handle *execHandle) Wait() error {
	handle.waitOnce.Do(func() { handle.waitErr = handle.cmd.Wait() })
	return handle.waitErr
}

func (handle *execHandle) Cancel() {
	if handle.cmd.Process != nil {
		_ = handle.cmd.Process.Kill()
	}
}

// stderrTail retains the last few non-warning stderr lines of a process so
// failures can carry some diagnostic context.
type stderrTail struct {
	mu    sync.Mutex
	lines []string
}

func (tail *stderrTail) add(line string) {
	tail.mu.Lock()
	defer tail.mu.Unlock()

	tail.lines = append(tail.lines, line)
	if len(tail.lines) > stderrTailLines {
		tail.lines = tail.lines[len(tail.lines)-stderrTailLines:]
	}
}

func (tail *stderrTail) String() string {
	tail.mu.Lock()
	defer tail.mu.Unlock()

	return strings.Join(tail.lines, "; ")
}

// collectStderr drains a process' stderr in the background. Lines carrying
// the tool's warning marker are discarded outright; anything else is logged
// and retained in the returned tail. The returned channel closes once the
// stream is exhausted.
func collectStderr(reader io.Reader, tool string) (*stderrTail, <-chan struct{}) {
	tail := &stderrTail{}
	done := make(chan struct{})

	go func() {
		defer close(done)

		scanner := bufio.NewScanner(reader)
		scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.Contains(line, "WARNING") {
				continue
			}

			tail.add(line)
			log.Emit(logger.WARNING, "%s stderr: %s\n", tool, line)
		}

		// A line beyond the scanner cap stops the scan early; keep
		// draining so a child blocked writing stderr can never stall.
		if scanner.Err() != nil {
			_, _ = io.Copy(io.Discard, reader)
		}
	}()

	return tail, done
}

// runCaptured runs a process to completion, capturing up to limit bytes of
// stdout. Exceeding the limit kills the process and fails with
// ErrTooMuchOutput. Context cancellation (including deadline expiry) is
// surfaced as the context's error rather than an ExtractionError.
func (e *Extractor) runCaptured(ctx context.Context, limit int64, name string, args ...string) ([]byte, error) {
	handle, err := e.runner.Start(ctx, name, args...)
	if err != nil {
		return nil, &ExtractionError{Tool: name, Err: err}
	}

	tail, stderrDone := collectStderr(handle.Stderr(), name)

	// Both pipes must be fully drained before the process is reaped;
	// Wait closes them, and an early Wait races the stderr collector.
	output, readErr := io.ReadAll(io.LimitReader(handle.Stdout(), limit+1))
	if int64(len(output)) > limit {
		handle.Cancel()
		_, _ = io.Copy(io.Discard, handle.Stdout())
		<-stderrDone
		_ = handle.Wait()
		return nil, ErrTooMuchOutput
	}

	<-stderrDone
	waitErr := handle.Wait()

	if readErr != nil {
		return nil, &ExtractionError{Tool: name, Err: readErr, StderrTail: tail.String()}
	}

	if waitErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, &ExtractionError{Tool: name, Err: waitErr, StderrTail: tail.String()}
	}

	return output, nil
}
