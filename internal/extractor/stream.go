package extractor

import (
	"context"
	"io"
	"sync"

	"tokgate/pkg/logger"
)

// streamProbeSize is how much of the tool's stdout is read up-front before
// the stream is handed to the caller. Probing lets an immediate tool failure
// surface as a clean error instead of an empty, already-committed response.
const streamProbeSize = 32 * 1024

// VideoStream is a live byte stream from a still-running extraction
// process. Bytes are delivered in the exact order the process emits them,
// with no additional buffering beyond the initial probe.
//
// A non-zero exit occurring after the first byte was delivered is treated as
// a normal end-of-stream: some yt-dlp post-processing failures are reported
// through the exit code even though the media itself transferred fully.
// Callers see io.EOF, never an error, for that case.
type VideoStream struct {
	prefix     []byte
	handle     processHandle
	stdout     io.Reader
	stderrDone <-chan struct{}
	closeOnce  sync.Once
}

// StreamVideo spawns the extraction tool with its output directed at a pipe
// and returns the pipe as a stream once the first bytes (or an immediate
// failure) have been observed. The process is killed when ctx is cancelled;
// the caller must Close the stream to guarantee the process is reaped.
func (e *Extractor) StreamVideo(ctx context.Context, url string) (io.ReadCloser, error) {
	handle, err := e.runner.Start(ctx, e.config.YtdlpBin, "-f", "mp4", "--no-playlist", "-o", "-", url)
	if err != nil {
		return nil, &ExtractionError{Tool: e.config.YtdlpBin, Err: err}
	}

	tail, stderrDone := collectStderr(handle.Stderr(), e.config.YtdlpBin)

	probe := make([]byte, streamProbeSize)
	var n int
	var readErr error
	for n == 0 && readErr == nil {
		n, readErr = handle.Stdout().Read(probe)
	}

	if n == 0 {
		// The tool exited (or the pipe broke) before producing a single
		// byte; this is the only point a stream failure can still be
		// reported cleanly.
		if readErr != io.EOF {
			handle.Cancel()
			_, _ = io.Copy(io.Discard, handle.Stdout())
		}

		<-stderrDone
		waitErr := handle.Wait()

		if waitErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			return nil, &ExtractionError{Tool: e.config.YtdlpBin, Err: waitErr, StderrTail: tail.String()}
		}

		if readErr != io.EOF {
			return nil, &ExtractionError{Tool: e.config.YtdlpBin, Err: readErr, StderrTail: tail.String()}
		}
	}

	return &VideoStream{
		prefix:     probe[:n],
		handle:     handle,
		stdout:     handle.Stdout(),
		stderrDone: stderrDone,
	}, nil
}

func (stream *VideoStream) Read(p []byte) (int, error) {
	if len(stream.prefix) > 0 {
		n := copy(p, stream.prefix)
		stream.prefix = stream.prefix[n:]
		return n, nil
	}

	n, err := stream.stdout.Read(p)
	if err == io.EOF {
		<-stream.stderrDone
		if waitErr := stream.handle.Wait(); waitErr != nil {
			log.Emit(logger.WARNING, "Extraction tool exited non-zero after streaming began: %v\n", waitErr)
		}
	}

	return n, err
}

// Close kills the extraction process if it is still running and reaps it.
// Always returns nil; a kill racing a natural exit is not an error.
func (stream *VideoStream) Close() error {
	stream.closeOnce.Do(func() {
		stream.handle.Cancel()
		_, _ = io.Copy(io.Discard, stream.stdout)
		<-stream.stderrDone
		_ = stream.handle.Wait()
	})

	return nil
}
