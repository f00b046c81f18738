package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errExit1 = errors.New("exit status 1")

// fakeHandle scripts one spawned process: fixed stdout/stderr content and a
// fixed exit error. An optional onCancel hook lets tests emulate the real
// behaviour of a kill closing the process' pipes.
type fakeHandle struct {
	stdout   io.Reader
	stderr   io.Reader
	exitErr  error
	onCancel func()

	mu        sync.Mutex
	cancelled bool
	waited    bool
}

func newFakeHandle(stdout string, stderr string, exitErr error) *fakeHandle {
	return &fakeHandle{
		stdout:  strings.NewReader(stdout),
		stderr:  strings.NewReader(stderr),
		exitErr: exitErr,
	}
}

func (handle *fakeHandle) Stdout() io.Reader { return handle.stdout }
func (handle *fakeHandle) Stderr() io.Reader { return handle.stderr }

func (handle *fakeHandle) Wait() error {
	handle.mu.Lock()
	defer handle.mu.Unlock()
	handle.waited = true
	return handle.exitErr
}

func (handle *fakeHandle) Cancel() {
	handle.mu.Lock()
	hook := handle.onCancel
	handle.cancelled = true
	handle.mu.Unlock()

	if hook != nil {
		hook()
	}
}

func (handle *fakeHandle) wasWaited() bool {
	handle.mu.Lock()
	defer handle.mu.Unlock()
	return handle.waited
}

func (handle *fakeHandle) wasCancelled() bool {
	handle.mu.Lock()
	defer handle.mu.Unlock()
	return handle.cancelled
}

// fakeRunner hands out scripted handles and records every invocation.
type fakeRunner struct {
	mu      sync.Mutex
	calls   [][]string
	onStart func(name string, args []string) (processHandle, error)
}

func (runner *fakeRunner) Start(_ context.Context, name string, args ...string) (processHandle, error) {
	runner.mu.Lock()
	runner.calls = append(runner.calls, append([]string{name}, args...))
	runner.mu.Unlock()

	return runner.onStart(name, args)
}

func (runner *fakeRunner) callCount() int {
	runner.mu.Lock()
	defer runner.mu.Unlock()
	return len(runner.calls)
}

func newTestExtractor(runner *fakeRunner) *Extractor {
	return &Extractor{
		config: Config{
			YtdlpBin:               "yt-dlp",
			PythonBin:              "python3",
			TranscribeScript:       "scripts/transcribe.py",
			DownloadTimeoutSeconds: 120,
		},
		runner: runner,
	}
}

// execLikeHandle mimics the pipe semantics of os/exec: Wait tears the
// stderr pipe down, so any read not completed before Wait is lost. The
// scripted stderr line lands only after a short delay, exposing any
// supervision path which reaps the process before draining stderr.
type execLikeHandle struct {
	stdout       io.Reader
	stderrReader *io.PipeReader
	exitErr      error
}

func newExecLikeHandle(stdout string, stderrLine string, exitErr error) *execLikeHandle {
	pipeReader, pipeWriter := io.Pipe()
	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = pipeWriter.Write([]byte(stderrLine + "\n"))
		_ = pipeWriter.Close()
	}()

	return &execLikeHandle{
		stdout:       strings.NewReader(stdout),
		stderrReader: pipeReader,
		exitErr:      exitErr,
	}
}

func (handle *execLikeHandle) Stdout() io.Reader { return handle.stdout }
func (handle *execLikeHandle) Stderr() io.Reader { return handle.stderrReader }

func (handle *execLikeHandle) Wait() error {
	_ = handle.stderrReader.Close()
	return handle.exitErr
}

func (handle *execLikeHandle) Cancel() {}

func Test_FetchMetadata_StderrTailSurvivesProcessReap(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{onStart: func(string, []string) (processHandle, error) {
		return newExecLikeHandle("", "ERROR: boom", errExit1), nil
	}}

	_, err := newTestExtractor(runner).FetchMetadata(context.Background(), "https://www.tiktok.com/@x/video/123")

	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.Contains(t, extractionErr.StderrTail, "boom", "stderr must be fully drained before the process is reaped")
}

func Test_StreamVideo_StderrTailSurvivesProcessReap(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{onStart: func(string, []string) (processHandle, error) {
		return newExecLikeHandle("", "ERROR: boom", errExit1), nil
	}}

	_, err := newTestExtractor(runner).StreamVideo(context.Background(), "https://www.tiktok.com/@x/video/123")

	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.Contains(t, extractionErr.StderrTail, "boom", "stderr must be fully drained before the process is reaped")
}

func Test_CollectStderr_DrainsBeyondOverlongLine(t *testing.T) {
	t.Parallel()

	// A single line beyond the scanner cap stops the scan; the stream
	// must still be consumed to the end so the child can never block on
	// a full stderr pipe.
	stderr := strings.NewReader(strings.Repeat("x", 300*1024) + "\nERROR: after\n")
	_, done := collectStderr(stderr, "yt-dlp")
	<-done

	assert.Zero(t, stderr.Len(), "stderr must be drained to EOF even after a scanner overflow")
}

func Test_StreamVideo_FailureBeforeAnyOutput(t *testing.T) {
	t.Parallel()

	handle := newFakeHandle("", "ERROR: unable to extract video\n", errExit1)
	runner := &fakeRunner{onStart: func(string, []string) (processHandle, error) { return handle, nil }}

	_, err := newTestExtractor(runner).StreamVideo(context.Background(), "https://www.tiktok.com/@x/video/123")

	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.Contains(t, extractionErr.StderrTail, "unable to extract video")
	assert.True(t, handle.wasWaited(), "process must be reaped even on failure")
}

func Test_StreamVideo_WarningLinesExcludedFromTail(t *testing.T) {
	t.Parallel()

	stderr := "WARNING: falling back to generic extractor\nERROR: no formats\n"
	handle := newFakeHandle("", stderr, errExit1)
	runner := &fakeRunner{onStart: func(string, []string) (processHandle, error) { return handle, nil }}

	_, err := newTestExtractor(runner).StreamVideo(context.Background(), "https://www.tiktok.com/@x/video/123")

	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.NotContains(t, extractionErr.StderrTail, "WARNING")
	assert.Contains(t, extractionErr.StderrTail, "no formats")
}

func Test_StreamVideo_NonZeroExitAfterOutputIsEndOfStream(t *testing.T) {
	t.Parallel()

	payload := strings.Repeat("mp4-bytes/", 20000)
	handle := newFakeHandle(payload, "", errExit1)
	runner := &fakeRunner{onStart: func(string, []string) (processHandle, error) { return handle, nil }}

	stream, err := newTestExtractor(runner).StreamVideo(context.Background(), "https://www.tiktok.com/@x/video/123")
	require.NoError(t, err)
	defer stream.Close()

	received, err := io.ReadAll(stream)
	assert.NoError(t, err, "non-zero exit after bytes were delivered must read as a normal end-of-stream")
	assert.Equal(t, payload, string(received), "bytes must be forwarded unmodified and in order")
	assert.True(t, handle.wasWaited())
}

func Test_StreamVideo_CloseKillsRunningProcess(t *testing.T) {
	t.Parallel()

	pipeReader, pipeWriter := io.Pipe()
	handle := &fakeHandle{
		stdout:  pipeReader,
		stderr:  strings.NewReader(""),
		exitErr: errors.New("signal: killed"),
	}
	handle.onCancel = func() { pipeWriter.Close() }
	runner := &fakeRunner{onStart: func(string, []string) (processHandle, error) { return handle, nil }}

	go func() {
		// Enough to satisfy the probe, then keep the process "running".
		_, _ = pipeWriter.Write([]byte("partial-video-data"))
	}()

	stream, err := newTestExtractor(runner).StreamVideo(context.Background(), "https://www.tiktok.com/@x/video/123")
	require.NoError(t, err)

	require.NoError(t, stream.Close())
	assert.True(t, handle.wasCancelled(), "closing mid-stream must kill the process")
	assert.True(t, handle.wasWaited(), "killed process must still be reaped")
}

func Test_FetchMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		stdout   string
		exitErr  error
		expected *VideoMetadata
		wantErr  error
	}{
		{
			name:   "full record projected",
			stdout: `{"id":"123","title":"A video","thumbnail":"https://p16.example/t.jpg","duration":12.5,"uploader":"someuser","view_count":10}`,
			expected: &VideoMetadata{
				ID: "123", Title: "A video", Thumbnail: "https://p16.example/t.jpg",
				Duration: 12.5, Uploader: "someuser",
			},
		},
		{
			name:   "absent fields substituted",
			stdout: `{"uploader_id":"fallback_handle"}`,
			expected: &VideoMetadata{
				ID: "123", Title: "Untitled", Uploader: "fallback_handle",
			},
		},
		{
			name:    "empty output",
			stdout:  "",
			wantErr: ErrNoOutput,
		},
		{
			name:    "non-zero exit",
			stdout:  "",
			exitErr: errExit1,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			runner := &fakeRunner{onStart: func(string, []string) (processHandle, error) {
				return newFakeHandle(test.stdout, "", test.exitErr), nil
			}}

			meta, err := newTestExtractor(runner).FetchMetadata(context.Background(), "https://www.tiktok.com/@x/video/123")
			if test.expected != nil {
				require.NoError(t, err)
				assert.Equal(t, test.expected, meta)
				return
			}

			require.Error(t, err)
			if test.wantErr != nil {
				assert.ErrorIs(t, err, test.wantErr)
			}
		})
	}
}

func Test_FetchMetadata_UnparseableOutput(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{onStart: func(string, []string) (processHandle, error) {
		return newFakeHandle("this is not json", "", nil), nil
	}}

	_, err := newTestExtractor(runner).FetchMetadata(context.Background(), "https://www.tiktok.com/@x/video/123")
	assert.ErrorContains(t, err, "unparseable metadata output")
}

func Test_ListProfilePosts_DropsMalformedLines(t *testing.T) {
	t.Parallel()

	listing := strings.Join([]string{
		`{"id":"1","title":"first","url":"https://www.tiktok.com/@bob/video/1","view_count":5,"like_count":2}`,
		`{"id":"2","title":"second,`, // truncated mid-record
		`{"id":"3","title":"third"}`,
	}, "\n")
	runner := &fakeRunner{onStart: func(string, []string) (processHandle, error) {
		return newFakeHandle(listing, "", nil), nil
	}}

	posts, err := newTestExtractor(runner).ListProfilePosts(context.Background(), "https://www.tiktok.com/@bob")
	require.NoError(t, err)
	require.Len(t, posts, 2, "a malformed line must not invalidate the rest of the listing")

	assert.Equal(t, "first", posts[0].Title)
	assert.Equal(t, int64(5), posts[0].Views)
	assert.Equal(t, int64(2), posts[0].Likes)

	// Third entry had no URL; it is synthesized from handle and ID.
	assert.Equal(t, "https://www.tiktok.com/@bob/video/3", posts[1].URL)
}

func Test_ListProfilePosts_OverlongLineDoesNotTruncateListing(t *testing.T) {
	t.Parallel()

	// A bloated line larger than any sane record is still just one bad
	// line; the records after it must survive.
	listing := strings.Join([]string{
		strings.Repeat("a", 2*1024*1024),
		`{"id":"1","title":"first","url":"https://www.tiktok.com/@bob/video/1"}`,
		`{"id":"2","title":"second","url":"https://www.tiktok.com/@bob/video/2"}`,
	}, "\n")
	runner := &fakeRunner{onStart: func(string, []string) (processHandle, error) {
		return newFakeHandle(listing, "", nil), nil
	}}

	posts, err := newTestExtractor(runner).ListProfilePosts(context.Background(), "https://www.tiktok.com/@bob")
	require.NoError(t, err)
	require.Len(t, posts, 2, "an over-long line must be dropped, not end the listing")
	assert.Equal(t, "first", posts[0].Title)
	assert.Equal(t, "second", posts[1].Title)
}

func Test_ListProfilePosts_OutputCapExceeded(t *testing.T) {
	t.Parallel()

	oversized := strings.Repeat("a", profileListOutputCap+1)
	runner := &fakeRunner{onStart: func(string, []string) (processHandle, error) {
		return newFakeHandle(oversized, "", nil), nil
	}}

	_, err := newTestExtractor(runner).ListProfilePosts(context.Background(), "https://www.tiktok.com/@bob")
	assert.ErrorIs(t, err, ErrTooMuchOutput)
}

// tempPathFromArgs pulls the '-o <path>' destination out of a recorded
// download invocation.
func tempPathFromArgs(t *testing.T, args []string) string {
	for i, arg := range args {
		if arg == "-o" && i+1 < len(args) {
			return args[i+1]
		}
	}

	t.Fatalf("no -o argument in %v", args)
	return ""
}

func Test_Transcribe_InvalidModelSpawnsNothing(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{onStart: func(string, []string) (processHandle, error) {
		return newFakeHandle("", "", nil), nil
	}}

	_, err := newTestExtractor(runner).Transcribe(context.Background(), "https://www.tiktok.com/@x/video/123", "huge")
	assert.ErrorIs(t, err, ErrInvalidModel)
	assert.Zero(t, runner.callCount(), "no process may be spawned for a rejected model size")
}

func Test_Transcribe_SuccessAndTempFileRemoved(t *testing.T) {
	t.Parallel()

	var tempPath string
	runner := &fakeRunner{}
	runner.onStart = func(name string, args []string) (processHandle, error) {
		if name == "yt-dlp" {
			tempPath = tempPathFromArgs(t, args)
			require.NoError(t, os.WriteFile(tempPath, []byte("video-bytes"), 0o644))
			return newFakeHandle("", "", nil), nil
		}

		require.Equal(t, "python3", name)
		require.Equal(t, []string{"scripts/transcribe.py", tempPath, "small"}, args)
		return newFakeHandle(`{"transcript":"hello world","language":"en","language_probability":0.98,"duration":4.2}`, "", nil), nil
	}

	result, err := newTestExtractor(runner).Transcribe(context.Background(), "https://www.tiktok.com/@x/video/123", "small")
	require.NoError(t, err)

	assert.Equal(t, "hello world", result.Transcript)
	assert.Equal(t, "en", result.Language)
	assert.InDelta(t, 0.98, result.LanguageProbability, 0.0001)
	assert.InDelta(t, 4.2, result.Duration, 0.0001)

	_, statErr := os.Stat(tempPath)
	assert.True(t, os.IsNotExist(statErr), "temporary file must be removed after transcription")
}

func Test_Transcribe_EmptyDownload(t *testing.T) {
	t.Parallel()

	var tempPath string
	runner := &fakeRunner{}
	runner.onStart = func(name string, args []string) (processHandle, error) {
		tempPath = tempPathFromArgs(t, args)
		require.NoError(t, os.WriteFile(tempPath, nil, 0o644))
		return newFakeHandle("", "", nil), nil
	}

	_, err := newTestExtractor(runner).Transcribe(context.Background(), "https://www.tiktok.com/@x/video/123", "base")
	assert.ErrorIs(t, err, ErrEmptyDownload)
	assert.Equal(t, 1, runner.callCount(), "transcription must not run against an empty download")

	_, statErr := os.Stat(tempPath)
	assert.True(t, os.IsNotExist(statErr), "temporary file must be removed after a failed attempt")
}

func Test_Transcribe_ScriptReportsError(t *testing.T) {
	t.Parallel()

	runner := &fakeRunner{}
	runner.onStart = func(name string, args []string) (processHandle, error) {
		if name == "yt-dlp" {
			path := tempPathFromArgs(t, args)
			require.NoError(t, os.WriteFile(path, []byte("video-bytes"), 0o644))
			return newFakeHandle("", "", nil), nil
		}

		return newFakeHandle(fmt.Sprintf(`{"error":%q}`, "model load failed"), "", nil), nil
	}

	_, err := newTestExtractor(runner).Transcribe(context.Background(), "https://www.tiktok.com/@x/video/123", "base")

	var extractionErr *ExtractionError
	require.ErrorAs(t, err, &extractionErr)
	assert.ErrorContains(t, err, "model load failed")
}
