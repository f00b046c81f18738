// Package extractor supervises the short-lived external processes the
// gateway delegates to: yt-dlp for resolving and fetching TikTok media, and
// a faster-whisper wrapper script for transcription. Each workload owns
// exactly one process handle per request; a process is always reaped before
// its handle is discarded, and cancelling the request context kills any
// process still running.
package extractor

import (
	"errors"
	"fmt"
	"os/exec"

	"tokgate/pkg/logger"
)

var log = logger.Get("Extractor")

type Config struct {
	YtdlpBin               string `yaml:"ytdlp_bin" env:"YTDLP_BIN" env-default:"yt-dlp"`
	PythonBin              string `yaml:"python_bin" env:"PYTHON_BIN" env-default:"python3"`
	TranscribeScript       string `yaml:"transcribe_script" env:"TRANSCRIBE_SCRIPT" env-default:"scripts/transcribe.py"`
	DownloadTimeoutSeconds int    `yaml:"download_timeout_seconds" env:"DOWNLOAD_TIMEOUT_SECONDS" env-default:"120"`
}

type (
	// VideoMetadata is the fixed projection of the extraction tool's
	// metadata dump. Every field except ID may be substituted with a
	// display default when the tool omits it.
	VideoMetadata struct {
		ID        string  `json:"id"`
		Title     string  `json:"title"`
		Thumbnail string  `json:"thumbnail"`
		Duration  float64 `json:"duration"`
		Uploader  string  `json:"uploader"`
	}

	// ProfilePost is one entry of a profile's flat listing.
	ProfilePost struct {
		VideoMetadata
		URL   string `json:"url"`
		Views int64  `json:"views"`
		Likes int64  `json:"likes"`
	}

	// TranscriptionResult mirrors the JSON document the transcription
	// script prints on success.
	TranscriptionResult struct {
		Transcript          string  `json:"transcript"`
		Language            string  `json:"language"`
		LanguageProbability float64 `json:"language_probability"`
		Duration            float64 `json:"duration"`
	}

	// Extractor runs the four extraction workloads. The command runner is a
	// seam for tests; production use always goes through os/exec.
	Extractor struct {
		config Config
		runner commandRunner
	}
)

var (
	ErrNoOutput      = errors.New("extraction tool produced no output")
	ErrTooMuchOutput = errors.New("extraction tool output exceeded the buffer cap")
	ErrEmptyDownload = errors.New("downloaded media file is empty")
	ErrInvalidModel  = errors.New("transcription model size is not recognised")
)

// ExtractionError wraps a tool failure (typically a non-zero exit) together
// with the tail of its stderr for diagnostics. The stderr tail is never
// interpreted, only reported.
type ExtractionError struct {
	Tool       string
	Err        error
	StderrTail string
}

func (e *ExtractionError) Error() string {
	if e.StderrTail != "" {
		return fmt.Sprintf("%s failed: %v (stderr: %s)", e.Tool, e.Err, e.StderrTail)
	}

	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func New(config Config) *Extractor {
	for _, bin := range []string{config.YtdlpBin, config.PythonBin} {
		if _, err := exec.LookPath(bin); err != nil {
			log.Emit(logger.WARNING, "Tool '%s' not found on PATH; requests needing it will fail\n", bin)
		}
	}

	return &Extractor{config: config, runner: &execRunner{}}
}
