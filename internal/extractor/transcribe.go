package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"tokgate/pkg/logger"
)

const (
	// The download phase logs progress on stdout; it is captured only so
	// the pipe drains, so the cap is modest.
	downloadOutputCap = 1 * 1024 * 1024

	transcriptOutputCap = 10 * 1024 * 1024
)

var transcriptionModels = map[string]struct{}{
	"tiny":   {},
	"base":   {},
	"small":  {},
	"medium": {},
	"large":  {},
}

// ValidTranscriptionModel reports whether the model size is one the
// transcription script accepts. Checked before any process is spawned.
func ValidTranscriptionModel(model string) bool {
	_, ok := transcriptionModels[model]
	return ok
}

// Transcribe downloads the video to a uniquely-named temporary file under a
// bounded timeout, then runs the transcription script against it. The
// temporary file is removed on every exit path.
func (e *Extractor) Transcribe(ctx context.Context, url string, model string) (*TranscriptionResult, error) {
	if !ValidTranscriptionModel(model) {
		return nil, ErrInvalidModel
	}

	tempPath := filepath.Join(os.TempDir(), fmt.Sprintf("tokgate-%s.mp4", uuid.New().String()))
	defer func() {
		if err := os.Remove(tempPath); err != nil && !os.IsNotExist(err) {
			log.Emit(logger.WARNING, "Failed to remove temporary file '%s': %v\n", tempPath, err)
		}
	}()

	downloadCtx, cancel := context.WithTimeout(ctx, time.Duration(e.config.DownloadTimeoutSeconds)*time.Second)
	defer cancel()

	if _, err := e.runCaptured(downloadCtx, downloadOutputCap, e.config.YtdlpBin, "-f", "mp4", "--no-playlist", "-q", "-o", tempPath, url); err != nil {
		return nil, err
	}

	if info, err := os.Stat(tempPath); err != nil || info.Size() == 0 {
		return nil, ErrEmptyDownload
	}

	output, err := e.runCaptured(ctx, transcriptOutputCap, e.config.PythonBin, e.config.TranscribeScript, tempPath, model)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(output)
	if len(trimmed) == 0 {
		return nil, ErrNoOutput
	}

	var parsed struct {
		TranscriptionResult
		Error string `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &parsed); err != nil {
		return nil, fmt.Errorf("unparseable transcription output: %w", err)
	}

	if parsed.Error != "" {
		return nil, &ExtractionError{Tool: "transcriber", Err: errors.New(parsed.Error)}
	}

	result := parsed.TranscriptionResult
	return &result, nil
}
