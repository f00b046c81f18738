package extractor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"tokgate/internal/tiktok"
	"tokgate/pkg/logger"
)

const (
	// metadataOutputCap bounds the single-record metadata dump. TikTok
	// records are a few hundred KiB at most; anything beyond this is not a
	// record we can use.
	metadataOutputCap = 2 * 1024 * 1024

	// profileListOutputCap bounds the flat listing of a whole profile so a
	// pathological account cannot exhaust memory.
	profileListOutputCap = 10 * 1024 * 1024
)

// rawVideoInfo is the subset of yt-dlp's JSON output the gateway projects.
type rawVideoInfo struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Thumbnail  string  `json:"thumbnail"`
	Duration   float64 `json:"duration"`
	Uploader   string  `json:"uploader"`
	UploaderID string  `json:"uploader_id"`
	URL        string  `json:"url"`
	WebpageURL string  `json:"webpage_url"`
	ViewCount  int64   `json:"view_count"`
	LikeCount  int64   `json:"like_count"`
}

// FetchMetadata runs the extraction tool in its dump mode and projects the
// resulting record. Fails on non-zero exit, empty output, or unparseable
// output; absent fields are substituted with display defaults instead.
func (e *Extractor) FetchMetadata(ctx context.Context, url string) (*VideoMetadata, error) {
	output, err := e.runCaptured(ctx, metadataOutputCap, e.config.YtdlpBin, "--dump-json", "--no-download", "--no-playlist", url)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(output)
	if len(trimmed) == 0 {
		return nil, ErrNoOutput
	}

	// Only the first record matters should the tool ever emit several.
	record, _, _ := bytes.Cut(trimmed, []byte("\n"))
	var raw rawVideoInfo
	if err := json.Unmarshal(record, &raw); err != nil {
		return nil, fmt.Errorf("unparseable metadata output: %w", err)
	}

	return projectMetadata(&raw, url), nil
}

// ListProfilePosts runs the extraction tool in flat listing mode against a
// profile URL, one JSON record per line. A malformed line is dropped rather
// than failing the listing; a missing per-item URL is synthesized from the
// uploader handle and item ID.
func (e *Extractor) ListProfilePosts(ctx context.Context, profileURL string) ([]ProfilePost, error) {
	output, err := e.runCaptured(ctx, profileListOutputCap, e.config.YtdlpBin, "--flat-playlist", "--dump-json", "--no-download", profileURL)
	if err != nil {
		return nil, err
	}

	username, _ := tiktok.ExtractUsername(profileURL)

	posts := make([]ProfilePost, 0)
	dropped := 0
	// The buffer cap matches the output cap so no single line, however
	// bloated, can stop the scan and silently truncate the listing.
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), profileListOutputCap+1)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var raw rawVideoInfo
		if err := json.Unmarshal(line, &raw); err != nil {
			dropped++
			continue
		}

		post := ProfilePost{
			VideoMetadata: *projectMetadata(&raw, ""),
			URL:           raw.WebpageURL,
			Views:         raw.ViewCount,
			Likes:         raw.LikeCount,
		}
		if post.URL == "" {
			post.URL = raw.URL
		}
		if post.URL == "" {
			post.URL = tiktok.CanonicalVideoURL(username, post.ID)
		}

		posts = append(posts, post)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan listing output: %w", err)
	}

	if dropped > 0 {
		log.Emit(logger.WARNING, "Dropped %d unparseable listing lines for '%s'\n", dropped, profileURL)
	}

	return posts, nil
}

func projectMetadata(raw *rawVideoInfo, sourceURL string) *VideoMetadata {
	meta := &VideoMetadata{
		ID:        raw.ID,
		Title:     raw.Title,
		Thumbnail: raw.Thumbnail,
		Duration:  raw.Duration,
		Uploader:  raw.Uploader,
	}

	if meta.Uploader == "" {
		meta.Uploader = raw.UploaderID
	}
	if meta.Uploader == "" {
		meta.Uploader = "Unknown"
	}
	if meta.Title == "" {
		meta.Title = "Untitled"
	}
	if meta.ID == "" {
		// Synthetic fallback only; never trusted as proof the video exists.
		if id, ok := tiktok.ExtractVideoID(sourceURL); ok {
			meta.ID = id
		} else {
			meta.ID = "video"
		}
	}

	return meta
}
