// Package tiktok contains pure helpers for classifying and picking apart
// TikTok URLs. No network calls are made here; resolution of short links
// and the actual existence of a video are left to the extraction tool.
package tiktok

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Hostnames TikTok serves content from. Short-link hosts redirect to a
// canonical URL and are therefore accepted with any non-empty path.
var (
	canonicalHosts = map[string]struct{}{
		"www.tiktok.com": {},
		"tiktok.com":     {},
		"m.tiktok.com":   {},
	}

	shortLinkHosts = map[string]struct{}{
		"vm.tiktok.com": {},
		"vt.tiktok.com": {},
	}

	videoIDPattern  = regexp.MustCompile(`/video/(\d+)`)
	usernamePattern = regexp.MustCompile(`/@([\w.-]+)`)
)

// IsAcceptableURL reports whether the raw string is a URL this gateway is
// willing to hand to the extraction tool. Canonical hosts must carry a
// video or profile path segment; short links are opaque, so a non-empty
// path is all that can be checked.
func IsAcceptableURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}

	host := strings.ToLower(parsed.Hostname())
	if _, ok := shortLinkHosts[host]; ok {
		return strings.Trim(parsed.Path, "/") != ""
	}

	if _, ok := canonicalHosts[host]; ok {
		return videoIDPattern.MatchString(parsed.Path) || usernamePattern.MatchString(parsed.Path)
	}

	return false
}

// ExtractVideoID pulls the numeric identifier out of a '/video/<digits>'
// path segment. The returned ID is a display hint only; short links and
// photo-mode posts will not carry one, and its presence says nothing about
// whether the video actually exists.
func ExtractVideoID(raw string) (string, bool) {
	match := videoIDPattern.FindStringSubmatch(raw)
	if match == nil {
		return "", false
	}

	return match[1], true
}

// ExtractUsername returns the '@handle' segment of a profile or video URL,
// without the leading '@'.
func ExtractUsername(raw string) (string, bool) {
	match := usernamePattern.FindStringSubmatch(raw)
	if match == nil {
		return "", false
	}

	return match[1], true
}

// CanonicalProfileURL builds the canonical profile URL for a username. The
// username may be provided with or without a leading '@'.
func CanonicalProfileURL(username string) string {
	return fmt.Sprintf("https://www.tiktok.com/@%s", strings.TrimPrefix(username, "@"))
}

// CanonicalVideoURL builds the canonical video URL from an uploader handle
// and a video ID. Used to synthesize links for listing entries which the
// extraction tool returned without one.
func CanonicalVideoURL(username string, videoID string) string {
	return fmt.Sprintf("https://www.tiktok.com/@%s/video/%s", strings.TrimPrefix(username, "@"), videoID)
}
