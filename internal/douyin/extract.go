package douyin

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// Unicode aware: share text often separates the link with U+3000 or NBSP.
	linkPattern    = regexp.MustCompile(`https?://[^\s\p{Z}\x{FEFF}]+`)
	videoIDPattern = regexp.MustCompile(`/video/(\d+)`)
)

// ExtractLink returns the first http(s) link in a share text.
func ExtractLink(shareText string) (string, error) {
	link := linkPattern.FindString(shareText)
	if link == "" {
		return "", ErrNoLinkFound
	}
	return link, nil
}

// ExtractVideoID takes the last path segment of the redirect target, with the
// query stripped, falling back to a /video/<digits> match.
func ExtractVideoID(redirect string) (string, error) {
	path, _, _ := strings.Cut(redirect, "?")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	if path != "" {
		return path, nil
	}

	if m := videoIDPattern.FindStringSubmatch(redirect); len(m) > 1 {
		return m[1], nil
	}
	return "", fmt.Errorf("%w: %s", ErrVideoIDNotFound, redirect)
}
