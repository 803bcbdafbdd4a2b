package douyin

import (
	"errors"
	"fmt"
)

// Resolution failures. Every one is terminal; callers classify with errors.Is.
var (
	ErrNoLinkFound      = errors.New("no valid share URL found in the text")
	ErrNoRedirectTarget = errors.New("could not find redirect location")
	ErrVideoIDNotFound  = errors.New("could not extract video ID from redirect URL")
	ErrPageFetchFailed  = errors.New("failed to fetch video page")
	ErrPayloadNotFound  = errors.New("could not find _ROUTER_DATA in page HTML")
	ErrPayloadParse     = errors.New("failed to parse embedded video data")
	ErrNoVideoInfo      = errors.New("could not find video information in page data")
	ErrNoPlayURL        = errors.New("no video URL found in the parsed data")
	ErrNetwork          = errors.New("network error")
)

// StatusError records the upstream status of a failed page fetch.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

var kinds = []struct {
	err  error
	kind string
}{
	{ErrNoLinkFound, "no_link_found"},
	{ErrNoRedirectTarget, "no_redirect_target"},
	{ErrVideoIDNotFound, "video_id_not_found"},
	{ErrPageFetchFailed, "page_fetch_failed"},
	{ErrPayloadNotFound, "payload_not_found"},
	{ErrPayloadParse, "payload_parse_error"},
	{ErrNoVideoInfo, "no_video_info"},
	{ErrNoPlayURL, "no_play_url"},
	{ErrNetwork, "network_error"},
}

// Kind returns a stable code for a resolution error, or "unknown".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "unknown"
}

// PageStatus returns the upstream status carried by a PageFetchFailed error.
func PageStatus(err error) (int, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode, true
	}
	return 0, false
}

func networkError(stage string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrNetwork, stage, err)
}
