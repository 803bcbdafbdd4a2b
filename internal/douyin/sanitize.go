package douyin

import (
	"regexp"
	"strings"
)

var invalidFilenameChars = regexp.MustCompile(`[/:*?"<>|]`)

// SanitizeTitle replaces characters that are invalid in file names with '_'.
func SanitizeTitle(s string) string {
	return invalidFilenameChars.ReplaceAllString(s, "_")
}

// StripWatermark swaps the first "playwm" for "play". Nothing else in the URL
// changes.
func StripWatermark(url string) string {
	return strings.Replace(url, "playwm", "play", 1)
}

// Title picks the description as given, or douyin_<id> when it is blank, and
// sanitizes it.
func Title(desc, videoID string) string {
	if strings.TrimSpace(desc) == "" {
		return SanitizeTitle("douyin_" + videoID)
	}
	return SanitizeTitle(desc)
}
