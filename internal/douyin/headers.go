package douyin

import (
	"net/http"

	"github.com/rizkirmdhn/dyproxy/internal/common/config"
)

// Headers returns the mobile browser header set sent on both resolution hops.
func Headers(cfg *config.DouyinConfig) http.Header {
	h := http.Header{}
	h.Set("User-Agent", cfg.UserAgent)
	h.Set("Accept", cfg.Accept)
	h.Set("Accept-Language", cfg.AcceptLanguage)
	if cfg.AcceptEncoding != "" {
		h.Set("Accept-Encoding", cfg.AcceptEncoding)
	}
	h.Set("Referer", cfg.Referer)
	h.Set("Origin", cfg.Origin)
	return h
}

// MediaHeaders returns the header set for fetching media bytes. rangeHeader is
// passed through only when non-empty.
func MediaHeaders(cfg *config.DouyinConfig, rangeHeader string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", cfg.UserAgent)
	h.Set("Accept", "*/*")
	h.Set("Referer", cfg.Referer)
	h.Set("Origin", cfg.Origin)
	if rangeHeader != "" {
		h.Set("Range", rangeHeader)
	}
	return h
}
