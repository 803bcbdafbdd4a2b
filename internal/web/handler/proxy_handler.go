package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/rizkirmdhn/dyproxy/internal/douyin"
	"github.com/sirupsen/logrus"
)

const maxProxyRedirects = 10

// newProxyClient follows redirects with the original header set and leaves
// bodies compressed as the upstream sent them.
func newProxyClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableCompression = true

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxProxyRedirects {
				return errors.New("stopped after too many redirects")
			}
			for k, v := range via[0].Header {
				req.Header[k] = v
			}
			return nil
		},
	}
}

// ProxyHandler streams a media URL to the caller with the origin's headers,
// passing Range through so players can seek.
func (h *Handler) ProxyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		target := c.Query("url")
		if target == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing URL parameter"})
			return
		}

		u, err := url.Parse(target)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid URL parameter"})
			return
		}

		req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, u.String(), nil)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create request"})
			return
		}
		req.Header = douyin.MediaHeaders(&h.cfg.Douyin, c.GetHeader("Range"))

		resp, err := h.proxyClient.Do(req)
		if err != nil {
			h.log.WithError(err).WithField("url", u.Redacted()).Warn("Failed to fetch video")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch video"})
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			h.log.WithFields(logrus.Fields{
				"url":    u.Redacted(),
				"status": resp.StatusCode,
			}).Warn("Upstream rejected video request")
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": fmt.Sprintf("Upstream returned status %d", resp.StatusCode),
			})
			return
		}

		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "video/mp4"
		}

		extra := map[string]string{
			"Cache-Control": "public, max-age=3600",
		}
		if v := resp.Header.Get("Accept-Ranges"); v != "" {
			extra["Accept-Ranges"] = v
		}
		if v := resp.Header.Get("Content-Range"); v != "" {
			extra["Content-Range"] = v
		}
		if v := resp.Header.Get("Content-Encoding"); v != "" {
			extra["Content-Encoding"] = v
		}

		c.DataFromReader(resp.StatusCode, resp.ContentLength, contentType, resp.Body, extra)
	}
}
