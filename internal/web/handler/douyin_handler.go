package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rizkirmdhn/dyproxy/internal/douyin"
	"github.com/rizkirmdhn/dyproxy/pkg/models"
	"github.com/sirupsen/logrus"
)

type shareLinkRequest struct {
	ShareLink string `json:"share_link"`
}

// bindShareLink writes the 400 response itself and reports false on bad input.
func bindShareLink(c *gin.Context) (string, bool) {
	var req shareLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "Invalid request body",
		})
		return "", false
	}

	text := strings.TrimSpace(req.ShareLink)
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"status": "error",
			"error":  "share_link is required",
		})
		return "", false
	}
	return text, true
}

func (h *Handler) resolve(c *gin.Context, text string) (*douyin.ResolvedVideo, error) {
	ctx := c.Request.Context()
	if timeout := h.cfg.WebPanel.RequestTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	video, err := h.resolver.ResolveShareText(ctx, text)
	if err != nil {
		h.log.WithError(err).WithField("kind", douyin.Kind(err)).Warn("Failed to resolve share link")
		c.JSON(http.StatusInternalServerError, gin.H{
			"status": "error",
			"error":  err.Error(),
			"kind":   douyin.Kind(err),
		})
		return nil, err
	}
	return video, nil
}

// ResolveHandler turns a share text into a watermark-free download URL
func (h *Handler) ResolveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		text, ok := bindShareLink(c)
		if !ok {
			return
		}

		video, err := h.resolve(c, text)
		if err != nil {
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":       "success",
			"video_id":     video.VideoID,
			"title":        video.Title,
			"download_url": video.URL,
		})
	}
}

// DownloadHandler resolves a share text and queues a server-side download
func (h *Handler) DownloadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.msgClient == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "error",
				"error":  "Download queue is not configured",
			})
			return
		}

		text, ok := bindShareLink(c)
		if !ok {
			return
		}

		video, err := h.resolve(c, text)
		if err != nil {
			return
		}

		task := models.DownloadTask{
			ID:        uuid.New().String(),
			VideoID:   video.VideoID,
			Title:     video.Title,
			URL:       video.URL,
			CreatedAt: time.Now().UTC(),
		}

		if err := h.msgClient.PublishJSON(c.Request.Context(), models.TaskRoutingKey, task); err != nil {
			h.log.WithError(err).Error("Failed to publish download task")
			c.JSON(http.StatusInternalServerError, gin.H{
				"status": "error",
				"error":  "Failed to queue download",
			})
			return
		}

		h.log.WithFields(logrus.Fields{
			"task_id":  task.ID,
			"video_id": task.VideoID,
		}).Info("Download task queued")

		c.JSON(http.StatusAccepted, gin.H{
			"status":       "queued",
			"task_id":      task.ID,
			"video_id":     video.VideoID,
			"title":        video.Title,
			"download_url": video.URL,
		})

		h.broadcastStatus("Download queued: "+task.Title, "info")
	}
}
