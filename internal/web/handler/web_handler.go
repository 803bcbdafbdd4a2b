package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rizkirmdhn/dyproxy/internal/common/config"
	"github.com/rizkirmdhn/dyproxy/internal/common/logger"
	"github.com/rizkirmdhn/dyproxy/internal/common/messaging"
	"github.com/rizkirmdhn/dyproxy/internal/common/version"
	"github.com/rizkirmdhn/dyproxy/internal/douyin"
	"github.com/rizkirmdhn/dyproxy/internal/web/websocket"
	"github.com/rizkirmdhn/dyproxy/pkg/models"
	"github.com/sirupsen/logrus"
)

// Resolver is the part of douyin.Resolver the handlers use
type Resolver interface {
	ResolveShareText(ctx context.Context, text string) (*douyin.ResolvedVideo, error)
}

type Handler struct {
	cfg         *config.Config
	log         *logrus.Entry
	resolver    Resolver
	msgClient   messaging.Client
	wsHub       *websocket.Hub
	proxyClient *http.Client
}

type Option func(*Handler)

// WithProxyClient sets the client the media proxy fetches through.
func WithProxyClient(c *http.Client) Option {
	return func(h *Handler) {
		h.proxyClient = c
	}
}

// NewHandler wires the front door. msgClient may be nil, which disables the
// download queue and the live log stream.
func NewHandler(cfg *config.Config, log logrus.FieldLogger, resolver Resolver, msgClient messaging.Client, wsHub *websocket.Hub, opts ...Option) *Handler {
	h := &Handler{
		cfg:         cfg,
		log:         logger.Component(log, "web"),
		resolver:    resolver,
		msgClient:   msgClient,
		wsHub:       wsHub,
		proxyClient: newProxyClient(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
}

var endpoints = []endpoint{
	{http.MethodGet, "/", "Service status"},
	{http.MethodPost, "/api/v1/douyin", "Resolve a share text to a watermark-free video URL"},
	{http.MethodGet, "/api/v1/douyin/proxy?url=", "Stream a media URL with the origin's headers"},
	{http.MethodPost, "/api/v1/douyin/download", "Resolve and queue a server-side download"},
	{http.MethodGet, "/ws", "Live download log stream"},
}

// RegisterRoutes registers all the routes for the web handler
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.Use(CORSMiddleware())

	r.GET("/", h.IndexHandler())
	r.GET("/ws", h.WebSocketHandler())

	api := r.Group("/api/v1/douyin")
	{
		api.POST("", h.ResolveHandler())
		api.GET("/proxy", h.ProxyHandler())
		api.POST("/download", h.DownloadHandler())
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"status":    "error",
			"error":     "Not found",
			"endpoints": endpoints,
		})
	})
}

// IndexHandler reports that the service is up and what it serves
func (h *Handler) IndexHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "running",
			"service":   h.cfg.App.Name,
			"version":   version.Version,
			"messaging": h.msgClient != nil,
			"clients":   h.wsHub.ClientCount(),
			"endpoints": endpoints,
		})
	}
}

// WebSocketHandler returns the WebSocket connection handler
func (h *Handler) WebSocketHandler() gin.HandlerFunc {
	return websocket.WebSocketHandler(h.wsHub, h.log)
}

// Start subscribes to downloader logs and relays them to WebSocket clients.
// It is a no-op without messaging.
func (h *Handler) Start(ctx context.Context) error {
	if h.msgClient == nil {
		h.log.Warn("Messaging disabled, download logs will not be streamed")
		return nil
	}

	queueName := h.cfg.RabbitMq.Queue.LogQueue
	if err := h.msgClient.DeclareQueue(queueName, models.LogRoutingKey); err != nil {
		return err
	}

	return h.msgClient.Consume(ctx, queueName, func(message []byte, routingKey string) error {
		var entry models.DownloadLog
		if err := json.Unmarshal(message, &entry); err != nil {
			// unparseable logs are dropped rather than requeued forever
			h.log.WithError(err).Error("Failed to unmarshal download log message")
			return nil
		}

		if err := h.wsHub.BroadcastJSON(map[string]any{
			"type":     "download_log",
			"task_id":  entry.TaskID,
			"status":   entry.Status,
			"title":    entry.Title,
			"video_id": entry.VideoID,
			"path":     entry.Path,
			"error":    entry.Error,
			"progress": entry.Progress,
		}); err != nil {
			h.log.WithError(err).Error("Failed to marshal WebSocket message")
			return nil
		}

		h.log.WithFields(logrus.Fields{
			"task_id": entry.TaskID,
			"status":  entry.Status,
		}).Debug("Broadcasting download log to WebSocket clients")
		return nil
	})
}

// broadcastStatus broadcasts a status message to all WebSocket clients
func (h *Handler) broadcastStatus(message string, status string) {
	if err := h.wsHub.BroadcastJSON(map[string]any{
		"type":    "status",
		"message": message,
		"status":  status,
	}); err != nil {
		h.log.WithError(err).Error("Failed to marshal WebSocket status message")
	}
}
