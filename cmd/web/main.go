package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rizkirmdhn/dyproxy/internal/common/config"
	"github.com/rizkirmdhn/dyproxy/internal/common/logger"
	"github.com/rizkirmdhn/dyproxy/internal/common/messaging"
	"github.com/rizkirmdhn/dyproxy/internal/douyin"
	"github.com/rizkirmdhn/dyproxy/internal/web/handler"
	"github.com/rizkirmdhn/dyproxy/internal/web/websocket"
)

func main() {
	// Load the configuration
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	webCfg := cfg.GetWebPanelConfig()

	// Initialize logger
	log := logger.New(cfg)

	log.Infof("Web panel configuration: %+v", webCfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Messaging is optional: without it the resolver and proxy still work
	var msgClient messaging.Client
	if cfg.RabbitMq.URL == "" {
		log.Warn("rabbitmq.url is empty, download queue disabled")
	} else {
		client, err := messaging.NewRabbitMQClient(cfg.GetRabbitMQConfig(), log)
		if err != nil {
			log.Fatalf("Failed to create RabbitMQ client: %v", err)
		}
		defer client.Close()
		msgClient = client
	}

	hub := websocket.NewHub(log)
	go hub.Run(ctx)

	resolver := douyin.NewResolver(cfg.GetDouyinConfig(), douyin.WithLogger(log))

	// Setup Handlers
	h := handler.NewHandler(cfg, log, resolver, msgClient, hub)
	if err := h.Start(ctx); err != nil {
		log.Fatalf("Failed to setup RabbitMQ consumer: %v", err)
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize the gin router
	r := gin.Default()
	h.RegisterRoutes(r)

	addr := fmt.Sprintf("%s:%d", webCfg.Host, webCfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Infof("Starting web server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start web server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down web server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), webCfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Web server forced to shutdown")
		os.Exit(1)
	}

	log.Info("Web server stopped")
}
