package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rizkirmdhn/dyproxy/internal/common/config"
	"github.com/rizkirmdhn/dyproxy/internal/common/logger"
	"github.com/rizkirmdhn/dyproxy/internal/common/messaging"
	"github.com/rizkirmdhn/dyproxy/internal/downloader/service"
)

func main() {
	// Load the configuration
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	dlCfg := cfg.GetDownloaderConfig()
	rabbitCfg := cfg.GetRabbitMQConfig()

	// Initialize logger
	log := logger.New(cfg)

	log.Infof("Downloader configuration: %+v", dlCfg)

	// Initialize RabbitMQ connection
	messageClient, err := messaging.NewRabbitMQClient(rabbitCfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize RabbitMQ: %s", err)
	}
	defer messageClient.Close()

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the Downloader service
	downloaderService := service.NewDownloaderService(dlCfg, cfg.GetDouyinConfig(), rabbitCfg, log, messageClient)

	// Start the service
	if err := downloaderService.Start(ctx); err != nil {
		log.Fatalf("Failed to start Downloader service: %s", err)
	}

	log.Info("Downloader service started successfully")

	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Block until we receive a termination signal
	sig := <-sigCh
	log.Infof("Received signal %s, shutting down...", sig)

	// Trigger graceful shutdown
	cancel()
	downloaderService.Stop()
}
