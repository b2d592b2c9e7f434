package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/garyjia/hitl-workflow/internal/config"
	"github.com/garyjia/hitl-workflow/internal/container"
	httpserver "github.com/garyjia/hitl-workflow/internal/interfaces/http"
	"github.com/garyjia/hitl-workflow/pkg/utils"
)

func main() {
	configPath := os.Getenv("HITL_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	if _, err := os.Stat(configPath); err != nil {
		configPath = ""
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting HITL workflow service",
		zap.Int("port", cfg.Server.Port),
		zap.String("queue", cfg.Queue.Driver),
		zap.String("sink", cfg.Notification.Sink))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		logger.Fatal("Failed to create container", zap.Error(err))
	}
	if err := c.Start(ctx); err != nil {
		logger.Fatal("Failed to start container", zap.Error(err))
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Container shutdown failed", zap.Error(err))
		}
	}()

	deps := httpserver.Dependencies{
		Engine:   c.Engine(),
		Commands: c.Commands(),
		Intake:   c.Intake(),
		Exporter: c.Exporter(),
		Health:   c.Repository(),
	}
	if v := c.IngressVerifier(); v != nil {
		deps.Ingress = v
	} else if cfg.Queue.Driver == config.QueueQStash {
		logger.Warn("QStash signing key not set, command ingress is unauthenticated")
	}

	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, deps, utils.NewZapAdapter(logger.Named("http")))

	// Blocks until SIGINT/SIGTERM
	if err := server.Start(ctx); err != nil {
		logger.Error("HTTP server stopped with error", zap.Error(err))
	}

	logger.Info("Server exited")
}
