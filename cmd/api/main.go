package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/leadnexconnect/campaign-engine/internal/app"
	"github.com/leadnexconnect/campaign-engine/internal/config"
	"github.com/leadnexconnect/campaign-engine/internal/handler"
	"github.com/leadnexconnect/campaign-engine/internal/observability"
	"github.com/leadnexconnect/campaign-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config: ", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger: ", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("service initialization failed", zap.Error(err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to release resources", zap.Error(err))
		}
	}()

	server, err := newServer(a)
	if err != nil {
		logger.Fatal("http server initialization failed", zap.Error(err))
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("campaign-engine api started", zap.Int("port", cfg.APIPort))
		if err := server.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.Clock.Start(groupCtx)
	})
	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		return server.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		logger.Error("campaign-engine api exited with error", zap.Error(err))
	}
}

func newServer(a *app.App) (*fiber.App, error) {
	server := fiber.New(fiber.Config{
		AppName:               "campaign-engine",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(a.Logger),
	})

	server.Use(a.Metrics.HTTPMiddleware())
	handler.RegisterHealthRoutes(server, a.ReadinessChecks()...)
	server.Get("/metrics", adaptor.HTTPHandler(a.Metrics.Handler()))

	if err := handler.RegisterCampaignRoutes(server, a.Campaigns, a.Sender); err != nil {
		return nil, err
	}

	return server, nil
}
