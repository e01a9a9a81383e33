package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/IvPalmer/vault-sub000/internal/amqp"
	"github.com/IvPalmer/vault-sub000/internal/config"
	apphttp "github.com/IvPalmer/vault-sub000/internal/http"
	applog "github.com/IvPalmer/vault-sub000/internal/log"
	"github.com/IvPalmer/vault-sub000/internal/services"
	"github.com/IvPalmer/vault-sub000/internal/store"
	"github.com/IvPalmer/vault-sub000/internal/store/memory"
	"github.com/IvPalmer/vault-sub000/internal/store/sqlite"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	var st store.Store
	switch cfg.DataBackend {
	case "sqlite":
		repo, err := sqlite.NewRepository(cfg.SQLiteDBPath)
		if err != nil {
			logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		defer repo.Close()

		if cfg.AMQPURL != "" {
			amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
			if err != nil {
				logger.Error("Failed to initialize AMQP client", "error", err)
				os.Exit(1)
			}
			defer amqpClient.Close()
			repo.OnCommit(amqpClient.Observer())
			logger.Info("Commit event mirror enabled", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		} else {
			logger.Info("Commit event mirror disabled - no AMQP_URL provided")
		}

		st = repo
		logger.Info("Initialized sqlite backend", "path", cfg.SQLiteDBPath)
	case "memory":
		st = memory.New()
		logger.Info("Initialized memory backend")
	}

	recurring := services.NewRecurringService(st)
	installments := services.NewInstallmentService(st)
	metrics := services.NewMetricsService(st, recurring, installments)
	categorizer := services.NewCategorizerService(st)
	quality := services.NewQualityService(st, recurring, categorizer)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Services{
		Recurring:    recurring,
		Installments: installments,
		Metrics:      metrics,
		Categorizer:  categorizer,
		Quality:      quality,

		InstallmentHorizon: cfg.InstallmentHorizon,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting vault server", "port", cfg.Port, "backend", cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
