// vault-worker consumes commit events from RabbitMQ and appends them to
// a JSONL backup file, giving the database an external audit trail.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/IvPalmer/vault-sub000/internal/amqp"
	"github.com/IvPalmer/vault-sub000/internal/config"
	applog "github.com/IvPalmer/vault-sub000/internal/log"
)

type backupWriter struct {
	mu   sync.Mutex
	file *os.File
}

func newBackupWriter(path string) (*backupWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open backup file: %w", err)
	}
	return &backupWriter{file: file}, nil
}

// Append writes one event as a JSONL line. The write runs under the
// caller's context so a stalled disk cannot wedge the consumer; an
// abandoned write finishes (or fails) in its own goroutine.
func (w *backupWriter) Append(ctx context.Context, msg *amqp.CommitMessage) error {
	line, err := json.Marshal(msg.Event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	done := make(chan error, 1)
	go func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if _, err := w.file.Write(append(line, '\n')); err != nil {
			done <- fmt.Errorf("append event: %w", err)
			return
		}
		done <- w.file.Sync()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("append event: %w", ctx.Err())
	}
}

func (w *backupWriter) Close() error {
	return w.file.Close()
}

func main() {
	_ = godotenv.Load()

	logger := applog.New(applog.Config{
		Level:     applog.DefaultConfig().Level,
		Component: applog.ComponentWorker,
	})
	applog.SetDefault(logger)

	logger.Info("Starting vault-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	writer, err := newBackupWriter(cfg.BackupPath)
	if err != nil {
		logger.Error("Failed to open backup file", "error", err, "path", cfg.BackupPath)
		os.Exit(1)
	}
	defer writer.Close()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = amqpClient.ConsumeCommits(ctx, func(msg *amqp.CommitMessage) error {
		appendCtx, cancel := context.WithTimeout(ctx, cfg.BackupTimeout)
		defer cancel()
		if err := writer.Append(appendCtx, msg); err != nil {
			return err
		}
		logger.Info("Backed up commit event",
			"event_id", msg.Event.ID, "kind", msg.Event.Kind, "entity_id", msg.Event.EntityID)
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Consumer stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
