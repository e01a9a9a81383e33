// Package log wraps slog with a component field so every engine's
// output is attributable.
package log

import (
	"log/slog"
	"os"
)

// Standard component names.
const (
	ComponentApp          = "app"
	ComponentHTTP         = "http"
	ComponentRecurring    = "recurring"
	ComponentInstallments = "installments"
	ComponentMetrics      = "metrics"
	ComponentCategorizer  = "categorizer"
	ComponentStore        = "store"
	ComponentAMQP         = "amqp"
	ComponentWorker       = "worker"
)

// Logger wraps slog.Logger with a component attribute.
type Logger struct {
	*slog.Logger
	component string
}

// Config holds logger configuration.
type Config struct {
	Level     slog.Level
	Component string
	Handler   slog.Handler
}

func DefaultConfig() Config {
	return Config{
		Level:     slog.LevelInfo,
		Component: ComponentApp,
	}
}

// New creates a logger with the given configuration.
func New(config Config) *Logger {
	handler := config.Handler
	if handler == nil {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: config.Level})
	}
	return &Logger{
		Logger:    slog.New(handler).With("component", config.Component),
		component: config.Component,
	}
}

// WithComponent returns a logger scoped to another component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger:    l.Logger.With("component", component),
		component: component,
	}
}

// Component returns the logger's component name.
func (l *Logger) Component() string {
	return l.component
}

// SetDefault installs the logger as slog's process default, which the
// engines log through.
func SetDefault(logger *Logger) {
	slog.SetDefault(logger.Logger)
}
