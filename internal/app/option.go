package app

import (
	"io"
	"log/slog"

	"github.com/castrilha/castrilha"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config        *Config
	logger        *slog.Logger
	onEvent       func(castrilha.Event)
	consoleOutput io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger replaces the JSON logger built from the configuration.
func WithLogger(l *slog.Logger) Option {
	return func(a *application) {
		a.logger = l
	}
}

// WithEventHandler observes navigation events in addition to the SSE
// stream. The handler must not block.
func WithEventHandler(fn func(castrilha.Event)) Option {
	return func(a *application) {
		a.onEvent = fn
	}
}

// WithConsoleOutput sets where the console transport writes frames.
// Default: stdout.
func WithConsoleOutput(w io.Writer) Option {
	return func(a *application) {
		a.consoleOutput = w
	}
}
