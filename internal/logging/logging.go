// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the component-tagged structured logger used
// throughout segsplit. Every subsystem calls logging.WithComponent(name)
// once at construction time and logs through the returned *Logger.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Config controls the process-wide logger.
type Config struct {
	// Verbose enables debug-level output (wired from --verbose).
	Verbose bool
	// Output is where log lines are written. Defaults to os.Stderr.
	Output io.Writer
	// JSON selects slog.JSONHandler over a human-readable text handler.
	JSON bool
}

// DefaultConfig returns the logger configuration used when the CLI is
// invoked without --verbose: info level, text output to stderr.
func DefaultConfig() Config {
	return Config{
		Verbose: false,
		Output:  os.Stderr,
		JSON:    false,
	}
}

var base *slog.Logger

func init() {
	base = newSlog(DefaultConfig())
}

func newSlog(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.JSON {
		h = slog.NewJSONHandler(out, opts)
	} else {
		h = slog.NewTextHandler(out, opts)
	}
	return slog.New(h)
}

// New installs cfg as the process-wide logging configuration. It should be
// called once, early in main, before any WithComponent loggers are used
// for anything but buffering.
func New(cfg Config) *Logger {
	base = newSlog(cfg)
	return &Logger{l: base}
}

// Logger is a component-scoped structured logger.
type Logger struct {
	l         *slog.Logger
	component string
}

// WithComponent returns a Logger that tags every line with component=name.
func WithComponent(name string) *Logger {
	return &Logger{l: base.With("component", name), component: name}
}

func (lg *Logger) Debug(msg string, kv ...any) { lg.l.Debug(msg, kv...) }
func (lg *Logger) Info(msg string, kv ...any)  { lg.l.Info(msg, kv...) }
func (lg *Logger) Warn(msg string, kv ...any)  { lg.l.Warn(msg, kv...) }
func (lg *Logger) Error(msg string, kv ...any) { lg.l.Error(msg, kv...) }

// With returns a child Logger with additional fixed key/value pairs.
func (lg *Logger) With(kv ...any) *Logger {
	return &Logger{l: lg.l.With(kv...), component: lg.component}
}
