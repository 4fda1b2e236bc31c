// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logging builds the slog loggers used by tempbus
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/phsym/console-slog"
	"golang.org/x/term"
)

// Output formats
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options configures a logger
type Options struct {
	Level     string // debug, info, warn, error
	Format    string // console or json
	Output    io.Writer
	AddSource bool
}

// ParseLevel converts a level name to a slog level
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New creates a logger. Output defaults to stderr so command results on
// stdout stay clean.
func New(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	lv := &slog.LevelVar{}
	lv.Set(level)

	var handler slog.Handler
	switch opts.Format {
	case "", FormatConsole:
		handler = console.NewHandler(out, &console.HandlerOptions{
			AddSource: opts.AddSource,
			Level:     lv,
			NoColor:   !isTerminal(out),
		})
	case FormatJSON:
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{
			AddSource: opts.AddSource,
			Level:     lv,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey && len(groups) == 0 {
					a.Key = "ts"
				}
				return a
			},
		})
	default:
		return nil, fmt.Errorf("unknown log format %q (console or json)", opts.Format)
	}

	return slog.New(handler), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
