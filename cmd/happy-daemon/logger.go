// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// newLogger writes text records when output is a terminal and JSON
// otherwise, so logs collected by a service manager stay parseable.
func newLogger(output *os.File, level slog.Level) *slog.Logger {
	var handler slog.Handler
	options := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(output.Fd())) {
		handler = slog.NewTextHandler(output, options)
	} else {
		handler = slog.NewJSONHandler(output, options)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
