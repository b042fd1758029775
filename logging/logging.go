// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Package logging provides the one shared zerolog setup every subsystem
// logs through: a console writer in development, component name as a
// fixed field, and Panic-level logging for the fatal-at-init errors of
// spec.md §7 (zerolog's Panic level itself calls panic after writing the
// event, so callers still get Go's normal panic/recover semantics).
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}

// New returns a logger tagged with component, writing to stderr.
func New(component string) zerolog.Logger {
	w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(w).With().Timestamp().Str("component", component).Logger()
}
