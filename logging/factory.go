// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package logging builds the logger factories and log sinks shared by the
// compositor, the encoder session and the chunk buffer.
package logging

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pion/logging"
)

var errUnknownLogLevel = errors.New("unknown log level")

// ParseLevel maps a level name to a pion log level.
func ParseLevel(name string) (logging.LogLevel, error) {
	logLevels := map[string]logging.LogLevel{
		"disable": logging.LogLevelDisabled,
		"error":   logging.LogLevelError,
		"warn":    logging.LogLevelWarn,
		"info":    logging.LogLevelInfo,
		"debug":   logging.LogLevelDebug,
		"trace":   logging.LogLevelTrace,
	}

	level, ok := logLevels[strings.ToLower(name)]
	if !ok {
		return logging.LogLevelDisabled, fmt.Errorf("%w: %s", errUnknownLogLevel, name)
	}

	return level, nil
}

// NewLoggerFactory returns a factory writing to w at the named level.
// scopes overrides the level per logger scope, e.g. {"compositor": "trace"}.
func NewLoggerFactory(level string, w io.Writer, scopes map[string]string) (*logging.DefaultLoggerFactory, error) {
	defaultLevel, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	scopeLevels := make(map[string]logging.LogLevel, len(scopes))
	for scope, name := range scopes {
		lvl, err := ParseLevel(name)
		if err != nil {
			return nil, fmt.Errorf("scope %s: %w", scope, err)
		}
		scopeLevels[scope] = lvl
	}

	return &logging.DefaultLoggerFactory{
		Writer:          w,
		DefaultLogLevel: defaultLevel,
		ScopeLevels:     scopeLevels,
	}, nil
}
