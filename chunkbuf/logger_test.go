// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package chunkbuf

import (
	"io"

	"github.com/pion/logging"
)

func testLoggerFactory(w io.Writer) logging.LoggerFactory {
	return &logging.DefaultLoggerFactory{
		Writer:          w,
		DefaultLogLevel: logging.LogLevelWarn,
		ScopeLevels:     map[string]logging.LogLevel{},
	}
}
