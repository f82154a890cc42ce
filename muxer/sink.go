// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package muxer

import (
	"bytes"
	"sync"
)

// sliceSink collects the muxer output between timeslice cuts. The WebM
// writer writes from its own goroutine.
type sliceSink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed chan struct{}
	once   sync.Once
}

func newSliceSink() *sliceSink {
	return &sliceSink{closed: make(chan struct{})}
}

func (s *sliceSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buf.Write(p)
}

// Close is called by the WebM writer once every track is closed.
func (s *sliceSink) Close() error {
	s.once.Do(func() { close(s.closed) })

	return nil
}

// take returns everything written since the previous call.
func (s *sliceSink) take() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buf.Len() == 0 {
		return []byte{}
	}
	out := make([]byte, s.buf.Len())
	copy(out, s.buf.Bytes())
	s.buf.Reset()

	return out
}
