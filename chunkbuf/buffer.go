// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package chunkbuf implements the time-windowed chunk buffer that keeps the
// most recent encoder output. Eviction is lazy: it only happens when a chunk
// is ingested. The same window runs either inline, in the caller's
// goroutine, or isolated behind a worker goroutine reached by messages.
package chunkbuf

import (
	"errors"
	"io"
	"time"

	"github.com/pion/logging"
)

// Static errors for err113 compliance.
var (
	ErrUnknownPlacement  = errors.New("unknown buffer placement")
	ErrInvalidQueueSize  = errors.New("queue size must be positive")
	ErrNilExecutor       = errors.New("executor must not be nil")
	ErrPlacementRejected = errors.New("executor rejected the isolated worker")
)

// Placement selects the execution context hosting the window.
type Placement int

const (
	// PlacementInline runs every operation in the caller's goroutine.
	PlacementInline Placement = iota
	// PlacementIsolated runs the window in a dedicated worker goroutine.
	PlacementIsolated
)

func (p Placement) String() string {
	switch p {
	case PlacementInline:
		return "inline"
	case PlacementIsolated:
		return "isolated"
	default:
		return "unknown"
	}
}

// ParsePlacement maps "inline" and "isolated" to a Placement.
func ParsePlacement(name string) (Placement, error) {
	switch name {
	case "inline":
		return PlacementInline, nil
	case "isolated", "":
		return PlacementIsolated, nil
	default:
		return PlacementInline, ErrUnknownPlacement
	}
}

// Buffer is the contract shared by both placements.
type Buffer interface {
	// Init empties the buffer and activates it with the given window.
	Init(maxAge time.Duration)
	// Ingest appends a chunk and evicts expired ones. It is a no-op while
	// the buffer is inactive.
	Ingest(c Chunk)
	// Flush returns the retained chunks without clearing the buffer.
	Flush() FlushResult
	// Stats returns the current aggregates.
	Stats() Stats
	// Stop deactivates the buffer and drops all chunks.
	Stop()
	// Placement reports where the buffer actually runs.
	Placement() Placement
	// Close releases the execution context. The buffer is unusable after.
	Close() error
}

// Executor launches an isolated worker. *errgroup.Group satisfies it; a
// group with a limit refuses work once full.
type Executor interface {
	TryGo(f func() error) bool
}

type goExecutor struct{}

func (goExecutor) TryGo(f func() error) bool {
	go func() { _ = f() }()

	return true
}

type settings struct {
	now           func() time.Time
	executor      Executor
	statusHandler func(Event)
	chunkLog      io.Writer
	queueSize     int
	loggerFactory logging.LoggerFactory
}

// Option configures a Buffer.
type Option func(*settings) error

// WithClock overrides the clock used to evaluate chunk age.
func WithClock(now func() time.Time) Option {
	return func(s *settings) error {
		s.now = now

		return nil
	}
}

// WithExecutor sets the executor used to start the isolated worker.
func WithExecutor(e Executor) Option {
	return func(s *settings) error {
		if e == nil {
			return ErrNilExecutor
		}
		s.executor = e

		return nil
	}
}

// WithStatusHandler registers a callback for armed, buffer-status and
// stopped events. The handler must not call back into the buffer.
func WithStatusHandler(h func(Event)) Option {
	return func(s *settings) error {
		s.statusHandler = h

		return nil
	}
}

// WithChunkLog writes one CSV line per accepted chunk to w.
func WithChunkLog(w io.Writer) Option {
	return func(s *settings) error {
		s.chunkLog = w

		return nil
	}
}

// WithQueueSize sets the isolated request queue depth.
func WithQueueSize(n int) Option {
	return func(s *settings) error {
		if n <= 0 {
			return ErrInvalidQueueSize
		}
		s.queueSize = n

		return nil
	}
}

// WithLoggerFactory sets the logger factory.
func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(s *settings) error {
		s.loggerFactory = f

		return nil
	}
}

// New creates an inactive buffer in the requested placement. When the
// executor refuses the isolated worker the buffer falls back to inline.
func New(p Placement, opts ...Option) (Buffer, error) {
	s := &settings{
		now:           time.Now,
		executor:      goExecutor{},
		queueSize:     256,
		loggerFactory: logging.NewDefaultLoggerFactory(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	log := s.loggerFactory.NewLogger("chunkbuf")
	w := newWindow(s.chunkLog)

	switch p {
	case PlacementInline:
		return newInline(w, s.now, s.statusHandler), nil
	case PlacementIsolated:
		b, err := newIsolated(w, s.now, s.statusHandler, s.queueSize, s.executor)
		if err != nil {
			log.Warnf("isolated placement unavailable, using inline buffer: %v", err)

			return newInline(w, s.now, s.statusHandler), nil
		}

		return b, nil
	default:
		return nil, ErrUnknownPlacement
	}
}

func notify(h func(Event), e Event) {
	if h != nil {
		h(e)
	}
}
