// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package console is the control surface used by the UI. It owns one
// compositor, and at most one encoder session with its chunk buffer.
package console

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/timemachine/capture"
	"github.com/pion/timemachine/chunkbuf"
	"github.com/pion/timemachine/compositor"
	"github.com/pion/timemachine/encoder"
	"github.com/pion/timemachine/stats"
)

// Static errors for err113 compliance.
var (
	ErrRecorderNotInitialized = errors.New("recorder not initialized")
	ErrNilRuntime             = errors.New("encoder runtime must not be nil")
	ErrDestroyed              = errors.New("console destroyed")
)

// Config describes a console.
type Config struct {
	Compositor compositor.Config
	// MaxAge is the retention window of the chunk buffer.
	MaxAge    time.Duration
	Placement chunkbuf.Placement
	// Profiles defaults to encoder.DefaultProfiles.
	Profiles []encoder.Profile
}

// DefaultConfig records 1080p60 into a 30 second isolated buffer.
func DefaultConfig() Config {
	return Config{
		Compositor: compositor.DefaultConfig(),
		MaxAge:     chunkbuf.DefaultMaxAge,
		Placement:  chunkbuf.PlacementIsolated,
	}
}

// Export is a flushed recording.
type Export struct {
	Blob       []byte
	TotalSize  int64
	DurationMs int64
	ChunkCount int
	MimeType   string
}

// Console wires compositor, encoder session and chunk buffer together.
type Console struct {
	cfg     Config
	comp    *compositor.Compositor
	runtime encoder.Runtime

	compositorOpts []compositor.Option
	sessionOpts    []encoder.Option
	bufferOpts     []chunkbuf.Option
	onBufferEvent  func(chunkbuf.Event)
	loggerFactory  logging.LoggerFactory
	now            func() time.Time
	log            logging.LeveledLogger

	mu        sync.Mutex
	session   *encoder.Session
	buffer    chunkbuf.Buffer
	destroyed bool
}

// Option configures a Console.
type Option func(*Console) error

// WithCompositorOptions passes options to the compositor.
func WithCompositorOptions(opts ...compositor.Option) Option {
	return func(c *Console) error {
		c.compositorOpts = append(c.compositorOpts, opts...)

		return nil
	}
}

// WithSessionOptions passes options to every encoder session.
func WithSessionOptions(opts ...encoder.Option) Option {
	return func(c *Console) error {
		c.sessionOpts = append(c.sessionOpts, opts...)

		return nil
	}
}

// WithBufferOptions passes options to every chunk buffer.
func WithBufferOptions(opts ...chunkbuf.Option) Option {
	return func(c *Console) error {
		c.bufferOpts = append(c.bufferOpts, opts...)

		return nil
	}
}

// WithBufferEvents registers a callback for chunk buffer status events.
func WithBufferEvents(h func(chunkbuf.Event)) Option {
	return func(c *Console) error {
		c.onBufferEvent = h

		return nil
	}
}

// WithClock sets the clock used for chunk stamps, eviction and snapshots.
func WithClock(now func() time.Time) Option {
	return func(c *Console) error {
		c.now = now

		return nil
	}
}

// WithLoggerFactory sets the logger factory shared by every component.
func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(c *Console) error {
		c.loggerFactory = f

		return nil
	}
}

// New creates a console with a stopped compositor and no recorder.
func New(cfg Config, rt encoder.Runtime, opts ...Option) (*Console, error) {
	if rt == nil {
		return nil, ErrNilRuntime
	}
	c := &Console{
		cfg:           cfg,
		runtime:       rt,
		loggerFactory: logging.NewDefaultLoggerFactory(),
		now:           time.Now,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.log = c.loggerFactory.NewLogger("console")

	comp, err := compositor.New(cfg.Compositor, append([]compositor.Option{
		compositor.WithLoggerFactory(c.loggerFactory),
		compositor.WithClock(c.now),
	}, c.compositorOpts...)...)
	if err != nil {
		return nil, err
	}
	c.comp = comp

	return c, nil
}

// Compositor returns the console's compositor.
func (c *Console) Compositor() *compositor.Compositor {
	return c.comp
}

// SetLayer attaches src to slot.
func (c *Console) SetLayer(slot compositor.Slot, src compositor.Source) error {
	return c.comp.AttachLayer(slot, src)
}

// RemoveLayer detaches slot.
func (c *Console) RemoveLayer(slot compositor.Slot) error {
	return c.comp.DetachLayer(slot)
}

// StartCompositing starts the draw loop.
func (c *Console) StartCompositing() {
	c.comp.Start()
}

// StopCompositing stops the draw loop.
func (c *Console) StopCompositing() {
	c.comp.Stop()
}

// InitRecorder arms a fresh buffer and encoder session, replacing any
// previous pair. bus may be nil for a video-only recording.
func (c *Console) InitRecorder(bus capture.AudioBus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	c.teardown()

	buffer, err := chunkbuf.New(c.cfg.Placement, append([]chunkbuf.Option{
		chunkbuf.WithClock(c.now),
		chunkbuf.WithLoggerFactory(c.loggerFactory),
		chunkbuf.WithStatusHandler(c.bufferEvent),
	}, c.bufferOpts...)...)
	if err != nil {
		return err
	}
	buffer.Init(c.cfg.MaxAge)

	session, err := encoder.NewSession(encoder.Config{
		Target:   c.comp,
		FPS:      c.cfg.Compositor.FPS,
		AudioBus: bus,
		Runtime:  c.runtime,
		Profiles: c.cfg.Profiles,
		Sink:     buffer,
	}, append([]encoder.Option{
		encoder.WithClock(c.now),
		encoder.WithLoggerFactory(c.loggerFactory),
	}, c.sessionOpts...)...)
	if err != nil {
		buffer.Stop()
		_ = buffer.Close()

		return err
	}

	c.buffer = buffer
	c.session = session
	c.log.Infof("recorder armed, %s buffer, %v window", buffer.Placement(), c.cfg.MaxAge)

	return nil
}

func (c *Console) bufferEvent(e chunkbuf.Event) {
	c.log.Tracef("buffer %s: %d chunks, %d bytes", e.Kind, e.Stats.ChunkCount, e.Stats.TotalBytes)
	if c.onBufferEvent != nil {
		c.onBufferEvent(e)
	}
}

// teardown destroys the current session and buffer. c.mu must be held.
func (c *Console) teardown() {
	if c.session != nil {
		if err := c.session.Destroy(); err != nil {
			c.log.Warnf("failed to destroy session: %v", err)
		}
		c.session = nil
	}
	if c.buffer != nil {
		c.buffer.Stop()
		if err := c.buffer.Close(); err != nil {
			c.log.Warnf("failed to close buffer: %v", err)
		}
		c.buffer = nil
	}
}

// StartRecording starts compositing and recording. timeslice defaults to
// one second. Starting while recording does nothing.
func (c *Console) StartRecording(timeslice time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ErrRecorderNotInitialized
	}
	if timeslice <= 0 {
		timeslice = encoder.DefaultTimeslice
	}

	c.comp.Start()

	return c.session.Start(timeslice)
}

// StopRecording stops the encoder. The buffer keeps its content.
func (c *Console) StopRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}

	return c.session.Stop()
}

// Recording reports whether the session is recording.
func (c *Console) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.session != nil && c.session.State() == encoder.StateRecording
}

// Flush exports the retained chunks without clearing the buffer. Without a
// recorder the export is empty.
func (c *Console) Flush() Export {
	c.mu.Lock()
	buffer := c.buffer
	c.mu.Unlock()

	export := Export{MimeType: encoder.ContainerMimeType, Blob: []byte{}}
	if buffer == nil {
		return export
	}

	res := buffer.Flush()
	export.Blob = res.Blob()
	export.TotalSize = res.TotalBytes
	export.DurationMs = res.DurationMs
	export.ChunkCount = res.ChunkCount

	return export
}

// Stats merges compositor counters with the buffer aggregates.
func (c *Console) Stats() stats.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	var source stats.BufferSource
	if c.buffer != nil {
		source = c.buffer
	}
	snap := stats.Collect(c.now(), c.comp.Counters(), source)
	if c.session != nil {
		snap.Recording = c.session.State() == encoder.StateRecording
		if bitrate, ok := c.session.EncodedBitrate(); ok {
			snap.EncodedBitrate = bitrate
		}
	}

	return snap
}

// Destroy stops recording and compositing and releases the recorder.
func (c *Console) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.destroyed = true
	c.teardown()
	c.comp.Stop()
	c.log.Info("console destroyed")
}

// SaveExport writes e to dir as <prefix>_TimeMachine_<unix ms>.webm and
// returns the path.
func (c *Console) SaveExport(dir, prefix string, e Export) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_TimeMachine_%d.webm", prefix, c.now().UnixMilli()))
	if err := os.WriteFile(path, e.Blob, 0o600); err != nil {
		return "", err
	}
	c.log.Infof("saved %d bytes (%d chunks, %d ms) to %s", e.TotalSize, e.ChunkCount, e.DurationMs, path)

	return path, nil
}
