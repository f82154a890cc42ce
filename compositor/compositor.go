// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package compositor merges ordered layer sources into one fixed-size frame
// target on every tick.
package compositor

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/pion/logging"
)

// Static errors for err113 compliance.
var (
	ErrUnknownSlot  = errors.New("unknown layer slot")
	ErrNilSource    = errors.New("layer source must not be nil")
	ErrInvalidSize  = errors.New("frame target size must be positive")
	ErrInvalidFPS   = errors.New("frame rate must be positive")
	ErrInvalidClock = errors.New("clock must not be nil")
)

// Slot is a fixed z-order position. Higher slots are drawn on top.
type Slot int

const (
	// SlotBase is the scene layer, drawn first.
	SlotBase Slot = iota
	// SlotCamera is the live camera layer.
	SlotCamera
	// SlotOverlay is drawn last, above everything else.
	SlotOverlay

	slotCount
)

func (s Slot) String() string {
	switch s {
	case SlotBase:
		return "base"
	case SlotCamera:
		return "camera"
	case SlotOverlay:
		return "overlay"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

// ParseSlot maps a slot name to its Slot.
func ParseSlot(name string) (Slot, error) {
	for s := SlotBase; s < slotCount; s++ {
		if s.String() == name {
			return s, nil
		}
	}

	return SlotBase, fmt.Errorf("%w: %q", ErrUnknownSlot, name)
}

func (s Slot) valid() bool {
	return s >= SlotBase && s < slotCount
}

// Source is a drawable layer. Image is only called when Ready reports true.
type Source interface {
	Ready() bool
	Image() image.Image
}

// Config describes the frame target. It is fixed for the lifetime of the
// Compositor.
type Config struct {
	Width  int
	Height int
	FPS    int
}

// DefaultConfig is a 1080p target at 60 frames per second.
func DefaultConfig() Config {
	return Config{Width: 1920, Height: 1080, FPS: 60}
}

// Counters is the compositor telemetry.
type Counters struct {
	FPS           int    `json:"fps"`
	DroppedFrames uint64 `json:"droppedFrames"`
	Frames        uint64 `json:"frames"`
	LayerFailures uint64 `json:"layerFailures"`
}

// Compositor draws base, camera and overlay layers into its frame target.
type Compositor struct {
	cfg           Config
	interval      time.Duration
	dropThreshold time.Duration

	layerMu sync.Mutex
	layers  [slotCount]Source

	// renderMu serializes ticks. back is only touched while it is held.
	renderMu    sync.Mutex
	back        *image.RGBA
	lastTick    time.Time
	windowStart time.Time
	windowCount int

	frameMu sync.RWMutex
	front   *image.RGBA

	statsMu  sync.Mutex
	counters Counters

	runMu  sync.Mutex
	done   chan struct{}
	exited chan struct{}

	newTicker func(time.Duration) Ticker
	now       func() time.Time
	log       logging.LeveledLogger
}

// New creates a stopped compositor.
func New(cfg Config, opts ...Option) (*Compositor, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, cfg.Width, cfg.Height)
	}
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFPS, cfg.FPS)
	}

	c := &Compositor{
		cfg:      cfg,
		interval: time.Second / time.Duration(cfg.FPS),
		// 1.2 intervals, truncated once.
		dropThreshold: time.Second * 6 / time.Duration(5*cfg.FPS),
		newTicker:     newTimeTicker,
		now:           time.Now,
		log:           logging.NewDefaultLoggerFactory().NewLogger("compositor"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// AttachLayer puts src in slot, replacing any previous source.
func (c *Compositor) AttachLayer(slot Slot, src Source) error {
	if !slot.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownSlot, int(slot))
	}
	if src == nil {
		return ErrNilSource
	}

	c.layerMu.Lock()
	defer c.layerMu.Unlock()
	c.layers[slot] = src

	return nil
}

// DetachLayer empties slot.
func (c *Compositor) DetachLayer(slot Slot) error {
	if !slot.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownSlot, int(slot))
	}

	c.layerMu.Lock()
	defer c.layerMu.Unlock()
	c.layers[slot] = nil

	return nil
}

// Start creates the frame target and begins ticking at the configured
// rate. Starting a running compositor does nothing.
func (c *Compositor) Start() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.done != nil {
		return
	}

	c.frameMu.Lock()
	c.front = image.NewRGBA(image.Rect(0, 0, c.cfg.Width, c.cfg.Height))
	c.frameMu.Unlock()

	c.renderMu.Lock()
	c.back = image.NewRGBA(image.Rect(0, 0, c.cfg.Width, c.cfg.Height))
	c.lastTick = c.now()
	c.windowStart = c.lastTick
	c.windowCount = 0
	c.renderMu.Unlock()

	c.done = make(chan struct{})
	c.exited = make(chan struct{})
	go c.loop(c.newTicker(c.interval), c.done, c.exited)

	c.log.Infof("compositing %dx%d at %d fps", c.cfg.Width, c.cfg.Height, c.cfg.FPS)
}

// Stop halts the loop and releases the frame target.
func (c *Compositor) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.done == nil {
		return
	}
	close(c.done)
	<-c.exited
	c.done, c.exited = nil, nil

	c.renderMu.Lock()
	c.back = nil
	c.renderMu.Unlock()

	c.frameMu.Lock()
	c.front = nil
	c.frameMu.Unlock()

	c.log.Info("compositing stopped")
}

// Running reports whether the draw loop is active.
func (c *Compositor) Running() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	return c.done != nil
}

func (c *Compositor) loop(t Ticker, done, exited chan struct{}) {
	defer close(exited)
	defer t.Stop()
	for {
		select {
		case ts := <-t.C():
			c.RenderFrame(ts)
		case <-done:
			return
		}
	}
}

// Size returns the frame target dimensions.
func (c *Compositor) Size() (int, int) {
	return c.cfg.Width, c.cfg.Height
}

// FPS returns the nominal frame rate.
func (c *Compositor) FPS() int {
	return c.cfg.FPS
}

// CopyFrame copies the last completed frame into dst. It reports false
// when the compositor is stopped. dst must have the frame target's size.
func (c *Compositor) CopyFrame(dst *image.RGBA) bool {
	c.frameMu.RLock()
	defer c.frameMu.RUnlock()
	if c.front == nil || dst.Rect.Size() != c.front.Rect.Size() {
		return false
	}
	copy(dst.Pix, c.front.Pix)

	return true
}

// Counters returns a copy of the telemetry counters.
func (c *Compositor) Counters() Counters {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	return c.counters
}

func (c *Compositor) snapshotLayers() [slotCount]Source {
	c.layerMu.Lock()
	defer c.layerMu.Unlock()

	return c.layers
}
