// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package capture derives a live, fixed-rate audio/video feed from a
// composited frame target.
package capture

import (
	"errors"
	"image"
	"image/draw"
	"io"
	"sync"
	"time"

	"github.com/pion/mediadevices"
)

// Static errors for err113 compliance.
var (
	ErrStreamClaimed = errors.New("capture stream already has an active session")
	ErrAudioAttached = errors.New("capture stream already carries an audio track")
	ErrInvalidFPS    = errors.New("frame rate must be positive")
	ErrInvalidTarget = errors.New("frame target has no area")
	ErrNilAudioTrack = errors.New("audio track must not be nil")
	ErrStreamStopped = errors.New("capture stream stopped")
	ErrNoFrame       = errors.New("no frame captured yet")

	errInvalidToneFormat = errors.New("invalid tone format")
)

// FrameTarget is a surface whose latest completed frame can be copied out.
// *compositor.Compositor implements it.
type FrameTarget interface {
	Size() (int, int)
	CopyFrame(dst *image.RGBA) bool
}

// AudioTap is an audio track taken from an AudioBus.
type AudioTap interface {
	mediadevices.AudioSource
}

// Stream samples a FrameTarget at a fixed rate, independent of the rate the
// target is drawn at. It implements mediadevices.VideoSource so encoders
// can read it directly.
type Stream struct {
	target        FrameTarget
	width, height int
	id            string

	ticks    <-chan time.Time
	stopTick func()

	pool sync.Pool

	mu      sync.Mutex
	audio   AudioTap
	claimed bool
	last    *image.RGBA

	stopped  chan struct{}
	stopOnce sync.Once
}

// Option configures a Stream.
type Option func(*Stream) error

// WithTicks paces Read on ch instead of an internal ticker.
func WithTicks(ch <-chan time.Time) Option {
	return func(s *Stream) error {
		s.ticks = ch

		return nil
	}
}

// WithID sets the source ID reported to mediadevices.
func WithID(id string) Option {
	return func(s *Stream) error {
		s.id = id

		return nil
	}
}

// NewStream binds a feed to target sampled at fps frames per second.
func NewStream(target FrameTarget, fps int, opts ...Option) (*Stream, error) {
	if fps <= 0 {
		return nil, ErrInvalidFPS
	}
	width, height := target.Size()
	if width <= 0 || height <= 0 {
		return nil, ErrInvalidTarget
	}

	s := &Stream{
		target:   target,
		width:    width,
		height:   height,
		id:       "capture",
		stopTick: func() {},
		stopped:  make(chan struct{}),
	}
	s.pool.New = func() any {
		return image.NewRGBA(image.Rect(0, 0, width, height))
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.ticks == nil {
		ticker := time.NewTicker(time.Second / time.Duration(fps))
		s.ticks = ticker.C
		s.stopTick = ticker.Stop
	}

	return s, nil
}

// ID implements mediadevices.Source.
func (s *Stream) ID() string {
	return s.id
}

// Size returns the frame dimensions.
func (s *Stream) Size() (int, int) {
	return s.width, s.height
}

// Read waits for the next tick and returns a copy of the target's latest
// frame, or a black frame when the target has none. Once the stream is
// stopped Read returns io.EOF.
func (s *Stream) Read() (image.Image, func(), error) {
	select {
	case <-s.stopped:
		return nil, func() {}, io.EOF
	case <-s.ticks:
	}

	frame, ok := s.pool.Get().(*image.RGBA)
	if !ok {
		frame = image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	}
	if !s.target.CopyFrame(frame) {
		draw.Draw(frame, frame.Rect, image.Black, image.Point{}, draw.Src)
	}

	s.mu.Lock()
	if s.last == nil {
		s.last = image.NewRGBA(frame.Rect)
	}
	copy(s.last.Pix, frame.Pix)
	s.mu.Unlock()

	return frame, func() { s.pool.Put(frame) }, nil
}

// Snapshot returns a copy of the last frame handed out by Read, for
// preview consumers.
func (s *Stream) Snapshot() (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil, ErrNoFrame
	}
	img := image.NewRGBA(s.last.Rect)
	copy(img.Pix, s.last.Pix)

	return img, nil
}

// AttachAudio folds an audio track into the stream. The stream owns the
// track afterwards and closes it on Stop.
func (s *Stream) AttachAudio(track AudioTap) error {
	if track == nil {
		return ErrNilAudioTrack
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.audio != nil {
		return ErrAudioAttached
	}
	select {
	case <-s.stopped:
		return ErrStreamStopped
	default:
	}
	s.audio = track

	return nil
}

// DetachAudio unbinds track if it is the bound audio track and reports
// whether it was. The track is not closed.
func (s *Stream) DetachAudio(track AudioTap) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if track == nil || s.audio != track {
		return false
	}
	s.audio = nil

	return true
}

// Audio returns the bound audio track, or nil for a video-only stream.
func (s *Stream) Audio() AudioTap {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.audio
}

// Claim marks the stream as used by a session. Only one session may hold
// a stream at a time.
func (s *Stream) Claim() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed {
		return ErrStreamClaimed
	}
	s.claimed = true

	return nil
}

// Release drops the session claim.
func (s *Stream) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimed = false
}

// Stop ends the feed and closes the audio track. It is the only way a
// stream ends.
func (s *Stream) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopped)
		s.stopTick()

		s.mu.Lock()
		audio := s.audio
		s.mu.Unlock()
		if audio != nil {
			err = audio.Close()
		}
	})

	return err
}

// Close implements mediadevices.Source. It does nothing: the stream ends
// only on Stop, whatever its consumers do.
func (s *Stream) Close() error {
	return nil
}

// Done is closed when the stream stops.
func (s *Stream) Done() <-chan struct{} {
	return s.stopped
}
