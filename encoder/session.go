// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package encoder turns a capture stream into timesliced encoded chunks.
// A Session negotiates a codec profile with a Runtime and forwards every
// non-empty slice to a ChunkSink.
package encoder

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"
	"github.com/pion/timemachine/capture"
	"github.com/pion/timemachine/chunkbuf"
)

// Static errors for err113 compliance.
var (
	ErrCodecUnavailable = errors.New("no encoder could be constructed")
	ErrSessionDestroyed = errors.New("session destroyed")
	ErrNilRuntime       = errors.New("runtime must not be nil")
	ErrNilSink          = errors.New("chunk sink must not be nil")
	ErrNoSource         = errors.New("either a frame target or a capture stream is required")
)

// DefaultTimeslice is used when Start is given a non-positive timeslice.
const DefaultTimeslice = time.Second

// Recorder is an encoder instance bound to one stream.
type Recorder interface {
	// Start begins emitting encoded bytes to onData every timeslice.
	Start(timeslice time.Duration, onData func([]byte)) error
	// Stop ends emission. A final call to onData may follow asynchronously.
	Stop() error
}

// Runtime constructs recorders. Supports is a cheap capability probe;
// NewRecorder with a nil profile uses the runtime's own defaults.
type Runtime interface {
	Supports(p Profile) bool
	NewRecorder(stream *capture.Stream, p *Profile) (Recorder, error)
}

// BitrateReporter is implemented by recorders that measure their output.
type BitrateReporter interface {
	Bitrate() float64
}

// ChunkSink receives emitted chunks. chunkbuf.Buffer implements it.
type ChunkSink interface {
	Ingest(c chunkbuf.Chunk)
}

// State is the session lifecycle state.
type State int

// Session states.
const (
	StateIdle State = iota
	StateArmed
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// ClockLock records the audio bus clock when the session was armed and
// when recording last started. It is informational only.
type ClockLock struct {
	HasAudio     bool          `json:"hasAudio"`
	AudioAtInit  time.Duration `json:"audioAtInit"`
	AudioAtStart time.Duration `json:"audioAtStart"`
	WallAtInit   time.Time     `json:"wallAtInit"`
	WallAtStart  time.Time     `json:"wallAtStart"`
}

// Config describes a session.
type Config struct {
	// Target is sampled through a new capture stream owned by the session.
	Target capture.FrameTarget
	// Stream is used instead of Target when set. The session claims it and
	// leaves it running on Destroy.
	Stream *capture.Stream
	FPS    int
	// AudioBus is tapped for an audio track when set.
	AudioBus capture.AudioBus
	Runtime  Runtime
	// Profiles defaults to DefaultProfiles.
	Profiles []Profile
	Sink     ChunkSink
}

// Session is an encoder session over one capture stream.
type Session struct {
	stream     *capture.Stream
	ownsStream bool
	bus        capture.AudioBus
	tap        capture.AudioTap
	recorder   Recorder
	profile    *Profile
	sink       ChunkSink
	now        func() time.Time
	streamOpts []capture.Option
	log        logging.LeveledLogger

	mu        sync.Mutex
	state     State
	destroyed bool
	clockLock ClockLock

	chunksTotal atomic.Uint64
	bytesTotal  atomic.Uint64
	emptyTotal  atomic.Uint64
}

// Option configures a Session.
type Option func(*Session) error

// WithClock sets the clock stamping emitted chunks.
func WithClock(now func() time.Time) Option {
	return func(s *Session) error {
		s.now = now

		return nil
	}
}

// WithLoggerFactory sets the logger factory.
func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(s *Session) error {
		s.log = f.NewLogger("encoder")

		return nil
	}
}

// WithStreamOptions passes options to the capture stream the session
// creates from Config.Target.
func WithStreamOptions(opts ...capture.Option) Option {
	return func(s *Session) error {
		s.streamOpts = append(s.streamOpts, opts...)

		return nil
	}
}

// NewSession binds a capture stream, taps the audio bus and negotiates a
// recorder. The session starts armed. Only a failure of the unpinned
// fallback recorder is returned as ErrCodecUnavailable.
func NewSession(cfg Config, opts ...Option) (*Session, error) {
	if cfg.Runtime == nil {
		return nil, ErrNilRuntime
	}
	if cfg.Sink == nil {
		return nil, ErrNilSink
	}

	s := &Session{
		bus:  cfg.AudioBus,
		sink: cfg.Sink,
		now:  time.Now,
		log:  logging.NewDefaultLoggerFactory().NewLogger("encoder"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if err := s.bindStream(cfg); err != nil {
		return nil, err
	}
	s.bindAudio()

	profiles := cfg.Profiles
	if profiles == nil {
		profiles = DefaultProfiles(DefaultVideoBitrate, DefaultAudioBitrate)
	}
	recorder, profile, err := negotiate(cfg.Runtime, s.stream, profiles, s.log)
	if err != nil {
		s.releaseStream()

		return nil, err
	}
	s.recorder = recorder
	s.profile = profile
	s.state = StateArmed

	if profile != nil {
		s.log.Infof("session armed with %s", profile)
	} else {
		s.log.Info("session armed with runtime default encoder")
	}

	return s, nil
}

func (s *Session) bindStream(cfg Config) error {
	switch {
	case cfg.Stream != nil:
		s.stream = cfg.Stream
	case cfg.Target != nil:
		stream, err := capture.NewStream(cfg.Target, cfg.FPS, s.streamOpts...)
		if err != nil {
			return err
		}
		s.stream = stream
		s.ownsStream = true
	default:
		return ErrNoSource
	}

	if err := s.stream.Claim(); err != nil {
		if s.ownsStream {
			_ = s.stream.Stop()
		}

		return err
	}

	return nil
}

// bindAudio folds a tap of the audio bus into the stream. Any failure
// leaves the session video-only.
func (s *Session) bindAudio() {
	s.clockLock.WallAtInit = s.now()
	if s.bus == nil {
		return
	}

	tap, err := s.bus.Tap()
	if err != nil {
		s.log.Warnf("audio binding failed, video-only mode: %v", err)

		return
	}
	if err := s.stream.AttachAudio(tap); err != nil {
		_ = tap.Close()
		s.log.Warnf("audio binding failed, video-only mode: %v", err)

		return
	}
	s.tap = tap
	s.clockLock.HasAudio = true
	s.clockLock.AudioAtInit = s.bus.CurrentTime()
}

func negotiate(rt Runtime, stream *capture.Stream, profiles []Profile, log logging.LeveledLogger) (Recorder, *Profile, error) {
	for i := range profiles {
		p := profiles[i]
		if !rt.Supports(p) {
			log.Debugf("profile %s not supported", p)

			continue
		}
		recorder, err := rt.NewRecorder(stream, &p)
		if err != nil {
			log.Debugf("profile %s failed: %v", p, err)

			continue
		}

		return recorder, &p, nil
	}

	recorder, err := rt.NewRecorder(stream, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrCodecUnavailable, err)
	}

	return recorder, nil, nil
}

// Start begins recording with the given timeslice. Starting a recording
// session is a no-op.
func (s *Session) Start(timeslice time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return ErrSessionDestroyed
	}
	if s.state == StateRecording {
		return nil
	}
	if timeslice <= 0 {
		timeslice = DefaultTimeslice
	}

	if err := s.recorder.Start(timeslice, s.emit); err != nil {
		return err
	}
	s.state = StateRecording

	s.clockLock.WallAtStart = s.now()
	if s.clockLock.HasAudio {
		s.clockLock.AudioAtStart = s.bus.CurrentTime()
	}
	s.log.Debugf("recording started, timeslice %v", timeslice)

	return nil
}

// Stop returns the session to armed. A final chunk may still be emitted
// after Stop returns.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateRecording {
		return nil
	}
	s.state = StateArmed

	return s.recorder.Stop()
}

// Destroy stops recording, releases the stream and returns to idle. The
// session cannot be restarted.
func (s *Session) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return nil
	}
	var err error
	if s.state == StateRecording {
		err = s.recorder.Stop()
	}
	s.state = StateIdle
	s.destroyed = true
	s.releaseStream()

	return err
}

// releaseStream gives the stream back. An owned stream is stopped, which
// closes its audio. A borrowed stream only loses the tap this session bound.
func (s *Session) releaseStream() {
	s.stream.Release()
	if s.ownsStream {
		if err := s.stream.Stop(); err != nil {
			s.log.Warnf("failed to stop capture stream: %v", err)
		}

		return
	}
	if s.tap == nil {
		return
	}
	if s.stream.DetachAudio(s.tap) {
		if err := s.tap.Close(); err != nil {
			s.log.Warnf("failed to close audio tap: %v", err)
		}
	}
	s.tap = nil
}

// emit forwards one timeslice to the sink. It may run after Stop.
func (s *Session) emit(data []byte) {
	if len(data) == 0 {
		s.emptyTotal.Add(1)

		return
	}

	c := chunkbuf.NewChunk(data, s.now())
	s.chunksTotal.Add(1)
	s.bytesTotal.Add(uint64(c.Size)) //nolint:gosec // sizes are non-negative
	s.sink.Ingest(c)
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Profile returns the negotiated profile. ok is false when the session
// fell back to the runtime defaults.
func (s *Session) Profile() (p Profile, ok bool) {
	if s.profile == nil {
		return Profile{}, false
	}

	return *s.profile, true
}

// ClockLock returns the recorded clock values.
func (s *Session) ClockLock() ClockLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.clockLock
}

// Stream returns the capture stream the session records.
func (s *Session) Stream() *capture.Stream {
	return s.stream
}

// Emitted returns the number of forwarded chunks and bytes, and the number
// of empty slices that were dropped.
func (s *Session) Emitted() (chunks, bytes, empty uint64) {
	return s.chunksTotal.Load(), s.bytesTotal.Load(), s.emptyTotal.Load()
}

// EncodedBitrate returns the recorder's measured bitrate when it reports one.
func (s *Session) EncodedBitrate() (float64, bool) {
	r, ok := s.recorder.(BitrateReporter)
	if !ok {
		return 0, false
	}

	return r.Bitrate(), true
}
