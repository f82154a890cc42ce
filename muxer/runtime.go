// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package muxer is the default encoder runtime. It encodes a capture
// stream with registered mediadevices encoders and muxes the result into a
// WebM byte stream that is cut into timeslices.
package muxer

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pion/logging"
	"github.com/pion/mediadevices/pkg/codec"
	"github.com/pion/timemachine/capture"
	"github.com/pion/timemachine/encoder"
	"github.com/pion/webrtc/v4"
)

// Static errors for err113 compliance.
var (
	ErrUnsupportedContainer = errors.New("unsupported container")
	ErrUnknownCodec         = errors.New("unknown codec")
	ErrCodecNotRegistered   = errors.New("codec not registered")
	ErrNoVideoCodec         = errors.New("no video codec registered")
	ErrNilFactory           = errors.New("codec factory must not be nil")
	ErrRecorderRunning      = errors.New("recorder already running")
)

// VideoCodecFactory builds a video encoder targeting bitrate bits/s.
type VideoCodecFactory func(bitrate int) (codec.VideoEncoderBuilder, error)

// AudioCodecFactory builds an audio encoder targeting bitrate bits/s.
type AudioCodecFactory func(bitrate int) (codec.AudioEncoderBuilder, error)

type codecInfo struct {
	name     string
	mimeType string
	webmID   string
	audio    bool
}

//nolint:gochecknoglobals
var knownCodecs = []codecInfo{
	{name: "vp9", mimeType: webrtc.MimeTypeVP9, webmID: "V_VP9"},
	{name: "vp8", mimeType: webrtc.MimeTypeVP8, webmID: "V_VP8"},
	{name: "av1", mimeType: webrtc.MimeTypeAV1, webmID: "V_AV1"},
	{name: "opus", mimeType: webrtc.MimeTypeOpus, webmID: "A_OPUS", audio: true},
}

func lookupName(name string) (codecInfo, bool) {
	for _, c := range knownCodecs {
		if c.name == name {
			return c, true
		}
	}

	return codecInfo{}, false
}

func lookupMimeType(mimeType string) (codecInfo, bool) {
	for _, c := range knownCodecs {
		if strings.EqualFold(c.mimeType, mimeType) {
			return c, true
		}
	}

	return codecInfo{}, false
}

// Runtime implements encoder.Runtime over registered encoder factories.
type Runtime struct {
	video map[string]VideoCodecFactory
	audio map[string]AudioCodecFactory

	defaultVideoBitrate int
	defaultAudioBitrate int

	loggerFactory logging.LoggerFactory
	log           logging.LeveledLogger
}

// Option configures a Runtime.
type Option func(*Runtime) error

// WithVideoCodec registers a video encoder for a WebRTC mime type such as
// webrtc.MimeTypeVP9.
func WithVideoCodec(mimeType string, f VideoCodecFactory) Option {
	return func(rt *Runtime) error {
		info, ok := lookupMimeType(mimeType)
		if !ok || info.audio {
			return fmt.Errorf("%w: %s", ErrUnknownCodec, mimeType)
		}
		if f == nil {
			return ErrNilFactory
		}
		rt.video[info.name] = f

		return nil
	}
}

// WithAudioCodec registers an audio encoder for a WebRTC mime type such as
// webrtc.MimeTypeOpus.
func WithAudioCodec(mimeType string, f AudioCodecFactory) Option {
	return func(rt *Runtime) error {
		info, ok := lookupMimeType(mimeType)
		if !ok || !info.audio {
			return fmt.Errorf("%w: %s", ErrUnknownCodec, mimeType)
		}
		if f == nil {
			return ErrNilFactory
		}
		rt.audio[info.name] = f

		return nil
	}
}

// WithDefaultBitrates sets the bitrates used when a profile pins none.
func WithDefaultBitrates(video, audio int) Option {
	return func(rt *Runtime) error {
		rt.defaultVideoBitrate = video
		rt.defaultAudioBitrate = audio

		return nil
	}
}

// WithLoggerFactory sets the logger factory.
func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(rt *Runtime) error {
		rt.loggerFactory = f

		return nil
	}
}

// NewRuntime creates a runtime. Without registered video codecs every
// recorder construction fails.
func NewRuntime(opts ...Option) (*Runtime, error) {
	rt := &Runtime{
		video:               map[string]VideoCodecFactory{},
		audio:               map[string]AudioCodecFactory{},
		defaultVideoBitrate: 2_500_000,
		defaultAudioBitrate: encoder.DefaultAudioBitrate,
		loggerFactory:       logging.NewDefaultLoggerFactory(),
	}
	for _, opt := range opts {
		if err := opt(rt); err != nil {
			return nil, err
		}
	}
	rt.log = rt.loggerFactory.NewLogger("muxer")

	return rt, nil
}

// Codecs lists the registered codec names.
func (rt *Runtime) Codecs() []string {
	names := make([]string, 0, len(rt.video)+len(rt.audio))
	for name := range rt.video {
		names = append(names, name)
	}
	for name := range rt.audio {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// plan is the codec pair selected for a mime type. An empty audio name
// means video-only; autoAudio means audio is added when the stream has it.
type plan struct {
	video     codecInfo
	audio     codecInfo
	hasAudio  bool
	autoAudio bool
}

func (rt *Runtime) plan(mimeType string) (plan, error) {
	container, codecs := encoder.ParseMimeType(mimeType)
	if container != encoder.ContainerMimeType {
		return plan{}, fmt.Errorf("%w: %s", ErrUnsupportedContainer, container)
	}

	var p plan
	if len(codecs) == 0 {
		for _, c := range knownCodecs {
			if _, ok := rt.video[c.name]; ok && !c.audio {
				p.video = c

				break
			}
		}
		if p.video.name == "" {
			return plan{}, ErrNoVideoCodec
		}
		if _, ok := rt.audio["opus"]; ok {
			p.audio, _ = lookupName("opus")
			p.autoAudio = true
		}

		return p, nil
	}

	for _, name := range codecs {
		info, ok := lookupName(name)
		if !ok {
			return plan{}, fmt.Errorf("%w: %s", ErrUnknownCodec, name)
		}
		if info.audio {
			if _, ok := rt.audio[name]; !ok {
				return plan{}, fmt.Errorf("%w: %s", ErrCodecNotRegistered, name)
			}
			p.audio, p.hasAudio = info, true

			continue
		}
		if _, ok := rt.video[name]; !ok {
			return plan{}, fmt.Errorf("%w: %s", ErrCodecNotRegistered, name)
		}
		p.video = info
	}
	if p.video.name == "" {
		return plan{}, ErrNoVideoCodec
	}

	return p, nil
}

// Supports reports whether every codec the profile names is registered and
// the container is WebM.
func (rt *Runtime) Supports(p encoder.Profile) bool {
	_, err := rt.plan(p.MimeType)

	return err == nil
}

// NewRecorder builds the encoders for p over stream. A nil profile uses the
// preferred registered video codec and the default bitrates.
func (rt *Runtime) NewRecorder(stream *capture.Stream, p *encoder.Profile) (encoder.Recorder, error) {
	mimeType := encoder.ContainerMimeType
	videoBitrate, audioBitrate := rt.defaultVideoBitrate, rt.defaultAudioBitrate
	if p != nil {
		mimeType = p.MimeType
		if p.VideoBitrate > 0 {
			videoBitrate = p.VideoBitrate
		}
		if p.AudioBitrate > 0 {
			audioBitrate = p.AudioBitrate
		}
	}

	pl, err := rt.plan(mimeType)
	if err != nil {
		return nil, err
	}

	videoBuilder, err := rt.video[pl.video.name](videoBitrate)
	if err != nil {
		return nil, fmt.Errorf("%s encoder: %w", pl.video.name, err)
	}

	var audioBuilder codec.AudioEncoderBuilder
	if pl.hasAudio || pl.autoAudio {
		switch {
		case stream.Audio() == nil && pl.hasAudio:
			rt.log.Debugf("%s requested but stream has no audio, recording video only", pl.audio.name)
		case stream.Audio() != nil:
			if audioBuilder, err = rt.audio[pl.audio.name](audioBitrate); err != nil {
				return nil, fmt.Errorf("%s encoder: %w", pl.audio.name, err)
			}
		}
	}

	return newRecorder(stream, pl, videoBuilder, audioBuilder, rt.log), nil
}
