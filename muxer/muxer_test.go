//go:build !js
// +build !js

// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package muxer

import (
	"bytes"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/mediadevices/pkg/codec"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/timemachine/capture"
	"github.com/pion/timemachine/chunkbuf"
	"github.com/pion/timemachine/encoder"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ encoder.Runtime         = (*Runtime)(nil)
	_ encoder.Recorder        = (*recorder)(nil)
	_ encoder.BitrateReporter = (*recorder)(nil)

	errBuild = errors.New("build failed")
)

type fakeVideoEncoder struct {
	r      video.Reader
	frames int
}

func (e *fakeVideoEncoder) Read() ([]byte, func(), error) {
	_, release, err := e.r.Read()
	if err != nil {
		return nil, func() {}, err
	}
	release()

	tag := byte(0x01)
	if e.frames%10 == 0 {
		tag = 0x00
	}
	e.frames++

	return append([]byte{tag}, bytes.Repeat([]byte{0xAB}, 499)...), func() {}, nil
}

func (e *fakeVideoEncoder) Close() error                        { return nil }
func (e *fakeVideoEncoder) Controller() codec.EncoderController { return nil }

type fakeVideoBuilder struct {
	bitrate int
}

func (b *fakeVideoBuilder) RTPCodec() *codec.RTPCodec {
	return codec.NewRTPVP8Codec(90000)
}

func (b *fakeVideoBuilder) BuildVideoEncoder(r video.Reader, _ prop.Media) (codec.ReadCloser, error) {
	return &fakeVideoEncoder{r: r}, nil
}

type fakeAudioEncoder struct {
	r audio.Reader
}

func (e *fakeAudioEncoder) Read() ([]byte, func(), error) {
	_, release, err := e.r.Read()
	if err != nil {
		return nil, func() {}, err
	}
	release()

	return []byte{0xfc, 0xff, 0xfe}, func() {}, nil
}

func (e *fakeAudioEncoder) Close() error                        { return nil }
func (e *fakeAudioEncoder) Controller() codec.EncoderController { return nil }

type fakeAudioBuilder struct{}

func (fakeAudioBuilder) RTPCodec() *codec.RTPCodec {
	return codec.NewRTPOpusCodec(48000)
}

func (fakeAudioBuilder) BuildAudioEncoder(r audio.Reader, _ prop.Media) (codec.ReadCloser, error) {
	return &fakeAudioEncoder{r: r}, nil
}

type grayTarget struct{}

func (grayTarget) Size() (int, int) { return 32, 18 }

func (grayTarget) CopyFrame(dst *image.RGBA) bool {
	for i := range dst.Pix {
		dst.Pix[i] = 0x80
	}

	return true
}

func newTestRuntime(t *testing.T, opts ...Option) (*Runtime, *[]int) {
	t.Helper()

	var bitrates []int
	base := []Option{
		WithVideoCodec(webrtc.MimeTypeVP8, func(bitrate int) (codec.VideoEncoderBuilder, error) {
			bitrates = append(bitrates, bitrate)

			return &fakeVideoBuilder{bitrate: bitrate}, nil
		}),
		WithAudioCodec(webrtc.MimeTypeOpus, func(bitrate int) (codec.AudioEncoderBuilder, error) {
			bitrates = append(bitrates, bitrate)

			return fakeAudioBuilder{}, nil
		}),
		WithLoggerFactory(logging.NewDefaultLoggerFactory()),
	}
	rt, err := NewRuntime(append(base, opts...)...)
	require.NoError(t, err)

	return rt, &bitrates
}

func newTestStream(t *testing.T, withAudio bool) *capture.Stream {
	t.Helper()

	stream, err := capture.NewStream(grayTarget{}, 30)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stream.Stop() })

	if withAudio {
		tap, err := capture.NewToneBus(440).Tap()
		require.NoError(t, err)
		require.NoError(t, stream.AttachAudio(tap))
	}

	return stream
}

func TestRuntime_Registration(t *testing.T) {
	_, err := NewRuntime(WithVideoCodec(webrtc.MimeTypeOpus, func(int) (codec.VideoEncoderBuilder, error) {
		return nil, nil //nolint:nilnil
	}))
	assert.ErrorIs(t, err, ErrUnknownCodec)

	_, err = NewRuntime(WithAudioCodec(webrtc.MimeTypeVP8, nil))
	assert.ErrorIs(t, err, ErrUnknownCodec)

	_, err = NewRuntime(WithVideoCodec(webrtc.MimeTypeH264, nil))
	assert.ErrorIs(t, err, ErrUnknownCodec)

	_, err = NewRuntime(WithVideoCodec(webrtc.MimeTypeVP9, nil))
	assert.ErrorIs(t, err, ErrNilFactory)

	rt, _ := newTestRuntime(t)
	assert.Equal(t, []string{"opus", "vp8"}, rt.Codecs())
}

func TestRuntime_Supports(t *testing.T) {
	rt, _ := newTestRuntime(t)
	empty, err := NewRuntime()
	require.NoError(t, err)

	for _, tc := range []struct {
		mimeType string
		want     bool
	}{
		{"video/webm", true},
		{"video/webm;codecs=vp8", true},
		{"video/webm;codecs=vp8,opus", true},
		{"video/webm;codecs=vp9", false},
		{"video/webm;codecs=vp9,opus", false},
		{"video/webm;codecs=opus", false},
		{"video/webm;codecs=h264", false},
		{"video/mp4", false},
	} {
		t.Run(tc.mimeType, func(t *testing.T) {
			assert.Equal(t, tc.want, rt.Supports(encoder.Profile{MimeType: tc.mimeType}))
			assert.False(t, empty.Supports(encoder.Profile{MimeType: tc.mimeType}))
		})
	}
}

func TestRuntime_NewRecorder(t *testing.T) {
	t.Run("pinned bitrates", func(t *testing.T) {
		rt, bitrates := newTestRuntime(t)
		rec, err := rt.NewRecorder(newTestStream(t, true), &encoder.Profile{
			MimeType: "video/webm;codecs=vp8,opus", VideoBitrate: 15_000_000, AudioBitrate: 96_000,
		})
		require.NoError(t, err)
		assert.Equal(t, []int{15_000_000, 96_000}, *bitrates)
		assert.Equal(t, "video/webm;codecs=vp8,opus", rec.(*recorder).MimeType())
	})

	t.Run("defaults without profile", func(t *testing.T) {
		rt, bitrates := newTestRuntime(t, WithDefaultBitrates(1_000_000, 64_000))
		rec, err := rt.NewRecorder(newTestStream(t, true), nil)
		require.NoError(t, err)
		assert.Equal(t, []int{1_000_000, 64_000}, *bitrates)
		assert.Equal(t, "video/webm;codecs=vp8,opus", rec.(*recorder).MimeType())
	})

	t.Run("audio requested on video-only stream", func(t *testing.T) {
		rt, bitrates := newTestRuntime(t)
		rec, err := rt.NewRecorder(newTestStream(t, false), &encoder.Profile{MimeType: "video/webm;codecs=vp8,opus"})
		require.NoError(t, err)
		assert.Len(t, *bitrates, 1)
		assert.Equal(t, "video/webm;codecs=vp8", rec.(*recorder).MimeType())
	})

	t.Run("factory failure", func(t *testing.T) {
		rt, err := NewRuntime(WithVideoCodec(webrtc.MimeTypeVP9, func(int) (codec.VideoEncoderBuilder, error) {
			return nil, errBuild
		}))
		require.NoError(t, err)
		_, err = rt.NewRecorder(newTestStream(t, false), nil)
		assert.ErrorIs(t, err, errBuild)
	})

	t.Run("no codecs", func(t *testing.T) {
		rt, err := NewRuntime()
		require.NoError(t, err)
		_, err = rt.NewRecorder(newTestStream(t, false), nil)
		assert.ErrorIs(t, err, ErrNoVideoCodec)
	})
}

func TestRuntime_NegotiatesWithSession(t *testing.T) {
	rt, _ := newTestRuntime(t)
	buf, err := chunkbuf.New(chunkbuf.PlacementInline)
	require.NoError(t, err)
	buf.Init(time.Minute)

	s, err := encoder.NewSession(encoder.Config{Stream: newTestStream(t, false), Runtime: rt, Sink: buf})
	require.NoError(t, err)
	defer func() { _ = s.Destroy() }()

	// Only VP8 is registered, so both VP9 profiles are skipped.
	p, pinned := s.Profile()
	require.True(t, pinned)
	assert.Equal(t, "video/webm", p.MimeType)
}

type collector struct {
	mu     sync.Mutex
	slices [][]byte
}

func (c *collector) onData(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slices = append(c.slices, b)
}

func (c *collector) nonEmpty() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.slices {
		if len(s) > 0 {
			n++
		}
	}

	return n
}

func (c *collector) joined() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return bytes.Join(c.slices, nil)
}

// waitFinished blocks until the last run of rec emitted its final slice.
func waitFinished(t *testing.T, rec *recorder) {
	t.Helper()

	rec.mu.Lock()
	finished := rec.finished
	rec.mu.Unlock()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("recorder did not finish after Stop")
	}
}

func TestRecorder_EmitsWebMSlices(t *testing.T) {
	rt, _ := newTestRuntime(t)
	r, err := rt.NewRecorder(newTestStream(t, true), &encoder.Profile{MimeType: "video/webm;codecs=vp8,opus"})
	require.NoError(t, err)
	rec := r.(*recorder)

	out := &collector{}
	require.NoError(t, rec.Start(100*time.Millisecond, out.onData))
	assert.ErrorIs(t, rec.Start(100*time.Millisecond, out.onData), ErrRecorderRunning)

	require.Eventually(t, func() bool {
		return out.nonEmpty() >= 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Greater(t, rec.Bitrate(), 0.0)

	require.NoError(t, rec.Stop())
	require.NoError(t, rec.Stop())
	waitFinished(t, rec)

	data := out.joined()
	require.Greater(t, len(data), 4)
	assert.Equal(t, []byte{0x1A, 0x45, 0xDF, 0xA3}, data[:4], "EBML magic")
	assert.True(t, bytes.Contains(data, []byte("webm")))
	assert.True(t, bytes.Contains(data, []byte("V_VP8")))
	assert.True(t, bytes.Contains(data, []byte("A_OPUS")))

	// A restart opens a new segment.
	again := &collector{}
	require.NoError(t, rec.Start(50*time.Millisecond, again.onData))
	require.Eventually(t, func() bool {
		return again.nonEmpty() >= 1
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, rec.Stop())
	waitFinished(t, rec)
	assert.Equal(t, []byte{0x1A, 0x45, 0xDF, 0xA3}, again.joined()[:4])
}
