// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package muxer

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/webm"
	"github.com/pion/logging"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec"
	"github.com/pion/timemachine/capture"
)

const (
	videoTrackNumber = 1
	audioTrackNumber = 2

	// sinkCloseWait bounds how long a stopping recorder waits for the WebM
	// writer to drain.
	sinkCloseWait = 2 * time.Second
)

type recorder struct {
	stream       *capture.Stream
	plan         plan
	videoBuilder codec.VideoEncoderBuilder
	audioBuilder codec.AudioEncoderBuilder
	log          logging.LeveledLogger

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	finished chan struct{}

	trackerMu sync.Mutex
	tracker   *codec.BitrateTracker
}

func newRecorder(
	stream *capture.Stream,
	pl plan,
	videoBuilder codec.VideoEncoderBuilder,
	audioBuilder codec.AudioEncoderBuilder,
	log logging.LeveledLogger,
) *recorder {
	finished := make(chan struct{})
	close(finished)

	return &recorder{
		stream:       stream,
		plan:         pl,
		videoBuilder: videoBuilder,
		audioBuilder: audioBuilder,
		log:          log,
		finished:     finished,
		tracker:      codec.NewBitrateTracker(time.Second),
	}
}

// MimeType describes the recorded tracks.
func (r *recorder) MimeType() string {
	if r.audioBuilder != nil {
		return fmt.Sprintf("video/webm;codecs=%s,%s", r.plan.video.name, r.plan.audio.name)
	}

	return "video/webm;codecs=" + r.plan.video.name
}

// Bitrate is the measured video bitrate over the last second.
func (r *recorder) Bitrate() float64 {
	r.trackerMu.Lock()
	defer r.trackerMu.Unlock()

	return r.tracker.GetBitrate()
}

func (r *recorder) addFrame(size int, at time.Time) {
	r.trackerMu.Lock()
	defer r.trackerMu.Unlock()
	r.tracker.AddFrame(size, at)
}

// Start opens the encoders and a new WebM segment, then emits whatever was
// muxed every timeslice.
func (r *recorder) Start(timeslice time.Duration, onData func([]byte)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrRecorderRunning
	}
	<-r.finished

	seg, err := r.open()
	if err != nil {
		return err
	}
	r.running = true
	r.stop = make(chan struct{})
	r.finished = make(chan struct{})
	go r.run(seg, timeslice, onData, r.stop, r.finished)

	return nil
}

// Stop ends the segment. The final slice is emitted asynchronously once the
// encoders drained.
func (r *recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return nil
	}
	r.running = false
	close(r.stop)

	return nil
}

type encodedTrack struct {
	track    mediadevices.Track
	reader   mediadevices.EncodedReadCloser
	writer   webm.BlockWriteCloser
	keyframe func([]byte) bool
	measure  bool
}

func (t *encodedTrack) close() error {
	return errors.Join(t.reader.Close(), t.track.Close(), t.writer.Close())
}

type segment struct {
	sink   *sliceSink
	start  time.Time
	tracks []*encodedTrack
}

// audioSource keeps the encoder from closing the stream's audio tap, which
// must outlive the recording.
type audioSource struct {
	capture.AudioTap
}

func (audioSource) Close() error {
	return nil
}

func (r *recorder) open() (*segment, error) {
	width, height := r.stream.Size()
	entries := []webm.TrackEntry{{
		Name:        "Video",
		TrackNumber: videoTrackNumber,
		TrackUID:    videoTrackNumber,
		CodecID:     r.plan.video.webmID,
		TrackType:   1,
		Video: &webm.Video{
			PixelWidth:  uint64(width),  //nolint:gosec // positive
			PixelHeight: uint64(height), //nolint:gosec // positive
		},
	}}

	videoTrack := mediadevices.NewVideoTrack(r.stream, mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(r.videoBuilder),
	))
	videoReader, err := videoTrack.NewEncodedReader(r.videoBuilder.RTPCodec().MimeType)
	if err != nil {
		_ = videoTrack.Close()

		return nil, fmt.Errorf("video encoder: %w", err)
	}
	tracks := []*encodedTrack{{
		track:  videoTrack,
		reader: videoReader,
		keyframe: func(b []byte) bool {
			return isKeyframe(r.plan.video.name, b)
		},
		measure: true,
	}}

	if tap := r.stream.Audio(); tap != nil && r.audioBuilder != nil {
		audioTrack := mediadevices.NewAudioTrack(audioSource{tap}, mediadevices.NewCodecSelector(
			mediadevices.WithAudioEncoders(r.audioBuilder),
		))
		audioReader, err := audioTrack.NewEncodedReader(r.audioBuilder.RTPCodec().MimeType)
		if err != nil {
			_ = audioTrack.Close()
			_ = videoReader.Close()
			_ = videoTrack.Close()

			return nil, fmt.Errorf("audio encoder: %w", err)
		}
		tracks = append(tracks, &encodedTrack{
			track:    audioTrack,
			reader:   audioReader,
			keyframe: func([]byte) bool { return true },
		})
		entries = append(entries, webm.TrackEntry{
			Name:        "Audio",
			TrackNumber: audioTrackNumber,
			TrackUID:    audioTrackNumber,
			CodecID:     r.plan.audio.webmID,
			TrackType:   2,
			Audio: &webm.Audio{
				SamplingFrequency: 48000.0,
				Channels:          2,
			},
		})
	}

	sink := newSliceSink()
	writers, err := webm.NewSimpleBlockWriter(sink, entries)
	if err != nil {
		for _, t := range tracks {
			_ = t.reader.Close()
			_ = t.track.Close()
		}

		return nil, fmt.Errorf("webm writer: %w", err)
	}
	for i, t := range tracks {
		t.writer = writers[i]
	}

	return &segment{sink: sink, start: time.Now(), tracks: tracks}, nil
}

func (r *recorder) run(seg *segment, timeslice time.Duration, onData func([]byte), stop, finished chan struct{}) {
	defer close(finished)

	var wg sync.WaitGroup
	for _, t := range seg.tracks {
		wg.Add(1)
		go func(t *encodedTrack) {
			defer wg.Done()
			r.pump(t, seg.start, stop)
		}(t)
	}

	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ticker.C:
			onData(seg.sink.take())
		case <-stop:
			break loop
		}
	}

	wg.Wait()
	for _, t := range seg.tracks {
		if err := t.close(); err != nil {
			r.log.Warnf("failed to close track: %v", err)
		}
	}
	select {
	case <-seg.sink.closed:
	case <-time.After(sinkCloseWait):
		r.log.Warn("webm writer did not close, final slice may be truncated")
	}
	onData(seg.sink.take())
}

func (r *recorder) pump(t *encodedTrack, start time.Time, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		buf, release, err := t.reader.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.log.Warnf("encoder read failed: %v", err)
			}

			return
		}
		now := time.Now()
		_, err = t.writer.Write(t.keyframe(buf.Data), now.Sub(start).Milliseconds(), buf.Data)
		if t.measure {
			r.addFrame(len(buf.Data), now)
		}
		release()
		if err != nil {
			r.log.Errorf("webm write failed: %v", err)

			return
		}
	}
}
