// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package capture

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/pion/mediadevices/pkg/wave"
)

// AudioBus is a continuous audio node that sessions tap for a track.
type AudioBus interface {
	// CurrentTime is the bus clock, used for clock-lock diagnostics.
	CurrentTime() time.Duration
	// Tap creates a new track fed by the bus.
	Tap() (AudioTap, error)
}

// ToneBus is a synthetic audio bus producing a sine tone in real time.
type ToneBus struct {
	Frequency    float64
	SamplingRate int
	Channels     int
	// Chunk is the duration of audio returned by one Read.
	Chunk time.Duration

	start time.Time
	now   func() time.Time

	mu   sync.Mutex
	taps int
}

// NewToneBus returns a 48 kHz stereo bus playing frequency Hz.
func NewToneBus(frequency float64) *ToneBus {
	return &ToneBus{
		Frequency:    frequency,
		SamplingRate: 48000,
		Channels:     2,
		Chunk:        20 * time.Millisecond,
		start:        time.Now(),
		now:          time.Now,
	}
}

// CurrentTime is the time elapsed since the bus was created.
func (b *ToneBus) CurrentTime() time.Duration {
	return b.now().Sub(b.start)
}

// Tap creates a paced track reading the tone.
func (b *ToneBus) Tap() (AudioTap, error) {
	samples := int(int64(b.SamplingRate) * int64(b.Chunk) / int64(time.Second))
	if samples <= 0 || b.Channels <= 0 {
		return nil, fmt.Errorf("%w: %d Hz, %d channels, %v chunks",
			errInvalidToneFormat, b.SamplingRate, b.Channels, b.Chunk)
	}

	b.mu.Lock()
	b.taps++
	id := fmt.Sprintf("tone-%d", b.taps)
	b.mu.Unlock()

	return &toneTap{
		id:      id,
		bus:     b,
		samples: samples,
		ticker:  time.NewTicker(b.Chunk),
		closed:  make(chan struct{}),
	}, nil
}

type toneTap struct {
	id      string
	bus     *ToneBus
	samples int
	ticker  *time.Ticker

	mu     sync.Mutex
	played int64

	closed    chan struct{}
	closeOnce sync.Once
}

func (t *toneTap) ID() string {
	return t.id
}

func (t *toneTap) Read() (wave.Audio, func(), error) {
	select {
	case <-t.closed:
		return nil, func() {}, io.EOF
	case <-t.ticker.C:
	}

	chunk := wave.NewInt16Interleaved(wave.ChunkInfo{
		Len:          t.samples,
		Channels:     t.bus.Channels,
		SamplingRate: t.bus.SamplingRate,
	})

	t.mu.Lock()
	defer t.mu.Unlock()
	step := 2 * math.Pi * t.bus.Frequency / float64(t.bus.SamplingRate)
	for i := 0; i < t.samples; i++ {
		v := int16(math.Sin(step*float64(t.played)) * math.MaxInt16 / 4)
		for ch := 0; ch < t.bus.Channels; ch++ {
			chunk.Data[i*t.bus.Channels+ch] = v
		}
		t.played++
	}

	return chunk, func() {}, nil
}

func (t *toneTap) Close() error {
	t.closeOnce.Do(func() {
		t.ticker.Stop()
		close(t.closed)
	})

	return nil
}
