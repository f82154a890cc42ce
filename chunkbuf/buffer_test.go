//go:build !js
// +build !js

// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package chunkbuf

import (
	"bytes"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var epoch = time.UnixMilli(1_700_000_000_000)

// fakeClock is a settable clock shared by the test and the buffer.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: epoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newBuffer(t *testing.T, p Placement, clock *fakeClock, opts ...Option) Buffer {
	t.Helper()

	b, err := New(p, append([]Option{WithClock(clock.Now)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	return b
}

func placements() []Placement {
	return []Placement{PlacementInline, PlacementIsolated}
}

// feed ingests each chunk with the clock set to the chunk's time.
func feed(b Buffer, clock *fakeClock, chunks []Chunk) {
	for _, c := range chunks {
		clock.Set(c.Time)
		b.Ingest(c)
	}
}

func spaced(n, size int, gap time.Duration) []Chunk {
	chunks := make([]Chunk, n)
	for i := range chunks {
		chunks[i] = NewChunk(bytes.Repeat([]byte{byte(i)}, size), epoch.Add(time.Duration(i)*gap))
	}

	return chunks
}

func TestBuffer_ThirtySecondWindow(t *testing.T) {
	for _, p := range placements() {
		t.Run(p.String(), func(t *testing.T) {
			clock := newFakeClock()
			b := newBuffer(t, p, clock)
			b.Init(30 * time.Second)

			feed(b, clock, spaced(35, 1000, time.Second))

			stats := b.Stats()
			assert.Equal(t, 30, stats.ChunkCount)
			assert.Equal(t, int64(30000), stats.TotalBytes)
			assert.Equal(t, int64(29000), stats.DurationMs)

			flushed := b.Flush()
			require.Len(t, flushed.Chunks, 30)
			assert.Equal(t, epoch.Add(5*time.Second), flushed.Chunks[0].Time)
			assert.Equal(t, epoch.Add(34*time.Second), flushed.Chunks[29].Time)
		})
	}
}

func TestBuffer_EvictionInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7)) //nolint:gosec
	maxAge := 5 * time.Second

	for _, p := range placements() {
		t.Run(p.String(), func(t *testing.T) {
			clock := newFakeClock()
			b := newBuffer(t, p, clock)
			b.Init(maxAge)

			at := epoch
			for i := 0; i < 500; i++ {
				at = at.Add(time.Duration(rng.Intn(1500)) * time.Millisecond)
				clock.Set(at)
				b.Ingest(NewChunk(make([]byte, 1+rng.Intn(4096)), at))

				flushed := b.Flush()
				var total int64
				for _, c := range flushed.Chunks {
					require.Less(t, at.Sub(c.Time), maxAge, "chunk older than window retained")
					total += int64(c.Size)
				}
				require.Equal(t, total, flushed.TotalBytes)
				require.Equal(t, len(flushed.Chunks), flushed.ChunkCount)
			}
		})
	}
}

func TestBuffer_LateIngestionClock(t *testing.T) {
	clock := newFakeClock()
	b := newBuffer(t, PlacementInline, clock)
	b.Init(10 * time.Second)

	feed(b, clock, spaced(3, 10, time.Second))

	// A chunk arriving much later evicts everything that aged out meanwhile.
	clock.Set(epoch.Add(11 * time.Second))
	b.Ingest(NewChunk([]byte("late"), epoch.Add(11*time.Second)))

	flushed := b.Flush()
	require.Len(t, flushed.Chunks, 2)
	assert.Equal(t, epoch.Add(2*time.Second), flushed.Chunks[0].Time)
	assert.Equal(t, int64(14), flushed.TotalBytes)
}

func TestBuffer_MaxAgeBoundary(t *testing.T) {
	for _, p := range placements() {
		t.Run(p.String(), func(t *testing.T) {
			clock := newFakeClock()
			b := newBuffer(t, p, clock)
			b.Init(10 * time.Second)

			b.Ingest(NewChunk([]byte("old"), epoch))
			b.Ingest(NewChunk([]byte("edge"), epoch.Add(time.Nanosecond)))

			// "old" is exactly maxAge old and goes; "edge" is 1ns younger and stays.
			clock.Set(epoch.Add(10 * time.Second))
			b.Ingest(NewChunk([]byte("now"), epoch.Add(10*time.Second)))

			flushed := b.Flush()
			assert.Equal(t, "edgenow", string(flushed.Blob()))
			assert.Equal(t, 2, flushed.ChunkCount)
			assert.Equal(t, b.Stats().ChunkCount, flushed.ChunkCount)
		})
	}
}

func TestBuffer_OutOfOrderChunk(t *testing.T) {
	clock := newFakeClock()
	b := newBuffer(t, PlacementInline, clock)
	b.Init(time.Minute)

	clock.Set(epoch.Add(3 * time.Second))
	b.Ingest(NewChunk([]byte("c"), epoch.Add(3*time.Second)))
	b.Ingest(NewChunk([]byte("a"), epoch.Add(1*time.Second)))
	b.Ingest(NewChunk([]byte("b"), epoch.Add(2*time.Second)))

	flushed := b.Flush()
	assert.Equal(t, "abc", string(flushed.Blob()))
	assert.Equal(t, int64(2000), flushed.DurationMs)
}

func TestBuffer_StatsMatchFlush(t *testing.T) {
	for _, p := range placements() {
		t.Run(p.String(), func(t *testing.T) {
			clock := newFakeClock()
			b := newBuffer(t, p, clock)
			b.Init(4 * time.Second)

			feed(b, clock, spaced(9, 250, 700*time.Millisecond))

			stats := b.Stats()
			flushed := b.Flush()
			assert.Equal(t, stats.ChunkCount, flushed.ChunkCount)
			assert.Equal(t, stats.TotalBytes, flushed.TotalBytes)
			assert.Equal(t, stats.DurationMs, flushed.DurationMs)
		})
	}
}

func TestBuffer_EmptyAndSingle(t *testing.T) {
	for _, p := range placements() {
		t.Run(p.String(), func(t *testing.T) {
			clock := newFakeClock()
			b := newBuffer(t, p, clock)
			b.Init(time.Minute)

			empty := b.Flush()
			assert.Equal(t, 0, empty.ChunkCount)
			assert.Equal(t, int64(0), empty.TotalBytes)
			assert.Equal(t, int64(0), empty.DurationMs)
			assert.Empty(t, empty.Blob())

			feed(b, clock, spaced(1, 42, time.Second))
			single := b.Flush()
			assert.Equal(t, 1, single.ChunkCount)
			assert.Equal(t, int64(0), single.DurationMs)

			stats := b.Stats()
			assert.Equal(t, int64(42*8), stats.EstimatedBitrateBps)
		})
	}
}

func TestBuffer_InactiveIngestIgnored(t *testing.T) {
	for _, p := range placements() {
		t.Run(p.String(), func(t *testing.T) {
			clock := newFakeClock()
			b := newBuffer(t, p, clock)

			b.Ingest(NewChunk([]byte("before init"), epoch))
			assert.Equal(t, Stats{}, b.Stats())

			b.Init(time.Minute)
			feed(b, clock, spaced(3, 10, time.Second))
			b.Stop()

			// A final chunk can land after the encoder was stopped.
			b.Ingest(NewChunk([]byte("straggler"), epoch.Add(4*time.Second)))

			stats := b.Stats()
			assert.False(t, stats.Active)
			assert.Equal(t, 0, stats.ChunkCount)
			assert.Equal(t, int64(0), stats.TotalBytes)
			assert.Equal(t, 0, b.Flush().ChunkCount)
		})
	}
}

func TestBuffer_FlushKeepsBufferActive(t *testing.T) {
	for _, p := range placements() {
		t.Run(p.String(), func(t *testing.T) {
			clock := newFakeClock()
			b := newBuffer(t, p, clock)
			b.Init(time.Minute)
			feed(b, clock, spaced(2, 10, time.Second))

			first := b.Flush()
			second := b.Flush()
			assert.Equal(t, first, second)

			feed(b, clock, []Chunk{NewChunk([]byte("x"), epoch.Add(5*time.Second))})
			assert.Equal(t, 3, b.Stats().ChunkCount)
			assert.True(t, b.Stats().Active)
		})
	}
}

func TestBuffer_Rearm(t *testing.T) {
	clock := newFakeClock()
	b := newBuffer(t, PlacementIsolated, clock)
	b.Init(time.Minute)
	feed(b, clock, spaced(4, 10, time.Second))
	b.Stop()

	b.Init(0)
	feed(b, clock, spaced(2, 5, time.Second))
	stats := b.Stats()
	assert.True(t, stats.Active)
	assert.Equal(t, 2, stats.ChunkCount)
	assert.Equal(t, int64(10), stats.TotalBytes)
}

func TestBuffer_PlacementTransparency(t *testing.T) {
	rng := rand.New(rand.NewSource(42)) //nolint:gosec
	chunks := make([]Chunk, 200)
	at := epoch
	for i := range chunks {
		at = at.Add(time.Duration(200+rng.Intn(1200)) * time.Millisecond)
		payload := make([]byte, 1+rng.Intn(2048))
		rng.Read(payload)
		chunks[i] = NewChunk(payload, at)
	}

	results := make(map[Placement][2]any)
	for _, p := range placements() {
		clock := newFakeClock()
		b := newBuffer(t, p, clock)
		require.Equal(t, p, b.Placement())
		b.Init(20 * time.Second)
		feed(b, clock, chunks)
		results[p] = [2]any{b.Stats(), b.Flush()}
	}

	assert.Equal(t, results[PlacementInline], results[PlacementIsolated])
}

func TestBuffer_IsolatedFallsBackToInline(t *testing.T) {
	group := &errgroup.Group{}
	group.SetLimit(1)
	release := make(chan struct{})
	group.Go(func() error {
		<-release

		return nil
	})

	logs := &bytes.Buffer{}
	clock := newFakeClock()
	b := newBuffer(t, PlacementIsolated, clock, WithExecutor(group), WithLoggerFactory(testLoggerFactory(logs)))
	assert.Equal(t, PlacementInline, b.Placement())
	assert.Contains(t, logs.String(), "isolated placement unavailable")

	b.Init(time.Minute)
	feed(b, clock, spaced(3, 10, time.Second))
	assert.Equal(t, 3, b.Stats().ChunkCount)

	close(release)
	require.NoError(t, group.Wait())
}

func TestBuffer_IsolatedWorkerOnGroup(t *testing.T) {
	group := &errgroup.Group{}
	clock := newFakeClock()
	b, err := New(PlacementIsolated, WithClock(clock.Now), WithExecutor(group))
	require.NoError(t, err)
	assert.Equal(t, PlacementIsolated, b.Placement())

	b.Init(time.Minute)
	feed(b, clock, spaced(3, 10, time.Second))
	assert.Equal(t, 3, b.Flush().ChunkCount)

	require.NoError(t, b.Close())
	require.NoError(t, group.Wait())

	// Calls after Close neither block nor panic.
	b.Ingest(NewChunk([]byte("late"), epoch))
	b.Stop()
	assert.Equal(t, 0, b.Flush().ChunkCount)
	assert.Equal(t, Stats{}, b.Stats())
	require.NoError(t, b.Close())
}

func TestBuffer_StatusEvents(t *testing.T) {
	for _, p := range placements() {
		t.Run(p.String(), func(t *testing.T) {
			var (
				mu     sync.Mutex
				events []Event
			)
			handler := func(e Event) {
				mu.Lock()
				defer mu.Unlock()
				events = append(events, e)
			}

			clock := newFakeClock()
			b := newBuffer(t, p, clock, WithStatusHandler(handler))
			b.Init(time.Minute)
			feed(b, clock, spaced(2, 100, time.Second))
			b.Stop()
			b.Ingest(NewChunk([]byte("ignored"), epoch))
			_ = b.Stats() // barrier for the isolated worker

			mu.Lock()
			defer mu.Unlock()
			kinds := make([]EventKind, 0, len(events))
			for _, e := range events {
				kinds = append(kinds, e.Kind)
			}
			assert.Equal(t, []EventKind{EventArmed, EventBufferStatus, EventBufferStatus, EventStopped}, kinds)
			assert.Equal(t, 2, events[2].Stats.ChunkCount)
			assert.Equal(t, int64(200), events[2].Stats.TotalBytes)
		})
	}
}

func TestBuffer_ChunkLog(t *testing.T) {
	out := &bytes.Buffer{}
	clock := newFakeClock()
	b := newBuffer(t, PlacementInline, clock, WithChunkLog(out))
	b.Init(2 * time.Second)
	feed(b, clock, spaced(3, 10, time.Second))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "1700000002000, 3, 10, 2, 20, 1, 1000", lines[2])
}

func TestOptions(t *testing.T) {
	_, err := New(PlacementInline, WithQueueSize(0))
	assert.ErrorIs(t, err, ErrInvalidQueueSize)

	_, err = New(PlacementInline, WithExecutor(nil))
	assert.ErrorIs(t, err, ErrNilExecutor)

	_, err = New(Placement(9))
	assert.ErrorIs(t, err, ErrUnknownPlacement)
}

func TestParsePlacement(t *testing.T) {
	p, err := ParsePlacement("inline")
	require.NoError(t, err)
	assert.Equal(t, PlacementInline, p)

	p, err = ParsePlacement("isolated")
	require.NoError(t, err)
	assert.Equal(t, PlacementIsolated, p)

	_, err = ParsePlacement("worker")
	assert.ErrorIs(t, err, ErrUnknownPlacement)
}

func TestEstimateBitrate(t *testing.T) {
	assert.Equal(t, int64(0), EstimateBitrate(0, 0))
	assert.Equal(t, int64(8000), EstimateBitrate(1000, 500))
	assert.Equal(t, int64(4000), EstimateBitrate(1000, 2000))
	assert.Equal(t, int64(2667), EstimateBitrate(1000, 3000))
}
