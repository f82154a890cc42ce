// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package chunkbuf

import (
	"io"
	"sort"
	"time"

	"github.com/pion/timemachine/logging"
)

// DefaultMaxAge is used when Init is given a non-positive window.
const DefaultMaxAge = 30 * time.Second

// compactThreshold is the number of dead slots tolerated at the head of the
// slice before the live chunks are moved back to index 0.
const compactThreshold = 64

// window is the placement-agnostic buffer state. It is not safe for
// concurrent use; placements serialize access to it.
type window struct {
	maxAge time.Duration
	active bool

	chunks     []Chunk
	head       int
	totalBytes int64
	seq        uint64

	chunkLog  io.Writer
	formatter logging.ChunkFormatter
}

func newWindow(chunkLog io.Writer) *window {
	return &window{maxAge: DefaultMaxAge, chunkLog: chunkLog}
}

func (w *window) live() []Chunk {
	return w.chunks[w.head:]
}

func (w *window) init(maxAge time.Duration) Event {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	w.clear()
	w.maxAge = maxAge
	w.active = true
	w.formatter.Reset()

	return Event{Kind: EventArmed, Stats: w.stats()}
}

// ingest appends c and trims every chunk that has reached maxAge at now. It
// reports false when the window is inactive and the chunk was dropped.
func (w *window) ingest(c Chunk, now time.Time) (Event, bool) {
	if !w.active {
		return Event{}, false
	}
	if c.Size == 0 {
		c.Size = len(c.Data)
	}

	w.insert(c)
	w.totalBytes += int64(c.Size)
	w.seq++

	evicted := w.evict(now)
	w.logChunk(c, evicted)

	return Event{Kind: EventBufferStatus, Stats: w.stats()}, true
}

// insert keeps the live slice ordered by Time. Encoders deliver in order so
// this is an append in practice.
func (w *window) insert(c Chunk) {
	live := w.live()
	if len(live) == 0 || !c.Time.Before(live[len(live)-1].Time) {
		w.chunks = append(w.chunks, c)

		return
	}

	idx := w.head + sort.Search(len(live), func(i int) bool {
		return live[i].Time.After(c.Time)
	})
	w.chunks = append(w.chunks, Chunk{})
	copy(w.chunks[idx+1:], w.chunks[idx:])
	w.chunks[idx] = c
}

// evict drops the expired prefix. A chunk is retained while now-Time < maxAge,
// so a chunk exactly maxAge old is gone.
func (w *window) evict(now time.Time) int {
	cutoff := now.Add(-w.maxAge)
	evicted := 0
	for w.head < len(w.chunks) && !w.chunks[w.head].Time.After(cutoff) {
		w.totalBytes -= int64(w.chunks[w.head].Size)
		w.chunks[w.head] = Chunk{}
		w.head++
		evicted++
	}

	if w.head == len(w.chunks) {
		w.chunks = w.chunks[:0]
		w.head = 0
	} else if w.head >= compactThreshold && w.head*2 >= len(w.chunks) {
		n := copy(w.chunks, w.chunks[w.head:])
		clear(w.chunks[n:])
		w.chunks = w.chunks[:n]
		w.head = 0
	}

	return evicted
}

func (w *window) durationMs() int64 {
	live := w.live()
	if len(live) < 2 {
		return 0
	}

	return live[len(live)-1].Time.Sub(live[0].Time).Milliseconds()
}

func (w *window) flush() FlushResult {
	live := w.live()
	chunks := make([]Chunk, len(live))
	copy(chunks, live)

	return FlushResult{
		Chunks:     chunks,
		TotalBytes: w.totalBytes,
		DurationMs: w.durationMs(),
		ChunkCount: len(chunks),
	}
}

func (w *window) stats() Stats {
	durationMs := w.durationMs()

	return Stats{
		ChunkCount:          len(w.live()),
		TotalBytes:          w.totalBytes,
		DurationMs:          durationMs,
		EstimatedBitrateBps: EstimateBitrate(w.totalBytes, durationMs),
		Active:              w.active,
	}
}

func (w *window) stop() Event {
	w.active = false
	w.clear()

	return Event{Kind: EventStopped, Stats: w.stats()}
}

func (w *window) clear() {
	clear(w.chunks)
	w.chunks = w.chunks[:0]
	w.head = 0
	w.totalBytes = 0
	w.seq = 0
}

func (w *window) logChunk(c Chunk, evicted int) {
	if w.chunkLog == nil {
		return
	}
	_, _ = io.WriteString(w.chunkLog, w.formatter.Format(logging.ChunkRecord{
		Seq:        w.seq,
		Time:       c.Time,
		Size:       c.Size,
		Retained:   len(w.live()),
		TotalBytes: w.totalBytes,
		Evicted:    evicted,
	}))
}
