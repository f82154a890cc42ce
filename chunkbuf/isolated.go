// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package chunkbuf

import (
	"sync"
	"time"
)

// Tag identifies a request sent to the isolated worker.
type Tag int

// Request tags understood by the isolated worker.
const (
	TagInit Tag = iota
	TagChunk
	TagFlush
	TagStats
	TagStop
)

func (t Tag) String() string {
	switch t {
	case TagInit:
		return "INIT"
	case TagChunk:
		return "CHUNK"
	case TagFlush:
		return "FLUSH"
	case TagStats:
		return "STATS"
	case TagStop:
		return "STOP"
	default:
		return "UNKNOWN"
	}
}

type request struct {
	tag    Tag
	maxAge time.Duration
	chunk  Chunk
	now    time.Time
	reply  chan response
}

type response struct {
	tag   Tag
	flush FlushResult
	stats Stats
}

// isolated owns its window from a single worker goroutine. Requests are
// served in arrival order, so a Stats after an Ingest observes the chunk.
// The ingestion time is read on the caller's side and travels with the
// chunk, which keeps eviction identical to the inline placement.
type isolated struct {
	now      func() time.Time
	reqs     chan request
	done     chan struct{}
	exited   chan struct{}
	once     sync.Once
	w        *window
	onStatus func(Event)
}

func newIsolated(
	w *window, now func() time.Time, onStatus func(Event), queueSize int, executor Executor,
) (*isolated, error) {
	b := &isolated{
		now:      now,
		reqs:     make(chan request, queueSize),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
		w:        w,
		onStatus: onStatus,
	}
	if !executor.TryGo(b.run) {
		return nil, ErrPlacementRejected
	}

	return b, nil
}

func (b *isolated) run() error {
	defer close(b.exited)
	for {
		select {
		case req := <-b.reqs:
			b.handle(req)
		case <-b.done:
			return nil
		}
	}
}

func (b *isolated) handle(req request) {
	switch req.tag {
	case TagInit:
		notify(b.onStatus, b.w.init(req.maxAge))
	case TagChunk:
		if e, ok := b.w.ingest(req.chunk, req.now); ok {
			notify(b.onStatus, e)
		}
	case TagFlush:
		// The chunk payloads move to the requester; the worker keeps only
		// its own slice headers and never writes to the payloads.
		req.reply <- response{tag: TagFlush, flush: b.w.flush()}
	case TagStats:
		req.reply <- response{tag: TagStats, stats: b.w.stats()}
	case TagStop:
		notify(b.onStatus, b.w.stop())
	}
}

// post queues req unless the worker is gone.
func (b *isolated) post(req request) bool {
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.reqs <- req:
		return true
	case <-b.done:
		return false
	}
}

func (b *isolated) call(tag Tag) (response, bool) {
	reply := make(chan response, 1)
	if !b.post(request{tag: tag, reply: reply}) {
		return response{}, false
	}
	select {
	case resp := <-reply:
		return resp, true
	case <-b.exited:
		return response{}, false
	}
}

func (b *isolated) Init(maxAge time.Duration) {
	b.post(request{tag: TagInit, maxAge: maxAge})
}

func (b *isolated) Ingest(c Chunk) {
	b.post(request{tag: TagChunk, chunk: c, now: b.now()})
}

func (b *isolated) Flush() FlushResult {
	resp, ok := b.call(TagFlush)
	if !ok {
		return FlushResult{Chunks: []Chunk{}}
	}

	return resp.flush
}

func (b *isolated) Stats() Stats {
	resp, _ := b.call(TagStats)

	return resp.stats
}

func (b *isolated) Stop() {
	b.post(request{tag: TagStop})
}

func (b *isolated) Placement() Placement {
	return PlacementIsolated
}

// Close terminates the worker and waits for it to exit.
func (b *isolated) Close() error {
	b.once.Do(func() {
		close(b.done)
	})
	<-b.exited

	return nil
}
