// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package chunkbuf

import (
	"sync"
	"time"
)

type inline struct {
	mu       sync.Mutex
	w        *window
	now      func() time.Time
	onStatus func(Event)
}

func newInline(w *window, now func() time.Time, onStatus func(Event)) *inline {
	return &inline{w: w, now: now, onStatus: onStatus}
}

func (b *inline) Init(maxAge time.Duration) {
	b.mu.Lock()
	e := b.w.init(maxAge)
	b.mu.Unlock()
	notify(b.onStatus, e)
}

func (b *inline) Ingest(c Chunk) {
	now := b.now()
	b.mu.Lock()
	e, ok := b.w.ingest(c, now)
	b.mu.Unlock()
	if ok {
		notify(b.onStatus, e)
	}
}

func (b *inline) Flush() FlushResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.w.flush()
}

func (b *inline) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.w.stats()
}

func (b *inline) Stop() {
	b.mu.Lock()
	e := b.w.stop()
	b.mu.Unlock()
	notify(b.onStatus, e)
}

func (b *inline) Placement() Placement {
	return PlacementInline
}

func (b *inline) Close() error {
	return nil
}
