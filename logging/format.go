// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package logging

import (
	"fmt"
	"time"
)

// ChunkRecord is one line of the chunk ingestion log.
type ChunkRecord struct {
	Seq        uint64
	Time       time.Time
	Size       int
	Retained   int
	TotalBytes int64
	Evicted    int
}

// ChunkFormatter renders ChunkRecords as CSV lines:
//
//	unix_ms, seq, size, retained, total_bytes, evicted, delta_ms
//
// delta_ms is the gap to the previously formatted chunk, 0 for the first.
type ChunkFormatter struct {
	last time.Time
}

// Format returns the CSV line for rec, newline terminated.
func (f *ChunkFormatter) Format(rec ChunkRecord) string {
	var delta int64
	if !f.last.IsZero() {
		delta = rec.Time.Sub(f.last).Milliseconds()
	}
	f.last = rec.Time

	return fmt.Sprintf("%v, %v, %v, %v, %v, %v, %v\n",
		rec.Time.UnixMilli(),
		rec.Seq,
		rec.Size,
		rec.Retained,
		rec.TotalBytes,
		rec.Evicted,
		delta,
	)
}

// Reset forgets the previous chunk so the next delta starts at 0.
func (f *ChunkFormatter) Reset() {
	f.last = time.Time{}
}
