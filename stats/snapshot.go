// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package stats

import (
	"time"

	"github.com/pion/timemachine/chunkbuf"
	"github.com/pion/timemachine/compositor"
)

// BufferSource is anything that reports chunk buffer stats.
type BufferSource interface {
	Stats() chunkbuf.Stats
}

// Snapshot merges compositor telemetry with the chunk buffer aggregates.
type Snapshot struct {
	Timestamp     int64  `json:"timestamp"`
	FPS           int    `json:"fps"`
	DroppedFrames uint64 `json:"droppedFrames"`
	Frames        uint64 `json:"frames"`
	LayerFailures uint64 `json:"layerFailures"`
	Recording     bool   `json:"recording"`
	// EncodedBitrate is the encoder's own measurement, 0 when unknown.
	EncodedBitrate float64 `json:"encodedBitrate,omitempty"`
	// Buffer is nil unless a buffer is active.
	Buffer *chunkbuf.Stats `json:"buffer,omitempty"`
}

// Collect builds a snapshot at now. buffer may be nil.
func Collect(now time.Time, counters compositor.Counters, buffer BufferSource) Snapshot {
	snap := Snapshot{
		Timestamp:     now.UnixMilli(),
		FPS:           counters.FPS,
		DroppedFrames: counters.DroppedFrames,
		Frames:        counters.Frames,
		LayerFailures: counters.LayerFailures,
	}
	if buffer == nil {
		return snap
	}
	if bs := buffer.Stats(); bs.Active {
		snap.Buffer = &bs
	}

	return snap
}
