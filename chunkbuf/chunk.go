// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package chunkbuf

import (
	"math"
	"time"
)

// Chunk is one timesliced unit emitted by an encoder. Data must not be
// modified once the chunk has been handed to a Buffer.
type Chunk struct {
	Data []byte
	Time time.Time
	Size int
}

// NewChunk wraps data stamped at t.
func NewChunk(data []byte, t time.Time) Chunk {
	return Chunk{Data: data, Time: t, Size: len(data)}
}

// FlushResult is the ordered content of a buffer at flush time.
type FlushResult struct {
	Chunks     []Chunk
	TotalBytes int64
	DurationMs int64
	ChunkCount int
}

// Blob concatenates the chunk payloads in order.
func (r FlushResult) Blob() []byte {
	blob := make([]byte, 0, r.TotalBytes)
	for _, c := range r.Chunks {
		blob = append(blob, c.Data...)
	}

	return blob
}

// Stats describes the retained window.
type Stats struct {
	ChunkCount          int   `json:"chunkCount"`
	TotalBytes          int64 `json:"totalBytes"`
	DurationMs          int64 `json:"durationMs"`
	EstimatedBitrateBps int64 `json:"estimatedBitrateBps"`
	Active              bool  `json:"active"`
}

// EstimateBitrate returns totalBytes*8 / max(duration in seconds, 1), rounded.
func EstimateBitrate(totalBytes, durationMs int64) int64 {
	seconds := float64(durationMs) / 1000
	if seconds < 1 {
		seconds = 1
	}

	return int64(math.Round(float64(totalBytes*8) / seconds))
}

// EventKind identifies a buffer status notification.
type EventKind int

const (
	// EventArmed follows Init.
	EventArmed EventKind = iota
	// EventBufferStatus follows every accepted chunk.
	EventBufferStatus
	// EventStopped follows Stop.
	EventStopped
)

func (k EventKind) String() string {
	switch k {
	case EventArmed:
		return "armed"
	case EventBufferStatus:
		return "buffer-status"
	case EventStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event is delivered to the status handler.
type Event struct {
	Kind  EventKind
	Stats Stats
}
