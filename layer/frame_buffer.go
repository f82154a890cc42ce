// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package layer

import (
	"errors"
	"image"
	"sync"
)

// Static errors for err113 compliance.
var (
	ErrBufferClosed              = errors.New("buffer closed")
	ErrFailedToAddFrameAfterDrop = errors.New("failed to add frame after dropping oldest")
)

// DefaultFrameBufferSize is the queue depth of NewFrameBuffer.
const DefaultFrameBufferSize = 8

// FrameBuffer is a push-fed layer for live feeds such as a camera. Producers
// call SendFrame from their own goroutine; the compositor picks up the most
// recent frame on each tick and never waits for one.
type FrameBuffer struct {
	frameChan chan image.Image
	closeChan chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	current image.Image
}

// NewFrameBuffer creates a frame buffer holding up to size pending frames.
func NewFrameBuffer(size int) *FrameBuffer {
	if size <= 0 {
		size = DefaultFrameBufferSize
	}

	return &FrameBuffer{
		frameChan: make(chan image.Image, size),
		closeChan: make(chan struct{}),
	}
}

// SendFrame queues a frame. When the queue is full the oldest pending frame
// is dropped.
func (f *FrameBuffer) SendFrame(frame image.Image) error {
	select {
	case <-f.closeChan:
		return ErrBufferClosed
	default:
	}

	select {
	case f.frameChan <- frame:
		return nil
	default:
		select {
		case <-f.frameChan:
		default:
		}

		select {
		case f.frameChan <- frame:
			return nil
		default:
			return ErrFailedToAddFrameAfterDrop
		}
	}
}

// Ready reports whether a frame has arrived and the buffer is open.
func (f *FrameBuffer) Ready() bool {
	select {
	case <-f.closeChan:
		return false
	default:
	}
	f.latch()

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.current != nil
}

// Image returns the newest frame, skipping any stale ones still queued.
func (f *FrameBuffer) Image() image.Image {
	f.latch()

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.current
}

func (f *FrameBuffer) latch() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for {
		select {
		case img := <-f.frameChan:
			f.current = img
		default:
			return
		}
	}
}

// Close stops accepting frames and makes the layer unready.
func (f *FrameBuffer) Close() error {
	f.closeOnce.Do(func() {
		close(f.closeChan)
	})

	return nil
}
