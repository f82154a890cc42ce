// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package layer provides compositor layer sources.
package layer

import (
	"image"
	"sync"
)

// Image is a still layer. It is ready whenever it holds an image.
type Image struct {
	mu  sync.RWMutex
	img image.Image
}

// NewImage returns a layer showing img.
func NewImage(img image.Image) *Image {
	return &Image{img: img}
}

// Set replaces the image. A nil image makes the layer unready.
func (l *Image) Set(img image.Image) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.img = img
}

// Ready implements compositor.Source.
func (l *Image) Ready() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.img != nil
}

// Image implements compositor.Source.
func (l *Image) Image() image.Image {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.img
}
