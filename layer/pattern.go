// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package layer

import (
	"image"
	"image/color"
	"sync"
)

// TestPattern is an animated gradient that advances one step per drawn
// frame. It stands in for a rendered scene.
type TestPattern struct {
	mu    sync.Mutex
	img   *image.RGBA
	frame int
}

// NewTestPattern creates a width×height pattern.
func NewTestPattern(width, height int) *TestPattern {
	return &TestPattern{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

// Ready implements compositor.Source.
func (p *TestPattern) Ready() bool {
	return true
}

// Image renders the next pattern frame. The returned image is reused by the
// following call.
func (p *TestPattern) Image() image.Image {
	p.mu.Lock()
	defer p.mu.Unlock()

	width, height := p.img.Rect.Dx(), p.img.Rect.Dy()
	offset := p.frame % 255
	p.frame++

	for yPos := 0; yPos < height; yPos++ {
		//nolint:gosec // bounded by 255
		g := uint8(min(((yPos+offset)*255)/height, 255))
		for xPos := 0; xPos < width; xPos++ {
			//nolint:gosec // bounded by 255
			r := uint8(min(((xPos+offset)*255)/width, 255))
			//nolint:gosec // bounded by 255
			b := uint8((128 + offset) % 255)
			p.img.SetRGBA(xPos, yPos, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}

	return p.img
}

// Frame returns how many frames were rendered.
func (p *TestPattern) Frame() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.frame
}
