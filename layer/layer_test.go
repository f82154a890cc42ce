//go:build !js
// +build !js

// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package layer

import (
	"image"
	"image/color"
	"testing"

	"github.com/pion/timemachine/compositor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ compositor.Source = (*Image)(nil)
	_ compositor.Source = (*FrameBuffer)(nil)
	_ compositor.Source = (*TestPattern)(nil)
)

func solid(c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}

	return img
}

func TestImage(t *testing.T) {
	l := NewImage(nil)
	assert.False(t, l.Ready())

	img := solid(color.RGBA{R: 1, A: 255})
	l.Set(img)
	assert.True(t, l.Ready())
	assert.Same(t, img, l.Image())
}

func TestFrameBuffer_NotReadyUntilFirstFrame(t *testing.T) {
	fb := NewFrameBuffer(2)
	defer func() { _ = fb.Close() }()

	assert.False(t, fb.Ready())
	assert.Nil(t, fb.Image())

	img := solid(color.RGBA{G: 9, A: 255})
	require.NoError(t, fb.SendFrame(img))
	assert.True(t, fb.Ready())
	assert.Same(t, img, fb.Image())

	// The last frame stays current until a newer one arrives.
	assert.Same(t, img, fb.Image())
}

func TestFrameBuffer_LatestWins(t *testing.T) {
	fb := NewFrameBuffer(0)
	defer func() { _ = fb.Close() }()

	var last *image.RGBA
	for i := range 10 {
		last = solid(color.RGBA{R: uint8(i), A: 255})
		assert.NoError(t, fb.SendFrame(last))
	}

	assert.Same(t, last, fb.Image())
}

func TestFrameBuffer_Close(t *testing.T) {
	fb := NewFrameBuffer(2)
	require.NoError(t, fb.SendFrame(solid(color.RGBA{A: 255})))
	require.NoError(t, fb.Close())
	require.NoError(t, fb.Close())

	assert.False(t, fb.Ready())
	assert.ErrorIs(t, fb.SendFrame(solid(color.RGBA{A: 255})), ErrBufferClosed)
}

func TestTestPattern(t *testing.T) {
	p := NewTestPattern(16, 8)
	assert.True(t, p.Ready())

	first := p.Image().(*image.RGBA)
	firstPixel := first.RGBAAt(3, 3)
	second := p.Image().(*image.RGBA)

	assert.Equal(t, 2, p.Frame())
	assert.Equal(t, image.Rect(0, 0, 16, 8), second.Rect)
	assert.NotEqual(t, firstPixel, second.RGBAAt(3, 3))
	assert.Equal(t, uint8(255), second.RGBAAt(0, 0).A)
}
