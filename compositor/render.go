// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package compositor

import (
	"fmt"
	"image"
	"image/draw"
	"math"
	"time"

	xdraw "golang.org/x/image/draw"
)

// RenderFrame composites one frame stamped ts. The draw loop calls it for
// every tick; hosts with their own frame scheduling may call it directly.
// It reports false when the compositor is stopped.
func (c *Compositor) RenderFrame(ts time.Time) bool {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()
	if c.back == nil {
		return false
	}

	c.tick(ts)

	draw.Draw(c.back, c.back.Rect, image.Black, image.Point{}, draw.Src)

	var failures uint64
	for slot, src := range c.snapshotLayers() {
		if src == nil {
			continue
		}
		if err := c.drawLayer(src); err != nil {
			failures++
			c.log.Debugf("skipping %s layer: %v", Slot(slot), err)
		}
	}

	c.frameMu.Lock()
	if c.front != nil {
		copy(c.front.Pix, c.back.Pix)
	}
	c.frameMu.Unlock()

	c.statsMu.Lock()
	c.counters.Frames++
	c.counters.LayerFailures += failures
	c.statsMu.Unlock()

	return true
}

// tick updates the rolling fps and the drop counter. A tick is a drop when
// its delta exceeds 1.2 nominal intervals.
func (c *Compositor) tick(ts time.Time) {
	delta := ts.Sub(c.lastTick)
	c.lastTick = ts

	c.windowCount++
	elapsed := ts.Sub(c.windowStart)

	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	if delta > c.dropThreshold {
		c.counters.DroppedFrames++
	}
	if elapsed >= time.Second {
		c.counters.FPS = int(math.Round(float64(c.windowCount) * float64(time.Second) / float64(elapsed)))
		c.windowCount = 0
		c.windowStart = ts
	}
}

type layerPanic struct {
	value any
}

func (p layerPanic) Error() string {
	return fmt.Sprintf("layer panicked: %v", p.value)
}

// drawLayer draws one ready layer. A panicking source is reported as an
// error so the remaining layers still get drawn.
func (c *Compositor) drawLayer(src Source) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = layerPanic{value: r}
		}
	}()

	if !src.Ready() {
		return nil
	}
	img := src.Image()
	if img == nil || img.Bounds().Empty() {
		return nil
	}

	sb := img.Bounds()
	if sb.Size() == c.back.Rect.Size() {
		draw.Draw(c.back, c.back.Rect, img, sb.Min, draw.Over)

		return nil
	}
	xdraw.ApproxBiLinear.Scale(c.back, coverRect(c.back.Rect, sb), img, sb, xdraw.Over, nil)

	return nil
}

// coverRect scales src to fill dst while keeping its aspect ratio, centered.
// The result may overflow dst; the overflow is cropped when drawing.
func coverRect(dst, src image.Rectangle) image.Rectangle {
	w, h := float64(dst.Dx()), float64(dst.Dy())
	sw, sh := float64(src.Dx()), float64(src.Dy())
	scale := math.Max(w/sw, h/sh)

	dw := int(math.Round(sw * scale))
	dh := int(math.Round(sh * scale))
	x := dst.Min.X + (dst.Dx()-dw)/2
	y := dst.Min.Y + (dst.Dy()-dh)/2

	return image.Rect(x, y, x+dw, y+dh)
}
