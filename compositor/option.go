// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package compositor

import (
	"time"

	"github.com/pion/logging"
)

// Ticker delivers tick timestamps to the draw loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

func (t timeTicker) C() <-chan time.Time {
	return t.t.C
}

func (t timeTicker) Stop() {
	t.t.Stop()
}

// Option configures a Compositor.
type Option func(*Compositor) error

// WithTicker replaces the ticker factory driving the draw loop.
func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(c *Compositor) error {
		c.newTicker = newTicker

		return nil
	}
}

// WithClock sets the clock read when the loop starts. Tick timestamps come
// from the ticker.
func WithClock(now func() time.Time) Option {
	return func(c *Compositor) error {
		if now == nil {
			return ErrInvalidClock
		}
		c.now = now

		return nil
	}
}

// WithLoggerFactory sets the logger factory.
func WithLoggerFactory(f logging.LoggerFactory) Option {
	return func(c *Compositor) error {
		c.log = f.NewLogger("compositor")

		return nil
	}
}
