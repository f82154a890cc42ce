// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"strings"

	"github.com/pion/timemachine/chunkbuf"
	"github.com/pion/timemachine/encoder"
	"github.com/pion/timemachine/logging"
)

// ValidationError is a single invalid field.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid field.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "\n  %d. %s", i+1, err.Error())
	}

	return sb.String()
}

// Validate reports every invalid field as ValidationErrors.
func (c *Config) Validate() error {
	var errs ValidationErrors
	add := func(field string, value any, msg string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: msg})
	}

	if c.Compositor.Width <= 0 {
		add("compositor.width", c.Compositor.Width, "must be positive")
	}
	if c.Compositor.Height <= 0 {
		add("compositor.height", c.Compositor.Height, "must be positive")
	}
	if c.Compositor.FPS <= 0 || c.Compositor.FPS > 240 {
		add("compositor.fps", c.Compositor.FPS, "must be between 1 and 240")
	}

	if c.Recorder.MaxAge < 0 {
		add("recorder.max_age", c.Recorder.MaxAge, "must not be negative")
	}
	if c.Recorder.Timeslice < 0 {
		add("recorder.timeslice", c.Recorder.Timeslice, "must not be negative")
	}
	if _, err := chunkbuf.ParsePlacement(c.Recorder.Placement); err != nil {
		add("recorder.placement", c.Recorder.Placement, "must be inline or isolated")
	}
	if c.Recorder.VideoBitrate < 0 {
		add("recorder.video_bitrate", c.Recorder.VideoBitrate, "must not be negative")
	}
	if c.Recorder.AudioBitrate < 0 {
		add("recorder.audio_bitrate", c.Recorder.AudioBitrate, "must not be negative")
	}
	for i, mimeType := range c.Recorder.MimeTypes {
		if container, _ := encoder.ParseMimeType(mimeType); container != encoder.ContainerMimeType {
			add(fmt.Sprintf("recorder.mime_types[%d]", i), mimeType, "must be a video/webm mime type")
		}
	}

	if c.Audio.Enabled && c.Audio.Frequency <= 0 {
		add("audio.frequency", c.Audio.Frequency, "must be positive")
	}

	if c.Stats.Interval <= 0 {
		add("stats.interval", c.Stats.Interval, "must be positive")
	}
	if c.Stats.TargetBitrate < 0 {
		add("stats.target_bitrate", c.Stats.TargetBitrate, "must not be negative")
	}
	if c.Stats.Tolerance <= 0 || c.Stats.Tolerance > 1 {
		add("stats.tolerance", c.Stats.Tolerance, "must be in (0, 1]")
	}

	if c.Export.Prefix == "" {
		add("export.prefix", c.Export.Prefix, "must not be empty")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level", c.Logging.Level, "must be one of disable, error, warn, info, debug, trace")
	}
	for scope, level := range c.Logging.Scopes {
		if _, err := logging.ParseLevel(level); err != nil {
			add("logging.scopes."+scope, level, "unknown log level")
		}
	}

	if len(errs) == 0 {
		return nil
	}

	return errs
}
