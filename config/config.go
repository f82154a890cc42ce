// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package config loads the time machine settings from a YAML file,
// TIMEMACHINE_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pion/timemachine/chunkbuf"
	"github.com/pion/timemachine/compositor"
	"github.com/pion/timemachine/console"
	"github.com/pion/timemachine/encoder"
	"github.com/pion/timemachine/stats"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TIMEMACHINE_RECORDER_MAX_AGE.
const EnvPrefix = "TIMEMACHINE"

// Config is the complete application configuration.
type Config struct {
	Compositor CompositorConfig `mapstructure:"compositor"`
	Recorder   RecorderConfig   `mapstructure:"recorder"`
	Audio      AudioConfig      `mapstructure:"audio"`
	Stats      StatsConfig      `mapstructure:"stats"`
	Export     ExportConfig     `mapstructure:"export"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// CompositorConfig sizes the composited frame.
type CompositorConfig struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
	FPS    int `mapstructure:"fps"`
	// Overlay is an optional PNG or JPEG drawn in the overlay slot.
	Overlay string `mapstructure:"overlay"`
}

// RecorderConfig controls the encoder session and the chunk buffer.
type RecorderConfig struct {
	MaxAge    time.Duration `mapstructure:"max_age"`
	Timeslice time.Duration `mapstructure:"timeslice"`
	// Placement is "inline" or "isolated".
	Placement    string   `mapstructure:"placement"`
	VideoBitrate int      `mapstructure:"video_bitrate"`
	AudioBitrate int      `mapstructure:"audio_bitrate"`
	MimeTypes    []string `mapstructure:"mime_types"`
}

// AudioConfig controls the synthetic tone bus.
type AudioConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	Frequency float64 `mapstructure:"frequency"`
}

// StatsConfig controls the stats server and bitrate verification.
type StatsConfig struct {
	// Addr is the stats server listen address. Empty disables the server.
	Addr          string        `mapstructure:"addr"`
	Interval      time.Duration `mapstructure:"interval"`
	TargetBitrate float64       `mapstructure:"target_bitrate"`
	Tolerance     float64       `mapstructure:"tolerance"`
}

// ExportConfig controls where flushed recordings are written.
type ExportConfig struct {
	Dir    string `mapstructure:"dir"`
	Prefix string `mapstructure:"prefix"`
}

// LoggingConfig controls log level and sinks.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	// File is "", "stdout" or a path.
	File string `mapstructure:"file"`
	// ChunkLog receives one CSV record per ingested chunk.
	ChunkLog string            `mapstructure:"chunk_log"`
	Scopes   map[string]string `mapstructure:"scopes"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cc := compositor.DefaultConfig()

	return &Config{
		Compositor: CompositorConfig{
			Width:  cc.Width,
			Height: cc.Height,
			FPS:    cc.FPS,
		},
		Recorder: RecorderConfig{
			MaxAge:       chunkbuf.DefaultMaxAge,
			Timeslice:    encoder.DefaultTimeslice,
			Placement:    chunkbuf.PlacementIsolated.String(),
			VideoBitrate: encoder.DefaultVideoBitrate,
			AudioBitrate: encoder.DefaultAudioBitrate,
			MimeTypes:    defaultMimeTypes(),
		},
		Audio: AudioConfig{
			Enabled:   true,
			Frequency: 440,
		},
		Stats: StatsConfig{
			Addr:          "",
			Interval:      time.Second,
			TargetBitrate: stats.DefaultTargetBitrate,
			Tolerance:     stats.DefaultTolerance,
		},
		Export: ExportConfig{
			Dir:    ".",
			Prefix: "Replay",
		},
		Logging: LoggingConfig{
			Level:  "info",
			File:   "stdout",
			Scopes: map[string]string{},
		},
	}
}

func defaultMimeTypes() []string {
	profiles := encoder.DefaultProfiles(0, 0)
	mimeTypes := make([]string, 0, len(profiles))
	for _, p := range profiles {
		mimeTypes = append(mimeTypes, p.MimeType)
	}

	return mimeTypes
}

// SetDefaults registers every default on v so that environment overrides
// apply to all keys.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("compositor.width", defaults.Compositor.Width)
	v.SetDefault("compositor.height", defaults.Compositor.Height)
	v.SetDefault("compositor.fps", defaults.Compositor.FPS)
	v.SetDefault("compositor.overlay", defaults.Compositor.Overlay)

	v.SetDefault("recorder.max_age", defaults.Recorder.MaxAge)
	v.SetDefault("recorder.timeslice", defaults.Recorder.Timeslice)
	v.SetDefault("recorder.placement", defaults.Recorder.Placement)
	v.SetDefault("recorder.video_bitrate", defaults.Recorder.VideoBitrate)
	v.SetDefault("recorder.audio_bitrate", defaults.Recorder.AudioBitrate)
	v.SetDefault("recorder.mime_types", defaults.Recorder.MimeTypes)

	v.SetDefault("audio.enabled", defaults.Audio.Enabled)
	v.SetDefault("audio.frequency", defaults.Audio.Frequency)

	v.SetDefault("stats.addr", defaults.Stats.Addr)
	v.SetDefault("stats.interval", defaults.Stats.Interval)
	v.SetDefault("stats.target_bitrate", defaults.Stats.TargetBitrate)
	v.SetDefault("stats.tolerance", defaults.Stats.Tolerance)

	v.SetDefault("export.dir", defaults.Export.Dir)
	v.SetDefault("export.prefix", defaults.Export.Prefix)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.file", defaults.Logging.File)
	v.SetDefault("logging.chunk_log", defaults.Logging.ChunkLog)
	v.SetDefault("logging.scopes", defaults.Logging.Scopes)
}

// ConfigDir returns the directory searched for timemachine.yaml besides the
// working directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "timemachine")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "timemachine")
}

// NewViper returns a viper instance with defaults and environment overrides.
// cfgFile is read when set; otherwise timemachine.yaml is looked up and may
// be absent.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}

		return v, nil
	}

	v.SetConfigName("timemachine")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if dir := ConfigDir(); dir != "" {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	return v, nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Profiles returns the encoder profiles in preference order. The audio
// bitrate is pinned only on mime types naming an audio codec.
func (c *Config) Profiles() []encoder.Profile {
	profiles := make([]encoder.Profile, 0, len(c.Recorder.MimeTypes))
	for _, mimeType := range c.Recorder.MimeTypes {
		p := encoder.Profile{
			MimeType:     mimeType,
			VideoBitrate: c.Recorder.VideoBitrate,
		}
		if encoder.PinsAudio(mimeType) {
			p.AudioBitrate = c.Recorder.AudioBitrate
		}
		profiles = append(profiles, p)
	}

	return profiles
}

// Console converts the configuration into console settings.
func (c *Config) Console() (console.Config, error) {
	placement, err := chunkbuf.ParsePlacement(c.Recorder.Placement)
	if err != nil {
		return console.Config{}, fmt.Errorf("%w: %q", err, c.Recorder.Placement)
	}

	return console.Config{
		Compositor: compositor.Config{
			Width:  c.Compositor.Width,
			Height: c.Compositor.Height,
			FPS:    c.Compositor.FPS,
		},
		MaxAge:    c.Recorder.MaxAge,
		Placement: placement,
		Profiles:  c.Profiles(),
	}, nil
}
