// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package codecs registers the libvpx and libopus encoders with a muxer
// runtime. It needs cgo and the native libraries.
package codecs

import (
	"fmt"

	"github.com/pion/mediadevices/pkg/codec"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/timemachine/muxer"
	"github.com/pion/webrtc/v4"
)

// Options registers VP8, VP9 and Opus.
func Options() []muxer.Option {
	return []muxer.Option{
		muxer.WithVideoCodec(webrtc.MimeTypeVP9, VP9),
		muxer.WithVideoCodec(webrtc.MimeTypeVP8, VP8),
		muxer.WithAudioCodec(webrtc.MimeTypeOpus, Opus),
	}
}

// VP8 builds a libvpx VP8 encoder.
func VP8(bitrate int) (codec.VideoEncoderBuilder, error) {
	params, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("failed to create VP8 encoder: %w", err)
	}
	params.BitRate = bitrate

	return &params, nil
}

// VP9 builds a libvpx VP9 encoder.
func VP9(bitrate int) (codec.VideoEncoderBuilder, error) {
	params, err := vpx.NewVP9Params()
	if err != nil {
		return nil, fmt.Errorf("failed to create VP9 encoder: %w", err)
	}
	params.BitRate = bitrate

	return &params, nil
}

// Opus builds a libopus encoder.
func Opus(bitrate int) (codec.AudioEncoderBuilder, error) {
	params, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("failed to create Opus encoder: %w", err)
	}
	params.BitRate = bitrate

	return &params, nil
}
