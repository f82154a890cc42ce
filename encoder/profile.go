// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package encoder

import (
	"fmt"
	"strings"
)

const (
	// DefaultVideoBitrate is the pinned video bitrate, 15 Mbps.
	DefaultVideoBitrate = 15_000_000
	// DefaultAudioBitrate is the pinned audio bitrate, 128 kbps.
	DefaultAudioBitrate = 128_000
	// ContainerMimeType is the container every profile records into.
	ContainerMimeType = "video/webm"
)

// Profile is one codec/bitrate candidate tried during negotiation.
type Profile struct {
	MimeType     string `json:"mimeType" mapstructure:"mime_type"`
	VideoBitrate int    `json:"videoBitrate,omitempty" mapstructure:"video_bitrate"`
	AudioBitrate int    `json:"audioBitrate,omitempty" mapstructure:"audio_bitrate"`
}

func (p Profile) String() string {
	var b strings.Builder
	b.WriteString(p.MimeType)
	if p.VideoBitrate > 0 {
		fmt.Fprintf(&b, " video=%dbps", p.VideoBitrate)
	}
	if p.AudioBitrate > 0 {
		fmt.Fprintf(&b, " audio=%dbps", p.AudioBitrate)
	}

	return b.String()
}

// DefaultProfiles is the candidate list from most to least constrained:
// VP9 with Opus, VP9 alone, then the bare container.
func DefaultProfiles(videoBitrate, audioBitrate int) []Profile {
	return []Profile{
		{MimeType: "video/webm;codecs=vp9,opus", VideoBitrate: videoBitrate, AudioBitrate: audioBitrate},
		{MimeType: "video/webm;codecs=vp9", VideoBitrate: videoBitrate},
		{MimeType: ContainerMimeType, VideoBitrate: videoBitrate},
	}
}

// ParseMimeType splits a profile mime type into its media type and codec
// list, e.g. "video/webm;codecs=vp9,opus" gives "video/webm" and
// ["vp9", "opus"]. The codecs parameter may be quoted.
func ParseMimeType(mimeType string) (string, []string) {
	parts := strings.Split(mimeType, ";")
	mediaType := strings.ToLower(strings.TrimSpace(parts[0]))

	var codecs []string
	for _, param := range parts[1:] {
		key, value, ok := strings.Cut(param, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "codecs") {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		for _, c := range strings.Split(value, ",") {
			if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
				codecs = append(codecs, c)
			}
		}
	}

	return mediaType, codecs
}

var audioCodecs = map[string]bool{"opus": true, "vorbis": true}

// PinsAudio reports whether mimeType names an audio codec.
func PinsAudio(mimeType string) bool {
	_, codecs := ParseMimeType(mimeType)
	for _, c := range codecs {
		if audioCodecs[c] {
			return true
		}
	}

	return false
}
