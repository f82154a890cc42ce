// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package muxer

// isKeyframe inspects the first bytes of an encoded video frame.
func isKeyframe(codecName string, frame []byte) bool {
	switch codecName {
	case "vp8":
		return vp8Keyframe(frame)
	case "vp9":
		return vp9Keyframe(frame)
	case "av1":
		return av1Keyframe(frame)
	default:
		return false
	}
}

// vp8Keyframe reads the frame tag: bit 0 is 0 for key frames.
func vp8Keyframe(frame []byte) bool {
	return len(frame) > 0 && frame[0]&0x01 == 0
}

// vp9Keyframe reads the uncompressed header: frame_marker(2),
// profile_low_bit, profile_high_bit, reserved_zero for profile 3,
// show_existing_frame, then frame_type where 0 is a key frame.
func vp9Keyframe(frame []byte) bool {
	if len(frame) == 0 {
		return false
	}
	b := frame[0]
	bit := func(i int) byte {
		return (b >> (7 - i)) & 0x01
	}

	if b>>6 != 0x02 {
		return false
	}
	profile := bit(2) | bit(3)<<1
	idx := 4
	if profile == 3 {
		idx++
	}
	if bit(idx) == 1 {
		return false
	}

	return bit(idx+1) == 0
}

const av1OBUSequenceHeader = 1

// av1Keyframe reports whether the temporal unit carries a sequence header,
// which encoders emit with every key frame.
func av1Keyframe(frame []byte) bool {
	for len(frame) > 0 {
		header := frame[0]
		obuType := (header >> 3) & 0x0f
		if obuType == av1OBUSequenceHeader {
			return true
		}

		n := 1
		if header&0x04 != 0 {
			n++
		}
		if header&0x02 == 0 || len(frame) < n {
			return false
		}
		size, l := leb128(frame[n:])
		if l == 0 || size > uint64(len(frame)-n-l) {
			return false
		}
		frame = frame[n+l+int(size):]
	}

	return false
}

func leb128(b []byte) (uint64, int) {
	var value uint64
	for i := 0; i < 8 && i < len(b); i++ {
		value |= uint64(b[i]&0x7f) << (7 * i)
		if b[i]&0x80 == 0 {
			return value, i + 1
		}
	}

	return 0, 0
}
