// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package stats

import "fmt"

const (
	// DefaultTargetBitrate is the 15 Mbps recording target.
	DefaultTargetBitrate = 15_000_000
	// DefaultTolerance is the minimum accepted ratio for VBR output.
	DefaultTolerance = 0.6
	// deterministicRatio marks output that tracks the target closely.
	deterministicRatio = 0.9
)

// Level grades a measured bitrate.
type Level int

// Bitrate levels.
const (
	LevelFail Level = iota
	LevelVBR
	LevelDeterministic
)

func (l Level) String() string {
	switch l {
	case LevelFail:
		return "fail"
	case LevelVBR:
		return "vbr"
	case LevelDeterministic:
		return "deterministic"
	default:
		return "unknown"
	}
}

// Verdict is the outcome of VerifyBitrate.
type Verdict struct {
	Measured int64   `json:"measured"`
	Target   int64   `json:"target"`
	Ratio    float64 `json:"ratio"`
	Pass     bool    `json:"pass"`
	Level    Level   `json:"level"`
}

func (v Verdict) String() string {
	result := "FAIL"
	if v.Pass {
		result = "PASS"
	}

	return fmt.Sprintf("%s: encoded bitrate %.2f Mbps (target %.0f Mbps, ratio %.2f, %s)",
		result, float64(v.Measured)/1e6, float64(v.Target)/1e6, v.Ratio, v.Level)
}

// VerifyBitrate compares a measured bitrate with target. It passes when the
// ratio reaches tolerance.
func VerifyBitrate(measured, target int64, tolerance float64) Verdict {
	v := Verdict{Measured: measured, Target: target}
	if target > 0 {
		v.Ratio = float64(measured) / float64(target)
	}

	v.Pass = target > 0 && v.Ratio >= tolerance
	switch {
	case !v.Pass:
		v.Level = LevelFail
	case v.Ratio >= deterministicRatio:
		v.Level = LevelDeterministic
	default:
		v.Level = LevelVBR
	}

	return v
}
