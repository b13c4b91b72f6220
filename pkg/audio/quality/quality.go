// Package quality computes loudness metrics over a [audio.SampleBuffer] and
// classifies a recording as acceptable or not.
//
// Validation distinguishes hard rules, which make a recording invalid, from
// soft advisories, which only add a warning. Warnings are always emitted in the
// same order so callers can rely on them for display and assertions:
// duration, loudness, clipping, microphone proximity.
package quality

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/voicebank/pkg/audio"
)

// Warning prefixes. Every warning string produced by [Validate] starts with
// exactly one of these.
const (
	WarnTooShort  = "recording too short"
	WarnTooLong   = "recording too long"
	WarnTooQuiet  = "audio too quiet"
	WarnClipping  = "possible clipping"
	WarnProximity = "tip: speak closer to the microphone"
)

// Thresholds configures the validation rules.
type Thresholds struct {
	// MinDuration is the shortest acceptable recording (hard rule).
	MinDuration time.Duration `yaml:"min_duration"`

	// MaxDuration is the longest acceptable recording (hard rule).
	MaxDuration time.Duration `yaml:"max_duration"`

	// MinRMS is the quietest acceptable RMS level (hard rule).
	MinRMS float64 `yaml:"min_rms"`

	// ClipPeak is the peak level at or above which clipping is reported
	// (advisory).
	ClipPeak float64 `yaml:"clip_peak"`

	// ProximityRMS is the RMS level below which an acceptable recording gets a
	// proximity tip (advisory).
	ProximityRMS float64 `yaml:"proximity_rms"`
}

// DefaultThresholds returns the standard rule set: 1–30 s, RMS ≥ 0.01,
// clipping at 0.98, proximity tip below 0.05.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinDuration:  time.Second,
		MaxDuration:  30 * time.Second,
		MinRMS:       0.01,
		ClipPeak:     0.98,
		ProximityRMS: 0.05,
	}
}

// Validate checks that the thresholds are self-consistent.
func (t Thresholds) Validate() error {
	var errs []error
	if t.MinDuration < 0 {
		errs = append(errs, fmt.Errorf("quality: min_duration must be non-negative, got %s", t.MinDuration))
	}
	if t.MaxDuration <= 0 {
		errs = append(errs, fmt.Errorf("quality: max_duration must be positive, got %s", t.MaxDuration))
	} else if t.MaxDuration < t.MinDuration {
		errs = append(errs, fmt.Errorf("quality: max_duration %s is below min_duration %s", t.MaxDuration, t.MinDuration))
	}
	if t.MinRMS < 0 {
		errs = append(errs, fmt.Errorf("quality: min_rms must be non-negative, got %g", t.MinRMS))
	}
	if t.ClipPeak <= 0 {
		errs = append(errs, fmt.Errorf("quality: clip_peak must be positive, got %g", t.ClipPeak))
	}
	if t.ProximityRMS < t.MinRMS {
		errs = append(errs, fmt.Errorf("quality: proximity_rms %g is below min_rms %g", t.ProximityRMS, t.MinRMS))
	}
	return errors.Join(errs...)
}

// Verdict is the outcome of [Validate]. Valid is false if and only if a hard
// rule failed; Warnings may be non-empty either way.
type Verdict struct {
	Valid    bool
	Warnings []string
}

// Analyze computes duration, RMS and peak over channel 0 of buf, which is
// taken as the representative signal. SizeBytes is left zero.
//
// RMSLevel never exceeds PeakLevel.
func Analyze(buf audio.SampleBuffer) audio.AudioMetrics {
	m := audio.AudioMetrics{
		Duration:   buf.Duration(),
		SampleRate: buf.SampleRate,
		Channels:   buf.NumChannels(),
	}
	if buf.NumChannels() == 0 || buf.Frames() == 0 {
		return m
	}

	var sum, peak float64
	for _, s := range buf.Channels[0] {
		v := float64(s)
		sum += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	rms := math.Sqrt(sum / float64(len(buf.Channels[0])))

	m.PeakLevel = peak
	// Rounding in the mean can push a constant signal's RMS a hair over its peak.
	m.RMSLevel = math.Min(rms, peak)
	return m
}

// Validate applies t to m. It is a pure function of its arguments.
func Validate(m audio.AudioMetrics, t Thresholds) Verdict {
	v := Verdict{Valid: true}

	switch {
	case m.Duration < t.MinDuration:
		v.Valid = false
		v.Warnings = append(v.Warnings, fmt.Sprintf("%s: %.1fs, minimum is %.1fs", WarnTooShort, m.Seconds(), t.MinDuration.Seconds()))
	case m.Duration > t.MaxDuration:
		v.Valid = false
		v.Warnings = append(v.Warnings, fmt.Sprintf("%s: %.1fs, maximum is %.1fs", WarnTooLong, m.Seconds(), t.MaxDuration.Seconds()))
	}

	if m.RMSLevel < t.MinRMS {
		v.Valid = false
		v.Warnings = append(v.Warnings, WarnTooQuiet)
	}

	if m.PeakLevel >= t.ClipPeak {
		v.Warnings = append(v.Warnings, WarnClipping)
	}

	if m.RMSLevel >= t.MinRMS && m.RMSLevel < t.ProximityRMS {
		v.Warnings = append(v.Warnings, WarnProximity)
	}

	return v
}
