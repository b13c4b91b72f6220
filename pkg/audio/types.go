package audio

import (
	"errors"
	"fmt"
	"time"
)

const (
	// CanonicalSampleRate is the sample rate every normalised artifact is
	// delivered at (16 kHz, the native rate of most STT models).
	CanonicalSampleRate = 16000

	// CanonicalChannels is the channel count of every normalised artifact.
	CanonicalChannels = 1

	// MIMETypeWAV is the MIME type attached to blobs produced by [EncodeWAV].
	MIMETypeWAV = "audio/wav"
)

// Canonical is the target format of the normalisation pipeline.
var Canonical = Format{SampleRate: CanonicalSampleRate, Channels: CanonicalChannels}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "48000Hz stereo".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// Blob is an opaque encoded audio artifact: a compressed capture, an uploaded
// file, or a WAV produced by [EncodeWAV].
type Blob struct {
	// Data holds the encoded bytes.
	Data []byte

	// MIMEType describes the container/codec of Data (e.g. "audio/wav",
	// "audio/ogg;codecs=opus", "audio/pcm;rate=48000;channels=1").
	MIMEType string
}

// Size returns the number of encoded bytes.
func (b Blob) Size() int { return len(b.Data) }

// SampleBuffer is decoded audio as per-channel float32 samples. Samples are
// nominally in [-1.0, 1.0] but may transiently exceed that range before the
// encoder clamps them.
//
// SampleBuffer is a value type: every operation in this module returns a new
// buffer and never writes into the Channels of its input.
type SampleBuffer struct {
	// SampleRate in Hz.
	SampleRate int

	// Channels holds one slice per channel. Every slice has the same length.
	Channels [][]float32
}

// NumChannels returns the number of channels in the buffer.
func (b SampleBuffer) NumChannels() int { return len(b.Channels) }

// Frames returns the number of frames (samples per channel).
func (b SampleBuffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length of the buffer.
func (b SampleBuffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(b.Frames()) / float64(b.SampleRate) * float64(time.Second))
}

// Seconds returns the playback length in seconds as a float.
func (b SampleBuffer) Seconds() float64 {
	if b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Format returns the buffer's sample rate and channel count.
func (b SampleBuffer) Format() Format {
	return Format{SampleRate: b.SampleRate, Channels: b.NumChannels()}
}

// Validate reports whether b is well-formed: a positive sample rate, at least
// one channel, and equal-length channels.
func (b SampleBuffer) Validate() error {
	if b.SampleRate <= 0 {
		return fmt.Errorf("audio: invalid sample rate %d", b.SampleRate)
	}
	if len(b.Channels) == 0 {
		return errors.New("audio: buffer has no channels")
	}
	n := len(b.Channels[0])
	for c, ch := range b.Channels[1:] {
		if len(ch) != n {
			return fmt.Errorf("audio: channel %d has %d frames, want %d", c+1, len(ch), n)
		}
	}
	return nil
}

// NewSampleBuffer allocates a zeroed buffer with the given shape.
func NewSampleBuffer(sampleRate, channels, frames int) SampleBuffer {
	chs := make([][]float32, channels)
	for c := range chs {
		chs[c] = make([]float32, frames)
	}
	return SampleBuffer{SampleRate: sampleRate, Channels: chs}
}

// AudioMetrics summarises a SampleBuffer. RMSLevel never exceeds PeakLevel.
// SizeBytes is the size of the encoded artifact and is zero until the buffer
// has been encoded.
type AudioMetrics struct {
	Duration   time.Duration
	SampleRate int
	Channels   int
	RMSLevel   float64
	PeakLevel  float64
	SizeBytes  int
}

// Seconds returns Duration in seconds.
func (m AudioMetrics) Seconds() float64 { return m.Duration.Seconds() }

// ProcessingResult is the outcome of normalising one recording or upload.
//
// IsValid is false if and only if a hard quality rule failed; Warnings may be
// non-empty on valid results. Callers must check IsValid explicitly.
type ProcessingResult struct {
	Blob     Blob
	Metrics  AudioMetrics
	IsValid  bool
	Warnings []string

	// Converted is true when the blob went through decode/resample/encode and
	// false when an already-canonical upload was passed through untouched.
	Converted bool

	// Unvalidated is set when the quality rules were not applied to Blob, either
	// because of the passthrough fast path or because the pipeline failed and
	// the original bytes were forwarded as a fallback.
	Unvalidated bool
}

// Device is an audio input device as reported by a [Platform].
type Device struct {
	// ID is the platform-specific identifier passed back to [Platform.Open].
	ID string

	// Label is the human-readable name. Platforms may return empty labels until
	// the user has granted microphone permission.
	Label string

	// Default marks the system default input.
	Default bool
}
