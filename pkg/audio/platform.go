// Package audio defines the sample-buffer model, the numeric core of the
// normalisation pipeline, and the host capability interfaces used for capture
// and decode.
//
// The numeric core is pure and portable:
//
//   - [Resample] converts a [SampleBuffer] to a target rate and channel count.
//   - [EncodeWAV] serialises a buffer as canonical 16-bit PCM WAV.
//   - [LevelFromBins] turns analyser magnitudes into a 0–100 meter value.
//
// Everything host-specific sits behind [Platform]:
//
//   - [Platform] enumerates inputs, opens an [InputStream], decodes blobs, and
//     creates [Analyzer] nodes for level metering.
//   - [InputStream] is an exclusively-owned microphone handle that can start a
//     chunked [Recorder].
//
// Implementations are provided by adapter packages (audio/miniaudio for
// desktop capture). This package lives under pkg/ because third-party hosts are
// expected to implement [Platform].
package audio

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermissionDenied is returned by [Platform.Open] when the user or the
	// OS refused microphone access.
	ErrPermissionDenied = errors.New("audio: microphone permission denied")

	// ErrDeviceNotFound is returned by [Platform.Open] when the requested input
	// device does not exist or cannot be acquired.
	ErrDeviceNotFound = errors.New("audio: input device unavailable")

	// ErrStreamClosed is returned when a closed [InputStream] is used.
	ErrStreamClosed = errors.New("audio: stream closed")
)

// RecorderState is the hardware-level state reported by a [Recorder].
type RecorderState int

const (
	// RecorderInactive means the recorder is not capturing (never started, or
	// finalised).
	RecorderInactive RecorderState = iota

	// RecorderRecording means the recorder is actively capturing.
	RecorderRecording
)

// String returns the human-readable name of the state.
func (s RecorderState) String() string {
	switch s {
	case RecorderInactive:
		return "inactive"
	case RecorderRecording:
		return "recording"
	default:
		return "unknown"
	}
}

// Recorder is a chunked recorder attached to an [InputStream].
//
// Chunks are delivered on a channel every timeslice so that data is flushed
// periodically rather than only at stop. Concatenating all chunks in order
// yields a blob of type MIMEType.
type Recorder interface {
	// Chunks returns the channel of recorded data. The channel is closed once
	// the recorder has been finalised and every buffered chunk was delivered.
	// Empty chunks may be delivered and should be ignored.
	Chunks() <-chan []byte

	// MIMEType returns the type of the concatenated chunk data.
	MIMEType() string

	// State reports the actual recorder state. Callers must consult this
	// rather than cached UI state before requesting a stop.
	State() RecorderState

	// Stop requests finalisation. It returns immediately; completion is
	// signalled by the Chunks channel closing. Calling Stop on an inactive
	// recorder is a no-op.
	Stop() error

	// Err returns the error that terminated the recorder abnormally (device
	// disconnected, driver failure), or nil. Only meaningful after Chunks is
	// closed.
	Err() error
}

// InputStream is an exclusively-owned microphone handle. Only the owner may
// start recorders on it, and only one recorder may be active at a time.
type InputStream interface {
	// Device returns the device the stream was opened on.
	Device() Device

	// Format returns the native capture format.
	Format() Format

	// Record starts a chunked recorder that flushes every timeslice.
	Record(timeslice time.Duration) (Recorder, error)

	// Close releases the hardware handle. Any active recorder is finalised and
	// its Chunks channel closed. Close is idempotent.
	Close() error
}

// Analyzer is a frequency-domain analysis node attached to a live stream.
type Analyzer interface {
	// FrequencyBins writes the current bin magnitudes (0–255 each) into dst,
	// growing it if needed, and returns the filled slice.
	FrequencyBins(dst []byte) []byte

	// Close releases the analysis resources. Close is idempotent.
	Close() error
}

// Platform is the host capability the capture and decode stages depend on.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Devices enumerates audio input devices. Labels may be empty until
	// permission has been granted at least once.
	Devices(ctx context.Context) ([]Device, error)

	// Open acquires the input device identified by deviceID (empty selects
	// the default device), requesting permission first if needed. Returns an
	// error wrapping [ErrPermissionDenied] or [ErrDeviceNotFound] on failure.
	Open(ctx context.Context, deviceID string) (InputStream, error)

	// NewAnalyzer attaches a frequency analyser with the given FFT size to s.
	NewAnalyzer(s InputStream, fftSize int) (Analyzer, error)

	// Decode turns an encoded blob into a SampleBuffer.
	Decode(ctx context.Context, blob Blob) (SampleBuffer, error)
}
