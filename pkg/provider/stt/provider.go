// Package stt defines the Provider interface for speech-to-text backends.
//
// A provider receives one finished audio artifact plus a language hint and
// returns its text, or a typed failure. The taxonomy is deliberately small:
//
//   - [ErrOversized]: the artifact exceeds the provider's upload limit.
//   - [ErrUnsupportedFormat]: the provider cannot read the container/codec.
//   - [*HTTPError]: any other non-success response from a remote service.
//
// Callers match with errors.Is / errors.As; an [*HTTPError] with status 413 or
// 415 also matches the corresponding sentinel.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/voicebank/pkg/audio"
)

var (
	// ErrOversized is returned when the audio exceeds the provider's size
	// limit.
	ErrOversized = errors.New("stt: audio too large")

	// ErrUnsupportedFormat is returned when the provider cannot read the audio
	// container or codec.
	ErrUnsupportedFormat = errors.New("stt: unsupported audio format")
)

// HTTPError reports a non-success response from a remote transcription
// service.
type HTTPError struct {
	// Provider names the backend, e.g. "openai".
	Provider string

	StatusCode int

	// Body holds at most the first few hundred bytes of the response body.
	Body string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s: HTTP %d %s", e.Provider, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unwrap maps 413 and 415 responses to [ErrOversized] and
// [ErrUnsupportedFormat].
func (e *HTTPError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusRequestEntityTooLarge:
		return ErrOversized
	case http.StatusUnsupportedMediaType:
		return ErrUnsupportedFormat
	default:
		return nil
	}
}

// maxErrorBody caps the response excerpt kept in an [HTTPError].
const maxErrorBody = 512

// NewHTTPError builds an [*HTTPError], trimming body to a short excerpt.
func NewHTTPError(provider string, status int, body []byte) *HTTPError {
	b := strings.TrimSpace(string(body))
	if len(b) > maxErrorBody {
		b = b[:maxErrorBody] + "…"
	}
	return &HTTPError{Provider: provider, StatusCode: status, Body: b}
}

// Request is one transcription call.
type Request struct {
	// Audio is the artifact to transcribe, normally the canonical 16 kHz mono
	// WAV produced by the pipeline.
	Audio audio.Blob

	// Language is a BCP-47 hint such as "en" or "de-DE". Empty lets the
	// provider detect the language where supported.
	Language string
}

// Transcript is the result of a transcription.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Language is the language the provider detected or used. May be empty.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64

	// Duration is the length of the transcribed audio as reported by the
	// provider. May be zero.
	Duration time.Duration

	// Words contains per-word detail when available.
	Words []WordDetail
}

// WordDetail holds per-word metadata from providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe sends req.Audio to the backend and returns its text. An empty
	// Text with a nil error means the backend heard no speech.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}

// CheckSize returns an error wrapping [ErrOversized] when blob is larger than
// limit bytes. A non-positive limit disables the check.
func CheckSize(provider string, blob audio.Blob, limit int) error {
	if limit > 0 && blob.Size() > limit {
		return fmt.Errorf("%s: %d bytes exceed limit of %d: %w", provider, blob.Size(), limit, ErrOversized)
	}
	return nil
}
