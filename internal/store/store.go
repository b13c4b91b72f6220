// Package store persists consented voice submissions.
//
// A [Submission] is the tuple handed to the persistence backend after
// normalisation: the encoded audio, its format and duration, the consent flags
// the user gave, and optionally a transcript. [NewSubmission] derives that
// tuple from an [audio.ProcessingResult] and refuses to build one without
// training consent, so unconsented audio never reaches a [Store].
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voicebank/pkg/audio"
)

var (
	// ErrConsentRequired is returned when a submission lacks training consent.
	ErrConsentRequired = errors.New("store: training consent required")

	// ErrNotFound is returned by [Store.Get] for an unknown ID.
	ErrNotFound = errors.New("store: submission not found")

	// ErrInvalidSubmission is returned for submissions that are missing audio
	// or an ID.
	ErrInvalidSubmission = errors.New("store: invalid submission")
)

// Consent records what the contributor agreed to.
type Consent struct {
	// Training allows the audio to be used to train speech models. Required
	// for persistence.
	Training bool

	// Storage allows the audio to be retained beyond the training export.
	Storage bool
}

// Submission is one persisted recording or upload.
type Submission struct {
	ID uuid.UUID

	// Audio is the encoded artifact, normally canonical 16 kHz mono WAV.
	Audio []byte

	// Format is the MIME type of Audio.
	Format string

	DurationMs int64
	SampleRate int
	Channels   int
	RMSLevel   float64
	PeakLevel  float64

	Consent Consent

	// Language is the BCP-47 hint the contributor supplied. May be empty.
	Language string

	// Transcript is filled when transcription was requested and succeeded.
	Transcript string

	// Validated mirrors ProcessingResult.IsValid; Unvalidated is set for
	// passthrough and fallback artifacts whose quality was never measured.
	Validated   bool
	Unvalidated bool
	Warnings    []string

	// CreatedAt is assigned by the store on Save.
	CreatedAt time.Time
}

// NewSubmission builds a Submission from a processing result. It returns
// [ErrConsentRequired] when consent.Training is false and
// [ErrInvalidSubmission] when the result carries no audio.
func NewSubmission(result audio.ProcessingResult, consent Consent) (*Submission, error) {
	if !consent.Training {
		return nil, ErrConsentRequired
	}
	if result.Blob.Size() == 0 {
		return nil, fmt.Errorf("%w: empty audio", ErrInvalidSubmission)
	}
	format := result.Blob.MIMEType
	if format == "" {
		format = audio.MIMETypeWAV
	}
	return &Submission{
		ID:          uuid.New(),
		Audio:       result.Blob.Data,
		Format:      format,
		DurationMs:  result.Metrics.Duration.Milliseconds(),
		SampleRate:  result.Metrics.SampleRate,
		Channels:    result.Metrics.Channels,
		RMSLevel:    result.Metrics.RMSLevel,
		PeakLevel:   result.Metrics.PeakLevel,
		Consent:     consent,
		Validated:   result.IsValid,
		Unvalidated: result.Unvalidated,
		Warnings:    append([]string(nil), result.Warnings...),
	}, nil
}

// Validate checks the invariants every store enforces before writing.
func (s *Submission) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil", ErrInvalidSubmission)
	}
	if !s.Consent.Training {
		return ErrConsentRequired
	}
	if s.ID == uuid.Nil {
		return fmt.Errorf("%w: missing id", ErrInvalidSubmission)
	}
	if len(s.Audio) == 0 {
		return fmt.Errorf("%w: empty audio", ErrInvalidSubmission)
	}
	return nil
}

// Store persists submissions. Implementations must be safe for concurrent use.
type Store interface {
	// Save writes sub and sets sub.CreatedAt. It re-checks consent.
	Save(ctx context.Context, sub *Submission) error

	// Get returns the submission with the given ID or [ErrNotFound].
	Get(ctx context.Context, id uuid.UUID) (*Submission, error)

	// Delete removes a submission. Deleting an unknown ID is not an error.
	Delete(ctx context.Context, id uuid.UUID) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}
