package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/MrWong99/voicebank/internal/pipeline"
	"github.com/MrWong99/voicebank/internal/resilience"
	"github.com/MrWong99/voicebank/internal/store"
	"github.com/MrWong99/voicebank/pkg/audio"
	"github.com/MrWong99/voicebank/pkg/provider/stt"
)

// errBadRequest marks malformed form input.
var errBadRequest = errors.New("bad request")

// errNoTranscriber is returned when transcription was requested but no
// backend is configured.
var errNoTranscriber = errors.New("transcription is not configured")

// Problem is the JSON error body.
type Problem struct {
	// Code is a stable machine-readable identifier.
	Code string `json:"code"`

	// Message tells the user what to do next.
	Message string `json:"message"`

	// Detail is the underlying error text.
	Detail string `json:"detail,omitempty"`
}

// StatusFor maps an error from ingestion, transcription or storage to an
// HTTP status and a [Problem].
func StatusFor(err error) (int, Problem) {
	var (
		maxBytes *http.MaxBytesError
		encErr   *audio.EncodeError
		httpErr  *stt.HTTPError
	)
	p := Problem{Detail: err.Error()}
	switch {
	case errors.Is(err, errBadRequest):
		p.Code, p.Message = "bad_request", "The form is incomplete or malformed."
		return http.StatusBadRequest, p
	case errors.As(err, &maxBytes):
		p.Code, p.Message = "upload_too_large", "The file is too large. Upload a shorter recording."
		return http.StatusRequestEntityTooLarge, p
	case errors.Is(err, store.ErrConsentRequired):
		p.Code, p.Message = "consent_required", "Recordings are only stored with consent to use them for training."
		return http.StatusForbidden, p
	case errors.Is(err, store.ErrNotFound):
		p.Code, p.Message = "not_found", "No submission with this ID exists."
		return http.StatusNotFound, p
	case pipeline.IsDecodeError(err):
		p.Code, p.Message = "undecodable_audio", "The audio could not be read. Try a different file or record again."
		return http.StatusUnsupportedMediaType, p
	case errors.As(err, &encErr):
		p.Code, p.Message = "encode_failed", "The audio could not be converted."
		return http.StatusInternalServerError, p
	case errors.Is(err, stt.ErrOversized):
		p.Code, p.Message = "transcription_too_large", "The recording is too long to transcribe. Record a shorter clip."
		return http.StatusRequestEntityTooLarge, p
	case errors.Is(err, stt.ErrUnsupportedFormat):
		p.Code, p.Message = "transcription_unsupported", "The transcription service cannot read this audio format."
		return http.StatusUnsupportedMediaType, p
	case errors.Is(err, errNoTranscriber):
		p.Code, p.Message = "transcription_unavailable", "Transcription is not available on this server."
		return http.StatusServiceUnavailable, p
	case errors.Is(err, resilience.ErrAllFailed), errors.As(err, &httpErr):
		p.Code, p.Message = "transcription_failed", "The transcription service failed. Try again later."
		return http.StatusBadGateway, p
	case errors.Is(err, context.DeadlineExceeded):
		p.Code, p.Message = "timeout", "The request took too long. Try again."
		return http.StatusGatewayTimeout, p
	default:
		p.Code, p.Message = "internal", "Something went wrong on our side."
		return http.StatusInternalServerError, p
	}
}
