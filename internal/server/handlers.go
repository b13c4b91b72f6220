package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voicebank/internal/ingest"
	"github.com/MrWong99/voicebank/internal/store"
	"github.com/MrWong99/voicebank/pkg/audio"
	"github.com/MrWong99/voicebank/pkg/provider/stt"
)

// Ingester normalises one uploaded file. *[ingest.Controller] satisfies it.
type Ingester interface {
	IngestFile(ctx context.Context, f ingest.File) (audio.ProcessingResult, error)
}

var _ Ingester = (*ingest.Controller)(nil)

// SubmissionView is the JSON form of a stored submission.
type SubmissionView struct {
	ID              string    `json:"id"`
	Format          string    `json:"format"`
	DurationMs      int64     `json:"duration_ms"`
	SampleRate      int       `json:"sample_rate"`
	Channels        int       `json:"channels"`
	SizeBytes       int       `json:"size_bytes"`
	RMSLevel        float64   `json:"rms_level"`
	PeakLevel       float64   `json:"peak_level"`
	ConsentTraining bool      `json:"consent_training"`
	ConsentStorage  bool      `json:"consent_storage"`
	Language        string    `json:"language,omitempty"`
	Transcript      string    `json:"transcript,omitempty"`
	TranscriptError string    `json:"transcript_error,omitempty"`
	Validated       bool      `json:"validated"`
	Unvalidated     bool      `json:"unvalidated"`
	Warnings        []string  `json:"warnings"`
	CreatedAt       time.Time `json:"created_at"`
}

func viewOf(sub *store.Submission) SubmissionView {
	warnings := sub.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return SubmissionView{
		ID:              sub.ID.String(),
		Format:          sub.Format,
		DurationMs:      sub.DurationMs,
		SampleRate:      sub.SampleRate,
		Channels:        sub.Channels,
		SizeBytes:       len(sub.Audio),
		RMSLevel:        sub.RMSLevel,
		PeakLevel:       sub.PeakLevel,
		ConsentTraining: sub.Consent.Training,
		ConsentStorage:  sub.Consent.Storage,
		Language:        sub.Language,
		Transcript:      sub.Transcript,
		Validated:       sub.Validated,
		Unvalidated:     sub.Unvalidated,
		Warnings:        warnings,
		CreatedAt:       sub.CreatedAt,
	}
}

// rejection is the 422 body for audio that failed a hard quality rule.
type rejection struct {
	Problem
	Warnings   []string `json:"warnings"`
	DurationMs int64    `json:"duration_ms"`
	RMSLevel   float64  `json:"rms_level"`
	PeakLevel  float64  `json:"peak_level"`
}

// transcriptionView is the body of POST /v1/transcriptions.
type transcriptionView struct {
	Text        string   `json:"text"`
	Language    string   `json:"language,omitempty"`
	Confidence  float64  `json:"confidence,omitempty"`
	DurationMs  int64    `json:"duration_ms"`
	Unvalidated bool     `json:"unvalidated"`
	Warnings    []string `json:"warnings"`
}

// upload is a parsed multipart request.
type upload struct {
	file       ingest.File
	consent    store.Consent
	language   string
	transcribe bool
}

func (s *Server) handleCreateRecording(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	up, err := s.parseUpload(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	// Reject before doing any work.
	if !up.consent.Training {
		s.metrics.RecordSubmission(ctx, "rejected")
		s.fail(w, r, store.ErrConsentRequired)
		return
	}

	res, err := s.ingester.IngestFile(ctx, up.file)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !res.IsValid {
		s.metrics.RecordSubmission(ctx, "rejected")
		s.reject(w, res)
		return
	}

	sub, err := store.NewSubmission(res, up.consent)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	sub.Language = up.language

	var transcriptErr string
	if up.transcribe {
		tr, err := s.transcribe(ctx, res.Blob, up.language)
		if err != nil {
			s.log.WarnContext(ctx, "transcription failed, storing without transcript",
				"submission", sub.ID, "err", err)
			_, p := StatusFor(err)
			transcriptErr = p.Message
		} else {
			sub.Transcript = tr.Text
		}
	}

	if err := s.store.Save(ctx, sub); err != nil {
		s.metrics.RecordSubmission(ctx, "error")
		s.fail(w, r, fmt.Errorf("save submission: %w", err))
		return
	}
	s.metrics.RecordSubmission(ctx, "ok")
	s.log.InfoContext(ctx, "submission stored",
		"submission", sub.ID,
		"bytes", len(sub.Audio),
		"duration_ms", sub.DurationMs,
		"unvalidated", sub.Unvalidated,
	)

	v := viewOf(sub)
	v.TranscriptError = transcriptErr
	w.Header().Set("Location", "/v1/recordings/"+sub.ID.String())
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	up, err := s.parseUpload(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if s.transcriber == nil {
		s.fail(w, r, errNoTranscriber)
		return
	}
	res, err := s.ingester.IngestFile(ctx, up.file)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !res.IsValid {
		s.reject(w, res)
		return
	}
	tr, err := s.transcribe(ctx, res.Blob, up.language)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transcriptionView{
		Text:        tr.Text,
		Language:    tr.Language,
		Confidence:  tr.Confidence,
		DurationMs:  res.Metrics.Duration.Milliseconds(),
		Unvalidated: res.Unvalidated,
		Warnings:    nonNil(res.Warnings),
	})
}

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(sub))
}

func (s *Server) handleGetAudio(w http.ResponseWriter, r *http.Request) {
	sub, ok := s.lookup(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", sub.Format)
	w.Header().Set("Content-Length", strconv.Itoa(len(sub.Audio)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(sub.Audio)
}

func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: invalid id", errBadRequest))
		return
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.InfoContext(r.Context(), "submission deleted", "submission", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*store.Submission, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: invalid id", errBadRequest))
		return nil, false
	}
	sub, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return sub, true
}

func (s *Server) transcribe(ctx context.Context, blob audio.Blob, language string) (stt.Transcript, error) {
	if s.transcriber == nil {
		return stt.Transcript{}, errNoTranscriber
	}
	return s.transcriber.Transcribe(ctx, stt.Request{Audio: blob, Language: language})
}

// parseUpload reads the multipart form. The body is capped at maxUpload
// bytes.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) (upload, error) {
	if r.ContentLength > s.maxUpload {
		return upload{}, &http.MaxBytesError{Limit: s.maxUpload}
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return upload{}, err
		}
		return upload{}, fmt.Errorf("%w: %w", errBadRequest, err)
	}

	f, hdr, err := r.FormFile("audio")
	if err != nil {
		return upload{}, fmt.Errorf("%w: missing audio part: %w", errBadRequest, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return upload{}, fmt.Errorf("%w: read audio: %w", errBadRequest, err)
	}
	if len(data) == 0 {
		return upload{}, fmt.Errorf("%w: audio part is empty", errBadRequest)
	}

	up := upload{
		file: ingest.File{
			Name: hdr.Filename,
			Blob: audio.Blob{Data: data, MIMEType: mimeTypeOf(hdr, data)},
		},
		language: strings.TrimSpace(r.FormValue("language")),
	}

	if up.file.Metadata, err = formatOf(r); err != nil {
		return upload{}, err
	}
	if up.consent.Training, err = formBool(r, "consent_training"); err != nil {
		return upload{}, err
	}
	if up.consent.Storage, err = formBool(r, "consent_storage"); err != nil {
		return upload{}, err
	}
	if up.transcribe, err = formBool(r, "transcribe"); err != nil {
		return upload{}, err
	}
	return up, nil
}

// mimeTypeOf prefers the part's declared type and sniffs otherwise.
func mimeTypeOf(hdr *multipart.FileHeader, data []byte) string {
	ct := hdr.Header.Get("Content-Type")
	if ct != "" && ct != "application/octet-stream" {
		return ct
	}
	if audio.IsWAV(data) {
		return audio.MIMETypeWAV
	}
	return http.DetectContentType(data)
}

// formatOf reads the optional sample_rate and channels fields. Both must be
// present for metadata to be used.
func formatOf(r *http.Request) (*audio.Format, error) {
	rate, ch := r.FormValue("sample_rate"), r.FormValue("channels")
	if rate == "" && ch == "" {
		return nil, nil
	}
	if rate == "" || ch == "" {
		return nil, fmt.Errorf("%w: sample_rate and channels must be given together", errBadRequest)
	}
	sr, err := strconv.Atoi(rate)
	if err != nil {
		return nil, fmt.Errorf("%w: sample_rate: %w", errBadRequest, err)
	}
	n, err := strconv.Atoi(ch)
	if err != nil {
		return nil, fmt.Errorf("%w: channels: %w", errBadRequest, err)
	}
	return &audio.Format{SampleRate: sr, Channels: n}, nil
}

func formBool(r *http.Request, key string) (bool, error) {
	v := r.FormValue(key)
	if v == "" {
		return false, nil
	}
	if v == "on" {
		return true, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", errBadRequest, key, err)
	}
	return b, nil
}

func (s *Server) reject(w http.ResponseWriter, res audio.ProcessingResult) {
	writeJSON(w, http.StatusUnprocessableEntity, rejection{
		Problem: Problem{
			Code:    "quality_rejected",
			Message: "The recording did not pass the quality check. Record again following the hints.",
		},
		Warnings:   nonNil(res.Warnings),
		DurationMs: res.Metrics.Duration.Milliseconds(),
		RMSLevel:   res.Metrics.RMSLevel,
		PeakLevel:  res.Metrics.PeakLevel,
	})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, p := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", status, "err", err)
	} else {
		s.log.DebugContext(r.Context(), "request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, p)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
