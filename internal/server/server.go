// Package server exposes ingestion, transcription and submission storage over
// HTTP.
//
// Routes:
//
//	POST   /v1/recordings            normalise, optionally transcribe, persist
//	GET    /v1/recordings/{id}       submission metadata
//	GET    /v1/recordings/{id}/audio stored audio bytes
//	DELETE /v1/recordings/{id}       withdraw a submission
//	POST   /v1/transcriptions        normalise and transcribe, nothing stored
//
// Uploads are multipart forms with the audio in the "audio" part. Every
// failure maps to a distinct status and a remediation message; see
// [StatusFor].
package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/voicebank/internal/health"
	"github.com/MrWong99/voicebank/internal/observe"
	"github.com/MrWong99/voicebank/internal/store"
	"github.com/MrWong99/voicebank/pkg/provider/stt"
)

// DefaultMaxUploadBytes caps request bodies when Config.MaxUploadBytes is 0.
const DefaultMaxUploadBytes = 32 << 20

// Config configures a [Server].
type Config struct {
	// Ingester normalises uploads. Required.
	Ingester Ingester

	// Store persists consented submissions. Required.
	Store store.Store

	// Transcriber is optional; without it transcription requests fail with
	// 503.
	Transcriber stt.Provider

	// Health serves /healthz and /readyz when set.
	Health *health.Handler

	// MetricsHandler is mounted at MetricsPath when set.
	MetricsHandler http.Handler
	MetricsPath    string

	// MaxUploadBytes caps request bodies. Default: [DefaultMaxUploadBytes].
	MaxUploadBytes int64

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the HTTP surface. It is safe for concurrent use.
type Server struct {
	ingester    Ingester
	store       store.Store
	transcriber stt.Provider
	maxUpload   int64
	metrics     *observe.Metrics
	log         *slog.Logger
	handler     http.Handler
}

// New builds a Server and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Ingester == nil {
		return nil, errors.New("server: ingester is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("server: store is required")
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	s := &Server{
		ingester:    cfg.Ingester,
		store:       cfg.Store,
		transcriber: cfg.Transcriber,
		maxUpload:   cfg.MaxUploadBytes,
		metrics:     cfg.Metrics,
		log:         cfg.Logger.With("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/recordings", s.handleCreateRecording)
	mux.HandleFunc("GET /v1/recordings/{id}", s.handleGetRecording)
	mux.HandleFunc("GET /v1/recordings/{id}/audio", s.handleGetAudio)
	mux.HandleFunc("DELETE /v1/recordings/{id}", s.handleDeleteRecording)
	mux.HandleFunc("POST /v1/transcriptions", s.handleTranscribe)
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	if cfg.MetricsHandler != nil {
		mux.Handle("GET "+cfg.MetricsPath, cfg.MetricsHandler)
	}

	s.handler = observe.Middleware(cfg.Metrics,
		observe.WithQuietPaths("/healthz", "/readyz", cfg.MetricsPath),
	)(mux)
	return s, nil
}

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
