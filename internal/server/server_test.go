package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/voicebank/internal/health"
	"github.com/MrWong99/voicebank/internal/ingest"
	"github.com/MrWong99/voicebank/internal/observe"
	"github.com/MrWong99/voicebank/internal/pipeline"
	"github.com/MrWong99/voicebank/internal/resilience"
	"github.com/MrWong99/voicebank/internal/server"
	"github.com/MrWong99/voicebank/internal/store"
	"github.com/MrWong99/voicebank/pkg/audio"
	"github.com/MrWong99/voicebank/pkg/audio/quality"
	"github.com/MrWong99/voicebank/pkg/provider/stt"
	sttmock "github.com/MrWong99/voicebank/pkg/provider/stt/mock"
)

// ─── helpers ──────────────────────────────────────────────────────────────────

type fakeIngester struct {
	mu     sync.Mutex
	result audio.ProcessingResult
	err    error
	files  []ingest.File
}

func (f *fakeIngester) IngestFile(_ context.Context, file ingest.File) (audio.ProcessingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, file)
	return f.result, f.err
}

func (f *fakeIngester) calls() []ingest.File {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ingest.File(nil), f.files...)
}

func validResult() audio.ProcessingResult {
	return audio.ProcessingResult{
		Blob: audio.Blob{Data: []byte("RIFF....WAVEdata"), MIMEType: audio.MIMETypeWAV},
		Metrics: audio.AudioMetrics{
			Duration:   2 * time.Second,
			SampleRate: 16000,
			Channels:   1,
			RMSLevel:   0.2,
			PeakLevel:  0.5,
		},
		IsValid:   true,
		Converted: true,
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newServer(t *testing.T, cfg server.Config) *server.Server {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = store.NewMemoryStore()
	}
	cfg.Metrics = testMetrics(t)
	s, err := server.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

type part struct {
	name, filename, contentType string
	data                        []byte
}

func multipartRequest(t *testing.T, target string, fields map[string]string, parts ...part) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.name, p.filename))
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		w, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = w.Write(p.data)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func audioPart(data []byte, contentType string) part {
	return part{name: "audio", filename: "clip.ogg", contentType: contentType, data: data}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func sineWAV(t *testing.T, rate, channels int, seconds float64) []byte {
	t.Helper()
	frames := int(float64(rate) * seconds)
	buf := audio.NewSampleBuffer(rate, channels, frames)
	for c := range channels {
		for i := range frames {
			buf.Channels[c][i] = float32(0.4 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
		}
	}
	wav, err := audio.EncodeWAV(buf)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	return wav
}

// ─── New ──────────────────────────────────────────────────────────────────────

func TestNew_RequiresIngesterAndStore(t *testing.T) {
	t.Parallel()

	if _, err := server.New(server.Config{Store: store.NewMemoryStore()}); err == nil {
		t.Error("expected error without ingester")
	}
	if _, err := server.New(server.Config{Ingester: &fakeIngester{}}); err == nil {
		t.Error("expected error without store")
	}
}

// ─── POST /v1/recordings ──────────────────────────────────────────────────────

func TestCreateRecording_Stored(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	ing := &fakeIngester{result: validResult()}
	srv := newServer(t, server.Config{Ingester: ing, Store: st})

	req := multipartRequest(t, "/v1/recordings", map[string]string{
		"consent_training": "true",
		"consent_storage":  "on",
		"language":         "de-DE",
		"sample_rate":      "48000",
		"channels":         "2",
	}, audioPart([]byte("opus bytes"), "audio/ogg;codecs=opus"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	v := decodeBody[server.SubmissionView](t, rec)
	if !v.ConsentTraining || !v.ConsentStorage {
		t.Errorf("consent = %v/%v, want true/true", v.ConsentTraining, v.ConsentStorage)
	}
	if v.Language != "de-DE" || v.DurationMs != 2000 || !v.Validated {
		t.Errorf("view = %+v", v)
	}
	if loc := rec.Header().Get("Location"); loc != "/v1/recordings/"+v.ID {
		t.Errorf("Location = %q", loc)
	}
	if st.Len() != 1 {
		t.Errorf("stored %d submissions, want 1", st.Len())
	}

	calls := ing.calls()
	if len(calls) != 1 {
		t.Fatalf("ingest calls = %d, want 1", len(calls))
	}
	f := calls[0]
	if f.Name != "clip.ogg" || f.Blob.MIMEType != "audio/ogg;codecs=opus" || string(f.Blob.Data) != "opus bytes" {
		t.Errorf("file = %+v", f)
	}
	if f.Metadata == nil || *f.Metadata != (audio.Format{SampleRate: 48000, Channels: 2}) {
		t.Errorf("metadata = %v", f.Metadata)
	}
}

func TestCreateRecording_ConsentRequired(t *testing.T) {
	t.Parallel()

	for _, consent := range []string{"", "false"} {
		t.Run("consent="+consent, func(t *testing.T) {
			t.Parallel()
			st := store.NewMemoryStore()
			ing := &fakeIngester{result: validResult()}
			srv := newServer(t, server.Config{Ingester: ing, Store: st})

			fields := map[string]string{}
			if consent != "" {
				fields["consent_training"] = consent
			}
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, multipartRequest(t, "/v1/recordings", fields, audioPart([]byte("x"), "audio/wav")))

			if rec.Code != http.StatusForbidden {
				t.Fatalf("status = %d, want 403", rec.Code)
			}
			if p := decodeBody[server.Problem](t, rec); p.Code != "consent_required" {
				t.Errorf("code = %q", p.Code)
			}
			if len(ing.calls()) != 0 {
				t.Error("audio was processed without consent")
			}
			if st.Len() != 0 {
				t.Error("submission stored without consent")
			}
		})
	}
}

func TestCreateRecording_QualityRejected(t *testing.T) {
	t.Parallel()

	res := validResult()
	res.IsValid = false
	res.Warnings = []string{"Recording too short"}
	st := store.NewMemoryStore()
	srv := newServer(t, server.Config{Ingester: &fakeIngester{result: res}, Store: st})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartRequest(t, "/v1/recordings",
		map[string]string{"consent_training": "1"}, audioPart([]byte("x"), "audio/webm")))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	body := decodeBody[struct {
		Code     string   `json:"code"`
		Warnings []string `json:"warnings"`
	}](t, rec)
	if body.Code != "quality_rejected" || len(body.Warnings) != 1 {
		t.Errorf("body = %+v", body)
	}
	if st.Len() != 0 {
		t.Error("rejected audio was stored")
	}
}

func TestCreateRecording_Transcribed(t *testing.T) {
	t.Parallel()

	stp := &sttmock.Provider{Result: stt.Transcript{Text: "hallo welt"}}
	srv := newServer(t, server.Config{Ingester: &fakeIngester{result: validResult()}, Transcriber: stp})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartRequest(t, "/v1/recordings", map[string]string{
		"consent_training": "true",
		"transcribe":       "true",
		"language":         "de",
	}, audioPart([]byte("x"), "audio/wav")))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if v := decodeBody[server.SubmissionView](t, rec); v.Transcript != "hallo welt" || v.TranscriptError != "" {
		t.Errorf("view = %+v", v)
	}
	calls := stp.Calls()
	if len(calls) != 1 || calls[0].Req.Language != "de" || calls[0].Req.Audio.MIMEType != audio.MIMETypeWAV {
		t.Errorf("stt calls = %+v", calls)
	}
}

func TestCreateRecording_TranscriptionFailureStillStores(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	stp := &sttmock.Provider{Err: fmt.Errorf("%w: boom", resilience.ErrAllFailed)}
	srv := newServer(t, server.Config{Ingester: &fakeIngester{result: validResult()}, Store: st, Transcriber: stp})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartRequest(t, "/v1/recordings", map[string]string{
		"consent_training": "true",
		"transcribe":       "true",
	}, audioPart([]byte("x"), "audio/wav")))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	v := decodeBody[server.SubmissionView](t, rec)
	if v.Transcript != "" || v.TranscriptError == "" {
		t.Errorf("transcript = %q, error = %q", v.Transcript, v.TranscriptError)
	}
	if st.Len() != 1 {
		t.Errorf("stored %d, want 1", st.Len())
	}
}

func TestCreateRecording_BadInput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		req    func(t *testing.T) *http.Request
		status int
	}{
		{
			name: "not multipart",
			req: func(*testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/v1/recordings", strings.NewReader("{}"))
			},
			status: http.StatusBadRequest,
		},
		{
			name: "missing audio part",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/v1/recordings", map[string]string{"consent_training": "true"})
			},
			status: http.StatusBadRequest,
		},
		{
			name: "empty audio part",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/v1/recordings", map[string]string{"consent_training": "true"}, audioPart(nil, "audio/wav"))
			},
			status: http.StatusBadRequest,
		},
		{
			name: "sample rate without channels",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/v1/recordings",
					map[string]string{"consent_training": "true", "sample_rate": "48000"}, audioPart([]byte("x"), "audio/wav"))
			},
			status: http.StatusBadRequest,
		},
		{
			name: "bad consent value",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/v1/recordings",
					map[string]string{"consent_training": "maybe"}, audioPart([]byte("x"), "audio/wav"))
			},
			status: http.StatusBadRequest,
		},
		{
			name: "too large",
			req: func(t *testing.T) *http.Request {
				return multipartRequest(t, "/v1/recordings",
					map[string]string{"consent_training": "true"}, audioPart(bytes.Repeat([]byte{1}, 8192), "audio/wav"))
			},
			status: http.StatusRequestEntityTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newServer(t, server.Config{Ingester: &fakeIngester{result: validResult()}, MaxUploadBytes: 4096})
			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, tt.req(t))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body)
			}
		})
	}
}

func TestCreateRecording_SniffsWAV(t *testing.T) {
	t.Parallel()

	ing := &fakeIngester{result: validResult()}
	srv := newServer(t, server.Config{Ingester: ing})
	wav := sineWAV(t, 16000, 1, 0.1)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartRequest(t, "/v1/recordings",
		map[string]string{"consent_training": "true"}, audioPart(wav, "application/octet-stream")))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := ing.calls()[0].Blob.MIMEType; got != audio.MIMETypeWAV {
		t.Errorf("MIME = %q, want %q", got, audio.MIMETypeWAV)
	}
}

// ─── end to end ───────────────────────────────────────────────────────────────

func TestCreateRecording_EndToEnd(t *testing.T) {
	t.Parallel()

	m := testMetrics(t)
	proc, err := pipeline.New(pipeline.Config{Metrics: m})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	ctrl, err := ingest.New(ingest.Config{Processor: proc, Metrics: m})
	if err != nil {
		t.Fatalf("ingest.New: %v", err)
	}
	srv := newServer(t, server.Config{Ingester: ctrl})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartRequest(t, "/v1/recordings", map[string]string{
		"consent_training": "true",
		"sample_rate":      "48000",
		"channels":         "2",
	}, part{name: "audio", filename: "take.wav", contentType: "audio/wav", data: sineWAV(t, 48000, 2, 2)}))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	v := decodeBody[server.SubmissionView](t, rec)
	if v.SampleRate != 16000 || v.Channels != 1 {
		t.Errorf("format = %d Hz / %d ch, want 16000/1", v.SampleRate, v.Channels)
	}
	if v.Unvalidated || !v.Validated {
		t.Errorf("validated = %v, unvalidated = %v", v.Validated, v.Unvalidated)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/recordings/"+v.ID+"/audio", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("audio status = %d", rec.Code)
	}
	if !audio.IsWAV(rec.Body.Bytes()) {
		t.Error("stored audio is not a WAV")
	}
	if rec.Body.Len() != v.SizeBytes {
		t.Errorf("audio length = %d, want %d", rec.Body.Len(), v.SizeBytes)
	}
}

func TestCreateRecording_NonCanonicalWAVWithoutMetadata(t *testing.T) {
	t.Parallel()

	m := testMetrics(t)
	proc, err := pipeline.New(pipeline.Config{Metrics: m})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	ctrl, err := ingest.New(ingest.Config{Processor: proc, Metrics: m})
	if err != nil {
		t.Fatalf("ingest.New: %v", err)
	}
	st := store.NewMemoryStore()
	srv := newServer(t, server.Config{Ingester: ctrl, Store: st})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartRequest(t, "/v1/recordings",
		map[string]string{"consent_training": "true"},
		part{name: "audio", filename: "short.wav", contentType: "audio/wav", data: sineWAV(t, 44100, 2, 0.5)}))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422 (body %s)", rec.Code, rec.Body)
	}
	body := decodeBody[struct {
		Code     string   `json:"code"`
		Warnings []string `json:"warnings"`
	}](t, rec)
	if body.Code != "quality_rejected" || len(body.Warnings) == 0 || !strings.HasPrefix(body.Warnings[0], quality.WarnTooShort) {
		t.Errorf("body = %+v", body)
	}
	if st.Len() != 0 {
		t.Error("short clip was stored")
	}
}

func TestCreateRecording_UndecodableUpload(t *testing.T) {
	t.Parallel()

	m := testMetrics(t)
	proc, err := pipeline.New(pipeline.Config{Metrics: m})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	ctrl, err := ingest.New(ingest.Config{Processor: proc, Metrics: m})
	if err != nil {
		t.Fatalf("ingest.New: %v", err)
	}
	srv := newServer(t, server.Config{Ingester: ctrl})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, multipartRequest(t, "/v1/recordings",
		map[string]string{"consent_training": "true"}, audioPart([]byte("definitely not audio"), "audio/ogg")))

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415 (body %s)", rec.Code, rec.Body)
	}
}

// ─── GET / DELETE ─────────────────────────────────────────────────────────────

func TestRecordingLifecycle(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	sub, err := store.NewSubmission(validResult(), store.Consent{Training: true})
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Save(context.Background(), sub); err != nil {
		t.Fatal(err)
	}
	srv := newServer(t, server.Config{Ingester: &fakeIngester{}, Store: st})
	path := "/v1/recordings/" + sub.ID.String()

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d", rec.Code)
	}
	if v := decodeBody[server.SubmissionView](t, rec); v.ID != sub.ID.String() || v.Warnings == nil {
		t.Errorf("view = %+v", v)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path+"/audio", nil))
	if ct := rec.Header().Get("Content-Type"); ct != audio.MIMETypeWAV {
		t.Errorf("Content-Type = %q", ct)
	}
	if got, _ := io.ReadAll(rec.Body); !bytes.Equal(got, sub.Audio) {
		t.Error("audio body mismatch")
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, path, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("DELETE status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want 404", rec.Code)
	}
}

func TestGetRecording_InvalidID(t *testing.T) {
	t.Parallel()

	srv := newServer(t, server.Config{Ingester: &fakeIngester{}})
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/recordings/not-a-uuid", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// ─── POST /v1/transcriptions ──────────────────────────────────────────────────

func TestTranscribe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stt    stt.Provider
		status int
		text   string
	}{
		{name: "success", stt: &sttmock.Provider{Result: stt.Transcript{Text: "hello", Language: "en"}}, status: http.StatusOK, text: "hello"},
		{name: "not configured", stt: nil, status: http.StatusServiceUnavailable},
		{name: "all failed", stt: &sttmock.Provider{Err: resilience.ErrAllFailed}, status: http.StatusBadGateway},
		{name: "oversized", stt: &sttmock.Provider{Err: stt.ErrOversized}, status: http.StatusRequestEntityTooLarge},
		{name: "remote 500", stt: &sttmock.Provider{Err: stt.NewHTTPError("openai", 500, nil)}, status: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st := store.NewMemoryStore()
			srv := newServer(t, server.Config{Ingester: &fakeIngester{result: validResult()}, Store: st, Transcriber: tt.stt})

			rec := httptest.NewRecorder()
			srv.ServeHTTP(rec, multipartRequest(t, "/v1/transcriptions",
				map[string]string{"language": "en"}, audioPart([]byte("x"), "audio/wav")))

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body)
			}
			if tt.status == http.StatusOK {
				body := decodeBody[struct {
					Text       string `json:"text"`
					DurationMs int64  `json:"duration_ms"`
				}](t, rec)
				if body.Text != tt.text || body.DurationMs != 2000 {
					t.Errorf("body = %+v", body)
				}
			}
			if st.Len() != 0 {
				t.Error("transcription endpoint stored audio")
			}
		})
	}
}

// ─── health and metrics ───────────────────────────────────────────────────────

func TestAuxiliaryRoutes(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "voicebank_up 1\n")
	})
	h := health.New([]health.Checker{{Name: "store", Check: func(context.Context) error { return nil }}})
	srv := newServer(t, server.Config{
		Ingester:       &fakeIngester{},
		Health:         h,
		MetricsHandler: metrics,
		MetricsPath:    "/internal/metrics",
	})

	for _, path := range []string{"/healthz", "/readyz", "/internal/metrics"} {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
	}
}

// ─── StatusFor ────────────────────────────────────────────────────────────────

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"consent", store.ErrConsentRequired, http.StatusForbidden, "consent_required"},
		{"not found", fmt.Errorf("get: %w", store.ErrNotFound), http.StatusNotFound, "not_found"},
		{"max bytes", &http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge, "upload_too_large"},
		{"encode", &audio.EncodeError{Reason: "no channels"}, http.StatusInternalServerError, "encode_failed"},
		{"stt oversized", stt.NewHTTPError("openai", 413, nil), http.StatusRequestEntityTooLarge, "transcription_too_large"},
		{"stt format", stt.ErrUnsupportedFormat, http.StatusUnsupportedMediaType, "transcription_unsupported"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			status, p := server.StatusFor(tt.err)
			if status != tt.status || p.Code != tt.code {
				t.Errorf("StatusFor(%v) = %d %q, want %d %q", tt.err, status, p.Code, tt.status, tt.code)
			}
			if p.Message == "" {
				t.Error("empty message")
			}
		})
	}
}
