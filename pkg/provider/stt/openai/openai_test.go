package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/voicebank/pkg/audio"
	"github.com/MrWong99/voicebank/pkg/provider/stt"
)

type seenRequest struct {
	path     string
	auth     string
	model    string
	language string
	format   string
	fileName string
	size     int
}

func newServer(t *testing.T, status int, body any) (*httptest.Server, <-chan seenRequest) {
	t.Helper()
	seen := make(chan seenRequest, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sr := seenRequest{path: r.URL.Path, auth: r.Header.Get("Authorization")}
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			sr.model = r.FormValue("model")
			sr.language = r.FormValue("language")
			sr.format = r.FormValue("response_format")
			if f, hdr, err := r.FormFile("file"); err == nil {
				data, _ := io.ReadAll(f)
				f.Close()
				sr.fileName = hdr.Filename
				sr.size = len(data)
			}
		}
		seen <- sr
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func wavBlob() audio.Blob {
	data, _ := audio.EncodeWAV(audio.NewSampleBuffer(16000, 1, 1600))
	return audio.Blob{Data: data, MIMEType: audio.MIMETypeWAV}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Error("expected error for empty API key")
	}
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("ModelID = %q, want %q", p.ModelID(), DefaultModel)
	}
}

func TestTranscribe_Success(t *testing.T) {
	srv, seen := newServer(t, http.StatusOK, map[string]string{"text": " Guten Tag. "})
	p, err := New("sk-test", "gpt-4o-mini-transcribe", WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	blob := wavBlob()
	tr, err := p.Transcribe(context.Background(), stt.Request{Audio: blob, Language: "de-DE"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "Guten Tag." || tr.Language != "de-DE" {
		t.Errorf("transcript: %+v", tr)
	}

	req := <-seen
	if req.path != "/v1/audio/transcriptions" {
		t.Errorf("path = %q", req.path)
	}
	if req.auth != "Bearer sk-test" {
		t.Errorf("auth = %q", req.auth)
	}
	if req.model != "gpt-4o-mini-transcribe" || req.language != "de" || req.format != "json" {
		t.Errorf("form: model=%q language=%q format=%q", req.model, req.language, req.format)
	}
	if req.fileName != "audio.wav" || req.size != len(blob.Data) {
		t.Errorf("file: %q %d bytes", req.fileName, req.size)
	}
}

func TestTranscribe_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "too large", status: http.StatusRequestEntityTooLarge, want: stt.ErrOversized},
		{name: "bad format", status: http.StatusUnsupportedMediaType, want: stt.ErrUnsupportedFormat},
		{name: "unauthorized", status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newServer(t, tt.status, map[string]any{"error": map[string]string{"message": "nope", "type": "invalid_request_error"}})
			p, _ := New("sk-test", "", WithBaseURL(srv.URL+"/v1/"), WithMaxRetries(0))
			_, err := p.Transcribe(context.Background(), stt.Request{Audio: wavBlob()})
			var he *stt.HTTPError
			if !errors.As(err, &he) || he.StatusCode != tt.status {
				t.Fatalf("got %v, want *HTTPError %d", err, tt.status)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTranscribe_OversizedLocally(t *testing.T) {
	p, _ := New("sk-test", "", WithBaseURL("http://127.0.0.1:1/"))
	big := audio.Blob{Data: make([]byte, maxUploadBytes+1), MIMEType: audio.MIMETypeWAV}
	if _, err := p.Transcribe(context.Background(), stt.Request{Audio: big}); !errors.Is(err, stt.ErrOversized) {
		t.Errorf("got %v, want ErrOversized", err)
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"audio/wav", "audio.wav"},
		{"audio/x-flac", "audio.flac"},
		{"audio/ogg;codecs=opus", "audio.ogg"},
		{"audio/webm", "audio.webm"},
		{"audio/mpeg", "audio.mp3"},
		{"", "audio.wav"},
	}
	for _, tt := range tests {
		if got := fileName(audio.Blob{MIMEType: tt.mime}); got != tt.want {
			t.Errorf("fileName(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}

func TestBaseLanguage(t *testing.T) {
	for in, want := range map[string]string{"en": "en", "de-DE": "de", "pt_BR": "pt", "": "", "FR": "fr"} {
		if got := baseLanguage(in); got != want {
			t.Errorf("baseLanguage(%q) = %q, want %q", in, got, want)
		}
	}
}
