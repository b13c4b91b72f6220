package deepgram

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voicebank/pkg/audio"
	"github.com/MrWong99/voicebank/pkg/provider/stt"
)

// ---- fake server ----

type fakeServer struct {
	mu         sync.Mutex
	query      url.Values
	auth       string
	audioBytes int
	binaryMsgs int
	gotClose   bool
	rejectCode int
	responses  []string
}

func (f *fakeServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.query = r.URL.Query()
		f.auth = r.Header.Get("Authorization")
		reject := f.rejectCode
		f.mu.Unlock()
		if reject != 0 {
			w.Header().Set("dg-error", "bad credentials")
			w.WriteHeader(reject)
			return
		}

		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		for {
			typ, msg, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				f.mu.Lock()
				f.audioBytes += len(msg)
				f.binaryMsgs++
				f.mu.Unlock()
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				f.mu.Lock()
				f.gotClose = true
				f.mu.Unlock()
				for _, resp := range f.responses {
					if err := c.Write(ctx, websocket.MessageText, []byte(resp)); err != nil {
						return
					}
				}
				c.Close(websocket.StatusNormalClosure, "")
				return
			}
		}
	}
}

func resultMsg(text string, final bool, conf float64) string {
	return fmt.Sprintf(`{"type":"Results","is_final":%t,"channel":{"alternatives":[{"transcript":%q,"confidence":%g,"words":[{"word":"w","start":0.1,"end":0.2,"confidence":0.9}]}]}}`, final, text, conf)
}

func newTestProvider(t *testing.T, f *fakeServer, opts ...Option) *Provider {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/listen"
	p, err := New("test-key", append([]Option{WithEndpoint(endpoint)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func stereoWAV(t *testing.T, rate int, seconds float64) audio.Blob {
	t.Helper()
	frames := int(float64(rate) * seconds)
	buf := audio.NewSampleBuffer(rate, 2, frames)
	for i := range frames {
		v := float32(0.3 * math.Sin(2*math.Pi*300*float64(i)/float64(rate)))
		buf.Channels[0][i] = v
		buf.Channels[1][i] = v
	}
	data, err := audio.EncodeWAV(buf)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	return audio.Blob{Data: data, MIMEType: audio.MIMETypeWAV}
}

// ---- Transcribe ----

func TestTranscribe_StreamsAndJoinsFinals(t *testing.T) {
	f := &fakeServer{responses: []string{
		resultMsg("hello", false, 0.5),
		resultMsg("hello there", true, 0.9),
		resultMsg("", true, 0),
		resultMsg("general kenobi", true, 0.7),
		`{"type":"Metadata","request_id":"abc"}`,
	}}
	p := newTestProvider(t, f, WithModel("base"), WithKeywords(map[string]float64{"Eldrinax": 5}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tr, err := p.Transcribe(ctx, stt.Request{Audio: stereoWAV(t, 16000, 1), Language: "de-DE"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	assertEqual(t, "text", "hello there general kenobi", tr.Text)
	if math.Abs(tr.Confidence-0.8) > 1e-9 {
		t.Errorf("confidence = %f, want 0.8", tr.Confidence)
	}
	if len(tr.Words) != 2 {
		t.Errorf("words = %d, want 2", len(tr.Words))
	}
	assertEqual(t, "language", "de-DE", tr.Language)
	if tr.Duration < 990*time.Millisecond || tr.Duration > time.Second {
		t.Errorf("duration = %s", tr.Duration)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.gotClose {
		t.Error("CloseStream never sent")
	}
	// Downmixed to mono: 16000 frames × 2 bytes, minus the dropped tail frame.
	if f.audioBytes < 31990 || f.audioBytes > 32000 {
		t.Errorf("audio bytes = %d, want ~32000", f.audioBytes)
	}
	if f.binaryMsgs < 4 {
		t.Errorf("binary frames = %d, want chunked delivery", f.binaryMsgs)
	}
	assertEqual(t, "auth", "Token test-key", f.auth)
	assertEqual(t, "model", "base", f.query.Get("model"))
	assertEqual(t, "language", "de-DE", f.query.Get("language"))
	assertEqual(t, "encoding", "linear16", f.query.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", f.query.Get("sample_rate"))
	assertEqual(t, "channels", "1", f.query.Get("channels"))
	assertEqual(t, "keywords", "Eldrinax:5", f.query.Get("keywords"))
}

func TestTranscribe_NormalCloseWithoutMetadata(t *testing.T) {
	f := &fakeServer{responses: []string{resultMsg("just this", true, 1)}}
	p := newTestProvider(t, f)
	tr, err := p.Transcribe(context.Background(), stt.Request{Audio: stereoWAV(t, 8000, 0.5)})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	assertEqual(t, "text", "just this", tr.Text)
	assertEqual(t, "language", defaultLanguage, tr.Language)
	f.mu.Lock()
	assertEqual(t, "sample_rate", "8000", f.query.Get("sample_rate"))
	f.mu.Unlock()
}

func TestTranscribe_ServerErrorMessage(t *testing.T) {
	f := &fakeServer{responses: []string{`{"type":"Error","description":"bad audio"}`}}
	p := newTestProvider(t, f)
	_, err := p.Transcribe(context.Background(), stt.Request{Audio: stereoWAV(t, 16000, 0.2)})
	if err == nil || !strings.Contains(err.Error(), "bad audio") {
		t.Errorf("got %v, want server error", err)
	}
}

func TestTranscribe_HandshakeRejected(t *testing.T) {
	f := &fakeServer{rejectCode: http.StatusUnauthorized}
	p := newTestProvider(t, f)
	_, err := p.Transcribe(context.Background(), stt.Request{Audio: stereoWAV(t, 16000, 0.2)})
	var he *stt.HTTPError
	if !errors.As(err, &he) || he.StatusCode != http.StatusUnauthorized {
		t.Fatalf("got %v, want *HTTPError 401", err)
	}
	if he.Body != "bad credentials" {
		t.Errorf("body = %q", he.Body)
	}
}

func TestTranscribe_LocalRejections(t *testing.T) {
	f := &fakeServer{}
	p := newTestProvider(t, f, WithMaxBytes(100))

	_, err := p.Transcribe(context.Background(), stt.Request{Audio: audio.Blob{Data: []byte("garbage!"), MIMEType: "application/octet-stream"}})
	if !errors.Is(err, stt.ErrUnsupportedFormat) {
		t.Errorf("garbage: got %v, want ErrUnsupportedFormat", err)
	}
	_, err = p.Transcribe(context.Background(), stt.Request{Audio: stereoWAV(t, 16000, 0.2)})
	if !errors.Is(err, stt.ErrOversized) {
		t.Errorf("large: got %v, want ErrOversized", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.query != nil {
		t.Error("server contacted for locally rejected requests")
	}
}

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rawURL, err := p.buildURL("en", 16000)
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	if u.Host != "api.deepgram.com" {
		t.Errorf("host = %q", u.Host)
	}
	q := u.Query()
	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "interim_results", "false", q.Get("interim_results"))
	if _, ok := q["keywords"]; ok {
		t.Error("expected no 'keywords' param when none provided")
	}
}

// ---- JSON parsing tests ----

func TestParseDeepgramResponse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantKind string
		wantText string
		final    bool
	}{
		{name: "final", raw: resultMsg("Hello world", true, 0.95), wantKind: "Results", wantText: "Hello world", final: true},
		{name: "partial", raw: resultMsg("Hello", false, 0.7), wantKind: "Results", wantText: "Hello"},
		{name: "metadata", raw: `{"type":"Metadata","request_id":"abc"}`, wantKind: "Metadata"},
		{name: "error", raw: `{"type":"Error","description":"nope"}`, wantKind: "Error", wantText: "nope"},
		{name: "empty alternatives", raw: `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`},
		{name: "unknown type", raw: `{"type":"SpeechStarted"}`},
		{name: "invalid json", raw: `{invalid`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, kind := parseDeepgramResponse([]byte(tt.raw))
			assertEqual(t, "kind", tt.wantKind, kind)
			assertEqual(t, "text", tt.wantText, r.text)
			if r.isFinal != tt.final {
				t.Errorf("isFinal = %v, want %v", r.isFinal, tt.final)
			}
		})
	}
}

func TestParseDeepgramResponse_Words(t *testing.T) {
	r, _ := parseDeepgramResponse([]byte(resultMsg("w", true, 0.9)))
	if len(r.words) != 1 {
		t.Fatalf("expected 1 word, got %d", len(r.words))
	}
	if r.words[0].Start != 100*time.Millisecond || r.words[0].End != 200*time.Millisecond {
		t.Errorf("unexpected timing: %+v", r.words[0])
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
