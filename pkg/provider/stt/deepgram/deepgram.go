// Package deepgram provides a Deepgram-backed STT provider. A finished
// artifact is decoded to 16-bit PCM and streamed over the Deepgram live
// WebSocket API; the final results are joined into one transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicebank/pkg/audio"
	"github.com/MrWong99/voicebank/pkg/audio/decode"
	"github.com/MrWong99/voicebank/pkg/provider/stt"
)

const (
	providerName     = "deepgram"
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// chunkBytes is the size of each binary frame: 250 ms of 16 kHz mono PCM.
	chunkBytes = 8000
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the fallback BCP-47 language code used when a request
// carries no hint (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithKeywords adds vocabulary hints in Deepgram's "word:boost" form.
func WithKeywords(keywords map[string]float64) Option {
	return func(p *Provider) {
		p.keywords = keywords
	}
}

// WithEndpoint overrides the WebSocket endpoint. Used by tests and for
// self-hosted deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithMaxBytes caps the size of the encoded artifact. Zero disables the
// check.
func WithMaxBytes(n int) Option {
	return func(p *Provider) {
		p.maxBytes = n
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	keywords map[string]float64
	endpoint string
	maxBytes int
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe decodes req.Audio, streams it to Deepgram, and waits until the
// server has flushed every final result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if err := stt.CheckSize(providerName, req.Audio, p.maxBytes); err != nil {
		return stt.Transcript{}, err
	}
	buf, err := decode.Decode(ctx, req.Audio)
	if err != nil {
		if errors.Is(err, decode.ErrUnsupportedFormat) || errors.Is(err, decode.ErrCorrupt) {
			return stt.Transcript{}, fmt.Errorf("deepgram: %w: %w", stt.ErrUnsupportedFormat, err)
		}
		return stt.Transcript{}, fmt.Errorf("deepgram: decode: %w", err)
	}
	if buf.NumChannels() != 1 {
		if buf, err = audio.Resample(buf, buf.SampleRate, 1); err != nil {
			return stt.Transcript{}, fmt.Errorf("deepgram: downmix: %w", err)
		}
	}
	pcm := audio.BufferToPCM16(buf)

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	wsURL, err := p.buildURL(lang, buf.SampleRate)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		if resp != nil && resp.StatusCode != http.StatusSwitchingProtocols {
			return stt.Transcript{}, stt.NewHTTPError(providerName, resp.StatusCode, []byte(resp.Header.Get("dg-error")))
		}
		return stt.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	var finals []result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return writePCM(gctx, conn, pcm) })
	g.Go(func() error {
		var err error
		finals, err = readFinals(gctx, conn)
		return err
	})
	if err := g.Wait(); err != nil {
		return stt.Transcript{}, err
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")

	out := join(finals)
	out.Language = lang
	out.Duration = buf.Duration()
	return out, nil
}

// buildURL constructs the Deepgram streaming endpoint URL.
func (p *Provider) buildURL(lang string, sampleRate int) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("channels", "1")
	for kw, boost := range p.keywords {
		q.Add("keywords", fmt.Sprintf("%s:%g", kw, boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// writePCM streams pcm in fixed-size binary frames and then asks the server
// to flush and close.
func writePCM(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for off := 0; off < len(pcm); off += chunkBytes {
		end := min(off+chunkBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: send close: %w", err)
	}
	return nil
}

// readFinals collects final results until the server sends its Metadata
// summary or closes the connection normally.
func readFinals(ctx context.Context, conn *websocket.Conn) ([]result, error) {
	var finals []result
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return finals, nil
			}
			return nil, fmt.Errorf("deepgram: read: %w", err)
		}
		r, kind := parseDeepgramResponse(msg)
		switch kind {
		case "Results":
			if r.isFinal && strings.TrimSpace(r.text) != "" {
				finals = append(finals, r)
			}
		case "Metadata":
			return finals, nil
		case "Error":
			return nil, fmt.Errorf("deepgram: server error: %s", r.text)
		}
	}
}

// deepgramResponse is the JSON structure of a Deepgram server message.
type deepgramResponse struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	Description string `json:"description"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// result is one parsed Results message.
type result struct {
	text       string
	isFinal    bool
	confidence float64
	words      []stt.WordDetail
}

// parseDeepgramResponse parses a raw message and returns its type. Results
// without alternatives and undecodable messages yield an empty type.
func parseDeepgramResponse(data []byte) (result, string) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, ""
	}
	switch resp.Type {
	case "Metadata":
		return result{}, resp.Type
	case "Error":
		return result{text: resp.Description}, resp.Type
	case "Results":
	default:
		return result{}, ""
	}
	if len(resp.Channel.Alternatives) == 0 {
		return result{}, ""
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}
	return result{
		text:       alt.Transcript,
		isFinal:    resp.IsFinal,
		confidence: alt.Confidence,
		words:      words,
	}, resp.Type
}

// join concatenates final results. Confidence is the mean over results.
func join(finals []result) stt.Transcript {
	var (
		out   stt.Transcript
		parts []string
		conf  float64
	)
	for _, r := range finals {
		parts = append(parts, strings.TrimSpace(r.text))
		conf += r.confidence
		out.Words = append(out.Words, r.words...)
	}
	out.Text = strings.Join(parts, " ")
	if len(finals) > 0 {
		out.Confidence = conf / float64(len(finals))
	}
	return out
}
