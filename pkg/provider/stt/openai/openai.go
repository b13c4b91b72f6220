// Package openai provides an STT provider backed by the OpenAI audio
// transcription API (or any server exposing a compatible
// /audio/transcriptions endpoint).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/voicebank/pkg/audio"
	"github.com/MrWong99/voicebank/pkg/provider/stt"
)

const providerName = "openai"

// DefaultModel is the default transcription model.
const DefaultModel = oai.AudioModelWhisper1

// maxUploadBytes is the API's documented upload limit.
const maxUploadBytes = 25 << 20

// Ensure Provider implements the stt.Provider interface.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	maxRetries   int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the client retries 429 and 5xx responses.
// Negative keeps the client default.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// New constructs a new OpenAI transcription Provider.
// If model is empty, DefaultModel (whisper-1) is used.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// ModelID returns the configured model.
func (p *Provider) ModelID() string { return p.model }

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if err := stt.CheckSize(providerName, req.Audio, maxUploadBytes); err != nil {
		return stt.Transcript{}, err
	}

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(req.Audio.Data), fileName(req.Audio), contentType(req.Audio)),
		Model:          p.model,
		ResponseFormat: oai.AudioResponseFormatJSON,
	}
	if lang := baseLanguage(req.Language); lang != "" {
		params.Language = param.NewOpt(lang)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return stt.Transcript{}, stt.NewHTTPError(providerName, apiErr.StatusCode, []byte(apiErr.Message))
		}
		return stt.Transcript{}, fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return stt.Transcript{
		Text:     strings.TrimSpace(resp.Text),
		Language: req.Language,
	}, nil
}

// fileName picks an extension the API recognises from the blob's type.
func fileName(b audio.Blob) string {
	mt := strings.ToLower(b.MIMEType)
	switch {
	case audio.IsWAV(b.Data), strings.Contains(mt, "wav"):
		return "audio.wav"
	case strings.Contains(mt, "flac"):
		return "audio.flac"
	case strings.Contains(mt, "ogg"):
		return "audio.ogg"
	case strings.Contains(mt, "webm"):
		return "audio.webm"
	case strings.Contains(mt, "mpeg"), strings.Contains(mt, "mp3"):
		return "audio.mp3"
	default:
		return "audio.wav"
	}
}

func contentType(b audio.Blob) string {
	if b.MIMEType != "" {
		return b.MIMEType
	}
	return audio.MIMETypeWAV
}

// baseLanguage reduces a BCP-47 tag to the ISO-639-1 code the API expects.
func baseLanguage(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
