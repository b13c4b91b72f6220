// Package ingest turns the two ways audio enters the system, a live capture
// or a selected file, into one [audio.ProcessingResult].
//
// Live captures always go through the normalisation pipeline. Uploaded files
// are first checked with [NeedsConversion]: already-canonical WAVs skip the
// decode/re-encode round trip and are passed through with coarse metadata.
// When the pipeline fails on an upload whose metadata looks plausible, the
// controller may forward the original bytes instead, flagged Unvalidated.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	gowav "github.com/go-audio/wav"

	"github.com/MrWong99/voicebank/internal/capture"
	"github.com/MrWong99/voicebank/internal/observe"
	"github.com/MrWong99/voicebank/internal/pipeline"
	"github.com/MrWong99/voicebank/pkg/audio"
)

// Advisory warnings attached to results that skipped the quality rules.
const (
	WarnPassthrough = "file already in canonical format; quality was not re-analyzed"
	WarnFallback    = "processing failed; the original file was forwarded without validation"
)

// Ingestion paths reported in metrics and logs.
const (
	PathConverted   = "converted"
	PathPassthrough = "passthrough"
	PathFallback    = "fallback"
	PathFailed      = "failed"
)

// Processor is the normalisation pipeline as seen by the controller.
// *[pipeline.Processor] satisfies it.
type Processor interface {
	Process(ctx context.Context, blob audio.Blob, opts pipeline.Options) (audio.ProcessingResult, error)
}

var _ Processor = (*pipeline.Processor)(nil)

// Source is either a [Recording] or a [File].
type Source interface {
	sourceKind() string
}

// Recording is a finished live capture.
type Recording struct {
	Capture capture.Capture
}

func (Recording) sourceKind() string { return "recording" }

// File is a user-selected file.
type File struct {
	// Name is the original file name, used for logging only.
	Name string

	Blob audio.Blob

	// Metadata is the decoded format when the caller already knows it, or nil.
	Metadata *audio.Format
}

func (File) sourceKind() string { return "file" }

// NeedsConversion reports whether f must go through the pipeline.
//
// The known format is f.Metadata, or failing that the format in a parsable
// WAV header. With a known format, conversion is needed unless it is already
// 16 kHz mono. Otherwise the MIME type decides: anything not labelled as WAV
// is converted. That last check is a heuristic and a mislabelled file can
// skip normalisation.
func NeedsConversion(f File) bool {
	if meta := knownFormat(f); meta != nil {
		return meta.SampleRate != audio.CanonicalSampleRate || meta.Channels != audio.CanonicalChannels
	}
	return !isWAVType(f.Blob.MIMEType)
}

// knownFormat returns the caller's metadata or the format read from a WAV
// header, or nil when neither is available.
func knownFormat(f File) *audio.Format {
	if f.Metadata != nil {
		return f.Metadata
	}
	if !audio.IsWAV(f.Blob.Data) {
		return nil
	}
	dec := gowav.NewDecoder(bytes.NewReader(f.Blob.Data))
	if !dec.IsValidFile() || dec.SampleRate == 0 || dec.NumChans == 0 {
		return nil
	}
	return &audio.Format{SampleRate: int(dec.SampleRate), Channels: int(dec.NumChans)}
}

func isWAVType(mimeType string) bool {
	return strings.Contains(strings.ToLower(mimeType), "wav")
}

// Config configures a [Controller].
type Config struct {
	// Processor runs the pipeline. Required.
	Processor Processor

	// Options is the target format handed to the pipeline. Zero fields select
	// the canonical format.
	Options pipeline.Options

	// AllowFallback enables forwarding the original bytes of an upload when
	// the pipeline fails on it.
	AllowFallback bool

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Controller is the single ingestion entry point. Safe for concurrent use.
type Controller struct {
	proc          Processor
	opts          pipeline.Options
	allowFallback bool
	metrics       *observe.Metrics
	log           *slog.Logger
}

// New returns a [Controller].
func New(cfg Config) (*Controller, error) {
	if cfg.Processor == nil {
		return nil, errors.New("ingest: processor is required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		proc:          cfg.Processor,
		opts:          cfg.Options,
		allowFallback: cfg.AllowFallback,
		metrics:       cfg.Metrics,
		log:           cfg.Logger.With("component", "ingest"),
	}, nil
}

// Ingest dispatches on the kind of src.
func (c *Controller) Ingest(ctx context.Context, src Source) (audio.ProcessingResult, error) {
	switch s := src.(type) {
	case Recording:
		return c.IngestRecording(ctx, s.Capture)
	case *Recording:
		return c.IngestRecording(ctx, s.Capture)
	case File:
		return c.IngestFile(ctx, s)
	case *File:
		return c.IngestFile(ctx, *s)
	default:
		return audio.ProcessingResult{}, fmt.Errorf("ingest: unsupported source %T", src)
	}
}

// IngestRecording normalises a live capture. Captures are never already
// canonical, so the pipeline always runs and failures propagate.
func (c *Controller) IngestRecording(ctx context.Context, capt capture.Capture) (audio.ProcessingResult, error) {
	res, err := c.proc.Process(ctx, capt.Blob, c.opts)
	if err != nil {
		c.metrics.RecordIngestion(ctx, "recording", PathFailed)
		return audio.ProcessingResult{}, fmt.Errorf("ingest: recording: %w", err)
	}
	c.metrics.RecordIngestion(ctx, "recording", PathConverted)
	c.log.DebugContext(ctx, "recording ingested", "device", capt.Device.ID, "valid", res.IsValid)
	return res, nil
}

// IngestFile normalises an uploaded file, passing it through untouched when
// [NeedsConversion] says it is already canonical.
func (c *Controller) IngestFile(ctx context.Context, f File) (audio.ProcessingResult, error) {
	log := c.log.With("file", f.Name, "mime", f.Blob.MIMEType, "bytes", f.Blob.Size())
	f.Metadata = knownFormat(f)

	if !NeedsConversion(f) {
		c.metrics.RecordIngestion(ctx, "file", PathPassthrough)
		log.DebugContext(ctx, "file passed through without conversion")
		return passthrough(f, WarnPassthrough), nil
	}

	res, err := c.proc.Process(ctx, f.Blob, c.opts)
	if err == nil {
		c.metrics.RecordIngestion(ctx, "file", PathConverted)
		return res, nil
	}

	if c.allowFallback && plausible(f.Metadata) && ctx.Err() == nil {
		c.metrics.RecordIngestion(ctx, "file", PathFallback)
		log.WarnContext(ctx, "pipeline failed, forwarding original file unvalidated", "err", err)
		return passthrough(f, WarnFallback), nil
	}
	c.metrics.RecordIngestion(ctx, "file", PathFailed)
	return audio.ProcessingResult{}, fmt.Errorf("ingest: file %q: %w", f.Name, err)
}

func plausible(meta *audio.Format) bool {
	return meta != nil && meta.SampleRate > 0 && meta.Channels > 0
}

// passthrough builds the unvalidated result for bytes that did not go
// through the pipeline. Metadata comes from the caller when known, otherwise
// from the WAV header if there is one.
func passthrough(f File, warning string) audio.ProcessingResult {
	m := audio.AudioMetrics{SizeBytes: f.Blob.Size()}
	if f.Metadata != nil {
		m.SampleRate = f.Metadata.SampleRate
		m.Channels = f.Metadata.Channels
	}
	if audio.IsWAV(f.Blob.Data) {
		dec := gowav.NewDecoder(bytes.NewReader(f.Blob.Data))
		if dec.IsValidFile() {
			if m.SampleRate == 0 {
				m.SampleRate = int(dec.SampleRate)
				m.Channels = int(dec.NumChans)
			}
			if d, err := dec.Duration(); err == nil {
				m.Duration = d
			}
		}
	}

	mimeType := f.Blob.MIMEType
	if mimeType == "" && audio.IsWAV(f.Blob.Data) {
		mimeType = audio.MIMETypeWAV
	}
	return audio.ProcessingResult{
		Blob:        audio.Blob{Data: f.Blob.Data, MIMEType: mimeType},
		Metrics:     m,
		IsValid:     true,
		Warnings:    []string{warning},
		Unvalidated: true,
	}
}
