// Package pipeline normalises encoded audio into the canonical artifact:
// decode, resample and downmix, WAV-encode, then judge the result against the
// quality rules.
//
// Stages run strictly in order on the caller's goroutine and each consumes
// the complete output of the previous one. A failure in any stage fails the
// whole [Processor.Process] call; no partial result is ever returned.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voicebank/internal/observe"
	"github.com/MrWong99/voicebank/pkg/audio"
	"github.com/MrWong99/voicebank/pkg/audio/decode"
	"github.com/MrWong99/voicebank/pkg/audio/quality"
)

// Stage names, used for span names and the stage metric attribute.
const (
	StageDecode   = "decode"
	StageResample = "resample"
	StageEncode   = "encode"
	StageValidate = "validate"
)

// Decoder turns an encoded blob into samples. Both [audio.Platform] and
// [decode.Decoder] satisfy it.
type Decoder interface {
	Decode(ctx context.Context, blob audio.Blob) (audio.SampleBuffer, error)
}

var _ Decoder = decode.Decoder{}

// DecodeError reports an input blob that is not decodable audio. It is fatal
// for the call and callers should ask for a different recording or file.
type DecodeError struct {
	MIMEType string
	Size     int
	Err      error
}

func (e *DecodeError) Error() string {
	mime := e.MIMEType
	if mime == "" {
		mime = "unknown type"
	}
	return fmt.Sprintf("pipeline: decode %s (%d bytes): %v", mime, e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Options selects the target format of a [Processor.Process] call. Zero
// fields fall back to the canonical 16 kHz mono.
type Options struct {
	TargetRate     int
	TargetChannels int
}

func (o Options) withDefaults() (Options, error) {
	if o.TargetRate == 0 {
		o.TargetRate = audio.CanonicalSampleRate
	}
	if o.TargetChannels == 0 {
		o.TargetChannels = audio.CanonicalChannels
	}
	if o.TargetRate < 0 || o.TargetChannels < 0 {
		return o, fmt.Errorf("pipeline: invalid target format %dHz/%dch", o.TargetRate, o.TargetChannels)
	}
	return o, nil
}

// Config configures a [Processor].
type Config struct {
	// Decoder turns blobs into samples. Defaults to decode.Decoder{}.
	Decoder Decoder

	// Thresholds are the quality rules applied to the final artifact. The
	// zero value selects [quality.DefaultThresholds].
	Thresholds quality.Thresholds

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Processor runs the normalisation pipeline. It holds no per-call state and
// is safe for concurrent use.
type Processor struct {
	decoder    Decoder
	thresholds quality.Thresholds
	metrics    *observe.Metrics
	log        *slog.Logger
}

// New validates cfg and returns a [Processor].
func New(cfg Config) (*Processor, error) {
	if cfg.Thresholds == (quality.Thresholds{}) {
		cfg.Thresholds = quality.DefaultThresholds()
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if cfg.Decoder == nil {
		cfg.Decoder = decode.Decoder{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Processor{
		decoder:    cfg.Decoder,
		thresholds: cfg.Thresholds,
		metrics:    cfg.Metrics,
		log:        cfg.Logger.With("component", "pipeline"),
	}, nil
}

// Thresholds returns the quality rules the processor applies.
func (p *Processor) Thresholds() quality.Thresholds { return p.thresholds }

// Process normalises blob to the target format and validates the result.
//
// A decode failure is returned as *[DecodeError]. Quality failures are not
// errors: the result carries IsValid=false and the reasons in Warnings, so
// callers must check IsValid explicitly. ctx is checked before every stage.
func (p *Processor) Process(ctx context.Context, blob audio.Blob, opts Options) (audio.ProcessingResult, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return audio.ProcessingResult{}, err
	}

	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "pipeline.process", trace.WithAttributes(
		attribute.String("audio.mime_type", blob.MIMEType),
		attribute.Int("audio.size_bytes", blob.Size()),
		attribute.Int("target.sample_rate", opts.TargetRate),
		attribute.Int("target.channels", opts.TargetChannels),
	))
	defer span.End()

	res, err := p.process(ctx, blob, opts)
	if err != nil {
		observe.FailSpan(span, err)
		return audio.ProcessingResult{}, err
	}
	p.metrics.PipelineDuration.Record(ctx, time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Bool("result.valid", res.IsValid),
		attribute.Int("result.warnings", len(res.Warnings)),
	)
	return res, nil
}

func (p *Processor) process(ctx context.Context, blob audio.Blob, opts Options) (audio.ProcessingResult, error) {
	log := observe.Logger(ctx).With("component", "pipeline")

	var src audio.SampleBuffer
	err := p.stage(ctx, StageDecode, func(ctx context.Context) error {
		var err error
		src, err = p.decoder.Decode(ctx, blob)
		if err != nil {
			return &DecodeError{MIMEType: blob.MIMEType, Size: blob.Size(), Err: err}
		}
		if err := src.Validate(); err != nil {
			return &DecodeError{MIMEType: blob.MIMEType, Size: blob.Size(), Err: fmt.Errorf("%w: %w", decode.ErrCorrupt, err)}
		}
		return nil
	})
	if err != nil {
		return audio.ProcessingResult{}, err
	}

	if log.Enabled(ctx, slog.LevelDebug) {
		pre := quality.Analyze(src)
		log.DebugContext(ctx, "decoded input",
			"format", src.Format().String(),
			"duration", pre.Duration,
			"rms", pre.RMSLevel,
			"peak", pre.PeakLevel,
		)
	}

	var out audio.SampleBuffer
	err = p.stage(ctx, StageResample, func(context.Context) error {
		var err error
		out, err = audio.Resample(src, opts.TargetRate, opts.TargetChannels)
		return err
	})
	if err != nil {
		return audio.ProcessingResult{}, fmt.Errorf("pipeline: resample: %w", err)
	}

	var wav []byte
	err = p.stage(ctx, StageEncode, func(context.Context) error {
		var err error
		wav, err = audio.EncodeWAV(out)
		return err
	})
	if err != nil {
		return audio.ProcessingResult{}, fmt.Errorf("pipeline: encode: %w", err)
	}

	var (
		metrics audio.AudioMetrics
		verdict quality.Verdict
	)
	err = p.stage(ctx, StageValidate, func(ctx context.Context) error {
		metrics = quality.Analyze(out)
		metrics.SizeBytes = len(wav)
		verdict = quality.Validate(metrics, p.thresholds)
		p.metrics.RecordValidation(ctx, verdict.Valid)
		return nil
	})
	if err != nil {
		return audio.ProcessingResult{}, fmt.Errorf("pipeline: validate: %w", err)
	}

	log.DebugContext(ctx, "normalised",
		"duration", metrics.Duration,
		"bytes", metrics.SizeBytes,
		"valid", verdict.Valid,
		"warnings", len(verdict.Warnings),
	)

	return audio.ProcessingResult{
		Blob:      audio.Blob{Data: wav, MIMEType: audio.MIMETypeWAV},
		Metrics:   metrics,
		IsValid:   verdict.Valid,
		Warnings:  verdict.Warnings,
		Converted: true,
	}, nil
}

// stage runs fn inside a child span and records its latency. A cancelled
// ctx fails the stage before fn runs.
func (p *Processor) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := observe.StartSpan(ctx, "pipeline."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	p.metrics.RecordStage(ctx, name, time.Since(start))
	if err != nil {
		observe.FailSpan(span, err)
	}
	return err
}

// IsDecodeError reports whether err was caused by undecodable input.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
