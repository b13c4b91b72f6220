package resilience

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/voicebank/internal/observe"
	"github.com/MrWong99/voicebank/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker.
type STTFallback struct {
	group   *FallbackGroup[*instrumented]
	metrics *observe.Metrics
}

// instrumented counts every attempt made against one backend.
type instrumented struct {
	name    string
	p       stt.Provider
	metrics *observe.Metrics
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
// A nil metrics uses [observe.DefaultMetrics].
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig, metrics *observe.Metrics) *STTFallback {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &STTFallback{
		group:   NewFallbackGroup(&instrumented{name: primaryName, p: primary, metrics: metrics}, primaryName, cfg),
		metrics: metrics,
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, &instrumented{name: name, p: provider, metrics: f.metrics})
}

// Status reports the breaker state of every backend in try order.
func (f *STTFallback) Status() []EntryStatus { return f.group.Status() }

// Healthy reports whether any backend would currently accept a request.
func (f *STTFallback) Healthy() bool { return f.group.Healthy() }

// Transcribe sends req to the first healthy backend, falling over to the next
// on error. Each attempt is counted per backend; the span records which
// backend answered.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	ctx, span := observe.StartSpan(ctx, "stt.transcribe",
		trace.WithAttributes(
			attribute.Int("audio.bytes", req.Audio.Size()),
			attribute.String("stt.language", req.Language),
		),
	)
	defer span.End()

	tr, name, err := ExecuteWithResult(ctx, f.group, func(ctx context.Context, p *instrumented) (stt.Transcript, error) {
		return p.transcribe(ctx, req)
	})
	if err != nil {
		observe.FailSpan(span, err)
		return stt.Transcript{}, err
	}
	span.SetAttributes(attribute.String("stt.provider", name))
	return tr, nil
}

func (p *instrumented) transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	start := time.Now()
	tr, err := p.p.Transcribe(ctx, req)
	p.metrics.STTDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("provider", p.name)),
	)
	if err != nil {
		p.metrics.RecordProviderRequest(ctx, p.name, "stt", "error")
		p.metrics.RecordProviderError(ctx, p.name, "stt")
		return stt.Transcript{}, err
	}
	p.metrics.RecordProviderRequest(ctx, p.name, "stt", "ok")
	return tr, nil
}
