// Package observe wires OpenTelemetry metrics and traces, request-scoped
// logging and the HTTP middleware that ties them together. Metrics are
// exported to Prometheus by [InitProvider]; tests build isolated instruments
// with [NewMetrics] on an SDK reader.
package observe

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/voicebank"

// Metrics holds the voicebank instruments. Safe for concurrent use.
type Metrics struct {
	// Latencies in seconds. PipelineStageDuration carries a "stage"
	// attribute (decode, resample, encode, validate).
	PipelineStageDuration metric.Float64Histogram
	PipelineDuration      metric.Float64Histogram
	STTDuration           metric.Float64Histogram
	CaptureDuration       metric.Float64Histogram

	ProviderRequests metric.Int64Counter // provider, kind, status
	ProviderErrors   metric.Int64Counter // provider, kind
	Captures         metric.Int64Counter // outcome
	Ingestions       metric.Int64Counter // source, path
	Validations      metric.Int64Counter // valid
	Submissions      metric.Int64Counter // status

	ActiveCaptures metric.Int64UpDownCounter

	// HTTP middleware. Duration is split by method, route and status_class;
	// body size by route.
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestBodySize metric.Int64Histogram
}

// Bucket boundaries: latencies in seconds.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// Upload sizes, up to the default upload cap.
var sizeBuckets = []float64{
	16 << 10, 64 << 10, 256 << 10, 1 << 20, 4 << 20, 16 << 20, 32 << 20,
}

// Recording lengths in seconds.
var captureBuckets = []float64{
	0.5, 1, 2, 5, 10, 15, 20, 30, 60,
}

// builder creates instruments on one meter and keeps the first error.
type builder struct {
	meter metric.Meter
	err   error
}

func (b *builder) seconds(name, desc string, buckets []float64) metric.Float64Histogram {
	h, err := b.meter.Float64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	b.keep(err)
	return h
}

func (b *builder) bytes(name, desc string, buckets []float64) metric.Int64Histogram {
	h, err := b.meter.Int64Histogram(name,
		metric.WithDescription(desc),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	b.keep(err)
	return h
}

func (b *builder) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.keep(err)
	return c
}

func (b *builder) gauge(name, desc string) metric.Int64UpDownCounter {
	g, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.keep(err)
	return g
}

func (b *builder) keep(err error) {
	if b.err == nil && err != nil {
		b.err = fmt.Errorf("observe: create instrument: %w", err)
	}
}

// NewMetrics registers every voicebank instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &builder{meter: mp.Meter(meterName)}
	met := &Metrics{
		PipelineStageDuration: b.seconds("voicebank.pipeline.stage.duration",
			"Latency of a single normalisation stage.", latencyBuckets),
		PipelineDuration: b.seconds("voicebank.pipeline.duration",
			"End-to-end latency of audio normalisation.", latencyBuckets),
		STTDuration: b.seconds("voicebank.stt.duration",
			"Latency of speech-to-text transcription.", latencyBuckets),
		CaptureDuration: b.seconds("voicebank.capture.duration",
			"Length of completed microphone captures.", captureBuckets),

		ProviderRequests: b.counter("voicebank.provider.requests",
			"Provider API requests by provider, kind and status."),
		ProviderErrors: b.counter("voicebank.provider.errors",
			"Provider errors by provider and kind."),
		Captures:    b.counter("voicebank.captures", "Capture attempts by outcome."),
		Ingestions:  b.counter("voicebank.ingestions", "Ingestions by source and processing path."),
		Validations: b.counter("voicebank.validations", "Quality verdicts by validity."),
		Submissions: b.counter("voicebank.submissions", "Submission persistence attempts by status."),

		ActiveCaptures: b.gauge("voicebank.active_captures", "Captures currently recording."),

		HTTPRequestDuration: b.seconds("voicebank.http.request.duration",
			"HTTP request latency by method, route and status class.", latencyBuckets),
		HTTPRequestBodySize: b.bytes("voicebank.http.request.body.size",
			"Size of HTTP request bodies by route.", sizeBuckets),
	}
	if b.err != nil {
		return nil, b.err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics lazily builds a shared [Metrics] on the global meter
// provider. It panics if an instrument cannot be created.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError counts one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordStage records the latency of one pipeline stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.PipelineStageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordCapture records a finished capture attempt. d is only observed for
// the "completed" outcome.
func (m *Metrics) RecordCapture(ctx context.Context, outcome string, d time.Duration) {
	m.Captures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
	if outcome == "completed" {
		m.CaptureDuration.Record(ctx, d.Seconds())
	}
}

// RecordIngestion records which processing path an ingestion took.
func (m *Metrics) RecordIngestion(ctx context.Context, source, path string) {
	m.Ingestions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("source", source),
			attribute.String("path", path),
		),
	)
}

// RecordValidation records a quality verdict.
func (m *Metrics) RecordValidation(ctx context.Context, valid bool) {
	m.Validations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("valid", strconv.FormatBool(valid))),
	)
}

// RecordSubmission records a persistence attempt.
func (m *Metrics) RecordSubmission(ctx context.Context, status string) {
	m.Submissions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
