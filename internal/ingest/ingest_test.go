package ingest_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/voicebank/internal/capture"
	"github.com/MrWong99/voicebank/internal/ingest"
	"github.com/MrWong99/voicebank/internal/observe"
	"github.com/MrWong99/voicebank/internal/pipeline"
	"github.com/MrWong99/voicebank/pkg/audio"
	"github.com/MrWong99/voicebank/pkg/audio/decode"
)

// ─── fake processor ───────────────────────────────────────────────────────────

type fakeProcessor struct {
	mu     sync.Mutex
	result audio.ProcessingResult
	err    error
	calls  []audio.Blob
}

func (f *fakeProcessor) Process(_ context.Context, blob audio.Blob, _ pipeline.Options) (audio.ProcessingResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, blob)
	return f.result, f.err
}

func (f *fakeProcessor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newController(t *testing.T, p ingest.Processor, allowFallback bool) *ingest.Controller {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	c, err := ingest.New(ingest.Config{Processor: p, AllowFallback: allowFallback, Metrics: m})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func canonicalWAV(t *testing.T, seconds float64) []byte {
	t.Helper()
	return toneWAV(t, 16000, 1, seconds, 0.5)
}

// toneWAV encodes a 220 Hz tone of the given amplitude on every channel.
func toneWAV(t *testing.T, rate, channels int, seconds float64, amp float64) []byte {
	t.Helper()
	frames := int(float64(rate) * seconds)
	buf := audio.NewSampleBuffer(rate, channels, frames)
	for c := range channels {
		for i := range frames {
			buf.Channels[c][i] = float32(amp * math.Sin(2*math.Pi*220*float64(i)/float64(rate)))
		}
	}
	data, err := audio.EncodeWAV(buf)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	return data
}

func TestNeedsConversion(t *testing.T) {
	t.Parallel()
	stereo44k := toneWAV(t, 44100, 2, 0.1, 0.5)
	canonical := canonicalWAV(t, 0.1)
	tests := []struct {
		name string
		file ingest.File
		want bool
	}{
		{name: "canonical metadata", file: ingest.File{Metadata: &audio.Format{SampleRate: 16000, Channels: 1}, Blob: audio.Blob{MIMEType: "audio/mpeg"}}, want: false},
		{name: "wrong rate", file: ingest.File{Metadata: &audio.Format{SampleRate: 44100, Channels: 1}, Blob: audio.Blob{MIMEType: "audio/wav"}}, want: true},
		{name: "wrong channels", file: ingest.File{Metadata: &audio.Format{SampleRate: 16000, Channels: 2}}, want: true},
		{name: "no metadata wav", file: ingest.File{Blob: audio.Blob{MIMEType: "audio/wav"}}, want: false},
		{name: "no metadata x-wav", file: ingest.File{Blob: audio.Blob{MIMEType: "audio/x-WAV"}}, want: false},
		{name: "no metadata ogg", file: ingest.File{Blob: audio.Blob{MIMEType: "audio/ogg"}}, want: true},
		{name: "no metadata no mime", file: ingest.File{}, want: true},
		{name: "header says 44.1k stereo", file: ingest.File{Blob: audio.Blob{Data: stereo44k, MIMEType: "audio/wav"}}, want: true},
		{name: "header canonical, unlabelled", file: ingest.File{Blob: audio.Blob{Data: canonical}}, want: false},
		{name: "metadata wins over header", file: ingest.File{Blob: audio.Blob{Data: stereo44k, MIMEType: "audio/wav"}, Metadata: &audio.Format{SampleRate: 16000, Channels: 1}}, want: false},
		{name: "unparsable wav falls back to mime", file: ingest.File{Blob: audio.Blob{Data: []byte("RIFF\x00\x00\x00\x00WAVE"), MIMEType: "audio/wav"}}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ingest.NeedsConversion(tt.file); got != tt.want {
				t.Errorf("NeedsConversion = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIngestFile_Passthrough(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{}
	c := newController(t, proc, false)
	data := canonicalWAV(t, 2)

	res, err := c.IngestFile(context.Background(), ingest.File{Name: "clip.wav", Blob: audio.Blob{Data: data, MIMEType: "audio/wav"}})
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if proc.callCount() != 0 {
		t.Error("pipeline ran for a canonical WAV")
	}
	if !bytes.Equal(res.Blob.Data, data) {
		t.Error("passthrough changed the bytes")
	}
	if !res.IsValid || !res.Unvalidated || res.Converted {
		t.Errorf("flags: valid=%v unvalidated=%v converted=%v", res.IsValid, res.Unvalidated, res.Converted)
	}
	if len(res.Warnings) != 1 || res.Warnings[0] != ingest.WarnPassthrough {
		t.Errorf("warnings: %v", res.Warnings)
	}
	m := res.Metrics
	if m.SampleRate != 16000 || m.Channels != 1 || m.SizeBytes != len(data) {
		t.Errorf("metrics: %+v", m)
	}
	if m.Duration < 1900*time.Millisecond || m.Duration > 2100*time.Millisecond {
		t.Errorf("duration: got %s, want ~2s", m.Duration)
	}
}

func TestIngestFile_Converts(t *testing.T) {
	t.Parallel()
	want := audio.ProcessingResult{Blob: audio.Blob{Data: []byte("norm"), MIMEType: audio.MIMETypeWAV}, IsValid: true, Converted: true}
	proc := &fakeProcessor{result: want}
	c := newController(t, proc, false)

	res, err := c.IngestFile(context.Background(), ingest.File{Blob: audio.Blob{Data: []byte("ogg"), MIMEType: "audio/ogg"}})
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if proc.callCount() != 1 || !bytes.Equal(res.Blob.Data, want.Blob.Data) {
		t.Errorf("result not from pipeline: %+v", res)
	}
}

func TestIngestFile_Fallback(t *testing.T) {
	t.Parallel()
	failure := &pipeline.DecodeError{MIMEType: "audio/flac", Err: decode.ErrCorrupt}
	meta := &audio.Format{SampleRate: 44100, Channels: 2}
	original := []byte("fLaC-not-really")

	tests := []struct {
		name          string
		allowFallback bool
		meta          *audio.Format
		wantFallback  bool
	}{
		{name: "plausible metadata", allowFallback: true, meta: meta, wantFallback: true},
		{name: "fallback disabled", allowFallback: false, meta: meta},
		{name: "no metadata", allowFallback: true},
		{name: "implausible metadata", allowFallback: true, meta: &audio.Format{SampleRate: 0, Channels: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newController(t, &fakeProcessor{err: failure}, tt.allowFallback)
			res, err := c.IngestFile(context.Background(), ingest.File{
				Name:     "take.flac",
				Blob:     audio.Blob{Data: original, MIMEType: "audio/flac"},
				Metadata: tt.meta,
			})
			if !tt.wantFallback {
				var de *pipeline.DecodeError
				if !errors.As(err, &de) {
					t.Fatalf("got %v, want wrapped *DecodeError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("IngestFile: %v", err)
			}
			if !res.Unvalidated || !bytes.Equal(res.Blob.Data, original) || res.Blob.MIMEType != "audio/flac" {
				t.Errorf("fallback result: %+v", res)
			}
			if len(res.Warnings) != 1 || res.Warnings[0] != ingest.WarnFallback {
				t.Errorf("warnings: %v", res.Warnings)
			}
			if res.Metrics.SampleRate != 44100 || res.Metrics.Channels != 2 || res.Metrics.SizeBytes != len(original) {
				t.Errorf("metrics: %+v", res.Metrics)
			}
		})
	}
}

func TestIngestFile_NoFallbackOnCancel(t *testing.T) {
	t.Parallel()
	c := newController(t, &fakeProcessor{err: context.Canceled}, true)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.IngestFile(ctx, ingest.File{Blob: audio.Blob{MIMEType: "audio/ogg"}, Metadata: &audio.Format{SampleRate: 48000, Channels: 1}})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestIngestRecording_AlwaysConverts(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{result: audio.ProcessingResult{IsValid: true, Converted: true}}
	c := newController(t, proc, true)

	// Even a canonical WAV blob from a capture goes through the pipeline.
	capt := capture.Capture{Blob: audio.Blob{Data: canonicalWAV(t, 1), MIMEType: audio.MIMETypeWAV}}
	if _, err := c.Ingest(context.Background(), ingest.Recording{Capture: capt}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if proc.callCount() != 1 {
		t.Errorf("pipeline calls: %d, want 1", proc.callCount())
	}

	proc.err = errors.New("boom")
	if _, err := c.IngestRecording(context.Background(), capt); err == nil {
		t.Error("recording failure did not propagate")
	}
}

func TestIngest_Dispatch(t *testing.T) {
	t.Parallel()
	proc := &fakeProcessor{result: audio.ProcessingResult{Converted: true}}
	c := newController(t, proc, false)

	res, err := c.Ingest(context.Background(), &ingest.File{Blob: audio.Blob{Data: []byte("x"), MIMEType: "audio/ogg"}})
	if err != nil || !res.Converted {
		t.Fatalf("file via pointer: res=%+v err=%v", res, err)
	}
	if _, err := c.Ingest(context.Background(), nil); err == nil {
		t.Error("nil source accepted")
	}
}

func TestIngest_EndToEndWithPipeline(t *testing.T) {
	t.Parallel()
	p, err := pipeline.New(pipeline.Config{})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	c := newController(t, p, false)

	// 16 kHz mono WAV labelled with metadata saying 48 kHz forces conversion;
	// the decoder trusts the header, so the artifact is still canonical.
	res, err := c.IngestFile(context.Background(), ingest.File{
		Blob:     audio.Blob{Data: canonicalWAV(t, 2), MIMEType: "audio/wav"},
		Metadata: &audio.Format{SampleRate: 48000, Channels: 1},
	})
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if !res.Converted || res.Unvalidated || !res.IsValid {
		t.Errorf("result: %+v", res)
	}
	if res.Metrics.SampleRate != 16000 {
		t.Errorf("rate: %d", res.Metrics.SampleRate)
	}
}

func TestIngestFile_NonCanonicalWAVIsValidated(t *testing.T) {
	t.Parallel()
	p, err := pipeline.New(pipeline.Config{})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	c := newController(t, p, false)

	res, err := c.IngestFile(context.Background(), ingest.File{
		Name: "short.wav",
		Blob: audio.Blob{Data: toneWAV(t, 44100, 2, 0.5, 0), MIMEType: "audio/wav"},
	})
	if err != nil {
		t.Fatalf("IngestFile: %v", err)
	}
	if !res.Converted || res.Unvalidated {
		t.Fatalf("converted=%v unvalidated=%v, want the pipeline to run", res.Converted, res.Unvalidated)
	}
	if res.IsValid {
		t.Error("a silent half-second clip passed validation")
	}
	if res.Metrics.SampleRate != 16000 || res.Metrics.Channels != 1 {
		t.Errorf("format = %d Hz / %d ch", res.Metrics.SampleRate, res.Metrics.Channels)
	}
	for _, w := range res.Warnings {
		if w == ingest.WarnPassthrough {
			t.Errorf("passthrough warning on a converted file: %v", res.Warnings)
		}
	}
}

func TestNew_RequiresProcessor(t *testing.T) {
	t.Parallel()
	if _, err := ingest.New(ingest.Config{}); err == nil {
		t.Error("expected error")
	}
}
