// Package mock provides in-memory mock implementations of the [audio.Platform],
// [audio.InputStream], [audio.Recorder], and [audio.Analyzer] interfaces for
// use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	rec := mock.NewRecorder("audio/ogg")
//	rec.ChunksOnStop = [][]byte{[]byte("tail")}
//	stream := &mock.Stream{RecordResult: rec}
//	platform := &mock.Platform{OpenResult: stream}
//	s, err := platform.Open(ctx, "")
//	r, err := s.Record(250 * time.Millisecond)
//	rec.Emit([]byte("head"))
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voicebank/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Platform    = (*Platform)(nil)
	_ audio.InputStream = (*Stream)(nil)
	_ audio.Recorder    = (*Recorder)(nil)
	_ audio.Analyzer    = (*Analyzer)(nil)
)

// ─── Recorder ─────────────────────────────────────────────────────────────────

// Recorder is a scriptable [audio.Recorder]. Create it with [NewRecorder].
//
// Tests push data with [Recorder.Emit] and end the recording either through
// Stop (which emits ChunksOnStop and closes the channel) or [Recorder.Finish]
// (which simulates the host finalising the recorder on its own).
type Recorder struct {
	mu sync.Mutex

	// MIME is returned by MIMEType.
	MIME string

	// ChunksOnStop are delivered, in order, when Stop finalises the recorder.
	ChunksOnStop [][]byte

	// StopError is returned by Stop. When non-nil, Stop does NOT finalise the
	// recorder; the chunk channel stays open until Finish or the owning
	// stream's Close.
	StopError error

	// StateOverride, when non-nil, is returned by State instead of the real
	// state.
	StateOverride *audio.RecorderState

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	ch     chan []byte
	state  audio.RecorderState
	err    error
	closed bool
}

// NewRecorder returns an active recorder producing blobs of type mimeType.
func NewRecorder(mimeType string) *Recorder {
	return &Recorder{
		MIME:  mimeType,
		ch:    make(chan []byte, 64),
		state: audio.RecorderRecording,
	}
}

// Emit delivers chunk as if the host had flushed a timeslice. It is a no-op
// after the recorder has been finalised.
func (r *Recorder) Emit(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.ch <- chunk
}

// Finish finalises the recorder with err (nil for a clean stop) and closes
// the chunk channel. Only the first call has an effect.
func (r *Recorder) Finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishLocked(err)
}

func (r *Recorder) finishLocked(err error) {
	if r.closed {
		return
	}
	r.closed = true
	r.state = audio.RecorderInactive
	r.err = err
	close(r.ch)
}

// Chunks implements [audio.Recorder].
func (r *Recorder) Chunks() <-chan []byte { return r.ch }

// MIMEType implements [audio.Recorder].
func (r *Recorder) MIMEType() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.MIME
}

// State implements [audio.Recorder].
func (r *Recorder) State() audio.RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.StateOverride != nil {
		return *r.StateOverride
	}
	return r.state
}

// Stop implements [audio.Recorder].
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CallCountStop++
	if r.StopError != nil {
		return r.StopError
	}
	if r.closed {
		return nil
	}
	for _, c := range r.ChunksOnStop {
		r.ch <- c
	}
	r.finishLocked(nil)
	return nil
}

// Err implements [audio.Recorder].
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// StopCalls returns the number of Stop invocations.
func (r *Recorder) StopCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CallCountStop
}

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.InputStream].
type Stream struct {
	mu sync.Mutex

	// DeviceResult is returned by Device.
	DeviceResult audio.Device

	// FormatResult is returned by Format.
	FormatResult audio.Format

	// RecordResult is returned by Record. When nil, Record creates a fresh
	// recorder of type "audio/ogg".
	RecordResult *Recorder

	// RecordError is returned by Record.
	RecordError error

	// CloseError is returned by Close.
	CloseError error

	// RecordTimeslices records the timeslice of every Record call.
	RecordTimeslices []time.Duration

	// CallCountClose records how many times Close was called.
	CallCountClose int

	active *Recorder
	closed bool
}

// Device implements [audio.InputStream].
func (s *Stream) Device() audio.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DeviceResult
}

// Format implements [audio.InputStream].
func (s *Stream) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FormatResult
}

// Record implements [audio.InputStream].
func (s *Stream) Record(timeslice time.Duration) (audio.Recorder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RecordTimeslices = append(s.RecordTimeslices, timeslice)
	if s.RecordError != nil {
		return nil, s.RecordError
	}
	if s.closed {
		return nil, audio.ErrStreamClosed
	}
	rec := s.RecordResult
	if rec == nil {
		rec = NewRecorder("audio/ogg")
	}
	s.active = rec
	return rec, nil
}

// Close implements [audio.InputStream]. The active recorder, if any, is
// finalised. Every call is counted so tests can detect double releases.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	rec := s.active
	s.active = nil
	s.closed = true
	err := s.CloseError
	s.mu.Unlock()
	if rec != nil {
		rec.Finish(nil)
	}
	return err
}

// Closed reports whether Close has been called at least once.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CloseCalls returns the number of Close invocations.
func (s *Stream) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose
}

// ─── Analyzer ─────────────────────────────────────────────────────────────────

// Analyzer is a mock implementation of [audio.Analyzer].
type Analyzer struct {
	mu sync.Mutex

	// Bins is copied into the destination slice by FrequencyBins.
	Bins []byte

	// CallCountFrequencyBins records how many times FrequencyBins was called.
	CallCountFrequencyBins int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// SetBins replaces the magnitudes returned by subsequent FrequencyBins calls.
func (a *Analyzer) SetBins(bins []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Bins = append([]byte(nil), bins...)
}

// FrequencyBins implements [audio.Analyzer].
func (a *Analyzer) FrequencyBins(dst []byte) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CallCountFrequencyBins++
	return append(dst[:0], a.Bins...)
}

// Close implements [audio.Analyzer].
func (a *Analyzer) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.CallCountClose++
	return nil
}

// CloseCalls returns the number of Close invocations.
func (a *Analyzer) CloseCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.CallCountClose
}

// FrequencyBinsCalls returns the number of FrequencyBins invocations.
func (a *Analyzer) FrequencyBinsCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.CallCountFrequencyBins
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Platform.Open] invocation.
type OpenCall struct {
	// DeviceID is the deviceID argument passed to Open.
	DeviceID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// DevicesResult is returned by Devices.
	DevicesResult []audio.Device

	// DevicesError is returned by Devices.
	DevicesError error

	// OpenResult is the stream returned by Open. When nil, Open returns a new
	// empty [Stream].
	OpenResult *Stream

	// OpenError is returned by Open.
	OpenError error

	// OpenCalls records all Open invocations.
	OpenCalls []OpenCall

	// AnalyzerResult is returned by NewAnalyzer. When nil, NewAnalyzer returns a
	// new empty [Analyzer].
	AnalyzerResult *Analyzer

	// AnalyzerError is returned by NewAnalyzer.
	AnalyzerError error

	// AnalyzerFFTSizes records the fftSize of every NewAnalyzer call.
	AnalyzerFFTSizes []int

	// DecodeFunc, when set, handles Decode. Otherwise DecodeResult and
	// DecodeError are returned.
	DecodeFunc func(ctx context.Context, blob audio.Blob) (audio.SampleBuffer, error)

	// DecodeResult is returned by Decode when DecodeFunc is nil.
	DecodeResult audio.SampleBuffer

	// DecodeError is returned by Decode when DecodeFunc is nil.
	DecodeError error

	// DecodeCalls records the blob of every Decode call.
	DecodeCalls []audio.Blob
}

// Devices implements [audio.Platform].
func (p *Platform) Devices(_ context.Context) ([]audio.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DevicesResult, p.DevicesError
}

// Open implements [audio.Platform].
func (p *Platform) Open(_ context.Context, deviceID string) (audio.InputStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OpenCalls = append(p.OpenCalls, OpenCall{DeviceID: deviceID})
	if p.OpenError != nil {
		return nil, p.OpenError
	}
	if p.OpenResult == nil {
		p.OpenResult = &Stream{}
	}
	return p.OpenResult, nil
}

// NewAnalyzer implements [audio.Platform].
func (p *Platform) NewAnalyzer(_ audio.InputStream, fftSize int) (audio.Analyzer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AnalyzerFFTSizes = append(p.AnalyzerFFTSizes, fftSize)
	if p.AnalyzerError != nil {
		return nil, p.AnalyzerError
	}
	if p.AnalyzerResult == nil {
		p.AnalyzerResult = &Analyzer{}
	}
	return p.AnalyzerResult, nil
}

// Decode implements [audio.Platform].
func (p *Platform) Decode(ctx context.Context, blob audio.Blob) (audio.SampleBuffer, error) {
	p.mu.Lock()
	p.DecodeCalls = append(p.DecodeCalls, blob)
	fn := p.DecodeFunc
	res, err := p.DecodeResult, p.DecodeError
	p.mu.Unlock()
	if fn != nil {
		return fn(ctx, blob)
	}
	return res, err
}
