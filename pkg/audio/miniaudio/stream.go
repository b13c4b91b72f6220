package miniaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voicebank/pkg/audio"
	"github.com/MrWong99/voicebank/pkg/audio/decode"
	"github.com/MrWong99/voicebank/pkg/audio/spectrum"
)

// Stream is an open capture device. All methods are safe for concurrent use.
type Stream struct {
	device audio.Device
	format audio.Format
	info   *malgo.DeviceInfo
	log    *slog.Logger
	dev    *malgo.Device

	mu        sync.Mutex
	rec       *recorder
	analyzers []*spectrum.Analyzer
	closing   bool
	closed    bool
}

// Device implements [audio.InputStream].
func (s *Stream) Device() audio.Device { return s.device }

// Format implements [audio.InputStream].
func (s *Stream) Format() audio.Format { return s.format }

// Record implements [audio.InputStream].
func (s *Stream) Record(timeslice time.Duration) (audio.Recorder, error) {
	if timeslice <= 0 {
		return nil, fmt.Errorf("miniaudio: timeslice must be positive, got %s", timeslice)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.closing {
		return nil, audio.ErrStreamClosed
	}
	if s.rec != nil && s.rec.State() == audio.RecorderRecording {
		return nil, errors.New("miniaudio: a recorder is already active on this stream")
	}
	s.rec = newRecorder(decode.PCMMIMEType(s.format), timeslice)
	return s.rec, nil
}

// Close implements [audio.InputStream]. It stops the device, finalises any
// active recorder and releases the hardware handle.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed || s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	// Stop blocks until the audio thread has returned from onData, so it must
	// not be called with s.mu held.
	stopErr := s.dev.Stop()
	s.dev.Uninit()

	s.mu.Lock()
	s.closed = true
	rec := s.rec
	s.rec = nil
	for _, a := range s.analyzers {
		_ = a.Close()
	}
	s.analyzers = nil
	s.mu.Unlock()

	if rec != nil {
		rec.finish(nil)
	}
	if stopErr != nil {
		return fmt.Errorf("miniaudio: stop device: %w", stopErr)
	}
	return nil
}

// attach registers a to receive captured audio until it is closed.
func (s *Stream) attach(a *spectrum.Analyzer) audio.Analyzer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.analyzers = append(s.analyzers, a)
	} else {
		_ = a.Close()
	}
	return streamAnalyzer{Analyzer: a, s: s}
}

// detach copies the slice because onData iterates a snapshot of it unlocked.
func (s *Stream) detach(a *spectrum.Analyzer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyzers = slices.DeleteFunc(slices.Clone(s.analyzers), func(x *spectrum.Analyzer) bool {
		return x == a
	})
}

// streamAnalyzer unregisters itself from its stream on Close.
type streamAnalyzer struct {
	*spectrum.Analyzer
	s *Stream
}

// Close implements [audio.Analyzer].
func (a streamAnalyzer) Close() error {
	a.s.detach(a.Analyzer)
	return a.Analyzer.Close()
}

// onData runs on the audio thread. input is reused by miniaudio after the
// callback returns.
func (s *Stream) onData(_, input []byte, _ uint32) {
	s.mu.Lock()
	rec := s.rec
	analyzers := s.analyzers
	s.mu.Unlock()

	if rec != nil {
		rec.write(input)
	}
	for _, a := range analyzers {
		a.WritePCM16(input, s.format.Channels)
	}
}

// onStop runs when the device stops, either because Close was called or
// because the device went away.
func (s *Stream) onStop() {
	s.mu.Lock()
	expected := s.closing
	rec := s.rec
	s.mu.Unlock()
	if expected {
		return
	}
	s.log.Warn("capture device stopped unexpectedly")
	if rec != nil {
		rec.finish(fmt.Errorf("%w: %w", audio.ErrDeviceNotFound, errDisconnected))
	}
}

// recorder accumulates captured bytes and flushes them as chunks every
// timeslice.
type recorder struct {
	mimeType string
	chunks   chan []byte
	stop     chan struct{}

	mu      sync.Mutex
	pending []byte
	state   audio.RecorderState
	err     error
	once    sync.Once
}

var _ audio.Recorder = (*recorder)(nil)

func newRecorder(mimeType string, timeslice time.Duration) *recorder {
	r := &recorder{
		mimeType: mimeType,
		chunks:   make(chan []byte, 64),
		stop:     make(chan struct{}),
		state:    audio.RecorderRecording,
	}
	go r.loop(timeslice)
	return r
}

func (r *recorder) loop(timeslice time.Duration) {
	defer close(r.chunks)
	ticker := time.NewTicker(timeslice)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.flush()
		case <-r.stop:
			r.flush()
			return
		}
	}
}

func (r *recorder) flush() {
	r.mu.Lock()
	chunk := r.pending
	r.pending = nil
	r.mu.Unlock()
	if len(chunk) > 0 {
		r.chunks <- chunk
	}
}

func (r *recorder) write(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != audio.RecorderRecording {
		return
	}
	r.pending = append(r.pending, p...)
}

// finish transitions to inactive and asks the loop to flush and close the
// chunk channel. Only the first call has an effect.
func (r *recorder) finish(err error) {
	r.once.Do(func() {
		r.mu.Lock()
		r.state = audio.RecorderInactive
		r.err = err
		r.mu.Unlock()
		close(r.stop)
	})
}

func (r *recorder) Chunks() <-chan []byte { return r.chunks }

func (r *recorder) MIMEType() string { return r.mimeType }

func (r *recorder) State() audio.RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *recorder) Stop() error {
	r.finish(nil)
	return nil
}

func (r *recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
