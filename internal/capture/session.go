// Package capture records microphone audio through an [audio.Platform].
//
// A [Session] owns at most one capture at a time and walks it through an
// explicit state machine:
//
//	Idle ─Start─▶ RequestingPermission ─ok─▶ Recording ─Stop─▶ Stopping ─flushed─▶ Idle
//	                       └────failure────▶ Idle
//
// Every terminal transition releases the microphone handle and the level
// analyser exactly once, whether the capture completed, failed, or the
// session was closed.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voicebank/internal/observe"
	"github.com/MrWong99/voicebank/pkg/audio"
)

var (
	// ErrPermissionDenied is returned by [Session.Start] when microphone access
	// was refused.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrDeviceUnavailable is returned when the input device cannot be opened,
	// or reported through [Recording.Result] when it failed mid-capture.
	ErrDeviceUnavailable = errors.New("capture: input device unavailable")

	// ErrEmptyCapture is reported when the recorder finalised without
	// delivering any data. It is distinct from a silent recording, which has
	// data and is judged by the quality rules.
	ErrEmptyCapture = errors.New("capture: recorder produced no data")

	// ErrAlreadyActive is returned by [Session.Start] while another capture is
	// in progress.
	ErrAlreadyActive = errors.New("capture: a capture is already in progress")

	// ErrClosed is returned by [Session.Start] after [Session.Close].
	ErrClosed = errors.New("capture: session closed")
)

// Default capture parameters.
const (
	defaultMaxDuration   = 30 * time.Second
	defaultTimeslice     = 250 * time.Millisecond
	defaultLevelInterval = 16 * time.Millisecond
)

// State is the lifecycle state of a [Session].
type State int

const (
	StateIdle State = iota
	StateRequestingPermission
	StateRecording
	StateStopping
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequestingPermission:
		return "requesting-permission"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Capture is the raw artifact of a finished recording: the concatenated
// recorder chunks in the host's native container.
type Capture struct {
	Blob audio.Blob

	// Format is the native format of the input stream.
	Format audio.Format

	// Device is the input the capture was taken from.
	Device audio.Device

	// Duration is the wall-clock time between start and finalisation.
	Duration time.Duration

	// Chunks is the number of non-empty chunks that were delivered.
	Chunks int
}

// Config configures a [Session].
type Config struct {
	// Platform provides the microphone primitives. Required.
	Platform audio.Platform

	// MaxDuration is the default auto-stop deadline. Defaults to 30s if zero.
	MaxDuration time.Duration

	// Timeslice is the default recorder flush period. Defaults to 250ms if zero.
	Timeslice time.Duration

	// LevelInterval is the level meter cadence. Defaults to 16ms if zero.
	LevelInterval time.Duration

	// FFTSize is the analyser window. Defaults to [audio.DefaultFFTSize].
	FFTSize int

	// OnLevel receives meter updates in [0, 100] while recording. May be nil.
	// Called from the meter goroutine; it must not block. It may call Stop
	// but not Close.
	OnLevel func(level float64)

	// OnComplete receives every successful capture. May be nil.
	OnComplete func(Capture)

	// OnFailure receives every capture that ended in an error after a
	// successful start. May be nil.
	OnFailure func(error)

	// Metrics receives capture counters. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// StartOptions override the session defaults for a single capture.
type StartOptions struct {
	// DeviceID selects the input. Empty selects the system default.
	DeviceID string

	// MaxDuration overrides [Config.MaxDuration] when positive.
	MaxDuration time.Duration

	// Timeslice overrides [Config.Timeslice] when positive.
	Timeslice time.Duration
}

// Session drives microphone captures. All methods are safe for concurrent use.
type Session struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics

	mu     sync.Mutex
	state  State
	active *Recording
	closed bool
}

// New creates a [Session] from cfg.
func New(cfg Config) (*Session, error) {
	if cfg.Platform == nil {
		return nil, errors.New("capture: platform is required")
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = defaultMaxDuration
	}
	if cfg.Timeslice <= 0 {
		cfg.Timeslice = defaultTimeslice
	}
	if cfg.LevelInterval <= 0 {
		cfg.LevelInterval = defaultLevelInterval
	}
	if cfg.FFTSize <= 0 {
		cfg.FFTSize = audio.DefaultFFTSize
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	met := cfg.Metrics
	if met == nil {
		met = observe.DefaultMetrics()
	}
	return &Session{cfg: cfg, log: log.With("component", "capture"), metrics: met}, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Devices lists the available inputs. Enumeration failures are logged and
// yield an empty list; labels may be blank until permission was granted once.
func (s *Session) Devices(ctx context.Context) []audio.Device {
	devs, err := s.cfg.Platform.Devices(ctx)
	if err != nil {
		s.log.Warn("failed to enumerate input devices", "err", err)
		return []audio.Device{}
	}
	if devs == nil {
		return []audio.Device{}
	}
	return devs
}

// Start acquires the microphone and begins a chunked recording that stops by
// itself after the maximum duration.
//
// On failure the session is back in [StateIdle], nothing stays acquired, and
// the error wraps [ErrPermissionDenied], [ErrDeviceUnavailable],
// [ErrAlreadyActive] or [ErrClosed].
func (s *Session) Start(ctx context.Context, opts StartOptions) (*Recording, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil, ErrAlreadyActive
	}
	s.state = StateRequestingPermission
	s.mu.Unlock()

	maxDur := orDefault(opts.MaxDuration, s.cfg.MaxDuration)
	timeslice := orDefault(opts.Timeslice, s.cfg.Timeslice)

	stream, err := s.cfg.Platform.Open(ctx, opts.DeviceID)
	if err != nil {
		s.setState(StateIdle)
		outcome, wrapped := "device_unavailable", fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
		if errors.Is(err, audio.ErrPermissionDenied) {
			outcome, wrapped = "permission_denied", fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
		s.metrics.RecordCapture(ctx, outcome, 0)
		s.log.Info("capture start failed", "device", opts.DeviceID, "err", err)
		return nil, wrapped
	}

	rec, err := stream.Record(timeslice)
	if err != nil {
		_ = stream.Close()
		s.setState(StateIdle)
		s.metrics.RecordCapture(ctx, "device_unavailable", 0)
		return nil, fmt.Errorf("%w: start recorder: %w", ErrDeviceUnavailable, err)
	}

	r := &Recording{
		session: s,
		stream:  stream,
		rec:     rec,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	r.meter = startMeter(s.cfg.Platform, stream, s.cfg.FFTSize, s.cfg.LevelInterval, r.publishLevel, s.log)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		r.release()
		go audio.Drain(rec.Chunks())
		s.setState(StateIdle)
		return nil, ErrClosed
	}
	s.state = StateRecording
	s.active = r
	r.timer = time.AfterFunc(maxDur, func() {
		s.log.Debug("max capture duration reached", "max", maxDur)
		s.stop(r)
	})
	s.mu.Unlock()

	s.metrics.ActiveCaptures.Add(context.Background(), 1)
	s.log.Info("capture started", "device", stream.Device().ID, "format", stream.Format().String(), "max", maxDur)

	go r.collect()
	return r, nil
}

// Stop requests finalisation of the active capture. It returns false, doing
// nothing, unless the recorder itself reports that it is recording. The
// result is delivered through [Recording.Result] and the callbacks once every
// buffered chunk has been flushed.
//
// The microphone is released even if the recorder fails to finalise.
func (s *Session) Stop() bool {
	s.mu.Lock()
	r := s.active
	s.mu.Unlock()
	if r == nil {
		return false
	}
	return s.stop(r)
}

func (s *Session) stop(r *Recording) bool {
	s.mu.Lock()
	if s.active != r || s.state != StateRecording || r.rec.State() != audio.RecorderRecording {
		s.mu.Unlock()
		return false
	}
	s.state = StateStopping
	s.mu.Unlock()

	r.timer.Stop()
	// Stop may run on the meter goroutine (from OnLevel), so only signal it.
	r.meter.halt()
	if err := r.rec.Stop(); err != nil {
		s.log.Warn("recorder failed to finalise, releasing stream", "err", err)
		r.setStopErr(err)
		// Closing the stream finalises the recorder, which unblocks collect.
		r.release()
	}
	return true
}

// Close stops any active capture, waits for it to finish, and rejects further
// starts. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	r := s.active
	s.mu.Unlock()
	if r == nil {
		return nil
	}
	if !s.stop(r) {
		// Recorder is not recording (already finalising or never started):
		// release directly so the collector can complete.
		r.release()
	}
	<-r.done
	return nil
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// finish returns the session to idle after r has completed.
func (s *Session) finish(r *Recording) {
	s.mu.Lock()
	if s.active == r {
		s.active = nil
		s.state = StateIdle
	}
	s.mu.Unlock()
	s.metrics.ActiveCaptures.Add(context.Background(), -1)
}

// Recording is one in-flight capture started by [Session.Start].
type Recording struct {
	session *Session
	stream  audio.InputStream
	rec     audio.Recorder
	meter   *meter
	timer   *time.Timer
	started time.Time

	level       atomic.Uint64
	releaseOnce sync.Once

	mu      sync.Mutex
	stopErr error

	done   chan struct{}
	result Capture
	err    error
}

// Done is closed once the capture has completed or failed.
func (r *Recording) Done() <-chan struct{} { return r.done }

// Result blocks until the capture has finished and returns it. Exactly one of
// the return values is meaningful.
func (r *Recording) Result() (Capture, error) {
	<-r.done
	return r.result, r.err
}

// Wait is like Result but gives up when ctx is done. The capture keeps
// running in that case.
func (r *Recording) Wait(ctx context.Context) (Capture, error) {
	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return Capture{}, ctx.Err()
	}
}

// Level returns the most recent meter value in [0, 100], or 0 when no meter
// is attached.
func (r *Recording) Level() float64 {
	return math.Float64frombits(r.level.Load())
}

// Stop is a shorthand for stopping this capture through its session.
func (r *Recording) Stop() bool {
	return r.session.stop(r)
}

func (r *Recording) publishLevel(v float64) {
	r.level.Store(math.Float64bits(v))
	if cb := r.session.cfg.OnLevel; cb != nil {
		cb(v)
	}
}

func (r *Recording) setStopErr(err error) {
	r.mu.Lock()
	r.stopErr = err
	r.mu.Unlock()
}

func (r *Recording) getStopErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopErr
}

// release tears down the timer, meter and stream exactly once. It does not
// wait for the meter loop; collect does that before resolving.
func (r *Recording) release() {
	r.releaseOnce.Do(func() {
		if r.timer != nil {
			r.timer.Stop()
		}
		r.meter.halt()
		if err := r.stream.Close(); err != nil {
			r.session.log.Warn("failed to release input stream", "err", err)
		}
		r.level.Store(0)
	})
}

// collect drains the recorder until it finalises, then resolves the
// recording.
func (r *Recording) collect() {
	var (
		data   []byte
		chunks int
	)
	for chunk := range r.rec.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		data = append(data, chunk...)
		chunks++
	}
	elapsed := time.Since(r.started)
	recErr := r.rec.Err()
	r.release()
	r.meter.wait()
	r.level.Store(0)

	s := r.session
	var (
		capt    Capture
		err     error
		outcome string
	)
	switch stopErr := r.getStopErr(); {
	case recErr != nil:
		outcome, err = "device_unavailable", fmt.Errorf("%w: %w", ErrDeviceUnavailable, recErr)
	case stopErr != nil:
		outcome, err = "device_unavailable", fmt.Errorf("%w: finalise recorder: %w", ErrDeviceUnavailable, stopErr)
	case chunks == 0:
		outcome, err = "empty", ErrEmptyCapture
	default:
		outcome = "completed"
		capt = Capture{
			Blob:     audio.Blob{Data: data, MIMEType: r.rec.MIMEType()},
			Format:   r.stream.Format(),
			Device:   r.stream.Device(),
			Duration: elapsed,
			Chunks:   chunks,
		}
	}

	r.result, r.err = capt, err
	s.finish(r)
	close(r.done)

	s.metrics.RecordCapture(context.Background(), outcome, elapsed)
	if err != nil {
		s.log.Warn("capture failed", "err", err, "elapsed", elapsed)
		if cb := s.cfg.OnFailure; cb != nil {
			cb(err)
		}
		return
	}
	s.log.Info("capture completed", "bytes", len(data), "chunks", chunks, "elapsed", elapsed)
	if cb := s.cfg.OnComplete; cb != nil {
		cb(capt)
	}
}

func orDefault(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}
