// Package miniaudio provides an [audio.Platform] for desktop hosts backed by
// miniaudio through github.com/gen2brain/malgo.
//
// Captured audio is delivered as headerless 16-bit little-endian PCM; the
// recorder's MIME type carries the rate and channel count so that
// [decode.Decoder] can turn the concatenated chunks back into samples.
package miniaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voicebank/pkg/audio"
	"github.com/MrWong99/voicebank/pkg/audio/decode"
	"github.com/MrWong99/voicebank/pkg/audio/spectrum"
)

const (
	defaultSampleRate = 48000
	defaultChannels   = 1
)

// Compile-time interface assertions.
var (
	_ audio.Platform    = (*Platform)(nil)
	_ audio.InputStream = (*Stream)(nil)
)

// Option is a functional option for [New].
type Option func(*Platform)

// WithFormat sets the capture format requested from the device. Devices that
// cannot provide it natively are converted by miniaudio.
func WithFormat(f audio.Format) Option {
	return func(p *Platform) {
		p.format = f
	}
}

// WithBackends restricts the miniaudio backends tried, in order.
func WithBackends(backends ...malgo.Backend) Option {
	return func(p *Platform) {
		p.backends = backends
	}
}

// WithDecoder overrides the decoder used by [Platform.Decode].
func WithDecoder(d decode.Decoder) Option {
	return func(p *Platform) {
		p.decoder = d
	}
}

// WithLogger sets the logger that receives miniaudio's diagnostic messages.
func WithLogger(l *slog.Logger) Option {
	return func(p *Platform) {
		p.log = l
	}
}

// Platform is a miniaudio-backed [audio.Platform]. It owns one miniaudio
// context for its lifetime; call [Platform.Close] to release it.
type Platform struct {
	format   audio.Format
	backends []malgo.Backend
	decoder  decode.Decoder
	log      *slog.Logger

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	closed bool
}

// New initialises a miniaudio context.
func New(opts ...Option) (*Platform, error) {
	p := &Platform{
		format: audio.Format{SampleRate: defaultSampleRate, Channels: defaultChannels},
		log:    slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.format.SampleRate <= 0 || p.format.Channels <= 0 {
		return nil, fmt.Errorf("miniaudio: invalid capture format %s", p.format)
	}

	ctx, err := malgo.InitContext(p.backends, malgo.ContextConfig{}, func(message string) {
		p.log.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("miniaudio: init context: %w", err)
	}
	p.ctx = ctx
	return p, nil
}

// Devices implements [audio.Platform].
func (p *Platform) Devices(_ context.Context) ([]audio.Device, error) {
	infos, err := p.captureDevices()
	if err != nil {
		return nil, err
	}
	out := make([]audio.Device, 0, len(infos))
	for _, info := range infos {
		out = append(out, audio.Device{
			ID:      info.ID.String(),
			Label:   info.Name(),
			Default: info.IsDefault != 0,
		})
	}
	return out, nil
}

func (p *Platform) captureDevices() ([]malgo.DeviceInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("miniaudio: platform closed")
	}
	infos, err := p.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: enumerate capture devices: %w", err)
	}
	return infos, nil
}

// Open implements [audio.Platform]. An empty deviceID selects the system
// default input.
func (p *Platform) Open(ctx context.Context, deviceID string) (audio.InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(p.format.Channels)
	cfg.SampleRate = uint32(p.format.SampleRate)
	cfg.Alsa.NoMMap = 1

	dev := audio.Device{ID: deviceID}
	var selected *malgo.DeviceInfo
	if deviceID != "" {
		infos, err := p.captureDevices()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", audio.ErrDeviceNotFound, err)
		}
		for i := range infos {
			if infos[i].ID.String() == deviceID {
				selected = &infos[i]
				break
			}
		}
		if selected == nil {
			return nil, fmt.Errorf("miniaudio: device %q: %w", deviceID, audio.ErrDeviceNotFound)
		}
		dev.Label = selected.Name()
		dev.Default = selected.IsDefault != 0
		cfg.Capture.DeviceID = selected.ID.Pointer()
	}

	s := &Stream{
		device: dev,
		format: p.format,
		// Keeps the DeviceInfo referenced by cfg.Capture.DeviceID alive.
		info: selected,
		log:  p.log.With("device", dev.ID),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("miniaudio: platform closed")
	}
	device, err := malgo.InitDevice(p.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	p.mu.Unlock()
	if err != nil {
		return nil, classify(err)
	}
	s.dev = device

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, classify(err)
	}
	return s, nil
}

// NewAnalyzer implements [audio.Platform].
func (p *Platform) NewAnalyzer(in audio.InputStream, fftSize int) (audio.Analyzer, error) {
	s, ok := in.(*Stream)
	if !ok {
		return nil, fmt.Errorf("miniaudio: analyzer needs a stream from this platform, got %T", in)
	}
	a, err := spectrum.New(fftSize)
	if err != nil {
		return nil, fmt.Errorf("miniaudio: %w", err)
	}
	return s.attach(a), nil
}

// Decode implements [audio.Platform].
func (p *Platform) Decode(ctx context.Context, blob audio.Blob) (audio.SampleBuffer, error) {
	return p.decoder.Decode(ctx, blob)
}

// Close releases the miniaudio context. Streams must be closed first.
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	err := p.ctx.Uninit()
	p.ctx.Free()
	if err != nil {
		return fmt.Errorf("miniaudio: uninit context: %w", err)
	}
	return nil
}

// classify maps a device start failure onto the platform sentinels.
func classify(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "denied") || strings.Contains(msg, "permission") {
		return fmt.Errorf("miniaudio: %w: %w", audio.ErrPermissionDenied, err)
	}
	return fmt.Errorf("miniaudio: %w: %w", audio.ErrDeviceNotFound, err)
}

// errDisconnected is reported by recorders whose device stopped without a
// request.
var errDisconnected = errors.New("miniaudio: device stopped unexpectedly")
