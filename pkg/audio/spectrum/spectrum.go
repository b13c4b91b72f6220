// Package spectrum implements [audio.Analyzer] over a sliding window of
// samples using a real FFT.
//
// Bin magnitudes follow the conventions of browser analyser nodes: a Blackman
// window, exponential smoothing across frames, and a decibel range of
// [MinDecibels, MaxDecibels] mapped linearly onto 0–255.
package spectrum

import (
	"fmt"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/MrWong99/voicebank/pkg/audio"
)

const (
	MinDecibels = -100.0
	MaxDecibels = -30.0

	// DefaultSmoothing is the weight given to the previous frame's magnitude.
	DefaultSmoothing = 0.8
)

var _ audio.Analyzer = (*Analyzer)(nil)

// Analyzer keeps the most recent fftSize samples written to it and computes
// frequency-bin magnitudes on demand. It is safe for concurrent use: one
// goroutine typically writes from the audio callback while another reads
// bins on a UI tick.
type Analyzer struct {
	mu       sync.Mutex
	fft      *fourier.FFT
	window   []float64
	ring     []float64
	pos      int
	frame    []float64
	smoothed []float64
	closed   bool
}

// New returns an analyser with the given FFT size, which must be a power of
// two of at least 32.
func New(fftSize int) (*Analyzer, error) {
	if fftSize < 32 || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("spectrum: fft size %d is not a power of two >= 32", fftSize)
	}
	return &Analyzer{
		fft:      fourier.NewFFT(fftSize),
		window:   blackman(fftSize),
		ring:     make([]float64, fftSize),
		frame:    make([]float64, fftSize),
		smoothed: make([]float64, fftSize/2),
	}, nil
}

// Size returns the FFT size.
func (a *Analyzer) Size() int { return len(a.ring) }

// Write appends mono samples to the analysis window. Writes after Close are
// dropped.
func (a *Analyzer) Write(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	for _, s := range samples {
		a.ring[a.pos] = float64(s)
		a.pos = (a.pos + 1) % len(a.ring)
	}
}

// WritePCM16 appends interleaved 16-bit little-endian PCM, averaging channels.
func (a *Analyzer) WritePCM16(pcm []byte, channels int) {
	if channels <= 0 {
		return
	}
	buf, err := audio.PCM16ToBuffer(pcm, audio.Format{SampleRate: 1, Channels: channels})
	if err != nil {
		return
	}
	a.Write(audio.Mono(buf, true))
}

// FrequencyBins implements [audio.Analyzer]. It returns fftSize/2 bins.
func (a *Analyzer) FrequencyBins(dst []byte) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.ring)
	bins := len(a.smoothed)
	if cap(dst) < bins {
		dst = make([]byte, bins)
	}
	dst = dst[:bins]
	if a.closed {
		clear(dst)
		return dst
	}

	for i := range n {
		a.frame[i] = a.ring[(a.pos+i)%n] * a.window[i]
	}
	coeffs := a.fft.Coefficients(nil, a.frame)

	for k := range bins {
		mag := cmplx.Abs(coeffs[k]) / float64(n)
		a.smoothed[k] = DefaultSmoothing*a.smoothed[k] + (1-DefaultSmoothing)*mag
		dst[k] = toByte(a.smoothed[k])
	}
	return dst
}

// Close implements [audio.Analyzer].
func (a *Analyzer) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

func toByte(mag float64) byte {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	scaled := 255 * (db - MinDecibels) / (MaxDecibels - MinDecibels)
	switch {
	case scaled <= 0:
		return 0
	case scaled >= 255:
		return 255
	default:
		return byte(scaled)
	}
}

func blackman(n int) []float64 {
	const alpha = 0.16
	a0, a1, a2 := (1-alpha)/2, 0.5, alpha/2
	w := make([]float64, n)
	for i := range w {
		x := 2 * math.Pi * float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
	}
	return w
}
