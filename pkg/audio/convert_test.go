package audio_test

import (
	"math"
	"testing"

	"github.com/MrWong99/voicebank/pkg/audio"
)

// constBuffer returns a buffer whose channel c holds values[c] in every frame.
func constBuffer(rate, frames int, values ...float32) audio.SampleBuffer {
	buf := audio.NewSampleBuffer(rate, len(values), frames)
	for c, v := range values {
		for i := range frames {
			buf.Channels[c][i] = v
		}
	}
	return buf
}

// sineBuffer returns a mono buffer of a sine wave.
func sineBuffer(rate int, seconds, freq, amp float64) audio.SampleBuffer {
	frames := int(math.Round(seconds * float64(rate)))
	buf := audio.NewSampleBuffer(rate, 1, frames)
	for i := range frames {
		buf.Channels[0][i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return buf
}

func TestResample_Identity(t *testing.T) {
	t.Parallel()
	in := audio.NewSampleBuffer(48000, 2, 480)
	for i := range 480 {
		in.Channels[0][i] = float32(i) / 480
		in.Channels[1][i] = -float32(i) / 480
	}

	out, err := audio.Resample(in, 48000, 2)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if out.SampleRate != in.SampleRate || out.NumChannels() != in.NumChannels() || out.Frames() != in.Frames() {
		t.Fatalf("shape changed: got %s/%d frames, want %s/%d frames", out.Format(), out.Frames(), in.Format(), in.Frames())
	}
	for c := range in.Channels {
		for i := range in.Channels[c] {
			if out.Channels[c][i] != in.Channels[c][i] {
				t.Fatalf("channel %d sample %d: got %v, want %v", c, i, out.Channels[c][i], in.Channels[c][i])
			}
		}
	}
}

func TestResample_StereoDCToMono(t *testing.T) {
	t.Parallel()
	in := constBuffer(44100, 44100, 0.6, 0.2)

	out, err := audio.Resample(in, 16000, 1)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	if out.SampleRate != 16000 || out.NumChannels() != 1 {
		t.Fatalf("format: got %s, want 16000Hz mono", out.Format())
	}
	if n := out.Frames(); n < 15990 || n > 16000 {
		t.Errorf("frames: got %d, want ~16000", n)
	}
	for i, s := range out.Channels[0] {
		if math.Abs(float64(s)-0.4) > 1e-6 {
			t.Fatalf("sample %d: got %v, want 0.4", i, s)
		}
	}
}

func TestResample_DownmixBounds(t *testing.T) {
	t.Parallel()
	in := audio.NewSampleBuffer(22050, 3, 2205)
	// Deterministic pseudo-random full-scale signal.
	x := uint32(12345)
	for c := range in.Channels {
		for i := range in.Channels[c] {
			x = x*1664525 + 1013904223
			in.Channels[c][i] = float32(x)/float32(math.MaxUint32)*2 - 1
		}
	}
	in.Channels[0][0] = 1
	in.Channels[1][0] = 1
	in.Channels[2][0] = 1

	for _, rate := range []int{8000, 16000, 44100, 48000} {
		out, err := audio.Resample(in, rate, 1)
		if err != nil {
			t.Fatalf("Resample(%d): %v", rate, err)
		}
		for i, s := range out.Channels[0] {
			if s < -1 || s > 1 {
				t.Fatalf("rate %d sample %d out of bounds: %v", rate, i, s)
			}
		}
	}
}

func TestResample_FrameCount(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		srcRate    int
		srcFrames  int
		targetRate int
		wantMin    int
		wantMax    int
	}{
		{name: "downsample 48k to 16k", srcRate: 48000, srcFrames: 4800, targetRate: 16000, wantMin: 1599, wantMax: 1600},
		{name: "upsample 8k to 16k", srcRate: 8000, srcFrames: 800, targetRate: 16000, wantMin: 1598, wantMax: 1600},
		{name: "single frame", srcRate: 8000, srcFrames: 1, targetRate: 16000, wantMin: 0, wantMax: 0},
		{name: "empty", srcRate: 8000, srcFrames: 0, targetRate: 16000, wantMin: 0, wantMax: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, err := audio.Resample(audio.NewSampleBuffer(tt.srcRate, 1, tt.srcFrames), tt.targetRate, 1)
			if err != nil {
				t.Fatalf("Resample: %v", err)
			}
			if n := out.Frames(); n < tt.wantMin || n > tt.wantMax {
				t.Errorf("frames: got %d, want [%d, %d]", n, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestResample_ChannelClamp(t *testing.T) {
	t.Parallel()
	in := constBuffer(8000, 100, 0.25, -0.5)

	out, err := audio.Resample(in, 16000, 4)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	want := []float32{0.25, -0.5, -0.5, -0.5}
	for c, w := range want {
		if got := out.Channels[c][10]; math.Abs(float64(got-w)) > 1e-6 {
			t.Errorf("channel %d: got %v, want %v", c, got, w)
		}
	}
}

func TestResample_InputUnchanged(t *testing.T) {
	t.Parallel()
	in := constBuffer(44100, 441, 0.3, 0.1)
	_, err := audio.Resample(in, 16000, 1)
	if err != nil {
		t.Fatalf("Resample: %v", err)
	}
	for i := range 441 {
		if in.Channels[0][i] != 0.3 || in.Channels[1][i] != 0.1 {
			t.Fatalf("input mutated at frame %d", i)
		}
	}
}

func TestResample_InvalidArguments(t *testing.T) {
	t.Parallel()
	valid := audio.NewSampleBuffer(16000, 1, 10)
	tests := []struct {
		name     string
		in       audio.SampleBuffer
		rate     int
		channels int
	}{
		{name: "zero target rate", in: valid, rate: 0, channels: 1},
		{name: "zero target channels", in: valid, rate: 16000, channels: 0},
		{name: "no input channels", in: audio.SampleBuffer{SampleRate: 16000}, rate: 16000, channels: 1},
		{name: "ragged input", in: audio.SampleBuffer{SampleRate: 16000, Channels: [][]float32{{0, 0}, {0}}}, rate: 8000, channels: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := audio.Resample(tt.in, tt.rate, tt.channels); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestQuantizePCM16(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32767},
		{1.5, 32767},
		{-2, -32767},
		{0.5, 16384},
		{-0.5, -16384},
	}
	for _, tt := range tests {
		if got := audio.QuantizePCM16(tt.in); got != tt.want {
			t.Errorf("QuantizePCM16(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestPCM16ToBuffer(t *testing.T) {
	t.Parallel()
	// Two stereo frames, plus one stray byte that must be ignored.
	pcm := []byte{0x00, 0x40, 0x00, 0xC0, 0xFF, 0x7F, 0x00, 0x80, 0x01}

	buf, err := audio.PCM16ToBuffer(pcm, audio.Format{SampleRate: 8000, Channels: 2})
	if err != nil {
		t.Fatalf("PCM16ToBuffer: %v", err)
	}
	if buf.Frames() != 2 {
		t.Fatalf("frames: got %d, want 2", buf.Frames())
	}
	want := [][]float32{{0.5, 32767.0 / 32768.0}, {-0.5, -1}}
	for c := range want {
		for i := range want[c] {
			if buf.Channels[c][i] != want[c][i] {
				t.Errorf("channel %d frame %d: got %v, want %v", c, i, buf.Channels[c][i], want[c][i])
			}
		}
	}

	if _, err := audio.PCM16ToBuffer(pcm, audio.Format{}); err == nil {
		t.Error("expected error for zero format")
	}
}

func TestMono(t *testing.T) {
	t.Parallel()
	buf := constBuffer(8000, 4, 0.8, 0.2)
	if got := audio.Mono(buf, false)[0]; got != 0.8 {
		t.Errorf("first channel: got %v, want 0.8", got)
	}
	if got := audio.Mono(buf, true)[0]; math.Abs(float64(got)-0.5) > 1e-6 {
		t.Errorf("average: got %v, want 0.5", got)
	}
}
