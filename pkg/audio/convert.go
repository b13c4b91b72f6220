package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Resample converts in to targetRate and targetChannels using linear
// interpolation. The input buffer is never modified.
//
// If the input already matches the target format, in is returned unchanged.
// Otherwise the output holds floor(frames × targetRate / in.SampleRate)
// frames. For a mono target, resampling and downmixing happen in a single
// pass: each output sample is the average of every input channel interpolated
// at the same fractional source position. For a multi-channel target, output
// channel c is resampled from input channel min(c, in.NumChannels()-1).
//
// Interpolation stops at the last full source frame: an output position whose
// integer part reaches frames-1 is dropped rather than padded, so the result
// can be a few frames shorter than the nominal count.
func Resample(in SampleBuffer, targetRate, targetChannels int) (SampleBuffer, error) {
	if targetRate <= 0 {
		return SampleBuffer{}, fmt.Errorf("audio: resample: invalid target rate %d", targetRate)
	}
	if targetChannels <= 0 {
		return SampleBuffer{}, fmt.Errorf("audio: resample: invalid target channel count %d", targetChannels)
	}
	if err := in.Validate(); err != nil {
		return SampleBuffer{}, fmt.Errorf("audio: resample: %w", err)
	}

	// Fast path: source matches target.
	if in.SampleRate == targetRate && in.NumChannels() == targetChannels {
		return in, nil
	}

	ratio := float64(targetRate) / float64(in.SampleRate)
	srcFrames := in.Frames()
	dstFrames := int(math.Floor(float64(srcFrames) * ratio))

	if targetChannels == 1 {
		return SampleBuffer{
			SampleRate: targetRate,
			Channels:   [][]float32{downmixInterpolate(in.Channels, srcFrames, dstFrames, ratio)},
		}, nil
	}

	out := SampleBuffer{SampleRate: targetRate, Channels: make([][]float32, targetChannels)}
	last := in.NumChannels() - 1
	for c := range targetChannels {
		src := in.Channels[min(c, last)]
		out.Channels[c] = downmixInterpolate([][]float32{src}, srcFrames, dstFrames, ratio)
	}
	return out, nil
}

// downmixInterpolate produces up to dstFrames samples by linearly
// interpolating every source channel at position i/ratio and averaging the
// results. Output stops at the first position whose left neighbour is the
// final source frame.
func downmixInterpolate(src [][]float32, srcFrames, dstFrames int, ratio float64) []float32 {
	out := make([]float32, 0, dstFrames)
	n := float64(len(src))
	for i := range dstFrames {
		pos := float64(i) / ratio
		idx := int(pos)
		if idx >= srcFrames-1 {
			break
		}
		frac := pos - float64(idx)

		var sum float64
		for _, ch := range src {
			s0 := float64(ch[idx])
			s1 := float64(ch[idx+1])
			sum += s0 + (s1-s0)*frac
		}
		out = append(out, float32(sum/n))
	}
	return out
}

// Clamp limits s to [-1.0, 1.0].
func Clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

// QuantizePCM16 clamps s and scales it to a signed 16-bit sample using
// round-half-away-from-zero.
func QuantizePCM16(s float32) int16 {
	return int16(math.Round(float64(Clamp(s)) * 32767))
}

// PCM16ToBuffer de-interleaves 16-bit signed little-endian PCM into a
// SampleBuffer, normalising samples to [-1.0, 1.0). Trailing bytes that do not
// form a full frame are ignored.
func PCM16ToBuffer(pcm []byte, f Format) (SampleBuffer, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return SampleBuffer{}, fmt.Errorf("audio: invalid pcm format %s", f)
	}
	frames := len(pcm) / (2 * f.Channels)
	buf := NewSampleBuffer(f.SampleRate, f.Channels, frames)
	for i := range frames {
		for c := range f.Channels {
			off := (i*f.Channels + c) * 2
			s := int16(binary.LittleEndian.Uint16(pcm[off : off+2]))
			buf.Channels[c][i] = float32(s) / 32768.0
		}
	}
	return buf, nil
}

// BufferToPCM16 interleaves buf as 16-bit signed little-endian PCM using
// [QuantizePCM16].
func BufferToPCM16(buf SampleBuffer) []byte {
	frames := buf.Frames()
	chans := buf.NumChannels()
	out := make([]byte, frames*chans*2)
	off := 0
	for i := range frames {
		for c := range chans {
			binary.LittleEndian.PutUint16(out[off:], uint16(QuantizePCM16(buf.Channels[c][i])))
			off += 2
		}
	}
	return out
}

// Int16ToBuffer de-interleaves int16 samples (as produced by codec libraries)
// into a SampleBuffer.
func Int16ToBuffer(samples []int16, f Format) SampleBuffer {
	frames := len(samples) / f.Channels
	buf := NewSampleBuffer(f.SampleRate, f.Channels, frames)
	for i := range frames {
		for c := range f.Channels {
			buf.Channels[c][i] = float32(samples[i*f.Channels+c]) / 32768.0
		}
	}
	return buf
}

// Mono returns channel 0 of buf, or the average of all channels when
// average is true. The returned slice is a copy.
func Mono(buf SampleBuffer, average bool) []float32 {
	frames := buf.Frames()
	out := make([]float32, frames)
	if buf.NumChannels() == 0 {
		return out
	}
	if !average || buf.NumChannels() == 1 {
		copy(out, buf.Channels[0])
		return out
	}
	n := float32(buf.NumChannels())
	for i := range frames {
		var sum float32
		for _, ch := range buf.Channels {
			sum += ch[i]
		}
		out[i] = sum / n
	}
	return out
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
