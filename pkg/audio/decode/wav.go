package decode

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-audio/wav"

	"github.com/MrWong99/voicebank/pkg/audio"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

func decodeWAV(ctx context.Context, data []byte) (audio.SampleBuffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return audio.SampleBuffer{}, fmt.Errorf("decode: wav: invalid header: %w", ErrCorrupt)
	}
	if dec.WavAudioFormat != wavFormatPCM && dec.WavAudioFormat != wavFormatExtensible {
		return audio.SampleBuffer{}, fmt.Errorf("decode: wav: audio format %d: %w", dec.WavAudioFormat, ErrUnsupportedFormat)
	}

	bitDepth := int(dec.BitDepth)
	toFloat := func(v int) float32 { return float32(v-128) / 128 }
	if bitDepth != 8 {
		div, err := divisor(bitDepth)
		if err != nil {
			return audio.SampleBuffer{}, fmt.Errorf("decode: wav: %w", err)
		}
		toFloat = func(v int) float32 { return float32(v) / div }
	}

	if err := ctx.Err(); err != nil {
		return audio.SampleBuffer{}, err
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return audio.SampleBuffer{}, fmt.Errorf("decode: wav: read samples: %v: %w", err, ErrCorrupt)
	}

	channels := int(dec.NumChans)
	frames := len(pcm.Data) / channels
	buf := audio.NewSampleBuffer(int(dec.SampleRate), channels, frames)
	for i := range frames {
		for c := range channels {
			buf.Channels[c][i] = toFloat(pcm.Data[i*channels+c])
		}
	}
	return buf, nil
}
