package decode

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/tphakala/flac"

	"github.com/MrWong99/voicebank/pkg/audio"
)

func decodeFLAC(ctx context.Context, data []byte, maxFrames int) (audio.SampleBuffer, error) {
	dec, err := flac.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return audio.SampleBuffer{}, fmt.Errorf("decode: flac: %v: %w", err, ErrCorrupt)
	}
	if dec.NChannels <= 0 || dec.SampleRate <= 0 {
		return audio.SampleBuffer{}, fmt.Errorf("decode: flac: invalid stream info: %w", ErrCorrupt)
	}
	div, err := divisor(dec.BitsPerSample)
	if err != nil {
		return audio.SampleBuffer{}, fmt.Errorf("decode: flac: %w", err)
	}

	channels := dec.NChannels
	width := dec.BitsPerSample / 8
	buf := audio.SampleBuffer{SampleRate: dec.SampleRate, Channels: make([][]float32, channels)}
	if dec.TotalSamples > 0 && (maxFrames <= 0 || int(dec.TotalSamples) <= maxFrames) {
		for c := range buf.Channels {
			buf.Channels[c] = make([]float32, 0, dec.TotalSamples)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return audio.SampleBuffer{}, err
		}
		frame, err := dec.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return audio.SampleBuffer{}, fmt.Errorf("decode: flac: frame: %v: %w", err, ErrCorrupt)
		}

		for off := 0; off+width*channels <= len(frame); off += width * channels {
			for c := range channels {
				s := frame[off+c*width:]
				var v int32
				switch width {
				case 2:
					v = int32(int16(binary.LittleEndian.Uint16(s)))
				case 3:
					v = int32(s[0]) | int32(s[1])<<8 | int32(int8(s[2]))<<16
				case 4:
					v = int32(binary.LittleEndian.Uint32(s))
				}
				buf.Channels[c] = append(buf.Channels[c], float32(v)/div)
			}
		}
		if maxFrames > 0 && buf.Frames() > maxFrames {
			return audio.SampleBuffer{}, fmt.Errorf("decode: flac: stream exceeds %d frames: %w", maxFrames, ErrUnsupportedFormat)
		}
	}
	return buf, nil
}
