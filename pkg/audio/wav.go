package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// wavHeaderSize is the size of the canonical RIFF/WAVE header written by
	// EncodeWAV.
	wavHeaderSize = 44

	// bitsPerSample is fixed at 16 for every WAV this package produces.
	bitsPerSample = 16
)

// EncodeError reports a SampleBuffer that cannot be serialised. It indicates
// a programming error upstream (a malformed buffer), not bad user input.
type EncodeError struct {
	Reason string
}

func (e *EncodeError) Error() string {
	return "audio: encode wav: " + e.Reason
}

// EncodeWAV serialises buf as a canonical 44-byte-header, 16-bit PCM WAV.
//
// Samples are clamped to [-1.0, 1.0], scaled by 32767 and rounded, then
// written little-endian, interleaved frame by frame in channel order. The
// output is deterministic and buf is not modified.
func EncodeWAV(buf SampleBuffer) ([]byte, error) {
	if err := buf.Validate(); err != nil {
		return nil, &EncodeError{Reason: err.Error()}
	}
	channels := buf.NumChannels()
	if channels > math.MaxUint16 {
		return nil, &EncodeError{Reason: fmt.Sprintf("%d channels exceed the WAV limit", channels)}
	}
	blockAlign := channels * bitsPerSample / 8
	dataLen := uint64(buf.Frames()) * uint64(blockAlign)
	if dataLen > math.MaxUint32-36 {
		return nil, &EncodeError{Reason: fmt.Sprintf("data length %d exceeds the 4 GiB RIFF limit", dataLen)}
	}
	byteRate := uint64(buf.SampleRate) * uint64(blockAlign)
	if byteRate > math.MaxUint32 {
		return nil, &EncodeError{Reason: fmt.Sprintf("byte rate %d overflows", byteRate)}
	}

	out := make([]byte, wavHeaderSize+int(dataLen))

	// RIFF chunk descriptor
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataLen)) // file size − 8
	copy(out[8:12], "WAVE")

	// fmt sub-chunk
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)                     // sub-chunk size (PCM)
	binary.LittleEndian.PutUint16(out[20:22], 1)                      // audio format: PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))       // num channels
	binary.LittleEndian.PutUint32(out[24:28], uint32(buf.SampleRate)) // sample rate
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))       // byte rate
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))     // block align
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)          // bits per sample

	// data sub-chunk
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataLen))

	off := wavHeaderSize
	for i := range buf.Frames() {
		for c := range channels {
			binary.LittleEndian.PutUint16(out[off:], uint16(QuantizePCM16(buf.Channels[c][i])))
			off += 2
		}
	}
	return out, nil
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}
