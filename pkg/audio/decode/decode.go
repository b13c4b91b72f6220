// Package decode turns encoded audio blobs into [audio.SampleBuffer] values.
//
// Supported containers are RIFF/WAVE (PCM, 8–32 bit), FLAC, Ogg/Opus (the
// format browsers and most desktop recorders produce) and headerless 16-bit
// little-endian PCM described by an "audio/pcm;rate=N;channels=C" MIME type.
// The container is sniffed from the leading bytes; the MIME type is only
// consulted for raw PCM, which has no magic number.
package decode

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/MrWong99/voicebank/pkg/audio"
)

var (
	// ErrUnsupportedFormat is returned for blobs whose container or codec is
	// not supported.
	ErrUnsupportedFormat = errors.New("decode: unsupported audio format")

	// ErrCorrupt is returned for blobs that look like a supported container but
	// cannot be parsed.
	ErrCorrupt = errors.New("decode: corrupt audio data")
)

// Kind identifies an audio container.
type Kind int

const (
	KindUnknown Kind = iota
	KindWAV
	KindFLAC
	KindOggOpus
	KindPCM
)

// String returns the short name of the container.
func (k Kind) String() string {
	switch k {
	case KindWAV:
		return "wav"
	case KindFLAC:
		return "flac"
	case KindOggOpus:
		return "ogg"
	case KindPCM:
		return "pcm"
	default:
		return "unknown"
	}
}

// MIMETypePCM is the media type of headerless 16-bit little-endian PCM. Rate
// and channel count travel as parameters.
const MIMETypePCM = "audio/pcm"

// PCMMIMEType formats the MIME type describing raw PCM in format f.
func PCMMIMEType(f audio.Format) string {
	return mime.FormatMediaType(MIMETypePCM, map[string]string{
		"rate":     fmt.Sprint(f.SampleRate),
		"channels": fmt.Sprint(f.Channels),
	})
}

// Sniff identifies the container of data, falling back to mimeType for raw
// PCM.
func Sniff(data []byte, mimeType string) Kind {
	switch {
	case audio.IsWAV(data):
		return KindWAV
	case len(data) >= 4 && string(data[:4]) == "fLaC":
		return KindFLAC
	case len(data) >= 4 && string(data[:4]) == "OggS":
		return KindOggOpus
	}
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil && strings.EqualFold(mt, MIMETypePCM) {
		return KindPCM
	}
	return KindUnknown
}

// Decoder decodes blobs. The zero value is ready to use.
type Decoder struct {
	// MaxFrames caps the number of frames a single blob may decode to. Zero
	// means no limit.
	MaxFrames int
}

// Decode decodes blob. Errors wrap [ErrUnsupportedFormat] or [ErrCorrupt], or
// are ctx.Err() when ctx is cancelled mid-decode.
func (d Decoder) Decode(ctx context.Context, blob audio.Blob) (audio.SampleBuffer, error) {
	if err := ctx.Err(); err != nil {
		return audio.SampleBuffer{}, err
	}
	if len(blob.Data) == 0 {
		return audio.SampleBuffer{}, fmt.Errorf("decode: empty blob: %w", ErrCorrupt)
	}

	var (
		buf audio.SampleBuffer
		err error
	)
	switch kind := Sniff(blob.Data, blob.MIMEType); kind {
	case KindWAV:
		buf, err = decodeWAV(ctx, blob.Data)
	case KindFLAC:
		buf, err = decodeFLAC(ctx, blob.Data, d.MaxFrames)
	case KindOggOpus:
		buf, err = decodeOggOpus(ctx, blob.Data, d.MaxFrames)
	case KindPCM:
		buf, err = decodePCM(blob.Data, blob.MIMEType)
	default:
		return audio.SampleBuffer{}, fmt.Errorf("decode: %q: %w", blob.MIMEType, ErrUnsupportedFormat)
	}
	if err != nil {
		return audio.SampleBuffer{}, err
	}
	if d.MaxFrames > 0 && buf.Frames() > d.MaxFrames {
		return audio.SampleBuffer{}, fmt.Errorf("decode: %d frames exceed limit of %d: %w", buf.Frames(), d.MaxFrames, ErrUnsupportedFormat)
	}
	return buf, nil
}

// Decode decodes blob with a zero-value [Decoder].
func Decode(ctx context.Context, blob audio.Blob) (audio.SampleBuffer, error) {
	return Decoder{}.Decode(ctx, blob)
}

// divisor returns the full-scale value for signed integer samples of the
// given bit depth.
func divisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("decode: %d-bit samples: %w", bitDepth, ErrUnsupportedFormat)
	}
}
