package decode

import (
	"fmt"
	"mime"
	"strconv"

	"github.com/MrWong99/voicebank/pkg/audio"
)

// ParsePCMMIMEType extracts the format from an "audio/pcm" MIME type.
func ParsePCMMIMEType(mimeType string) (audio.Format, error) {
	_, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return audio.Format{}, fmt.Errorf("decode: pcm: %v: %w", err, ErrUnsupportedFormat)
	}
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return audio.Format{}, fmt.Errorf("decode: pcm: missing or invalid rate parameter: %w", ErrUnsupportedFormat)
	}
	channels := 1
	if v, ok := params["channels"]; ok {
		channels, err = strconv.Atoi(v)
		if err != nil || channels <= 0 {
			return audio.Format{}, fmt.Errorf("decode: pcm: invalid channels parameter %q: %w", v, ErrUnsupportedFormat)
		}
	}
	return audio.Format{SampleRate: rate, Channels: channels}, nil
}

func decodePCM(data []byte, mimeType string) (audio.SampleBuffer, error) {
	f, err := ParsePCMMIMEType(mimeType)
	if err != nil {
		return audio.SampleBuffer{}, err
	}
	if len(data)%(2*f.Channels) != 0 {
		return audio.SampleBuffer{}, fmt.Errorf("decode: pcm: %d bytes is not a whole number of %d-channel frames: %w", len(data), f.Channels, ErrCorrupt)
	}
	return audio.PCM16ToBuffer(data, f)
}
