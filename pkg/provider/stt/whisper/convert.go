package whisper

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/voicebank/pkg/audio"
	"github.com/MrWong99/voicebank/pkg/audio/decode"
	"github.com/MrWong99/voicebank/pkg/provider/stt"
)

// modelSampleRate is the only rate whisper.cpp models accept.
const modelSampleRate = 16000

// samplesForModel decodes blob into the 16 kHz mono float32 samples that
// whisper.cpp expects, resampling and downmixing when necessary.
func samplesForModel(ctx context.Context, blob audio.Blob) ([]float32, error) {
	buf, err := decode.Decode(ctx, blob)
	if err != nil {
		if errors.Is(err, decode.ErrUnsupportedFormat) || errors.Is(err, decode.ErrCorrupt) {
			return nil, fmt.Errorf("whisper: %w: %w", stt.ErrUnsupportedFormat, err)
		}
		return nil, fmt.Errorf("whisper: decode: %w", err)
	}
	buf, err = audio.Resample(buf, modelSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("whisper: resample: %w", err)
	}
	return buf.Channels[0], nil
}
