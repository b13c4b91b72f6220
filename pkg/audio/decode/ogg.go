package decode

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"layeh.com/gopus"

	"github.com/MrWong99/voicebank/pkg/audio"
)

const (
	oggHeaderSize    = 27
	oggFlagContinued = 0x01

	// Opus always decodes at 48 kHz regardless of the input rate recorded in
	// the OpusHead packet.
	opusSampleRate = 48000

	// opusMaxFrameSize is the longest Opus frame (120 ms at 48 kHz).
	opusMaxFrameSize = 5760
)

// oggStream is the demuxed content of an Ogg/Opus file.
type oggStream struct {
	head        *oggreader.OggHeader
	packets     [][]byte // everything after the identification header
	lastGranule int64
}

// openOggError classifies a failure of [oggreader.NewWith]: a first page that
// parses but does not carry an OpusHead is a different codec, anything else
// is damage.
func openOggError(data []byte, err error) error {
	if len(data) > oggHeaderSize && string(data[:4]) == "OggS" {
		body := oggHeaderSize + int(data[26])
		if len(data) >= body+8 && string(data[body:body+8]) != "OpusHead" {
			return fmt.Errorf("decode: ogg: stream is not opus: %w", ErrUnsupportedFormat)
		}
	}
	return fmt.Errorf("decode: ogg: %v: %w", err, ErrCorrupt)
}

// oggPackets demuxes the first logical stream in data. Pages are read and
// checksummed by oggreader; packet boundaries come from each page's lacing
// table, which is read from data at the page's offset.
func oggPackets(ctx context.Context, data []byte) (oggStream, error) {
	src := bytes.NewReader(data)
	r, head, err := oggreader.NewWith(src)
	if err != nil {
		return oggStream{}, openOggError(data, err)
	}
	serial := binary.LittleEndian.Uint32(data[14:18])

	st := oggStream{head: head, lastGranule: -1}
	var partial []byte
	for {
		if err := ctx.Err(); err != nil {
			return oggStream{}, err
		}
		off := len(data) - src.Len()
		payload, page, err := r.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return oggStream{}, fmt.Errorf("decode: ogg: page at offset %d: %v: %w", off, err, ErrCorrupt)
		}
		raw := data[off:]
		if string(raw[:4]) != "OggS" {
			return oggStream{}, fmt.Errorf("decode: ogg: missing capture pattern at offset %d: %w", off, ErrCorrupt)
		}
		if binary.LittleEndian.Uint32(raw[14:18]) != serial {
			continue
		}
		if raw[5]&oggFlagContinued == 0 {
			partial = partial[:0]
		}
		if g := int64(page.GranulePosition); g >= 0 {
			st.lastGranule = g
		}

		for _, seg := range raw[oggHeaderSize : oggHeaderSize+int(raw[26])] {
			partial = append(partial, payload[:seg]...)
			payload = payload[seg:]
			if seg < 255 {
				st.packets = append(st.packets, bytes.Clone(partial))
				partial = partial[:0]
			}
		}
	}
	return st, nil
}

func checkOpusHead(h *oggreader.OggHeader) error {
	if h.Version>>4 != 0 {
		return fmt.Errorf("decode: opus: header version %d: %w", h.Version, ErrUnsupportedFormat)
	}
	if h.ChannelMap != 0 || h.Channels < 1 || h.Channels > 2 {
		return fmt.Errorf("decode: opus: %d channels with mapping family %d: %w", h.Channels, h.ChannelMap, ErrUnsupportedFormat)
	}
	return nil
}

func decodeOggOpus(ctx context.Context, data []byte, maxFrames int) (audio.SampleBuffer, error) {
	st, err := oggPackets(ctx, data)
	if err != nil {
		return audio.SampleBuffer{}, err
	}
	if err := checkOpusHead(st.head); err != nil {
		return audio.SampleBuffer{}, err
	}
	if len(st.packets) < 1 || len(st.packets[0]) < 8 || string(st.packets[0][:8]) != "OpusTags" {
		return audio.SampleBuffer{}, fmt.Errorf("decode: opus: missing comment header: %w", ErrCorrupt)
	}
	channels := int(st.head.Channels)
	preSkip := int(st.head.PreSkip)

	dec, err := gopus.NewDecoder(opusSampleRate, channels)
	if err != nil {
		return audio.SampleBuffer{}, fmt.Errorf("decode: opus: create decoder: %w", err)
	}

	var pcm []int16
	for _, pkt := range st.packets[1:] {
		if err := ctx.Err(); err != nil {
			return audio.SampleBuffer{}, err
		}
		if len(pkt) == 0 {
			continue
		}
		out, err := dec.Decode(pkt, opusMaxFrameSize, false)
		if err != nil {
			return audio.SampleBuffer{}, fmt.Errorf("decode: opus: packet: %v: %w", err, ErrCorrupt)
		}
		pcm = append(pcm, out...)
		if maxFrames > 0 && len(pcm)/channels > maxFrames+preSkip {
			return audio.SampleBuffer{}, fmt.Errorf("decode: opus: stream exceeds %d frames: %w", maxFrames, ErrUnsupportedFormat)
		}
	}

	frames := len(pcm) / channels
	start := min(preSkip, frames)
	end := frames
	// The final granule position marks the true end of the stream; the last
	// packet is usually padded.
	if st.lastGranule > 0 && int(st.lastGranule) < end {
		end = max(int(st.lastGranule), start)
	}
	return audio.Int16ToBuffer(pcm[start*channels:end*channels], audio.Format{
		SampleRate: opusSampleRate,
		Channels:   channels,
	}), nil
}
