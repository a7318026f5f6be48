package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/sjawhar/ghost-capture/internal/audio"
)

// Prepared is the payload and label a strategy sends to the service.
type Prepared struct {
	Audio []byte
	Label string
}

// Strategy is one way of presenting a segment to the service.
type Strategy struct {
	Name    string
	Prepare func(ctx context.Context, payload []byte, label string) (Prepared, error)
}

// PCMDecoder converts compressed audio to mono s16 PCM.
type PCMDecoder interface {
	DecodePCM(ctx context.Context, payload []byte, sampleRate int) ([]int16, error)
}

// DefaultStrategies returns the standard chain: canonical WAV re-encode,
// the original payload, then the same bytes relabeled as MP3 and Ogg.
func DefaultStrategies(decoder PCMDecoder, sampleRate int) []Strategy {
	return []Strategy{
		CanonicalWAV(decoder, sampleRate),
		Passthrough(),
		Relabel("relabel-mp3", audio.LabelMPEG),
		Relabel("relabel-ogg", audio.LabelOgg),
	}
}

// CanonicalWAV decodes the segment to PCM and re-encodes it as 16-bit
// mono WAV with an explicit header.
func CanonicalWAV(decoder PCMDecoder, sampleRate int) Strategy {
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}

	return Strategy{
		Name: "canonical-wav",
		Prepare: func(ctx context.Context, payload []byte, label string) (Prepared, error) {
			var (
				samples []int16
				rate    = sampleRate
				err     error
			)

			if isWAV(payload, label) {
				samples, rate, err = audio.DecodeWAV(payload)
			} else if decoder == nil {
				err = fmt.Errorf("no decoder for %s", label)
			} else {
				samples, err = decoder.DecodePCM(ctx, payload, sampleRate)
			}
			if err != nil {
				return Prepared{}, fmt.Errorf("decode to pcm: %w", err)
			}
			if len(samples) == 0 {
				return Prepared{}, errors.New("decode to pcm: no samples")
			}

			wav, err := audio.EncodeWAV(samples, rate)
			if err != nil {
				return Prepared{}, err
			}
			return Prepared{Audio: wav, Label: audio.LabelWAV}, nil
		},
	}
}

// Passthrough sends the original bytes under their recorded label.
func Passthrough() Strategy {
	return Strategy{
		Name: "passthrough",
		Prepare: func(_ context.Context, payload []byte, label string) (Prepared, error) {
			return Prepared{Audio: payload, Label: label}, nil
		},
	}
}

// Relabel sends the original bytes under a different label.
func Relabel(name, label string) Strategy {
	return Strategy{
		Name: name,
		Prepare: func(_ context.Context, payload []byte, _ string) (Prepared, error) {
			return Prepared{Audio: payload, Label: label}, nil
		},
	}
}

func isWAV(payload []byte, label string) bool {
	if audio.ExtensionForLabel(label) == ".wav" {
		return true
	}
	return len(payload) >= 12 && bytes.Equal(payload[0:4], []byte("RIFF")) && bytes.Equal(payload[8:12], []byte("WAVE"))
}
