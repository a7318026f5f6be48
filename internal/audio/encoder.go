package audio

import (
	"errors"
	"fmt"
	"strings"
)

const (
	LabelWebMOpus = "audio/webm;codecs=opus"
	LabelOggOpus  = "audio/ogg;codecs=opus"
	LabelWAV      = "audio/wav"
	LabelMPEG     = "audio/mpeg"
	LabelOgg      = "audio/ogg"
)

var ErrNoEncoder = errors.New("no supported encoder")

// Encoder turns a stream of mono PCM into one self-contained file.
type Encoder interface {
	Write(samples []int16) error
	// Finalize flushes the container and returns the complete payload.
	Finalize() ([]byte, error)
	// Abort discards the output.
	Abort()
}

type EncoderFactory interface {
	Name() string
	Label() string
	Supported() bool
	New(sampleRate int) (Encoder, error)
}

// SelectEncoder returns the first supported factory in preference order.
// An empty preference list accepts factories in the order given.
func SelectEncoder(preference []string, factories ...EncoderFactory) (EncoderFactory, error) {
	byName := make(map[string]EncoderFactory, len(factories))
	for _, f := range factories {
		byName[f.Name()] = f
	}

	if len(preference) == 0 {
		for _, f := range factories {
			if f.Supported() {
				return f, nil
			}
		}
		return nil, ErrNoEncoder
	}

	for _, name := range preference {
		f, ok := byName[strings.TrimSpace(name)]
		if !ok {
			continue
		}
		if f.Supported() {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w among %v", ErrNoEncoder, preference)
}

// ExtensionForLabel maps an encoding label to a file extension.
func ExtensionForLabel(label string) string {
	mime, _, _ := strings.Cut(label, ";")
	switch strings.TrimSpace(strings.ToLower(mime)) {
	case "audio/webm", "video/webm":
		return ".webm"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/wav", "audio/wave", "audio/x-wav":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	default:
		return ".bin"
	}
}

// LabelForExtension is the inverse of ExtensionForLabel for stored files.
func LabelForExtension(ext string) string {
	switch strings.ToLower(ext) {
	case ".webm":
		return LabelWebMOpus
	case ".ogg":
		return LabelOgg
	case ".wav":
		return LabelWAV
	case ".mp3":
		return LabelMPEG
	case ".m4a":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}
