package audio

import (
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVEncoderFactory writes 16-bit mono WAV through a temp file. It needs no
// external tools and is always supported.
type WAVEncoderFactory struct {
	Dir string
}

func (WAVEncoderFactory) Name() string    { return "wav" }
func (WAVEncoderFactory) Label() string   { return LabelWAV }
func (WAVEncoderFactory) Supported() bool { return true }

func (f WAVEncoderFactory) New(sampleRate int) (Encoder, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	file, err := os.CreateTemp(f.Dir, "segment-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create wav temp file: %w", err)
	}

	return &wavEncoder{
		file: file,
		enc:  wav.NewEncoder(file, sampleRate, pcmBitDepth, pcmChannels, 1),
		buf: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: pcmChannels, SampleRate: sampleRate},
			SourceBitDepth: pcmBitDepth,
		},
	}, nil
}

type wavEncoder struct {
	file *os.File
	enc  *wav.Encoder
	buf  *goaudio.IntBuffer
	done bool
}

func (e *wavEncoder) Write(samples []int16) error {
	if e.done {
		return nil
	}

	data := e.buf.Data[:0]
	for _, s := range samples {
		data = append(data, int(s))
	}
	e.buf.Data = data

	if err := e.enc.Write(e.buf); err != nil {
		return fmt.Errorf("write wav samples: %w", err)
	}
	return nil
}

func (e *wavEncoder) Finalize() ([]byte, error) {
	if e.done {
		return nil, fmt.Errorf("finalize wav: already finalized")
	}
	defer e.cleanup()

	if err := e.enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	if _, err := e.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind wav file: %w", err)
	}
	data, err := io.ReadAll(e.file)
	if err != nil {
		return nil, fmt.Errorf("read wav file: %w", err)
	}
	return data, nil
}

func (e *wavEncoder) Abort() {
	if !e.done {
		e.cleanup()
	}
}

func (e *wavEncoder) cleanup() {
	e.done = true
	_ = e.file.Close()
	_ = os.Remove(e.file.Name())
}
