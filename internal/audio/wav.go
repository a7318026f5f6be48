package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-audio/wav"
)

var ErrInvalidWAV = errors.New("invalid wav payload")

// EncodeWAV wraps mono s16 samples in a canonical 44-byte RIFF header.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	pcm := PCMBytes(samples)
	header, err := wavHeader(len(pcm), sampleRate, pcmChannels, pcmBitDepth)
	if err != nil {
		return nil, fmt.Errorf("build wav header: %w", err)
	}

	out := make([]byte, 0, len(header)+len(pcm))
	out = append(out, header...)
	return append(out, pcm...), nil
}

// DecodeWAV reads a RIFF/WAVE payload and returns mono s16 samples.
func DecodeWAV(payload []byte) ([]int16, int, error) {
	d := wav.NewDecoder(bytes.NewReader(payload))
	if !d.IsValidFile() {
		return nil, 0, ErrInvalidWAV
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav pcm: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return nil, 0, ErrInvalidWAV
	}

	shift := 0
	if depth := buf.SourceBitDepth; depth > 16 {
		shift = depth - 16
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		switch {
		case buf.SourceBitDepth == 8:
			samples[i] = int16((v - 128) << 8)
		case shift > 0:
			samples[i] = int16(v >> shift)
		default:
			samples[i] = int16(v)
		}
	}

	return Downmix(samples, buf.Format.NumChannels), buf.Format.SampleRate, nil
}

func wavHeader(dataSize, sampleRate, channels, bitDepth int) ([]byte, error) {
	byteRate := sampleRate * channels * bitDepth / 8
	blockAlign := channels * bitDepth / 8
	chunkSize := 36 + dataSize

	buf := bytes.NewBuffer(make([]byte, 0, 44))
	if _, err := buf.WriteString("RIFF"); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(chunkSize)); err != nil {
		return nil, err
	}
	if _, err := buf.WriteString("WAVEfmt "); err != nil {
		return nil, err
	}

	fmtChunk := []any{
		uint32(16),
		uint16(1),
		uint16(channels),
		uint32(sampleRate),
		uint32(byteRate),
		uint16(blockAlign),
		uint16(bitDepth),
	}
	for _, field := range fmtChunk {
		if err := binary.Write(buf, binary.LittleEndian, field); err != nil {
			return nil, err
		}
	}

	if _, err := buf.WriteString("data"); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(dataSize)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
