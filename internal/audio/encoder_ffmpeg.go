package audio

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// FFmpegEncoderFactory streams PCM into an ffmpeg subprocess that muxes
// Opus into WebM or Ogg on stdout.
type FFmpegEncoderFactory struct {
	path   string
	format string
	name   string
	label  string

	lookPath func(string) (string, error)
	command  func(name string, args ...string) *exec.Cmd
}

func NewWebMOpusFactory(ffmpegPath string) *FFmpegEncoderFactory {
	return newFFmpegEncoderFactory(ffmpegPath, "webm", "webm-opus", LabelWebMOpus)
}

func NewOggOpusFactory(ffmpegPath string) *FFmpegEncoderFactory {
	return newFFmpegEncoderFactory(ffmpegPath, "ogg", "ogg-opus", LabelOggOpus)
}

func newFFmpegEncoderFactory(path, format, name, label string) *FFmpegEncoderFactory {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegEncoderFactory{
		path:     path,
		format:   format,
		name:     name,
		label:    label,
		lookPath: exec.LookPath,
		command:  exec.Command,
	}
}

func (f *FFmpegEncoderFactory) Name() string  { return f.name }
func (f *FFmpegEncoderFactory) Label() string { return f.label }

func (f *FFmpegEncoderFactory) Supported() bool {
	_, err := f.lookPath(f.path)
	return err == nil
}

func (f *FFmpegEncoderFactory) New(sampleRate int) (Encoder, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	cmd := f.command(f.path, encoderArgs(f.format, sampleRate)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdin: %w", err)
	}

	e := &ffmpegEncoder{cmd: cmd, stdin: stdin, format: f.format}
	cmd.Stdout = &e.out
	cmd.Stderr = &e.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg %s encoder: %w", f.format, err)
	}
	return e, nil
}

func encoderArgs(format string, sampleRate int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(pcmChannels),
		"-i", "pipe:0",
		"-c:a", "libopus",
		"-b:a", "32k",
		"-application", "voip",
		"-f", format,
		"pipe:1",
	}
}

type ffmpegEncoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	format string
	out    bytes.Buffer
	stderr bytes.Buffer

	once sync.Once
}

func (e *ffmpegEncoder) Write(samples []int16) error {
	if _, err := e.stdin.Write(PCMBytes(samples)); err != nil {
		return fmt.Errorf("write pcm to ffmpeg: %w", err)
	}
	return nil
}

func (e *ffmpegEncoder) Finalize() ([]byte, error) {
	var (
		data []byte
		err  error
	)
	finished := false
	e.once.Do(func() {
		finished = true
		if cerr := e.stdin.Close(); cerr != nil {
			err = fmt.Errorf("close ffmpeg stdin: %w", cerr)
			_ = e.cmd.Wait()
			return
		}
		if werr := e.cmd.Wait(); werr != nil {
			err = fmt.Errorf("ffmpeg %s encode: %w: %s", e.format, werr, strings.TrimSpace(e.stderr.String()))
			return
		}
		data = e.out.Bytes()
	})
	if !finished {
		return nil, fmt.Errorf("finalize ffmpeg %s: already finalized", e.format)
	}
	return data, err
}

func (e *ffmpegEncoder) Abort() {
	e.once.Do(func() {
		_ = e.stdin.Close()
		if e.cmd.Process != nil {
			_ = e.cmd.Process.Kill()
		}
		_ = e.cmd.Wait()
	})
}
