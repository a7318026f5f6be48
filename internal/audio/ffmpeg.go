package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const loopbackProbe = 300 * time.Millisecond

// FFmpegLoopback captures system output through ffmpeg's platform loopback
// input (PulseAudio monitor, avfoundation, dshow).
type FFmpegLoopback struct {
	path       string
	device     string
	sampleRate int
	goos       string
	probe      time.Duration

	command func(name string, args ...string) *exec.Cmd
}

func NewFFmpegLoopback(ffmpegPath, device string, sampleRate int) *FFmpegLoopback {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &FFmpegLoopback{
		path:       ffmpegPath,
		device:     device,
		sampleRate: sampleRate,
		goos:       runtime.GOOS,
		probe:      loopbackProbe,
		command:    exec.Command,
	}
}

// AcquireDisplay starts the loopback process and returns a stream with one
// audio track. A process that exits during the probe window is reported as
// an acquisition failure.
func (l *FFmpegLoopback) AcquireDisplay(ctx context.Context) (*Stream, error) {
	args := loopbackArgs(l.goos, l.device, l.sampleRate)
	cmd := l.command(l.path, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open loopback stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start loopback capture: %w", err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	select {
	case werr := <-exited:
		msg := strings.TrimSpace(stderr.String())
		if werr == nil {
			werr = errors.New("exited")
		}
		return nil, fmt.Errorf("loopback capture %s: %w: %s", l.input(), werr, msg)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-exited
		return nil, ctx.Err()
	case <-time.After(l.probe):
	}

	stop := func() error {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		<-exited
		return nil
	}

	track := NewReaderTrack("loopback:"+l.input(), stdout, pcmChannels, l.sampleRate, stop)
	return NewStream(track), nil
}

func (l *FFmpegLoopback) input() string {
	_, in := loopbackInput(l.goos, l.device)
	return in
}

func loopbackInput(goos, device string) (string, string) {
	device = strings.TrimSpace(device)
	switch goos {
	case "darwin":
		if device == "" {
			device = "BlackHole 2ch"
		}
		if !strings.HasPrefix(device, ":") {
			device = ":" + device
		}
		return "avfoundation", device
	case "windows":
		if device == "" {
			device = "Stereo Mix"
		}
		if !strings.HasPrefix(device, "audio=") {
			device = "audio=" + device
		}
		return "dshow", device
	default:
		if device == "" {
			device = "@DEFAULT_MONITOR@"
		}
		return "pulse", device
	}
}

func loopbackArgs(goos, device string, sampleRate int) []string {
	format, input := loopbackInput(goos, device)
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", format,
		"-i", input,
		"-ac", strconv.Itoa(pcmChannels),
		"-ar", strconv.Itoa(sampleRate),
		"-f", "s16le",
		"pipe:1",
	}
}

// FFmpegDecoder converts compressed audio into mono s16 PCM.
type FFmpegDecoder struct {
	path    string
	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func NewFFmpegDecoder(ffmpegPath string) *FFmpegDecoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegDecoder{path: ffmpegPath, command: exec.CommandContext}
}

func (d *FFmpegDecoder) DecodePCM(ctx context.Context, payload []byte, sampleRate int) ([]int16, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	cmd := d.command(ctx, d.path,
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-ac", strconv.Itoa(pcmChannels),
		"-ar", strconv.Itoa(sampleRate),
		"-f", "s16le",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg decode: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() < 2 {
		return nil, errors.New("ffmpeg decode: no audio samples")
	}
	return Int16s(stdout.Bytes()), nil
}
