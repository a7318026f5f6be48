package audio

import (
	"bytes"
	"errors"
	"os/exec"
	"slices"
	"testing"
)

type stubFactory struct {
	name      string
	supported bool
}

func (f stubFactory) Name() string             { return f.name }
func (f stubFactory) Label() string            { return "audio/" + f.name }
func (f stubFactory) Supported() bool          { return f.supported }
func (f stubFactory) New(int) (Encoder, error) { return nil, errors.New("not implemented") }

func TestSelectEncoderHonoursPreference(t *testing.T) {
	webm := stubFactory{name: "webm-opus", supported: false}
	ogg := stubFactory{name: "ogg-opus", supported: true}
	wav := stubFactory{name: "wav", supported: true}

	got, err := SelectEncoder([]string{"webm-opus", "ogg-opus", "wav"}, wav, ogg, webm)
	if err != nil {
		t.Fatalf("SelectEncoder failed: %v", err)
	}
	if got.Name() != "ogg-opus" {
		t.Fatalf("expected ogg-opus, got %s", got.Name())
	}

	got, err = SelectEncoder(nil, webm, wav)
	if err != nil {
		t.Fatalf("SelectEncoder failed: %v", err)
	}
	if got.Name() != "wav" {
		t.Fatalf("expected wav, got %s", got.Name())
	}
}

func TestSelectEncoderNoneSupported(t *testing.T) {
	_, err := SelectEncoder([]string{"webm-opus", "unknown"}, stubFactory{name: "webm-opus"})
	if !errors.Is(err, ErrNoEncoder) {
		t.Fatalf("expected ErrNoEncoder, got %v", err)
	}
}

func TestFFmpegFactoryUnsupportedWithoutBinary(t *testing.T) {
	f := NewWebMOpusFactory("ffmpeg")
	f.lookPath = func(string) (string, error) { return "", exec.ErrNotFound }

	if f.Supported() {
		t.Fatal("expected factory to be unsupported")
	}

	chosen, err := SelectEncoder([]string{"webm-opus", "wav"}, f, WAVEncoderFactory{})
	if err != nil {
		t.Fatalf("SelectEncoder failed: %v", err)
	}
	if chosen.Label() != LabelWAV {
		t.Fatalf("expected wav fallback, got %s", chosen.Label())
	}
}

func TestFFmpegEncoderStreamsThroughSubprocess(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}

	f := NewOggOpusFactory("ffmpeg")
	var gotArgs []string
	f.command = func(name string, args ...string) *exec.Cmd {
		gotArgs = args
		return exec.Command("cat")
	}

	enc, err := f.New(16000)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	samples := []int16{1, -1, 300}
	if err := enc.Write(samples); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	payload, err := enc.Finalize()
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if !bytes.Equal(payload, PCMBytes(samples)) {
		t.Fatalf("expected piped pcm, got %v", payload)
	}
	if !slices.Contains(gotArgs, "ogg") || !slices.Contains(gotArgs, "libopus") {
		t.Fatalf("unexpected ffmpeg args: %v", gotArgs)
	}
	if _, err := enc.Finalize(); err == nil {
		t.Fatal("expected second Finalize to fail")
	}
}

func TestExtensionForLabel(t *testing.T) {
	tests := map[string]string{
		LabelWebMOpus:   ".webm",
		LabelOggOpus:    ".ogg",
		LabelWAV:        ".wav",
		LabelMPEG:       ".mp3",
		"audio/mp4":     ".m4a",
		"something/odd": ".bin",
	}
	for label, want := range tests {
		if got := ExtensionForLabel(label); got != want {
			t.Fatalf("ExtensionForLabel(%q) = %q, want %q", label, got, want)
		}
	}
}
