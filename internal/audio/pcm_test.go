package audio

import (
	"reflect"
	"testing"
)

func TestPCMBytesRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	got := Int16s(PCMBytes(samples))
	if !reflect.DeepEqual(got, samples) {
		t.Fatalf("expected %v, got %v", samples, got)
	}
}

func TestInt16sIgnoresTrailingByte(t *testing.T) {
	if got := Int16s([]byte{1, 0, 9}); !reflect.DeepEqual(got, []int16{1}) {
		t.Fatalf("expected [1], got %v", got)
	}
}

func TestDownmix(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		channels int
		want     []int16
	}{
		{name: "mono unchanged", samples: []int16{1, 2, 3}, channels: 1, want: []int16{1, 2, 3}},
		{name: "stereo average", samples: []int16{10, 20, -10, -30}, channels: 2, want: []int16{15, -20}},
		{name: "partial frame dropped", samples: []int16{10, 20, 30}, channels: 2, want: []int16{15}},
		{name: "no overflow", samples: []int16{32767, 32767}, channels: 2, want: []int16{32767}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Downmix(tt.samples, tt.channels); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestResample(t *testing.T) {
	up := Resample([]int16{0, 100, 200, 300}, 8000, 16000)
	if len(up) != 8 {
		t.Fatalf("expected 8 samples, got %d", len(up))
	}
	if up[0] != 0 || up[1] != 50 || up[2] != 100 {
		t.Fatalf("unexpected interpolation: %v", up)
	}

	down := Resample(make([]int16, 480), 48000, 16000)
	if len(down) != 160 {
		t.Fatalf("expected 160 samples, got %d", len(down))
	}

	same := []int16{1, 2}
	if got := Resample(same, 16000, 16000); !reflect.DeepEqual(got, same) {
		t.Fatalf("expected unchanged samples, got %v", got)
	}
}

func TestScaleClamps(t *testing.T) {
	got := scale([]int16{20000, -20000, 100}, 2)
	want := []int16{32767, -32768, 200}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
