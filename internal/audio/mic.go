package audio

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const micFramesPerBuffer = 1024

// PortAudioMic acquires microphone streams through PortAudio.
type PortAudioMic struct {
	sampleRate int

	mu          sync.Mutex
	initialized bool
}

func NewPortAudioMic(sampleRate int) *PortAudioMic {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &PortAudioMic{sampleRate: sampleRate}
}

// AcquireMicrophone opens the named input device ("" or "default" for the
// system default) and returns a stream with one audio track.
func (m *PortAudioMic) AcquireMicrophone(ctx context.Context, deviceID string) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := m.init(); err != nil {
		return nil, err
	}

	device, err := findInputDevice(deviceID)
	if err != nil {
		return nil, err
	}

	buf := make([]int16, micFramesPerBuffer)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: pcmChannels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(m.sampleRate),
		FramesPerBuffer: len(buf),
	}, buf)
	if err != nil {
		return nil, fmt.Errorf("open microphone stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start microphone stream: %w", err)
	}

	t := &micTrack{
		label:      "mic:" + device.Name,
		stream:     stream,
		buf:        buf,
		sampleRate: m.sampleRate,
		done:       make(chan struct{}),
	}
	go t.run()
	return NewStream(t), nil
}

func (m *PortAudioMic) init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}
	m.initialized = true
	return nil
}

// Close terminates PortAudio if it was initialized.
func (m *PortAudioMic) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil
	}
	m.initialized = false
	return portaudio.Terminate()
}

func findInputDevice(deviceID string) (*portaudio.DeviceInfo, error) {
	id := strings.TrimSpace(deviceID)
	if id == "" || strings.EqualFold(id, "default") {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("get default input device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.MaxInputChannels > 0 && d.Name == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("input device not found: %s", id)
}

type micTrack struct {
	label      string
	stream     *portaudio.Stream
	buf        []int16
	sampleRate int

	mu      sync.Mutex
	sink    FrameSink
	stopped bool
	readErr error

	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

func (t *micTrack) Kind() TrackKind { return KindAudio }
func (t *micTrack) Label() string   { return t.label }

func (t *micTrack) Connect(sink FrameSink) {
	t.mu.Lock()
	t.sink = sink
	t.mu.Unlock()
}

func (t *micTrack) Disconnect() { t.Connect(nil) }

func (t *micTrack) Stop() error {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.stopped = true
		t.sink = nil
		t.mu.Unlock()

		if err := t.stream.Stop(); err != nil {
			t.stopErr = fmt.Errorf("stop microphone stream: %w", err)
		}
		<-t.done
		if err := t.stream.Close(); err != nil && t.stopErr == nil {
			t.stopErr = fmt.Errorf("close microphone stream: %w", err)
		}
	})
	return t.stopErr
}

func (t *micTrack) Done() <-chan struct{} { return t.done }

func (t *micTrack) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readErr
}

func (t *micTrack) run() {
	defer close(t.done)
	for {
		if err := t.stream.Read(); err != nil {
			t.mu.Lock()
			stopped := t.stopped
			t.mu.Unlock()
			// input overflow is transient; anything else ends the track
			if !stopped && strings.Contains(strings.ToLower(err.Error()), "overflow") {
				continue
			}
			if !stopped {
				t.mu.Lock()
				t.readErr = fmt.Errorf("read microphone stream: %w", err)
				t.mu.Unlock()
			}
			return
		}

		samples := make([]int16, len(t.buf))
		copy(samples, t.buf)

		t.mu.Lock()
		sink := t.sink
		t.mu.Unlock()
		if sink != nil {
			sink.WriteFrame(Frame{Samples: samples, Channels: pcmChannels, SampleRate: t.sampleRate})
		}
	}
}
