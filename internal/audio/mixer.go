package audio

import (
	"errors"
	"sync"
)

const (
	SystemGain     = 1.0
	MicrophoneGain = 0.4

	maxPendingSeconds    = 2
	maxMicBufferedMillis = 500
)

var ErrNoSystemTrack = errors.New("system track is required")

// PCMSink consumes mono PCM at the graph sample rate.
type PCMSink interface {
	WritePCM(samples []int16)
}

// GainStage scales one source before it reaches the mix.
type GainStage struct {
	gain  float64
	track Track
	rate  int
	input func([]int16)
}

func (g *GainStage) WriteFrame(f Frame) {
	samples := Downmix(f.Samples, f.Channels)
	if f.SampleRate > 0 {
		samples = Resample(samples, f.SampleRate, g.rate)
	}
	g.input(scale(samples, g.gain))
}

func (g *GainStage) disconnect() {
	if g != nil && g.track != nil {
		g.track.Disconnect()
	}
}

// Destination is the single output of the graph. While no sink is bound it
// holds up to two seconds of audio and hands it to the next sink on Bind,
// so rotating recorders loses nothing.
type Destination struct {
	mu         sync.Mutex
	sink       PCMSink
	pending    []int16
	maxPending int
	dropped    int
	closed     bool
}

func newDestination(sampleRate int) *Destination {
	return &Destination{maxPending: sampleRate * maxPendingSeconds}
}

// Bind routes output to sink, first flushing anything held while unbound.
func (d *Destination) Bind(sink PCMSink) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.sink = sink
	if sink != nil && len(d.pending) > 0 {
		sink.WritePCM(d.pending)
		d.pending = nil
	}
}

func (d *Destination) Unbind() {
	d.mu.Lock()
	d.sink = nil
	d.mu.Unlock()
}

// Pending reports the number of samples held while unbound.
func (d *Destination) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Dropped reports samples discarded because the unbound buffer was full.
func (d *Destination) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

func (d *Destination) write(samples []int16) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || len(samples) == 0 {
		return
	}
	if d.sink != nil {
		d.sink.WritePCM(samples)
		return
	}

	d.pending = append(d.pending, samples...)
	if over := len(d.pending) - d.maxPending; over > 0 {
		d.dropped += over
		d.pending = append(d.pending[:0], d.pending[over:]...)
	}
}

func (d *Destination) close() {
	d.mu.Lock()
	d.closed = true
	d.sink = nil
	d.pending = nil
	d.mu.Unlock()
}

// Graph mixes the system source with an optional microphone into one
// Destination. The system source clocks the mix: every system block is
// summed with whatever microphone audio has been buffered.
type Graph struct {
	sampleRate int
	system     *GainStage
	mic        *GainStage
	dest       *Destination

	mu     sync.Mutex
	micBuf []int16
	maxMic int

	closeOnce sync.Once
}

// NewGraph connects system (required) and mic (optional) to a new
// Destination at sampleRate.
func NewGraph(sampleRate int, system, mic Track) (*Graph, error) {
	if system == nil {
		return nil, ErrNoSystemTrack
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}

	g := &Graph{
		sampleRate: sampleRate,
		dest:       newDestination(sampleRate),
		maxMic:     sampleRate * maxMicBufferedMillis / 1000,
	}
	g.system = &GainStage{gain: SystemGain, track: system, rate: sampleRate, input: g.mixSystem}
	system.Connect(g.system)

	if mic != nil {
		g.mic = &GainStage{gain: MicrophoneGain, track: mic, rate: sampleRate, input: g.bufferMic}
		mic.Connect(g.mic)
	}

	return g, nil
}

func (g *Graph) SampleRate() int           { return g.sampleRate }
func (g *Graph) Destination() *Destination { return g.dest }
func (g *Graph) HasMicrophone() bool       { return g.mic != nil }

// Close disconnects both stages and releases the destination. Safe to call
// more than once.
func (g *Graph) Close() {
	g.closeOnce.Do(func() {
		g.system.disconnect()
		g.mic.disconnect()
		g.dest.close()

		g.mu.Lock()
		g.micBuf = nil
		g.mu.Unlock()
	})
}

func (g *Graph) mixSystem(samples []int16) {
	out := make([]int16, len(samples))

	g.mu.Lock()
	n := min(len(samples), len(g.micBuf))
	for i, s := range samples {
		v := int32(s)
		if i < n {
			v += int32(g.micBuf[i])
		}
		out[i] = clampSum(v)
	}
	g.micBuf = append(g.micBuf[:0], g.micBuf[n:]...)
	g.mu.Unlock()

	g.dest.write(out)
}

func (g *Graph) bufferMic(samples []int16) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.micBuf = append(g.micBuf, samples...)
	if over := len(g.micBuf) - g.maxMic; over > 0 {
		g.micBuf = append(g.micBuf[:0], g.micBuf[over:]...)
	}
}
