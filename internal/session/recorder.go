package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sjawhar/ghost-capture/internal/audio"
)

type recorderState int

const (
	recRecording recorderState = iota
	recStopping
	recIdle
)

var errRecorderIdle = errors.New("recorder already finalized")

// segmentRecorder feeds graph output into one encoder and tracks how long it
// has actively recorded. Paused time does not count.
type segmentRecorder struct {
	label     string
	startedAt time.Time

	mu        sync.Mutex
	enc       audio.Encoder
	state     recorderState
	paused    bool
	resumedAt time.Time
	active    time.Duration
	samples   int
	err       error
}

func newSegmentRecorder(enc audio.Encoder, label string, now time.Time) *segmentRecorder {
	return &segmentRecorder{
		label:     label,
		startedAt: now,
		enc:       enc,
		resumedAt: now,
	}
}

// WritePCM implements audio.PCMSink. Frames are discarded while paused or
// after stop.
func (r *segmentRecorder) WritePCM(samples []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != recRecording || r.paused || r.err != nil {
		return
	}
	if err := r.enc.Write(samples); err != nil {
		r.err = fmt.Errorf("encode segment: %w", err)
		return
	}
	r.samples += len(samples)
}

func (r *segmentRecorder) pause(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != recRecording || r.paused {
		return
	}
	r.active += now.Sub(r.resumedAt)
	r.paused = true
}

func (r *segmentRecorder) resume(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != recRecording || !r.paused {
		return
	}
	r.paused = false
	r.resumedAt = now
}

func (r *segmentRecorder) elapsed(now time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == recRecording && !r.paused {
		return r.active + now.Sub(r.resumedAt)
	}
	return r.active
}

func (r *segmentRecorder) failure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// stop freezes the duration and rejects further frames.
func (r *segmentRecorder) stop(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != recRecording {
		return
	}
	if !r.paused {
		r.active += now.Sub(r.resumedAt)
	}
	r.state = recStopping
}

// finalize closes the container and returns the payload with the active
// duration.
func (r *segmentRecorder) finalize() ([]byte, time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == recIdle {
		return nil, r.active, errRecorderIdle
	}
	r.state = recIdle

	if r.err != nil {
		r.enc.Abort()
		return nil, r.active, r.err
	}
	payload, err := r.enc.Finalize()
	if err != nil {
		return nil, r.active, fmt.Errorf("finalize %s: %w", r.label, err)
	}
	return payload, r.active, nil
}

func (r *segmentRecorder) abort() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == recIdle {
		return
	}
	r.state = recIdle
	r.enc.Abort()
}
