package session

import (
	"context"
	"fmt"
	"time"

	"github.com/sjawhar/ghost-capture/internal/audio"
)

type State int

const (
	Idle State = iota
	Capturing
	Paused
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Paused:
		return "paused"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Sources struct {
	System     bool `json:"system"`
	Microphone bool `json:"microphone"`
}

// Snapshot is a point-in-time view of the controller for status surfaces.
type Snapshot struct {
	SessionID        string    `json:"session_id,omitempty"`
	State            State     `json:"state"`
	SourcesEnabled   Sources   `json:"sources_enabled"`
	SourcesActive    Sources   `json:"sources_active"`
	MaxChunkMillis   int64     `json:"max_chunk_duration_ms"`
	ContinuousMode   bool      `json:"continuous_mode"`
	Encoding         string    `json:"encoding"`
	SessionStartedAt time.Time `json:"session_started_at"`
	SegmentStartedAt time.Time `json:"segment_started_at"`
	Sequence         int       `json:"sequence"`
	SegmentElapsedMs int64     `json:"segment_elapsed_ms"`
	TotalElapsedMs   int64     `json:"total_elapsed_ms"`
	SegmentsEmitted  int       `json:"segments_emitted"`
	SegmentsDropped  int       `json:"segments_dropped"`
	SamplesDropped   int       `json:"samples_dropped"`
	QueueSize        int       `json:"queue_size"`
	QueueProcessing  bool      `json:"queue_processing"`
	LastFailure      string    `json:"last_failure,omitempty"`
}

type SystemAcquirer interface {
	AcquireDisplay(ctx context.Context) (*audio.Stream, error)
}

type MicrophoneAcquirer interface {
	AcquireMicrophone(ctx context.Context, deviceID string) (*audio.Stream, error)
}

// SegmentSink receives every segment that passes the validity gate. It must
// not block.
type SegmentSink interface {
	Enqueue(seg Segment) string
}

// QueueSizer is implemented by sinks that can report pending work.
type QueueSizer interface {
	Size() int
}

// QueueActivity is implemented by sinks that report whether an item is being
// processed.
type QueueActivity interface {
	Processing() bool
}

type EventBroadcaster interface {
	BroadcastStateChanged(sessionID string, state State)
	BroadcastSourcesChanged(sessionID string, active Sources)
	BroadcastSegmentEmitted(seg Segment)
	BroadcastRecorderFailed(sessionID, reason string)
}

// Broadcasters fans events out to several broadcasters in order.
type Broadcasters []EventBroadcaster

func (b Broadcasters) BroadcastStateChanged(sessionID string, state State) {
	for _, x := range b {
		x.BroadcastStateChanged(sessionID, state)
	}
}

func (b Broadcasters) BroadcastSourcesChanged(sessionID string, active Sources) {
	for _, x := range b {
		x.BroadcastSourcesChanged(sessionID, active)
	}
}

func (b Broadcasters) BroadcastSegmentEmitted(seg Segment) {
	for _, x := range b {
		x.BroadcastSegmentEmitted(seg)
	}
}

func (b Broadcasters) BroadcastRecorderFailed(sessionID, reason string) {
	for _, x := range b {
		x.BroadcastRecorderFailed(sessionID, reason)
	}
}
