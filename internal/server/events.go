package server

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type StateChangedEvent struct {
	Event
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

type SourcesChangedEvent struct {
	Event
	SessionID  string `json:"session_id"`
	System     bool   `json:"system"`
	Microphone bool   `json:"microphone"`
}

type SegmentEmittedEvent struct {
	Event
	SessionID     string `json:"session_id"`
	SegmentID     string `json:"segment_id"`
	Sequence      int    `json:"sequence"`
	SizeBytes     int    `json:"size_bytes"`
	DurationMS    int64  `json:"duration_ms"`
	EncodingLabel string `json:"encoding_label"`
	Final         bool   `json:"final"`
}

type TranscriptReadyEvent struct {
	Event
	SessionID string `json:"session_id"`
	SegmentID string `json:"segment_id"`
	Sequence  int    `json:"sequence"`
	Text      string `json:"text"`
	Strategy  string `json:"strategy"`
}

type TranscriptionFailedEvent struct {
	Event
	SessionID string `json:"session_id"`
	SegmentID string `json:"segment_id"`
	Sequence  int    `json:"sequence"`
	Reason    string `json:"reason"`
	Attempts  int    `json:"attempts"`
}

type RecorderFailedEvent struct {
	Event
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
