package server

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEventSerialization(t *testing.T) {
	events := []any{
		StateChangedEvent{Event: newEvent("state_changed", time.Unix(1, 0)), SessionID: "abc", State: "capturing"},
		SourcesChangedEvent{Event: newEvent("sources_changed", time.Unix(1, 0)), SessionID: "abc", System: true},
		SegmentEmittedEvent{Event: newEvent("segment_emitted", time.Unix(1, 0)), SessionID: "abc", SegmentID: "x", Sequence: 1},
		TranscriptReadyEvent{Event: newEvent("transcript_ready", time.Unix(1, 0)), SessionID: "abc", Text: "ola"},
		TranscriptionFailedEvent{Event: newEvent("transcription_failed", time.Unix(1, 0)), SessionID: "abc", Reason: "bad"},
		RecorderFailedEvent{Event: newEvent("recorder_failed", time.Unix(1, 0)), Reason: "disk full"},
	}

	for _, event := range events {
		b, err := json.Marshal(event)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}

		var payload map[string]any
		if err := json.Unmarshal(b, &payload); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}

		if payload["type"] == nil {
			t.Fatalf("missing type in payload: %s", string(b))
		}
		if payload["version"] == nil {
			t.Fatalf("missing version in payload: %s", string(b))
		}
		if payload["timestamp"] == nil {
			t.Fatalf("missing timestamp in payload: %s", string(b))
		}
	}
}

func TestNewEventDefaultsTimestamp(t *testing.T) {
	ev := newEvent("connection", time.Time{})
	if ev.Timestamp == "" || ev.Version != EventVersion {
		t.Fatalf("unexpected event: %+v", ev)
	}
}
