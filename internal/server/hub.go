package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/sjawhar/ghost-capture/internal/session"
	"github.com/sjawhar/ghost-capture/internal/storage"
)

type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

// Broadcast never blocks; slow subscribers miss messages.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastStateChanged(sessionID string, state session.State) {
	h.broadcastEvent(StateChangedEvent{
		Event:     newEvent("state_changed", time.Now().UTC()),
		SessionID: sessionID,
		State:     state.String(),
	})
}

func (h *Hub) BroadcastSourcesChanged(sessionID string, active session.Sources) {
	h.broadcastEvent(SourcesChangedEvent{
		Event:      newEvent("sources_changed", time.Now().UTC()),
		SessionID:  sessionID,
		System:     active.System,
		Microphone: active.Microphone,
	})
}

func (h *Hub) BroadcastSegmentEmitted(seg session.Segment) {
	h.broadcastEvent(SegmentEmittedEvent{
		Event:         newEvent("segment_emitted", time.Now().UTC()),
		SessionID:     seg.SessionID,
		SegmentID:     seg.ID,
		Sequence:      seg.Sequence,
		SizeBytes:     seg.SizeBytes(),
		DurationMS:    seg.Duration.Milliseconds(),
		EncodingLabel: seg.EncodingLabel,
		Final:         seg.Final,
	})
}

func (h *Hub) BroadcastRecorderFailed(sessionID, reason string) {
	h.broadcastEvent(RecorderFailedEvent{
		Event:     newEvent("recorder_failed", time.Now().UTC()),
		SessionID: sessionID,
		Reason:    reason,
	})
}

// BroadcastTranscript announces a finished segment as transcript_ready or
// transcription_failed.
func (h *Hub) BroadcastTranscript(t storage.Transcript) {
	if t.Succeeded {
		h.broadcastEvent(TranscriptReadyEvent{
			Event:     newEvent("transcript_ready", t.CreatedAt),
			SessionID: t.SessionID,
			SegmentID: t.SegmentID,
			Sequence:  t.Sequence,
			Text:      t.Text,
			Strategy:  t.Strategy,
		})
		return
	}
	h.broadcastEvent(TranscriptionFailedEvent{
		Event:     newEvent("transcription_failed", t.CreatedAt),
		SessionID: t.SessionID,
		SegmentID: t.SegmentID,
		Sequence:  t.Sequence,
		Reason:    t.FailureReason,
		Attempts:  len(t.Attempts),
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}
	h.Broadcast(payload)
}
