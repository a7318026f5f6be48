package pipeline

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/ghost-capture/internal/session"
)

type SessionRecorder interface {
	CreateSession(id string, startedAt time.Time, microphone bool) error
	EndSession(id string, endedAt time.Time) error
	SetMicrophone(id string, microphone bool) error
}

// SessionLog mirrors controller lifecycle events into the sessions table.
// The row is created on the first capturing state of a session id so that
// transcripts always have a parent.
type SessionLog struct {
	store SessionRecorder
	log   *slog.Logger
	now   func() time.Time

	mu         sync.Mutex
	current    string
	microphone bool
}

func NewSessionLog(store SessionRecorder, logger *slog.Logger) *SessionLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionLog{store: store, log: logger, now: time.Now}
}

func (l *SessionLog) BroadcastStateChanged(sessionID string, state session.State) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch state {
	case session.Capturing:
		if sessionID == "" || sessionID == l.current {
			return
		}
		if err := l.store.CreateSession(sessionID, l.now().UTC(), l.microphone); err != nil {
			l.log.Error("create session failed", "session", sessionID, "error", err)
			return
		}
		l.current = sessionID
	case session.Idle:
		if sessionID == "" || sessionID != l.current {
			return
		}
		if err := l.store.EndSession(sessionID, l.now().UTC()); err != nil {
			l.log.Error("end session failed", "session", sessionID, "error", err)
		}
		l.current = ""
		l.microphone = false
	}
}

// BroadcastSourcesChanged tracks the microphone flag. The empty source set
// sent during teardown is ignored.
func (l *SessionLog) BroadcastSourcesChanged(sessionID string, active session.Sources) {
	if !active.System {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.microphone = active.Microphone
	if sessionID == "" || sessionID != l.current {
		return
	}
	if err := l.store.SetMicrophone(sessionID, active.Microphone); err != nil {
		l.log.Warn("update session sources failed", "session", sessionID, "error", err)
	}
}

func (l *SessionLog) BroadcastSegmentEmitted(session.Segment) {}

func (l *SessionLog) BroadcastRecorderFailed(string, string) {}
