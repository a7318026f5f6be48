package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sjawhar/ghost-capture/internal/audio"
	"github.com/sjawhar/ghost-capture/internal/session"
	"github.com/sjawhar/ghost-capture/internal/storage"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type SessionStore interface {
	GetSessionsByDate(date string) ([]storage.Session, error)
	GetSession(id string) (storage.Session, error)
	GetTranscripts(sessionID string) ([]storage.Transcript, error)
	GetTranscript(segmentID string) (storage.Transcript, error)
	GetDates() ([]string, error)
}

func registerAPIRoutes(mux *http.ServeMux, store SessionStore, controls ControlHooks, audioDir string) {
	mux.HandleFunc("POST /api/capture/start", func(w http.ResponseWriter, r *http.Request) {
		if controls.Start == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "capture not configured")
			return
		}
		if err := controls.Start(r.Context()); err != nil {
			writeControlError(w, "start capture", err)
			return
		}
		writeSnapshot(w, controls)
	})

	mux.HandleFunc("POST /api/capture/stop", func(w http.ResponseWriter, r *http.Request) {
		if controls.Stop == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "capture not configured")
			return
		}
		if err := controls.Stop(r.Context()); err != nil {
			writeControlError(w, "stop capture", err)
			return
		}
		writeSnapshot(w, controls)
	})

	mux.HandleFunc("POST /api/capture/pause", func(w http.ResponseWriter, r *http.Request) {
		if controls.Pause == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "capture not configured")
			return
		}
		if err := controls.Pause(); err != nil {
			writeControlError(w, "pause capture", err)
			return
		}
		writeSnapshot(w, controls)
	})

	mux.HandleFunc("POST /api/capture/resume", func(w http.ResponseWriter, r *http.Request) {
		if controls.Resume == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "capture not configured")
			return
		}
		if err := controls.Resume(); err != nil {
			writeControlError(w, "resume capture", err)
			return
		}
		writeSnapshot(w, controls)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		var snapshot session.Snapshot
		if controls.Snapshot != nil {
			snapshot = controls.Snapshot()
		}
		var warnings []string
		if controls.Warnings != nil {
			warnings = controls.Warnings()
		}
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"capture": snapshot, "warnings": warnings})
	})

	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		if date == "" {
			date = time.Now().UTC().Format("2006-01-02")
		}

		sessions, err := store.GetSessionsByDate(date)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list sessions: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, sessions)
	})

	mux.HandleFunc("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if !validID(sessionID) {
			writeJSONError(w, http.StatusForbidden, "invalid session id")
			return
		}

		sessionData, err := store.GetSession(sessionID)
		if err != nil {
			writeJSONError(w, lookupStatus(err), fmt.Sprintf("get session: %v", err))
			return
		}

		transcripts, err := store.GetTranscripts(sessionID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get session transcripts: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"session":     sessionData,
			"transcripts": transcripts,
		})
	})

	mux.HandleFunc("GET /api/transcripts/{id}/audio", func(w http.ResponseWriter, r *http.Request) {
		segmentID := r.PathValue("id")
		if !validID(segmentID) {
			writeJSONError(w, http.StatusForbidden, "invalid segment id")
			return
		}

		transcript, err := store.GetTranscript(segmentID)
		if err != nil {
			writeJSONError(w, lookupStatus(err), "transcript not found")
			return
		}
		if transcript.AudioPath == "" {
			writeJSONError(w, http.StatusNotFound, "audio not available")
			return
		}

		cleanPath, ok := withinDir(audioDir, transcript.AudioPath)
		if !ok {
			writeJSONError(w, http.StatusForbidden, "invalid audio path")
			return
		}

		f, err := os.Open(cleanPath)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, "audio file not found")
			return
		}
		defer func() { _ = f.Close() }()

		info, err := f.Stat()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("stat audio: %v", err))
			return
		}

		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		w.Header().Set("Content-Type", contentTypeForAudio(transcript.EncodingLabel, cleanPath))
		http.ServeContent(w, r, filepath.Base(cleanPath), info.ModTime(), f)
	})

	mux.HandleFunc("GET /api/dates", func(w http.ResponseWriter, r *http.Request) {
		dates, err := store.GetDates()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get dates: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, dates)
	})
}

func validID(id string) bool {
	return idPattern.MatchString(id)
}

func lookupStatus(err error) int {
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// withinDir resolves path and reports whether it lies inside dir.
func withinDir(dir, path string) (string, bool) {
	if dir == "" {
		return "", false
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	target, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return target, true
}

func contentTypeForAudio(label, path string) string {
	mime, _, _ := strings.Cut(label, ";")
	if strings.HasPrefix(mime, "audio/") {
		return strings.TrimSpace(mime)
	}
	mime, _, _ = strings.Cut(audio.LabelForExtension(filepath.Ext(path)), ";")
	return mime
}

func writeControlError(w http.ResponseWriter, action string, err error) {
	status := http.StatusInternalServerError
	var acqErr *session.AcquisitionError
	switch {
	case errors.Is(err, session.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.As(err, &acqErr):
		status = http.StatusServiceUnavailable
	}
	writeJSONError(w, status, fmt.Sprintf("%s: %v", action, err))
}

func writeSnapshot(w http.ResponseWriter, controls ControlHooks) {
	if controls.Snapshot == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, controls.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
