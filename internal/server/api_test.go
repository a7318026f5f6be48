package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sjawhar/ghost-capture/internal/session"
	"github.com/sjawhar/ghost-capture/internal/storage"
)

type apiStoreStub struct {
	sessionsByDate map[string][]storage.Session
	sessions       map[string]storage.Session
	transcripts    map[string][]storage.Transcript
	dates          []string
}

func (s apiStoreStub) GetSessionsByDate(date string) ([]storage.Session, error) {
	return s.sessionsByDate[date], nil
}

func (s apiStoreStub) GetSession(id string) (storage.Session, error) {
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	return storage.Session{}, os.ErrNotExist
}

func (s apiStoreStub) GetTranscripts(sessionID string) ([]storage.Transcript, error) {
	return s.transcripts[sessionID], nil
}

func (s apiStoreStub) GetTranscript(segmentID string) (storage.Transcript, error) {
	for _, list := range s.transcripts {
		for _, t := range list {
			if t.SegmentID == segmentID {
				return t, nil
			}
		}
	}
	return storage.Transcript{}, os.ErrNotExist
}

func (s apiStoreStub) GetDates() ([]string, error) {
	return s.dates, nil
}

func newTestHandler(t *testing.T, store SessionStore, controls ControlHooks, opts Options) http.Handler {
	t.Helper()
	h, err := Handler(NewHub(), store, controls, opts)
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	return h
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

type controlsStub struct {
	state    session.State
	startErr error
	calls    []string
}

func (c *controlsStub) hooks() ControlHooks {
	return ControlHooks{
		Start: func(context.Context) error {
			c.calls = append(c.calls, "start")
			if c.startErr != nil {
				return c.startErr
			}
			c.state = session.Capturing
			return nil
		},
		Stop: func(context.Context) error {
			c.calls = append(c.calls, "stop")
			c.state = session.Idle
			return nil
		},
		Pause: func() error {
			c.calls = append(c.calls, "pause")
			if c.state != session.Capturing {
				return session.ErrInvalidTransition
			}
			c.state = session.Paused
			return nil
		},
		Resume: func() error {
			c.calls = append(c.calls, "resume")
			c.state = session.Capturing
			return nil
		},
		Snapshot: func() session.Snapshot {
			return session.Snapshot{SessionID: "s1", State: c.state}
		},
	}
}

func TestAPISessionsList(t *testing.T) {
	started := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	store := apiStoreStub{
		sessionsByDate: map[string][]storage.Session{
			"2026-02-26": {{ID: "s1", StartedAt: started, Status: storage.StatusEnded}},
		},
		dates: []string{"2026-02-26"},
	}

	h := newTestHandler(t, store, ControlHooks{}, Options{})
	rr := serve(h, http.MethodGet, "/api/sessions?date=2026-02-26")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("expected application/json content-type, got %q", got)
	}
	if !strings.Contains(rr.Body.String(), "s1") {
		t.Fatalf("expected body to contain session id, got %s", rr.Body.String())
	}
}

func TestAPISessionDetail(t *testing.T) {
	started := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	store := apiStoreStub{
		sessions: map[string]storage.Session{
			"s1": {ID: "s1", StartedAt: started, Status: storage.StatusActive},
		},
		transcripts: map[string][]storage.Transcript{
			"s1": {{SegmentID: "seg1", SessionID: "s1", Sequence: 1, Text: "linha", Succeeded: true, StartedAt: started}},
		},
	}

	h := newTestHandler(t, store, ControlHooks{}, Options{})
	rr := serve(h, http.MethodGet, "/api/sessions/s1")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body struct {
		Session     storage.Session      `json:"session"`
		Transcripts []storage.Transcript `json:"transcripts"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	if body.Session.ID != "s1" || len(body.Transcripts) != 1 || body.Transcripts[0].Text != "linha" {
		t.Fatalf("unexpected detail response: %+v", body)
	}
}

func TestAPISessionDetailNotFound(t *testing.T) {
	h := newTestHandler(t, apiStoreStub{}, ControlHooks{}, Options{})
	rr := serve(h, http.MethodGet, "/api/sessions/missing")

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestAPITranscriptAudioRange(t *testing.T) {
	root := t.TempDir()
	audioPath := filepath.Join(root, "s1", "0001-seg1.webm")
	if err := os.MkdirAll(filepath.Dir(audioPath), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(audioPath, []byte(strings.Repeat("a", 4096)), 0o644); err != nil {
		t.Fatalf("write audio file failed: %v", err)
	}

	store := apiStoreStub{
		transcripts: map[string][]storage.Transcript{
			"s1": {{SegmentID: "seg1", SessionID: "s1", AudioPath: audioPath, EncodingLabel: "audio/webm;codecs=opus"}},
		},
	}

	h := newTestHandler(t, store, ControlHooks{}, Options{AudioDir: root})
	req := httptest.NewRequest(http.MethodGet, "/api/transcripts/seg1/audio", nil)
	req.Header.Set("Range", "bytes=0-1023")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusPartialContent {
		t.Fatalf("expected status 206, got %d", rr.Code)
	}
	if rr.Header().Get("Accept-Ranges") != "bytes" {
		t.Fatalf("expected Accept-Ranges bytes, got %q", rr.Header().Get("Accept-Ranges"))
	}
	if rr.Header().Get("Content-Range") == "" {
		t.Fatalf("expected Content-Range header")
	}
	if got := rr.Header().Get("Content-Type"); got != "audio/webm" {
		t.Fatalf("expected audio/webm content type, got %q", got)
	}
}

func TestAPITranscriptAudioOutsideDirRejected(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(t.TempDir(), "secret.wav")
	if err := os.WriteFile(outside, []byte("nope"), 0o644); err != nil {
		t.Fatalf("write file failed: %v", err)
	}

	store := apiStoreStub{
		transcripts: map[string][]storage.Transcript{
			"s1": {
				{SegmentID: "abs", AudioPath: outside},
				{SegmentID: "rel", AudioPath: filepath.Join(root, "..", "etc", "passwd")},
			},
		},
	}

	h := newTestHandler(t, store, ControlHooks{}, Options{AudioDir: root})
	for _, id := range []string{"abs", "rel"} {
		rr := serve(h, http.MethodGet, "/api/transcripts/"+id+"/audio")
		if rr.Code != http.StatusForbidden {
			t.Fatalf("%s: expected status 403, got %d body=%s", id, rr.Code, rr.Body.String())
		}
	}
}

func TestAPIAudioPathTraversalBlocked(t *testing.T) {
	h := newTestHandler(t, apiStoreStub{}, ControlHooks{}, Options{AudioDir: t.TempDir()})
	rr := serve(h, http.MethodGet, "/api/transcripts/%2e%2e%2f%2e%2e%2fetc%2fpasswd/audio")

	if rr.Code != http.StatusForbidden && rr.Code != http.StatusNotFound {
		body, _ := io.ReadAll(rr.Body)
		t.Fatalf("expected forbidden/notfound for traversal, got %d body=%s", rr.Code, string(body))
	}
}

func TestAPIDates(t *testing.T) {
	store := apiStoreStub{dates: []string{"2026-02-26", "2026-02-25"}}

	h := newTestHandler(t, store, ControlHooks{}, Options{})
	rr := serve(h, http.MethodGet, "/api/dates")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "2026-02-26") {
		t.Fatalf("expected date in response, got %s", rr.Body.String())
	}
}

func TestAPICaptureLifecycle(t *testing.T) {
	controls := &controlsStub{}
	h := newTestHandler(t, apiStoreStub{}, controls.hooks(), Options{})

	for _, step := range []struct {
		path  string
		state string
	}{
		{path: "/api/capture/start", state: "capturing"},
		{path: "/api/capture/pause", state: "paused"},
		{path: "/api/capture/resume", state: "capturing"},
		{path: "/api/capture/stop", state: "idle"},
	} {
		rr := serve(h, http.MethodPost, step.path)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d body=%s", step.path, rr.Code, rr.Body.String())
		}
		var snap map[string]any
		if err := json.NewDecoder(rr.Body).Decode(&snap); err != nil {
			t.Fatalf("%s: decode failed: %v", step.path, err)
		}
		if snap["state"] != step.state {
			t.Fatalf("%s: expected state %q, got %#v", step.path, step.state, snap["state"])
		}
	}

	if got := strings.Join(controls.calls, ","); got != "start,pause,resume,stop" {
		t.Fatalf("unexpected control calls: %s", got)
	}
}

func TestAPICaptureErrors(t *testing.T) {
	controls := &controlsStub{startErr: &session.AcquisitionError{Source: "system", Err: session.ErrNoSystemAudio}}
	h := newTestHandler(t, apiStoreStub{}, controls.hooks(), Options{})

	rr := serve(h, http.MethodPost, "/api/capture/start")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for acquisition failure, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "no system audio available") {
		t.Fatalf("expected acquisition message, got %s", rr.Body.String())
	}

	rr = serve(h, http.MethodPost, "/api/capture/pause")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for invalid transition, got %d", rr.Code)
	}

	controls.startErr = errors.New("boom")
	rr = serve(h, http.MethodPost, "/api/capture/start")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for other errors, got %d", rr.Code)
	}
}

func TestAPICaptureNotConfigured(t *testing.T) {
	h := newTestHandler(t, apiStoreStub{}, ControlHooks{}, Options{})

	rr := serve(h, http.MethodPost, "/api/capture/start")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestAPIStatusWithWarnings(t *testing.T) {
	controls := &controlsStub{state: session.Capturing}
	hooks := controls.hooks()
	hooks.Warnings = func() []string {
		return []string{"OpenAI API key not configured"}
	}

	h := newTestHandler(t, apiStoreStub{}, hooks, Options{})
	rr := serve(h, http.MethodGet, "/api/status")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, `"state":"capturing"`) {
		t.Fatalf("expected capture state in response, got %s", body)
	}
	if !strings.Contains(body, "OpenAI API key not configured") {
		t.Fatalf("expected warning message in response, got %s", body)
	}
}

func TestAPIStatusNoWarnings(t *testing.T) {
	h := newTestHandler(t, apiStoreStub{}, ControlHooks{}, Options{})
	rr := serve(h, http.MethodGet, "/api/status")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	body := rr.Body.String()
	if !strings.Contains(body, `"warnings":[]`) {
		t.Fatalf("expected empty warnings array in response, got %s", body)
	}
	if !strings.Contains(body, `"state":"idle"`) {
		t.Fatalf("expected idle state by default, got %s", body)
	}
}

func TestAPIMetricsMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ghost_capture_up 1\n")
	})
	h := newTestHandler(t, apiStoreStub{}, ControlHooks{}, Options{Metrics: metrics})

	rr := serve(h, http.MethodGet, "/metrics")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "ghost_capture_up") {
		t.Fatalf("expected metrics output, got %d %s", rr.Code, rr.Body.String())
	}
}
