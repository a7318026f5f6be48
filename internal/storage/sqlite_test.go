package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sjawhar/ghost-capture/internal/transcribe"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func TestSQLitePragmas(t *testing.T) {
	store := newTestSQLiteStore(t)

	var mode string
	if err := store.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode failed: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected journal_mode wal, got %q", mode)
	}

	var timeout int
	if err := store.DB().QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("PRAGMA busy_timeout failed: %v", err)
	}
	if timeout < 5000 {
		t.Fatalf("expected busy_timeout >= 5000, got %d", timeout)
	}
}

func TestSQLiteCRUD(t *testing.T) {
	store := newTestSQLiteStore(t)

	startedAt := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	sessionID := "20260226-100000-000"
	if err := store.CreateSession(sessionID, startedAt, false); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if err := store.SetMicrophone(sessionID, true); err != nil {
		t.Fatalf("SetMicrophone failed: %v", err)
	}

	tr := Transcript{
		SegmentID:     "seg-1",
		SessionID:     sessionID,
		Sequence:      1,
		StartedAt:     startedAt,
		DurationMS:    30000,
		SizeBytes:     120000,
		EncodingLabel: "audio/webm;codecs=opus",
		Text:          "  Bom dia a todos.  ",
		Succeeded:     true,
		Strategy:      "passthrough",
		AudioPath:     "data/audio/x/0001-seg-1.webm",
		Attempts: []transcribe.Attempt{
			{Strategy: "canonical-wav", Label: "audio/wav", Error: "invalid file format"},
			{Strategy: "passthrough", Label: "audio/webm;codecs=opus", Succeeded: true},
		},
		CreatedAt: startedAt.Add(31 * time.Second),
	}
	if err := store.SaveTranscript(tr); err != nil {
		t.Fatalf("SaveTranscript failed: %v", err)
	}

	if err := store.EndSession(sessionID, startedAt.Add(time.Minute)); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	session, err := store.GetSession(sessionID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.Status != StatusEnded {
		t.Fatalf("expected status ended, got %q", session.Status)
	}
	if session.EndedAt == nil || !session.EndedAt.Equal(startedAt.Add(time.Minute)) {
		t.Fatalf("unexpected ended_at: %v", session.EndedAt)
	}
	if !session.Microphone || session.Transcripts != 1 {
		t.Fatalf("expected microphone and 1 transcript, got %+v", session)
	}

	transcripts, err := store.GetTranscripts(sessionID)
	if err != nil {
		t.Fatalf("GetTranscripts failed: %v", err)
	}
	if len(transcripts) != 1 {
		t.Fatalf("expected 1 transcript, got %d", len(transcripts))
	}
	got := transcripts[0]
	if got.Text != "Bom dia a todos." {
		t.Fatalf("expected trimmed text, got %q", got.Text)
	}
	if !got.Succeeded || got.Strategy != "passthrough" {
		t.Fatalf("unexpected transcript: %+v", got)
	}
	if len(got.Attempts) != 2 || got.Attempts[0].Error != "invalid file format" {
		t.Fatalf("expected attempts round trip, got %+v", got.Attempts)
	}

	byID, err := store.GetTranscript("seg-1")
	if err != nil {
		t.Fatalf("GetTranscript failed: %v", err)
	}
	if byID.AudioPath != tr.AudioPath {
		t.Fatalf("expected audio path %q, got %q", tr.AudioPath, byID.AudioPath)
	}

	sessionsByDate, err := store.GetSessionsByDate("2026-02-26")
	if err != nil {
		t.Fatalf("GetSessionsByDate failed: %v", err)
	}
	if len(sessionsByDate) != 1 {
		t.Fatalf("expected 1 session for date, got %d", len(sessionsByDate))
	}

	dates, err := store.GetDates()
	if err != nil {
		t.Fatalf("GetDates failed: %v", err)
	}
	if len(dates) != 1 || dates[0] != "2026-02-26" {
		t.Fatalf("expected dates [2026-02-26], got %#v", dates)
	}
}

func TestSaveTranscriptRecordsFailures(t *testing.T) {
	store := newTestSQLiteStore(t)

	startedAt := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	if err := store.CreateSession("s1", startedAt, false); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	tr := Transcript{
		SegmentID:     "seg-2",
		SessionID:     "s1",
		Sequence:      2,
		StartedAt:     startedAt,
		EncodingLabel: "audio/wav",
		FailureReason: "All format strategies failed. Last error: invalid file format",
	}
	if err := store.SaveTranscript(tr); err != nil {
		t.Fatalf("SaveTranscript failed: %v", err)
	}

	got, err := store.GetTranscript("seg-2")
	if err != nil {
		t.Fatalf("GetTranscript failed: %v", err)
	}
	if got.Succeeded || got.FailureReason != tr.FailureReason {
		t.Fatalf("expected failure recorded, got %+v", got)
	}
	if got.Attempts == nil || len(got.Attempts) != 0 {
		t.Fatalf("expected empty attempts, got %#v", got.Attempts)
	}
}

func TestSaveTranscriptRequiresSession(t *testing.T) {
	store := newTestSQLiteStore(t)

	err := store.SaveTranscript(Transcript{SegmentID: "orphan", SessionID: "missing", StartedAt: time.Now()})
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
}

func TestGetMissingRecords(t *testing.T) {
	store := newTestSQLiteStore(t)

	if _, err := store.GetSession("nope"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for session, got %v", err)
	}
	if _, err := store.GetTranscript("nope"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for transcript, got %v", err)
	}
	if err := store.EndSession("nope", time.Now()); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows ending missing session, got %v", err)
	}
}

func TestSQLiteConcurrentAccess(t *testing.T) {
	store := newTestSQLiteStore(t)

	startedAt := time.Now().UTC()
	sessionID := startedAt.Format("20060102-150405")
	if err := store.CreateSession(sessionID, startedAt, false); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_ = store.SaveTranscript(Transcript{
				SegmentID: fmt.Sprintf("seg-%d", idx),
				SessionID: sessionID,
				Sequence:  idx + 1,
				StartedAt: startedAt.Add(time.Duration(idx) * 30 * time.Second),
				Text:      fmt.Sprintf("segment-%d", idx),
				Succeeded: true,
			})
			_, _ = store.GetSession(sessionID)
		}(i)
	}
	wg.Wait()

	transcripts, err := store.GetTranscripts(sessionID)
	if err != nil {
		t.Fatalf("GetTranscripts failed: %v", err)
	}
	if len(transcripts) != 20 {
		t.Fatalf("expected 20 transcripts, got %d", len(transcripts))
	}
	for i, tr := range transcripts {
		if tr.Sequence != i+1 {
			t.Fatalf("expected transcripts ordered by sequence, got %d at %d", tr.Sequence, i)
		}
	}
}
