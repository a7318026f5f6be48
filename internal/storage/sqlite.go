package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sjawhar/ghost-capture/internal/transcribe"
)

const (
	StatusActive = "active"
	StatusEnded  = "ended"
)

type Session struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Status      string     `json:"status"`
	Microphone  bool       `json:"microphone"`
	Transcripts int        `json:"transcripts"`
}

// Transcript is the persisted outcome of one segment, successful or not.
type Transcript struct {
	SegmentID     string               `json:"segment_id"`
	SessionID     string               `json:"session_id"`
	Sequence      int                  `json:"sequence"`
	StartedAt     time.Time            `json:"started_at"`
	DurationMS    int64                `json:"duration_ms"`
	SizeBytes     int                  `json:"size_bytes"`
	EncodingLabel string               `json:"encoding_label"`
	Final         bool                 `json:"final"`
	Text          string               `json:"text"`
	Succeeded     bool                 `json:"succeeded"`
	FailureReason string               `json:"failure_reason,omitempty"`
	Strategy      string               `json:"strategy,omitempty"`
	AudioPath     string               `json:"audio_path,omitempty"`
	Attempts      []transcribe.Attempt `json:"attempts"`
	CreatedAt     time.Time            `json:"created_at"`
}

func (t Transcript) FormatMarkdown() string {
	ts := t.StartedAt.Format("15:04:05")
	if !t.Succeeded {
		return fmt.Sprintf("**[%s] #%d:** _(transcription failed: %s)_", ts, t.Sequence, t.FailureReason)
	}
	return fmt.Sprintf("**[%s] #%d:** %s", ts, t.Sequence, strings.TrimSpace(t.Text))
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "ghost-capture.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			status TEXT NOT NULL,
			microphone INTEGER NOT NULL DEFAULT 0
		);
	`); err != nil {
		return fmt.Errorf("create sessions table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcripts (
			segment_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			size_bytes INTEGER NOT NULL,
			encoding_label TEXT NOT NULL,
			final INTEGER NOT NULL DEFAULT 0,
			text TEXT NOT NULL DEFAULT '',
			succeeded INTEGER NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			strategy TEXT NOT NULL DEFAULT '',
			audio_path TEXT NOT NULL DEFAULT '',
			attempts TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL,
			FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
		);
	`); err != nil {
		return fmt.Errorf("create transcripts table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at)"); err != nil {
		return fmt.Errorf("create sessions index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_transcripts_session_id ON transcripts(session_id, sequence)"); err != nil {
		return fmt.Errorf("create transcripts index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateSession(id string, startedAt time.Time, microphone bool) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("session id is required")
	}

	_, err := s.db.Exec(
		`INSERT INTO sessions(id, started_at, status, microphone) VALUES(?, ?, ?, ?)`,
		id,
		startedAt.UTC().Format(time.RFC3339Nano),
		StatusActive,
		microphone,
	)
	if err != nil {
		return fmt.Errorf("create session %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) EndSession(id string, endedAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE sessions SET ended_at = ?, status = ? WHERE id = ?`,
		endedAt.UTC().Format(time.RFC3339Nano),
		StatusEnded,
		id,
	)
	if err != nil {
		return fmt.Errorf("end session %s: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("end session rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetMicrophone records whether the session ended up with a live microphone.
func (s *SQLiteStore) SetMicrophone(id string, microphone bool) error {
	if _, err := s.db.Exec(`UPDATE sessions SET microphone = ? WHERE id = ?`, microphone, id); err != nil {
		return fmt.Errorf("update session %s microphone: %w", id, err)
	}
	return nil
}

// SaveTranscript stores t, replacing any earlier record for the same segment.
func (s *SQLiteStore) SaveTranscript(t Transcript) error {
	attempts := t.Attempts
	if attempts == nil {
		attempts = []transcribe.Attempt{}
	}
	encoded, err := json.Marshal(attempts)
	if err != nil {
		return fmt.Errorf("encode attempts for segment %s: %w", t.SegmentID, err)
	}
	createdAt := t.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO transcripts(
			segment_id, session_id, sequence, started_at, duration_ms, size_bytes, encoding_label,
			final, text, succeeded, failure_reason, strategy, audio_path, attempts, created_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.SegmentID,
		t.SessionID,
		t.Sequence,
		t.StartedAt.UTC().Format(time.RFC3339Nano),
		t.DurationMS,
		t.SizeBytes,
		t.EncodingLabel,
		t.Final,
		strings.TrimSpace(t.Text),
		t.Succeeded,
		t.FailureReason,
		t.Strategy,
		t.AudioPath,
		string(encoded),
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save transcript for segment %s: %w", t.SegmentID, err)
	}
	return nil
}

const sessionColumns = `s.id, s.started_at, s.ended_at, s.status, s.microphone,
	(SELECT COUNT(*) FROM transcripts t WHERE t.session_id = s.id)`

func (s *SQLiteStore) GetSessionsByDate(date string) ([]Session, error) {
	rows, err := s.db.Query(
		`SELECT `+sessionColumns+`
		 FROM sessions s
		 WHERE substr(s.started_at, 1, 10) = ?
		 ORDER BY s.started_at DESC`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions by date %s: %w", date, err)
	}
	defer func() { _ = rows.Close() }()

	return scanSessions(rows)
}

func (s *SQLiteStore) GetDates() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT substr(started_at, 1, 10) AS date FROM sessions ORDER BY date DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query dates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dates rows: %w", err)
	}

	return dates, nil
}

func (s *SQLiteStore) GetSession(id string) (Session, error) {
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, id)
	if err != nil {
		return Session{}, fmt.Errorf("query session %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	sessions, err := scanSessions(rows)
	if err != nil {
		return Session{}, fmt.Errorf("query session %s: %w", id, err)
	}
	if len(sessions) == 0 {
		return Session{}, fmt.Errorf("query session %s: %w", id, sql.ErrNoRows)
	}
	return sessions[0], nil
}

const transcriptColumns = `segment_id, session_id, sequence, started_at, duration_ms, size_bytes, encoding_label,
	final, text, succeeded, failure_reason, strategy, audio_path, attempts, created_at`

func (s *SQLiteStore) GetTranscripts(sessionID string) ([]Transcript, error) {
	rows, err := s.db.Query(
		`SELECT `+transcriptColumns+`
		 FROM transcripts
		 WHERE session_id = ?
		 ORDER BY sequence ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcripts for session %s: %w", sessionID, err)
	}
	defer func() { _ = rows.Close() }()

	transcripts := make([]Transcript, 0, 32)
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transcript for session %s: %w", sessionID, err)
		}
		transcripts = append(transcripts, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows for session %s: %w", sessionID, err)
	}

	return transcripts, nil
}

func (s *SQLiteStore) GetTranscript(segmentID string) (Transcript, error) {
	row := s.db.QueryRow(`SELECT `+transcriptColumns+` FROM transcripts WHERE segment_id = ?`, segmentID)
	t, err := scanTranscript(row)
	if err != nil {
		return Transcript{}, fmt.Errorf("query transcript %s: %w", segmentID, err)
	}
	return t, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTranscript(row scanner) (Transcript, error) {
	var t Transcript
	var startedAt, attempts, createdAt string
	if err := row.Scan(
		&t.SegmentID, &t.SessionID, &t.Sequence, &startedAt, &t.DurationMS, &t.SizeBytes, &t.EncodingLabel,
		&t.Final, &t.Text, &t.Succeeded, &t.FailureReason, &t.Strategy, &t.AudioPath, &attempts, &createdAt,
	); err != nil {
		return Transcript{}, err
	}

	var err error
	if t.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return Transcript{}, fmt.Errorf("parse started_at: %w", err)
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Transcript{}, fmt.Errorf("parse created_at: %w", err)
	}
	if err := json.Unmarshal([]byte(attempts), &t.Attempts); err != nil {
		return Transcript{}, fmt.Errorf("decode attempts: %w", err)
	}
	return t, nil
}

func scanSessions(rows *sql.Rows) ([]Session, error) {
	sessions := make([]Session, 0, 16)
	for rows.Next() {
		var sess Session
		var startedAt string
		var endedAt sql.NullString
		if err := rows.Scan(&sess.ID, &startedAt, &endedAt, &sess.Status, &sess.Microphone, &sess.Transcripts); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}

		parsedStart, err := time.Parse(time.RFC3339Nano, startedAt)
		if err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		sess.StartedAt = parsedStart

		if endedAt.Valid {
			parsedEnd, err := time.Parse(time.RFC3339Nano, endedAt.String)
			if err != nil {
				return nil, fmt.Errorf("parse ended_at: %w", err)
			}
			sess.EndedAt = &parsedEnd
		}

		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions rows: %w", err)
	}

	return sessions, nil
}
