package transcribe

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sjawhar/ghost-capture/internal/audio"
)

// Input is one finalized segment handed to the engine.
type Input struct {
	Audio     []byte
	Label     string
	SegmentID string
	Sequence  int
}

// Attempt records one strategy try.
type Attempt struct {
	Strategy  string        `json:"strategy"`
	Label     string        `json:"label"`
	Error     string        `json:"error,omitempty"`
	Succeeded bool          `json:"succeeded"`
	Duration  time.Duration `json:"duration"`
}

// Outcome is the result of transcribing one segment. FailureReason is set
// exactly when Succeeded is false.
type Outcome struct {
	SegmentID     string    `json:"segment_id"`
	Sequence      int       `json:"sequence"`
	Text          string    `json:"text"`
	Succeeded     bool      `json:"succeeded"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Strategy      string    `json:"strategy,omitempty"`
	Attempts      []Attempt `json:"attempts"`

	sourceLabel string
	source      []byte
}

// SourceAudio returns the original payload as a data URL for playback. It
// is built on demand; the Outcome only references the payload.
func (o Outcome) SourceAudio() string {
	if len(o.source) == 0 {
		return ""
	}
	return DataURL(o.sourceLabel, o.source)
}

// Engine runs the strategy chain against a Service until one attempt yields
// a transcript.
type Engine struct {
	service    Service
	strategies []Strategy
	log        *slog.Logger

	mu       sync.RWMutex
	language string
	observe  func(Attempt)
}

func NewEngine(service Service, strategies []Strategy, language string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		service:    service,
		strategies: strategies,
		language:   language,
		log:        logger,
	}
}

func (e *Engine) SetLanguage(lang string) {
	e.mu.Lock()
	e.language = strings.TrimSpace(lang)
	e.mu.Unlock()
}

func (e *Engine) Language() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.language
}

// OnAttempt registers fn to be called after every strategy attempt.
func (e *Engine) OnAttempt(fn func(Attempt)) {
	e.mu.Lock()
	e.observe = fn
	e.mu.Unlock()
}

func (e *Engine) Strategies() []string {
	names := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		names[i] = s.Name
	}
	return names
}

// Transcribe never returns an error: failures are reported in the Outcome.
func (e *Engine) Transcribe(ctx context.Context, in Input) Outcome {
	out := Outcome{
		SegmentID:   in.SegmentID,
		Sequence:    in.Sequence,
		Attempts:    make([]Attempt, 0, len(e.strategies)),
		sourceLabel: in.Label,
		source:      in.Audio,
	}
	if len(in.Audio) == 0 {
		out.FailureReason = ErrEmptyAudio.Error()
		return out
	}

	lang := e.Language()
	var best error
	for _, s := range e.strategies {
		if err := ctx.Err(); err != nil {
			best = moreInformative(best, fmt.Errorf("transcription cancelled: %w", err))
			break
		}

		start := time.Now()
		text, label, err := e.attempt(ctx, s, in, lang)
		text = strings.TrimSpace(text)
		att := Attempt{Strategy: s.Name, Label: label, Duration: time.Since(start)}

		if err == nil || text != "" {
			if err != nil {
				e.log.Warn("transcript recovered from failed attempt", "strategy", s.Name, "sequence", in.Sequence, "error", err)
			}
			att.Succeeded = true
			out.Attempts = append(out.Attempts, att)
			out.Text = text
			out.Succeeded = true
			out.Strategy = s.Name
			e.notify(att)
			return out
		}

		att.Error = err.Error()
		out.Attempts = append(out.Attempts, att)
		e.notify(att)
		e.log.Debug("transcription strategy failed", "strategy", s.Name, "sequence", in.Sequence, "error", err)
		best = moreInformative(best, err)
	}

	out.FailureReason = failureReason(best)
	return out
}

func (e *Engine) attempt(ctx context.Context, s Strategy, in Input, lang string) (text, label string, err error) {
	label = in.Label
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("strategy %s panicked: %v", s.Name, r)
		}
	}()

	prepared, perr := s.Prepare(ctx, in.Audio, in.Label)
	if perr != nil {
		return "", label, &TransformError{Strategy: s.Name, Err: perr}
	}
	label = prepared.Label

	text, err = e.service.Transcribe(ctx, Request{
		Audio:       prepared.Audio,
		Filename:    "audio" + audio.ExtensionForLabel(prepared.Label),
		ContentType: prepared.Label,
		Language:    lang,
	})
	return text, label, err
}

func (e *Engine) notify(att Attempt) {
	e.mu.RLock()
	fn := e.observe
	e.mu.RUnlock()
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Warn("attempt observer panicked", "panic", r)
		}
	}()
	fn(att)
}

// DataURL encodes payload as an RFC 2397 data URL.
func DataURL(label string, payload []byte) string {
	if label == "" {
		label = "application/octet-stream"
	}
	return "data:" + label + ";base64," + base64.StdEncoding.EncodeToString(payload)
}

func rank(err error) int {
	var svcErr *ServiceError
	var tErr *TransformError
	switch {
	case errors.As(err, &svcErr) && svcErr.Rejected():
		return 3
	case errors.As(err, &svcErr):
		return 2
	case errors.As(err, &tErr):
		return 0
	default:
		return 1
	}
}

// moreInformative prefers service rejections over transport failures over
// local transform failures; the later error wins a tie.
func moreInformative(current, next error) error {
	if current == nil || rank(next) >= rank(current) {
		return next
	}
	return current
}

func failureReason(err error) string {
	if err == nil {
		return "no transcription strategies configured"
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "invalid file format") || strings.Contains(lower, "format") || strings.Contains(lower, "could not be decoded") {
		return "All format strategies failed. Last error: " + msg
	}
	return msg
}
