package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"go.uber.org/multierr"

	"github.com/sjawhar/ghost-capture/internal/session"
	"github.com/sjawhar/ghost-capture/internal/storage"
	"github.com/sjawhar/ghost-capture/internal/transcribe"
)

type Transcriber interface {
	Transcribe(ctx context.Context, in transcribe.Input) transcribe.Outcome
}

type TranscriptStore interface {
	SaveTranscript(t storage.Transcript) error
}

type AudioSaver interface {
	Save(sessionID string, sequence int, segmentID, label string, payload []byte) (string, error)
}

type TranscriptAppender interface {
	Append(t storage.Transcript) error
}

type TranscriptNotifier interface {
	BroadcastTranscript(t storage.Transcript)
}

type OutcomeObserver interface {
	ObserveOutcome(out transcribe.Outcome)
}

type Archiver interface {
	Upload(ctx context.Context, localPath, name string) error
}

// Deps lists the outputs of a Processor. Engine and Store are required;
// the rest are skipped when nil.
type Deps struct {
	Engine   Transcriber
	Store    TranscriptStore
	Audio    AudioSaver
	Writer   TranscriptAppender
	Notifier TranscriptNotifier
	Observer OutcomeObserver
	Archiver Archiver
	Logger   *slog.Logger
	Now      func() time.Time
}

// Processor turns one emitted segment into a stored transcript. It is the
// drain function of the segment queue.
type Processor struct {
	deps Deps
	log  *slog.Logger
	now  func() time.Time
}

func NewProcessor(deps Deps) *Processor {
	p := &Processor{deps: deps, log: deps.Logger, now: deps.Now}
	if p.log == nil {
		p.log = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Process never fails because transcription failed; a failed outcome is
// stored like any other. The returned error reports persistence problems.
func (p *Processor) Process(ctx context.Context, seg session.Segment) error {
	var audioPath string
	if p.deps.Audio != nil {
		path, err := p.deps.Audio.Save(seg.SessionID, seg.Sequence, seg.ID, seg.EncodingLabel, seg.Payload)
		if err != nil {
			p.log.Warn("save segment audio failed", "sequence", seg.Sequence, "error", err)
		} else {
			audioPath = path
		}
	}

	out := p.deps.Engine.Transcribe(ctx, transcribe.Input{
		Audio:     seg.Payload,
		Label:     seg.EncodingLabel,
		SegmentID: seg.ID,
		Sequence:  seg.Sequence,
	})
	if p.deps.Observer != nil {
		p.deps.Observer.ObserveOutcome(out)
	}

	t := storage.Transcript{
		SegmentID:     seg.ID,
		SessionID:     seg.SessionID,
		Sequence:      seg.Sequence,
		StartedAt:     seg.StartedAt,
		DurationMS:    seg.Duration.Milliseconds(),
		SizeBytes:     seg.SizeBytes(),
		EncodingLabel: seg.EncodingLabel,
		Final:         seg.Final,
		Text:          out.Text,
		Succeeded:     out.Succeeded,
		FailureReason: out.FailureReason,
		Strategy:      out.Strategy,
		AudioPath:     audioPath,
		Attempts:      out.Attempts,
		CreatedAt:     p.now().UTC(),
	}

	if out.Succeeded {
		p.log.Info("segment transcribed", "sequence", seg.Sequence, "strategy", out.Strategy, "chars", len(out.Text))
	} else {
		p.log.Warn("segment transcription failed", "sequence", seg.Sequence, "attempts", len(out.Attempts), "reason", out.FailureReason)
	}

	var errs error
	if err := p.deps.Store.SaveTranscript(t); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("save transcript: %w", err))
	}
	if p.deps.Writer != nil {
		if err := p.deps.Writer.Append(t); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("append transcript: %w", err))
		}
	}
	if p.deps.Notifier != nil {
		p.deps.Notifier.BroadcastTranscript(t)
	}
	if p.deps.Archiver != nil && audioPath != "" {
		name := seg.SessionID + "-" + filepath.Base(audioPath)
		if err := p.deps.Archiver.Upload(ctx, audioPath, name); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("archive segment: %w", err))
		}
	}
	return errs
}
