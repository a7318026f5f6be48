package session

import "time"

const (
	MinSegmentBytes    = 5000
	MinSegmentDuration = time.Second
	MinFinalBytes      = 10000
	MinFinalDuration   = 3 * time.Second
)

// Segment is one finalized, self-contained encoded recording. Payload is
// never modified after construction.
type Segment struct {
	ID            string
	SessionID     string
	Sequence      int
	Payload       []byte
	EncodingLabel string
	StartedAt     time.Time
	Duration      time.Duration
	Final         bool
}

func (s Segment) SizeBytes() int {
	return len(s.Payload)
}

// Valid applies the validity gate. The last segment of a stopped session
// uses stricter thresholds.
func Valid(s Segment) bool {
	if s.Final {
		return s.SizeBytes() > MinFinalBytes && s.Duration >= MinFinalDuration
	}
	return s.SizeBytes() > MinSegmentBytes && s.Duration > MinSegmentDuration
}
