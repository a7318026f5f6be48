package session

import (
	"errors"
	"fmt"
)

// ErrNoSystemAudio is returned by Start when the acquired stream carries no
// audio track.
var ErrNoSystemAudio = errors.New("no system audio available")

// ErrSourceEnded is the cause recorded when a source reaches end of stream
// without reporting an error.
var ErrSourceEnded = errors.New("end of stream")

// ErrInvalidTransition is returned when an operation is not allowed in the
// current state.
var ErrInvalidTransition = errors.New("invalid state transition")

// AcquisitionError reports that a capture source could not be obtained.
type AcquisitionError struct {
	Source string
	Err    error
}

func (e *AcquisitionError) Error() string {
	if errors.Is(e.Err, ErrNoSystemAudio) {
		return e.Err.Error()
	}
	return fmt.Sprintf("acquire %s audio: %v", e.Source, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }
