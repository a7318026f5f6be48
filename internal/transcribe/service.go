package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyAudio is reported when a segment carries no bytes.
var ErrEmptyAudio = errors.New("empty audio payload")

// Request is one upload to a speech-to-text service.
type Request struct {
	Audio       []byte
	Filename    string
	ContentType string
	Language    string
}

// Service turns one encoded audio file into text.
type Service interface {
	Transcribe(ctx context.Context, req Request) (string, error)
}

// ServiceError is a failure reported by the remote service itself.
type ServiceError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Rejected reports whether the service refused the request as such, e.g.
// an unsupported file format.
func (e *ServiceError) Rejected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// Transient reports whether retrying the same request may succeed.
func (e *ServiceError) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// TransformError is a local failure preparing audio for a strategy.
type TransformError struct {
	Strategy string
	Err      error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("prepare %s: %v", e.Strategy, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }
