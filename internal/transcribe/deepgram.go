package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

const DefaultDeepgramModel = "nova-2"

var deepgramInit sync.Once

type deepgramFunc func(ctx context.Context, src io.Reader, opts *interfaces.PreRecordedTranscriptionOptions) (any, error)

// DeepgramService uses Deepgram's pre-recorded REST API.
type DeepgramService struct {
	model  string
	listen deepgramFunc
}

func NewDeepgramService(apiKey, model string) *DeepgramService {
	deepgramInit.Do(func() {
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
	})
	if strings.TrimSpace(model) == "" || strings.HasPrefix(model, "whisper") {
		model = DefaultDeepgramModel
	}

	dg := api.New(client.NewREST(apiKey, &interfaces.ClientOptions{}))
	return &DeepgramService{
		model: model,
		listen: func(ctx context.Context, src io.Reader, opts *interfaces.PreRecordedTranscriptionOptions) (any, error) {
			return dg.FromStream(ctx, src, opts)
		},
	}
}

// Transcribe posts the payload with its encoding label as Content-Type so
// Deepgram does not have to sniff the container.
func (s *DeepgramService) Transcribe(ctx context.Context, req Request) (string, error) {
	if req.ContentType != "" {
		ctx = interfaces.WithCustomHeaders(ctx, http.Header{"Content-Type": []string{req.ContentType}})
	}
	res, err := s.listen(ctx, bytes.NewReader(req.Audio), &interfaces.PreRecordedTranscriptionOptions{
		Model:       s.model,
		Language:    req.Language,
		Punctuate:   true,
		SmartFormat: true,
	})
	if err != nil {
		return "", deepgramError(err)
	}
	return deepgramTranscript(res)
}

// deepgramError carries the HTTP status of a REST failure so rejections are
// not mistaken for transient errors.
func deepgramError(err error) *ServiceError {
	var statusErr *interfaces.StatusError
	if errors.As(err, &statusErr) && statusErr.Resp != nil {
		svcErr := &ServiceError{
			Provider:   "deepgram",
			StatusCode: statusErr.Resp.StatusCode,
			Message:    statusErr.Resp.Status,
			Err:        err,
		}
		if statusErr.DeepgramError != nil && statusErr.DeepgramError.ErrMsg != "" {
			svcErr.Message = statusErr.DeepgramError.ErrMsg
		}
		return svcErr
	}
	return &ServiceError{Provider: "deepgram", Message: err.Error(), Err: err}
}

type deepgramResult struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func deepgramTranscript(res any) (string, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("encode deepgram response: %w", err)
	}
	var parsed deepgramResult
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode deepgram response: %w", err)
	}

	parts := make([]string, 0, len(parsed.Results.Channels))
	for _, ch := range parsed.Results.Channels {
		if len(ch.Alternatives) == 0 {
			continue
		}
		if t := strings.TrimSpace(ch.Alternatives[0].Transcript); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), nil
}
