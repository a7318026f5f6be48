package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

const DefaultOpenAIModel = openai.Whisper1

// OpenAIService calls the Whisper transcription endpoint.
type OpenAIService struct {
	client *openai.Client
	model  string
}

func NewOpenAIService(apiKey, model, baseURL string) *OpenAIService {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIService{client: openai.NewClientWithConfig(cfg), model: model}
}

func (s *OpenAIService) Transcribe(ctx context.Context, req Request) (string, error) {
	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:       s.model,
		FilePath:    req.Filename,
		Reader:      bytes.NewReader(req.Audio),
		Language:    req.Language,
		Format:      openai.AudioResponseFormatText,
		Temperature: 0,
	})
	if err != nil {
		return "", openAIError(err)
	}
	return resp.Text, nil
}

func openAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ServiceError{Provider: "openai", StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ServiceError{Provider: "openai", StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error(), Err: err}
	}
	return fmt.Errorf("openai transcription: %w", err)
}
