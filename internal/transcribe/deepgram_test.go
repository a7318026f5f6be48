package transcribe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
)

func TestDeepgramServiceJoinsChannels(t *testing.T) {
	var gotOpts *interfaces.PreRecordedTranscriptionOptions
	var gotBody []byte
	var gotType string
	svc := &DeepgramService{
		model: DefaultDeepgramModel,
		listen: func(ctx context.Context, src io.Reader, opts *interfaces.PreRecordedTranscriptionOptions) (any, error) {
			gotOpts = opts
			gotBody, _ = io.ReadAll(src)
			if h, ok := ctx.Value(interfaces.HeadersContext{}).(http.Header); ok {
				gotType = h.Get("Content-Type")
			}
			return map[string]any{
				"results": map[string]any{
					"channels": []any{
						map[string]any{"alternatives": []any{map[string]any{"transcript": " bom dia "}}},
						map[string]any{"alternatives": []any{}},
						map[string]any{"alternatives": []any{map[string]any{"transcript": "tudo bem"}}},
					},
				},
			}, nil
		},
	}

	text, err := svc.Transcribe(context.Background(), Request{Audio: []byte("abc"), Language: "pt", ContentType: "audio/webm;codecs=opus"})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "bom dia tudo bem" {
		t.Fatalf("unexpected text %q", text)
	}
	if gotOpts.Language != "pt" || gotOpts.Model != DefaultDeepgramModel || !gotOpts.SmartFormat {
		t.Fatalf("unexpected options %+v", gotOpts)
	}
	if string(gotBody) != "abc" {
		t.Fatalf("unexpected body %q", gotBody)
	}
	if gotType != "audio/webm;codecs=opus" {
		t.Fatalf("expected encoding label forwarded as Content-Type, got %q", gotType)
	}
}

func TestDeepgramServiceWrapsErrors(t *testing.T) {
	svc := &DeepgramService{
		model: DefaultDeepgramModel,
		listen: func(context.Context, io.Reader, *interfaces.PreRecordedTranscriptionOptions) (any, error) {
			return nil, errors.New("401 unauthorized")
		},
	}

	_, err := svc.Transcribe(context.Background(), Request{Audio: []byte("abc")})
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) || svcErr.Provider != "deepgram" {
		t.Fatalf("expected deepgram ServiceError, got %v", err)
	}
}

func deepgramStatusError(code int, status, msg string) error {
	return &interfaces.StatusError{
		Resp: &http.Response{
			StatusCode: code,
			Status:     status,
			Request:    httptest.NewRequest(http.MethodPost, "https://api.deepgram.com/v1/listen", nil),
		},
		DeepgramError: &interfaces.DeepgramError{ErrCode: "Bad Request", ErrMsg: msg},
	}
}

func TestDeepgramServiceKeepsStatusCode(t *testing.T) {
	svc := &DeepgramService{
		model: DefaultDeepgramModel,
		listen: func(context.Context, io.Reader, *interfaces.PreRecordedTranscriptionOptions) (any, error) {
			return nil, deepgramStatusError(400, "400 Bad Request", "corrupt or unsupported data")
		},
	}

	_, err := svc.Transcribe(context.Background(), Request{Audio: []byte("abc")})
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if svcErr.StatusCode != 400 || svcErr.Message != "corrupt or unsupported data" {
		t.Fatalf("unexpected status %d message %q", svcErr.StatusCode, svcErr.Message)
	}
	if !svcErr.Rejected() || svcErr.Transient() {
		t.Fatal("expected a 400 to be a rejection, not transient")
	}
	var statusErr *interfaces.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatal("expected the SDK error to stay in the chain")
	}
}

func TestDeepgramServiceServerErrorIsTransient(t *testing.T) {
	svc := &DeepgramService{
		model: DefaultDeepgramModel,
		listen: func(context.Context, io.Reader, *interfaces.PreRecordedTranscriptionOptions) (any, error) {
			return nil, deepgramStatusError(503, "503 Service Unavailable", "")
		},
	}

	_, err := svc.Transcribe(context.Background(), Request{Audio: []byte("abc")})
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) || svcErr.StatusCode != 503 || !svcErr.Transient() {
		t.Fatalf("expected transient 503, got %v", err)
	}
	if svcErr.Message != "503 Service Unavailable" {
		t.Fatalf("expected status line as message, got %q", svcErr.Message)
	}
}

func TestDeepgramRejectionDoesNotTripBreaker(t *testing.T) {
	calls := 0
	dg := &DeepgramService{
		model: DefaultDeepgramModel,
		listen: func(context.Context, io.Reader, *interfaces.PreRecordedTranscriptionOptions) (any, error) {
			calls++
			return nil, deepgramStatusError(400, "400 Bad Request", "corrupt or unsupported data")
		},
	}
	svc := NewResilientService("deepgram", dg, fastResilience())

	for i := 0; i < 5; i++ {
		if _, err := svc.Transcribe(context.Background(), Request{Audio: []byte("abc")}); err == nil {
			t.Fatal("expected rejection")
		}
	}
	if calls != 5 {
		t.Fatalf("expected one upstream call per request, got %d", calls)
	}
	if svc.BreakerState() != "closed" {
		t.Fatalf("rejections must not open the breaker, got %s", svc.BreakerState())
	}
}
