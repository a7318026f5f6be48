package transcribe

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

type ResilienceConfig struct {
	RequestsPerMinute int
	MaxTries          uint
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	// BreakerFailures consecutive transient failures open the breaker for
	// BreakerTimeout.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

func (c ResilienceConfig) withDefaults() ResilienceConfig {
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 50
	}
	if c.MaxTries == 0 {
		c.MaxTries = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	return c
}

// ResilientService rate limits, retries transient failures, and stops
// calling a failing provider for a while. Format rejections pass straight
// through so the engine can move to the next strategy.
type ResilientService struct {
	next    Service
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
	cfg     ResilienceConfig
}

func NewResilientService(name string, next Service, cfg ResilienceConfig) *ResilientService {
	cfg = cfg.withDefaults()
	return &ResilientService{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		breaker: gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
			Name:    name,
			Timeout: cfg.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.BreakerFailures
			},
			IsSuccessful: func(err error) bool {
				return err == nil || !transient(err)
			},
		}),
		cfg: cfg,
	}
}

// BreakerState reports the circuit breaker state name.
func (s *ResilientService) BreakerState() string {
	return s.breaker.State().String()
}

func (s *ResilientService) Transcribe(ctx context.Context, req Request) (string, error) {
	var partial string

	text, err := backoff.Retry(ctx, func() (string, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return "", backoff.Permanent(err)
		}

		text, err := s.breaker.Execute(func() (string, error) {
			return s.next.Transcribe(ctx, req)
		})
		if err == nil {
			return text, nil
		}
		if text != "" {
			partial = text
			return text, backoff.Permanent(err)
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) || !transient(err) {
			return "", backoff.Permanent(err)
		}
		return "", err
	}, backoff.WithBackOff(s.newBackOff()), backoff.WithMaxTries(s.cfg.MaxTries))

	if err != nil && text == "" {
		text = partial
	}
	return text, err
}

func (s *ResilientService) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	b.MaxInterval = s.cfg.MaxBackoff
	return b
}

func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Transient()
	}
	return true
}
