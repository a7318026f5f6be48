package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/sjawhar/ghost-capture/internal/session"
)

type ControlHooks struct {
	Start    func(ctx context.Context) error
	Stop     func(ctx context.Context) error
	Pause    func() error
	Resume   func() error
	Snapshot func() session.Snapshot
	Warnings func() []string
}

// Options configures the non-hook parts of the handler.
type Options struct {
	// AudioDir bounds which files the audio route may serve.
	AudioDir string
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

func Handler(hub *Hub, store SessionStore, controls ControlHooks, opts Options) (http.Handler, error) {
	mux := http.NewServeMux()

	registerWSRoute(mux, hub)
	registerAPIRoutes(mux, store, controls, opts.AudioDir)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	return mux, nil
}

// Serve runs the HTTP server until ctx is done, then shuts it down.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("API at http://%s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
