package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sjawhar/ghost-capture/internal/audio"
	"github.com/sjawhar/ghost-capture/internal/config"
	"github.com/sjawhar/ghost-capture/internal/gdrive"
	"github.com/sjawhar/ghost-capture/internal/logging"
	"github.com/sjawhar/ghost-capture/internal/metrics"
	"github.com/sjawhar/ghost-capture/internal/pipeline"
	"github.com/sjawhar/ghost-capture/internal/queue"
	"github.com/sjawhar/ghost-capture/internal/server"
	"github.com/sjawhar/ghost-capture/internal/session"
	"github.com/sjawhar/ghost-capture/internal/storage"
	"github.com/sjawhar/ghost-capture/internal/transcribe"
)

const drainTimeout = 2 * time.Minute

// warningSet holds the latest config warnings for the status endpoint.
type warningSet struct {
	mu   sync.RWMutex
	list []string
}

func (w *warningSet) Set(list []string) {
	w.mu.Lock()
	w.list = append([]string(nil), list...)
	w.mu.Unlock()
}

func (w *warningSet) List() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.list...)
}

func main() {
	log.Println("ghost-capture: starting")

	configPath := envOrDefault(config.EnvPrefix+"CONFIG", "config.yaml")
	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	level, known := logging.ParseLevel(cfg.LogLevel)
	logger := logging.New(os.Stderr, level, os.Getenv("NO_COLOR") == "")
	slog.SetDefault(logger)
	if !known {
		logger.Warn("unknown log level, using info", "level", cfg.LogLevel)
	}
	for _, w := range warnings {
		logger.Warn(w)
	}
	warn := &warningSet{}
	warn.Set(warnings)

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	encoder, err := audio.SelectEncoder(cfg.EncoderPreference,
		audio.NewWebMOpusFactory(cfg.FFmpegPath),
		audio.NewOggOpusFactory(cfg.FFmpegPath),
		audio.WAVEncoderFactory{},
	)
	if err != nil {
		log.Fatalf("encoder selection failed: %v", err)
	}
	logger.Info("segment encoder selected", "encoder", encoder.Name(), "label", encoder.Label())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider := transcribe.NewResilientService(cfg.TranscriptionProvider, newService(cfg), transcribe.ResilienceConfig{
		RequestsPerMinute: cfg.RequestsPerMinute,
	})
	engine := transcribe.NewEngine(
		provider,
		transcribe.DefaultStrategies(audio.NewFFmpegDecoder(cfg.FFmpegPath), cfg.SampleRate),
		cfg.SourceLanguage,
		logger.With("component", "transcribe"),
	)
	logger.Info("transcription engine ready",
		"provider", cfg.TranscriptionProvider,
		"strategies", engine.Strategies(),
	)

	m := metrics.New()
	engine.OnAttempt(m.ObserveAttempt)
	m.WatchBreaker(cfg.TranscriptionProvider, provider.BreakerState)
	hub := server.NewHub()

	var archiver pipeline.Archiver
	if cfg.GDriveFolderID != "" {
		a, err := gdrive.NewArchiver(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if err != nil {
			log.Printf("warning: drive archiving disabled: %v", err)
		} else {
			archiver = a
		}
	}

	processor := pipeline.NewProcessor(pipeline.Deps{
		Engine:   engine,
		Store:    store,
		Audio:    storage.NewAudioDir(cfg.AudioDir),
		Writer:   storage.NewWriter(cfg.TranscriptDir),
		Notifier: hub,
		Observer: m,
		Archiver: archiver,
		Logger:   logger.With("component", "pipeline"),
	})

	// The queue outlives the signal context so the final segment still gets
	// transcribed during shutdown.
	queueCtx, cancelQueue := context.WithCancel(context.Background())
	defer cancelQueue()
	dispatcher := queue.New(queueCtx, processor.Process, logger.With("component", "queue"))
	m.WatchQueue(dispatcher.Size)

	mic := audio.NewPortAudioMic(cfg.SampleRate)
	defer func() { _ = mic.Close() }()

	controller := session.NewController(
		audio.NewFFmpegLoopback(cfg.FFmpegPath, cfg.SystemDevice, cfg.SampleRate),
		mic,
		encoder,
		dispatcher,
		session.Broadcasters{pipeline.NewSessionLog(store, logger), hub, m},
		session.Options{
			MaxChunkDuration:   cfg.MaxChunkDuration(),
			Continuous:         cfg.ContinuousMode,
			Microphone:         cfg.EnableMicrophone,
			MicrophoneDeviceID: cfg.MicrophoneDeviceID,
			SampleRate:         cfg.SampleRate,
			Logger:             logger.With("component", "session"),
		},
	)

	m.WatchDroppedSamples(func() int { return controller.Snapshot().SamplesDropped })

	go func() {
		err := config.Watch(ctx, configPath, func(next config.Config, warnings []string) {
			controller.SetMaxChunkDuration(next.MaxChunkDuration())
			controller.SetContinuous(next.ContinuousMode)
			engine.SetLanguage(next.SourceLanguage)
			warn.Set(warnings)
		}, logger.With("component", "config"))
		if err != nil {
			log.Printf("warning: config hot reload disabled: %v", err)
		}
	}()

	handler, err := server.Handler(hub, store, server.ControlHooks{
		Start:    controller.Start,
		Stop:     controller.Stop,
		Pause:    controller.Pause,
		Resume:   controller.Resume,
		Snapshot: controller.Snapshot,
		Warnings: warn.List,
	}, server.Options{
		AudioDir: cfg.AudioDir,
		Metrics:  m.Handler(),
	})
	if err != nil {
		log.Fatalf("build http handler failed: %v", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(ctx, cfg.ListenAddr, handler)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			log.Printf("http server error: %v", err)
		}
	}

	log.Println("ghost-capture: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := controller.Stop(shutdownCtx); err != nil {
		log.Printf("warning: stop capture failed: %v", err)
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	if err := dispatcher.Wait(drainCtx); err != nil {
		log.Printf("warning: %d queued segments dropped: %v", dispatcher.Clear(), err)
	}
}

func newService(cfg config.Config) transcribe.Service {
	if cfg.TranscriptionProvider == "deepgram" {
		return transcribe.NewDeepgramService(cfg.DeepgramAPIKey, cfg.TranscriptionModel)
	}
	return transcribe.NewOpenAIService(cfg.OpenAIAPIKey, cfg.TranscriptionModel, cfg.OpenAIBaseURL)
}

func envOrDefault(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
