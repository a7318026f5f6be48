package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"
	"go.uber.org/multierr"

	"github.com/sjawhar/ghost-capture/internal/audio"
)

const (
	DefaultMaxChunkDuration = 30 * time.Second
	MinChunkDuration        = 5 * time.Second
	MaxChunkDuration        = 10 * time.Minute
	DefaultTickInterval     = 500 * time.Millisecond

	progressInterval = 5 * time.Second
)

type Options struct {
	MaxChunkDuration   time.Duration
	Continuous         bool
	Microphone         bool
	MicrophoneDeviceID string
	SampleRate         int
	TickInterval       time.Duration
	Now                func() time.Time
	Logger             *slog.Logger
}

// ClampChunkDuration bounds d to the supported segment lengths. The second
// return value reports whether d was changed.
func ClampChunkDuration(d time.Duration) (time.Duration, bool) {
	switch {
	case d <= 0:
		return DefaultMaxChunkDuration, true
	case d < MinChunkDuration:
		return MinChunkDuration, true
	case d > MaxChunkDuration:
		return MaxChunkDuration, true
	default:
		return d, false
	}
}

type controllerState struct {
	phase        State
	sessionID    string
	enabled      Sources
	active       Sources
	micDevice    string
	maxChunk     time.Duration
	continuous   bool
	sessionStart time.Time
	segmentStart time.Time
	sequence     int
	emitted      int
	dropped      int
	lastFailure  string
	totalActive  time.Duration
	runningSince time.Time
	progressStep time.Duration
	lostSamples  int
}

// Controller owns the capture lifecycle: source acquisition, the mixing
// graph, segment rotation, and final teardown. Operations are serialized;
// Stop may be requested while another operation is in flight.
type Controller struct {
	system  SystemAcquirer
	mic     MicrophoneAcquirer
	encoder audio.EncoderFactory
	sink    SegmentSink
	events  EventBroadcaster
	log     *slog.Logger
	now     func() time.Time
	every   time.Duration
	rate    int

	opMu sync.Mutex

	mu       sync.Mutex
	st       controllerState
	graph    *audio.Graph
	streams  []*audio.Stream
	recorder *segmentRecorder
	noRotate bool
	starting bool
	cancel   context.CancelFunc
	loopDone chan struct{}
}

func NewController(system SystemAcquirer, mic MicrophoneAcquirer, encoder audio.EncoderFactory, sink SegmentSink, events EventBroadcaster, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = audio.DefaultSampleRate
	}
	if events == nil {
		events = Broadcasters(nil)
	}
	maxChunk, _ := ClampChunkDuration(opts.MaxChunkDuration)

	return &Controller{
		system:  system,
		mic:     mic,
		encoder: encoder,
		sink:    sink,
		events:  events,
		log:     opts.Logger,
		now:     opts.Now,
		every:   opts.TickInterval,
		rate:    opts.SampleRate,
		st: controllerState{
			enabled:    Sources{System: true, Microphone: opts.Microphone},
			micDevice:  opts.MicrophoneDeviceID,
			maxChunk:   maxChunk,
			continuous: opts.Continuous,
		},
	}
}

// Start acquires the sources, builds the mixing graph, and begins the first
// segment. A missing microphone degrades to system-only capture.
func (c *Controller) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.st.phase != Idle {
		phase := c.st.phase
		c.mu.Unlock()
		return fmt.Errorf("start while %s: %w", phase, ErrInvalidTransition)
	}
	c.starting = true
	c.noRotate = false
	wantMic := c.st.enabled.Microphone
	device := c.st.micDevice
	c.mu.Unlock()

	// a Stop arriving now waits on opMu and stops whatever Start produced
	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	display, err := c.system.AcquireDisplay(ctx)
	if err != nil {
		return &AcquisitionError{Source: "system", Err: err}
	}
	for _, track := range display.VideoTracks() {
		if err := track.Stop(); err != nil {
			c.log.Debug("stopping video track", "track", track.Label(), "error", err)
		}
	}
	systemTracks := display.AudioTracks()
	if len(systemTracks) == 0 {
		if err := display.Stop(); err != nil {
			c.log.Debug("releasing display stream", "error", err)
		}
		return &AcquisitionError{Source: "system", Err: ErrNoSystemAudio}
	}
	streams := []*audio.Stream{display}

	var micTrack audio.Track
	if wantMic {
		var micStream *audio.Stream
		micStream, micTrack = c.acquireMicrophone(ctx, device)
		if micStream != nil {
			streams = append(streams, micStream)
		}
	}

	graph, err := audio.NewGraph(c.rate, systemTracks[0], micTrack)
	if err != nil {
		c.release(streams, nil)
		return &AcquisitionError{Source: "system", Err: err}
	}

	now := c.now()
	rec, err := c.openRecorder(now)
	if err != nil {
		c.release(streams, graph)
		c.mu.Lock()
		c.st.lastFailure = err.Error()
		c.mu.Unlock()
		c.events.BroadcastRecorderFailed("", err.Error())
		return fmt.Errorf("start recorder: %w", err)
	}
	graph.Destination().Bind(rec)

	sessionID := newSessionID(now)
	active := Sources{System: true, Microphone: graph.HasMicrophone()}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	watch := sourceWatch{}
	watch.system, watch.systemErr = trackEnd(systemTracks[0])
	watch.mic, watch.micErr = trackEnd(micTrack)

	c.mu.Lock()
	c.graph = graph
	c.streams = streams
	c.recorder = rec
	c.cancel = cancel
	c.loopDone = done
	c.st.phase = Capturing
	c.st.sessionID = sessionID
	c.st.active = active
	c.st.sessionStart = now
	c.st.segmentStart = now
	c.st.sequence = 0
	c.st.emitted = 0
	c.st.dropped = 0
	c.st.lastFailure = ""
	c.st.totalActive = 0
	c.st.runningSince = now
	c.st.progressStep = 0
	c.st.lostSamples = 0
	maxChunk, continuous := c.st.maxChunk, c.st.continuous
	c.mu.Unlock()

	c.log.Info("capture started",
		"session", sessionID,
		"microphone", active.Microphone,
		"encoding", c.encoder.Label(),
		"max_chunk", maxChunk,
		"continuous", continuous,
	)
	c.events.BroadcastSourcesChanged(sessionID, active)
	c.events.BroadcastStateChanged(sessionID, Capturing)

	go c.loop(loopCtx, done, watch)
	return nil
}

// Stop ends the session, emitting the in-progress recording as a final
// segment when it passes the gate. Stopping an idle controller is a no-op.
// A Stop issued while Start is still acquiring sources takes effect as soon
// as Start returns.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.st.phase == Idle && !c.starting {
		c.mu.Unlock()
		return nil
	}
	c.noRotate = true
	c.mu.Unlock()

	c.opMu.Lock()
	c.stopLocked()
	c.mu.Lock()
	done := c.loopDone
	c.mu.Unlock()
	c.opMu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) Pause() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	now := c.now()
	c.mu.Lock()
	if c.st.phase != Capturing {
		phase := c.st.phase
		c.mu.Unlock()
		return fmt.Errorf("pause while %s: %w", phase, ErrInvalidTransition)
	}
	if c.recorder != nil {
		c.recorder.pause(now)
	}
	c.accumulateLocked(now)
	c.st.phase = Paused
	id := c.st.sessionID
	c.mu.Unlock()

	c.log.Info("capture paused", "session", id)
	c.events.BroadcastStateChanged(id, Paused)
	return nil
}

func (c *Controller) Resume() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	now := c.now()
	c.mu.Lock()
	if c.st.phase != Paused {
		phase := c.st.phase
		c.mu.Unlock()
		return fmt.Errorf("resume while %s: %w", phase, ErrInvalidTransition)
	}
	if c.recorder != nil {
		c.recorder.resume(now)
	}
	c.st.runningSince = now
	c.st.phase = Capturing
	id := c.st.sessionID
	c.mu.Unlock()

	c.log.Info("capture resumed", "session", id)
	c.events.BroadcastStateChanged(id, Capturing)
	return nil
}

// SetMaxChunkDuration clamps and applies d; the running segment uses the new
// limit on the next tick. It returns the value actually applied.
func (c *Controller) SetMaxChunkDuration(d time.Duration) time.Duration {
	clamped, changed := ClampChunkDuration(d)
	if changed {
		c.log.Warn("max chunk duration out of range, clamped", "requested", d, "applied", clamped)
	}
	c.mu.Lock()
	c.st.maxChunk = clamped
	c.mu.Unlock()
	return clamped
}

func (c *Controller) SetContinuous(on bool) {
	c.mu.Lock()
	c.st.continuous = on
	c.mu.Unlock()
}

// SetMicrophone takes effect on the next Start.
func (c *Controller) SetMicrophone(enabled bool, deviceID string) {
	c.mu.Lock()
	c.st.enabled.Microphone = enabled
	c.st.micDevice = deviceID
	c.mu.Unlock()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st.phase
}

func (c *Controller) Snapshot() Snapshot {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		SessionID:        c.st.sessionID,
		State:            c.st.phase,
		SourcesEnabled:   c.st.enabled,
		SourcesActive:    c.st.active,
		MaxChunkMillis:   c.st.maxChunk.Milliseconds(),
		ContinuousMode:   c.st.continuous,
		Encoding:         c.encoder.Label(),
		SessionStartedAt: c.st.sessionStart,
		SegmentStartedAt: c.st.segmentStart,
		Sequence:         c.st.sequence,
		SegmentsEmitted:  c.st.emitted,
		SegmentsDropped:  c.st.dropped,
		SamplesDropped:   c.st.lostSamples,
		LastFailure:      c.st.lastFailure,
	}
	if c.graph != nil {
		s.SamplesDropped = c.graph.Destination().Dropped()
	}
	if c.recorder != nil {
		s.SegmentElapsedMs = c.recorder.elapsed(now).Milliseconds()
	}
	total := c.st.totalActive
	if !c.st.runningSince.IsZero() {
		total += now.Sub(c.st.runningSince)
	}
	s.TotalElapsedMs = total.Milliseconds()
	if q, ok := c.sink.(QueueSizer); ok {
		s.QueueSize = q.Size()
	}
	if q, ok := c.sink.(QueueActivity); ok {
		s.QueueProcessing = q.Processing()
	}
	return s
}

// sourceWatch holds the end signals of the session's tracks. A nil channel
// means the track cannot end on its own.
type sourceWatch struct {
	system    <-chan struct{}
	systemErr func() error
	mic       <-chan struct{}
	micErr    func() error
}

func trackEnd(t audio.Track) (<-chan struct{}, func() error) {
	if e, ok := t.(audio.EndingTrack); ok {
		return e.Done(), e.Err
	}
	return nil, nil
}

func (c *Controller) loop(ctx context.Context, done chan struct{}, watch sourceWatch) {
	defer close(done)

	ticker := time.NewTicker(c.every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick()
		case <-watch.system:
			watch.system = nil
			c.systemEnded(ctx, watch.systemErr())
		case <-watch.mic:
			watch.mic = nil
			c.microphoneEnded(ctx, watch.micErr())
		}
	}
}

// systemEnded stops the session after the system source went away. The
// recording so far is kept as the final segment.
func (c *Controller) systemEnded(ctx context.Context, cause error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	// stopLocked cancels ctx before releasing the streams it owns
	if ctx.Err() != nil {
		return
	}
	if cause == nil {
		cause = ErrSourceEnded
	}
	err := fmt.Errorf("system audio ended: %w", cause)

	c.mu.Lock()
	if c.st.phase != Capturing && c.st.phase != Paused {
		c.mu.Unlock()
		return
	}
	c.st.lastFailure = err.Error()
	id := c.st.sessionID
	c.mu.Unlock()

	c.log.Error("system audio ended, stopping capture", "session", id, "error", err)
	c.events.BroadcastRecorderFailed(id, err.Error())
	c.stopLocked()
}

// microphoneEnded drops the microphone from the active sources and keeps
// capturing system audio.
func (c *Controller) microphoneEnded(ctx context.Context, cause error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	if !c.st.active.Microphone || (c.st.phase != Capturing && c.st.phase != Paused) {
		c.mu.Unlock()
		return
	}
	c.st.active.Microphone = false
	id, active := c.st.sessionID, c.st.active
	c.mu.Unlock()

	c.log.Warn("microphone ended, continuing with system audio only", "session", id, "error", cause)
	c.events.BroadcastSourcesChanged(id, active)
}

// tick checks the recorder for failure and rotates once the active segment
// reaches the max chunk duration.
func (c *Controller) tick() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	now := c.now()
	c.mu.Lock()
	rec := c.recorder
	phase := c.st.phase
	if rec == nil || (phase != Capturing && phase != Paused) {
		c.mu.Unlock()
		return
	}
	if err := rec.failure(); err != nil {
		c.mu.Unlock()
		c.recorderFailed(err)
		return
	}
	if phase == Paused {
		c.mu.Unlock()
		return
	}
	elapsed := rec.elapsed(now)
	if elapsed < c.st.maxChunk {
		c.logProgressLocked(elapsed)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.rotate(now)
}

// rotate finalizes the current segment and, in continuous mode, binds a new
// recorder to the same graph. The destination buffers frames while unbound.
func (c *Controller) rotate(now time.Time) {
	c.mu.Lock()
	rec, graph := c.recorder, c.graph
	c.recorder = nil
	c.mu.Unlock()

	graph.Destination().Unbind()
	rec.stop(now)
	if err := c.emit(rec, false); err != nil {
		c.recorderFailed(err)
		return
	}

	c.mu.Lock()
	continuous, stopping := c.st.continuous, c.noRotate
	c.mu.Unlock()
	if !continuous || stopping {
		if !continuous {
			c.log.Info("single segment captured, stopping")
		}
		c.stopLocked()
		return
	}

	next, err := c.openRecorder(now)
	if err != nil {
		c.recorderFailed(err)
		return
	}
	held := graph.Destination().Pending()
	graph.Destination().Bind(next)

	lost := graph.Destination().Dropped()
	c.mu.Lock()
	c.recorder = next
	c.st.segmentStart = now
	c.st.progressStep = 0
	newlyLost := lost - c.st.lostSamples
	c.st.lostSamples = lost
	id := c.st.sessionID
	c.mu.Unlock()

	c.log.Debug("recorder rotated", "session", id, "held_samples", held)
	if newlyLost > 0 {
		c.log.Warn("audio dropped during rotation", "session", id, "samples", newlyLost)
	}
}

// emit finalizes rec and hands it to the sink if it passes the gate.
func (c *Controller) emit(rec *segmentRecorder, final bool) error {
	payload, duration, err := rec.finalize()
	if err != nil {
		return err
	}

	c.mu.Lock()
	seg := Segment{
		ID:            xid.New().String(),
		SessionID:     c.st.sessionID,
		Payload:       payload,
		EncodingLabel: rec.label,
		StartedAt:     rec.startedAt,
		Duration:      duration,
		Final:         final,
	}
	if !Valid(seg) {
		c.st.dropped++
		c.mu.Unlock()
		c.log.Debug("segment below validity threshold, dropped",
			"bytes", seg.SizeBytes(), "duration", duration, "final", final)
		return nil
	}
	c.st.sequence++
	c.st.emitted++
	seg.Sequence = c.st.sequence
	c.mu.Unlock()

	c.log.Info("segment emitted",
		"session", seg.SessionID,
		"sequence", seg.Sequence,
		"bytes", seg.SizeBytes(),
		"duration", duration.Round(time.Millisecond),
		"final", final,
	)
	c.events.BroadcastSegmentEmitted(seg)
	c.sink.Enqueue(seg)
	return nil
}

func (c *Controller) recorderFailed(err error) {
	c.log.Error("recorder failed, stopping capture", "error", err)

	c.mu.Lock()
	rec := c.recorder
	c.recorder = nil
	c.st.lastFailure = err.Error()
	id := c.st.sessionID
	c.mu.Unlock()

	if rec != nil {
		rec.abort()
	}
	c.events.BroadcastRecorderFailed(id, err.Error())
	c.stopLocked()
}

// stopLocked tears the session down. The caller holds opMu.
func (c *Controller) stopLocked() {
	now := c.now()

	c.mu.Lock()
	if c.st.phase == Idle || c.st.phase == Stopping {
		c.mu.Unlock()
		return
	}
	c.noRotate = true
	c.st.phase = Stopping
	c.accumulateLocked(now)
	rec := c.recorder
	c.recorder = nil
	graph, streams := c.graph, c.streams
	c.graph, c.streams = nil, nil
	cancel := c.cancel
	c.cancel = nil
	id := c.st.sessionID
	c.mu.Unlock()

	c.events.BroadcastStateChanged(id, Stopping)
	if cancel != nil {
		cancel()
	}

	if rec != nil {
		if graph != nil {
			graph.Destination().Unbind()
		}
		rec.stop(now)
		if err := c.emit(rec, true); err != nil {
			c.log.Error("final segment lost", "session", id, "error", err)
		}
	}

	if graph != nil {
		lost := graph.Destination().Dropped()
		c.mu.Lock()
		c.st.lostSamples = lost
		c.mu.Unlock()
	}
	c.release(streams, graph)

	c.mu.Lock()
	c.st.phase = Idle
	c.st.active = Sources{}
	emitted, dropped, total := c.st.emitted, c.st.dropped, c.st.totalActive
	c.mu.Unlock()

	c.log.Info("capture stopped",
		"session", id,
		"segments", emitted,
		"dropped", dropped,
		"active", total.Round(time.Second),
	)
	c.events.BroadcastSourcesChanged(id, Sources{})
	c.events.BroadcastStateChanged(id, Idle)
}

func (c *Controller) release(streams []*audio.Stream, graph *audio.Graph) {
	if graph != nil {
		graph.Close()
	}
	var errs error
	for _, s := range streams {
		errs = multierr.Append(errs, s.Stop())
	}
	if errs != nil {
		c.log.Warn("releasing capture streams", "error", errs)
	}
}

func (c *Controller) acquireMicrophone(ctx context.Context, device string) (*audio.Stream, audio.Track) {
	if c.mic == nil {
		c.log.Warn("microphone enabled but no input available, continuing with system audio only")
		return nil, nil
	}
	stream, err := c.mic.AcquireMicrophone(ctx, device)
	if err != nil {
		c.log.Warn("microphone unavailable, continuing with system audio only", "device", device, "error", err)
		return nil, nil
	}
	tracks := stream.AudioTracks()
	if len(tracks) == 0 {
		if err := stream.Stop(); err != nil {
			c.log.Debug("releasing microphone stream", "error", err)
		}
		c.log.Warn("microphone stream has no audio track, continuing with system audio only", "device", device)
		return nil, nil
	}
	return stream, tracks[0]
}

func (c *Controller) openRecorder(now time.Time) (*segmentRecorder, error) {
	enc, err := c.encoder.New(c.rate)
	if err != nil {
		return nil, fmt.Errorf("create %s encoder: %w", c.encoder.Name(), err)
	}
	return newSegmentRecorder(enc, c.encoder.Label(), now), nil
}

func (c *Controller) accumulateLocked(now time.Time) {
	if c.st.runningSince.IsZero() {
		return
	}
	c.st.totalActive += now.Sub(c.st.runningSince)
	c.st.runningSince = time.Time{}
}

func (c *Controller) logProgressLocked(elapsed time.Duration) {
	step := elapsed.Truncate(progressInterval)
	if step == 0 || step <= c.st.progressStep {
		return
	}
	c.st.progressStep = step
	c.log.Debug("recording",
		"session", c.st.sessionID,
		"sequence", c.st.sequence+1,
		"elapsed", step,
		"remaining", c.st.maxChunk-elapsed,
		"continuous", c.st.continuous,
		"microphone", c.st.active.Microphone,
	)
}

func newSessionID(now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("%s-%03d", now.Format("20060102-150405"), now.Nanosecond()/int(time.Millisecond))
}
