package audio

import (
	"errors"
	"io"
	"sync"

	"go.uber.org/multierr"
)

// Frame is one block of interleaved signed 16-bit PCM.
type Frame struct {
	Samples    []int16
	Channels   int
	SampleRate int
}

// FrameSink receives frames from a connected track.
type FrameSink interface {
	WriteFrame(f Frame)
}

type TrackKind int

const (
	KindAudio TrackKind = iota
	KindVideo
)

func (k TrackKind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "audio"
}

// Track is one live media track of an acquired stream.
type Track interface {
	Kind() TrackKind
	Label() string
	Connect(sink FrameSink)
	Disconnect()
	Stop() error
}

// EndingTrack is a Track that can end on its own, for example when a capture
// process exits or a device disappears. Done is closed once the track has
// ended; Err reports why, or nil for a clean end of stream.
type EndingTrack interface {
	Track
	Done() <-chan struct{}
	Err() error
}

// Stream is a set of tracks obtained from one acquisition.
type Stream struct {
	tracks []Track

	once    sync.Once
	stopErr error
}

func NewStream(tracks ...Track) *Stream {
	return &Stream{tracks: tracks}
}

func (s *Stream) Tracks() []Track {
	return append([]Track(nil), s.tracks...)
}

func (s *Stream) AudioTracks() []Track {
	return s.byKind(KindAudio)
}

func (s *Stream) VideoTracks() []Track {
	return s.byKind(KindVideo)
}

func (s *Stream) byKind(kind TrackKind) []Track {
	var out []Track
	for _, t := range s.tracks {
		if t.Kind() == kind {
			out = append(out, t)
		}
	}
	return out
}

// Stop stops every track once. Later calls return the first result.
func (s *Stream) Stop() error {
	s.once.Do(func() {
		for _, t := range s.tracks {
			s.stopErr = multierr.Append(s.stopErr, t.Stop())
		}
	})
	return s.stopErr
}

// ReaderTrack is an audio track fed by a raw s16le byte stream, such as the
// stdout of a capture subprocess. Frames read while no sink is connected are
// discarded.
type ReaderTrack struct {
	label      string
	channels   int
	sampleRate int
	blockSize  int
	src        io.Reader
	stop       func() error

	mu      sync.Mutex
	sink    FrameSink
	stopped bool
	readErr error

	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

var _ EndingTrack = (*ReaderTrack)(nil)

// NewReaderTrack starts reading src in 20ms blocks. stop is called once by
// Stop and must unblock the reader.
func NewReaderTrack(label string, src io.Reader, channels, sampleRate int, stop func() error) *ReaderTrack {
	if channels <= 0 {
		channels = 1
	}
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	block := sampleRate / 50 * channels * 2
	if block <= 0 {
		block = 640
	}

	t := &ReaderTrack{
		label:      label,
		channels:   channels,
		sampleRate: sampleRate,
		blockSize:  block,
		src:        src,
		stop:       stop,
		done:       make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *ReaderTrack) Kind() TrackKind { return KindAudio }
func (t *ReaderTrack) Label() string   { return t.label }

func (t *ReaderTrack) Connect(sink FrameSink) {
	t.mu.Lock()
	t.sink = sink
	t.mu.Unlock()
}

func (t *ReaderTrack) Disconnect() {
	t.Connect(nil)
}

func (t *ReaderTrack) Stop() error {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.stopped = true
		t.sink = nil
		t.mu.Unlock()
		if t.stop != nil {
			t.stopErr = t.stop()
		}
	})
	return t.stopErr
}

// Done is closed when the source is exhausted.
func (t *ReaderTrack) Done() <-chan struct{} {
	return t.done
}

// Err returns the read error that ended the track, if any.
func (t *ReaderTrack) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.readErr
}

func (t *ReaderTrack) run() {
	defer close(t.done)

	buf := make([]byte, t.blockSize)
	for {
		n, err := io.ReadFull(t.src, buf)
		if n >= 2 {
			t.deliver(Frame{
				Samples:    Int16s(buf[:n-n%2]),
				Channels:   t.channels,
				SampleRate: t.sampleRate,
			})
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				t.mu.Lock()
				if !t.stopped {
					t.readErr = err
				}
				t.mu.Unlock()
			}
			return
		}
	}
}

func (t *ReaderTrack) deliver(f Frame) {
	t.mu.Lock()
	sink := t.sink
	t.mu.Unlock()
	if sink != nil {
		sink.WriteFrame(f)
	}
}
