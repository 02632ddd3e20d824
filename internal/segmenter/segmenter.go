// Package segmenter turns a stream of raw PCM chunks into finalized
// utterances using energy-based voice activity detection.
//
// Each (session, role) pair owns an independent stream: a rolling buffer of
// speech chunks and a recording state machine. Chunks carrying speech are
// buffered; once the speaker has been silent long enough the buffer is
// emitted as one utterance, ready for transcription. Buffers are lossy by
// policy: when a stream exceeds the maximum buffered duration the oldest
// chunks are dropped, even mid-utterance.
//
// All methods are safe for concurrent use.
package segmenter

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/surajgopal85/talktor/pkg/audio"
	"github.com/surajgopal85/talktor/pkg/types"
)

// ErrNoStream is returned by Ingest when the (session, role) stream has not
// been started.
var ErrNoStream = errors.New("no active audio stream")

// State is the recording state of one stream.
type State string

const (
	// StateIdle means no speech is being accumulated.
	StateIdle State = "idle"

	// StateRecording means speech chunks are being buffered.
	StateRecording State = "recording"

	// StateProcessing means an utterance was just emitted and downstream
	// transcription is presumed in flight. The next chunk leaves it.
	StateProcessing State = "processing"
)

// Config holds the segmentation thresholds. These are tunable at runtime via
// [Segmenter.Tune]; the zero value of any field falls back to its default.
type Config struct {
	// VADThreshold is the normalized RMS level (0–1) at or above which a
	// chunk counts as speech.
	VADThreshold float64

	// SilenceDuration is how long a recording stream must stay silent
	// before its buffer is finalized.
	SilenceDuration time.Duration

	// MinUtterance is the shortest buffered duration worth emitting.
	// Shorter segments are discarded silently.
	MinUtterance time.Duration

	// MaxBuffer caps the buffered duration per stream. Oldest chunks are
	// evicted beyond it.
	MaxBuffer time.Duration

	// SampleRate of the incoming mono PCM in Hz.
	SampleRate int
}

// DefaultConfig returns the segmentation defaults.
func DefaultConfig() Config {
	return Config{
		VADThreshold:    0.01,
		SilenceDuration: 1500 * time.Millisecond,
		MinUtterance:    500 * time.Millisecond,
		MaxBuffer:       30 * time.Second,
		SampleRate:      audio.STTSampleRate,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.VADThreshold <= 0 {
		c.VADThreshold = def.VADThreshold
	}
	if c.SilenceDuration <= 0 {
		c.SilenceDuration = def.SilenceDuration
	}
	if c.MinUtterance <= 0 {
		c.MinUtterance = def.MinUtterance
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = def.MaxBuffer
	}
	if c.SampleRate <= 0 {
		c.SampleRate = def.SampleRate
	}
	return c
}

// Level is the per-chunk feedback sent to clients while listening. It is
// best effort and never part of the control flow.
type Level struct {
	Status         string  `json:"status"`
	AudioLevel     float64 `json:"audio_level"`
	HasSpeech      bool    `json:"has_speech"`
	BufferDuration float64 `json:"buffer_duration"`
}

// LevelFunc receives per-chunk level feedback. It is called synchronously
// from Ingest and must not block; senders should hand off to a non-blocking
// channel or goroutine.
type LevelFunc func(sessionID string, role types.SpeakerRole, level Level)

type streamKey struct {
	session string
	role    types.SpeakerRole
}

type stream struct {
	state      State
	chunks     [][]byte
	samples    int
	lastSpeech time.Time
}

// Segmenter manages the audio streams of all live sessions.
type Segmenter struct {
	log   *slog.Logger
	level LevelFunc
	now   func() time.Time

	mu      sync.Mutex
	cfg     Config
	streams map[streamKey]*stream
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Segmenter) { s.log = l }
}

// WithLevelFunc installs the per-chunk level feedback callback.
func WithLevelFunc(fn LevelFunc) Option {
	return func(s *Segmenter) { s.level = fn }
}

// New creates a Segmenter with the given thresholds. Zero config fields take
// their defaults.
func New(cfg Config, opts ...Option) *Segmenter {
	s := &Segmenter{
		log:     slog.Default(),
		now:     time.Now,
		cfg:     cfg.withDefaults(),
		streams: make(map[streamKey]*stream),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the current thresholds.
func (s *Segmenter) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Tune replaces the thresholds at runtime. Zero fields take their defaults.
// Streams pick the new values up on their next chunk.
func (s *Segmenter) Tune(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg.withDefaults()
	s.log.Info("segmenter thresholds updated",
		"vad_threshold", s.cfg.VADThreshold,
		"silence_duration", s.cfg.SilenceDuration,
		"min_utterance", s.cfg.MinUtterance,
		"max_buffer", s.cfg.MaxBuffer,
	)
}

// Start opens (or resets) the stream for a (session, role) pair.
func (s *Segmenter) Start(sessionID string, role types.SpeakerRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[streamKey{sessionID, role}] = &stream{state: StateIdle}
	s.log.Debug("audio stream started", "session_id", sessionID, "role", role)
}

// Stop closes the stream for a (session, role) pair, discarding any
// buffered audio.
func (s *Segmenter) Stop(sessionID string, role types.SpeakerRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streams, streamKey{sessionID, role})
	s.log.Debug("audio stream stopped", "session_id", sessionID, "role", role)
}

// EndSession closes every stream belonging to a session.
func (s *Segmenter) EndSession(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.streams {
		if k.session == sessionID {
			delete(s.streams, k)
		}
	}
}

// State reports the recording state of a stream. The second return is false
// when the stream does not exist.
func (s *Segmenter) State(sessionID string, role types.SpeakerRole) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[streamKey{sessionID, role}]
	if !ok {
		return StateIdle, false
	}
	return st.state, true
}

// ActiveStreams returns the number of open streams.
func (s *Segmenter) ActiveStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// Ingest feeds one PCM16 chunk into a stream. It returns a finalized
// utterance when the chunk completed one, nil otherwise. Chunks that cannot
// be interpreted as 16-bit samples are dropped with a warning and leave the
// recording state untouched.
func (s *Segmenter) Ingest(sessionID string, role types.SpeakerRole, chunk []byte) (*types.Utterance, error) {
	if len(chunk)%2 != 0 {
		s.log.Warn("dropping undecodable audio chunk",
			"session_id", sessionID, "role", role, "bytes", len(chunk))
		return nil, nil
	}

	s.mu.Lock()
	st, ok := s.streams[streamKey{sessionID, role}]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("segmenter: %w: %s/%s", ErrNoStream, sessionID, role)
	}
	cfg := s.cfg

	// An emitted utterance is presumed handed to transcription; the next
	// chunk restarts the machine.
	if st.state == StateProcessing {
		st.state = StateIdle
	}

	level := audio.NormalizedRMS(chunk)
	hasSpeech := level >= cfg.VADThreshold
	now := s.now()

	// Feedback describes the arriving chunk against the buffer as it was,
	// before this chunk changes it.
	feedback := Level{
		Status:         "listening",
		AudioLevel:     round(level, 3),
		HasSpeech:      hasSpeech,
		BufferDuration: round(st.duration(cfg).Seconds(), 2),
	}

	var utt *types.Utterance
	switch {
	case hasSpeech:
		if st.state != StateRecording {
			st.state = StateRecording
			s.log.Debug("speech started", "session_id", sessionID, "role", role)
		}
		st.lastSpeech = now
		st.add(chunk, cfg)

	case st.state == StateRecording && now.Sub(st.lastSpeech) >= cfg.SilenceDuration:
		buffered := st.duration(cfg)
		utt = st.finalize(cfg)
		if utt != nil {
			st.state = StateProcessing
			s.log.Info("utterance finalized",
				"session_id", sessionID, "role", role, "duration", utt.Duration)
		} else {
			st.state = StateIdle
			s.log.Debug("discarding short audio segment",
				"session_id", sessionID, "role", role, "duration", buffered)
		}
	}

	levelFn := s.level
	s.mu.Unlock()

	if levelFn != nil {
		levelFn(sessionID, role, feedback)
	}
	return utt, nil
}

// add buffers a speech chunk and evicts the oldest chunks while the buffer
// exceeds the configured maximum.
func (st *stream) add(chunk []byte, cfg Config) {
	st.chunks = append(st.chunks, chunk)
	st.samples += len(chunk) / 2

	maxSamples := int(cfg.MaxBuffer.Seconds() * float64(cfg.SampleRate))
	for st.samples > maxSamples && len(st.chunks) > 0 {
		st.samples -= len(st.chunks[0]) / 2
		st.chunks = st.chunks[1:]
	}
}

// finalize drains the buffer into an utterance, or nil when the buffered
// audio is too short to transcribe.
func (st *stream) finalize(cfg Config) *types.Utterance {
	dur := st.duration(cfg)
	chunks := st.chunks
	st.chunks = nil
	st.samples = 0
	st.lastSpeech = time.Time{}

	if dur < cfg.MinUtterance {
		return nil
	}

	var size int
	for _, c := range chunks {
		size += len(c)
	}
	pcm := make([]byte, 0, size)
	for _, c := range chunks {
		pcm = append(pcm, c...)
	}
	return &types.Utterance{
		PCM:        pcm,
		SampleRate: cfg.SampleRate,
		Duration:   dur,
	}
}

func (st *stream) duration(cfg Config) time.Duration {
	return time.Duration(st.samples) * time.Second / time.Duration(cfg.SampleRate)
}

func round(x float64, digits int) float64 {
	scale := math.Pow(10, float64(digits))
	return math.Round(x*scale) / scale
}
