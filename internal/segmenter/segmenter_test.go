package segmenter

import (
	"errors"
	"testing"
	"time"

	"github.com/surajgopal85/talktor/pkg/types"
)

func testConfig() Config {
	return Config{
		VADThreshold:    0.01,
		SilenceDuration: 1500 * time.Millisecond,
		MinUtterance:    500 * time.Millisecond,
		MaxBuffer:       2 * time.Second,
		SampleRate:      1000,
	}
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestSegmenter(opts ...Option) (*Segmenter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := New(testConfig(), opts...)
	s.now = clock.now
	return s, clock
}

// speechChunk builds n samples at constant amplitude amp, giving a
// normalized RMS of amp/32767.
func speechChunk(n int, amp int16) []byte {
	b := make([]byte, n*2)
	for i := 0; i < n; i++ {
		b[i*2] = byte(amp)
		b[i*2+1] = byte(amp >> 8)
	}
	return b
}

func silenceChunk(n int) []byte { return make([]byte, n*2) }

func mustIngest(t *testing.T, s *Segmenter, session string, role types.SpeakerRole, chunk []byte) *types.Utterance {
	t.Helper()
	utt, err := s.Ingest(session, role, chunk)
	if err != nil {
		t.Fatalf("Ingest returned error: %v", err)
	}
	return utt
}

func TestSegmenter_EmitAfterSilence(t *testing.T) {
	s, clock := newTestSegmenter()
	s.Start("sess", types.RoleDoctor)

	// 600 samples of speech at 1 kHz = 0.6s, above the 0.5s minimum.
	if utt := mustIngest(t, s, "sess", types.RoleDoctor, speechChunk(600, 3277)); utt != nil {
		t.Fatalf("utterance emitted while still recording: %+v", utt)
	}
	if st, _ := s.State("sess", types.RoleDoctor); st != StateRecording {
		t.Fatalf("state = %v, want recording", st)
	}

	// Silence but below the 1.5s deadline: nothing finalizes.
	clock.advance(500 * time.Millisecond)
	if utt := mustIngest(t, s, "sess", types.RoleDoctor, silenceChunk(100)); utt != nil {
		t.Fatalf("utterance emitted before silence deadline: %+v", utt)
	}

	clock.advance(1100 * time.Millisecond)
	utt := mustIngest(t, s, "sess", types.RoleDoctor, silenceChunk(100))
	if utt == nil {
		t.Fatal("expected utterance after silence deadline")
	}
	if len(utt.PCM) != 1200 {
		t.Errorf("PCM = %d bytes, want 1200 (silence chunks are not buffered)", len(utt.PCM))
	}
	if utt.Duration != 600*time.Millisecond {
		t.Errorf("duration = %v, want 600ms", utt.Duration)
	}
	if utt.SampleRate != 1000 {
		t.Errorf("sample rate = %d, want 1000", utt.SampleRate)
	}

	if st, _ := s.State("sess", types.RoleDoctor); st != StateProcessing {
		t.Errorf("state = %v, want processing", st)
	}
	mustIngest(t, s, "sess", types.RoleDoctor, silenceChunk(100))
	if st, _ := s.State("sess", types.RoleDoctor); st != StateIdle {
		t.Errorf("state = %v, want idle after processing", st)
	}
}

func TestSegmenter_ShortSegmentDiscarded(t *testing.T) {
	s, clock := newTestSegmenter()
	s.Start("sess", types.RolePatient)

	mustIngest(t, s, "sess", types.RolePatient, speechChunk(300, 3277))
	clock.advance(2 * time.Second)

	if utt := mustIngest(t, s, "sess", types.RolePatient, silenceChunk(100)); utt != nil {
		t.Fatalf("0.3s segment emitted: %+v", utt)
	}
	if st, _ := s.State("sess", types.RolePatient); st != StateIdle {
		t.Errorf("state = %v, want idle after discard", st)
	}
}

func TestSegmenter_EvictsOldestChunks(t *testing.T) {
	s, clock := newTestSegmenter()
	s.Start("sess", types.RoleDoctor)

	// Three 0.8s chunks against a 2s cap: the first is evicted.
	for range 3 {
		mustIngest(t, s, "sess", types.RoleDoctor, speechChunk(800, 3277))
		clock.advance(100 * time.Millisecond)
	}
	clock.advance(2 * time.Second)

	utt := mustIngest(t, s, "sess", types.RoleDoctor, silenceChunk(100))
	if utt == nil {
		t.Fatal("expected utterance")
	}
	if utt.Duration != 1600*time.Millisecond {
		t.Errorf("duration = %v, want 1.6s after eviction", utt.Duration)
	}
	if len(utt.PCM) != 3200 {
		t.Errorf("PCM = %d bytes, want 3200", len(utt.PCM))
	}
}

func TestSegmenter_ResumesWithinSilenceWindow(t *testing.T) {
	s, clock := newTestSegmenter()
	s.Start("sess", types.RoleDoctor)

	mustIngest(t, s, "sess", types.RoleDoctor, speechChunk(600, 3277))
	clock.advance(time.Second)
	mustIngest(t, s, "sess", types.RoleDoctor, silenceChunk(100))

	// Speech resumes before the deadline: same utterance continues.
	clock.advance(200 * time.Millisecond)
	mustIngest(t, s, "sess", types.RoleDoctor, speechChunk(600, 3277))

	clock.advance(2 * time.Second)
	utt := mustIngest(t, s, "sess", types.RoleDoctor, silenceChunk(100))
	if utt == nil {
		t.Fatal("expected utterance")
	}
	if utt.Duration != 1200*time.Millisecond {
		t.Errorf("duration = %v, want 1.2s across the pause", utt.Duration)
	}
}

func TestSegmenter_OddChunkDropped(t *testing.T) {
	var levels int
	s, _ := newTestSegmenter(WithLevelFunc(func(string, types.SpeakerRole, Level) {
		levels++
	}))
	s.Start("sess", types.RoleDoctor)
	mustIngest(t, s, "sess", types.RoleDoctor, speechChunk(600, 3277))

	utt, err := s.Ingest("sess", types.RoleDoctor, []byte{1, 2, 3})
	if err != nil || utt != nil {
		t.Fatalf("Ingest(odd chunk) = %v, %v, want nil, nil", utt, err)
	}
	if st, _ := s.State("sess", types.RoleDoctor); st != StateRecording {
		t.Errorf("state = %v, odd chunk must not touch recording state", st)
	}
	if levels != 1 {
		t.Errorf("level callbacks = %d, want 1 (none for the dropped chunk)", levels)
	}
}

func TestSegmenter_UnknownStream(t *testing.T) {
	s, _ := newTestSegmenter()
	if _, err := s.Ingest("nope", types.RoleDoctor, silenceChunk(10)); !errors.Is(err, ErrNoStream) {
		t.Fatalf("err = %v, want ErrNoStream", err)
	}
}

func TestSegmenter_LevelFeedback(t *testing.T) {
	var got []Level
	s, _ := newTestSegmenter(WithLevelFunc(func(_ string, _ types.SpeakerRole, l Level) {
		got = append(got, l)
	}))
	s.Start("sess", types.RolePatient)

	mustIngest(t, s, "sess", types.RolePatient, speechChunk(600, 3277))
	mustIngest(t, s, "sess", types.RolePatient, silenceChunk(100))

	if len(got) != 2 {
		t.Fatalf("levels = %d, want 2", len(got))
	}
	speech, silence := got[0], got[1]
	if speech.Status != "listening" || !speech.HasSpeech {
		t.Errorf("speech level = %+v, want listening with speech", speech)
	}
	if speech.AudioLevel != 0.1 {
		t.Errorf("audio level = %v, want 0.1", speech.AudioLevel)
	}
	if speech.BufferDuration != 0 {
		t.Errorf("buffer duration = %v, want 0 before the chunk lands", speech.BufferDuration)
	}
	if silence.HasSpeech {
		t.Error("silence chunk reported as speech")
	}
	if silence.BufferDuration != 0.6 {
		t.Errorf("buffer duration = %v, want 0.6", silence.BufferDuration)
	}
}

func TestSegmenter_Tune(t *testing.T) {
	s, _ := newTestSegmenter()
	s.Start("sess", types.RoleDoctor)

	// 0.05 normalized clears the default 0.01 threshold.
	mustIngest(t, s, "sess", types.RoleDoctor, speechChunk(100, 1638))
	if st, _ := s.State("sess", types.RoleDoctor); st != StateRecording {
		t.Fatalf("state = %v, want recording", st)
	}

	s.Tune(Config{VADThreshold: 0.2})
	if cfg := s.Config(); cfg.SilenceDuration != DefaultConfig().SilenceDuration {
		t.Errorf("SilenceDuration = %v, want default backfilled", cfg.SilenceDuration)
	}

	s.Start("sess", types.RoleDoctor) // reset stream
	mustIngest(t, s, "sess", types.RoleDoctor, speechChunk(100, 1638))
	if st, _ := s.State("sess", types.RoleDoctor); st != StateIdle {
		t.Errorf("state = %v, want idle under the raised threshold", st)
	}
}

func TestSegmenter_StartResetsStream(t *testing.T) {
	s, clock := newTestSegmenter()
	s.Start("sess", types.RoleDoctor)
	mustIngest(t, s, "sess", types.RoleDoctor, speechChunk(600, 3277))

	s.Start("sess", types.RoleDoctor)
	if st, _ := s.State("sess", types.RoleDoctor); st != StateIdle {
		t.Fatalf("state = %v, want idle after restart", st)
	}

	// The old buffer is gone: silence past the deadline emits nothing.
	clock.advance(2 * time.Second)
	if utt := mustIngest(t, s, "sess", types.RoleDoctor, silenceChunk(100)); utt != nil {
		t.Errorf("utterance from a reset stream: %+v", utt)
	}
}

func TestSegmenter_EndSession(t *testing.T) {
	s, _ := newTestSegmenter()
	s.Start("sess", types.RoleDoctor)
	s.Start("sess", types.RolePatient)
	s.Start("other", types.RoleDoctor)

	if n := s.ActiveStreams(); n != 3 {
		t.Fatalf("ActiveStreams() = %d, want 3", n)
	}
	s.EndSession("sess")
	if n := s.ActiveStreams(); n != 1 {
		t.Errorf("ActiveStreams() = %d, want 1", n)
	}
	if _, err := s.Ingest("sess", types.RoleDoctor, silenceChunk(10)); !errors.Is(err, ErrNoStream) {
		t.Errorf("err = %v, want ErrNoStream after EndSession", err)
	}
}

func TestConfig_Defaults(t *testing.T) {
	s := New(Config{})
	if got, want := s.Config(), DefaultConfig(); got != want {
		t.Errorf("Config() = %+v, want defaults %+v", got, want)
	}
}
