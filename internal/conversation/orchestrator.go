package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/surajgopal85/talktor/internal/extraction"
	"github.com/surajgopal85/talktor/internal/observe"
	"github.com/surajgopal85/talktor/internal/specialty"
	"github.com/surajgopal85/talktor/internal/store"
	"github.com/surajgopal85/talktor/pkg/provider/stt"
	"github.com/surajgopal85/talktor/pkg/provider/translate"
	"github.com/surajgopal85/talktor/pkg/provider/tts"
	"github.com/surajgopal85/talktor/pkg/types"
)

// reapInterval is how often the reaper sweeps for idle sessions.
const reapInterval = time.Minute

// Orchestrator owns the live sessions and runs the turn pipeline over every
// finalized utterance. Safe for concurrent use.
type Orchestrator struct {
	log         *slog.Logger
	metrics     *observe.Metrics
	registry    *Registry
	transcriber stt.Transcriber
	translator  translate.Translator
	synthesizer tts.Synthesizer // nil = speech synthesis disabled
	extractor   *extraction.Engine
	specialties *specialty.Registry
	ledger      store.SessionStore

	idleTimeout     time.Duration
	doctorLanguage  string
	patientLanguage string
	defSpecialty    string
	now             func() time.Time
	newID           func() string

	mu   sync.RWMutex
	live map[string]*session

	// wg tracks turn workers and fire-and-forget summary goroutines so
	// Close (and tests) can synchronise with the end of in-flight work.
	wg sync.WaitGroup
}

// Option is a functional option for configuring an Orchestrator during
// construction.
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithRegistry substitutes a pre-built channel registry, letting the caller
// share its logger and metrics wiring. Defaults to a fresh [NewRegistry].
func WithRegistry(r *Registry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

// WithSynthesizer enables text-to-speech streaming for translated turns.
// Without it, turns stop after the translation broadcast.
func WithSynthesizer(s tts.Synthesizer) Option {
	return func(o *Orchestrator) { o.synthesizer = s }
}

// WithIdleTimeout overrides how long a session may stay inactive before the
// reaper ends it. Default is [DefaultIdleTimeout].
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.idleTimeout = d }
}

// WithSessionDefaults sets the languages and specialty applied to sessions
// created without explicit values. Empty arguments keep the built-in
// defaults (en, es, general).
func WithSessionDefaults(doctorLang, patientLang, spec string) Option {
	return func(o *Orchestrator) {
		if doctorLang != "" {
			o.doctorLanguage = doctorLang
		}
		if patientLang != "" {
			o.patientLanguage = patientLang
		}
		if spec != "" {
			o.defSpecialty = spec
		}
	}
}

// New constructs an Orchestrator backed by the given providers. The
// transcriber handles audio turns, the translator every turn, and the
// extraction engine plus specialty registry the medical analysis. The
// ledger persists utterances and translations for later retrieval.
func New(transcriber stt.Transcriber, translator translate.Translator, extractor *extraction.Engine,
	specialties *specialty.Registry, ledger store.SessionStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		log:         slog.Default(),
		transcriber: transcriber,
		translator:  translator,
		extractor:   extractor,
		specialties: specialties,
		ledger:      ledger,
		idleTimeout: DefaultIdleTimeout,

		doctorLanguage:  "en",
		patientLanguage: "es",
		defSpecialty:    specialty.General,

		now:   time.Now,
		newID: uuid.NewString,
		live:  make(map[string]*session),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	if o.registry == nil {
		o.registry = NewRegistry(WithRegistryLogger(o.log), WithRegistryMetrics(o.metrics))
	}
	return o
}

// Registry returns the channel registry participants connect through.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// ─── Session lifecycle ──────────────────────────────────────────────────────

// CreateSession starts a new conversation session and returns its snapshot.
func (o *Orchestrator) CreateSession(ctx context.Context, cfg SessionConfig) (SessionInfo, error) {
	if err := ctx.Err(); err != nil {
		return SessionInfo{}, fmt.Errorf("conversation: create session: %w", err)
	}
	if cfg.DoctorLanguage == "" {
		cfg.DoctorLanguage = o.doctorLanguage
	}
	if cfg.PatientLanguage == "" {
		cfg.PatientLanguage = o.patientLanguage
	}
	if cfg.Specialty == "" {
		cfg.Specialty = o.defSpecialty
	}

	now := o.now()
	sctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		id:              o.newID(),
		doctorLanguage:  cfg.DoctorLanguage,
		patientLanguage: cfg.PatientLanguage,
		specialty:       cfg.Specialty,
		profile:         cfg.Profile,
		createdAt:       now,
		lastActivity:    now,
		ctx:             sctx,
		cancel:          cancel,
		medSeen:         make(map[string]struct{}),
		counts:          make(map[types.SpeakerRole]int),
		workers:         make(map[types.SpeakerRole]*turnWorker),
	}

	o.mu.Lock()
	o.live[sess.id] = sess
	o.mu.Unlock()

	o.metrics.ActiveSessions.Add(ctx, 1)
	o.log.Info("session created",
		"session_id", sess.id,
		"doctor_language", cfg.DoctorLanguage,
		"patient_language", cfg.PatientLanguage,
		"specialty", cfg.Specialty,
	)
	return sess.info(), nil
}

// Session returns a snapshot of one live session.
func (o *Orchestrator) Session(sessionID string) (SessionInfo, error) {
	sess, err := o.lookup(sessionID)
	if err != nil {
		return SessionInfo{}, err
	}
	return sess.info(), nil
}

// ActiveSessions lists snapshots of every live session, oldest first.
func (o *Orchestrator) ActiveSessions() []SessionInfo {
	o.mu.RLock()
	sessions := make([]*session, 0, len(o.live))
	for _, s := range o.live {
		sessions = append(sessions, s)
	}
	o.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// EndSession ends a live session: in-flight turns are cancelled, the final
// summary is broadcast to any remaining participants, their channels are
// dropped, and the summary is returned. The stored interaction ledger is
// left intact.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) (Summary, error) {
	o.mu.Lock()
	sess, ok := o.live[sessionID]
	if ok {
		delete(o.live, sessionID)
	}
	o.mu.Unlock()
	if !ok {
		return Summary{}, ErrSessionNotFound
	}

	sess.cancel()
	sum := sess.summary(o.now())

	final := o.newMessage(sess.id, types.RoleSystem, types.MessageSummary, "", "en", map[string]any{
		"final":   true,
		"summary": sum,
	})
	o.registry.Broadcast(sess.id, final)
	o.registry.DropSession(sess.id)

	o.metrics.ActiveSessions.Add(ctx, -1)
	o.log.Info("session ended",
		"session_id", sess.id,
		"duration_minutes", sum.DurationMinutes,
		"messages", sum.MessageCounts.Total,
		"medications", len(sum.Medications),
		"alerts", sum.AlertCount,
	)
	return sum, nil
}

// Close ends every live session and waits for in-flight turns to finish.
func (o *Orchestrator) Close() error {
	o.mu.RLock()
	ids := make([]string, 0, len(o.live))
	for id := range o.live {
		ids = append(ids, id)
	}
	o.mu.RUnlock()

	for _, id := range ids {
		if _, err := o.EndSession(context.Background(), id); err != nil && err != ErrSessionNotFound {
			o.log.Warn("session not ended cleanly", "session_id", id, "error", err)
		}
	}
	o.wg.Wait()
	return nil
}

// Wait blocks until all turn workers and summary goroutines have finished.
// Primarily useful in tests to synchronise after ending sessions.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// ─── Ingestion ──────────────────────────────────────────────────────────────

// ProcessUtterance queues a finalized audio utterance as a turn for the
// speaking role. It returns as soon as the turn is queued; the pipeline runs
// on the participant's turn worker.
func (o *Orchestrator) ProcessUtterance(ctx context.Context, sessionID string, role types.SpeakerRole, utt types.Utterance) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("conversation: %w", err)
	}
	if !role.IsValid() {
		return fmt.Errorf("conversation: role %q cannot speak", role)
	}
	sess, err := o.lookup(sessionID)
	if err != nil {
		return err
	}

	sess.touch(o.now())
	o.metrics.UtteranceDuration.Record(ctx, utt.Duration.Seconds())
	o.enqueueTurn(sess, role, func(tctx context.Context) {
		o.runTurn(tctx, sess, role, turnInput{utterance: &utt})
	})
	return nil
}

// ProcessTranscription queues a client-supplied transcription as a turn,
// bypassing audio transcription. An empty language falls back to the
// speaker's configured language.
func (o *Orchestrator) ProcessTranscription(ctx context.Context, sessionID string, role types.SpeakerRole, text, language string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("conversation: %w", err)
	}
	if !role.IsValid() {
		return fmt.Errorf("conversation: role %q cannot speak", role)
	}
	if text == "" {
		return fmt.Errorf("conversation: empty transcription")
	}
	sess, err := o.lookup(sessionID)
	if err != nil {
		return err
	}

	sess.touch(o.now())
	// Direct text input carries no acoustic uncertainty; report it with the
	// fixed high confidence clients expect.
	tr := types.Transcription{Text: text, Language: language, Confidence: 0.95}
	o.enqueueTurn(sess, role, func(tctx context.Context) {
		o.runTurn(tctx, sess, role, turnInput{transcription: tr})
	})
	return nil
}

// lookup resolves a live session by ID.
func (o *Orchestrator) lookup(sessionID string) (*session, error) {
	o.mu.RLock()
	sess, ok := o.live[sessionID]
	o.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// enqueueTurn hands a turn to the participant's worker, starting the worker
// on first use. The worker lives until the session's context is cancelled.
func (o *Orchestrator) enqueueTurn(sess *session, role types.SpeakerRole, turn func(ctx context.Context)) {
	sess.mu.Lock()
	w, ok := sess.workers[role]
	if !ok {
		w = newTurnWorker()
		sess.workers[role] = w
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			w.run(sess.ctx)
		}()
	}
	sess.mu.Unlock()

	w.enqueue(func() { turn(sess.ctx) })
}

// ─── Idle session reaping ───────────────────────────────────────────────────

// RunReaper periodically ends sessions that have been idle longer than the
// configured timeout. It blocks until ctx is cancelled and always returns
// nil so an errgroup shutdown stays clean.
func (o *Orchestrator) RunReaper(ctx context.Context) error {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.reapIdle(ctx)
		}
	}
}

// reapIdle ends every session whose last activity predates the idle cutoff.
func (o *Orchestrator) reapIdle(ctx context.Context) {
	cutoff := o.now().Add(-o.idleTimeout)

	o.mu.RLock()
	var idle []string
	for id, sess := range o.live {
		if sess.idleBefore(cutoff) {
			idle = append(idle, id)
		}
	}
	o.mu.RUnlock()

	for _, id := range idle {
		if _, err := o.EndSession(ctx, id); err == nil {
			o.log.Info("reaped idle session", "session_id", id, "idle_timeout", o.idleTimeout)
		}
	}
}

// newMessage builds a wire message stamped with a fresh ID and the current
// time.
func (o *Orchestrator) newMessage(sessionID string, speaker types.SpeakerRole, typ types.MessageType, content, language string, meta map[string]any) types.Message {
	return types.Message{
		ID:        o.newID(),
		SessionID: sessionID,
		Speaker:   speaker,
		Type:      typ,
		Content:   content,
		Timestamp: o.now(),
		Language:  language,
		Metadata:  meta,
	}
}
