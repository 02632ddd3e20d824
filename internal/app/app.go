// Package app wires talktor's subsystems together: the medication catalog,
// the session ledger and learning store, the extraction engine, specialty
// routing, the audio segmenter, the conversation orchestrator, and the HTTP
// surface. It owns their lifecycle from construction through shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/surajgopal85/talktor/internal/catalog"
	"github.com/surajgopal85/talktor/internal/config"
	"github.com/surajgopal85/talktor/internal/conversation"
	"github.com/surajgopal85/talktor/internal/extraction"
	"github.com/surajgopal85/talktor/internal/health"
	"github.com/surajgopal85/talktor/internal/learning"
	learningpg "github.com/surajgopal85/talktor/internal/learning/postgres"
	"github.com/surajgopal85/talktor/internal/observe"
	"github.com/surajgopal85/talktor/internal/segmenter"
	"github.com/surajgopal85/talktor/internal/server"
	"github.com/surajgopal85/talktor/internal/specialty"
	"github.com/surajgopal85/talktor/internal/specialty/obgyn"
	"github.com/surajgopal85/talktor/internal/store"
	storepg "github.com/surajgopal85/talktor/internal/store/postgres"
	"github.com/surajgopal85/talktor/pkg/provider/stt"
	"github.com/surajgopal85/talktor/pkg/provider/translate"
	"github.com/surajgopal85/talktor/pkg/provider/tts"
	"github.com/surajgopal85/talktor/pkg/types"
)

// httpShutdownTimeout bounds the graceful drain of in-flight HTTP requests
// once Run's context is cancelled.
const httpShutdownTimeout = 10 * time.Second

// levelQueueSize caps buffered audio-level events awaiting broadcast. The
// feedback is best effort, so overflow drops rather than blocks Ingest.
const levelQueueSize = 64

// Providers holds the speech and translation backends the app runs on. They
// are built by the caller (typically from the providers config section,
// wrapped in fallback chains) and injected here.
type Providers struct {
	// Transcriber converts utterance audio to text. When nil the app runs
	// without speech recognition and only text turns are processed.
	Transcriber stt.Transcriber

	// Translator translates every conversation turn. Required.
	Translator translate.Translator

	// Synthesizer streams spoken translations back to participants.
	// Optional; nil disables text-to-speech.
	Synthesizer tts.Synthesizer
}

// App is the assembled talktor server.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *observe.Metrics

	catalog      *catalog.Catalog
	ledger       store.SessionStore
	learning     learning.Store
	extractor    *extraction.Engine
	specialties  *specialty.Registry
	segmenter    *segmenter.Segmenter
	orchestrator *conversation.Orchestrator
	server       *server.Server

	levels chan levelEvent

	// closers are run in reverse order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
	stopErr  error
}

type levelEvent struct {
	sessionID string
	role      types.SpeakerRole
	level     segmenter.Level
}

// Option configures optional App dependencies.
type Option func(*App)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithCatalog substitutes a pre-built medication catalog, bypassing the
// catalog config section. Used by tests to inject offline catalogs.
func WithCatalog(c *catalog.Catalog) Option {
	return func(a *App) { a.catalog = c }
}

// WithLedger substitutes a pre-built session ledger, bypassing the store
// config section.
func WithLedger(s store.SessionStore) Option {
	return func(a *App) { a.ledger = s }
}

// WithLearningStore substitutes a pre-built learning store, bypassing the
// learning config section.
func WithLearningStore(s learning.Store) Option {
	return func(a *App) { a.learning = s }
}

// New builds the full subsystem graph from cfg and providers. The context
// bounds backend connection attempts (PostgreSQL); it does not outlive New.
//
// On error, anything already opened is closed before returning.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: cfg must not be nil")
	}
	if providers == nil || providers.Translator == nil {
		return nil, errors.New("app: a translator provider is required")
	}

	a := &App{
		cfg:    cfg,
		log:    slog.Default(),
		levels: make(chan levelEvent, levelQueueSize),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	transcriber := providers.Transcriber
	if transcriber == nil {
		a.log.Warn("no stt provider configured, speech recognition disabled")
		transcriber = noopTranscriber{}
	}

	init := []func(context.Context) error{
		a.initCatalog,
		a.initLedger,
		a.initLearning,
		a.initAnalysis,
		a.initSegmenter,
	}
	for _, fn := range init {
		if err := fn(ctx); err != nil {
			a.closeAll()
			return nil, err
		}
	}

	// ── Conversation orchestrator ───────────────────────────────────────
	convOpts := []conversation.Option{
		conversation.WithLogger(a.log),
		conversation.WithMetrics(a.metrics),
		conversation.WithIdleTimeout(cfg.Session.IdleTimeout.Std()),
		conversation.WithSessionDefaults(cfg.Session.DoctorLanguage, cfg.Session.PatientLanguage, cfg.Specialty.Default),
	}
	if providers.Synthesizer != nil {
		convOpts = append(convOpts, conversation.WithSynthesizer(providers.Synthesizer))
	}
	a.orchestrator = conversation.New(transcriber, providers.Translator, a.extractor, a.specialties, a.ledger, convOpts...)

	// ── HTTP surface ────────────────────────────────────────────────────
	srv, err := server.New(server.Config{
		Orchestrator: a.orchestrator,
		Segmenter:    a.segmenter,
		Transcriber:  transcriber,
		Translator:   providers.Translator,
		Extractor:    a.extractor,
		Specialties:  a.specialties,
		Ledger:       a.ledger,
		Learning:     a.learning,
		Health:       health.New(a.checkers()...),
		Logger:       a.log,
		Metrics:      a.metrics,
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: %w", err)
	}
	a.server = srv
	return a, nil
}

// ── 1. Medication catalog ───────────────────────────────────────────────────

func (a *App) initCatalog(_ context.Context) error {
	if a.catalog != nil {
		return nil
	}
	cc := a.cfg.Catalog
	opts := []catalog.Option{catalog.WithLogger(a.log)}
	if ttl := cc.CacheTTL.Std(); ttl > 0 {
		opts = append(opts, catalog.WithTTL(ttl))
	}
	if cc.DisableRemote {
		opts = append(opts, catalog.WithoutRemote())
	}
	if cc.RxNormBaseURL != "" || cc.OpenFDABaseURL != "" {
		opts = append(opts, catalog.WithBaseURLs(cc.RxNormBaseURL, cc.OpenFDABaseURL))
	}
	if cc.SeedPath != "" {
		seeds, err := catalog.LoadSeedFile(cc.SeedPath)
		if err != nil {
			return fmt.Errorf("app: load catalog seeds: %w", err)
		}
		a.log.Info("catalog seeds loaded", "path", cc.SeedPath, "records", len(seeds))
		opts = append(opts, catalog.WithSeeds(seeds))
	}
	a.catalog = catalog.New(opts...)
	return nil
}

// ── 2. Session ledger ───────────────────────────────────────────────────────

func (a *App) initLedger(ctx context.Context) error {
	if a.ledger != nil {
		return nil
	}
	switch a.cfg.Store.Backend {
	case config.StorePostgres:
		st, err := storepg.New(ctx, a.cfg.Store.PostgresDSN)
		if err != nil {
			return fmt.Errorf("app: open session store: %w", err)
		}
		a.closers = append(a.closers, func() error {
			st.Close()
			return nil
		})
		a.ledger = st
	default:
		a.ledger = store.NewMemory()
	}
	return nil
}

// ── 3. Learning store ───────────────────────────────────────────────────────

func (a *App) initLearning(ctx context.Context) error {
	if a.learning != nil {
		return nil
	}
	lc := a.cfg.Learning
	switch lc.Backend {
	case config.LearningPostgres:
		st, err := learningpg.New(ctx, lc.PostgresDSN, learningpg.WithTrainingMinimum(lc.TrainingMinimum))
		if err != nil {
			return fmt.Errorf("app: open learning store: %w", err)
		}
		a.closers = append(a.closers, func() error {
			st.Close()
			return nil
		})
		a.learning = st
	default:
		st, err := learning.NewFileStore(lc.Path, learning.WithTrainingMinimum(lc.TrainingMinimum))
		if err != nil {
			return fmt.Errorf("app: open learning store: %w", err)
		}
		a.closers = append(a.closers, st.Close)
		a.learning = st
	}
	return nil
}

// ── 4. Extraction and specialty routing ─────────────────────────────────────

func (a *App) initAnalysis(_ context.Context) error {
	a.extractor = extraction.New(a.catalog,
		extraction.WithLogger(a.log),
		extraction.WithRecorder(a.learning),
		extraction.WithThresholds(a.cfg.Extraction.GeneralThreshold, a.cfg.Extraction.SpecialtyThreshold),
	)
	a.specialties = specialty.NewRegistry(specialty.WithLogger(a.log))
	a.specialties.Register(obgyn.New(a.catalog,
		obgyn.WithLogger(a.log),
		obgyn.WithRecorder(a.learning),
		obgyn.WithThreshold(a.cfg.Extraction.SpecialtyThreshold),
	))
	return nil
}

// ── 5. Audio segmenter ──────────────────────────────────────────────────────

func (a *App) initSegmenter(_ context.Context) error {
	a.segmenter = segmenter.New(segmenterConfig(a.cfg.Audio),
		segmenter.WithLogger(a.log),
		segmenter.WithLevelFunc(a.queueLevel),
	)
	return nil
}

func segmenterConfig(ac config.AudioConfig) segmenter.Config {
	return segmenter.Config{
		SampleRate:      ac.SampleRate,
		VADThreshold:    ac.VADThreshold,
		SilenceDuration: ac.SilenceDuration.Std(),
		MinUtterance:    ac.MinUtterance.Std(),
		MaxBuffer:       ac.MaxBuffer.Std(),
	}
}

// checkers assembles the readiness probes for backends the app depends on.
func (a *App) checkers() []health.Checker {
	checkers := []health.Checker{health.Ping("catalog", a.catalog)}
	if p, ok := a.ledger.(health.Pinger); ok {
		checkers = append(checkers, health.Ping("store", p))
	}
	if p, ok := a.learning.(health.Pinger); ok {
		checkers = append(checkers, health.Ping("learning", p))
	}
	return checkers
}

// Handler returns the app's HTTP handler. Exposed for tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Run serves HTTP and runs the background loops until ctx is cancelled or a
// component fails. It always returns after Shutdown-equivalent cleanup of
// the HTTP listener; call [App.Shutdown] afterwards to close the rest.
func (a *App) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tls := a.cfg.Server.TLS
		a.log.Info("listening", "addr", httpSrv.Addr, "tls", tls != nil)
		var err error
		if tls != nil {
			err = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.orchestrator.RunReaper(gctx)
	})

	g.Go(func() error {
		a.drainLevels(gctx)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// TuneAudio applies hot-reloaded audio thresholds to the segmenter. Live
// streams pick the new values up on their next chunk.
func (a *App) TuneAudio(ac config.AudioConfig) {
	a.segmenter.Tune(segmenterConfig(ac))
	a.log.Info("audio thresholds retuned",
		"vad_threshold", ac.VADThreshold,
		"silence_duration", ac.SilenceDuration.Std(),
		"min_utterance", ac.MinUtterance.Std(),
	)
}

// queueLevel hands per-chunk level feedback off Ingest's goroutine. Drops
// when the queue is full.
func (a *App) queueLevel(sessionID string, role types.SpeakerRole, level segmenter.Level) {
	select {
	case a.levels <- levelEvent{sessionID: sessionID, role: role, level: level}:
	default:
	}
}

// drainLevels forwards queued level events to the speaking participant as
// system_status messages. Send failures are ignored; the participant may
// simply not be connected.
func (a *App) drainLevels(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.levels:
			msg := types.Message{
				SessionID: ev.sessionID,
				Speaker:   types.RoleSystem,
				Type:      types.MessageSystemStatus,
				Content:   ev.level.Status,
				Timestamp: time.Now().UTC(),
				Metadata: map[string]any{
					"audio_level":     ev.level.AudioLevel,
					"has_speech":      ev.level.HasSpeech,
					"buffer_duration": ev.level.BufferDuration,
				},
			}
			_ = a.orchestrator.Registry().Send(ev.sessionID, ev.role, msg)
		}
	}
}

// Shutdown ends all live sessions, waits for in-flight turns, and closes the
// backends in reverse construction order. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.log.Info("shutting down")

		done := make(chan struct{})
		go func() {
			a.orchestrator.Close()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			a.stopErr = fmt.Errorf("app: shutdown: %w", ctx.Err())
		}

		if err := a.closeAll(); err != nil {
			a.stopErr = errors.Join(a.stopErr, err)
		}
	})
	return a.stopErr
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// noopTranscriber stands in when no speech provider is configured. Audio
// turns transcribe to nothing and are skipped by the pipeline; text turns
// are unaffected.
type noopTranscriber struct{}

var _ stt.Transcriber = noopTranscriber{}

func (noopTranscriber) Transcribe(context.Context, []byte, int, string) (types.Transcription, error) {
	return types.Transcription{}, nil
}
