// Package server exposes talktor's HTTP and WebSocket surface: conversation
// session management, the per-participant conversation socket, the one-shot
// speech and translation endpoints, learning feedback, and the operational
// probes.
//
// All JSON payloads use snake_case field names. Where a degraded result is
// still useful to the caller, provider failures inside a handler degrade the
// response (fallback translations, empty extractions) instead of turning
// into 5xx errors.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/surajgopal85/talktor/internal/conversation"
	"github.com/surajgopal85/talktor/internal/extraction"
	"github.com/surajgopal85/talktor/internal/health"
	"github.com/surajgopal85/talktor/internal/learning"
	"github.com/surajgopal85/talktor/internal/observe"
	"github.com/surajgopal85/talktor/internal/segmenter"
	"github.com/surajgopal85/talktor/internal/specialty"
	"github.com/surajgopal85/talktor/internal/store"
	"github.com/surajgopal85/talktor/pkg/provider/stt"
	"github.com/surajgopal85/talktor/pkg/provider/translate"
	"github.com/surajgopal85/talktor/pkg/types"
)

// defaultWriteTimeout bounds a single WebSocket write.
const defaultWriteTimeout = 10 * time.Second

// Config holds the collaborators a [Server] needs.
//
// Everything up to Learning is required. Health, Logger, Metrics, and
// WriteTimeout are optional.
type Config struct {
	// Orchestrator runs the live conversation sessions. Must not be nil.
	Orchestrator *conversation.Orchestrator

	// Segmenter chops participant audio streams into utterances. Must not
	// be nil.
	Segmenter *segmenter.Segmenter

	// Transcriber serves the one-shot speech-to-text endpoint. Must not be
	// nil.
	Transcriber stt.Transcriber

	// Translator serves the one-shot medical translation endpoint. Must
	// not be nil.
	Translator translate.Translator

	// Extractor finds medications in one-shot translation requests. Must
	// not be nil.
	Extractor *extraction.Engine

	// Specialties routes one-shot translation requests to a specialty
	// engine. Must not be nil.
	Specialties *specialty.Registry

	// Ledger persists the utterances and translations produced by the
	// one-shot endpoints. Must not be nil.
	Ledger store.SessionStore

	// Learning records extraction feedback and serves the analytics
	// endpoint. Must not be nil.
	Learning learning.Store

	// Health, when set, registers the /healthz and /readyz probes on the
	// server's mux.
	Health *health.Handler

	// Logger defaults to [slog.Default].
	Logger *slog.Logger

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// WriteTimeout bounds one WebSocket write. Defaults to 10 seconds.
	WriteTimeout time.Duration
}

// Server is talktor's HTTP and WebSocket surface.
type Server struct {
	orchestrator *conversation.Orchestrator
	segmenter    *segmenter.Segmenter
	transcriber  stt.Transcriber
	translator   translate.Translator
	extractor    *extraction.Engine
	specialties  *specialty.Registry
	ledger       store.SessionStore
	learning     learning.Store
	health       *health.Handler
	log          *slog.Logger
	metrics      *observe.Metrics
	writeTimeout time.Duration
	newID        func() string
}

// New validates cfg and builds the server.
//
// Errors are prefixed with "server: ".
func New(cfg Config) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("server: Orchestrator must not be nil")
	}
	if cfg.Segmenter == nil {
		return nil, errors.New("server: Segmenter must not be nil")
	}
	if cfg.Transcriber == nil {
		return nil, errors.New("server: Transcriber must not be nil")
	}
	if cfg.Translator == nil {
		return nil, errors.New("server: Translator must not be nil")
	}
	if cfg.Extractor == nil {
		return nil, errors.New("server: Extractor must not be nil")
	}
	if cfg.Specialties == nil {
		return nil, errors.New("server: Specialties must not be nil")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("server: Ledger must not be nil")
	}
	if cfg.Learning == nil {
		return nil, errors.New("server: Learning must not be nil")
	}

	s := &Server{
		orchestrator: cfg.Orchestrator,
		segmenter:    cfg.Segmenter,
		transcriber:  cfg.Transcriber,
		translator:   cfg.Translator,
		extractor:    cfg.Extractor,
		specialties:  cfg.Specialties,
		ledger:       cfg.Ledger,
		learning:     cfg.Learning,
		health:       cfg.Health,
		log:          cfg.Logger,
		metrics:      cfg.Metrics,
		writeTimeout: cfg.WriteTimeout,
		newID:        uuid.NewString,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = defaultWriteTimeout
	}
	return s, nil
}

// Handler returns the server's routing handler:
//
//	POST /conversation/create                — create a conversation session
//	GET  /conversation/ws/{sessionID}/{role} — participant WebSocket
//	POST /conversation/end                   — end a session, returns the final summary
//	GET  /conversation/active                — list live sessions
//	POST /speech-to-text                     — transcribe an uploaded WAV file
//	POST /translate/medical                  — one-shot medical translation
//	GET  /session/{sessionID}                — stored interaction ledger
//	DELETE /session/{sessionID}              — privacy deletion of a stored session
//	POST /feedback/extraction/{extractionID} — record extraction feedback
//	GET  /learning/analytics                 — extraction quality analytics
//	GET  /healthz, GET /readyz               — probes, when a health handler is configured
//	GET  /metrics                            — Prometheus scrape endpoint
//
// Every route runs behind the observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /conversation/create", s.handleCreateConversation)
	mux.HandleFunc("GET /conversation/ws/{sessionID}/{role}", s.handleConversationWS)
	mux.HandleFunc("POST /conversation/end", s.handleEndConversation)
	mux.HandleFunc("GET /conversation/active", s.handleActiveConversations)
	mux.HandleFunc("POST /speech-to-text", s.handleSpeechToText)
	mux.HandleFunc("POST /translate/medical", s.handleMedicalTranslate)
	mux.HandleFunc("GET /session/{sessionID}", s.handleGetSession)
	mux.HandleFunc("DELETE /session/{sessionID}", s.handleDeleteSession)
	mux.HandleFunc("POST /feedback/extraction/{extractionID}", s.handleExtractionFeedback)
	mux.HandleFunc("GET /learning/analytics", s.handleLearningAnalytics)
	if s.health != nil {
		s.health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())
	return observe.Middleware(s.metrics)(mux)
}

// systemMessage builds a server-originated message for one session, stamped
// with a fresh ID and the current time.
func (s *Server) systemMessage(sessionID string, typ types.MessageType, content string, meta map[string]any) types.Message {
	return types.Message{
		ID:        s.newID(),
		SessionID: sessionID,
		Speaker:   types.RoleSystem,
		Type:      typ,
		Content:   content,
		Timestamp: time.Now(),
		Language:  "en",
		Metadata:  meta,
	}
}
