// Package extraction finds medication mentions in conversation utterances
// and scores how likely each mention is a real drug reference.
//
// Candidate generation is deliberately over-eager: every sufficiently long
// word, every adjacent word pair, and every match of a pharmaceutical suffix
// pattern becomes a [Candidate]. Validation against the medication catalog
// and a transparent confidence score then separate signal from noise. The
// score is computed by [Score] as a pure function over [Signals], so every
// component of a confidence value can be reproduced and tested in isolation.
//
// An [Engine] ties the two halves together and optionally reports each
// attempt to a [Recorder] so extraction quality can be measured against
// later human feedback.
package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/surajgopal85/talktor/internal/catalog"
)

// Strategy identifies how a candidate was generated from the utterance text.
type Strategy string

const (
	// StrategySingleWord candidates are individual words of four or more
	// characters.
	StrategySingleWord Strategy = "single_word"

	// StrategyBigram candidates are adjacent word pairs, catching
	// multi-word names such as "birth control".
	StrategyBigram Strategy = "bigram"

	// StrategyPattern candidates match a pharmaceutical suffix such as
	// -mycin or -statin and carry a per-suffix weight.
	StrategyPattern Strategy = "pattern_match"
)

// Candidate is a potential medication mention prior to validation.
type Candidate struct {
	// Term is the candidate text, lowercased.
	Term string `json:"term"`

	// Strategy names the generation strategy that produced the candidate.
	Strategy Strategy `json:"strategy"`

	// Context is a small window of surrounding text used for scoring.
	Context string `json:"context"`

	// Position is the candidate's word index within the utterance.
	Position int `json:"position"`

	// PatternWeight is the suffix weight for pattern candidates and zero
	// for all other strategies.
	PatternWeight float64 `json:"pattern_weight,omitempty"`
}

// Medication is a validated candidate whose confidence cleared the
// extraction threshold.
type Medication struct {
	Term       string         `json:"term"`
	Confidence float64        `json:"confidence"`
	Strategy   Strategy       `json:"strategy"`
	Context    string         `json:"context"`
	Position   int            `json:"position"`
	Record     catalog.Record `json:"record"`
}

// Metadata summarises a single extraction pass.
type Metadata struct {
	TotalCandidates       int        `json:"total_candidates"`
	SuccessfulExtractions int        `json:"successful_extractions"`
	StrategiesUsed        []Strategy `json:"strategies_used"`
	Specialty             string     `json:"specialty,omitempty"`
	Threshold             float64    `json:"threshold"`
	WordCount             int        `json:"word_count"`
}

// Result is the outcome of one extraction pass over an utterance.
type Result struct {
	// ExtractionID identifies the stored learning attempt, when a
	// recorder is configured. Empty otherwise.
	ExtractionID string `json:"extraction_id,omitempty"`

	// Text is the utterance the extraction ran over.
	Text string `json:"text"`

	Medications []Medication `json:"medications"`
	Candidates  []Candidate  `json:"candidates"`
	Metadata    Metadata     `json:"metadata"`
}

// Lookup resolves candidate terms against the medication catalog. It never
// fails; terms that cannot be resolved yield an explicit unknown record.
type Lookup interface {
	Lookup(ctx context.Context, term, specialty string) catalog.Record
}

var _ Lookup = (*catalog.Catalog)(nil)

// Recorder persists extraction attempts for later feedback and analytics.
// Implementations must tolerate results with zero candidates.
type Recorder interface {
	// RecordAttempt stores the attempt and returns its extraction ID.
	RecordAttempt(ctx context.Context, sessionID string, res Result) (string, error)
}

// Default thresholds a medication's confidence must strictly exceed to be
// reported. Specialty contexts use the lower bar because the specialty layer
// applies its own scoring on top.
const (
	DefaultThreshold          = 0.3
	DefaultSpecialtyThreshold = 0.25
)

// Engine runs medication extraction over utterances.
type Engine struct {
	catalog            Lookup
	recorder           Recorder
	log                *slog.Logger
	threshold          float64
	specialtyThreshold float64
}

// Option configures an [Engine].
type Option func(*Engine)

// WithThresholds overrides the general and specialty confidence thresholds.
func WithThresholds(general, specialty float64) Option {
	return func(e *Engine) {
		e.threshold = general
		e.specialtyThreshold = specialty
	}
}

// WithRecorder wires a learning recorder. Recording failures are logged and
// never fail the extraction itself.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New creates an extraction engine backed by the given catalog.
func New(cat Lookup, opts ...Option) *Engine {
	e := &Engine{
		catalog:            cat,
		log:                slog.Default(),
		threshold:          DefaultThreshold,
		specialtyThreshold: DefaultSpecialtyThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract generates candidates from text, validates each against the
// catalog, and returns every candidate whose confidence strictly exceeds
// the active threshold. specialty selects the lower specialty threshold
// when non-empty and not "general"; it is also forwarded to the catalog.
//
// Candidates are scored independently, so one bad lookup cannot poison the
// rest. The returned medications are ordered by position in the utterance.
func (e *Engine) Extract(ctx context.Context, text, sessionID, specialty string) (Result, error) {
	candidates := Candidates(text)
	wordCount := len(strings.Fields(text))
	threshold := e.threshold
	if specialty != "" && specialty != "general" {
		threshold = e.specialtyThreshold
	}

	res := Result{
		Text:       text,
		Candidates: candidates,
		Metadata: Metadata{
			TotalCandidates: len(candidates),
			StrategiesUsed:  strategiesUsed(candidates),
			Specialty:       specialty,
			Threshold:       threshold,
			WordCount:       wordCount,
		},
	}

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("extraction: %w", err)
		}
		rec := e.catalog.Lookup(ctx, cand.Term, specialty)
		score := Score(Signals{
			Term:          cand.Term,
			Strategy:      cand.Strategy,
			Context:       cand.Context,
			Position:      cand.Position,
			WordCount:     wordCount,
			PatternWeight: cand.PatternWeight,
			Record:        rec,
		})
		if score > threshold {
			res.Medications = append(res.Medications, Medication{
				Term:       cand.Term,
				Confidence: score,
				Strategy:   cand.Strategy,
				Context:    cand.Context,
				Position:   cand.Position,
				Record:     rec,
			})
		}
	}

	sort.SliceStable(res.Medications, func(i, j int) bool {
		return res.Medications[i].Position < res.Medications[j].Position
	})
	res.Metadata.SuccessfulExtractions = len(res.Medications)

	e.log.Debug("extraction complete",
		"session_id", sessionID,
		"specialty", specialty,
		"candidates", res.Metadata.TotalCandidates,
		"validated", res.Metadata.SuccessfulExtractions,
		"threshold", threshold,
	)

	if e.recorder != nil {
		id, err := e.recorder.RecordAttempt(ctx, sessionID, res)
		if err != nil {
			e.log.Warn("failed to record extraction attempt", "session_id", sessionID, "error", err)
		} else {
			res.ExtractionID = id
		}
	}
	return res, nil
}

// strategiesUsed returns the distinct strategies among candidates in first
// occurrence order, keeping extraction output deterministic.
func strategiesUsed(candidates []Candidate) []Strategy {
	var out []Strategy
	seen := make(map[Strategy]bool, 3)
	for _, c := range candidates {
		if !seen[c.Strategy] {
			seen[c.Strategy] = true
			out = append(out, c.Strategy)
		}
	}
	return out
}
