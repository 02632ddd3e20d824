// Package learning persists medication extraction attempts and the human
// feedback on them, so extraction quality can be measured and training data
// exported.
//
// Every extraction pass is stored as an [Attempt] in status pending_feedback.
// Clinicians later mark each extracted term correct or incorrect, which moves
// the attempt to feedback_received; those attempts form the training set.
// [Analytics] aggregates both populations over a trailing window.
//
// Two implementations exist: an append-only JSONL file store for development
// and a PostgreSQL store (subpackage postgres) for deployments.
package learning

import (
	"context"
	"errors"
	"time"

	"github.com/surajgopal85/talktor/internal/extraction"
)

// ErrNotFound is returned when an extraction attempt does not exist.
var ErrNotFound = errors.New("extraction attempt not found")

// Attempt lifecycle states.
const (
	StatusPendingFeedback  = "pending_feedback"
	StatusFeedbackReceived = "feedback_received"
)

// Defaults applied when callers pass non-positive values.
const (
	DefaultAnalyticsDays   = 30
	DefaultTrainingMinimum = 10
	DefaultExportLimit     = 100
	DefaultRetentionDays   = 90
)

// Attempt is one stored extraction pass together with its feedback state.
type Attempt struct {
	ID          string                  `json:"extraction_id"`
	SessionID   string                  `json:"session_id"`
	Text        string                  `json:"original_text"`
	Candidates  []extraction.Candidate  `json:"candidates"`
	Medications []extraction.Medication `json:"medications"`
	Metadata    extraction.Metadata     `json:"metadata"`
	Status      string                  `json:"status"`
	CreatedAt   time.Time               `json:"created_at"`
	FeedbackAt  time.Time               `json:"feedback_at"`
	Feedback    []FeedbackItem          `json:"feedback,omitempty"`
}

// FeedbackItem is one recorded judgement on one extracted term.
type FeedbackItem struct {
	Term       string    `json:"term"`
	Correct    bool      `json:"correct"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// Feedback is a batch of per-term judgements submitted for one attempt.
type Feedback struct {
	// Terms maps each extracted term to whether the extraction was correct.
	Terms map[string]bool `json:"feedback"`

	// Source identifies who judged, e.g. "user" or "reviewer". Empty means
	// "user".
	Source string `json:"feedback_type,omitempty"`

	// Confidence is the rater's confidence in their own judgement in
	// [0, 1]. Zero means 1.
	Confidence float64 `json:"confidence,omitempty"`
}

// Normalized returns the feedback with Source and Confidence defaults
// applied.
func (f Feedback) Normalized() Feedback {
	if f.Source == "" {
		f.Source = "user"
	}
	if f.Confidence == 0 {
		f.Confidence = 1
	}
	return f
}

// StrategyStats is extraction performance of one generation strategy.
type StrategyStats struct {
	Extractions       int     `json:"total_extractions"`
	FeedbackReceived  int     `json:"feedback_received"`
	Accuracy          float64 `json:"accuracy"`
	AverageConfidence float64 `json:"average_confidence"`
	FeedbackCoverage  float64 `json:"feedback_coverage"`
}

// FeedbackQuality summarises the raw feedback volume behind an analytics
// window.
type FeedbackQuality struct {
	Total    int `json:"total_feedback_items"`
	Positive int `json:"positive_feedback"`
	Negative int `json:"negative_feedback"`
}

// Analytics is extraction quality over a trailing window.
type Analytics struct {
	WindowDays        int                      `json:"time_period_days"`
	TotalExtractions  int                      `json:"total_extractions"`
	WithFeedback      int                      `json:"extractions_with_feedback"`
	FeedbackCoverage  float64                  `json:"feedback_coverage"`
	Accuracy          float64                  `json:"extraction_accuracy"`
	AverageConfidence float64                  `json:"average_confidence"`
	Strategies        map[string]StrategyStats `json:"strategy_performance"`
	ReadyForTraining  bool                     `json:"ready_for_training"`
	TrainingDataSize  int                      `json:"training_data_size"`
	Feedback          FeedbackQuality          `json:"feedback_quality"`
}

// TrainingMedication is the reduced medication view carried by training
// exports.
type TrainingMedication struct {
	Term          string              `json:"term"`
	CanonicalName string              `json:"canonical_name,omitempty"`
	Confidence    float64             `json:"confidence"`
	Strategy      extraction.Strategy `json:"strategy"`
}

// TrainingEntry is one attempt with feedback, shaped for model training.
type TrainingEntry struct {
	ExtractionID string                 `json:"extraction_id"`
	Text         string                 `json:"original_text"`
	Candidates   []extraction.Candidate `json:"candidates"`
	Medications  []TrainingMedication   `json:"extracted_medications"`
	Feedback     map[string]bool        `json:"feedback"`
	Metadata     extraction.Metadata    `json:"metadata"`
}

// Store persists extraction attempts and their feedback.
// Implementations must be safe for concurrent use.
type Store interface {
	extraction.Recorder

	// RecordFeedback attaches per-term correctness feedback to a stored
	// attempt and marks it feedback_received. Returns ErrNotFound when the
	// attempt does not exist.
	RecordFeedback(ctx context.Context, extractionID string, fb Feedback) error

	// Analytics aggregates extraction quality over the trailing window.
	// days <= 0 selects DefaultAnalyticsDays.
	Analytics(ctx context.Context, days int) (Analytics, error)

	// TrainingData exports attempts with feedback, most recent first.
	// limit <= 0 selects DefaultExportLimit.
	TrainingData(ctx context.Context, limit int) ([]TrainingEntry, error)

	// Cleanup deletes attempts older than the retention period and reports
	// how many were removed. days <= 0 selects DefaultRetentionDays.
	Cleanup(ctx context.Context, days int) (int, error)
}

// trainingEntry flattens a stored attempt into its export shape. Later
// feedback on the same term overrides earlier judgements.
func trainingEntry(a *Attempt) TrainingEntry {
	meds := make([]TrainingMedication, len(a.Medications))
	for i, m := range a.Medications {
		meds[i] = TrainingMedication{
			Term:          m.Term,
			CanonicalName: m.Record.CanonicalName,
			Confidence:    m.Confidence,
			Strategy:      m.Strategy,
		}
	}
	fb := make(map[string]bool, len(a.Feedback))
	for _, it := range a.Feedback {
		fb[it.Term] = it.Correct
	}
	return TrainingEntry{
		ExtractionID: a.ID,
		Text:         a.Text,
		Candidates:   a.Candidates,
		Medications:  meds,
		Feedback:     fb,
		Metadata:     a.Metadata,
	}
}
