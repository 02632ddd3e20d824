package learning

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/surajgopal85/talktor/internal/catalog"
	"github.com/surajgopal85/talktor/internal/extraction"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// newTestFileStore returns a store with a deterministic clock and sequential
// extraction IDs ex-1, ex-2, ...
func newTestFileStore(t *testing.T, opts ...FileOption) (*FileStore, *fakeClock) {
	t.Helper()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "learning.jsonl"), opts...)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	clock := &fakeClock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	s.now = clock.now
	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("ex-%d", n)
	}
	return s, clock
}

func sampleResult(term string, confidence float64) extraction.Result {
	return extraction.Result{
		Text: "patient is taking " + term + " daily",
		Candidates: []extraction.Candidate{
			{Term: term, Strategy: extraction.StrategySingleWord, Context: "taking " + term + " daily", Position: 3},
			{Term: "daily", Strategy: extraction.StrategySingleWord, Context: term + " daily", Position: 4},
		},
		Medications: []extraction.Medication{
			{
				Term:       term,
				Confidence: confidence,
				Strategy:   extraction.StrategySingleWord,
				Context:    "taking " + term + " daily",
				Position:   3,
				Record:     catalog.Record{DrugName: term, CanonicalName: term},
			},
		},
		Metadata: extraction.Metadata{
			TotalCandidates:       2,
			SuccessfulExtractions: 1,
			StrategiesUsed:        []extraction.Strategy{extraction.StrategySingleWord},
			Threshold:             0.3,
			WordCount:             5,
		},
	}
}

func TestFileStore_RecordAttemptAndFeedback(t *testing.T) {
	s, _ := newTestFileStore(t)
	ctx := context.Background()

	id, err := s.RecordAttempt(ctx, "sess-1", sampleResult("metformin", 0.8))
	if err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if id != "ex-1" {
		t.Errorf("extraction id = %q, want ex-1", id)
	}
	if _, err := s.RecordAttempt(ctx, "sess-1", sampleResult("lisinopril", 0.6)); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}

	if err := s.RecordFeedback(ctx, id, Feedback{Terms: map[string]bool{"metformin": true}}); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}

	entries, err := s.TrainingData(ctx, 0)
	if err != nil {
		t.Fatalf("TrainingData: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1 (only the attempt with feedback)", len(entries))
	}
	e := entries[0]
	if e.ExtractionID != "ex-1" {
		t.Errorf("ExtractionID = %q, want ex-1", e.ExtractionID)
	}
	if e.Text != "patient is taking metformin daily" {
		t.Errorf("Text = %q", e.Text)
	}
	if len(e.Candidates) != 2 {
		t.Errorf("len(Candidates) = %d, want 2", len(e.Candidates))
	}
	if len(e.Medications) != 1 || e.Medications[0].Term != "metformin" {
		t.Fatalf("Medications = %+v", e.Medications)
	}
	if e.Medications[0].CanonicalName != "metformin" {
		t.Errorf("CanonicalName = %q", e.Medications[0].CanonicalName)
	}
	if got, ok := e.Feedback["metformin"]; !ok || !got {
		t.Errorf("Feedback = %v, want metformin:true", e.Feedback)
	}
	if e.Metadata.TotalCandidates != 2 || e.Metadata.Threshold != 0.3 {
		t.Errorf("Metadata = %+v", e.Metadata)
	}
}

func TestFileStore_RecordFeedback_Unknown(t *testing.T) {
	s, _ := newTestFileStore(t)

	err := s.RecordFeedback(context.Background(), "missing", Feedback{Terms: map[string]bool{"x": true}})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("RecordFeedback unknown = %v, want ErrNotFound", err)
	}
}

func TestFileStore_RecordFeedback_NoTerms(t *testing.T) {
	s, _ := newTestFileStore(t)
	ctx := context.Background()

	id, err := s.RecordAttempt(ctx, "sess-1", sampleResult("aspirin", 0.7))
	if err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if err := s.RecordFeedback(ctx, id, Feedback{}); err == nil {
		t.Error("RecordFeedback with no terms: expected error, got nil")
	}
}

func TestFileStore_FeedbackOverridesEarlierJudgement(t *testing.T) {
	s, _ := newTestFileStore(t)
	ctx := context.Background()

	id, _ := s.RecordAttempt(ctx, "sess-1", sampleResult("aspirin", 0.7))
	if err := s.RecordFeedback(ctx, id, Feedback{Terms: map[string]bool{"aspirin": false}}); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	if err := s.RecordFeedback(ctx, id, Feedback{Terms: map[string]bool{"aspirin": true}, Source: "reviewer"}); err != nil {
		t.Fatalf("RecordFeedback second: %v", err)
	}

	entries, _ := s.TrainingData(ctx, 0)
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(entries))
	}
	if !entries[0].Feedback["aspirin"] {
		t.Error("later feedback should override: want aspirin:true")
	}
}

func TestFileStore_Analytics(t *testing.T) {
	s, clock := newTestFileStore(t)
	ctx := context.Background()

	// Three attempts, feedback on two. metformin judged correct, lisinopril
	// judged incorrect, aspirin unjudged.
	id1, _ := s.RecordAttempt(ctx, "sess-1", sampleResult("metformin", 0.8))
	clock.advance(time.Minute)
	id2, _ := s.RecordAttempt(ctx, "sess-1", sampleResult("lisinopril", 0.6))
	clock.advance(time.Minute)
	if _, err := s.RecordAttempt(ctx, "sess-2", sampleResult("aspirin", 0.7)); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}

	if err := s.RecordFeedback(ctx, id1, Feedback{Terms: map[string]bool{"metformin": true}}); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	if err := s.RecordFeedback(ctx, id2, Feedback{Terms: map[string]bool{"lisinopril": false}}); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}

	a, err := s.Analytics(ctx, 0)
	if err != nil {
		t.Fatalf("Analytics: %v", err)
	}
	if a.WindowDays != DefaultAnalyticsDays {
		t.Errorf("WindowDays = %d, want %d", a.WindowDays, DefaultAnalyticsDays)
	}
	if a.TotalExtractions != 3 {
		t.Errorf("TotalExtractions = %d, want 3", a.TotalExtractions)
	}
	if a.WithFeedback != 2 {
		t.Errorf("WithFeedback = %d, want 2", a.WithFeedback)
	}
	if want := 2.0 / 3.0; !closeTo(a.FeedbackCoverage, want) {
		t.Errorf("FeedbackCoverage = %v, want %v", a.FeedbackCoverage, want)
	}
	if !closeTo(a.Accuracy, 0.5) {
		t.Errorf("Accuracy = %v, want 0.5", a.Accuracy)
	}
	if want := (0.8 + 0.6 + 0.7) / 3; !closeTo(a.AverageConfidence, want) {
		t.Errorf("AverageConfidence = %v, want %v", a.AverageConfidence, want)
	}
	if a.ReadyForTraining {
		t.Error("ReadyForTraining = true with 2 feedback attempts, want false")
	}
	if a.TrainingDataSize != 2 {
		t.Errorf("TrainingDataSize = %d, want 2", a.TrainingDataSize)
	}
	if a.Feedback.Total != 2 || a.Feedback.Positive != 1 || a.Feedback.Negative != 1 {
		t.Errorf("Feedback = %+v", a.Feedback)
	}

	st, ok := a.Strategies[string(extraction.StrategySingleWord)]
	if !ok {
		t.Fatalf("Strategies missing single_word: %v", a.Strategies)
	}
	if st.Extractions != 3 {
		t.Errorf("single_word Extractions = %d, want 3", st.Extractions)
	}
	if st.FeedbackReceived != 2 {
		t.Errorf("single_word FeedbackReceived = %d, want 2", st.FeedbackReceived)
	}
	if !closeTo(st.Accuracy, 0.5) {
		t.Errorf("single_word Accuracy = %v, want 0.5", st.Accuracy)
	}
	if want := 2.0 / 3.0; !closeTo(st.FeedbackCoverage, want) {
		t.Errorf("single_word FeedbackCoverage = %v, want %v", st.FeedbackCoverage, want)
	}
}

func TestFileStore_Analytics_ReadyForTraining(t *testing.T) {
	s, _ := newTestFileStore(t, WithTrainingMinimum(2))
	ctx := context.Background()

	for i := range 2 {
		id, err := s.RecordAttempt(ctx, "sess-1", sampleResult("metformin", 0.8))
		if err != nil {
			t.Fatalf("RecordAttempt %d: %v", i, err)
		}
		if err := s.RecordFeedback(ctx, id, Feedback{Terms: map[string]bool{"metformin": true}}); err != nil {
			t.Fatalf("RecordFeedback %d: %v", i, err)
		}
	}

	a, err := s.Analytics(ctx, 0)
	if err != nil {
		t.Fatalf("Analytics: %v", err)
	}
	if !a.ReadyForTraining {
		t.Error("ReadyForTraining = false with minimum 2 met, want true")
	}
}

func TestFileStore_Analytics_WindowExcludesOld(t *testing.T) {
	s, clock := newTestFileStore(t)
	ctx := context.Background()

	if _, err := s.RecordAttempt(ctx, "sess-1", sampleResult("metformin", 0.8)); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	clock.advance(40 * 24 * time.Hour)
	if _, err := s.RecordAttempt(ctx, "sess-1", sampleResult("aspirin", 0.7)); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}

	a, err := s.Analytics(ctx, 30)
	if err != nil {
		t.Fatalf("Analytics: %v", err)
	}
	if a.TotalExtractions != 1 {
		t.Errorf("TotalExtractions = %d, want 1 (40-day-old attempt outside window)", a.TotalExtractions)
	}
}

func TestFileStore_TrainingData_OrderAndLimit(t *testing.T) {
	s, clock := newTestFileStore(t)
	ctx := context.Background()

	for _, term := range []string{"metformin", "lisinopril", "aspirin"} {
		id, err := s.RecordAttempt(ctx, "sess-1", sampleResult(term, 0.7))
		if err != nil {
			t.Fatalf("RecordAttempt %s: %v", term, err)
		}
		if err := s.RecordFeedback(ctx, id, Feedback{Terms: map[string]bool{term: true}}); err != nil {
			t.Fatalf("RecordFeedback %s: %v", term, err)
		}
		clock.advance(time.Hour)
	}

	entries, err := s.TrainingData(ctx, 2)
	if err != nil {
		t.Fatalf("TrainingData: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}
	if entries[0].ExtractionID != "ex-3" || entries[1].ExtractionID != "ex-2" {
		t.Errorf("order = [%s %s], want [ex-3 ex-2] (most recent first)",
			entries[0].ExtractionID, entries[1].ExtractionID)
	}
}

func TestFileStore_Cleanup(t *testing.T) {
	s, clock := newTestFileStore(t)
	ctx := context.Background()

	id1, _ := s.RecordAttempt(ctx, "sess-1", sampleResult("metformin", 0.8))
	if err := s.RecordFeedback(ctx, id1, Feedback{Terms: map[string]bool{"metformin": true}}); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	clock.advance(100 * 24 * time.Hour)
	if _, err := s.RecordAttempt(ctx, "sess-2", sampleResult("aspirin", 0.7)); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}

	removed, err := s.Cleanup(ctx, 90)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	a, _ := s.Analytics(ctx, 365)
	if a.TotalExtractions != 1 {
		t.Errorf("TotalExtractions after cleanup = %d, want 1", a.TotalExtractions)
	}
	if err := s.RecordFeedback(ctx, id1, Feedback{Terms: map[string]bool{"metformin": true}}); !errors.Is(err, ErrNotFound) {
		t.Errorf("feedback for cleaned attempt = %v, want ErrNotFound", err)
	}

	// The journal still accepts writes after compaction.
	if _, err := s.RecordAttempt(ctx, "sess-3", sampleResult("ibuprofen", 0.6)); err != nil {
		t.Fatalf("RecordAttempt after cleanup: %v", err)
	}
}

func TestFileStore_Replay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "learning.jsonl")
	ctx := context.Background()

	s1, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	id1, err := s1.RecordAttempt(ctx, "sess-1", sampleResult("metformin", 0.8))
	if err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if _, err := s1.RecordAttempt(ctx, "sess-1", sampleResult("aspirin", 0.7)); err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if err := s1.RecordFeedback(ctx, id1, Feedback{Terms: map[string]bool{"metformin": true}}); err != nil {
		t.Fatalf("RecordFeedback: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore reopen: %v", err)
	}
	defer s2.Close()

	a, err := s2.Analytics(ctx, 0)
	if err != nil {
		t.Fatalf("Analytics: %v", err)
	}
	if a.TotalExtractions != 2 {
		t.Errorf("TotalExtractions = %d, want 2", a.TotalExtractions)
	}
	if a.WithFeedback != 1 {
		t.Errorf("WithFeedback = %d, want 1", a.WithFeedback)
	}
	entries, err := s2.TrainingData(ctx, 0)
	if err != nil {
		t.Fatalf("TrainingData: %v", err)
	}
	if len(entries) != 1 || entries[0].ExtractionID != id1 {
		t.Errorf("entries = %+v, want the replayed attempt %s", entries, id1)
	}
	if !entries[0].Feedback["metformin"] {
		t.Error("replayed feedback lost")
	}
}

func closeTo(got, want float64) bool {
	diff := got - want
	return diff < 1e-9 && diff > -1e-9
}
