package learning

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/surajgopal85/talktor/internal/extraction"
)

// journal line kinds.
const (
	journalAttempt  = "attempt"
	journalFeedback = "feedback"
)

type journalLine struct {
	Kind     string           `json:"kind"`
	Attempt  *Attempt         `json:"attempt,omitempty"`
	Feedback *journalFeedline `json:"feedback,omitempty"`
}

type journalFeedline struct {
	ExtractionID string         `json:"extraction_id"`
	Items        []FeedbackItem `json:"items"`
	At           time.Time      `json:"at"`
}

// FileOption configures a FileStore.
type FileOption func(*FileStore)

// WithFileLogger sets the logger. Defaults to [slog.Default].
func WithFileLogger(log *slog.Logger) FileOption {
	return func(s *FileStore) {
		if log != nil {
			s.log = log
		}
	}
}

// WithTrainingMinimum overrides how many attempts with feedback make the
// dataset ready for training.
func WithTrainingMinimum(n int) FileOption {
	return func(s *FileStore) {
		if n > 0 {
			s.trainingMinimum = n
		}
	}
}

// FileStore is an append-only JSONL learning store. Every attempt and every
// feedback batch is one line in the journal; the full state is replayed into
// memory on open, so queries never touch the file.
type FileStore struct {
	log             *slog.Logger
	path            string
	trainingMinimum int

	mu       sync.Mutex
	f        *os.File
	attempts []*Attempt
	byID     map[string]*Attempt

	now   func() time.Time
	newID func() string
}

var _ Store = (*FileStore)(nil)

// NewFileStore opens (or creates) the journal at path and replays it.
func NewFileStore(path string, opts ...FileOption) (*FileStore, error) {
	s := &FileStore{
		log:             slog.Default(),
		path:            path,
		trainingMinimum: DefaultTrainingMinimum,
		byID:            make(map[string]*Attempt),
		now:             time.Now,
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("learning store: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("learning store: open journal: %w", err)
	}
	s.f = f
	if err := s.replay(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// replay rebuilds in-memory state from the journal. Malformed lines are
// skipped with a warning so a partial trailing write cannot brick the store.
func (s *FileStore) replay() error {
	sc := bufio.NewScanner(s.f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var line journalLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			s.log.Warn("skipping malformed journal line", "path", s.path, "line", lineNo, "error", err)
			continue
		}
		switch line.Kind {
		case journalAttempt:
			if line.Attempt == nil || line.Attempt.ID == "" {
				s.log.Warn("skipping attempt line without id", "path", s.path, "line", lineNo)
				continue
			}
			a := line.Attempt
			s.attempts = append(s.attempts, a)
			s.byID[a.ID] = a
		case journalFeedback:
			if line.Feedback == nil {
				continue
			}
			a, ok := s.byID[line.Feedback.ExtractionID]
			if !ok {
				s.log.Warn("feedback for unknown attempt", "path", s.path, "line", lineNo,
					"extraction_id", line.Feedback.ExtractionID)
				continue
			}
			a.Feedback = append(a.Feedback, line.Feedback.Items...)
			a.Status = StatusFeedbackReceived
			a.FeedbackAt = line.Feedback.At
		default:
			s.log.Warn("skipping journal line of unknown kind", "path", s.path, "line", lineNo, "kind", line.Kind)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("learning store: replay journal: %w", err)
	}
	return nil
}

func (s *FileStore) appendLine(line journalLine) error {
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("learning store: marshal journal line: %w", err)
	}
	if _, err := s.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("learning store: append journal line: %w", err)
	}
	return nil
}

func (s *FileStore) RecordAttempt(ctx context.Context, sessionID string, res extraction.Result) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("learning store: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a := &Attempt{
		ID:          s.newID(),
		SessionID:   sessionID,
		Text:        res.Text,
		Candidates:  res.Candidates,
		Medications: res.Medications,
		Metadata:    res.Metadata,
		Status:      StatusPendingFeedback,
		CreatedAt:   s.now(),
	}
	if err := s.appendLine(journalLine{Kind: journalAttempt, Attempt: a}); err != nil {
		return "", err
	}
	s.attempts = append(s.attempts, a)
	s.byID[a.ID] = a

	s.log.Debug("stored extraction attempt",
		"extraction_id", a.ID,
		"session_id", sessionID,
		"candidates", len(a.Candidates),
		"medications", len(a.Medications))
	return a.ID, nil
}

func (s *FileStore) RecordFeedback(ctx context.Context, extractionID string, fb Feedback) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("learning store: %w", err)
	}
	if len(fb.Terms) == 0 {
		return fmt.Errorf("learning store: feedback for %s has no terms", extractionID)
	}
	fb = fb.Normalized()

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[extractionID]
	if !ok {
		return fmt.Errorf("learning store: feedback for %s: %w", extractionID, ErrNotFound)
	}

	now := s.now()
	terms := make([]string, 0, len(fb.Terms))
	for term := range fb.Terms {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	items := make([]FeedbackItem, len(terms))
	for i, term := range terms {
		items[i] = FeedbackItem{
			Term:       term,
			Correct:    fb.Terms[term],
			Source:     fb.Source,
			Confidence: fb.Confidence,
			CreatedAt:  now,
		}
	}

	if err := s.appendLine(journalLine{Kind: journalFeedback, Feedback: &journalFeedline{
		ExtractionID: extractionID,
		Items:        items,
		At:           now,
	}}); err != nil {
		return err
	}
	a.Feedback = append(a.Feedback, items...)
	a.Status = StatusFeedbackReceived
	a.FeedbackAt = now

	s.log.Info("recorded extraction feedback",
		"extraction_id", extractionID, "terms", len(items), "source", fb.Source)
	return nil
}

func (s *FileStore) Analytics(ctx context.Context, days int) (Analytics, error) {
	if err := ctx.Err(); err != nil {
		return Analytics{}, fmt.Errorf("learning store: %w", err)
	}
	if days <= 0 {
		days = DefaultAnalyticsDays
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type strategyAgg struct {
		extractions int
		confSum     float64
		feedback    int
		correct     int
	}
	cutoff := s.now().AddDate(0, 0, -days)
	aggs := make(map[extraction.Strategy]*strategyAgg)
	out := Analytics{WindowDays: days, Strategies: make(map[string]StrategyStats)}
	medications, confSum := 0, 0.0

	for _, a := range s.attempts {
		if !a.CreatedAt.After(cutoff) {
			continue
		}
		out.TotalExtractions++
		if a.Status == StatusFeedbackReceived {
			out.WithFeedback++
		}
		for _, m := range a.Medications {
			medications++
			confSum += m.Confidence
			ag := aggs[m.Strategy]
			if ag == nil {
				ag = &strategyAgg{}
				aggs[m.Strategy] = ag
			}
			ag.extractions++
			ag.confSum += m.Confidence
		}
		for _, it := range a.Feedback {
			out.Feedback.Total++
			if it.Correct {
				out.Feedback.Positive++
			}
			// Attribute each judgement to the strategy that extracted
			// the judged term in the same attempt.
			for _, m := range a.Medications {
				if m.Term != it.Term {
					continue
				}
				if ag := aggs[m.Strategy]; ag != nil {
					ag.feedback++
					if it.Correct {
						ag.correct++
					}
				}
				break
			}
		}
	}

	out.Feedback.Negative = out.Feedback.Total - out.Feedback.Positive
	if out.TotalExtractions > 0 {
		out.FeedbackCoverage = float64(out.WithFeedback) / float64(out.TotalExtractions)
	}
	if out.Feedback.Total > 0 {
		out.Accuracy = float64(out.Feedback.Positive) / float64(out.Feedback.Total)
	}
	if medications > 0 {
		out.AverageConfidence = confSum / float64(medications)
	}
	for strategy, ag := range aggs {
		st := StrategyStats{
			Extractions:       ag.extractions,
			FeedbackReceived:  ag.feedback,
			AverageConfidence: ag.confSum / float64(ag.extractions),
		}
		if ag.feedback > 0 {
			st.Accuracy = float64(ag.correct) / float64(ag.feedback)
		}
		st.FeedbackCoverage = float64(ag.feedback) / float64(ag.extractions)
		out.Strategies[string(strategy)] = st
	}
	out.ReadyForTraining = out.WithFeedback >= s.trainingMinimum
	out.TrainingDataSize = out.WithFeedback
	return out, nil
}

func (s *FileStore) TrainingData(ctx context.Context, limit int) ([]TrainingEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("learning store: %w", err)
	}
	if limit <= 0 {
		limit = DefaultExportLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ready := make([]*Attempt, 0, len(s.attempts))
	for _, a := range s.attempts {
		if a.Status == StatusFeedbackReceived {
			ready = append(ready, a)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].CreatedAt.After(ready[j].CreatedAt)
	})
	if len(ready) > limit {
		ready = ready[:limit]
	}

	entries := make([]TrainingEntry, len(ready))
	for i, a := range ready {
		entries[i] = trainingEntry(a)
	}
	return entries, nil
}

// Cleanup drops attempts older than the retention period and compacts the
// journal in place via a temp-file rename.
func (s *FileStore) Cleanup(ctx context.Context, days int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("learning store: %w", err)
	}
	if days <= 0 {
		days = DefaultRetentionDays
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().AddDate(0, 0, -days)
	kept := make([]*Attempt, 0, len(s.attempts))
	removed := 0
	for _, a := range s.attempts {
		if a.CreatedAt.Before(cutoff) {
			delete(s.byID, a.ID)
			removed++
			continue
		}
		kept = append(kept, a)
	}
	if removed == 0 {
		return 0, nil
	}
	s.attempts = kept

	if err := s.compact(); err != nil {
		return removed, err
	}
	s.log.Info("cleaned up old extraction attempts", "removed", removed, "retention_days", days)
	return removed, nil
}

// compact rewrites the journal with one attempt line per surviving attempt.
// Attempt lines carry full feedback state, so no feedback lines are needed.
func (s *FileStore) compact() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("learning store: compact: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, a := range s.attempts {
		data, err := json.Marshal(journalLine{Kind: journalAttempt, Attempt: a})
		if err != nil {
			f.Close()
			return fmt.Errorf("learning store: compact: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			f.Close()
			return fmt.Errorf("learning store: compact: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("learning store: compact: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("learning store: compact: %w", err)
	}

	s.f.Close()
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("learning store: compact: %w", err)
	}
	s.f, err = os.OpenFile(s.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("learning store: reopen journal: %w", err)
	}
	return nil
}

// Close closes the journal file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("learning store: close journal: %w", err)
	}
	return nil
}
