// Package postgres implements [learning.Store] on PostgreSQL.
//
// Attempts are normalized across three tables: extraction_attempts carries
// the utterance and candidate set, extraction_medications one row per
// validated medication (so strategy performance can be aggregated in SQL),
// and extraction_feedback one row per judgement. Children cascade on attempt
// deletion, which keeps retention cleanup a single statement.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/surajgopal85/talktor/internal/extraction"
	"github.com/surajgopal85/talktor/internal/learning"
)

// Store is a PostgreSQL-backed learning store.
type Store struct {
	pool            *pgxpool.Pool
	log             *slog.Logger
	trainingMinimum int
	newID           func() string
}

var _ learning.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithTrainingMinimum overrides how many attempts with feedback make the
// dataset ready for training.
func WithTrainingMinimum(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.trainingMinimum = n
		}
	}
}

// New connects to PostgreSQL, verifies the connection and runs migrations.
func New(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("learning store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("learning store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("learning store: ping: %w", err)
	}

	s := &Store{
		pool:            pool,
		log:             slog.Default(),
		trainingMinimum: learning.DefaultTrainingMinimum,
		newID:           uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) RecordAttempt(ctx context.Context, sessionID string, res extraction.Result) (string, error) {
	id := s.newID()
	candidates, err := json.Marshal(res.Candidates)
	if err != nil {
		return "", fmt.Errorf("learning store: marshal candidates: %w", err)
	}
	strategies, err := json.Marshal(res.Metadata.StrategiesUsed)
	if err != nil {
		return "", fmt.Errorf("learning store: marshal strategies: %w", err)
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO extraction_attempts
				(id, session_id, original_text, specialty, total_candidates,
				 successful_extractions, strategies_used, threshold, candidates, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			id, sessionID, res.Text, res.Metadata.Specialty,
			res.Metadata.TotalCandidates, res.Metadata.SuccessfulExtractions,
			strategies, res.Metadata.Threshold, candidates, learning.StatusPendingFeedback)
		if err != nil {
			return err
		}
		for _, m := range res.Medications {
			record, err := json.Marshal(m.Record)
			if err != nil {
				return err
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO extraction_medications
					(extraction_id, term, canonical_name, rxcui, confidence, strategy, context, position, record)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				id, m.Term, m.Record.CanonicalName, m.Record.RxCUI,
				m.Confidence, string(m.Strategy), m.Context, m.Position, record)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("learning store: record attempt: %w", err)
	}

	s.log.Debug("stored extraction attempt",
		"extraction_id", id,
		"session_id", sessionID,
		"candidates", len(res.Candidates),
		"medications", len(res.Medications))
	return id, nil
}

func (s *Store) RecordFeedback(ctx context.Context, extractionID string, fb learning.Feedback) error {
	if len(fb.Terms) == 0 {
		return fmt.Errorf("learning store: feedback for %s has no terms", extractionID)
	}
	fb = fb.Normalized()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE extraction_attempts
			SET status = $2, feedback_at = now()
			WHERE id = $1`,
			extractionID, learning.StatusFeedbackReceived)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return learning.ErrNotFound
		}
		for term, correct := range fb.Terms {
			_, err := tx.Exec(ctx, `
				INSERT INTO extraction_feedback
					(extraction_id, term, is_correct, source, confidence)
				VALUES ($1, $2, $3, $4, $5)`,
				extractionID, term, correct, fb.Source, fb.Confidence)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("learning store: record feedback for %s: %w", extractionID, err)
	}

	s.log.Info("recorded extraction feedback",
		"extraction_id", extractionID, "terms", len(fb.Terms), "source", fb.Source)
	return nil
}

func (s *Store) Analytics(ctx context.Context, days int) (learning.Analytics, error) {
	if days <= 0 {
		days = learning.DefaultAnalyticsDays
	}
	window := time.Duration(days) * 24 * time.Hour
	out := learning.Analytics{WindowDays: days, Strategies: make(map[string]learning.StrategyStats)}

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = $2)
		FROM extraction_attempts
		WHERE created_at > now() - ($1::bigint * interval '1 microsecond')`,
		window.Microseconds(), learning.StatusFeedbackReceived).
		Scan(&out.TotalExtractions, &out.WithFeedback)
	if err != nil {
		return learning.Analytics{}, fmt.Errorf("learning store: analytics attempts: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(f.id),
		       COUNT(f.id) FILTER (WHERE f.is_correct)
		FROM extraction_feedback f
		JOIN extraction_attempts a ON a.id = f.extraction_id
		WHERE a.created_at > now() - ($1::bigint * interval '1 microsecond')`,
		window.Microseconds()).
		Scan(&out.Feedback.Total, &out.Feedback.Positive)
	if err != nil {
		return learning.Analytics{}, fmt.Errorf("learning store: analytics feedback: %w", err)
	}
	out.Feedback.Negative = out.Feedback.Total - out.Feedback.Positive

	err = s.pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(m.confidence), 0)
		FROM extraction_medications m
		JOIN extraction_attempts a ON a.id = m.extraction_id
		WHERE a.created_at > now() - ($1::bigint * interval '1 microsecond')`,
		window.Microseconds()).
		Scan(&out.AverageConfidence)
	if err != nil {
		return learning.Analytics{}, fmt.Errorf("learning store: analytics confidence: %w", err)
	}

	if err := s.strategyStats(ctx, window, out.Strategies); err != nil {
		return learning.Analytics{}, err
	}

	if out.TotalExtractions > 0 {
		out.FeedbackCoverage = float64(out.WithFeedback) / float64(out.TotalExtractions)
	}
	if out.Feedback.Total > 0 {
		out.Accuracy = float64(out.Feedback.Positive) / float64(out.Feedback.Total)
	}
	out.ReadyForTraining = out.WithFeedback >= s.trainingMinimum
	out.TrainingDataSize = out.WithFeedback
	return out, nil
}

// strategyStats fills per-strategy extraction counts and confidence, then
// joins feedback to medications by term within the same attempt.
func (s *Store) strategyStats(ctx context.Context, window time.Duration, stats map[string]learning.StrategyStats) error {
	rows, err := s.pool.Query(ctx, `
		SELECT m.strategy, COUNT(*), COALESCE(AVG(m.confidence), 0)
		FROM extraction_medications m
		JOIN extraction_attempts a ON a.id = m.extraction_id
		WHERE a.created_at > now() - ($1::bigint * interval '1 microsecond')
		GROUP BY m.strategy`,
		window.Microseconds())
	if err != nil {
		return fmt.Errorf("learning store: strategy extractions: %w", err)
	}
	type extRow struct {
		strategy string
		n        int
		avg      float64
	}
	extRows, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (extRow, error) {
		var r extRow
		err := row.Scan(&r.strategy, &r.n, &r.avg)
		return r, err
	})
	if err != nil {
		return fmt.Errorf("learning store: scan strategy extractions: %w", err)
	}
	for _, r := range extRows {
		stats[r.strategy] = learning.StrategyStats{
			Extractions:       r.n,
			AverageConfidence: r.avg,
		}
	}

	rows, err = s.pool.Query(ctx, `
		SELECT m.strategy, COUNT(*), COUNT(*) FILTER (WHERE f.is_correct)
		FROM extraction_feedback f
		JOIN extraction_attempts a ON a.id = f.extraction_id
		JOIN extraction_medications m
		  ON m.extraction_id = f.extraction_id AND m.term = f.term
		WHERE a.created_at > now() - ($1::bigint * interval '1 microsecond')
		GROUP BY m.strategy`,
		window.Microseconds())
	if err != nil {
		return fmt.Errorf("learning store: strategy feedback: %w", err)
	}
	type fbRow struct {
		strategy string
		n        int
		correct  int
	}
	fbRows, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (fbRow, error) {
		var r fbRow
		err := row.Scan(&r.strategy, &r.n, &r.correct)
		return r, err
	})
	if err != nil {
		return fmt.Errorf("learning store: scan strategy feedback: %w", err)
	}
	for _, r := range fbRows {
		st := stats[r.strategy]
		st.FeedbackReceived = r.n
		if r.n > 0 {
			st.Accuracy = float64(r.correct) / float64(r.n)
		}
		if st.Extractions > 0 {
			st.FeedbackCoverage = float64(r.n) / float64(st.Extractions)
		}
		stats[r.strategy] = st
	}
	return nil
}

func (s *Store) TrainingData(ctx context.Context, limit int) ([]learning.TrainingEntry, error) {
	if limit <= 0 {
		limit = learning.DefaultExportLimit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, original_text, specialty, total_candidates,
		       successful_extractions, strategies_used, threshold, candidates
		FROM extraction_attempts
		WHERE status = $1
		ORDER BY created_at DESC, id
		LIMIT $2`,
		learning.StatusFeedbackReceived, limit)
	if err != nil {
		return nil, fmt.Errorf("learning store: training attempts: %w", err)
	}
	type attemptRow struct {
		id         string
		text       string
		specialty  string
		total      int
		successful int
		strategies []byte
		threshold  float64
		candidates []byte
	}
	attempts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (attemptRow, error) {
		var r attemptRow
		err := row.Scan(&r.id, &r.text, &r.specialty, &r.total,
			&r.successful, &r.strategies, &r.threshold, &r.candidates)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("learning store: scan training attempts: %w", err)
	}
	if len(attempts) == 0 {
		return []learning.TrainingEntry{}, nil
	}

	ids := make([]string, len(attempts))
	entries := make([]learning.TrainingEntry, len(attempts))
	index := make(map[string]int, len(attempts))
	for i, r := range attempts {
		ids[i] = r.id
		var candidates []extraction.Candidate
		if err := json.Unmarshal(r.candidates, &candidates); err != nil {
			return nil, fmt.Errorf("learning store: decode candidates: %w", err)
		}
		var strategies []extraction.Strategy
		if err := json.Unmarshal(r.strategies, &strategies); err != nil {
			return nil, fmt.Errorf("learning store: decode strategies: %w", err)
		}
		entries[i] = learning.TrainingEntry{
			ExtractionID: r.id,
			Text:         r.text,
			Candidates:   candidates,
			Feedback:     make(map[string]bool),
			Metadata: extraction.Metadata{
				TotalCandidates:       r.total,
				SuccessfulExtractions: r.successful,
				StrategiesUsed:        strategies,
				Specialty:             r.specialty,
				Threshold:             r.threshold,
			},
		}
		index[r.id] = i
	}

	medRows, err := s.pool.Query(ctx, `
		SELECT extraction_id, term, canonical_name, confidence, strategy
		FROM extraction_medications
		WHERE extraction_id = ANY($1)
		ORDER BY id`,
		ids)
	if err != nil {
		return nil, fmt.Errorf("learning store: training medications: %w", err)
	}
	type medRow struct {
		extractionID string
		term         string
		canonical    string
		confidence   float64
		strategy     string
	}
	meds, err := pgx.CollectRows(medRows, func(row pgx.CollectableRow) (medRow, error) {
		var r medRow
		err := row.Scan(&r.extractionID, &r.term, &r.canonical, &r.confidence, &r.strategy)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("learning store: scan training medications: %w", err)
	}
	for _, m := range meds {
		i := index[m.extractionID]
		entries[i].Medications = append(entries[i].Medications, learning.TrainingMedication{
			Term:          m.term,
			CanonicalName: m.canonical,
			Confidence:    m.confidence,
			Strategy:      extraction.Strategy(m.strategy),
		})
	}

	fbRows, err := s.pool.Query(ctx, `
		SELECT extraction_id, term, is_correct
		FROM extraction_feedback
		WHERE extraction_id = ANY($1)
		ORDER BY id`,
		ids)
	if err != nil {
		return nil, fmt.Errorf("learning store: training feedback: %w", err)
	}
	type fbRow struct {
		extractionID string
		term         string
		correct      bool
	}
	fbs, err := pgx.CollectRows(fbRows, func(row pgx.CollectableRow) (fbRow, error) {
		var r fbRow
		err := row.Scan(&r.extractionID, &r.term, &r.correct)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("learning store: scan training feedback: %w", err)
	}
	for _, f := range fbs {
		entries[index[f.extractionID]].Feedback[f.term] = f.correct
	}
	return entries, nil
}

func (s *Store) Cleanup(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		days = learning.DefaultRetentionDays
	}
	window := time.Duration(days) * 24 * time.Hour

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM extraction_attempts
		WHERE created_at < now() - ($1::bigint * interval '1 microsecond')`,
		window.Microseconds())
	if err != nil {
		return 0, fmt.Errorf("learning store: cleanup: %w", err)
	}
	removed := int(tag.RowsAffected())
	if removed > 0 {
		s.log.Info("cleaned up old extraction attempts", "removed", removed, "retention_days", days)
	}
	return removed, nil
}

// Ping verifies database connectivity. Used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("learning store: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
