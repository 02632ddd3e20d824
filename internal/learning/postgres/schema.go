package postgres

import (
	"context"
	"fmt"
)

// All statements are idempotent, so Migrate is safe to run on every startup.

const ddlLearning = `
CREATE TABLE IF NOT EXISTS extraction_attempts (
    id                     TEXT PRIMARY KEY,
    session_id             TEXT             NOT NULL,
    original_text          TEXT             NOT NULL,
    specialty              TEXT             NOT NULL DEFAULT '',
    total_candidates       INT              NOT NULL DEFAULT 0,
    successful_extractions INT              NOT NULL DEFAULT 0,
    strategies_used        JSONB            NOT NULL DEFAULT '[]',
    threshold              DOUBLE PRECISION NOT NULL DEFAULT 0,
    candidates             JSONB            NOT NULL DEFAULT '[]',
    status                 TEXT             NOT NULL DEFAULT 'pending_feedback',
    created_at             TIMESTAMPTZ      NOT NULL DEFAULT now(),
    feedback_at            TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS extraction_attempts_created_at_idx
    ON extraction_attempts (created_at);

CREATE INDEX IF NOT EXISTS extraction_attempts_status_idx
    ON extraction_attempts (status, created_at DESC);

CREATE TABLE IF NOT EXISTS extraction_medications (
    id            BIGSERIAL PRIMARY KEY,
    extraction_id TEXT             NOT NULL REFERENCES extraction_attempts(id) ON DELETE CASCADE,
    term          TEXT             NOT NULL,
    canonical_name TEXT            NOT NULL DEFAULT '',
    rxcui         TEXT             NOT NULL DEFAULT '',
    confidence    DOUBLE PRECISION NOT NULL,
    strategy      TEXT             NOT NULL,
    context       TEXT             NOT NULL DEFAULT '',
    position      INT              NOT NULL DEFAULT 0,
    record        JSONB            NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS extraction_medications_extraction_idx
    ON extraction_medications (extraction_id);

CREATE TABLE IF NOT EXISTS extraction_feedback (
    id            BIGSERIAL PRIMARY KEY,
    extraction_id TEXT             NOT NULL REFERENCES extraction_attempts(id) ON DELETE CASCADE,
    term          TEXT             NOT NULL,
    is_correct    BOOLEAN          NOT NULL,
    source        TEXT             NOT NULL DEFAULT 'user',
    confidence    DOUBLE PRECISION NOT NULL DEFAULT 1,
    created_at    TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS extraction_feedback_extraction_idx
    ON extraction_feedback (extraction_id);
`

// Migrate creates the learning schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, ddlLearning); err != nil {
		return fmt.Errorf("learning store: migrate: %w", err)
	}
	return nil
}
