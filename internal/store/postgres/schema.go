package postgres

import (
	"context"
	"fmt"
)

// All statements are idempotent, so Migrate is safe to run on every startup.

const ddlSessionInteractions = `
CREATE TABLE IF NOT EXISTS session_interactions (
    id         BIGSERIAL PRIMARY KEY,
    session_id TEXT        NOT NULL,
    kind       TEXT        NOT NULL,
    speaker    TEXT        NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    payload    JSONB       NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS session_interactions_session_idx
    ON session_interactions (session_id, created_at);

CREATE INDEX IF NOT EXISTS session_interactions_created_at_idx
    ON session_interactions (created_at);
`

// Migrate creates the ledger schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, ddlSessionInteractions); err != nil {
		return fmt.Errorf("session store: migrate: %w", err)
	}
	return nil
}
