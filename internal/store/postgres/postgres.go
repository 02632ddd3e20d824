// Package postgres implements [store.SessionStore] on PostgreSQL.
//
// The whole ledger lives in one append-only table; a session is the set of
// rows sharing a session_id. Payloads are stored as JSONB so the schema does
// not need to change when interaction payloads grow new fields.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/surajgopal85/talktor/internal/store"
)

// Store is a PostgreSQL-backed session ledger.
type Store struct {
	pool         *pgxpool.Pool
	log          *slog.Logger
	activeWindow time.Duration
}

var _ store.SessionStore = (*Store)(nil)

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

// WithActiveWindow overrides the activity window used by ActiveCount.
func WithActiveWindow(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.activeWindow = d
		}
	}
}

// New connects to PostgreSQL, verifies the connection and runs migrations.
func New(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("session store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("session store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("session store: ping: %w", err)
	}

	s := &Store{
		pool:         pool,
		log:          slog.Default(),
		activeWindow: store.DefaultActiveWindow,
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

func (s *Store) StoreUtterance(ctx context.Context, sessionID string, u store.Utterance) error {
	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("session store: marshal utterance: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO session_interactions (session_id, kind, speaker, payload)
		VALUES ($1, $2, $3, $4)`,
		sessionID, store.KindTranscription, string(u.Speaker), payload)
	if err != nil {
		return fmt.Errorf("session store: store utterance: %w", err)
	}
	return nil
}

func (s *Store) StoreTranslation(ctx context.Context, sessionID string, tr store.Translation) error {
	payload, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("session store: marshal translation: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO session_interactions (session_id, kind, speaker, payload)
		VALUES ($1, $2, $3, $4)`,
		sessionID, store.KindTranslation, string(tr.Speaker), payload)
	if err != nil {
		return fmt.Errorf("session store: store translation: %w", err)
	}
	return nil
}

type interactionRow struct {
	kind      string
	createdAt time.Time
	payload   []byte
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT kind, created_at, payload
		FROM session_interactions
		WHERE session_id = $1
		ORDER BY created_at, id`,
		sessionID)
	if err != nil {
		return store.Session{}, fmt.Errorf("session store: get session: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (interactionRow, error) {
		var r interactionRow
		err := row.Scan(&r.kind, &r.createdAt, &r.payload)
		return r, err
	})
	if err != nil {
		return store.Session{}, fmt.Errorf("session store: scan session: %w", err)
	}
	if len(recs) == 0 {
		return store.Session{}, fmt.Errorf("session store: get session %s: %w", sessionID, store.ErrNotFound)
	}

	sess := store.Session{
		ID:           sessionID,
		CreatedAt:    recs[0].createdAt,
		LastActivity: recs[len(recs)-1].createdAt,
		Interactions: make([]store.Interaction, 0, len(recs)),
	}
	for _, rec := range recs {
		in := store.Interaction{Kind: rec.kind, Timestamp: rec.createdAt}
		switch rec.kind {
		case store.KindTranscription:
			var u store.Utterance
			if err := json.Unmarshal(rec.payload, &u); err != nil {
				return store.Session{}, fmt.Errorf("session store: decode utterance: %w", err)
			}
			in.Utterance = &u
		case store.KindTranslation:
			var tr store.Translation
			if err := json.Unmarshal(rec.payload, &tr); err != nil {
				return store.Session{}, fmt.Errorf("session store: decode translation: %w", err)
			}
			in.Translation = &tr
		default:
			s.log.Warn("skipping interaction of unknown kind",
				"session_id", sessionID, "kind", rec.kind)
			continue
		}
		sess.Interactions = append(sess.Interactions, in)
	}
	return sess, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM session_interactions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("session store: delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session store: delete session %s: %w", sessionID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) ActiveCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT session_id)
		FROM session_interactions
		WHERE created_at > now() - ($1::bigint * interval '1 microsecond')`,
		s.activeWindow.Microseconds()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("session store: active count: %w", err)
	}
	return n, nil
}

// Ping verifies database connectivity. Used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("session store: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
