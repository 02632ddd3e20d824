package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithActiveWindow overrides the activity window used by ActiveCount.
func WithActiveWindow(d time.Duration) MemoryOption {
	return func(m *Memory) {
		if d > 0 {
			m.activeWindow = d
		}
	}
}

// Memory is an in-process SessionStore. Sessions live until deleted or the
// process exits.
type Memory struct {
	mu           sync.Mutex
	sessions     map[string]*Session
	activeWindow time.Duration
	now          func() time.Time
}

var _ SessionStore = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		sessions:     make(map[string]*Session),
		activeWindow: DefaultActiveWindow,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) StoreUtterance(ctx context.Context, sessionID string, u Utterance) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory store: %w", err)
	}
	cp := u
	m.append(sessionID, Interaction{Kind: KindTranscription, Utterance: &cp})
	return nil
}

func (m *Memory) StoreTranslation(ctx context.Context, sessionID string, tr Translation) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory store: %w", err)
	}
	cp := tr
	m.append(sessionID, Interaction{Kind: KindTranslation, Translation: &cp})
	return nil
}

func (m *Memory) GetSession(ctx context.Context, sessionID string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, fmt.Errorf("memory store: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, fmt.Errorf("memory store: get session %s: %w", sessionID, ErrNotFound)
	}
	out := *sess
	out.Interactions = make([]Interaction, len(sess.Interactions))
	copy(out.Interactions, sess.Interactions)
	return out, nil
}

func (m *Memory) DeleteSession(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory store: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return fmt.Errorf("memory store: delete session %s: %w", sessionID, ErrNotFound)
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *Memory) ActiveCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("memory store: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.activeWindow)
	n := 0
	for _, sess := range m.sessions {
		if sess.LastActivity.After(cutoff) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) append(sessionID string, in Interaction) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	in.Timestamp = now

	sess, ok := m.sessions[sessionID]
	if !ok {
		sess = &Session{ID: sessionID, CreatedAt: now}
		m.sessions[sessionID] = sess
	}
	sess.LastActivity = now
	sess.Interactions = append(sess.Interactions, in)
}
