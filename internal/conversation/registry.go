package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/surajgopal85/talktor/internal/observe"
	"github.com/surajgopal85/talktor/pkg/types"
)

// chanKey identifies one participant's channel: a session holds at most one
// channel per role.
type chanKey struct {
	session string
	role    types.SpeakerRole
}

// Registry tracks the channels of connected participants and delivers
// messages to them. Safe for concurrent use.
type Registry struct {
	log     *slog.Logger
	metrics *observe.Metrics

	mu       sync.RWMutex
	channels map[chanKey]Channel
}

// RegistryOption configures a [Registry].
type RegistryOption func(*Registry)

// WithRegistryLogger sets the registry logger. Defaults to [slog.Default].
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

// WithRegistryMetrics sets the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithRegistryMetrics(m *observe.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty channel registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		log:      slog.Default(),
		channels: make(map[chanKey]Channel),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	return r
}

// Connect registers ch as the role's channel in the session, superseding any
// previous connection for that key, and greets the new connection with the
// server's capability announcement. Only the new channel receives the
// announcement.
func (r *Registry) Connect(sessionID string, role types.SpeakerRole, ch Channel) {
	key := chanKey{session: sessionID, role: role}
	r.mu.Lock()
	_, replaced := r.channels[key]
	r.channels[key] = ch
	r.mu.Unlock()

	if !replaced {
		r.metrics.ActiveConnections.Add(context.Background(), 1)
	}
	r.log.Info("participant connected",
		"session_id", sessionID, "role", string(role), "replaced", replaced)

	welcome := types.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Speaker:   types.RoleSystem,
		Type:      types.MessageSystemStatus,
		Content:   "connected",
		Timestamp: time.Now(),
		Language:  "en",
		Metadata: map[string]any{
			"role":         string(role),
			"capabilities": capabilities,
		},
	}
	if err := ch.Send(welcome); err != nil {
		r.log.Warn("capability announcement not delivered",
			"session_id", sessionID, "role", string(role), "error", err)
	}
}

// Disconnect removes the role's registration. The channel itself is not
// closed; the transport owns its lifecycle.
func (r *Registry) Disconnect(sessionID string, role types.SpeakerRole) {
	key := chanKey{session: sessionID, role: role}
	r.mu.Lock()
	_, ok := r.channels[key]
	delete(r.channels, key)
	r.mu.Unlock()

	if ok {
		r.metrics.ActiveConnections.Add(context.Background(), -1)
		r.log.Info("participant disconnected", "session_id", sessionID, "role", string(role))
	}
}

// Connected reports whether the role currently has a channel in the session.
func (r *Registry) Connected(sessionID string, role types.SpeakerRole) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[chanKey{session: sessionID, role: role}]
	return ok
}

// Broadcast delivers msg to every channel connected to the session. Delivery
// is best effort: a failing channel is pruned and logged, the remaining
// participants still receive the message.
func (r *Registry) Broadcast(sessionID string, msg types.Message) {
	type target struct {
		key chanKey
		ch  Channel
	}

	r.mu.RLock()
	targets := make([]target, 0, 2)
	for key, ch := range r.channels {
		if key.session == sessionID {
			targets = append(targets, target{key: key, ch: ch})
		}
	}
	r.mu.RUnlock()

	for _, t := range targets {
		if err := t.ch.Send(msg); err != nil {
			r.log.Warn("channel send failed, pruning",
				"session_id", sessionID, "role", string(t.key.role), "error", err)
			r.prune(t.key, t.ch)
		}
	}
}

// Send delivers msg to one participant. Returns [ErrNotConnected] when the
// role has no channel; a failed delivery prunes the channel and returns the
// send error.
func (r *Registry) Send(sessionID string, role types.SpeakerRole, msg types.Message) error {
	key := chanKey{session: sessionID, role: role}
	r.mu.RLock()
	ch, ok := r.channels[key]
	r.mu.RUnlock()
	if !ok {
		return ErrNotConnected
	}
	if err := ch.Send(msg); err != nil {
		r.prune(key, ch)
		return fmt.Errorf("conversation: send to %s: %w", role, err)
	}
	return nil
}

// DropSession removes every channel registered for the session and reports
// how many were removed.
func (r *Registry) DropSession(sessionID string) int {
	r.mu.Lock()
	n := 0
	for key := range r.channels {
		if key.session == sessionID {
			delete(r.channels, key)
			n++
		}
	}
	r.mu.Unlock()

	if n > 0 {
		r.metrics.ActiveConnections.Add(context.Background(), int64(-n))
	}
	return n
}

// prune drops a dead channel unless a newer connection already superseded it.
func (r *Registry) prune(key chanKey, dead Channel) {
	r.mu.Lock()
	cur, ok := r.channels[key]
	pruned := ok && cur == dead
	if pruned {
		delete(r.channels, key)
	}
	r.mu.Unlock()

	if pruned {
		ctx := context.Background()
		r.metrics.BroadcastPrunes.Add(ctx, 1)
		r.metrics.ActiveConnections.Add(ctx, -1)
	}
}
