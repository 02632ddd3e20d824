package specialty

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Registry holds the registered specialties and routes utterances to them.
// Detection scans specialties in registration order, so register the most
// specific one first. Safe for concurrent use.
type Registry struct {
	log *slog.Logger

	mu     sync.RWMutex
	order  []string
	byName map[string]Specialty
}

// RegistryOption configures a [Registry].
type RegistryOption func(*Registry)

// WithLogger sets the registry logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

// NewRegistry creates an empty specialty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		log:    slog.Default(),
		byName: make(map[string]Specialty),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a specialty. Registering a duplicate or the reserved
// General name is an error.
func (r *Registry) Register(s Specialty) error {
	name := s.Name()
	if name == "" || name == General {
		return fmt.Errorf("specialty: cannot register reserved name %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("specialty: %q already registered", name)
	}
	r.byName[name] = s
	r.order = append(r.order, name)
	r.log.Info("registered specialty", "specialty", name)
	return nil
}

// Resolve returns the registered specialty with the given name. Unknown
// names return false; callers then use the general extraction path.
func (r *Registry) Resolve(name string) (Specialty, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// Names returns the registered specialty names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Detect picks the specialty for an utterance.
//
// A registered requested name short-circuits detection; an unknown or empty
// one falls through to the scan so a stale client hint cannot disable
// routing. The scan checks each specialty's keywords against the lowercased
// text in registration order, then asks each specialty whether the patient
// profile alone indicates it. When nothing matches, [General] is returned.
func (r *Registry) Detect(requested, text string, profile Profile) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if requested != "" && requested != General {
		if _, ok := r.byName[requested]; ok {
			return requested
		}
		r.log.Debug("requested specialty not registered", "specialty", requested)
	}

	lower := strings.ToLower(text)
	for _, name := range r.order {
		for _, kw := range r.byName[name].Keywords() {
			if kw != "" && strings.Contains(lower, kw) {
				r.log.Debug("detected specialty by keyword", "specialty", name, "keyword", kw)
				return name
			}
		}
	}

	for _, name := range r.order {
		if r.byName[name].MatchesProfile(profile) {
			r.log.Debug("detected specialty by profile", "specialty", name)
			return name
		}
	}
	return General
}
