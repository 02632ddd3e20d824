// Package catalog resolves medication terms into structured records.
//
// Resolution order for [Catalog.Lookup]:
//
//  1. TTL cache (keyed by term and specialty)
//  2. local seed records — exact name/alias match, then fuzzy match for
//     transcription mishears (Levenshtein distance with Double Metaphone
//     confirmation, via matchr)
//  3. RxNorm REST (standardised names, RxCUI, brand/generic names)
//  4. openFDA drug label search (indications, contraindications, drug class,
//     pregnancy category)
//
// External calls run behind a circuit breaker: when the breaker is open the
// catalog degrades to local-only resolution instead of stalling callers. A
// term no source recognises resolves to an explicit unknown record — Lookup
// never returns an error, because absence is a normal answer during a live
// conversation.
package catalog

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/surajgopal85/talktor/internal/resilience"
)

const (
	// defaultTTL is how long resolved records stay cached.
	defaultTTL = 24 * time.Hour

	// defaultTimeout bounds each external API request.
	defaultTimeout = 10 * time.Second
)

// Option is a functional option for configuring a [Catalog].
type Option func(*Catalog)

// WithTTL sets the cache lifetime for resolved records. Default: 24h.
func WithTTL(ttl time.Duration) Option {
	return func(c *Catalog) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithHTTPClient replaces the HTTP client used for external lookups.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Catalog) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) {
		if l != nil {
			c.log = l
		}
	}
}

// WithSeeds appends seed records to the compiled-in defaults. Later records
// win on name collisions, so a YAML seed file can override a built-in.
func WithSeeds(records []Record) Option {
	return func(c *Catalog) {
		c.extraSeeds = append(c.extraSeeds, records...)
	}
}

// WithoutRemote disables the RxNorm and openFDA lookups. Resolution becomes
// seed-only; unseeded terms resolve to unknown records immediately.
func WithoutRemote() Option {
	return func(c *Catalog) {
		c.remote = false
	}
}

// WithBaseURLs overrides the external API base URLs. Used by tests to point
// the catalog at httptest servers; empty strings keep the defaults.
func WithBaseURLs(rxnormBase, openFDABase string) Option {
	return func(c *Catalog) {
		if rxnormBase != "" {
			c.rxnormBase = rxnormBase
		}
		if openFDABase != "" {
			c.openFDABase = openFDABase
		}
	}
}

// WithBreaker replaces the circuit breaker configuration guarding external
// calls.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *Catalog) {
		cfg.Name = "catalog"
		c.breaker = resilience.NewCircuitBreaker(cfg)
	}
}

// Catalog is a medication catalog with layered resolution and a TTL cache.
// All methods are safe for concurrent use.
type Catalog struct {
	log        *slog.Logger
	ttl        time.Duration
	remote     bool
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker

	rxnormBase  string
	openFDABase string

	extraSeeds []Record
	seeds      []Record
	seedIndex  map[string]int // lowercased name/alias -> index into seeds

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	rec     Record
	expires time.Time
}

// New constructs a Catalog with the compiled-in seed records and remote
// lookups enabled.
func New(opts ...Option) *Catalog {
	c := &Catalog{
		log:         slog.Default(),
		ttl:         defaultTTL,
		remote:      true,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		rxnormBase:  rxnormBaseURL,
		openFDABase: openFDABaseURL,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "catalog",
		}),
		cache: make(map[string]cacheEntry),
	}
	for _, o := range opts {
		o(c)
	}

	c.seeds = append(builtinSeeds(), c.extraSeeds...)
	c.seedIndex = buildSeedIndex(c.seeds)
	return c
}

// Lookup resolves term for the given specialty. It never returns a nil-like
// value: a miss yields the explicit unknown record and any per-term resolution
// error is logged, not propagated, so one bad term cannot fail a whole
// extraction pass.
func (c *Catalog) Lookup(ctx context.Context, term, specialty string) Record {
	key := cacheKey(term, specialty)

	if rec, ok := c.fromCache(key); ok {
		return rec
	}

	norm := Normalize(term)
	if norm == "" {
		return UnknownRecord(term)
	}

	if rec, ok := c.fromSeeds(norm); ok {
		rec.DrugName = term
		c.store(key, rec)
		return rec
	}

	if !c.remote {
		rec := UnknownRecord(term)
		c.store(key, rec)
		return rec
	}

	rec, err := c.fromRemote(ctx, norm)
	if err != nil {
		// Transient failures (including an open breaker) are not cached so the
		// term gets another chance once the upstream recovers.
		c.log.Warn("catalog: remote lookup failed",
			"term", term, "error", err)
		return UnknownRecord(term)
	}
	rec.DrugName = term
	c.store(key, rec)
	return rec
}

// Ping reports whether the catalog can serve lookups. Remote failures do not
// make the catalog unhealthy (it degrades to seed-only), so Ping only fails
// when the breaker is open, meaning external enrichment is known-unavailable.
func (c *Catalog) Ping(ctx context.Context) error {
	if !c.remote {
		return nil
	}
	if c.breaker.State() == resilience.StateOpen {
		return resilience.ErrCircuitOpen
	}
	return nil
}

// fromCache returns a live cached record.
func (c *Catalog) fromCache(key string) (Record, bool) {
	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expires) {
		return Record{}, false
	}
	return entry.rec, true
}

// store caches rec under key with the configured TTL.
func (c *Catalog) store(key string, rec Record) {
	c.mu.Lock()
	c.cache[key] = cacheEntry{rec: rec, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// CacheSize returns the number of cached entries, including expired ones not
// yet overwritten.
func (c *Catalog) CacheSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// fromRemote queries RxNorm then openFDA, merging whatever each returns.
// Both calls run under the circuit breaker; an open breaker fails the lookup
// immediately. If neither source recognises the term the unknown record is
// returned with a nil error, so it gets cached like any other answer.
func (c *Catalog) fromRemote(ctx context.Context, term string) (Record, error) {
	rec := Record{
		DrugName:          term,
		PregnancyCategory: "unknown",
	}
	var sources []string

	err := c.breaker.Execute(func() error {
		rx, err := c.queryRxNorm(ctx, term)
		if err != nil {
			return err
		}
		if rx != nil {
			rec.CanonicalName = rx.CanonicalName
			rec.RxCUI = rx.RxCUI
			rec.BrandNames = rx.BrandNames
			rec.GenericNames = rx.GenericNames
			sources = append(sources, "rxnorm")
		}

		fda, err := c.queryOpenFDA(ctx, term)
		if err != nil {
			return err
		}
		if fda != nil {
			rec.Indications = fda.Indications
			rec.Contraindications = fda.Contraindications
			rec.DrugClass = fda.DrugClass
			if fda.PregnancyCategory != "" {
				rec.PregnancyCategory = fda.PregnancyCategory
			}
			// A label hit without an RxNorm concept still identifies the drug.
			if rec.CanonicalName == "" {
				rec.CanonicalName = term
			}
			sources = append(sources, "openfda")
		}
		return nil
	})
	if err != nil {
		return Record{}, err
	}

	if len(sources) == 0 {
		return UnknownRecord(term), nil
	}
	rec.Source = strings.Join(sources, "+")
	return rec, nil
}

// cacheKey builds the cache key for a (term, specialty) pair.
func cacheKey(term, specialty string) string {
	if specialty == "" {
		specialty = "general"
	}
	return Normalize(term) + "|" + strings.ToLower(specialty)
}

// Normalize lowercases and trims a medication term for matching.
func Normalize(term string) string {
	return strings.Join(strings.Fields(strings.ToLower(term)), " ")
}
