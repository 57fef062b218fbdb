// Package lawbook resolves the active rulebook ("lawbook") version for
// a given rulebook ID and exposes it to every gating write path in the
// control plane. Entries are cached per-process with a short TTL,
// following a mutex-guarded (sync.Mutex), version-stamped pattern like
// the one the policy decision point uses for its policy bundle hash.
package lawbook

import (
	"context"
	"sync"
	"time"

	"github.com/afu9/control-center/pkg/afu9err"
)

// DefaultRulebookID is used when a caller doesn't specify one.
const DefaultRulebookID = "AFU9-LAWBOOK"

// MaxCacheTTL bounds how long a resolved version may be served from
// cache before a fresh lookup is required.
const MaxCacheTTL = 60 * time.Second

// Source resolves the active version for a rulebook ID against
// whatever store backs the lawbook (database, config service, ...).
// An empty version with a nil error means "no active rulebook".
type Source interface {
	ActiveVersion(ctx context.Context, rulebookID string) (version string, err error)
}

type cacheEntry struct {
	version   string
	resolved  bool
	fetchedAt time.Time
}

// Resolver is the cached front-end over a Source.
type Resolver struct {
	source Source
	ttl    time.Duration
	clock  func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New builds a Resolver with the default (60s) cache TTL.
func New(source Source) *Resolver {
	return &Resolver{
		source: source,
		ttl:    MaxCacheTTL,
		clock:  time.Now,
		cache:  make(map[string]cacheEntry),
	}
}

// WithTTL overrides the cache TTL; it must not exceed MaxCacheTTL.
func (r *Resolver) WithTTL(ttl time.Duration) *Resolver {
	if ttl > MaxCacheTTL {
		ttl = MaxCacheTTL
	}
	r.ttl = ttl
	return r
}

// WithClock overrides the time source, for deterministic tests.
func (r *Resolver) WithClock(clock func() time.Time) *Resolver {
	r.clock = clock
	return r
}

// GetActive returns the active rulebook version, or "" if none is
// configured. It never errors on a missing rulebook — only on the
// underlying Source failing.
func (r *Resolver) GetActive(ctx context.Context, rulebookID string) (string, error) {
	if entry, ok := r.lookup(rulebookID); ok {
		return entry.version, nil
	}

	version, err := r.source.ActiveVersion(ctx, rulebookID)
	if err != nil {
		// Errors are never cached — a transient store failure must not
		// wedge every subsequent call into stale data.
		return "", err
	}

	r.store(rulebookID, version)
	return version, nil
}

// RequireActive is GetActive with a fail-closed error: every gating
// write path in the control plane calls this, never GetActive.
func (r *Resolver) RequireActive(ctx context.Context, rulebookID string) (string, error) {
	version, err := r.GetActive(ctx, rulebookID)
	if err != nil {
		return "", err
	}
	if version == "" {
		return "", afu9err.New(afu9err.CodeLawbookNotConfigured,
			"no active lawbook configured for "+rulebookID+" (fail-closed)")
	}
	return version, nil
}

// Invalidate drops the cached entry for rulebookID, forcing the next
// call to hit the Source. Called after an activation write.
func (r *Resolver) Invalidate(rulebookID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, rulebookID)
}

func (r *Resolver) lookup(rulebookID string) (cacheEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.cache[rulebookID]
	if !ok {
		return cacheEntry{}, false
	}
	if r.clock().Sub(entry.fetchedAt) > r.ttl {
		return cacheEntry{}, false
	}
	return entry, true
}

func (r *Resolver) store(rulebookID, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[rulebookID] = cacheEntry{version: version, resolved: true, fetchedAt: r.clock()}
}

// Attach merges lawbookVersion onto obj if the field is absent
// (zero-valued), preserving any explicit value the caller already
// set. obj must be a map[string]any; it is mutated in place and
// returned for chaining.
func Attach(obj map[string]any, version string) map[string]any {
	if obj == nil {
		obj = make(map[string]any)
	}
	if existing, ok := obj["lawbookVersion"]; !ok || existing == "" || existing == nil {
		obj["lawbookVersion"] = version
	}
	return obj
}
