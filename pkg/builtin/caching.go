package builtin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hypersim/hookengine/internal/retry"
	"github.com/hypersim/hookengine/pkg/events"
	"github.com/hypersim/hookengine/pkg/hooks"
	"github.com/hypersim/hookengine/pkg/plugin"
	"github.com/hypersim/hookengine/pkg/storage"
	"github.com/hypersim/hookengine/pkg/types"
)

// CacheKeyPrefix is prepended to every cache key.
const CacheKeyPrefix = "sim:"

// CacheConfig configures the caching plugin.
type CacheConfig struct {
	TTL          time.Duration
	MaxEntries   int
	CleanupEvery int

	// Store, when set, is a second tier consulted on a local miss and written
	// on every insertion. The plugin does not close it.
	Store storage.Backend

	Emitter *events.EventEmitter
}

// DefaultCacheConfig returns a 5 minute TTL, 1000 entries, sweeping every 100 insertions.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:          300 * time.Second,
		MaxEntries:   1000,
		CleanupEvery: 100,
	}
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Entries    int           `json:"entries"`
	Hits       int64         `json:"hits"`
	Misses     int64         `json:"misses"`
	Evictions  int64         `json:"evictions"`
	HitRatio   float64       `json:"hitRatio"`
	TTL        time.Duration `json:"ttl"`
	MaxEntries int           `json:"maxEntries"`
}

type cacheEntry struct {
	Result   *types.SimulationResult `json:"result"`
	StoredAt time.Time               `json:"storedAt"`
}

// CachingPlugin answers repeated simulations from a TTL-bounded cache. A hit
// halts BEFORE_SIMULATION and leaves the result under KeyCachedResult.
type CachingPlugin struct {
	plugin.BasePlugin

	cfg   CacheConfig
	store storage.Backend
	now   func() time.Time

	mu         sync.Mutex
	entries    map[string]cacheEntry
	insertions int
	hits       int64
	misses     int64
	evictions  int64
}

// NewCachingPlugin creates the caching plugin. Zero fields take their defaults.
func NewCachingPlugin(cfg CacheConfig) *CachingPlugin {
	def := DefaultCacheConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.CleanupEvery <= 0 {
		cfg.CleanupEvery = def.CleanupEvery
	}

	return &CachingPlugin{
		BasePlugin: plugin.NewBasePlugin("caching", Version, "Caches simulation results to improve performance"),
		cfg:        cfg,
		store:      cfg.Store,
		now:        time.Now,
		entries:    make(map[string]cacheEntry),
	}
}

// Bindings checks the cache first thing in BEFORE_SIMULATION and stores
// successful results late in AFTER_SIMULATION.
func (p *CachingPlugin) Bindings() []plugin.Binding {
	return []plugin.Binding{
		plugin.On(hooks.BeforeSimulation, 1, plugin.Observe(p.checkCache)),
		plugin.On(hooks.AfterSimulation, 10, plugin.Observe(p.updateCache)),
	}
}

// IsHealthy always reports true.
func (p *CachingPlugin) IsHealthy() bool { return true }

// MetadataKeys lists the metadata entries the plugin writes.
func (p *CachingPlugin) MetadataKeys() []string {
	return []string{KeyCacheKey, KeyCacheHit, KeyCachedResult}
}

// CacheKey derives the key of tx from its sender, recipient, value and
// calldata. Each field is length-prefixed so no two distinct tuples hash the
// same input.
func CacheKey(tx *types.TransactionRequest) string {
	h := sha256.New()
	for _, field := range []string{tx.From, tx.To, tx.Value, tx.Data} {
		h.Write([]byte(strconv.Itoa(len(field))))
		h.Write([]byte{':'})
		h.Write([]byte(field))
	}
	return CacheKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

// cloneResult copies r deeply enough that neither copy can see writes to the other.
func cloneResult(r *types.SimulationResult) *types.SimulationResult {
	c := *r
	c.StateChanges = slices.Clone(r.StateChanges)
	return &c
}

func transaction(payload any) (*types.TransactionRequest, bool) {
	switch tx := payload.(type) {
	case *types.TransactionRequest:
		return tx, tx != nil
	case types.TransactionRequest:
		return &tx, true
	default:
		return nil, false
	}
}

func (p *CachingPlugin) live(e cacheEntry, now time.Time) bool {
	return now.Sub(e.StoredAt) < p.cfg.TTL
}

func (p *CachingPlugin) checkCache(ctx context.Context, hc *hooks.HookContext, payload any) error {
	tx, ok := transaction(payload)
	if !ok {
		return nil
	}

	key := CacheKey(tx)
	meta := hc.Meta()
	meta.Set(KeyCacheKey, key)

	entry, hit := p.lookup(ctx, key)
	if !hit {
		meta.Set(KeyCacheHit, false)
		p.emit(events.EventCacheMiss, key)
		return nil
	}

	meta.Set(KeyCacheHit, true)
	meta.Set(KeyCachedResult, cloneResult(entry.Result))
	hc.Halt()
	p.emit(events.EventCacheHit, key)
	return nil
}

// lookup consults the local map, then the store, and counts the outcome.
func (p *CachingPlugin) lookup(ctx context.Context, key string) (cacheEntry, bool) {
	now := p.now()

	p.mu.Lock()
	entry, ok := p.entries[key]
	if ok && p.live(entry, now) {
		p.hits++
		p.mu.Unlock()
		return entry, true
	}
	if ok {
		delete(p.entries, key)
	}
	p.mu.Unlock()

	if p.store != nil {
		var stored cacheEntry
		err := storage.LoadJSON(ctx, p.store, key, &stored)
		switch {
		case err == nil && stored.Result != nil && p.live(stored, now):
			p.mu.Lock()
			p.entries[key] = stored
			p.hits++
			p.mu.Unlock()
			return stored, true
		case err != nil && !errors.Is(err, storage.ErrKeyNotFound):
			log.Warn().Err(err).Str("key", key).Msg("cache store lookup failed")
		}
	}

	p.mu.Lock()
	p.misses++
	p.mu.Unlock()
	return cacheEntry{}, false
}

func (p *CachingPlugin) updateCache(ctx context.Context, hc *hooks.HookContext, payload any) error {
	meta := hc.Meta()
	if meta.Bool(KeyCacheHit) {
		return nil
	}
	key := meta.String(KeyCacheKey)
	if key == "" {
		return nil
	}
	result, ok := payload.(*types.SimulationResult)
	if !ok || result == nil || !result.Success {
		return nil
	}

	entry := cacheEntry{Result: cloneResult(result), StoredAt: p.now()}

	p.mu.Lock()
	p.entries[key] = entry
	p.insertions++
	evicted := 0
	if p.insertions%p.cfg.CleanupEvery == 0 {
		evicted = p.cleanupLocked(entry.StoredAt)
	}
	p.mu.Unlock()

	if evicted > 0 {
		p.emit(events.EventCacheEvict, evicted)
	}

	if p.store == nil {
		return nil
	}
	err := retry.Do(ctx, retry.NewConstantStrategy(2, 50*time.Millisecond), func(ctx context.Context) error {
		return storage.SaveJSON(ctx, p.store, key, entry, p.cfg.TTL)
	})
	if err != nil {
		return fmt.Errorf("persist cache entry %s: %w", key, err)
	}
	return nil
}

// cleanupLocked drops expired entries, then the oldest ones until the cache
// is back within MaxEntries.
func (p *CachingPlugin) cleanupLocked(now time.Time) int {
	removed := 0
	for key, e := range p.entries {
		if !p.live(e, now) {
			delete(p.entries, key)
			removed++
		}
	}

	if over := len(p.entries) - p.cfg.MaxEntries; over > 0 {
		keys := make([]string, 0, len(p.entries))
		for key := range p.entries {
			keys = append(keys, key)
		}
		sort.Slice(keys, func(i, j int) bool {
			return p.entries[keys[i]].StoredAt.Before(p.entries[keys[j]].StoredAt)
		})
		for _, key := range keys[:over] {
			delete(p.entries, key)
		}
		removed += over
	}

	p.evictions += int64(removed)
	return removed
}

// CacheStats returns the current counters.
func (p *CachingPlugin) CacheStats() CacheStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := CacheStats{
		Entries:    len(p.entries),
		Hits:       p.hits,
		Misses:     p.misses,
		Evictions:  p.evictions,
		TTL:        p.cfg.TTL,
		MaxEntries: p.cfg.MaxEntries,
	}
	if total := p.hits + p.misses; total > 0 {
		stats.HitRatio = float64(p.hits) / float64(total)
	}
	return stats
}

// ClearCache drops every local entry and, when a store is configured, every
// stored entry under CacheKeyPrefix.
func (p *CachingPlugin) ClearCache(ctx context.Context) error {
	p.mu.Lock()
	p.entries = make(map[string]cacheEntry)
	p.insertions = 0
	p.mu.Unlock()

	if p.store == nil {
		return nil
	}
	keys, err := p.store.List(ctx, CacheKeyPrefix)
	if err != nil {
		return fmt.Errorf("list cache entries: %w", err)
	}
	var errs []error
	for _, key := range keys {
		if err := p.store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrKeyNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *CachingPlugin) emit(eventType events.EventType, data any) {
	if p.cfg.Emitter == nil {
		return
	}
	p.cfg.Emitter.Emit(events.CreateEvent(eventType, data, p.Name()))
}
