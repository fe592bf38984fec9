package availability

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/niceverygood/maria-reservation-sub000/internal/platform/cache"
	"github.com/niceverygood/maria-reservation-sub000/internal/platform/metrics"
)

const keyPrefix = "slots:"

func cacheKey(doctorID uuid.UUID, date string) string {
	return keyPrefix + doctorID.String() + ":" + date
}

type entry struct {
	Slots      []Slot    `json:"slots"`
	ComputedAt time.Time `json:"computedAt"`
}

type tombstone struct {
	gen uint64
	at  time.Time
}

// Cache holds computed slot lists per (doctor, date) for a bounded TTL.
//
// Every write is checked against a generation counter. A reader takes a
// Token before it reads the rule and booking stores; Put drops the result
// when the key, or the whole cache, was invalidated after that token was
// issued. This keeps a slow reader from re-inserting slots computed before
// a booking committed.
type Cache struct {
	store   cache.Store
	ttl     time.Duration
	logger  zerolog.Logger
	metrics *metrics.Collector
	now     func() time.Time

	mu     sync.Mutex
	gen    uint64
	allGen uint64
	floor  uint64
	keyGen map[string]tombstone
}

func NewCache(store cache.Store, ttl time.Duration, logger zerolog.Logger, m *metrics.Collector) *Cache {
	return &Cache{
		store:   store,
		ttl:     ttl,
		logger:  logger.With().Str("component", "availability-cache").Logger(),
		metrics: m,
		now:     time.Now,
		keyGen:  make(map[string]tombstone),
	}
}

// Token returns the current generation. Take it before reading the stores.
func (c *Cache) Token() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *Cache) stale(key string, token uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.allGen > token || c.floor > token {
		return true
	}
	if t, ok := c.keyGen[key]; ok && t.gen > token {
		return true
	}
	return false
}

func (c *Cache) Get(ctx context.Context, doctorID uuid.UUID, date string) ([]Slot, bool) {
	key := cacheKey(doctorID, date)
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed, treating as miss")
		ok = false
	}
	var e entry
	if ok {
		if err := json.Unmarshal(raw, &e); err != nil {
			c.logger.Warn().Err(err).Str("key", key).Msg("undecodable cache entry")
			ok = false
		}
	}
	c.metrics.RecordCacheRequest(ok)
	if !ok {
		return nil, false
	}
	return e.Slots, true
}

// Put stores slots computed from reads that began at token. It returns
// false when the fill was dropped because the key was invalidated after
// token; the slots are then out of date and must not be served.
func (c *Cache) Put(ctx context.Context, doctorID uuid.UUID, date string, slots []Slot, token uint64) bool {
	key := cacheKey(doctorID, date)
	if c.stale(key, token) {
		c.logger.Debug().Str("key", key).Msg("dropping stale cache fill")
		return false
	}
	raw, err := json.Marshal(entry{Slots: slots, ComputedAt: c.now()})
	if err != nil {
		return true
	}
	if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed")
		return !c.stale(key, token)
	}
	// An invalidation may have landed between the check and the write.
	if c.stale(key, token) {
		c.deleteKey(ctx, key)
		return false
	}
	return true
}

// Invalidate drops one (doctor, date) entry and fences off in-flight fills
// for it.
func (c *Cache) Invalidate(ctx context.Context, doctorID uuid.UUID, date string) {
	key := cacheKey(doctorID, date)
	c.mu.Lock()
	c.gen++
	c.keyGen[key] = tombstone{gen: c.gen, at: c.now()}
	c.mu.Unlock()
	c.deleteKey(ctx, key)
}

// InvalidateDoctor drops every cached date of one doctor.
func (c *Cache) InvalidateDoctor(ctx context.Context, doctorID uuid.UUID) {
	c.bumpAll()
	if err := c.store.DeletePrefix(ctx, keyPrefix+doctorID.String()+":"); err != nil {
		c.logger.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("cache doctor invalidation failed")
	}
}

// InvalidateAll drops every entry. Template edits use it.
func (c *Cache) InvalidateAll(ctx context.Context) {
	c.bumpAll()
	if err := c.store.DeletePrefix(ctx, keyPrefix); err != nil {
		c.logger.Warn().Err(err).Msg("cache flush failed")
	}
}

func (c *Cache) bumpAll() {
	c.mu.Lock()
	c.gen++
	c.allGen = c.gen
	c.mu.Unlock()
}

func (c *Cache) deleteKey(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cache invalidation failed")
	}
}

// Sweep forgets tombstones older than maxAge. Their generations fold into
// a floor, so fills holding a token from before them are still dropped.
func (c *Cache) Sweep(maxAge time.Duration) int {
	cutoff := c.now().Add(-maxAge)
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, t := range c.keyGen {
		if t.at.Before(cutoff) {
			if t.gen > c.floor {
				c.floor = t.gen
			}
			delete(c.keyGen, key)
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (c *Cache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Sweep(interval); n > 0 {
					c.logger.Debug().Int("tombstones", n).Msg("swept cache tombstones")
				}
			}
		}
	}()
}
