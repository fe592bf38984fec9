package rules

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/niceverygood/maria-reservation-sub000/internal/platform/cache"
)

const cachePrefix = "rules:"

// CachedRepository serves the hot read path (doctor, templates, exception)
// from a cache.Store. Writes go straight to the wrapped Repository and drop
// the affected keys.
//
// A read-through fill takes a generation before it reads the wrapped
// Repository and is discarded when a write dropped its key after that, so
// a slow read cannot put back a value from before the write.
type CachedRepository struct {
	Repository
	store  cache.Store
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	gen     uint64
	floor   uint64
	dropped map[string]dropMark
}

type dropMark struct {
	gen uint64
	at  time.Time
}

func NewCachedRepository(inner Repository, store cache.Store, ttl time.Duration, logger zerolog.Logger) *CachedRepository {
	return &CachedRepository{
		Repository: inner,
		store:      store,
		ttl:        ttl,
		logger:     logger.With().Str("component", "rule-cache").Logger(),
		now:        time.Now,
		dropped:    make(map[string]dropMark),
	}
}

func doctorKey(id uuid.UUID) string          { return cachePrefix + "doc:" + id.String() }
func templatesKey(doctorID uuid.UUID) string { return cachePrefix + "tpl:" + doctorID.String() }
func exceptionKey(doctorID uuid.UUID, date string) string {
	return cachePrefix + "exc:" + doctorID.String() + ":" + date
}

// load returns true when dst was filled from the cache.
func (r *CachedRepository) load(ctx context.Context, key string, dst any) bool {
	raw, ok, err := r.store.Get(ctx, key)
	if err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("rule cache read failed")
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("rule cache entry undecodable")
		return false
	}
	return true
}

func (r *CachedRepository) token() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

func (r *CachedRepository) stale(key string, token uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.floor > token {
		return true
	}
	m, ok := r.dropped[key]
	return ok && m.gen > token
}

// save stores v read after token unless key was dropped since.
func (r *CachedRepository) save(ctx context.Context, key string, v any, token uint64) {
	if r.stale(key, token) {
		r.logger.Debug().Str("key", key).Msg("discarding rule cache fill raced by a write")
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := r.store.Set(ctx, key, raw, r.ttl); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("rule cache write failed")
		return
	}
	if r.stale(key, token) {
		r.delete(ctx, key)
	}
}

func (r *CachedRepository) drop(ctx context.Context, keys ...string) {
	now := r.now()
	r.mu.Lock()
	r.gen++
	for _, key := range keys {
		r.dropped[key] = dropMark{gen: r.gen, at: now}
	}
	// Marks older than a TTL fold into the floor; no fill runs that long.
	for key, m := range r.dropped {
		if now.Sub(m.at) > r.ttl {
			if m.gen > r.floor {
				r.floor = m.gen
			}
			delete(r.dropped, key)
		}
	}
	r.mu.Unlock()
	for _, key := range keys {
		r.delete(ctx, key)
	}
}

func (r *CachedRepository) delete(ctx context.Context, key string) {
	if err := r.store.Delete(ctx, key); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("rule cache delete failed")
	}
}

func (r *CachedRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var d Doctor
	if r.load(ctx, doctorKey(id), &d) {
		return &d, nil
	}
	token := r.token()
	got, err := r.Repository.GetDoctor(ctx, id)
	if err != nil {
		return nil, err
	}
	r.save(ctx, doctorKey(id), got, token)
	return got, nil
}

func (r *CachedRepository) SetDoctorActive(ctx context.Context, id uuid.UUID, active bool) error {
	err := r.Repository.SetDoctorActive(ctx, id, active)
	r.drop(ctx, doctorKey(id))
	return err
}

func (r *CachedRepository) ListTemplates(ctx context.Context, doctorID uuid.UUID) ([]*WeeklyTemplate, error) {
	var items []*WeeklyTemplate
	if r.load(ctx, templatesKey(doctorID), &items) {
		return items, nil
	}
	token := r.token()
	items, err := r.Repository.ListTemplates(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	r.save(ctx, templatesKey(doctorID), items, token)
	return items, nil
}

func (r *CachedRepository) CreateTemplate(ctx context.Context, t *WeeklyTemplate) error {
	err := r.Repository.CreateTemplate(ctx, t)
	r.drop(ctx, templatesKey(t.DoctorID))
	return err
}

func (r *CachedRepository) DeleteTemplate(ctx context.Context, doctorID, id uuid.UUID) error {
	err := r.Repository.DeleteTemplate(ctx, doctorID, id)
	r.drop(ctx, templatesKey(doctorID))
	return err
}

// GetException caches absence as JSON null so days without an exception
// do not hit the store on every lookup.
func (r *CachedRepository) GetException(ctx context.Context, doctorID uuid.UUID, date string) (*Exception, error) {
	key := exceptionKey(doctorID, date)
	var e *Exception
	if r.load(ctx, key, &e) {
		return e, nil
	}
	token := r.token()
	e, err := r.Repository.GetException(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	r.save(ctx, key, e, token)
	return e, nil
}

func (r *CachedRepository) UpsertException(ctx context.Context, e *Exception) error {
	err := r.Repository.UpsertException(ctx, e)
	r.drop(ctx, exceptionKey(e.DoctorID, e.Date))
	return err
}

func (r *CachedRepository) DeleteException(ctx context.Context, doctorID uuid.UUID, date string) error {
	err := r.Repository.DeleteException(ctx, doctorID, date)
	r.drop(ctx, exceptionKey(doctorID, date))
	return err
}
