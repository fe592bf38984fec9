package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niceverygood/maria-reservation-sub000/internal/platform/cache"
)

func newTestCache() *Cache {
	return NewCache(cache.NewMemoryStore(), time.Minute, zerolog.Nop(), nil)
}

var someSlots = []Slot{{Time: "09:00", Available: true}, {Time: "09:30", Available: false}}

func TestCache_PutGet(t *testing.T) {
	ctx := context.Background()
	c := newTestCache()
	doc := uuid.New()

	_, ok := c.Get(ctx, doc, monday)
	assert.False(t, ok)

	c.Put(ctx, doc, monday, someSlots, c.Token())
	got, ok := c.Get(ctx, doc, monday)
	require.True(t, ok)
	assert.Equal(t, someSlots, got)

	_, ok = c.Get(ctx, doc, "2024-05-07")
	assert.False(t, ok, "entries are per date")
}

func TestCache_InvalidateFencesInFlightFill(t *testing.T) {
	ctx := context.Background()
	c := newTestCache()
	doc := uuid.New()

	token := c.Token()
	// A booking commits while the reader is still computing.
	c.Invalidate(ctx, doc, monday)
	assert.False(t, c.Put(ctx, doc, monday, someSlots, token), "stale fill is reported")

	_, ok := c.Get(ctx, doc, monday)
	assert.False(t, ok, "a fill that started before the invalidation is dropped")

	assert.True(t, c.Put(ctx, doc, monday, someSlots, c.Token()))
	_, ok = c.Get(ctx, doc, monday)
	assert.True(t, ok, "a fill that started after it is kept")
}

func TestCache_InvalidateOnlyFencesItsKey(t *testing.T) {
	ctx := context.Background()
	c := newTestCache()
	doc := uuid.New()

	token := c.Token()
	c.Invalidate(ctx, doc, monday)
	c.Put(ctx, doc, "2024-05-07", someSlots, token)

	_, ok := c.Get(ctx, doc, "2024-05-07")
	assert.True(t, ok)
}

func TestCache_InvalidateAll(t *testing.T) {
	ctx := context.Background()
	c := newTestCache()
	a, b := uuid.New(), uuid.New()

	c.Put(ctx, a, monday, someSlots, c.Token())
	c.Put(ctx, b, monday, someSlots, c.Token())
	token := c.Token()
	c.InvalidateAll(ctx)

	_, ok := c.Get(ctx, a, monday)
	assert.False(t, ok)
	_, ok = c.Get(ctx, b, monday)
	assert.False(t, ok)

	c.Put(ctx, a, "2024-05-07", someSlots, token)
	_, ok = c.Get(ctx, a, "2024-05-07")
	assert.False(t, ok, "fills older than a full flush are dropped for every key")
}

func TestCache_InvalidateDoctor(t *testing.T) {
	ctx := context.Background()
	c := newTestCache()
	a, b := uuid.New(), uuid.New()

	c.Put(ctx, a, monday, someSlots, c.Token())
	c.Put(ctx, a, "2024-05-07", someSlots, c.Token())
	c.Put(ctx, b, monday, someSlots, c.Token())
	c.InvalidateDoctor(ctx, a)

	_, ok := c.Get(ctx, a, monday)
	assert.False(t, ok)
	_, ok = c.Get(ctx, a, "2024-05-07")
	assert.False(t, ok)
	_, ok = c.Get(ctx, b, monday)
	assert.True(t, ok)
}

func TestCache_SweepKeepsFence(t *testing.T) {
	ctx := context.Background()
	c := newTestCache()
	doc := uuid.New()
	now := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	token := c.Token()
	c.Invalidate(ctx, doc, monday)
	now = now.Add(10 * time.Minute)

	assert.Equal(t, 1, c.Sweep(time.Minute))
	assert.Empty(t, c.keyGen)

	c.Put(ctx, doc, monday, someSlots, token)
	_, ok := c.Get(ctx, doc, monday)
	assert.False(t, ok, "a swept tombstone still fences older tokens")
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection refused")
}

func (failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func (failingStore) Delete(context.Context, string) error { return errors.New("connection refused") }

func (failingStore) DeletePrefix(context.Context, string) error {
	return errors.New("connection refused")
}

func TestCache_StoreErrorsAreMisses(t *testing.T) {
	ctx := context.Background()
	c := NewCache(failingStore{}, time.Minute, zerolog.Nop(), nil)
	doc := uuid.New()

	c.Put(ctx, doc, monday, someSlots, c.Token())
	_, ok := c.Get(ctx, doc, monday)
	assert.False(t, ok)

	assert.NotPanics(t, func() {
		c.Invalidate(ctx, doc, monday)
		c.InvalidateAll(ctx)
	})
}
