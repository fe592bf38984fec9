package rules

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niceverygood/maria-reservation-sub000/internal/platform/cache"
)

func seedDoctor(t *testing.T, repo Repository, active bool) *Doctor {
	t.Helper()
	d := &Doctor{Name: "Dr. " + uuid.NewString()[:8], Active: active}
	require.NoError(t, repo.CreateDoctor(context.Background(), d))
	return d
}

func TestMemoryRepository_Exceptions(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	d := seedDoctor(t, repo, true)

	got, err := repo.GetException(ctx, d.ID, "2024-05-01")
	require.NoError(t, err)
	assert.Nil(t, got, "no exception yet")

	first := &Exception{DoctorID: d.ID, Date: "2024-05-01", Type: ExceptionOff}
	require.NoError(t, repo.UpsertException(ctx, first))

	second := &Exception{DoctorID: d.ID, Date: "2024-05-01", Type: ExceptionCustom, CustomStart: "09:00", CustomEnd: "10:00", CustomInterval: 30}
	require.NoError(t, repo.UpsertException(ctx, second))
	assert.Equal(t, first.ID, second.ID, "upsert keeps one row per doctor and date")

	got, err = repo.GetException(ctx, d.ID, "2024-05-01")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ExceptionCustom, got.Type)

	require.NoError(t, repo.UpsertException(ctx, &Exception{DoctorID: d.ID, Date: "2024-05-09", Type: ExceptionOff}))
	items, err := repo.ListExceptions(ctx, nil, "2024-05-01", "2024-05-05")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	require.NoError(t, repo.DeleteException(ctx, d.ID, "2024-05-01"))
	assert.ErrorIs(t, repo.DeleteException(ctx, d.ID, "2024-05-01"), ErrNotFound)

	err = repo.UpsertException(ctx, &Exception{DoctorID: uuid.New(), Date: "2024-05-01", Type: ExceptionOff})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepository_Templates(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	a := seedDoctor(t, repo, true)
	b := seedDoctor(t, repo, true)

	require.NoError(t, repo.CreateTemplate(ctx, &WeeklyTemplate{DoctorID: a.ID, DayOfWeek: 1, StartTime: "14:00", EndTime: "16:00", IntervalMinutes: 30}))
	require.NoError(t, repo.CreateTemplate(ctx, &WeeklyTemplate{DoctorID: a.ID, DayOfWeek: 1, StartTime: "09:00", EndTime: "12:00", IntervalMinutes: 15}))
	tpl := &WeeklyTemplate{DoctorID: b.ID, DayOfWeek: 2, StartTime: "09:00", EndTime: "12:00", IntervalMinutes: 15}
	require.NoError(t, repo.CreateTemplate(ctx, tpl))

	items, err := repo.ListTemplates(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "09:00", items[0].StartTime)

	all, err := repo.ListAllTemplates(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	assert.ErrorIs(t, repo.DeleteTemplate(ctx, a.ID, tpl.ID), ErrNotFound, "template belongs to another doctor")
	require.NoError(t, repo.DeleteTemplate(ctx, b.ID, tpl.ID))
}

func TestMemoryRepository_ListDoctorsActiveOnly(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	active := seedDoctor(t, repo, true)
	seedDoctor(t, repo, false)

	items, err := repo.ListDoctors(ctx, true)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, active.ID, items[0].ID)

	items, err = repo.ListDoctors(ctx, false)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

// countingRepo counts reads that reach the underlying store.
type countingRepo struct {
	Repository
	doctorReads, templateReads, exceptionReads int
}

func (r *countingRepo) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	r.doctorReads++
	return r.Repository.GetDoctor(ctx, id)
}

func (r *countingRepo) ListTemplates(ctx context.Context, id uuid.UUID) ([]*WeeklyTemplate, error) {
	r.templateReads++
	return r.Repository.ListTemplates(ctx, id)
}

func (r *countingRepo) GetException(ctx context.Context, id uuid.UUID, date string) (*Exception, error) {
	r.exceptionReads++
	return r.Repository.GetException(ctx, id, date)
}

func TestCachedRepository(t *testing.T) {
	ctx := context.Background()
	inner := &countingRepo{Repository: NewMemoryRepository()}
	repo := NewCachedRepository(inner, cache.NewMemoryStore(), time.Minute, zerolog.Nop())
	d := seedDoctor(t, repo, true)

	for i := 0; i < 3; i++ {
		got, err := repo.GetDoctor(ctx, d.ID)
		require.NoError(t, err)
		assert.True(t, got.Active)
	}
	assert.Equal(t, 1, inner.doctorReads)

	require.NoError(t, repo.SetDoctorActive(ctx, d.ID, false))
	got, err := repo.GetDoctor(ctx, d.ID)
	require.NoError(t, err)
	assert.False(t, got.Active, "write drops the cached doctor")

	_, err = repo.GetDoctor(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	// Absence of an exception is cached too.
	for i := 0; i < 3; i++ {
		e, err := repo.GetException(ctx, d.ID, "2024-05-01")
		require.NoError(t, err)
		assert.Nil(t, e)
	}
	assert.Equal(t, 1, inner.exceptionReads)

	require.NoError(t, repo.UpsertException(ctx, &Exception{DoctorID: d.ID, Date: "2024-05-01", Type: ExceptionOff}))
	e, err := repo.GetException(ctx, d.ID, "2024-05-01")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, ExceptionOff, e.Type)

	items, err := repo.ListTemplates(ctx, d.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
	require.NoError(t, repo.CreateTemplate(ctx, &WeeklyTemplate{DoctorID: d.ID, DayOfWeek: 1, StartTime: "09:00", EndTime: "12:00", IntervalMinutes: 15}))
	items, err = repo.ListTemplates(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 2, inner.templateReads)
}

// pausedRepo reads an exception, reports it on read and waits on gate
// before returning it.
type pausedRepo struct {
	Repository
	read chan struct{}
	gate chan struct{}
}

func (r *pausedRepo) GetException(ctx context.Context, id uuid.UUID, date string) (*Exception, error) {
	e, err := r.Repository.GetException(ctx, id, date)
	close(r.read)
	<-r.gate
	return e, err
}

func TestCachedRepository_FillRacedByWriteIsDiscarded(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryRepository()
	d := seedDoctor(t, inner, true)
	paused := &pausedRepo{Repository: inner, read: make(chan struct{}), gate: make(chan struct{})}
	repo := NewCachedRepository(paused, cache.NewMemoryStore(), time.Minute, zerolog.Nop())

	done := make(chan *Exception, 1)
	go func() {
		e, err := repo.GetException(ctx, d.ID, "2024-05-01")
		assert.NoError(t, err)
		done <- e
	}()
	select {
	case <-paused.read:
	case <-time.After(5 * time.Second):
		t.Fatal("read never reached the store")
	}

	// The day is marked off while the read above still holds "no exception".
	require.NoError(t, repo.UpsertException(ctx, &Exception{DoctorID: d.ID, Date: "2024-05-01", Type: ExceptionOff}))
	close(paused.gate)
	assert.Nil(t, <-done, "the racing read itself saw the old state")

	// The next read goes to the store again instead of a cached null.
	paused.read = make(chan struct{})
	e, err := repo.GetException(ctx, d.ID, "2024-05-01")
	require.NoError(t, err)
	require.NotNil(t, e, "the stale absence was not cached")
	assert.Equal(t, ExceptionOff, e.Type)
}
