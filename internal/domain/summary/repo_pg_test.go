package summary

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niceverygood/maria-reservation-sub000/internal/domain/rules"
	"github.com/niceverygood/maria-reservation-sub000/internal/platform/db/pgtest"
)

func TestRepoPG(t *testing.T) {
	pool := pgtest.Start(t)
	pgtest.Truncate(t, pool)
	ctx := context.Background()
	repo := NewRepoPG(pool)

	doc := &rules.Doctor{Name: "Dr. Test", Active: true}
	require.NoError(t, rules.NewRepoPG(pool).CreateDoctor(ctx, doc))

	computed := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Upsert(ctx, []DailySlotSummary{
		{DoctorID: doc.ID, Date: "2024-05-05", TotalSlots: 12, AvailableSlots: 12, ComputedAt: computed},
		{DoctorID: doc.ID, Date: "2024-05-06", TotalSlots: 12, AvailableSlots: 10, BookedSlots: 2, ComputedAt: computed},
		{DoctorID: doc.ID, Date: "2024-05-07", IsOff: true, ComputedAt: computed},
	}))

	// A second batch overwrites in place.
	require.NoError(t, repo.Upsert(ctx, []DailySlotSummary{
		{DoctorID: doc.ID, Date: "2024-05-06", TotalSlots: 12, AvailableSlots: 9, BookedSlots: 3, ComputedAt: computed.Add(time.Hour)},
	}))

	// A batch computed from an older read does not replace the newer row.
	require.NoError(t, repo.Upsert(ctx, []DailySlotSummary{
		{DoctorID: doc.ID, Date: "2024-05-06", TotalSlots: 12, AvailableSlots: 11, BookedSlots: 1, ComputedAt: computed.Add(time.Minute)},
	}))

	rows, err := repo.List(ctx, &doc.ID, "2024-05-06", "2024-05-07")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-05-06", rows[0].Date)
	assert.Equal(t, 9, rows[0].AvailableSlots)
	assert.Equal(t, 3, rows[0].BookedSlots)
	assert.True(t, rows[1].IsOff)

	all, err := repo.List(ctx, nil, "2024-01-01", "2024-12-31")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	n, err := repo.DeleteBefore(ctx, "2024-05-06")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, repo.Upsert(ctx, nil))
}
