package booking

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niceverygood/maria-reservation-sub000/internal/domain/rules"
	"github.com/niceverygood/maria-reservation-sub000/internal/platform/db/pgtest"
)

func TestRepoPG(t *testing.T) {
	pool := pgtest.Start(t)
	ctx := context.Background()
	repo := NewRepoPG(pool)
	rulesRepo := rules.NewRepoPG(pool)

	newDoctor := func(t *testing.T) uuid.UUID {
		t.Helper()
		d := &rules.Doctor{Name: "Dr. Test", Active: true}
		require.NoError(t, rulesRepo.CreateDoctor(ctx, d))
		return d.ID
	}

	t.Run("partial unique index admits one active booking per cell", func(t *testing.T) {
		pgtest.Truncate(t, pool)
		doc := newDoctor(t)

		const n = 12
		var wg sync.WaitGroup
		errs := make([]error, n)
		start := make(chan struct{})
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				errs[i] = repo.Insert(ctx, &Appointment{
					DoctorID: doc, PatientRef: uuid.NewString(),
					Date: "2024-05-06", Time: "10:00", Status: StatusBooked,
				})
			}(i)
		}
		close(start)
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, ErrSlotTaken)
		}
		assert.Equal(t, 1, wins)
	})

	t.Run("patient index maps to duplicate booking", func(t *testing.T) {
		pgtest.Truncate(t, pool)
		doc := newDoctor(t)
		require.NoError(t, repo.Insert(ctx, &Appointment{DoctorID: doc, PatientRef: "p1", Date: "2024-05-06", Time: "10:00", Status: StatusBooked}))

		err := repo.Insert(ctx, &Appointment{DoctorID: doc, PatientRef: "p1", Date: "2024-05-06", Time: "11:00", Status: StatusPending})
		assert.ErrorIs(t, err, ErrDuplicateActiveBooking)
	})

	t.Run("transition and cancelled rows free the cell", func(t *testing.T) {
		pgtest.Truncate(t, pool)
		doc := newDoctor(t)
		a := &Appointment{DoctorID: doc, PatientRef: "p1", Date: "2024-05-06", Time: "10:00", Status: StatusBooked}
		require.NoError(t, repo.Insert(ctx, a))

		got, err := repo.TransitionStatus(ctx, a.ID, ActiveStatuses, StatusCancelled, "p1")
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
		assert.Equal(t, "p1", got.CancelledBy)
		assert.Equal(t, "2024-05-06", got.Date)

		_, err = repo.TransitionStatus(ctx, a.ID, ActiveStatuses, StatusCancelled, "p1")
		assert.ErrorIs(t, err, errStatusMismatch)
		_, err = repo.TransitionStatus(ctx, uuid.New(), ActiveStatuses, StatusCancelled, "p1")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, repo.Insert(ctx, &Appointment{DoctorID: doc, PatientRef: "p2", Date: "2024-05-06", Time: "10:00", Status: StatusBooked}))
		times, err := repo.ActiveTimes(ctx, doc, "2024-05-06")
		require.NoError(t, err)
		assert.Equal(t, []string{"10:00"}, times)

		counts, err := repo.CountByStatus(ctx, &doc, "2024-05-01", "2024-05-31")
		require.NoError(t, err)
		assert.Equal(t, map[Status]int{StatusCancelled: 1, StatusBooked: 1}, counts["2024-05-06"])
	})

	t.Run("failed transaction rolls back", func(t *testing.T) {
		pgtest.Truncate(t, pool)
		doc := newDoctor(t)
		a := &Appointment{DoctorID: doc, PatientRef: "p1", Date: "2024-05-06", Time: "10:00", Status: StatusBooked}
		require.NoError(t, repo.Insert(ctx, a))
		require.NoError(t, repo.Insert(ctx, &Appointment{DoctorID: doc, PatientRef: "p2", Date: "2024-05-06", Time: "11:00", Status: StatusBooked}))

		err := repo.Transact(ctx, func(ctx context.Context) error {
			if _, err := repo.TransitionStatus(ctx, a.ID, ActiveStatuses, StatusCancelled, "p1"); err != nil {
				return err
			}
			return repo.Insert(ctx, &Appointment{DoctorID: doc, PatientRef: "p1", Date: "2024-05-06", Time: "11:00", Status: StatusBooked})
		})
		require.ErrorIs(t, err, ErrSlotTaken)

		got, err := repo.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusBooked, got.Status)
	})
}
