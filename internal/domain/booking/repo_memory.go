package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memTxKey struct{}

// MemoryRepository is a single-process Booking Store. One mutex serializes
// writers, which gives the same one-winner-per-cell guarantee as the
// Postgres partial unique index.
type MemoryRepository struct {
	mu   sync.Mutex
	rows map[uuid.UUID]Appointment
	now  func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[uuid.UUID]Appointment), now: time.Now}
}

// lock is a no-op inside Transact, which already holds the mutex.
func (r *MemoryRepository) lock(ctx context.Context) func() {
	if owner, _ := ctx.Value(memTxKey{}).(*MemoryRepository); owner == r {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func (r *MemoryRepository) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, _ := ctx.Value(memTxKey{}).(*MemoryRepository); owner == r {
		return fn(ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make(map[uuid.UUID]Appointment, len(r.rows))
	for id, a := range r.rows {
		snapshot[id] = a
	}
	if err := fn(context.WithValue(ctx, memTxKey{}, r)); err != nil {
		r.rows = snapshot
		return err
	}
	return nil
}

func (r *MemoryRepository) Insert(ctx context.Context, a *Appointment) error {
	defer r.lock(ctx)()
	if a.Status.Active() {
		for _, row := range r.rows {
			if !row.Status.Active() || row.Date != a.Date {
				continue
			}
			if row.DoctorID == a.DoctorID && row.Time == a.Time {
				return ErrSlotTaken
			}
			if row.PatientRef == a.PatientRef {
				return ErrDuplicateActiveBooking
			}
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.ReservedAt = r.now()
	a.UpdatedAt = a.ReservedAt
	r.rows[a.ID] = *a
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	defer r.lock(ctx)()
	a, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) ListByPatient(ctx context.Context, patientRef string) ([]*Appointment, error) {
	defer r.lock(ctx)()
	items := r.filter(func(a Appointment) bool { return a.PatientRef == patientRef })
	sort.Slice(items, func(i, j int) bool {
		if items[i].Date != items[j].Date {
			return items[i].Date > items[j].Date
		}
		return items[i].Time > items[j].Time
	})
	return items, nil
}

func (r *MemoryRepository) ActiveTimes(ctx context.Context, doctorID uuid.UUID, date string) ([]string, error) {
	defer r.lock(ctx)()
	var out []string
	for _, a := range r.rows {
		if a.DoctorID == doctorID && a.Date == date && a.Status.Active() {
			out = append(out, a.Time)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *MemoryRepository) HasActiveForPatient(ctx context.Context, patientRef, date string, exclude uuid.UUID) (bool, error) {
	defer r.lock(ctx)()
	for _, a := range r.rows {
		if a.PatientRef == patientRef && a.Date == date && a.Status.Active() && a.ID != exclude {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from []Status, to Status, actor string) (*Appointment, error) {
	defer r.lock(ctx)()
	a, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	matched := false
	for _, s := range from {
		if a.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return nil, errStatusMismatch
	}
	a.Status = to
	a.UpdatedAt = r.now()
	if to == StatusCancelled && actor != "" {
		a.CancelledBy = actor
	}
	r.rows[id] = a
	return &a, nil
}

func (r *MemoryRepository) ActiveInRange(ctx context.Context, doctorID *uuid.UUID, start, end string) ([]*Appointment, error) {
	defer r.lock(ctx)()
	items := r.filter(func(a Appointment) bool {
		return a.Status.Active() && a.Date >= start && a.Date <= end &&
			(doctorID == nil || a.DoctorID == *doctorID)
	})
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.DoctorID != b.DoctorID {
			return a.DoctorID.String() < b.DoctorID.String()
		}
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		return a.Time < b.Time
	})
	return items, nil
}

func (r *MemoryRepository) CountByStatus(ctx context.Context, doctorID *uuid.UUID, start, end string) (map[string]map[Status]int, error) {
	defer r.lock(ctx)()
	out := make(map[string]map[Status]int)
	for _, a := range r.rows {
		if a.Date < start || a.Date > end || (doctorID != nil && a.DoctorID != *doctorID) {
			continue
		}
		if out[a.Date] == nil {
			out[a.Date] = make(map[Status]int)
		}
		out[a.Date][a.Status]++
	}
	return out, nil
}

func (r *MemoryRepository) filter(keep func(Appointment) bool) []*Appointment {
	var items []*Appointment
	for _, a := range r.rows {
		if keep(a) {
			a := a
			items = append(items, &a)
		}
	}
	return items
}
