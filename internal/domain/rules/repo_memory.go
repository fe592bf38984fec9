package rules

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository backs STORE_BACKEND=memory and the tests.
type MemoryRepository struct {
	mu         sync.RWMutex
	doctors    map[uuid.UUID]Doctor
	templates  map[uuid.UUID]WeeklyTemplate
	exceptions map[uuid.UUID]map[string]Exception
	now        func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors:    make(map[uuid.UUID]Doctor),
		templates:  make(map[uuid.UUID]WeeklyTemplate),
		exceptions: make(map[uuid.UUID]map[string]Exception),
		now:        time.Now,
	}
}

func (r *MemoryRepository) CreateDoctor(_ context.Context, d *Doctor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = r.now()
	d.UpdatedAt = d.CreatedAt
	r.doctors[d.ID] = *d
	return nil
}

func (r *MemoryRepository) GetDoctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) ListDoctors(_ context.Context, activeOnly bool) ([]*Doctor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var items []*Doctor
	for _, d := range r.doctors {
		if activeOnly && !d.Active {
			continue
		}
		d := d
		items = append(items, &d)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Name != items[j].Name {
			return items[i].Name < items[j].Name
		}
		return items[i].ID.String() < items[j].ID.String()
	})
	return items, nil
}

func (r *MemoryRepository) SetDoctorActive(_ context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return ErrNotFound
	}
	d.Active = active
	d.UpdatedAt = r.now()
	r.doctors[id] = d
	return nil
}

func (r *MemoryRepository) CreateTemplate(_ context.Context, t *WeeklyTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.doctors[t.DoctorID]; !ok {
		return ErrNotFound
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt = r.now()
	r.templates[t.ID] = *t
	return nil
}

func (r *MemoryRepository) DeleteTemplate(_ context.Context, doctorID, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok || t.DoctorID != doctorID {
		return ErrNotFound
	}
	delete(r.templates, id)
	return nil
}

func (r *MemoryRepository) ListTemplates(_ context.Context, doctorID uuid.UUID) ([]*WeeklyTemplate, error) {
	return r.listTemplates(func(t WeeklyTemplate) bool { return t.DoctorID == doctorID }), nil
}

func (r *MemoryRepository) ListAllTemplates(_ context.Context) ([]*WeeklyTemplate, error) {
	return r.listTemplates(func(WeeklyTemplate) bool { return true }), nil
}

func (r *MemoryRepository) listTemplates(keep func(WeeklyTemplate) bool) []*WeeklyTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var items []*WeeklyTemplate
	for _, t := range r.templates {
		if keep(t) {
			t := t
			items = append(items, &t)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.DoctorID != b.DoctorID {
			return a.DoctorID.String() < b.DoctorID.String()
		}
		if a.DayOfWeek != b.DayOfWeek {
			return a.DayOfWeek < b.DayOfWeek
		}
		return a.StartTime < b.StartTime
	})
	return items
}

func (r *MemoryRepository) UpsertException(_ context.Context, e *Exception) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.doctors[e.DoctorID]; !ok {
		return ErrNotFound
	}
	byDate := r.exceptions[e.DoctorID]
	if byDate == nil {
		byDate = make(map[string]Exception)
		r.exceptions[e.DoctorID] = byDate
	}
	if prev, ok := byDate[e.Date]; ok {
		e.ID, e.CreatedAt = prev.ID, prev.CreatedAt
	} else {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.CreatedAt = r.now()
	}
	byDate[e.Date] = *e
	return nil
}

func (r *MemoryRepository) DeleteException(_ context.Context, doctorID uuid.UUID, date string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.exceptions[doctorID][date]; !ok {
		return ErrNotFound
	}
	delete(r.exceptions[doctorID], date)
	return nil
}

func (r *MemoryRepository) GetException(_ context.Context, doctorID uuid.UUID, date string) (*Exception, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.exceptions[doctorID][date]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (r *MemoryRepository) ListExceptions(_ context.Context, doctorID *uuid.UUID, start, end string) ([]*Exception, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var items []*Exception
	for id, byDate := range r.exceptions {
		if doctorID != nil && *doctorID != id {
			continue
		}
		for date, e := range byDate {
			if date >= start && date <= end {
				e := e
				items = append(items, &e)
			}
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].DoctorID != items[j].DoctorID {
			return items[i].DoctorID.String() < items[j].DoctorID.String()
		}
		return items[i].Date < items[j].Date
	})
	return items, nil
}
