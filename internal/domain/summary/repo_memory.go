package summary

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[cellKey]DailySlotSummary
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[cellKey]DailySlotSummary)}
}

func (r *MemoryRepository) Upsert(_ context.Context, rows []DailySlotSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range rows {
		k := cellKey{s.DoctorID, s.Date}
		// A row computed from an older read never replaces a newer one.
		if cur, ok := r.rows[k]; ok && cur.ComputedAt.After(s.ComputedAt) {
			continue
		}
		r.rows[k] = s
	}
	return nil
}

func (r *MemoryRepository) List(_ context.Context, doctorID *uuid.UUID, start, end string) ([]DailySlotSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var items []DailySlotSummary
	for k, s := range r.rows {
		if k.date < start || k.date > end || (doctorID != nil && k.doctorID != *doctorID) {
			continue
		}
		items = append(items, s)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Date != items[j].Date {
			return items[i].Date < items[j].Date
		}
		return items[i].DoctorID.String() < items[j].DoctorID.String()
	})
	return items, nil
}

func (r *MemoryRepository) DeleteBefore(_ context.Context, date string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k := range r.rows {
		if k.date < date {
			delete(r.rows, k)
			n++
		}
	}
	return n, nil
}
