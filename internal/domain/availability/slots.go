// Package availability turns a doctor's weekly templates, date exceptions
// and existing bookings into the bookable slots of one day, and caches the
// result per (doctor, date).
package availability

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/niceverygood/maria-reservation-sub000/internal/domain/rules"
)

type Slot struct {
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

// Input is everything ComputeSlots needs for one (doctor, date) cell.
type Input struct {
	DoctorID  uuid.UUID
	Date      string
	Templates []*rules.WeeklyTemplate
	Exception *rules.Exception
	// Booked holds the times of active bookings on Date.
	Booked []string
	// BookedCount is the number of active bookings on Date. It is compared
	// against the daily cap; values below len(Booked) are ignored.
	BookedCount int
	Now         time.Time
	LeadTime    time.Duration
	Location    *time.Location
}

// ComputeSlots is pure: identical inputs give identical output. It never
// fails. Malformed rule rows contribute no slots.
//
// Precedence is OFF, then CUSTOM, then the union of every template whose
// weekday matches the date. There is no merging between the three.
func ComputeSlots(in Input) []Slot {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	day, err := rules.ParseDate(in.Date, loc)
	if err != nil {
		return []Slot{}
	}

	var (
		grid     []int
		dailyCap int
	)
	switch {
	case in.Exception != nil && in.Exception.Type == rules.ExceptionOff:
		return []Slot{}
	case in.Exception != nil && in.Exception.Type == rules.ExceptionCustom:
		grid = window(in.Exception.CustomStart, in.Exception.CustomEnd, in.Exception.CustomInterval)
	default:
		grid, dailyCap = templateGrid(in.Templates, in.DoctorID, day.Weekday())
	}
	grid = dedupe(grid)

	booked := make(map[string]bool, len(in.Booked))
	for _, t := range in.Booked {
		booked[t] = true
	}
	full := false
	if dailyCap > 0 {
		n := in.BookedCount
		if len(in.Booked) > n {
			n = len(in.Booked)
		}
		full = n >= dailyCap
	}

	slots := make([]Slot, len(grid))
	for i, m := range grid {
		t := rules.FormatClock(m)
		slots[i] = Slot{Time: t, Available: !full && !booked[t]}
	}
	applyCutoff(slots, day, in.Now, in.LeadTime, loc)
	return slots
}

// templateGrid unions the grids of the templates running on weekday. The
// daily cap is the sum of the templates' caps, or 0 (uncapped) when any
// matching template has none.
func templateGrid(templates []*rules.WeeklyTemplate, doctorID uuid.UUID, weekday time.Weekday) ([]int, int) {
	var (
		grid    []int
		capSum  int
		matched int
		capped  = true
	)
	for _, t := range templates {
		if t == nil || t.DayOfWeek != int(weekday) {
			continue
		}
		if doctorID != uuid.Nil && t.DoctorID != doctorID {
			continue
		}
		g := window(t.StartTime, t.EndTime, t.IntervalMinutes)
		if len(g) == 0 {
			continue
		}
		matched++
		grid = append(grid, g...)
		if t.DailyMax == nil || *t.DailyMax <= 0 {
			capped = false
		} else {
			capSum += *t.DailyMax
		}
	}
	if matched == 0 || !capped {
		return grid, 0
	}
	return grid, capSum
}

// window lists start, start+interval, ... while strictly before end.
func window(start, end string, interval int) []int {
	s, err := rules.ParseClock(start)
	if err != nil {
		return nil
	}
	e, err := rules.ParseClock(end)
	if err != nil || s >= e || interval <= 0 {
		return nil
	}
	var out []int
	for m := s; m < e; m += interval {
		out = append(out, m)
	}
	return out
}

func dedupe(grid []int) []int {
	sort.Ints(grid)
	out := grid[:0]
	for _, m := range grid {
		if len(out) == 0 || out[len(out)-1] != m {
			out = append(out, m)
		}
	}
	return out
}

// applyCutoff marks slots that can no longer be booked at now: every slot
// of a past date, and slots of today starting before now+lead. A slot
// exactly lead ahead stays bookable.
func applyCutoff(slots []Slot, day, now time.Time, lead time.Duration, loc *time.Location) {
	if now.IsZero() {
		return
	}
	today := now.In(loc).Format(rules.DateLayout)
	date := day.Format(rules.DateLayout)
	switch {
	case date < today:
		for i := range slots {
			slots[i].Available = false
		}
	case date == today:
		threshold := now.Add(lead)
		for i := range slots {
			if !slots[i].Available {
				continue
			}
			m, err := rules.ParseClock(slots[i].Time)
			if err != nil {
				slots[i].Available = false
				continue
			}
			at := time.Date(day.Year(), day.Month(), day.Day(), m/60, m%60, 0, 0, loc)
			if at.Before(threshold) {
				slots[i].Available = false
			}
		}
	}
}

// ApplyCutoff returns a copy of slots with the past and lead-time rules
// re-evaluated at now. Cached slot lists go through it on every read.
func ApplyCutoff(slots []Slot, date string, now time.Time, lead time.Duration, loc *time.Location) []Slot {
	if loc == nil {
		loc = time.UTC
	}
	out := make([]Slot, len(slots))
	copy(out, slots)
	day, err := rules.ParseDate(date, loc)
	if err != nil {
		return out
	}
	applyCutoff(out, day, now, lead, loc)
	return out
}

// OnGrid reports whether t is one of the day's slot times.
func OnGrid(slots []Slot, t string) bool {
	_, ok := find(slots, t)
	return ok
}

// Lookup returns the slot at time t.
func Lookup(slots []Slot, t string) (Slot, bool) {
	return find(slots, t)
}

func find(slots []Slot, t string) (Slot, bool) {
	i := sort.Search(len(slots), func(i int) bool { return slots[i].Time >= t })
	if i < len(slots) && slots[i].Time == t {
		return slots[i], true
	}
	return Slot{}, false
}

// FirstAvailable returns the earliest bookable time.
func FirstAvailable(slots []Slot) (string, bool) {
	for _, s := range slots {
		if s.Available {
			return s.Time, true
		}
	}
	return "", false
}

// Count tallies a day's grid. bookedOnGrid counts the booked times that
// fall on the grid; bookings left behind by a rule change are not counted.
func Count(slots []Slot, booked []string) (total, available, bookedOnGrid int) {
	total = len(slots)
	for _, s := range slots {
		if s.Available {
			available++
		}
	}
	seen := make(map[string]bool, len(booked))
	for _, t := range booked {
		if !seen[t] && OnGrid(slots, t) {
			bookedOnGrid++
		}
		seen[t] = true
	}
	return total, available, bookedOnGrid
}
