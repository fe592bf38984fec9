// Package summary precomputes per-(doctor, date) slot counts for calendar
// views. Summaries are derived data: they can be deleted and rebuilt at any
// time and never decide whether a booking succeeds.
package summary

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidRange   = errors.New("invalid date range")
	ErrDoctorNotFound = errors.New("doctor not found")
)

// MaxCalendarDays bounds one CalendarCounts query.
const MaxCalendarDays = 62

type DailySlotSummary struct {
	DoctorID       uuid.UUID `json:"doctorId"`
	Date           string    `json:"date"`
	TotalSlots     int       `json:"totalSlots"`
	AvailableSlots int       `json:"availableSlots"`
	BookedSlots    int       `json:"bookedSlots"`
	IsOff          bool      `json:"isOff"`
	ComputedAt     time.Time `json:"computedAt"`
}

// Result reports a rebuild. Errors lists rule rows that could not be used;
// the affected cells are still written from the remaining rules.
type Result struct {
	Updated int      `json:"updated"`
	Errors  []string `json:"errors,omitempty"`
}

type DayCounts struct {
	Available int            `json:"available"`
	Total     int            `json:"total"`
	ByStatus  map[string]int `json:"byStatus"`
}

type CalendarQuery struct {
	DoctorID *uuid.UUID
	Start    string
	End      string
}

type cellKey struct {
	doctorID uuid.UUID
	date     string
}
