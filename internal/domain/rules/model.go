package rules

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidRule = errors.New("invalid rule")
)

type Doctor struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (d *Doctor) Validate() error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	return nil
}

// WeeklyTemplate is a recurring block of bookable time on one weekday.
// Several templates on the same weekday are unioned.
type WeeklyTemplate struct {
	ID              uuid.UUID `json:"id"`
	DoctorID        uuid.UUID `json:"doctorId"`
	DayOfWeek       int       `json:"dayOfWeek"` // 0 = Sunday
	StartTime       string    `json:"startTime"`
	EndTime         string    `json:"endTime"`
	IntervalMinutes int       `json:"intervalMinutes"`
	DailyMax        *int      `json:"dailyMax,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

func (t *WeeklyTemplate) Validate() error {
	if t.DayOfWeek < 0 || t.DayOfWeek > 6 {
		return fmt.Errorf("%w: dayOfWeek must be 0-6", ErrInvalidRule)
	}
	return validateWindow(t.StartTime, t.EndTime, t.IntervalMinutes, t.DailyMax)
}

type ExceptionType string

const (
	ExceptionOff    ExceptionType = "OFF"
	ExceptionCustom ExceptionType = "CUSTOM"
)

// Exception overrides the templates for one date. OFF closes the day;
// CUSTOM replaces the template union with its own window.
type Exception struct {
	ID             uuid.UUID     `json:"id"`
	DoctorID       uuid.UUID     `json:"doctorId"`
	Date           string        `json:"date"`
	Type           ExceptionType `json:"type"`
	CustomStart    string        `json:"customStart,omitempty"`
	CustomEnd      string        `json:"customEnd,omitempty"`
	CustomInterval int           `json:"customInterval,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
}

func (e *Exception) Validate() error {
	if _, err := ParseDate(e.Date, time.UTC); err != nil {
		return err
	}
	switch e.Type {
	case ExceptionOff:
		e.CustomStart, e.CustomEnd, e.CustomInterval = "", "", 0
		return nil
	case ExceptionCustom:
		return validateWindow(e.CustomStart, e.CustomEnd, e.CustomInterval, nil)
	default:
		return fmt.Errorf("%w: exception type must be OFF or CUSTOM", ErrInvalidRule)
	}
}

func validateWindow(start, end string, interval int, dailyMax *int) error {
	s, err := ParseClock(start)
	if err != nil {
		return err
	}
	e, err := ParseClock(end)
	if err != nil {
		return err
	}
	if s >= e {
		return fmt.Errorf("%w: start %s must be before end %s", ErrInvalidRule, start, end)
	}
	if interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidRule)
	}
	if dailyMax != nil && *dailyMax <= 0 {
		return fmt.Errorf("%w: dailyMax must be positive", ErrInvalidRule)
	}
	return nil
}
