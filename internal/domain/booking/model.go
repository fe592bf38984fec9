package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/niceverygood/maria-reservation-sub000/internal/domain/rules"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusBooked    Status = "BOOKED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusRejected  Status = "REJECTED"
	StatusNoShow    Status = "NO_SHOW"
)

// ActiveStatuses occupy their slot.
var ActiveStatuses = []Status{StatusPending, StatusBooked}

var AllStatuses = []Status{StatusPending, StatusBooked, StatusCompleted, StatusCancelled, StatusRejected, StatusNoShow}

func (s Status) Active() bool {
	return s == StatusPending || s == StatusBooked
}

func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// transitions lists the administrative status changes. Active statuses can
// also move to CANCELLED through CancelBooking.
var transitions = map[Status][]Status{
	StatusPending: {StatusBooked, StatusRejected, StatusCancelled},
	StatusBooked:  {StatusCompleted, StatusNoShow, StatusCancelled},
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Appointment struct {
	ID              uuid.UUID  `json:"id"`
	DoctorID        uuid.UUID  `json:"doctorId"`
	PatientRef      string     `json:"patientRef"`
	Date            string     `json:"date"`
	Time            string     `json:"time"`
	Status          Status     `json:"status"`
	ReservedAt      time.Time  `json:"reservedAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	CancelledBy     string     `json:"cancelledBy,omitempty"`
	RescheduledFrom *uuid.UUID `json:"rescheduledFrom,omitempty"`
}

type CreateRequest struct {
	DoctorID   uuid.UUID `json:"doctorId"`
	Date       string    `json:"date"`
	Time       string    `json:"time"`
	PatientRef string    `json:"patientRef"`
}

// Validate checks the request shape without touching any store.
func (r *CreateRequest) Validate() error {
	r.PatientRef = strings.TrimSpace(r.PatientRef)
	if r.DoctorID == uuid.Nil {
		return fmt.Errorf("%w: doctorId is required", ErrInvalidInput)
	}
	if r.PatientRef == "" {
		return fmt.Errorf("%w: patientRef is required", ErrInvalidInput)
	}
	return validateCell(r.Date, r.Time)
}

func validateCell(date, t string) error {
	if _, err := rules.ParseDate(date, time.UTC); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)
	}
	if _, err := rules.ParseClock(t); err != nil {
		return fmt.Errorf("%w: time must be HH:MM", ErrInvalidInput)
	}
	return nil
}
