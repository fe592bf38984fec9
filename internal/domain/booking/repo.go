package booking

import (
	"context"

	"github.com/google/uuid"
)

// Repository is the Booking Store. Its one hard guarantee: at most one
// active appointment per (doctor, date, time), enforced at write time.
type Repository interface {
	// Transact runs fn atomically. Calls made with the ctx handed to fn
	// join the transaction; an error from fn rolls everything back.
	Transact(ctx context.Context, fn func(ctx context.Context) error) error

	// Insert returns ErrSlotTaken or ErrDuplicateActiveBooking when the
	// write would break a uniqueness rule.
	Insert(ctx context.Context, a *Appointment) error
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByPatient(ctx context.Context, patientRef string) ([]*Appointment, error)

	ActiveTimes(ctx context.Context, doctorID uuid.UUID, date string) ([]string, error)
	HasActiveForPatient(ctx context.Context, patientRef, date string, exclude uuid.UUID) (bool, error)

	// TransitionStatus moves the appointment to status `to` only if its
	// current status is one of from. It returns ErrNotFound for an unknown
	// id and errStatusMismatch when the status did not match.
	TransitionStatus(ctx context.Context, id uuid.UUID, from []Status, to Status, actor string) (*Appointment, error)

	ActiveInRange(ctx context.Context, doctorID *uuid.UUID, start, end string) ([]*Appointment, error)
	// CountByStatus groups appointments by date and status.
	CountByStatus(ctx context.Context, doctorID *uuid.UUID, start, end string) (map[string]map[Status]int, error)
}
