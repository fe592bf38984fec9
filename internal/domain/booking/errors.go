package booking

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrDoctorInactive         = errors.New("doctor is not accepting bookings")
	ErrInvalidSlot            = errors.New("time is not a bookable slot")
	ErrSlotTaken              = errors.New("slot already taken")
	ErrDuplicateActiveBooking = errors.New("patient already has an active booking on this date")
	ErrNotFound               = errors.New("booking not found")
	ErrAlreadyTerminal        = errors.New("booking is no longer active")
	ErrStoreUnavailable       = errors.New("booking store unavailable")
)

// errStatusMismatch is returned by Repository.TransitionStatus when the row
// exists but its status is not one of the expected ones.
var errStatusMismatch = errors.New("status mismatch")

// codes pairs every sentinel with its stable wire code and HTTP status.
var codes = []struct {
	err    error
	code   string
	status int
}{
	{ErrInvalidInput, "INVALID_INPUT", http.StatusBadRequest},
	{ErrDoctorInactive, "DOCTOR_INACTIVE", http.StatusConflict},
	{ErrInvalidSlot, "INVALID_SLOT", http.StatusUnprocessableEntity},
	{ErrSlotTaken, "SLOT_TAKEN", http.StatusConflict},
	{ErrDuplicateActiveBooking, "DUPLICATE_ACTIVE_BOOKING", http.StatusConflict},
	{ErrNotFound, "NOT_FOUND", http.StatusNotFound},
	{ErrAlreadyTerminal, "ALREADY_TERMINAL", http.StatusConflict},
	{ErrStoreUnavailable, "STORE_UNAVAILABLE", http.StatusServiceUnavailable},
}

// Code returns the stable error code for err, or "INTERNAL".
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "INTERNAL"
}

// HTTPStatus maps err to the response status.
func HTTPStatus(err error) int {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.status
		}
	}
	return http.StatusInternalServerError
}
