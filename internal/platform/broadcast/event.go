// Package broadcast publishes booking change events to live subscribers.
// Delivery is best effort: consumers must still poll for authoritative state.
package broadcast

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventNewBooking    EventType = "NEW_BOOKING"
	EventCancelled     EventType = "CANCELLED"
	EventStatusChanged EventType = "STATUS_CHANGED"
	EventRescheduled   EventType = "RESCHEDULED"
)

// TopicAll receives every event. Per-doctor topics are "doctor:<uuid>".
const TopicAll = "bookings"

const doctorTopicPrefix = "doctor:"

type Event struct {
	Type         EventType `json:"type"`
	DoctorID     string    `json:"doctorId"`
	Date         string    `json:"date"`
	Time         string    `json:"time"`
	BookingID    string    `json:"bookingId"`
	Status       string    `json:"status,omitempty"`
	PreviousDate string    `json:"previousDate,omitempty"`
	PreviousTime string    `json:"previousTime,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}

func DoctorTopic(doctorID string) string {
	return doctorTopicPrefix + doctorID
}

// Topics lists the topics an event is delivered to.
func (e Event) Topics() []string {
	return []string{TopicAll, DoctorTopic(e.DoctorID)}
}

// ValidTopic accepts TopicAll and doctor topics carrying a well-formed UUID.
func ValidTopic(topic string) bool {
	if topic == TopicAll {
		return true
	}
	id, ok := strings.CutPrefix(topic, doctorTopicPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
