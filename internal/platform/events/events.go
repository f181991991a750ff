// Package events publishes domain facts after they have been committed.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	VisitRecorded        = "visit.recorded"
	PrescriptionRecorded = "prescription.recorded"
	AppointmentCompleted = "appointment.completed"
	AppointmentCancelled = "appointment.cancelled"
	AppointmentScheduled = "appointment.scheduled"
)

// Event carries ids only. Clinical text stays in the database.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	DoctorID   string            `json:"doctor_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Refs       map[string]string `json:"refs"`
}

// New stamps an event with a fresh id and the current time.
func New(eventType string, doctorID uuid.UUID, refs map[string]string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		DoctorID:   doctorID.String(),
		OccurredAt: time.Now().UTC(),
		Refs:       refs,
	}
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher delivers events to whoever listens. Implementations must be safe
// for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, evt Event) error

func (f PublisherFunc) Publish(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Nop discards every event.
var Nop Publisher = PublisherFunc(func(context.Context, Event) error { return nil })
