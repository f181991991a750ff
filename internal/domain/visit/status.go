package visit

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/docassist/clinic/internal/platform/events"
)

// StatusMachine moves appointments out of scheduled. The check and the write
// are one conditional UPDATE, so of two racing transitions exactly one
// matches a row.
type StatusMachine struct {
	store  Store
	pub    events.Publisher
	logger zerolog.Logger
}

func NewStatusMachine(store Store, pub events.Publisher, logger zerolog.Logger) *StatusMachine {
	return &StatusMachine{store: store, pub: pub, logger: logger}
}

// Transition fails with ErrNoSuchTransition when the appointment is missing,
// belongs to another doctor, or is no longer scheduled.
func (m *StatusMachine) Transition(ctx context.Context, doctorID, appointmentID uuid.UUID, target Status) error {
	if !target.Terminal() {
		return invalid("cannot transition to %q", target)
	}
	if doctorID == uuid.Nil || appointmentID == uuid.Nil {
		return invalid("doctor and appointment ids are required")
	}

	n, err := m.store.TransitionStatus(ctx, appointmentID, doctorID, StatusScheduled, target)
	if err != nil {
		return classify("transition status", err)
	}
	if n == 0 {
		return ErrNoSuchTransition
	}

	evtType := events.AppointmentCompleted
	if target == StatusCancelled {
		evtType = events.AppointmentCancelled
	}
	publish(ctx, m.pub, m.logger, events.New(evtType, doctorID, map[string]string{
		"appointment_id": appointmentID.String(),
	}))
	return nil
}

func (m *StatusMachine) Complete(ctx context.Context, doctorID, appointmentID uuid.UUID) error {
	return m.Transition(ctx, doctorID, appointmentID, StatusCompleted)
}

func (m *StatusMachine) Cancel(ctx context.Context, doctorID, appointmentID uuid.UUID) error {
	return m.Transition(ctx, doctorID, appointmentID, StatusCancelled)
}

// publish runs after commit. A failed publish is logged and never undoes
// the committed write.
func publish(ctx context.Context, pub events.Publisher, logger zerolog.Logger, evt events.Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, evt); err != nil {
		logger.Warn().Err(err).Str("event", evt.Type).Str("event_id", evt.ID).Msg("event publish failed")
	}
}
