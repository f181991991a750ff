package visit

import "github.com/google/uuid"

// ConsistencyGuard checks that the acting doctor owns the appointment a
// prescription is being attached to.
type ConsistencyGuard struct{}

func (ConsistencyGuard) CheckOwnership(appt *Appointment, doctorID uuid.UUID) error {
	if appt == nil {
		return ErrNotFound
	}
	if appt.DoctorID != doctorID {
		return ErrUnauthorized
	}
	return nil
}
