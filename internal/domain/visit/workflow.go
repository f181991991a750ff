package visit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/docassist/clinic/internal/platform/events"
)

// Workflow records a visit as one unit: appointment, diagnosis, catalog
// entries, prescription and its lines commit together or not at all.
type Workflow struct {
	store  Store
	diag   DiagnosisResolver
	writer PrescriptionWriter
	guard  ConsistencyGuard
	pub    events.Publisher
	logger zerolog.Logger
	now    func() time.Time
}

func NewWorkflow(store Store, pub events.Publisher, logger zerolog.Logger) *Workflow {
	if pub == nil {
		pub = events.Nop
	}
	return &Workflow{
		store:  store,
		pub:    pub,
		logger: logger,
		now:    time.Now,
	}
}

// submission is what both entry points reduce to. A nil appointmentID means
// a walk-in visit that creates its own appointment.
type submission struct {
	doctorID      uuid.UUID
	patientID     uuid.UUID
	appointmentID *uuid.UUID
	diagnosisText string
	instructions  *string
	lines         []MedicationLine
}

func (s submission) validate() error {
	if s.doctorID == uuid.Nil {
		return invalid("doctor id is required")
	}
	if s.appointmentID != nil {
		if *s.appointmentID == uuid.Nil {
			return invalid("appointment id is required")
		}
	} else if s.patientID == uuid.Nil {
		return invalid("patient id is required")
	}
	if s.diagnosisText == "" {
		return invalid("diagnosis text is required")
	}
	if len(s.lines) == 0 {
		return invalid("at least one medication is required")
	}
	for i, l := range s.lines {
		if l.MedicineName == "" {
			return invalid("medications[%d]: medicine name is required", i)
		}
	}
	return nil
}

// CreateVisit creates a scheduled appointment for now and attaches a
// prescription to it.
func (w *Workflow) CreateVisit(ctx context.Context, req VisitRequest) (VisitResult, error) {
	appt, pres, err := w.run(ctx, submission{
		doctorID:      req.DoctorID,
		patientID:     req.PatientID,
		diagnosisText: req.DiagnosisText,
		instructions:  req.Instructions,
		lines:         req.Medications,
	})
	if err != nil {
		return VisitResult{}, err
	}

	publish(ctx, w.pub, w.logger, events.New(events.VisitRecorded, req.DoctorID, map[string]string{
		"appointment_id":  appt.String(),
		"prescription_id": pres.String(),
	}))
	return VisitResult{AppointmentID: appt, PrescriptionID: pres.UUID()}, nil
}

// CreatePrescriptionForAppointment attaches a prescription to an appointment
// the doctor already owns.
func (w *Workflow) CreatePrescriptionForAppointment(ctx context.Context, req PrescriptionRequest) (PrescriptionID, error) {
	apptID := req.AppointmentID
	appt, pres, err := w.run(ctx, submission{
		doctorID:      req.DoctorID,
		appointmentID: &apptID,
		diagnosisText: req.DiagnosisText,
		instructions:  req.Instructions,
		lines:         req.Medications,
	})
	if err != nil {
		return PrescriptionID{}, err
	}

	publish(ctx, w.pub, w.logger, events.New(events.PrescriptionRecorded, req.DoctorID, map[string]string{
		"appointment_id":  appt.String(),
		"prescription_id": pres.String(),
	}))
	return pres, nil
}

func (w *Workflow) run(ctx context.Context, s submission) (apptID uuid.UUID, presID PrescriptionID, err error) {
	if err := s.validate(); err != nil {
		return uuid.Nil, PrescriptionID{}, err
	}

	tx, err := w.store.Begin(ctx)
	if err != nil {
		return uuid.Nil, PrescriptionID{}, classify("begin", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		// Also reached while panicking, so the connection goes back to the pool.
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			w.logger.Error().Err(rbErr).Msg("visit rollback failed")
		}
		if err != nil {
			w.logger.Warn().Err(err).
				Str("doctor_id", s.doctorID.String()).
				Msg("visit not recorded")
			apptID, presID = uuid.Nil, PrescriptionID{}
		}
	}()

	patientID := s.patientID
	if s.appointmentID != nil {
		appt, err := tx.GetAppointment(ctx, *s.appointmentID)
		if err != nil {
			return uuid.Nil, PrescriptionID{}, classify("load appointment", err)
		}
		if err := w.guard.CheckOwnership(appt, s.doctorID); err != nil {
			return uuid.Nil, PrescriptionID{}, err
		}
		apptID, patientID = appt.ID, appt.PatientID
	} else {
		apptID, err = w.openAppointment(ctx, tx, s.doctorID, patientID)
		if err != nil {
			return uuid.Nil, PrescriptionID{}, err
		}
	}

	diagID, err := w.diag.ResolveOrCreate(ctx, tx, patientID, s.doctorID, s.diagnosisText)
	if err != nil {
		return uuid.Nil, PrescriptionID{}, classify("resolve diagnosis", err)
	}

	presID, err = w.writer.Write(ctx, tx, apptID, s.doctorID, patientID, diagID, s.instructions, s.lines)
	if err != nil {
		return uuid.Nil, PrescriptionID{}, classify("write prescription", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, PrescriptionID{}, classify("commit", err)
	}
	committed = true

	w.logger.Info().
		Str("doctor_id", s.doctorID.String()).
		Str("appointment_id", apptID.String()).
		Str("prescription_id", presID.String()).
		Int("medications", len(s.lines)).
		Msg("visit recorded")
	return apptID, presID, nil
}

// openAppointment inserts the walk-in appointment after checking the patient
// belongs to the doctor.
func (w *Workflow) openAppointment(ctx context.Context, tx Tx, doctorID, patientID uuid.UUID) (uuid.UUID, error) {
	owner, found, err := tx.PatientOwner(ctx, patientID)
	if err != nil {
		return uuid.Nil, classify("load patient", err)
	}
	if !found {
		return uuid.Nil, invalid("patient %s does not exist", patientID)
	}
	if owner != doctorID {
		return uuid.Nil, ErrUnauthorized
	}

	now := w.now()
	appt := &Appointment{
		DoctorID:  doctorID,
		PatientID: patientID,
		Date:      now.Format("2006-01-02"),
		Time:      now.Format("15:04:05.000000"),
		Status:    StatusScheduled,
		WalkIn:    true,
	}
	if err := tx.InsertAppointment(ctx, appt); err != nil {
		return uuid.Nil, classify("insert appointment", err)
	}
	return appt.ID, nil
}
