package visit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/docassist/clinic/internal/platform/events"
)

// Service is the entry point handlers talk to. Writes that touch the catalog
// go through the workflow or the resolvers; reads go straight to the
// repository.
type Service struct {
	*Workflow
	*StatusMachine

	store  Store
	repo   Repository
	diag   DiagnosisResolver
	meds   MedicationCatalogResolver
	pub    events.Publisher
	logger zerolog.Logger
}

func NewService(store Store, repo Repository, pub events.Publisher, logger zerolog.Logger) *Service {
	if pub == nil {
		pub = events.Nop
	}
	return &Service{
		Workflow:      NewWorkflow(store, pub, logger),
		StatusMachine: NewStatusMachine(store, pub, logger),
		store:         store,
		repo:          repo,
		pub:           pub,
		logger:        logger,
	}
}

// ScheduleRequest books an appointment ahead of the visit.
type ScheduleRequest struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Date      string // YYYY-MM-DD
	Time      string // HH:MM or HH:MM:SS
	Notes     *string
}

func (s *Service) ScheduleAppointment(ctx context.Context, req ScheduleRequest) (*Appointment, error) {
	if req.DoctorID == uuid.Nil || req.PatientID == uuid.Nil {
		return nil, invalid("doctor and patient ids are required")
	}
	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		return nil, invalid("appointment_date must be YYYY-MM-DD")
	}
	clock, err := normalizeClock(req.Time)
	if err != nil {
		return nil, err
	}

	a := &Appointment{
		DoctorID:  req.DoctorID,
		PatientID: req.PatientID,
		Date:      req.Date,
		Time:      clock,
		Status:    StatusScheduled,
		Notes:     nullIfEmpty(req.Notes),
	}
	if err := s.repo.CreateAppointment(ctx, a); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalid("patient %s does not exist", req.PatientID)
		}
		return nil, classify("schedule appointment", err)
	}

	publish(ctx, s.pub, s.logger, events.New(events.AppointmentScheduled, req.DoctorID, map[string]string{
		"appointment_id": a.ID.String(),
	}))
	return a, nil
}

func normalizeClock(v string) (string, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("15:04:05"), nil
		}
	}
	return "", invalid("appointment_time must be HH:MM or HH:MM:SS")
}

func (s *Service) ListAppointments(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*AppointmentSummary, int, error) {
	items, total, err := s.repo.ListAppointments(ctx, doctorID, limit, offset)
	if err != nil {
		return nil, 0, classify("list appointments", err)
	}
	return items, total, nil
}

func (s *Service) AppointmentDetails(ctx context.Context, doctorID, appointmentID uuid.UUID) (*AppointmentDetails, error) {
	d, err := s.repo.GetAppointmentDetails(ctx, doctorID, appointmentID)
	if err != nil {
		return nil, classify("appointment details", err)
	}
	return d, nil
}

func (s *Service) PrescriptionForAppointment(ctx context.Context, doctorID, appointmentID uuid.UUID) (*PrescriptionView, error) {
	p, err := s.repo.GetPrescriptionByAppointment(ctx, doctorID, appointmentID)
	if err != nil {
		return nil, classify("prescription for appointment", err)
	}
	return p, nil
}

// AddDiagnosis records a diagnosis outside a visit. An active diagnosis with
// the same text is reused rather than duplicated.
func (s *Service) AddDiagnosis(ctx context.Context, doctorID, patientID uuid.UUID, text string) (DiagnosisID, error) {
	if doctorID == uuid.Nil || patientID == uuid.Nil {
		return DiagnosisID{}, invalid("doctor and patient ids are required")
	}
	if text == "" {
		return DiagnosisID{}, invalid("diagnosis text is required")
	}

	var id DiagnosisID
	err := s.inTx(ctx, func(tx Tx) error {
		if err := checkPatient(ctx, tx, doctorID, patientID); err != nil {
			return err
		}
		var err error
		id, err = s.diag.ResolveOrCreate(ctx, tx, patientID, doctorID, text)
		return err
	})
	if err != nil {
		return DiagnosisID{}, err
	}
	return id, nil
}

// AddCatalogMedication adds a medicine to a diagnosis' catalog, reusing an
// existing entry with the same name.
func (s *Service) AddCatalogMedication(ctx context.Context, doctorID uuid.UUID, diagnosisID DiagnosisID, name string) (MedicationID, error) {
	if doctorID == uuid.Nil || diagnosisID.UUID() == uuid.Nil {
		return MedicationID{}, invalid("doctor and diagnosis ids are required")
	}
	if name == "" {
		return MedicationID{}, invalid("medicine name is required")
	}

	var id MedicationID
	err := s.inTx(ctx, func(tx Tx) error {
		patientID, found, err := tx.DiagnosisPatient(ctx, diagnosisID)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		if err := checkPatient(ctx, tx, doctorID, patientID); err != nil {
			if errors.Is(err, ErrValidation) {
				return ErrNotFound
			}
			return err
		}
		id, err = s.meds.ResolveOrCreate(ctx, tx, diagnosisID, name)
		return err
	})
	if err != nil {
		return MedicationID{}, err
	}
	return id, nil
}

func (s *Service) ListDiagnoses(ctx context.Context, doctorID, patientID uuid.UUID) ([]*Diagnosis, error) {
	items, err := s.repo.ListDiagnosesByPatient(ctx, doctorID, patientID)
	if err != nil {
		return nil, classify("list diagnoses", err)
	}
	return items, nil
}

func (s *Service) DeactivateDiagnosis(ctx context.Context, doctorID uuid.UUID, id DiagnosisID) (*Diagnosis, error) {
	d, err := s.repo.DeactivateDiagnosis(ctx, doctorID, id)
	if err != nil {
		return nil, classify("deactivate diagnosis", err)
	}
	return d, nil
}

// inTx commits when fn succeeds and rolls back otherwise, panics included.
func (s *Service) inTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return classify("begin", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			s.logger.Error().Err(rbErr).Msg("catalog rollback failed")
		}
	}()

	if err := fn(tx); err != nil {
		return classify("catalog write", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify("commit", err)
	}
	committed = true
	return nil
}

func checkPatient(ctx context.Context, tx Tx, doctorID, patientID uuid.UUID) error {
	owner, found, err := tx.PatientOwner(ctx, patientID)
	if err != nil {
		return err
	}
	if !found {
		return invalid("patient %s does not exist", patientID)
	}
	if owner != doctorID {
		return ErrUnauthorized
	}
	return nil
}
