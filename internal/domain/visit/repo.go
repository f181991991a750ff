package visit

import (
	"context"

	"github.com/google/uuid"
)

// Store opens the transactions the visit workflow runs in.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	// TransitionStatus moves an appointment owned by doctorID from one status
	// to another in a single conditional update and reports rows affected.
	TransitionStatus(ctx context.Context, appointmentID, doctorID uuid.UUID, from, to Status) (int64, error)
}

// Tx is one open transaction. Every workflow step receives it explicitly.
// Rollback after Commit is a no-op.
type Tx interface {
	// GetAppointment returns nil, nil when the appointment does not exist.
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// PatientOwner returns the doctor who owns the patient.
	PatientOwner(ctx context.Context, patientID uuid.UUID) (owner uuid.UUID, found bool, err error)
	// DiagnosisPatient returns the patient a diagnosis belongs to.
	DiagnosisPatient(ctx context.Context, id DiagnosisID) (patientID uuid.UUID, found bool, err error)
	InsertAppointment(ctx context.Context, a *Appointment) error

	// FindActiveDiagnosis matches case-insensitively among the patient's
	// active diagnoses.
	FindActiveDiagnosis(ctx context.Context, patientID uuid.UUID, text string) (DiagnosisID, bool, error)
	InsertDiagnosis(ctx context.Context, patientID, doctorID uuid.UUID, text string) (DiagnosisID, error)
	FindMedication(ctx context.Context, diagnosisID DiagnosisID, name string) (MedicationID, bool, error)
	InsertMedication(ctx context.Context, diagnosisID DiagnosisID, name string) (MedicationID, error)

	InsertPrescription(ctx context.Context, p PrescriptionRow) (PrescriptionID, error)
	InsertPrescriptionMedication(ctx context.Context, id PrescriptionID, medicationID MedicationID, position int, line MedicationLine) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Repository is the read side plus plain scheduling. Every call is scoped to
// the doctor who owns the patient.
type Repository interface {
	CreateAppointment(ctx context.Context, a *Appointment) error
	ListAppointments(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*AppointmentSummary, int, error)
	GetAppointmentDetails(ctx context.Context, doctorID, appointmentID uuid.UUID) (*AppointmentDetails, error)
	GetPrescriptionByAppointment(ctx context.Context, doctorID, appointmentID uuid.UUID) (*PrescriptionView, error)
	ListDiagnosesByPatient(ctx context.Context, doctorID, patientID uuid.UUID) ([]*Diagnosis, error)
	DeactivateDiagnosis(ctx context.Context, doctorID uuid.UUID, id DiagnosisID) (*Diagnosis, error)
}
