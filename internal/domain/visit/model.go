package visit

import (
	"time"

	"github.com/google/uuid"
)

// Status is an appointment's lifecycle state. scheduled is the only state
// that can change; the other two are terminal.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// The pipeline ids are distinct types so a step cannot be fed the output of
// the wrong predecessor.
type (
	DiagnosisID    uuid.UUID
	PrescriptionID uuid.UUID
	MedicationID   uuid.UUID
)

func (id DiagnosisID) UUID() uuid.UUID    { return uuid.UUID(id) }
func (id PrescriptionID) UUID() uuid.UUID { return uuid.UUID(id) }
func (id MedicationID) UUID() uuid.UUID   { return uuid.UUID(id) }

func (id DiagnosisID) String() string    { return uuid.UUID(id).String() }
func (id PrescriptionID) String() string { return uuid.UUID(id).String() }
func (id MedicationID) String() string   { return uuid.UUID(id).String() }

type Appointment struct {
	ID        uuid.UUID `json:"appointment_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	PatientID uuid.UUID `json:"patient_id"`
	Date      string    `json:"appointment_date"` // YYYY-MM-DD
	Time      string    `json:"appointment_time"` // HH:MM:SS
	Status    Status    `json:"status"`
	Notes     *string   `json:"notes,omitempty"`
	WalkIn    bool      `json:"walk_in"`
	CreatedAt time.Time `json:"created_at"`
}

// MedicationLine is one prescribed medicine as submitted. Dosage, Frequency
// and Duration are free text and optional.
type MedicationLine struct {
	MedicineName string  `json:"medicine_name"`
	Dosage       *string `json:"dosage,omitempty"`
	Frequency    *string `json:"frequency,omitempty"`
	Duration     *string `json:"duration,omitempty"`
}

// VisitRequest records a walk-in visit: a new appointment plus its
// prescription.
type VisitRequest struct {
	DoctorID      uuid.UUID
	PatientID     uuid.UUID
	DiagnosisText string
	Instructions  *string
	Medications   []MedicationLine
}

// PrescriptionRequest attaches a prescription to an existing appointment.
type PrescriptionRequest struct {
	DoctorID      uuid.UUID
	AppointmentID uuid.UUID
	DiagnosisText string
	Instructions  *string
	Medications   []MedicationLine
}

type VisitResult struct {
	AppointmentID  uuid.UUID `json:"appointment_id"`
	PrescriptionID uuid.UUID `json:"prescription_id"`
}

// PrescriptionRow is what the writer persists before its lines.
type PrescriptionRow struct {
	AppointmentID uuid.UUID
	DoctorID      uuid.UUID
	PatientID     uuid.UUID
	DiagnosisID   DiagnosisID
	Instructions  *string
}

// Read models.

type AppointmentSummary struct {
	ID          uuid.UUID `json:"appointment_id"`
	PatientID   uuid.UUID `json:"patient_id"`
	PatientName string    `json:"patient_name"`
	Date        string    `json:"appointment_date"`
	Time        string    `json:"appointment_time"`
	Status      Status    `json:"status"`
}

type PrescribedMedication struct {
	Position     int     `json:"position"`
	MedicineName string  `json:"medicine_name"`
	Dosage       *string `json:"dosage"`
	Frequency    *string `json:"frequency"`
	Duration     *string `json:"duration"`
}

type PrescriptionView struct {
	ID            uuid.UUID              `json:"prescription_id"`
	AppointmentID uuid.UUID              `json:"appointment_id"`
	Diagnosis     string                 `json:"diagnosis"`
	Instructions  *string                `json:"instructions"`
	CreatedAt     time.Time              `json:"created_at"`
	Medications   []PrescribedMedication `json:"medications"`
}

type AppointmentDetails struct {
	Appointment
	PatientName  string            `json:"patient_name"`
	Prescription *PrescriptionView `json:"prescription"`
}

type CatalogMedication struct {
	ID           uuid.UUID `json:"medication_id"`
	DiagnosisID  uuid.UUID `json:"diagnosis_id"`
	MedicineName string    `json:"medicine_name"`
	CreatedAt    time.Time `json:"created_at"`
}

type Diagnosis struct {
	ID            uuid.UUID           `json:"diagnosis_id"`
	PatientID     uuid.UUID           `json:"patient_id"`
	DoctorID      uuid.UUID           `json:"doctor_id"`
	DiagnosisText string              `json:"diagnosis_text"`
	IsActive      bool                `json:"is_active"`
	CreatedAt     time.Time           `json:"created_at"`
	Medications   []CatalogMedication `json:"medications,omitempty"`
}
