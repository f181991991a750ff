package records

import (
	"context"

	"github.com/google/uuid"
)

// Repository reads are scoped to the doctor who owns the patient.
type Repository interface {
	CreateNote(ctx context.Context, n *Note) error
	ListNotes(ctx context.Context, doctorID, patientID uuid.UUID) ([]*Note, error)

	CreateDocument(ctx context.Context, d *Document) error
	ListDocuments(ctx context.Context, doctorID, patientID uuid.UUID) ([]*Document, error)
	GetDocument(ctx context.Context, doctorID, id uuid.UUID) (*Document, error)
}

// PatientOwnership answers whether a doctor may touch a patient's records.
type PatientOwnership interface {
	OwnsPatient(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error)
}
