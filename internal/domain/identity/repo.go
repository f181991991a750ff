package identity

import (
	"context"

	"github.com/google/uuid"
)

type DoctorRepository interface {
	// Create fails with ErrEmailTaken when the email is already registered.
	Create(ctx context.Context, d *Doctor) error
	GetByEmail(ctx context.Context, email string) (*Doctor, error)
}

// PatientRepository scopes every read to the owning doctor.
type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, doctorID, id uuid.UUID) (*Patient, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Patient, int, error)
}
