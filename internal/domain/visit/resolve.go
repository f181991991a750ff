package visit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// maxResolveAttempts bounds find-then-insert rounds. Losing a race once
// means the winner's row is committed, so the next find sees it.
const maxResolveAttempts = 3

// resolveOrCreate returns the existing row's id or inserts one. An insert
// that loses to a concurrent writer reports ErrCatalogConflict and the
// lookup is retried.
func resolveOrCreate[ID any](
	ctx context.Context,
	find func(context.Context) (ID, bool, error),
	insert func(context.Context) (ID, error),
) (ID, error) {
	var zero ID
	for attempt := 0; attempt < maxResolveAttempts; attempt++ {
		id, ok, err := find(ctx)
		if err != nil {
			return zero, err
		}
		if ok {
			return id, nil
		}

		id, err = insert(ctx)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, ErrCatalogConflict) {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%w: catalog entry still conflicting after %d attempts", ErrServer, maxResolveAttempts)
}

// DiagnosisResolver maps free diagnosis text onto the patient's active
// diagnosis with the same case-folded text, creating one when none exists.
// Matching is exact: no trimming, no synonyms.
type DiagnosisResolver struct{}

func (DiagnosisResolver) ResolveOrCreate(ctx context.Context, tx Tx, patientID, doctorID uuid.UUID, text string) (DiagnosisID, error) {
	return resolveOrCreate(ctx,
		func(ctx context.Context) (DiagnosisID, bool, error) {
			return tx.FindActiveDiagnosis(ctx, patientID, text)
		},
		func(ctx context.Context) (DiagnosisID, error) {
			return tx.InsertDiagnosis(ctx, patientID, doctorID, text)
		},
	)
}

// MedicationCatalogResolver does the same for medicine names within one
// diagnosis. The same name under two diagnoses is two catalog entries.
type MedicationCatalogResolver struct{}

func (MedicationCatalogResolver) ResolveOrCreate(ctx context.Context, tx Tx, diagnosisID DiagnosisID, name string) (MedicationID, error) {
	return resolveOrCreate(ctx,
		func(ctx context.Context) (MedicationID, bool, error) {
			return tx.FindMedication(ctx, diagnosisID, name)
		},
		func(ctx context.Context) (MedicationID, error) {
			return tx.InsertMedication(ctx, diagnosisID, name)
		},
	)
}
