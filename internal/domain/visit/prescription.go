package visit

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// PrescriptionWriter persists a prescription and its dosing lines in
// submission order.
type PrescriptionWriter struct {
	Catalog MedicationCatalogResolver
}

func (w PrescriptionWriter) Write(
	ctx context.Context,
	tx Tx,
	appointmentID, doctorID, patientID uuid.UUID,
	diagnosisID DiagnosisID,
	instructions *string,
	lines []MedicationLine,
) (PrescriptionID, error) {
	var zero PrescriptionID

	presID, err := tx.InsertPrescription(ctx, PrescriptionRow{
		AppointmentID: appointmentID,
		DoctorID:      doctorID,
		PatientID:     patientID,
		DiagnosisID:   diagnosisID,
		Instructions:  nullIfEmpty(instructions),
	})
	if err != nil {
		return zero, err
	}

	catalog, err := w.resolveCatalog(ctx, tx, diagnosisID, lines)
	if err != nil {
		return zero, err
	}

	for i, line := range lines {
		normalized := MedicationLine{
			MedicineName: line.MedicineName,
			Dosage:       nullIfEmpty(line.Dosage),
			Frequency:    nullIfEmpty(line.Frequency),
			Duration:     nullIfEmpty(line.Duration),
		}
		medID := catalog[catalogKey(line.MedicineName)]
		if err := tx.InsertPrescriptionMedication(ctx, presID, medID, i, normalized); err != nil {
			return zero, err
		}
	}
	return presID, nil
}

// resolveCatalog resolves each distinct medicine name once, in case-folded
// sorted order. Two transactions inserting overlapping new names then take
// the catalog's unique-index locks in the same order and cannot deadlock.
func (w PrescriptionWriter) resolveCatalog(ctx context.Context, tx Tx, diagnosisID DiagnosisID, lines []MedicationLine) (map[string]MedicationID, error) {
	names := make(map[string]string, len(lines))
	for _, l := range lines {
		key := catalogKey(l.MedicineName)
		if _, ok := names[key]; !ok {
			names[key] = l.MedicineName
		}
	}
	keys := make([]string, 0, len(names))
	for k := range names {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ids := make(map[string]MedicationID, len(keys))
	for _, k := range keys {
		id, err := w.Catalog.ResolveOrCreate(ctx, tx, diagnosisID, names[k])
		if err != nil {
			return nil, err
		}
		ids[k] = id
	}
	return ids, nil
}

// catalogKey matches the catalog's lower(medicine_name) uniqueness.
func catalogKey(name string) string {
	return strings.ToLower(name)
}

// nullIfEmpty stores "" as NULL.
func nullIfEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
