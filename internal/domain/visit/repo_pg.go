package visit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docassist/clinic/internal/platform/db"
)

// PGStore implements Store and Repository over a connection pool.
type PGStore struct{ pool *pgxpool.Pool }

func NewPGStore(pool *pgxpool.Pool) *PGStore { return &PGStore{pool: pool} }

var (
	_ Store      = (*PGStore)(nil)
	_ Repository = (*PGStore)(nil)
)

// Appointment date and time come back as text so the JSON matches what
// the client sent.
const apptCols = `appointment_id, doctor_id, patient_id, appointment_date::text,
	to_char(appointment_time, 'HH24:MI:SS'), status, notes, walk_in, created_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.DoctorID, &a.PatientID, &a.Date, &a.Time, &a.Status, &a.Notes, &a.WalkIn, &a.CreatedAt)
	return &a, err
}

func (s *PGStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

func (s *PGStore) TransitionStatus(ctx context.Context, appointmentID, doctorID uuid.UUID, from, to Status) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE appointments SET status = $4
		WHERE appointment_id = $1 AND doctor_id = $2 AND status = $3`,
		appointmentID, doctorID, string(from), string(to))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// =========== Transaction ===========

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(t.tx.QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointments WHERE appointment_id = $1`, id))
	if db.IsNoRows(err) {
		return nil, nil
	}
	return a, err
}

func (t *pgTx) PatientOwner(ctx context.Context, patientID uuid.UUID) (uuid.UUID, bool, error) {
	var owner uuid.UUID
	err := t.tx.QueryRow(ctx, `SELECT doctor_id FROM patients WHERE patient_id = $1`, patientID).Scan(&owner)
	if db.IsNoRows(err) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return owner, true, nil
}

func (t *pgTx) DiagnosisPatient(ctx context.Context, id DiagnosisID) (uuid.UUID, bool, error) {
	var patientID uuid.UUID
	err := t.tx.QueryRow(ctx, `SELECT patient_id FROM diagnoses WHERE diagnosis_id = $1`, id.UUID()).Scan(&patientID)
	if db.IsNoRows(err) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return patientID, true, nil
}

// InsertAppointment stores a walk-in when a.WalkIn is set; walk-ins are
// outside the doctor-slot unique index.
func (t *pgTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (doctor_id, patient_id, appointment_date, appointment_time, status, notes, walk_in)
		VALUES ($1, $2, $3::date, $4::time, $5, $6, $7)
		RETURNING appointment_id, created_at`,
		a.DoctorID, a.PatientID, a.Date, a.Time, string(a.Status), a.Notes, a.WalkIn,
	).Scan(&a.ID, &a.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDoubleBooked
	}
	return err
}

func (t *pgTx) FindActiveDiagnosis(ctx context.Context, patientID uuid.UUID, text string) (DiagnosisID, bool, error) {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx, `
		SELECT diagnosis_id FROM diagnoses
		WHERE patient_id = $1 AND is_active AND lower(diagnosis_text) = lower($2)`,
		patientID, text).Scan(&id)
	if db.IsNoRows(err) {
		return DiagnosisID{}, false, nil
	}
	if err != nil {
		return DiagnosisID{}, false, err
	}
	return DiagnosisID(id), true, nil
}

// InsertDiagnosis leaves the transaction usable when it loses a race: ON
// CONFLICT DO NOTHING yields no row instead of aborting.
func (t *pgTx) InsertDiagnosis(ctx context.Context, patientID, doctorID uuid.UUID, text string) (DiagnosisID, error) {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx, `
		INSERT INTO diagnoses (patient_id, doctor_id, diagnosis_text, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (patient_id, lower(diagnosis_text)) WHERE is_active DO NOTHING
		RETURNING diagnosis_id`,
		patientID, doctorID, text).Scan(&id)
	if db.IsNoRows(err) {
		return DiagnosisID{}, ErrCatalogConflict
	}
	if err != nil {
		return DiagnosisID{}, err
	}
	return DiagnosisID(id), nil
}

func (t *pgTx) FindMedication(ctx context.Context, diagnosisID DiagnosisID, name string) (MedicationID, bool, error) {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx, `
		SELECT medication_id FROM medications
		WHERE diagnosis_id = $1 AND lower(medicine_name) = lower($2)`,
		diagnosisID.UUID(), name).Scan(&id)
	if db.IsNoRows(err) {
		return MedicationID{}, false, nil
	}
	if err != nil {
		return MedicationID{}, false, err
	}
	return MedicationID(id), true, nil
}

func (t *pgTx) InsertMedication(ctx context.Context, diagnosisID DiagnosisID, name string) (MedicationID, error) {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx, `
		INSERT INTO medications (diagnosis_id, medicine_name)
		VALUES ($1, $2)
		ON CONFLICT (diagnosis_id, lower(medicine_name)) DO NOTHING
		RETURNING medication_id`,
		diagnosisID.UUID(), name).Scan(&id)
	if db.IsNoRows(err) {
		return MedicationID{}, ErrCatalogConflict
	}
	if err != nil {
		return MedicationID{}, err
	}
	return MedicationID(id), nil
}

func (t *pgTx) InsertPrescription(ctx context.Context, p PrescriptionRow) (PrescriptionID, error) {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx, `
		INSERT INTO prescriptions (appointment_id, doctor_id, patient_id, diagnosis_id, instructions)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (appointment_id) DO NOTHING
		RETURNING prescription_id`,
		p.AppointmentID, p.DoctorID, p.PatientID, p.DiagnosisID.UUID(), p.Instructions).Scan(&id)
	if db.IsNoRows(err) {
		return PrescriptionID{}, ErrPrescriptionExists
	}
	if err != nil {
		return PrescriptionID{}, err
	}
	return PrescriptionID(id), nil
}

func (t *pgTx) InsertPrescriptionMedication(ctx context.Context, id PrescriptionID, medicationID MedicationID, position int, line MedicationLine) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO prescription_medications (prescription_id, medication_id, position, dosage, frequency, duration)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id.UUID(), medicationID.UUID(), position, line.Dosage, line.Frequency, line.Duration)
	return err
}

func (t *pgTx) Commit(ctx context.Context) error { return t.tx.Commit(ctx) }

func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// =========== Repository ===========

// CreateAppointment inserts only when the patient belongs to the doctor;
// otherwise it reports ErrNotFound.
func (s *PGStore) CreateAppointment(ctx context.Context, a *Appointment) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO appointments (doctor_id, patient_id, appointment_date, appointment_time, status, notes)
		SELECT $1, p.patient_id, $3::date, $4::time, $5, $6
		FROM patients p WHERE p.patient_id = $2 AND p.doctor_id = $1
		RETURNING appointment_id, created_at`,
		a.DoctorID, a.PatientID, a.Date, a.Time, string(a.Status), a.Notes,
	).Scan(&a.ID, &a.CreatedAt)
	switch {
	case db.IsNoRows(err):
		return ErrNotFound
	case db.IsUniqueViolation(err):
		return ErrDoubleBooked
	}
	return err
}

func (s *PGStore) ListAppointments(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*AppointmentSummary, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM appointments WHERE doctor_id = $1`, doctorID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT a.appointment_id, a.patient_id, p.name, a.appointment_date::text,
			to_char(a.appointment_time, 'HH24:MI:SS'), a.status
		FROM appointments a
		JOIN patients p ON p.patient_id = a.patient_id
		WHERE a.doctor_id = $1
		ORDER BY a.appointment_date, a.appointment_time
		LIMIT $2 OFFSET $3`, doctorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*AppointmentSummary
	for rows.Next() {
		var a AppointmentSummary
		if err := rows.Scan(&a.ID, &a.PatientID, &a.PatientName, &a.Date, &a.Time, &a.Status); err != nil {
			return nil, 0, err
		}
		items = append(items, &a)
	}
	return items, total, rows.Err()
}

func (s *PGStore) GetAppointmentDetails(ctx context.Context, doctorID, appointmentID uuid.UUID) (*AppointmentDetails, error) {
	var d AppointmentDetails
	err := s.pool.QueryRow(ctx, `
		SELECT a.appointment_id, a.doctor_id, a.patient_id, a.appointment_date::text,
			to_char(a.appointment_time, 'HH24:MI:SS'), a.status, a.notes, a.walk_in, a.created_at, p.name
		FROM appointments a
		JOIN patients p ON p.patient_id = a.patient_id
		WHERE a.appointment_id = $1 AND a.doctor_id = $2`, appointmentID, doctorID,
	).Scan(&d.ID, &d.DoctorID, &d.PatientID, &d.Date, &d.Time, &d.Status, &d.Notes, &d.WalkIn, &d.CreatedAt, &d.PatientName)
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("appointment %s: %w", appointmentID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	pres, err := s.GetPrescriptionByAppointment(ctx, doctorID, appointmentID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, err
	default:
		d.Prescription = pres
	}
	return &d, nil
}

func (s *PGStore) GetPrescriptionByAppointment(ctx context.Context, doctorID, appointmentID uuid.UUID) (*PrescriptionView, error) {
	var v PrescriptionView
	err := s.pool.QueryRow(ctx, `
		SELECT pr.prescription_id, pr.appointment_id, d.diagnosis_text, pr.instructions, pr.created_at
		FROM prescriptions pr
		JOIN diagnoses d ON d.diagnosis_id = pr.diagnosis_id
		WHERE pr.appointment_id = $1 AND pr.doctor_id = $2`, appointmentID, doctorID,
	).Scan(&v.ID, &v.AppointmentID, &v.Diagnosis, &v.Instructions, &v.CreatedAt)
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("prescription for appointment %s: %w", appointmentID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT pm.position, m.medicine_name, pm.dosage, pm.frequency, pm.duration
		FROM prescription_medications pm
		JOIN medications m ON m.medication_id = pm.medication_id
		WHERE pm.prescription_id = $1
		ORDER BY pm.position`, v.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	v.Medications = []PrescribedMedication{}
	for rows.Next() {
		var m PrescribedMedication
		if err := rows.Scan(&m.Position, &m.MedicineName, &m.Dosage, &m.Frequency, &m.Duration); err != nil {
			return nil, err
		}
		v.Medications = append(v.Medications, m)
	}
	return &v, rows.Err()
}

// ListDiagnosesByPatient returns active diagnoses first, each with its
// catalog medications.
func (s *PGStore) ListDiagnosesByPatient(ctx context.Context, doctorID, patientID uuid.UUID) ([]*Diagnosis, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.diagnosis_id, d.patient_id, d.doctor_id, d.diagnosis_text, d.is_active, d.created_at,
			m.medication_id, m.medicine_name, m.created_at
		FROM diagnoses d
		JOIN patients p ON p.patient_id = d.patient_id AND p.doctor_id = $1
		LEFT JOIN medications m ON m.diagnosis_id = d.diagnosis_id
		WHERE d.patient_id = $2
		ORDER BY d.is_active DESC, d.created_at DESC, d.diagnosis_id, m.medicine_name`, doctorID, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Diagnosis
	index := map[uuid.UUID]*Diagnosis{}
	for rows.Next() {
		var (
			d       Diagnosis
			medID   *uuid.UUID
			medName *string
			medAt   *time.Time
		)
		if err := rows.Scan(&d.ID, &d.PatientID, &d.DoctorID, &d.DiagnosisText, &d.IsActive, &d.CreatedAt,
			&medID, &medName, &medAt); err != nil {
			return nil, err
		}
		cur, ok := index[d.ID]
		if !ok {
			cur = &d
			index[d.ID] = cur
			items = append(items, cur)
		}
		if medID != nil {
			cur.Medications = append(cur.Medications, CatalogMedication{
				ID:           *medID,
				DiagnosisID:  cur.ID,
				MedicineName: *medName,
				CreatedAt:    *medAt,
			})
		}
	}
	return items, rows.Err()
}

func (s *PGStore) DeactivateDiagnosis(ctx context.Context, doctorID uuid.UUID, id DiagnosisID) (*Diagnosis, error) {
	var d Diagnosis
	err := s.pool.QueryRow(ctx, `
		UPDATE diagnoses d SET is_active = FALSE
		FROM patients p
		WHERE d.diagnosis_id = $1 AND p.patient_id = d.patient_id AND p.doctor_id = $2
		RETURNING d.diagnosis_id, d.patient_id, d.doctor_id, d.diagnosis_text, d.is_active, d.created_at`,
		id.UUID(), doctorID,
	).Scan(&d.ID, &d.PatientID, &d.DoctorID, &d.DiagnosisText, &d.IsActive, &d.CreatedAt)
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("diagnosis %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
