package records

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/docassist/clinic/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

// =========== Notes ===========

func (r *repoPG) CreateNote(ctx context.Context, n *Note) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO clinical_notes (patient_id, doctor_id, note_text)
		VALUES ($1, $2, $3)
		RETURNING note_id, created_at`,
		n.PatientID, n.DoctorID, n.Text).Scan(&n.ID, &n.CreatedAt)
}

func (r *repoPG) ListNotes(ctx context.Context, doctorID, patientID uuid.UUID) ([]*Note, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT n.note_id, n.patient_id, n.doctor_id, n.note_text, n.created_at
		FROM clinical_notes n
		JOIN patients p ON p.patient_id = n.patient_id AND p.doctor_id = $1
		WHERE n.patient_id = $2
		ORDER BY n.created_at DESC`, doctorID, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.PatientID, &n.DoctorID, &n.Text, &n.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &n)
	}
	return items, rows.Err()
}

// =========== Documents ===========

const docCols = `d.document_id, d.patient_id, d.doctor_id, d.document_category, d.document_label,
	d.file_name, d.object_key, d.file_format, d.file_mime_type, d.file_size, d.sha256, d.uploaded_at`

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.PatientID, &d.DoctorID, &d.Category, &d.Label,
		&d.FileName, &d.ObjectKey, &d.Format, &d.MimeType, &d.Size, &d.SHA256, &d.UploadedAt)
	return &d, err
}

func (r *repoPG) CreateDocument(ctx context.Context, d *Document) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO documents (patient_id, doctor_id, document_category, document_label,
			file_name, object_key, file_format, file_mime_type, file_size, sha256)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING document_id, uploaded_at`,
		d.PatientID, d.DoctorID, d.Category, d.Label,
		d.FileName, d.ObjectKey, d.Format, d.MimeType, d.Size, d.SHA256,
	).Scan(&d.ID, &d.UploadedAt)
}

func (r *repoPG) ListDocuments(ctx context.Context, doctorID, patientID uuid.UUID) ([]*Document, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+docCols+`
		FROM documents d
		JOIN patients p ON p.patient_id = d.patient_id AND p.doctor_id = $1
		WHERE d.patient_id = $2
		ORDER BY d.uploaded_at DESC`, doctorID, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (r *repoPG) GetDocument(ctx context.Context, doctorID, id uuid.UUID) (*Document, error) {
	d, err := scanDocument(r.pool.QueryRow(ctx, `SELECT `+docCols+`
		FROM documents d
		JOIN patients p ON p.patient_id = d.patient_id AND p.doctor_id = $1
		WHERE d.document_id = $2`, doctorID, id))
	if db.IsNoRows(err) {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}
