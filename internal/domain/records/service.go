package records

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/docassist/clinic/internal/platform/blobstore"
)

type Service struct {
	repo     Repository
	blobs    blobstore.BlobStore
	patients PatientOwnership
	logger   zerolog.Logger
}

func NewService(repo Repository, blobs blobstore.BlobStore, patients PatientOwnership, logger zerolog.Logger) *Service {
	return &Service{repo: repo, blobs: blobs, patients: patients, logger: logger}
}

func (s *Service) checkPatient(ctx context.Context, doctorID, patientID uuid.UUID) error {
	owns, err := s.patients.OwnsPatient(ctx, doctorID, patientID)
	if err != nil {
		return fmt.Errorf("check patient owner: %w", err)
	}
	if !owns {
		return fmt.Errorf("patient %s: %w", patientID, ErrNotFound)
	}
	return nil
}

// -- Notes --

func (s *Service) AddNote(ctx context.Context, doctorID, patientID uuid.UUID, text string) (*Note, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: note_text is required", ErrValidation)
	}
	if err := s.checkPatient(ctx, doctorID, patientID); err != nil {
		return nil, err
	}
	n := &Note{PatientID: patientID, DoctorID: doctorID, Text: text}
	if err := s.repo.CreateNote(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Service) ListNotes(ctx context.Context, doctorID, patientID uuid.UUID) ([]*Note, error) {
	return s.repo.ListNotes(ctx, doctorID, patientID)
}

// -- Documents --

type UploadRequest struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	Category  string
	Label     string
	FileName  string
	Size      int64
	Content   io.Reader
}

// Upload stores the bytes first and the metadata second. If the metadata
// insert fails the blob is removed again.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*Document, error) {
	if strings.TrimSpace(req.Category) == "" || strings.TrimSpace(req.Label) == "" {
		return nil, fmt.Errorf("%w: document_category and document_label are required", ErrValidation)
	}
	format, ext, ok := formatOf(req.FileName)
	if !ok {
		return nil, ErrUnsupportedFormat
	}
	if req.Size > MaxDocumentSize {
		return nil, blobstore.ErrFileTooLarge
	}
	if err := s.checkPatient(ctx, req.DoctorID, req.PatientID); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("patients/%s/%s%s", req.PatientID, uuid.NewString(), ext)
	obj, err := s.blobs.Put(ctx, key, format.mime, req.Content, req.Size)
	if err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}

	d := &Document{
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		Category:  req.Category,
		Label:     req.Label,
		FileName:  req.FileName,
		ObjectKey: key,
		Format:    format.name,
		MimeType:  format.mime,
		Size:      obj.Size,
		SHA256:    obj.SHA256,
	}
	if err := s.repo.CreateDocument(ctx, d); err != nil {
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			s.logger.Error().Err(delErr).Str("object_key", key).Msg("orphaned document blob")
		}
		return nil, fmt.Errorf("save document: %w", err)
	}

	s.logger.Info().
		Str("document_id", d.ID.String()).
		Str("patient_id", d.PatientID.String()).
		Int64("size", d.Size).
		Msg("document uploaded")
	return d, nil
}

func (s *Service) ListDocuments(ctx context.Context, doctorID, patientID uuid.UUID) ([]*Document, error) {
	return s.repo.ListDocuments(ctx, doctorID, patientID)
}

// OpenDocument returns the stored bytes. The caller closes the reader.
func (s *Service) OpenDocument(ctx context.Context, doctorID, id uuid.UUID) (io.ReadCloser, *Document, error) {
	d, err := s.repo.GetDocument(ctx, doctorID, id)
	if err != nil {
		return nil, nil, err
	}
	rc, _, err := s.blobs.Get(ctx, d.ObjectKey)
	if err != nil {
		return nil, nil, fmt.Errorf("open document %s: %w", id, err)
	}
	return rc, d, nil
}
