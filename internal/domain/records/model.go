package records

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/docassist/clinic/internal/platform/blobstore"
)

// MaxDocumentSize caps a single upload.
const MaxDocumentSize = 10 << 20

type Note struct {
	ID        uuid.UUID `json:"note_id"`
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Text      string    `json:"note_text"`
	CreatedAt time.Time `json:"created_at"`
}

type Document struct {
	ID         uuid.UUID `json:"document_id"`
	PatientID  uuid.UUID `json:"patient_id"`
	DoctorID   uuid.UUID `json:"doctor_id"`
	Category   string    `json:"document_category"`
	Label      string    `json:"document_label"`
	FileName   string    `json:"file_name"`
	ObjectKey  string    `json:"-"`
	Format     string    `json:"file_format"`
	MimeType   string    `json:"file_mime_type"`
	Size       int64     `json:"file_size"`
	SHA256     string    `json:"sha256"`
	UploadedAt time.Time `json:"uploaded_at"`
}

type fileFormat struct {
	name string
	mime string
}

var formats = map[string]fileFormat{
	".pdf":   {"pdf", "application/pdf"},
	".jpg":   {"jpeg", "image/jpeg"},
	".jpeg":  {"jpeg", "image/jpeg"},
	".dcm":   {"dicom", "application/dicom"},
	".dicom": {"dicom", "application/dicom"},
}

// formatOf picks the stored format from the file extension.
func formatOf(fileName string) (fileFormat, string, bool) {
	ext := strings.ToLower(filepath.Ext(fileName))
	f, ok := formats[ext]
	return f, ext, ok
}

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrUnsupportedFormat = errors.New("only PDF, JPEG and DICOM files are accepted")
)

func httpError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnsupportedFormat):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, ErrUnsupportedFormat.Error())
	case errors.Is(err, blobstore.ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file exceeds 10 MB")
	case errors.Is(err, ErrNotFound), errors.Is(err, blobstore.ErrBlobNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
	}
}
