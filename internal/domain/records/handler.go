package records

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/docassist/clinic/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/notes", h.AddNote)
	api.GET("/notes/patient/:patientId", h.ListNotes)

	api.POST("/documents/upload", h.Upload)
	api.GET("/documents/patient/:patientId", h.ListDocuments)
	api.GET("/documents/:id/view", h.ViewDocument)
}

type addNoteRequest struct {
	PatientID string `json:"patient_id" validate:"required,uuid"`
	NoteText  string `json:"note_text" validate:"required,max=10000"`
}

func doctorID(c echo.Context) (uuid.UUID, error) {
	id := auth.DoctorIDFromContext(c.Request().Context())
	if id == uuid.Nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}

func (h *Handler) AddNote(c echo.Context) error {
	docID, err := doctorID(c)
	if err != nil {
		return err
	}
	var req addNoteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	n, err := h.svc.AddNote(c.Request().Context(), docID, uuid.MustParse(req.PatientID), req.NoteText)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, n)
}

func (h *Handler) ListNotes(c echo.Context) error {
	docID, err := doctorID(c)
	if err != nil {
		return err
	}
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patientId")
	}
	items, err := h.svc.ListNotes(c.Request().Context(), docID, patientID)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Note{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Upload(c echo.Context) error {
	docID, err := doctorID(c)
	if err != nil {
		return err
	}
	patientID, err := uuid.Parse(c.FormValue("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id must be a valid UUID")
	}
	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to open uploaded file").SetInternal(err)
	}
	defer src.Close()

	d, err := h.svc.Upload(c.Request().Context(), UploadRequest{
		DoctorID:  docID,
		PatientID: patientID,
		Category:  c.FormValue("document_category"),
		Label:     c.FormValue("document_label"),
		FileName:  file.Filename,
		Size:      file.Size,
		Content:   src,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) ListDocuments(c echo.Context) error {
	docID, err := doctorID(c)
	if err != nil {
		return err
	}
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patientId")
	}
	items, err := h.svc.ListDocuments(c.Request().Context(), docID, patientID)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Document{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ViewDocument(c echo.Context) error {
	docID, err := doctorID(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rc, d, err := h.svc.OpenDocument(c.Request().Context(), docID, id)
	if err != nil {
		return httpError(err)
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("inline; filename=%q", d.FileName))
	return c.Stream(http.StatusOK, d.MimeType, rc)
}
