package visit

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/docassist/clinic/internal/platform/auth"
	"github.com/docassist/clinic/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/visits", h.CreateVisit)

	api.POST("/prescriptions", h.CreatePrescription)
	api.GET("/prescriptions/appointment/:id", h.GetPrescription)

	api.POST("/appointments", h.ScheduleAppointment)
	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/:id/details", h.GetAppointmentDetails)
	api.PATCH("/appointments/:id/complete", h.CompleteAppointment)
	api.PATCH("/appointments/:id/cancel", h.CancelAppointment)

	api.POST("/diagnoses", h.AddDiagnosis)
	api.POST("/diagnoses/:id/medications", h.AddCatalogMedication)
	api.GET("/diagnoses/patient/:patientId", h.ListDiagnoses)
	api.PATCH("/diagnoses/:id/deactivate", h.DeactivateDiagnosis)
}

// -- Request DTOs --

type medicationInput struct {
	MedicineName string  `json:"medicine_name" validate:"required,max=200"`
	Dosage       *string `json:"dosage" validate:"omitempty,max=200"`
	Frequency    *string `json:"frequency" validate:"omitempty,max=200"`
	Duration     *string `json:"duration" validate:"omitempty,max=200"`
}

type createVisitRequest struct {
	PatientID     string            `json:"patient_id" validate:"required,uuid"`
	DiagnosisText string            `json:"diagnosis_text" validate:"required,max=500"`
	Instructions  *string           `json:"instructions" validate:"omitempty,max=2000"`
	Medications   []medicationInput `json:"medications" validate:"required,min=1,dive"`
}

type createPrescriptionRequest struct {
	AppointmentID string            `json:"appointment_id" validate:"required,uuid"`
	DiagnosisText string            `json:"diagnosis_text" validate:"required,max=500"`
	Instructions  *string           `json:"instructions" validate:"omitempty,max=2000"`
	Medications   []medicationInput `json:"medications" validate:"required,min=1,dive"`
}

type scheduleRequest struct {
	PatientID string  `json:"patient_id" validate:"required,uuid"`
	Date      string  `json:"appointment_date" validate:"required,date"`
	Time      string  `json:"appointment_time" validate:"required,clock"`
	Notes     *string `json:"notes" validate:"omitempty,max=2000"`
}

type addDiagnosisRequest struct {
	PatientID     string `json:"patient_id" validate:"required,uuid"`
	DiagnosisText string `json:"diagnosis_text" validate:"required,max=500"`
}

type addMedicationRequest struct {
	MedicineName string `json:"medicine_name" validate:"required,max=200"`
}

func toLines(in []medicationInput) []MedicationLine {
	out := make([]MedicationLine, len(in))
	for i, m := range in {
		out[i] = MedicationLine{
			MedicineName: m.MedicineName,
			Dosage:       m.Dosage,
			Frequency:    m.Frequency,
			Duration:     m.Duration,
		}
	}
	return out
}

// bindAndValidate decodes the body into dst and runs its validate tags.
func bindAndValidate(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return c.Validate(dst)
}

func doctorID(c echo.Context) (uuid.UUID, error) {
	id := auth.DoctorIDFromContext(c.Request().Context())
	if id == uuid.Nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return id, nil
}

func pathID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// -- Visit Handlers --

func (h *Handler) CreateVisit(c echo.Context) error {
	docID, err := doctorID(c)
	if err != nil {
		return err
	}
	var req createVisitRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := h.svc.CreateVisit(c.Request().Context(), VisitRequest{
		DoctorID:      docID,
		PatientID:     uuid.MustParse(req.PatientID),
		DiagnosisText: req.DiagnosisText,
		Instructions:  req.Instructions,
		Medications:   toLines(req.Medications),
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) CreatePrescription(c echo.Context) error {
	docID, err := doctorID(c)
	if err != nil {
		return err
	}
	var req createPrescriptionRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	id, err := h.svc.CreatePrescriptionForAppointment(c.Request().Context(), PrescriptionRequest{
		DoctorID:      docID,
		AppointmentID: uuid.MustParse(req.AppointmentID),
		DiagnosisText: req.DiagnosisText,
		Instructions:  req.Instructions,
		Medications:   toLines(req.Medications),
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"prescription_id": id.String()})
}

func (h *Handler) GetPrescription(c echo.Context) error {
	docID, err := doctorID(c)
	if err != nil {
		return err
	}
	apptID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.PrescriptionForAppointment(c.Request().Context(), docID, apptID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

// -- Appointment Handlers --

func (h *Handler) ScheduleAppointment(c echo.Context) error {
	docID, err := doctorID(c)
	if err != nil {
		return err
	}
	var req scheduleRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	appt, err := h.svc.ScheduleAppointment(c.Request().Context(), ScheduleRequest{
		DoctorID:  docID,
		PatientID: uuid.MustParse(req.PatientID),
		Date:      req.Date,
		Time:      req.Time,
		Notes:     req.Notes,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, appt)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	docID, err := doctorID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAppointments(c.Request().Context(), docID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*AppointmentSummary{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetAppointmentDetails(c echo.Context) error {
	docID, err := doctorID(c)
	if err != nil {
		return err
	}
	apptID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.AppointmentDetails(c.Request().Context(), docID, apptID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) CompleteAppointment(c echo.Context) error {
	return h.transition(c, StatusCompleted)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	return h.transition(c, StatusCancelled)
}

func (h *Handler) transition(c echo.Context, target Status) error {
	docID, err := doctorID(c)
	if err != nil {
		return err
	}
	apptID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.Transition(c.Request().Context(), docID, apptID, target); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true, "status": target})
}

// -- Diagnosis Handlers --

func (h *Handler) AddDiagnosis(c echo.Context) error {
	docID, err := doctorID(c)
	if err != nil {
		return err
	}
	var req addDiagnosisRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	id, err := h.svc.AddDiagnosis(c.Request().Context(), docID, uuid.MustParse(req.PatientID), req.DiagnosisText)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"diagnosis_id": id.String()})
}

func (h *Handler) AddCatalogMedication(c echo.Context) error {
	docID, err := doctorID(c)
	if err != nil {
		return err
	}
	diagID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req addMedicationRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	id, err := h.svc.AddCatalogMedication(c.Request().Context(), docID, DiagnosisID(diagID), req.MedicineName)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"medication_id": id.String()})
}

func (h *Handler) ListDiagnoses(c echo.Context) error {
	docID, err := doctorID(c)
	if err != nil {
		return err
	}
	patientID, err := pathID(c, "patientId")
	if err != nil {
		return err
	}
	items, err := h.svc.ListDiagnoses(c.Request().Context(), docID, patientID)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Diagnosis{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) DeactivateDiagnosis(c echo.Context) error {
	docID, err := doctorID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	d, err := h.svc.DeactivateDiagnosis(c.Request().Context(), docID, DiagnosisID(id))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, d)
}
