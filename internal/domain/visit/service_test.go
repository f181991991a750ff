package visit

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/docassist/clinic/internal/platform/events"
	"github.com/docassist/clinic/internal/platform/events/eventstest"
)

func newTestService() (*Service, *memStore, *eventstest.Recorder) {
	store := newMemStore()
	rec := &eventstest.Recorder{}
	return NewService(store, store, rec, zerolog.Nop()), store, rec
}

func TestService_ScheduleAppointment(t *testing.T) {
	svc, store, rec := newTestService()
	doc := uuid.New()
	patient := store.addPatient(doc)

	appt, err := svc.ScheduleAppointment(context.Background(), ScheduleRequest{
		DoctorID: doc, PatientID: patient, Date: "2026-11-02", Time: "14:30",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appt.Time != "14:30:00" {
		t.Errorf("expected normalized time, got %q", appt.Time)
	}
	if appt.Status != StatusScheduled {
		t.Errorf("expected scheduled, got %s", appt.Status)
	}
	if got := rec.Types(); len(got) != 1 || got[0] != events.AppointmentScheduled {
		t.Errorf("expected appointment.scheduled, got %v", got)
	}
}

func TestService_ScheduleAppointment_DoubleBooked(t *testing.T) {
	svc, store, _ := newTestService()
	doc := uuid.New()
	p1, p2 := store.addPatient(doc), store.addPatient(doc)
	ctx := context.Background()

	if _, err := svc.ScheduleAppointment(ctx, ScheduleRequest{DoctorID: doc, PatientID: p1, Date: "2026-11-02", Time: "09:00"}); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	_, err := svc.ScheduleAppointment(ctx, ScheduleRequest{DoctorID: doc, PatientID: p2, Date: "2026-11-02", Time: "09:00:00"})
	if !errors.Is(err, ErrDoubleBooked) {
		t.Fatalf("expected ErrDoubleBooked, got %v", err)
	}
}

func TestService_ScheduleAppointment_Validation(t *testing.T) {
	svc, store, _ := newTestService()
	doc := uuid.New()
	patient := store.addPatient(doc)

	tests := []struct {
		name string
		req  ScheduleRequest
	}{
		{"bad date", ScheduleRequest{DoctorID: doc, PatientID: patient, Date: "02/11/2026", Time: "09:00"}},
		{"bad time", ScheduleRequest{DoctorID: doc, PatientID: patient, Date: "2026-11-02", Time: "9am"}},
		{"missing patient", ScheduleRequest{DoctorID: doc, Date: "2026-11-02", Time: "09:00"}},
		{"someone else's patient", ScheduleRequest{DoctorID: uuid.New(), PatientID: patient, Date: "2026-11-02", Time: "09:00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ScheduleAppointment(context.Background(), tt.req)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestService_AppointmentDetails(t *testing.T) {
	svc, store, _ := newTestService()
	doc := uuid.New()
	patient := store.addPatient(doc)
	ctx := context.Background()

	res, err := svc.CreateVisit(ctx, VisitRequest{
		DoctorID: doc, PatientID: patient, DiagnosisText: "Flu",
		Medications: []MedicationLine{
			{MedicineName: "Paracetamol", Dosage: strPtr("500mg")},
			{MedicineName: "Zinc"},
			{MedicineName: "Vitamin C"},
		},
	})
	if err != nil {
		t.Fatalf("create visit: %v", err)
	}

	d, err := svc.AppointmentDetails(ctx, doc, res.AppointmentID)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if d.Prescription == nil {
		t.Fatal("expected prescription on details")
	}
	if d.Prescription.Diagnosis != "Flu" {
		t.Errorf("expected diagnosis Flu, got %q", d.Prescription.Diagnosis)
	}
	want := []string{"Paracetamol", "Zinc", "Vitamin C"}
	if len(d.Prescription.Medications) != len(want) {
		t.Fatalf("expected %d medications, got %d", len(want), len(d.Prescription.Medications))
	}
	for i, m := range d.Prescription.Medications {
		if m.MedicineName != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], m.MedicineName)
		}
	}

	if _, err := svc.AppointmentDetails(ctx, uuid.New(), res.AppointmentID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for another doctor, got %v", err)
	}
}

func TestService_PrescriptionForAppointment_None(t *testing.T) {
	svc, store, _ := newTestService()
	doc := uuid.New()
	appt := store.addAppointment(doc, store.addPatient(doc), StatusScheduled)

	_, err := svc.PrescriptionForAppointment(context.Background(), doc, appt)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestService_ListAppointments(t *testing.T) {
	svc, store, _ := newTestService()
	doc := uuid.New()
	patient := store.addPatient(doc)
	ctx := context.Background()
	for _, at := range []string{"11:00", "09:00", "10:00"} {
		if _, err := svc.ScheduleAppointment(ctx, ScheduleRequest{DoctorID: doc, PatientID: patient, Date: "2026-11-02", Time: at}); err != nil {
			t.Fatalf("schedule %s: %v", at, err)
		}
	}
	store.addAppointment(uuid.New(), store.addPatient(uuid.New()), StatusScheduled)

	items, total, err := svc.ListAppointments(ctx, doc, 2, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 {
		t.Errorf("expected total 3, got %d", total)
	}
	if len(items) != 2 || items[0].Time != "09:00:00" || items[1].Time != "10:00:00" {
		t.Errorf("unexpected page: %+v", items)
	}
}

func TestService_AddDiagnosisDeduplicates(t *testing.T) {
	svc, store, _ := newTestService()
	doc := uuid.New()
	patient := store.addPatient(doc)
	ctx := context.Background()

	a, err := svc.AddDiagnosis(ctx, doc, patient, "Hypertension")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	b, err := svc.AddDiagnosis(ctx, doc, patient, "HYPERTENSION")
	if err != nil {
		t.Fatalf("add again: %v", err)
	}
	if a != b {
		t.Error("expected the same diagnosis id")
	}

	if _, err := svc.AddDiagnosis(ctx, uuid.New(), patient, "Flu"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for another doctor, got %v", err)
	}
	if _, _, rollbacks := store.counts(); rollbacks != 1 {
		t.Errorf("expected the rejected add to roll back, got %d rollbacks", rollbacks)
	}
}

func TestService_AddCatalogMedication(t *testing.T) {
	svc, store, _ := newTestService()
	doc := uuid.New()
	patient := store.addPatient(doc)
	ctx := context.Background()
	diag, _ := svc.AddDiagnosis(ctx, doc, patient, "Flu")

	a, err := svc.AddCatalogMedication(ctx, doc, diag, "Paracetamol")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	b, _ := svc.AddCatalogMedication(ctx, doc, diag, "paracetamol")
	if a != b {
		t.Error("expected the same catalog entry")
	}

	if _, err := svc.AddCatalogMedication(ctx, doc, DiagnosisID(uuid.New()), "X"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown diagnosis, got %v", err)
	}
	if _, err := svc.AddCatalogMedication(ctx, uuid.New(), diag, "X"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for another doctor, got %v", err)
	}
}

func TestService_DeactivateThenRediagnose(t *testing.T) {
	svc, store, _ := newTestService()
	doc := uuid.New()
	patient := store.addPatient(doc)
	ctx := context.Background()

	first, _ := svc.AddDiagnosis(ctx, doc, patient, "Flu")
	d, err := svc.DeactivateDiagnosis(ctx, doc, first)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if d.IsActive {
		t.Error("expected inactive diagnosis")
	}
	second, _ := svc.AddDiagnosis(ctx, doc, patient, "Flu")
	if first == second {
		t.Error("expected a fresh diagnosis after deactivation")
	}

	list, err := svc.ListDiagnoses(ctx, doc, patient)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 diagnoses, got %d", len(list))
	}

	if _, err := svc.DeactivateDiagnosis(ctx, uuid.New(), second); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for another doctor, got %v", err)
	}
}

func TestService_AddDiagnosisPanicRollsBack(t *testing.T) {
	svc, store, _ := newTestService()
	doc := uuid.New()
	patient := store.addPatient(doc)
	store.panicOn["InsertDiagnosis"] = 1

	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Error("expected the panic to propagate")
			}
		}()
		_, _ = svc.AddDiagnosis(context.Background(), doc, patient, "Flu")
	}()

	if _, commits, rollbacks := store.counts(); commits != 0 || rollbacks != 1 {
		t.Errorf("expected 0 commits and 1 rollback, got %d and %d", commits, rollbacks)
	}

	delete(store.panicOn, "InsertDiagnosis")
	done := make(chan error, 1)
	go func() {
		_, err := svc.AddDiagnosis(context.Background(), doc, patient, "Flu")
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("add after panic: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transaction left open after panic")
	}
}

func TestService_RollbackFailureIsLogged(t *testing.T) {
	store := newMemStore()
	var buf bytes.Buffer
	svc := NewService(store, store, events.Nop, zerolog.New(&buf))
	doc := uuid.New()
	patient := store.addPatient(doc)
	store.failOn["InsertDiagnosis"] = 1
	store.rollbackErr = errors.New("connection reset")

	if _, err := svc.AddDiagnosis(context.Background(), doc, patient, "Flu"); !errors.Is(err, ErrServer) {
		t.Fatalf("expected ErrServer, got %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "catalog rollback failed") || !strings.Contains(out, "connection reset") {
		t.Errorf("expected rollback failure in log, got %q", out)
	}
}
