package visit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var errInjected = errors.New("injected failure")

type memDiagnosis struct {
	id, patientID, doctorID uuid.UUID
	text                    string
	active                  bool
}

type memMedication struct {
	id, diagnosisID uuid.UUID
	name            string
}

type memLine struct {
	prescriptionID, medicationID uuid.UUID
	position                     int
	line                         MedicationLine
}

type memPrescription struct {
	id  uuid.UUID
	row PrescriptionRow
}

type memState struct {
	patients      map[uuid.UUID]uuid.UUID // patient -> owning doctor
	appointments  map[uuid.UUID]Appointment
	diagnoses     map[uuid.UUID]memDiagnosis
	medications   map[uuid.UUID]memMedication
	prescriptions map[uuid.UUID]memPrescription
	lines         []memLine
}

func newMemState() *memState {
	return &memState{
		patients:      map[uuid.UUID]uuid.UUID{},
		appointments:  map[uuid.UUID]Appointment{},
		diagnoses:     map[uuid.UUID]memDiagnosis{},
		medications:   map[uuid.UUID]memMedication{},
		prescriptions: map[uuid.UUID]memPrescription{},
	}
}

// slotTaken mirrors the partial unique index: only booked appointments
// compete for a doctor's slot.
func (s *memState) slotTaken(a *Appointment) bool {
	for _, ex := range s.appointments {
		if !ex.WalkIn && ex.DoctorID == a.DoctorID && ex.Date == a.Date && ex.Time == a.Time {
			return true
		}
	}
	return false
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.patients {
		c.patients[k] = v
	}
	for k, v := range s.appointments {
		c.appointments[k] = v
	}
	for k, v := range s.diagnoses {
		c.diagnoses[k] = v
	}
	for k, v := range s.medications {
		c.medications[k] = v
	}
	for k, v := range s.prescriptions {
		c.prescriptions[k] = v
	}
	c.lines = append([]memLine(nil), s.lines...)
	return c
}

// memStore serializes transactions: Begin takes the lock and Commit or
// Rollback releases it. Each transaction works on a copy of the state that
// replaces the committed state only on commit.
type memStore struct {
	txMu sync.Mutex

	mu        sync.Mutex
	state     *memState
	begins    int
	commits   int
	rollbacks int

	// failOn makes the nth call (1-based, per transaction) of an operation
	// return errInjected; panicOn makes it panic instead.
	failOn  map[string]int
	panicOn map[string]int

	// rollbackErr is returned by Rollback after the transaction is released.
	rollbackErr error
}

func newMemStore() *memStore {
	return &memStore{state: newMemState(), failOn: map[string]int{}, panicOn: map[string]int{}}
}

func (s *memStore) addPatient(owner uuid.UUID) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.state.patients[id] = owner
	return id
}

func (s *memStore) addAppointment(doctorID, patientID uuid.UUID, status Status) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.state.appointments[id] = Appointment{
		ID: id, DoctorID: doctorID, PatientID: patientID,
		Date: "2026-10-18", Time: "09:00:00", Status: status, CreatedAt: time.Now(),
	}
	return id
}

func (s *memStore) snapshot() *memState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

func (s *memStore) counts() (begins, commits, rollbacks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begins, s.commits, s.rollbacks
}

func (s *memStore) Begin(ctx context.Context) (Tx, error) {
	s.txMu.Lock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins++
	return &memTx{store: s, state: s.state.clone(), calls: map[string]int{}}, nil
}

func (s *memStore) TransitionStatus(_ context.Context, appointmentID, doctorID uuid.UUID, from, to Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.state.appointments[appointmentID]
	if !ok || a.DoctorID != doctorID || a.Status != from {
		return 0, nil
	}
	a.Status = to
	s.state.appointments[appointmentID] = a
	return 1, nil
}

type memTx struct {
	store *memStore
	state *memState
	calls map[string]int
	done  bool
}

func (t *memTx) hit(op string) error {
	t.calls[op]++
	if n, ok := t.store.panicOn[op]; ok && n == t.calls[op] {
		panic("injected panic in " + op)
	}
	if n, ok := t.store.failOn[op]; ok && n == t.calls[op] {
		return errInjected
	}
	return nil
}

func (t *memTx) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	if err := t.hit("GetAppointment"); err != nil {
		return nil, err
	}
	a, ok := t.state.appointments[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (t *memTx) PatientOwner(_ context.Context, patientID uuid.UUID) (uuid.UUID, bool, error) {
	if err := t.hit("PatientOwner"); err != nil {
		return uuid.Nil, false, err
	}
	owner, ok := t.state.patients[patientID]
	return owner, ok, nil
}

func (t *memTx) DiagnosisPatient(_ context.Context, id DiagnosisID) (uuid.UUID, bool, error) {
	d, ok := t.state.diagnoses[id.UUID()]
	return d.patientID, ok, nil
}

func (t *memTx) InsertAppointment(_ context.Context, a *Appointment) error {
	if err := t.hit("InsertAppointment"); err != nil {
		return err
	}
	if !a.WalkIn && t.state.slotTaken(a) {
		return ErrDoubleBooked
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	t.state.appointments[a.ID] = *a
	return nil
}

func (t *memTx) FindActiveDiagnosis(_ context.Context, patientID uuid.UUID, text string) (DiagnosisID, bool, error) {
	if err := t.hit("FindActiveDiagnosis"); err != nil {
		return DiagnosisID{}, false, err
	}
	for _, d := range t.state.diagnoses {
		if d.patientID == patientID && d.active && strings.EqualFold(d.text, text) {
			return DiagnosisID(d.id), true, nil
		}
	}
	return DiagnosisID{}, false, nil
}

func (t *memTx) InsertDiagnosis(_ context.Context, patientID, doctorID uuid.UUID, text string) (DiagnosisID, error) {
	if err := t.hit("InsertDiagnosis"); err != nil {
		return DiagnosisID{}, err
	}
	for _, d := range t.state.diagnoses {
		if d.patientID == patientID && d.active && strings.EqualFold(d.text, text) {
			return DiagnosisID{}, ErrCatalogConflict
		}
	}
	id := uuid.New()
	t.state.diagnoses[id] = memDiagnosis{id: id, patientID: patientID, doctorID: doctorID, text: text, active: true}
	return DiagnosisID(id), nil
}

func (t *memTx) FindMedication(_ context.Context, diagnosisID DiagnosisID, name string) (MedicationID, bool, error) {
	if err := t.hit("FindMedication"); err != nil {
		return MedicationID{}, false, err
	}
	for _, m := range t.state.medications {
		if m.diagnosisID == diagnosisID.UUID() && strings.EqualFold(m.name, name) {
			return MedicationID(m.id), true, nil
		}
	}
	return MedicationID{}, false, nil
}

func (t *memTx) InsertMedication(_ context.Context, diagnosisID DiagnosisID, name string) (MedicationID, error) {
	if err := t.hit("InsertMedication"); err != nil {
		return MedicationID{}, err
	}
	for _, m := range t.state.medications {
		if m.diagnosisID == diagnosisID.UUID() && strings.EqualFold(m.name, name) {
			return MedicationID{}, ErrCatalogConflict
		}
	}
	id := uuid.New()
	t.state.medications[id] = memMedication{id: id, diagnosisID: diagnosisID.UUID(), name: name}
	return MedicationID(id), nil
}

func (t *memTx) InsertPrescription(_ context.Context, p PrescriptionRow) (PrescriptionID, error) {
	if err := t.hit("InsertPrescription"); err != nil {
		return PrescriptionID{}, err
	}
	for _, ex := range t.state.prescriptions {
		if ex.row.AppointmentID == p.AppointmentID {
			return PrescriptionID{}, ErrPrescriptionExists
		}
	}
	id := uuid.New()
	t.state.prescriptions[id] = memPrescription{id: id, row: p}
	return PrescriptionID(id), nil
}

func (t *memTx) InsertPrescriptionMedication(_ context.Context, id PrescriptionID, medicationID MedicationID, position int, line MedicationLine) error {
	if err := t.hit("InsertPrescriptionMedication"); err != nil {
		return err
	}
	t.state.lines = append(t.state.lines, memLine{
		prescriptionID: id.UUID(), medicationID: medicationID.UUID(), position: position, line: line,
	})
	return nil
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return errors.New("transaction already closed")
	}
	t.done = true
	t.store.mu.Lock()
	t.store.state = t.state
	t.store.commits++
	t.store.mu.Unlock()
	t.store.txMu.Unlock()
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Lock()
	t.store.rollbacks++
	t.store.mu.Unlock()
	t.store.txMu.Unlock()
	return t.store.rollbackErr
}

// Repository side. Reads see committed state only.

func (s *memStore) CreateAppointment(_ context.Context, a *Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.state.patients[a.PatientID]; !ok || owner != a.DoctorID {
		return ErrNotFound
	}
	if s.state.slotTaken(a) {
		return ErrDoubleBooked
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	s.state.appointments[a.ID] = *a
	return nil
}

func (s *memStore) ListAppointments(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]*AppointmentSummary, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []*AppointmentSummary
	for _, a := range s.state.appointments {
		if a.DoctorID != doctorID {
			continue
		}
		all = append(all, &AppointmentSummary{
			ID: a.ID, PatientID: a.PatientID, Date: a.Date, Time: a.Time, Status: a.Status,
		})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Date != all[j].Date {
			return all[i].Date < all[j].Date
		}
		return all[i].Time < all[j].Time
	})
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *memStore) GetAppointmentDetails(ctx context.Context, doctorID, appointmentID uuid.UUID) (*AppointmentDetails, error) {
	s.mu.Lock()
	a, ok := s.state.appointments[appointmentID]
	s.mu.Unlock()
	if !ok || a.DoctorID != doctorID {
		return nil, fmt.Errorf("appointment %s: %w", appointmentID, ErrNotFound)
	}
	d := &AppointmentDetails{Appointment: a, PatientName: "patient-" + a.PatientID.String()[:8]}
	p, err := s.GetPrescriptionByAppointment(ctx, doctorID, appointmentID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, err
	default:
		d.Prescription = p
	}
	return d, nil
}

func (s *memStore) GetPrescriptionByAppointment(_ context.Context, doctorID, appointmentID uuid.UUID) (*PrescriptionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.state.prescriptions {
		if p.row.AppointmentID != appointmentID || p.row.DoctorID != doctorID {
			continue
		}
		v := &PrescriptionView{
			ID:            p.id,
			AppointmentID: appointmentID,
			Diagnosis:     s.state.diagnoses[p.row.DiagnosisID.UUID()].text,
			Instructions:  p.row.Instructions,
			Medications:   []PrescribedMedication{},
		}
		for _, l := range s.state.lines {
			if l.prescriptionID != p.id {
				continue
			}
			v.Medications = append(v.Medications, PrescribedMedication{
				Position:     l.position,
				MedicineName: s.state.medications[l.medicationID].name,
				Dosage:       l.line.Dosage,
				Frequency:    l.line.Frequency,
				Duration:     l.line.Duration,
			})
		}
		sort.Slice(v.Medications, func(i, j int) bool { return v.Medications[i].Position < v.Medications[j].Position })
		return v, nil
	}
	return nil, fmt.Errorf("prescription for appointment %s: %w", appointmentID, ErrNotFound)
}

func (s *memStore) ListDiagnosesByPatient(_ context.Context, doctorID, patientID uuid.UUID) ([]*Diagnosis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if owner, ok := s.state.patients[patientID]; !ok || owner != doctorID {
		return nil, nil
	}
	var out []*Diagnosis
	for _, d := range s.state.diagnoses {
		if d.patientID != patientID {
			continue
		}
		item := &Diagnosis{
			ID: d.id, PatientID: d.patientID, DoctorID: d.doctorID,
			DiagnosisText: d.text, IsActive: d.active,
		}
		for _, m := range s.state.medications {
			if m.diagnosisID == d.id {
				item.Medications = append(item.Medications, CatalogMedication{
					ID: m.id, DiagnosisID: d.id, MedicineName: m.name,
				})
			}
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DiagnosisText < out[j].DiagnosisText })
	return out, nil
}

func (s *memStore) DeactivateDiagnosis(_ context.Context, doctorID uuid.UUID, id DiagnosisID) (*Diagnosis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.state.diagnoses[id.UUID()]
	if !ok || s.state.patients[d.patientID] != doctorID {
		return nil, fmt.Errorf("diagnosis %s: %w", id, ErrNotFound)
	}
	d.active = false
	s.state.diagnoses[d.id] = d
	return &Diagnosis{
		ID: d.id, PatientID: d.patientID, DoctorID: d.doctorID, DiagnosisText: d.text, IsActive: false,
	}, nil
}
