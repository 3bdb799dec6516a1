package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository with the same conditional
// update semantics as the Postgres implementation, including the
// (doctor_id, start_time) slot uniqueness and the one-active-appointment-
// per-slot constraint. A single mutex serializes operations the way the
// database serializes row updates, which makes it a faithful stand-in for
// concurrency tests and local development.
type MemoryRepository struct {
	mu           sync.Mutex
	doctors      map[uuid.UUID]Doctor
	patients     map[uuid.UUID]Patient
	slots        map[uuid.UUID]Slot
	appointments map[uuid.UUID]Appointment
	audits       []AuditEvent
	nextAuditID  int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors:      make(map[uuid.UUID]Doctor),
		patients:     make(map[uuid.UUID]Patient),
		slots:        make(map[uuid.UUID]Slot),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

// Seed helpers

func (r *MemoryRepository) AddDoctor(d Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
		d.UpdatedAt = d.CreatedAt
	}
	r.doctors[d.ID] = d
}

func (r *MemoryRepository) AddPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
		p.UpdatedAt = p.CreatedAt
	}
	r.patients[p.ID] = p
}

func (r *MemoryRepository) AddSlot(s Slot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
		s.UpdatedAt = s.CreatedAt
	}
	r.slots[s.ID] = s
}

// AuditEvents returns a copy of everything recorded so far.
func (r *MemoryRepository) AuditEvents() []AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AuditEvent, len(r.audits))
	copy(out, r.audits)
	return out
}

// Repository implementation

func (r *MemoryRepository) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) ListActiveDoctors(_ context.Context) ([]Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Doctor
	for _, d := range r.doctors {
		if d.IsActive {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetSlotByID(_ context.Context, id uuid.UUID) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (r *MemoryRepository) ListSlots(_ context.Context, q SlotQuery) ([]Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Slot
	for _, s := range r.slots {
		if s.DoctorID != q.DoctorID || s.Status != q.Status {
			continue
		}
		if q.From != nil && s.StartTime.Before(*q.From) {
			continue
		}
		if q.To != nil && s.StartTime.After(*q.To) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (r *MemoryRepository) InsertSlots(_ context.Context, slots []Slot) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := 0
	for _, s := range slots {
		if r.slotExistsLocked(s.DoctorID, s.StartTime) {
			continue
		}
		now := time.Now()
		s.CreatedAt = now
		s.UpdatedAt = now
		r.slots[s.ID] = s
		created++
	}
	return created, nil
}

func (r *MemoryRepository) slotExistsLocked(doctorID uuid.UUID, start time.Time) bool {
	for _, existing := range r.slots {
		if existing.DoctorID == doctorID && existing.StartTime.Equal(start) {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) TransitionSlot(_ context.Context, id uuid.UUID, from, to SlotStatus) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok || s.Status != from {
		return nil, ErrNotMatched
	}
	s.Status = to
	s.UpdatedAt = time.Now()
	r.slots[id] = s
	return &s, nil
}

func (r *MemoryRepository) SetSlotStatus(_ context.Context, id uuid.UUID, to SlotStatus) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	s.Status = to
	s.UpdatedAt = time.Now()
	r.slots[id] = s
	return &s, nil
}

func (r *MemoryRepository) CreateAppointment(_ context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.appointments {
		if existing.SlotID == a.SlotID && existing.Status != StatusCancelled {
			return nil, fmt.Errorf("slot %s already has an active appointment", a.SlotID)
		}
	}

	stored := *a
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.appointments[stored.ID] = stored
	return &stored, nil
}

func (r *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) UpdateAppointment(_ context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.appointments[a.ID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	stored.DoctorID = a.DoctorID
	stored.SlotID = a.SlotID
	stored.Status = a.Status
	stored.Notes = a.Notes
	stored.UpdatedAt = time.Now()
	r.appointments[a.ID] = stored
	return &stored, nil
}

func (r *MemoryRepository) MarkAppointmentCancelled(_ context.Context, id uuid.UUID) (*Appointment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, false, ErrAppointmentNotFound
	}
	if a.Status == StatusCancelled {
		return &a, false, nil
	}
	a.Status = StatusCancelled
	a.UpdatedAt = time.Now()
	r.appointments[id] = a
	return &a, true, nil
}

func (r *MemoryRepository) FindActiveAppointment(_ context.Context, patientID, doctorID uuid.UUID, from, to time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.appointments {
		if a.PatientID != patientID || a.DoctorID != doctorID || a.Status == StatusCancelled {
			continue
		}
		if a.CreatedAt.Before(from) || a.CreatedAt.After(to) {
			continue
		}
		found := a
		return &found, nil
	}
	return nil, ErrAppointmentNotFound
}

func (r *MemoryRepository) ListAppointments(_ context.Context, q AppointmentQuery) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Appointment
	for _, a := range r.appointments {
		if q.PatientID != nil && a.PatientID != *q.PatientID {
			continue
		}
		if q.DoctorID != nil && a.DoctorID != *q.DoctorID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) InsertAudit(_ context.Context, ev AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextAuditID++
	ev.ID = r.nextAuditID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	r.audits = append(r.audits, ev)
	return nil
}
