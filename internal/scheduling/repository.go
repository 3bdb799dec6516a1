package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrNotMatched signals that a conditional update found no row in the
	// expected state. It is the not-matched leg of the CAS primitive.
	ErrNotMatched = errors.New("conditional update matched no row")
)

type SlotQuery struct {
	DoctorID uuid.UUID
	Status   SlotStatus
	From     *time.Time
	To       *time.Time
}

type AppointmentQuery struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
}

// Repository contains all store interactions needed by the service.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListActiveDoctors(ctx context.Context) ([]Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	// ListSlots returns slots matching q ordered ascending by start time.
	ListSlots(ctx context.Context, q SlotQuery) ([]Slot, error)
	// InsertSlots inserts a batch, silently skipping rows that collide on
	// (doctor_id, start_time). Returns the number actually inserted.
	InsertSlots(ctx context.Context, slots []Slot) (int, error)

	// TransitionSlot atomically moves a slot from one status to another.
	// Returns ErrNotMatched when the slot is missing or not in `from`.
	TransitionSlot(ctx context.Context, id uuid.UUID, from, to SlotStatus) (*Slot, error)
	// SetSlotStatus unconditionally sets a slot's status. Only release and
	// compensation paths may use it.
	SetSlotStatus(ctx context.Context, id uuid.UUID, to SlotStatus) (*Slot, error)

	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	UpdateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	// MarkAppointmentCancelled moves an appointment to CANCELLED unless it
	// already is. The bool reports whether this call did the transition, so
	// exactly one caller ever releases the underlying slot.
	MarkAppointmentCancelled(ctx context.Context, id uuid.UUID) (*Appointment, bool, error)

	// FindActiveAppointment backs the duplicate-booking guard: a
	// non-cancelled appointment for (patient, doctor) created inside the
	// given window, or ErrAppointmentNotFound.
	FindActiveAppointment(ctx context.Context, patientID, doctorID uuid.UUID, from, to time.Time) (*Appointment, error)
	ListAppointments(ctx context.Context, q AppointmentQuery) ([]Appointment, error)

	InsertAudit(ctx context.Context, ev AuditEvent) error
}
