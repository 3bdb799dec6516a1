package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "AVAILABLE"
	SlotBooked    SlotStatus = "BOOKED"
	SlotBlocked   SlotStatus = "BLOCKED"
	SlotCancelled SlotStatus = "CANCELLED"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "PENDING"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCancelled AppointmentStatus = "CANCELLED"
)

func (s AppointmentStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed out of s.
func (s AppointmentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

func (r Role) IsValid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// WorkingHours is a doctor's daily window as local clock strings, e.g. "09:00".
type WorkingHours struct {
	Start string
	End   string
}

type Doctor struct {
	ID           uuid.UUID
	Name         string
	Specialty    *string
	WorkingHours WorkingHours
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Slot is a fixed-duration bookable window owned by one doctor.
// (doctor_id, start_time) is unique in the store.
type Slot struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	StartTime time.Time
	EndTime   time.Time
	Status    SlotStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Appointment ties a patient to exactly one slot. DoctorID is denormalized
// from the slot at booking time and kept in sync on reschedule.
type Appointment struct {
	ID        uuid.UUID
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	SlotID    uuid.UUID
	Status    AppointmentStatus
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type AuditEvent struct {
	ID            int64
	Action        string
	ActorID       uuid.UUID
	ActorRole     Role
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
