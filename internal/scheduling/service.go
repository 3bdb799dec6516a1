package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ActionSlotsGenerated         = "SLOTS_GENERATED"
	ActionAppointmentBooked      = "APPOINTMENT_BOOKED"
	ActionAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	ActionAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	ActionAppointmentUpdated     = "APPOINTMENT_UPDATED"
)

var (
	ErrInvalidInput            = errors.New("invalid input")
	ErrDoctorInactive          = errors.New("doctor is not active")
	ErrSlotUnavailable         = errors.New("slot is already booked or unavailable")
	ErrDuplicateBooking        = errors.New("patient already has an appointment with this doctor on this day")
	ErrForbidden               = errors.New("caller is not authorized for this appointment")
	ErrInvalidStatusTransition = errors.New("appointment is in a terminal status")

	// ErrCompensationFailed means a slot was moved to BOOKED, the follow-up
	// write failed, and the revert to AVAILABLE failed too. The slot is
	// stranded until an operator reconciles it.
	ErrCompensationFailed = errors.New("slot revert failed, manual reconciliation required")
)

// AppointmentUpdate carries the admin edit surface. Nil fields are left
// untouched; NewSlotID triggers a reschedule before any status change is
// applied.
type AppointmentUpdate struct {
	Status    *AppointmentStatus
	Notes     *string
	NewSlotID *uuid.UUID
}

type Service struct {
	repo  Repository
	cache *SlotCache
	log   *zap.Logger
}

// NewService wires the scheduling service. cache may be nil, in which case
// every slot listing goes straight to the store.
func NewService(repo Repository, cache *SlotCache, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, cache: cache, log: log}
}

// GenerateSlots expands the doctor's working hours on the given date and
// inserts the candidates. Re-running for a date that already has slots is a
// no-op for the existing rows; only newly inserted slots are counted.
func (s *Service) GenerateSlots(ctx context.Context, callerID uuid.UUID, callerRole Role, doctorID uuid.UUID, date time.Time, durationMinutes int) (int, error) {
	if callerRole == RoleDoctor && callerID != doctorID {
		return 0, ErrForbidden
	}

	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		return 0, err
	}
	if !doctor.IsActive {
		return 0, ErrDoctorInactive
	}

	slots, err := BuildSlots(doctor, date, durationMinutes)
	if err != nil {
		return 0, err
	}
	if len(slots) == 0 {
		return 0, nil
	}

	created, err := s.repo.InsertSlots(ctx, slots)
	if err != nil {
		return 0, fmt.Errorf("insert slots: %w", err)
	}

	s.invalidateSlotDay(ctx, doctorID, date)
	s.audit(ctx, callerID, callerRole, nil, ActionSlotsGenerated, map[string]any{
		"doctor_id": doctorID.String(),
		"date":      date.Format("2006-01-02"),
		"duration":  durationMinutes,
		"created":   created,
	})

	return created, nil
}

// ListAvailableSlots returns a doctor's AVAILABLE slots ascending by start
// time, optionally scoped to one calendar day. Day-scoped listings are
// served read-through from the cache when one is configured.
func (s *Service) ListAvailableSlots(ctx context.Context, doctorID uuid.UUID, date *time.Time) ([]Slot, error) {
	if date != nil && s.cache != nil {
		if slots, ok := s.cache.Get(ctx, doctorID, *date); ok {
			return slots, nil
		}
	}

	q := SlotQuery{DoctorID: doctorID, Status: SlotAvailable}
	if date != nil {
		from, to := dayBounds(*date)
		q.From, q.To = &from, &to
	}

	slots, err := s.repo.ListSlots(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}

	if date != nil && s.cache != nil {
		s.cache.Set(ctx, doctorID, *date, slots)
	}

	return slots, nil
}

func (s *Service) ListDoctors(ctx context.Context) ([]Doctor, error) {
	return s.repo.ListActiveDoctors(ctx)
}

// Book reserves a slot for a patient. Under concurrent calls for the same
// slot exactly one caller wins the AVAILABLE -> BOOKED transition; everyone
// else gets ErrSlotUnavailable and leaves no trace. If the appointment row
// cannot be created after the transition, the slot is reverted before the
// error is surfaced.
func (s *Service) Book(ctx context.Context, patientID, slotID uuid.UUID, notes string) (*Appointment, error) {
	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		return nil, err
	}

	slot, err := s.repo.GetSlotByID(ctx, slotID)
	if err != nil {
		return nil, err
	}

	// Courtesy check only: two racing requests by the same patient can both
	// pass. The per-slot CAS below is the hard guarantee.
	dayStart, dayEnd := dayBounds(slot.StartTime)
	existing, err := s.repo.FindActiveAppointment(ctx, patientID, slot.DoctorID, dayStart, dayEnd)
	if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
		return nil, fmt.Errorf("duplicate booking check: %w", err)
	}
	if existing != nil {
		return nil, ErrDuplicateBooking
	}

	booked, err := s.repo.TransitionSlot(ctx, slotID, SlotAvailable, SlotBooked)
	if err != nil {
		if errors.Is(err, ErrNotMatched) {
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("transition slot: %w", err)
	}

	appt, err := s.createAppointmentOrRevert(ctx, &Appointment{
		ID:        uuid.New(),
		PatientID: patientID,
		DoctorID:  booked.DoctorID,
		SlotID:    booked.ID,
		Status:    StatusConfirmed,
		Notes:     notes,
	})
	if err != nil {
		return nil, err
	}

	s.invalidateSlotDay(ctx, booked.DoctorID, booked.StartTime)
	s.audit(ctx, patientID, RolePatient, &appt.ID, ActionAppointmentBooked, map[string]any{
		"slot_id":   booked.ID.String(),
		"doctor_id": booked.DoctorID.String(),
	})

	return appt, nil
}

// AdminCreateAppointment books a slot on a patient's behalf. It bypasses the
// duplicate-booking guard but follows the same transition and compensation
// discipline as Book.
func (s *Service) AdminCreateAppointment(ctx context.Context, adminID, patientID, slotID uuid.UUID, notes string) (*Appointment, error) {
	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetSlotByID(ctx, slotID); err != nil {
		return nil, err
	}

	booked, err := s.repo.TransitionSlot(ctx, slotID, SlotAvailable, SlotBooked)
	if err != nil {
		if errors.Is(err, ErrNotMatched) {
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("transition slot: %w", err)
	}

	appt, err := s.createAppointmentOrRevert(ctx, &Appointment{
		ID:        uuid.New(),
		PatientID: patientID,
		DoctorID:  booked.DoctorID,
		SlotID:    booked.ID,
		Status:    StatusConfirmed,
		Notes:     notes,
	})
	if err != nil {
		return nil, err
	}

	s.invalidateSlotDay(ctx, booked.DoctorID, booked.StartTime)
	s.audit(ctx, adminID, RoleAdmin, &appt.ID, ActionAppointmentBooked, map[string]any{
		"slot_id":    booked.ID.String(),
		"doctor_id":  booked.DoctorID.String(),
		"patient_id": patientID.String(),
		"on_behalf":  true,
	})

	return appt, nil
}

// createAppointmentOrRevert inserts the appointment row and, on failure,
// compensates by reverting the freshly booked slot to AVAILABLE so no slot
// is left BOOKED without an owner.
func (s *Service) createAppointmentOrRevert(ctx context.Context, a *Appointment) (*Appointment, error) {
	appt, err := s.repo.CreateAppointment(ctx, a)
	if err == nil {
		return appt, nil
	}

	if _, revErr := s.repo.SetSlotStatus(ctx, a.SlotID, SlotAvailable); revErr != nil {
		s.log.Error("slot stranded in BOOKED after failed appointment create",
			zap.String("slot_id", a.SlotID.String()),
			zap.NamedError("create_error", err),
			zap.NamedError("revert_error", revErr),
		)
		return nil, fmt.Errorf("%w: slot %s: %v", ErrCompensationFailed, a.SlotID, revErr)
	}

	return nil, fmt.Errorf("create appointment: %w", err)
}

// Cancel moves an appointment to CANCELLED and releases its slot. Only the
// owning patient, the owning doctor, or an admin may cancel. Cancelling an
// already-cancelled appointment is a no-op success and never releases the
// slot a second time.
func (s *Service) Cancel(ctx context.Context, callerID uuid.UUID, callerRole Role, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	switch callerRole {
	case RoleAdmin:
	case RolePatient:
		if appt.PatientID != callerID {
			return nil, ErrForbidden
		}
	case RoleDoctor:
		if appt.DoctorID != callerID {
			return nil, ErrForbidden
		}
	default:
		return nil, ErrForbidden
	}

	if appt.Status == StatusCancelled {
		return appt, nil
	}

	updated, transitioned, err := s.repo.MarkAppointmentCancelled(ctx, appt.ID)
	if err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}
	if !transitioned {
		// A concurrent caller got there first and owns the slot release.
		return updated, nil
	}

	s.releaseSlot(ctx, updated.SlotID, "cancellation")
	s.audit(ctx, callerID, callerRole, &updated.ID, ActionAppointmentCancelled, map[string]any{
		"slot_id": updated.SlotID.String(),
	})

	return updated, nil
}

// Reschedule moves an appointment to a new AVAILABLE slot. The new slot is
// acquired first; only then is the old one released, so a failed acquire
// leaves the booking untouched.
func (s *Service) Reschedule(ctx context.Context, adminID, appointmentID, newSlotID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.Status.IsTerminal() {
		return nil, ErrInvalidStatusTransition
	}
	if appt.SlotID == newSlotID {
		return appt, nil
	}

	return s.moveToSlot(ctx, adminID, appt, newSlotID, StatusConfirmed)
}

// moveToSlot performs the ordered reschedule: (a) CAS the new slot to
// BOOKED, aborting on failure; (b) release the old slot, logging but not
// failing if the release errors; (c) update the appointment row.
func (s *Service) moveToSlot(ctx context.Context, actorID uuid.UUID, appt *Appointment, newSlotID uuid.UUID, status AppointmentStatus) (*Appointment, error) {
	newSlot, err := s.repo.TransitionSlot(ctx, newSlotID, SlotAvailable, SlotBooked)
	if err != nil {
		if errors.Is(err, ErrNotMatched) {
			if _, getErr := s.repo.GetSlotByID(ctx, newSlotID); errors.Is(getErr, ErrSlotNotFound) {
				return nil, ErrSlotNotFound
			}
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("transition new slot: %w", err)
	}

	oldSlotID := appt.SlotID
	s.releaseSlot(ctx, oldSlotID, "reschedule")

	appt.SlotID = newSlot.ID
	appt.DoctorID = newSlot.DoctorID
	appt.Status = status

	updated, err := s.repo.UpdateAppointment(ctx, appt)
	if err != nil {
		// Undo best-effort: free the new slot and try to take the old one
		// back so the patient keeps a booking.
		if _, revErr := s.repo.SetSlotStatus(ctx, newSlot.ID, SlotAvailable); revErr != nil {
			s.log.Error("failed to revert new slot after reschedule write error",
				zap.String("slot_id", newSlot.ID.String()), zap.Error(revErr))
		}
		if _, reErr := s.repo.TransitionSlot(ctx, oldSlotID, SlotAvailable, SlotBooked); reErr != nil {
			s.log.Error("failed to re-book old slot after reschedule write error",
				zap.String("slot_id", oldSlotID.String()), zap.Error(reErr))
		}
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	s.invalidateSlotDay(ctx, newSlot.DoctorID, newSlot.StartTime)
	s.audit(ctx, actorID, RoleAdmin, &updated.ID, ActionAppointmentRescheduled, map[string]any{
		"old_slot_id": oldSlotID.String(),
		"new_slot_id": newSlot.ID.String(),
	})

	return updated, nil
}

// UpdateAppointment is the admin edit surface: optional reschedule, then an
// optional status change, then notes. A status change to CANCELLED releases
// the slot the appointment holds at that point, i.e. the new slot if a
// reschedule was part of the same call. Status edits out of a terminal state
// are rejected, except COMPLETED to CANCELLED.
func (s *Service) UpdateAppointment(ctx context.Context, adminID, appointmentID uuid.UUID, upd AppointmentUpdate) (*Appointment, error) {
	if upd.Status != nil && !upd.Status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *upd.Status)
	}

	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}

	// A terminal appointment cannot be reopened; its slot was already
	// released or handed on. COMPLETED -> CANCELLED stays allowed, the same
	// transition Cancel performs.
	if upd.Status != nil && *upd.Status != appt.Status && appt.Status.IsTerminal() && *upd.Status != StatusCancelled {
		return nil, ErrInvalidStatusTransition
	}

	rescheduled := false
	if upd.NewSlotID != nil && *upd.NewSlotID != appt.SlotID {
		if appt.Status.IsTerminal() {
			return nil, ErrInvalidStatusTransition
		}
		status := StatusConfirmed
		if upd.Status != nil && *upd.Status != StatusCancelled {
			status = *upd.Status
		}
		appt, err = s.moveToSlot(ctx, adminID, appt, *upd.NewSlotID, status)
		if err != nil {
			return nil, err
		}
		rescheduled = true
	}

	if upd.Status != nil && *upd.Status == StatusCancelled && appt.Status != StatusCancelled {
		updated, transitioned, err := s.repo.MarkAppointmentCancelled(ctx, appt.ID)
		if err != nil {
			return nil, fmt.Errorf("cancel appointment: %w", err)
		}
		if transitioned {
			s.releaseSlot(ctx, updated.SlotID, "admin cancellation")
		}
		appt = updated
	} else if upd.Status != nil {
		appt.Status = *upd.Status
	}

	if upd.Notes != nil {
		appt.Notes = *upd.Notes
	}

	// moveToSlot already persisted a non-cancel status change.
	if upd.Notes != nil || (upd.Status != nil && *upd.Status != StatusCancelled && !rescheduled) {
		appt, err = s.repo.UpdateAppointment(ctx, appt)
		if err != nil {
			return nil, fmt.Errorf("update appointment: %w", err)
		}
	}

	s.audit(ctx, adminID, RoleAdmin, &appt.ID, ActionAppointmentUpdated, map[string]any{
		"status": string(appt.Status),
	})

	return appt, nil
}

// ListAppointments is caller-scoped: a patient sees their own bookings, a
// doctor their schedule, an admin everything.
func (s *Service) ListAppointments(ctx context.Context, callerID uuid.UUID, callerRole Role) ([]Appointment, error) {
	var q AppointmentQuery
	switch callerRole {
	case RolePatient:
		q.PatientID = &callerID
	case RoleDoctor:
		q.DoctorID = &callerID
	case RoleAdmin:
	default:
		return nil, ErrForbidden
	}
	return s.repo.ListAppointments(ctx, q)
}

// releaseSlot returns a slot to AVAILABLE. The caller must already hold
// exclusive logical ownership (a won cancel CAS or a reschedule). Failure is
// logged for reconciliation, never surfaced: the appointment-side state has
// already been decided.
func (s *Service) releaseSlot(ctx context.Context, slotID uuid.UUID, reason string) {
	slot, err := s.repo.SetSlotStatus(ctx, slotID, SlotAvailable)
	if err != nil {
		s.log.Error("failed to release slot",
			zap.String("slot_id", slotID.String()),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return
	}
	s.invalidateSlotDay(ctx, slot.DoctorID, slot.StartTime)
}

func (s *Service) invalidateSlotDay(ctx context.Context, doctorID uuid.UUID, day time.Time) {
	if s.cache != nil {
		s.cache.InvalidateDay(ctx, doctorID, day)
	}
}

// audit records a domain event best-effort. Delivery failures are logged and
// never fail the operation that produced them.
func (s *Service) audit(ctx context.Context, actorID uuid.UUID, role Role, appointmentID *uuid.UUID, action string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal audit payload", zap.String("action", action), zap.Error(err))
		data = nil
	}

	ev := AuditEvent{
		Action:        action,
		ActorID:       actorID,
		ActorRole:     role,
		AppointmentID: appointmentID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertAudit(ctx, ev); err != nil {
		s.log.Warn("failed to insert audit event", zap.String("action", action), zap.Error(err))
	}
}
