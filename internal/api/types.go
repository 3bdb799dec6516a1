package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type GenerateSlotsRequest struct {
	DoctorID        string `json:"doctor_id"`
	Date            string `json:"date"` // YYYY-MM-DD
	DurationMinutes int    `json:"duration_minutes"`
}

type GenerateSlotsResponse struct {
	Created int `json:"created"`
}

type BookAppointmentRequest struct {
	SlotID string `json:"slot_id"`
	Notes  string `json:"notes,omitempty"`
}

type CreateAppointmentRequest struct {
	PatientID string `json:"patient_id"`
	SlotID    string `json:"slot_id"`
	Notes     string `json:"notes,omitempty"`
}

type RescheduleRequest struct {
	NewSlotID string `json:"new_slot_id"`
}

type UpdateAppointmentRequest struct {
	Status    *string `json:"status,omitempty"`
	Notes     *string `json:"notes,omitempty"`
	NewSlotID *string `json:"new_slot_id,omitempty"`
}

type SlotResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Status    string    `json:"status"`
}

type AppointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	SlotID    uuid.UUID `json:"slot_id"`
	Status    string    `json:"status"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DoctorResponse struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Specialty    *string   `json:"specialty,omitempty"`
	WorkingHours struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"working_hours"`
}

func toSlotResponse(s scheduling.Slot) SlotResponse {
	return SlotResponse{
		ID:        s.ID,
		DoctorID:  s.DoctorID,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Status:    string(s.Status),
	}
}

func toSlotResponses(slots []scheduling.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, toSlotResponse(s))
	}
	return out
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		SlotID:    a.SlotID,
		Status:    string(a.Status),
		Notes:     a.Notes,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func toAppointmentResponses(appts []scheduling.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		out = append(out, toAppointmentResponse(&appts[i]))
	}
	return out
}

func toDoctorResponse(d scheduling.Doctor) DoctorResponse {
	resp := DoctorResponse{
		ID:        d.ID,
		Name:      d.Name,
		Specialty: d.Specialty,
	}
	resp.WorkingHours.Start = d.WorkingHours.Start
	resp.WorkingHours.End = d.WorkingHours.End
	return resp
}
