package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type testEnv struct {
	server  *httptest.Server
	repo    *scheduling.MemoryRepository
	doctor  scheduling.Doctor
	patient scheduling.Patient
	admin   uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo := scheduling.NewMemoryRepository()
	svc := scheduling.NewService(repo, nil, nil)

	// The router needs only the service for the routes under test; the
	// health handler's pool stays nil and is not exercised here.
	handler := NewRouter(RouterConfig{
		Service: svc,
		Logger:  zap.NewNop(),
		Env:     "test",
		Version: "test",
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	doctor := scheduling.Doctor{
		ID:           uuid.New(),
		Name:         "Dr. Chen",
		WorkingHours: scheduling.WorkingHours{Start: "09:00", End: "17:00"},
		IsActive:     true,
	}
	repo.AddDoctor(doctor)

	patient := scheduling.Patient{ID: uuid.New(), Name: "Ada"}
	repo.AddPatient(patient)

	return &testEnv{
		server:  server,
		repo:    repo,
		doctor:  doctor,
		patient: patient,
		admin:   uuid.New(),
	}
}

func (e *testEnv) addSlot(t *testing.T, start time.Time, status scheduling.SlotStatus) scheduling.Slot {
	t.Helper()
	s := scheduling.Slot{
		ID:        uuid.New(),
		DoctorID:  e.doctor.ID,
		StartTime: start,
		EndTime:   start.Add(30 * time.Minute),
		Status:    status,
	}
	e.repo.AddSlot(s)
	return s
}

func (e *testEnv) do(t *testing.T, method, path string, callerID *uuid.UUID, role string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if callerID != nil {
		req.Header.Set("X-Caller-ID", callerID.String())
		req.Header.Set("X-Caller-Role", role)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func todayAt(hour int) time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
}

func TestBookEndpoint(t *testing.T) {
	env := newTestEnv(t)
	slot := env.addSlot(t, todayAt(9), scheduling.SlotAvailable)

	t.Run("patient_books", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/appointments", &env.patient.ID, "patient",
			BookAppointmentRequest{SlotID: slot.ID.String(), Notes: "checkup"})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status = %d, want 201", resp.StatusCode)
		}
		appt := decodeBody[AppointmentResponse](t, resp)
		if appt.Status != "CONFIRMED" {
			t.Errorf("status = %s, want CONFIRMED", appt.Status)
		}
		if appt.SlotID != slot.ID {
			t.Errorf("slot_id mismatch")
		}
	})

	t.Run("second_booking_conflicts", func(t *testing.T) {
		other := scheduling.Patient{ID: uuid.New(), Name: "Bob"}
		env.repo.AddPatient(other)

		resp := env.do(t, http.MethodPost, "/appointments", &other.ID, "patient",
			BookAppointmentRequest{SlotID: slot.ID.String()})
		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("status = %d, want 409", resp.StatusCode)
		}
		errResp := decodeBody[ErrorResponse](t, resp)
		if errResp.Error != "slot_unavailable" {
			t.Errorf("error code = %q, want slot_unavailable", errResp.Error)
		}
	})

	t.Run("missing_identity_unauthorized", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/appointments", nil, "",
			BookAppointmentRequest{SlotID: slot.ID.String()})
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("doctor_cannot_book", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/appointments", &env.doctor.ID, "doctor",
			BookAppointmentRequest{SlotID: slot.ID.String()})
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", resp.StatusCode)
		}
	})

	t.Run("bad_slot_id", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/appointments", &env.patient.ID, "patient",
			BookAppointmentRequest{SlotID: "not-a-uuid"})
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestGenerateAndListSlotsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	date := time.Now().AddDate(0, 0, 1).Format("2006-01-02")

	t.Run("admin_generates", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/slots/generate", &env.admin, "admin",
			GenerateSlotsRequest{DoctorID: env.doctor.ID.String(), Date: date, DurationMinutes: 60})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status = %d, want 201", resp.StatusCode)
		}
		out := decodeBody[GenerateSlotsResponse](t, resp)
		if out.Created != 8 {
			t.Errorf("created = %d, want 8 (09:00-17:00 hourly)", out.Created)
		}
	})

	t.Run("regenerate_is_idempotent", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/slots/generate", &env.admin, "admin",
			GenerateSlotsRequest{DoctorID: env.doctor.ID.String(), Date: date, DurationMinutes: 60})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status = %d, want 201", resp.StatusCode)
		}
		out := decodeBody[GenerateSlotsResponse](t, resp)
		if out.Created != 0 {
			t.Errorf("second run created = %d, want 0", out.Created)
		}
	})

	t.Run("patient_cannot_generate", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/slots/generate", &env.patient.ID, "patient",
			GenerateSlotsRequest{DoctorID: env.doctor.ID.String(), Date: date, DurationMinutes: 60})
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", resp.StatusCode)
		}
	})

	t.Run("public_listing", func(t *testing.T) {
		path := fmt.Sprintf("/doctors/%s/slots?date=%s", env.doctor.ID, date)
		resp := env.do(t, http.MethodGet, path, nil, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		slots := decodeBody[[]SlotResponse](t, resp)
		if len(slots) != 8 {
			t.Fatalf("got %d slots, want 8", len(slots))
		}
		for i := 1; i < len(slots); i++ {
			if slots[i].StartTime.Before(slots[i-1].StartTime) {
				t.Errorf("slots not ascending")
			}
		}
	})

	t.Run("bad_date", func(t *testing.T) {
		path := fmt.Sprintf("/doctors/%s/slots?date=tomorrow", env.doctor.ID)
		resp := env.do(t, http.MethodGet, path, nil, "", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestCancelEndpoint(t *testing.T) {
	env := newTestEnv(t)
	slot := env.addSlot(t, todayAt(9), scheduling.SlotAvailable)

	resp := env.do(t, http.MethodPost, "/appointments", &env.patient.ID, "patient",
		BookAppointmentRequest{SlotID: slot.ID.String()})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("book status = %d, want 201", resp.StatusCode)
	}
	appt := decodeBody[AppointmentResponse](t, resp)

	t.Run("stranger_forbidden", func(t *testing.T) {
		stranger := scheduling.Patient{ID: uuid.New(), Name: "Eve"}
		env.repo.AddPatient(stranger)

		resp := env.do(t, http.MethodDelete, "/appointments/"+appt.ID.String(), &stranger.ID, "patient", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", resp.StatusCode)
		}
	})

	t.Run("owner_cancels", func(t *testing.T) {
		resp := env.do(t, http.MethodDelete, "/appointments/"+appt.ID.String(), &env.patient.ID, "patient", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		cancelled := decodeBody[AppointmentResponse](t, resp)
		if cancelled.Status != "CANCELLED" {
			t.Errorf("status = %s, want CANCELLED", cancelled.Status)
		}
	})

	t.Run("unknown_appointment", func(t *testing.T) {
		resp := env.do(t, http.MethodDelete, "/appointments/"+uuid.NewString(), &env.admin, "admin", nil)
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", resp.StatusCode)
		}
	})
}

func TestRescheduleEndpoint(t *testing.T) {
	env := newTestEnv(t)
	oldSlot := env.addSlot(t, todayAt(9), scheduling.SlotAvailable)
	newSlot := env.addSlot(t, todayAt(10), scheduling.SlotAvailable)

	resp := env.do(t, http.MethodPost, "/appointments", &env.patient.ID, "patient",
		BookAppointmentRequest{SlotID: oldSlot.ID.String()})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("book status = %d, want 201", resp.StatusCode)
	}
	appt := decodeBody[AppointmentResponse](t, resp)

	t.Run("patient_cannot_reschedule", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/reschedule",
			&env.patient.ID, "patient", RescheduleRequest{NewSlotID: newSlot.ID.String()})
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("status = %d, want 403", resp.StatusCode)
		}
	})

	t.Run("admin_reschedules", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/reschedule",
			&env.admin, "admin", RescheduleRequest{NewSlotID: newSlot.ID.String()})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		moved := decodeBody[AppointmentResponse](t, resp)
		if moved.SlotID != newSlot.ID {
			t.Errorf("slot_id = %s, want %s", moved.SlotID, newSlot.ID)
		}
	})

	t.Run("move_back_to_freed_slot", func(t *testing.T) {
		// The first reschedule released oldSlot, so moving back succeeds.
		resp := env.do(t, http.MethodPost, "/appointments/"+appt.ID.String()+"/reschedule",
			&env.admin, "admin", RescheduleRequest{NewSlotID: oldSlot.ID.String()})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		resp.Body.Close()
	})

	t.Run("taken_target_conflicts", func(t *testing.T) {
		otherPatient := scheduling.Patient{ID: uuid.New(), Name: "Bob"}
		env.repo.AddPatient(otherPatient)
		otherSlot := env.addSlot(t, todayAt(11), scheduling.SlotAvailable)

		resp := env.do(t, http.MethodPost, "/appointments", &otherPatient.ID, "patient",
			BookAppointmentRequest{SlotID: otherSlot.ID.String()})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("book status = %d, want 201", resp.StatusCode)
		}
		other := decodeBody[AppointmentResponse](t, resp)

		// oldSlot is held by the first appointment again after the move back.
		resp = env.do(t, http.MethodPost, "/appointments/"+other.ID.String()+"/reschedule",
			&env.admin, "admin", RescheduleRequest{NewSlotID: oldSlot.ID.String()})
		if resp.StatusCode != http.StatusConflict {
			t.Fatalf("status = %d, want 409", resp.StatusCode)
		}
		errResp := decodeBody[ErrorResponse](t, resp)
		if errResp.Error != "slot_unavailable" {
			t.Errorf("error code = %q, want slot_unavailable", errResp.Error)
		}
	})
}

func TestUpdateEndpoint(t *testing.T) {
	env := newTestEnv(t)
	slot := env.addSlot(t, todayAt(9), scheduling.SlotAvailable)

	resp := env.do(t, http.MethodPost, "/appointments", &env.patient.ID, "patient",
		BookAppointmentRequest{SlotID: slot.ID.String()})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("book status = %d, want 201", resp.StatusCode)
	}
	appt := decodeBody[AppointmentResponse](t, resp)

	status := "COMPLETED"
	notes := "seen on time"
	updResp := env.do(t, http.MethodPatch, "/appointments/"+appt.ID.String(), &env.admin, "admin",
		UpdateAppointmentRequest{Status: &status, Notes: &notes})
	if updResp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", updResp.StatusCode)
	}
	updated := decodeBody[AppointmentResponse](t, updResp)
	if updated.Status != "COMPLETED" || updated.Notes != notes {
		t.Errorf("update not applied: %+v", updated)
	}
}

func TestListAppointmentsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	slot := env.addSlot(t, todayAt(9), scheduling.SlotAvailable)

	resp := env.do(t, http.MethodPost, "/appointments", &env.patient.ID, "patient",
		BookAppointmentRequest{SlotID: slot.ID.String()})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("book status = %d, want 201", resp.StatusCode)
	}
	resp.Body.Close()

	t.Run("patient_sees_own", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/appointments", &env.patient.ID, "patient", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		appts := decodeBody[[]AppointmentResponse](t, resp)
		if len(appts) != 1 {
			t.Fatalf("got %d appointments, want 1", len(appts))
		}
	})

	t.Run("other_patient_sees_none", func(t *testing.T) {
		other := scheduling.Patient{ID: uuid.New(), Name: "Bob"}
		env.repo.AddPatient(other)

		resp := env.do(t, http.MethodGet, "/appointments", &other.ID, "patient", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want 200", resp.StatusCode)
		}
		appts := decodeBody[[]AppointmentResponse](t, resp)
		if len(appts) != 0 {
			t.Fatalf("got %d appointments, want 0", len(appts))
		}
	})
}
