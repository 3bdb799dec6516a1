package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string

	err := row.Scan(
		&d.ID,
		&d.Name,
		&specialty,
		&d.WorkingHours.Start,
		&d.WorkingHours.End,
		&d.IsActive,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Specialty = specialty
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var email *string

	err := row.Scan(
		&p.ID,
		&p.Name,
		&email,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	p.Email = email
	return &p, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.StartTime,
		&s.EndTime,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var notes *string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.SlotID,
		&a.Status,
		&notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if notes != nil {
		a.Notes = *notes
	}
	return &a, nil
}

const appointmentColumns = "id, patient_id, doctor_id, slot_id, status, notes, created_at, updated_at"
const slotColumns = "id, doctor_id, start_time, end_time, status, created_at, updated_at"

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, work_start, work_end, is_active, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListActiveDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, specialty, work_start, work_end, is_active, created_at, updated_at
		FROM doctors
		WHERE is_active
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}

	return result, rows.Err()
}

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) ListSlots(ctx context.Context, q SlotQuery) ([]Slot, error) {
	var sb strings.Builder
	sb.WriteString("SELECT " + slotColumns + " FROM slots WHERE doctor_id = $1 AND status = $2")
	args := []any{q.DoctorID, q.Status}

	if q.From != nil {
		args = append(args, *q.From)
		sb.WriteString(" AND start_time >= $" + strconv.Itoa(len(args)))
	}
	if q.To != nil {
		args = append(args, *q.To)
		sb.WriteString(" AND start_time <= $" + strconv.Itoa(len(args)))
	}
	sb.WriteString(" ORDER BY start_time ASC")

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}

	return result, rows.Err()
}

// InsertSlots batch-inserts candidates, skipping rows that collide on the
// (doctor_id, start_time) unique constraint. The sum of affected rows is the
// number of slots that did not already exist.
func (r *PgRepository) InsertSlots(ctx context.Context, slots []Slot) (int, error) {
	batch := &pgx.Batch{}
	for _, s := range slots {
		batch.Queue(`
			INSERT INTO slots (id, doctor_id, start_time, end_time, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
			ON CONFLICT (doctor_id, start_time) DO NOTHING
		`, s.ID, s.DoctorID, s.StartTime, s.EndTime, s.Status)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	created := 0
	for range slots {
		tag, err := results.Exec()
		if err != nil {
			return created, fmt.Errorf("insert slot batch: %w", err)
		}
		created += int(tag.RowsAffected())
	}

	return created, nil
}

// TransitionSlot is the CAS primitive behind exclusive booking: the status
// filter in the WHERE clause makes the read-check and the write a single
// atomic statement, so at most one concurrent caller can match.
func (r *PgRepository) TransitionSlot(ctx context.Context, id uuid.UUID, from, to SlotStatus) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE slots
		SET status = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+slotColumns+`
	`, id, from, to)

	s, err := scanSlot(row)
	if errors.Is(err, ErrSlotNotFound) {
		return nil, ErrNotMatched
	}
	return s, err
}

func (r *PgRepository) SetSlotStatus(ctx context.Context, id uuid.UUID, to SlotStatus) (*Slot, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE slots
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+slotColumns+`
	`, id, to)
	return scanSlot(row)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, slot_id, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+appointmentColumns+`
	`, id, a.PatientID, a.DoctorID, a.SlotID, a.Status, a.Notes)

	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET doctor_id = $2,
		    slot_id = $3,
		    status = $4,
		    notes = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, a.ID, a.DoctorID, a.SlotID, a.Status, a.Notes)

	return scanAppointment(row)
}

// MarkAppointmentCancelled uses the same CAS shape as TransitionSlot so only
// one of several racing cancellations performs the transition (and with it
// the slot release).
func (r *PgRepository) MarkAppointmentCancelled(ctx context.Context, id uuid.UUID) (*Appointment, bool, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status <> $2
		RETURNING `+appointmentColumns+`
	`, id, StatusCancelled)

	a, err := scanAppointment(row)
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, false, err
	}

	// Either already cancelled or genuinely missing.
	existing, getErr := r.GetAppointmentByID(ctx, id)
	if getErr != nil {
		return nil, false, getErr
	}
	return existing, false, nil
}

func (r *PgRepository) FindActiveAppointment(ctx context.Context, patientID, doctorID uuid.UUID, from, to time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		  AND doctor_id = $2
		  AND status <> $3
		  AND created_at BETWEEN $4 AND $5
		LIMIT 1
	`, patientID, doctorID, StatusCancelled, from, to)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, q AppointmentQuery) ([]Appointment, error) {
	var sb strings.Builder
	sb.WriteString("SELECT " + appointmentColumns + " FROM appointments")
	var args []any

	switch {
	case q.PatientID != nil:
		args = append(args, *q.PatientID)
		sb.WriteString(" WHERE patient_id = $1")
	case q.DoctorID != nil:
		args = append(args, *q.DoctorID)
		sb.WriteString(" WHERE doctor_id = $1")
	}
	sb.WriteString(" ORDER BY created_at DESC")

	rows, err := r.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	return result, rows.Err()
}

func (r *PgRepository) InsertAudit(ctx context.Context, ev AuditEvent) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_logs (action, actor_id, actor_role, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
	`, ev.Action, ev.ActorID, ev.ActorRole, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
