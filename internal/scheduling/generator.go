package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BuildSlots expands a doctor's working-hours window on the given date into
// the maximal run of non-overlapping fixed-duration slots. A duration that
// does not evenly divide the window leaves an unused tail; no partial slot
// is emitted. The result is ordered ascending and every slot is AVAILABLE.
func BuildSlots(doctor *Doctor, date time.Time, durationMinutes int) ([]Slot, error) {
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("%w: slot duration must be positive, got %d", ErrInvalidInput, durationMinutes)
	}

	dayStart, err := clockOnDate(doctor.WorkingHours.Start, date)
	if err != nil {
		return nil, fmt.Errorf("%w: working hours start: %v", ErrInvalidInput, err)
	}
	dayEnd, err := clockOnDate(doctor.WorkingHours.End, date)
	if err != nil {
		return nil, fmt.Errorf("%w: working hours end: %v", ErrInvalidInput, err)
	}
	if !dayStart.Before(dayEnd) {
		return nil, fmt.Errorf("%w: working hours window %q-%q is empty", ErrInvalidInput, doctor.WorkingHours.Start, doctor.WorkingHours.End)
	}

	duration := time.Duration(durationMinutes) * time.Minute

	var slots []Slot
	for cur := dayStart; ; {
		next := cur.Add(duration)
		if next.After(dayEnd) {
			break
		}
		slots = append(slots, Slot{
			ID:        uuid.New(),
			DoctorID:  doctor.ID,
			StartTime: cur,
			EndTime:   next,
			Status:    SlotAvailable,
		})
		cur = next
	}

	return slots, nil
}

// clockOnDate anchors a "15:04" clock string on the calendar day of date,
// in date's location.
func clockOnDate(clock string, date time.Time) (time.Time, error) {
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid clock time %q", clock)
	}
	return time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, date.Location()), nil
}

// dayBounds returns the inclusive [00:00:00, 23:59:59.999999999] window of
// t's calendar day, used by the duplicate guard and date-scoped listings.
func dayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	end := start.Add(24*time.Hour - time.Nanosecond)
	return start, end
}
