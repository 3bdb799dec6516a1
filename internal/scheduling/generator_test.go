package scheduling

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testDoctor(start, end string) *Doctor {
	return &Doctor{
		ID:           uuid.New(),
		Name:         "Dr. Test",
		WorkingHours: WorkingHours{Start: start, End: end},
		IsActive:     true,
	}
}

func TestBuildSlots(t *testing.T) {
	date := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	t.Run("exact_fit", func(t *testing.T) {
		slots, err := BuildSlots(testDoctor("09:00", "10:00"), date, 30)
		if err != nil {
			t.Fatalf("BuildSlots: %v", err)
		}
		if len(slots) != 2 {
			t.Fatalf("expected 2 slots, got %d", len(slots))
		}

		want := []struct{ startH, startM, endH, endM int }{
			{9, 0, 9, 30},
			{9, 30, 10, 0},
		}
		for i, w := range want {
			if slots[i].StartTime.Hour() != w.startH || slots[i].StartTime.Minute() != w.startM {
				t.Errorf("slot %d start = %v, want %02d:%02d", i, slots[i].StartTime, w.startH, w.startM)
			}
			if slots[i].EndTime.Hour() != w.endH || slots[i].EndTime.Minute() != w.endM {
				t.Errorf("slot %d end = %v, want %02d:%02d", i, slots[i].EndTime, w.endH, w.endM)
			}
			if slots[i].Status != SlotAvailable {
				t.Errorf("slot %d status = %s, want AVAILABLE", i, slots[i].Status)
			}
		}
	})

	t.Run("uneven_tail_dropped", func(t *testing.T) {
		// 09:00-10:15 with 30 minute slots leaves a 15 minute tail.
		slots, err := BuildSlots(testDoctor("09:00", "10:15"), date, 30)
		if err != nil {
			t.Fatalf("BuildSlots: %v", err)
		}
		if len(slots) != 2 {
			t.Fatalf("expected 2 slots, got %d", len(slots))
		}
		last := slots[len(slots)-1]
		if last.EndTime.Hour() != 10 || last.EndTime.Minute() != 0 {
			t.Errorf("last slot must end at 10:00, got %v", last.EndTime)
		}
	})

	t.Run("duration_longer_than_window", func(t *testing.T) {
		slots, err := BuildSlots(testDoctor("09:00", "09:20"), date, 30)
		if err != nil {
			t.Fatalf("BuildSlots: %v", err)
		}
		if len(slots) != 0 {
			t.Fatalf("expected no slots, got %d", len(slots))
		}
	})

	t.Run("ascending_and_contiguous", func(t *testing.T) {
		slots, err := BuildSlots(testDoctor("08:00", "17:00"), date, 45)
		if err != nil {
			t.Fatalf("BuildSlots: %v", err)
		}
		for i := 1; i < len(slots); i++ {
			if !slots[i-1].EndTime.Equal(slots[i].StartTime) {
				t.Errorf("slot %d not contiguous with predecessor", i)
			}
		}
	})

	t.Run("invalid_duration", func(t *testing.T) {
		if _, err := BuildSlots(testDoctor("09:00", "17:00"), date, 0); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("invalid_clock_string", func(t *testing.T) {
		if _, err := BuildSlots(testDoctor("9am", "17:00"), date, 30); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("empty_window", func(t *testing.T) {
		if _, err := BuildSlots(testDoctor("17:00", "09:00"), date, 30); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
	})
}
