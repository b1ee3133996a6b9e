package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestSlotOverlaps(t *testing.T) {
	ten := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	existing := NewSlot(ten, 30)

	tests := []struct {
		name      string
		candidate Slot
		want      bool
	}{
		{name: "starts exactly at existing end", candidate: NewSlot(ten.Add(30*time.Minute), 30), want: false},
		{name: "ends exactly at existing start", candidate: NewSlot(ten.Add(-30*time.Minute), 30), want: false},
		{name: "partial overlap at tail", candidate: NewSlot(ten.Add(15*time.Minute), 30), want: true},
		{name: "partial overlap at head", candidate: NewSlot(ten.Add(-15*time.Minute), 30), want: true},
		{name: "contained", candidate: NewSlot(ten.Add(5*time.Minute), 10), want: true},
		{name: "containing", candidate: NewSlot(ten.Add(-time.Hour), 180), want: true},
		{name: "identical", candidate: NewSlot(ten, 30), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := existing.Overlaps(tt.candidate); got != tt.want {
				t.Fatalf("Overlaps = %v, want %v", got, tt.want)
			}
			if got := tt.candidate.Overlaps(existing); got != tt.want {
				t.Fatalf("reverse Overlaps = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewSlot_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	s := NewSlot(time.Date(2026, 3, 2, 13, 0, 0, 0, loc), 45)
	if s.Start.Location() != time.UTC {
		t.Fatalf("start location = %v, want UTC", s.Start.Location())
	}
	if !s.Start.Equal(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %v", s.Start)
	}
	if got := s.End.Sub(s.Start); got != 45*time.Minute {
		t.Fatalf("duration = %v, want 45m", got)
	}
}

func TestSlotAvailable(t *testing.T) {
	ten := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	existingID := uuid.MustParse("00000000-0000-0000-0000-000000000101")
	calendar := []Booking{
		{ID: existingID, ProviderID: "p1", StartTime: ten, DurationMinutes: 30, Status: StatusScheduled},
		{
			ID:              uuid.MustParse("00000000-0000-0000-0000-000000000102"),
			ProviderID:      "p1",
			StartTime:       ten.Add(2 * time.Hour),
			DurationMinutes: 60,
			Status:          StatusCanceled,
		},
	}

	t.Run("adjacent slot is available", func(t *testing.T) {
		if !SlotAvailable(calendar, NewSlot(ten.Add(30*time.Minute), 30), uuid.Nil) {
			t.Fatalf("expected [10:30, 11:00) to be available")
		}
	})

	t.Run("overlapping slot is unavailable", func(t *testing.T) {
		if SlotAvailable(calendar, NewSlot(ten.Add(15*time.Minute), 30), uuid.Nil) {
			t.Fatalf("expected [10:15, 10:45) to conflict")
		}
	})

	t.Run("canceled bookings are ignored", func(t *testing.T) {
		if !SlotAvailable(calendar, NewSlot(ten.Add(2*time.Hour), 60), uuid.Nil) {
			t.Fatalf("expected canceled booking not to block")
		}
	})

	t.Run("excluded booking is ignored", func(t *testing.T) {
		if !SlotAvailable(calendar, NewSlot(ten.Add(10*time.Minute), 30), existingID) {
			t.Fatalf("expected excluded booking not to block its own reschedule")
		}
	})
}
