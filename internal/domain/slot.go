package domain

import (
	"time"

	"github.com/google/uuid"
)

// Slot is the half-open interval [Start, End).
type Slot struct {
	Start time.Time
	End   time.Time
}

// MaxSlotMinutes bounds a single slot to one day.
const MaxSlotMinutes = 24 * 60

func NewSlot(start time.Time, durationMinutes int) Slot {
	start = start.UTC()
	return Slot{Start: start, End: start.Add(time.Duration(durationMinutes) * time.Minute)}
}

// Overlaps reports whether two slots intersect. Touching endpoints do not overlap.
func (s Slot) Overlaps(o Slot) bool {
	return s.Start.Before(o.End) && o.Start.Before(s.End)
}

// SlotAvailable reports whether candidate is free against the given calendar. Canceled
// bookings and the booking named by exclude are ignored.
func SlotAvailable(calendar []Booking, candidate Slot, exclude uuid.UUID) bool {
	for _, b := range calendar {
		if !b.Active() {
			continue
		}
		if exclude != uuid.Nil && b.ID == exclude {
			continue
		}
		if b.Slot().Overlaps(candidate) {
			return false
		}
	}
	return true
}
