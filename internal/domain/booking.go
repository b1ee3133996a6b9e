package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID              uuid.UUID     `bun:"id,pk,type:uuid"`
	ProviderID      string        `bun:"provider_id,notnull"`
	CustomerID      string        `bun:"customer_id,notnull"`
	ServiceID       string        `bun:"service_id,notnull"`
	StartTime       time.Time     `bun:"start_time,notnull"`
	EndTime         time.Time     `bun:"end_time,notnull"`
	DurationMinutes int           `bun:"duration_minutes,notnull"`
	TotalAmount     int64         `bun:"total_amount,notnull"`
	Currency        string        `bun:"currency,notnull"`
	Status          Status        `bun:"status,notnull"`
	PaymentStatus   PaymentStatus `bun:"payment_status,notnull"`
	CreatedAt       time.Time     `bun:"created_at,notnull"`
	UpdatedAt       time.Time     `bun:"updated_at,notnull"`
}

// Slot returns the half-open interval the booking occupies on its provider's calendar.
func (b Booking) Slot() Slot {
	return NewSlot(b.StartTime, b.DurationMinutes)
}

// Active reports whether the booking still occupies its slot.
func (b Booking) Active() bool {
	return b.Status != StatusCanceled
}

func (b *Booking) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.EndTime.IsZero() {
			b.EndTime = b.StartTime.Add(time.Duration(b.DurationMinutes) * time.Minute)
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}

// ServiceSnapshot is the catalog entry a booking freezes at creation time.
type ServiceSnapshot struct {
	bun.BaseModel `bun:"table:services"`

	ID              string `bun:"id,pk"`
	ProviderID      string `bun:"provider_id,notnull"`
	Name            string `bun:"name"`
	PriceAmount     int64  `bun:"price_amount,notnull"`
	DurationMinutes int    `bun:"duration_minutes,notnull"`
}
