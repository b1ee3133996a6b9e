package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"fadebook/backend/internal/domain"
)

// CalendarTx is a transaction scoped to one provider's calendar. Implementations hold an
// exclusive per-provider lock for its lifetime, so reads of active bookings stay valid until
// commit.
type CalendarTx interface {
	FindBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error)
	ListActiveBookings(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Booking, error)
	InsertBooking(ctx context.Context, b domain.Booking) (domain.Booking, error)
}

// BookingTx is a transaction holding an exclusive lock on a single booking row.
type BookingTx interface {
	Booking() domain.Booking
	UpdateState(ctx context.Context, status domain.Status, paymentStatus domain.PaymentStatus) (domain.Booking, error)
	FindPaymentByEventID(ctx context.Context, providerEventID string) (domain.Payment, error)
	InsertPayment(ctx context.Context, p domain.Payment) (domain.Payment, error)
}
