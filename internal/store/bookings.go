package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"fadebook/backend/internal/domain"
)

type BookingRepository interface {
	// InProviderTransaction runs fn atomically with respect to every other calendar
	// transaction for the same provider.
	InProviderTransaction(ctx context.Context, providerID string, fn func(ctx context.Context, tx CalendarTx) error) error
	// InBookingTransaction locks the booking and runs fn. It returns ErrNotFound when the
	// booking does not exist.
	InBookingTransaction(ctx context.Context, bookingID uuid.UUID, fn func(ctx context.Context, tx BookingTx) error) error

	Get(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error)
	ListByProvider(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Booking, error)
	ListPendingCreatedBefore(ctx context.Context, createdBefore, startsAfter time.Time, limit int) ([]domain.Booking, error)
	ListPayments(ctx context.Context, bookingID uuid.UUID) ([]domain.Payment, error)
}

type ServiceCatalog interface {
	GetService(ctx context.Context, serviceID string) (domain.ServiceSnapshot, error)
}
