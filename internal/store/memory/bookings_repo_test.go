package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"fadebook/backend/internal/domain"
	"fadebook/backend/internal/store"
)

func newBooking(start time.Time, minutes int) domain.Booking {
	return domain.Booking{
		ProviderID:      "p1",
		CustomerID:      "c1",
		ServiceID:       "s1",
		StartTime:       start,
		DurationMinutes: minutes,
		TotalAmount:     2000,
		Currency:        "usd",
		Status:          domain.StatusScheduled,
		PaymentStatus:   domain.PaymentPending,
	}
}

func insert(ctx context.Context, r *BookingRepo, b domain.Booking) (domain.Booking, error) {
	var out domain.Booking
	err := r.InProviderTransaction(ctx, b.ProviderID, func(ctx context.Context, tx store.CalendarTx) error {
		created, err := tx.InsertBooking(ctx, b)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	return out, err
}

func TestInsertBooking_EnforcesExclusion(t *testing.T) {
	ctx := context.Background()
	r := NewBookingRepo()
	start := time.Date(2030, 1, 7, 10, 0, 0, 0, time.UTC)

	first, err := insert(ctx, r, newBooking(start, 30))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if first.ID == uuid.Nil {
		t.Fatalf("expected id to be assigned")
	}
	if !first.EndTime.Equal(start.Add(30 * time.Minute)) {
		t.Fatalf("end = %v", first.EndTime)
	}

	if _, err := insert(ctx, r, newBooking(start.Add(15*time.Minute), 30)); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("overlap err = %v, want %v", err, store.ErrConflict)
	}
	if _, err := insert(ctx, r, newBooking(start.Add(30*time.Minute), 30)); err != nil {
		t.Fatalf("adjacent insert: %v", err)
	}

	other := newBooking(start, 30)
	other.ProviderID = "p2"
	if _, err := insert(ctx, r, other); err != nil {
		t.Fatalf("other provider insert: %v", err)
	}

	dup := newBooking(start.Add(5*time.Hour), 30)
	dup.ID = first.ID
	if _, err := insert(ctx, r, dup); !errors.Is(err, store.ErrIdempotencyConflict) {
		t.Fatalf("duplicate id err = %v, want %v", err, store.ErrIdempotencyConflict)
	}
}

func TestTransactions_RollBackOnError(t *testing.T) {
	ctx := context.Background()
	r := NewBookingRepo()
	start := time.Date(2030, 1, 7, 10, 0, 0, 0, time.UTC)
	boom := errors.New("boom")

	err := r.InProviderTransaction(ctx, "p1", func(ctx context.Context, tx store.CalendarTx) error {
		if _, err := tx.InsertBooking(ctx, newBooking(start, 30)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	rows, _ := r.ListByProvider(ctx, "p1", start.Add(-time.Hour), start.Add(time.Hour))
	if len(rows) != 0 {
		t.Fatalf("rolled back insert is visible: %d rows", len(rows))
	}

	b, err := insert(ctx, r, newBooking(start, 30))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	err = r.InBookingTransaction(ctx, b.ID, func(ctx context.Context, tx store.BookingTx) error {
		if _, err := tx.InsertPayment(ctx, domain.Payment{BookingID: b.ID, ProviderEventID: "evt_1", Status: domain.PaymentRecordFailed}); err != nil {
			return err
		}
		if _, err := tx.UpdateState(ctx, domain.StatusCanceled, domain.PaymentFailed); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	got, _ := r.Get(ctx, b.ID)
	if got.Status != domain.StatusScheduled || got.PaymentStatus != domain.PaymentPending {
		t.Fatalf("state = (%s, %s), want unchanged", got.Status, got.PaymentStatus)
	}
	payments, _ := r.ListPayments(ctx, b.ID)
	if len(payments) != 0 {
		t.Fatalf("rolled back payment is visible")
	}
}

func TestInBookingTransaction_NotFound(t *testing.T) {
	r := NewBookingRepo()
	err := r.InBookingTransaction(context.Background(), uuid.New(), func(ctx context.Context, tx store.BookingTx) error {
		t.Fatalf("fn must not run")
		return nil
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want %v", err, store.ErrNotFound)
	}
}

func TestListPendingCreatedBefore(t *testing.T) {
	ctx := context.Background()
	r := NewBookingRepo()
	created := time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return created }

	start := time.Date(2030, 1, 7, 10, 0, 0, 0, time.UTC)
	pending, err := insert(ctx, r, newBooking(start, 30))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	paid, err := insert(ctx, r, newBooking(start.Add(time.Hour), 30))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	err = r.InBookingTransaction(ctx, paid.ID, func(ctx context.Context, tx store.BookingTx) error {
		_, err := tx.UpdateState(ctx, domain.StatusScheduled, domain.PaymentPaid)
		return err
	})
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	rows, err := r.ListPendingCreatedBefore(ctx, created.Add(time.Minute), created, 10)
	if err != nil {
		t.Fatalf("ListPendingCreatedBefore: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != pending.ID {
		t.Fatalf("rows = %+v, want only the pending booking", rows)
	}

	rows, _ = r.ListPendingCreatedBefore(ctx, created, created, 10)
	if len(rows) != 0 {
		t.Fatalf("bookings created at the cutoff must not be returned")
	}

	rows, _ = r.ListPendingCreatedBefore(ctx, created.Add(time.Minute), start, 10)
	if len(rows) != 0 {
		t.Fatalf("bookings starting before startsAfter must not be returned")
	}
}
