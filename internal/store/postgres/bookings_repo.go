package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"fadebook/backend/internal/domain"
	"fadebook/backend/internal/store"
)

const noOverlapConstraint = "bookings_no_overlap"

type BookingRepo struct {
	db *bun.DB
}

func NewBookingRepo(db *bun.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

type calendarTx struct {
	tx bun.Tx
}

type bookingTx struct {
	tx      bun.Tx
	booking domain.Booking
}

func (r *BookingRepo) InProviderTransaction(ctx context.Context, providerID string, fn func(ctx context.Context, tx store.CalendarTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockProviderCalendar(ctx, tx, providerID); err != nil {
			return err
		}
		return fn(ctx, calendarTx{tx: tx})
	})
}

func (r *BookingRepo) InBookingTransaction(ctx context.Context, bookingID uuid.UUID, fn func(ctx context.Context, tx store.BookingTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var b domain.Booking
		err := tx.NewSelect().
			Model(&b).
			Where("id = ?", bookingID).
			For("UPDATE").
			Limit(1).
			Scan(ctx)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}
		return fn(ctx, &bookingTx{tx: tx, booking: b})
	})
}

func lockProviderCalendar(ctx context.Context, tx bun.Tx, providerID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", "provider_calendar:"+providerID).Exec(ctx)
	return err
}

func (r *BookingRepo) Get(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	return findBooking(ctx, r.db, bookingID)
}

func (r *BookingRepo) ListByProvider(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
	return listActiveBookings(ctx, r.db, providerID, windowStart, windowEnd)
}

func (r *BookingRepo) ListPendingCreatedBefore(ctx context.Context, createdBefore, startsAfter time.Time, limit int) ([]domain.Booking, error) {
	var rows []domain.Booking
	q := r.db.NewSelect().
		Model(&rows).
		Where("status = ?", domain.StatusScheduled).
		Where("payment_status = ?", domain.PaymentPending).
		Where("created_at < ?", createdBefore).
		Where("start_time > ?", startsAfter).
		OrderExpr("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *BookingRepo) ListPayments(ctx context.Context, bookingID uuid.UUID) ([]domain.Payment, error) {
	var rows []domain.Payment
	err := r.db.NewSelect().
		Model(&rows).
		Where("booking_id = ?", bookingID).
		OrderExpr("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (c calendarTx) FindBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	return findBooking(ctx, c.tx, bookingID)
}

func (c calendarTx) ListActiveBookings(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
	return listActiveBookings(ctx, c.tx, providerID, windowStart, windowEnd)
}

func (c calendarTx) InsertBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	m := b
	_, err := c.tx.NewInsert().Model(&m).Exec(ctx)
	if err != nil {
		if pgErr, ok := pgError(err); ok {
			if pgErr.Code == codeExclusionViolation && pgErr.ConstraintName == noOverlapConstraint {
				return domain.Booking{}, store.ErrConflict
			}
			if pgErr.Code == codeUniqueViolation {
				return domain.Booking{}, store.ErrIdempotencyConflict
			}
		}
		return domain.Booking{}, err
	}
	return m, nil
}

func (t *bookingTx) Booking() domain.Booking {
	return t.booking
}

func (t *bookingTx) UpdateState(ctx context.Context, status domain.Status, paymentStatus domain.PaymentStatus) (domain.Booking, error) {
	m := t.booking
	m.Status = status
	m.PaymentStatus = paymentStatus

	_, err := t.tx.NewUpdate().
		Model(&m).
		Column("status", "payment_status", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return domain.Booking{}, err
	}
	t.booking = m
	return m, nil
}

func (t *bookingTx) FindPaymentByEventID(ctx context.Context, providerEventID string) (domain.Payment, error) {
	var p domain.Payment
	err := t.tx.NewSelect().
		Model(&p).
		Where("provider_event_id = ?", providerEventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, store.ErrNotFound
		}
		return domain.Payment{}, err
	}
	return p, nil
}

func (t *bookingTx) InsertPayment(ctx context.Context, p domain.Payment) (domain.Payment, error) {
	m := p
	_, err := t.tx.NewInsert().Model(&m).Exec(ctx)
	if err != nil {
		if pgErr, ok := pgError(err); ok && pgErr.Code == codeUniqueViolation {
			return domain.Payment{}, store.ErrConflict
		}
		return domain.Payment{}, err
	}
	return m, nil
}

func findBooking(ctx context.Context, db bun.IDB, bookingID uuid.UUID) (domain.Booking, error) {
	var b domain.Booking
	err := db.NewSelect().
		Model(&b).
		Where("id = ?", bookingID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Booking{}, store.ErrNotFound
		}
		return domain.Booking{}, err
	}
	return b, nil
}

func listActiveBookings(ctx context.Context, db bun.IDB, providerID string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
	var rows []domain.Booking
	err := db.NewSelect().
		Model(&rows).
		Where("provider_id = ?", providerID).
		Where("status <> ?", domain.StatusCanceled).
		Where("start_time < ?", windowEnd).
		Where("end_time > ?", windowStart).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
