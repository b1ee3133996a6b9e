// Package memory is an in-process implementation of the store interfaces. Transactions are
// serialized, so it gives the same no-overlap and row-locking guarantees as the PostgreSQL
// store within a single process.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fadebook/backend/internal/domain"
	"fadebook/backend/internal/store"
)

type BookingRepo struct {
	txMu sync.Mutex

	mu       sync.RWMutex
	bookings map[uuid.UUID]domain.Booking
	payments []domain.Payment

	now func() time.Time
}

func NewBookingRepo() *BookingRepo {
	return &BookingRepo{
		bookings: make(map[uuid.UUID]domain.Booking),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type calendarTx struct {
	r      *BookingRepo
	staged map[uuid.UUID]domain.Booking
}

type bookingTx struct {
	r        *BookingRepo
	booking  domain.Booking
	dirty    bool
	payments []domain.Payment
}

func (r *BookingRepo) InProviderTransaction(ctx context.Context, providerID string, fn func(ctx context.Context, tx store.CalendarTx) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &calendarTx{r: r, staged: make(map[uuid.UUID]domain.Booking)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, b := range tx.staged {
		r.bookings[id] = b
	}
	return nil
}

func (r *BookingRepo) InBookingTransaction(ctx context.Context, bookingID uuid.UUID, fn func(ctx context.Context, tx store.BookingTx) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.RLock()
	b, ok := r.bookings[bookingID]
	r.mu.RUnlock()
	if !ok {
		return store.ErrNotFound
	}

	tx := &bookingTx{r: r, booking: b}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if tx.dirty {
		r.bookings[bookingID] = tx.booking
	}
	r.payments = append(r.payments, tx.payments...)
	return nil
}

func (r *BookingRepo) Get(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bookings[bookingID]
	if !ok {
		return domain.Booking{}, store.ErrNotFound
	}
	return b, nil
}

func (r *BookingRepo) ListByProvider(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return activeInWindow(r.bookings, nil, providerID, windowStart, windowEnd), nil
}

func (r *BookingRepo) ListPendingCreatedBefore(ctx context.Context, createdBefore, startsAfter time.Time, limit int) ([]domain.Booking, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Booking
	for _, b := range r.bookings {
		if b.Status != domain.StatusScheduled || b.PaymentStatus != domain.PaymentPending {
			continue
		}
		if !b.CreatedAt.Before(createdBefore) || !b.StartTime.After(startsAfter) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *BookingRepo) ListPayments(ctx context.Context, bookingID uuid.UUID) ([]domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Payment
	for _, p := range r.payments {
		if p.BookingID == bookingID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (c *calendarTx) FindBooking(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	if b, ok := c.staged[bookingID]; ok {
		return b, nil
	}
	return c.r.Get(ctx, bookingID)
}

func (c *calendarTx) ListActiveBookings(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
	c.r.mu.RLock()
	defer c.r.mu.RUnlock()

	return activeInWindow(c.r.bookings, c.staged, providerID, windowStart, windowEnd), nil
}

// InsertBooking enforces the same exclusion rule as the bookings_no_overlap constraint.
func (c *calendarTx) InsertBooking(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	if b.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Booking{}, err
		}
		b.ID = id
	}
	if _, err := c.FindBooking(ctx, b.ID); err == nil {
		return domain.Booking{}, store.ErrIdempotencyConflict
	}

	b.StartTime = b.StartTime.UTC()
	if b.EndTime.IsZero() {
		b.EndTime = b.StartTime.Add(time.Duration(b.DurationMinutes) * time.Minute)
	}

	if b.Active() {
		existing, _ := c.ListActiveBookings(ctx, b.ProviderID, b.StartTime, b.EndTime)
		if len(existing) > 0 {
			return domain.Booking{}, store.ErrConflict
		}
	}

	now := c.r.now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = now
	}

	c.staged[b.ID] = b
	return b, nil
}

func (t *bookingTx) Booking() domain.Booking {
	return t.booking
}

func (t *bookingTx) UpdateState(ctx context.Context, status domain.Status, paymentStatus domain.PaymentStatus) (domain.Booking, error) {
	t.booking.Status = status
	t.booking.PaymentStatus = paymentStatus
	t.booking.UpdatedAt = t.r.now()
	t.dirty = true
	return t.booking, nil
}

func (t *bookingTx) FindPaymentByEventID(ctx context.Context, providerEventID string) (domain.Payment, error) {
	for _, p := range t.payments {
		if p.ProviderEventID == providerEventID {
			return p, nil
		}
	}

	t.r.mu.RLock()
	defer t.r.mu.RUnlock()
	for _, p := range t.r.payments {
		if p.ProviderEventID == providerEventID {
			return p, nil
		}
	}
	return domain.Payment{}, store.ErrNotFound
}

func (t *bookingTx) InsertPayment(ctx context.Context, p domain.Payment) (domain.Payment, error) {
	if _, err := t.FindPaymentByEventID(ctx, p.ProviderEventID); err == nil {
		return domain.Payment{}, store.ErrConflict
	}
	if p.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Payment{}, err
		}
		p.ID = id
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = t.r.now()
	}
	t.payments = append(t.payments, p)
	return p, nil
}

func activeInWindow(committed, staged map[uuid.UUID]domain.Booking, providerID string, windowStart, windowEnd time.Time) []domain.Booking {
	window := domain.Slot{Start: windowStart, End: windowEnd}

	var out []domain.Booking
	collect := func(b domain.Booking) {
		if b.ProviderID != providerID || !b.Active() {
			return
		}
		if b.Slot().Overlaps(window) {
			out = append(out, b)
		}
	}
	for id, b := range committed {
		if _, ok := staged[id]; ok {
			continue
		}
		collect(b)
	}
	for _, b := range staged {
		collect(b)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}
