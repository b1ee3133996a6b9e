package bookings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"fadebook/backend/internal/domain"
	"fadebook/backend/internal/store"
)

const defaultAuthorizeTimeout = 10 * time.Second

type PaymentAuthorizer interface {
	AuthorizePayment(ctx context.Context, bookingID uuid.UUID, amount int64, currency string) (domain.Authorization, error)
}

type Options struct {
	Currency         string
	AuthorizeTimeout time.Duration
	Logger           *slog.Logger
	Now              func() time.Time
}

// Service is the booking lifecycle manager.
type Service struct {
	repo     store.BookingRepository
	catalog  store.ServiceCatalog
	payments PaymentAuthorizer

	currency         string
	authorizeTimeout time.Duration
	log              *slog.Logger
	now              func() time.Time
}

func NewService(repo store.BookingRepository, catalog store.ServiceCatalog, payments PaymentAuthorizer, opts Options) *Service {
	s := &Service{
		repo:             repo,
		catalog:          catalog,
		payments:         payments,
		currency:         strings.ToLower(strings.TrimSpace(opts.Currency)),
		authorizeTimeout: opts.AuthorizeTimeout,
		log:              opts.Logger,
		now:              opts.Now,
	}
	if s.currency == "" {
		s.currency = "usd"
	}
	if s.authorizeTimeout <= 0 {
		s.authorizeTimeout = defaultAuthorizeTimeout
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With(slog.String("component", "bookings"))
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

type CreateInput struct {
	CustomerID     string
	ProviderID     string
	ServiceID      string
	StartTime      time.Time
	IdempotencyKey string
}

type CreateResult struct {
	Booking       domain.Booking
	Authorization domain.Authorization
}

func (s *Service) Create(ctx context.Context, in CreateInput) (CreateResult, error) {
	if in.CustomerID == "" {
		return CreateResult{}, validationError("customer_id is required")
	}
	if in.ProviderID == "" {
		return CreateResult{}, validationError("provider_id is required")
	}
	if in.ServiceID == "" {
		return CreateResult{}, validationError("service_id is required")
	}
	if in.StartTime.IsZero() {
		return CreateResult{}, validationError("start_time is required")
	}
	now := s.now()
	start := in.StartTime.UTC()
	if !start.After(now) {
		return CreateResult{}, validationError("start_time must be in the future")
	}

	svc, err := s.catalog.GetService(ctx, in.ServiceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return CreateResult{}, fmt.Errorf("service %s: %w", in.ServiceID, store.ErrNotFound)
		}
		return CreateResult{}, &ExternalDependencyError{Dependency: "service_catalog", Err: err}
	}
	if svc.ProviderID != in.ProviderID {
		return CreateResult{}, fmt.Errorf("service %s for provider %s: %w", in.ServiceID, in.ProviderID, store.ErrNotFound)
	}
	if svc.DurationMinutes <= 0 || svc.DurationMinutes > domain.MaxSlotMinutes {
		return CreateResult{}, validationError(fmt.Sprintf("service duration must be between 1 and %d minutes", domain.MaxSlotMinutes))
	}
	if svc.PriceAmount < 0 {
		return CreateResult{}, validationError("service price must not be negative")
	}

	booking := domain.Booking{
		ProviderID:      in.ProviderID,
		CustomerID:      in.CustomerID,
		ServiceID:       svc.ID,
		StartTime:       start,
		DurationMinutes: svc.DurationMinutes,
		TotalAmount:     svc.PriceAmount,
		Currency:        s.currency,
		Status:          domain.StatusScheduled,
		PaymentStatus:   domain.PaymentPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	booking.EndTime = booking.Slot().End

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if len(key) > 256 {
			return CreateResult{}, validationError("idempotency_key too long")
		}
		booking.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("fadebook:create_booking:"+in.CustomerID+":"+key))
	}

	var replayed bool
	err = s.repo.InProviderTransaction(ctx, in.ProviderID, func(ctx context.Context, tx store.CalendarTx) error {
		if booking.ID != uuid.Nil {
			existing, err := tx.FindBooking(ctx, booking.ID)
			switch {
			case err == nil:
				if !sameCreateRequest(existing, booking) {
					return store.ErrIdempotencyConflict
				}
				booking = existing
				replayed = true
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		slot := booking.Slot()
		calendar, err := tx.ListActiveBookings(ctx, booking.ProviderID, slot.Start, slot.End)
		if err != nil {
			return err
		}
		if !domain.SlotAvailable(calendar, slot, uuid.Nil) {
			return store.ErrConflict
		}

		created, err := tx.InsertBooking(ctx, booking)
		if err != nil {
			return err
		}
		booking = created
		return nil
	})
	if err != nil {
		return CreateResult{}, err
	}

	if replayed {
		if booking.Status != domain.StatusScheduled || booking.PaymentStatus != domain.PaymentPending {
			return CreateResult{}, fmt.Errorf("booking %s is %s/%s: %w", booking.ID, booking.Status, booking.PaymentStatus, ErrInvalidState)
		}
	} else {
		s.log.Info(
			"booking created",
			slog.String("booking_id", booking.ID.String()),
			slog.String("provider_id", booking.ProviderID),
			slog.String("customer_id", booking.CustomerID),
			slog.Time("start_time", booking.StartTime),
			slog.Int("duration_minutes", booking.DurationMinutes),
		)
	}

	auth, err := s.authorize(ctx, booking)
	if err != nil {
		return CreateResult{}, err
	}

	return CreateResult{Booking: booking, Authorization: auth}, nil
}

// authorize requests the payment authorization for a freshly persisted booking. A gateway
// failure cancels the booking; a timeout leaves it pending for the expiry sweep.
func (s *Service) authorize(ctx context.Context, booking domain.Booking) (domain.Authorization, error) {
	actx, cancel := context.WithTimeout(ctx, s.authorizeTimeout)
	defer cancel()

	auth, err := s.payments.AuthorizePayment(actx, booking.ID, booking.TotalAmount, booking.Currency)
	if err == nil {
		return auth, nil
	}

	log := s.log.With(slog.String("booking_id", booking.ID.String()))
	depErr := &ExternalDependencyError{Dependency: "payment_gateway", Err: err}

	if actx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("payment authorization timed out; booking left pending", slog.Any("err", err))
		return domain.Authorization{}, depErr
	}

	log.Warn("payment authorization failed; canceling booking", slog.Any("err", err))
	rollbackErr := s.repo.InBookingTransaction(context.WithoutCancel(ctx), booking.ID, func(ctx context.Context, tx store.BookingTx) error {
		current := tx.Booking()
		if current.Status != domain.StatusScheduled || current.PaymentStatus != domain.PaymentPending {
			return nil
		}
		_, err := tx.UpdateState(ctx, domain.StatusCanceled, domain.PaymentFailed)
		return err
	})
	if rollbackErr != nil {
		log.Error("canceling unauthorized booking failed", slog.Any("err", rollbackErr))
	}
	return domain.Authorization{}, depErr
}

func sameCreateRequest(existing, requested domain.Booking) bool {
	return existing.CustomerID == requested.CustomerID &&
		existing.ProviderID == requested.ProviderID &&
		existing.ServiceID == requested.ServiceID &&
		existing.StartTime.Equal(requested.StartTime)
}

// IsSlotAvailable is the advisory availability check. Create repeats it under the
// provider's calendar lock.
func (s *Service) IsSlotAvailable(ctx context.Context, providerID string, start time.Time, durationMinutes int, exclude uuid.UUID) (bool, error) {
	if providerID == "" {
		return false, validationError("provider_id is required")
	}
	if start.IsZero() {
		return false, validationError("start_time is required")
	}
	if !start.After(s.now()) {
		return false, validationError("start_time must be in the future")
	}
	if durationMinutes <= 0 {
		return false, validationError("duration_minutes must be positive")
	}
	if durationMinutes > domain.MaxSlotMinutes {
		return false, validationError(fmt.Sprintf("duration_minutes must not exceed %d", domain.MaxSlotMinutes))
	}

	slot := domain.NewSlot(start, durationMinutes)
	calendar, err := s.repo.ListByProvider(ctx, providerID, slot.Start, slot.End)
	if err != nil {
		return false, err
	}
	return domain.SlotAvailable(calendar, slot, exclude), nil
}

func (s *Service) UpdateStatus(ctx context.Context, bookingID uuid.UUID, requested domain.Status, actor domain.Principal) (domain.Booking, error) {
	return s.updateStatus(ctx, bookingID, requested, actor, nil)
}

// updateStatus applies a status transition under the booking lock. precondition, when set,
// is checked against the locked row before any other rule.
func (s *Service) updateStatus(ctx context.Context, bookingID uuid.UUID, requested domain.Status, actor domain.Principal, precondition func(domain.Booking) error) (domain.Booking, error) {
	if bookingID == uuid.Nil {
		return domain.Booking{}, validationError("booking_id is required")
	}
	if !requested.IsValid() {
		return domain.Booking{}, validationError("invalid status")
	}
	if actor.ID == "" {
		return domain.Booking{}, validationError("principal is required")
	}

	var (
		before  domain.Booking
		updated domain.Booking
	)
	err := s.repo.InBookingTransaction(ctx, bookingID, func(ctx context.Context, tx store.BookingTx) error {
		b := tx.Booking()
		before = b

		if precondition != nil {
			if err := precondition(b); err != nil {
				return err
			}
		}
		if !canRequest(b, requested, actor) {
			return ErrForbidden
		}
		if !b.Status.CanTransitionTo(requested) {
			return fmt.Errorf("%s -> %s: %w", b.Status, requested, ErrInvalidState)
		}
		if requested == domain.StatusCanceled && !b.StartTime.After(s.now()) {
			return fmt.Errorf("booking already started: %w", ErrInvalidState)
		}

		var err error
		updated, err = tx.UpdateState(ctx, requested, b.PaymentStatus)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Booking{}, fmt.Errorf("booking %s: %w", bookingID, err)
		}
		return domain.Booking{}, err
	}

	s.log.Info(
		"booking status updated",
		slog.String("booking_id", updated.ID.String()),
		slog.String("from", string(before.Status)),
		slog.String("to", string(updated.Status)),
		slog.String("payment_status", string(updated.PaymentStatus)),
		slog.String("principal_id", actor.ID),
		slog.String("principal_role", string(actor.Role)),
	)
	return updated, nil
}

// canRequest: customers may cancel their own bookings, providers may complete theirs,
// administrators may request anything.
func canRequest(b domain.Booking, requested domain.Status, actor domain.Principal) bool {
	if actor.IsAdmin() {
		return true
	}
	switch requested {
	case domain.StatusCanceled:
		return actor.Role == domain.RoleCustomer && actor.ID == b.CustomerID
	case domain.StatusCompleted:
		return actor.Role == domain.RoleProvider && actor.ID == b.ProviderID
	default:
		return false
	}
}

func canView(b domain.Booking, actor domain.Principal) bool {
	switch {
	case actor.IsAdmin():
		return true
	case actor.Role == domain.RoleCustomer:
		return actor.ID == b.CustomerID
	case actor.Role == domain.RoleProvider:
		return actor.ID == b.ProviderID
	default:
		return false
	}
}

func (s *Service) Get(ctx context.Context, bookingID uuid.UUID, actor domain.Principal) (domain.Booking, error) {
	if bookingID == uuid.Nil {
		return domain.Booking{}, validationError("booking_id is required")
	}
	b, err := s.repo.Get(ctx, bookingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Booking{}, fmt.Errorf("booking %s: %w", bookingID, err)
		}
		return domain.Booking{}, err
	}
	if !canView(b, actor) {
		return domain.Booking{}, ErrForbidden
	}
	return b, nil
}

func (s *Service) ListProviderBookings(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Booking, error) {
	if providerID == "" {
		return nil, validationError("provider_id is required")
	}
	start := windowStart.UTC()
	end := windowEnd.UTC()
	if end.Equal(start) || end.Before(start) {
		return nil, validationError("window_end must be after window_start")
	}
	return s.repo.ListByProvider(ctx, providerID, start, end)
}

func (s *Service) ListPayments(ctx context.Context, bookingID uuid.UUID, actor domain.Principal) ([]domain.Payment, error) {
	if _, err := s.Get(ctx, bookingID, actor); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, bookingID)
}

// ExpirePending cancels bookings still awaiting payment more than ttl after creation.
// Bookings whose start has already passed are left alone.
func (s *Service) ExpirePending(ctx context.Context, ttl time.Duration, batchSize int) (int, error) {
	if ttl <= 0 {
		return 0, validationError("ttl must be positive")
	}
	now := s.now()
	rows, err := s.repo.ListPendingCreatedBefore(ctx, now.Add(-ttl), now, batchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, b := range rows {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		if _, err := s.updateStatus(ctx, b.ID, domain.StatusCanceled, domain.SystemPrincipal, stillAwaitingPayment); err != nil {
			if errors.Is(err, ErrInvalidState) {
				s.log.Debug("pending booking changed before expiry", slog.String("booking_id", b.ID.String()), slog.Any("err", err))
				continue
			}
			s.log.Warn("pending booking expiry failed", slog.String("booking_id", b.ID.String()), slog.Any("err", err))
			continue
		}
		expired++
	}
	return expired, nil
}

func stillAwaitingPayment(b domain.Booking) error {
	if b.PaymentStatus != domain.PaymentPending {
		return fmt.Errorf("payment is %s: %w", b.PaymentStatus, ErrInvalidState)
	}
	return nil
}
