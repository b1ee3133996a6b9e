package bookings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"fadebook/backend/internal/domain"
	"fadebook/backend/internal/store"
)

// EventVerifier authenticates a raw provider callback and decodes it.
type EventVerifier interface {
	VerifyEventAuthenticity(payload []byte, signature string) (domain.PaymentEvent, error)
}

type Notifier interface {
	NotifyBookingConfirmed(ctx context.Context, bookingID uuid.UUID) error
}

type PaymentOutcome struct {
	Booking domain.Booking
	Payment domain.Payment
	// Duplicate is set when the event had already been recorded; nothing changed.
	Duplicate bool
	// Confirmed is set when this event moved a scheduled booking to paid.
	Confirmed bool
}

// RecordPayment applies a verified payment event to its booking under the booking's row lock.
// The provider event id is the idempotency key: a replay returns the original ledger entry.
func (s *Service) RecordPayment(ctx context.Context, ev domain.PaymentEvent) (PaymentOutcome, error) {
	if ev.ID == "" {
		return PaymentOutcome{}, validationError("event id is required")
	}
	if ev.BookingID == uuid.Nil {
		return PaymentOutcome{}, validationError("booking id is required")
	}
	switch ev.Kind {
	case domain.PaymentEventSucceeded, domain.PaymentEventFailed, domain.PaymentEventCanceled:
	default:
		return PaymentOutcome{}, validationError(fmt.Sprintf("unsupported event kind %q", ev.Kind))
	}

	var (
		out    PaymentOutcome
		before domain.Booking
	)
	err := s.repo.InBookingTransaction(ctx, ev.BookingID, func(ctx context.Context, tx store.BookingTx) error {
		out = PaymentOutcome{}
		b := tx.Booking()
		before = b

		existing, err := tx.FindPaymentByEventID(ctx, ev.ID)
		switch {
		case err == nil:
			out = PaymentOutcome{Booking: b, Payment: existing, Duplicate: true}
			return nil
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		currency := ev.Currency
		if currency == "" {
			currency = b.Currency
		}
		p, err := tx.InsertPayment(ctx, domain.Payment{
			BookingID:         b.ID,
			ProviderEventID:   ev.ID,
			ProviderPaymentID: ev.ProviderPaymentID,
			Status:            ev.RecordStatus(),
			Amount:            ev.Amount,
			Currency:          currency,
			CreatedAt:         s.now(),
		})
		if err != nil {
			return err
		}
		out.Payment = p
		out.Booking = b

		status, paymentStatus, changed := nextState(b, ev.Kind)
		if !changed {
			return nil
		}
		updated, err := tx.UpdateState(ctx, status, paymentStatus)
		if err != nil {
			return err
		}
		out.Booking = updated
		out.Confirmed = paymentStatus == domain.PaymentPaid && updated.Status == domain.StatusScheduled
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			// A concurrent delivery of the same event committed first.
			return s.duplicateOutcome(ctx, ev)
		}
		return PaymentOutcome{}, err
	}

	log := s.log.With(
		slog.String("booking_id", ev.BookingID.String()),
		slog.String("event_id", ev.ID),
		slog.String("event_kind", string(ev.Kind)),
	)
	if out.Duplicate {
		log.Debug("payment event already recorded")
		return out, nil
	}
	if ev.Amount != before.TotalAmount {
		log.Warn("payment amount differs from booking total",
			slog.Int64("amount", ev.Amount),
			slog.Int64("total_amount", before.TotalAmount),
		)
	}
	log.Info(
		"payment recorded",
		slog.String("payment_id", out.Payment.ID.String()),
		slog.String("status", string(out.Booking.Status)),
		slog.String("payment_status", string(out.Booking.PaymentStatus)),
		slog.String("previous_payment_status", string(before.PaymentStatus)),
	)
	return out, nil
}

func (s *Service) duplicateOutcome(ctx context.Context, ev domain.PaymentEvent) (PaymentOutcome, error) {
	var out PaymentOutcome
	err := s.repo.InBookingTransaction(ctx, ev.BookingID, func(ctx context.Context, tx store.BookingTx) error {
		p, err := tx.FindPaymentByEventID(ctx, ev.ID)
		if err != nil {
			return err
		}
		out = PaymentOutcome{Booking: tx.Booking(), Payment: p, Duplicate: true}
		return nil
	})
	return out, err
}

// nextState maps an event onto the booking's state. Payment status only moves forward,
// and a failure cancels the booking only while it is still scheduled and unpaid.
func nextState(b domain.Booking, kind domain.PaymentEventKind) (domain.Status, domain.PaymentStatus, bool) {
	switch kind {
	case domain.PaymentEventSucceeded:
		if !b.PaymentStatus.CanTransitionTo(domain.PaymentPaid) {
			return b.Status, b.PaymentStatus, false
		}
		return b.Status, domain.PaymentPaid, true
	case domain.PaymentEventFailed, domain.PaymentEventCanceled:
		if !b.PaymentStatus.CanTransitionTo(domain.PaymentFailed) {
			return b.Status, b.PaymentStatus, false
		}
		status := b.Status
		if status == domain.StatusScheduled {
			status = domain.StatusCanceled
		}
		return status, domain.PaymentFailed, true
	default:
		return b.Status, b.PaymentStatus, false
	}
}

type PaymentRecorder interface {
	RecordPayment(ctx context.Context, ev domain.PaymentEvent) (PaymentOutcome, error)
}

// Reconciler is the entry point for raw payment-provider callbacks.
type Reconciler struct {
	recorder PaymentRecorder
	verifier EventVerifier
	notifier Notifier
	log      *slog.Logger
}

func NewReconciler(recorder PaymentRecorder, verifier EventVerifier, notifier Notifier, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{
		recorder: recorder,
		verifier: verifier,
		notifier: notifier,
		log:      log.With(slog.String("component", "reconciler")),
	}
}

// HandleEvent verifies and applies one callback. Nothing is written when verification fails.
// A booking that is not visible yet yields a *RetryableError wrapping store.ErrNotFound.
func (r *Reconciler) HandleEvent(ctx context.Context, payload []byte, signature string) error {
	ev, err := r.verifier.VerifyEventAuthenticity(payload, signature)
	if err != nil {
		r.log.Warn("payment event rejected", slog.Bool("security_event", true), slog.Any("err", err))
		return &AuthenticityError{Err: err}
	}
	return r.Apply(ctx, ev)
}

// Apply processes an already verified event.
func (r *Reconciler) Apply(ctx context.Context, ev domain.PaymentEvent) error {
	log := r.log.With(slog.String("event_id", ev.ID), slog.String("event_type", ev.Type))
	if ev.Kind == domain.PaymentEventIgnored {
		log.Debug("payment event ignored")
		return nil
	}

	out, err := r.recorder.RecordPayment(ctx, ev)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Info("booking not visible yet; event will be redelivered", slog.String("booking_id", ev.BookingID.String()))
			return &RetryableError{Err: err}
		}
		var ve *ValidationError
		if errors.As(err, &ve) {
			log.Warn("malformed payment event", slog.Any("err", err))
		} else {
			log.Error("payment event failed", slog.Any("err", err))
		}
		return err
	}

	if out.Confirmed && r.notifier != nil {
		if err := r.notifier.NotifyBookingConfirmed(ctx, out.Booking.ID); err != nil {
			log.Warn("booking confirmation notification failed",
				slog.String("booking_id", out.Booking.ID.String()),
				slog.Any("err", err),
			)
		}
	}
	return nil
}
