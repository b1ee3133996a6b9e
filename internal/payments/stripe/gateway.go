// Package stripepay is the payment gateway backed by Stripe PaymentIntents.
package stripepay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"fadebook/backend/internal/domain"
)

const (
	metadataBookingID = "booking_id"

	eventPaymentSucceeded = "payment_intent.succeeded"
	eventPaymentFailed    = "payment_intent.payment_failed"
	eventPaymentCanceled  = "payment_intent.canceled"
)

var ErrMissingWebhookSecret = errors.New("stripe webhook secret is not configured")

type Config struct {
	SecretKey     string
	WebhookSecret string
	// APIURL overrides the Stripe API base URL.
	APIURL            string
	HTTPClient        *http.Client
	MaxNetworkRetries int64
}

type Gateway struct {
	api           *client.API
	webhookSecret string
	log           *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "stripe"))

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        cfg.HTTPClient,
		LeveledLogger:     leveledLogger{log: log},
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(strings.TrimRight(cfg.APIURL, "/"))
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	api := client.New(cfg.SecretKey, &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})

	return &Gateway{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		log:           log,
	}
}

// AuthorizePayment creates (or, on replay, returns) the PaymentIntent for a booking. The
// booking id is both the idempotency key and the metadata the webhook is matched back on.
func (g *Gateway) AuthorizePayment(ctx context.Context, bookingID uuid.UUID, amount int64, currency string) (domain.Authorization, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("booking-authorization:" + bookingID.String())
	params.AddMetadata(metadataBookingID, bookingID.String())

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Authorization{}, fmt.Errorf("create payment intent: %w", ctxErr)
		}
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			return domain.Authorization{}, fmt.Errorf("create payment intent: %s (%s, http %d)", stripeErr.Msg, stripeErr.Type, stripeErr.HTTPStatusCode)
		}
		return domain.Authorization{}, fmt.Errorf("create payment intent: %w", err)
	}

	g.log.Debug("payment intent created",
		slog.String("booking_id", bookingID.String()),
		slog.String("payment_intent_id", pi.ID),
		slog.String("status", string(pi.Status)),
	)
	return domain.Authorization{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
	}, nil
}

// VerifyEventAuthenticity checks the Stripe-Signature header and decodes the event.
// Authentic events that do not concern a booking come back as PaymentEventIgnored.
func (g *Gateway) VerifyEventAuthenticity(payload []byte, signature string) (domain.PaymentEvent, error) {
	if g.webhookSecret == "" {
		return domain.PaymentEvent{}, ErrMissingWebhookSecret
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return domain.PaymentEvent{}, err
	}

	out := domain.PaymentEvent{
		ID:   event.ID,
		Type: string(event.Type),
		Kind: domain.PaymentEventIgnored,
	}

	var kind domain.PaymentEventKind
	switch out.Type {
	case eventPaymentSucceeded:
		kind = domain.PaymentEventSucceeded
	case eventPaymentFailed:
		kind = domain.PaymentEventFailed
	case eventPaymentCanceled:
		kind = domain.PaymentEventCanceled
	default:
		return out, nil
	}

	if event.Data == nil {
		return domain.PaymentEvent{}, fmt.Errorf("event %s has no data", event.ID)
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("decode payment intent: %w", err)
	}

	raw, ok := pi.Metadata[metadataBookingID]
	if !ok || raw == "" {
		g.log.Info("payment intent without booking", slog.String("event_id", event.ID), slog.String("payment_intent_id", pi.ID))
		return out, nil
	}
	bookingID, err := uuid.Parse(raw)
	if err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("invalid booking_id metadata %q: %w", raw, err)
	}

	amount := pi.Amount
	if kind == domain.PaymentEventSucceeded && pi.AmountReceived > 0 {
		amount = pi.AmountReceived
	}

	out.Kind = kind
	out.BookingID = bookingID
	out.ProviderPaymentID = pi.ID
	out.Amount = amount
	out.Currency = string(pi.Currency)
	return out, nil
}

// leveledLogger routes stripe-go's client logging into slog.
type leveledLogger struct {
	log *slog.Logger
}

func (l leveledLogger) Debugf(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...))
}

func (l leveledLogger) Infof(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...))
}

func (l leveledLogger) Warnf(format string, v ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, v...))
}

func (l leveledLogger) Errorf(format string, v ...interface{}) {
	l.log.Error(fmt.Sprintf(format, v...))
}
