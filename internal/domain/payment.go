package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type PaymentRecordStatus string

const (
	PaymentRecordSucceeded PaymentRecordStatus = "succeeded"
	PaymentRecordFailed    PaymentRecordStatus = "failed"
)

// Payment is one entry of a booking's append-only payment ledger.
type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	ID                uuid.UUID           `bun:"id,pk,type:uuid"`
	BookingID         uuid.UUID           `bun:"booking_id,notnull,type:uuid"`
	ProviderEventID   string              `bun:"provider_event_id,notnull,unique"`
	ProviderPaymentID string              `bun:"provider_payment_id"`
	Status            PaymentRecordStatus `bun:"status,notnull"`
	Amount            int64               `bun:"amount,notnull"`
	Currency          string              `bun:"currency,notnull"`
	CreatedAt         time.Time           `bun:"created_at,notnull"`
}

func (p *Payment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); !ok {
		return nil
	}
	if p.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		p.ID = id
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	return nil
}

type PaymentEventKind string

const (
	PaymentEventSucceeded PaymentEventKind = "succeeded"
	PaymentEventFailed    PaymentEventKind = "failed"
	PaymentEventCanceled  PaymentEventKind = "canceled"
	// PaymentEventIgnored marks authentic provider events that carry no booking transition.
	PaymentEventIgnored PaymentEventKind = "ignored"
)

// PaymentEvent is a verified payment-provider notification.
type PaymentEvent struct {
	ID                string
	Kind              PaymentEventKind
	Type              string
	BookingID         uuid.UUID
	ProviderPaymentID string
	Amount            int64
	Currency          string
}

// RecordStatus is the ledger status the event is recorded with.
func (e PaymentEvent) RecordStatus() PaymentRecordStatus {
	if e.Kind == PaymentEventSucceeded {
		return PaymentRecordSucceeded
	}
	return PaymentRecordFailed
}

// Authorization is the handle returned by the payment gateway for a booking's charge.
type Authorization struct {
	ID           string
	ClientSecret string
	Status       string
}
