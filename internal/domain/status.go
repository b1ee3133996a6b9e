package domain

import "fmt"

// Status is the fulfillment state of a booking.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

var statusTransitions = map[Status][]Status{
	StatusScheduled: {StatusCompleted, StatusCanceled},
	StatusCompleted: {},
	StatusCanceled:  {},
}

func (s Status) IsValid() bool {
	_, ok := statusTransitions[s]
	return ok
}

func (s Status) CanTransitionTo(target Status) bool {
	for _, t := range statusTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	return len(statusTransitions[s]) == 0
}

func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid booking status: %q", s)
	}
	return status, nil
}

// PaymentStatus is the payment state of a booking. It evolves independently of Status.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentFailed  PaymentStatus = "failed"
	PaymentPaid    PaymentStatus = "paid"
)

// Payment states only ever move up in rank. A failed attempt may still be followed by a
// captured one; paid is final.
var paymentRank = map[PaymentStatus]int{
	PaymentPending: 0,
	PaymentFailed:  1,
	PaymentPaid:    2,
}

func (p PaymentStatus) IsValid() bool {
	_, ok := paymentRank[p]
	return ok
}

func (p PaymentStatus) CanTransitionTo(target PaymentStatus) bool {
	from, ok := paymentRank[p]
	if !ok {
		return false
	}
	to, ok := paymentRank[target]
	if !ok {
		return false
	}
	return to > from
}
