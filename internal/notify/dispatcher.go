// Package notify hands booking notifications to the asynq queue. Delivery is done by
// workers outside this service.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const TypeBookingConfirmed = "booking:confirmed"

const defaultMaxRetry = 10

type BookingConfirmedPayload struct {
	BookingID  string `json:"booking_id"`
	OccurredAt string `json:"occurred_at"`
}

// NewBookingConfirmedTask builds the task for a confirmed booking. The task id is derived
// from the booking id so a booking is announced at most once per retention window.
func NewBookingConfirmedTask(bookingID uuid.UUID, occurredAt time.Time) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(BookingConfirmedPayload{
		BookingID:  bookingID.String(),
		OccurredAt: occurredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, nil, err
	}
	task := asynq.NewTask(TypeBookingConfirmed, b)
	opts := []asynq.Option{
		asynq.TaskID(TypeBookingConfirmed + ":" + bookingID.String()),
		asynq.MaxRetry(defaultMaxRetry),
	}
	return task, opts, nil
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Dispatcher struct {
	client enqueuer
	queue  string
	log    *slog.Logger
	now    func() time.Time
}

func NewDispatcher(client *asynq.Client, queue string, log *slog.Logger) *Dispatcher {
	return newDispatcher(client, queue, log)
}

func newDispatcher(client enqueuer, queue string, log *slog.Logger) *Dispatcher {
	if queue == "" {
		queue = "default"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		client: client,
		queue:  queue,
		log:    log.With(slog.String("component", "notify")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) NotifyBookingConfirmed(ctx context.Context, bookingID uuid.UUID) error {
	task, opts, err := NewBookingConfirmedTask(bookingID, d.now())
	if err != nil {
		return fmt.Errorf("build task: %w", err)
	}
	opts = append(opts, asynq.Queue(d.queue))

	info, err := d.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			d.log.Debug("booking confirmation already queued", slog.String("booking_id", bookingID.String()))
			return nil
		}
		return fmt.Errorf("enqueue %s: %w", TypeBookingConfirmed, err)
	}

	d.log.Info("booking confirmation queued",
		slog.String("booking_id", bookingID.String()),
		slog.String("task_id", info.ID),
		slog.String("queue", info.Queue),
	)
	return nil
}
