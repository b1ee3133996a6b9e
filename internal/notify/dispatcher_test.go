package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

type fakeEnqueuer struct {
	enqueueFn func(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.enqueueFn == nil {
		panic("EnqueueContext not configured")
	}
	return f.enqueueFn(ctx, task, opts...)
}

func TestNotifyBookingConfirmed_EnqueuesTask(t *testing.T) {
	bookingID := uuid.New()
	at := time.Date(2030, 1, 7, 9, 0, 0, 0, time.UTC)

	var (
		gotTask *asynq.Task
		gotOpts []asynq.Option
	)
	d := newDispatcher(&fakeEnqueuer{
		enqueueFn: func(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
			gotTask = task
			gotOpts = opts
			return &asynq.TaskInfo{ID: "t1", Queue: "notifications"}, nil
		},
	}, "notifications", nil)
	d.now = func() time.Time { return at }

	if err := d.NotifyBookingConfirmed(context.Background(), bookingID); err != nil {
		t.Fatalf("NotifyBookingConfirmed error: %v", err)
	}

	if gotTask.Type() != TypeBookingConfirmed {
		t.Fatalf("task type = %q, want %q", gotTask.Type(), TypeBookingConfirmed)
	}
	var payload BookingConfirmedPayload
	if err := json.Unmarshal(gotTask.Payload(), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.BookingID != bookingID.String() || payload.OccurredAt != "2030-01-07T09:00:00Z" {
		t.Fatalf("payload = %+v", payload)
	}

	want := map[asynq.OptionType]any{
		asynq.TaskIDOpt:   TypeBookingConfirmed + ":" + bookingID.String(),
		asynq.QueueOpt:    "notifications",
		asynq.MaxRetryOpt: defaultMaxRetry,
	}
	for _, opt := range gotOpts {
		if v, ok := want[opt.Type()]; ok {
			if opt.Value() != v {
				t.Fatalf("option %v = %v, want %v", opt.Type(), opt.Value(), v)
			}
			delete(want, opt.Type())
		}
	}
	if len(want) != 0 {
		t.Fatalf("missing options: %v", want)
	}
}

func TestNotifyBookingConfirmed_DuplicateIsNotAnError(t *testing.T) {
	d := newDispatcher(&fakeEnqueuer{
		enqueueFn: func(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
			return nil, asynq.ErrTaskIDConflict
		},
	}, "", nil)

	if err := d.NotifyBookingConfirmed(context.Background(), uuid.New()); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
}

func TestNotifyBookingConfirmed_PropagatesQueueErrors(t *testing.T) {
	boom := errors.New("redis: connection refused")
	d := newDispatcher(&fakeEnqueuer{
		enqueueFn: func(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
			return nil, boom
		},
	}, "", nil)

	if err := d.NotifyBookingConfirmed(context.Background(), uuid.New()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}
