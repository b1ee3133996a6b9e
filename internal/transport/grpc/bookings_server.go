package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"fadebook/backend/internal/domain"
	"fadebook/backend/internal/service/bookings"
	"fadebook/backend/internal/store"
)

type BookingsServer struct {
	svc bookingsService
	log *slog.Logger
}

type bookingsService interface {
	Create(ctx context.Context, in bookings.CreateInput) (bookings.CreateResult, error)
	UpdateStatus(ctx context.Context, bookingID uuid.UUID, requested domain.Status, actor domain.Principal) (domain.Booking, error)
	Get(ctx context.Context, bookingID uuid.UUID, actor domain.Principal) (domain.Booking, error)
	ListProviderBookings(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Booking, error)
	IsSlotAvailable(ctx context.Context, providerID string, start time.Time, durationMinutes int, exclude uuid.UUID) (bool, error)
	ListPayments(ctx context.Context, bookingID uuid.UUID, actor domain.Principal) ([]domain.Payment, error)
}

func NewBookingsServer(svc bookingsService, log *slog.Logger) *BookingsServer {
	if log == nil {
		log = slog.Default()
	}
	return &BookingsServer{
		svc: svc,
		log: log.With(slog.String("component", "grpc.bookings")),
	}
}

func (s *BookingsServer) CreateBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "CreateBooking"))

	actor, err := principal(ctx)
	if err != nil {
		log.Warn("unauthenticated request", slog.Any("err", err))
		return nil, err
	}
	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	start, err := timeField(req, "start_time")
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "bad_start_time"), slog.String("principal_id", actor.ID))
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	customerID := actor.ID
	if other := stringField(req, "customer_id"); other != "" && other != actor.ID {
		if !actor.IsAdmin() {
			log.Warn("forbidden", slog.String("reason", "customer_mismatch"), slog.String("principal_id", actor.ID))
			return nil, status.Error(codes.PermissionDenied, "You can only book for yourself.")
		}
		customerID = other
	} else if actor.Role != domain.RoleCustomer && !actor.IsAdmin() {
		return nil, status.Error(codes.PermissionDenied, "Only customers can create bookings.")
	}

	providerID := stringField(req, "provider_id")
	res, err := s.svc.Create(ctx, bookings.CreateInput{
		CustomerID:     customerID,
		ProviderID:     providerID,
		ServiceID:      stringField(req, "service_id"),
		StartTime:      start,
		IdempotencyKey: idempotencyKey(ctx),
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			log.Info(
				"booking create conflict",
				slog.String("provider_id", providerID),
				slog.String("customer_id", customerID),
				slog.Time("start_time", start),
			)
		}
		return nil, s.toStatus(log, err)
	}

	return structpb.NewStruct(map[string]any{
		"booking": bookingFields(res.Booking),
		"authorization": map[string]any{
			"id":            res.Authorization.ID,
			"client_secret": res.Authorization.ClientSecret,
			"status":        res.Authorization.Status,
		},
	})
}

func (s *BookingsServer) UpdateBookingStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "UpdateBookingStatus"))

	actor, err := principal(ctx)
	if err != nil {
		log.Warn("unauthenticated request", slog.Any("err", err))
		return nil, err
	}
	id, err := bookingID(req)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"), slog.String("principal_id", actor.ID))
		return nil, err
	}
	requested, err := domain.ParseStatus(stringField(req, "status"))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_status"), slog.String("booking_id", id.String()))
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	b, err := s.svc.UpdateStatus(ctx, id, requested, actor)
	if err != nil {
		return nil, s.toStatus(log.With(slog.String("booking_id", id.String())), err)
	}
	return structpb.NewStruct(map[string]any{"booking": bookingFields(b)})
}

func (s *BookingsServer) GetBooking(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "GetBooking"))

	actor, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	id, err := bookingID(req)
	if err != nil {
		return nil, err
	}

	b, err := s.svc.Get(ctx, id, actor)
	if err != nil {
		return nil, s.toStatus(log.With(slog.String("booking_id", id.String())), err)
	}
	return structpb.NewStruct(map[string]any{"booking": bookingFields(b)})
}

func (s *BookingsServer) ListProviderBookings(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "ListProviderBookings"))

	actor, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	providerID := stringField(req, "provider_id")
	if !actor.IsAdmin() && (actor.Role != domain.RoleProvider || actor.ID != providerID) {
		log.Warn("forbidden", slog.String("principal_id", actor.ID), slog.String("provider_id", providerID))
		return nil, status.Error(codes.PermissionDenied, "You can only view your own calendar.")
	}
	windowStart, err := timeField(req, "window_start")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	windowEnd, err := timeField(req, "window_end")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	rows, err := s.svc.ListProviderBookings(ctx, providerID, windowStart, windowEnd)
	if err != nil {
		return nil, s.toStatus(log, err)
	}

	out := make([]any, 0, len(rows))
	for _, b := range rows {
		out = append(out, bookingFields(b))
	}

	log.Debug(
		"provider bookings listed",
		slog.String("provider_id", providerID),
		slog.Int("count", len(out)),
		slog.Time("window_start", windowStart),
		slog.Time("window_end", windowEnd),
	)
	return structpb.NewStruct(map[string]any{"bookings": out})
}

func (s *BookingsServer) CheckAvailability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "CheckAvailability"))

	if _, err := principal(ctx); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	start, err := timeField(req, "start_time")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	duration, err := intField(req, "duration_minutes")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if duration <= 0 || duration > domain.MaxSlotMinutes {
		return nil, status.Errorf(codes.InvalidArgument, "duration_minutes must be between 1 and %d", domain.MaxSlotMinutes)
	}
	exclude := uuid.Nil
	if raw := stringField(req, "exclude_booking_id"); raw != "" {
		if exclude, err = uuid.Parse(raw); err != nil {
			return nil, status.Error(codes.InvalidArgument, "exclude_booking_id must be a UUID")
		}
	}

	ok, err := s.svc.IsSlotAvailable(ctx, stringField(req, "provider_id"), start, duration, exclude)
	if err != nil {
		return nil, s.toStatus(log, err)
	}
	return structpb.NewStruct(map[string]any{"available": ok})
}

func (s *BookingsServer) ListPayments(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	log := s.log.With(slog.String("rpc", "ListPayments"))

	actor, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	id, err := bookingID(req)
	if err != nil {
		return nil, err
	}

	payments, err := s.svc.ListPayments(ctx, id, actor)
	if err != nil {
		return nil, s.toStatus(log.With(slog.String("booking_id", id.String())), err)
	}

	out := make([]any, 0, len(payments))
	for _, p := range payments {
		out = append(out, map[string]any{
			"id":                  p.ID.String(),
			"booking_id":          p.BookingID.String(),
			"provider_event_id":   p.ProviderEventID,
			"provider_payment_id": p.ProviderPaymentID,
			"status":              string(p.Status),
			"amount":              float64(p.Amount),
			"currency":            p.Currency,
			"created_at":          p.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return structpb.NewStruct(map[string]any{"payments": out})
}

// toStatus maps service errors to gRPC statuses and logs them at the matching level.
func (s *BookingsServer) toStatus(log *slog.Logger, err error) error {
	var (
		vErr   *bookings.ValidationError
		depErr *bookings.ExternalDependencyError
	)
	switch {
	case errors.As(err, &vErr):
		log.Warn("invalid request", slog.Any("err", err))
		return status.Error(codes.InvalidArgument, vErr.Error())
	case errors.Is(err, store.ErrIdempotencyConflict):
		log.Info("idempotency conflict", slog.Any("err", err))
		return status.Error(codes.AlreadyExists, "This request key was already used for a different booking. Try again.")
	case errors.Is(err, store.ErrConflict):
		return status.Error(codes.FailedPrecondition, "That time slot is no longer available. Pick a different slot.")
	case errors.Is(err, bookings.ErrForbidden):
		log.Warn("forbidden", slog.Any("err", err))
		return status.Error(codes.PermissionDenied, "You are not allowed to do that.")
	case errors.Is(err, bookings.ErrInvalidState):
		log.Info("invalid state transition", slog.Any("err", err))
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, store.ErrNotFound):
		log.Info("not found", slog.Any("err", err))
		return status.Error(codes.NotFound, err.Error())
	case errors.As(err, &depErr):
		log.Warn("dependency unavailable", slog.String("dependency", depErr.Dependency), slog.Any("err", err))
		return status.Error(codes.Unavailable, depErr.Dependency+" unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("deadline exceeded", slog.Any("err", err))
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	default:
		log.Error("request failed", slog.Any("err", err))
		return status.Error(codes.Internal, "internal error")
	}
}

// principal reads the caller identity set by the authenticating proxy.
func principal(ctx context.Context) (domain.Principal, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return domain.Principal{}, status.Error(codes.Unauthenticated, "principal is required")
	}
	id := firstValue(md, "x-principal-id")
	if id == "" {
		return domain.Principal{}, status.Error(codes.Unauthenticated, "principal is required")
	}
	role, err := domain.ParseRole(strings.ToLower(firstValue(md, "x-principal-role")))
	if err != nil {
		return domain.Principal{}, status.Error(codes.Unauthenticated, err.Error())
	}
	return domain.Principal{ID: id, Role: role}, nil
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if key := firstValue(md, "idempotency-key"); key != "" {
		return key
	}
	return firstValue(md, "x-idempotency-key")
}

func firstValue(md metadata.MD, key string) string {
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func bookingID(req *structpb.Struct) (uuid.UUID, error) {
	if req == nil {
		return uuid.Nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := uuid.Parse(stringField(req, "booking_id"))
	if err != nil {
		return uuid.Nil, status.Error(codes.InvalidArgument, "booking_id must be a UUID")
	}
	return id, nil
}

func stringField(req *structpb.Struct, name string) string {
	v, ok := req.GetFields()[name]
	if !ok {
		return ""
	}
	return strings.TrimSpace(v.GetStringValue())
}

// timeField reads an RFC 3339 timestamp.
func timeField(req *structpb.Struct, name string) (time.Time, error) {
	raw := stringField(req, name)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%s is required", name)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
	}
	return t.UTC(), nil
}

func intField(req *structpb.Struct, name string) (int, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, fmt.Errorf("%s is required", name)
	}
	n, isNumber := v.GetKind().(*structpb.Value_NumberValue)
	if !isNumber || n.NumberValue != math.Trunc(n.NumberValue) || math.Abs(n.NumberValue) > math.MaxInt32 {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return int(n.NumberValue), nil
}

func bookingFields(b domain.Booking) map[string]any {
	return map[string]any{
		"id":               b.ID.String(),
		"provider_id":      b.ProviderID,
		"customer_id":      b.CustomerID,
		"service_id":       b.ServiceID,
		"start_time":       b.StartTime.UTC().Format(time.RFC3339),
		"end_time":         b.EndTime.UTC().Format(time.RFC3339),
		"duration_minutes": float64(b.DurationMinutes),
		"total_amount":     float64(b.TotalAmount),
		"currency":         b.Currency,
		"status":           string(b.Status),
		"payment_status":   string(b.PaymentStatus),
		"created_at":       b.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":       b.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}
