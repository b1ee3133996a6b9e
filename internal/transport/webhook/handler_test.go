package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"fadebook/backend/internal/service/bookings"
	"fadebook/backend/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeEvents struct {
	handleFn func(ctx context.Context, payload []byte, signature string) error
}

func (f *fakeEvents) HandleEvent(ctx context.Context, payload []byte, signature string) error {
	if f.handleFn == nil {
		panic("HandleEvent not configured")
	}
	return f.handleFn(ctx, payload, signature)
}

func post(t *testing.T, router http.Handler, body, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestPaymentEvent_PassesRawBodyAndSignature(t *testing.T) {
	var gotPayload, gotSig string
	router := NewRouter(NewHandler(&fakeEvents{
		handleFn: func(ctx context.Context, payload []byte, signature string) error {
			gotPayload = string(payload)
			gotSig = signature
			return nil
		},
	}, nil))

	rec := post(t, router, `{"id":"evt_1"}`, "t=1,v1=abc")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if gotPayload != `{"id":"evt_1"}` || gotSig != "t=1,v1=abc" {
		t.Fatalf("payload = %q, signature = %q", gotPayload, gotSig)
	}
}

func TestPaymentEvent_MapsErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "unverifiable", err: &bookings.AuthenticityError{Err: errors.New("bad signature")}, want: http.StatusBadRequest},
		{name: "malformed", err: errors.Join(errors.New("event"), &bookings.ValidationError{}), want: http.StatusBadRequest},
		{name: "booking not visible", err: &bookings.RetryableError{Err: store.ErrNotFound}, want: http.StatusNotFound},
		{name: "store down", err: errors.New("connection reset"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := NewRouter(NewHandler(&fakeEvents{
				handleFn: func(ctx context.Context, payload []byte, signature string) error {
					return tt.err
				},
			}, nil))

			rec := post(t, router, `{}`, "sig")
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestPaymentEvent_RejectsOversizedBody(t *testing.T) {
	router := NewRouter(NewHandler(&fakeEvents{
		handleFn: func(ctx context.Context, payload []byte, signature string) error {
			t.Fatalf("oversized body must not reach the reconciler")
			return nil
		},
	}, nil))

	rec := post(t, router, strings.Repeat("x", maxPayloadBytes+1), "sig")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHealthz(t *testing.T) {
	router := NewRouter(NewHandler(&fakeEvents{}, nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
