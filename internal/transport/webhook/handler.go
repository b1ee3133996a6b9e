// Package webhook receives payment-provider callbacks over HTTP.
package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fadebook/backend/internal/service/bookings"
)

const (
	maxPayloadBytes = 64 << 10
	signatureHeader = "Stripe-Signature"
)

type eventHandler interface {
	HandleEvent(ctx context.Context, payload []byte, signature string) error
}

type Handler struct {
	events eventHandler
	log    *slog.Logger
}

func NewHandler(events eventHandler, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		events: events,
		log:    log.With(slog.String("component", "http.webhook")),
	}
}

// NewRouter mounts the payment callback and a liveness probe.
func NewRouter(h *Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(h.log))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/webhooks/payments", h.PaymentEvent)
	return router
}

func (h *Handler) PaymentEvent(c *gin.Context) {
	log := h.log.With(slog.String("handler", "PaymentEvent"))

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxPayloadBytes)
	payload, err := c.GetRawData()
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "unreadable_body"), slog.Any("err", err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	err = h.events.HandleEvent(c.Request.Context(), payload, c.GetHeader(signatureHeader))
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	var (
		authErr  *bookings.AuthenticityError
		vErr     *bookings.ValidationError
		retryErr *bookings.RetryableError
	)
	switch {
	case errors.As(err, &authErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature verification failed"})
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error()})
	case errors.As(err, &retryErr):
		c.JSON(http.StatusNotFound, gin.H{"error": "booking not found", "retryable": true})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		log.LogAttrs(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}
