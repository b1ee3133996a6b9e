package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"google.golang.org/grpc"

	"fadebook/backend/internal/config"
	"fadebook/backend/internal/domain"
	"fadebook/backend/internal/jobs"
	"fadebook/backend/internal/notify"
	stripepay "fadebook/backend/internal/payments/stripe"
	"fadebook/backend/internal/service/bookings"
	"fadebook/backend/internal/store"
	"fadebook/backend/internal/store/memory"
	"fadebook/backend/internal/store/postgres"
	grpcTransport "fadebook/backend/internal/transport/grpc"
	"fadebook/backend/internal/transport/webhook"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", "fadebook-server"),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", "fadebook-server"),
	)
	slog.SetDefault(log)

	log.Info("starting",
		slog.String("grpc_addr", cfg.GRPCAddr()),
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("storage_driver", cfg.StorageDriver),
		slog.String("log_level", cfg.LogLevel),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, catalog, closeStore, err := openStore(ctx, log, cfg)
	if err != nil {
		os.Exit(1)
	}
	defer closeStore()

	if cfg.StripeSecretKey == "" || cfg.StripeWebhookSecret == "" {
		log.Warn("stripe credentials are not fully configured; payment authorization or webhooks will fail")
	}
	gateway := stripepay.New(stripepay.Config{
		SecretKey:         cfg.StripeSecretKey,
		WebhookSecret:     cfg.StripeWebhookSecret,
		MaxNetworkRetries: 2,
	}, log)

	queue := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer func() {
		if err := queue.Close(); err != nil {
			log.Warn("queue client close failed", slog.Any("err", err))
		}
	}()
	dispatcher := notify.NewDispatcher(queue, cfg.NotifyQueue, log)

	svc := bookings.NewService(repo, catalog, gateway, bookings.Options{
		Currency:         cfg.Currency,
		AuthorizeTimeout: cfg.AuthorizeTimeout,
		Logger:           log,
	})
	reconciler := bookings.NewReconciler(svc, gateway, dispatcher, log)

	sweeper, err := jobs.NewSweeper(svc, jobs.SweepConfig{
		Schedule:   cfg.SweepSchedule,
		PendingTTL: cfg.SweepPendingTTL,
		BatchSize:  cfg.SweepBatchSize,
	}, log)
	if err != nil {
		log.Error("sweeper setup failed", slog.Any("err", err))
		os.Exit(1)
	}

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(defaultRequestTimeoutInterceptor(cfg.GRPCRequestTimeout)),
	)
	grpcTransport.RegisterBookingsServiceServer(grpcServer, grpcTransport.NewBookingsServer(svc, log))

	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPCAddr()))
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           webhook.NewRouter(webhook.NewHandler(reconciler, log)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	sweeper.Start()

	log.Info("servers started", slog.String("grpc_addr", cfg.GRPCAddr()), slog.String("http_addr", cfg.HTTPAddr))

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error("server stopped with error", slog.Any("err", err))
			exitCode = 1
		}
	}

	shutdown(log, grpcServer, httpServer, sweeper, cfg.ShutdownTimeout)
	if exitCode != 0 {
		closeStore()
		os.Exit(exitCode)
	}
}

func openStore(ctx context.Context, log *slog.Logger, cfg config.Config) (store.BookingRepository, store.ServiceCatalog, func(), error) {
	if cfg.StorageDriver == "memory" {
		services := make([]domain.ServiceSnapshot, 0, len(cfg.MemoryServices))
		for _, m := range cfg.MemoryServices {
			services = append(services, domain.ServiceSnapshot{
				ID:              m.ID,
				ProviderID:      m.ProviderID,
				Name:            m.Name,
				PriceAmount:     m.PriceAmount,
				DurationMinutes: m.DurationMinutes,
			})
		}
		log.Warn("using in-memory storage; data is lost on restart", slog.Int("catalog_services", len(services)))
		if len(services) == 0 {
			log.Warn("in-memory service catalog is empty; set FADEBOOK_STORAGE_MEMORY_SERVICES to accept bookings")
		}
		return memory.NewBookingRepo(), memory.NewCatalog(services...), func() {}, nil
	}

	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	openCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	db, err := postgres.Open(openCtx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		return nil, nil, nil, err
	}

	var closed bool
	closeDB := func() {
		if closed {
			return
		}
		closed = true
		if err := postgres.Close(db); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}
	return postgres.NewBookingRepo(db), postgres.NewCatalogRepo(db), closeDB, nil
}

func defaultRequestTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}

func shutdown(log *slog.Logger, s *grpc.Server, h *http.Server, sweeper *jobs.Sweeper, timeout time.Duration) {
	log.Info("shutting down", slog.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := sweeper.Stop(ctx); err != nil {
		log.Warn("sweeper did not stop in time", slog.Any("err", err))
	}
	if err := h.Shutdown(ctx); err != nil {
		log.Warn("http graceful shutdown failed", slog.Any("err", err))
	}

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-ctx.Done():
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}
