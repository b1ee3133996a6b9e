// Package jobs runs the periodic maintenance work of the booking service.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const maxRoundsPerRun = 20

type PendingExpirer interface {
	ExpirePending(ctx context.Context, ttl time.Duration, batchSize int) (int, error)
}

type SweepConfig struct {
	Schedule   string
	PendingTTL time.Duration
	BatchSize  int
	// Timeout bounds a single run.
	Timeout time.Duration
}

// Sweeper cancels bookings whose payment never arrived.
type Sweeper struct {
	expirer PendingExpirer
	cfg     SweepConfig
	log     *slog.Logger
	cron    *cron.Cron
}

func NewSweeper(expirer PendingExpirer, cfg SweepConfig, log *slog.Logger) (*Sweeper, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 5m"
	}
	if cfg.PendingTTL <= 0 {
		return nil, errors.New("sweep pending ttl must be positive")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "sweeper"))

	s := &Sweeper{expirer: expirer, cfg: cfg, log: log}
	cl := cronLogger{log: log}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(cfg.Schedule, s.tick); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.Schedule, err)
	}
	return s, nil
}

func (s *Sweeper) Start() {
	s.cron.Start()
	s.log.Info("pending booking sweep scheduled",
		slog.String("schedule", s.cfg.Schedule),
		slog.Duration("pending_ttl", s.cfg.PendingTTL),
		slog.Int("batch_size", s.cfg.BatchSize),
	)
}

// Stop stops scheduling and waits for a running sweep until ctx is done.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Error("pending booking sweep failed", slog.Any("err", err))
	}
}

// RunOnce expires pending bookings batch by batch until a batch comes back short.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	total := 0
	for round := 0; round < maxRoundsPerRun; round++ {
		n, err := s.expirer.ExpirePending(ctx, s.cfg.PendingTTL, s.cfg.BatchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < s.cfg.BatchSize {
			break
		}
	}
	if total > 0 {
		s.log.Info("pending bookings expired", slog.Int("count", total))
	}
	return total, nil
}

type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "err", err)...)
}
