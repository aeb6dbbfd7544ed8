package worker

import (
	"context"
	"time"

	"pos-service/internal/util"

	"go.uber.org/zap"
)

const sweepLockKey = "reservation-sweeper"

// ReservationReleaser releases reservations idle for longer than ttl
type ReservationReleaser interface {
	SweepExpiredReservations(ctx context.Context, ttl, horizon time.Duration) (int, error)
}

// Locker elects a single sweeper across instances
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
}

// SweeperConfig controls the sweep schedule
type SweeperConfig struct {
	Interval time.Duration
	TTL      time.Duration
	Horizon  time.Duration
}

// ReservationSweeper periodically releases abandoned cart reservations.
// A nil locker runs every tick locally.
type ReservationSweeper struct {
	releaser ReservationReleaser
	locker   Locker
	cfg      SweeperConfig
	logger   *zap.Logger
}

// NewReservationSweeper creates a new reservation sweeper
func NewReservationSweeper(releaser ReservationReleaser, locker Locker, cfg SweeperConfig) *ReservationSweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.Horizon < cfg.TTL {
		cfg.Horizon = 2 * cfg.TTL
	}
	return &ReservationSweeper{
		releaser: releaser,
		locker:   locker,
		cfg:      cfg,
		logger:   util.GetLogger(),
	}
}

// Start runs sweeps until ctx is cancelled
func (s *ReservationSweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting reservation sweeper",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("ttl", s.cfg.TTL))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Stopping reservation sweeper")
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.logger.Error("Reservation sweep failed", zap.Error(err))
			}
		}
	}
}

// RunOnce performs one sweep if this instance wins the lock. It returns the
// number of units released.
func (s *ReservationSweeper) RunOnce(ctx context.Context) (int, error) {
	if s.locker != nil {
		token, ok, err := s.locker.AcquireLock(ctx, sweepLockKey, s.cfg.Interval)
		if err != nil {
			return 0, err
		}
		if !ok {
			s.logger.Debug("Another instance holds the sweep lock")
			return 0, nil
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.Background(), sweepLockKey, token); err != nil {
				s.logger.Warn("Failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	return s.releaser.SweepExpiredReservations(ctx, s.cfg.TTL, s.cfg.Horizon)
}
