package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ReservationSweeper is the storage operation the expirer drives.
type ReservationSweeper interface {
	ExpireUnused(ctx context.Context) (int64, error)
}

// ReservationExpirer periodically transitions stale Paid reservations
// to Expired. The booking fee was collected up front; the sweep only
// releases the spot claim.
type ReservationExpirer struct {
	reservations ReservationSweeper
	interval     time.Duration
	logger       *zap.Logger
}

// NewReservationExpirer builds the expirer.
func NewReservationExpirer(reservations ReservationSweeper, interval time.Duration, logger *zap.Logger) *ReservationExpirer {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ReservationExpirer{
		reservations: reservations,
		interval:     interval,
		logger:       logger,
	}
}

// Run sweeps until ctx is cancelled. Sweep errors are logged and the
// loop keeps going; a broken sweep must not take the service down.
func (e *ReservationExpirer) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			count, err := e.reservations.ExpireUnused(ctx)
			if err != nil {
				e.logger.Error("reservation expiration sweep failed", zap.Error(err))
				continue
			}
			if count > 0 {
				e.logger.Info("expired unused reservations", zap.Int64("count", count))
			}
		}
	}
}
