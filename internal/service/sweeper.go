package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reconciler is the single operation the sweeper drives.
type Reconciler interface {
	ReconcileExpired(ctx context.Context) (ReconcileReport, error)
}

// Sweeper runs ReconcileExpired on a fixed interval. It never touches
// balances or bills.
type Sweeper struct {
	r        Reconciler
	interval time.Duration
	logger   *zap.Logger
}

func NewSweeper(r Reconciler, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{r: r, interval: interval, logger: logger.Named("sweeper")}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("sweeper started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.SweepOnce(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// SweepOnce runs one reconcile pass and logs what changed.
func (s *Sweeper) SweepOnce(ctx context.Context) ReconcileReport {
	report, err := s.r.ReconcileExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("reconcile failed", zap.Error(err))
		}
		return report
	}
	if report.Expired > 0 || report.Failed > 0 {
		s.logger.Info("reconciled transactions",
			zap.Int("scanned", report.Scanned),
			zap.Int("expired", report.Expired),
			zap.Int("failed", report.Failed),
		)
	}
	return report
}
