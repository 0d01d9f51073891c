package worker

import (
	"context"
	"time"

	"design-marketplace/internal/util"

	"go.uber.org/zap"
)

const (
	// transactions younger than this are left to the event path
	sweepGrace = time.Minute
	sweepBatch = 100
)

// UnlicensedLister finds paid transactions that still have no license document
type UnlicensedLister interface {
	ListUnlicensedTransactions(ctx context.Context, before time.Time, limit int) ([]string, error)
}

// LicenseSweeper regenerates licenses the event path never delivered, e.g. after a failed publish
type LicenseSweeper struct {
	pending  UnlicensedLister
	worker   *LicenseWorker
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewLicenseSweeper creates a sweeper that retries through the worker's retry policy
func NewLicenseSweeper(pending UnlicensedLister, worker *LicenseWorker, interval time.Duration) *LicenseSweeper {
	return &LicenseSweeper{
		pending:  pending,
		worker:   worker,
		interval: interval,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// Run sweeps every interval until ctx is cancelled
func (s *LicenseSweeper) Run(ctx context.Context) error {
	s.logger.Info("Starting license sweeper...", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("License sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep generates one batch of missing licenses and returns how many are now attached
func (s *LicenseSweeper) Sweep(ctx context.Context) (int, error) {
	ctx, span := util.StartSpan(ctx, "LicenseSweeper.Sweep")
	defer span.End()

	ids, err := s.pending.ListUnlicensedTransactions(ctx, s.now().Add(-sweepGrace), sweepBatch)
	if err != nil {
		util.RecordError(span, err)
		return 0, err
	}

	done := 0
	for _, id := range ids {
		if err := s.worker.generate(ctx, id); err != nil {
			if ctx.Err() != nil {
				return done, ctx.Err()
			}
			continue
		}
		done++
	}
	if len(ids) > 0 {
		s.logger.Info("License sweep finished", zap.Int("pending", len(ids)), zap.Int("generated", done))
	}
	return done, nil
}
