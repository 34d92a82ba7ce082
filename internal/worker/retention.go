package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/dispatch-api/internal/repository"
	"github.com/jwalitptl/dispatch-api/pkg/logger"
)

// RetentionWorker prunes settled fallback records past the retention window.
// The idempotency key only needs to outlive the upstream redelivery horizon;
// old rows are dead weight after that.
type RetentionWorker struct {
	repo          repository.FallbackRepository
	retentionDays int
	interval      time.Duration
	logger        *logger.Logger
}

func NewRetentionWorker(repo repository.FallbackRepository, retentionDays int, interval time.Duration, log *logger.Logger) *RetentionWorker {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionWorker{
		repo:          repo,
		retentionDays: retentionDays,
		interval:      interval,
		logger:        log,
	}
}

func (w *RetentionWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.prune(ctx); err != nil {
				w.logger.Error(err, "fallback retention pass failed")
			}
		}
	}
}

func (w *RetentionWorker) prune(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -w.retentionDays)

	rows, err := w.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune fallback records: %w", err)
	}
	if rows > 0 {
		w.logger.Info("pruned settled fallback records", "rows", rows, "cutoff", cutoff.Format(time.RFC3339))
	}
	return nil
}
