package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/massage-booking/pkg/logger"
	"github.com/jwalitptl/massage-booking/pkg/repository"
)

// OutboxCleanupWorker deletes relayed events once they age past retention.
type OutboxCleanupWorker struct {
	repo      repository.OutboxStore
	retention time.Duration
	logger    *logger.Logger
	now       func() time.Time
}

func NewOutboxCleanupWorker(repo repository.OutboxStore, retention time.Duration, logger *logger.Logger) *OutboxCleanupWorker {
	return &OutboxCleanupWorker{
		repo:      repo,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

func (w *OutboxCleanupWorker) Cleanup(ctx context.Context) error {
	cutoff := w.now().Add(-w.retention)

	rows, err := w.repo.DeleteProcessedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to cleanup outbox events: %w", err)
	}

	w.logger.Info("Cleaned up outbox events", "deleted", rows, "cutoff", cutoff)
	return nil
}
