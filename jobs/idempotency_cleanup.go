package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// TaskIdempotencyCleanup prunes generation-window keys past retention.
const TaskIdempotencyCleanup = "shared:idempotency_cleanup"

// keyRetention keeps windows around long enough to inspect a disputed run.
const keyRetention = 7 * 24 * time.Hour

// NewIdempotencyCleanupTask builds the cleanup task for cron registration.
func NewIdempotencyCleanupTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.Queue(QueueDefault)), nil
}

// KeyCleaner prunes expired idempotency keys.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleanupJob removes idempotency keys older than retention.
type IdempotencyCleanupJob struct {
	store  KeyCleaner
	logger *slog.Logger
}

// NewIdempotencyCleanupJob constructs the job.
func NewIdempotencyCleanupJob(store KeyCleaner, logger *slog.Logger) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{store: store, logger: logger}
}

// Handle runs one cleanup pass.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if err := j.store.Cleanup(ctx, keyRetention); err != nil {
		return err
	}
	j.logger.Info("idempotency keys pruned", slog.Duration("retention", keyRetention))
	return nil
}
