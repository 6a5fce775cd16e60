package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/freshline-erp/freshline-erp/internal/replenishment"
)

// TaskReplenishmentRun triggers the nightly replenishment generation.
const TaskReplenishmentRun = "replenishment:run"

// ReplenishmentRunPayload carries scheduling metadata.
type ReplenishmentRunPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewReplenishmentRunTask constructs the cron task.
func NewReplenishmentRunTask() (*asynq.Task, error) {
	body, err := json.Marshal(ReplenishmentRunPayload{ScheduledFor: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReplenishmentRun, body, asynq.Queue(QueueDefault)), nil
}

// Generator is the slice of the replenishment service the run needs.
type Generator interface {
	GenerateAll(ctx context.Context) (*replenishment.BatchResult, error)
}

// ReplenishmentRunJob drives the nightly generate-all pass.
type ReplenishmentRunJob struct {
	generator Generator
	logger    *slog.Logger
}

// NewReplenishmentRunJob wires the job.
func NewReplenishmentRunJob(generator Generator, logger *slog.Logger) *ReplenishmentRunJob {
	return &ReplenishmentRunJob{generator: generator, logger: logger}
}

// Handle processes one nightly run. Per-store failures are already absorbed
// inside GenerateAll; only infrastructure errors bubble up for retry.
func (j *ReplenishmentRunJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ReplenishmentRunPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	batch, err := j.generator.GenerateAll(ctx)
	if err != nil {
		return err
	}
	j.logger.Info("replenishment run",
		slog.Int("generated", batch.Generated),
		slog.Int("skipped", batch.Skipped),
		slog.Int("failed", batch.Failed))
	return nil
}
