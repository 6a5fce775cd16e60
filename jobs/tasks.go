// Package jobs holds the asynq worker, its task definitions, and the cron
// sweeps that drive the externally triggered parts of the system.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/freshline-erp/freshline-erp/internal/notify"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
)

// HandleNotifySend processes queued notifications. Actual delivery sits
// behind an external gateway; this handler logs the outbound message.
func HandleNotifySend(logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var msg notify.Message
		if err := json.Unmarshal(t.Payload(), &msg); err != nil {
			return asynq.SkipRetry
		}
		logger.Info("notification dispatched",
			slog.String("id", msg.ID),
			slog.String("channel", string(msg.Channel)),
			slog.String("recipient", msg.Recipient),
			slog.String("subject", msg.Subject))
		return nil
	}
}
