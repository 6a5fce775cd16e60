package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/freshline-erp/freshline-erp/internal/billing"
	"github.com/freshline-erp/freshline-erp/internal/notify"
)

// TaskPaymentReminder triggers the overdue sweep and reminder fan-out.
const TaskPaymentReminder = "billing:payment_reminder"

// PaymentReminderPayload carries scheduling metadata.
type PaymentReminderPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewPaymentReminderTask constructs the cron task.
func NewPaymentReminderTask() (*asynq.Task, error) {
	body, err := json.Marshal(PaymentReminderPayload{ScheduledFor: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPaymentReminder, body, asynq.Queue(QueueDefault)), nil
}

// BillingSweeper is the slice of the billing service the reminder needs.
type BillingSweeper interface {
	SweepOverdue(ctx context.Context, asOf time.Time) (int64, error)
	ListOutstanding(ctx context.Context) ([]billing.Invoice, error)
}

// PaymentReminderJob flips overdue invoices and enqueues one reminder per
// overdue store invoice.
type PaymentReminderJob struct {
	billing  BillingSweeper
	notifier notify.Notifier
	logger   *slog.Logger
	printer  *message.Printer
}

// NewPaymentReminderJob wires the job.
func NewPaymentReminderJob(billingSvc BillingSweeper, notifier notify.Notifier, logger *slog.Logger) *PaymentReminderJob {
	return &PaymentReminderJob{
		billing:  billingSvc,
		notifier: notifier,
		logger:   logger,
		printer:  message.NewPrinter(language.English),
	}
}

// Handle processes one reminder run.
func (j *PaymentReminderJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload PaymentReminderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	asOf := payload.ScheduledFor
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	flipped, err := j.billing.SweepOverdue(ctx, asOf)
	if err != nil {
		return err
	}

	outstanding, err := j.billing.ListOutstanding(ctx)
	if err != nil {
		return err
	}
	reminded := 0
	for _, inv := range outstanding {
		if inv.PaymentStatus != billing.PaymentOverdue {
			continue
		}
		daysLate := int(asOf.Sub(inv.DueDate).Hours() / 24)
		j.notifier.Notify(ctx, notify.Message{
			Channel:   notify.ChannelEmail,
			Recipient: fmt.Sprintf("store-%d", inv.StoreID),
			Subject:   fmt.Sprintf("Invoice %s is overdue", inv.Number),
			Body: j.printer.Sprintf("Invoice %s for %.2f is %d day(s) past due. Outstanding amount: %.2f.",
				inv.Number, inv.TotalAmount, daysLate, inv.Collectible()),
		})
		reminded++
	}

	j.logger.Info("payment reminder run",
		slog.Int64("flipped_overdue", flipped),
		slog.Int("reminders", reminded))
	return nil
}
