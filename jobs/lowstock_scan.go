package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/freshline-erp/freshline-erp/internal/masterdata"
	"github.com/freshline-erp/freshline-erp/internal/notify"
	"github.com/freshline-erp/freshline-erp/internal/stock"
)

// TaskLowStockScan triggers the periodic low-stock notification scan.
const TaskLowStockScan = "stock:low_scan"

// LowStockScanPayload carries scheduling metadata.
type LowStockScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewLowStockScanTask constructs the cron task.
func NewLowStockScanTask() (*asynq.Task, error) {
	body, err := json.Marshal(LowStockScanPayload{ScheduledFor: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, body, asynq.Queue(QueueDefault)), nil
}

// StockScanner reads low-stock rows per store.
type StockScanner interface {
	LowStock(ctx context.Context, storeID int64) ([]stock.LowStockRow, error)
}

// StoreLister lists the stores a scan covers.
type StoreLister interface {
	ListActiveStores(ctx context.Context) ([]masterdata.Store, error)
}

// LowStockScanJob notifies per store when products run under threshold.
type LowStockScanJob struct {
	stock    StockScanner
	stores   StoreLister
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewLowStockScanJob wires the job.
func NewLowStockScanJob(stockSvc StockScanner, stores StoreLister, notifier notify.Notifier, logger *slog.Logger) *LowStockScanJob {
	return &LowStockScanJob{stock: stockSvc, stores: stores, notifier: notifier, logger: logger}
}

// Handle processes one scan run. A failing store is logged and skipped.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	stores, err := j.stores.ListActiveStores(ctx)
	if err != nil {
		return err
	}
	notified := 0
	for _, store := range stores {
		rows, err := j.stock.LowStock(ctx, store.ID)
		if err != nil {
			j.logger.Warn("low-stock scan failed for store",
				slog.Int64("store_id", store.ID), slog.Any("error", err))
			continue
		}
		if len(rows) == 0 {
			continue
		}
		j.notifier.Notify(ctx, notify.Message{
			Channel:   notify.ChannelEmail,
			Recipient: fmt.Sprintf("store-%d", store.ID),
			Subject:   fmt.Sprintf("%d product(s) below stock threshold", len(rows)),
			Body:      lowStockBody(rows),
		})
		notified++
	}

	j.logger.Info("low-stock scan run",
		slog.Int("stores", len(stores)),
		slog.Int("notified", notified))
	return nil
}

func lowStockBody(rows []stock.LowStockRow) string {
	body := "Products below threshold:\n"
	for _, row := range rows {
		body += fmt.Sprintf("- %s: %d on hand, threshold %d\n", row.ProductName, row.Quantity, row.Threshold)
	}
	return body
}
