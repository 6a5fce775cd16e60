package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/freshline-erp/freshline-erp/internal/app"
	"github.com/freshline-erp/freshline-erp/internal/billing"
	"github.com/freshline-erp/freshline-erp/internal/masterdata"
	"github.com/freshline-erp/freshline-erp/internal/notify"
	"github.com/freshline-erp/freshline-erp/internal/orders"
	"github.com/freshline-erp/freshline-erp/internal/platform/cache"
	"github.com/freshline-erp/freshline-erp/internal/platform/db"
	"github.com/freshline-erp/freshline-erp/internal/replenishment"
	"github.com/freshline-erp/freshline-erp/internal/shared"
	"github.com/freshline-erp/freshline-erp/internal/stock"
	"github.com/freshline-erp/freshline-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping failed", slog.Any("error", err))
	}
	defer func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		_ = asynqClient.Close()
	}()
	notifier := notify.NewQueueNotifier(asynqClient, logger)

	audit := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	masterdataService := masterdata.NewService(masterdata.NewRepository(pool))
	stockService := stock.NewService(stock.NewRepository(pool), audit, nil, logger, cfg.AllowNegativeStock)

	ordersService := orders.NewService(orders.NewRepository(pool), masterdataService, masterdataService, audit, logger)
	billingService := billing.NewService(billing.NewRepository(pool), masterdata.NewRepository(pool), audit, logger, cfg.InvoiceDueDays)
	ordersService.SetBilling(billingService)

	replenishmentService := replenishment.NewService(
		stockService, masterdataService, ordersService, idempotency, redisClient, nil, logger)

	reminderJob := jobs.NewPaymentReminderJob(billingService, notifier, logger)
	lowStockJob := jobs.NewLowStockScanJob(stockService, masterdataService, notifier, logger)
	replenishJob := jobs.NewReplenishmentRunJob(replenishmentService, logger)
	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotency, logger)

	reminderTask, err := jobs.NewPaymentReminderTask()
	if err != nil {
		logger.Error("build reminder task", slog.Any("error", err))
		os.Exit(1)
	}
	lowStockTask, err := jobs.NewLowStockScanTask()
	if err != nil {
		logger.Error("build low-stock task", slog.Any("error", err))
		os.Exit(1)
	}
	replenishTask, err := jobs.NewReplenishmentRunTask()
	if err != nil {
		logger.Error("build replenishment task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask()
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: notify.TaskTypeSend, Handler: jobs.HandleNotifySend(logger)},
			{Type: jobs.TaskPaymentReminder, Handler: reminderJob.Handle},
			{Type: jobs.TaskLowStockScan, Handler: lowStockJob.Handle},
			{Type: jobs.TaskReplenishmentRun, Handler: replenishJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 8 * * *", Task: reminderTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 5 * * *", Task: lowStockTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 2 * * *", Task: replenishTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("build worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker starting", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
