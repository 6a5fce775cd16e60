package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freshline-erp/freshline-erp/internal/app"
	"github.com/freshline-erp/freshline-erp/internal/billing"
	"github.com/freshline-erp/freshline-erp/internal/delivery"
	"github.com/freshline-erp/freshline-erp/internal/kitchen"
	"github.com/freshline-erp/freshline-erp/internal/masterdata"
	"github.com/freshline-erp/freshline-erp/internal/observability"
	"github.com/freshline-erp/freshline-erp/internal/orders"
	"github.com/freshline-erp/freshline-erp/internal/platform/cache"
	"github.com/freshline-erp/freshline-erp/internal/platform/db"
	"github.com/freshline-erp/freshline-erp/internal/replenishment"
	"github.com/freshline-erp/freshline-erp/internal/returns"
	"github.com/freshline-erp/freshline-erp/internal/shared"
	"github.com/freshline-erp/freshline-erp/internal/stock"
)

func main() {
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
		logger.Warn("redis unavailable, advisory caching disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient != nil {
			_ = redisClient.Close()
		}
	}()

	metrics := observability.NewMetrics()
	audit := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	masterdataRepo := masterdata.NewRepository(pool)
	masterdataService := masterdata.NewService(masterdataRepo)

	stockRepo := stock.NewRepository(pool)
	stockService := stock.NewService(stockRepo, audit, metrics, logger, cfg.AllowNegativeStock)

	ordersRepo := orders.NewRepository(pool)
	ordersService := orders.NewService(ordersRepo, masterdataService, masterdataService, audit, logger)

	billingRepo := billing.NewRepository(pool)
	billingService := billing.NewService(billingRepo, masterdataRepo, audit, logger, cfg.InvoiceDueDays)
	ordersService.SetBilling(billingService)

	kitchenRepo := kitchen.NewRepository(pool)

	deliveryRepo := delivery.NewRepository(pool)
	deliveryService := delivery.NewService(deliveryRepo, audit, logger)

	replenishmentService := replenishment.NewService(
		stockService, masterdataService, ordersService, idempotency, redisClient, metrics, logger)

	returnsRepo := returns.NewRepository(pool)
	returnsService := returns.NewService(
		returnsRepo, deliveryService, ordersService, stockService, billingService, audit, metrics, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:               logger,
		Config:               cfg,
		Pool:                 pool,
		MasterDataHandler:    masterdata.NewHandler(logger, masterdataService),
		OrdersHandler:        orders.NewHandler(logger, ordersService, metrics),
		KitchenHandler:       kitchen.NewHandler(logger, kitchenRepo),
		DeliveryHandler:      delivery.NewHandler(logger, deliveryService),
		StockHandler:         stock.NewHandler(logger, stockService),
		ReplenishmentHandler: replenishment.NewHandler(logger, replenishmentService),
		ReturnsHandler:       returns.NewHandler(logger, returnsService),
		BillingHandler:       billing.NewHandler(logger, billingService),
		Metrics:              metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
