package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freshline-erp/freshline-erp/internal/billing"
	"github.com/freshline-erp/freshline-erp/internal/delivery"
	"github.com/freshline-erp/freshline-erp/internal/kitchen"
	"github.com/freshline-erp/freshline-erp/internal/masterdata"
	"github.com/freshline-erp/freshline-erp/internal/observability"
	"github.com/freshline-erp/freshline-erp/internal/orders"
	"github.com/freshline-erp/freshline-erp/internal/replenishment"
	"github.com/freshline-erp/freshline-erp/internal/returns"
	"github.com/freshline-erp/freshline-erp/internal/stock"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger               *slog.Logger
	Config               *Config
	Pool                 *pgxpool.Pool
	MasterDataHandler    *masterdata.Handler
	OrdersHandler        *orders.Handler
	KitchenHandler       *kitchen.Handler
	DeliveryHandler      *delivery.Handler
	StockHandler         *stock.Handler
	ReplenishmentHandler *replenishment.Handler
	ReturnsHandler       *returns.Handler
	BillingHandler       *billing.Handler
	Metrics              *observability.Metrics
}

// NewRouter constructs the chi.Router with Freshline defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				params.Logger.Warn("readiness ping failed", slog.Any("error", err))
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})

	if params.Metrics != nil {
		r.Handle("/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		if params.MasterDataHandler != nil {
			api.Route("/masterdata", params.MasterDataHandler.MountRoutes)
		}
		if params.OrdersHandler != nil {
			api.Route("/orders", params.OrdersHandler.MountRoutes)
		}
		if params.KitchenHandler != nil {
			api.Route("/kitchen", params.KitchenHandler.MountRoutes)
		}
		if params.DeliveryHandler != nil {
			api.Route("/deliveries", params.DeliveryHandler.MountRoutes)
		}
		if params.StockHandler != nil {
			api.Route("/stock", params.StockHandler.MountRoutes)
		}
		if params.ReplenishmentHandler != nil {
			api.Route("/replenishment", params.ReplenishmentHandler.MountRoutes)
		}
		if params.ReturnsHandler != nil {
			api.Route("/returns", params.ReturnsHandler.MountRoutes)
		}
		if params.BillingHandler != nil {
			api.Route("/billing", params.BillingHandler.MountRoutes)
		}
	})

	return r
}
