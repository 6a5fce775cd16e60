package stock

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/freshline-erp/freshline-erp/internal/platform/httpx"
)

// Handler manages stock HTTP endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler creates a new handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// AdjustRequest binds a manual adjustment payload.
type AdjustRequest struct {
	StoreID   int64  `json:"store_id" validate:"required,gt=0"`
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Delta     int64  `json:"delta" validate:"required"`
	Reason    string `json:"reason" validate:"required"`
	Ref       string `json:"ref,omitempty"`
}

// ThresholdRequest binds a per-store threshold override.
type ThresholdRequest struct {
	StoreID   int64  `json:"store_id" validate:"required,gt=0"`
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Threshold *int64 `json:"threshold"`
}

// MountRoutes registers routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/adjust", h.adjust)
	r.Get("/balances", h.balances)
	r.Get("/movements", h.movements)
	r.Get("/low", h.lowStock)
	r.Put("/threshold", h.setThreshold)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.service.Adjust(r.Context(), AdjustInput{
		StoreID:   req.StoreID,
		ProductID: req.ProductID,
		Delta:     req.Delta,
		Reason:    Reason(req.Reason),
		Ref:       req.Ref,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) balances(w http.ResponseWriter, r *http.Request) {
	storeID, err := strconv.ParseInt(r.URL.Query().Get("store_id"), 10, 64)
	if err != nil || storeID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "store_id required")
		return
	}
	balances, err := h.service.Balances(r.Context(), storeID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"balances": balances})
}

func (h *Handler) movements(w http.ResponseWriter, r *http.Request) {
	storeID, err := strconv.ParseInt(r.URL.Query().Get("store_id"), 10, 64)
	if err != nil || storeID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "store_id required")
		return
	}
	productID, err := strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	if err != nil || productID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "product_id required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	movements, err := h.service.History(r.Context(), storeID, productID, limit, offset)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	storeID, err := strconv.ParseInt(r.URL.Query().Get("store_id"), 10, 64)
	if err != nil || storeID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "store_id required")
		return
	}
	rows, err := h.service.LowStock(r.Context(), storeID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"low_stock": rows})
}

func (h *Handler) setThreshold(w http.ResponseWriter, r *http.Request) {
	var req ThresholdRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.SetThreshold(r.Context(), req.StoreID, req.ProductID, req.Threshold); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var insufficient *InsufficientStockError
	switch {
	case errors.Is(err, ErrInvalidReason), errors.Is(err, ErrZeroDelta), errors.Is(err, ErrInvalidThreshold):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	case errors.As(err, &insufficient):
		httpx.ProblemWithErrors(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error(), map[string]any{
			"current": insufficient.Current,
			"delta":   insufficient.Delta,
		})
	default:
		h.logger.Error("stock operation failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
