package returns

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/freshline-erp/freshline-erp/internal/delivery"
	"github.com/freshline-erp/freshline-erp/internal/platform/httpx"
	"github.com/freshline-erp/freshline-erp/internal/shared"
)

// Handler manages return HTTP endpoints.
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

// ProcessRequest binds a return batch payload.
type ProcessRequest struct {
	Lines []ProcessLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// ProcessLineRequest binds one return line.
type ProcessLineRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Quantity  int64  `json:"quantity" validate:"required,gt=0"`
	Reason    string `json:"reason" validate:"required"`
}

// MountRoutes registers routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/deliveries/{deliveryID}", h.process)
	r.Get("/deliveries/{deliveryID}", h.listByDelivery)
	r.Get("/", h.listByStore)
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request) {
	deliveryID, ok := h.deliveryID(w, r)
	if !ok {
		return
	}
	var req ProcessRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lines := make([]LineInput, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = LineInput{ProductID: l.ProductID, Quantity: l.Quantity, Reason: Reason(l.Reason)}
	}
	result, err := h.service.ProcessReturns(r.Context(), deliveryID, lines, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) listByDelivery(w http.ResponseWriter, r *http.Request) {
	deliveryID, ok := h.deliveryID(w, r)
	if !ok {
		return
	}
	items, err := h.service.ListByDelivery(r.Context(), deliveryID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"returns": items})
}

func (h *Handler) listByStore(w http.ResponseWriter, r *http.Request) {
	storeID, err := strconv.ParseInt(r.URL.Query().Get("store_id"), 10, 64)
	if err != nil || storeID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "store_id required")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	items, err := h.service.ListByStore(r.Context(), storeID, limit, offset)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"returns": items})
}

func (h *Handler) deliveryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "deliveryID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid delivery id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var overReturn *OverReturnError
	switch {
	case errors.Is(err, delivery.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &overReturn):
		httpx.ProblemWithErrors(w, http.StatusUnprocessableEntity, "Over Return", err.Error(), overReturn.Violations)
	case errors.Is(err, ErrDeliveryNotDelivered):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.Is(err, ErrInvalidReason), errors.Is(err, ErrEmptyReturn),
		errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrProductNotDelivered):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	default:
		h.logger.Error("return operation failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
