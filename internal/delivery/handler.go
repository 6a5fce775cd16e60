package delivery

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/freshline-erp/freshline-erp/internal/platform/httpx"
)

// Handler manages delivery HTTP endpoints.
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

// AssignRequest binds the driver assignment payload.
type AssignRequest struct {
	DriverID int64 `json:"driver_id" validate:"required,gt=0"`
}

// ProofRequest binds the proof-of-delivery capture payload.
type ProofRequest struct {
	SignatureRef *string `json:"signature_ref,omitempty"`
	PhotoRef     *string `json:"photo_ref,omitempty"`
}

// MountRoutes registers routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.show)
	r.Get("/order/{orderID}", h.showByOrder)
	r.Post("/{id}/assign", h.assign)
	r.Post("/{id}/unassign", h.unassign)
	r.Post("/{id}/start", h.start)
	r.Post("/{id}/delivered", h.delivered)
	r.Post("/{id}/cancel", h.cancel)
	r.Get("/{id}/proof", h.showProof)
	r.Put("/{id}/proof", h.saveProof)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	storeID, _ := strconv.ParseInt(r.URL.Query().Get("store_id"), 10, 64)
	driverID, _ := strconv.ParseInt(r.URL.Query().Get("driver_id"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	items, total, err := h.service.List(r.Context(), ListRequest{
		StoreID:  storeID,
		DriverID: driverID,
		Status:   Status(r.URL.Query().Get("status")),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.logger.Error("list deliveries", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"deliveries": items, "total": total})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deliveryID(w, r)
	if !ok {
		return
	}
	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) showByOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
	if err != nil || orderID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid order id")
		return
	}
	d, err := h.service.GetByOrder(r.Context(), orderID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deliveryID(w, r)
	if !ok {
		return
	}
	var req AssignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	d, err := h.service.Assign(r.Context(), id, req.DriverID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) unassign(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.service.Unassign)
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.service.Start)
}

func (h *Handler) delivered(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.service.MarkDelivered)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.simpleTransition(w, r, h.service.Cancel)
}

func (h *Handler) showProof(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deliveryID(w, r)
	if !ok {
		return
	}
	proof, err := h.service.GetProof(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if proof == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "no proof captured for delivery")
		return
	}
	httpx.JSON(w, http.StatusOK, proof)
}

func (h *Handler) saveProof(w http.ResponseWriter, r *http.Request) {
	id, ok := h.deliveryID(w, r)
	if !ok {
		return
	}
	var req ProofRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if req.SignatureRef == nil && req.PhotoRef == nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "signature_ref or photo_ref required")
		return
	}
	proof, err := h.service.SaveProof(r.Context(), id, req.SignatureRef, req.PhotoRef)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, proof)
}

func (h *Handler) simpleTransition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id int64) (*Delivery, error)) {
	id, ok := h.deliveryID(w, r)
	if !ok {
		return
	}
	d, err := fn(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, d)
}

func (h *Handler) deliveryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid delivery id")
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var transitionErr *InvalidTransitionError
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &transitionErr):
		httpx.ProblemWithErrors(w, http.StatusConflict, "Invalid Transition", err.Error(), map[string]any{
			"current": transitionErr.From,
			"allowed": transitionErr.Allowed,
		})
	case errors.Is(err, ErrDriverRequired):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	default:
		h.logger.Error("delivery operation failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
