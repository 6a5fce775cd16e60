package replenishment

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/freshline-erp/freshline-erp/internal/platform/httpx"
)

// Handler manages replenishment HTTP endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler creates a new handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/needs/{storeID}", h.needs)
	r.Post("/generate/{storeID}", h.generate)
	r.Post("/generate", h.generateAll)
}

func (h *Handler) needs(w http.ResponseWriter, r *http.Request) {
	storeID, ok := h.storeID(w, r)
	if !ok {
		return
	}
	var (
		needs []Need
		err   error
	)
	if r.URL.Query().Get("cached") == "true" {
		needs, err = h.service.CachedNeeds(r.Context(), storeID)
	} else {
		needs, err = h.service.Needs(r.Context(), storeID)
	}
	if err != nil {
		h.logger.Error("replenishment needs", slog.Int64("store_id", storeID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"store_id": storeID, "needs": needs})
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	storeID, ok := h.storeID(w, r)
	if !ok {
		return
	}
	result, err := h.service.Generate(r.Context(), storeID)
	if err != nil {
		h.logger.Error("replenishment generate", slog.Int64("store_id", storeID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	status := http.StatusOK
	if result.Generated {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) generateAll(w http.ResponseWriter, r *http.Request) {
	batch, err := h.service.GenerateAll(r.Context())
	if err != nil {
		h.logger.Error("replenishment generate-all", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, batch)
}

func (h *Handler) storeID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "storeID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid store id")
		return 0, false
	}
	return id, true
}
