package availability

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/erimias46/babrber-frontend-sub000/internal/actor"
	"github.com/erimias46/babrber-frontend-sub000/internal/http/respond"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

// Handler serves the provider-owned availability resources.
type Handler struct {
	manager *Manager
	logger  *logging.Logger
}

// NewHandler creates an availability handler.
func NewHandler(manager *Manager, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{manager: manager, logger: logger}
}

// Routes mounts under /providers/{providerID}.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/blocks", h.ListBlocks)
	r.Post("/blocks", h.CreateBlock)
	r.Post("/blocks/copy-week", h.CopyWeek)
	r.Put("/blocks/{blockID}", h.UpdateBlock)
	r.Delete("/blocks/{blockID}", h.DeleteBlock)
	r.Get("/settings", h.GetSettings)
	r.Put("/settings", h.PutSettings)
	r.Get("/services", h.ListServices)
	r.Post("/services", h.CreateService)
	r.Put("/services/{serviceID}", h.UpdateService)
	r.Delete("/services/{serviceID}", h.DeleteService)
}

func (h *Handler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	from, to, err := parseRange(r, 7*24*time.Hour)
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	blocks, err := h.manager.ListBlocks(r.Context(), providerID, from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"blocks": nonNil(blocks)})
}

func (h *Handler) CreateBlock(w http.ResponseWriter, r *http.Request) {
	providerID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	var in BlockInput
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	b, err := h.manager.CreateBlock(r.Context(), providerID, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, b)
}

func (h *Handler) UpdateBlock(w http.ResponseWriter, r *http.Request) {
	providerID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	var in BlockInput
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	b, err := h.manager.UpdateBlock(r.Context(), providerID, chi.URLParam(r, "blockID"), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, b)
}

func (h *Handler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	providerID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	if err := h.manager.DeleteBlock(r.Context(), providerID, chi.URLParam(r, "blockID")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type copyWeekRequest struct {
	FromWeekStart time.Time `json:"from_week_start"`
	ToWeekStart   time.Time `json:"to_week_start"`
}

func (h *Handler) CopyWeek(w http.ResponseWriter, r *http.Request) {
	providerID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	var req copyWeekRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	created, err := h.manager.CopyWeek(r.Context(), providerID, req.FromWeekStart, req.ToWeekStart)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, map[string]any{"blocks": nonNil(created), "count": len(created)})
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Settings(r.Context(), chi.URLParam(r, "providerID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, s)
}

func (h *Handler) PutSettings(w http.ResponseWriter, r *http.Request) {
	providerID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	var in Settings
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	s, err := h.manager.PutSettings(r.Context(), providerID, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, s)
}

func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.manager.Services(r.Context(), chi.URLParam(r, "providerID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"services": nonNil(services)})
}

func (h *Handler) CreateService(w http.ResponseWriter, r *http.Request) {
	providerID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	var in ServiceInput
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	svc, err := h.manager.CreateService(r.Context(), providerID, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, svc)
}

func (h *Handler) UpdateService(w http.ResponseWriter, r *http.Request) {
	providerID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	var in ServiceInput
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	svc, err := h.manager.UpdateService(r.Context(), providerID, chi.URLParam(r, "serviceID"), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, svc)
}

func (h *Handler) DeleteService(w http.ResponseWriter, r *http.Request) {
	providerID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	if err := h.manager.DeleteService(r.Context(), providerID, chi.URLParam(r, "serviceID")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorize allows only the owning provider or an admin to mutate.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	providerID := chi.URLParam(r, "providerID")
	a, ok := actor.FromContext(r.Context())
	if !ok || !actor.CanManageProvider(a, providerID) {
		respond.Error(w, http.StatusForbidden, "forbidden", "only the provider may change its availability")
		return "", false
	}
	return providerID, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ErrInvalidBlock), errors.Is(err, ErrInvalidSettings),
		errors.Is(err, ErrInvalidService), errors.Is(err, ErrInvalidWeek):
		respond.Error(w, http.StatusBadRequest, "validation", err.Error())
	default:
		h.logger.Error("availability request failed", "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal", "availability request failed")
	}
}

// parseRange reads from/to query params in RFC3339, defaulting to now and now+span.
func parseRange(r *http.Request, span time.Duration) (time.Time, time.Time, error) {
	from := time.Now().UTC()
	if v := r.URL.Query().Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be RFC3339")
		}
		from = t
	}
	to := from.Add(span)
	if v := r.URL.Query().Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be RFC3339")
		}
		to = t
	}
	return from, to, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
