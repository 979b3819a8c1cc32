package slots

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/erimias46/babrber-frontend-sub000/internal/availability"
	"github.com/erimias46/babrber-frontend-sub000/internal/http/respond"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

const defaultQueryRange = 7 * 24 * time.Hour

// Handler serves GET /providers/{providerID}/slots.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

type slotsResponse struct {
	Slots []Slot `json:"slots"`
}

// List accepts from, to and either serviceDurationMinutes or serviceId.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	q := r.URL.Query()

	from := time.Now().UTC().Truncate(time.Minute)
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respond.Error(w, http.StatusBadRequest, "validation", "from must be RFC3339")
			return
		}
		from = t
	}
	to := from.Add(defaultQueryRange)
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respond.Error(w, http.StatusBadRequest, "validation", "to must be RFC3339")
			return
		}
		to = t
	}

	var duration time.Duration
	switch {
	case q.Get("serviceDurationMinutes") != "":
		minutes, err := strconv.Atoi(q.Get("serviceDurationMinutes"))
		if err != nil {
			respond.Error(w, http.StatusBadRequest, "validation", "serviceDurationMinutes must be an integer")
			return
		}
		duration = time.Duration(minutes) * time.Minute
	case q.Get("serviceId") != "":
		d, err := h.service.ServiceDuration(r.Context(), providerID, q.Get("serviceId"))
		if err != nil {
			if errors.Is(err, availability.ErrNotFound) {
				respond.Error(w, http.StatusNotFound, "not_found", "service not found")
				return
			}
			h.logger.Error("slot service lookup failed", "error", err)
			respond.Error(w, http.StatusInternalServerError, "internal", "failed to load service")
			return
		}
		duration = d
	default:
		respond.Error(w, http.StatusBadRequest, "validation", "serviceDurationMinutes or serviceId is required")
		return
	}

	out, err := h.service.Available(r.Context(), providerID, from, to, duration)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidParams), errors.Is(err, ErrRangeTooLarge):
			respond.Error(w, http.StatusBadRequest, "validation", err.Error())
		default:
			h.logger.Error("slot generation failed", "provider_id", providerID, "error", err)
			respond.Error(w, http.StatusInternalServerError, "internal", "failed to compute slots")
		}
		return
	}
	respond.JSON(w, http.StatusOK, slotsResponse{Slots: out})
}
