package requests

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/erimias46/babrber-frontend-sub000/internal/actor"
	"github.com/erimias46/babrber-frontend-sub000/internal/http/respond"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

// Handler exposes the booking request engine over HTTP.
type Handler struct {
	engine *Engine
	logger *logging.Logger
}

func NewHandler(engine *Engine, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{engine: engine, logger: logger}
}

// Routes mounts under /requests.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{requestID}", h.Get)
	r.Patch("/{requestID}/status", h.UpdateStatus)
	r.Post("/{requestID}/reschedule", h.Reschedule)
	r.Post("/{requestID}/cancel", h.Cancel)
	r.Post("/{requestID}/remainder/offline", h.OfflineRemainder)
}

// AdminRoutes mounts under /admin/requests.
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Post("/{requestID}/refund-review", h.RefundReview)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actor(w, r)
	if !ok {
		return
	}
	var in CreateInput
	if err := respond.Decode(r, &in); err != nil {
		respond.Error(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	req, err := h.engine.Create(r.Context(), a, in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, req)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actor(w, r)
	if !ok {
		return
	}
	var statuses []Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			st := Status(strings.TrimSpace(s))
			if !st.Valid() {
				respond.Error(w, http.StatusBadRequest, CodeValidation, "unknown status "+string(st))
				return
			}
			statuses = append(statuses, st)
		}
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respond.Error(w, http.StatusBadRequest, CodeValidation, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	out, err := h.engine.List(r.Context(), a, statuses, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"requests": out})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actor(w, r)
	if !ok {
		return
	}
	req, err := h.engine.Get(r.Context(), a, chi.URLParam(r, "requestID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, req)
}

type statusBody struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body statusBody
	if err := respond.Decode(r, &body); err != nil {
		respond.Error(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	id := chi.URLParam(r, "requestID")
	ctx := r.Context()
	switch body.Status {
	case StatusAccepted:
		h.reply(w, http.StatusOK)(h.engine.Accept(ctx, a, id))
	case StatusDeclined:
		h.reply(w, http.StatusOK)(h.engine.Decline(ctx, a, id))
	case StatusCancelled:
		h.reply(w, http.StatusOK)(h.engine.Cancel(ctx, a, id, body.Reason))
	case StatusCompleted:
		res, err := h.engine.Complete(ctx, a, id)
		if err != nil {
			h.writeError(w, err)
			return
		}
		respond.JSON(w, http.StatusOK, res)
	default:
		respond.Error(w, http.StatusBadRequest, CodeValidation, "status must be accepted, declined, completed or cancelled")
	}
}

type rescheduleBody struct {
	NewTime time.Time `json:"new_time"`
	Reason  string    `json:"reason,omitempty"`
}

func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body rescheduleBody
	if err := respond.Decode(r, &body); err != nil {
		respond.Error(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	h.reply(w, http.StatusOK)(h.engine.Reschedule(r.Context(), a, chi.URLParam(r, "requestID"), body.NewTime, body.Reason))
}

type cancelBody struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body cancelBody
	if r.ContentLength != 0 {
		if err := respond.Decode(r, &body); err != nil {
			respond.Error(w, http.StatusBadRequest, CodeValidation, err.Error())
			return
		}
	}
	h.reply(w, http.StatusOK)(h.engine.Cancel(r.Context(), a, chi.URLParam(r, "requestID"), body.Reason))
}

func (h *Handler) OfflineRemainder(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actor(w, r)
	if !ok {
		return
	}
	h.reply(w, http.StatusOK)(h.engine.RecordOfflineRemainder(r.Context(), a, chi.URLParam(r, "requestID")))
}

type releaseBody struct {
	BookingID string `json:"booking_id"`
}

// ReleasePayout serves POST /payouts/release.
func (h *Handler) ReleasePayout(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body releaseBody
	if err := respond.Decode(r, &body); err != nil || body.BookingID == "" {
		respond.Error(w, http.StatusBadRequest, CodeValidation, "booking_id is required")
		return
	}
	h.reply(w, http.StatusOK)(h.engine.ReleasePayout(r.Context(), a, body.BookingID))
}

func (h *Handler) RefundReview(w http.ResponseWriter, r *http.Request) {
	a, ok := h.actor(w, r)
	if !ok {
		return
	}
	var body RefundResolution
	if err := respond.Decode(r, &body); err != nil {
		respond.Error(w, http.StatusBadRequest, CodeValidation, err.Error())
		return
	}
	h.reply(w, http.StatusOK)(h.engine.ResolveRefundReview(r.Context(), a, chi.URLParam(r, "requestID"), body))
}

func (h *Handler) reply(w http.ResponseWriter, status int) func(*BookingRequest, error) {
	return func(req *BookingRequest, err error) {
		if err != nil {
			h.writeError(w, err)
			return
		}
		respond.JSON(w, status, req)
	}
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (actor.Actor, bool) {
	a, ok := actor.FromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return actor.Actor{}, false
	}
	return a, true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	WriteError(w, h.logger, err)
}

// WriteError maps engine errors onto HTTP statuses and stable codes.
func WriteError(w http.ResponseWriter, logger *logging.Logger, err error) {
	var hinted Hinter
	if errors.As(err, &hinted) && hinted.Hint() != "" {
		respond.ErrorWithHint(w, http.StatusUnprocessableEntity, "payout_account_not_ready", err.Error(), hinted.Hint())
		return
	}
	code := Code(err)
	switch {
	case errors.Is(err, ErrValidation):
		respond.Error(w, http.StatusBadRequest, code, err.Error())
	case errors.Is(err, ErrForbidden):
		respond.Error(w, http.StatusForbidden, code, err.Error())
	case errors.Is(err, ErrNotFound):
		respond.Error(w, http.StatusNotFound, code, err.Error())
	case errors.Is(err, ErrRateLimited):
		respond.Error(w, http.StatusTooManyRequests, code, err.Error())
	case errors.Is(err, ErrActiveRequestExists), errors.Is(err, ErrSlotUnavailable),
		errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrConflict),
		errors.Is(err, ErrPaymentIncomplete), errors.Is(err, ErrOfflineNotAllowed):
		respond.Error(w, http.StatusConflict, code, err.Error())
	default:
		logger.Error("booking request failed", "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
