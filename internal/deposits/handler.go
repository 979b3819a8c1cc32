package deposits

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/erimias46/babrber-frontend-sub000/internal/actor"
	"github.com/erimias46/babrber-frontend-sub000/internal/http/respond"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

// Handler exposes the platform policy and provider overrides.
type Handler struct {
	store  Store
	logger *logging.Logger
}

// NewHandler creates a deposit policy handler.
func NewHandler(store Store, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{store: store, logger: logger}
}

// GetPlatform handles GET /admin/deposit-policy.
func (h *Handler) GetPlatform(w http.ResponseWriter, r *http.Request) {
	if a, ok := actor.FromContext(r.Context()); !ok || !a.IsAdmin() {
		respond.Error(w, http.StatusForbidden, "forbidden", "admin access required")
		return
	}
	policy, err := h.store.Platform(r.Context())
	if err != nil {
		h.logger.Error("failed to load deposit policy", "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal", "failed to load deposit policy")
		return
	}
	respond.JSON(w, http.StatusOK, policy)
}

// PutPlatform handles PUT /admin/deposit-policy.
func (h *Handler) PutPlatform(w http.ResponseWriter, r *http.Request) {
	a, ok := actor.FromContext(r.Context())
	if !ok || !a.IsAdmin() {
		respond.Error(w, http.StatusForbidden, "forbidden", "admin access required")
		return
	}
	var policy PlatformPolicy
	if err := respond.Decode(r, &policy); err != nil {
		respond.Error(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if err := h.store.PutPlatform(r.Context(), policy); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.logger.Info("deposit policy updated", "admin_id", a.ID, "type", policy.DefaultType, "value", policy.DefaultValue)
	respond.JSON(w, http.StatusOK, policy)
}

type overrideResponse struct {
	ProviderID string            `json:"provider_id"`
	Override   *ProviderOverride `json:"override"`
	Effective  Resolution        `json:"effective"`
}

// GetOverride handles GET /providers/{providerID}/deposit-override.
func (h *Handler) GetOverride(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	if a, ok := actor.FromContext(r.Context()); !ok || !actor.CanManageProvider(a, providerID) {
		respond.Error(w, http.StatusForbidden, "forbidden", "only the provider or an admin may view deposit settings")
		return
	}
	h.writeOverride(w, r, providerID)
}

// PutOverride handles PUT /providers/{providerID}/deposit-override.
func (h *Handler) PutOverride(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	if a, ok := actor.FromContext(r.Context()); !ok || !actor.CanManageProvider(a, providerID) {
		respond.Error(w, http.StatusForbidden, "forbidden", "only the provider or an admin may change deposit settings")
		return
	}
	var override ProviderOverride
	if err := respond.Decode(r, &override); err != nil {
		respond.Error(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	if err := h.store.PutOverride(r.Context(), providerID, override); err != nil {
		h.writeStoreError(w, err)
		return
	}
	h.writeOverride(w, r, providerID)
}

func (h *Handler) writeOverride(w http.ResponseWriter, r *http.Request, providerID string) {
	platform, err := h.store.Platform(r.Context())
	if err != nil {
		h.logger.Error("failed to load deposit policy", "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal", "failed to load deposit policy")
		return
	}
	override, err := h.store.Override(r.Context(), providerID)
	if err != nil {
		h.logger.Error("failed to load deposit override", "error", err, "provider_id", providerID)
		respond.Error(w, http.StatusInternalServerError, "internal", "failed to load deposit override")
		return
	}
	respond.JSON(w, http.StatusOK, overrideResponse{
		ProviderID: providerID,
		Override:   override,
		Effective:  Resolve(platform, override),
	})
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrInvalidPolicy) || errors.Is(err, ErrInvalidOverride) {
		respond.Error(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	h.logger.Error("failed to store deposit settings", "error", err)
	respond.Error(w, http.StatusInternalServerError, "internal", "failed to store deposit settings")
}
