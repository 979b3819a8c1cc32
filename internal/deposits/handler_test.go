package deposits

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/erimias46/babrber-frontend-sub000/internal/actor"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

func newTestRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/admin/deposit-policy", h.GetPlatform)
	r.Put("/admin/deposit-policy", h.PutPlatform)
	r.Get("/providers/{providerID}/deposit-override", h.GetOverride)
	r.Put("/providers/{providerID}/deposit-override", h.PutOverride)
	return r
}

func withActor(req *http.Request, a actor.Actor) *http.Request {
	return req.WithContext(actor.WithActor(req.Context(), a))
}

func TestPutPlatformRequiresAdmin(t *testing.T) {
	h := NewHandler(NewMemoryStore(DefaultPlatformPolicy()), logging.Default())
	body, _ := json.Marshal(DefaultPlatformPolicy())
	req := httptest.NewRequest(http.MethodPut, "/admin/deposit-policy", bytes.NewReader(body))
	req = withActor(req, actor.Actor{ID: "p-1", Role: actor.RoleProvider})
	rec := httptest.NewRecorder()

	newTestRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestPutPlatformValidates(t *testing.T) {
	h := NewHandler(NewMemoryStore(DefaultPlatformPolicy()), logging.Default())
	policy := DefaultPlatformPolicy()
	policy.Bounds.MaxPercent = 400
	body, _ := json.Marshal(policy)
	req := httptest.NewRequest(http.MethodPut, "/admin/deposit-policy", bytes.NewReader(body))
	req = withActor(req, actor.Actor{ID: "admin-1", Role: actor.RoleAdmin})
	rec := httptest.NewRecorder()

	newTestRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPutOverrideReturnsEffectiveResolution(t *testing.T) {
	store := NewMemoryStore(DefaultPlatformPolicy())
	h := NewHandler(store, logging.Default())
	req := httptest.NewRequest(http.MethodPut, "/providers/p-1/deposit-override",
		bytes.NewBufferString(`{"deposit_type":"fixed","deposit_value":800}`))
	req = withActor(req, actor.Actor{ID: "p-1", Role: actor.RoleProvider})
	rec := httptest.NewRecorder()

	newTestRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp overrideResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Effective.Type != TypeFixed || resp.Effective.Value != 800 || !resp.Effective.Required {
		t.Fatalf("unexpected effective resolution %+v", resp.Effective)
	}
	stored, _ := store.Override(context.Background(), "p-1")
	if stored == nil || stored.RequireDeposit != nil {
		t.Fatalf("expected stored override with inherited require flag, got %+v", stored)
	}
}

func TestGetOverrideForbiddenForOtherProvider(t *testing.T) {
	h := NewHandler(NewMemoryStore(DefaultPlatformPolicy()), logging.Default())
	req := httptest.NewRequest(http.MethodGet, "/providers/p-1/deposit-override", nil)
	req = withActor(req, actor.Actor{ID: "p-2", Role: actor.RoleProvider})
	rec := httptest.NewRecorder()

	newTestRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
