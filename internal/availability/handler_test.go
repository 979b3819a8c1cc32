package availability

import (
	"bytes"
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
	r.Route("/providers/{providerID}", h.Routes)
	return r
}

func TestCreateBlockForbiddenForOtherProvider(t *testing.T) {
	h := NewHandler(newTestManager(), logging.Default())
	req := httptest.NewRequest(http.MethodPost, "/providers/p-1/blocks",
		bytes.NewBufferString(`{"start":"2026-03-02T09:00:00Z","end":"2026-03-02T12:00:00Z"}`))
	req = req.WithContext(actor.WithActor(req.Context(), actor.Actor{ID: "p-2", Role: actor.RoleProvider}))
	rec := httptest.NewRecorder()

	newTestRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestCreateAndListBlocks(t *testing.T) {
	h := NewHandler(newTestManager(), logging.Default())
	router := newTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/providers/p-1/blocks",
		bytes.NewBufferString(`{"start":"2026-03-02T09:00:00Z","end":"2026-03-02T12:00:00Z"}`))
	req = req.WithContext(actor.WithActor(req.Context(), actor.Actor{ID: "p-1", Role: actor.RoleProvider}))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/providers/p-1/blocks?from=2026-03-02T00:00:00Z&to=2026-03-03T00:00:00Z", nil)
	req = req.WithContext(actor.WithActor(req.Context(), actor.Actor{ID: "c-1", Role: actor.RoleCustomer}))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Blocks []Block `json:"blocks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(resp.Blocks))
	}
}

func TestCreateBlockValidationError(t *testing.T) {
	h := NewHandler(newTestManager(), logging.Default())
	req := httptest.NewRequest(http.MethodPost, "/providers/p-1/blocks",
		bytes.NewBufferString(`{"start":"2026-03-02T12:00:00Z","end":"2026-03-02T09:00:00Z"}`))
	req = req.WithContext(actor.WithActor(req.Context(), actor.Actor{ID: "p-1", Role: actor.RoleProvider}))
	rec := httptest.NewRecorder()

	newTestRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPutSettingsByAdmin(t *testing.T) {
	h := NewHandler(newTestManager(), logging.Default())
	req := httptest.NewRequest(http.MethodPut, "/providers/p-1/settings",
		bytes.NewBufferString(`{"slot_interval_minutes":15,"buffer_minutes":5}`))
	req = req.WithContext(actor.WithActor(req.Context(), actor.Actor{ID: "admin-1", Role: actor.RoleAdmin}))
	rec := httptest.NewRecorder()

	newTestRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var s Settings
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if s.ProviderID != "p-1" || s.SlotIntervalMinutes != 15 {
		t.Fatalf("unexpected settings %+v", s)
	}
}

func TestDeleteUnknownServiceReturns404(t *testing.T) {
	h := NewHandler(newTestManager(), logging.Default())
	req := httptest.NewRequest(http.MethodDelete, "/providers/p-1/services/missing", nil)
	req = req.WithContext(actor.WithActor(req.Context(), actor.Actor{ID: "p-1", Role: actor.RoleProvider}))
	rec := httptest.NewRecorder()

	newTestRouter(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
