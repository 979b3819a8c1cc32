package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erimias46/babrber-frontend-sub000/internal/actor"
)

func TestRequireRole(t *testing.T) {
	handler := requireRole(actor.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		name   string
		actor  *actor.Actor
		status int
	}{
		{"missing actor", nil, http.StatusUnauthorized},
		{"customer", &actor.Actor{ID: "c-1", Role: actor.RoleCustomer}, http.StatusForbidden},
		{"admin", &actor.Actor{ID: "a-1", Role: actor.RoleAdmin}, http.StatusTeapot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/x", nil)
			if tt.actor != nil {
				req = req.WithContext(actor.WithActor(req.Context(), *tt.actor))
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rr.Code)
			}
		})
	}
}
