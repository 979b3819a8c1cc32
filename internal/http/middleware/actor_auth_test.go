package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/erimias46/babrber-frontend-sub000/internal/actor"
)

func serveWithActor(t *testing.T, mw func(http.Handler) http.Handler, req *http.Request) (*httptest.ResponseRecorder, *actor.Actor) {
	t.Helper()
	var seen *actor.Actor
	rec := httptest.NewRecorder()
	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a, ok := actor.FromContext(r.Context()); ok {
			seen = &a
		}
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(rec, req)
	return rec, seen
}

func TestActorJWTRejects(t *testing.T) {
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, ActorClaims{
		Role:             "customer",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "c-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
	})
	expiredToken, _ := expired.SignedString([]byte("secret"))
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, ActorClaims{Role: "customer", RegisteredClaims: jwt.RegisteredClaims{Subject: "c-1"}}).SignedString([]byte("secret"))
	wrongSecret, _ := IssueToken("other", actor.Actor{ID: "c-1", Role: actor.RoleCustomer}, time.Minute)
	badRole, _ := IssueToken("secret", actor.Actor{ID: "c-1", Role: "janitor"}, time.Minute)
	system, _ := IssueToken("secret", actor.System("payments"), time.Minute)

	tests := []struct {
		name   string
		secret string
		token  string
	}{
		{"auth disabled", "", "x"},
		{"missing token", "secret", ""},
		{"wrong secret", "secret", wrongSecret},
		{"expired", "secret", expiredToken},
		{"no expiry", "secret", noExpiry},
		{"unknown role", "secret", badRole},
		{"system role", "secret", system},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/requests", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec, seen := serveWithActor(t, ActorJWT(tt.secret), req)
			if rec.Code != http.StatusUnauthorized || seen != nil {
				t.Fatalf("expected 401 without actor, got %d", rec.Code)
			}
		})
	}
}

func TestActorJWTAcceptsHeaderAndQuery(t *testing.T) {
	token, err := IssueToken("secret", actor.Actor{ID: "p-1", Role: actor.RoleProvider}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	header := httptest.NewRequest(http.MethodGet, "/requests", nil)
	header.Header.Set("Authorization", "Bearer "+token)
	query := httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)

	for _, req := range []*http.Request{header, query} {
		rec, seen := serveWithActor(t, ActorJWT("secret"), req)
		if rec.Code != http.StatusOK || seen == nil {
			t.Fatalf("expected authenticated request, got %d", rec.Code)
		}
		if seen.ID != "p-1" || seen.Role != actor.RoleProvider {
			t.Fatalf("unexpected actor %+v", seen)
		}
	}
}
