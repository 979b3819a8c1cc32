package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/erimias46/babrber-frontend-sub000/internal/actor"
	"github.com/erimias46/babrber-frontend-sub000/internal/http/respond"
)

// ActorClaims is the token shape issued by the identity service.
type ActorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ActorJWT verifies an HS256 bearer token and stores the actor in the context.
// Browsers cannot set headers on a WebSocket handshake, so a token query
// parameter is accepted as well.
func ActorJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				respond.Error(w, http.StatusUnauthorized, "unauthenticated", "auth disabled")
				return
			}
			raw := bearerToken(r)
			if raw == "" {
				respond.Error(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
				return
			}
			a, err := ParseActor(secret, raw)
			if err != nil {
				respond.Error(w, http.StatusUnauthorized, "unauthenticated", "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(actor.WithActor(r.Context(), a)))
		})
	}
}

func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

var errInvalidActor = errors.New("middleware: token does not name a valid actor")

// ParseActor validates raw and returns the actor it names.
func ParseActor(secret, raw string) (actor.Actor, error) {
	var claims ActorClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return actor.Actor{}, err
	}
	a := actor.Actor{ID: claims.Subject, Role: actor.Role(claims.Role)}
	// System identities are internal only.
	if !a.Valid() || a.Role == actor.RoleSystem {
		return actor.Actor{}, errInvalidActor
	}
	return a, nil
}

// IssueToken signs a token for a; used by tooling and tests.
func IssueToken(secret string, a actor.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := ActorClaims{
		Role: string(a.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
