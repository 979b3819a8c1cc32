package router

import (
	"net/http"

	"github.com/erimias46/babrber-frontend-sub000/internal/actor"
	"github.com/erimias46/babrber-frontend-sub000/internal/http/respond"
)

// requireRole rejects callers whose role is not listed. It runs after ActorJWT.
func requireRole(roles ...actor.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a, ok := actor.FromContext(r.Context())
			if !ok {
				respond.Error(w, http.StatusUnauthorized, "unauthenticated", "missing actor")
				return
			}
			for _, role := range roles {
				if a.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			respond.Error(w, http.StatusForbidden, "forbidden", "role "+string(a.Role)+" may not use this endpoint")
		})
	}
}
