package realtime

import (
	"net/http"
	"slices"

	"github.com/gorilla/websocket"

	"github.com/erimias46/babrber-frontend-sub000/internal/actor"
	"github.com/erimias46/babrber-frontend-sub000/internal/http/respond"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

// Handler upgrades authenticated callers to a WebSocket on their channel key.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *logging.Logger
}

// NewHandler accepts connections from allowedOrigins; "*" or an empty list allows any origin.
func NewHandler(hub *Hub, allowedOrigins []string, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	anyOrigin := len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*")
	return &Handler{
		hub:    hub,
		logger: logger.Component("realtime.ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return anyOrigin || origin == "" || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a, ok := actor.FromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	h.logger.Debug("websocket connected", "key", a.Key())
	h.hub.Serve(a.Key(), conn)
}
