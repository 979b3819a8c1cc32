package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/erimias46/babrber-frontend-sub000/internal/actor"
	"github.com/erimias46/babrber-frontend-sub000/internal/availability"
	"github.com/erimias46/babrber-frontend-sub000/internal/deposits"
	httpmiddleware "github.com/erimias46/babrber-frontend-sub000/internal/http/middleware"
	"github.com/erimias46/babrber-frontend-sub000/internal/http/respond"
	"github.com/erimias46/babrber-frontend-sub000/internal/payments"
	"github.com/erimias46/babrber-frontend-sub000/internal/realtime"
	"github.com/erimias46/babrber-frontend-sub000/internal/requests"
	"github.com/erimias46/babrber-frontend-sub000/internal/slots"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger              *logging.Logger
	RequestsHandler     *requests.Handler
	AvailabilityHandler *availability.Handler
	SlotsHandler        *slots.Handler
	DepositsHandler     *deposits.Handler
	CheckoutHandler     *payments.CheckoutHandler
	AccountHandler      *payments.AccountHandler
	StripeWebhook       *payments.StripeWebhookHandler
	RealtimeHandler     *realtime.Handler
	MetricsHandler      http.Handler

	JWTSecret          string
	CORSAllowedOrigins []string

	// Mutating requests are limited per caller when RateLimitPerSecond > 0.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", health)
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.StripeWebhook != nil {
			public.Post("/webhooks/stripe", cfg.StripeWebhook.ServeHTTP)
		}
	})

	limit := mutationLimit(cfg.RateLimitPerSecond, cfg.RateLimitBurst)

	r.Group(func(authed chi.Router) {
		authed.Use(httpmiddleware.ActorJWT(cfg.JWTSecret))

		if cfg.RealtimeHandler != nil {
			authed.Get("/ws", cfg.RealtimeHandler.ServeHTTP)
		}

		authed.Group(func(api chi.Router) {
			api.Use(limit)

			if cfg.RequestsHandler != nil {
				api.Route("/requests", cfg.RequestsHandler.Routes)
				api.Post("/payouts/release", cfg.RequestsHandler.ReleasePayout)
			}
			if cfg.CheckoutHandler != nil {
				api.Post("/payments/checkout-session", cfg.CheckoutHandler.ServeHTTP)
			}

			api.Route("/providers/{providerID}", func(provider chi.Router) {
				if cfg.SlotsHandler != nil {
					provider.Get("/slots", cfg.SlotsHandler.List)
				}
				if cfg.AvailabilityHandler != nil {
					cfg.AvailabilityHandler.Routes(provider)
				}
				if cfg.AccountHandler != nil {
					provider.Put("/payout-account", cfg.AccountHandler.Put)
				}
				if cfg.DepositsHandler != nil {
					provider.Get("/deposit-override", cfg.DepositsHandler.GetOverride)
					provider.Put("/deposit-override", cfg.DepositsHandler.PutOverride)
				}
			})

			api.Route("/admin", func(admin chi.Router) {
				admin.Use(requireRole(actor.RoleAdmin))
				if cfg.DepositsHandler != nil {
					admin.Get("/deposit-policy", cfg.DepositsHandler.GetPlatform)
					admin.Put("/deposit-policy", cfg.DepositsHandler.PutPlatform)
				}
				if cfg.RequestsHandler != nil {
					admin.Route("/requests", cfg.RequestsHandler.AdminRoutes)
				}
			})
		})
	})

	return r
}

func health(w http.ResponseWriter, _ *http.Request) {
	respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// mutationLimit rate limits every method except reads.
func mutationLimit(perSecond float64, burst int) func(http.Handler) http.Handler {
	if perSecond <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst <= 0 {
		burst = 1
	}
	limiter := httpmiddleware.NewRateLimiter(perSecond, burst)
	return func(next http.Handler) http.Handler {
		limited := limiter.Handler(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
			default:
				limited.ServeHTTP(w, r)
			}
		})
	}
}
