package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/erimias46/babrber-frontend-sub000/internal/actor"
	"github.com/erimias46/babrber-frontend-sub000/internal/availability"
	"github.com/erimias46/babrber-frontend-sub000/internal/deposits"
	"github.com/erimias46/babrber-frontend-sub000/internal/events"
	httpmiddleware "github.com/erimias46/babrber-frontend-sub000/internal/http/middleware"
	"github.com/erimias46/babrber-frontend-sub000/internal/payments"
	"github.com/erimias46/babrber-frontend-sub000/internal/requests"
	"github.com/erimias46/babrber-frontend-sub000/internal/slots"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

const testSecret = "router-test-secret"

func newTestRouter(t *testing.T, perSecond float64, burst int) http.Handler {
	t.Helper()

	logger := logging.Default()
	manager := availability.NewManager(availability.NewInMemoryRepository(), logger)
	store := requests.NewMemoryStore(events.NewMemoryOutbox())
	policies := deposits.NewMemoryStore(deposits.DefaultPlatformPolicy())
	engine := requests.NewEngine(store, manager, deposits.NewResolver(policies), logger)

	cfg := &Config{
		Logger:              logger,
		RequestsHandler:     requests.NewHandler(engine, logger),
		AvailabilityHandler: availability.NewHandler(manager, logger),
		SlotsHandler:        slots.NewHandler(slots.NewService(manager, requests.SlotBookings{Store: store}, logger), logger),
		DepositsHandler:     deposits.NewHandler(policies, logger),
		CheckoutHandler:     payments.NewCheckoutHandler(payments.NewCheckoutService(engine, "sk_test", "", "", logger).WithDryRun(true), logger),
		AccountHandler:      payments.NewAccountHandler(payments.NewMemoryAccountStore(), logger),
		StripeWebhook:       payments.NewStripeWebhookHandler("", engine, events.NewMemoryProcessedStore(), nil, logger),
		JWTSecret:           testSecret,
		CORSAllowedOrigins:  []string{"http://localhost:3000"},
		RateLimitPerSecond:  perSecond,
		RateLimitBurst:      burst,
	}
	return New(cfg)
}

func token(t *testing.T, a actor.Actor) string {
	t.Helper()
	tok, err := httpmiddleware.IssueToken(testSecret, a, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func do(t *testing.T, h http.Handler, method, path string, a *actor.Actor, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if a != nil {
		req.Header.Set("Authorization", "Bearer "+token(t, *a))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, 0, 0)

	rr := do(t, router, http.MethodGet, "/health", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterRequiresToken(t *testing.T) {
	router := newTestRouter(t, 0, 0)

	for _, path := range []string{"/requests", "/providers/p-1/slots", "/admin/deposit-policy"} {
		if rr := do(t, router, http.MethodGet, path, nil, nil); rr.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rr.Code)
		}
	}
}

func TestRouterAdminRoutesRequireAdmin(t *testing.T) {
	router := newTestRouter(t, 0, 0)
	customer := &actor.Actor{ID: "c-1", Role: actor.RoleCustomer}
	admin := &actor.Actor{ID: "a-1", Role: actor.RoleAdmin}

	if rr := do(t, router, http.MethodGet, "/admin/deposit-policy", customer, nil); rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer, got %d", rr.Code)
	}
	if rr := do(t, router, http.MethodGet, "/admin/deposit-policy", admin, nil); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestRouterBookingFlow(t *testing.T) {
	router := newTestRouter(t, 0, 0)
	provider := &actor.Actor{ID: "p-1", Role: actor.RoleProvider}
	customer := &actor.Actor{ID: "c-1", Role: actor.RoleCustomer}

	rr := do(t, router, http.MethodPost, "/providers/p-1/services", provider, availability.ServiceInput{
		Name: "Fade", PriceCents: 3000, DurationMinutes: 30,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create service: %d %s", rr.Code, rr.Body.String())
	}
	var svc availability.Service
	if err := json.NewDecoder(rr.Body).Decode(&svc); err != nil {
		t.Fatalf("decode service: %v", err)
	}

	rr = do(t, router, http.MethodPost, "/requests", customer, map[string]any{
		"provider_id": "p-1",
		"service_id":  svc.ID,
		"location":    map[string]any{"address": "12 Main St"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create request: %d %s", rr.Code, rr.Body.String())
	}
	var created requests.BookingRequest
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if created.Status != requests.StatusPending {
		t.Fatalf("expected pending, got %s", created.Status)
	}

	rr = do(t, router, http.MethodGet, "/requests/"+created.ID, provider, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("provider fetch: %d %s", rr.Code, rr.Body.String())
	}

	rr = do(t, router, http.MethodPost, "/requests", customer, map[string]any{
		"provider_id": "p-1",
		"service_id":  svc.ID,
		"location":    map[string]any{"address": "12 Main St"},
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("second active request: expected 409, got %d", rr.Code)
	}
}

func TestRouterRateLimitsMutationsOnly(t *testing.T) {
	router := newTestRouter(t, 0.001, 1)
	provider := &actor.Actor{ID: "p-1", Role: actor.RoleProvider}

	if rr := do(t, router, http.MethodPut, "/providers/p-1/payout-account", provider, map[string]string{"stripe_account_id": "acct_1"}); rr.Code != http.StatusOK {
		t.Fatalf("first mutation: %d %s", rr.Code, rr.Body.String())
	}
	if rr := do(t, router, http.MethodPut, "/providers/p-1/payout-account", provider, map[string]string{"stripe_account_id": "acct_1"}); rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	for i := 0; i < 3; i++ {
		if rr := do(t, router, http.MethodGet, "/requests", provider, nil); rr.Code != http.StatusOK {
			t.Fatalf("reads are not limited, got %d", rr.Code)
		}
	}
}

func TestRouterStripeWebhookIsPublic(t *testing.T) {
	router := newTestRouter(t, 0, 0)

	rr := do(t, router, http.MethodPost, "/webhooks/stripe", nil, map[string]any{
		"id":   "evt_1",
		"type": "customer.created",
		"data": map[string]any{"object": map[string]any{}},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for an ignored event, got %d: %s", rr.Code, rr.Body.String())
	}
}
