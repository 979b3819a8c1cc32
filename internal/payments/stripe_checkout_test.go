package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/erimias46/babrber-frontend-sub000/internal/actor"
	"github.com/erimias46/babrber-frontend-sub000/internal/requests"
)

type stubBookings struct {
	booking *requests.BookingRequest
	err     error
}

func (s *stubBookings) Get(_ context.Context, a actor.Actor, id string) (*requests.BookingRequest, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.booking == nil || s.booking.ID != id || !s.booking.Involves(a) {
		return nil, requests.ErrNotFound
	}
	return s.booking.Clone(), nil
}

func int64Ptr(v int64) *int64 { return &v }

func depositBooking(status requests.Status) *requests.BookingRequest {
	return &requests.BookingRequest{
		ID:                   "bk-1",
		CustomerID:           "c-1",
		ProviderID:           "p-1",
		ServiceName:          "Fade",
		Status:               status,
		TotalPriceCents:      3000,
		DepositRequired:      true,
		DepositAmountCents:   int64Ptr(600),
		RemainderAmountCents: int64Ptr(2400),
	}
}

var customer = actor.Actor{ID: "c-1", Role: actor.RoleCustomer}

func assertFormValue(t *testing.T, form url.Values, key, want string) {
	t.Helper()
	if got := form.Get(key); got != want {
		t.Errorf("form[%s] = %q, want %q", key, got, want)
	}
}

func TestCheckoutService_CreateSession(t *testing.T) {
	var gotForm url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test_123" {
			t.Errorf("expected auth header, got %q", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		gotForm = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "cs_test_1", "url": "https://checkout.stripe.com/pay/cs_test_1"})
	}))
	defer srv.Close()

	svc := NewCheckoutService(&stubBookings{booking: depositBooking(requests.StatusPending)}, "sk_test_123", "https://app/ok", "https://app/cancel", nil).
		WithBaseURL(srv.URL)

	session, err := svc.CreateSession(context.Background(), customer, "bk-1", requests.PhaseDeposit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.SessionID != "cs_test_1" || session.URL != "https://checkout.stripe.com/pay/cs_test_1" {
		t.Fatalf("unexpected session %+v", session)
	}
	assertFormValue(t, gotForm, "mode", "payment")
	assertFormValue(t, gotForm, "line_items[0][price_data][unit_amount]", "600")
	assertFormValue(t, gotForm, "line_items[0][price_data][product_data][name]", "Fade deposit")
	assertFormValue(t, gotForm, "metadata[booking_id]", "bk-1")
	assertFormValue(t, gotForm, "metadata[phase]", "deposit")
	assertFormValue(t, gotForm, "payment_intent_data[metadata][phase]", "deposit")
	assertFormValue(t, gotForm, "payment_intent_data[transfer_group]", "booking:bk-1")
	assertFormValue(t, gotForm, "success_url", "https://app/ok")
}

func TestCheckoutService_RejectsPhasesThatAreNotDue(t *testing.T) {
	paid := depositBooking(requests.StatusAccepted)
	paid.DepositPaidCents = int64Ptr(600)

	tests := []struct {
		name    string
		booking *requests.BookingRequest
		phase   requests.Phase
	}{
		{"remainder before accept", depositBooking(requests.StatusPending), requests.PhaseRemainder},
		{"deposit already paid", paid, requests.PhaseDeposit},
		{"full on a deposit booking", depositBooking(requests.StatusAccepted), requests.PhaseFull},
		{"terminal booking", depositBooking(requests.StatusCancelled), requests.PhaseDeposit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewCheckoutService(&stubBookings{booking: tt.booking}, "sk", "", "", nil).WithDryRun(true)
			_, err := svc.CreateSession(context.Background(), customer, "bk-1", tt.phase)
			if !errors.Is(err, ErrPhaseNotDue) {
				t.Fatalf("expected ErrPhaseNotDue, got %v", err)
			}
		})
	}

	svc := NewCheckoutService(&stubBookings{booking: paid}, "sk", "", "", nil).WithDryRun(true)
	session, err := svc.CreateSession(context.Background(), customer, "bk-1", requests.PhaseRemainder)
	if err != nil {
		t.Fatalf("remainder should be due: %v", err)
	}
	if session.SessionID == "" {
		t.Fatalf("expected dry-run session id")
	}
}

func TestCheckoutService_OnlyTheCustomerPays(t *testing.T) {
	svc := NewCheckoutService(&stubBookings{booking: depositBooking(requests.StatusPending)}, "sk", "", "", nil).WithDryRun(true)
	_, err := svc.CreateSession(context.Background(), actor.Actor{ID: "p-1", Role: actor.RoleProvider}, "bk-1", requests.PhaseDeposit)
	if !errors.Is(err, requests.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestCheckoutService_SurfacesStripeErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid amount","code":"amount_too_small"}}`))
	}))
	defer srv.Close()

	svc := NewCheckoutService(&stubBookings{booking: depositBooking(requests.StatusPending)}, "sk", "", "", nil).WithBaseURL(srv.URL)
	_, err := svc.CreateSession(context.Background(), customer, "bk-1", requests.PhaseDeposit)
	if err == nil || !bytes.Contains([]byte(err.Error()), []byte("amount_too_small: Invalid amount")) {
		t.Fatalf("expected stripe error detail, got %v", err)
	}
}

func TestCheckoutHandler(t *testing.T) {
	h := NewCheckoutHandler(NewCheckoutService(&stubBookings{booking: depositBooking(requests.StatusPending)}, "sk", "", "", nil).WithDryRun(true), nil)

	tests := []struct {
		name   string
		actor  *actor.Actor
		body   string
		status int
	}{
		{"anonymous", nil, `{"booking_id":"bk-1","phase":"deposit"}`, http.StatusUnauthorized},
		{"bad phase", &customer, `{"booking_id":"bk-1","phase":"tip"}`, http.StatusBadRequest},
		{"not due", &customer, `{"booking_id":"bk-1","phase":"remainder"}`, http.StatusConflict},
		{"unknown booking", &customer, `{"booking_id":"bk-9","phase":"deposit"}`, http.StatusNotFound},
		{"ok", &customer, `{"booking_id":"bk-1","phase":"deposit"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/payments/checkout-session", bytes.NewBufferString(tt.body))
			if tt.actor != nil {
				req = req.WithContext(actor.WithActor(req.Context(), *tt.actor))
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.status, rr.Body.String())
			}
		})
	}
}
