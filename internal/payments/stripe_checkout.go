package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/erimias46/babrber-frontend-sub000/internal/actor"
	"github.com/erimias46/babrber-frontend-sub000/internal/http/respond"
	"github.com/erimias46/babrber-frontend-sub000/internal/requests"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

var stripeTracer = otel.Tracer("booking.payments.stripe")

const defaultStripeBaseURL = "https://api.stripe.com"

// BookingReader loads a request as seen by an actor.
type BookingReader interface {
	Get(ctx context.Context, a actor.Actor, id string) (*requests.BookingRequest, error)
}

// CheckoutSession is what the client needs to redirect the customer.
type CheckoutSession struct {
	URL       string `json:"checkout_url"`
	SessionID string `json:"session_id"`
}

// CheckoutService creates Stripe Checkout Sessions for one payment phase of a
// booking. The webhook reads booking_id and phase back from the metadata.
type CheckoutService struct {
	bookings   BookingReader
	secretKey  string
	successURL string
	cancelURL  string
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     *logging.Logger
	dryRun     bool
}

func NewCheckoutService(bookings BookingReader, secretKey, successURL, cancelURL string, logger *logging.Logger) *CheckoutService {
	if logger == nil {
		logger = logging.Default()
	}
	return &CheckoutService{
		bookings:   bookings,
		secretKey:  secretKey,
		successURL: successURL,
		cancelURL:  cancelURL,
		baseURL:    defaultStripeBaseURL,
		apiVersion: "2023-10-16",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.Component("payments.checkout"),
	}
}

// WithBaseURL overrides the Stripe API base URL (for testing).
func (s *CheckoutService) WithBaseURL(baseURL string) *CheckoutService {
	if baseURL != "" {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
	return s
}

// WithDryRun returns fake sessions without calling Stripe.
func (s *CheckoutService) WithDryRun(enabled bool) *CheckoutService {
	s.dryRun = enabled
	return s
}

// CreateSession opens a checkout for the phase that is currently due.
func (s *CheckoutService) CreateSession(ctx context.Context, a actor.Actor, bookingID string, phase requests.Phase) (*CheckoutSession, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.create_checkout_session")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", bookingID), attribute.String("payment.phase", string(phase)))

	booking, err := s.bookings.Get(ctx, a, bookingID)
	if err != nil {
		return nil, err
	}
	if a.Role != actor.RoleCustomer || booking.CustomerID != a.ID {
		return nil, fmt.Errorf("%w: only the booking customer can pay", requests.ErrForbidden)
	}
	if !booking.Status.Active() {
		return nil, fmt.Errorf("%w: booking is %s", ErrPhaseNotDue, booking.Status)
	}
	if phase == requests.PhaseRemainder && !booking.Status.Committed() {
		return nil, fmt.Errorf("%w: the remainder is due after the provider accepts", ErrPhaseNotDue)
	}
	if next := booking.NextPhase(); next != phase {
		return nil, fmt.Errorf("%w: %s requested, %q is due", ErrPhaseNotDue, phase, next)
	}
	amount, ok := booking.PhaseAmount(phase)
	if !ok || amount <= 0 {
		return nil, fmt.Errorf("%w: nothing to charge for %s", ErrPhaseNotDue, phase)
	}
	span.SetAttributes(attribute.Int64("payment.amount_cents", amount))

	if s.dryRun {
		fakeID := "cs_dryrun_" + uuid.New().String()[:8]
		s.logger.Info("stripe dry run: skipping checkout session creation", "booking_id", bookingID, "phase", phase, "amount_cents", amount)
		return &CheckoutSession{URL: "https://checkout.stripe.com/dry-run/" + fakeID, SessionID: fakeID}, nil
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("client_reference_id", booking.ID)
	form.Set("line_items[0][price_data][currency]", "usd")
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(amount, 10))
	form.Set("line_items[0][price_data][product_data][name]", lineItemName(booking, phase))
	form.Set("line_items[0][quantity]", "1")
	if s.successURL != "" {
		form.Set("success_url", s.successURL)
	}
	if s.cancelURL != "" {
		form.Set("cancel_url", s.cancelURL)
	}
	for _, prefix := range []string{"metadata", "payment_intent_data[metadata]"} {
		form.Set(prefix+"[booking_id]", booking.ID)
		form.Set(prefix+"[phase]", string(phase))
		form.Set(prefix+"[provider_id]", booking.ProviderID)
	}
	// Platform collects; the provider is paid by an explicit transfer later.
	form.Set("payment_intent_data[transfer_group]", "booking:"+booking.ID)

	var parsed stripeCheckoutSession
	if err := s.post(ctx, "/v1/checkout/sessions", form, "", &parsed); err != nil {
		return nil, err
	}
	if parsed.URL == "" {
		return nil, fmt.Errorf("payments: stripe response missing checkout url")
	}
	s.logger.Info("checkout session created", "booking_id", booking.ID, "phase", phase, "session_id", parsed.ID)
	return &CheckoutSession{URL: parsed.URL, SessionID: parsed.ID}, nil
}

func lineItemName(b *requests.BookingRequest, phase requests.Phase) string {
	name := strings.TrimSpace(b.ServiceName)
	if name == "" {
		name = "Booking"
	}
	switch phase {
	case requests.PhaseDeposit:
		return name + " deposit"
	case requests.PhaseRemainder:
		return name + " balance"
	}
	return name
}

func (s *CheckoutService) post(ctx context.Context, path string, form url.Values, idempotencyKey string, dst any) error {
	return stripeForm(ctx, s.httpClient, s.baseURL+path, s.secretKey, s.apiVersion, http.MethodPost, form, idempotencyKey, dst)
}

// stripeForm calls Stripe's form-encoded REST API and decodes the JSON reply.
func stripeForm(ctx context.Context, client *http.Client, endpoint, key, version, method string, form url.Values, idempotencyKey string, dst any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("payments: stripe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Stripe-Version", version)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("payments: stripe http: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("payments: stripe api status %d: %s", resp.StatusCode, readStripeError(resp.Body))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("payments: stripe decode: %w", err)
	}
	return nil
}

type stripeCheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripeErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func readStripeError(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "unknown error"
	}
	var parsed stripeErrorResponse
	if json.Unmarshal(data, &parsed) == nil && parsed.Error.Message != "" {
		if parsed.Error.Code != "" {
			return parsed.Error.Code + ": " + parsed.Error.Message
		}
		return parsed.Error.Message
	}
	return string(data)
}

// CheckoutHandler serves POST /payments/checkout-session.
type CheckoutHandler struct {
	service *CheckoutService
	logger  *logging.Logger
}

func NewCheckoutHandler(service *CheckoutService, logger *logging.Logger) *CheckoutHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CheckoutHandler{service: service, logger: logger}
}

type checkoutBody struct {
	BookingID string         `json:"booking_id"`
	Phase     requests.Phase `json:"phase"`
}

func (h *CheckoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a, ok := actor.FromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}
	var body checkoutBody
	if err := respond.Decode(r, &body); err != nil {
		respond.Error(w, http.StatusBadRequest, requests.CodeValidation, err.Error())
		return
	}
	if body.BookingID == "" || !body.Phase.Valid() {
		respond.Error(w, http.StatusBadRequest, requests.CodeValidation, "booking_id and a phase of deposit, remainder or full are required")
		return
	}
	session, err := h.service.CreateSession(r.Context(), a, body.BookingID, body.Phase)
	switch {
	case err == nil:
		respond.JSON(w, http.StatusOK, session)
	case errors.Is(err, ErrPhaseNotDue):
		respond.Error(w, http.StatusConflict, "phase_not_due", err.Error())
	default:
		requests.WriteError(w, h.logger, err)
	}
}
