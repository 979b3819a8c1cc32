package payments

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/erimias46/babrber-frontend-sub000/internal/events"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

// RefundService executes approved refunds against the booking's payment
// intents. It is registered on the outbox dispatcher for refund_requested.v1,
// so a redelivered event replays the same idempotency keys.
type RefundService struct {
	secretKey  string
	baseURL    string
	apiVersion string
	httpClient *http.Client
	logger     *logging.Logger
	dryRun     bool
}

// RefundResult is one refund created on one payment intent.
type RefundResult struct {
	RefundID      string
	PaymentIntent string
	AmountCents   int64
	Status        string
}

func NewRefundService(secretKey string, logger *logging.Logger) *RefundService {
	if logger == nil {
		logger = logging.Default()
	}
	return &RefundService{
		secretKey:  secretKey,
		baseURL:    defaultStripeBaseURL,
		apiVersion: "2023-10-16",
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.Component("payments.refunds"),
	}
}

// WithBaseURL overrides the Stripe API base URL (for testing).
func (s *RefundService) WithBaseURL(baseURL string) *RefundService {
	if baseURL != "" {
		s.baseURL = strings.TrimRight(baseURL, "/")
	}
	return s
}

func (s *RefundService) WithDryRun(enabled bool) *RefundService {
	s.dryRun = enabled
	return s
}

// Handle implements events.DeliveryHandler.
func (s *RefundService) Handle(ctx context.Context, entry events.OutboxEntry) error {
	evt, err := events.Decode[events.RefundRequestedV1](entry)
	if err != nil {
		return err
	}
	_, err = s.Refund(ctx, evt)
	return err
}

// Refund spreads the approved amount over the payment intents in order,
// never asking an intent for more than it received.
func (s *RefundService) Refund(ctx context.Context, evt events.RefundRequestedV1) ([]RefundResult, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.refund")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", evt.BookingID), attribute.Int64("payment.amount_cents", evt.AmountCents))

	if evt.AmountCents <= 0 {
		return nil, nil
	}
	if len(evt.PaymentIntents) == 0 {
		return nil, fmt.Errorf("payments: refund for %s has no payment intents", evt.BookingID)
	}
	if s.dryRun {
		s.logger.Info("stripe dry run: skipping refund", "booking_id", evt.BookingID, "amount_cents", evt.AmountCents)
		return []RefundResult{{RefundID: "re_dryrun_" + evt.BookingID, PaymentIntent: evt.PaymentIntents[0], AmountCents: evt.AmountCents, Status: "succeeded"}}, nil
	}

	remaining := evt.AmountCents
	var out []RefundResult
	for _, pi := range evt.PaymentIntents {
		if remaining == 0 {
			break
		}
		var intent stripePaymentIntent
		if err := stripeForm(ctx, s.httpClient, s.baseURL+"/v1/payment_intents/"+url.PathEscape(pi), s.secretKey, s.apiVersion, http.MethodGet, nil, "", &intent); err != nil {
			return out, fmt.Errorf("payments: load payment intent %s: %w", pi, err)
		}
		amount := min(remaining, intent.AmountReceived)
		if amount <= 0 {
			continue
		}
		form := url.Values{}
		form.Set("payment_intent", pi)
		form.Set("amount", strconv.FormatInt(amount, 10))
		form.Set("reason", "requested_by_customer")
		form.Set("metadata[booking_id]", evt.BookingID)
		form.Set("metadata[approved_by]", evt.ApprovedBy)

		var refund stripeRefund
		key := fmt.Sprintf("refund:%s:%s", evt.BookingID, pi)
		if err := stripeForm(ctx, s.httpClient, s.baseURL+"/v1/refunds", s.secretKey, s.apiVersion, http.MethodPost, form, key, &refund); err != nil {
			return out, fmt.Errorf("payments: refund %s: %w", pi, err)
		}
		remaining -= amount
		out = append(out, RefundResult{RefundID: refund.ID, PaymentIntent: pi, AmountCents: amount, Status: refund.Status})
		s.logger.Info("refund created", "booking_id", evt.BookingID, "payment_intent", pi, "refund_id", refund.ID, "amount_cents", amount)
	}
	if remaining > 0 {
		s.logger.Warn("refund exceeded captured amount", "booking_id", evt.BookingID, "unrefunded_cents", remaining)
	}
	return out, nil
}

type stripePaymentIntent struct {
	ID             string `json:"id"`
	AmountReceived int64  `json:"amount_received"`
}

type stripeRefund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
