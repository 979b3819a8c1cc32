package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/erimias46/babrber-frontend-sub000/internal/events"
	"github.com/erimias46/babrber-frontend-sub000/internal/observability/metrics"
	"github.com/erimias46/babrber-frontend-sub000/internal/requests"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

const (
	signatureTolerance = 5 * time.Minute
	maxWebhookBytes    = 1 << 20
	providerStripe     = "stripe"
)

// Settler is the slice of the booking engine the webhook drives.
type Settler interface {
	ApplySettlement(ctx context.Context, in requests.SettlementInput) (*requests.BookingRequest, error)
	RecordPaymentFailure(ctx context.Context, bookingID string, phase requests.Phase, reason string) (*requests.BookingRequest, error)
}

// StripeWebhookHandler turns Stripe payment events into booking settlements.
type StripeWebhookHandler struct {
	webhookSecret string
	settler       Settler
	processed     events.Deduper
	metrics       *metrics.BookingMetrics
	logger        *logging.Logger
	now           func() time.Time
}

func NewStripeWebhookHandler(webhookSecret string, settler Settler, processed events.Deduper, m *metrics.BookingMetrics, logger *logging.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &StripeWebhookHandler{
		webhookSecret: webhookSecret,
		settler:       settler,
		processed:     processed,
		metrics:       m,
		logger:        logger.Component("payments.webhook"),
		now:           time.Now,
	}
}

func (h *StripeWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if !verifyStripeSignature(h.webhookSecret, payload, r.Header.Get("Stripe-Signature"), h.now()) {
		h.metrics.ObserveWebhook("unknown", "bad_signature")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var evt stripeWebhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil || evt.ID == "" {
		h.logger.Error("failed to decode stripe event", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	switch evt.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded",
		"checkout.session.expired", "checkout.session.async_payment_failed", "payment_intent.payment_failed":
	default:
		h.metrics.ObserveWebhook(evt.Type, "ignored")
		w.WriteHeader(http.StatusOK)
		return
	}

	ctx := r.Context()
	if done, err := h.processed.AlreadyProcessed(ctx, providerStripe, evt.ID); err != nil {
		h.logger.Error("processed lookup failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	} else if done {
		h.metrics.ObserveWebhook(evt.Type, "duplicate")
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.dispatch(ctx, evt); err != nil {
		if errors.Is(err, errUnroutable) {
			// Acknowledge so Stripe stops retrying an event we can never apply.
			h.logger.Warn("stripe event not routable", "event_id", evt.ID, "type", evt.Type, "error", err)
			h.metrics.ObserveWebhook(evt.Type, "unroutable")
			h.markProcessed(ctx, evt.ID)
			w.WriteHeader(http.StatusOK)
			return
		}
		h.logger.Error("stripe event failed", "event_id", evt.ID, "type", evt.Type, "error", err)
		h.metrics.ObserveWebhook(evt.Type, "failed")
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	h.markProcessed(ctx, evt.ID)
	h.metrics.ObserveWebhook(evt.Type, "applied")
	w.WriteHeader(http.StatusOK)
}

var errUnroutable = errors.New("payments: event cannot be routed to a booking")

func (h *StripeWebhookHandler) dispatch(ctx context.Context, evt stripeWebhookEvent) error {
	obj := evt.Data.Object
	bookingID := obj.Metadata["booking_id"]
	phase := requests.Phase(obj.Metadata["phase"])
	if bookingID == "" || !phase.Valid() {
		return fmt.Errorf("%w: metadata %v", errUnroutable, obj.Metadata)
	}

	var err error
	switch evt.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		if obj.PaymentStatus != "" && obj.PaymentStatus != "paid" && obj.PaymentStatus != "no_payment_required" {
			// Delayed methods settle later through async_payment_succeeded.
			return nil
		}
		ref := obj.PaymentIntent
		if ref == "" {
			ref = obj.ID
		}
		_, err = h.settler.ApplySettlement(ctx, requests.SettlementInput{
			BookingID:   bookingID,
			Phase:       phase,
			AmountCents: obj.AmountTotal,
			PaymentRef:  ref,
		})
	case "checkout.session.expired":
		_, err = h.settler.RecordPaymentFailure(ctx, bookingID, phase, "checkout session expired")
	default:
		reason := "payment failed"
		if obj.LastPaymentError != nil && obj.LastPaymentError.Message != "" {
			reason = obj.LastPaymentError.Message
		}
		_, err = h.settler.RecordPaymentFailure(ctx, bookingID, phase, reason)
	}
	if errors.Is(err, requests.ErrNotFound) || errors.Is(err, requests.ErrValidation) {
		return fmt.Errorf("%w: %v", errUnroutable, err)
	}
	return err
}

func (h *StripeWebhookHandler) markProcessed(ctx context.Context, eventID string) {
	if _, err := h.processed.MarkProcessed(ctx, providerStripe, eventID); err != nil {
		h.logger.Error("failed to record processed event", "event_id", eventID, "error", err)
	}
}

type stripeWebhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object stripeEventObject `json:"object"`
	} `json:"data"`
}

// stripeEventObject covers both checkout.session and payment_intent payloads.
type stripeEventObject struct {
	ID               string            `json:"id"`
	PaymentIntent    string            `json:"payment_intent"`
	PaymentStatus    string            `json:"payment_status"`
	AmountTotal      int64             `json:"amount_total"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// verifyStripeSignature checks a "t=<ts>,v1=<sig>" header: HMAC-SHA256 over
// "<ts>.<payload>" within the tolerance window.
func verifyStripeSignature(secret string, payload []byte, header string, now time.Time) bool {
	if secret == "" {
		return true // bypass for development
	}
	if header == "" {
		return false
	}
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			signatures = append(signatures, v)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return false
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if age := now.Sub(time.Unix(ts, 0)); age > signatureTolerance || age < -signatureTolerance {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	expected := hex.EncodeToString(mac.Sum(nil))
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}
