package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// CanonicalEvent represents a versioned domain event.
type CanonicalEvent interface {
	EventType() string
}

var errNilEvent = errors.New("events: canonical event required")

const (
	TypeBookingCancelled      = "booking_cancelled.v1"
	TypeRefundReviewRequested = "refund_review_requested.v1"
	TypeRefundRequested       = "refund_requested.v1"
	TypePayoutReleased        = "payout_released.v1"
)

// BookingCancelledV1 is written whenever a request reaches cancelled.
type BookingCancelledV1 struct {
	BookingID    string    `json:"booking_id"`
	CustomerID   string    `json:"customer_id"`
	ProviderID   string    `json:"provider_id"`
	CancelledBy  string    `json:"cancelled_by"`
	Reason       string    `json:"reason,omitempty"`
	RefundStatus string    `json:"refund_status"`
	RefundCents  int64     `json:"refund_amount_cents"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func (BookingCancelledV1) EventType() string { return TypeBookingCancelled }

// RefundReviewRequestedV1 asks an admin to decide on money held for a request.
type RefundReviewRequestedV1 struct {
	BookingID   string    `json:"booking_id"`
	CustomerID  string    `json:"customer_id"`
	ProviderID  string    `json:"provider_id"`
	AmountCents int64     `json:"amount_cents"`
	Trigger     string    `json:"trigger"`
	PaymentRef  string    `json:"payment_ref,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (RefundReviewRequestedV1) EventType() string { return TypeRefundReviewRequested }

// RefundRequestedV1 is an approved refund waiting to be executed.
type RefundRequestedV1 struct {
	BookingID      string    `json:"booking_id"`
	AmountCents    int64     `json:"amount_cents"`
	PaymentIntents []string  `json:"payment_intents"`
	ApprovedBy     string    `json:"approved_by"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (RefundRequestedV1) EventType() string { return TypeRefundRequested }

// PayoutReleasedV1 records a transfer to the provider's connected account.
type PayoutReleasedV1 struct {
	BookingID   string    `json:"booking_id"`
	ProviderID  string    `json:"provider_id"`
	TransferID  string    `json:"transfer_id"`
	AmountCents int64     `json:"amount_cents"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (PayoutReleasedV1) EventType() string { return TypePayoutReleased }

// Envelope captures transport metadata for events leaving the process.
type Envelope struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventType       string          `json:"event_type"`
	Aggregate       string          `json:"aggregate"`
	TimestampMicros int64           `json:"timestamp"`
	Payload         json.RawMessage `json:"payload"`
}

// EnvelopeFor wraps an outbox entry. The entry id doubles as the event id so
// downstream consumers can de-duplicate redeliveries.
func EnvelopeFor(entry OutboxEntry) Envelope {
	return Envelope{
		EventID:         entry.ID,
		EventType:       entry.Type,
		Aggregate:       entry.AggregateID,
		TimestampMicros: entry.CreatedAt.UTC().UnixMicro(),
		Payload:         entry.Payload,
	}
}
