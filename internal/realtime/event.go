// Package realtime pushes booking request transitions to connected clients.
// Delivery is at-most-once; clients converge by version and refetch on reconnect.
package realtime

import (
	"time"

	"github.com/erimias46/babrber-frontend-sub000/internal/actor"
	"github.com/erimias46/babrber-frontend-sub000/internal/requests"
)

// Event is the wire message sent to WebSocket clients.
type Event struct {
	Type       string                   `json:"type"`
	Request    *requests.BookingRequest `json:"request"`
	Version    int64                    `json:"version"`
	OccurredAt time.Time                `json:"occurred_at"`
	Deposit    *DepositInfo             `json:"deposit,omitempty"`
	Payout     *requests.PayoutOutcome  `json:"payout,omitempty"`
}

// DepositInfo tells the customer what to pay next after an accept.
type DepositInfo struct {
	Required        bool           `json:"required"`
	AmountCents     *int64         `json:"amount_cents,omitempty"`
	RemainderCents  *int64         `json:"remainder_cents,omitempty"`
	NextPhase       requests.Phase `json:"next_phase,omitempty"`
	NextAmountCents int64          `json:"next_amount_cents"`
}

// Envelope addresses an event to recipient channel keys. It is also the
// payload carried between instances by RedisBroker.
type Envelope struct {
	Recipients []string `json:"recipients"`
	Event      Event    `json:"event"`
}

// Recipients returns the channels that see a request: its customer, its
// provider and every admin.
func Recipients(r *requests.BookingRequest) []string {
	return []string{actor.CustomerKey(r.CustomerID), actor.ProviderKey(r.ProviderID), actor.AdminKey}
}

// FromChange builds the envelope for a committed transition.
func FromChange(change requests.Change, at time.Time) Envelope {
	r := change.Request
	evt := Event{
		Type:       string(change.Kind),
		Request:    r,
		Version:    r.Version,
		OccurredAt: at,
		Payout:     change.Payout,
	}
	if change.Kind == requests.ChangeAccepted {
		next := r.NextPhase()
		amount, _ := r.PhaseAmount(next)
		evt.Deposit = &DepositInfo{
			Required:        r.DepositRequired,
			AmountCents:     r.DepositAmountCents,
			RemainderCents:  r.RemainderAmountCents,
			NextPhase:       next,
			NextAmountCents: amount,
		}
	}
	return Envelope{Recipients: Recipients(r), Event: evt}
}
