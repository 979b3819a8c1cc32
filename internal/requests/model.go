package requests

import (
	"slices"
	"time"

	"github.com/erimias46/babrber-frontend-sub000/internal/actor"
	"github.com/erimias46/babrber-frontend-sub000/internal/geo"
)

// Status is the lifecycle state of a booking request.
type Status string

const (
	StatusPending     Status = "pending"
	StatusAccepted    Status = "accepted"
	StatusDeclined    Status = "declined"
	StatusRescheduled Status = "rescheduled"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:     {StatusAccepted, StatusDeclined, StatusCancelled},
	StatusAccepted:    {StatusCompleted, StatusCancelled, StatusRescheduled},
	StatusRescheduled: {StatusRescheduled, StatusCancelled, StatusCompleted},
}

// ActiveStatuses hold the single-active-request slot for a customer/provider pair.
var ActiveStatuses = []Status{StatusPending, StatusAccepted, StatusRescheduled}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Active reports whether s counts against the single-active-request rule.
func (s Status) Active() bool {
	return slices.Contains(ActiveStatuses, s)
}

// Committed reports whether s blocks provider time.
func (s Status) Committed() bool {
	return s == StatusAccepted || s == StatusRescheduled
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusDeclined, StatusRescheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Phase names a payment step.
type Phase string

const (
	PhaseDeposit   Phase = "deposit"
	PhaseRemainder Phase = "remainder"
	PhaseFull      Phase = "full"
)

func (p Phase) Valid() bool {
	return p == PhaseDeposit || p == PhaseRemainder || p == PhaseFull
}

// RefundStatus tracks money owed back to the customer.
type RefundStatus string

const (
	RefundNone      RefundStatus = "none"
	RefundForfeited RefundStatus = "forfeited"
	RefundReview    RefundStatus = "review"
	RefundApproved  RefundStatus = "approved"
	RefundRejected  RefundStatus = "rejected"
)

// OfflinePaymentRef marks a remainder collected outside the platform.
const OfflinePaymentRef = "offline"

// PaymentFailure is the last failed payment attempt.
type PaymentFailure struct {
	Phase  Phase     `json:"phase"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// BookingRequest is the authoritative booking record.
type BookingRequest struct {
	ID          string     `json:"id"`
	CustomerID  string     `json:"customer_id"`
	ProviderID  string     `json:"provider_id"`
	ServiceID   string     `json:"service_id"`
	ServiceName string     `json:"service_name"`
	Status      Status     `json:"status"`
	Scheduled   *time.Time `json:"scheduled_time,omitempty"`
	// DurationMinutes is a snapshot so later catalog edits never move a confirmed window.
	DurationMinutes int          `json:"duration_minutes"`
	Location        geo.Location `json:"location"`
	DistanceMeters  *int64       `json:"distance_meters,omitempty"`

	ServicePriceCents      int64 `json:"service_price_cents"`
	TransportationFeeCents int64 `json:"transportation_fee_cents"`
	TotalPriceCents        int64 `json:"total_price_cents"`
	Notes                  string `json:"notes,omitempty"`

	DepositRequired          bool    `json:"deposit_required"`
	DepositAmountCents       *int64  `json:"deposit_amount_cents,omitempty"`
	DepositPaidCents         *int64  `json:"deposit_paid_cents,omitempty"`
	DepositPaymentIntentID   *string `json:"deposit_payment_intent_id,omitempty"`
	RemainderAmountCents     *int64  `json:"remainder_amount_cents,omitempty"`
	RemainderPaymentIntentID *string `json:"remainder_payment_intent_id,omitempty"`
	PaymentIntentID          *string `json:"payment_intent_id,omitempty"`
	TransferID               *string `json:"transfer_id,omitempty"`

	RefundStatus       RefundStatus    `json:"refund_status"`
	RefundAmountCents  int64           `json:"refund_amount_cents"`
	LatePaymentRefs    []string        `json:"late_payment_refs,omitempty"` // settled after the request ended
	CancelReason       *string         `json:"cancel_reason,omitempty"`
	CancelledBy        *actor.Role     `json:"cancelled_by,omitempty"`
	LastPaymentFailure *PaymentFailure `json:"last_payment_failure,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Duration returns the booked length.
func (r *BookingRequest) Duration() time.Duration {
	return time.Duration(r.DurationMinutes) * time.Minute
}

// Window returns the booked interval, or false when unscheduled.
func (r *BookingRequest) Window() (time.Time, time.Time, bool) {
	if r.Scheduled == nil {
		return time.Time{}, time.Time{}, false
	}
	return *r.Scheduled, r.Scheduled.Add(r.Duration()), true
}

// FullyPaid is the completion gate.
func (r *BookingRequest) FullyPaid() bool {
	if r.DepositRequired {
		return r.DepositPaidCents != nil && r.RemainderPaymentIntentID != nil
	}
	return r.PaymentIntentID != nil
}

// AmountPaid sums what the platform collected. An offline remainder is not platform money.
func (r *BookingRequest) AmountPaid() int64 {
	var paid int64
	if r.DepositRequired {
		if r.DepositPaidCents != nil {
			paid += *r.DepositPaidCents
		}
		if r.RemainderPaymentIntentID != nil && *r.RemainderPaymentIntentID != OfflinePaymentRef && r.RemainderAmountCents != nil {
			paid += *r.RemainderAmountCents
		}
		return paid
	}
	if r.PaymentIntentID != nil {
		paid = r.TotalPriceCents
	}
	return paid
}

// PaymentRefs returns every platform payment intent on the request, late ones included.
func (r *BookingRequest) PaymentRefs() []string {
	var refs []string
	for _, ref := range []*string{r.DepositPaymentIntentID, r.RemainderPaymentIntentID, r.PaymentIntentID} {
		if ref != nil && *ref != OfflinePaymentRef {
			refs = append(refs, *ref)
		}
	}
	return append(refs, r.LatePaymentRefs...)
}

// NextPhase returns the phase that should be charged next, or "" when none is due.
func (r *BookingRequest) NextPhase() Phase {
	if r.DepositRequired {
		if r.DepositPaidCents == nil {
			return PhaseDeposit
		}
		if r.RemainderPaymentIntentID == nil {
			return PhaseRemainder
		}
		return ""
	}
	if r.PaymentIntentID == nil {
		return PhaseFull
	}
	return ""
}

// PhaseAmount returns the amount due for a phase.
func (r *BookingRequest) PhaseAmount(p Phase) (int64, bool) {
	switch p {
	case PhaseDeposit:
		if r.DepositRequired && r.DepositAmountCents != nil {
			return *r.DepositAmountCents, true
		}
	case PhaseRemainder:
		if r.DepositRequired && r.RemainderAmountCents != nil {
			return *r.RemainderAmountCents, true
		}
	case PhaseFull:
		if !r.DepositRequired {
			return r.TotalPriceCents, true
		}
	}
	return 0, false
}

// PhaseSettled reports whether a phase already has its payment recorded.
func (r *BookingRequest) PhaseSettled(p Phase) bool {
	switch p {
	case PhaseDeposit:
		return r.DepositPaidCents != nil
	case PhaseRemainder:
		return r.RemainderPaymentIntentID != nil
	case PhaseFull:
		return r.PaymentIntentID != nil
	}
	return false
}

// Involves reports whether the actor may see the request.
func (r *BookingRequest) Involves(a actor.Actor) bool {
	switch a.Role {
	case actor.RoleAdmin, actor.RoleSystem:
		return true
	case actor.RoleCustomer:
		return a.ID == r.CustomerID
	case actor.RoleProvider:
		return a.ID == r.ProviderID
	}
	return false
}

// Clone returns a deep copy safe to mutate.
func (r *BookingRequest) Clone() *BookingRequest {
	c := *r
	c.Scheduled = clonePtr(r.Scheduled)
	c.Location.Coordinates = slices.Clone(r.Location.Coordinates)
	c.DistanceMeters = clonePtr(r.DistanceMeters)
	c.DepositAmountCents = clonePtr(r.DepositAmountCents)
	c.DepositPaidCents = clonePtr(r.DepositPaidCents)
	c.DepositPaymentIntentID = clonePtr(r.DepositPaymentIntentID)
	c.RemainderAmountCents = clonePtr(r.RemainderAmountCents)
	c.RemainderPaymentIntentID = clonePtr(r.RemainderPaymentIntentID)
	c.PaymentIntentID = clonePtr(r.PaymentIntentID)
	c.TransferID = clonePtr(r.TransferID)
	c.CancelReason = clonePtr(r.CancelReason)
	c.CancelledBy = clonePtr(r.CancelledBy)
	c.LastPaymentFailure = clonePtr(r.LastPaymentFailure)
	c.LatePaymentRefs = slices.Clone(r.LatePaymentRefs)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func ptr[T any](v T) *T { return &v }

// Filter narrows List. Empty fields match everything.
type Filter struct {
	CustomerID string
	ProviderID string
	Statuses   []Status
	Limit      int
}

func (f Filter) matches(r *BookingRequest) bool {
	if f.CustomerID != "" && r.CustomerID != f.CustomerID {
		return false
	}
	if f.ProviderID != "" && r.ProviderID != f.ProviderID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	return true
}
