package requests

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/erimias46/babrber-frontend-sub000/internal/actor"
	"github.com/erimias46/babrber-frontend-sub000/internal/audit"
	"github.com/erimias46/babrber-frontend-sub000/internal/availability"
	"github.com/erimias46/babrber-frontend-sub000/internal/deposits"
	"github.com/erimias46/babrber-frontend-sub000/internal/events"
	"github.com/erimias46/babrber-frontend-sub000/internal/geo"
	"github.com/erimias46/babrber-frontend-sub000/internal/observability/metrics"
	"github.com/erimias46/babrber-frontend-sub000/internal/slots"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

var tracer = otel.Tracer("booking.requests")

// systemRetries bounds conflict retries for writes that have no human to retry them.
const systemRetries = 3

// Catalog is the slice of availability the engine reads.
type Catalog interface {
	Service(ctx context.Context, id string) (*availability.Service, error)
	CoveringBlock(ctx context.Context, providerID string, start, end time.Time) (*availability.Block, error)
	Settings(ctx context.Context, providerID string) (availability.Settings, error)
}

// Policies resolves deposit policy per provider.
type Policies interface {
	ResolveFor(ctx context.Context, providerID string) (deposits.PlatformPolicy, deposits.Resolution, error)
	Platform(ctx context.Context) (deposits.PlatformPolicy, error)
}

// PayoutRequest asks the payout collaborator to move platform money to a provider.
type PayoutRequest struct {
	BookingID   string
	ProviderID  string
	AmountCents int64
}

// Payouts releases provider payouts. Implementations must be idempotent per booking.
type Payouts interface {
	Release(ctx context.Context, req PayoutRequest) (transferID string, err error)
}

// ChangeKind names a real-time notification.
type ChangeKind string

const (
	ChangeNew         ChangeKind = "request:new"
	ChangeAccepted    ChangeKind = "request:accepted"
	ChangeDeclined    ChangeKind = "request:declined"
	ChangeCompleted   ChangeKind = "request:completed"
	ChangeRescheduled ChangeKind = "request:rescheduled"
	ChangeUpdated     ChangeKind = "request:updated"
)

// Change is a committed transition handed to the publisher.
type Change struct {
	Kind    ChangeKind
	Request *BookingRequest
	// Payout is set on completion when a release was attempted.
	Payout *PayoutOutcome
}

// Publisher fans changes out to clients. Publish must not block.
type Publisher interface {
	Publish(ctx context.Context, change Change)
}

// PayoutOutcome reports a release attempted alongside completion.
type PayoutOutcome struct {
	TransferID string `json:"transfer_id,omitempty"`
	Error      string `json:"error,omitempty"`
	Hint       string `json:"hint,omitempty"`
}

// Hinter is implemented by errors that carry a remediation hint.
type Hinter interface {
	Hint() string
}

// Engine owns every booking request transition.
type Engine struct {
	store     Store
	catalog   Catalog
	policies  Policies
	payouts   Payouts
	publisher Publisher
	limiter   Limiter
	audit     audit.Logger
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
	now       func() time.Time
}

// Option configures optional collaborators.
type Option func(*Engine)

func WithPayouts(p Payouts) Option { return func(e *Engine) { e.payouts = p } }
func WithPublisher(p Publisher) Option { return func(e *Engine) { e.publisher = p } }
func WithLimiter(l Limiter) Option { return func(e *Engine) { e.limiter = l } }
func WithAudit(a audit.Logger) Option { return func(e *Engine) { e.audit = a } }
func WithMetrics(m *metrics.BookingMetrics) Option { return func(e *Engine) { e.metrics = m } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func NewEngine(store Store, catalog Catalog, policies Policies, logger *logging.Logger, opts ...Option) *Engine {
	if store == nil || catalog == nil || policies == nil {
		panic("requests: store, catalog and policies are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{
		store:    store,
		catalog:  catalog,
		policies: policies,
		logger:   logger.Component("requests"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateInput is what a customer submits. Money is never read from the client.
type CreateInput struct {
	ProviderID    string       `json:"provider_id"`
	ServiceID     string       `json:"service_id"`
	ScheduledTime *time.Time   `json:"scheduled_time,omitempty"`
	Location      geo.Location `json:"location"`
	Notes         string       `json:"notes,omitempty"`
}

// Create prices and persists a new pending request.
func (e *Engine) Create(ctx context.Context, a actor.Actor, in CreateInput) (out *BookingRequest, err error) {
	ctx, span, done := e.begin(ctx, "create", a)
	defer func() { done(err) }()

	if a.Role != actor.RoleCustomer {
		return nil, coded(ErrForbidden, "only customers create booking requests")
	}
	if strings.TrimSpace(in.ProviderID) == "" || strings.TrimSpace(in.ServiceID) == "" {
		return nil, coded(ErrValidation, "provider_id and service_id are required")
	}
	if err := in.Location.Validate(); err != nil {
		return nil, coded(ErrValidation, "%v", err)
	}
	if e.limiter != nil {
		res, err := e.limiter.Allow(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		if !res.Allowed {
			return nil, coded(ErrRateLimited, "%s", res.Message)
		}
	}

	svc, err := e.catalog.Service(ctx, in.ServiceID)
	if err != nil {
		if errors.Is(err, availability.ErrNotFound) {
			return nil, coded(ErrValidation, "service not found")
		}
		return nil, fmt.Errorf("requests: load service: %w", err)
	}
	if svc.ProviderID != in.ProviderID {
		return nil, coded(ErrValidation, "service is not offered by this provider")
	}

	var providerPoint *geo.Point
	var scheduled *time.Time
	if in.ScheduledTime != nil {
		t := in.ScheduledTime.UTC()
		scheduled = &t
		end := t.Add(svc.Duration())
		block, err := e.catalog.CoveringBlock(ctx, in.ProviderID, t, end)
		if err != nil {
			if errors.Is(err, availability.ErrNotFound) {
				return nil, coded(ErrSlotUnavailable, "requested time is outside the provider's availability")
			}
			return nil, fmt.Errorf("requests: check availability: %w", err)
		}
		if err := e.checkGrid(ctx, in.ProviderID, block, t); err != nil {
			return nil, err
		}
		if err := e.checkCommitted(ctx, in.ProviderID, "", t, end); err != nil {
			return nil, err
		}
		if block.Location != nil {
			providerPoint, _ = block.Location.Point()
		}
	}
	customerPoint, _ := in.Location.Point()
	quote := geo.QuoteTrip(providerPoint, customerPoint)
	total := svc.PriceCents + quote.FeeCents

	_, resolution, err := e.policies.ResolveFor(ctx, in.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("requests: resolve deposit policy: %w", err)
	}
	split, err := resolution.Apply(total)
	if err != nil {
		return nil, coded(ErrValidation, "%v", err)
	}

	now := e.now()
	req := &BookingRequest{
		ID:                     uuid.NewString(),
		CustomerID:             a.ID,
		ProviderID:             in.ProviderID,
		ServiceID:              svc.ID,
		ServiceName:            svc.Name,
		Status:                 StatusPending,
		Scheduled:              scheduled,
		DurationMinutes:        svc.DurationMinutes,
		Location:               in.Location,
		DistanceMeters:         quote.DistanceMeters,
		ServicePriceCents:      svc.PriceCents,
		TransportationFeeCents: quote.FeeCents,
		TotalPriceCents:        total,
		Notes:                  strings.TrimSpace(in.Notes),
		RefundStatus:           RefundNone,
		Version:                1,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	// A zero deposit is not a deposit: the request follows the full-payment path.
	if resolution.Required && split.DepositCents > 0 {
		req.DepositRequired = true
		req.DepositAmountCents = ptr(split.DepositCents)
		req.RemainderAmountCents = ptr(split.RemainderCents)
	}
	span.SetAttributes(attribute.String("booking.id", req.ID), attribute.Int64("booking.total_cents", total))

	if err := e.store.Create(ctx, req); err != nil {
		if errors.Is(err, ErrActiveRequestExists) {
			return nil, coded(ErrActiveRequestExists, "finish or cancel your current request with this provider first")
		}
		return nil, err
	}
	e.logger.Info("booking request created", "booking_id", req.ID, "customer_id", a.ID, "provider_id", in.ProviderID, "total_cents", total)
	e.publish(ctx, Change{Kind: ChangeNew, Request: req})
	return req, nil
}

// Accept confirms a pending request and claims its slot.
func (e *Engine) Accept(ctx context.Context, a actor.Actor, id string) (out *BookingRequest, err error) {
	ctx, _, done := e.begin(ctx, "accept", a)
	defer func() { done(err) }()

	cur, err := e.load(ctx, a, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanManageProvider(a, cur.ProviderID) {
		return nil, coded(ErrForbidden, "only the provider can accept")
	}
	if cur.Status != StatusPending {
		return nil, coded(ErrInvalidTransition, "request already has a decision (%s)", cur.Status)
	}
	next := e.advance(cur)
	next.Status = StatusAccepted
	if err := e.schedule(ctx, cur, next); err != nil {
		return nil, err
	}
	e.logger.Info("booking request accepted", "booking_id", id, "next_phase", next.NextPhase())
	e.publish(ctx, Change{Kind: ChangeAccepted, Request: next})
	return next, nil
}

// Decline rejects a pending request.
func (e *Engine) Decline(ctx context.Context, a actor.Actor, id string) (out *BookingRequest, err error) {
	ctx, _, done := e.begin(ctx, "decline", a)
	defer func() { done(err) }()

	cur, err := e.load(ctx, a, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanManageProvider(a, cur.ProviderID) {
		return nil, coded(ErrForbidden, "only the provider can decline")
	}
	if cur.Status != StatusPending {
		return nil, coded(ErrInvalidTransition, "request already has a decision (%s)", cur.Status)
	}
	next := e.advance(cur)
	next.Status = StatusDeclined
	if err := e.update(ctx, cur, next); err != nil {
		return nil, err
	}
	e.publish(ctx, Change{Kind: ChangeDeclined, Request: next})
	return next, nil
}

// Reschedule moves a confirmed request to a new time, keeping payment state.
func (e *Engine) Reschedule(ctx context.Context, a actor.Actor, id string, newTime time.Time, reason string) (out *BookingRequest, err error) {
	ctx, _, done := e.begin(ctx, "reschedule", a)
	defer func() { done(err) }()

	if newTime.IsZero() {
		return nil, coded(ErrValidation, "new_time is required")
	}
	cur, err := e.load(ctx, a, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(cur.Status, StatusRescheduled) {
		return nil, coded(ErrInvalidTransition, "only confirmed requests can be rescheduled (%s)", cur.Status)
	}
	next := e.advance(cur)
	next.Status = StatusRescheduled
	t := newTime.UTC()
	next.Scheduled = &t
	if err := e.schedule(ctx, cur, next); err != nil {
		return nil, err
	}
	e.logger.Info("booking request rescheduled", "booking_id", id, "by", a.Role, "reason", reason)
	e.publish(ctx, Change{Kind: ChangeRescheduled, Request: next})
	return next, nil
}

// Cancel ends a non-terminal request and decides what happens to money paid.
func (e *Engine) Cancel(ctx context.Context, a actor.Actor, id, reason string) (out *BookingRequest, err error) {
	ctx, _, done := e.begin(ctx, "cancel", a)
	defer func() { done(err) }()

	cur, err := e.load(ctx, a, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(cur.Status, StatusCancelled) {
		return nil, coded(ErrInvalidTransition, "request is already %s", cur.Status)
	}
	policy, err := e.policies.Platform(ctx)
	if err != nil {
		return nil, fmt.Errorf("requests: load platform policy: %w", err)
	}

	now := e.now()
	next := e.advance(cur)
	next.Status = StatusCancelled
	next.CancelledBy = ptr(a.Role)
	if r := strings.TrimSpace(reason); r != "" {
		next.CancelReason = &r
	}
	next.RefundStatus, next.RefundAmountCents = refundDecision(cur, a, policy, now)

	recs := []events.Record{{AggregateID: id, Event: events.BookingCancelledV1{
		BookingID:    id,
		CustomerID:   cur.CustomerID,
		ProviderID:   cur.ProviderID,
		CancelledBy:  string(a.Role),
		Reason:       reason,
		RefundStatus: string(next.RefundStatus),
		RefundCents:  next.RefundAmountCents,
		OccurredAt:   now,
	}}}
	if next.RefundStatus == RefundReview {
		recs = append(recs, events.Record{AggregateID: id, Event: events.RefundReviewRequestedV1{
			BookingID:   id,
			CustomerID:  cur.CustomerID,
			ProviderID:  cur.ProviderID,
			AmountCents: next.RefundAmountCents,
			Trigger:     "cancelled_by_" + string(a.Role),
			OccurredAt:  now,
		}})
	}
	if err := e.update(ctx, cur, next, recs...); err != nil {
		return nil, err
	}
	e.logger.Info("booking request cancelled", "booking_id", id, "by", a.Role, "refund_status", next.RefundStatus, "refund_cents", next.RefundAmountCents)
	e.publish(ctx, Change{Kind: ChangeUpdated, Request: next})
	return next, nil
}

// refundDecision applies the cancellation refund rules.
func refundDecision(cur *BookingRequest, a actor.Actor, policy deposits.PlatformPolicy, now time.Time) (RefundStatus, int64) {
	paid := cur.AmountPaid()
	if paid == 0 {
		return RefundNone, 0
	}
	if a.Role == actor.RoleCustomer && !policy.ManualRefundReview && cur.Scheduled != nil {
		window := time.Duration(policy.RefundWindowHours) * time.Hour
		if cur.Scheduled.Sub(now) < window {
			return RefundForfeited, 0
		}
	}
	return RefundReview, paid
}

// SettlementInput is a payment confirmed by the payment collaborator.
type SettlementInput struct {
	BookingID   string
	Phase       Phase
	AmountCents int64
	PaymentRef  string
}

// ApplySettlement records a confirmed payment. It is the only writer of the
// payment fields and is idempotent per payment intent.
func (e *Engine) ApplySettlement(ctx context.Context, in SettlementInput) (out *BookingRequest, err error) {
	ctx, span, done := e.begin(ctx, "apply_settlement", actor.System("payments"))
	defer func() { done(err) }()
	span.SetAttributes(attribute.String("booking.id", in.BookingID), attribute.String("payment.phase", string(in.Phase)))

	if !in.Phase.Valid() || in.PaymentRef == "" || in.AmountCents < 0 {
		return nil, coded(ErrValidation, "settlement needs a phase, a payment reference and a non-negative amount")
	}
	return e.retrySystem(ctx, in.BookingID, func(cur *BookingRequest) (*BookingRequest, []events.Record, ChangeKind, error) {
		// A payment intent is counted once, whatever phase or event carries it.
		if slices.Contains(cur.PaymentRefs(), in.PaymentRef) {
			return nil, nil, "", nil
		}
		now := e.now()
		if cur.Status.Terminal() {
			// Money arrived after the request ended: hold it for an admin.
			next := e.advance(cur)
			next.LatePaymentRefs = append(slices.Clone(cur.LatePaymentRefs), in.PaymentRef)
			next.RefundStatus = RefundReview
			next.RefundAmountCents += in.AmountCents
			e.logger.Warn("settlement on terminal request flagged for refund", "booking_id", cur.ID, "status", cur.Status, "phase", in.Phase)
			return next, []events.Record{{AggregateID: cur.ID, Event: events.RefundReviewRequestedV1{
				BookingID:   cur.ID,
				CustomerID:  cur.CustomerID,
				ProviderID:  cur.ProviderID,
				AmountCents: in.AmountCents,
				Trigger:     "settlement_after_" + string(cur.Status),
				PaymentRef:  in.PaymentRef,
				OccurredAt:  now,
			}}}, ChangeUpdated, nil
		}
		due, ok := cur.PhaseAmount(in.Phase)
		if !ok {
			return nil, nil, "", coded(ErrValidation, "phase %s does not apply to this request", in.Phase)
		}
		if cur.PhaseSettled(in.Phase) {
			return nil, nil, "", nil
		}
		if in.AmountCents != due {
			e.logger.Warn("settlement amount differs from amount due",
				"booking_id", cur.ID, "phase", in.Phase, "due_cents", due, "paid_cents", in.AmountCents, "payment_ref", in.PaymentRef)
		}
		next := e.advance(cur)
		ref := in.PaymentRef
		switch in.Phase {
		case PhaseDeposit:
			next.DepositPaidCents = ptr(in.AmountCents)
			next.DepositPaymentIntentID = &ref
		case PhaseRemainder:
			next.RemainderPaymentIntentID = &ref
		case PhaseFull:
			next.PaymentIntentID = &ref
		}
		next.LastPaymentFailure = nil
		return next, nil, ChangeUpdated, nil
	})
}

// RecordPaymentFailure stores the last failed attempt so clients can prompt a retry.
func (e *Engine) RecordPaymentFailure(ctx context.Context, bookingID string, phase Phase, reason string) (out *BookingRequest, err error) {
	ctx, _, done := e.begin(ctx, "record_payment_failure", actor.System("payments"))
	defer func() { done(err) }()

	return e.retrySystem(ctx, bookingID, func(cur *BookingRequest) (*BookingRequest, []events.Record, ChangeKind, error) {
		if cur.PhaseSettled(phase) {
			return nil, nil, "", nil
		}
		next := e.advance(cur)
		next.LastPaymentFailure = &PaymentFailure{Phase: phase, Reason: reason, At: e.now()}
		return next, nil, ChangeUpdated, nil
	})
}

// RecordOfflineRemainder marks the remainder as collected in person.
func (e *Engine) RecordOfflineRemainder(ctx context.Context, a actor.Actor, id string) (out *BookingRequest, err error) {
	ctx, _, done := e.begin(ctx, "record_offline_remainder", a)
	defer func() { done(err) }()

	cur, err := e.load(ctx, a, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanManageProvider(a, cur.ProviderID) {
		return nil, coded(ErrForbidden, "only the provider can record an offline remainder")
	}
	policy, err := e.policies.Platform(ctx)
	if err != nil {
		return nil, fmt.Errorf("requests: load platform policy: %w", err)
	}
	if !policy.AllowOfflineRemainder {
		return nil, coded(ErrOfflineNotAllowed, "the platform does not allow collecting the remainder offline")
	}
	if !cur.DepositRequired || cur.DepositPaidCents == nil {
		return nil, coded(ErrPaymentIncomplete, "the deposit must be paid before an offline remainder")
	}
	if !cur.Status.Committed() {
		return nil, coded(ErrInvalidTransition, "offline remainder needs a confirmed request (%s)", cur.Status)
	}
	if cur.RemainderPaymentIntentID != nil {
		return cur, nil
	}
	next := e.advance(cur)
	next.RemainderPaymentIntentID = ptr(OfflinePaymentRef)
	if err := e.update(ctx, cur, next); err != nil {
		return nil, err
	}
	e.publish(ctx, Change{Kind: ChangeUpdated, Request: next})
	return next, nil
}

// Completion is the result of Complete. A failed auto-release is reported, not raised.
type Completion struct {
	Request *BookingRequest `json:"request"`
	Payout  *PayoutOutcome  `json:"payout,omitempty"`
}

// Complete finishes a fully paid request and, when configured, releases the payout.
func (e *Engine) Complete(ctx context.Context, a actor.Actor, id string) (out *Completion, err error) {
	ctx, _, done := e.begin(ctx, "complete", a)
	defer func() { done(err) }()

	cur, err := e.load(ctx, a, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanManageProvider(a, cur.ProviderID) {
		return nil, coded(ErrForbidden, "only the provider can complete")
	}
	if !CanTransition(cur.Status, StatusCompleted) {
		return nil, coded(ErrInvalidTransition, "cannot complete a %s request", cur.Status)
	}
	if !cur.FullyPaid() {
		return nil, coded(ErrPaymentIncomplete, "the request must be fully paid before completion")
	}
	next := e.advance(cur)
	next.Status = StatusCompleted
	if err := e.update(ctx, cur, next); err != nil {
		return nil, err
	}
	result := &Completion{Request: next}

	policy, err := e.policies.Platform(ctx)
	if err != nil {
		e.logger.Error("load platform policy after completion", "booking_id", id, "error", err)
	} else if policy.AutoReleaseOnCompletion && e.payouts != nil {
		released, relErr := e.ReleasePayout(ctx, a, id)
		outcome := &PayoutOutcome{}
		if relErr != nil {
			outcome.Error = relErr.Error()
			var h Hinter
			if errors.As(relErr, &h) {
				outcome.Hint = h.Hint()
			}
			e.logger.Warn("auto payout failed after completion", "booking_id", id, "error", relErr)
		} else {
			result.Request = released
			outcome.TransferID = *released.TransferID
		}
		result.Payout = outcome
	}
	e.publish(ctx, Change{Kind: ChangeCompleted, Request: result.Request, Payout: result.Payout})
	return result, nil
}

// ReleasePayout transfers the platform-collected amount to the provider once.
func (e *Engine) ReleasePayout(ctx context.Context, a actor.Actor, id string) (out *BookingRequest, err error) {
	ctx, _, done := e.begin(ctx, "release_payout", a)
	defer func() { done(err) }()

	cur, err := e.load(ctx, a, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanManageProvider(a, cur.ProviderID) {
		return nil, coded(ErrForbidden, "only the provider or an admin can release a payout")
	}
	if cur.TransferID != nil {
		return cur, nil
	}
	if cur.Status != StatusCompleted {
		return nil, coded(ErrInvalidTransition, "payouts require a completed request (%s)", cur.Status)
	}
	if !cur.FullyPaid() {
		return nil, coded(ErrPaymentIncomplete, "the request must be fully paid before payout")
	}
	if e.payouts == nil {
		return nil, errors.New("requests: payouts are not configured")
	}

	amount := cur.AmountPaid()
	transferID, err := e.payouts.Release(ctx, PayoutRequest{BookingID: id, ProviderID: cur.ProviderID, AmountCents: amount})
	if err != nil {
		e.metrics.ObservePayout("failed")
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		next := e.advance(cur)
		next.TransferID = &transferID
		err := e.update(ctx, cur, next, events.Record{AggregateID: id, Event: events.PayoutReleasedV1{
			BookingID:   id,
			ProviderID:  cur.ProviderID,
			TransferID:  transferID,
			AmountCents: amount,
			OccurredAt:  e.now(),
		}})
		if err == nil {
			e.metrics.ObservePayout("released")
			e.logger.Info("payout released", "booking_id", id, "transfer_id", transferID, "amount_cents", amount)
			e.publish(ctx, Change{Kind: ChangeUpdated, Request: next})
			return next, nil
		}
		if !errors.Is(err, ErrConflict) || attempt == systemRetries {
			return nil, err
		}
		if cur, err = e.store.Get(ctx, id); err != nil {
			return nil, err
		}
		if cur.TransferID != nil {
			// A concurrent release won; the idempotency key makes it the same transfer.
			return cur, nil
		}
	}
}

// RefundResolution is an admin ruling on a flagged refund.
type RefundResolution struct {
	Approve     bool   `json:"approve"`
	AmountCents *int64 `json:"amount_cents,omitempty"`
	Note        string `json:"note,omitempty"`
}

// ResolveRefundReview approves or rejects a refund under review.
func (e *Engine) ResolveRefundReview(ctx context.Context, a actor.Actor, id string, in RefundResolution) (out *BookingRequest, err error) {
	ctx, _, done := e.begin(ctx, "resolve_refund_review", a)
	defer func() { done(err) }()

	if !a.IsAdmin() {
		return nil, coded(ErrForbidden, "only admins resolve refund reviews")
	}
	cur, err := e.load(ctx, a, id)
	if err != nil {
		return nil, err
	}
	if cur.RefundStatus != RefundReview {
		return nil, coded(ErrInvalidTransition, "no refund review is pending (%s)", cur.RefundStatus)
	}
	paid := cur.AmountPaid()
	next := e.advance(cur)
	var recs []events.Record
	if in.Approve {
		amount := cur.RefundAmountCents
		if in.AmountCents != nil {
			amount = *in.AmountCents
		}
		limit := max(paid, cur.RefundAmountCents)
		if amount <= 0 || amount > limit {
			return nil, coded(ErrValidation, "refund amount must be between 1 and %d", limit)
		}
		next.RefundStatus = RefundApproved
		next.RefundAmountCents = amount
		recs = append(recs, events.Record{AggregateID: id, Event: events.RefundRequestedV1{
			BookingID:      id,
			AmountCents:    amount,
			PaymentIntents: cur.PaymentRefs(),
			ApprovedBy:     a.ID,
			OccurredAt:     e.now(),
		}})
	} else {
		next.RefundStatus = RefundRejected
		next.RefundAmountCents = 0
	}
	if err := e.update(ctx, cur, next, recs...); err != nil {
		return nil, err
	}
	if e.audit != nil {
		evt := audit.RefundDecision(a.ID, string(a.Role), id, in.Approve, next.RefundAmountCents, paid, in.Note)
		if err := e.audit.LogEvent(ctx, evt); err != nil {
			e.logger.Error("refund decision audit failed", "booking_id", id, "error", err)
		}
	}
	e.publish(ctx, Change{Kind: ChangeUpdated, Request: next})
	return next, nil
}

// Get returns a request visible to the actor.
func (e *Engine) Get(ctx context.Context, a actor.Actor, id string) (*BookingRequest, error) {
	return e.load(ctx, a, id)
}

// List returns the actor's requests; admins see everything.
func (e *Engine) List(ctx context.Context, a actor.Actor, statuses []Status, limit int) ([]BookingRequest, error) {
	f := Filter{Statuses: statuses, Limit: limit}
	switch a.Role {
	case actor.RoleCustomer:
		f.CustomerID = a.ID
	case actor.RoleProvider:
		f.ProviderID = a.ID
	case actor.RoleAdmin:
	default:
		return nil, ErrForbidden
	}
	out, err := e.store.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []BookingRequest{}
	}
	return out, nil
}

// load fetches a request and hides it from uninvolved actors.
func (e *Engine) load(ctx context.Context, a actor.Actor, id string) (*BookingRequest, error) {
	r, err := e.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, coded(ErrNotFound, "booking request not found")
		}
		return nil, err
	}
	if !r.Involves(a) {
		return nil, coded(ErrNotFound, "booking request not found")
	}
	return r, nil
}

func (e *Engine) advance(cur *BookingRequest) *BookingRequest {
	next := cur.Clone()
	next.Version = cur.Version + 1
	next.UpdatedAt = e.now()
	return next
}

func (e *Engine) update(ctx context.Context, cur, next *BookingRequest, recs ...events.Record) error {
	if err := e.store.Update(ctx, next, cur.Version, recs...); err != nil {
		return e.storeError(err)
	}
	return nil
}

// schedule re-checks availability and commits next with the provider's buffer.
func (e *Engine) schedule(ctx context.Context, cur, next *BookingRequest) error {
	start, end, ok := next.Window()
	if !ok {
		return e.update(ctx, cur, next)
	}
	block, err := e.catalog.CoveringBlock(ctx, next.ProviderID, start, end)
	if err != nil {
		if errors.Is(err, availability.ErrNotFound) {
			return coded(ErrSlotUnavailable, "the time is outside the provider's availability")
		}
		return fmt.Errorf("requests: check availability: %w", err)
	}
	settings, err := e.catalog.Settings(ctx, next.ProviderID)
	if err != nil {
		return fmt.Errorf("requests: load settings: %w", err)
	}
	if !slots.OnGrid(start, block.Start, settings.Interval()) {
		return coded(ErrSlotUnavailable, "the time is not one of the provider's slots")
	}
	if err := e.store.Schedule(ctx, next, cur.Version, settings.Buffer()); err != nil {
		return e.storeError(err)
	}
	return nil
}

func (e *Engine) storeError(err error) error {
	switch {
	case errors.Is(err, ErrConflict):
		return coded(ErrConflict, "request changed, refresh and retry")
	case errors.Is(err, ErrSlotUnavailable):
		return coded(ErrSlotUnavailable, "slot no longer available")
	case errors.Is(err, ErrNotFound):
		return coded(ErrNotFound, "booking request not found")
	}
	return err
}

// checkGrid rejects start times the slot generator would never offer.
func (e *Engine) checkGrid(ctx context.Context, providerID string, block *availability.Block, start time.Time) error {
	settings, err := e.catalog.Settings(ctx, providerID)
	if err != nil {
		return fmt.Errorf("requests: load settings: %w", err)
	}
	if !slots.OnGrid(start, block.Start, settings.Interval()) {
		return coded(ErrSlotUnavailable, "requested time is not one of the provider's slots")
	}
	return nil
}

// checkCommitted fails when [start, end) collides with a confirmed booking.
func (e *Engine) checkCommitted(ctx context.Context, providerID, excludeID string, start, end time.Time) error {
	settings, err := e.catalog.Settings(ctx, providerID)
	if err != nil {
		return fmt.Errorf("requests: load settings: %w", err)
	}
	buffer := settings.Buffer()
	committed, err := e.store.Committed(ctx, providerID, start.Add(-buffer), end.Add(buffer))
	if err != nil {
		return fmt.Errorf("requests: load committed: %w", err)
	}
	var booked []slots.Window
	for i := range committed {
		if committed[i].ID == excludeID {
			continue
		}
		if bs, be, ok := committed[i].Window(); ok {
			booked = append(booked, slots.Window{Start: bs, End: be})
		}
	}
	if slots.Conflicts(start, end, booked, buffer) {
		return coded(ErrSlotUnavailable, "slot no longer available")
	}
	return nil
}

// retrySystem applies fn with CAS retries. fn returning a nil request means no-op.
func (e *Engine) retrySystem(ctx context.Context, id string, fn func(cur *BookingRequest) (*BookingRequest, []events.Record, ChangeKind, error)) (*BookingRequest, error) {
	for attempt := 0; ; attempt++ {
		cur, err := e.store.Get(ctx, id)
		if err != nil {
			return nil, e.storeError(err)
		}
		next, recs, kind, err := fn(cur)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return cur, nil
		}
		err = e.store.Update(ctx, next, cur.Version, recs...)
		if err == nil {
			e.publish(ctx, Change{Kind: kind, Request: next})
			return next, nil
		}
		if !errors.Is(err, ErrConflict) || attempt == systemRetries {
			return nil, e.storeError(err)
		}
	}
}

func (e *Engine) publish(ctx context.Context, change Change) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(ctx, change)
}

// begin starts a span and returns a completion func recording outcome metrics.
func (e *Engine) begin(ctx context.Context, op string, a actor.Actor) (context.Context, trace.Span, func(error)) {
	ctx, span := tracer.Start(ctx, "requests."+op)
	span.SetAttributes(attribute.String("actor.role", string(a.Role)))
	started := time.Now()
	return ctx, span, func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = Code(err)
			if outcome == "" {
				outcome = "error"
			}
			switch outcome {
			case CodeActiveRequestExists, CodeSlotUnavailable, CodeInvalidTransition, CodeStaleRequest:
				e.metrics.ObserveConflict(outcome)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		e.metrics.ObserveOperation(op, outcome, time.Since(started).Seconds())
		span.End()
	}
}
