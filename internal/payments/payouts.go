package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.opentelemetry.io/otel/attribute"

	"github.com/erimias46/babrber-frontend-sub000/internal/requests"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

type accountsAPI interface {
	GetByID(id string, params *stripe.AccountParams) (*stripe.Account, error)
}

type transfersAPI interface {
	New(params *stripe.TransferParams) (*stripe.Transfer, error)
}

// BlockedNotifier is told when a payout cannot be released.
type BlockedNotifier interface {
	PayoutBlocked(ctx context.Context, bookingID, providerID, hint string) error
}

// PayoutService moves platform-collected money to a provider's connected
// account with a Stripe transfer. One booking produces at most one transfer:
// the idempotency key is derived from the booking id.
type PayoutService struct {
	accounts  accountsAPI
	transfers transfersAPI
	store     AccountStore
	notifier  BlockedNotifier
	logger    *logging.Logger
	dryRun    bool
}

func NewPayoutService(sc *client.API, store AccountStore, logger *logging.Logger) *PayoutService {
	return newPayoutService(sc.Accounts, sc.Transfers, store, logger)
}

func newPayoutService(accounts accountsAPI, transfers transfersAPI, store AccountStore, logger *logging.Logger) *PayoutService {
	if logger == nil {
		logger = logging.Default()
	}
	return &PayoutService{
		accounts:  accounts,
		transfers: transfers,
		store:     store,
		logger:    logger.Component("payments.payouts"),
	}
}

// WithNotifier reports blocked payouts to admins.
func (s *PayoutService) WithNotifier(n BlockedNotifier) *PayoutService {
	s.notifier = n
	return s
}

// WithDryRun skips Stripe and returns a fake transfer id.
func (s *PayoutService) WithDryRun(enabled bool) *PayoutService {
	s.dryRun = enabled
	return s
}

// IdempotencyKey is the Stripe idempotency key for a booking's payout.
func IdempotencyKey(bookingID string) string {
	return "payout:" + bookingID
}

// Release implements requests.Payouts.
func (s *PayoutService) Release(ctx context.Context, req requests.PayoutRequest) (string, error) {
	ctx, span := stripeTracer.Start(ctx, "stripe.release_payout")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.id", req.BookingID),
		attribute.String("booking.provider_id", req.ProviderID),
		attribute.Int64("payment.amount_cents", req.AmountCents),
	)
	if req.AmountCents <= 0 {
		return "", fmt.Errorf("payments: payout amount must be positive")
	}
	if s.dryRun {
		s.logger.Info("stripe dry run: skipping transfer", "booking_id", req.BookingID, "amount_cents", req.AmountCents)
		return "tr_dryrun_" + req.BookingID, nil
	}

	accountID, err := s.store.PayoutAccount(ctx, req.ProviderID)
	if err != nil {
		return "", err
	}
	if accountID == "" {
		return "", s.blocked(ctx, req, &AccountNotReadyError{ProviderID: req.ProviderID, Reason: "no payout account linked"})
	}
	acct, err := s.accounts.GetByID(accountID, nil)
	if err != nil {
		return "", fmt.Errorf("payments: load account %s: %w", accountID, err)
	}
	if notReady := readiness(req.ProviderID, acct); notReady != nil {
		return "", s.blocked(ctx, req, notReady)
	}

	params := &stripe.TransferParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(string(stripe.CurrencyUSD)),
		Destination:   stripe.String(accountID),
		TransferGroup: stripe.String("booking:" + req.BookingID),
	}
	params.Context = ctx
	params.SetIdempotencyKey(IdempotencyKey(req.BookingID))
	params.AddMetadata("booking_id", req.BookingID)
	params.AddMetadata("provider_id", req.ProviderID)

	tr, err := s.transfers.New(params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.Code == "insufficient_capabilities_for_transfer" {
			return "", s.blocked(ctx, req, &AccountNotReadyError{
				ProviderID: req.ProviderID,
				AccountID:  accountID,
				Reason:     "transfers capability is not active",
			})
		}
		return "", fmt.Errorf("payments: create transfer: %w", err)
	}
	s.logger.Info("transfer created", "booking_id", req.BookingID, "transfer_id", tr.ID, "amount_cents", req.AmountCents)
	return tr.ID, nil
}

func readiness(providerID string, acct *stripe.Account) *AccountNotReadyError {
	if acct.PayoutsEnabled {
		return nil
	}
	e := &AccountNotReadyError{ProviderID: providerID, AccountID: acct.ID, Reason: "payouts are not enabled"}
	if acct.Requirements != nil {
		if acct.Requirements.DisabledReason != "" {
			e.Reason = "payouts disabled: " + string(acct.Requirements.DisabledReason)
		}
		e.Due = acct.Requirements.CurrentlyDue
	}
	return e
}

func (s *PayoutService) blocked(ctx context.Context, req requests.PayoutRequest, e *AccountNotReadyError) error {
	s.logger.Warn("payout blocked", "booking_id", req.BookingID, "provider_id", req.ProviderID, "reason", e.Reason)
	if s.notifier != nil {
		if err := s.notifier.PayoutBlocked(ctx, req.BookingID, req.ProviderID, e.Hint()); err != nil {
			s.logger.Error("payout blocked notification failed", "booking_id", req.BookingID, "error", err)
		}
	}
	return e
}
