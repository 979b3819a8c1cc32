package payments

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPayoutAccountNotReady means the provider cannot receive transfers yet.
	// It is recoverable once the provider finishes account setup.
	ErrPayoutAccountNotReady = errors.New("payments: payout account not ready")
	ErrInvalidAccountID      = errors.New("payments: invalid stripe account id")
	ErrPhaseNotDue           = errors.New("payments: phase is not due")
)

// AccountNotReadyError explains why a payout account cannot receive transfers.
type AccountNotReadyError struct {
	ProviderID string
	AccountID  string
	Reason     string
	Due        []string
}

func (e *AccountNotReadyError) Error() string {
	return fmt.Sprintf("%s: provider %s: %s", ErrPayoutAccountNotReady.Error(), e.ProviderID, e.Reason)
}

func (e *AccountNotReadyError) Unwrap() error { return ErrPayoutAccountNotReady }

// Hint tells the provider what to do next.
func (e *AccountNotReadyError) Hint() string {
	if e.AccountID == "" {
		return "Link a Stripe account to receive payouts, then retry the release."
	}
	if len(e.Due) > 0 {
		return "Finish Stripe onboarding (" + strings.Join(e.Due, ", ") + "), then retry the release."
	}
	return "Finish Stripe onboarding so payouts are enabled, then retry the release."
}
