package payments

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stripe/stripe-go/v76"

	"github.com/erimias46/babrber-frontend-sub000/internal/requests"
)

type fakeAccounts struct {
	accounts map[string]*stripe.Account
}

func (f *fakeAccounts) GetByID(id string, _ *stripe.AccountParams) (*stripe.Account, error) {
	acct, ok := f.accounts[id]
	if !ok {
		return nil, &stripe.Error{HTTPStatusCode: 404, Msg: "No such account"}
	}
	return acct, nil
}

// fakeTransfers honours idempotency keys the way Stripe does.
type fakeTransfers struct {
	mu     sync.Mutex
	byKey  map[string]*stripe.Transfer
	params []*stripe.TransferParams
	err    error
}

func (f *fakeTransfers) New(params *stripe.TransferParams) (*stripe.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.byKey == nil {
		f.byKey = make(map[string]*stripe.Transfer)
	}
	key := *params.IdempotencyKey
	if tr, ok := f.byKey[key]; ok {
		return tr, nil
	}
	f.params = append(f.params, params)
	tr := &stripe.Transfer{ID: "tr_" + strings.TrimPrefix(key, "payout:"), Amount: *params.Amount}
	f.byKey[key] = tr
	return tr, nil
}

type recordingNotifier struct {
	hints []string
}

func (n *recordingNotifier) PayoutBlocked(_ context.Context, _, _, hint string) error {
	n.hints = append(n.hints, hint)
	return nil
}

func readyAccount() *stripe.Account {
	return &stripe.Account{ID: "acct_ready", PayoutsEnabled: true}
}

func TestPayoutService_ReleaseIsIdempotentPerBooking(t *testing.T) {
	store := NewMemoryAccountStore()
	if err := store.SetPayoutAccount(context.Background(), "p-1", "acct_ready"); err != nil {
		t.Fatal(err)
	}
	transfers := &fakeTransfers{}
	svc := newPayoutService(&fakeAccounts{accounts: map[string]*stripe.Account{"acct_ready": readyAccount()}}, transfers, store, nil)

	req := requests.PayoutRequest{BookingID: "bk-1", ProviderID: "p-1", AmountCents: 3000}
	first, err := svc.Release(context.Background(), req)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	second, err := svc.Release(context.Background(), req)
	if err != nil {
		t.Fatalf("second release: %v", err)
	}
	if first != second || first != "tr_bk-1" {
		t.Fatalf("transfers differ: %s vs %s", first, second)
	}
	if len(transfers.params) != 1 {
		t.Fatalf("expected one transfer, got %d", len(transfers.params))
	}
	p := transfers.params[0]
	if *p.Destination != "acct_ready" || *p.Amount != 3000 || *p.TransferGroup != "booking:bk-1" {
		t.Fatalf("unexpected params: dest=%s amount=%d group=%s", *p.Destination, *p.Amount, *p.TransferGroup)
	}
	if *p.IdempotencyKey != "payout:bk-1" {
		t.Fatalf("idempotency key = %s", *p.IdempotencyKey)
	}
}

func TestPayoutService_AccountNotReady(t *testing.T) {
	pending := &stripe.Account{
		ID:             "acct_pending",
		PayoutsEnabled: false,
		Requirements: &stripe.AccountRequirements{
			CurrentlyDue:   []string{"external_account", "individual.id_number"},
			DisabledReason: "requirements.past_due",
		},
	}
	accounts := &fakeAccounts{accounts: map[string]*stripe.Account{"acct_pending": pending}}

	tests := []struct {
		name     string
		account  string
		wantHint string
	}{
		{"no account linked", "", "Link a Stripe account"},
		{"onboarding incomplete", "acct_pending", "external_account, individual.id_number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryAccountStore()
			if tt.account != "" {
				_ = store.SetPayoutAccount(context.Background(), "p-1", tt.account)
			}
			notifier := &recordingNotifier{}
			transfers := &fakeTransfers{}
			svc := newPayoutService(accounts, transfers, store, nil).WithNotifier(notifier)

			_, err := svc.Release(context.Background(), requests.PayoutRequest{BookingID: "bk-1", ProviderID: "p-1", AmountCents: 3000})
			if !errors.Is(err, ErrPayoutAccountNotReady) {
				t.Fatalf("expected ErrPayoutAccountNotReady, got %v", err)
			}
			var hinted requests.Hinter
			if !errors.As(err, &hinted) || !strings.Contains(hinted.Hint(), tt.wantHint) {
				t.Fatalf("hint missing %q: %v", tt.wantHint, err)
			}
			if len(transfers.params) != 0 {
				t.Fatalf("no transfer may be attempted")
			}
			if len(notifier.hints) != 1 {
				t.Fatalf("expected admins to be notified once, got %d", len(notifier.hints))
			}
		})
	}
}

func TestPayoutService_CapabilityErrorIsRecoverable(t *testing.T) {
	store := NewMemoryAccountStore()
	_ = store.SetPayoutAccount(context.Background(), "p-1", "acct_ready")
	transfers := &fakeTransfers{err: &stripe.Error{Code: "insufficient_capabilities_for_transfer", Msg: "transfers capability inactive"}}
	svc := newPayoutService(&fakeAccounts{accounts: map[string]*stripe.Account{"acct_ready": readyAccount()}}, transfers, store, nil)

	_, err := svc.Release(context.Background(), requests.PayoutRequest{BookingID: "bk-1", ProviderID: "p-1", AmountCents: 100})
	var notReady *AccountNotReadyError
	if !errors.As(err, &notReady) || notReady.AccountID != "acct_ready" {
		t.Fatalf("expected AccountNotReadyError, got %v", err)
	}

	transfers.err = &stripe.Error{Code: "balance_insufficient", Msg: "insufficient funds"}
	_, err = svc.Release(context.Background(), requests.PayoutRequest{BookingID: "bk-1", ProviderID: "p-1", AmountCents: 100})
	if err == nil || errors.Is(err, ErrPayoutAccountNotReady) {
		t.Fatalf("other stripe errors are not readiness problems: %v", err)
	}
}

func TestPayoutService_DryRun(t *testing.T) {
	svc := newPayoutService(nil, nil, NewMemoryAccountStore(), nil).WithDryRun(true)
	id, err := svc.Release(context.Background(), requests.PayoutRequest{BookingID: "bk-1", ProviderID: "p-1", AmountCents: 1})
	if err != nil || id != "tr_dryrun_bk-1" {
		t.Fatalf("dry run = %q, %v", id, err)
	}
}
