package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/erimias46/babrber-frontend-sub000/internal/actor"
	"github.com/erimias46/babrber-frontend-sub000/internal/http/respond"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

// AccountStore maps providers to their connected Stripe account.
// A provider with no account yields "" and a nil error.
type AccountStore interface {
	PayoutAccount(ctx context.Context, providerID string) (string, error)
	SetPayoutAccount(ctx context.Context, providerID, accountID string) error
}

// MemoryAccountStore keeps accounts in process.
type MemoryAccountStore struct {
	mu       sync.RWMutex
	accounts map[string]string
}

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{accounts: make(map[string]string)}
}

func (s *MemoryAccountStore) PayoutAccount(_ context.Context, providerID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accounts[providerID], nil
}

func (s *MemoryAccountStore) SetPayoutAccount(_ context.Context, providerID, accountID string) error {
	if err := validateAccountID(accountID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[providerID] = accountID
	return nil
}

// RedisAccountStore keeps one key per provider.
type RedisAccountStore struct {
	client *redis.Client
}

func NewRedisAccountStore(client *redis.Client) *RedisAccountStore {
	return &RedisAccountStore{client: client}
}

func accountKey(providerID string) string {
	return fmt.Sprintf("payout_account:%s", providerID)
}

func (s *RedisAccountStore) PayoutAccount(ctx context.Context, providerID string) (string, error) {
	id, err := s.client.Get(ctx, accountKey(providerID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("payments: get payout account: %w", err)
	}
	return id, nil
}

func (s *RedisAccountStore) SetPayoutAccount(ctx context.Context, providerID, accountID string) error {
	if err := validateAccountID(accountID); err != nil {
		return err
	}
	if err := s.client.Set(ctx, accountKey(providerID), accountID, 0).Err(); err != nil {
		return fmt.Errorf("payments: set payout account: %w", err)
	}
	return nil
}

func validateAccountID(id string) error {
	if !strings.HasPrefix(id, "acct_") || len(id) <= len("acct_") {
		return ErrInvalidAccountID
	}
	return nil
}

// AccountHandler serves PUT /providers/{providerID}/payout-account.
type AccountHandler struct {
	store  AccountStore
	logger *logging.Logger
}

func NewAccountHandler(store AccountStore, logger *logging.Logger) *AccountHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AccountHandler{store: store, logger: logger}
}

type payoutAccountBody struct {
	StripeAccountID string `json:"stripe_account_id"`
}

func (h *AccountHandler) Put(w http.ResponseWriter, r *http.Request) {
	a, ok := actor.FromContext(r.Context())
	if !ok {
		respond.Error(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
		return
	}
	providerID := chi.URLParam(r, "providerID")
	if !actor.CanManageProvider(a, providerID) {
		respond.Error(w, http.StatusForbidden, "forbidden", "only the provider can link a payout account")
		return
	}
	var body payoutAccountBody
	if err := respond.Decode(r, &body); err != nil {
		respond.Error(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	body.StripeAccountID = strings.TrimSpace(body.StripeAccountID)
	if err := h.store.SetPayoutAccount(r.Context(), providerID, body.StripeAccountID); err != nil {
		if errors.Is(err, ErrInvalidAccountID) {
			respond.Error(w, http.StatusBadRequest, "validation", err.Error())
			return
		}
		h.logger.Error("payout account save failed", "provider_id", providerID, "error", err)
		respond.Error(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	h.logger.Info("payout account linked", "provider_id", providerID, "account_id", body.StripeAccountID)
	respond.JSON(w, http.StatusOK, map[string]string{"provider_id": providerID, "stripe_account_id": body.StripeAccountID})
}
