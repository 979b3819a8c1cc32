package deposits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Store persists the platform policy and per-provider overrides.
type Store interface {
	Platform(ctx context.Context) (PlatformPolicy, error)
	PutPlatform(ctx context.Context, policy PlatformPolicy) error
	Override(ctx context.Context, providerID string) (*ProviderOverride, error)
	PutOverride(ctx context.Context, providerID string, override ProviderOverride) error
}

// Resolver looks up the stored policy and override for a provider.
type Resolver struct {
	store Store
}

// NewResolver wraps a store.
func NewResolver(store Store) *Resolver {
	if store == nil {
		panic("deposits: store required")
	}
	return &Resolver{store: store}
}

// ResolveFor returns the platform policy together with the provider's
// effective deposit resolution.
func (r *Resolver) ResolveFor(ctx context.Context, providerID string) (PlatformPolicy, Resolution, error) {
	platform, err := r.store.Platform(ctx)
	if err != nil {
		return PlatformPolicy{}, Resolution{}, err
	}
	override, err := r.store.Override(ctx, providerID)
	if err != nil {
		return PlatformPolicy{}, Resolution{}, err
	}
	return platform, Resolve(platform, override), nil
}

// Platform returns the stored platform policy.
func (r *Resolver) Platform(ctx context.Context) (PlatformPolicy, error) {
	return r.store.Platform(ctx)
}

// MemoryStore keeps policies in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	platform  PlatformPolicy
	overrides map[string]ProviderOverride
}

// NewMemoryStore starts from the given platform policy.
func NewMemoryStore(platform PlatformPolicy) *MemoryStore {
	return &MemoryStore{
		platform:  platform,
		overrides: make(map[string]ProviderOverride),
	}
}

func (s *MemoryStore) Platform(ctx context.Context) (PlatformPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.platform, nil
}

func (s *MemoryStore) PutPlatform(ctx context.Context, policy PlatformPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.platform = policy
	return nil
}

func (s *MemoryStore) Override(ctx context.Context, providerID string) (*ProviderOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.overrides[providerID]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (s *MemoryStore) PutOverride(ctx context.Context, providerID string, override ProviderOverride) error {
	if err := override.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[providerID] = override
	return nil
}

// RedisStore keeps policies as JSON documents in Redis.
type RedisStore struct {
	redis    *redis.Client
	fallback PlatformPolicy
}

// NewRedisStore returns a store that falls back to the given platform policy
// until one is written.
func NewRedisStore(client *redis.Client, fallback PlatformPolicy) *RedisStore {
	if client == nil {
		panic("deposits: redis client required")
	}
	return &RedisStore{redis: client, fallback: fallback}
}

const platformKey = "deposits:policy:platform"

func overrideKey(providerID string) string {
	return fmt.Sprintf("deposits:policy:provider:%s", providerID)
}

func (s *RedisStore) Platform(ctx context.Context) (PlatformPolicy, error) {
	data, err := s.redis.Get(ctx, platformKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return s.fallback, nil
	}
	if err != nil {
		return PlatformPolicy{}, fmt.Errorf("deposits: get platform policy: %w", err)
	}
	var policy PlatformPolicy
	if err := json.Unmarshal(data, &policy); err != nil {
		return PlatformPolicy{}, fmt.Errorf("deposits: unmarshal platform policy: %w", err)
	}
	return policy, nil
}

func (s *RedisStore) PutPlatform(ctx context.Context, policy PlatformPolicy) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("deposits: marshal platform policy: %w", err)
	}
	if err := s.redis.Set(ctx, platformKey, data, 0).Err(); err != nil {
		return fmt.Errorf("deposits: set platform policy: %w", err)
	}
	return nil
}

func (s *RedisStore) Override(ctx context.Context, providerID string) (*ProviderOverride, error) {
	data, err := s.redis.Get(ctx, overrideKey(providerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("deposits: get override: %w", err)
	}
	var o ProviderOverride
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("deposits: unmarshal override: %w", err)
	}
	return &o, nil
}

func (s *RedisStore) PutOverride(ctx context.Context, providerID string, override ProviderOverride) error {
	if err := override.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(override)
	if err != nil {
		return fmt.Errorf("deposits: marshal override: %w", err)
	}
	if err := s.redis.Set(ctx, overrideKey(providerID), data, 0).Err(); err != nil {
		return fmt.Errorf("deposits: set override: %w", err)
	}
	return nil
}
