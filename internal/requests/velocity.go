package requests

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

// Limiter bounds how often a customer may create requests.
type Limiter interface {
	Allow(ctx context.Context, customerID string) (VelocityResult, error)
}

// VelocityConfig contains creation velocity limits.
type VelocityConfig struct {
	MaxCreatesPerCustomer int
	Window                time.Duration
}

// DefaultVelocityConfig returns default velocity limits.
func DefaultVelocityConfig() VelocityConfig {
	return VelocityConfig{MaxCreatesPerCustomer: 10, Window: time.Hour}
}

// VelocityResult contains the result of a velocity check.
type VelocityResult struct {
	Allowed      bool
	CurrentCount int
	MaxAllowed   int
	WindowExpiry time.Time
	Message      string
}

// VelocityChecker counts creates per customer in Redis. It fails open.
type VelocityChecker struct {
	redis  *redis.Client
	logger *logging.Logger
	config VelocityConfig
}

func NewVelocityChecker(client *redis.Client, config VelocityConfig, logger *logging.Logger) *VelocityChecker {
	if logger == nil {
		logger = logging.Default()
	}
	if config.Window <= 0 {
		config.Window = time.Hour
	}
	return &VelocityChecker{redis: client, logger: logger, config: config}
}

func velocityKey(customerID string) string {
	return fmt.Sprintf("velocity:requests:%s", customerID)
}

func (v *VelocityChecker) Allow(ctx context.Context, customerID string) (VelocityResult, error) {
	if v.redis == nil || v.config.MaxCreatesPerCustomer <= 0 {
		return VelocityResult{Allowed: true}, nil
	}
	key := velocityKey(customerID)
	count, expiry, err := v.incrementAndGet(ctx, key, v.config.Window)
	if err != nil {
		v.logger.Error("velocity check failed", "error", err, "key", key)
		// Fail open - allow the request if Redis is down
		return VelocityResult{Allowed: true, Message: "velocity check unavailable"}, nil
	}
	res := VelocityResult{
		Allowed:      count <= v.config.MaxCreatesPerCustomer,
		CurrentCount: count,
		MaxAllowed:   v.config.MaxCreatesPerCustomer,
		WindowExpiry: expiry,
	}
	if !res.Allowed {
		res.Message = fmt.Sprintf("exceeded %d booking requests in %s", v.config.MaxCreatesPerCustomer, v.config.Window)
		v.logger.Warn("request velocity exceeded", "customer_id", customerID, "count", count, "max", v.config.MaxCreatesPerCustomer)
	}
	return res, nil
}

// Reset clears the counter for a customer (admin use).
func (v *VelocityChecker) Reset(ctx context.Context, customerID string) error {
	return v.redis.Del(ctx, velocityKey(customerID)).Err()
}

func (v *VelocityChecker) incrementAndGet(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	count, err := v.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, err
	}
	if count == 1 {
		v.redis.Expire(ctx, key, window)
	}
	ttl, err := v.redis.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = window
	}
	return int(count), time.Now().Add(ttl), nil
}
