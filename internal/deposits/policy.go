// Package deposits resolves the deposit a booking owes from the platform
// policy and an optional provider override.
package deposits

import (
	"errors"
	"fmt"
	"math"
)

// Type is how a deposit value is interpreted.
type Type string

const (
	TypePercent Type = "percent"
	TypeFixed   Type = "fixed"
)

var (
	ErrInvalidPolicy   = errors.New("deposits: invalid policy")
	ErrInvalidOverride = errors.New("deposits: invalid provider override")
	ErrNegativeTotal   = errors.New("deposits: total price must not be negative")
)

// Bounds clamps resolved deposit values.
type Bounds struct {
	MinPercent    float64 `json:"min_percent"`
	MaxPercent    float64 `json:"max_percent"`
	MinFixedCents int64   `json:"min_fixed_cents"`
	MaxFixedCents int64   `json:"max_fixed_cents"`
}

// PlatformPolicy is the platform-wide deposit, refund and payout configuration.
type PlatformPolicy struct {
	DepositsEnabled         bool    `json:"deposits_enabled"`
	DefaultType             Type    `json:"default_type"`
	DefaultValue            float64 `json:"default_value"`
	AllowProviderOverride   bool    `json:"allow_provider_override"`
	Bounds                  Bounds  `json:"bounds"`
	RefundWindowHours       int     `json:"refund_window_hours"`
	AllowOfflineRemainder   bool    `json:"allow_offline_remainder"`
	ManualRefundReview      bool    `json:"manual_refund_review"`
	AutoReleaseOnCompletion bool    `json:"auto_release_on_completion"`
}

// DefaultPlatformPolicy is used until an admin stores a policy.
func DefaultPlatformPolicy() PlatformPolicy {
	return PlatformPolicy{
		DepositsEnabled:       true,
		DefaultType:           TypePercent,
		DefaultValue:          20,
		AllowProviderOverride: true,
		Bounds: Bounds{
			MinPercent:    0,
			MaxPercent:    100,
			MinFixedCents: 0,
			MaxFixedCents: 100_000,
		},
		RefundWindowHours:     24,
		AllowOfflineRemainder: false,
	}
}

// Validate checks the policy is internally consistent.
func (p PlatformPolicy) Validate() error {
	if p.DefaultType != TypePercent && p.DefaultType != TypeFixed {
		return fmt.Errorf("%w: default_type must be percent or fixed", ErrInvalidPolicy)
	}
	if p.DefaultValue < 0 || math.IsNaN(p.DefaultValue) {
		return fmt.Errorf("%w: default_value must be >= 0", ErrInvalidPolicy)
	}
	b := p.Bounds
	if b.MinPercent < 0 || b.MaxPercent > 100 || b.MinPercent > b.MaxPercent {
		return fmt.Errorf("%w: percent bounds must satisfy 0 <= min <= max <= 100", ErrInvalidPolicy)
	}
	if b.MinFixedCents < 0 || b.MinFixedCents > b.MaxFixedCents {
		return fmt.Errorf("%w: fixed bounds must satisfy 0 <= min <= max", ErrInvalidPolicy)
	}
	if p.RefundWindowHours < 0 {
		return fmt.Errorf("%w: refund_window_hours must be >= 0", ErrInvalidPolicy)
	}
	return nil
}

// ProviderOverride holds a provider's optional deposit settings. A nil field
// inherits the platform value.
type ProviderOverride struct {
	RequireDeposit *bool    `json:"require_deposit,omitempty"`
	DepositType    *Type    `json:"deposit_type,omitempty"`
	DepositValue   *float64 `json:"deposit_value,omitempty"`
}

// Validate rejects unknown types and negative values.
func (o ProviderOverride) Validate() error {
	if o.DepositType != nil && *o.DepositType != TypePercent && *o.DepositType != TypeFixed {
		return fmt.Errorf("%w: deposit_type must be percent or fixed", ErrInvalidOverride)
	}
	if o.DepositValue != nil && (*o.DepositValue < 0 || math.IsNaN(*o.DepositValue)) {
		return fmt.Errorf("%w: deposit_value must be >= 0", ErrInvalidOverride)
	}
	return nil
}

// Resolution is the effective deposit requirement for one provider.
type Resolution struct {
	Required bool    `json:"required"`
	Type     Type    `json:"type"`
	Value    float64 `json:"value"`
}

// Resolve applies the provider override on top of the platform default and
// clamps the value into the platform bounds.
func Resolve(platform PlatformPolicy, override *ProviderOverride) Resolution {
	res := Resolution{
		Required: platform.DepositsEnabled,
		Type:     platform.DefaultType,
		Value:    platform.DefaultValue,
	}
	if platform.AllowProviderOverride && override != nil {
		if override.RequireDeposit != nil {
			res.Required = *override.RequireDeposit
		}
		if override.DepositType != nil {
			res.Type = *override.DepositType
		}
		if override.DepositValue != nil {
			res.Value = *override.DepositValue
		}
	}
	res.Value = clamp(res.Type, res.Value, platform.Bounds)
	return res
}

func clamp(t Type, v float64, b Bounds) float64 {
	switch t {
	case TypeFixed:
		return math.Min(math.Max(v, float64(b.MinFixedCents)), float64(b.MaxFixedCents))
	default:
		return math.Min(math.Max(v, b.MinPercent), b.MaxPercent)
	}
}

// Split is the deposit and remainder of a total price, in cents.
type Split struct {
	DepositCents   int64 `json:"deposit_cents"`
	RemainderCents int64 `json:"remainder_cents"`
}

// Apply splits totalCents according to the resolution.
// Invariant: 0 <= deposit <= total and deposit + remainder == total.
func (r Resolution) Apply(totalCents int64) (Split, error) {
	if totalCents < 0 {
		return Split{}, ErrNegativeTotal
	}
	if !r.Required {
		return Split{DepositCents: 0, RemainderCents: totalCents}, nil
	}
	var deposit int64
	switch r.Type {
	case TypeFixed:
		deposit = int64(math.Round(r.Value))
		if deposit > totalCents {
			deposit = totalCents
		}
	default:
		deposit = int64(math.Round(float64(totalCents) * r.Value / 100))
	}
	if deposit < 0 {
		deposit = 0
	}
	if deposit > totalCents {
		deposit = totalCents
	}
	return Split{DepositCents: deposit, RemainderCents: totalCents - deposit}, nil
}
