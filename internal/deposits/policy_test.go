package deposits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestResolvePlatformWinsWhenOverrideDisallowed(t *testing.T) {
	platform := DefaultPlatformPolicy()
	platform.AllowProviderOverride = false

	override := &ProviderOverride{
		RequireDeposit: ptr(false),
		DepositType:    ptr(TypeFixed),
		DepositValue:   ptr(1000.0),
	}
	res := Resolve(platform, override)
	assert.Equal(t, Resolution{Required: true, Type: TypePercent, Value: 20}, res)
}

func TestResolveOverrideFieldsAndInherit(t *testing.T) {
	platform := DefaultPlatformPolicy()

	tests := []struct {
		name     string
		override *ProviderOverride
		want     Resolution
	}{
		{"no override", nil, Resolution{Required: true, Type: TypePercent, Value: 20}},
		{"all inherit", &ProviderOverride{}, Resolution{Required: true, Type: TypePercent, Value: 20}},
		{"disable deposit", &ProviderOverride{RequireDeposit: ptr(false)}, Resolution{Required: false, Type: TypePercent, Value: 20}},
		{"value only", &ProviderOverride{DepositValue: ptr(35.0)}, Resolution{Required: true, Type: TypePercent, Value: 35}},
		{"fixed type", &ProviderOverride{DepositType: ptr(TypeFixed), DepositValue: ptr(1500.0)}, Resolution{Required: true, Type: TypeFixed, Value: 1500}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(platform, tt.override))
		})
	}
}

func TestResolveClampsIntoBounds(t *testing.T) {
	platform := DefaultPlatformPolicy()
	platform.Bounds = Bounds{MinPercent: 10, MaxPercent: 50, MinFixedCents: 500, MaxFixedCents: 5000}

	assert.Equal(t, 50.0, Resolve(platform, &ProviderOverride{DepositValue: ptr(90.0)}).Value)
	assert.Equal(t, 10.0, Resolve(platform, &ProviderOverride{DepositValue: ptr(1.0)}).Value)
	assert.Equal(t, 5000.0, Resolve(platform, &ProviderOverride{DepositType: ptr(TypeFixed), DepositValue: ptr(9000.0)}).Value)
	assert.Equal(t, 500.0, Resolve(platform, &ProviderOverride{DepositType: ptr(TypeFixed), DepositValue: ptr(100.0)}).Value)
}

func TestResolveDepositsDisabledPlatform(t *testing.T) {
	platform := DefaultPlatformPolicy()
	platform.DepositsEnabled = false

	assert.False(t, Resolve(platform, nil).Required)
	assert.True(t, Resolve(platform, &ProviderOverride{RequireDeposit: ptr(true)}).Required)
}

func TestApplyTwentyPercentOfThirtyDollars(t *testing.T) {
	res := Resolution{Required: true, Type: TypePercent, Value: 20}
	split, err := res.Apply(3000)
	require.NoError(t, err)
	assert.Equal(t, Split{DepositCents: 600, RemainderCents: 2400}, split)
}

func TestApplyFixedCappedAtTotal(t *testing.T) {
	res := Resolution{Required: true, Type: TypeFixed, Value: 5000}
	split, err := res.Apply(3000)
	require.NoError(t, err)
	assert.Equal(t, Split{DepositCents: 3000, RemainderCents: 0}, split)
}

func TestApplyNegativeTotal(t *testing.T) {
	_, err := Resolution{Required: true, Type: TypePercent, Value: 10}.Apply(-1)
	assert.ErrorIs(t, err, ErrNegativeTotal)
}

func TestDepositSplitProperty(t *testing.T) {
	platform := DefaultPlatformPolicy()
	platform.Bounds = Bounds{MinPercent: 5, MaxPercent: 80, MinFixedCents: 100, MaxFixedCents: 20_000}

	values := []float64{0, 0.5, 5, 12.5, 33.333, 50, 80, 99, 100, 150, 999, 25_000}
	totals := []int64{0, 1, 2, 99, 100, 333, 2999, 3000, 12_345, 1_000_000}
	for _, typ := range []Type{TypePercent, TypeFixed} {
		for _, v := range values {
			for _, required := range []bool{true, false} {
				res := Resolve(platform, &ProviderOverride{RequireDeposit: ptr(required), DepositType: ptr(typ), DepositValue: ptr(v)})
				for _, total := range totals {
					split, err := res.Apply(total)
					require.NoError(t, err)
					assert.Equal(t, total, split.DepositCents+split.RemainderCents, "type=%s value=%v total=%d", typ, v, total)
					assert.GreaterOrEqual(t, split.DepositCents, int64(0))
					assert.LessOrEqual(t, split.DepositCents, total)
				}
			}
		}
	}
}

func TestPlatformValidate(t *testing.T) {
	valid := DefaultPlatformPolicy()
	require.NoError(t, valid.Validate())

	bad := valid
	bad.DefaultType = "bogus"
	assert.ErrorIs(t, bad.Validate(), ErrInvalidPolicy)

	bad = valid
	bad.Bounds.MinPercent = 60
	bad.Bounds.MaxPercent = 40
	assert.ErrorIs(t, bad.Validate(), ErrInvalidPolicy)

	bad = valid
	bad.Bounds.MaxPercent = 101
	assert.ErrorIs(t, bad.Validate(), ErrInvalidPolicy)

	bad = valid
	bad.RefundWindowHours = -1
	assert.ErrorIs(t, bad.Validate(), ErrInvalidPolicy)
}

func TestOverrideValidate(t *testing.T) {
	assert.NoError(t, ProviderOverride{}.Validate())
	assert.ErrorIs(t, ProviderOverride{DepositType: ptr(Type("x"))}.Validate(), ErrInvalidOverride)
	assert.ErrorIs(t, ProviderOverride{DepositValue: ptr(-1.0)}.Validate(), ErrInvalidOverride)
}
