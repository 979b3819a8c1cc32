package geo

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceSymmetryAndIdentity(t *testing.T) {
	points := []Point{
		{Lng: -73.9857, Lat: 40.7484},
		{Lng: 2.3522, Lat: 48.8566},
		{Lng: 151.2093, Lat: -33.8688},
		{Lng: 0, Lat: 0},
		{Lng: 180, Lat: 0},
		{Lng: -179.9, Lat: 89.9},
	}
	for i := range points {
		a := points[i]
		self, ok := DistanceKm(&a, &a)
		require.True(t, ok)
		assert.InDelta(t, 0, self, 1e-9, "distance(A,A) must be zero")

		for j := range points {
			b := points[j]
			ab, _ := DistanceKm(&a, &b)
			ba, _ := DistanceKm(&b, &a)
			assert.InDelta(t, ab, ba, 1e-9, "distance must be symmetric for %v %v", a, b)
			assert.GreaterOrEqual(t, ab, 0.0)
		}
	}
}

func TestDistanceKnownValue(t *testing.T) {
	// Paris to London is roughly 343.5 km.
	paris := &Point{Lng: 2.3522, Lat: 48.8566}
	london := &Point{Lng: -0.1276, Lat: 51.5072}
	km, ok := DistanceKm(paris, london)
	require.True(t, ok)
	assert.InDelta(t, 343.5, km, 1.0)
}

func TestDistanceMissingPoint(t *testing.T) {
	p := &Point{Lng: 1, Lat: 1}
	_, ok := DistanceKm(nil, p)
	assert.False(t, ok)
	_, ok = DistanceKm(p, nil)
	assert.False(t, ok)
}

func TestTransportationFeeFloorAndMonotonic(t *testing.T) {
	assert.Equal(t, BaseFee, TransportationFee(0, false))
	assert.Equal(t, BaseFee, TransportationFee(0, true))

	prev := TransportationFee(0, true)
	for km := 0.0; km <= 500; km += 0.37 {
		fee := TransportationFee(km, true)
		assert.GreaterOrEqual(t, fee, BaseFee)
		assert.GreaterOrEqual(t, fee, prev, "fee must not decrease at %.2f km", km)
		prev = fee
	}
	assert.InDelta(t, 25.0, TransportationFee(10, true), 1e-9)
}

func TestQuoteTripConvertsOnce(t *testing.T) {
	provider := &Point{Lng: 0, Lat: 0}
	customer := &Point{Lng: 0, Lat: 0.1}

	km, _ := DistanceKm(provider, customer)
	q := QuoteTrip(provider, customer)

	require.NotNil(t, q.DistanceMeters)
	assert.Equal(t, int64(math.Round(km*1000)), *q.DistanceMeters)
	// 11.12 km -> 5 + 22.24 = 27.24 major units.
	assert.Equal(t, int64(math.Round((BaseFee+km*PerKmRate)*100)), q.FeeCents)
	assert.InDelta(t, 11119, float64(*q.DistanceMeters), 2)
}

func TestQuoteTripWithoutCoordinates(t *testing.T) {
	q := QuoteTrip(nil, &Point{Lng: 1, Lat: 1})
	assert.Nil(t, q.DistanceMeters)
	assert.Equal(t, int64(500), q.FeeCents)
}

func TestFromPair(t *testing.T) {
	p, err := FromPair([]float64{-122.4, 37.7})
	require.NoError(t, err)
	assert.Equal(t, &Point{Lng: -122.4, Lat: 37.7}, p)

	p, err = FromPair(nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = FromPair([]float64{1})
	assert.True(t, errors.Is(err, ErrInvalidCoordinates))

	_, err = FromPair([]float64{200, 0})
	assert.True(t, errors.Is(err, ErrInvalidCoordinates))
}

func TestLocationValidate(t *testing.T) {
	assert.ErrorIs(t, (*Location)(nil).Validate(), ErrLocationRequired)
	assert.ErrorIs(t, (&Location{}).Validate(), ErrLocationRequired)
	assert.NoError(t, (&Location{Address: "1 Main St"}).Validate())
	assert.ErrorIs(t, (&Location{Coordinates: []float64{0, 100}}).Validate(), ErrInvalidCoordinates)
}
