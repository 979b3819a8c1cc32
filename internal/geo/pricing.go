// Package geo holds the pure distance and transportation-fee calculations
// used when a booking request is priced.
package geo

import (
	"errors"
	"fmt"
	"math"
)

const (
	earthRadiusKm = 6371.0

	// BaseFee is the flat transportation fee in major currency units.
	BaseFee = 5.00
	// PerKmRate is added to BaseFee for every kilometre travelled.
	PerKmRate = 2.00
)

// ErrInvalidCoordinates is returned when a coordinate pair is out of range.
var ErrInvalidCoordinates = errors.New("geo: invalid coordinates")

// Point is a WGS84 position. JSON clients send it as [longitude, latitude].
type Point struct {
	Lng float64
	Lat float64
}

// FromPair builds a Point from a [longitude, latitude] pair.
func FromPair(pair []float64) (*Point, error) {
	if len(pair) == 0 {
		return nil, nil
	}
	if len(pair) != 2 {
		return nil, fmt.Errorf("%w: expected [lng, lat], got %d values", ErrInvalidCoordinates, len(pair))
	}
	p := &Point{Lng: pair[0], Lat: pair[1]}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Pair returns the [longitude, latitude] form.
func (p Point) Pair() []float64 {
	return []float64{p.Lng, p.Lat}
}

// Validate checks longitude and latitude ranges.
func (p Point) Validate() error {
	if math.IsNaN(p.Lng) || math.IsNaN(p.Lat) || p.Lng < -180 || p.Lng > 180 || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: lng=%v lat=%v", ErrInvalidCoordinates, p.Lng, p.Lat)
	}
	return nil
}

// DistanceKm returns the great-circle distance between a and b. The second
// return value is false when either point is missing.
func DistanceKm(a, b *Point) (float64, bool) {
	if a == nil || b == nil {
		return 0, false
	}
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// Rounding can push h a hair past 1 for antipodal points.
	h = math.Min(1, math.Max(0, h))
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusKm * c, true
}

// TransportationFee returns the fee in major units for a distance. A missing
// distance is charged the base fee.
func TransportationFee(km float64, ok bool) float64 {
	if !ok || km < 0 || math.IsNaN(km) {
		return BaseFee
	}
	return math.Max(BaseFee, BaseFee+km*PerKmRate)
}

// KmToMeters converts kilometres to whole metres.
func KmToMeters(km float64) int64 {
	return int64(math.Round(km * 1000))
}

// ToCents converts a major-unit amount to minor units.
func ToCents(major float64) int64 {
	return int64(math.Round(major * 100))
}

// Quote is the priced transport leg of a booking.
type Quote struct {
	DistanceMeters *int64
	FeeCents       int64
}

// QuoteTrip prices the trip between the provider and the customer. This is
// the single place where kilometres become metres and major units become cents.
func QuoteTrip(provider, customer *Point) Quote {
	km, ok := DistanceKm(provider, customer)
	q := Quote{FeeCents: ToCents(TransportationFee(km, ok))}
	if ok {
		m := KmToMeters(km)
		q.DistanceMeters = &m
	}
	return q
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
