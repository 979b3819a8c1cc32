package geo

import (
	"errors"
	"strings"
)

// ErrLocationRequired is returned when a location has neither coordinates nor an address.
var ErrLocationRequired = errors.New("geo: location is required")

// Location is an address with optional coordinates as sent by clients.
type Location struct {
	Coordinates []float64 `json:"coordinates,omitempty"`
	Address     string    `json:"address,omitempty"`
}

// Point returns the coordinates as a Point, or nil when absent.
func (l *Location) Point() (*Point, error) {
	if l == nil {
		return nil, nil
	}
	return FromPair(l.Coordinates)
}

// Validate requires an address or a valid coordinate pair.
func (l *Location) Validate() error {
	if l == nil || (len(l.Coordinates) == 0 && strings.TrimSpace(l.Address) == "") {
		return ErrLocationRequired
	}
	_, err := l.Point()
	return err
}
