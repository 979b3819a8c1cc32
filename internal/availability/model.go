package availability

import (
	"fmt"
	"strings"
	"time"

	"github.com/erimias46/babrber-frontend-sub000/internal/geo"
)

const (
	MinSlotIntervalMinutes = 5
	MinServiceDuration     = 15

	DefaultSlotIntervalMinutes = 30
	DefaultBufferMinutes       = 0

	week = 7 * 24 * time.Hour
)

// Block is a window in which a provider accepts bookings.
type Block struct {
	ID         string        `json:"id"`
	ProviderID string        `json:"provider_id"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	Location   *geo.Location `json:"location,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Validate enforces start < end.
func (b Block) Validate() error {
	if b.Start.IsZero() || b.End.IsZero() || !b.Start.Before(b.End) {
		return ErrInvalidBlock
	}
	if b.Location != nil && len(b.Location.Coordinates) > 0 {
		if _, err := b.Location.Point(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidBlock, err)
		}
	}
	return nil
}

// Covers reports whether [start, end) lies inside the block.
func (b Block) Covers(start, end time.Time) bool {
	return !start.Before(b.Start) && !end.After(b.End)
}

// Settings controls slot granularity and the gap around bookings.
type Settings struct {
	ProviderID          string    `json:"provider_id"`
	SlotIntervalMinutes int       `json:"slot_interval_minutes"`
	BufferMinutes       int       `json:"buffer_minutes"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// DefaultSettings is used for providers that never saved settings.
func DefaultSettings(providerID string) Settings {
	return Settings{
		ProviderID:          providerID,
		SlotIntervalMinutes: DefaultSlotIntervalMinutes,
		BufferMinutes:       DefaultBufferMinutes,
	}
}

// Validate enforces interval >= 5 and buffer >= 0.
func (s Settings) Validate() error {
	if s.SlotIntervalMinutes < MinSlotIntervalMinutes {
		return fmt.Errorf("%w: slot_interval_minutes must be >= %d", ErrInvalidSettings, MinSlotIntervalMinutes)
	}
	if s.BufferMinutes < 0 {
		return fmt.Errorf("%w: buffer_minutes must be >= 0", ErrInvalidSettings)
	}
	return nil
}

// Interval returns the slot step.
func (s Settings) Interval() time.Duration {
	return time.Duration(s.SlotIntervalMinutes) * time.Minute
}

// Buffer returns the padding applied around confirmed bookings.
func (s Settings) Buffer() time.Duration {
	return time.Duration(s.BufferMinutes) * time.Minute
}

// Service is something a provider sells.
type Service struct {
	ID              string    `json:"id"`
	ProviderID      string    `json:"provider_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	PriceCents      int64     `json:"price_cents"`
	DurationMinutes int       `json:"duration_minutes"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Validate enforces price >= 0 and duration >= 15.
func (s Service) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidService)
	}
	if s.PriceCents < 0 {
		return fmt.Errorf("%w: price must be >= 0", ErrInvalidService)
	}
	if s.DurationMinutes < MinServiceDuration {
		return fmt.Errorf("%w: duration_minutes must be >= %d", ErrInvalidService, MinServiceDuration)
	}
	return nil
}

// Duration returns the service length.
func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}
