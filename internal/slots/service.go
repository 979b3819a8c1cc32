package slots

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/erimias46/babrber-frontend-sub000/internal/availability"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

// AvailabilitySource supplies blocks, settings and service durations.
type AvailabilitySource interface {
	ListBlocks(ctx context.Context, providerID string, from, to time.Time) ([]availability.Block, error)
	Settings(ctx context.Context, providerID string) (availability.Settings, error)
	Service(ctx context.Context, id string) (*availability.Service, error)
}

// BookingSource supplies committed bookings that block time.
type BookingSource interface {
	CommittedWindows(ctx context.Context, providerID string, from, to time.Time) ([]Window, error)
}

// Service answers availability queries against live data.
type Service struct {
	availability AvailabilitySource
	bookings     BookingSource
	logger       *logging.Logger
}

// NewService wires the generator to its data sources.
func NewService(avail AvailabilitySource, bookings BookingSource, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{availability: avail, bookings: bookings, logger: logger}
}

// Available returns free slots of the given duration for a provider.
func (s *Service) Available(ctx context.Context, providerID string, from, to time.Time, duration time.Duration) ([]Slot, error) {
	settings, err := s.availability.Settings(ctx, providerID)
	if err != nil {
		return nil, fmt.Errorf("slots: load settings: %w", err)
	}
	params := Params{
		From:     from,
		To:       to,
		Duration: duration,
		Interval: settings.Interval(),
		Buffer:   settings.Buffer(),
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	blocks, err := s.availability.ListBlocks(ctx, providerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("slots: load blocks: %w", err)
	}
	for _, b := range blocks {
		params.Blocks = append(params.Blocks, Window{Start: b.Start, End: b.End})
	}
	if len(params.Blocks) == 0 {
		return []Slot{}, nil
	}

	// widen so bookings whose padding reaches into the range are seen
	pad := params.Buffer + duration
	params.Booked, err = s.bookings.CommittedWindows(ctx, providerID, from.Add(-pad), to.Add(pad))
	if err != nil {
		return nil, fmt.Errorf("slots: load bookings: %w", err)
	}

	seq, err := Generate(params)
	if err != nil {
		return nil, err
	}
	out := slices.Collect(seq)
	if out == nil {
		out = []Slot{}
	}
	s.logger.Debug("slots generated", "provider_id", providerID, "count", len(out))
	return out, nil
}

// ServiceDuration resolves a catalog service's duration.
func (s *Service) ServiceDuration(ctx context.Context, providerID, serviceID string) (time.Duration, error) {
	svc, err := s.availability.Service(ctx, serviceID)
	if err != nil {
		return 0, err
	}
	if svc.ProviderID != providerID {
		return 0, availability.ErrNotFound
	}
	return svc.Duration(), nil
}
