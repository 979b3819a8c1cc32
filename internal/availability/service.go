package availability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/erimias46/babrber-frontend-sub000/internal/geo"
	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

// Manager validates and applies provider changes to availability data.
type Manager struct {
	repo   Repository
	logger *logging.Logger
	now    func() time.Time
}

// NewManager wraps a repository.
func NewManager(repo Repository, logger *logging.Logger) *Manager {
	if repo == nil {
		panic("availability: repository required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// BlockInput is the mutable part of a block.
type BlockInput struct {
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Location *geo.Location `json:"location,omitempty"`
}

// CreateBlock adds a new availability block.
func (m *Manager) CreateBlock(ctx context.Context, providerID string, in BlockInput) (*Block, error) {
	now := m.now()
	b := Block{
		ID:         uuid.NewString(),
		ProviderID: providerID,
		Start:      in.Start.UTC(),
		End:        in.End.UTC(),
		Location:   in.Location,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if err := m.repo.InsertBlocks(ctx, b); err != nil {
		return nil, err
	}
	m.logger.Debug("availability block created", "provider_id", providerID, "block_id", b.ID)
	return &b, nil
}

// UpdateBlock replaces the window and location of a block.
func (m *Manager) UpdateBlock(ctx context.Context, providerID, id string, in BlockInput) (*Block, error) {
	existing, err := m.repo.GetBlock(ctx, providerID, id)
	if err != nil {
		return nil, err
	}
	existing.Start = in.Start.UTC()
	existing.End = in.End.UTC()
	existing.Location = in.Location
	existing.UpdatedAt = m.now()
	if err := existing.Validate(); err != nil {
		return nil, err
	}
	if err := m.repo.UpdateBlock(ctx, *existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// DeleteBlock removes a block. Slots derived from it disappear on the next
// generation because the generator always reads live blocks.
func (m *Manager) DeleteBlock(ctx context.Context, providerID, id string) error {
	return m.repo.DeleteBlock(ctx, providerID, id)
}

// ListBlocks returns blocks intersecting [from, to).
func (m *Manager) ListBlocks(ctx context.Context, providerID string, from, to time.Time) ([]Block, error) {
	if !from.Before(to) {
		return nil, fmt.Errorf("%w: from must be before to", ErrInvalidBlock)
	}
	return m.repo.ListBlocks(ctx, providerID, from, to)
}

// CopyWeek duplicates every block starting in the source week into the
// target week. Blocks already present in the target week with the same
// window are skipped, so repeating a copy is harmless.
func (m *Manager) CopyWeek(ctx context.Context, providerID string, fromWeekStart, toWeekStart time.Time) ([]Block, error) {
	delta := toWeekStart.Sub(fromWeekStart)
	if delta == 0 || delta%week != 0 {
		return nil, ErrInvalidWeek
	}
	source, err := m.repo.ListBlocks(ctx, providerID, fromWeekStart, fromWeekStart.Add(week))
	if err != nil {
		return nil, err
	}
	existing, err := m.repo.ListBlocks(ctx, providerID, toWeekStart, toWeekStart.Add(week))
	if err != nil {
		return nil, err
	}
	seen := make(map[[2]int64]struct{}, len(existing))
	for _, b := range existing {
		seen[[2]int64{b.Start.UnixNano(), b.End.UnixNano()}] = struct{}{}
	}

	now := m.now()
	var created []Block
	for _, b := range source {
		// ListBlocks returns intersecting blocks; only copy ones that start in the week.
		if b.Start.Before(fromWeekStart) {
			continue
		}
		start, end := b.Start.Add(delta), b.End.Add(delta)
		key := [2]int64{start.UnixNano(), end.UnixNano()}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		created = append(created, Block{
			ID:         uuid.NewString(),
			ProviderID: providerID,
			Start:      start,
			End:        end,
			Location:   b.Location,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if err := m.repo.InsertBlocks(ctx, created...); err != nil {
		return nil, err
	}
	m.logger.Info("availability week copied", "provider_id", providerID, "from", fromWeekStart, "to", toWeekStart, "created", len(created))
	return created, nil
}

// CoveringBlock returns the first block containing [start, end), or ErrNotFound.
func (m *Manager) CoveringBlock(ctx context.Context, providerID string, start, end time.Time) (*Block, error) {
	blocks, err := m.repo.ListBlocks(ctx, providerID, start, end)
	if err != nil {
		return nil, err
	}
	for _, b := range blocks {
		if b.Covers(start, end) {
			return &b, nil
		}
	}
	return nil, ErrNotFound
}

// Settings returns stored settings or the defaults.
func (m *Manager) Settings(ctx context.Context, providerID string) (Settings, error) {
	s, err := m.repo.GetSettings(ctx, providerID)
	if errors.Is(err, ErrNotFound) {
		return DefaultSettings(providerID), nil
	}
	if err != nil {
		return Settings{}, err
	}
	return *s, nil
}

// PutSettings validates and stores scheduling settings.
func (m *Manager) PutSettings(ctx context.Context, providerID string, s Settings) (*Settings, error) {
	s.ProviderID = providerID
	s.UpdatedAt = m.now()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if err := m.repo.PutSettings(ctx, s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ServiceInput is the mutable part of a service.
type ServiceInput struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	PriceCents      int64  `json:"price_cents"`
	DurationMinutes int    `json:"duration_minutes"`
}

// CreateService adds a service to the provider's catalog.
func (m *Manager) CreateService(ctx context.Context, providerID string, in ServiceInput) (*Service, error) {
	now := m.now()
	svc := Service{
		ID:              uuid.NewString(),
		ProviderID:      providerID,
		Name:            in.Name,
		Description:     in.Description,
		PriceCents:      in.PriceCents,
		DurationMinutes: in.DurationMinutes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	if err := m.repo.InsertService(ctx, svc); err != nil {
		return nil, err
	}
	return &svc, nil
}

// UpdateService edits a service. Existing requests keep their price snapshot.
func (m *Manager) UpdateService(ctx context.Context, providerID, id string, in ServiceInput) (*Service, error) {
	existing, err := m.repo.GetService(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.ProviderID != providerID {
		return nil, ErrNotFound
	}
	existing.Name = in.Name
	existing.Description = in.Description
	existing.PriceCents = in.PriceCents
	existing.DurationMinutes = in.DurationMinutes
	existing.UpdatedAt = m.now()
	if err := existing.Validate(); err != nil {
		return nil, err
	}
	if err := m.repo.UpdateService(ctx, *existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// DeleteService removes a service from the catalog.
func (m *Manager) DeleteService(ctx context.Context, providerID, id string) error {
	return m.repo.DeleteService(ctx, providerID, id)
}

// Service returns one service.
func (m *Manager) Service(ctx context.Context, id string) (*Service, error) {
	return m.repo.GetService(ctx, id)
}

// Services lists the provider's catalog.
func (m *Manager) Services(ctx context.Context, providerID string) ([]Service, error) {
	return m.repo.ListServices(ctx, providerID)
}
