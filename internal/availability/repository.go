package availability

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Repository persists blocks, scheduling settings and services.
type Repository interface {
	InsertBlocks(ctx context.Context, blocks ...Block) error
	UpdateBlock(ctx context.Context, block Block) error
	DeleteBlock(ctx context.Context, providerID, id string) error
	GetBlock(ctx context.Context, providerID, id string) (*Block, error)
	// ListBlocks returns blocks intersecting [from, to) ordered by start.
	ListBlocks(ctx context.Context, providerID string, from, to time.Time) ([]Block, error)

	GetSettings(ctx context.Context, providerID string) (*Settings, error)
	PutSettings(ctx context.Context, settings Settings) error

	InsertService(ctx context.Context, svc Service) error
	UpdateService(ctx context.Context, svc Service) error
	DeleteService(ctx context.Context, providerID, id string) error
	GetService(ctx context.Context, id string) (*Service, error)
	ListServices(ctx context.Context, providerID string) ([]Service, error)
}

// InMemoryRepository keeps availability data in process memory.
type InMemoryRepository struct {
	mu       sync.RWMutex
	blocks   map[string]Block
	settings map[string]Settings
	services map[string]Service
}

// NewInMemoryRepository creates an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		blocks:   make(map[string]Block),
		settings: make(map[string]Settings),
		services: make(map[string]Service),
	}
}

func (r *InMemoryRepository) InsertBlocks(ctx context.Context, blocks ...Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range blocks {
		r.blocks[b.ID] = b
	}
	return nil
}

func (r *InMemoryRepository) UpdateBlock(ctx context.Context, block Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.blocks[block.ID]
	if !ok || existing.ProviderID != block.ProviderID {
		return ErrNotFound
	}
	r.blocks[block.ID] = block
	return nil
}

func (r *InMemoryRepository) DeleteBlock(ctx context.Context, providerID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.blocks[id]
	if !ok || existing.ProviderID != providerID {
		return ErrNotFound
	}
	delete(r.blocks, id)
	return nil
}

func (r *InMemoryRepository) GetBlock(ctx context.Context, providerID, id string) (*Block, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.blocks[id]
	if !ok || b.ProviderID != providerID {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (r *InMemoryRepository) ListBlocks(ctx context.Context, providerID string, from, to time.Time) ([]Block, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Block
	for _, b := range r.blocks {
		if b.ProviderID != providerID {
			continue
		}
		if b.Start.Before(to) && b.End.After(from) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out, nil
}

func (r *InMemoryRepository) GetSettings(ctx context.Context, providerID string) (*Settings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.settings[providerID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (r *InMemoryRepository) PutSettings(ctx context.Context, settings Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[settings.ProviderID] = settings
	return nil
}

func (r *InMemoryRepository) InsertService(ctx context.Context, svc Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[svc.ID] = svc
	return nil
}

func (r *InMemoryRepository) UpdateService(ctx context.Context, svc Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.services[svc.ID]
	if !ok || existing.ProviderID != svc.ProviderID {
		return ErrNotFound
	}
	r.services[svc.ID] = svc
	return nil
}

func (r *InMemoryRepository) DeleteService(ctx context.Context, providerID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.services[id]
	if !ok || existing.ProviderID != providerID {
		return ErrNotFound
	}
	delete(r.services, id)
	return nil
}

func (r *InMemoryRepository) GetService(ctx context.Context, id string) (*Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (r *InMemoryRepository) ListServices(ctx context.Context, providerID string) ([]Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Service
	for _, s := range r.services {
		if s.ProviderID == providerID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
