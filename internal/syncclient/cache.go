package syncclient

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/erimias46/babrber-frontend-sub000/internal/realtime"
	"github.com/erimias46/babrber-frontend-sub000/internal/requests"
)

// ErrNoPendingChange is returned when confirming or rolling back an unknown change.
var ErrNoPendingChange = errors.New("syncclient: no pending optimistic change")

// Fetcher reads authoritative state from the API.
type Fetcher interface {
	Get(ctx context.Context, id string) (*requests.BookingRequest, error)
	List(ctx context.Context) ([]requests.BookingRequest, error)
}

// Cache is a read-through view of booking requests with an optimistic overlay.
type Cache struct {
	fetcher Fetcher

	mu       sync.RWMutex
	proj     Projection
	stale    map[string]bool
	overlay  map[string]requests.BookingRequest
	onChange func(requests.BookingRequest)
}

func NewCache(fetcher Fetcher) *Cache {
	return &Cache{
		fetcher: fetcher,
		proj:    NewProjection(),
		stale:   make(map[string]bool),
		overlay: make(map[string]requests.BookingRequest),
	}
}

// OnChange registers a callback for every snapshot that becomes visible.
func (c *Cache) OnChange(fn func(requests.BookingRequest)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// Get returns the visible snapshot: a pending optimistic value first, then
// the cached snapshot, fetching when missing or invalidated.
func (c *Cache) Get(ctx context.Context, id string) (requests.BookingRequest, error) {
	c.mu.RLock()
	if o, ok := c.overlay[id]; ok {
		c.mu.RUnlock()
		return o, nil
	}
	r, ok := c.proj.Get(id)
	stale := c.stale[id]
	c.mu.RUnlock()
	if ok && !stale {
		return r, nil
	}
	return c.Refetch(ctx, id)
}

// Snapshot returns the current projection without fetching.
func (c *Cache) Snapshot() Projection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.proj
}

// Invalidate marks id so the next Get refetches it.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale[id] = true
}

// Refetch loads id from the API and replaces the cached snapshot.
func (c *Cache) Refetch(ctx context.Context, id string) (requests.BookingRequest, error) {
	r, err := c.fetcher.Get(ctx, id)
	if err != nil {
		return requests.BookingRequest{}, fmt.Errorf("syncclient: fetch %s: %w", id, err)
	}
	c.mu.Lock()
	c.proj = c.proj.with(*r)
	delete(c.stale, id)
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(*r)
	}
	return *r, nil
}

// Reset replaces the projection with a full authoritative listing.
func (c *Cache) Reset(ctx context.Context) error {
	items, err := c.fetcher.List(ctx)
	if err != nil {
		return fmt.Errorf("syncclient: list: %w", err)
	}
	c.mu.Lock()
	c.proj = NewProjection(items...)
	c.stale = make(map[string]bool)
	c.mu.Unlock()
	return nil
}

// Apply folds a pushed event into the cache. It reports whether the visible state changed.
func (c *Cache) Apply(evt realtime.Event) bool {
	c.mu.Lock()
	next, changed := Apply(c.proj, evt)
	if !changed {
		c.mu.Unlock()
		return false
	}
	c.proj = next
	snap, _ := next.Get(evt.Request.ID)
	delete(c.stale, snap.ID)
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
	return true
}

// Begin records an optimistic local change for id, visible through Get until
// it is confirmed or rolled back.
func (c *Cache) Begin(ctx context.Context, id string, mutate func(*requests.BookingRequest)) (requests.BookingRequest, error) {
	base, err := c.Get(ctx, id)
	if err != nil {
		return requests.BookingRequest{}, err
	}
	optimistic := *base.Clone()
	mutate(&optimistic)
	c.mu.Lock()
	c.overlay[id] = optimistic
	c.mu.Unlock()
	return optimistic, nil
}

// Confirm drops the overlay and stores the server's answer.
func (c *Cache) Confirm(id string, authoritative requests.BookingRequest) error {
	c.mu.Lock()
	if _, ok := c.overlay[id]; !ok {
		c.mu.Unlock()
		return ErrNoPendingChange
	}
	delete(c.overlay, id)
	if held, ok := c.proj.Get(id); !ok || authoritative.Version > held.Version {
		c.proj = c.proj.with(authoritative)
	}
	c.mu.Unlock()
	return nil
}

// Rollback drops the overlay and, for a version conflict, refetches so the
// caller sees what the server holds now.
func (c *Cache) Rollback(ctx context.Context, id string, cause error) (requests.BookingRequest, error) {
	c.mu.Lock()
	_, ok := c.overlay[id]
	delete(c.overlay, id)
	c.mu.Unlock()
	if !ok {
		return requests.BookingRequest{}, ErrNoPendingChange
	}
	if cause != nil {
		c.Invalidate(id)
	}
	return c.Get(ctx, id)
}
