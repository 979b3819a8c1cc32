package requests

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/erimias46/babrber-frontend-sub000/internal/events"
	"github.com/erimias46/babrber-frontend-sub000/internal/slots"
)

// Store persists booking requests. Every write is conditional.
type Store interface {
	// Create inserts a new request, failing with ErrActiveRequestExists when the
	// pair already has an active one.
	Create(ctx context.Context, req *BookingRequest, recs ...events.Record) error
	Get(ctx context.Context, id string) (*BookingRequest, error)
	List(ctx context.Context, f Filter) ([]BookingRequest, error)
	// Update writes next when the stored version equals expectedVersion, else ErrConflict.
	Update(ctx context.Context, next *BookingRequest, expectedVersion int64, recs ...events.Record) error
	// Schedule is Update plus an atomic check that next's window, padded by
	// buffer, does not overlap another committed request of the provider.
	Schedule(ctx context.Context, next *BookingRequest, expectedVersion int64, buffer time.Duration, recs ...events.Record) error
	// Committed returns accepted or rescheduled requests of a provider whose
	// window intersects [from, to).
	Committed(ctx context.Context, providerID string, from, to time.Time) ([]BookingRequest, error)
}

// MemoryStore keeps requests in process memory. One lock covers every check
// and write, which makes conflict checks atomic with the write.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]*BookingRequest
	outbox   events.Outbox
}

// NewMemoryStore creates an empty store writing staged events to outbox.
func NewMemoryStore(outbox events.Outbox) *MemoryStore {
	if outbox == nil {
		outbox = events.NewMemoryOutbox()
	}
	return &MemoryStore{requests: make(map[string]*BookingRequest), outbox: outbox}
}

func (s *MemoryStore) Create(ctx context.Context, req *BookingRequest, recs ...events.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.requests {
		if existing.CustomerID == req.CustomerID && existing.ProviderID == req.ProviderID && existing.Status.Active() {
			return ErrActiveRequestExists
		}
	}
	s.requests[req.ID] = req.Clone()
	return s.stage(ctx, recs)
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*BookingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, f Filter) ([]BookingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []BookingRequest
	for _, r := range s.requests {
		if f.matches(r) {
			out = append(out, *r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, next *BookingRequest, expectedVersion int64, recs ...events.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkVersion(next.ID, expectedVersion); err != nil {
		return err
	}
	s.requests[next.ID] = next.Clone()
	return s.stage(ctx, recs)
}

func (s *MemoryStore) Schedule(ctx context.Context, next *BookingRequest, expectedVersion int64, buffer time.Duration, recs ...events.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkVersion(next.ID, expectedVersion); err != nil {
		return err
	}
	start, end, ok := next.Window()
	if ok {
		var booked []slots.Window
		for _, r := range s.requests {
			if r.ID == next.ID || r.ProviderID != next.ProviderID || !r.Status.Committed() {
				continue
			}
			if bs, be, ok := r.Window(); ok {
				booked = append(booked, slots.Window{Start: bs, End: be})
			}
		}
		if slots.Conflicts(start, end, booked, buffer) {
			return ErrSlotUnavailable
		}
	}
	s.requests[next.ID] = next.Clone()
	return s.stage(ctx, recs)
}

func (s *MemoryStore) Committed(ctx context.Context, providerID string, from, to time.Time) ([]BookingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []BookingRequest
	for _, r := range s.requests {
		if r.ProviderID != providerID || !r.Status.Committed() {
			continue
		}
		if start, end, ok := r.Window(); ok && start.Before(to) && end.After(from) {
			out = append(out, *r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scheduled.Before(*out[j].Scheduled) })
	return out, nil
}

func (s *MemoryStore) checkVersion(id string, expected int64) error {
	cur, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expected {
		return ErrConflict
	}
	return nil
}

func (s *MemoryStore) stage(ctx context.Context, recs []events.Record) error {
	for _, rec := range recs {
		if _, err := s.outbox.Insert(ctx, rec.AggregateID, rec.Event); err != nil {
			return err
		}
	}
	return nil
}

// SlotBookings adapts a Store to the slot generator's booking source.
type SlotBookings struct {
	Store Store
}

func (b SlotBookings) CommittedWindows(ctx context.Context, providerID string, from, to time.Time) ([]slots.Window, error) {
	reqs, err := b.Store.Committed(ctx, providerID, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]slots.Window, 0, len(reqs))
	for i := range reqs {
		if start, end, ok := reqs[i].Window(); ok {
			out = append(out, slots.Window{Start: start, End: end})
		}
	}
	return out, nil
}
