// Package syncclient keeps a client-side view of booking requests in step with
// the server: authoritative fetches fill a cache and WebSocket events are
// applied by version.
package syncclient

import (
	"maps"
	"slices"
	"strings"

	"github.com/erimias46/babrber-frontend-sub000/internal/realtime"
	"github.com/erimias46/babrber-frontend-sub000/internal/requests"
)

// Projection is an immutable id -> snapshot view. Reducers return a new one.
type Projection struct {
	items map[string]requests.BookingRequest
}

// NewProjection builds a projection from authoritative snapshots.
func NewProjection(items ...requests.BookingRequest) Projection {
	p := Projection{items: make(map[string]requests.BookingRequest, len(items))}
	for _, it := range items {
		p.items[it.ID] = it
	}
	return p
}

func (p Projection) Get(id string) (requests.BookingRequest, bool) {
	r, ok := p.items[id]
	return r, ok
}

func (p Projection) Len() int { return len(p.items) }

// Items returns snapshots newest first.
func (p Projection) Items() []requests.BookingRequest {
	out := slices.Collect(maps.Values(p.items))
	slices.SortFunc(out, func(a, b requests.BookingRequest) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Active returns the snapshots whose status holds the pair slot.
func (p Projection) Active() []requests.BookingRequest {
	var out []requests.BookingRequest
	for _, r := range p.Items() {
		if r.Status.Active() {
			out = append(out, r)
		}
	}
	return out
}

func (p Projection) with(r requests.BookingRequest) Projection {
	next := Projection{items: maps.Clone(p.items)}
	if next.items == nil {
		next.items = make(map[string]requests.BookingRequest)
	}
	next.items[r.ID] = r
	return next
}

// Reducer folds one event into a projection. It reports whether anything changed.
type Reducer func(Projection, realtime.Event) (Projection, bool)

var reducers = map[string]Reducer{
	string(requests.ChangeNew):         reduceNew,
	string(requests.ChangeAccepted):    reduceSnapshot,
	string(requests.ChangeDeclined):    reduceSnapshot,
	string(requests.ChangeCompleted):   reduceSnapshot,
	string(requests.ChangeRescheduled): reduceSnapshot,
	string(requests.ChangeUpdated):     reduceSnapshot,
}

// Apply dispatches evt to exactly one reducer. Unknown types are ignored.
func Apply(p Projection, evt realtime.Event) (Projection, bool) {
	reduce, ok := reducers[evt.Type]
	if !ok || evt.Request == nil {
		return p, false
	}
	return reduce(p, evt)
}

// reduceNew inserts a request the client has not seen.
func reduceNew(p Projection, evt realtime.Event) (Projection, bool) {
	if _, ok := p.items[evt.Request.ID]; ok {
		return reduceSnapshot(p, evt)
	}
	return p.with(*evt.Request.Clone()), true
}

// reduceSnapshot replaces the held snapshot when the event is strictly newer.
func reduceSnapshot(p Projection, evt realtime.Event) (Projection, bool) {
	if held, ok := p.items[evt.Request.ID]; ok && evt.Version <= held.Version {
		return p, false
	}
	snap := *evt.Request.Clone()
	snap.Version = evt.Version
	return p.with(snap), true
}
