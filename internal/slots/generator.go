package slots

import (
	"errors"
	"fmt"
	"iter"
	"sort"
	"time"
)

var (
	// ErrInvalidParams is returned for non-positive durations or an empty range.
	ErrInvalidParams = errors.New("slots: invalid parameters")
	// ErrRangeTooLarge guards against unbounded generation.
	ErrRangeTooLarge = errors.New("slots: range too large")
)

// MaxRange bounds a single query.
const MaxRange = 31 * 24 * time.Hour

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Slot is a bookable candidate.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Params describes one generation run.
type Params struct {
	Blocks   []Window
	Booked   []Window
	From     time.Time
	To       time.Time
	Duration time.Duration
	Interval time.Duration
	Buffer   time.Duration
}

// Validate rejects parameters that cannot produce a finite sequence.
func (p Params) Validate() error {
	switch {
	case p.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive", ErrInvalidParams)
	case p.Interval <= 0:
		return fmt.Errorf("%w: interval must be positive", ErrInvalidParams)
	case p.Buffer < 0:
		return fmt.Errorf("%w: buffer must not be negative", ErrInvalidParams)
	case !p.From.Before(p.To):
		return fmt.Errorf("%w: from must be before to", ErrInvalidParams)
	case p.To.Sub(p.From) > MaxRange:
		return ErrRangeTooLarge
	}
	return nil
}

// Overlaps reports whether [start, end) intersects the booked window padded by buffer on both sides.
func Overlaps(start, end time.Time, booked Window, buffer time.Duration) bool {
	return start.Before(booked.End.Add(buffer)) && end.After(booked.Start.Add(-buffer))
}

// Conflicts reports whether [start, end) overlaps any booked window.
func Conflicts(start, end time.Time, booked []Window, buffer time.Duration) bool {
	for _, b := range booked {
		if Overlaps(start, end, b, buffer) {
			return true
		}
	}
	return false
}

// OnGrid reports whether start is a whole number of intervals after blockStart,
// the same grid Generate walks.
func OnGrid(start, blockStart time.Time, interval time.Duration) bool {
	if interval <= 0 || start.Before(blockStart) {
		return false
	}
	return start.Sub(blockStart)%interval == 0
}

// cursor walks one block in interval steps.
type cursor struct {
	next  time.Time
	block Window
}

func (c *cursor) valid(p Params) bool {
	return !c.next.Add(p.Duration).After(c.block.End) && c.next.Before(p.To)
}

// Generate returns the ascending, de-duplicated sequence of free slots.
// Candidates are produced lazily; each range over the result restarts the walk.
func Generate(p Params) (iter.Seq[Slot], error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	booked := make([]Window, len(p.Booked))
	copy(booked, p.Booked)
	sort.Slice(booked, func(i, j int) bool { return booked[i].Start.Before(booked[j].Start) })

	return func(yield func(Slot) bool) {
		cursors := make([]*cursor, 0, len(p.Blocks))
		for _, b := range p.Blocks {
			if !b.Start.Before(b.End) || !b.Start.Before(p.To) || !b.End.After(p.From) {
				continue
			}
			c := &cursor{next: b.Start, block: b}
			if c.next.Before(p.From) {
				steps := (p.From.Sub(b.Start) + p.Interval - 1) / p.Interval
				c.next = b.Start.Add(steps * p.Interval)
			}
			if c.valid(p) {
				cursors = append(cursors, c)
			}
		}

		var last time.Time
		emitted := false
		for len(cursors) > 0 {
			// pick the earliest pending candidate across blocks
			earliest := 0
			for i := 1; i < len(cursors); i++ {
				if cursors[i].next.Before(cursors[earliest].next) {
					earliest = i
				}
			}
			c := cursors[earliest]
			start := c.next
			end := start.Add(p.Duration)

			c.next = c.next.Add(p.Interval)
			if !c.valid(p) {
				cursors = append(cursors[:earliest], cursors[earliest+1:]...)
			}

			if emitted && start.Equal(last) {
				continue
			}
			if Conflicts(start, end, booked, p.Buffer) {
				continue
			}
			last, emitted = start, true
			if !yield(Slot{Start: start, End: end}) {
				return
			}
		}
	}, nil
}
