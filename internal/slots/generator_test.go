package slots

import (
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func starts(seq []Slot) []time.Time {
	out := make([]time.Time, 0, len(seq))
	for _, s := range seq {
		out = append(out, s.Start)
	}
	return out
}

func baseParams() Params {
	return Params{
		Blocks:   []Window{{Start: at(9, 0), End: at(12, 0)}},
		From:     day,
		To:       day.Add(24 * time.Hour),
		Duration: 30 * time.Minute,
		Interval: 30 * time.Minute,
	}
}

func TestGenerateHappyPath(t *testing.T) {
	seq, err := Generate(baseParams())
	require.NoError(t, err)

	want := []time.Time{at(9, 0), at(9, 30), at(10, 0), at(10, 30), at(11, 0), at(11, 30)}
	if diff := cmp.Diff(want, starts(slices.Collect(seq))); diff != "" {
		t.Fatalf("slots mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateExcludesBufferedBooking(t *testing.T) {
	p := baseParams()
	p.Buffer = 15 * time.Minute
	p.Booked = []Window{{Start: at(9, 30), End: at(10, 0)}}

	seq, err := Generate(p)
	require.NoError(t, err)

	want := []time.Time{at(10, 30), at(11, 0), at(11, 30)}
	if diff := cmp.Diff(want, starts(slices.Collect(seq))); diff != "" {
		t.Fatalf("slots mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateMergesOverlappingBlocks(t *testing.T) {
	p := baseParams()
	p.Blocks = []Window{
		{Start: at(10, 0), End: at(11, 0)},
		{Start: at(9, 0), End: at(10, 30)},
		{Start: at(9, 15), End: at(10, 0)},
	}

	seq, err := Generate(p)
	require.NoError(t, err)

	want := []time.Time{at(9, 0), at(9, 15), at(9, 30), at(10, 0), at(10, 30)}
	if diff := cmp.Diff(want, starts(slices.Collect(seq))); diff != "" {
		t.Fatalf("slots mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateClipsToRangeOnBlockGrid(t *testing.T) {
	p := baseParams()
	p.From = at(9, 40)
	p.To = at(11, 0)

	seq, err := Generate(p)
	require.NoError(t, err)

	want := []time.Time{at(10, 0), at(10, 30)}
	if diff := cmp.Diff(want, starts(slices.Collect(seq))); diff != "" {
		t.Fatalf("slots mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateEmptyCases(t *testing.T) {
	p := baseParams()
	p.Duration = 4 * time.Hour
	seq, err := Generate(p)
	require.NoError(t, err)
	require.Empty(t, slices.Collect(seq))

	p = baseParams()
	p.Buffer = 2 * time.Hour
	p.Booked = []Window{{Start: at(10, 0), End: at(11, 0)}}
	seq, err = Generate(p)
	require.NoError(t, err)
	require.Empty(t, slices.Collect(seq))
}

func TestGenerateValidation(t *testing.T) {
	p := baseParams()
	p.Duration = 0
	_, err := Generate(p)
	require.ErrorIs(t, err, ErrInvalidParams)

	p = baseParams()
	p.Interval = -time.Minute
	_, err = Generate(p)
	require.ErrorIs(t, err, ErrInvalidParams)

	p = baseParams()
	p.To = p.From
	_, err = Generate(p)
	require.ErrorIs(t, err, ErrInvalidParams)

	p = baseParams()
	p.To = p.From.Add(MaxRange + time.Hour)
	_, err = Generate(p)
	require.ErrorIs(t, err, ErrRangeTooLarge)
}

func TestGenerateIsRestartableAndStopsEarly(t *testing.T) {
	seq, err := Generate(baseParams())
	require.NoError(t, err)

	first := slices.Collect(seq)
	second := slices.Collect(seq)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("second pass differs (-first +second):\n%s", diff)
	}

	var taken []Slot
	for s := range seq {
		taken = append(taken, s)
		if len(taken) == 2 {
			break
		}
	}
	require.Len(t, taken, 2)
}

func TestGeneratedSlotsNeverOverlapBookings(t *testing.T) {
	p := baseParams()
	p.Interval = 5 * time.Minute
	p.Duration = 45 * time.Minute
	p.Buffer = 10 * time.Minute
	p.Booked = []Window{
		{Start: at(9, 20), End: at(10, 5)},
		{Start: at(11, 0), End: at(11, 15)},
	}

	seq, err := Generate(p)
	require.NoError(t, err)
	for s := range seq {
		for _, b := range p.Booked {
			padStart, padEnd := b.Start.Add(-p.Buffer), b.End.Add(p.Buffer)
			if s.Start.Before(padEnd) && s.End.After(padStart) {
				t.Fatalf("slot %v-%v overlaps booking %v-%v", s.Start, s.End, b.Start, b.End)
			}
		}
		require.False(t, s.End.After(at(12, 0)))
	}
}

func TestOnGridMatchesGeneratedStarts(t *testing.T) {
	p := baseParams()
	seq, err := Generate(p)
	require.NoError(t, err)
	for s := range seq {
		require.True(t, OnGrid(s.Start, at(9, 0), p.Interval), "generated start %s off grid", s.Start)
	}

	tests := []struct {
		name  string
		start time.Time
		want  bool
	}{
		{"block start", at(9, 0), true},
		{"whole intervals later", at(10, 30), true},
		{"between grid points", at(9, 7), false},
		{"before block", at(8, 30), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, OnGrid(tt.start, at(9, 0), 30*time.Minute))
		})
	}
	require.False(t, OnGrid(at(9, 0), at(9, 0), 0))
}
