// Package series holds the time-indexed sample types shared by the
// encoder and motion timeline builders, the estimator and the merger.
//
// A Series is one physical quantity on an absolute timeline. A ChannelSet
// is one recording: several channels sharing a single timeline. Both are
// treated as immutable once a builder has returned them; operations that
// change the timeline (WithTimes, Shift, Trim) return new values.
package series

import (
	"fmt"
	"sort"
	"time"
)

// Series is an ordered sequence of (timestamp, value) pairs.
type Series struct {
	Name   string
	Times  []time.Time
	Values []float64
}

// Len returns the number of samples.
func (s Series) Len() int { return len(s.Times) }

// Start returns the first timestamp, or the zero time for an empty series.
func (s Series) Start() time.Time {
	if len(s.Times) == 0 {
		return time.Time{}
	}
	return s.Times[0]
}

// End returns the last timestamp, or the zero time for an empty series.
func (s Series) End() time.Time {
	if len(s.Times) == 0 {
		return time.Time{}
	}
	return s.Times[len(s.Times)-1]
}

// ChannelSet maps channel names to values sampled on one shared timeline.
type ChannelSet struct {
	Name  string
	Times []time.Time

	names    []string
	channels map[string][]float64
}

// NewChannelSet creates an empty channel set on the given timeline.
// The timeline slice is owned by the set from here on.
func NewChannelSet(name string, times []time.Time) *ChannelSet {
	return &ChannelSet{
		Name:     name,
		Times:    times,
		channels: make(map[string][]float64),
	}
}

// Add attaches a channel. Values must have one entry per timestamp.
func (cs *ChannelSet) Add(name string, values []float64) error {
	if len(values) != len(cs.Times) {
		return fmt.Errorf("channel %q has %d values for %d timestamps", name, len(values), len(cs.Times))
	}
	if _, exists := cs.channels[name]; !exists {
		cs.names = append(cs.names, name)
	}
	cs.channels[name] = values
	return nil
}

// Names returns channel names in insertion order.
func (cs *ChannelSet) Names() []string {
	out := make([]string, len(cs.names))
	copy(out, cs.names)
	return out
}

// Has reports whether the set carries the named channel.
func (cs *ChannelSet) Has(name string) bool {
	_, ok := cs.channels[name]
	return ok
}

// Values returns the raw values of a channel, or nil if absent.
func (cs *ChannelSet) Values(name string) []float64 {
	return cs.channels[name]
}

// Series returns a channel as a standalone Series sharing the set's timeline.
func (cs *ChannelSet) Series(name string) (Series, bool) {
	v, ok := cs.channels[name]
	if !ok {
		return Series{}, false
	}
	return Series{Name: name, Times: cs.Times, Values: v}, true
}

// Len returns the number of timestamps.
func (cs *ChannelSet) Len() int {
	if cs == nil {
		return 0
	}
	return len(cs.Times)
}

// Empty reports whether the set has no samples.
func (cs *ChannelSet) Empty() bool { return cs.Len() == 0 }

// Start returns the earliest timestamp.
func (cs *ChannelSet) Start() time.Time {
	if cs.Empty() {
		return time.Time{}
	}
	return cs.Times[0]
}

// End returns the latest timestamp.
func (cs *ChannelSet) End() time.Time {
	if cs.Empty() {
		return time.Time{}
	}
	return cs.Times[len(cs.Times)-1]
}

// Window returns the [Start, End] span covered by the set.
func (cs *ChannelSet) Window() Window {
	return Window{Start: cs.Start(), End: cs.End()}
}

// WithTimes returns a copy of the set placed on a different timeline of the
// same length. Channel value slices are shared, not copied.
func (cs *ChannelSet) WithTimes(times []time.Time) (*ChannelSet, error) {
	if len(times) != len(cs.Times) {
		return nil, fmt.Errorf("timeline length %d does not match %d samples", len(times), len(cs.Times))
	}
	out := NewChannelSet(cs.Name, times)
	for _, name := range cs.names {
		out.names = append(out.names, name)
		out.channels[name] = cs.channels[name]
	}
	return out, nil
}

// Shift returns a copy of the set with every timestamp moved by d.
func (cs *ChannelSet) Shift(d time.Duration) *ChannelSet {
	times := make([]time.Time, len(cs.Times))
	for i, t := range cs.Times {
		times[i] = t.Add(d)
	}
	out, _ := cs.WithTimes(times)
	return out
}

// Slice returns samples [from, to) as a new set. Value slices are copied.
func (cs *ChannelSet) Slice(from, to int) *ChannelSet {
	if from < 0 {
		from = 0
	}
	if to > len(cs.Times) {
		to = len(cs.Times)
	}
	if from > to {
		from = to
	}
	times := make([]time.Time, to-from)
	copy(times, cs.Times[from:to])
	out := NewChannelSet(cs.Name, times)
	for _, name := range cs.names {
		v := make([]float64, to-from)
		copy(v, cs.channels[name][from:to])
		out.names = append(out.names, name)
		out.channels[name] = v
	}
	return out
}

// Trim returns the samples whose timestamps fall inside w (inclusive).
// With guard set, the nearest sample on each side of the window is kept as
// well, so that the result brackets the window for interpolation.
func (cs *ChannelSet) Trim(w Window, guard bool) *ChannelSet {
	from := sort.Search(len(cs.Times), func(i int) bool { return !cs.Times[i].Before(w.Start) })
	to := sort.Search(len(cs.Times), func(i int) bool { return cs.Times[i].After(w.End) })
	if guard {
		if from > 0 {
			from--
		}
		if to < len(cs.Times) {
			to++
		}
	}
	return cs.Slice(from, to)
}

// SortDedup orders samples by timestamp and drops exact-timestamp
// duplicates, keeping the first occurrence in the original order.
func (cs *ChannelSet) SortDedup() *ChannelSet {
	idx := make([]int, len(cs.Times))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return cs.Times[idx[a]].Before(cs.Times[idx[b]]) })

	keep := make([]int, 0, len(idx))
	for _, i := range idx {
		if len(keep) > 0 && cs.Times[keep[len(keep)-1]].Equal(cs.Times[i]) {
			continue
		}
		keep = append(keep, i)
	}

	times := make([]time.Time, len(keep))
	for j, i := range keep {
		times[j] = cs.Times[i]
	}
	out := NewChannelSet(cs.Name, times)
	for _, name := range cs.names {
		src := cs.channels[name]
		v := make([]float64, len(keep))
		for j, i := range keep {
			v[j] = src[i]
		}
		out.names = append(out.names, name)
		out.channels[name] = v
	}
	return out
}

// Elapsed converts timestamps to seconds elapsed since origin.
func Elapsed(times []time.Time, origin time.Time) []float64 {
	out := make([]float64, len(times))
	for i, t := range times {
		out[i] = t.Sub(origin).Seconds()
	}
	return out
}

// Seconds converts a float number of seconds to a Duration, rounded to the
// nearest nanosecond.
func Seconds(s float64) time.Duration {
	if s >= 0 {
		return time.Duration(s*float64(time.Second) + 0.5)
	}
	return time.Duration(s*float64(time.Second) - 0.5)
}
