package series

import "time"

// Window is a closed time interval [Start, End].
type Window struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether the window is non-empty (End not before Start)
// and both bounds are set.
func (w Window) Valid() bool {
	if w.Start.IsZero() || w.End.IsZero() {
		return false
	}
	return !w.End.Before(w.Start)
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Contains reports whether t lies inside the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Intersect returns the overlap of two windows. The result may be inverted
// (End before Start) when the windows do not overlap; check Valid.
func Intersect(a, b Window) Window {
	start := a.Start
	if b.Start.After(start) {
		start = b.Start
	}
	end := a.End
	if b.End.Before(end) {
		end = b.End
	}
	return Window{Start: start, End: end}
}

// Union returns the smallest window covering both a and b.
func Union(a, b Window) Window {
	start := a.Start
	if b.Start.Before(start) {
		start = b.Start
	}
	end := a.End
	if b.End.After(end) {
		end = b.End
	}
	return Window{Start: start, End: end}
}
