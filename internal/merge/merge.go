// Package merge resamples two channel sets onto one common time grid.
package merge

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"

	"github.com/ahmedessabar/Sync/internal/series"
)

var (
	// ErrInsufficientPoints is returned when a channel has fewer than two
	// samples inside the merge window.
	ErrInsufficientPoints = errors.New("fewer than 2 points to interpolate")
	// ErrOutsideMargin is returned when a grid point lies further outside a
	// channel's samples than the margin tolerance.
	ErrOutsideMargin = errors.New("grid point outside sample bounds")
	// ErrEmptyWindow is returned for an invalid or zero-length window.
	ErrEmptyWindow = errors.New("empty merge window")
)

// GridMode selects the target time grid.
type GridMode string

const (
	// GridNative uses the master's own timestamps inside the window.
	GridNative GridMode = "native"
	// GridUniform spans the window with evenly spaced points.
	GridUniform GridMode = "uniform"
)

// Config controls a merge.
type Config struct {
	Mode GridMode
	// Points is the uniform grid size. Zero uses the donor's sample count
	// inside the window.
	Points int
	// MarginTolerance is how far, in seconds, a grid point may lie outside
	// a channel's samples and still be extrapolated.
	MarginTolerance float64
	// DonorPrefix is prepended to donor channel names.
	DonorPrefix string
}

// DefaultConfig returns a native-grid merge with a one-microsecond margin.
func DefaultConfig() Config {
	return Config{Mode: GridNative, MarginTolerance: 1e-6, DonorPrefix: "TDMS_"}
}

// Merged is a table of channels on one strictly increasing time grid.
type Merged struct {
	Times   []time.Time
	Names   []string
	Columns [][]float64
}

// Rows returns the number of grid points.
func (m *Merged) Rows() int { return len(m.Times) }

// Column returns the named column, or nil.
func (m *Merged) Column(name string) []float64 {
	for i, n := range m.Names {
		if n == name {
			return m.Columns[i]
		}
	}
	return nil
}

func (m *Merged) add(name string, v []float64) {
	m.Names = append(m.Names, name)
	m.Columns = append(m.Columns, v)
}

// Merge trims master and donor to w and resamples every channel of both
// onto the target grid. Master channels on a native grid are copied as-is.
func Merge(master, donor *series.ChannelSet, w series.Window, cfg Config) (*Merged, error) {
	if !w.Valid() {
		return nil, ErrEmptyWindow
	}
	m := master.Trim(w, false)
	d := donor.Trim(w, true)

	var grid []float64
	switch cfg.Mode {
	case GridUniform:
		n := cfg.Points
		if n == 0 {
			n = donor.Trim(w, false).Len()
		}
		if n < 2 {
			return nil, fmt.Errorf("%w: uniform grid needs at least 2 points, got %d", ErrInsufficientPoints, n)
		}
		span := w.Duration().Seconds()
		if span <= 0 || w.Duration() < time.Duration(n-1) {
			return nil, fmt.Errorf("%w: %d points in %s", ErrEmptyWindow, n, w.Duration())
		}
		grid = floats.Span(make([]float64, n), 0, span)
	case GridNative, "":
		if m.Len() < 1 {
			return nil, fmt.Errorf("%w: master %q has no samples in window", ErrInsufficientPoints, master.Name)
		}
		grid = series.Elapsed(m.Times, w.Start)
	default:
		return nil, fmt.Errorf("unknown grid mode %q", cfg.Mode)
	}

	out := &Merged{Times: make([]time.Time, len(grid))}
	if cfg.Mode == GridUniform {
		for i, x := range grid {
			out.Times[i] = w.Start.Add(series.Seconds(x))
		}
	} else {
		copy(out.Times, m.Times)
	}

	for _, name := range m.Names() {
		if cfg.Mode != GridUniform {
			v := make([]float64, m.Len())
			copy(v, m.Values(name))
			out.add(name, v)
			continue
		}
		v, err := Interpolate(series.Elapsed(m.Times, w.Start), m.Values(name), grid, cfg.MarginTolerance)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", name, err)
		}
		out.add(name, v)
	}

	xs := series.Elapsed(d.Times, w.Start)
	for _, name := range d.Names() {
		v, err := Interpolate(xs, d.Values(name), grid, cfg.MarginTolerance)
		if err != nil {
			return nil, fmt.Errorf("channel %q: %w", cfg.DonorPrefix+name, err)
		}
		out.add(cfg.DonorPrefix+name, v)
	}
	return out, nil
}

// Interpolate evaluates the piecewise-linear function through (xs, ys) at
// every grid point. Points up to tol outside [xs[0], xs[n-1]] are linearly
// extrapolated from the nearest segment; points further out are an error.
func Interpolate(xs, ys, grid []float64, tol float64) ([]float64, error) {
	if len(xs) < 2 || len(ys) != len(xs) {
		return nil, fmt.Errorf("%w: have %d", ErrInsufficientPoints, len(xs))
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return nil, err
	}

	n := len(xs)
	lo, hi := xs[0], xs[n-1]
	out := make([]float64, len(grid))
	for i, x := range grid {
		switch {
		case x < lo-tol || x > hi+tol:
			return nil, fmt.Errorf("%w: %.9fs not in [%.9f, %.9f]", ErrOutsideMargin, x, lo, hi)
		case x < lo:
			out[i] = ys[0] + (ys[1]-ys[0])/(xs[1]-xs[0])*(x-lo)
		case x > hi:
			out[i] = ys[n-1] + (ys[n-1]-ys[n-2])/(xs[n-1]-xs[n-2])*(x-hi)
		default:
			out[i] = pl.Predict(x)
		}
	}
	return out, nil
}
