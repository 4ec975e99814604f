package encoder

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/interp"

	"github.com/ahmedessabar/Sync/internal/series"
	"github.com/ahmedessabar/Sync/internal/units"
)

// Derived channel names.
const (
	SpeedChannel = "wheel_speed"
	AccelChannel = "wheel_accel"
)

// minUniqueEdges is the number of distinct counter values needed before a
// speed estimate is attempted.
const minUniqueEdges = 100

// DeriveConfig controls the wheel speed and acceleration channels.
type DeriveConfig struct {
	Enabled           bool
	WheelDiameterInch float64
	EdgesPerRev       float64
	// EdgeStep is the number of edges between speed estimates.
	EdgeStep float64
	// CutoffHz is the low-pass cutoff applied to acceleration. Zero disables it.
	CutoffHz float64
}

// DefaultDeriveConfig returns the rig defaults.
func DefaultDeriveConfig() DeriveConfig {
	return DeriveConfig{
		Enabled:           true,
		WheelDiameterInch: 17,
		EdgesPerRev:       50,
		EdgeStep:          150,
		CutoffHz:          5,
	}
}

// deriveKinematics adds wheel_speed and wheel_accel to cs when the counter
// has enough distinct values. Sparse counters leave cs untouched.
func deriveKinematics(cs *series.ChannelSet, counts []float64, interval float64, cfg DeriveConfig) error {
	t := make([]float64, len(counts))
	for i := range t {
		t[i] = float64(i) * interval
	}
	speed, ok := EdgeSpeed(t, counts, cfg.EdgeStep, units.MetresPerEdge(cfg.WheelDiameterInch, cfg.EdgesPerRev))
	if !ok {
		return nil
	}
	fs := 1 / interval
	accel := make([]float64, len(speed))
	for i := 1; i < len(speed); i++ {
		accel[i] = (speed[i] - speed[i-1]) * fs
	}
	if cfg.CutoffHz > 0 && cfg.CutoffHz < fs/2 {
		accel = FiltFilt(NewLowPass(cfg.CutoffHz, fs), accel)
	}
	if err := cs.Add(SpeedChannel, speed); err != nil {
		return err
	}
	return cs.Add(AccelChannel, accel)
}

// EdgeSpeed estimates linear speed from a cumulative edge counter by timing
// every step edges and mapping the result back onto t. Samples outside the
// estimated span are zero.
func EdgeSpeed(t, counts []float64, step, metresPerEdge float64) ([]float64, bool) {
	if step <= 0 || len(t) != len(counts) {
		return nil, false
	}

	type edge struct{ count, time float64 }
	seen := make(map[float64]bool, len(counts))
	uniq := make([]edge, 0, len(counts))
	for i, c := range counts {
		if seen[c] {
			continue
		}
		seen[c] = true
		uniq = append(uniq, edge{c, t[i]})
	}
	if len(uniq) <= minUniqueEdges {
		return nil, false
	}
	sort.SliceStable(uniq, func(a, b int) bool { return uniq[a].count < uniq[b].count })

	xs := make([]float64, len(uniq))
	ys := make([]float64, len(uniq))
	for i, e := range uniq {
		xs[i], ys[i] = e.count, e.time
	}
	var edgeToTime interp.PiecewiseLinear
	if err := edgeToTime.Fit(xs, ys); err != nil {
		return nil, false
	}

	first := math.Ceil(xs[0]/step) * step
	last := xs[len(xs)-1]
	var grid []float64
	for e := first; e < last; e += step {
		grid = append(grid, edgeToTime.Predict(e))
	}
	if len(grid) < 3 {
		return nil, false
	}

	mid := make([]float64, len(grid)-1)
	v := make([]float64, len(grid)-1)
	for i := range mid {
		dt := grid[i+1] - grid[i]
		if dt == 0 {
			dt = 1e-9
		}
		mid[i] = (grid[i] + grid[i+1]) / 2
		v[i] = step / dt * metresPerEdge
	}
	var timeToSpeed interp.PiecewiseLinear
	if err := timeToSpeed.Fit(mid, v); err != nil {
		return nil, false
	}

	out := make([]float64, len(t))
	for i, ti := range t {
		if ti < mid[0] || ti > mid[len(mid)-1] {
			continue
		}
		out[i] = timeToSpeed.Predict(ti)
	}
	return out, true
}

// Biquad is a second-order IIR section with a0 normalised to one.
type Biquad struct {
	B0, B1, B2 float64
	A1, A2     float64
}

// NewLowPass designs a second-order Butterworth low-pass filter by the
// bilinear transform.
func NewLowPass(cutoffHz, sampleHz float64) Biquad {
	k := math.Tan(math.Pi * cutoffHz / sampleHz)
	norm := 1 / (1 + math.Sqrt2*k + k*k)
	b0 := k * k * norm
	return Biquad{
		B0: b0,
		B1: 2 * b0,
		B2: b0,
		A1: 2 * (k*k - 1) * norm,
		A2: (1 - math.Sqrt2*k + k*k) * norm,
	}
}

// Filter runs the section forward over x, starting from the steady state
// for a constant input equal to x[0].
func (f Biquad) Filter(x []float64) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	x1, x2 := x[0], x[0]
	y1, y2 := x[0], x[0]
	for i, xi := range x {
		yi := f.B0*xi + f.B1*x1 + f.B2*x2 - f.A1*y1 - f.A2*y2
		x2, x1 = x1, xi
		y2, y1 = y1, yi
		out[i] = yi
	}
	return out
}

// FiltFilt applies f forward and backward for zero phase distortion. The
// signal is extended at both ends by odd reflection before filtering.
func FiltFilt(f Biquad, x []float64) []float64 {
	n := len(x)
	if n < 2 {
		out := make([]float64, n)
		copy(out, x)
		return out
	}
	pad := 9
	if pad > n-1 {
		pad = n - 1
	}

	ext := make([]float64, 0, n+2*pad)
	for i := pad; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := n - 2; i >= n-1-pad; i-- {
		ext = append(ext, 2*x[n-1]-x[i])
	}

	y := f.Filter(ext)
	reverse(y)
	y = f.Filter(y)
	reverse(y)
	return y[pad : pad+n]
}

func reverse(v []float64) {
	for i, j := 0, len(v)-1; i < j; i, j = i+1, j-1 {
		v[i], v[j] = v[j], v[i]
	}
}
