package estimate

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/stat"

	"github.com/ahmedessabar/Sync/internal/series"
)

// ErrInsufficientSignal is returned when a signal has too few samples to
// correlate.
var ErrInsufficientSignal = errors.New("insufficient signal for cross-correlation")

// maxGridPoints bounds the common grid so a bad window cannot exhaust memory.
const maxGridPoints = 1 << 24

// XCorrConfig controls the cross-correlation estimator.
type XCorrConfig struct {
	RateHz  float64
	Epsilon float64
	// MaxLagSeconds marks estimates with a larger lag as invalid. Zero
	// accepts any lag.
	MaxLagSeconds float64
}

// DefaultXCorrConfig returns the default grid rate and guards.
func DefaultXCorrConfig() XCorrConfig {
	return XCorrConfig{RateHz: 100, Epsilon: 1e-6, MaxLagSeconds: 5}
}

// CrossCorrelate estimates the shift of motion relative to encoder from a
// physically comparable signal on both sides. Both are resampled onto one
// uniform grid spanning the union of their ranges, z-normalised, and fully
// cross-correlated. A positive LeadingOffset means features appear later in
// motion, so adding it to encoder timestamps aligns the two.
func CrossCorrelate(encoder, motion series.Series, cfg XCorrConfig) (Estimate, error) {
	if encoder.Len() < 2 || motion.Len() < 2 {
		return Estimate{}, fmt.Errorf("%w: encoder=%d motion=%d samples", ErrInsufficientSignal, encoder.Len(), motion.Len())
	}
	if cfg.RateHz <= 0 {
		return Estimate{}, fmt.Errorf("cross-correlation rate must be positive, got %f", cfg.RateHz)
	}

	union := series.Union(
		series.Window{Start: encoder.Start(), End: encoder.End()},
		series.Window{Start: motion.Start(), End: motion.End()},
	)
	n := int(math.Floor(union.Duration().Seconds()*cfg.RateHz)) + 1
	if n < 2 {
		return Estimate{}, fmt.Errorf("%w: common grid has %d points", ErrInsufficientSignal, n)
	}
	if n > maxGridPoints {
		return Estimate{}, fmt.Errorf("common grid of %d points exceeds limit", n)
	}
	grid := make([]float64, n)
	for i := range grid {
		grid[i] = float64(i) / cfg.RateHz
	}

	e, err := resample(encoder, union.Start, grid)
	if err != nil {
		return Estimate{}, fmt.Errorf("encoder signal: %w", err)
	}
	m, err := resample(motion, union.Start, grid)
	if err != nil {
		return Estimate{}, fmt.Errorf("motion signal: %w", err)
	}
	normalise(e, cfg.Epsilon)
	normalise(m, cfg.Epsilon)

	corr := correlate(m, e)
	best := floats.MaxIdx(corr)
	lag := float64(best-(n-1)) / cfg.RateHz

	est := Estimate{
		Method:        MethodCrossCorrelation,
		LeadingOffset: lag,
		Confidence:    corr[best] / float64(n-1),
	}
	est.Valid = corr[best] > 0 && !math.IsNaN(est.Confidence) &&
		(cfg.MaxLagSeconds <= 0 || math.Abs(lag) <= cfg.MaxLagSeconds)
	return est, nil
}

// resample linearly interpolates s at grid seconds after origin, holding
// the end values outside the sampled range.
func resample(s series.Series, origin time.Time, grid []float64) ([]float64, error) {
	var pl interp.PiecewiseLinear
	if err := pl.Fit(series.Elapsed(s.Times, origin), s.Values); err != nil {
		return nil, err
	}
	out := make([]float64, len(grid))
	for i, x := range grid {
		out[i] = pl.Predict(x)
	}
	return out, nil
}

func normalise(x []float64, eps float64) {
	mean, std := stat.MeanStdDev(x, nil)
	if math.IsNaN(std) {
		std = 0
	}
	for i := range x {
		x[i] = (x[i] - mean) / (std + eps)
	}
}

// correlate returns the full linear cross-correlation
// c[k] = sum_i a[i+k]*b[i] for k = -(n-1)..(n-1), indexed from k = -(n-1).
func correlate(a, b []float64) []float64 {
	n := len(a)
	size := 1
	for size < 2*n-1 {
		size <<= 1
	}
	pa := make([]float64, size)
	pb := make([]float64, size)
	copy(pa, a)
	copy(pb, b)

	fft := fourier.NewFFT(size)
	ca := fft.Coefficients(nil, pa)
	cb := fft.Coefficients(nil, pb)
	for i := range ca {
		ca[i] *= complex(real(cb[i]), -imag(cb[i]))
	}
	circ := fft.Sequence(nil, ca)

	out := make([]float64, 2*n-1)
	scale := 1 / float64(size)
	for k := -(n - 1); k < n; k++ {
		idx := k
		if idx < 0 {
			idx += size
		}
		out[k+n-1] = circ[idx] * scale
	}
	return out
}
