// Package pipeline runs the alignment stages over file pairs and records
// one diagnostic record per pair.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/ahmedessabar/Sync/internal/config"
	"github.com/ahmedessabar/Sync/internal/encoder"
	"github.com/ahmedessabar/Sync/internal/estimate"
	"github.com/ahmedessabar/Sync/internal/fsutil"
	"github.com/ahmedessabar/Sync/internal/merge"
	"github.com/ahmedessabar/Sync/internal/monitoring"
	"github.com/ahmedessabar/Sync/internal/motion"
	"github.com/ahmedessabar/Sync/internal/series"
	"github.com/ahmedessabar/Sync/internal/strategy"
	"github.com/ahmedessabar/Sync/internal/timeutil"
)

var (
	// ErrEmptyEncoder is returned when the encoder group holds no samples.
	ErrEmptyEncoder = errors.New("encoder group has no samples")
	// ErrOutput is returned when the merged series could not be written.
	ErrOutput = errors.New("failed to write merged output")

	errPanic = errors.New("panic while processing pair")
)

// Config gathers the stage configurations of one pair.
type Config struct {
	Encoder  encoder.Config
	Strategy strategy.Config
	XCorr    estimate.XCorrConfig
	Merge    merge.Config

	// ApplyXCorr re-bases forced encoder timelines by the correlated lag.
	ApplyXCorr             bool
	MotionAccelChannel     string
	MovementSpeedThreshold float64
	Workers                int
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning maps a tuning file onto the stage configurations.
func ConfigFromTuning(t *config.TuningConfig) Config {
	return Config{
		Encoder: encoder.Config{
			EdgeChannel:    t.GetEdgeChannel(),
			ResetThreshold: t.GetResetThreshold(),
			NominalRateHz:  t.GetEncoderRateHz(),
			Derive: encoder.DeriveConfig{
				Enabled:           true,
				WheelDiameterInch: t.GetWheelDiameterInch(),
				EdgesPerRev:       t.GetEdgesPerRev(),
				EdgeStep:          float64(t.GetEdgeStep()),
				CutoffHz:          t.GetAccelCutoffHz(),
			},
		},
		Strategy: strategy.Config{
			ForcedOffsetSeconds: t.GetForcedOffsetSeconds(),
			LengthTolerance:     t.GetLengthTolerance(),
		},
		XCorr: estimate.XCorrConfig{
			RateHz:        t.GetXCorrRateHz(),
			Epsilon:       t.GetXCorrEpsilon(),
			MaxLagSeconds: t.GetXCorrMaxLagSeconds(),
		},
		Merge: merge.Config{
			Mode:            merge.GridMode(t.GetGridMode()),
			Points:          t.GetGridPoints(),
			MarginTolerance: t.GetMarginToleranceSeconds(),
			DonorPrefix:     t.GetEncoderPrefix(),
		},
		ApplyXCorr:             t.GetApplyXCorr(),
		MotionAccelChannel:     t.GetMotionAccelChannel(),
		MovementSpeedThreshold: t.GetMovementSpeedThreshold(),
		Workers:                t.GetWorkers(),
	}
}

// Sink receives merged series. name is the motion file name without its
// extension; the returned path is recorded in the diagnostic record.
type Sink interface {
	WriteMerged(name string, m *merge.Merged) (string, error)
}

// Processor runs the stages for single pairs and batches.
type Processor struct {
	cfg      Config
	fs       fsutil.FileSystem
	sink     Sink
	clock    timeutil.Clock
	builder  *encoder.Builder
	selector *strategy.Selector
}

// NewProcessor returns a processor reading through fsys. A nil sink skips
// writing merged output.
func NewProcessor(cfg Config, fsys fsutil.FileSystem, sink Sink) *Processor {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &Processor{
		cfg:      cfg,
		fs:       fsys,
		sink:     sink,
		clock:    timeutil.RealClock{},
		builder:  encoder.NewBuilder(cfg.Encoder),
		selector: strategy.NewSelector(cfg.Strategy),
	}
}

// SetClock replaces the clock used for run timestamps and elapsed times.
func (p *Processor) SetClock(c timeutil.Clock) { p.clock = c }

// ProcessPair runs one pair to completion. It never returns an error:
// every failure, including a panic, ends up in the record.
func (p *Processor) ProcessPair(ctx context.Context, pair Pair) (rec Record) {
	began := p.clock.Now()
	rec = Record{
		FileName:    pair.Name,
		EncoderFile: filepath.Base(pair.EncoderPath),
		Group:       pair.Group,
		ResetIndex:  -1,
	}
	defer func() {
		if r := recover(); r != nil {
			rec = rec.failed(fmt.Errorf("%w: %v", errPanic, r))
		}
		rec.Elapsed = p.clock.Since(began)
		if rec.OK() {
			monitoring.Logf("[pipeline] %s [%s]: %s, %d rows", pair.Name, pair.Group, rec.Strategy, rec.MergedRows)
		} else {
			monitoring.Logf("[pipeline] %s [%s]: %s: %s", pair.Name, pair.Group, rec.Status, rec.Detail)
		}
	}()

	if pair.Skip {
		rec.Kind = KindSkipped
		rec.Status = StatusSkipped
		rec.Detail = "motion file name is not <base>_<group>.txt"
		return rec
	}
	if err := ctx.Err(); err != nil {
		return rec.failed(err)
	}
	if !p.fs.Exists(pair.EncoderPath) {
		rec.EncoderFile = ""
		return rec.failed(fmt.Errorf("encoder container %s: %w", pair.EncoderPath, fs.ErrNotExist))
	}

	mtl, err := p.loadMotion(pair)
	if err != nil {
		return rec.failed(err)
	}
	mset := mtl.Set
	rec.MotionStart = mset.Start()
	rec.MotionPoints = mset.Len()

	enc, err := p.loadEncoder(pair)
	if err != nil {
		return rec.failed(err)
	}
	rec.ResetDetected = enc.ResetDetected
	rec.ResetIndex = enc.ResetIndex
	rec.ValidStartIndex = enc.StartIndex
	rec.EncoderPoints = enc.Set.Len()

	out := p.selector.Select(enc, mset)
	rec.observe(out)
	if !out.OK() {
		return rec.failed(out.Err)
	}

	if est, ok := p.crossCorrelate(pair, out.Encoder, mset); ok {
		rec.XCorr = &est
		if p.cfg.ApplyXCorr {
			out = p.selector.Refine(out, est)
			rec.observe(out)
		}
	}
	rec.MovementOffset = p.movementOffset(out.Encoder, mset)

	merged, err := merge.Merge(mset, out.Encoder, out.Overlap, p.cfg.Merge)
	if err != nil {
		return rec.failed(err)
	}
	rec.MergedRows = merged.Rows()

	if p.sink != nil {
		path, err := p.sink.WriteMerged(trimExt(pair.Name), merged)
		if err != nil {
			return rec.failed(fmt.Errorf("%w: %v", ErrOutput, err))
		}
		rec.OutputPath = path
	}

	rec.Kind = KindNone
	rec.Status = StatusSuccess
	return rec
}

// observe copies the selector's view of the pair into the record.
func (r *Record) observe(o *strategy.Outcome) {
	r.Strategy = o.Strategy
	r.Trail = o.Trail
	r.Estimate = o.Estimate
	r.EncoderStart = o.EncoderUsed
	r.OverlapValid = o.Overlap.Valid()
	if r.OverlapValid {
		r.OverlapStart = o.Overlap.Start
		r.OverlapEnd = o.Overlap.End
	}
}

func (p *Processor) loadMotion(pair Pair) (*motion.Timeline, error) {
	f, err := p.fs.Open(pair.MotionPath)
	if err != nil {
		return nil, fmt.Errorf("motion file: %w", err)
	}
	defer f.Close()

	tbl, err := motion.ReadTable(f)
	if err != nil {
		return nil, fmt.Errorf("motion file %s: %w", pair.Name, err)
	}
	return motion.Build(trimExt(pair.Name), tbl)
}

func (p *Processor) loadEncoder(pair Pair) (*encoder.Timeline, error) {
	f, err := p.fs.Open(pair.EncoderPath)
	if err != nil {
		return nil, fmt.Errorf("encoder container: %w", err)
	}
	defer f.Close()

	c, err := encoder.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("encoder container %s: %w", filepath.Base(pair.EncoderPath), err)
	}
	tl, err := p.builder.Load(c, pair.Group)
	if err != nil {
		return nil, err
	}
	if tl.Set.Empty() {
		return nil, fmt.Errorf("%w: group %q", ErrEmptyEncoder, pair.Group)
	}
	return tl, nil
}

// crossCorrelate compares motion acceleration with the derived wheel
// acceleration. Missing channels or a short signal yield no estimate.
func (p *Processor) crossCorrelate(pair Pair, enc, mset *series.ChannelSet) (estimate.Estimate, bool) {
	es, ok := enc.Series(encoder.AccelChannel)
	if !ok {
		return estimate.Estimate{}, false
	}
	ms, ok := mset.Series(p.cfg.MotionAccelChannel)
	if !ok {
		return estimate.Estimate{}, false
	}
	est, err := estimate.CrossCorrelate(es, ms, p.cfg.XCorr)
	if err != nil {
		monitoring.Logf("[pipeline] %s [%s]: cross-correlation skipped: %v", pair.Name, pair.Group, err)
		return estimate.Estimate{}, false
	}
	return est, true
}

// movementOffset is the time between the first wheel edge and the first
// motion sample above the speed threshold, on the chosen timelines.
func (p *Processor) movementOffset(enc, mset *series.ChannelSet) *float64 {
	speed := mset.Values(motion.SpeedChannel)
	counts := enc.Values(p.cfg.Encoder.EdgeChannel)
	if speed == nil || counts == nil {
		return nil
	}
	im, ok := motion.MovementStart(speed, p.cfg.MovementSpeedThreshold)
	if !ok {
		return nil
	}
	ie, ok := encoder.MovementStart(counts)
	if !ok {
		return nil
	}
	d := mset.Times[im].Sub(enc.Times[ie]).Seconds()
	return &d
}

func trimExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
