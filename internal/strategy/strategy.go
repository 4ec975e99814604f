// Package strategy decides, per file pair, how the encoder timeline is
// placed on the motion clock.
//
// The decision is a small state machine:
//
//	Init -> ResetForced       counter reset detected
//	Init -> MetadataTrusted   no reset, start declared
//	Init -> Failed            no reset and no metadata
//	MetadataTrusted|ResetForced -> OverlapCheck
//	OverlapCheck -> Success         windows intersect
//	OverlapCheck -> Failed          no overlap, point counts disagree
//	OverlapCheck -> FallbackForced  no overlap, point counts agree
//	FallbackForced -> Success|Failed
//
// Every transition is recorded in the outcome's trail.
package strategy

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ahmedessabar/Sync/internal/encoder"
	"github.com/ahmedessabar/Sync/internal/estimate"
	"github.com/ahmedessabar/Sync/internal/monitoring"
	"github.com/ahmedessabar/Sync/internal/series"
)

var (
	// ErrLengthMismatch means the recordings differ too much in size to
	// describe the same event.
	ErrLengthMismatch = errors.New("length mismatch")
	// ErrSyncFailed means no overlap could be found, even after forcing.
	ErrSyncFailed = errors.New("no overlap after forced sync")
	// ErrNoTimeReference means the encoder has neither metadata nor a reset
	// that would justify forcing its start.
	ErrNoTimeReference = errors.New("encoder has no usable time reference")
)

// State is a node of the selection state machine.
type State string

const (
	Init            State = "Init"
	MetadataTrusted State = "MetadataTrusted"
	ResetForced     State = "ResetForced"
	OverlapCheck    State = "OverlapCheck"
	FallbackForced  State = "FallbackForced"
	Failed          State = "Failed"
	Success         State = "Success"
)

// Strategy labels as reported in diagnostic records.
const (
	LabelMetadata  = "Metadata"
	LabelForced    = "Forced (Motion+Offset)"
	LabelNoTime    = "Failed (No Time)"
	SuffixFallback = " + Fallback (Forced)"
	SuffixXCorr    = " + XCorr"
)

// Calibrated defaults. The offset was fitted on a single recording.
const (
	DefaultForcedOffset    = 0.2679
	DefaultLengthTolerance = 0.15
)

// Transition is one recorded step of the state machine.
type Transition struct {
	From   State
	To     State
	Reason string
}

func (t Transition) String() string {
	return fmt.Sprintf("%s->%s (%s)", t.From, t.To, t.Reason)
}

// Config holds the calibrated constants of the selector.
type Config struct {
	// ForcedOffsetSeconds is added to the motion start when the encoder
	// start is forced.
	ForcedOffsetSeconds float64
	// LengthTolerance is the relative point-count difference above which
	// a forced retry is not attempted.
	LengthTolerance float64
}

// DefaultConfig returns the calibrated defaults.
func DefaultConfig() Config {
	return Config{ForcedOffsetSeconds: DefaultForcedOffset, LengthTolerance: DefaultLengthTolerance}
}

// Outcome is the result of running the selector on one pair.
type Outcome struct {
	State    State
	Strategy string
	Err      error

	// Encoder is the encoder channel set on the chosen absolute timeline.
	// It is nil when selection failed before a timeline was placed.
	Encoder     *series.ChannelSet
	EncoderUsed time.Time
	Motion      series.Window
	Overlap     series.Window
	Estimate    estimate.Estimate
	Forced      bool
	// LengthDiff is the relative point-count difference, set only when
	// the overlap check failed.
	LengthDiff float64

	Trail []Transition
}

// OK reports whether selection succeeded.
func (o *Outcome) OK() bool { return o.State == Success }

func (o *Outcome) move(to State, reason string) {
	o.Trail = append(o.Trail, Transition{From: o.State, To: to, Reason: reason})
	o.State = to
}

func (o *Outcome) place(cs *series.ChannelSet) {
	o.Encoder = cs
	o.EncoderUsed = cs.Start()
	o.Overlap = series.Intersect(cs.Window(), o.Motion)
}

// Selector chooses a synchronization strategy.
type Selector struct {
	cfg Config
}

// NewSelector returns a Selector using cfg.
func NewSelector(cfg Config) *Selector {
	return &Selector{cfg: cfg}
}

// Select runs the state machine for one pair. Motion must be non-empty.
func (s *Selector) Select(enc *encoder.Timeline, motion *series.ChannelSet) *Outcome {
	out := &Outcome{State: Init, Motion: motion.Window()}
	offset := series.Seconds(s.cfg.ForcedOffsetSeconds)

	switch {
	case enc.ResetDetected:
		out.move(ResetForced, fmt.Sprintf("counter reset at index %d", enc.ResetIndex))
		out.Strategy = LabelForced
		out.Forced = true
		out.place(enc.Rebase(motion.Start().Add(offset)))
		out.Estimate = estimate.Forced(s.cfg.ForcedOffsetSeconds)
	case enc.HasMetadata:
		reason := "declared start and interval"
		if !enc.IntervalDeclared {
			reason = fmt.Sprintf("declared start, nominal %.0f Hz", 1/enc.Interval)
		}
		out.move(MetadataTrusted, reason)
		out.Strategy = LabelMetadata
		out.place(enc.Set)
		out.Estimate = estimate.EndpointAlgebra(enc.Set.Window(), out.Motion)
	default:
		out.move(Failed, "no reset and no start metadata")
		out.Strategy = LabelNoTime
		out.Err = ErrNoTimeReference
		return out
	}

	out.move(OverlapCheck, "intersect windows")
	if out.Overlap.Valid() {
		out.move(Success, "windows overlap")
		return out
	}

	nm, ne := float64(motion.Len()), float64(enc.Set.Len())
	out.LengthDiff = math.Abs(nm-ne) / math.Max(nm, 1)
	if out.LengthDiff > s.cfg.LengthTolerance {
		out.move(Failed, fmt.Sprintf("point counts differ by %.1f%%", out.LengthDiff*100))
		out.Err = fmt.Errorf("%w: %d motion vs %d encoder points (%.0f%%)", ErrLengthMismatch, motion.Len(), enc.Set.Len(), out.LengthDiff*100)
		return out
	}

	out.move(FallbackForced, fmt.Sprintf("no overlap, point counts within %.0f%%", s.cfg.LengthTolerance*100))
	monitoring.Logf("[strategy] %s: no overlap with %s start, retrying forced", motion.Name, out.Strategy)
	out.Strategy += SuffixFallback
	out.Forced = true
	out.place(enc.Rebase(motion.Start().Add(offset)))
	out.Estimate = estimate.Forced(s.cfg.ForcedOffsetSeconds)

	if !out.Overlap.Valid() {
		out.move(Failed, "no overlap after forced start")
		out.Err = ErrSyncFailed
		return out
	}
	out.move(Success, "forced windows overlap")
	return out
}

// Refine shifts a forced encoder timeline by a cross-correlation lag. The
// original outcome is returned unchanged when the lag is not applicable.
func (s *Selector) Refine(o *Outcome, est estimate.Estimate) *Outcome {
	if !o.OK() || !o.Forced || !est.Valid || est.Method != estimate.MethodCrossCorrelation {
		return o
	}
	shifted := o.Encoder.Shift(series.Seconds(est.LeadingOffset))
	if !series.Intersect(shifted.Window(), o.Motion).Valid() {
		monitoring.Logf("[strategy] %s: cross-correlation lag %.3fs leaves no overlap, ignored", shifted.Name, est.LeadingOffset)
		return o
	}

	r := *o
	r.Trail = append([]Transition(nil), o.Trail...)
	r.place(shifted)
	r.Strategy += SuffixXCorr
	r.Estimate = estimate.Estimate{
		Method:        estimate.MethodCrossCorrelation,
		LeadingOffset: o.Estimate.LeadingOffset + est.LeadingOffset,
		Valid:         true,
		Confidence:    est.Confidence,
	}
	r.Trail = append(r.Trail, Transition{From: Success, To: Success, Reason: fmt.Sprintf("shifted by cross-correlation lag %.3fs", est.LeadingOffset)})
	return &r
}
