// Package estimate computes the offset and drift between the encoder and
// motion clocks.
//
// The model is observed_offset(t) = LeadingOffset + DriftRate*t, where
// offsets are motion time minus encoder time and t is seconds elapsed on
// the encoder clock.
package estimate

import (
	"fmt"

	"github.com/ahmedessabar/Sync/internal/series"
)

// Method identifies how an Estimate was produced.
type Method string

const (
	MethodMetadata         Method = "metadata"
	MethodForcedOffset     Method = "forced-offset"
	MethodCrossCorrelation Method = "cross-correlation"
)

// Estimate is one offset/drift estimate. Values are never modified after
// construction; a better estimate is a new Estimate.
type Estimate struct {
	Method Method
	// LeadingOffset is the constant offset in seconds.
	LeadingOffset float64
	// DriftRate is seconds of drift per second of elapsed time.
	DriftRate float64
	// OffsetStart and OffsetEnd are the observed offsets at each end of
	// the window, set by the endpoint algebra only.
	OffsetStart float64
	OffsetEnd   float64
	Valid       bool
	// Confidence is in [0, 1] where it can be measured, and 1 for
	// estimates taken on trust.
	Confidence float64
}

// DriftPPM returns the drift rate in parts per million.
func (e Estimate) DriftPPM() float64 {
	return e.DriftRate * 1e6
}

func (e Estimate) String() string {
	return fmt.Sprintf("%s offset=%.6fs drift=%.3fppm valid=%t", e.Method, e.LeadingOffset, e.DriftPPM(), e.Valid)
}

// EndpointAlgebra estimates offset and drift from the ends of two windows
// presumed to bound the same physical event.
func EndpointAlgebra(encoder, motion series.Window) Estimate {
	e := Estimate{Method: MethodMetadata}
	if !encoder.Valid() || !motion.Valid() {
		return e
	}
	e.OffsetStart = motion.Start.Sub(encoder.Start).Seconds()
	e.OffsetEnd = motion.End.Sub(encoder.End).Seconds()
	e.LeadingOffset = e.OffsetStart

	duration := encoder.Duration().Seconds()
	if duration <= 0 {
		return e
	}
	e.DriftRate = (e.OffsetEnd - e.OffsetStart) / duration
	e.Valid = true
	e.Confidence = 1
	return e
}

// Forced is the estimate implied by pinning the encoder start to the motion
// start plus a calibrated constant. It carries no drift information.
func Forced(offsetSeconds float64) Estimate {
	return Estimate{
		Method:        MethodForcedOffset,
		LeadingOffset: offsetSeconds,
		Valid:         true,
		Confidence:    1,
	}
}
