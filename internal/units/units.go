// Package units provides speed unit conversion and wheel geometry helpers
// for the encoder-derived speed channels.
package units

import "math"

// Unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// MetresPerInch is the exact inch to metre factor.
const MetresPerInch = 0.0254

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// ConvertSpeed converts a speed from meters per second to the target units.
// Derived channels are always stored in m/s.
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * 2.2369362920544
	case KMPH, KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}

// Label returns the axis label for a unit.
func Label(unit string) string {
	switch unit {
	case MPH:
		return "mph"
	case KMPH, KPH:
		return "km/h"
	default:
		return "m/s"
	}
}

// WheelCircumference returns the rolling circumference in metres of a wheel
// with the given rim diameter in inches.
func WheelCircumference(diameterInch float64) float64 {
	return diameterInch * MetresPerInch * math.Pi
}

// MetresPerEdge returns the distance travelled between two encoder edges.
func MetresPerEdge(diameterInch, edgesPerRev float64) float64 {
	if edgesPerRev <= 0 {
		return 0
	}
	return WheelCircumference(diameterInch) / edgesPerRev
}
