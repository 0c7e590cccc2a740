// Package units provides shared constants and conversion for speed units
package units

// Unit constants
const (
	MMPS = "mmps"
	MPS  = "mps"
	KPH  = "kph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MMPS, MPS, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "mmps, mps, kph"
}

// ConvertSpeed converts a speed from millimetres per second to the target
// units. Every internal interface and the database store speeds in mm/s.
func ConvertSpeed(speedMMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return speedMMPS / 1000
	case KPH:
		return speedMMPS * 0.0036
	case MMPS:
		return speedMMPS
	default:
		return speedMMPS // default to mm/s if unknown unit
	}
}

// Label returns the display label for a unit.
func Label(unit string) string {
	switch unit {
	case MPS:
		return "m/s"
	case KPH:
		return "km/h"
	default:
		return "mm/s"
	}
}
