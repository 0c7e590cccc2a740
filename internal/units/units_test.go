package units

import (
	"math"
	"testing"
)

func TestConvertSpeed(t *testing.T) {
	tests := []struct {
		name      string
		speedMMPS float64
		units     string
		expected  float64
	}{
		{"1000 mm/s to mps", 1000.0, MPS, 1.0},
		{"1000 mm/s to kph", 1000.0, KPH, 3.6},
		{"1000 mm/s to mmps", 1000.0, MMPS, 1000.0},
		{"unknown units default to mmps", 1000.0, "unknown", 1000.0},
		{"0 mm/s to mps", 0.0, MPS, 0.0},
		{"kick speed 6500 mm/s to mps", 6500.0, MPS, 6.5},
		{"kick speed 6500 mm/s to kph", 6500.0, KPH, 23.4},
		{"rolling ball 742 mm/s to mps", 742.0, MPS, 0.742},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertSpeed(tt.speedMMPS, tt.units)
			if math.Abs(result-tt.expected) > 0.0001 {
				t.Errorf("ConvertSpeed(%f, %s) = %f, want %f", tt.speedMMPS, tt.units, result, tt.expected)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name     string
		unit     string
		expected bool
	}{
		{"valid mmps", MMPS, true},
		{"valid mps", MPS, true},
		{"valid kph", KPH, true},
		{"invalid unit", "invalid", false},
		{"empty string", "", false},
		{"case sensitive", "MPS", false},
		{"case sensitive", "Kph", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValid(tt.unit)
			if result != tt.expected {
				t.Errorf("IsValid(%s) = %v, want %v", tt.unit, result, tt.expected)
			}
		})
	}
}

func TestGetValidUnitsString(t *testing.T) {
	expected := "mmps, mps, kph"
	result := GetValidUnitsString()
	if result != expected {
		t.Errorf("GetValidUnitsString() = %s, want %s", result, expected)
	}
}

func TestLabel(t *testing.T) {
	tests := []struct {
		unit     string
		expected string
	}{
		{MMPS, "mm/s"},
		{MPS, "m/s"},
		{KPH, "km/h"},
		{"unknown", "mm/s"},
	}

	for _, tt := range tests {
		if got := Label(tt.unit); got != tt.expected {
			t.Errorf("Label(%s) = %s, want %s", tt.unit, got, tt.expected)
		}
	}
}
