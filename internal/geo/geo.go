// Package geo holds the small amount of planar geometry the tracker needs on
// top of r2.Point: rotations, angle wrapping, and finiteness checks.
package geo

import (
	"math"

	"github.com/golang/geo/r2"
)

// Rotate rotates p by angle radians counter-clockwise about the origin.
func Rotate(p r2.Point, angle float64) r2.Point {
	sin, cos := math.Sincos(angle)
	return r2.Point{
		X: p.X*cos - p.Y*sin,
		Y: p.X*sin + p.Y*cos,
	}
}

// NormalizeAngle wraps a into (-pi, pi].
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a > math.Pi {
		a -= 2 * math.Pi
	} else if a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// Dist returns the Euclidean distance between a and b.
func Dist(a, b r2.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// IsFinite reports whether both coordinates are finite numbers.
func IsFinite(p r2.Point) bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) &&
		!math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}
