// Package vision owns the ingestion edge of the pipeline: the SSL-Vision
// multicast listener, the protobuf wire decode, and the on-disk frame log
// used for replay. It produces decoded detection frames; everything
// downstream of the decode lives in internal/track.
//
// Coordinates are field millimeters as sent by SSL-Vision, timestamps are
// int64 nanoseconds derived from the frame capture time.
package vision

import (
	"github.com/golang/geo/r2"

	"github.com/smallsize-vision/balltrack/internal/world"
)

// Detection is one timestamped ball observation from one camera.
// Immutable once decoded.
type Detection struct {
	CameraID   uint32   `json:"camera_id"`
	TimeNs     int64    `json:"time_ns"`
	Pos        r2.Point `json:"pos"`
	Confidence float32  `json:"confidence"`
}

// RobotObservation is one robot detection from one camera. Robot tracking
// proper is out of scope; the track manager folds these into the per-tick
// pose snapshot the ball filter reads.
type RobotObservation struct {
	ID         world.RobotID `json:"id"`
	Pos        r2.Point      `json:"pos"`
	Facing     float64       `json:"facing"`
	Confidence float32       `json:"confidence"`
}

// DetectionFrame is one decoded SSL-Vision detection packet: everything one
// camera saw in one capture.
type DetectionFrame struct {
	CameraID    uint32             `json:"camera_id"`
	FrameNumber uint32             `json:"frame_number"`
	TimeNs      int64              `json:"time_ns"`
	SentNs      int64              `json:"sent_ns,omitempty"`
	Balls       []Detection        `json:"balls,omitempty"`
	Robots      []RobotObservation `json:"robots,omitempty"`
}

// Geometry carries the field dimensions from an SSL-Vision geometry packet.
// It doubles as the per-camera calibration handle handed to filter tracks at
// construction: the filter only needs the field bounds for plausibility
// gating and treats the rest as opaque.
type Geometry struct {
	FieldLengthMM   float64 `json:"field_length_mm"`
	FieldWidthMM    float64 `json:"field_width_mm"`
	BoundaryWidthMM float64 `json:"boundary_width_mm"`
}

// Known reports whether the geometry has been populated from a packet.
func (g Geometry) Known() bool {
	return g.FieldLengthMM > 0 && g.FieldWidthMM > 0
}

// Contains reports whether p lies on the field including the boundary area
// plus slack millimeters on every side. Always true for unknown geometry.
func (g Geometry) Contains(p r2.Point, slack float64) bool {
	if !g.Known() {
		return true
	}
	halfX := g.FieldLengthMM/2 + g.BoundaryWidthMM + slack
	halfY := g.FieldWidthMM/2 + g.BoundaryWidthMM + slack
	return p.X >= -halfX && p.X <= halfX && p.Y >= -halfY && p.Y <= halfY
}
