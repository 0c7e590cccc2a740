// Package world defines the published world-state schema: the ball and robot
// records the perception pipeline writes each control tick and downstream
// strategy/control code reads. The schema is versioned; consumers are pure
// readers with no back-channel into perception.
package world

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
)

// SchemaVersion identifies the shape of the published snapshot. Bump on any
// field change that a recorded session could not round-trip.
const SchemaVersion = "0.2.0"

// Team identifies the robot team colour used by SSL vision.
type Team string

const (
	TeamYellow Team = "yellow"
	TeamBlue   Team = "blue"
)

// RobotID names one robot: team colour plus the pattern number on its hat.
// Comparable, usable as a map key.
type RobotID struct {
	Team   Team
	Number uint32
}

func (id RobotID) String() string {
	switch id.Team {
	case TeamYellow:
		return fmt.Sprintf("Y%d", id.Number)
	case TeamBlue:
		return fmt.Sprintf("B%d", id.Number)
	}
	return fmt.Sprintf("?%d", id.Number)
}

// RobotPose is the per-tick pose snapshot for one robot: position in field
// millimeters, facing in radians, velocity in mm/s. Poses are supplied by
// robot tracking and are read-only inside the ball filter.
type RobotPose struct {
	ID     RobotID
	Pos    r2.Point
	Facing float64
	Vel    r2.Point
	TimeNs int64
}

// BallState is the published ball record: position in field millimeters,
// velocity in mm/s, and the contact flag naming the robot currently touching
// the ball when the filter is in contact mode.
type BallState struct {
	Pos          r2.Point
	Vel          r2.Point
	TimeNs       int64
	InContact    bool
	ContactRobot RobotID // zero value unless InContact
}

// Speed returns the ball speed in mm/s.
func (b *BallState) Speed() float64 {
	return math.Hypot(b.Vel.X, b.Vel.Y)
}

// Heading returns the direction of travel in radians, (-pi, pi].
// Undefined (returns 0) for a stationary ball.
func (b *BallState) Heading() float64 {
	if b.Vel.X == 0 && b.Vel.Y == 0 {
		return 0
	}
	return math.Atan2(b.Vel.Y, b.Vel.X)
}

// Snapshot is one published world state: the arbitrated ball plus the robot
// poses the tick was computed against. Snapshots are value copies; mutating
// one never affects the pipeline.
type Snapshot struct {
	Schema string
	TimeNs int64
	Ball   BallState
	Robots []RobotPose
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := s
	out.Robots = make([]RobotPose, len(s.Robots))
	copy(out.Robots, s.Robots)
	return out
}
