package track

import (
	"github.com/golang/geo/r2"

	"github.com/smallsize-vision/balltrack/internal/geo"
	"github.com/smallsize-vision/balltrack/internal/vision"
	"github.com/smallsize-vision/balltrack/internal/world"
)

// VisionFrame is one ball detection together with the robot poses known
// for that control tick. The robots slice is read-only to the filter.
type VisionFrame struct {
	Detection vision.Detection
	Robots    []world.RobotPose
}

// BallFilter is the contract shared by ball filter variants. The track
// manager holds hypotheses behind this interface and is agnostic to the
// concrete filter.
//
// Callers must serialize AcceptDetection, ProcessVisionFrame and
// Duplicate per filter. WriteBallState and ChooseBall never mutate the
// filter and may run concurrently with each other.
type BallFilter interface {
	// AcceptDetection reports whether the frame's detection is usable
	// for this filter: newer than the last accepted one, from a
	// consistent camera, inside the plausible field area, and within
	// reach of the current estimate. No side effects on filter state.
	AcceptDetection(frame VisionFrame) bool

	// ProcessVisionFrame folds an accepted frame into the filter:
	// both estimators advance and the contact state machine steps.
	// A frame that would rewind the filter is ignored.
	ProcessVisionFrame(frame VisionFrame)

	// WriteBallState writes the public ball state at atNs. Under
	// contact the state derives from the contacting robot's pose in
	// robots; otherwise it extrapolates the free-motion estimate.
	WriteBallState(out *world.BallState, atNs int64, robots []world.RobotPose)

	// ChooseBall deterministically picks which of several simultaneous
	// detections of the same ball to trust, returning its index, or -1
	// for an empty slice.
	ChooseBall(frames []VisionFrame) int

	// Duplicate deep-copies the filter into an independent hypothesis
	// pinned to primaryCamera. The copy shares no mutable state with
	// the original.
	Duplicate(primaryCamera uint32) BallFilter
}

// ContactMode tags the contact state variant.
type ContactMode int

const (
	// ModeFree trusts the free-motion estimators directly.
	ModeFree ContactMode = iota
	// ModeContact derives the ball from a robot pose plus an offset.
	ModeContact
)

// ContactState is the tagged contact variant. Offset and Robot are only
// meaningful in ModeContact; Offset is stored in the robot's local frame
// so it survives the robot turning in place.
type ContactState struct {
	Mode   ContactMode
	Offset r2.Point
	Robot  world.RobotID
}

// GroundCollisionFilter tracks one ball hypothesis on the ground plane.
// It owns a live estimator, a deliberately lagged twin used to
// corroborate deviations before committing to a contact correction, and
// the contact state machine.
type GroundCollisionFilter struct {
	cfg  FilterConfig
	geom vision.Geometry

	current Estimator
	past    Estimator

	// pendingPast holds accepted detections not yet old enough for the
	// lagged estimator, in arrival order.
	pendingPast []vision.Detection

	lastAccepted int64
	lastCamera   uint32
	cameras      map[uint32]struct{}

	// A duplicated hypothesis is pinned to its primary camera; a track
	// built fresh from a detection accepts any camera.
	pinned  bool
	primary uint32

	contact         ContactState
	deviationStreak int
	agreeStreak     int

	debug *DebugCollector
}

var _ BallFilter = (*GroundCollisionFilter)(nil)

// NewGroundCollisionFilter builds a track from its first detection and
// the field geometry handle. Both estimators seed from the initial
// detection; the contact state starts Free.
func NewGroundCollisionFilter(initial VisionFrame, geom vision.Geometry, cfg FilterConfig) *GroundCollisionFilter {
	det := initial.Detection
	f := &GroundCollisionFilter{
		cfg:          cfg,
		geom:         geom,
		current:      NewGroundKalman(cfg),
		past:         NewGroundKalman(cfg),
		lastAccepted: det.TimeNs,
		lastCamera:   det.CameraID,
		cameras:      map[uint32]struct{}{det.CameraID: {}},
	}
	f.current.Update(det)
	f.past.Update(det)
	return f
}

// SetDebug attaches a collector for per-frame filter internals. Pass nil
// to detach. The collector never affects filter behavior.
func (f *GroundCollisionFilter) SetDebug(c *DebugCollector) {
	f.debug = c
}

// SetGeometry replaces the field geometry used by the bounds gate.
// Vision publishes geometry rarely, so tracks outlive geometry packets.
func (f *GroundCollisionFilter) SetGeometry(g vision.Geometry) {
	f.geom = g
}

// Contact returns the current contact state. Diagnostics only.
func (f *GroundCollisionFilter) Contact() ContactState {
	return f.contact
}

// LastAcceptedNs returns the timestamp of the last accepted detection.
func (f *GroundCollisionFilter) LastAcceptedNs() int64 {
	return f.lastAccepted
}

// AcceptDetection implements BallFilter.
func (f *GroundCollisionFilter) AcceptDetection(frame VisionFrame) bool {
	det := frame.Detection

	if !geo.IsFinite(det.Pos) {
		f.reject(det, "invalid")
		return false
	}
	if det.TimeNs <= f.lastAccepted {
		f.reject(det, "stale")
		return false
	}
	if f.pinned && det.CameraID != f.primary {
		f.reject(det, "camera")
		return false
	}
	if !f.geom.Contains(det.Pos, f.cfg.BoundarySlackMM) {
		f.reject(det, "bounds")
		return false
	}

	// Travel gate: the detection must be reachable from the current
	// estimate at the fastest plausible ball speed, with slack for
	// camera noise.
	dt := float64(det.TimeNs-f.lastAccepted) / 1e9
	maxTravel := f.cfg.MaxBallSpeedMMs*dt + f.cfg.JumpSlackMM
	pred, _ := f.current.Predict(det.TimeNs)
	if geo.Dist(pred, det.Pos) > maxTravel {
		f.reject(det, "travel")
		return false
	}
	return true
}

func (f *GroundCollisionFilter) reject(det vision.Detection, reason string) {
	if f.debug != nil {
		f.debug.RecordRejection(det.CameraID, det.TimeNs, det.Pos.X, det.Pos.Y, reason)
	}
}

// ProcessVisionFrame implements BallFilter.
func (f *GroundCollisionFilter) ProcessVisionFrame(frame VisionFrame) {
	det := frame.Detection
	if det.TimeNs <= f.lastAccepted {
		return
	}

	// Errors against both models before either estimator sees the
	// detection. The live innovation drives release and arbitration;
	// the lagged error is the contact signal, because the live
	// estimator assimilates contact motion within a frame or two.
	currentPred, _ := f.current.Predict(det.TimeNs)
	currentErr := geo.Dist(currentPred, det.Pos)
	pastPred, _ := f.past.Predict(det.TimeNs)
	pastErr := geo.Dist(pastPred, det.Pos)

	if f.debug != nil {
		f.debug.RecordInnovation(det.CameraID, det.TimeNs,
			currentPred.X, currentPred.Y, det.Pos.X, det.Pos.Y, currentErr)
	}

	f.current.Update(det)
	f.pendingPast = append(f.pendingPast, det)
	f.drainPast(det.TimeNs)

	f.stepContact(det, frame.Robots, currentErr, pastErr)

	f.lastAccepted = det.TimeNs
	f.lastCamera = det.CameraID
	f.cameras[det.CameraID] = struct{}{}
}

// drainPast feeds the lagged estimator every pending detection that is
// at least LagDelta older than now, preserving the fixed-lag invariant.
func (f *GroundCollisionFilter) drainPast(nowNs int64) {
	cutoff := nowNs - f.cfg.LagDelta.Nanoseconds()
	n := 0
	for _, d := range f.pendingPast {
		if d.TimeNs > cutoff {
			break
		}
		f.past.Update(d)
		n++
	}
	if n > 0 {
		f.pendingPast = append(f.pendingPast[:0], f.pendingPast[n:]...)
	}
}

// stepContact advances the contact state machine for one accepted
// detection.
func (f *GroundCollisionFilter) stepContact(det vision.Detection, robots []world.RobotPose, currentErr, pastErr float64) {
	robot, near := nearestRobotWithin(robots, det.Pos, f.cfg.ContactRadiusMM)

	switch f.contact.Mode {
	case ModeFree:
		if near && pastErr > f.cfg.DeviationToleranceMM {
			f.deviationStreak++
		} else {
			f.deviationStreak = 0
		}
		if f.deviationStreak >= f.cfg.DeviationFrames {
			f.contact = ContactState{
				Mode:   ModeContact,
				Offset: robotLocalOffset(det.Pos, robot),
				Robot:  robot.ID,
			}
			f.deviationStreak = 0
			f.agreeStreak = 0
			f.recordContact(det.TimeNs, "activate")
		}

	case ModeContact:
		if near {
			event := "refresh"
			if robot.ID != f.contact.Robot {
				event = "handoff"
			}
			f.contact.Offset = robotLocalOffset(det.Pos, robot)
			f.contact.Robot = robot.ID
			f.recordContact(det.TimeNs, event)
		}

		// Release needs the ball both matching the free model for the
		// confirmation window and clear of robots. A held ball matches
		// the at-rest free model, so the error alone cannot release.
		if !near && currentErr <= f.cfg.DeviationToleranceMM {
			f.agreeStreak++
		} else {
			f.agreeStreak = 0
		}
		if f.agreeStreak >= f.cfg.ReleaseFrames {
			f.recordContact(det.TimeNs, "release")
			f.contact = ContactState{Mode: ModeFree}
			f.deviationStreak = 0
			f.agreeStreak = 0
		}
	}
}

func (f *GroundCollisionFilter) recordContact(timeNs int64, event string) {
	if f.debug != nil {
		f.debug.RecordContact(timeNs, f.contact.Robot.String(), event,
			f.contact.Offset.X, f.contact.Offset.Y)
	}
}

// WriteBallState implements BallFilter.
func (f *GroundCollisionFilter) WriteBallState(out *world.BallState, atNs int64, robots []world.RobotPose) {
	if f.contact.Mode == ModeContact {
		if robot, ok := findRobot(robots, f.contact.Robot); ok {
			out.Pos = robot.Pos.Add(geo.Rotate(f.contact.Offset, robot.Facing))
			out.Vel = robot.Vel
			out.TimeNs = atNs
			out.InContact = true
			out.ContactRobot = f.contact.Robot
			return
		}
		// The contacting robot dropped out of the pose snapshot. Fall
		// through to extrapolation but keep the contact flag so the
		// consumer knows the estimate is degraded.
		pos, vel := f.current.Predict(atNs)
		out.Pos = pos
		out.Vel = vel
		out.TimeNs = atNs
		out.InContact = true
		out.ContactRobot = f.contact.Robot
		return
	}

	pos, vel := f.current.Predict(atNs)
	out.Pos = pos
	out.Vel = vel
	out.TimeNs = atNs
	out.InContact = false
	out.ContactRobot = world.RobotID{}
}

// ChooseBall implements BallFilter. Tie-break order: the camera that
// produced the last accepted detection, then the smallest deviation from
// the current prediction, then the lowest camera id. Stable in the
// original index on full ties.
func (f *GroundCollisionFilter) ChooseBall(frames []VisionFrame) int {
	if len(frames) == 0 {
		return -1
	}

	best := 0
	bestDev := f.deviation(frames[0].Detection)
	reason := "single"
	if len(frames) > 1 {
		reason = "held"
	}
	for i := 1; i < len(frames); i++ {
		dev := f.deviation(frames[i].Detection)
		if r := f.better(frames[i].Detection, dev, frames[best].Detection, bestDev); r != "" {
			best = i
			bestDev = dev
			reason = r
		}
	}

	if f.debug != nil {
		f.debug.RecordArbitration(frames[best].Detection.TimeNs, len(frames),
			best, frames[best].Detection.CameraID, reason)
	}
	return best
}

func (f *GroundCollisionFilter) deviation(det vision.Detection) float64 {
	pred, _ := f.current.Predict(det.TimeNs)
	return geo.Dist(pred, det.Pos)
}

// better reports why candidate beats the incumbent, or "" if it does not.
func (f *GroundCollisionFilter) better(cand vision.Detection, candDev float64, best vision.Detection, bestDev float64) string {
	candPrimary := cand.CameraID == f.lastCamera
	bestPrimary := best.CameraID == f.lastCamera
	if candPrimary != bestPrimary {
		if candPrimary {
			return "last-camera"
		}
		return ""
	}
	if candDev != bestDev {
		if candDev < bestDev {
			return "deviation"
		}
		return ""
	}
	if cand.CameraID < best.CameraID {
		return "camera-id"
	}
	return ""
}

// Duplicate implements BallFilter.
func (f *GroundCollisionFilter) Duplicate(primaryCamera uint32) BallFilter {
	dup := &GroundCollisionFilter{
		cfg:             f.cfg,
		geom:            f.geom,
		current:         f.current.Clone(),
		past:            f.past.Clone(),
		pendingPast:     append([]vision.Detection(nil), f.pendingPast...),
		lastAccepted:    f.lastAccepted,
		lastCamera:      f.lastCamera,
		cameras:         make(map[uint32]struct{}, len(f.cameras)),
		pinned:          true,
		primary:         primaryCamera,
		contact:         f.contact,
		deviationStreak: f.deviationStreak,
		agreeStreak:     f.agreeStreak,
		debug:           f.debug,
	}
	for cam := range f.cameras {
		dup.cameras[cam] = struct{}{}
	}
	return dup
}

func nearestRobotWithin(robots []world.RobotPose, p r2.Point, radius float64) (world.RobotPose, bool) {
	var nearest world.RobotPose
	bestDist := radius
	found := false
	for _, r := range robots {
		if d := geo.Dist(r.Pos, p); d <= bestDist {
			// Strict improvement keeps the scan order deterministic on
			// exact ties.
			if !found || d < bestDist {
				nearest = r
				bestDist = d
				found = true
			}
		}
	}
	return nearest, found
}

func findRobot(robots []world.RobotPose, id world.RobotID) (world.RobotPose, bool) {
	for _, r := range robots {
		if r.ID == id {
			return r, true
		}
	}
	return world.RobotPose{}, false
}

// robotLocalOffset expresses the ball's displacement from the robot in
// the robot's local frame.
func robotLocalOffset(ball r2.Point, robot world.RobotPose) r2.Point {
	return geo.Rotate(ball.Sub(robot.Pos), -robot.Facing)
}
