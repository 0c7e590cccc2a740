package track

import (
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r2"

	"github.com/smallsize-vision/balltrack/internal/vision"
	"github.com/smallsize-vision/balltrack/internal/world"
)

func testGeometry() vision.Geometry {
	return vision.Geometry{FieldLengthMM: 9000, FieldWidthMM: 6000, BoundaryWidthMM: 300}
}

func frameAt(cam uint32, tMs int64, x, y float64, robots ...world.RobotPose) VisionFrame {
	return VisionFrame{Detection: det(cam, tMs, x, y), Robots: robots}
}

func yellowBot(num uint32, x, y, facing, vx, vy float64) world.RobotPose {
	return world.RobotPose{
		ID:     world.RobotID{Team: world.TeamYellow, Number: num},
		Pos:    r2.Point{X: x, Y: y},
		Facing: facing,
		Vel:    r2.Point{X: vx, Y: vy},
	}
}

// feed asserts the frame passes the accept gate and processes it.
func feed(t *testing.T, f BallFilter, fr VisionFrame) {
	t.Helper()
	if !f.AcceptDetection(fr) {
		t.Fatalf("detection at t=%dns camera %d rejected unexpectedly",
			fr.Detection.TimeNs, fr.Detection.CameraID)
	}
	f.ProcessVisionFrame(fr)
}

func ballStateAt(f BallFilter, tMs int64, robots []world.RobotPose) world.BallState {
	var out world.BallState
	f.WriteBallState(&out, tMs*int64(time.Millisecond), robots)
	return out
}

func TestAcceptDetectionGates(t *testing.T) {
	f := NewGroundCollisionFilter(frameAt(1, 0, 0, 0), testGeometry(), testConfig())

	if f.AcceptDetection(frameAt(1, 0, 5, 0)) {
		t.Error("accepted a duplicate timestamp")
	}
	if f.AcceptDetection(frameAt(1, -10, 5, 0)) {
		t.Error("accepted a timestamp in the past")
	}

	bad := frameAt(1, 10, 0, 0)
	bad.Detection.Pos.X = math.NaN()
	if f.AcceptDetection(bad) {
		t.Error("accepted a non-finite position")
	}

	// Outside the field plus boundary plus slack.
	if f.AcceptDetection(frameAt(1, 10, 20000, 0)) {
		t.Error("accepted an off-field position")
	}

	// 500 mm in 10 ms is beyond the travel gate (10000 mm/s + slack).
	if f.AcceptDetection(frameAt(1, 10, 500, 0)) {
		t.Error("accepted an implausible jump")
	}
	if !f.AcceptDetection(frameAt(1, 10, 150, 0)) {
		t.Error("rejected a plausible fast detection")
	}

	// A fresh track takes frames from any camera.
	if !f.AcceptDetection(frameAt(2, 10, 10, 0)) {
		t.Error("fresh track rejected a second camera")
	}

	// A duplicated hypothesis is pinned to its primary camera.
	dup := f.Duplicate(1)
	if dup.AcceptDetection(frameAt(2, 10, 10, 0)) {
		t.Error("pinned hypothesis accepted a foreign camera")
	}
	if !dup.AcceptDetection(frameAt(1, 10, 10, 0)) {
		t.Error("pinned hypothesis rejected its primary camera")
	}
}

func TestStaleFrameIsObservableNoOp(t *testing.T) {
	f := NewGroundCollisionFilter(frameAt(0, 0, 0, 0), testGeometry(), testConfig())
	feed(t, f, frameAt(0, 10, 10, 0))
	feed(t, f, frameAt(0, 20, 20, 0))

	before := ballStateAt(f, 20, nil)

	stale := frameAt(0, 10, 500, 500)
	if f.AcceptDetection(stale) {
		t.Fatal("stale frame accepted")
	}
	// Even a misbehaving caller that processes anyway must not move
	// observable state.
	f.ProcessVisionFrame(stale)

	after := ballStateAt(f, 20, nil)
	if before != after {
		t.Errorf("stale frame mutated state: %+v -> %+v", before, after)
	}
	if f.LastAcceptedNs() != 20*int64(time.Millisecond) {
		t.Errorf("last accepted rewound to %d", f.LastAcceptedNs())
	}
}

func TestConvergenceOnLinearTrajectory(t *testing.T) {
	f := NewGroundCollisionFilter(frameAt(0, 0, 0, 0), testGeometry(), testConfig())
	feed(t, f, frameAt(0, 10, 10, 0))
	feed(t, f, frameAt(0, 20, 20, 0))

	out := ballStateAt(f, 20, nil)
	if diff := math.Abs(out.Pos.X - 20); diff > 2 {
		t.Errorf("position error = %.3f mm, want < 2", diff)
	}
	if out.InContact {
		t.Error("free rolling ball reported in contact")
	}
}

func TestExtrapolationBeyondLastDetection(t *testing.T) {
	f := NewGroundCollisionFilter(frameAt(0, 0, 0, 0), testGeometry(), testConfig())
	feed(t, f, frameAt(0, 10, 10, 0))
	feed(t, f, frameAt(0, 20, 20, 0))

	out := ballStateAt(f, 25, nil)
	if diff := math.Abs(out.Pos.X - 25); diff > 5 {
		t.Errorf("extrapolated position error = %.3f mm, want < 5", diff)
	}
	if out.TimeNs != 25*int64(time.Millisecond) {
		t.Errorf("output timestamp = %d", out.TimeNs)
	}
}

// runFreezeIntoRobot rolls the ball at 1000 mm/s, then freezes it at
// x=20 where a robot sits from t=20 ms on. Returns the filter after
// feeding frames through untilMs.
func runFreezeIntoRobot(t *testing.T, untilMs int64) *GroundCollisionFilter {
	t.Helper()
	f := NewGroundCollisionFilter(frameAt(0, 0, 0, 0), testGeometry(), testConfig())
	robot := yellowBot(3, 20, 0, 0, 0, 0)

	feed(t, f, frameAt(0, 10, 10, 0))
	feed(t, f, frameAt(0, 20, 20, 0, robot))
	for tm := int64(30); tm <= untilMs; tm += 10 {
		feed(t, f, frameAt(0, tm, 20, 0, robot))
	}
	return f
}

func TestContactActivation(t *testing.T) {
	// Before the lagged estimator catches up with the stop, the track
	// must stay in free motion.
	early := runFreezeIntoRobot(t, 80)
	if early.Contact().Mode != ModeFree {
		t.Fatalf("contact activated before corroboration: %+v", early.Contact())
	}

	f := runFreezeIntoRobot(t, 150)
	c := f.Contact()
	if c.Mode != ModeContact {
		t.Fatalf("contact not activated after corroboration: %+v", c)
	}
	if c.Robot != (world.RobotID{Team: world.TeamYellow, Number: 3}) {
		t.Errorf("contact robot = %v", c.Robot)
	}

	// Output follows the robot's pose, not ballistic extrapolation.
	moved := []world.RobotPose{yellowBot(3, 400, 150, 0, 500, 0)}
	out := ballStateAt(f, 200, moved)
	if !out.InContact {
		t.Fatal("output not flagged in contact")
	}
	if math.Abs(out.Pos.X-400) > 1 || math.Abs(out.Pos.Y-150) > 1 {
		t.Errorf("contact output %v does not track robot at (400, 150)", out.Pos)
	}
	if out.Vel.X != 500 || out.Vel.Y != 0 {
		t.Errorf("contact velocity = %v, want robot velocity (500, 0)", out.Vel)
	}
	if out.ContactRobot.Number != 3 {
		t.Errorf("contact robot in output = %v", out.ContactRobot)
	}
}

func TestContactOffsetComposesWithRobotFacing(t *testing.T) {
	// Ball teleports to 90 mm in front of the robot and stays there;
	// the lagged model deviates immediately and contact locks on.
	f := NewGroundCollisionFilter(frameAt(0, 0, 0, 0), testGeometry(), testConfig())
	robot := yellowBot(5, 20, 0, 0, 0, 0)
	feed(t, f, frameAt(0, 10, 10, 0))
	feed(t, f, frameAt(0, 20, 20, 0, robot))
	for tm := int64(30); tm <= 70; tm += 10 {
		feed(t, f, frameAt(0, tm, 110, 0, robot))
	}
	if f.Contact().Mode != ModeContact {
		t.Fatalf("contact not established: %+v", f.Contact())
	}

	// The stored offset lives in the robot's frame: when the robot has
	// turned 90° the ball renders beside it, not in front.
	turned := []world.RobotPose{yellowBot(5, 20, 0, math.Pi / 2, 0, 0)}
	out := ballStateAt(f, 80, turned)
	if math.Abs(out.Pos.X-20) > 1e-6 || math.Abs(out.Pos.Y-90) > 1e-6 {
		t.Errorf("rotated contact output = %v, want (20, 90)", out.Pos)
	}
}

func TestContactHandoffToCloserRobot(t *testing.T) {
	f := runFreezeIntoRobot(t, 150)
	if f.Contact().Mode != ModeContact {
		t.Fatal("contact not established")
	}

	// The original robot leaves the snapshot and another one takes the
	// ball over.
	other := yellowBot(7, 21, 0, 0, 0, 0)
	feed(t, f, frameAt(0, 160, 20, 0, other))

	c := f.Contact()
	if c.Mode != ModeContact {
		t.Fatalf("contact dropped on handoff: %+v", c)
	}
	if c.Robot != (world.RobotID{Team: world.TeamYellow, Number: 7}) {
		t.Errorf("contact robot after handoff = %v", c.Robot)
	}
}

func TestContactRelease(t *testing.T) {
	f := runFreezeIntoRobot(t, 150)
	if f.Contact().Mode != ModeContact {
		t.Fatal("contact not established")
	}
	robot := yellowBot(3, 20, 0, 0, 0, 0)

	// Ball rolls away at 800 mm/s; the robot stays put. Release may
	// only happen once the ball is clear of the contact radius and has
	// matched free motion for the confirmation window.
	var lastX float64
	var lastMs int64
	for tm := int64(160); tm <= 370; tm += 10 {
		lastX = 20 + 0.8*float64(tm-150)
		lastMs = tm
		feed(t, f, frameAt(0, tm, lastX, 0, robot))
	}

	if f.Contact().Mode != ModeFree {
		t.Fatalf("contact not released after rollaway: %+v", f.Contact())
	}

	out := ballStateAt(f, lastMs, []world.RobotPose{robot})
	if out.InContact {
		t.Error("released ball still flagged in contact")
	}
	if diff := math.Abs(out.Pos.X - lastX); diff > 2 {
		t.Errorf("post-release position error = %.3f mm, want < 2", diff)
	}
}

func TestChooseBallPrefersLastCamera(t *testing.T) {
	f := NewGroundCollisionFilter(frameAt(1, 0, 0, 0), testGeometry(), testConfig())
	feed(t, f, frameAt(1, 10, 10, 0))

	frames := []VisionFrame{
		frameAt(2, 20, 21, 0),
		frameAt(1, 20, 40, 0), // larger deviation but the trusted camera
		frameAt(0, 20, 20, 0),
	}
	for i := 0; i < 10; i++ {
		if got := f.ChooseBall(frames); got != 1 {
			t.Fatalf("ChooseBall = %d on call %d, want 1", got, i)
		}
	}
}

func TestChooseBallFallsBackToDeviation(t *testing.T) {
	f := NewGroundCollisionFilter(frameAt(1, 0, 0, 0), testGeometry(), testConfig())
	feed(t, f, frameAt(1, 10, 10, 0))

	frames := []VisionFrame{
		frameAt(2, 20, 22, 0), // close to the prediction
		frameAt(0, 20, 90, 0), // far off despite the lower camera id
	}
	if got := f.ChooseBall(frames); got != 0 {
		t.Errorf("ChooseBall = %d, want 0 (smallest deviation)", got)
	}
}

func TestChooseBallTieBreaksOnCameraID(t *testing.T) {
	f := NewGroundCollisionFilter(frameAt(1, 0, 0, 0), testGeometry(), testConfig())
	feed(t, f, frameAt(1, 10, 10, 0))

	// Identical positions give identical deviations.
	frames := []VisionFrame{
		frameAt(3, 20, 30, 0),
		frameAt(2, 20, 30, 0),
	}
	if got := f.ChooseBall(frames); got != 1 {
		t.Errorf("ChooseBall = %d, want 1 (lowest camera id)", got)
	}

	if got := f.ChooseBall(nil); got != -1 {
		t.Errorf("ChooseBall(nil) = %d, want -1", got)
	}
}

func TestDuplicateIsIndependent(t *testing.T) {
	f := NewGroundCollisionFilter(frameAt(0, 0, 0, 0), testGeometry(), testConfig())
	for tm := int64(10); tm <= 50; tm += 10 {
		feed(t, f, frameAt(0, tm, float64(tm), 0))
	}

	dup := f.Duplicate(0)
	want := ballStateAt(dup, 50, nil)

	// Only the original sees new detections, swerving off in y.
	for tm := int64(60); tm <= 120; tm += 10 {
		feed(t, f, frameAt(0, tm, 50, float64(tm-50)*2))
	}

	if got := ballStateAt(dup, 50, nil); got != want {
		t.Errorf("duplicate state changed after original updates:\n got %+v\nwant %+v", got, want)
	}

	// And the duplicate advancing must not touch the original.
	origWant := ballStateAt(f, 120, nil)
	feed(t, dup, frameAt(0, 60, 58, 0))
	if got := ballStateAt(f, 120, nil); got != origWant {
		t.Errorf("original state changed after duplicate updates:\n got %+v\nwant %+v", got, origWant)
	}
}

func TestWriteBallStateNeverEmpty(t *testing.T) {
	f := NewGroundCollisionFilter(frameAt(0, 0, 300, -200), testGeometry(), testConfig())

	out := ballStateAt(f, 100, nil)
	if math.IsNaN(out.Pos.X) || math.IsNaN(out.Pos.Y) {
		t.Error("extrapolation from a single detection produced NaN")
	}
	if math.Abs(out.Pos.X-300) > 1 || math.Abs(out.Pos.Y+200) > 1 {
		t.Errorf("single-detection extrapolation = %v, want near (300, -200)", out.Pos)
	}
}

func TestLaggedEstimatorStaysBehind(t *testing.T) {
	f := NewGroundCollisionFilter(frameAt(0, 0, 0, 0), testGeometry(), testConfig())
	for tm := int64(10); tm <= 200; tm += 10 {
		feed(t, f, frameAt(0, tm, float64(tm), 0))
	}

	lag := testConfig().LagDelta.Nanoseconds()
	if got := f.past.LastTimeNs(); got > f.lastAccepted-lag {
		t.Errorf("lagged estimator at %d ns, ahead of lag window ending %d",
			got, f.lastAccepted-lag)
	}
	// It must still be advancing, not stuck at the seed.
	if f.past.LastTimeNs() == 0 {
		t.Error("lagged estimator never advanced")
	}
}
