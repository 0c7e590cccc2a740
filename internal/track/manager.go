package track

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/golang/geo/r2"

	"github.com/smallsize-vision/balltrack/internal/geo"
	"github.com/smallsize-vision/balltrack/internal/timeutil"
	"github.com/smallsize-vision/balltrack/internal/vision"
	"github.com/smallsize-vision/balltrack/internal/world"
)

const (
	// gatingRadiusMM bounds track association: a detection farther than
	// this from every live track's prediction seeds a new ball.
	gatingRadiusMM = 1000.0

	// scoreAlpha is the weight of the newest accept/reject outcome in a
	// hypothesis score; roughly the last five frames dominate.
	scoreAlpha = 0.2

	// dupScoreFactor discounts a freshly duplicated hypothesis so the
	// incumbent keeps publishing until the copy earns its own history.
	dupScoreFactor = 0.9

	// debugRingSize is how many emitted debug frames are retained for
	// the diagnostics API.
	debugRingSize = 32
)

// hypothesis is one per-camera view of a physical ball. The score is an
// exponentially weighted accept ratio used to pick the publishing view.
type hypothesis struct {
	filter     BallFilter
	camera     uint32
	score      float64
	lastFeedNs int64
}

// ballGroup collects the per-camera hypotheses of one physical ball.
type ballGroup struct {
	hypos map[uint32]*hypothesis
}

// best returns the hypothesis with the highest score, breaking ties on
// the lowest camera id so repeated calls pick the same view.
func (g *ballGroup) best() *hypothesis {
	var out *hypothesis
	for cam, h := range g.hypos {
		switch {
		case out == nil:
			out = h
		case h.score > out.score:
			out = h
		case h.score == out.score && cam < out.camera:
			out = h
		}
	}
	return out
}

// ManagerStats is a point-in-time summary for the stats endpoint.
type ManagerStats struct {
	FramesProcessed  uint64 `json:"frames_processed"`
	BallsSeen        uint64 `json:"balls_seen"`
	SeedsDropped     uint64 `json:"seeds_dropped"`
	ActiveGroups     int    `json:"active_groups"`
	ActiveHypotheses int    `json:"active_hypotheses"`
	RobotsTracked    int    `json:"robots_tracked"`
	LastFrameNs      int64  `json:"last_frame_ns"`
}

// Manager owns the set of ball tracks and the per-tick robot poses. It
// implements vision.FrameHandler: detections flow in through
// HandleFrame, arbitrated world snapshots flow out through Snapshot and
// the Run publish loop. All mutation happens under the write lock, so
// each track sees a strictly serial frame stream.
type Manager struct {
	cfg   FilterConfig
	clock timeutil.Clock

	mu       sync.RWMutex
	geom     vision.Geometry
	groups   []*ballGroup
	robots   map[world.RobotID]world.RobotPose
	lastBall world.BallState
	ballInit bool
	debug    *DebugCollector
	recent   []*DebugFrame
	stats    ManagerStats
}

var _ vision.FrameHandler = (*Manager)(nil)

// NewManager creates a Manager with the given filter configuration.
func NewManager(cfg FilterConfig, clock timeutil.Clock) *Manager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Manager{
		cfg:    cfg,
		clock:  clock,
		robots: make(map[world.RobotID]world.RobotPose),
		debug:  NewDebugCollector(),
	}
}

// SetDebugEnabled toggles collection of per-frame filter internals.
func (m *Manager) SetDebugEnabled(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debug.SetEnabled(on)
}

// RecentDebugFrames returns the retained debug frames, oldest first.
func (m *Manager) RecentDebugFrames() []*DebugFrame {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*DebugFrame, len(m.recent))
	copy(out, m.recent)
	return out
}

// Geometry returns the last field geometry received from vision.
func (m *Manager) Geometry() vision.Geometry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.geom
}

// Config returns the filter configuration the manager was built with.
func (m *Manager) Config() FilterConfig {
	return m.cfg
}

// TrackInfo summarises one live hypothesis for the diagnostics API.
type TrackInfo struct {
	Group        int     `json:"group"`
	Camera       uint32  `json:"camera"`
	Score        float64 `json:"score"`
	LastFeedNs   int64   `json:"last_feed_ns"`
	InContact    bool    `json:"in_contact"`
	ContactRobot string  `json:"contact_robot,omitempty"`
	Publishing   bool    `json:"publishing"`
}

// TrackInfos lists every hypothesis in a stable order: group index, then
// camera id. Exactly one entry is marked Publishing while any track lives.
func (m *Manager) TrackInfos() []TrackInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	publishing := m.bestHypothesisLocked()
	var infos []TrackInfo
	for gi, g := range m.groups {
		cams := make([]uint32, 0, len(g.hypos))
		for cam := range g.hypos {
			cams = append(cams, cam)
		}
		sort.Slice(cams, func(i, j int) bool { return cams[i] < cams[j] })
		for _, cam := range cams {
			h := g.hypos[cam]
			info := TrackInfo{
				Group:      gi,
				Camera:     cam,
				Score:      h.score,
				LastFeedNs: h.lastFeedNs,
				Publishing: h == publishing,
			}
			if cf, ok := h.filter.(interface{ Contact() ContactState }); ok {
				if c := cf.Contact(); c.Mode == ModeContact {
					info.InContact = true
					info.ContactRobot = c.Robot.String()
				}
			}
			infos = append(infos, info)
		}
	}
	return infos
}

// Stats returns a snapshot of the manager counters.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.stats
	s.ActiveGroups = len(m.groups)
	s.ActiveHypotheses = 0
	for _, g := range m.groups {
		s.ActiveHypotheses += len(g.hypos)
	}
	s.RobotsTracked = len(m.robots)
	return s
}

// HandleGeometry implements vision.FrameHandler. Live tracks pick up
// the new bounds for their acceptance gate.
func (m *Manager) HandleGeometry(g vision.Geometry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.geom = g
	for _, gr := range m.groups {
		for _, h := range gr.hypos {
			if gs, ok := h.filter.(interface{ SetGeometry(vision.Geometry) }); ok {
				gs.SetGeometry(g)
			}
		}
	}
	vision.Diagf("geometry update: field %.0fx%.0f mm boundary %.0f mm",
		g.FieldLengthMM, g.FieldWidthMM, g.BoundaryWidthMM)
}

// HandleFrame implements vision.FrameHandler. One call processes one
// camera frame: robot poses first, then every ball detection routed to
// its track, then pruning of tracks that stopped being fed.
func (m *Manager) HandleFrame(frame *vision.DetectionFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.debug.BeginFrame(uint64(frame.FrameNumber))
	m.stats.FramesProcessed++
	m.stats.LastFrameNs = frame.TimeNs

	m.observeRobotsLocked(frame)
	robots := m.robotSnapshotLocked()

	if len(frame.Balls) > 0 {
		m.stats.BallsSeen += uint64(len(frame.Balls))
		m.feedBallsLocked(frame, robots)
	}

	m.pruneLocked(frame.TimeNs)
	m.publishBallLocked(frame.TimeNs, robots)

	if df := m.debug.Emit(); df != nil {
		m.recent = append(m.recent, df)
		if len(m.recent) > debugRingSize {
			m.recent = m.recent[1:]
		}
	}
}

// observeRobotsLocked folds the frame's robot observations into the
// pose map, deriving velocity by finite difference against the previous
// observation of the same robot.
func (m *Manager) observeRobotsLocked(frame *vision.DetectionFrame) {
	for _, obs := range frame.Robots {
		var vel r2.Point
		if prev, ok := m.robots[obs.ID]; ok && frame.TimeNs > prev.TimeNs {
			dt := float64(frame.TimeNs-prev.TimeNs) / 1e9
			if dt >= MinDt {
				vel = obs.Pos.Sub(prev.Pos).Mul(1 / dt)
			}
		}
		m.robots[obs.ID] = world.RobotPose{
			ID:     obs.ID,
			Pos:    obs.Pos,
			Facing: obs.Facing,
			Vel:    vel,
			TimeNs: frame.TimeNs,
		}
	}
}

// robotSnapshotLocked returns the tracked poses in a deterministic
// order so contact proximity ties resolve the same way every frame.
func (m *Manager) robotSnapshotLocked() []world.RobotPose {
	poses := make([]world.RobotPose, 0, len(m.robots))
	for _, p := range m.robots {
		poses = append(poses, p)
	}
	sort.Slice(poses, func(i, j int) bool {
		if poses[i].ID.Team != poses[j].ID.Team {
			return poses[i].ID.Team < poses[j].ID.Team
		}
		return poses[i].ID.Number < poses[j].ID.Number
	})
	return poses
}

// feedBallsLocked routes the frame's ball detections to tracks. All
// detections are associated first, then each track arbitrates among its
// own candidates, so a frame with reflections feeds a track exactly once.
func (m *Manager) feedBallsLocked(frame *vision.DetectionFrame, robots []world.RobotPose) {
	candidates := make([][]VisionFrame, len(m.groups))
	var fresh []VisionFrame
	for _, d := range frame.Balls {
		vf := VisionFrame{Detection: d, Robots: robots}
		if gi := m.associateLocked(d); gi >= 0 {
			candidates[gi] = append(candidates[gi], vf)
		} else {
			fresh = append(fresh, vf)
		}
	}

	for gi, c := range candidates {
		if len(c) == 0 {
			continue
		}
		g := m.groups[gi]
		idx := g.best().filter.ChooseBall(c)
		if idx < 0 {
			continue
		}
		m.feedGroupLocked(g, c[idx])
	}

	for _, vf := range fresh {
		// A detection may associate with a group seeded earlier in this
		// same loop (a reflection of a brand-new ball).
		if gi := m.associateLocked(vf.Detection); gi >= 0 {
			m.feedGroupLocked(m.groups[gi], vf)
			continue
		}
		m.seedGroupLocked(vf)
	}
}

// associateLocked returns the group index whose publishing hypothesis
// predicts closest to the detection, or -1 when every track is farther
// than the gating radius.
func (m *Manager) associateLocked(d vision.Detection) int {
	bestIdx := -1
	bestDev := gatingRadiusMM
	for gi, g := range m.groups {
		h := g.best()
		if h == nil {
			continue
		}
		var out world.BallState
		h.filter.WriteBallState(&out, d.TimeNs, nil)
		if dev := geo.Dist(out.Pos, d.Pos); dev < bestDev {
			bestDev = dev
			bestIdx = gi
		}
	}
	return bestIdx
}

// feedGroupLocked delivers one chosen detection to the group's
// hypothesis for that camera, duplicating the best hypothesis when the
// camera has no view of this ball yet.
func (m *Manager) feedGroupLocked(g *ballGroup, vf VisionFrame) {
	cam := vf.Detection.CameraID
	h := g.hypos[cam]
	if h == nil {
		src := g.best()
		h = &hypothesis{
			filter:     src.filter.Duplicate(cam),
			camera:     cam,
			score:      src.score * dupScoreFactor,
			lastFeedNs: src.lastFeedNs,
		}
		g.hypos[cam] = h
		vision.Tracef("duplicated ball hypothesis for camera %d", cam)
	}

	if h.filter.AcceptDetection(vf) {
		h.filter.ProcessVisionFrame(vf)
		h.lastFeedNs = vf.Detection.TimeNs
		h.score += scoreAlpha * (1 - h.score)
	} else {
		h.score *= 1 - scoreAlpha
	}
}

// seedGroupLocked starts a new ball track from an unassociated
// detection, up to the configured ball budget.
func (m *Manager) seedGroupLocked(vf VisionFrame) {
	if len(m.groups) >= m.cfg.MaxBalls {
		m.stats.SeedsDropped++
		return
	}
	f := NewGroundCollisionFilter(vf, m.geom, m.cfg)
	f.SetDebug(m.debug)
	g := &ballGroup{hypos: map[uint32]*hypothesis{
		vf.Detection.CameraID: {
			filter:     f,
			camera:     vf.Detection.CameraID,
			score:      1,
			lastFeedNs: vf.Detection.TimeNs,
		},
	}}
	m.groups = append(m.groups, g)
	vision.Opsf("new ball track at (%.0f, %.0f) from camera %d",
		vf.Detection.Pos.X, vf.Detection.Pos.Y, vf.Detection.CameraID)
}

// pruneLocked drops hypotheses that have not been fed within the track
// timeout, then any group left with no hypotheses, then robots that
// vision stopped reporting.
func (m *Manager) pruneLocked(nowNs int64) {
	cutoff := nowNs - m.cfg.TrackTimeout.Nanoseconds()

	kept := m.groups[:0]
	for _, g := range m.groups {
		for cam, h := range g.hypos {
			if h.lastFeedNs < cutoff {
				delete(g.hypos, cam)
			}
		}
		if len(g.hypos) > 0 {
			kept = append(kept, g)
		} else {
			vision.Diagf("ball track expired")
		}
	}
	m.groups = kept

	for id, p := range m.robots {
		if p.TimeNs < cutoff {
			delete(m.robots, id)
		}
	}
}

// publishBallLocked refreshes the last published ball from the highest
// scoring hypothesis across groups. With no live groups the previous
// ball is retained, so consumers always see a ball once one was seen.
func (m *Manager) publishBallLocked(nowNs int64, robots []world.RobotPose) {
	h := m.bestHypothesisLocked()
	if h == nil {
		return
	}
	h.filter.WriteBallState(&m.lastBall, nowNs, robots)
	m.ballInit = true
}

func (m *Manager) bestHypothesisLocked() *hypothesis {
	var out *hypothesis
	for _, g := range m.groups {
		h := g.best()
		if h == nil {
			continue
		}
		if out == nil || h.score > out.score {
			out = h
		}
	}
	return out
}

// Snapshot produces the world state at the clock's current time.
// Callable concurrently with frame handling; the ball is extrapolated
// from the publishing hypothesis without mutating it.
func (m *Manager) Snapshot() *world.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.clock.NowNs()
	snap := &world.Snapshot{
		Schema: world.SchemaVersion,
		TimeNs: now,
		Robots: m.robotSnapshotLocked(),
	}
	if h := m.bestHypothesisLocked(); h != nil {
		h.filter.WriteBallState(&snap.Ball, now, snap.Robots)
	} else if m.ballInit {
		snap.Ball = m.lastBall
	}
	return snap
}

// HasBall reports whether any ball has ever been tracked.
func (m *Manager) HasBall() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ballInit || len(m.groups) > 0
}

// Run publishes snapshots to sink at the configured rate until ctx is
// cancelled. Always returns the context's error.
func (m *Manager) Run(ctx context.Context, sink func(*world.Snapshot)) error {
	hz := m.cfg.PublishHz
	if hz <= 0 {
		hz = 60
	}
	ticker := m.clock.NewTicker(time.Second / time.Duration(hz))
	defer ticker.Stop()

	vision.Opsf("publishing world snapshots at %.0f Hz", hz)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			if sink != nil {
				sink(m.Snapshot())
			}
		}
	}
}
