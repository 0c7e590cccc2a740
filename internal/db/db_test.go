package db

import (
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/google/go-cmp/cmp"

	"github.com/smallsize-vision/balltrack/internal/world"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestNewDBAppliesMigrations(t *testing.T) {
	database := newTestDB(t)

	for _, table := range []string{"sessions", "ball_states", "contact_events", "camera_stats"} {
		var count int
		err := database.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table,
		).Scan(&count)
		if err != nil {
			t.Fatalf("schema query failed: %v", err)
		}
		if count != 1 {
			t.Errorf("table %s missing after migration", table)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	database := newTestDB(t)

	id, err := database.BeginSession("live", "bench test", 1000)
	if err != nil {
		t.Fatalf("BeginSession failed: %v", err)
	}
	if id == "" {
		t.Fatal("empty session id")
	}

	sessions, err := database.Sessions(10)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	s := sessions[0]
	if s.ID != id || s.StartedNs != 1000 || s.Source != "live" || s.Notes != "bench test" {
		t.Errorf("session = %+v", s)
	}
	if s.Schema != world.SchemaVersion {
		t.Errorf("schema = %q, want %q", s.Schema, world.SchemaVersion)
	}
	if s.EndedNs != 0 {
		t.Errorf("ended_ns = %d before EndSession", s.EndedNs)
	}

	if err := database.EndSession(id, 2000); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	sessions, _ = database.Sessions(10)
	if sessions[0].EndedNs != 2000 {
		t.Errorf("ended_ns = %d, want 2000", sessions[0].EndedNs)
	}
}

func TestRecordAndQueryBallStates(t *testing.T) {
	database := newTestDB(t)
	id, _ := database.BeginSession("live", "", 0)

	states := []world.BallState{
		{Pos: r2.Point{X: 100, Y: 200}, Vel: r2.Point{X: 1000, Y: 0}, TimeNs: 10},
		{Pos: r2.Point{X: 110, Y: 200}, Vel: r2.Point{X: 1000, Y: 0}, TimeNs: 20},
		{
			Pos: r2.Point{X: 120, Y: 200}, TimeNs: 30,
			InContact:    true,
			ContactRobot: world.RobotID{Team: world.TeamYellow, Number: 3},
		},
	}
	for i := range states {
		if err := database.RecordBallState(id, &states[i]); err != nil {
			t.Fatalf("RecordBallState failed: %v", err)
		}
	}

	rows, err := database.RecentBallStates(id, 0)
	if err != nil {
		t.Fatalf("RecentBallStates failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if rows[0].TimeNs != 10 || rows[2].TimeNs != 30 {
		t.Errorf("rows not in time order: %d..%d", rows[0].TimeNs, rows[2].TimeNs)
	}
	if rows[0].X != 100 || rows[0].VX != 1000 || rows[0].Speed != 1000 {
		t.Errorf("first row = %+v", rows[0])
	}
	if rows[0].InContact || rows[0].ContactRobot != "" {
		t.Errorf("free row flagged in contact: %+v", rows[0])
	}
	if !rows[2].InContact || rows[2].ContactRobot != "Y3" {
		t.Errorf("contact row = %+v", rows[2])
	}
}

func TestRecentBallStatesLimit(t *testing.T) {
	database := newTestDB(t)
	id, _ := database.BeginSession("replay", "", 0)

	for i := int64(1); i <= 10; i++ {
		b := world.BallState{Pos: r2.Point{X: float64(i)}, TimeNs: i}
		if err := database.RecordBallState(id, &b); err != nil {
			t.Fatalf("RecordBallState failed: %v", err)
		}
	}

	rows, err := database.RecentBallStates(id, 5)
	if err != nil {
		t.Fatalf("RecentBallStates failed: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("rows = %d, want 5", len(rows))
	}
	// Newest five, returned oldest first.
	if rows[0].TimeNs != 6 || rows[4].TimeNs != 10 {
		t.Errorf("window = %d..%d, want 6..10", rows[0].TimeNs, rows[4].TimeNs)
	}
}

func TestContactEvents(t *testing.T) {
	database := newTestDB(t)
	id, _ := database.BeginSession("live", "", 0)

	y5 := world.RobotID{Team: world.TeamYellow, Number: 5}
	eventID, err := database.RecordContactStart(id, y5, 100)
	if err != nil {
		t.Fatalf("RecordContactStart failed: %v", err)
	}

	events, err := database.ContactEvents(id)
	if err != nil {
		t.Fatalf("ContactEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].Robot != "Y5" || events[0].EndedNs != 0 {
		t.Fatalf("open event = %+v", events)
	}

	if err := database.RecordContactEnd(eventID, 250); err != nil {
		t.Fatalf("RecordContactEnd failed: %v", err)
	}
	events, _ = database.ContactEvents(id)
	if events[0].EndedNs != 250 {
		t.Errorf("ended_ns = %d, want 250", events[0].EndedNs)
	}
}

func TestUpsertCameraStats(t *testing.T) {
	database := newTestDB(t)
	id, _ := database.BeginSession("live", "", 0)

	if err := database.UpsertCameraStats(id, CameraStat{CameraID: 1, Frames: 10, Balls: 8, Rejected: 1, LastTimeNs: 50}); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if err := database.UpsertCameraStats(id, CameraStat{CameraID: 1, Frames: 5, Balls: 4, Rejected: 2, LastTimeNs: 90}); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if err := database.UpsertCameraStats(id, CameraStat{CameraID: 0, Frames: 3}); err != nil {
		t.Fatalf("second camera upsert failed: %v", err)
	}

	stats, err := database.CameraStats(id)
	if err != nil {
		t.Fatalf("CameraStats failed: %v", err)
	}
	want := []CameraStat{
		{CameraID: 0, Frames: 3},
		{CameraID: 1, Frames: 15, Balls: 12, Rejected: 3, LastTimeNs: 90},
	}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("camera stats mismatch (-want +got):\n%s", diff)
	}
}
