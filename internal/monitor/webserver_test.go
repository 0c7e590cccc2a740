package monitor

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang/geo/r2"

	"github.com/smallsize-vision/balltrack/internal/db"
	"github.com/smallsize-vision/balltrack/internal/timeutil"
	"github.com/smallsize-vision/balltrack/internal/track"
	"github.com/smallsize-vision/balltrack/internal/vision"
	"github.com/smallsize-vision/balltrack/internal/world"
)

func newTestServer(t *testing.T, database *db.DB) (*WebServer, *track.Manager, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	m := track.NewManager(track.DefaultFilterConfig(), clock)
	m.HandleGeometry(vision.Geometry{FieldLengthMM: 9000, FieldWidthMM: 6000, BoundaryWidthMM: 300})
	ws := NewWebServer(WebServerConfig{
		Address:    "127.0.0.1:0",
		Manager:    m,
		Stats:      NewPipelineStats(clock),
		DB:         database,
		VisionAddr: vision.DefaultMulticastAddr,
	})
	return ws, m, clock
}

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func monFrame(cam uint32, tMs int64, balls []r2.Point, robots ...vision.RobotObservation) *vision.DetectionFrame {
	f := &vision.DetectionFrame{
		CameraID:    cam,
		FrameNumber: uint32(tMs),
		TimeNs:      tMs * int64(time.Millisecond),
		Robots:      robots,
	}
	for _, p := range balls {
		f.Balls = append(f.Balls, vision.Detection{
			CameraID:   cam,
			TimeNs:     f.TimeNs,
			Pos:        p,
			Confidence: 0.9,
		})
	}
	return f
}

// feedBall drives a ball moving 1 mm/ms along +x through the manager and
// parks the clock at the last frame time.
func feedBall(m *track.Manager, clock *timeutil.MockClock, toMs int64) {
	for tm := int64(0); tm <= toMs; tm += 10 {
		m.HandleFrame(monFrame(0, tm, []r2.Point{{X: float64(tm), Y: 0}}))
	}
	clock.Set(time.Unix(0, toMs*int64(time.Millisecond)))
}

func serveHTTP(mux http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func TestWebServer_HealthHandler(t *testing.T) {
	ws, _, _ := newTestServer(t, nil)

	rr := serveHTTP(ws.setupRoutes(), "GET", "/health")
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %q, want application/json", ct)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"status": "ok"`) {
		t.Errorf("body missing status: %s", body)
	}
	if !strings.Contains(body, `"service": "balltrack"`) {
		t.Errorf("body missing service: %s", body)
	}
}

func TestWebServer_StatusPage(t *testing.T) {
	ws, m, clock := newTestServer(t, nil)
	mux := ws.setupRoutes()

	rr := serveHTTP(mux, "GET", "/")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "balltrack") {
		t.Errorf("page missing service name: %s", body)
	}
	if !strings.Contains(body, vision.DefaultMulticastAddr) {
		t.Errorf("page missing vision address")
	}
	if !strings.Contains(body, "no ball tracked yet") {
		t.Errorf("page should report no ball before any frames")
	}

	feedBall(m, clock, 50)
	body = serveHTTP(mux, "GET", "/").Body.String()
	if !strings.Contains(body, "mm/s") {
		t.Errorf("page missing ball speed after tracking: %s", body)
	}

	if rr := serveHTTP(mux, "GET", "/nonexistent"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", rr.Code)
	}
}

func TestWebServer_BallHandler(t *testing.T) {
	ws, m, clock := newTestServer(t, nil)
	mux := ws.setupRoutes()

	rr := serveHTTP(mux, "GET", "/api/ball")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status before frames = %d, want 404", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "no ball tracked yet") {
		t.Errorf("unexpected error body: %s", rr.Body.String())
	}

	feedBall(m, clock, 50)

	rr = serveHTTP(mux, "GET", "/api/ball")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	var ball BallResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &ball); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if diff := math.Abs(ball.X - 50); diff > 2 {
		t.Errorf("ball x = %.2f, want 50 +-2", ball.X)
	}
	if ball.InContact {
		t.Errorf("free rolling ball reported in contact")
	}
	if ball.Speed <= 0 {
		t.Errorf("ball speed = %.2f, want > 0", ball.Speed)
	}
}

func TestWebServer_WorldHandler(t *testing.T) {
	ws, m, clock := newTestServer(t, nil)
	mux := ws.setupRoutes()

	bot := vision.RobotObservation{
		ID:         world.RobotID{Team: world.TeamYellow, Number: 3},
		Pos:        r2.Point{X: 500, Y: 200},
		Facing:     1.0,
		Confidence: 0.9,
	}
	for tm := int64(0); tm <= 50; tm += 10 {
		m.HandleFrame(monFrame(0, tm, []r2.Point{{X: float64(tm), Y: 0}}, bot))
	}
	clock.Set(time.Unix(0, 50*int64(time.Millisecond)))

	rr := serveHTTP(mux, "GET", "/api/world")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var w WorldResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &w); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if w.Schema != world.SchemaVersion {
		t.Errorf("schema = %q, want %q", w.Schema, world.SchemaVersion)
	}
	if w.Ball == nil {
		t.Fatalf("world missing ball")
	}
	if len(w.Robots) != 1 || w.Robots[0].ID != "Y3" {
		t.Errorf("robots = %+v, want one Y3", w.Robots)
	}
}

func TestWebServer_StatsHandler(t *testing.T) {
	ws, m, clock := newTestServer(t, nil)
	mux := ws.setupRoutes()
	feedBall(m, clock, 50)

	rr := serveHTTP(mux, "GET", "/api/stats")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var st StatsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st.Service != "balltrack" {
		t.Errorf("service = %q", st.Service)
	}
	if st.Manager.FramesProcessed != 6 {
		t.Errorf("frames processed = %d, want 6", st.Manager.FramesProcessed)
	}
}

func TestWebServer_TracksHandler(t *testing.T) {
	ws, m, clock := newTestServer(t, nil)
	mux := ws.setupRoutes()

	rr := serveHTTP(mux, "GET", "/api/tracks")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var infos []track.TrackInfo
	if err := json.Unmarshal(rr.Body.Bytes(), &infos); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("tracks before frames = %+v, want none", infos)
	}

	feedBall(m, clock, 50)
	rr = serveHTTP(mux, "GET", "/api/tracks")
	if err := json.Unmarshal(rr.Body.Bytes(), &infos); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(infos) != 1 {
		t.Fatalf("tracks = %+v, want one", infos)
	}
	if !infos[0].Publishing || infos[0].Camera != 0 {
		t.Errorf("track = %+v, want publishing on camera 0", infos[0])
	}
}

func TestWebServer_ConfigHandler(t *testing.T) {
	ws, _, _ := newTestServer(t, nil)

	rr := serveHTTP(ws.setupRoutes(), "GET", "/api/config")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var cfg ConfigResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cfg.Schema != world.SchemaVersion {
		t.Errorf("schema = %q, want %q", cfg.Schema, world.SchemaVersion)
	}
	if cfg.Filter.DeviationToleranceMM != 35 {
		t.Errorf("deviation tolerance = %v, want 35", cfg.Filter.DeviationToleranceMM)
	}
	if cfg.Filter.LagDeltaMs != 70 {
		t.Errorf("lag delta = %v ms, want 70", cfg.Filter.LagDeltaMs)
	}
	if cfg.Filter.MaxBalls != 4 {
		t.Errorf("max balls = %d, want 4", cfg.Filter.MaxBalls)
	}
	if cfg.Geometry.FieldLengthMM != 9000 {
		t.Errorf("field length = %v, want 9000", cfg.Geometry.FieldLengthMM)
	}
}

func TestWebServer_DebugToggle(t *testing.T) {
	ws, m, clock := newTestServer(t, nil)
	mux := ws.setupRoutes()

	rr := serveHTTP(mux, "POST", "/api/debug?enabled=true")
	if rr.Code != http.StatusOK {
		t.Fatalf("toggle status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "true") {
		t.Errorf("toggle body = %s", rr.Body.String())
	}

	feedBall(m, clock, 50)

	rr = serveHTTP(mux, "GET", "/api/debug")
	if rr.Code != http.StatusOK {
		t.Fatalf("fetch status = %d, want 200", rr.Code)
	}
	var du DebugResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &du); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(du.Frames) == 0 {
		t.Errorf("no debug frames retained while enabled")
	}

	if rr := serveHTTP(mux, "POST", "/api/debug"); rr.Code != http.StatusBadRequest {
		t.Errorf("toggle without parameter status = %d, want 400", rr.Code)
	}
}

func TestWebServer_MethodNotAllowed(t *testing.T) {
	ws, _, _ := newTestServer(t, nil)

	rr := serveHTTP(ws.setupRoutes(), "DELETE", "/api/ball")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rr.Code)
	}
}

func TestWebServer_SessionsWithoutDB(t *testing.T) {
	ws, _, _ := newTestServer(t, nil)
	mux := ws.setupRoutes()

	if rr := serveHTTP(mux, "GET", "/api/sessions"); rr.Code != http.StatusNotFound {
		t.Errorf("sessions status = %d, want 404", rr.Code)
	}
	if rr := serveHTTP(mux, "GET", "/api/contacts"); rr.Code != http.StatusNotFound {
		t.Errorf("contacts status = %d, want 404", rr.Code)
	}
	// Without a database the admin prefix falls through to the status
	// page handler, which rejects unknown paths.
	if rr := serveHTTP(mux, "GET", "/debug/"); rr.Code != http.StatusNotFound {
		t.Errorf("admin status = %d, want 404", rr.Code)
	}
}

func TestWebServer_SessionsAndContacts(t *testing.T) {
	database := newTestDB(t)
	id, err := database.BeginSession("live", "test run", 1000)
	if err != nil {
		t.Fatalf("BeginSession: %v", err)
	}
	robot := world.RobotID{Team: world.TeamYellow, Number: 3}
	cid, err := database.RecordContactStart(id, robot, 2000)
	if err != nil {
		t.Fatalf("RecordContactStart: %v", err)
	}
	if err := database.RecordContactEnd(cid, 3000); err != nil {
		t.Fatalf("RecordContactEnd: %v", err)
	}

	ws, _, _ := newTestServer(t, database)
	ws.sessionID = func() string { return id }
	mux := ws.setupRoutes()

	rr := serveHTTP(mux, "GET", "/api/sessions")
	if rr.Code != http.StatusOK {
		t.Fatalf("sessions status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	var sessions []db.Session
	if err := json.Unmarshal(rr.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != id {
		t.Fatalf("sessions = %+v, want the one begun above", sessions)
	}
	if sessions[0].Schema != world.SchemaVersion {
		t.Errorf("session schema = %q, want %q", sessions[0].Schema, world.SchemaVersion)
	}

	// No explicit session parameter: the live recording session is used.
	rr = serveHTTP(mux, "GET", "/api/contacts")
	if rr.Code != http.StatusOK {
		t.Fatalf("contacts status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	var events []db.ContactEvent
	if err := json.Unmarshal(rr.Body.Bytes(), &events); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(events) != 1 || events[0].Robot != "Y3" || events[0].EndedNs != 3000 {
		t.Errorf("events = %+v, want one closed Y3 contact", events)
	}

	rr = serveHTTP(mux, "GET", "/api/contacts?session=missing-session")
	if rr.Code != http.StatusOK {
		t.Fatalf("contacts status = %d, want 200", rr.Code)
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &events); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events for unknown session = %+v, want none", events)
	}
}

func TestWebServer_ContactsWithoutSession(t *testing.T) {
	ws, _, _ := newTestServer(t, newTestDB(t))

	rr := serveHTTP(ws.setupRoutes(), "GET", "/api/contacts")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestWebServer_AdminRoutesMounted(t *testing.T) {
	ws, _, _ := newTestServer(t, newTestDB(t))

	// The tsweb debug handler applies its own access policy; mounting is
	// what matters here, so anything but a 404 passes.
	rr := serveHTTP(ws.setupRoutes(), "GET", "/debug/")
	if rr.Code == http.StatusNotFound {
		t.Errorf("admin routes not mounted: status = %d", rr.Code)
	}
}
