// Package monitor is the HTTP diagnostics surface of the balltrack
// daemon: a status page, JSON APIs over the live track manager and the
// recording store, rendered debug charts, and the sqlite admin routes.
package monitor

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/smallsize-vision/balltrack/internal/db"
	"github.com/smallsize-vision/balltrack/internal/httputil"
	"github.com/smallsize-vision/balltrack/internal/track"
	"github.com/smallsize-vision/balltrack/internal/units"
	"github.com/smallsize-vision/balltrack/internal/version"
	"github.com/smallsize-vision/balltrack/internal/vision"
	"github.com/smallsize-vision/balltrack/internal/world"
)

//go:embed status.html
var StatusHTML embed.FS

// WebServer handles the HTTP interface for the tracking pipeline. It
// reads the manager and the recording store; it never feeds them.
type WebServer struct {
	address    string
	manager    *track.Manager
	stats      *PipelineStats
	db         *db.DB
	sessionID  func() string
	visionAddr string
	server     *http.Server
}

// WebServerConfig contains configuration options for the web server.
type WebServerConfig struct {
	Address string
	Manager *track.Manager
	Stats   *PipelineStats

	// DB is optional; without it the session, contact and chart routes
	// answer 404 and the admin routes are not mounted.
	DB *db.DB

	// SessionID optionally reports the live recording session so the
	// session-scoped routes can default to it.
	SessionID func() string

	// VisionAddr is shown on the status page.
	VisionAddr string
}

// NewWebServer creates a new web server with the provided configuration.
func NewWebServer(config WebServerConfig) *WebServer {
	ws := &WebServer{
		address:    config.Address,
		manager:    config.Manager,
		stats:      config.Stats,
		db:         config.DB,
		sessionID:  config.SessionID,
		visionAddr: config.VisionAddr,
	}

	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: ws.setupRoutes(),
	}

	return ws
}

// Start begins the HTTP server in a goroutine and handles graceful shutdown.
func (ws *WebServer) Start(ctx context.Context) error {
	go func() {
		log.Printf("[monitor] serving on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[monitor] failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("[monitor] shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[monitor] HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("[monitor] HTTP server force close error: %v", err)
		}
	}

	log.Printf("[monitor] HTTP server stopped")
	return nil
}

// Close shuts down the web server.
func (ws *WebServer) Close() error {
	if ws.server != nil {
		return ws.server.Close()
	}
	return nil
}

// RegisterRoutes mounts every monitor route on mux. Exposed so a caller
// embedding the monitor in a larger mux can reuse the handlers.
func (ws *WebServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/", ws.handleStatus)
	mux.HandleFunc("/api/stats", ws.handleStats)
	mux.HandleFunc("/api/ball", ws.handleBall)
	mux.HandleFunc("/api/world", ws.handleWorld)
	mux.HandleFunc("/api/tracks", ws.handleTracks)
	mux.HandleFunc("/api/config", ws.handleConfig)
	mux.HandleFunc("/api/debug", ws.handleDebug)
	mux.HandleFunc("/api/sessions", ws.handleSessions)
	mux.HandleFunc("/api/contacts", ws.handleContacts)
	mux.HandleFunc("/charts/speed", ws.handleSpeedChart)
	mux.HandleFunc("/charts/error", ws.handleErrorChart)
	mux.HandleFunc("/charts/track", ws.handleTrackChart)

	if ws.db != nil {
		ws.db.AttachAdminRoutes(mux)
	}
}

func (ws *WebServer) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	ws.RegisterRoutes(mux)
	return mux
}

// currentSession resolves the session a request refers to: the explicit
// query parameter wins, then the live recording session.
func (ws *WebServer) currentSession(r *http.Request) string {
	if s := r.URL.Query().Get("session"); s != "" {
		return s
	}
	if ws.sessionID != nil {
		return ws.sessionID()
	}
	return ""
}

// queryLimit parses a bounded 'limit' query parameter.
func queryLimit(r *http.Request, def, max int) int {
	limit := def
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= max {
			limit = v
		}
	}
	return limit
}

// BallResponse is the /api/ball payload.
type BallResponse struct {
	TimeNs       int64   `json:"time_ns"`
	X            float64 `json:"x_mm"`
	Y            float64 `json:"y_mm"`
	VX           float64 `json:"vx_mms"`
	VY           float64 `json:"vy_mms"`
	Speed        float64 `json:"speed_mms"`
	InContact    bool    `json:"in_contact"`
	ContactRobot string  `json:"contact_robot,omitempty"`
}

func ballResponse(b *world.BallState) *BallResponse {
	out := &BallResponse{
		TimeNs:    b.TimeNs,
		X:         b.Pos.X,
		Y:         b.Pos.Y,
		VX:        b.Vel.X,
		VY:        b.Vel.Y,
		Speed:     b.Speed(),
		InContact: b.InContact,
	}
	if b.InContact {
		out.ContactRobot = b.ContactRobot.String()
	}
	return out
}

// RobotResponse is one robot pose in the /api/world payload.
type RobotResponse struct {
	ID     string  `json:"id"`
	X      float64 `json:"x_mm"`
	Y      float64 `json:"y_mm"`
	Facing float64 `json:"facing_rad"`
	VX     float64 `json:"vx_mms"`
	VY     float64 `json:"vy_mms"`
}

// WorldResponse is the /api/world payload.
type WorldResponse struct {
	Schema string          `json:"schema"`
	TimeNs int64           `json:"time_ns"`
	Ball   *BallResponse   `json:"ball,omitempty"`
	Robots []RobotResponse `json:"robots"`
}

// StatsResponse is the /api/stats payload.
type StatsResponse struct {
	Service  string             `json:"service"`
	Version  string             `json:"version"`
	Uptime   string             `json:"uptime"`
	Session  string             `json:"session,omitempty"`
	Pipeline *StatsSnapshot     `json:"pipeline,omitempty"`
	Manager  track.ManagerStats `json:"manager"`
}

// ConfigResponse is the /api/config payload.
type ConfigResponse struct {
	Schema   string           `json:"schema"`
	Filter   FilterConfigJSON `json:"filter"`
	Geometry vision.Geometry  `json:"geometry"`
}

// FilterConfigJSON mirrors track.FilterConfig with wire-friendly units.
type FilterConfigJSON struct {
	DeviationToleranceMM float64 `json:"deviation_tolerance_mm"`
	ContactRadiusMM      float64 `json:"contact_radius_mm"`
	LagDeltaMs           float64 `json:"lag_delta_ms"`
	DeviationFrames      int     `json:"deviation_frames"`
	ReleaseFrames        int     `json:"release_frames"`
	MaxBallSpeedMMs      float64 `json:"max_ball_speed_mms"`
	JumpSlackMM          float64 `json:"jump_slack_mm"`
	BoundarySlackMM      float64 `json:"boundary_slack_mm"`
	ProcessNoiseAccel    float64 `json:"process_noise_accel"`
	MeasurementNoiseMM   float64 `json:"measurement_noise_mm"`
	RollingDecelMMs2     float64 `json:"rolling_decel_mms2"`
	TrackTimeoutMs       float64 `json:"track_timeout_ms"`
	MaxBalls             int     `json:"max_balls"`
	PublishHz            float64 `json:"publish_hz"`
}

// DebugResponse is the GET /api/debug payload.
type DebugResponse struct {
	Frames []*track.DebugFrame `json:"frames"`
}

// handleHealth handles the health check endpoint.
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "ok", "service": "balltrack", "version": "%s", "timestamp": "%s"}`,
		version.Version, time.Now().UTC().Format(time.RFC3339))
}

// handleStatus handles the main status page endpoint.
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")

	tmpl, err := template.ParseFS(StatusHTML, "status.html")
	if err != nil {
		http.Error(w, "Error loading template: "+err.Error(), http.StatusInternalServerError)
		return
	}

	var ball *BallResponse
	speedMPS := ""
	if ws.manager.HasBall() {
		snap := ws.manager.Snapshot()
		ball = ballResponse(&snap.Ball)
		speedMPS = fmt.Sprintf("%.2f", units.ConvertSpeed(ball.Speed, units.MPS))
	}
	session := ""
	if ws.sessionID != nil {
		session = ws.sessionID()
	}

	data := struct {
		Version     string
		HTTPAddress string
		VisionAddr  string
		Session     string
		Uptime      string
		Stats       *StatsSnapshot
		Manager     track.ManagerStats
		Ball        *BallResponse
		SpeedMPS    string
		HasDB       bool
	}{
		Version:     version.Version,
		HTTPAddress: ws.address,
		VisionAddr:  ws.visionAddr,
		Session:     session,
		Uptime:      ws.uptime(),
		Stats:       ws.latestStats(),
		Manager:     ws.manager.Stats(),
		Ball:        ball,
		SpeedMPS:    speedMPS,
		HasDB:       ws.db != nil,
	}

	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, "Error executing template: "+err.Error(), http.StatusInternalServerError)
		return
	}
}

func (ws *WebServer) uptime() string {
	if ws.stats == nil {
		return ""
	}
	return ws.stats.GetUptime().Round(time.Second).String()
}

func (ws *WebServer) latestStats() *StatsSnapshot {
	if ws.stats == nil {
		return nil
	}
	return ws.stats.GetLatestSnapshot()
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	session := ""
	if ws.sessionID != nil {
		session = ws.sessionID()
	}
	httputil.WriteJSONOK(w, StatsResponse{
		Service:  "balltrack",
		Version:  version.Version,
		Uptime:   ws.uptime(),
		Session:  session,
		Pipeline: ws.latestStats(),
		Manager:  ws.manager.Stats(),
	})
}

func (ws *WebServer) handleBall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !ws.manager.HasBall() {
		httputil.NotFound(w, "no ball tracked yet")
		return
	}
	snap := ws.manager.Snapshot()
	httputil.WriteJSONOK(w, ballResponse(&snap.Ball))
}

func (ws *WebServer) handleWorld(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap := ws.manager.Snapshot()
	out := WorldResponse{
		Schema: snap.Schema,
		TimeNs: snap.TimeNs,
		Robots: make([]RobotResponse, 0, len(snap.Robots)),
	}
	if ws.manager.HasBall() {
		out.Ball = ballResponse(&snap.Ball)
	}
	for _, p := range snap.Robots {
		out.Robots = append(out.Robots, RobotResponse{
			ID:     p.ID.String(),
			X:      p.Pos.X,
			Y:      p.Pos.Y,
			Facing: p.Facing,
			VX:     p.Vel.X,
			VY:     p.Vel.Y,
		})
	}
	httputil.WriteJSONOK(w, out)
}

func (ws *WebServer) handleTracks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	infos := ws.manager.TrackInfos()
	if infos == nil {
		infos = []track.TrackInfo{}
	}
	httputil.WriteJSONOK(w, infos)
}

func (ws *WebServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	cfg := ws.manager.Config()
	httputil.WriteJSONOK(w, ConfigResponse{
		Schema: world.SchemaVersion,
		Filter: FilterConfigJSON{
			DeviationToleranceMM: cfg.DeviationToleranceMM,
			ContactRadiusMM:      cfg.ContactRadiusMM,
			LagDeltaMs:           float64(cfg.LagDelta) / float64(time.Millisecond),
			DeviationFrames:      cfg.DeviationFrames,
			ReleaseFrames:        cfg.ReleaseFrames,
			MaxBallSpeedMMs:      cfg.MaxBallSpeedMMs,
			JumpSlackMM:          cfg.JumpSlackMM,
			BoundarySlackMM:      cfg.BoundarySlackMM,
			ProcessNoiseAccel:    cfg.ProcessNoiseAccel,
			MeasurementNoiseMM:   cfg.MeasurementNoiseMM,
			RollingDecelMMs2:     cfg.RollingDecelMMs2,
			TrackTimeoutMs:       float64(cfg.TrackTimeout) / float64(time.Millisecond),
			MaxBalls:             cfg.MaxBalls,
			PublishHz:            cfg.PublishHz,
		},
		Geometry: ws.manager.Geometry(),
	})
}

// handleDebug serves the retained debug frames on GET and toggles
// collection on POST with an 'enabled' parameter.
func (ws *WebServer) handleDebug(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, DebugResponse{Frames: ws.manager.RecentDebugFrames()})
	case http.MethodPost:
		on, err := strconv.ParseBool(r.URL.Query().Get("enabled"))
		if err != nil {
			httputil.BadRequest(w, "missing or invalid 'enabled' parameter")
			return
		}
		ws.manager.SetDebugEnabled(on)
		log.Printf("[monitor] debug collection enabled=%v", on)
		httputil.WriteJSONOK(w, map[string]bool{"enabled": on})
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (ws *WebServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.db == nil {
		httputil.NotFound(w, "no database configured")
		return
	}
	sessions, err := ws.db.Sessions(queryLimit(r, 50, 500))
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("list sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

func (ws *WebServer) handleContacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if ws.db == nil {
		httputil.NotFound(w, "no database configured")
		return
	}
	session := ws.currentSession(r)
	if session == "" {
		httputil.BadRequest(w, "missing 'session' parameter and no live recording")
		return
	}
	events, err := ws.db.ContactEvents(session)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("list contact events: %v", err))
		return
	}
	if events == nil {
		events = []db.ContactEvent{}
	}
	httputil.WriteJSONOK(w, events)
}
