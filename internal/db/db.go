// Package db records tracking sessions to SQLite: arbitrated ball states
// sampled at the publish rate, contact intervals, and per-camera receive
// counters. The schema is owned by embedded golang-migrate migrations.
package db

import (
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/smallsize-vision/balltrack/internal/world"
)

type DB struct {
	*sql.DB
}

// OpenDB opens the SQLite database at path and applies connection
// pragmas. The schema is not touched; use NewDB or the migrate command.
func OpenDB(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL keeps the 60 Hz recorder from blocking dashboard reads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := sqldb.Exec(p); err != nil {
			sqldb.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return &DB{sqldb}, nil
}

// NewDB opens the database and brings the schema to the latest version.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(MigrationsFS()); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Session is one recorded pipeline run.
type Session struct {
	ID        string `json:"id"`
	StartedNs int64  `json:"started_ns"`
	EndedNs   int64  `json:"ended_ns,omitempty"`
	Source    string `json:"source"`
	Schema    string `json:"schema"`
	Notes     string `json:"notes,omitempty"`
}

// BeginSession creates a session row and returns its id.
func (db *DB) BeginSession(source, notes string, startedNs int64) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, started_ns, source, schema, notes)
		 VALUES (?, ?, ?, ?, ?)`,
		id, startedNs, source, world.SchemaVersion, notes,
	)
	if err != nil {
		return "", fmt.Errorf("failed to begin session: %w", err)
	}
	return id, nil
}

// EndSession stamps the session's end time.
func (db *DB) EndSession(id string, endedNs int64) error {
	_, err := db.Exec(`UPDATE sessions SET ended_ns = ? WHERE session_id = ?`, endedNs, id)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

// Sessions returns the most recent sessions, newest first.
func (db *DB) Sessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(
		`SELECT session_id, started_ns, COALESCE(ended_ns, 0), source, schema, notes
		 FROM sessions ORDER BY started_ns DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.StartedNs, &s.EndedNs, &s.Source, &s.Schema, &s.Notes); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// BallRow is one recorded ball state sample.
type BallRow struct {
	TimeNs       int64   `json:"time_ns"`
	X            float64 `json:"x_mm"`
	Y            float64 `json:"y_mm"`
	VX           float64 `json:"vx_mms"`
	VY           float64 `json:"vy_mms"`
	Speed        float64 `json:"speed_mms"`
	InContact    bool    `json:"in_contact"`
	ContactRobot string  `json:"contact_robot,omitempty"`
}

// RecordBallState appends one published ball state to the session.
func (db *DB) RecordBallState(sessionID string, b *world.BallState) error {
	robot := ""
	if b.InContact {
		robot = b.ContactRobot.String()
	}
	_, err := db.Exec(
		`INSERT INTO ball_states
		 (session_id, time_ns, x_mm, y_mm, vx_mms, vy_mms, speed_mms, in_contact, contact_robot)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, b.TimeNs, b.Pos.X, b.Pos.Y, b.Vel.X, b.Vel.Y, b.Speed(),
		boolToInt(b.InContact), robot,
	)
	if err != nil {
		return fmt.Errorf("failed to record ball state: %w", err)
	}
	return nil
}

// RecentBallStates returns the newest ball samples for a session,
// oldest first so they plot left to right.
func (db *DB) RecentBallStates(sessionID string, limit int) ([]BallRow, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.Query(
		`SELECT time_ns, x_mm, y_mm, vx_mms, vy_mms, speed_mms, in_contact, contact_robot
		 FROM (
			SELECT * FROM ball_states WHERE session_id = ?
			ORDER BY time_ns DESC LIMIT ?
		 ) ORDER BY time_ns ASC`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BallRow
	for rows.Next() {
		var r BallRow
		var contact int
		if err := rows.Scan(&r.TimeNs, &r.X, &r.Y, &r.VX, &r.VY, &r.Speed, &contact, &r.ContactRobot); err != nil {
			return nil, err
		}
		r.InContact = contact != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// ContactEvent is one contact interval; EndedNs is zero while open.
type ContactEvent struct {
	ID        int64  `json:"id"`
	Robot     string `json:"robot"`
	StartedNs int64  `json:"started_ns"`
	EndedNs   int64  `json:"ended_ns,omitempty"`
}

// RecordContactStart opens a contact interval and returns its row id.
func (db *DB) RecordContactStart(sessionID string, robot world.RobotID, startedNs int64) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO contact_events (session_id, robot, started_ns) VALUES (?, ?, ?)`,
		sessionID, robot.String(), startedNs,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record contact start: %w", err)
	}
	return res.LastInsertId()
}

// RecordContactEnd closes a contact interval.
func (db *DB) RecordContactEnd(id, endedNs int64) error {
	_, err := db.Exec(`UPDATE contact_events SET ended_ns = ? WHERE id = ?`, endedNs, id)
	if err != nil {
		return fmt.Errorf("failed to record contact end: %w", err)
	}
	return nil
}

// ContactEvents returns a session's contact intervals, oldest first.
func (db *DB) ContactEvents(sessionID string) ([]ContactEvent, error) {
	rows, err := db.Query(
		`SELECT id, robot, started_ns, COALESCE(ended_ns, 0)
		 FROM contact_events WHERE session_id = ? ORDER BY started_ns ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ContactEvent
	for rows.Next() {
		var e ContactEvent
		if err := rows.Scan(&e.ID, &e.Robot, &e.StartedNs, &e.EndedNs); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CameraStat is the per-camera receive counter row.
type CameraStat struct {
	CameraID   uint32 `json:"camera_id"`
	Frames     int64  `json:"frames"`
	Balls      int64  `json:"balls"`
	Rejected   int64  `json:"rejected"`
	LastTimeNs int64  `json:"last_time_ns"`
}

// UpsertCameraStats adds the deltas to a session's per-camera counters.
func (db *DB) UpsertCameraStats(sessionID string, s CameraStat) error {
	_, err := db.Exec(
		`INSERT INTO camera_stats (session_id, camera_id, frames, balls, rejected, last_time_ns)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id, camera_id) DO UPDATE SET
			frames = frames + excluded.frames,
			balls = balls + excluded.balls,
			rejected = rejected + excluded.rejected,
			last_time_ns = MAX(last_time_ns, excluded.last_time_ns)`,
		sessionID, s.CameraID, s.Frames, s.Balls, s.Rejected, s.LastTimeNs,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert camera stats: %w", err)
	}
	return nil
}

// CameraStats returns a session's per-camera counters ordered by camera.
func (db *DB) CameraStats(sessionID string) ([]CameraStat, error) {
	rows, err := db.Query(
		`SELECT camera_id, frames, balls, rejected, last_time_ns
		 FROM camera_stats WHERE session_id = ? ORDER BY camera_id ASC`,
		sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CameraStat
	for rows.Next() {
		var s CameraStat
		if err := rows.Scan(&s.CameraID, &s.Frames, &s.Balls, &s.Rejected, &s.LastTimeNs); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// AttachAdminRoutes mounts the tsweb debug surface: live SQL access via
// tailsql and an on-demand gzipped database backup.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://balltrack.db", db.DB, &tailsql.DBOptions{
		Label: "Balltrack DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := fmt.Sprintf("backup-%d.db", time.Now().Unix())
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("failed to remove backup file: %v", err)
			}
		}()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")

		gz := gzip.NewWriter(w)
		defer gz.Close()
		if _, err := io.Copy(gz, backupFile); err != nil {
			log.Printf("failed to stream backup: %v", err)
		}
	}))
}
