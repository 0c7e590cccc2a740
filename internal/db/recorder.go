package db

import (
	"log"

	"github.com/smallsize-vision/balltrack/internal/world"
)

// SessionRecorder persists published snapshots for one session. It is
// fed from the publish loop, so write failures are logged and dropped
// rather than propagated back into the real-time path.
type SessionRecorder struct {
	db        *DB
	sessionID string

	openContact  int64 // contact_events row id, 0 when no open interval
	contactRobot world.RobotID
}

// StartRecording begins a session and returns a recorder for it.
func (db *DB) StartRecording(source, notes string, startedNs int64) (*SessionRecorder, error) {
	id, err := db.BeginSession(source, notes, startedNs)
	if err != nil {
		return nil, err
	}
	log.Printf("[db] recording session %s (%s)", id, source)
	return &SessionRecorder{db: db, sessionID: id}, nil
}

// SessionID returns the session this recorder writes into.
func (r *SessionRecorder) SessionID() string {
	return r.sessionID
}

// Record writes one published snapshot and maintains contact intervals
// across snapshots: opening on a Free to Contact edge, closing on the
// reverse, and splitting when the contacting robot changes.
func (r *SessionRecorder) Record(s *world.Snapshot) {
	if err := r.db.RecordBallState(r.sessionID, &s.Ball); err != nil {
		log.Printf("[db] ball state write failed: %v", err)
	}

	switch {
	case s.Ball.InContact && r.openContact == 0:
		r.openInterval(s.Ball.ContactRobot, s.Ball.TimeNs)
	case s.Ball.InContact && s.Ball.ContactRobot != r.contactRobot:
		r.closeInterval(s.Ball.TimeNs)
		r.openInterval(s.Ball.ContactRobot, s.Ball.TimeNs)
	case !s.Ball.InContact && r.openContact != 0:
		r.closeInterval(s.Ball.TimeNs)
	}
}

func (r *SessionRecorder) openInterval(robot world.RobotID, atNs int64) {
	id, err := r.db.RecordContactStart(r.sessionID, robot, atNs)
	if err != nil {
		log.Printf("[db] contact start write failed: %v", err)
		return
	}
	r.openContact = id
	r.contactRobot = robot
}

func (r *SessionRecorder) closeInterval(atNs int64) {
	if err := r.db.RecordContactEnd(r.openContact, atNs); err != nil {
		log.Printf("[db] contact end write failed: %v", err)
	}
	r.openContact = 0
	r.contactRobot = world.RobotID{}
}

// Close ends any open contact interval and stamps the session end.
func (r *SessionRecorder) Close(endedNs int64) error {
	if r.openContact != 0 {
		r.closeInterval(endedNs)
	}
	return r.db.EndSession(r.sessionID, endedNs)
}
