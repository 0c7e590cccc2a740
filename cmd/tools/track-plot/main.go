// Command track-plot renders PNG charts of ball movement for offline
// analysis.
//
// Two sources are supported:
//
//	-db + -session   published states recorded in sqlite by the daemon
//	-log             a .visionlog replayed through the filter
//
// Each run writes into a timestamped directory under -o:
//
//	trajectory.png   ball path in field coordinates, contact points marked
//	speed.png        ball speed over time
//	innovation.png   prediction error per detection (log mode only)
package main

import (
	"flag"
	"fmt"
	"image/color"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/smallsize-vision/balltrack/internal/db"
	"github.com/smallsize-vision/balltrack/internal/security"
	"github.com/smallsize-vision/balltrack/internal/timeutil"
	"github.com/smallsize-vision/balltrack/internal/track"
	"github.com/smallsize-vision/balltrack/internal/units"
	"github.com/smallsize-vision/balltrack/internal/vision"
)

var (
	dbPath      = flag.String("db", "", "SQLite database to read a recorded session from")
	session     = flag.String("session", "", "Session id (default: most recent)")
	logPath     = flag.String("log", "", "Path to a .visionlog to replay instead of reading the database")
	outDir      = flag.String("o", "plots", "Base directory for plot output")
	limit       = flag.Int("limit", 50000, "Maximum ball states to load from the database")
	speedUnits  = flag.String("units", units.MMPS, "Speed chart units ("+units.GetValidUnitsString()+")")
	fieldLength = flag.Float64("field-length-mm", 9000, "Field length for the trajectory outline")
	fieldWidth  = flag.Float64("field-width-mm", 6000, "Field width for the trajectory outline")
)

var (
	pathColor    = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	contactColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	fieldColor   = color.RGBA{R: 160, G: 160, B: 160, A: 255}
)

// trackPoint is one published ball state on a common time base,
// regardless of which source produced it.
type trackPoint struct {
	T         float64 // seconds since the first sample
	X         float64
	Y         float64
	Speed     float64
	InContact bool
}

func main() {
	flag.Parse()

	if (*dbPath == "") == (*logPath == "") {
		log.Fatal("Error: exactly one of -db or -log is required")
	}
	if !units.IsValid(*speedUnits) {
		log.Fatalf("Error: invalid -units %q (valid: %s)", *speedUnits, units.GetValidUnitsString())
	}

	var (
		points []trackPoint
		innov  plotter.XYs
		name   string
	)
	if *logPath != "" {
		frames, err := loadFrames(*logPath)
		if err != nil {
			log.Fatalf("Failed to load log: %v", err)
		}
		log.Printf("Loaded %d frames from %s", len(frames), *logPath)
		points, innov = replayLog(frames)
		base := filepath.Base(*logPath)
		name = strings.TrimSuffix(base, filepath.Ext(base))
	} else {
		var err error
		points, name, err = loadSession(*dbPath, *session)
		if err != nil {
			log.Fatalf("Failed to load session: %v", err)
		}
	}
	if len(points) == 0 {
		log.Fatal("No ball states to plot")
	}

	dir := plotDir(*outDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Fatalf("Failed to create output dir: %v", err)
	}

	written := 0
	if err := plotTrajectory(points, filepath.Join(dir, "trajectory.png")); err != nil {
		log.Fatalf("Failed to plot trajectory: %v", err)
	}
	written++
	if err := plotSpeed(points, filepath.Join(dir, "speed.png")); err != nil {
		log.Fatalf("Failed to plot speed: %v", err)
	}
	written++
	if len(innov) > 0 {
		if err := plotInnovation(innov, filepath.Join(dir, "innovation.png")); err != nil {
			log.Fatalf("Failed to plot innovation: %v", err)
		}
		written++
	}
	log.Printf("✓ Wrote %d plot(s) from %d states to %s", written, len(points), dir)
}

// plotDir builds plots/<name>/<timestamp> so repeated runs never clobber
// each other. The name component comes from user input, so it is
// sanitized before it reaches the path.
func plotDir(base, name string) string {
	return filepath.Join(base, security.SanitizeFilename(name), time.Now().Format("20060102_150405"))
}

func loadSession(path, sessionID string) ([]trackPoint, string, error) {
	database, err := db.OpenDB(path)
	if err != nil {
		return nil, "", err
	}
	defer database.Close()

	if sessionID == "" {
		sessions, err := database.Sessions(1)
		if err != nil {
			return nil, "", err
		}
		if len(sessions) == 0 {
			return nil, "", fmt.Errorf("database has no sessions")
		}
		sessionID = sessions[0].ID
		log.Printf("Using most recent session %s", sessionID)
	}

	rows, err := database.RecentBallStates(sessionID, *limit)
	if err != nil {
		return nil, "", err
	}
	if len(rows) == 0 {
		return nil, "", fmt.Errorf("session %s has no ball states", sessionID)
	}

	t0 := rows[0].TimeNs
	points := make([]trackPoint, 0, len(rows))
	for _, r := range rows {
		points = append(points, trackPoint{
			T:         float64(r.TimeNs-t0) / 1e9,
			X:         r.X,
			Y:         r.Y,
			Speed:     r.Speed,
			InContact: r.InContact,
		})
	}

	name := sessionID
	if len(name) > 8 {
		name = name[:8]
	}
	return points, name, nil
}

func loadFrames(path string) ([]*vision.DetectionFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := vision.NewReader(f)
	if err != nil {
		return nil, err
	}
	var frames []*vision.DetectionFrame
	for {
		fr, err := r.Next()
		if err == io.EOF {
			return frames, nil
		}
		if err != nil {
			return nil, err
		}
		frames = append(frames, fr)
	}
}

// replayLog runs the frames through a fresh filter and collects the
// published states plus the innovation of each detection against the
// prediction for its capture time.
func replayLog(frames []*vision.DetectionFrame) ([]trackPoint, plotter.XYs) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	m := track.NewManager(track.DefaultFilterConfig(), clock)
	m.HandleGeometry(vision.Geometry{
		FieldLengthMM:   *fieldLength,
		FieldWidthMM:    *fieldWidth,
		BoundaryWidthMM: 300,
	})

	var (
		points []trackPoint
		innov  plotter.XYs
		t0     int64 = -1
		lastNs int64
	)
	for _, f := range frames {
		clock.Set(time.Unix(0, f.TimeNs))

		if m.HasBall() && len(f.Balls) > 0 {
			pred := m.Snapshot().Ball
			if pred.TimeNs > 0 && t0 >= 0 {
				det := f.Balls[0]
				d := math.Hypot(pred.Pos.X-det.Pos.X, pred.Pos.Y-det.Pos.Y)
				if d < 2000 {
					innov = append(innov, plotter.XY{X: float64(f.TimeNs-t0) / 1e9, Y: d})
				}
			}
		}

		m.HandleFrame(f)

		ball := m.Snapshot().Ball
		if ball.TimeNs == 0 || ball.TimeNs == lastNs {
			continue
		}
		if t0 < 0 {
			t0 = ball.TimeNs
		}
		lastNs = ball.TimeNs
		points = append(points, trackPoint{
			T:         float64(ball.TimeNs-t0) / 1e9,
			X:         ball.Pos.X,
			Y:         ball.Pos.Y,
			Speed:     ball.Speed(),
			InContact: ball.InContact,
		})
	}
	return points, innov
}

func plotTrajectory(points []trackPoint, file string) error {
	p := plot.New()
	p.Title.Text = "Ball Trajectory"
	p.X.Label.Text = "X (mm)"
	p.Y.Label.Text = "Y (mm)"

	if outline, err := fieldOutline(); err == nil {
		p.Add(outline)
	}

	path := make(plotter.XYs, 0, len(points))
	contact := make(plotter.XYs, 0)
	for _, pt := range points {
		path = append(path, plotter.XY{X: pt.X, Y: pt.Y})
		if pt.InContact {
			contact = append(contact, plotter.XY{X: pt.X, Y: pt.Y})
		}
	}

	line, err := plotter.NewLine(path)
	if err != nil {
		return err
	}
	line.Color = pathColor
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("path", line)

	if len(contact) > 0 {
		sc, err := plotter.NewScatter(contact)
		if err != nil {
			return err
		}
		sc.Color = contactColor
		sc.Radius = vg.Points(2)
		p.Add(sc)
		p.Legend.Add("in contact", sc)
	}

	p.Legend.Top = true
	return p.Save(10*vg.Inch, 7*vg.Inch, file)
}

// fieldOutline draws the playing surface boundary so positions read in
// context.
func fieldOutline() (*plotter.Line, error) {
	hl := *fieldLength / 2
	hw := *fieldWidth / 2
	line, err := plotter.NewLine(plotter.XYs{
		{X: -hl, Y: -hw},
		{X: hl, Y: -hw},
		{X: hl, Y: hw},
		{X: -hl, Y: hw},
		{X: -hl, Y: -hw},
	})
	if err != nil {
		return nil, err
	}
	line.Color = fieldColor
	line.Width = vg.Points(0.5)
	return line, nil
}

func plotSpeed(points []trackPoint, file string) error {
	p := plot.New()
	p.Title.Text = "Ball Speed"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Speed (" + units.Label(*speedUnits) + ")"

	speed := make(plotter.XYs, 0, len(points))
	contact := make(plotter.XYs, 0)
	for _, pt := range points {
		v := units.ConvertSpeed(pt.Speed, *speedUnits)
		speed = append(speed, plotter.XY{X: pt.T, Y: v})
		if pt.InContact {
			contact = append(contact, plotter.XY{X: pt.T, Y: v})
		}
	}

	line, err := plotter.NewLine(speed)
	if err != nil {
		return err
	}
	line.Color = pathColor
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("speed", line)

	if len(contact) > 0 {
		sc, err := plotter.NewScatter(contact)
		if err != nil {
			return err
		}
		sc.Color = contactColor
		sc.Radius = vg.Points(1.5)
		p.Add(sc)
		p.Legend.Add("in contact", sc)
	}

	p.Legend.Top = true
	return p.Save(14*vg.Inch, 6*vg.Inch, file)
}

func plotInnovation(innov plotter.XYs, file string) error {
	p := plot.New()
	p.Title.Text = "Prediction Error"
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Innovation (mm)"

	line, err := plotter.NewLine(innov)
	if err != nil {
		return err
	}
	line.Color = pathColor
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("innovation", line)

	p.Legend.Top = true
	return p.Save(14*vg.Inch, 6*vg.Inch, file)
}
