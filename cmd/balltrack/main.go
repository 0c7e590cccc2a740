// Command balltrack receives SSL-Vision multicast, runs the ball
// collision filter over the detections, and serves the arbitrated world
// state over HTTP. With a database configured it records every published
// ball state and contact interval for later analysis.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/smallsize-vision/balltrack/internal/config"
	"github.com/smallsize-vision/balltrack/internal/db"
	"github.com/smallsize-vision/balltrack/internal/monitor"
	"github.com/smallsize-vision/balltrack/internal/timeutil"
	"github.com/smallsize-vision/balltrack/internal/track"
	"github.com/smallsize-vision/balltrack/internal/version"
	"github.com/smallsize-vision/balltrack/internal/vision"
	"github.com/smallsize-vision/balltrack/internal/world"
)

var (
	listen      = flag.String("listen", ":13342", "HTTP listen address")
	visionAddr  = flag.String("vision-addr", vision.DefaultMulticastAddr, "SSL-Vision multicast group or unicast host:port")
	ifaceName   = flag.String("iface", "", "Network interface for the multicast join (default: OS choice)")
	dbFile      = flag.String("db", "balltrack.db", "Path to the SQLite database file (empty disables recording)")
	configPath  = flag.String("config", "", "Path to a tuning JSON file (default: built-in defaults)")
	recordLog   = flag.String("record", "", "Mirror decoded frames into this .visionlog file")
	notes       = flag.String("notes", "", "Free-form notes stored on the recording session")
	rcvBuf      = flag.Int("rcvbuf", 4<<20, "UDP receive buffer size in bytes (default 4MB)")
	logInterval = flag.Int("log-interval", 10, "Statistics logging interval in seconds")
	verbose     = flag.Bool("verbose", false, "Enable diagnostic logging")
	trace       = flag.Bool("trace", false, "Enable per-packet trace logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// frameTee forwards decoded frames to the track manager and optionally
// mirrors them into a visionlog for later replay.
type frameTee struct {
	manager  *track.Manager
	recorder *vision.Recorder
}

func (t *frameTee) HandleFrame(f *vision.DetectionFrame) {
	if t.recorder != nil {
		if err := t.recorder.Record(f); err != nil {
			log.Printf("visionlog write failed: %v", err)
		}
	}
	t.manager.HandleFrame(f)
}

func (t *frameTee) HandleGeometry(g vision.Geometry) {
	t.manager.HandleGeometry(g)
}

func loadFilterConfig() track.FilterConfig {
	if *configPath == "" {
		return track.DefaultFilterConfig()
	}
	tuning, err := config.LoadTuningConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load tuning config: %v", err)
	}
	if err := tuning.Validate(); err != nil {
		log.Fatalf("Invalid tuning config: %v", err)
	}
	return track.FilterConfigFromTuning(tuning)
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("balltrack %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}

	// `balltrack migrate <action>` manages the schema and exits.
	if args := flag.Args(); len(args) > 0 && args[0] == "migrate" {
		db.RunMigrateCommand(args[1:], *dbFile)
		return
	}

	if *listen == "" {
		log.Fatal("HTTP listen address is required")
	}

	log.Printf("balltrack %s (%s)", version.Version, version.GitSHA)

	var diagWriter, traceWriter io.Writer
	if *verbose {
		diagWriter = os.Stderr
	}
	if *trace {
		diagWriter = os.Stderr
		traceWriter = os.Stderr
	}
	vision.SetLogWriters(vision.LogWriters{Ops: os.Stderr, Diag: diagWriter, Trace: traceWriter})

	cfg := loadFilterConfig()
	clock := timeutil.RealClock{}
	manager := track.NewManager(cfg, clock)

	// Initialize the recording store
	var database *db.DB
	var recorder *db.SessionRecorder
	if *dbFile != "" {
		var err error
		database, err = db.NewDB(*dbFile)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer database.Close()

		recorder, err = database.StartRecording("live", *notes, time.Now().UnixNano())
		if err != nil {
			log.Fatalf("Failed to begin recording session: %v", err)
		}
	} else {
		log.Println("Recording disabled (no database file)")
	}

	// Optional raw frame mirror for replay and offline fitting.
	var frameLog *vision.Recorder
	if *recordLog != "" {
		f, err := os.Create(*recordLog)
		if err != nil {
			log.Fatalf("Failed to create vision log: %v", err)
		}
		defer f.Close()

		session := ""
		if recorder != nil {
			session = recorder.SessionID()
		}
		frameLog, err = vision.NewRecorder(f, session, time.Now().UnixNano())
		if err != nil {
			log.Fatalf("Failed to write vision log header: %v", err)
		}
		defer frameLog.Flush()
		log.Printf("Mirroring decoded frames to %s", *recordLog)
	}

	// The monitor samples the shared receive counters, so the listener's
	// own periodic logging stays disabled.
	listener := vision.NewListener(vision.ListenerConfig{
		Address:   *visionAddr,
		Interface: *ifaceName,
		RcvBuf:    *rcvBuf,
	}, &frameTee{manager: manager, recorder: frameLog})

	// Fail fast on a bad address or occupied port.
	if boundAddr, err := listener.Bind(); err != nil {
		log.Fatalf("Failed to bind vision socket: %v", err)
	} else {
		log.Printf("Vision socket bound to %s", boundAddr)
	}

	stats := monitor.NewPipelineStats(clock)

	var sessionID func() string
	if recorder != nil {
		sessionID = recorder.SessionID
	}
	webServer := monitor.NewWebServer(monitor.WebServerConfig{
		Address:    *listen,
		Manager:    manager,
		Stats:      stats,
		DB:         database,
		SessionID:  sessionID,
		VisionAddr: *visionAddr,
	})

	// Create a wait group for the receive, publish, stats, and HTTP routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Vision receive routine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := listener.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("vision listener error: %v", err)
		}
		log.Print("vision listener routine terminated")
	}()

	// Publish routine: each tick's arbitrated snapshot goes to the
	// recorder and the stats counter. States are recorded only once a
	// ball has been tracked; earlier ticks carry a zero ball state.
	wg.Add(1)
	go func() {
		defer wg.Done()
		sink := func(s *world.Snapshot) {
			stats.AddSnapshot()
			if recorder != nil && s.Ball.TimeNs > 0 {
				recorder.Record(s)
			}
		}
		if err := manager.Run(ctx, sink); err != nil && err != context.Canceled {
			log.Printf("publish loop error: %v", err)
		}
		log.Print("publish routine terminated")
	}()

	// Statistics sampling routine
	wg.Add(1)
	go func() {
		defer wg.Done()
		interval := time.Duration(*logInterval) * time.Second
		if err := stats.Run(ctx, interval, listener.Stats()); err != nil && err != context.Canceled {
			log.Printf("stats loop error: %v", err)
		}
		log.Print("stats routine terminated")
	}()

	// HTTP server routine
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := webServer.Start(ctx); err != nil {
			log.Printf("web server error: %v", err)
		}
	}()

	// Wait for all goroutines to finish
	wg.Wait()

	if recorder != nil {
		if err := recorder.Close(time.Now().UnixNano()); err != nil {
			log.Printf("Failed to close recording session: %v", err)
		}
	}
	log.Printf("Graceful shutdown complete")
}
