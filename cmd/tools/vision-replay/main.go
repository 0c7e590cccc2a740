// Command vision-replay streams a recorded .visionlog or packet capture
// back out as SSL-Vision UDP traffic at its original pacing, so a live
// balltrack daemon can be fed from canned data.
//
// Usage:
//
//	go run ./cmd/tools/vision-replay -log match.visionlog
//	go run ./cmd/tools/vision-replay -pcap match.pcap -pcap-port 10006
//
// Flags:
//
//	-addr       Destination address (default: the SSL-Vision multicast group)
//	-log        Path to a .visionlog file
//	-pcap       Path to a pcap/pcapng capture
//	-speed      Playback speed multiplier (default 1.0)
//	-loop       Loop playback when reaching the end
//	-check      Monitor base URL to query after replay (e.g. http://localhost:13342)
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smallsize-vision/balltrack/internal/monitor"
	"github.com/smallsize-vision/balltrack/internal/timeutil"
	"github.com/smallsize-vision/balltrack/internal/vision"
)

var (
	addr        = flag.String("addr", vision.DefaultMulticastAddr, "Destination address")
	logPath     = flag.String("log", "", "Path to a .visionlog file")
	pcapPath    = flag.String("pcap", "", "Path to a pcap/pcapng capture")
	pcapPort    = flag.Int("pcap-port", 10006, "UDP port to extract from the capture")
	speed       = flag.Float64("speed", 1.0, "Playback speed multiplier")
	loop        = flag.Bool("loop", false, "Loop playback when reaching the end")
	check       = flag.String("check", "", "Monitor base URL to query after replay")
	fieldLength = flag.Float64("field-length-mm", 9000, "Field length sent in the geometry packet")
	fieldWidth  = flag.Float64("field-width-mm", 6000, "Field width sent in the geometry packet")
	boundary    = flag.Float64("boundary-mm", 300, "Boundary width sent in the geometry packet")
)

func main() {
	flag.Parse()

	if *logPath == "" && *pcapPath == "" {
		log.Fatal("Error: -log or -pcap is required")
	}
	if *logPath != "" && *pcapPath != "" {
		log.Fatal("Error: -log and -pcap are mutually exclusive")
	}
	if *speed <= 0 {
		log.Fatal("Error: -speed must be positive")
	}

	raddr, err := net.ResolveUDPAddr("udp", *addr)
	if err != nil {
		log.Fatalf("Failed to resolve %s: %v", *addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		log.Fatalf("Failed to dial %s: %v", *addr, err)
	}
	defer conn.Close()

	// Geometry first, so the daemon has field bounds before detections.
	geom := &vision.Geometry{
		FieldLengthMM:   *fieldLength,
		FieldWidthMM:    *fieldWidth,
		BoundaryWidthMM: *boundary,
	}
	if _, err := conn.Write(vision.EncodeWrapper(nil, geom)); err != nil {
		log.Fatalf("Failed to send geometry: %v", err)
	}
	log.Printf("Sent %gx%g mm geometry to %s", *fieldLength, *fieldWidth, *addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := timeutil.RealClock{}
	for {
		var sent int
		if *logPath != "" {
			sent, err = replayLog(ctx, clock, conn, *logPath)
		} else {
			sent, err = replayPcap(ctx, clock, conn, *pcapPath)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("Replay failed: %v", err)
		}
		log.Printf("Replayed %d packets", sent)

		if !*loop || ctx.Err() != nil {
			break
		}
	}

	if *check != "" && ctx.Err() == nil {
		checkDaemon(*check)
	}
}

func replayLog(ctx context.Context, clock timeutil.Clock, conn *net.UDPConn, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r, err := vision.NewReader(f)
	if err != nil {
		return 0, err
	}
	hdr := r.Header()
	log.Printf("Log info: session=%s created=%s", hdr.Session, time.Unix(0, hdr.CreatedNs).Format(time.RFC3339))

	sent := 0
	var lastNs int64
	for {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		frame, err := r.Next()
		if err == io.EOF {
			return sent, nil
		}
		if err != nil {
			return sent, err
		}
		if lastNs != 0 && frame.TimeNs > lastNs {
			clock.Sleep(time.Duration(float64(frame.TimeNs-lastNs) / *speed))
		}
		lastNs = frame.TimeNs

		if _, err := conn.Write(vision.EncodeWrapper(frame, nil)); err != nil {
			return sent, err
		}
		sent++
	}
}

func replayPcap(ctx context.Context, clock timeutil.Clock, conn *net.UDPConn, path string) (int, error) {
	var last time.Time
	return vision.ReadPCAP(path, *pcapPort, func(payload []byte, ts time.Time) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !last.IsZero() && ts.After(last) {
			clock.Sleep(time.Duration(float64(ts.Sub(last)) / *speed))
		}
		last = ts
		_, err := conn.Write(payload)
		return err
	})
}

// checkDaemon asks a running daemon what it made of the replayed traffic.
func checkDaemon(baseURL string) {
	c := monitor.NewClient(nil, baseURL)
	st, err := c.Stats()
	if err != nil {
		log.Fatalf("Daemon check failed: %v", err)
	}
	log.Printf("Daemon saw %d frames, %d ball detections", st.Manager.FramesProcessed, st.Manager.BallsSeen)

	if ball, err := c.Ball(); err != nil {
		log.Printf("No ball tracked: %v", err)
	} else {
		log.Printf("Ball at (%.0f, %.0f) mm moving %.0f mm/s", ball.X, ball.Y, ball.Speed)
	}
}
