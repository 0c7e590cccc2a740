// Command gen-visionlog generates synthetic .visionlog recordings for
// replay, fitting, and plotting.
package main

import (
	"flag"
	"log"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/golang/geo/r2"

	"github.com/smallsize-vision/balltrack/internal/vision"
	"github.com/smallsize-vision/balltrack/internal/world"
)

var (
	output   = flag.String("o", "sample.visionlog", "output path")
	scenario = flag.String("scenario", "roll", "trajectory to generate: roll, kick, dribble")
	seconds  = flag.Float64("seconds", 5.0, "length of the recording in seconds")
	rate     = flag.Float64("rate", 100.0, "camera frame rate in Hz")
	noiseMM  = flag.Float64("noise-mm", 3.0, "detection noise sigma in millimetres")
	seed     = flag.Int64("seed", 1, "random seed")
	cameras  = flag.Int("cameras", 1, "number of cameras observing the ball")
)

const rollingDecel = 400.0 // mm/s^2

// rollingPos returns the position of a ball released at start with
// velocity vel after t seconds of rolling friction.
func rollingPos(start, vel r2.Point, t float64) r2.Point {
	speed := math.Hypot(vel.X, vel.Y)
	if speed == 0 {
		return start
	}
	tStop := speed / rollingDecel
	if t > tStop {
		t = tStop
	}
	dist := speed*t - 0.5*rollingDecel*t*t
	return r2.Point{X: start.X + vel.X/speed*dist, Y: start.Y + vel.Y/speed*dist}
}

func rollScenario(t float64) (r2.Point, []vision.RobotObservation) {
	return rollingPos(r2.Point{X: -3000, Y: -1000}, r2.Point{X: 1500, Y: 600}, t), nil
}

// kickScenario holds the ball on the kicker's face for one second, then
// fires it across the field.
func kickScenario(t float64) (r2.Point, []vision.RobotObservation) {
	kicker := vision.RobotObservation{
		ID:         world.RobotID{Team: world.TeamBlue, Number: 7},
		Pos:        r2.Point{X: -120, Y: 0},
		Facing:     0,
		Confidence: 0.95,
	}
	if t < 1 {
		return r2.Point{}, []vision.RobotObservation{kicker}
	}
	return rollingPos(r2.Point{}, r2.Point{X: 4000, Y: 800}, t-1), []vision.RobotObservation{kicker}
}

// dribbleScenario drives a robot across the field. It reaches the waiting
// ball at t=1s, carries it on the dribbler for two seconds, and releases
// it to roll out at the carry speed.
func dribbleScenario(t float64) (r2.Point, []vision.RobotObservation) {
	const holdMM = 90 // ball centre ahead of the robot centre while carried
	robotVel := r2.Point{X: 800, Y: 0}
	robotPos := r2.Point{X: -2000 + robotVel.X*t, Y: 500}
	robot := vision.RobotObservation{
		ID:         world.RobotID{Team: world.TeamYellow, Number: 4},
		Pos:        robotPos,
		Facing:     0,
		Confidence: 0.95,
	}
	robots := []vision.RobotObservation{robot}

	switch {
	case t < 1:
		return r2.Point{X: -1200 + holdMM, Y: 500}, robots
	case t < 3:
		return r2.Point{X: robotPos.X + holdMM, Y: 500}, robots
	default:
		release := r2.Point{X: -2000 + robotVel.X*3 + holdMM, Y: 500}
		return rollingPos(release, robotVel, t-3), robots
	}
}

var scenarios = map[string]func(t float64) (r2.Point, []vision.RobotObservation){
	"roll":    rollScenario,
	"kick":    kickScenario,
	"dribble": dribbleScenario,
}

func main() {
	flag.Parse()

	gen, ok := scenarios[*scenario]
	if !ok {
		log.Fatalf("Unknown scenario %q (want roll, kick, or dribble)", *scenario)
	}

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("Failed to create output: %v", err)
	}
	defer f.Close()

	rec, err := vision.NewRecorder(f, *scenario, time.Now().UnixNano())
	if err != nil {
		log.Fatalf("Failed to write log header: %v", err)
	}
	defer rec.Flush()

	rng := rand.New(rand.NewSource(*seed))
	noise := *noiseMM
	dt := 1.0 / *rate
	frames := int(*seconds / dt)

	for i := 0; i < frames; i++ {
		t := float64(i) * dt
		timeNs := int64(t * 1e9)
		pos, robots := gen(t)

		for cam := 0; cam < *cameras; cam++ {
			frame := &vision.DetectionFrame{
				CameraID:    uint32(cam),
				FrameNumber: uint32(i),
				TimeNs:      timeNs,
				Robots:      robots,
				Balls: []vision.Detection{{
					CameraID:   uint32(cam),
					TimeNs:     timeNs,
					Pos:        r2.Point{X: pos.X + rng.NormFloat64()*noise, Y: pos.Y + rng.NormFloat64()*noise},
					Confidence: 0.9,
				}},
			}
			if err := rec.Record(frame); err != nil {
				log.Fatalf("Failed to write frame: %v", err)
			}
		}
	}

	log.Printf("✓ Created: %s (%d frames, %s scenario, %d camera(s))", *output, frames, *scenario, *cameras)
}
