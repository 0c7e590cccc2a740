// Command filter-sweep fits filter tuning constants against a recorded
// .visionlog by replaying it through the track manager and minimizing
// prediction error.
//
// The sweep walks {process noise, deviation tolerance, contact radius}
// with Nelder-Mead. The objective is the mean squared innovation of the
// replayed detections plus a penalty per contact-state flap, so a fit
// cannot trade wild contact churn for a tighter position match.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"time"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/smallsize-vision/balltrack/internal/timeutil"
	"github.com/smallsize-vision/balltrack/internal/track"
	"github.com/smallsize-vision/balltrack/internal/vision"
)

var (
	logPath     = flag.String("log", "", "Path to the .visionlog to fit against (required)")
	maxEvals    = flag.Int("max-evals", 2000, "Maximum objective evaluations")
	flapWeight  = flag.Float64("flap-weight", 250, "Objective penalty per contact-state flap")
	emitJSON    = flag.Bool("json", false, "Print the fitted constants as a tuning JSON fragment")
	fieldLength = flag.Float64("field-length-mm", 9000, "Field length for plausibility gating")
	fieldWidth  = flag.Float64("field-width-mm", 6000, "Field width for plausibility gating")
)

// sweepObjective replays the recorded frames under candidate constants.
type sweepObjective struct {
	frames []*vision.DetectionFrame
	geom   vision.Geometry
	base   track.FilterConfig
	weight float64
}

// configFor maps the optimizer's parameter vector onto a filter config.
// Process noise varies over orders of magnitude, so it is searched in
// log space.
func (o *sweepObjective) configFor(params []float64) track.FilterConfig {
	cfg := o.base
	cfg.ProcessNoiseAccel = math.Exp(params[0])
	cfg.DeviationToleranceMM = params[1]
	cfg.ContactRadiusMM = params[2]
	return cfg
}

func (o *sweepObjective) Func(params []float64) float64 {
	cfg := o.configFor(params)
	if cfg.DeviationToleranceMM < 5 || cfg.ContactRadiusMM < 50 || cfg.ContactRadiusMM > 500 {
		return 1e12 // reject degenerate configurations
	}
	sq, flaps := o.replay(cfg)
	if len(sq) == 0 {
		return 1e12
	}
	return stat.Mean(sq, nil) + o.weight*float64(flaps)
}

// replay runs the log through a fresh manager and collects the squared
// innovation of each detection against the prediction for its capture
// time, plus the number of contact-state flips in the published output.
func (o *sweepObjective) replay(cfg track.FilterConfig) (sq []float64, flaps int) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	m := track.NewManager(cfg, clock)
	m.HandleGeometry(o.geom)

	haveContact := false
	lastContact := false
	for _, f := range o.frames {
		clock.Set(time.Unix(0, f.TimeNs))

		if m.HasBall() && len(f.Balls) > 0 {
			pred := m.Snapshot().Ball
			if pred.TimeNs > 0 {
				det := f.Balls[0]
				d := math.Hypot(pred.Pos.X-det.Pos.X, pred.Pos.Y-det.Pos.Y)
				// A teleport or mis-detection should not dominate the fit.
				if d < 2000 {
					sq = append(sq, d*d)
				}
			}
		}

		m.HandleFrame(f)

		ball := m.Snapshot().Ball
		if ball.TimeNs > 0 {
			if haveContact && ball.InContact != lastContact {
				flaps++
			}
			lastContact = ball.InContact
			haveContact = true
		}
	}
	return sq, flaps
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

func main() {
	flag.Parse()

	if *logPath == "" {
		log.Fatal("Error: -log flag is required")
	}

	frames, err := loadFrames(*logPath)
	if err != nil {
		log.Fatalf("Failed to load log: %v", err)
	}
	if len(frames) == 0 {
		log.Fatal("Log contains no frames")
	}
	log.Printf("Loaded %d frames from %s", len(frames), *logPath)

	obj := &sweepObjective{
		frames: frames,
		geom:   vision.Geometry{FieldLengthMM: *fieldLength, FieldWidthMM: *fieldWidth, BoundaryWidthMM: 300},
		base:   track.DefaultFilterConfig(),
		weight: *flapWeight,
	}

	x0 := []float64{
		math.Log(obj.base.ProcessNoiseAccel),
		obj.base.DeviationToleranceMM,
		obj.base.ContactRadiusMM,
	}
	log.Printf("Starting objective: %.2f", obj.Func(x0))

	problem := optimize.Problem{
		Func: obj.Func,
	}
	settings := &optimize.Settings{
		FuncEvaluations: *maxEvals,
		Converger: &optimize.FunctionConverge{
			Absolute: 1e-3,
			Relative: 1e-4,
		},
	}

	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if err != nil {
		log.Fatalf("Optimization failed: %v", err)
	}
	if err := result.Status.Err(); err != nil {
		log.Printf("Did not formally converge (%v), using best point found", err)
	}

	fitted := obj.configFor(result.X)
	sq, flaps := obj.replay(fitted)
	log.Printf("Fitted objective: %.2f after %d evaluations", result.F, result.Stats.FuncEvaluations)
	log.Printf("Innovation: mean %.1f mm^2, stddev %.1f mm^2, %d contact flaps",
		stat.Mean(sq, nil), stat.StdDev(sq, nil), flaps)
	log.Printf("process_noise_accel:    %.1f (was %.1f)", fitted.ProcessNoiseAccel, obj.base.ProcessNoiseAccel)
	log.Printf("deviation_tolerance_mm: %.1f (was %.1f)", fitted.DeviationToleranceMM, obj.base.DeviationToleranceMM)
	log.Printf("contact_radius_mm:      %.1f (was %.1f)", fitted.ContactRadiusMM, obj.base.ContactRadiusMM)

	if *emitJSON {
		out, err := json.MarshalIndent(map[string]float64{
			"process_noise_accel":    fitted.ProcessNoiseAccel,
			"deviation_tolerance_mm": fitted.DeviationToleranceMM,
			"contact_radius_mm":      fitted.ContactRadiusMM,
		}, "", "  ")
		if err != nil {
			log.Fatalf("Failed to marshal tuning: %v", err)
		}
		fmt.Println(string(out))
	}
}
