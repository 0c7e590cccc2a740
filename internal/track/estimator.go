package track

import (
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"github.com/smallsize-vision/balltrack/internal/vision"
)

// Initial velocity variance for a freshly seeded track. The first
// detection fixes position to within camera noise but says nothing about
// velocity; (10 m/s)² leaves the second update free to set it from the
// observed displacement.
const initialVelocityVar = 1e8

// Estimator predicts and corrects a planar ball state.
// Implementations are not safe for concurrent use.
type Estimator interface {
	// Update folds one detection into the state, advancing to its
	// capture time. An out-of-order detection corrects the state in
	// place without rewinding.
	Update(det vision.Detection)

	// Predict extrapolates to atNs without mutating the estimator.
	// Times at or before the last update return the corrected state
	// as of that update.
	Predict(atNs int64) (pos, vel r2.Point)

	// LastTimeNs returns the capture time of the last folded
	// detection, or 0 before the first one.
	LastTimeNs() int64

	// Clone returns an independent deep copy.
	Clone() Estimator
}

// GroundKalman estimates [x y vx vy] with a constant-velocity model,
// white-acceleration process noise, and rolling friction applied during
// prediction. Units are mm and mm/s.
type GroundKalman struct {
	q     float64 // white acceleration spectral density (mm²/s³)
	rVar  float64 // measurement variance (mm²)
	decel float64 // rolling friction deceleration (mm/s²)

	x      *mat.VecDense // [x y vx vy]
	p      *mat.Dense    // 4x4 covariance
	lastNs int64
	seeded bool
}

var _ Estimator = (*GroundKalman)(nil)

// obsMatrix selects position from the state. Read-only.
var obsMatrix = mat.NewDense(2, 4, []float64{
	1, 0, 0, 0,
	0, 1, 0, 0,
})

// NewGroundKalman returns an estimator with the given noise and friction
// parameters. The state seeds from the first Update.
func NewGroundKalman(cfg FilterConfig) *GroundKalman {
	return &GroundKalman{
		q:     cfg.ProcessNoiseAccel,
		rVar:  cfg.MeasurementNoiseMM * cfg.MeasurementNoiseMM,
		decel: cfg.RollingDecelMMs2,
		x:     mat.NewVecDense(4, nil),
		p:     mat.NewDense(4, 4, nil),
	}
}

// Update folds one detection into the state.
func (f *GroundKalman) Update(det vision.Detection) {
	if !f.seeded {
		f.x.SetVec(0, det.Pos.X)
		f.x.SetVec(1, det.Pos.Y)
		f.x.SetVec(2, 0)
		f.x.SetVec(3, 0)
		f.p.Zero()
		f.p.Set(0, 0, f.rVar)
		f.p.Set(1, 1, f.rVar)
		f.p.Set(2, 2, initialVelocityVar)
		f.p.Set(3, 3, initialVelocityVar)
		f.lastNs = det.TimeNs
		f.seeded = true
		return
	}

	f.advanceTo(det.TimeNs)
	f.correct(det.Pos.X, det.Pos.Y)
	if det.TimeNs > f.lastNs {
		f.lastNs = det.TimeNs
	}
}

// Predict extrapolates the free-rolling state to atNs.
func (f *GroundKalman) Predict(atNs int64) (pos, vel r2.Point) {
	if !f.seeded {
		return r2.Point{}, r2.Point{}
	}
	x, y := f.x.AtVec(0), f.x.AtVec(1)
	vx, vy := f.x.AtVec(2), f.x.AtVec(3)

	dt := float64(atNs-f.lastNs) / 1e9
	if dt < 0 {
		dt = 0
	}
	for dt > MinDt {
		step := math.Min(dt, MaxPredictDt)
		x, y, vx, vy = integrate(x, y, vx, vy, step, f.decel)
		dt -= step
	}
	return r2.Point{X: x, Y: y}, r2.Point{X: vx, Y: vy}
}

// LastTimeNs returns the capture time of the last folded detection.
func (f *GroundKalman) LastTimeNs() int64 {
	return f.lastNs
}

// Clone returns an independent deep copy.
func (f *GroundKalman) Clone() Estimator {
	return &GroundKalman{
		q:      f.q,
		rVar:   f.rVar,
		decel:  f.decel,
		x:      mat.VecDenseCopyOf(f.x),
		p:      mat.DenseCopyOf(f.p),
		lastNs: f.lastNs,
		seeded: f.seeded,
	}
}

// integrate advances a free-rolling state by dt seconds under constant
// friction deceleration. Displacement uses the mean of entry and exit
// speed over the step; velocity never crosses zero.
func integrate(x, y, vx, vy, dt, decel float64) (nx, ny, nvx, nvy float64) {
	speed := math.Hypot(vx, vy)
	newSpeed := speed - decel*dt
	if newSpeed < 0 {
		newSpeed = 0
	}
	var scale, meanScale float64
	if speed > 0 {
		scale = newSpeed / speed
		meanScale = (speed + newSpeed) / (2 * speed)
	}
	return x + vx*meanScale*dt, y + vy*meanScale*dt, vx * scale, vy * scale
}

// advanceTo integrates the state and grows the covariance up to ns,
// walking long gaps in MaxPredictDt slices.
func (f *GroundKalman) advanceTo(ns int64) {
	dt := float64(ns-f.lastNs) / 1e9
	for dt > MinDt {
		step := math.Min(dt, MaxPredictDt)
		f.predictStep(step)
		dt -= step
	}
}

func (f *GroundKalman) predictStep(dt float64) {
	x, y := f.x.AtVec(0), f.x.AtVec(1)
	vx, vy := f.x.AtVec(2), f.x.AtVec(3)
	x, y, vx, vy = integrate(x, y, vx, vy, dt, f.decel)
	f.x.SetVec(0, x)
	f.x.SetVec(1, y)
	f.x.SetVec(2, vx)
	f.x.SetVec(3, vy)

	// The friction Jacobian is near identity at these decelerations, so
	// the covariance propagates through the constant-velocity transition.
	fm := transitionMatrix(dt)
	var fp, fpft mat.Dense
	fp.Mul(fm, f.p)
	fpft.Mul(&fp, fm.T())
	fpft.Add(&fpft, processNoise(dt, f.q))
	f.p.Copy(&fpft)
}

func (f *GroundKalman) correct(mx, my float64) {
	h := obsMatrix

	var hp, s mat.Dense
	hp.Mul(h, f.p)
	s.Mul(&hp, h.T())
	s.Set(0, 0, s.At(0, 0)+f.rVar)
	s.Set(1, 1, s.At(1, 1)+f.rVar)

	if math.Abs(mat.Det(&s)) < MinDeterminantThreshold {
		return
	}
	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return
	}

	var pht, k mat.Dense
	pht.Mul(f.p, h.T())
	k.Mul(&pht, &sInv)

	resid := mat.NewVecDense(2, []float64{mx - f.x.AtVec(0), my - f.x.AtVec(1)})
	var corr mat.VecDense
	corr.MulVec(&k, resid)
	f.x.AddVec(f.x, &corr)

	// Joseph form keeps the covariance symmetric positive definite.
	var kh, ikh mat.Dense
	kh.Mul(&k, h)
	ikh.Sub(eye4(), &kh)

	var ip, ipit mat.Dense
	ip.Mul(&ikh, f.p)
	ipit.Mul(&ip, ikh.T())

	var kr, krkt mat.Dense
	kr.Scale(f.rVar, &k)
	krkt.Mul(&kr, k.T())

	ipit.Add(&ipit, &krkt)
	f.p.Copy(&ipit)
}

func transitionMatrix(dt float64) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, dt, 0,
		0, 1, 0, dt,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

func processNoise(dt, q float64) *mat.Dense {
	d2 := dt * dt
	d3 := d2 * dt / 2
	d4 := d2 * d2 / 4
	return mat.NewDense(4, 4, []float64{
		q * d4, 0, q * d3, 0,
		0, q * d4, 0, q * d3,
		q * d3, 0, q * d2, 0,
		0, q * d3, 0, q * d2,
	})
}

func eye4() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}
