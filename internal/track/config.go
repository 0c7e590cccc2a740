package track

import (
	"time"

	"github.com/smallsize-vision/balltrack/internal/config"
)

// Internal numerical stability constants, not user-tunable.
const (
	// MinDt is the smallest prediction step the estimator will integrate.
	MinDt = 1e-6

	// MaxPredictDt caps a single prediction step. Longer gaps are walked
	// in MaxPredictDt slices so the friction integration stays stable.
	MaxPredictDt = 0.5

	// MinDeterminantThreshold is the minimum innovation covariance
	// determinant accepted for inversion.
	MinDeterminantThreshold = 1e-9
)

// FilterConfig holds the tunable parameters of the ball filter and the
// track manager. Distances are millimeters, speeds mm/s.
type FilterConfig struct {
	DeviationToleranceMM float64       // Prediction error above this counts as a deviating frame
	ContactRadiusMM      float64       // Robot center distance within which contact is attributable
	LagDelta             time.Duration // How far the corroborating estimator trails the live one
	DeviationFrames      int           // Consecutive deviating frames before contact activates
	ReleaseFrames        int           // Consecutive agreeing frames before contact releases
	MaxBallSpeedMMs      float64       // Travel gate: fastest ball the filter will associate
	JumpSlackMM          float64       // Travel gate slack for measurement noise
	BoundarySlackMM      float64       // Field plausibility slack beyond the boundary area
	ProcessNoiseAccel    float64       // White acceleration spectral density (mm²/s³)
	MeasurementNoiseMM   float64       // Camera position noise, one standard deviation
	RollingDecelMMs2     float64       // Rolling friction deceleration applied while free

	// Manager parameters
	TrackTimeout time.Duration // Drop a track this long after its last accepted frame
	MaxBalls     int           // Maximum concurrent ball tracks
	PublishHz    float64       // World-state publish rate
}

// DefaultFilterConfig returns filter configuration loaded from the
// canonical tuning defaults file (config/balltrack.defaults.json).
// Panics if the file cannot be found. Intended for tests and binaries
// that have already validated config availability.
func DefaultFilterConfig() FilterConfig {
	cfg := config.MustLoadDefaultConfig()
	return FilterConfigFromTuning(cfg)
}

// FilterConfigFromTuning builds a FilterConfig from a loaded TuningConfig.
// Use this in production code where the TuningConfig is already loaded.
func FilterConfigFromTuning(cfg *config.TuningConfig) FilterConfig {
	return FilterConfig{
		DeviationToleranceMM: cfg.GetDeviationToleranceMM(),
		ContactRadiusMM:      cfg.GetContactRadiusMM(),
		LagDelta:             cfg.GetLagDelta(),
		DeviationFrames:      cfg.GetDeviationFrames(),
		ReleaseFrames:        cfg.GetReleaseFrames(),
		MaxBallSpeedMMs:      cfg.GetMaxBallSpeedMMs(),
		JumpSlackMM:          cfg.GetJumpSlackMM(),
		BoundarySlackMM:      cfg.GetBoundarySlackMM(),
		ProcessNoiseAccel:    cfg.GetProcessNoiseAccel(),
		MeasurementNoiseMM:   cfg.GetMeasurementNoiseMM(),
		RollingDecelMMs2:     cfg.GetRollingDecelMMs2(),
		TrackTimeout:         cfg.GetTrackTimeout(),
		MaxBalls:             cfg.GetMaxBalls(),
		PublishHz:            cfg.GetPublishHz(),
	}
}
