package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/balltrack.defaults.json"

// TuningConfig is the root tuning document for the ball filter and its
// pipeline. The schema matches the /api/config endpoint so the same JSON
// serves startup configuration and runtime inspection. All fields are
// pointers; omitted fields fall back to the documented defaults via the
// Get* accessors.
type TuningConfig struct {
	// Contact detection params
	DeviationToleranceMM *float64 `json:"deviation_tolerance_mm,omitempty"`
	ContactRadiusMM      *float64 `json:"contact_radius_mm,omitempty"`
	LagDelta             *string  `json:"lag_delta,omitempty"` // duration string like "70ms"
	DeviationFrames      *int     `json:"deviation_frames,omitempty"`
	ReleaseFrames        *int     `json:"release_frames,omitempty"`

	// Acceptance params
	MaxBallSpeedMMs *float64 `json:"max_ball_speed_mms,omitempty"`
	JumpSlackMM     *float64 `json:"jump_slack_mm,omitempty"`
	BoundarySlackMM *float64 `json:"boundary_slack_mm,omitempty"`

	// Estimator params
	ProcessNoiseAccel  *float64 `json:"process_noise_accel,omitempty"` // (mm/s^2)^2 white accel density
	MeasurementNoiseMM *float64 `json:"measurement_noise_mm,omitempty"`
	RollingDecelMMs2   *float64 `json:"rolling_decel_mms2,omitempty"`

	// Track manager params
	TrackTimeout *string  `json:"track_timeout,omitempty"` // duration string like "500ms"
	MaxBalls     *int     `json:"max_balls,omitempty"`
	PublishHz    *float64 `json:"publish_hz,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Every Get* accessor then answers with its built-in default.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from deeper packages
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.DeviationToleranceMM != nil && *c.DeviationToleranceMM <= 0 {
		return fmt.Errorf("deviation_tolerance_mm must be positive, got %f", *c.DeviationToleranceMM)
	}

	if c.ContactRadiusMM != nil && *c.ContactRadiusMM <= 0 {
		return fmt.Errorf("contact_radius_mm must be positive, got %f", *c.ContactRadiusMM)
	}

	if c.LagDelta != nil && *c.LagDelta != "" {
		d, err := time.ParseDuration(*c.LagDelta)
		if err != nil {
			return fmt.Errorf("invalid lag_delta '%s': %w", *c.LagDelta, err)
		}
		if d <= 0 {
			return fmt.Errorf("lag_delta must be positive, got %s", d)
		}
	}

	if c.DeviationFrames != nil && *c.DeviationFrames < 1 {
		return fmt.Errorf("deviation_frames must be at least 1, got %d", *c.DeviationFrames)
	}

	if c.ReleaseFrames != nil && *c.ReleaseFrames < 1 {
		return fmt.Errorf("release_frames must be at least 1, got %d", *c.ReleaseFrames)
	}

	if c.MaxBallSpeedMMs != nil && *c.MaxBallSpeedMMs <= 0 {
		return fmt.Errorf("max_ball_speed_mms must be positive, got %f", *c.MaxBallSpeedMMs)
	}

	if c.MeasurementNoiseMM != nil && *c.MeasurementNoiseMM <= 0 {
		return fmt.Errorf("measurement_noise_mm must be positive, got %f", *c.MeasurementNoiseMM)
	}

	if c.RollingDecelMMs2 != nil && *c.RollingDecelMMs2 < 0 {
		return fmt.Errorf("rolling_decel_mms2 must be non-negative, got %f", *c.RollingDecelMMs2)
	}

	if c.TrackTimeout != nil && *c.TrackTimeout != "" {
		if _, err := time.ParseDuration(*c.TrackTimeout); err != nil {
			return fmt.Errorf("invalid track_timeout '%s': %w", *c.TrackTimeout, err)
		}
	}

	if c.MaxBalls != nil && *c.MaxBalls < 1 {
		return fmt.Errorf("max_balls must be at least 1, got %d", *c.MaxBalls)
	}

	if c.PublishHz != nil && (*c.PublishHz <= 0 || *c.PublishHz > 1000) {
		return fmt.Errorf("publish_hz must be in (0, 1000], got %f", *c.PublishHz)
	}

	return nil
}

// GetDeviationToleranceMM returns the deviation_tolerance_mm value or the default.
func (c *TuningConfig) GetDeviationToleranceMM() float64 {
	if c.DeviationToleranceMM == nil {
		return 35.0
	}
	return *c.DeviationToleranceMM
}

// GetContactRadiusMM returns the contact_radius_mm value or the default.
// Default covers robot radius (90mm) plus ball radius (21.5mm) plus slack.
func (c *TuningConfig) GetContactRadiusMM() float64 {
	if c.ContactRadiusMM == nil {
		return 125.0
	}
	return *c.ContactRadiusMM
}

// GetLagDelta parses and returns the lag_delta as a time.Duration.
func (c *TuningConfig) GetLagDelta() time.Duration {
	if c.LagDelta == nil || *c.LagDelta == "" {
		return 70 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.LagDelta)
	if err != nil {
		return 70 * time.Millisecond // default on parse error
	}
	return d
}

// GetDeviationFrames returns the deviation_frames value or the default.
func (c *TuningConfig) GetDeviationFrames() int {
	if c.DeviationFrames == nil {
		return 3
	}
	return *c.DeviationFrames
}

// GetReleaseFrames returns the release_frames value or the default.
func (c *TuningConfig) GetReleaseFrames() int {
	if c.ReleaseFrames == nil {
		return 5
	}
	return *c.ReleaseFrames
}

// GetMaxBallSpeedMMs returns the max_ball_speed_mms value or the default.
// SSL rules cap kicks at 6.5 m/s; the default leaves headroom for chips.
func (c *TuningConfig) GetMaxBallSpeedMMs() float64 {
	if c.MaxBallSpeedMMs == nil {
		return 10000.0
	}
	return *c.MaxBallSpeedMMs
}

// GetJumpSlackMM returns the jump_slack_mm value or the default.
func (c *TuningConfig) GetJumpSlackMM() float64 {
	if c.JumpSlackMM == nil {
		return 100.0
	}
	return *c.JumpSlackMM
}

// GetBoundarySlackMM returns the boundary_slack_mm value or the default.
func (c *TuningConfig) GetBoundarySlackMM() float64 {
	if c.BoundarySlackMM == nil {
		return 500.0
	}
	return *c.BoundarySlackMM
}

// GetProcessNoiseAccel returns the process_noise_accel value or the default.
func (c *TuningConfig) GetProcessNoiseAccel() float64 {
	if c.ProcessNoiseAccel == nil {
		return 1.0e4
	}
	return *c.ProcessNoiseAccel
}

// GetMeasurementNoiseMM returns the measurement_noise_mm value or the default.
func (c *TuningConfig) GetMeasurementNoiseMM() float64 {
	if c.MeasurementNoiseMM == nil {
		return 3.0
	}
	return *c.MeasurementNoiseMM
}

// GetRollingDecelMMs2 returns the rolling_decel_mms2 value or the default.
func (c *TuningConfig) GetRollingDecelMMs2() float64 {
	if c.RollingDecelMMs2 == nil {
		return 400.0
	}
	return *c.RollingDecelMMs2
}

// GetTrackTimeout parses and returns the track_timeout as a time.Duration.
func (c *TuningConfig) GetTrackTimeout() time.Duration {
	if c.TrackTimeout == nil || *c.TrackTimeout == "" {
		return 500 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.TrackTimeout)
	if err != nil {
		return 500 * time.Millisecond // default on parse error
	}
	return d
}

// GetMaxBalls returns the max_balls value or the default.
func (c *TuningConfig) GetMaxBalls() int {
	if c.MaxBalls == nil {
		return 4
	}
	return *c.MaxBalls
}

// GetPublishHz returns the publish_hz value or the default.
func (c *TuningConfig) GetPublishHz() float64 {
	if c.PublishHz == nil {
		return 60.0
	}
	return *c.PublishHz
}
