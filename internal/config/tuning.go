package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultConfigPath is the path to the canonical sync defaults file.
const DefaultConfigPath = "config/sync.defaults.json"

// Grid modes accepted by grid_mode.
const (
	GridNative  = "native"
	GridUniform = "uniform"
)

// TuningConfig holds the calibrated constants of the alignment pipeline.
//
// The reset threshold, forced offset and length tolerance were fitted on a
// single rig; a different wheel encoder or logger may need new values.
// Every field is optional and falls back to its default through the Get*
// accessors, so partial files are safe.
type TuningConfig struct {
	// Encoder timeline
	ResetThreshold *float64 `json:"reset_threshold,omitempty"`
	EncoderRateHz  *float64 `json:"encoder_rate_hz,omitempty"`
	EdgeChannel    *string  `json:"edge_channel,omitempty"`

	// Strategy selection
	ForcedOffsetSeconds *float64 `json:"forced_offset_seconds,omitempty"`
	LengthTolerance     *float64 `json:"length_tolerance,omitempty"`

	// Cross-correlation
	XCorrRateHz        *float64 `json:"xcorr_rate_hz,omitempty"`
	XCorrEpsilon       *float64 `json:"xcorr_epsilon,omitempty"`
	XCorrMaxLagSeconds *float64 `json:"xcorr_max_lag_seconds,omitempty"`
	ApplyXCorr         *bool    `json:"apply_xcorr,omitempty"`

	// Wheel speed derivation
	WheelDiameterInch *float64 `json:"wheel_diameter_inch,omitempty"`
	EdgesPerRev       *float64 `json:"edges_per_rev,omitempty"`
	EdgeStep          *int     `json:"edge_step,omitempty"`
	AccelCutoffHz     *float64 `json:"accel_cutoff_hz,omitempty"`

	// Motion stream
	MotionAccelChannel     *string  `json:"motion_accel_channel,omitempty"`
	MovementSpeedThreshold *float64 `json:"movement_speed_threshold,omitempty"`

	// Merge
	GridMode               *string  `json:"grid_mode,omitempty"`
	GridPoints             *int     `json:"grid_points,omitempty"`
	MarginToleranceSeconds *float64 `json:"margin_tolerance_seconds,omitempty"`
	EncoderPrefix          *string  `json:"encoder_prefix,omitempty"`

	// Batch
	Workers *int `json:"workers,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// from the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	e := EmptyTuningConfig()
	return &TuningConfig{
		ResetThreshold:         ptrFloat64(e.GetResetThreshold()),
		EncoderRateHz:          ptrFloat64(e.GetEncoderRateHz()),
		EdgeChannel:            ptrString(e.GetEdgeChannel()),
		ForcedOffsetSeconds:    ptrFloat64(e.GetForcedOffsetSeconds()),
		LengthTolerance:        ptrFloat64(e.GetLengthTolerance()),
		XCorrRateHz:            ptrFloat64(e.GetXCorrRateHz()),
		XCorrEpsilon:           ptrFloat64(e.GetXCorrEpsilon()),
		XCorrMaxLagSeconds:     ptrFloat64(e.GetXCorrMaxLagSeconds()),
		ApplyXCorr:             ptrBool(e.GetApplyXCorr()),
		WheelDiameterInch:      ptrFloat64(e.GetWheelDiameterInch()),
		EdgesPerRev:            ptrFloat64(e.GetEdgesPerRev()),
		EdgeStep:               ptrInt(e.GetEdgeStep()),
		AccelCutoffHz:          ptrFloat64(e.GetAccelCutoffHz()),
		MotionAccelChannel:     ptrString(e.GetMotionAccelChannel()),
		MovementSpeedThreshold: ptrFloat64(e.GetMovementSpeedThreshold()),
		GridMode:               ptrString(e.GetGridMode()),
		GridPoints:             ptrInt(e.GetGridPoints()),
		MarginToleranceSeconds: ptrFloat64(e.GetMarginToleranceSeconds()),
		EncoderPrefix:          ptrString(e.GetEncoderPrefix()),
		Workers:                ptrInt(e.GetWorkers()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.ResetThreshold != nil && *c.ResetThreshold >= 0 {
		return fmt.Errorf("reset_threshold must be negative, got %f", *c.ResetThreshold)
	}
	if c.EncoderRateHz != nil && *c.EncoderRateHz <= 0 {
		return fmt.Errorf("encoder_rate_hz must be positive, got %f", *c.EncoderRateHz)
	}
	if c.LengthTolerance != nil && (*c.LengthTolerance < 0 || *c.LengthTolerance > 1) {
		return fmt.Errorf("length_tolerance must be between 0 and 1, got %f", *c.LengthTolerance)
	}
	if c.XCorrRateHz != nil && *c.XCorrRateHz <= 0 {
		return fmt.Errorf("xcorr_rate_hz must be positive, got %f", *c.XCorrRateHz)
	}
	if c.XCorrEpsilon != nil && *c.XCorrEpsilon <= 0 {
		return fmt.Errorf("xcorr_epsilon must be positive, got %g", *c.XCorrEpsilon)
	}
	if c.XCorrMaxLagSeconds != nil && *c.XCorrMaxLagSeconds <= 0 {
		return fmt.Errorf("xcorr_max_lag_seconds must be positive, got %f", *c.XCorrMaxLagSeconds)
	}
	if c.WheelDiameterInch != nil && *c.WheelDiameterInch <= 0 {
		return fmt.Errorf("wheel_diameter_inch must be positive, got %f", *c.WheelDiameterInch)
	}
	if c.EdgesPerRev != nil && *c.EdgesPerRev <= 0 {
		return fmt.Errorf("edges_per_rev must be positive, got %f", *c.EdgesPerRev)
	}
	if c.EdgeStep != nil && *c.EdgeStep < 1 {
		return fmt.Errorf("edge_step must be at least 1, got %d", *c.EdgeStep)
	}
	if c.AccelCutoffHz != nil && *c.AccelCutoffHz <= 0 {
		return fmt.Errorf("accel_cutoff_hz must be positive, got %f", *c.AccelCutoffHz)
	}
	if c.GridMode != nil && *c.GridMode != GridNative && *c.GridMode != GridUniform {
		return fmt.Errorf("grid_mode must be %q or %q, got %q", GridNative, GridUniform, *c.GridMode)
	}
	if c.GridPoints != nil && (*c.GridPoints < 0 || *c.GridPoints == 1) {
		return fmt.Errorf("grid_points must be 0 or at least 2, got %d", *c.GridPoints)
	}
	if c.MarginToleranceSeconds != nil && *c.MarginToleranceSeconds < 0 {
		return fmt.Errorf("margin_tolerance_seconds must be non-negative, got %g", *c.MarginToleranceSeconds)
	}
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", *c.Workers)
	}
	return nil
}

// GetResetThreshold returns the reset_threshold value or the default.
func (c *TuningConfig) GetResetThreshold() float64 {
	if c.ResetThreshold == nil {
		return -100
	}
	return *c.ResetThreshold
}

// GetEncoderRateHz returns the encoder_rate_hz value or the default.
func (c *TuningConfig) GetEncoderRateHz() float64 {
	if c.EncoderRateHz == nil {
		return 400
	}
	return *c.EncoderRateHz
}

// GetEdgeChannel returns the edge_channel value or the default.
func (c *TuningConfig) GetEdgeChannel() string {
	if c.EdgeChannel == nil || *c.EdgeChannel == "" {
		return "Edges_RoueAR"
	}
	return *c.EdgeChannel
}

// GetForcedOffsetSeconds returns the forced_offset_seconds value or the default.
// The default was fitted on one calibration recording.
func (c *TuningConfig) GetForcedOffsetSeconds() float64 {
	if c.ForcedOffsetSeconds == nil {
		return 0.2679
	}
	return *c.ForcedOffsetSeconds
}

// GetLengthTolerance returns the length_tolerance value or the default.
func (c *TuningConfig) GetLengthTolerance() float64 {
	if c.LengthTolerance == nil {
		return 0.15
	}
	return *c.LengthTolerance
}

// GetXCorrRateHz returns the xcorr_rate_hz value or the default.
func (c *TuningConfig) GetXCorrRateHz() float64 {
	if c.XCorrRateHz == nil {
		return 100
	}
	return *c.XCorrRateHz
}

// GetXCorrEpsilon returns the xcorr_epsilon value or the default.
func (c *TuningConfig) GetXCorrEpsilon() float64 {
	if c.XCorrEpsilon == nil {
		return 1e-6
	}
	return *c.XCorrEpsilon
}

// GetXCorrMaxLagSeconds returns the xcorr_max_lag_seconds value or the default.
func (c *TuningConfig) GetXCorrMaxLagSeconds() float64 {
	if c.XCorrMaxLagSeconds == nil {
		return 5
	}
	return *c.XCorrMaxLagSeconds
}

// GetApplyXCorr returns the apply_xcorr value or the default.
func (c *TuningConfig) GetApplyXCorr() bool {
	if c.ApplyXCorr == nil {
		return false // default: record the lag, do not act on it
	}
	return *c.ApplyXCorr
}

// GetWheelDiameterInch returns the wheel_diameter_inch value or the default.
func (c *TuningConfig) GetWheelDiameterInch() float64 {
	if c.WheelDiameterInch == nil {
		return 17
	}
	return *c.WheelDiameterInch
}

// GetEdgesPerRev returns the edges_per_rev value or the default.
func (c *TuningConfig) GetEdgesPerRev() float64 {
	if c.EdgesPerRev == nil {
		return 50
	}
	return *c.EdgesPerRev
}

// GetEdgeStep returns the edge_step value or the default.
func (c *TuningConfig) GetEdgeStep() int {
	if c.EdgeStep == nil {
		return 150
	}
	return *c.EdgeStep
}

// GetAccelCutoffHz returns the accel_cutoff_hz value or the default.
func (c *TuningConfig) GetAccelCutoffHz() float64 {
	if c.AccelCutoffHz == nil {
		return 5
	}
	return *c.AccelCutoffHz
}

// GetMotionAccelChannel returns the motion_accel_channel value or the default.
func (c *TuningConfig) GetMotionAccelChannel() string {
	if c.MotionAccelChannel == nil || *c.MotionAccelChannel == "" {
		return "Acc_X"
	}
	return *c.MotionAccelChannel
}

// GetMovementSpeedThreshold returns the movement_speed_threshold value or the default.
func (c *TuningConfig) GetMovementSpeedThreshold() float64 {
	if c.MovementSpeedThreshold == nil {
		return 0.5
	}
	return *c.MovementSpeedThreshold
}

// GetGridMode returns the grid_mode value or the default.
func (c *TuningConfig) GetGridMode() string {
	if c.GridMode == nil || *c.GridMode == "" {
		return GridNative
	}
	return *c.GridMode
}

// GetGridPoints returns the grid_points value or the default.
func (c *TuningConfig) GetGridPoints() int {
	if c.GridPoints == nil {
		return 0 // default: encoder point count inside the window
	}
	return *c.GridPoints
}

// GetMarginToleranceSeconds returns the margin_tolerance_seconds value or the default.
func (c *TuningConfig) GetMarginToleranceSeconds() float64 {
	if c.MarginToleranceSeconds == nil {
		return 1e-6
	}
	return *c.MarginToleranceSeconds
}

// GetEncoderPrefix returns the encoder_prefix value or the default.
func (c *TuningConfig) GetEncoderPrefix() string {
	if c.EncoderPrefix == nil {
		return "TDMS_"
	}
	return *c.EncoderPrefix
}

// GetWorkers returns the workers value or the default.
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil {
		return 4
	}
	return *c.Workers
}
