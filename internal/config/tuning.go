package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// weightSumTolerance bounds floating-point error when checking that the
// composite weights sum to one.
const weightSumTolerance = 1e-6

// TuningConfig represents the root configuration for the fatigue engine.
// Every field is optional; the Get* accessors fall back to the built-in
// defaults so partial files are safe.
type TuningConfig struct {
	// Windows (duration strings like "60s", "5m")
	PerclosWindow          *string `json:"perclos_window,omitempty"`
	BlinkWindow            *string `json:"blink_window,omitempty"`
	HeadNodWindow          *string `json:"head_nod_window,omitempty"`
	YawnWindow             *string `json:"yawn_window,omitempty"`
	GazeWindow             *string `json:"gaze_window,omitempty"`
	PerclosHistoryInterval *string `json:"perclos_history_interval,omitempty"`

	// Calibration
	CalibrationSamples *int `json:"calibration_samples,omitempty"`

	// Eye / blink thresholds
	EyeClosedThreshold *float64 `json:"eye_closed_threshold,omitempty"`
	MinBlinkDuration   *string  `json:"min_blink_duration,omitempty"`
	MaxBlinkDuration   *string  `json:"max_blink_duration,omitempty"`
	LongBlinkDuration  *string  `json:"long_blink_duration,omitempty"`
	MaxBlinkHistory    *int     `json:"max_blink_history,omitempty"`

	// Yawn thresholds
	YawnJawThreshold *float64 `json:"yawn_jaw_threshold,omitempty"`
	YawnMinDuration  *string  `json:"yawn_min_duration,omitempty"`

	// Gaze threshold
	GazeDeviationThreshold *float64 `json:"gaze_deviation_threshold,omitempty"`

	// Head-nod thresholds
	HeadNodPitchThreshold *float64 `json:"head_nod_pitch_threshold,omitempty"` // degrees
	HeadNodMinRecovery    *string  `json:"head_nod_min_recovery,omitempty"`
	HeadNodRecovery       *string  `json:"head_nod_recovery,omitempty"`

	// Composite weights (must sum to 1.0)
	WeightPerclos       *float64 `json:"weight_perclos,omitempty"`
	WeightLongBlink     *float64 `json:"weight_long_blink,omitempty"`
	WeightHeadNod       *float64 `json:"weight_head_nod,omitempty"`
	WeightYawn          *float64 `json:"weight_yawn,omitempty"`
	WeightGaze          *float64 `json:"weight_gaze,omitempty"`
	WeightBlinkDuration *float64 `json:"weight_blink_duration,omitempty"`

	// Level thresholds (strictly increasing)
	LevelMild     *float64 `json:"level_mild,omitempty"`
	LevelModerate *float64 `json:"level_moderate,omitempty"`
	LevelHigh     *float64 `json:"level_high,omitempty"`
	LevelCritical *float64 `json:"level_critical,omitempty"`

	// Alerting
	AlertCooldown *string `json:"alert_cooldown,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// with the built-in default.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		PerclosWindow:          ptrString("60s"),
		BlinkWindow:            ptrString("60s"),
		HeadNodWindow:          ptrString("5m"),
		YawnWindow:             ptrString("5m"),
		GazeWindow:             ptrString("60s"),
		PerclosHistoryInterval: ptrString("10s"),
		CalibrationSamples:     ptrInt(120),
		EyeClosedThreshold:     ptrFloat64(0.6),
		MinBlinkDuration:       ptrString("50ms"),
		MaxBlinkDuration:       ptrString("2s"),
		LongBlinkDuration:      ptrString("400ms"),
		MaxBlinkHistory:        ptrInt(50),
		YawnJawThreshold:       ptrFloat64(0.7),
		YawnMinDuration:        ptrString("1.5s"),
		GazeDeviationThreshold: ptrFloat64(1.5),
		HeadNodPitchThreshold:  ptrFloat64(10),
		HeadNodMinRecovery:     ptrString("100ms"),
		HeadNodRecovery:        ptrString("500ms"),
		WeightPerclos:          ptrFloat64(0.40),
		WeightLongBlink:        ptrFloat64(0.20),
		WeightHeadNod:          ptrFloat64(0.15),
		WeightYawn:             ptrFloat64(0.10),
		WeightGaze:             ptrFloat64(0.10),
		WeightBlinkDuration:    ptrFloat64(0.05),
		LevelMild:              ptrFloat64(30),
		LevelModerate:          ptrFloat64(55),
		LevelHigh:              ptrFloat64(70),
		LevelCritical:          ptrFloat64(85),
		AlertCooldown:          ptrString("30s"),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
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

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Weight and level
// checks run on the effective values, so a partial file that only overrides
// one weight must still leave the set summing to one.
func (c *TuningConfig) Validate() error {
	durations := []struct {
		name string
		v    *string
	}{
		{"perclos_window", c.PerclosWindow},
		{"blink_window", c.BlinkWindow},
		{"head_nod_window", c.HeadNodWindow},
		{"yawn_window", c.YawnWindow},
		{"gaze_window", c.GazeWindow},
		{"perclos_history_interval", c.PerclosHistoryInterval},
		{"min_blink_duration", c.MinBlinkDuration},
		{"max_blink_duration", c.MaxBlinkDuration},
		{"long_blink_duration", c.LongBlinkDuration},
		{"yawn_min_duration", c.YawnMinDuration},
		{"head_nod_min_recovery", c.HeadNodMinRecovery},
		{"head_nod_recovery", c.HeadNodRecovery},
		{"alert_cooldown", c.AlertCooldown},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if parsed < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", d.name, *d.v)
		}
	}

	unit := []struct {
		name string
		v    *float64
	}{
		{"eye_closed_threshold", c.EyeClosedThreshold},
		{"yawn_jaw_threshold", c.YawnJawThreshold},
	}
	for _, u := range unit {
		if u.v != nil && (*u.v < 0 || *u.v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", u.name, *u.v)
		}
	}

	if c.CalibrationSamples != nil && *c.CalibrationSamples <= 0 {
		return fmt.Errorf("calibration_samples must be positive, got %d", *c.CalibrationSamples)
	}
	if c.MaxBlinkHistory != nil && *c.MaxBlinkHistory <= 0 {
		return fmt.Errorf("max_blink_history must be positive, got %d", *c.MaxBlinkHistory)
	}
	if c.GazeDeviationThreshold != nil && *c.GazeDeviationThreshold < 0 {
		return fmt.Errorf("gaze_deviation_threshold must be non-negative, got %f", *c.GazeDeviationThreshold)
	}
	if c.HeadNodPitchThreshold != nil && *c.HeadNodPitchThreshold < 0 {
		return fmt.Errorf("head_nod_pitch_threshold must be non-negative, got %f", *c.HeadNodPitchThreshold)
	}

	if c.GetMinBlinkDuration() > c.GetMaxBlinkDuration() {
		return fmt.Errorf("min_blink_duration %s exceeds max_blink_duration %s",
			c.GetMinBlinkDuration(), c.GetMaxBlinkDuration())
	}
	if c.GetHeadNodMinRecovery() >= c.GetHeadNodRecovery() {
		return fmt.Errorf("head_nod_min_recovery %s must be below head_nod_recovery %s",
			c.GetHeadNodMinRecovery(), c.GetHeadNodRecovery())
	}

	weights := []float64{
		c.GetWeightPerclos(), c.GetWeightLongBlink(), c.GetWeightHeadNod(),
		c.GetWeightYawn(), c.GetWeightGaze(), c.GetWeightBlinkDuration(),
	}
	var sum float64
	for _, w := range weights {
		if w < 0 {
			return fmt.Errorf("composite weights must be non-negative, got %f", w)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("composite weights must sum to 1.0, got %f", sum)
	}

	levels := []float64{c.GetLevelMild(), c.GetLevelModerate(), c.GetLevelHigh(), c.GetLevelCritical()}
	for i := 1; i < len(levels); i++ {
		if levels[i] <= levels[i-1] {
			return fmt.Errorf("level thresholds must be strictly increasing, got %v", levels)
		}
	}
	if levels[0] <= 0 || levels[len(levels)-1] > 100 {
		return fmt.Errorf("level thresholds must lie in (0, 100], got %v", levels)
	}

	return nil
}

// getDuration parses p or returns def when p is unset or unparsable.
func getDuration(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// GetPerclosWindow returns the PERCLOS sliding window length.
func (c *TuningConfig) GetPerclosWindow() time.Duration {
	return getDuration(c.PerclosWindow, 60*time.Second)
}

// GetBlinkWindow returns the window over which blink rate and mean duration are computed.
func (c *TuningConfig) GetBlinkWindow() time.Duration {
	return getDuration(c.BlinkWindow, 60*time.Second)
}

// GetHeadNodWindow returns the head-nod event window.
func (c *TuningConfig) GetHeadNodWindow() time.Duration {
	return getDuration(c.HeadNodWindow, 5*time.Minute)
}

// GetYawnWindow returns the yawn event window.
func (c *TuningConfig) GetYawnWindow() time.Duration {
	return getDuration(c.YawnWindow, 5*time.Minute)
}

// GetGazeWindow returns the gaze-deviation sliding window length.
func (c *TuningConfig) GetGazeWindow() time.Duration {
	return getDuration(c.GazeWindow, 60*time.Second)
}

// GetPerclosHistoryInterval returns the spacing of PERCLOS trend points.
func (c *TuningConfig) GetPerclosHistoryInterval() time.Duration {
	return getDuration(c.PerclosHistoryInterval, 10*time.Second)
}

// GetCalibrationSamples returns the number of baseline samples to collect.
func (c *TuningConfig) GetCalibrationSamples() int {
	return getInt(c.CalibrationSamples, 120)
}

// GetEyeClosedThreshold returns the eye_closed_threshold value or the default.
func (c *TuningConfig) GetEyeClosedThreshold() float64 {
	return getFloat(c.EyeClosedThreshold, 0.6)
}

// GetMinBlinkDuration returns the shortest closure accepted as a blink.
func (c *TuningConfig) GetMinBlinkDuration() time.Duration {
	return getDuration(c.MinBlinkDuration, 50*time.Millisecond)
}

// GetMaxBlinkDuration returns the longest closure accepted as a blink.
func (c *TuningConfig) GetMaxBlinkDuration() time.Duration {
	return getDuration(c.MaxBlinkDuration, 2*time.Second)
}

// GetLongBlinkDuration returns the duration above which a blink counts as long.
func (c *TuningConfig) GetLongBlinkDuration() time.Duration {
	return getDuration(c.LongBlinkDuration, 400*time.Millisecond)
}

// GetMaxBlinkHistory returns the blink FIFO capacity.
func (c *TuningConfig) GetMaxBlinkHistory() int {
	return getInt(c.MaxBlinkHistory, 50)
}

// GetYawnJawThreshold returns the yawn_jaw_threshold value or the default.
func (c *TuningConfig) GetYawnJawThreshold() float64 {
	return getFloat(c.YawnJawThreshold, 0.7)
}

// GetYawnMinDuration returns the minimum sustained jaw opening for a yawn.
func (c *TuningConfig) GetYawnMinDuration() time.Duration {
	return getDuration(c.YawnMinDuration, 1500*time.Millisecond)
}

// GetGazeDeviationThreshold returns the gaze_deviation_threshold value or the default.
func (c *TuningConfig) GetGazeDeviationThreshold() float64 {
	return getFloat(c.GazeDeviationThreshold, 1.5)
}

// GetHeadNodPitchThreshold returns the pitch drop (degrees) that starts a nod.
func (c *TuningConfig) GetHeadNodPitchThreshold() float64 {
	return getFloat(c.HeadNodPitchThreshold, 10)
}

// GetHeadNodMinRecovery returns the exclusive lower bound on nod recovery time.
func (c *TuningConfig) GetHeadNodMinRecovery() time.Duration {
	return getDuration(c.HeadNodMinRecovery, 100*time.Millisecond)
}

// GetHeadNodRecovery returns the inclusive upper bound on nod recovery time.
func (c *TuningConfig) GetHeadNodRecovery() time.Duration {
	return getDuration(c.HeadNodRecovery, 500*time.Millisecond)
}

// GetWeightPerclos returns the weight_perclos value or the default.
func (c *TuningConfig) GetWeightPerclos() float64 { return getFloat(c.WeightPerclos, 0.40) }

// GetWeightLongBlink returns the weight_long_blink value or the default.
func (c *TuningConfig) GetWeightLongBlink() float64 { return getFloat(c.WeightLongBlink, 0.20) }

// GetWeightHeadNod returns the weight_head_nod value or the default.
func (c *TuningConfig) GetWeightHeadNod() float64 { return getFloat(c.WeightHeadNod, 0.15) }

// GetWeightYawn returns the weight_yawn value or the default.
func (c *TuningConfig) GetWeightYawn() float64 { return getFloat(c.WeightYawn, 0.10) }

// GetWeightGaze returns the weight_gaze value or the default.
func (c *TuningConfig) GetWeightGaze() float64 { return getFloat(c.WeightGaze, 0.10) }

// GetWeightBlinkDuration returns the weight_blink_duration value or the default.
func (c *TuningConfig) GetWeightBlinkDuration() float64 {
	return getFloat(c.WeightBlinkDuration, 0.05)
}

// GetLevelMild returns the level_mild value or the default.
func (c *TuningConfig) GetLevelMild() float64 { return getFloat(c.LevelMild, 30) }

// GetLevelModerate returns the level_moderate value or the default.
func (c *TuningConfig) GetLevelModerate() float64 { return getFloat(c.LevelModerate, 55) }

// GetLevelHigh returns the level_high value or the default.
func (c *TuningConfig) GetLevelHigh() float64 { return getFloat(c.LevelHigh, 70) }

// GetLevelCritical returns the level_critical value or the default.
func (c *TuningConfig) GetLevelCritical() float64 { return getFloat(c.LevelCritical, 85) }

// GetAlertCooldown returns the minimum interval between permitted alerts.
func (c *TuningConfig) GetAlertCooldown() time.Duration {
	return getDuration(c.AlertCooldown, 30*time.Second)
}
