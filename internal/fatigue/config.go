package fatigue

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/drowsiness.report/internal/config"
)

// ErrInvalidConfig is returned by NewEngine when the configuration fails validation.
var ErrInvalidConfig = errors.New("invalid fatigue config")

// Saturation caps for the trend score. Each metric is divided by its cap and
// clamped to [0,1] before weighting.
const (
	PerclosCap           = 50.0                   // percent
	LongBlinkRateCap     = 15.0                   // long blinks per minute
	HeadNodRateCap       = 6.0                    // nods per head-nod window
	YawnRateCap          = 5.0                    // yawns per yawn window
	GazeDeviationCap     = 40.0                   // percent
	MeanBlinkDurationCap = 500 * time.Millisecond // mean blink duration
)

// Weights holds the composite trend weights. They must sum to 1.0.
type Weights struct {
	Perclos       float64
	LongBlink     float64
	HeadNod       float64
	Yawn          float64
	Gaze          float64
	BlinkDuration float64
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Perclos + w.LongBlink + w.HeadNod + w.Yawn + w.Gaze + w.BlinkDuration
}

func (w Weights) values() [6]float64 {
	return [6]float64{w.Perclos, w.LongBlink, w.HeadNod, w.Yawn, w.Gaze, w.BlinkDuration}
}

// LevelThresholds are the lower bounds (inclusive) of each alert level above Normal.
type LevelThresholds struct {
	Mild     float64
	Moderate float64
	High     float64
	Critical float64
}

// Config holds every tunable of the engine. It is immutable for the life of
// an Engine.
type Config struct {
	// Windows
	PerclosWindow          time.Duration // sliding window for PERCLOS
	BlinkWindow            time.Duration // window for long-blink rate and mean blink duration
	HeadNodWindow          time.Duration // head-nod event retention
	YawnWindow             time.Duration // yawn event retention
	GazeWindow             time.Duration // sliding window for gaze deviation
	PerclosHistoryInterval time.Duration // spacing of PERCLOS trend points

	// Calibration
	CalibrationSamples int

	// Eye closure / blinks
	EyeClosedThreshold float64       // mean eye-blink signal above which eyes count as closed
	MinBlinkDuration   time.Duration // inclusive
	MaxBlinkDuration   time.Duration // inclusive
	LongBlinkDuration  time.Duration // exclusive
	MaxBlinkHistory    int

	// Yawns
	YawnJawThreshold float64
	YawnMinDuration  time.Duration // inclusive

	// Gaze
	GazeDeviationThreshold float64

	// Head nods
	HeadNodPitchThreshold float64       // degrees below baseline
	HeadNodMinRecovery    time.Duration // exclusive lower bound
	HeadNodRecovery       time.Duration // inclusive upper bound

	Weights Weights
	Levels  LevelThresholds

	AlertCooldown time.Duration
}

// DefaultConfig returns the built-in engine defaults.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
// Use this in production code where the TuningConfig is already loaded.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		PerclosWindow:          cfg.GetPerclosWindow(),
		BlinkWindow:            cfg.GetBlinkWindow(),
		HeadNodWindow:          cfg.GetHeadNodWindow(),
		YawnWindow:             cfg.GetYawnWindow(),
		GazeWindow:             cfg.GetGazeWindow(),
		PerclosHistoryInterval: cfg.GetPerclosHistoryInterval(),
		CalibrationSamples:     cfg.GetCalibrationSamples(),
		EyeClosedThreshold:     cfg.GetEyeClosedThreshold(),
		MinBlinkDuration:       cfg.GetMinBlinkDuration(),
		MaxBlinkDuration:       cfg.GetMaxBlinkDuration(),
		LongBlinkDuration:      cfg.GetLongBlinkDuration(),
		MaxBlinkHistory:        cfg.GetMaxBlinkHistory(),
		YawnJawThreshold:       cfg.GetYawnJawThreshold(),
		YawnMinDuration:        cfg.GetYawnMinDuration(),
		GazeDeviationThreshold: cfg.GetGazeDeviationThreshold(),
		HeadNodPitchThreshold:  cfg.GetHeadNodPitchThreshold(),
		HeadNodMinRecovery:     cfg.GetHeadNodMinRecovery(),
		HeadNodRecovery:        cfg.GetHeadNodRecovery(),
		Weights: Weights{
			Perclos:       cfg.GetWeightPerclos(),
			LongBlink:     cfg.GetWeightLongBlink(),
			HeadNod:       cfg.GetWeightHeadNod(),
			Yawn:          cfg.GetWeightYawn(),
			Gaze:          cfg.GetWeightGaze(),
			BlinkDuration: cfg.GetWeightBlinkDuration(),
		},
		Levels: LevelThresholds{
			Mild:     cfg.GetLevelMild(),
			Moderate: cfg.GetLevelModerate(),
			High:     cfg.GetLevelHigh(),
			Critical: cfg.GetLevelCritical(),
		},
		AlertCooldown: cfg.GetAlertCooldown(),
	}
}

// Validate checks the invariants the engine relies on.
func (c Config) Validate() error {
	windows := []struct {
		name string
		d    time.Duration
	}{
		{"perclos window", c.PerclosWindow},
		{"blink window", c.BlinkWindow},
		{"head-nod window", c.HeadNodWindow},
		{"yawn window", c.YawnWindow},
		{"gaze window", c.GazeWindow},
		{"perclos history interval", c.PerclosHistoryInterval},
	}
	for _, w := range windows {
		if w.d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidConfig, w.name, w.d)
		}
	}
	if c.CalibrationSamples <= 0 {
		return fmt.Errorf("%w: calibration samples must be positive, got %d", ErrInvalidConfig, c.CalibrationSamples)
	}
	if c.MaxBlinkHistory <= 0 {
		return fmt.Errorf("%w: blink history must be positive, got %d", ErrInvalidConfig, c.MaxBlinkHistory)
	}
	if c.MinBlinkDuration > c.MaxBlinkDuration {
		return fmt.Errorf("%w: blink bounds inverted (%s > %s)", ErrInvalidConfig, c.MinBlinkDuration, c.MaxBlinkDuration)
	}
	if c.HeadNodMinRecovery >= c.HeadNodRecovery {
		return fmt.Errorf("%w: head-nod recovery bounds inverted (%s >= %s)", ErrInvalidConfig, c.HeadNodMinRecovery, c.HeadNodRecovery)
	}
	if c.AlertCooldown < 0 {
		return fmt.Errorf("%w: alert cooldown must be non-negative, got %s", ErrInvalidConfig, c.AlertCooldown)
	}

	for _, w := range c.Weights.values() {
		if w < 0 || math.IsNaN(w) {
			return fmt.Errorf("%w: weights must be non-negative, got %v", ErrInvalidConfig, c.Weights)
		}
	}
	if sum := c.Weights.Sum(); math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("%w: weights must sum to 1.0, got %f", ErrInvalidConfig, sum)
	}

	l := c.Levels
	if !(0 < l.Mild && l.Mild < l.Moderate && l.Moderate < l.High && l.High < l.Critical && l.Critical <= 100) {
		return fmt.Errorf("%w: level thresholds must be strictly increasing within (0,100], got %+v", ErrInvalidConfig, l)
	}
	return nil
}
