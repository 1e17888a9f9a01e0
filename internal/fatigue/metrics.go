package fatigue

import "time"

// Metrics is a read-only snapshot of the engine state after an update.
// Slices it carries are never mutated after publication.
type Metrics struct {
	TripID    string
	Timestamp time.Time

	// Calibration
	Calibrated          bool
	CalibrationProgress float64 // [0,1]
	Baseline            Baseline

	// Trend metrics
	Perclos           float64 // percent of closed frames in the PERCLOS window
	LongBlinkRate     float64 // long blinks per minute
	MeanBlinkDuration time.Duration
	BlinkCount        int // blinks ending inside the blink window
	HeadNodRate       float64
	YawnRate          float64
	YawnCount         int
	GazeDeviation     float64 // percent of deviated frames in the gaze window

	// Scores
	TrendScore  float64
	AcuteScore  float64
	Acute       AcuteBreakdown
	AcuteSource AcuteSource
	Score       float64
	Level       Level

	// Alerting
	LastAlert      time.Time // zero when no alert has been raised this trip
	CooldownActive bool

	PerclosHistory []PerclosPoint

	// Diagnostics
	SampleRate    float64
	Frames        uint64
	SkippedFrames uint64
}

// TrendInputs returns the subset of the snapshot that feeds the trend score.
func (m Metrics) TrendInputs() TrendInputs {
	return TrendInputs{
		Perclos:           m.Perclos,
		LongBlinkRate:     m.LongBlinkRate,
		HeadNodRate:       m.HeadNodRate,
		YawnRate:          m.YawnRate,
		GazeDeviation:     m.GazeDeviation,
		MeanBlinkDuration: m.MeanBlinkDuration,
	}
}

// LevelChange is delivered to the level-change handler whenever the
// classified level differs from the previous update's.
type LevelChange struct {
	TripID    string
	From      Level
	To        Level
	Score     float64
	Timestamp time.Time
}
