package fatigue

import "time"

// TrendInputs are the windowed metrics that feed the trend score.
type TrendInputs struct {
	Perclos           float64 // percent
	LongBlinkRate     float64 // per minute
	HeadNodRate       float64 // per head-nod window
	YawnRate          float64 // per yawn window
	GazeDeviation     float64 // percent
	MeanBlinkDuration time.Duration
}

// Scorer combines trend metrics into a 0–100 score.
type Scorer struct {
	weights Weights
}

// NewScorer returns a Scorer using w. Weights are expected to sum to one.
func NewScorer(w Weights) Scorer {
	return Scorer{weights: w}
}

// normalized scales v against its saturation cap into [0,100].
func normalized(v, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return clamp(v/limit, 0, 1) * 100
}

// Trend returns the weighted composite of the normalised trend metrics.
func (s Scorer) Trend(in TrendInputs) float64 {
	w := s.weights
	score := normalized(in.Perclos, PerclosCap)*w.Perclos +
		normalized(in.LongBlinkRate, LongBlinkRateCap)*w.LongBlink +
		normalized(in.HeadNodRate, HeadNodRateCap)*w.HeadNod +
		normalized(in.YawnRate, YawnRateCap)*w.Yawn +
		normalized(in.GazeDeviation, GazeDeviationCap)*w.Gaze +
		normalized(in.MeanBlinkDuration.Seconds(), MeanBlinkDurationCap.Seconds())*w.BlinkDuration
	return clamp(score, 0, 100)
}

// Fuse combines the acute and trend scores: the larger wins, clamped to [0,100].
func Fuse(acute, trend float64) float64 {
	return clamp(max(acute, trend), 0, 100)
}
