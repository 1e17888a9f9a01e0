package fatigue

import (
	"math"
	"time"
)

// Input clamp ranges.
const (
	maxPitchDegrees = 90.0
	maxGazeOffset   = 10.0
)

// Sample is one frame of facial signals delivered by the capture pipeline.
// Eye values are blink coefficients: 0 is fully open, 1 fully closed.
type Sample struct {
	LeftEye   float64 // [0,1]
	RightEye  float64 // [0,1]
	HeadPitch float64 // degrees, negative = down
	JawOpen   float64 // [0,1]
	GazeX     float64 // normalised, nominal [-1,1]
	GazeY     float64 // normalised, nominal [-1,1]

	// SpatiallyCalibrated is set by the capture pipeline once its own
	// spatial tracking is stable. Engine calibration starts on the first
	// frame that carries it.
	SpatiallyCalibrated bool

	// Timestamp is the capture time. A zero value is stamped from the
	// engine clock.
	Timestamp time.Time
}

// Finite reports whether every signal is a finite number.
func (s Sample) Finite() bool {
	for _, v := range [...]float64{s.LeftEye, s.RightEye, s.HeadPitch, s.JawOpen, s.GazeX, s.GazeY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Clamped returns a copy with every signal limited to its documented range.
func (s Sample) Clamped() Sample {
	s.LeftEye = clamp(s.LeftEye, 0, 1)
	s.RightEye = clamp(s.RightEye, 0, 1)
	s.JawOpen = clamp(s.JawOpen, 0, 1)
	s.HeadPitch = clamp(s.HeadPitch, -maxPitchDegrees, maxPitchDegrees)
	s.GazeX = clamp(s.GazeX, -maxGazeOffset, maxGazeOffset)
	s.GazeY = clamp(s.GazeY, -maxGazeOffset, maxGazeOffset)
	return s
}

// EyeAverage is the mean of the two eye blink coefficients.
func (s Sample) EyeAverage() float64 {
	return (s.LeftEye + s.RightEye) / 2
}

// GazeMagnitude is the Euclidean length of the gaze offset.
func (s Sample) GazeMagnitude() float64 {
	return math.Hypot(s.GazeX, s.GazeY)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
