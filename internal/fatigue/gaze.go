package fatigue

import (
	"math"
	"time"
)

// GazeSample records whether gaze was off-road at a frame.
type GazeSample struct {
	Timestamp time.Time
	Deviated  bool
}

// GazeDetector tracks the share of deviated frames and the current
// continuous look-away duration.
type GazeDetector struct {
	threshold float64
	window    flagWindow
	since     time.Time // zero while looking at the road
}

// NewGazeDetector builds a detector from the engine config.
func NewGazeDetector(cfg Config) GazeDetector {
	return GazeDetector{
		threshold: cfg.GazeDeviationThreshold,
		window:    newFlagWindow(cfg.GazeWindow),
	}
}

// Observe records a frame and returns whether gaze counts as deviated.
func (d *GazeDetector) Observe(t time.Time, x, y float64) bool {
	deviated := math.Hypot(x, y) > d.threshold
	d.window.Add(t, deviated)
	if deviated {
		if d.since.IsZero() {
			d.since = t
		}
	} else {
		d.since = time.Time{}
	}
	return deviated
}

// Percent returns the percentage of deviated frames in the window.
func (d *GazeDetector) Percent() float64 {
	return d.window.Percent()
}

// Window returns a copy of the gaze window, oldest first.
func (d *GazeDetector) Window() []GazeSample {
	out := make([]GazeSample, 0, d.window.Len())
	d.window.Each(func(t time.Time, deviated bool) {
		out = append(out, GazeSample{Timestamp: t, Deviated: deviated})
	})
	return out
}

// LookingAwayFor returns how long gaze has been continuously deviated at now.
func (d *GazeDetector) LookingAwayFor(now time.Time) time.Duration {
	if d.since.IsZero() {
		return 0
	}
	return now.Sub(d.since)
}

func (d *GazeDetector) Reset() {
	d.window.Reset()
	d.since = time.Time{}
}
