package fatigue

// Baseline is the per-trip reference captured during calibration.
type Baseline struct {
	EyeOpenness float64 // mean of (left+right)/2 blink coefficients
	HeadPitch   float64 // mean pitch, degrees
	Samples     int
}

// Calibrator collects baseline samples once the capture pipeline reports
// spatial calibration. Until it completes the engine performs no detection.
type Calibrator struct {
	target  int
	started bool
	done    bool
	n       int

	// running means; exact for constant input
	eyeMean   float64
	pitchMean float64
}

// NewCalibrator returns a Calibrator that completes after target samples.
func NewCalibrator(target int) Calibrator {
	return Calibrator{target: target}
}

// Observe feeds one sample. It returns true exactly once, on the sample
// that completes calibration. Samples are ignored until one arrives with
// SpatiallyCalibrated set, and after calibration completes.
func (c *Calibrator) Observe(s Sample) bool {
	if c.done {
		return false
	}
	if !c.started {
		if !s.SpatiallyCalibrated {
			return false
		}
		c.started = true
	}

	c.n++
	n := float64(c.n)
	c.eyeMean += (s.EyeAverage() - c.eyeMean) / n
	c.pitchMean += (s.HeadPitch - c.pitchMean) / n

	if c.n >= c.target {
		c.done = true
		return true
	}
	return false
}

// Started reports whether sample collection has begun.
func (c *Calibrator) Started() bool { return c.started }

// Done reports whether calibration has completed.
func (c *Calibrator) Done() bool { return c.done }

// Progress returns the fraction of samples collected, in [0,1].
func (c *Calibrator) Progress() float64 {
	if c.target <= 0 {
		return 1
	}
	return min(1, float64(c.n)/float64(c.target))
}

// Baseline returns the captured baseline. ok is false until calibration completes.
func (c *Calibrator) Baseline() (b Baseline, ok bool) {
	if !c.done {
		return Baseline{}, false
	}
	return Baseline{EyeOpenness: c.eyeMean, HeadPitch: c.pitchMean, Samples: c.n}, true
}

func (c *Calibrator) Reset() {
	*c = Calibrator{target: c.target}
}
