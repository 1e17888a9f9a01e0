package fatigue

import "time"

// EyeClosureSample records whether the eyes were closed at a frame.
type EyeClosureSample struct {
	Timestamp time.Time
	Closed    bool
}

// PerclosPoint is one downsampled PERCLOS value for trend display.
type PerclosPoint struct {
	Timestamp time.Time
	Perclos   float64
}

// EyeClosureDetector maintains the PERCLOS window, its downsampled history
// and the continuous-closure timer used for acute scoring.
type EyeClosureDetector struct {
	threshold       float64
	window          flagWindow
	historyInterval time.Duration
	lastHistory     time.Time
	history         []PerclosPoint
	closedSince     time.Time // zero while eyes are open
}

// NewEyeClosureDetector builds a detector from the engine config.
func NewEyeClosureDetector(cfg Config) EyeClosureDetector {
	return EyeClosureDetector{
		threshold:       cfg.EyeClosedThreshold,
		window:          newFlagWindow(cfg.PerclosWindow),
		historyInterval: cfg.PerclosHistoryInterval,
	}
}

// Observe records a frame and returns whether the eyes count as closed.
func (d *EyeClosureDetector) Observe(t time.Time, left, right float64) bool {
	closed := (left+right)/2 > d.threshold
	d.window.Add(t, closed)

	if closed {
		if d.closedSince.IsZero() {
			d.closedSince = t
		}
	} else {
		d.closedSince = time.Time{}
	}

	if d.lastHistory.IsZero() {
		d.lastHistory = t
	} else if t.Sub(d.lastHistory) >= d.historyInterval {
		d.history = append(d.history, PerclosPoint{Timestamp: t, Perclos: d.Perclos()})
		d.lastHistory = t
	}
	return closed
}

// Perclos returns the percentage of closed frames in the window, in [0,100].
func (d *EyeClosureDetector) Perclos() float64 {
	return d.window.Percent()
}

// Samples returns the number of frames currently in the PERCLOS window.
func (d *EyeClosureDetector) Samples() int {
	return d.window.Len()
}

// Window returns a copy of the PERCLOS window, oldest first.
func (d *EyeClosureDetector) Window() []EyeClosureSample {
	out := make([]EyeClosureSample, 0, d.window.Len())
	d.window.Each(func(t time.Time, closed bool) {
		out = append(out, EyeClosureSample{Timestamp: t, Closed: closed})
	})
	return out
}

// ClosedFor returns how long the eyes have been continuously closed at now.
func (d *EyeClosureDetector) ClosedFor(now time.Time) time.Duration {
	if d.closedSince.IsZero() {
		return 0
	}
	return now.Sub(d.closedSince)
}

// History returns the PERCLOS trend series. The history is append-only and
// never rewritten in place, so the returned slice is safe to hand to other
// goroutines; its capacity is clipped so appends by the caller cannot alias.
func (d *EyeClosureDetector) History() []PerclosPoint {
	n := len(d.history)
	return d.history[:n:n]
}

func (d *EyeClosureDetector) Reset() {
	d.window.Reset()
	d.lastHistory = time.Time{}
	// a fresh slice keeps snapshots from the previous trip intact
	d.history = nil
	d.closedSince = time.Time{}
}
