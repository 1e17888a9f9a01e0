package fatigue

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// BlinkEvent is an accepted eye closure. Immutable once created.
type BlinkEvent struct {
	Start    time.Time
	End      time.Time
	Duration time.Duration
}

// BlinkStats summarises blinks that ended inside the blink window.
type BlinkStats struct {
	Count        int
	LongBlinks   int
	MeanDuration time.Duration
}

// BlinkDetector turns the closed/open edge stream into blink events.
// Closures whose duration falls outside [min,max] are discarded and never stored.
type BlinkDetector struct {
	minDuration  time.Duration
	maxDuration  time.Duration
	longDuration time.Duration
	window       time.Duration

	closed   bool
	closedAt time.Time

	blinks  *ring[BlinkEvent]
	scratch []float64
}

// NewBlinkDetector builds a detector from the engine config.
func NewBlinkDetector(cfg Config) BlinkDetector {
	return BlinkDetector{
		minDuration:  cfg.MinBlinkDuration,
		maxDuration:  cfg.MaxBlinkDuration,
		longDuration: cfg.LongBlinkDuration,
		window:       cfg.BlinkWindow,
		blinks:       newRing[BlinkEvent](cfg.MaxBlinkHistory),
		scratch:      make([]float64, 0, cfg.MaxBlinkHistory),
	}
}

// Observe consumes one frame's eye state. On a closed→open transition with
// an in-range duration it records and returns the blink.
func (d *BlinkDetector) Observe(t time.Time, closed bool) (BlinkEvent, bool) {
	switch {
	case closed && !d.closed:
		d.closed = true
		d.closedAt = t
	case !closed && d.closed:
		d.closed = false
		dur := t.Sub(d.closedAt)
		if dur < d.minDuration || dur > d.maxDuration {
			return BlinkEvent{}, false
		}
		ev := BlinkEvent{Start: d.closedAt, End: t, Duration: dur}
		d.blinks.Push(ev)
		return ev, true
	}
	return BlinkEvent{}, false
}

// Stats computes long-blink count and mean duration over blinks whose end
// lies within the window ending at now.
func (d *BlinkDetector) Stats(now time.Time) BlinkStats {
	cutoff := now.Add(-d.window)
	var st BlinkStats
	d.scratch = d.scratch[:0]
	d.blinks.Do(func(b BlinkEvent) {
		if b.End.Before(cutoff) {
			return
		}
		st.Count++
		if b.Duration > d.longDuration {
			st.LongBlinks++
		}
		d.scratch = append(d.scratch, b.Duration.Seconds())
	})
	if len(d.scratch) > 0 {
		st.MeanDuration = time.Duration(stat.Mean(d.scratch, nil) * float64(time.Second))
	}
	return st
}

// Blinks returns the stored blink history, oldest first.
func (d *BlinkDetector) Blinks() []BlinkEvent {
	return d.blinks.Slice()
}

func (d *BlinkDetector) Reset() {
	d.closed = false
	d.closedAt = time.Time{}
	d.blinks.Reset()
	d.scratch = d.scratch[:0]
}
