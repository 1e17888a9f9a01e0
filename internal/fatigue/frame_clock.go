package fatigue

import (
	"time"

	"github.com/banshee-data/drowsiness.report/internal/timeutil"
	"gonum.org/v1/gonum/stat"
)

const (
	// rateIntervals is how many recent frame intervals feed the rate estimate.
	rateIntervals = 60
	// rateRefreshFrames is how often (in frames) the estimate is recomputed.
	rateRefreshFrames = 30
)

// FrameClock timestamps incoming samples and estimates the effective
// sampling rate. The rate is diagnostic only; no detector depends on it.
type FrameClock struct {
	clock     timeutil.Clock
	last      time.Time
	intervals *ring[float64] // seconds
	scratch   []float64
	frames    uint64
	rate      float64
}

// NewFrameClock returns a FrameClock that stamps untimed samples from clock.
func NewFrameClock(clock timeutil.Clock) *FrameClock {
	return &FrameClock{
		clock:     clock,
		intervals: newRing[float64](rateIntervals),
		scratch:   make([]float64, 0, rateIntervals),
	}
}

// Stamp returns the timestamp to use for a sample. A zero ts is replaced by
// the clock's current time. ok is false when the timestamp precedes the
// previous accepted frame; such frames must be dropped.
func (fc *FrameClock) Stamp(ts time.Time) (stamped time.Time, ok bool) {
	if ts.IsZero() {
		ts = fc.clock.Now()
	}
	if !fc.last.IsZero() {
		dt := ts.Sub(fc.last)
		if dt < 0 {
			return ts, false
		}
		if dt > 0 {
			fc.intervals.Push(dt.Seconds())
		}
	}
	fc.last = ts
	fc.frames++
	if fc.frames%rateRefreshFrames == 0 {
		fc.refreshRate()
	}
	return ts, true
}

func (fc *FrameClock) refreshRate() {
	fc.scratch = fc.scratch[:0]
	fc.intervals.Do(func(v float64) { fc.scratch = append(fc.scratch, v) })
	if len(fc.scratch) == 0 {
		fc.rate = 0
		return
	}
	mean := stat.Mean(fc.scratch, nil)
	if mean <= 0 {
		fc.rate = 0
		return
	}
	fc.rate = 1 / mean
}

// SampleRate returns the estimated frames per second, or 0 before enough
// frames have arrived.
func (fc *FrameClock) SampleRate() float64 {
	return fc.rate
}

// Frames returns the number of accepted frames.
func (fc *FrameClock) Frames() uint64 {
	return fc.frames
}

// Last returns the timestamp of the most recent accepted frame.
func (fc *FrameClock) Last() time.Time {
	return fc.last
}

func (fc *FrameClock) Reset() {
	fc.last = time.Time{}
	fc.intervals.Reset()
	fc.scratch = fc.scratch[:0]
	fc.frames = 0
	fc.rate = 0
}
