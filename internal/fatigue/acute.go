package fatigue

import (
	"time"

	"gonum.org/v1/gonum/floats"
)

// tier maps a minimum continuous duration to a severity score.
type tier struct {
	after time.Duration
	score float64
}

// Severity tiers, highest first. A state shorter than the last tier
// contributes nothing.
var (
	eyeClosureTiers = []tier{{3 * time.Second, 100}, {2 * time.Second, 85}, {1 * time.Second, 60}}
	headDropTiers   = []tier{{3 * time.Second, 80}, {2 * time.Second, 50}}
	yawnTiers       = []tier{{2 * time.Second, 40}}
	gazeTiers       = []tier{{8 * time.Second, 75}, {5 * time.Second, 35}}
)

func tierScore(tiers []tier, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	for _, t := range tiers {
		if elapsed >= t.after {
			return t.score
		}
	}
	return 0
}

// AcuteSource names the detector behind an acute score.
type AcuteSource string

const (
	AcuteNone       AcuteSource = ""
	AcuteEyeClosure AcuteSource = "eye_closure"
	AcuteHeadDrop   AcuteSource = "head_drop"
	AcuteYawn       AcuteSource = "yawn"
	AcuteGaze       AcuteSource = "gaze"
)

// AcuteDurations are the current continuous durations of each dangerous state.
type AcuteDurations struct {
	EyesClosed  time.Duration
	HeadDropped time.Duration
	Yawning     time.Duration
	LookingAway time.Duration
}

// AcuteBreakdown is the per-detector acute contribution.
type AcuteBreakdown struct {
	EyeClosure float64
	HeadDrop   float64
	Yawn       float64
	Gaze       float64
}

// Score is the worst ongoing danger: the max over detectors, never a sum.
func (b AcuteBreakdown) Score() float64 {
	v := [...]float64{b.EyeClosure, b.HeadDrop, b.Yawn, b.Gaze}
	return floats.Max(v[:])
}

// Source returns which detector produced the score. Ties resolve in the
// order eye closure, head drop, yawn, gaze.
func (b AcuteBreakdown) Source() AcuteSource {
	s := b.Score()
	switch {
	case s <= 0:
		return AcuteNone
	case b.EyeClosure == s:
		return AcuteEyeClosure
	case b.HeadDrop == s:
		return AcuteHeadDrop
	case b.Yawn == s:
		return AcuteYawn
	default:
		return AcuteGaze
	}
}

// AcuteTracker maps continuous-state durations to tiered severity.
type AcuteTracker struct{}

// Evaluate returns the per-detector tier scores for the given durations.
func (AcuteTracker) Evaluate(d AcuteDurations) AcuteBreakdown {
	return AcuteBreakdown{
		EyeClosure: tierScore(eyeClosureTiers, d.EyesClosed),
		HeadDrop:   tierScore(headDropTiers, d.HeadDropped),
		Yawn:       tierScore(yawnTiers, d.Yawning),
		Gaze:       tierScore(gazeTiers, d.LookingAway),
	}
}
