package fatigue

import "time"

// YawnEvent is a sustained jaw opening. Immutable once created.
type YawnEvent struct {
	Timestamp time.Time // when the jaw closed
	Duration  time.Duration
}

func (e YawnEvent) eventTime() time.Time { return e.Timestamp }

// YawnDetector records jaw openings held for at least the minimum duration.
type YawnDetector struct {
	threshold   float64
	minDuration time.Duration

	yawning bool
	since   time.Time

	events eventWindow[YawnEvent]
}

// NewYawnDetector builds a detector from the engine config.
func NewYawnDetector(cfg Config) YawnDetector {
	return YawnDetector{
		threshold:   cfg.YawnJawThreshold,
		minDuration: cfg.YawnMinDuration,
		events:      newEventWindow[YawnEvent](cfg.YawnWindow),
	}
}

// Observe consumes one frame's jaw opening and returns a yawn when an
// opening that lasted long enough closes.
func (d *YawnDetector) Observe(t time.Time, jawOpen float64) (YawnEvent, bool) {
	defer d.events.Evict(t)

	open := jawOpen > d.threshold
	switch {
	case open && !d.yawning:
		d.yawning = true
		d.since = t
	case !open && d.yawning:
		d.yawning = false
		dur := t.Sub(d.since)
		d.since = time.Time{}
		if dur >= d.minDuration {
			ev := YawnEvent{Timestamp: t, Duration: dur}
			d.events.Add(ev)
			return ev, true
		}
	}
	return YawnEvent{}, false
}

// YawningFor returns how long the jaw has been continuously open at now.
func (d *YawnDetector) YawningFor(now time.Time) time.Duration {
	if !d.yawning {
		return 0
	}
	return now.Sub(d.since)
}

// Count returns the number of yawns in the trailing window ending at now.
func (d *YawnDetector) Count(now time.Time) int {
	d.events.Evict(now)
	return d.events.Len()
}

// Events returns the retained yawns, oldest first.
func (d *YawnDetector) Events() []YawnEvent {
	return d.events.Events()
}

func (d *YawnDetector) Reset() {
	d.yawning = false
	d.since = time.Time{}
	d.events.Reset()
}
