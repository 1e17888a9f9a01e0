package fatigue

import "time"

// HeadNodEvent is a pitch drop that recovered within the recovery window.
type HeadNodEvent struct {
	Timestamp    time.Time     // recovery time
	PitchDrop    float64       // degrees below baseline at the start of the drop
	RecoveryTime time.Duration // start of drop to recovery
}

func (e HeadNodEvent) eventTime() time.Time { return e.Timestamp }

// HeadNodDetector flags quick drop-and-recover head motions relative to the
// calibrated baseline pitch. A drop that stays down is not a nod; it feeds
// the acute head-drop timer instead.
type HeadNodDetector struct {
	threshold   float64
	minRecovery time.Duration
	maxRecovery time.Duration

	baseline    float64
	hasBaseline bool

	pending    bool
	startTime  time.Time
	startPitch float64

	events eventWindow[HeadNodEvent]
}

// NewHeadNodDetector builds a detector from the engine config.
func NewHeadNodDetector(cfg Config) HeadNodDetector {
	return HeadNodDetector{
		threshold:   cfg.HeadNodPitchThreshold,
		minRecovery: cfg.HeadNodMinRecovery,
		maxRecovery: cfg.HeadNodRecovery,
		events:      newEventWindow[HeadNodEvent](cfg.HeadNodWindow),
	}
}

// SetBaseline installs the calibrated reference pitch.
func (d *HeadNodDetector) SetBaseline(pitch float64) {
	d.baseline = pitch
	d.hasBaseline = true
}

// Observe consumes one frame's pitch. It returns a nod when a pending drop
// recovers with recovery time in (minRecovery, maxRecovery].
func (d *HeadNodDetector) Observe(t time.Time, pitch float64) (HeadNodEvent, bool) {
	if !d.hasBaseline {
		return HeadNodEvent{}, false
	}
	defer d.events.Evict(t)

	delta := d.baseline - pitch
	if delta > d.threshold {
		if !d.pending {
			d.pending = true
			d.startTime = t
			d.startPitch = pitch
		}
		return HeadNodEvent{}, false
	}

	if !d.pending {
		return HeadNodEvent{}, false
	}
	recovery := t.Sub(d.startTime)
	drop := d.baseline - d.startPitch
	d.pending = false
	d.startTime = time.Time{}

	if recovery <= d.minRecovery || recovery > d.maxRecovery {
		return HeadNodEvent{}, false
	}
	ev := HeadNodEvent{Timestamp: t, PitchDrop: drop, RecoveryTime: recovery}
	d.events.Add(ev)
	return ev, true
}

// DroppedFor returns how long the head has been continuously dropped at now.
func (d *HeadNodDetector) DroppedFor(now time.Time) time.Duration {
	if !d.pending {
		return 0
	}
	return now.Sub(d.startTime)
}

// Count returns the number of nods in the trailing window ending at now.
// The window length is also the reporting period, so this is the nod rate.
func (d *HeadNodDetector) Count(now time.Time) int {
	d.events.Evict(now)
	return d.events.Len()
}

// Events returns the retained nods, oldest first.
func (d *HeadNodDetector) Events() []HeadNodEvent {
	return d.events.Events()
}

func (d *HeadNodDetector) Reset() {
	d.baseline = 0
	d.hasBaseline = false
	d.pending = false
	d.startTime = time.Time{}
	d.startPitch = 0
	d.events.Reset()
}
