package fatigue

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/drowsiness.report/internal/monitoring"
	"github.com/banshee-data/drowsiness.report/internal/timeutil"
)

// DefaultSubscriberBuffer is the channel depth given to each subscriber.
const DefaultSubscriberBuffer = 16

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used to stamp untimed samples and to schedule the
// alert cooldown. Defaults to timeutil.RealClock.
func WithClock(c timeutil.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithLevelChangeHandler registers a callback invoked synchronously from
// Update whenever the classified level changes.
func WithLevelChangeHandler(fn func(LevelChange)) Option {
	return func(e *Engine) { e.onLevelChange = fn }
}

// WithSubscriberBuffer sets the channel depth for new subscribers.
func WithSubscriberBuffer(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.subBuffer = n
		}
	}
}

// Engine fuses per-frame facial signals into a fatigue score, a level and a
// cooldown-gated alert decision. One Engine serves one trip; Reset starts a
// new one.
type Engine struct {
	cfg           Config
	clock         timeutil.Clock
	onLevelChange func(LevelChange)
	subBuffer     int

	tripID  string
	frames  *FrameClock
	calib   Calibrator
	eyes    EyeClosureDetector
	blinks  BlinkDetector
	nods    HeadNodDetector
	yawns   YawnDetector
	gaze    GazeDetector
	acute   AcuteTracker
	scorer  Scorer
	alerts  *AlertCoordinator
	skipped uint64

	// mu guards the published state read by Snapshot and ShouldTriggerAlert.
	mu    sync.RWMutex
	level Level
	last  Metrics

	subMu  sync.Mutex
	subs   map[string]chan Metrics
	closed bool
}

// NewEngine validates cfg and returns an engine awaiting calibration.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	e := &Engine{
		cfg:       cfg,
		clock:     timeutil.RealClock{},
		subBuffer: DefaultSubscriberBuffer,
		subs:      make(map[string]chan Metrics),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.tripID = uuid.NewString()
	e.frames = NewFrameClock(e.clock)
	e.calib = NewCalibrator(cfg.CalibrationSamples)
	e.eyes = NewEyeClosureDetector(cfg)
	e.blinks = NewBlinkDetector(cfg)
	e.nods = NewHeadNodDetector(cfg)
	e.yawns = NewYawnDetector(cfg)
	e.gaze = NewGazeDetector(cfg)
	e.scorer = NewScorer(cfg.Weights)
	e.alerts = NewAlertCoordinator(e.clock, cfg.AlertCooldown)
	e.last = e.baseMetrics(time.Time{})

	monitoring.Opsf("trip %s: engine ready, awaiting calibration (%d samples)", e.tripID, cfg.CalibrationSamples)
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// TripID returns the identifier of the current trip.
func (e *Engine) TripID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tripID
}

// Update consumes one frame and returns the resulting snapshot. Frames with
// non-finite signals or timestamps earlier than the previous frame are
// skipped and the previous snapshot is returned.
func (e *Engine) Update(s Sample) Metrics {
	if !s.Finite() {
		e.skip("non-finite signal %+v", s)
		return e.Snapshot()
	}
	s = s.Clamped()

	now, ok := e.frames.Stamp(s.Timestamp)
	if !ok {
		e.skip("out-of-order frame at %s (last %s)", now.Format(time.RFC3339Nano), e.frames.Last().Format(time.RFC3339Nano))
		return e.Snapshot()
	}
	s.Timestamp = now

	if !e.calib.Done() {
		return e.calibrate(s)
	}

	closed := e.eyes.Observe(now, s.LeftEye, s.RightEye)
	if ev, ok := e.blinks.Observe(now, closed); ok && monitoring.TraceEnabled() {
		monitoring.Tracef("trip %s: blink %s", e.tripID, ev.Duration)
	}
	if ev, ok := e.nods.Observe(now, s.HeadPitch); ok {
		monitoring.Diagf("trip %s: head nod drop=%.1f° recovery=%s", e.tripID, ev.PitchDrop, ev.RecoveryTime)
	}
	if ev, ok := e.yawns.Observe(now, s.JawOpen); ok {
		monitoring.Diagf("trip %s: yawn %s", e.tripID, ev.Duration)
	}
	e.gaze.Observe(now, s.GazeX, s.GazeY)

	m := e.aggregate(now)
	e.commit(m)
	return m
}

// calibrate feeds a sample to the calibrator. The completing sample is not
// passed on to the detectors.
func (e *Engine) calibrate(s Sample) Metrics {
	wasStarted := e.calib.Started()
	if e.calib.Observe(s) {
		b, _ := e.calib.Baseline()
		e.nods.SetBaseline(b.HeadPitch)
		monitoring.Opsf("trip %s: calibration complete eye=%.3f pitch=%.2f° samples=%d",
			e.tripID, b.EyeOpenness, b.HeadPitch, b.Samples)
	} else if !wasStarted && e.calib.Started() {
		monitoring.Opsf("trip %s: calibration started", e.tripID)
	}
	m := e.baseMetrics(s.Timestamp)
	e.commit(m)
	return m
}

func (e *Engine) skip(format string, args ...interface{}) {
	e.skipped++
	monitoring.Diagf("trip %s: skipping frame: "+format, append([]interface{}{e.tripID}, args...)...)
	e.mu.Lock()
	e.last.SkippedFrames = e.skipped
	e.mu.Unlock()
}

// commit publishes m as the current snapshot, reports level changes and
// fans the snapshot out to subscribers.
func (e *Engine) commit(m Metrics) {
	e.mu.Lock()
	prev := e.level
	e.level = m.Level
	e.last = m
	e.mu.Unlock()

	if m.Level != prev {
		change := LevelChange{TripID: m.TripID, From: prev, To: m.Level, Score: m.Score, Timestamp: m.Timestamp}
		monitoring.Opsf("trip %s: level %s -> %s (score %.1f, acute %.1f %s, trend %.1f)",
			m.TripID, prev, m.Level, m.Score, m.AcuteScore, m.AcuteSource, m.TrendScore)
		if e.onLevelChange != nil {
			e.onLevelChange(change)
		}
	}
	if monitoring.TraceEnabled() {
		monitoring.Tracef("trip %s: frame=%d score=%.1f level=%s perclos=%.1f gaze=%.1f",
			m.TripID, m.Frames, m.Score, m.Level, m.Perclos, m.GazeDeviation)
	}
	e.publish(m)
}

// Snapshot returns the most recent metrics with live alert state.
func (e *Engine) Snapshot() Metrics {
	e.mu.RLock()
	m := e.last
	e.mu.RUnlock()
	m.LastAlert, _ = e.alerts.LastAlert()
	m.CooldownActive = e.alerts.State() == AlertCooldownActive
	return m
}

// Level returns the level computed by the last update.
func (e *Engine) Level() Level {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.level
}

// ShouldTriggerAlert reports whether the current level warrants an alert and
// the cooldown since the previous alert has elapsed.
func (e *Engine) ShouldTriggerAlert() bool {
	return e.alerts.ShouldTrigger(e.Level())
}

// MarkAlertTriggered records that an alert was delivered and starts the cooldown.
func (e *Engine) MarkAlertTriggered() {
	at := e.alerts.MarkTriggered()
	monitoring.Opsf("trip %s: alert raised at level %s, cooldown %s", e.TripID(), e.Level(), e.cfg.AlertCooldown)

	e.mu.Lock()
	e.last.LastAlert = at
	e.last.CooldownActive = true
	e.mu.Unlock()
}

// Reset starts a new trip: it clears every history, the calibration and any
// pending cooldown work. Subscribers stay attached.
func (e *Engine) Reset() {
	e.alerts.Reset()
	e.frames.Reset()
	e.calib.Reset()
	e.eyes.Reset()
	e.blinks.Reset()
	e.nods.Reset()
	e.yawns.Reset()
	e.gaze.Reset()
	e.skipped = 0

	prev := e.TripID()
	e.mu.Lock()
	e.tripID = uuid.NewString()
	e.level = LevelNormal
	e.last = e.baseMetrics(time.Time{})
	e.mu.Unlock()

	monitoring.Opsf("trip %s: reset, new trip %s awaiting calibration", prev, e.TripID())
}

// Baseline returns the calibrated baseline once calibration has completed.
func (e *Engine) Baseline() (Baseline, bool) { return e.calib.Baseline() }

// Blinks returns the stored blink history, oldest first.
func (e *Engine) Blinks() []BlinkEvent { return e.blinks.Blinks() }

// HeadNods returns head nods inside the head-nod window, oldest first.
func (e *Engine) HeadNods() []HeadNodEvent { return e.nods.Events() }

// Yawns returns yawns inside the yawn window, oldest first.
func (e *Engine) Yawns() []YawnEvent { return e.yawns.Events() }

// Subscribe registers a snapshot observer. Sends never block the engine: when
// the channel is full the oldest queued snapshot is discarded.
func (e *Engine) Subscribe() (string, <-chan Metrics) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := uuid.NewString()
	ch := make(chan Metrics, e.subBuffer)
	if e.closed {
		close(ch)
		return id, ch
	}
	e.subs[id] = ch
	return id, ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (e *Engine) Unsubscribe(id string) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if ch, ok := e.subs[id]; ok {
		delete(e.subs, id)
		close(ch)
	}
}

// Close closes all subscriber channels and cancels pending cooldown work.
// The engine must not be updated afterwards.
func (e *Engine) Close() {
	e.subMu.Lock()
	if !e.closed {
		e.closed = true
		for id, ch := range e.subs {
			delete(e.subs, id)
			close(ch)
		}
	}
	e.subMu.Unlock()
	e.alerts.Reset()
}

func (e *Engine) publish(m Metrics) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for id, ch := range e.subs {
		select {
		case ch <- m:
			continue
		default:
		}
		// full: drop the oldest queued snapshot and retry once
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- m:
		default:
			monitoring.Diagf("trip %s: subscriber %s full, snapshot dropped", m.TripID, id)
		}
	}
}
