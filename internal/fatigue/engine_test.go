package fatigue

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/drowsiness.report/internal/timeutil"
)

// frameStep is 50 fps; it keeps elapsed times exact in tests.
const frameStep = 20 * time.Millisecond

var (
	neutral    = Sample{LeftEye: 0.1, RightEye: 0.1, HeadPitch: 0, JawOpen: 0.1, SpatiallyCalibrated: true}
	eyesClosed = Sample{LeftEye: 0.95, RightEye: 0.9, SpatiallyCalibrated: true}
)

type engineHarness struct {
	t       *testing.T
	e       *Engine
	clock   *timeutil.MockClock
	changes []LevelChange
}

func newHarness(t *testing.T, opts ...Option) *engineHarness {
	t.Helper()
	h := &engineHarness{t: t, clock: timeutil.NewMockClock(tripStart)}
	opts = append([]Option{
		WithClock(h.clock),
		WithLevelChangeHandler(func(c LevelChange) { h.changes = append(h.changes, c) }),
	}, opts...)
	e, err := NewEngine(DefaultConfig(), opts...)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	h.e = e
	return h
}

// feed pushes n copies of s, one frame step apart, stamped from the mock
// clock, and returns the metrics from the last one.
func (h *engineHarness) feed(s Sample, n int) Metrics {
	var m Metrics
	for i := 0; i < n; i++ {
		m = h.e.Update(s)
		h.clock.Advance(frameStep)
	}
	return m
}

func (h *engineHarness) calibrate() Metrics {
	h.t.Helper()
	m := h.feed(neutral, h.e.Config().CalibrationSamples)
	require.True(h.t, m.Calibrated)
	return m
}

// ---------------------------------------------------------------------------
// Calibration
// ---------------------------------------------------------------------------

func TestEngine_InertUntilSpatialCalibration(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	uncal := eyesClosed
	uncal.SpatiallyCalibrated = false
	m := h.feed(uncal, 300)

	assert.False(t, m.Calibrated)
	assert.Zero(t, m.CalibrationProgress)
	assert.Zero(t, m.Score)
	assert.Zero(t, m.Perclos)
	assert.Equal(t, LevelNormal, m.Level)
	assert.Equal(t, uint64(300), m.Frames)
	assert.Empty(t, h.changes)
}

func TestEngine_CalibrationBaseline(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	m := h.feed(neutral, 119)
	assert.False(t, m.Calibrated)
	assert.InDelta(t, 119.0/120.0, m.CalibrationProgress, 1e-12)

	m = h.feed(neutral, 1)
	require.True(t, m.Calibrated)
	assert.Equal(t, Baseline{EyeOpenness: 0.1, HeadPitch: 0, Samples: 120}, m.Baseline)

	b, ok := h.e.Baseline()
	require.True(t, ok)
	assert.Equal(t, 0.1, b.EyeOpenness)

	// the completing sample is not fed to the detectors
	assert.Zero(t, h.e.eyes.Samples())
	assert.Zero(t, h.e.gaze.window.Len())
}

// ---------------------------------------------------------------------------
// Acute escalation
// ---------------------------------------------------------------------------

func TestEngine_ClosedEyesEscalateToCritical(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.calibrate()

	// 3.5 s of closed eyes: frame k is k*20ms after the closure started
	for k := 0; k <= 175; k++ {
		m := h.feed(eyesClosed, 1)
		elapsed := time.Duration(k) * frameStep

		assert.InDelta(t, 100.0, m.Perclos, 1e-9)
		switch {
		case elapsed >= 3*time.Second:
			require.Equal(t, 100.0, m.AcuteScore, "k=%d", k)
			require.Equal(t, LevelCritical, m.Level, "k=%d", k)
			require.Equal(t, AcuteEyeClosure, m.AcuteSource)
		case elapsed >= 2*time.Second:
			require.Equal(t, 85.0, m.AcuteScore, "k=%d", k)
			require.Equal(t, LevelCritical, m.Level, "k=%d", k)
		case elapsed >= time.Second:
			require.Equal(t, 60.0, m.AcuteScore, "k=%d", k)
			require.Equal(t, LevelModerate, m.Level, "k=%d", k)
		default:
			require.Zero(t, m.AcuteScore, "k=%d", k)
			// PERCLOS alone carries the trend score to its weight
			require.Equal(t, LevelMild, m.Level, "k=%d", k)
		}
		require.GreaterOrEqual(t, m.Score, 0.0)
		require.LessOrEqual(t, m.Score, 100.0)
	}

	var to []Level
	for _, c := range h.changes {
		to = append(to, c.To)
		assert.Equal(t, h.e.TripID(), c.TripID)
	}
	assert.Equal(t, []Level{LevelMild, LevelModerate, LevelCritical}, to)
}

func TestEngine_HeadPitchScenario(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.calibrate()

	dropped := neutral
	dropped.HeadPitch = -20

	h.feed(neutral, 50)

	// a 2.0 s drop is not a nod
	h.feed(dropped, 100)
	m := h.feed(neutral, 1)
	assert.Empty(t, h.e.HeadNods())
	assert.Zero(t, m.HeadNodRate)

	// a drop that recovers 0.3 s after it started is one nod
	h.feed(neutral, 50)
	h.feed(dropped, 15)
	m = h.feed(neutral, 1)

	nods := h.e.HeadNods()
	require.Len(t, nods, 1)
	assert.Equal(t, 300*time.Millisecond, nods[0].RecoveryTime)
	assert.Equal(t, 20.0, nods[0].PitchDrop)
	assert.Equal(t, 1.0, m.HeadNodRate)
}

func TestEngine_HeadDropAcute(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.calibrate()

	dropped := neutral
	dropped.HeadPitch = -35
	m := h.feed(dropped, 151) // last frame is 3.0 s after the drop began

	assert.Equal(t, 80.0, m.Acute.HeadDrop)
	assert.Equal(t, AcuteHeadDrop, m.AcuteSource)
	assert.Equal(t, LevelHigh, m.Level)
}

func TestEngine_YawnAndGaze(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.calibrate()

	yawning := neutral
	yawning.JawOpen = 0.9
	h.feed(yawning, 75)
	m := h.feed(neutral, 1)
	assert.Equal(t, 1, m.YawnCount)
	assert.Equal(t, 1.0, m.YawnRate)
	require.Len(t, h.e.Yawns(), 1)
	assert.Equal(t, 1500*time.Millisecond, h.e.Yawns()[0].Duration)

	away := neutral
	away.GazeX = 2
	m = h.feed(away, 401) // 8.0 s continuous
	assert.Equal(t, 75.0, m.Acute.Gaze)
	assert.Equal(t, AcuteGaze, m.AcuteSource)
	assert.Equal(t, LevelHigh, m.Level)
	assert.Greater(t, m.GazeDeviation, 80.0)
}

func TestEngine_BlinksFeedTrend(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.calibrate()

	// ten long blinks of 0.6 s, one every 3 s
	for i := 0; i < 10; i++ {
		h.feed(eyesClosed, 30)
		h.feed(neutral, 120)
	}
	m := h.e.Snapshot()

	assert.Equal(t, 10, m.BlinkCount)
	assert.InDelta(t, 10.0, m.LongBlinkRate, 1e-9)
	assert.InDelta(t, 0.6, m.MeanBlinkDuration.Seconds(), 1e-6)
	assert.Len(t, h.e.Blinks(), 10)
	assert.Greater(t, m.TrendScore, 0.0)
}

// ---------------------------------------------------------------------------
// Alerting
// ---------------------------------------------------------------------------

func TestEngine_AlertCooldown(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.calibrate()
	assert.False(t, h.e.ShouldTriggerAlert(), "normal level never alerts")

	h.feed(eyesClosed, 110)
	require.Equal(t, LevelCritical, h.e.Level())
	require.True(t, h.e.ShouldTriggerAlert())

	h.e.MarkAlertTriggered()
	assert.False(t, h.e.ShouldTriggerAlert())
	snap := h.e.Snapshot()
	assert.True(t, snap.CooldownActive)
	assert.False(t, snap.LastAlert.IsZero())

	h.clock.Advance(29 * time.Second)
	assert.False(t, h.e.ShouldTriggerAlert())
	assert.True(t, h.e.Snapshot().CooldownActive)

	h.clock.Advance(time.Second)
	assert.True(t, h.e.ShouldTriggerAlert())
	assert.False(t, h.e.Snapshot().CooldownActive)
}

// ---------------------------------------------------------------------------
// Reset
// ---------------------------------------------------------------------------

func TestEngine_Reset(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.calibrate()
	h.feed(eyesClosed, 30)
	h.feed(neutral, 10)
	h.feed(eyesClosed, 110)
	h.e.MarkAlertTriggered()
	require.Equal(t, 1, h.clock.Pending())

	oldTrip := h.e.TripID()
	h.e.Reset()

	assert.Zero(t, h.clock.Pending(), "cooldown clear is cancelled")
	assert.NotEqual(t, oldTrip, h.e.TripID())
	m := h.e.Snapshot()
	assert.False(t, m.Calibrated)
	assert.Equal(t, LevelNormal, m.Level)
	assert.True(t, m.LastAlert.IsZero())
	assert.False(t, m.CooldownActive)
	assert.Empty(t, m.PerclosHistory)
	assert.Empty(t, h.e.Blinks())
	assert.False(t, h.e.ShouldTriggerAlert())

	// later frames only buffer calibration
	m = h.feed(eyesClosed, 119)
	assert.False(t, m.Calibrated)
	assert.Zero(t, m.Score)
	assert.Zero(t, m.Perclos)
	assert.Zero(t, h.e.eyes.Samples())

	m = h.feed(neutral, 1)
	assert.True(t, m.Calibrated)
}

// ---------------------------------------------------------------------------
// Input hygiene
// ---------------------------------------------------------------------------

func TestEngine_SkipsBadFrames(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	before := h.calibrate()

	bad := neutral
	bad.GazeY = math.NaN()
	m := h.e.Update(bad)
	assert.Equal(t, uint64(1), m.SkippedFrames)
	assert.Equal(t, before.Frames, m.Frames)

	bad = neutral
	bad.JawOpen = math.Inf(1)
	h.e.Update(bad)

	late := neutral
	late.Timestamp = tripStart.Add(-time.Minute)
	m = h.e.Update(late)
	assert.Equal(t, uint64(3), m.SkippedFrames)
	assert.Zero(t, h.e.eyes.Samples(), "skipped frames leave no history")
}

func TestEngine_ClampsInputs(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.calibrate()

	m := h.feed(Sample{LeftEye: 7, RightEye: 3, JawOpen: -2, HeadPitch: 400, GazeX: -1e9}, 1)
	assert.InDelta(t, 100.0, m.Perclos, 1e-9)
	assert.InDelta(t, 100.0, m.GazeDeviation, 1e-9)
	assert.GreaterOrEqual(t, m.Score, 0.0)
	assert.LessOrEqual(t, m.Score, 100.0)
}

// ---------------------------------------------------------------------------
// Subscribers
// ---------------------------------------------------------------------------

func TestEngine_SubscribeDropsOldest(t *testing.T) {
	t.Parallel()
	h := newHarness(t, WithSubscriberBuffer(2))

	id, ch := h.e.Subscribe()
	h.feed(neutral, 5)

	require.Len(t, ch, 2)
	first := <-ch
	second := <-ch
	assert.Equal(t, uint64(4), first.Frames)
	assert.Equal(t, uint64(5), second.Frames)

	h.e.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)
	h.e.Unsubscribe(id) // no-op
}

func TestEngine_CloseEndsSubscriptions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, ch := h.e.Subscribe()
	h.e.Close()
	_, open := <-ch
	assert.False(t, open)

	_, late := h.e.Subscribe()
	_, open = <-late
	assert.False(t, open)
}

func TestNewEngine_Defaults(t *testing.T) {
	t.Parallel()
	e, err := NewEngine(DefaultConfig())
	require.NoError(t, err)
	defer e.Close()

	assert.NotEmpty(t, e.TripID())
	assert.IsType(t, timeutil.RealClock{}, e.clock)
	m := e.Update(Sample{})
	assert.False(t, m.Timestamp.IsZero(), "untimed samples are stamped from the clock")
}
