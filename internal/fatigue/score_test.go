package fatigue

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/drowsiness.report/internal/timeutil"
)

// ---------------------------------------------------------------------------
// Acute tiers
// ---------------------------------------------------------------------------

func TestAcuteTracker_Tiers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     AcuteDurations
		want   float64
		source AcuteSource
	}{
		{"nothing", AcuteDurations{}, 0, AcuteNone},
		{"eyes 0.9s", AcuteDurations{EyesClosed: 900 * time.Millisecond}, 0, AcuteNone},
		{"eyes 1s", AcuteDurations{EyesClosed: time.Second}, 60, AcuteEyeClosure},
		{"eyes 2s", AcuteDurations{EyesClosed: 2 * time.Second}, 85, AcuteEyeClosure},
		{"eyes 3s", AcuteDurations{EyesClosed: 3 * time.Second}, 100, AcuteEyeClosure},
		{"head 2s", AcuteDurations{HeadDropped: 2 * time.Second}, 50, AcuteHeadDrop},
		{"head 3s", AcuteDurations{HeadDropped: 3 * time.Second}, 80, AcuteHeadDrop},
		{"yawn 1.9s", AcuteDurations{Yawning: 1900 * time.Millisecond}, 0, AcuteNone},
		{"yawn 2s", AcuteDurations{Yawning: 2 * time.Second}, 40, AcuteYawn},
		{"gaze 5s", AcuteDurations{LookingAway: 5 * time.Second}, 35, AcuteGaze},
		{"gaze 8s", AcuteDurations{LookingAway: 8 * time.Second}, 75, AcuteGaze},
		{
			"max not sum",
			AcuteDurations{EyesClosed: time.Second, HeadDropped: 3 * time.Second, Yawning: 2 * time.Second, LookingAway: 5 * time.Second},
			80, AcuteHeadDrop,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := AcuteTracker{}.Evaluate(tt.in)
			assert.Equal(t, tt.want, b.Score())
			assert.Equal(t, tt.source, b.Source())
		})
	}
}

// ---------------------------------------------------------------------------
// Trend score
// ---------------------------------------------------------------------------

func TestScorer_TrendBounds(t *testing.T) {
	t.Parallel()
	s := NewScorer(DefaultConfig().Weights)

	assert.Zero(t, s.Trend(TrendInputs{}))

	saturated := TrendInputs{
		Perclos:           PerclosCap * 2,
		LongBlinkRate:     LongBlinkRateCap * 2,
		HeadNodRate:       HeadNodRateCap * 2,
		YawnRate:          YawnRateCap * 2,
		GazeDeviation:     GazeDeviationCap * 2,
		MeanBlinkDuration: MeanBlinkDurationCap * 2,
	}
	got := s.Trend(saturated)
	assert.InDelta(t, 100.0, got, 1e-9)
	assert.LessOrEqual(t, got, 100.0)

	assert.InDelta(t, 40.0, s.Trend(TrendInputs{Perclos: 100}), 1e-9, "PERCLOS alone saturates at its weight")
	assert.InDelta(t, 5.0, s.Trend(TrendInputs{YawnRate: 2.5}), 1e-9, "half the yawn cap")
}

func TestScorer_TrendIsMonotone(t *testing.T) {
	t.Parallel()
	s := NewScorer(DefaultConfig().Weights)

	base := TrendInputs{
		Perclos:           10,
		LongBlinkRate:     3,
		HeadNodRate:       1,
		YawnRate:          1,
		GazeDeviation:     5,
		MeanBlinkDuration: 150 * time.Millisecond,
	}
	bumps := map[string]func(TrendInputs, float64) TrendInputs{
		"perclos":        func(in TrendInputs, k float64) TrendInputs { in.Perclos += k * 5; return in },
		"long blink":     func(in TrendInputs, k float64) TrendInputs { in.LongBlinkRate += k; return in },
		"head nod":       func(in TrendInputs, k float64) TrendInputs { in.HeadNodRate += k; return in },
		"yawn":           func(in TrendInputs, k float64) TrendInputs { in.YawnRate += k; return in },
		"gaze":           func(in TrendInputs, k float64) TrendInputs { in.GazeDeviation += k * 5; return in },
		"blink duration": func(in TrendInputs, k float64) TrendInputs { in.MeanBlinkDuration += time.Duration(k) * 50 * time.Millisecond; return in },
	}
	for name, bump := range bumps {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			prev := s.Trend(base)
			for k := 1.0; k <= 20; k++ {
				cur := s.Trend(bump(base, k))
				require.GreaterOrEqual(t, cur, prev, "step %v", k)
				prev = cur
			}
		})
	}
}

func TestFuse(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 60.0, Fuse(60, 20))
	assert.Equal(t, 45.0, Fuse(0, 45))
	assert.Equal(t, 100.0, Fuse(140, 0))
	assert.Equal(t, 0.0, Fuse(-5, -1))
}

// ---------------------------------------------------------------------------
// Levels
// ---------------------------------------------------------------------------

func TestLevelThresholds_Classify(t *testing.T) {
	t.Parallel()
	lt := DefaultConfig().Levels

	tests := []struct {
		score float64
		want  Level
	}{
		{0, LevelNormal},
		{29.99, LevelNormal},
		{30, LevelMild},
		{54.99, LevelMild},
		{55, LevelModerate},
		{70, LevelHigh},
		{84.99, LevelHigh},
		{85, LevelCritical},
		{100, LevelCritical},
	}
	for _, tt := range tests {
		if got := lt.Classify(tt.score); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}

func TestLevel_Alerting(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level    Level
		eligible bool
		priority int
	}{
		{LevelNormal, false, 0},
		{LevelMild, false, 0},
		{LevelModerate, true, 1},
		{LevelHigh, true, 2},
		{LevelCritical, true, 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.eligible, tt.level.AlertEligible(), tt.level.String())
		assert.Equal(t, tt.priority, tt.level.AlertPriority(), tt.level.String())
	}
}

func TestLevel_Text(t *testing.T) {
	t.Parallel()

	b, err := LevelHigh.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "high", string(b))

	var l Level
	require.NoError(t, l.UnmarshalText([]byte("critical")))
	assert.Equal(t, LevelCritical, l)

	assert.Error(t, l.UnmarshalText([]byte("sleepy")))
	assert.Equal(t, "level(9)", Level(9).String())
}

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"weights sum", func(c *Config) { c.Weights.Perclos = 0.5 }},
		{"negative weight", func(c *Config) { c.Weights.Perclos = 0.6; c.Weights.BlinkDuration = -0.15 }},
		{"levels not increasing", func(c *Config) { c.Levels.High = c.Levels.Moderate }},
		{"critical above 100", func(c *Config) { c.Levels.Critical = 101 }},
		{"zero window", func(c *Config) { c.PerclosWindow = 0 }},
		{"no calibration", func(c *Config) { c.CalibrationSamples = 0 }},
		{"blink bounds", func(c *Config) { c.MinBlinkDuration = 3 * time.Second }},
		{"nod bounds", func(c *Config) { c.HeadNodMinRecovery = c.HeadNodRecovery }},
		{"negative cooldown", func(c *Config) { c.AlertCooldown = -time.Second }},
	}

	require.NoError(t, DefaultConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)

			_, err = NewEngine(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestDefaultConfig_Values(t *testing.T) {
	t.Parallel()
	c := DefaultConfig()

	assert.Equal(t, 60*time.Second, c.PerclosWindow)
	assert.Equal(t, 5*time.Minute, c.HeadNodWindow)
	assert.Equal(t, 5*time.Minute, c.YawnWindow)
	assert.Equal(t, 60*time.Second, c.GazeWindow)
	assert.Equal(t, 120, c.CalibrationSamples)
	assert.Equal(t, 0.6, c.EyeClosedThreshold)
	assert.Equal(t, 400*time.Millisecond, c.LongBlinkDuration)
	assert.Equal(t, 30*time.Second, c.AlertCooldown)
	assert.Equal(t, LevelThresholds{Mild: 30, Moderate: 55, High: 70, Critical: 85}, c.Levels)
	assert.InDelta(t, 1.0, c.Weights.Sum(), 1e-9)
}

// ---------------------------------------------------------------------------
// Alert coordinator
// ---------------------------------------------------------------------------

func TestAlertCoordinator_Cooldown(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(tripStart)
	a := NewAlertCoordinator(clock, 30*time.Second)

	assert.False(t, a.ShouldTrigger(LevelMild))
	assert.True(t, a.ShouldTrigger(LevelModerate))
	assert.Equal(t, AlertIdle, a.State())

	when := a.MarkTriggered()
	assert.Equal(t, tripStart, when)
	assert.Equal(t, AlertCooldownActive, a.State())
	assert.False(t, a.ShouldTrigger(LevelCritical))
	assert.Equal(t, 1, clock.Pending())

	clock.Advance(29 * time.Second)
	assert.False(t, a.ShouldTrigger(LevelCritical))
	assert.Equal(t, AlertCooldownActive, a.State())

	clock.Advance(time.Second)
	assert.True(t, a.ShouldTrigger(LevelCritical))
	assert.Equal(t, AlertIdle, a.State())
	assert.Zero(t, clock.Pending())

	last, ok := a.LastAlert()
	require.True(t, ok)
	assert.Equal(t, tripStart, last)
}

func TestAlertCoordinator_RetriggerReschedules(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(tripStart)
	a := NewAlertCoordinator(clock, 30*time.Second)

	a.MarkTriggered()
	clock.Advance(20 * time.Second)
	a.MarkTriggered()
	assert.Equal(t, 1, clock.Pending(), "the first clear is cancelled")

	clock.Advance(15 * time.Second)
	assert.Equal(t, AlertCooldownActive, a.State(), "cooldown runs from the latest alert")
	clock.Advance(15 * time.Second)
	assert.Equal(t, AlertIdle, a.State())
}

func TestAlertCoordinator_ResetCancelsClear(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(tripStart)
	a := NewAlertCoordinator(clock, 30*time.Second)

	a.MarkTriggered()
	a.Reset()
	assert.Zero(t, clock.Pending())
	assert.Equal(t, AlertIdle, a.State())
	_, ok := a.LastAlert()
	assert.False(t, ok)
	assert.True(t, a.ShouldTrigger(LevelModerate))
}

func TestAlertCoordinator_StaleClearIgnored(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMockClock(tripStart)
	a := NewAlertCoordinator(clock, 30*time.Second)

	a.MarkTriggered()
	stale := a.epoch
	a.Reset()
	a.MarkTriggered()

	// a clear scheduled for an earlier trip must not end the new cooldown
	a.clearCooldown(stale)
	assert.Equal(t, AlertCooldownActive, a.State())
}
