package report

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/drowsiness.report/internal/fatigue"
)

var start = time.Date(2026, 3, 14, 7, 30, 0, 0, time.UTC)

func snapshot(trip string, offset time.Duration, score float64, level fatigue.Level) fatigue.Metrics {
	return fatigue.Metrics{
		TripID:     trip,
		Timestamp:  start.Add(offset),
		Calibrated: true,
		Score:      score,
		TrendScore: score / 2,
		Perclos:    score / 4,
		Level:      level,
	}
}

// recordTrip records ten seconds at 10 Hz: Normal, then Moderate from 4 s,
// then Critical from 8 s.
func recordTrip(tl *Timeline, trip string) {
	for i := 0; i <= 100; i++ {
		off := time.Duration(i) * 100 * time.Millisecond
		switch {
		case off >= 8*time.Second:
			tl.Record(snapshot(trip, off, 90, fatigue.LevelCritical))
		case off >= 4*time.Second:
			tl.Record(snapshot(trip, off, 60, fatigue.LevelModerate))
		default:
			tl.Record(snapshot(trip, off, 10, fatigue.LevelNormal))
		}
	}
}

func TestTimeline_Downsamples(t *testing.T) {
	t.Parallel()
	tl := NewTimeline(time.Second)
	recordTrip(tl, "trip-a")

	points := tl.Points()
	var offsets []time.Duration
	for _, p := range points {
		offsets = append(offsets, p.Offset)
	}
	want := []time.Duration{0}
	for s := 1; s <= 10; s++ {
		want = append(want, time.Duration(s)*time.Second)
	}
	assert.Equal(t, want, offsets, "level changes at 4 s and 8 s coincide with the grid")
}

func TestTimeline_KeepsLevelChanges(t *testing.T) {
	t.Parallel()
	tl := NewTimeline(time.Minute)

	tl.Record(snapshot("trip", 0, 10, fatigue.LevelNormal))
	tl.Record(snapshot("trip", 100*time.Millisecond, 12, fatigue.LevelNormal))
	tl.Record(snapshot("trip", 200*time.Millisecond, 88, fatigue.LevelCritical))
	tl.Record(snapshot("trip", 300*time.Millisecond, 40, fatigue.LevelMild))

	points := tl.Points()
	require.Len(t, points, 3)
	assert.Equal(t, fatigue.LevelCritical, points[1].Level)
	assert.Equal(t, 300*time.Millisecond, points[2].Offset)
}

func TestTimeline_IgnoresUncalibratedAndStale(t *testing.T) {
	t.Parallel()
	tl := NewTimeline(0)

	m := snapshot("trip", 0, 50, fatigue.LevelMild)
	m.Calibrated = false
	tl.Record(m)
	assert.Empty(t, tl.Points())

	tl.Record(snapshot("trip", 2*time.Second, 20, fatigue.LevelNormal))
	tl.Record(snapshot("trip", time.Second, 20, fatigue.LevelMild))
	assert.Len(t, tl.Points(), 1)
}

func TestTimeline_NewTripResets(t *testing.T) {
	t.Parallel()
	tl := NewTimeline(time.Second)
	recordTrip(tl, "trip-a")
	tl.MarkAlert(start.Add(8*time.Second), fatigue.LevelCritical)

	tl.Record(snapshot("trip-b", time.Hour, 5, fatigue.LevelNormal))

	sum := tl.Summary()
	assert.Equal(t, "trip-b", sum.TripID)
	assert.Zero(t, sum.Alerts)
	require.Len(t, tl.Points(), 1)
	assert.Zero(t, tl.Points()[0].Offset)
}

func TestTimeline_Summary(t *testing.T) {
	t.Parallel()
	tl := NewTimeline(time.Second)

	tl.MarkAlert(start, fatigue.LevelHigh) // before any point: ignored
	recordTrip(tl, "trip-a")
	tl.MarkAlert(start.Add(8*time.Second), fatigue.LevelCritical)

	sum := tl.Summary()
	assert.Equal(t, 10*time.Second, sum.Duration)
	assert.Equal(t, 90.0, sum.PeakScore)
	assert.Equal(t, fatigue.LevelCritical, sum.PeakLevel)
	assert.Equal(t, 1, sum.Alerts)
	assert.Equal(t, []AlertMark{{Offset: 8 * time.Second, Level: fatigue.LevelCritical}}, tl.Alerts())

	assert.InDelta(t, 4.0, sum.TimeAtLevel[fatigue.LevelNormal].Seconds(), 1e-9)
	assert.InDelta(t, 4.0, sum.TimeAtLevel[fatigue.LevelModerate].Seconds(), 1e-9)
	assert.InDelta(t, 2.0, sum.TimeAtLevel[fatigue.LevelCritical].Seconds(), 1e-9)

	// points at 0..3 s score 10, 4..7 s score 60, 8..10 s score 90
	assert.InDelta(t, (4*10+4*60+3*90)/11.0, sum.MeanScore, 1e-9)
}

func TestTimeline_Consume(t *testing.T) {
	t.Parallel()
	tl := NewTimeline(0)
	ch := make(chan fatigue.Metrics, 3)
	ch <- snapshot("trip", 0, 10, fatigue.LevelNormal)
	ch <- snapshot("trip", time.Second, 35, fatigue.LevelMild)
	close(ch)

	tl.Consume(context.Background(), ch)
	assert.Len(t, tl.Points(), 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tl.Consume(ctx, make(chan fatigue.Metrics)) // returns on a cancelled context
}

func TestTimeline_WritePNG(t *testing.T) {
	t.Parallel()
	tl := NewTimeline(time.Second)
	path := filepath.Join(t.TempDir(), "timeline.png")

	assert.ErrorIs(t, tl.WritePNG(path, fatigue.DefaultConfig().Levels), ErrEmptyTimeline)

	recordTrip(tl, "0f8fad5b-d9cb-469f-a165-70867728950e")
	require.NoError(t, tl.WritePNG(path, fatigue.DefaultConfig().Levels))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestTimeline_WriteHTML(t *testing.T) {
	t.Parallel()
	tl := NewTimeline(time.Second)

	var buf bytes.Buffer
	assert.ErrorIs(t, tl.WriteHTML(&buf), ErrEmptyTimeline)

	recordTrip(tl, "0f8fad5b-d9cb-469f-a165-70867728950e")
	require.NoError(t, tl.WriteHTML(&buf))

	out := buf.String()
	assert.True(t, strings.Contains(out, "Fatigue timeline"))
	assert.True(t, strings.Contains(out, "Time at level"))
	assert.True(t, strings.Contains(out, "0f8fad5b"))
}
