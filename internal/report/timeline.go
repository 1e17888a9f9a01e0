// Package report records a trip's fatigue snapshots and renders them as a
// timeline: PNG through gonum/plot and interactive HTML through go-echarts.
package report

import (
	"context"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/drowsiness.report/internal/fatigue"
)

// DefaultInterval is the minimum spacing between recorded points.
const DefaultInterval = time.Second

// Point is one recorded sample of the timeline.
type Point struct {
	Offset  time.Duration // since the first calibrated snapshot
	Score   float64
	Trend   float64
	Acute   float64
	Perclos float64
	Level   fatigue.Level
}

// AlertMark is an alert raised during the trip.
type AlertMark struct {
	Offset time.Duration
	Level  fatigue.Level
}

// Summary aggregates a whole trip.
type Summary struct {
	TripID      string
	Duration    time.Duration
	PeakScore   float64
	PeakLevel   fatigue.Level
	MeanScore   float64
	Alerts      int
	TimeAtLevel map[fatigue.Level]time.Duration
}

// Timeline accumulates calibrated snapshots for one trip. Points are
// downsampled to the recording interval, but every level change is kept.
// A snapshot from a different trip starts a fresh timeline.
type Timeline struct {
	interval time.Duration

	mu          sync.Mutex
	tripID      string
	start       time.Time
	last        time.Time
	lastLevel   fatigue.Level
	points      []Point
	alerts      []AlertMark
	timeAtLevel map[fatigue.Level]time.Duration
}

// NewTimeline returns an empty timeline. A non-positive interval uses
// DefaultInterval.
func NewTimeline(interval time.Duration) *Timeline {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Timeline{interval: interval, timeAtLevel: make(map[fatigue.Level]time.Duration)}
}

// Record adds a snapshot. Snapshots taken before calibration are ignored.
func (tl *Timeline) Record(m fatigue.Metrics) {
	if !m.Calibrated || m.Timestamp.IsZero() {
		return
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if m.TripID != tl.tripID {
		tl.resetLocked(m.TripID, m.Timestamp)
	}
	if !m.Timestamp.After(tl.last) && len(tl.points) > 0 {
		return
	}

	if !tl.last.IsZero() {
		tl.timeAtLevel[tl.lastLevel] += m.Timestamp.Sub(tl.last)
	}

	p := Point{
		Offset:  m.Timestamp.Sub(tl.start),
		Score:   m.Score,
		Trend:   m.TrendScore,
		Acute:   m.AcuteScore,
		Perclos: m.Perclos,
		Level:   m.Level,
	}
	n := len(tl.points)
	if n == 0 || p.Offset-tl.points[n-1].Offset >= tl.interval || p.Level != tl.lastLevel {
		tl.points = append(tl.points, p)
	}
	tl.last = m.Timestamp
	tl.lastLevel = m.Level
}

// MarkAlert records an alert at time at for the current trip.
func (tl *Timeline) MarkAlert(at time.Time, level fatigue.Level) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.start.IsZero() {
		return
	}
	tl.alerts = append(tl.alerts, AlertMark{Offset: at.Sub(tl.start), Level: level})
}

// Consume records every snapshot from ch until it is closed or ctx ends.
func (tl *Timeline) Consume(ctx context.Context, ch <-chan fatigue.Metrics) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			tl.Record(m)
		}
	}
}

func (tl *Timeline) resetLocked(tripID string, start time.Time) {
	tl.tripID = tripID
	tl.start = start
	tl.last = time.Time{}
	tl.lastLevel = fatigue.LevelNormal
	tl.points = nil
	tl.alerts = nil
	tl.timeAtLevel = make(map[fatigue.Level]time.Duration)
}

// Points returns a copy of the recorded points.
func (tl *Timeline) Points() []Point {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return append([]Point(nil), tl.points...)
}

// Alerts returns a copy of the recorded alerts.
func (tl *Timeline) Alerts() []AlertMark {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return append([]AlertMark(nil), tl.alerts...)
}

// Summary aggregates the recorded trip.
func (tl *Timeline) Summary() Summary {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	s := Summary{
		TripID:      tl.tripID,
		Alerts:      len(tl.alerts),
		TimeAtLevel: make(map[fatigue.Level]time.Duration, len(tl.timeAtLevel)),
	}
	for l, d := range tl.timeAtLevel {
		s.TimeAtLevel[l] = d
	}
	if len(tl.points) == 0 {
		return s
	}

	s.Duration = tl.last.Sub(tl.start)
	scores := make([]float64, len(tl.points))
	for i, p := range tl.points {
		scores[i] = p.Score
		if p.Level > s.PeakLevel {
			s.PeakLevel = p.Level
		}
	}
	s.PeakScore = floats.Max(scores)
	s.MeanScore = stat.Mean(scores, nil)
	return s
}
