// Package tripstore persists finished trips, their level changes and the
// alerts raised during them to SQLite. The engine itself keeps no state
// across restarts; the command-line tools record into a Store when given a
// database path.
package tripstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/drowsiness.report/internal/fatigue"
	"github.com/banshee-data/drowsiness.report/internal/report"
)

// ErrTripNotFound is returned by Trip for an unknown trip ID.
var ErrTripNotFound = errors.New("trip not found")

// Trip is the persisted summary of one engine lifecycle.
type Trip struct {
	TripID        string                          `json:"trip_id"`
	StartedAt     time.Time                       `json:"started_at"`
	EndedAt       time.Time                       `json:"ended_at"`
	Frames        uint64                          `json:"frames"`
	SkippedFrames uint64                          `json:"skipped_frames"`
	Baseline      *fatigue.Baseline               `json:"baseline,omitempty"`
	PeakScore     float64                         `json:"peak_score"`
	PeakLevel     fatigue.Level                   `json:"peak_level"`
	MeanScore     float64                         `json:"mean_score"`
	Alerts        int                             `json:"alerts"`
	Source        string                          `json:"source"`
	TimeAtLevel   map[fatigue.Level]time.Duration `json:"-"`
}

// Duration is the calibrated span of the trip.
func (t Trip) Duration() time.Duration { return t.EndedAt.Sub(t.StartedAt) }

// TripFrom builds a Trip from the engine's final snapshot and the recorded
// timeline. The trip ends at the final snapshot. source names where the
// frames came from (a file or port).
func TripFrom(final fatigue.Metrics, sum report.Summary, source string) Trip {
	t := Trip{
		TripID:        final.TripID,
		StartedAt:     final.Timestamp.Add(-sum.Duration),
		EndedAt:       final.Timestamp,
		Frames:        final.Frames,
		SkippedFrames: final.SkippedFrames,
		PeakScore:     sum.PeakScore,
		PeakLevel:     sum.PeakLevel,
		MeanScore:     sum.MeanScore,
		Alerts:        sum.Alerts,
		Source:        source,
		TimeAtLevel:   sum.TimeAtLevel,
	}
	if final.Calibrated {
		b := final.Baseline
		t.Baseline = &b
	}
	return t
}

// Alert is one alert raised during a trip.
type Alert struct {
	TripID      string
	At          time.Time
	Level       fatigue.Level
	AcuteSource fatigue.AcuteSource
	Score       float64
}

// Store is a SQLite-backed trip log.
type Store struct {
	db *sql.DB
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
	"PRAGMA foreign_keys=ON",
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open trip store %s: %w", path, err)
	}
	// one writer: the tools record from a single goroutine at a time
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for debug tooling.
func (s *Store) DB() *sql.DB { return s.db }

// SaveTrip inserts or replaces the trip summary and its time-at-level rows.
func (s *Store) SaveTrip(t Trip) error {
	if t.TripID == "" {
		return errors.New("save trip: empty trip id")
	}
	var eye, pitch sql.NullFloat64
	if t.Baseline != nil {
		eye = sql.NullFloat64{Float64: t.Baseline.EyeOpenness, Valid: true}
		pitch = sql.NullFloat64{Float64: t.Baseline.HeadPitch, Valid: true}
	}

	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, err = tx.Exec(`
			INSERT INTO trips (
				trip_id, started_at, ended_at, frames, skipped_frames,
				baseline_eye, baseline_pitch, peak_score, peak_level,
				mean_score, alerts, source
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(trip_id) DO UPDATE SET
				started_at = excluded.started_at,
				ended_at = excluded.ended_at,
				frames = excluded.frames,
				skipped_frames = excluded.skipped_frames,
				baseline_eye = excluded.baseline_eye,
				baseline_pitch = excluded.baseline_pitch,
				peak_score = excluded.peak_score,
				peak_level = excluded.peak_level,
				mean_score = excluded.mean_score,
				alerts = excluded.alerts,
				source = excluded.source`,
			t.TripID, t.StartedAt.UnixNano(), t.EndedAt.UnixNano(), int64(t.Frames), int64(t.SkippedFrames),
			eye, pitch, t.PeakScore, t.PeakLevel.String(),
			t.MeanScore, t.Alerts, t.Source,
		)
		if err != nil {
			return fmt.Errorf("upsert trip: %w", err)
		}

		if _, err := tx.Exec(`DELETE FROM trip_time_at_level WHERE trip_id = ?`, t.TripID); err != nil {
			return fmt.Errorf("clear time at level: %w", err)
		}
		for l, d := range t.TimeAtLevel {
			if _, err := tx.Exec(`INSERT INTO trip_time_at_level (trip_id, level, seconds) VALUES (?, ?, ?)`,
				t.TripID, l.String(), d.Seconds()); err != nil {
				return fmt.Errorf("insert time at level: %w", err)
			}
		}
		return tx.Commit()
	})
}

// Trip returns a stored trip by ID.
func (s *Store) Trip(tripID string) (*Trip, error) {
	row := s.db.QueryRow(tripColumns+` WHERE trip_id = ?`, tripID)
	t, err := scanTrip(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrTripNotFound, tripID)
		}
		return nil, err
	}

	rows, err := s.db.Query(`SELECT level, seconds FROM trip_time_at_level WHERE trip_id = ?`, tripID)
	if err != nil {
		return nil, fmt.Errorf("query time at level: %w", err)
	}
	defer rows.Close()
	t.TimeAtLevel = make(map[fatigue.Level]time.Duration)
	for rows.Next() {
		var name string
		var secs float64
		if err := rows.Scan(&name, &secs); err != nil {
			return nil, fmt.Errorf("scan time at level: %w", err)
		}
		var l fatigue.Level
		if err := l.UnmarshalText([]byte(name)); err != nil {
			return nil, err
		}
		t.TimeAtLevel[l] = time.Duration(secs * float64(time.Second))
	}
	return t, rows.Err()
}

// ListTrips returns the most recently started trips, newest first. A
// non-positive limit returns all trips.
func (s *Store) ListTrips(limit int) ([]*Trip, error) {
	q := tripColumns + ` ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()

	var trips []*Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

// RecordLevelChange appends a level transition.
func (s *Store) RecordLevelChange(c fatigue.LevelChange) error {
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`INSERT INTO level_changes (trip_id, at, from_level, to_level, score) VALUES (?, ?, ?, ?, ?)`,
			c.TripID, c.Timestamp.UnixNano(), c.From.String(), c.To.String(), c.Score)
		return err
	})
}

// LevelChanges returns the transitions of a trip in time order.
func (s *Store) LevelChanges(tripID string) ([]fatigue.LevelChange, error) {
	rows, err := s.db.Query(`
		SELECT at, from_level, to_level, score
		FROM level_changes
		WHERE trip_id = ?
		ORDER BY at, rowid`, tripID)
	if err != nil {
		return nil, fmt.Errorf("query level changes: %w", err)
	}
	defer rows.Close()

	var out []fatigue.LevelChange
	for rows.Next() {
		c := fatigue.LevelChange{TripID: tripID}
		var at int64
		var from, to string
		if err := rows.Scan(&at, &from, &to, &c.Score); err != nil {
			return nil, fmt.Errorf("scan level change: %w", err)
		}
		c.Timestamp = time.Unix(0, at).UTC()
		if err := c.From.UnmarshalText([]byte(from)); err != nil {
			return nil, err
		}
		if err := c.To.UnmarshalText([]byte(to)); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecordAlert appends an alert.
func (s *Store) RecordAlert(a Alert) error {
	return retryOnBusy(func() error {
		_, err := s.db.Exec(`INSERT INTO alerts (trip_id, at, level, acute_source, score) VALUES (?, ?, ?, ?, ?)`,
			a.TripID, a.At.UnixNano(), a.Level.String(), string(a.AcuteSource), a.Score)
		return err
	})
}

// Alerts returns the alerts of a trip in time order.
func (s *Store) Alerts(tripID string) ([]Alert, error) {
	rows, err := s.db.Query(`
		SELECT at, level, acute_source, score
		FROM alerts
		WHERE trip_id = ?
		ORDER BY at, rowid`, tripID)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		a := Alert{TripID: tripID}
		var at int64
		var level, source string
		if err := rows.Scan(&at, &level, &source, &a.Score); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.At = time.Unix(0, at).UTC()
		a.AcuteSource = fatigue.AcuteSource(source)
		if err := a.Level.UnmarshalText([]byte(level)); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const tripColumns = `
	SELECT trip_id, started_at, ended_at, frames, skipped_frames,
	       baseline_eye, baseline_pitch, peak_score, peak_level,
	       mean_score, alerts, source
	FROM trips`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTrip(row scanner) (*Trip, error) {
	var t Trip
	var started, ended, frames, skipped int64
	var eye, pitch sql.NullFloat64
	var peak string
	err := row.Scan(
		&t.TripID, &started, &ended, &frames, &skipped,
		&eye, &pitch, &t.PeakScore, &peak,
		&t.MeanScore, &t.Alerts, &t.Source,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan trip: %w", err)
	}
	t.StartedAt = time.Unix(0, started).UTC()
	t.EndedAt = time.Unix(0, ended).UTC()
	t.Frames = uint64(frames)
	t.SkippedFrames = uint64(skipped)
	if eye.Valid && pitch.Valid {
		t.Baseline = &fatigue.Baseline{EyeOpenness: eye.Float64, HeadPitch: pitch.Float64}
	}
	if err := t.PeakLevel.UnmarshalText([]byte(peak)); err != nil {
		return nil, err
	}
	return &t, nil
}

// retryOnBusy retries fn while SQLite reports the database as locked.
func retryOnBusy(fn func() error) error {
	const attempts = 5
	backoff := 10 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}
