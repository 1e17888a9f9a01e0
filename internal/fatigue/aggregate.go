package fatigue

import "time"

// baseMetrics fills the fields that are valid before and after calibration.
func (e *Engine) baseMetrics(now time.Time) Metrics {
	m := Metrics{
		TripID:              e.tripID,
		Timestamp:           now,
		Calibrated:          e.calib.Done(),
		CalibrationProgress: e.calib.Progress(),
		PerclosHistory:      e.eyes.History(),
		SampleRate:          e.frames.SampleRate(),
		Frames:              e.frames.Frames(),
		SkippedFrames:       e.skipped,
		Level:               LevelNormal,
	}
	if b, ok := e.calib.Baseline(); ok {
		m.Baseline = b
	}
	m.LastAlert, _ = e.alerts.LastAlert()
	m.CooldownActive = e.alerts.State() == AlertCooldownActive
	return m
}

// aggregate gathers the windowed detector metrics at now and runs them
// through the acute tracker, scorer and classifier.
func (e *Engine) aggregate(now time.Time) Metrics {
	m := e.baseMetrics(now)

	bs := e.blinks.Stats(now)
	perMinute := time.Minute.Seconds() / e.cfg.BlinkWindow.Seconds()
	yawns := e.yawns.Count(now)

	m.Perclos = e.eyes.Perclos()
	m.BlinkCount = bs.Count
	m.LongBlinkRate = float64(bs.LongBlinks) * perMinute
	m.MeanBlinkDuration = bs.MeanDuration
	m.HeadNodRate = float64(e.nods.Count(now))
	m.YawnCount = yawns
	m.YawnRate = float64(yawns)
	m.GazeDeviation = e.gaze.Percent()

	m.Acute = e.acute.Evaluate(AcuteDurations{
		EyesClosed:  e.eyes.ClosedFor(now),
		HeadDropped: e.nods.DroppedFor(now),
		Yawning:     e.yawns.YawningFor(now),
		LookingAway: e.gaze.LookingAwayFor(now),
	})
	m.AcuteScore = m.Acute.Score()
	m.AcuteSource = m.Acute.Source()
	m.TrendScore = e.scorer.Trend(m.TrendInputs())
	m.Score = Fuse(m.AcuteScore, m.TrendScore)
	m.Level = e.cfg.Levels.Classify(m.Score)
	return m
}
