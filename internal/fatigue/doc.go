// Package fatigue owns the driver fatigue fusion engine.
//
// Responsibilities: per-trip calibration, the four event detectors (eye
// closure and blinks, head nods, yawns, gaze deviation), windowed metric
// aggregation, the trend and acute-danger scores, level classification and
// cooldown-gated alert decisions.
// Key types: Engine, Sample, Metrics, Level.
//
// Scheduling rule: Engine is single-writer. Update and Reset must be
// serialised by the caller; observers receive immutable Metrics snapshots
// through Subscribe or the level-change handler.
// No I/O is performed in this package.
package fatigue
