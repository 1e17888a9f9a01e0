package fatigue

import "fmt"

// Level is the ordered fatigue alert level.
type Level int

const (
	LevelNormal Level = iota
	LevelMild
	LevelModerate
	LevelHigh
	LevelCritical
)

var levelNames = [...]string{
	LevelNormal:   "normal",
	LevelMild:     "mild",
	LevelModerate: "moderate",
	LevelHigh:     "high",
	LevelCritical: "critical",
}

// String returns the lower-case level name.
func (l Level) String() string {
	if l < LevelNormal || l > LevelCritical {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// AlertEligible reports whether this level may trigger an alert.
func (l Level) AlertEligible() bool {
	return l >= LevelModerate
}

// AlertPriority orders levels for escalation: higher is more urgent.
// Levels that cannot alert have priority 0.
func (l Level) AlertPriority() int {
	if !l.AlertEligible() {
		return 0
	}
	return int(l-LevelModerate) + 1
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	for i, name := range levelNames {
		if name == string(b) {
			*l = Level(i)
			return nil
		}
	}
	return fmt.Errorf("unknown fatigue level %q", b)
}

// Classify maps a score to a level. Each boundary is inclusive on its lower side.
func (lt LevelThresholds) Classify(score float64) Level {
	switch {
	case score >= lt.Critical:
		return LevelCritical
	case score >= lt.High:
		return LevelHigh
	case score >= lt.Moderate:
		return LevelModerate
	case score >= lt.Mild:
		return LevelMild
	default:
		return LevelNormal
	}
}
