package fatigue

import (
	"sync"
	"time"

	"github.com/banshee-data/drowsiness.report/internal/monitoring"
	"github.com/banshee-data/drowsiness.report/internal/timeutil"
)

// AlertState is the coordinator's cooldown state.
type AlertState int

const (
	AlertIdle AlertState = iota
	AlertCooldownActive
)

func (s AlertState) String() string {
	if s == AlertCooldownActive {
		return "cooldown"
	}
	return "idle"
}

// AlertCoordinator gates alert emission with a cooldown. The cooldown clear
// runs as a deferred call on the clock; it is the only state in the engine
// mutated outside Update, so it is guarded by its own mutex.
type AlertCoordinator struct {
	clock    timeutil.Clock
	cooldown time.Duration

	mu        sync.Mutex
	state     AlertState
	lastAlert time.Time
	hasAlert  bool
	timer     timeutil.Timer
	// epoch invalidates deferred clears scheduled before the latest
	// MarkTriggered or Reset.
	epoch uint64
}

// NewAlertCoordinator returns an idle coordinator.
func NewAlertCoordinator(clock timeutil.Clock, cooldown time.Duration) *AlertCoordinator {
	return &AlertCoordinator{clock: clock, cooldown: cooldown}
}

// ShouldTrigger reports whether an alert for level may fire now: the level
// must be alert-eligible and the cooldown since the last alert must have elapsed.
func (a *AlertCoordinator) ShouldTrigger(level Level) bool {
	if !level.AlertEligible() {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.hasAlert {
		return true
	}
	return a.clock.Since(a.lastAlert) >= a.cooldown
}

// MarkTriggered records an alert at the current clock time, enters the
// cooldown state and schedules the return to idle.
func (a *AlertCoordinator) MarkTriggered() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.timer != nil {
		a.timer.Stop()
	}
	a.epoch++
	epoch := a.epoch
	a.lastAlert = a.clock.Now()
	a.hasAlert = true
	a.state = AlertCooldownActive
	a.timer = a.clock.AfterFunc(a.cooldown, func() { a.clearCooldown(epoch) })
	return a.lastAlert
}

func (a *AlertCoordinator) clearCooldown(epoch uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if epoch != a.epoch {
		monitoring.Diagf("ignoring stale cooldown clear (epoch %d, current %d)", epoch, a.epoch)
		return
	}
	a.state = AlertIdle
	a.timer = nil
}

// State returns the current cooldown state.
func (a *AlertCoordinator) State() AlertState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// LastAlert returns the time of the most recent alert, if any.
func (a *AlertCoordinator) LastAlert() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastAlert, a.hasAlert
}

// Reset cancels any pending cooldown clear and forgets alert history.
func (a *AlertCoordinator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.epoch++
	a.state = AlertIdle
	a.lastAlert = time.Time{}
	a.hasAlert = false
}
