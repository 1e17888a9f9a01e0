package fatigue

import "time"

// flagWindow is a time-bounded window of boolean observations. It keeps a
// running count of set flags so the percentage is O(1) per frame.
type flagWindow struct {
	span  time.Duration
	times []time.Time
	flags []bool
	head  int
	set   int
}

func newFlagWindow(span time.Duration) flagWindow {
	return flagWindow{span: span}
}

// Add appends an observation and evicts entries older than t-span.
func (w *flagWindow) Add(t time.Time, v bool) {
	w.times = append(w.times, t)
	w.flags = append(w.flags, v)
	if v {
		w.set++
	}
	w.Evict(t)
}

// Evict drops entries with timestamps before now-span.
func (w *flagWindow) Evict(now time.Time) {
	cutoff := now.Add(-w.span)
	for w.head < len(w.times) {
		if !w.times[w.head].Before(cutoff) {
			break
		}
		if w.flags[w.head] {
			w.set--
		}
		w.head++
	}
	// compact once the dead prefix dominates
	if w.head > 0 && w.head*2 >= len(w.times) {
		n := copy(w.times, w.times[w.head:])
		copy(w.flags, w.flags[w.head:])
		w.times = w.times[:n]
		w.flags = w.flags[:n]
		w.head = 0
	}
}

// Len returns the number of live observations.
func (w *flagWindow) Len() int {
	return len(w.times) - w.head
}

// Set returns the number of live observations that are true.
func (w *flagWindow) Set() int {
	return w.set
}

// Percent returns set/total*100, or 0 for an empty window.
func (w *flagWindow) Percent() float64 {
	n := w.Len()
	if n == 0 {
		return 0
	}
	return float64(w.set) / float64(n) * 100
}

// Each calls fn for every live observation, oldest first.
func (w *flagWindow) Each(fn func(t time.Time, v bool)) {
	for i := w.head; i < len(w.times); i++ {
		fn(w.times[i], w.flags[i])
	}
}

func (w *flagWindow) Reset() {
	w.times = nil
	w.flags = nil
	w.head = 0
	w.set = 0
}

// timed is implemented by events retained in an eventWindow.
type timed interface {
	eventTime() time.Time
}

// eventWindow retains discrete events for a trailing duration.
type eventWindow[T timed] struct {
	span   time.Duration
	events []T
	head   int
}

func newEventWindow[T timed](span time.Duration) eventWindow[T] {
	return eventWindow[T]{span: span}
}

func (w *eventWindow[T]) Add(ev T) {
	w.events = append(w.events, ev)
}

// Evict drops events timestamped before now-span.
func (w *eventWindow[T]) Evict(now time.Time) {
	cutoff := now.Add(-w.span)
	for w.head < len(w.events) && w.events[w.head].eventTime().Before(cutoff) {
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.events) {
		n := copy(w.events, w.events[w.head:])
		var zero T
		for i := n; i < len(w.events); i++ {
			w.events[i] = zero
		}
		w.events = w.events[:n]
		w.head = 0
	}
}

func (w *eventWindow[T]) Len() int {
	return len(w.events) - w.head
}

// Events returns a copy of the live events, oldest first.
func (w *eventWindow[T]) Events() []T {
	out := make([]T, w.Len())
	copy(out, w.events[w.head:])
	return out
}

func (w *eventWindow[T]) Reset() {
	w.events = nil
	w.head = 0
}
