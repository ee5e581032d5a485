package timectrl

import (
	"sync"
	"time"
)

// TimeController holds the discrete simulation clock. Time only moves when
// Advance is called; there is no wall-clock coupling.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Tick      time.Duration

	currentTime time.Time
	steps       int

	listeners []func(time.Time)
}

// NewTimeController constructs a controller positioned at start. A
// non-positive tick defaults to one day.
func NewTimeController(start time.Time, tick time.Duration) *TimeController {
	if tick <= 0 {
		tick = 24 * time.Hour
	}
	return &TimeController{
		StartTime:   start,
		Tick:        tick,
		currentTime: start,
	}
}

// Now returns the current simulation time.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// Steps is the number of Advance calls since construction or Reset.
func (tc *TimeController) Steps() int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.steps
}

// SetTime moves the clock without notifying listeners.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.currentTime = t
}

// AddListener registers a callback invoked after every Advance.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	if fn == nil {
		return
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Advance moves the clock one tick forward, notifies listeners and returns
// the new time.
func (tc *TimeController) Advance() time.Time {
	tc.mu.Lock()
	tc.currentTime = tc.currentTime.Add(tc.Tick)
	tc.steps++
	now := tc.currentTime
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(now)
	}
	return now
}

// Reset returns the clock to StartTime.
func (tc *TimeController) Reset() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.currentTime = tc.StartTime
	tc.steps = 0
}

// Dates lists the first n step times starting at StartTime.
func (tc *TimeController) Dates(n int) []time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, tc.StartTime.Add(time.Duration(i)*tc.Tick))
	}
	return out
}
