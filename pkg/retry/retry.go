// Package retry provides the linear, capped backoff used to throttle process
// creation after a transient failure.
package retry

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff"
)

// Default backoff values, in the microsecond units the stressor has always used.
const (
	DefaultBase = 100 * time.Microsecond
	DefaultStep = 100 * time.Microsecond
	DefaultMax  = 10000 * time.Microsecond
)

// Settings configures a linear backoff.
type Settings struct {
	// Base is the first delay returned.
	Base time.Duration `yaml:"base"`
	// Step is added to the delay after every failure.
	Step time.Duration `yaml:"step"`
	// Max is the ceiling; the delay never exceeds it.
	Max time.Duration `yaml:"max"`
}

// DefaultSettings returns the standard 100µs/+100µs/10ms policy.
func DefaultSettings() Settings {
	return Settings{
		Base: DefaultBase,
		Step: DefaultStep,
		Max:  DefaultMax,
	}
}

// normalize fills zero values with defaults and keeps Base within Max.
func (s Settings) normalize() Settings {
	if s.Base <= 0 {
		s.Base = DefaultBase
	}
	if s.Step < 0 {
		s.Step = 0
	}
	if s.Max <= 0 {
		s.Max = DefaultMax
	}
	if s.Base > s.Max {
		s.Base = s.Max
	}
	return s
}

// State is the backoff counter. The zero value is not usable; create one
// with NewState.
type State struct {
	Delay    time.Duration
	settings Settings
}

// NewState returns a State positioned at the base delay.
func NewState(s Settings) State {
	s = s.normalize()
	return State{Delay: s.Base, settings: s}
}

// Next returns the delay to sleep for and the state to use after the next
// failure. The delay never decreases and never exceeds the ceiling.
func Next(st State) (time.Duration, State) {
	delay := st.Delay
	next := delay + st.settings.Step
	if next > st.settings.Max {
		next = st.settings.Max
	}
	return delay, State{Delay: next, settings: st.settings}
}

// Linear adapts State to backoff.BackOff so it can drive backoff.RetryNotify.
type Linear struct {
	mu       sync.Mutex
	state    State
	settings Settings
}

var _ backoff.BackOff = (*Linear)(nil)

// NewLinear returns a Linear backoff starting at the base delay.
func NewLinear(s Settings) *Linear {
	s = s.normalize()
	return &Linear{state: NewState(s), settings: s}
}

// NextBackOff returns the current delay and advances the counter.
func (l *Linear) NextBackOff() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	var d time.Duration
	d, l.state = Next(l.state)
	return d
}

// Reset moves the counter back to the base delay. backoff.RetryNotify calls
// it once before the first attempt; nothing else in the stressor does, so a
// counter lives exactly as long as the process that owns it.
func (l *Linear) Reset() {
	l.mu.Lock()
	l.state = NewState(l.settings)
	l.mu.Unlock()
}

// Current returns the delay the next failure will sleep for.
func (l *Linear) Current() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Delay
}
