// Package clock provides the monotonic millisecond time source every
// component ticks against, plus an optional wall-clock value populated by
// an external synchroniser. No component reads time.Now() directly; all of
// them take a Clock so tests can drive time explicitly.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock is the time contract consumed throughout the reader core (spec
// "Clock contract"): a monotonic millisecond counter that never decreases,
// plus an optional wall-clock value available only once something has
// synchronised it.
type Clock interface {
	// MonotonicMs returns milliseconds since an arbitrary, fixed epoch
	// (process start for the real clock). Never decreases.
	MonotonicMs() uint64
	// WallClockMs returns unix-ms and true if a Synchroniser has set it,
	// or (0, false) otherwise.
	WallClockMs() (uint64, bool)
}

// Synchroniser is implemented by whatever external source (NTP, GPS, the
// broker) learns wall-clock time and wants to feed it to the Clock. It is
// kept separate from Clock itself so the clock package has zero networking
// dependencies.
type Synchroniser interface {
	SetWallClock(unixMs uint64)
}

// System is the real Clock, backed by time.Since a fixed start instant.
type System struct {
	start   time.Time
	wallMs  atomic.Uint64
	wallSet atomic.Bool
}

// NewSystem returns a Clock whose MonotonicMs starts at 0 at construction
// time and increases thereafter.
func NewSystem() *System {
	return &System{start: time.Now()}
}

func (s *System) MonotonicMs() uint64 {
	return uint64(time.Since(s.start).Milliseconds())
}

func (s *System) WallClockMs() (uint64, bool) {
	if !s.wallSet.Load() {
		return 0, false
	}
	return s.wallMs.Load(), true
}

// SetWallClock implements Synchroniser.
func (s *System) SetWallClock(unixMs uint64) {
	s.wallMs.Store(unixMs)
	s.wallSet.Store(true)
}

// Manual is a Clock whose MonotonicMs is advanced explicitly, for
// deterministic tests of debounce windows, backoff timers, and scheduler
// drift handling.
type Manual struct {
	ms      uint64
	wallMs  uint64
	wallSet bool
}

// NewManual returns a Manual clock starting at the given monotonic ms.
func NewManual(startMs uint64) *Manual {
	return &Manual{ms: startMs}
}

func (m *Manual) MonotonicMs() uint64 { return m.ms }

func (m *Manual) WallClockMs() (uint64, bool) {
	if !m.wallSet {
		return 0, false
	}
	return m.wallMs, true
}

func (m *Manual) SetWallClock(unixMs uint64) {
	m.wallMs = unixMs
	m.wallSet = true
}

// Advance moves the manual clock forward by delta milliseconds.
func (m *Manual) Advance(delta uint64) {
	m.ms += delta
}

// Set pins the manual clock to an absolute monotonic ms value. Must be
// monotonically increasing; callers that need to rewind time are misusing
// the clock contract.
func (m *Manual) Set(ms uint64) {
	m.ms = ms
}
