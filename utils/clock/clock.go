// Package clock abstracts wall-clock access so tests can drive time forward
// without sleeping.
package clock

import (
	"sync/atomic"
	"time"
)

type Clock interface {
	// NowMillis returns the current wall-clock time in milliseconds since the epoch.
	NowMillis() int64
	// Nanos returns a monotonic-ish nanosecond reading suitable for measuring durations.
	Nanos() int64
	Sleep(d time.Duration)
}

// New returns the real wall clock.
func New() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) NowMillis() int64      { return time.Now().UnixMilli() }
func (realClock) Nanos() int64          { return time.Now().UnixNano() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Fake is a manually advanced clock for tests. Sleep advances the clock
// instead of blocking.
type Fake struct {
	millis atomic.Int64
}

func NewFake(startMillis int64) *Fake {
	f := &Fake{}
	f.millis.Store(startMillis)
	return f
}

func (f *Fake) NowMillis() int64 { return f.millis.Load() }

func (f *Fake) Nanos() int64 { return f.millis.Load() * int64(time.Millisecond) }

func (f *Fake) Sleep(d time.Duration) { f.Advance(d) }

func (f *Fake) Advance(d time.Duration) { f.millis.Add(d.Milliseconds()) }
