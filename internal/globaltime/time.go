// Package globaltime is the process clock. Timestamps written to the
// database and provider latencies are all read through it.
package globaltime

import (
	"sync/atomic"
	"time"
)

type nowFunc func() time.Time

var clock atomic.Pointer[nowFunc]

func Now() time.Time {
	if fn := clock.Load(); fn != nil {
		return (*fn)()
	}
	return time.Now()
}

func UTC() time.Time {
	return Now().UTC()
}

// SinceMs reports whole milliseconds elapsed since start.
func SinceMs(start time.Time) int64 {
	return Now().Sub(start).Milliseconds()
}

// Freeze pins the clock to t until restore is called. Tests that freeze the
// clock must not run in parallel with tests that read it.
func Freeze(t time.Time) (restore func()) {
	fixed := nowFunc(func() time.Time { return t })
	previous := clock.Swap(&fixed)
	return func() {
		clock.Store(previous)
	}
}
