// Package globaltime is the process clock. Tests pin it with Freeze.
package globaltime

import (
	"sync/atomic"
	"time"
)

var frozen atomic.Pointer[time.Time]

// Now returns the frozen time when set, otherwise the wall clock.
func Now() time.Time {
	if t := frozen.Load(); t != nil {
		return *t
	}
	return time.Now()
}

// UTC is Now in UTC.
func UTC() time.Time {
	return Now().UTC()
}

// Freeze pins Now to t until Unfreeze is called.
func Freeze(t time.Time) {
	frozen.Store(&t)
}

// Unfreeze restores the wall clock.
func Unfreeze() {
	frozen.Store(nil)
}
