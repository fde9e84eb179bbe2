package clock

import "time"

// Clock abstracts time operations for testability.
type Clock interface {
	Now() time.Time
	// AfterFunc runs f in its own goroutine once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call from firing. It reports whether the call was
	// stopped before it fired.
	Stop() bool
}

// Real is a Clock backed by the system clock.
type Real struct{}

// Now returns the current time.
func (Real) Now() time.Time { return time.Now() }

// AfterFunc schedules f on the runtime timer.
func (Real) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Mock is a Clock that always returns a fixed time. Its AfterFunc ignores
// the delay and runs f immediately in a new goroutine.
type Mock struct {
	T time.Time
}

// Now returns the fixed time.
func (m Mock) Now() time.Time { return m.T }

// AfterFunc runs f right away.
func (m Mock) AfterFunc(_ time.Duration, f func()) Timer {
	t := &mockTimer{}
	go f()
	return t
}

type mockTimer struct{}

func (*mockTimer) Stop() bool { return false }
