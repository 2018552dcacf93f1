package bridge

import "time"

// Timer is the subset of time.Timer the connection machinery needs.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Clock supplies time to timeouts and backoff delays so tests can substitute
// short schedules without reaching into the machinery.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) NewTimer(d time.Duration) Timer {
	return systemTimer{time.NewTimer(d)}
}

type systemTimer struct {
	t *time.Timer
}

func (s systemTimer) C() <-chan time.Time { return s.t.C }
func (s systemTimer) Stop() bool          { return s.t.Stop() }

// SystemClock returns the wall-clock implementation used outside tests.
func SystemClock() Clock { return systemClock{} }
