package capture

import "time"

// Timer is a cancellable deferred callback.
type Timer interface {
	Stop() bool
}

// Clock schedules the monitor's polls and the silence timer.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

func stopTimer(t *Timer) {
	if *t == nil {
		return
	}
	(*t).Stop()
	*t = nil
}
