package capture

import "time"

// silenceMonitor debounces sub-threshold readings into one stop trigger.
// It is driven by the owning Session under its lock.
type silenceMonitor struct {
	clock     Clock
	threshold float64
	hold      time.Duration
	timer     Timer
	// armed identifies the pending timer so a fire that raced with a cancel is ignored.
	armed uint64
	fire  func(armed uint64)
}

func newSilenceMonitor(clock Clock, threshold float64, hold time.Duration, fire func(uint64)) *silenceMonitor {
	return &silenceMonitor{clock: clock, threshold: threshold, hold: hold, fire: fire}
}

// observe feeds one level reading. A reading equal to the threshold counts as sound.
func (m *silenceMonitor) observe(level float64) {
	if level < m.threshold {
		if m.timer == nil {
			m.armed++
			armed := m.armed
			m.timer = m.clock.AfterFunc(m.hold, func() { m.fire(armed) })
		}
		return
	}
	m.cancel()
}

func (m *silenceMonitor) pending() bool { return m.timer != nil }

// current reports whether armed names the live timer.
func (m *silenceMonitor) current(armed uint64) bool {
	return m.timer != nil && m.armed == armed
}

func (m *silenceMonitor) cancel() {
	stopTimer(&m.timer)
}
