package speech

import (
	"sort"
	"time"
)

// ManualLoop is a Scheduler driven by a virtual clock. Nothing runs until
// RunPending or Advance is called. It is not safe for concurrent use.
type ManualLoop struct {
	now    time.Time
	seq    uint64
	queue  []func()
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Time
	seq     uint64
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func NewManualLoop() *ManualLoop {
	return &ManualLoop{now: time.Unix(1_700_000_000, 0).UTC()}
}

func (m *ManualLoop) Now() time.Time { return m.now }

func (m *ManualLoop) Post(fn func()) {
	if fn != nil {
		m.queue = append(m.queue, fn)
	}
}

func (m *ManualLoop) AfterFunc(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	m.seq++
	t := &manualTimer{at: m.now.Add(d), seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

func (m *ManualLoop) Every(d time.Duration, fn func()) Timer {
	return every(m, d, fn)
}

// RunPending executes posted callbacks, including ones they post, until the queue is empty.
func (m *ManualLoop) RunPending() {
	for len(m.queue) > 0 {
		fn := m.queue[0]
		m.queue = m.queue[1:]
		fn()
	}
}

// Advance moves the clock forward by d, firing due timers in order.
func (m *ManualLoop) Advance(d time.Duration) {
	target := m.now.Add(d)
	for {
		m.RunPending()
		t := m.nextDue(target)
		if t == nil {
			break
		}
		m.now = t.at
		t.fired = true
		t.fn()
	}
	m.now = target
	m.RunPending()
}

// PendingTimers reports how many timers are still armed.
func (m *ManualLoop) PendingTimers() int {
	n := 0
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (m *ManualLoop) nextDue(target time.Time) *manualTimer {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	m.timers = live
	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].at.Equal(m.timers[j].at) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].at.Before(m.timers[j].at)
	})
	if len(m.timers) == 0 || m.timers[0].at.After(target) {
		return nil
	}
	return m.timers[0]
}
