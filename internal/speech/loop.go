package speech

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Timer is a pending callback scheduled on a Scheduler.
type Timer interface {
	Stop() bool
}

// Scheduler runs callbacks one at a time. Controllers are only mutated from
// callbacks executed by their scheduler.
type Scheduler interface {
	Now() time.Time
	Post(fn func())
	AfterFunc(d time.Duration, fn func()) Timer
	Every(d time.Duration, fn func()) Timer
}

// Loop is a single-goroutine event loop backed by the wall clock.
type Loop struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
	wake    chan struct{}
	log     zerolog.Logger
}

func NewLoop(log zerolog.Logger) *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		log:  log,
	}
}

func (l *Loop) Now() time.Time { return time.Now() }

// Post queues fn. It never blocks, so it is safe to call from inside the loop.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	lt := &loopTimer{}
	lt.t = time.AfterFunc(d, func() {
		l.Post(func() {
			if lt.stopped.Load() {
				return
			}
			fn()
		})
	})
	return lt
}

func (l *Loop) Every(d time.Duration, fn func()) Timer {
	return every(l, d, fn)
}

// Run executes queued callbacks until ctx is done. Pending work is dropped on exit.
func (l *Loop) Run(ctx context.Context) {
	defer l.close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
		for {
			batch := l.drain()
			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				if ctx.Err() != nil {
					return
				}
				l.invoke(fn)
			}
		}
	}
}

func (l *Loop) drain() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := l.pending
	l.pending = nil
	return batch
}

func (l *Loop) close() {
	l.mu.Lock()
	l.closed = true
	l.pending = nil
	l.mu.Unlock()
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error().Interface("panic", r).Msg("speech loop callback panicked")
		}
	}()
	fn()
}

type loopTimer struct {
	t       *time.Timer
	stopped atomic.Bool
}

func (t *loopTimer) Stop() bool {
	t.stopped.Store(true)
	return t.t.Stop()
}

// repeatingTimer re-arms a one-shot timer after every run.
type repeatingTimer struct {
	mu      sync.Mutex
	current Timer
	stopped atomic.Bool
}

func (t *repeatingTimer) set(next Timer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped.Load() {
		next.Stop()
		return
	}
	t.current = next
}

func (t *repeatingTimer) Stop() bool {
	if t.stopped.Swap(true) {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != nil {
		t.current.Stop()
	}
	return true
}

func every(s Scheduler, d time.Duration, fn func()) Timer {
	rt := &repeatingTimer{}
	var arm func()
	arm = func() {
		rt.set(s.AfterFunc(d, func() {
			if rt.stopped.Load() {
				return
			}
			fn()
			if !rt.stopped.Load() {
				arm()
			}
		}))
	}
	arm()
	return rt
}
