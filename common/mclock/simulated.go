package mclock

import (
	"container/heap"
	"sync"
	"time"
)

// Simulated implements Clock for deterministic tests: time only advances
// when Run is called.
type Simulated struct {
	mu      sync.Mutex
	now     AbsTime
	waiters timerHeap
}

type timerWaiter struct {
	at AbsTime
	ch chan AbsTime
	fn func()
}

type timerHeap []*timerWaiter

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].at < h[j].at }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x interface{}) { *h = append(*h, x.(*timerWaiter)) }
func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func (s *Simulated) Now() AbsTime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *Simulated) Sleep(d time.Duration) {
	<-s.After(d)
}

func (s *Simulated) After(d time.Duration) <-chan AbsTime {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan AbsTime, 1)
	heap.Push(&s.waiters, &timerWaiter{at: s.now.Add(d), ch: ch})
	return ch
}

func (s *Simulated) NewTimer(d time.Duration) (<-chan struct{}, func() bool) {
	abs := s.After(d)
	done := make(chan struct{}, 1)
	stopped := false
	go func() {
		if _, ok := <-abs; ok {
			done <- struct{}{}
		}
	}()
	return done, func() bool { stopped = true; return !stopped }
}

// Run advances the simulated clock by d, firing any waiters whose deadline
// has elapsed.
func (s *Simulated) Run(d time.Duration) {
	s.mu.Lock()
	s.now = s.now.Add(d)
	var fired []*timerWaiter
	for s.waiters.Len() > 0 && s.waiters[0].at <= s.now {
		fired = append(fired, heap.Pop(&s.waiters).(*timerWaiter))
	}
	s.mu.Unlock()

	for _, w := range fired {
		w.ch <- s.now
		if w.fn != nil {
			w.fn()
		}
	}
}

// simTimer implements Timer for Simulated clocks.
type simTimer struct {
	w *timerWaiter
	s *Simulated
}

func (t *simTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i, w := range t.s.waiters {
		if w == t.w {
			heap.Remove(&t.s.waiters, i)
			return true
		}
	}
	return false
}

// AfterFunc schedules f to run once the simulated clock has advanced by d.
func (s *Simulated) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	w := &timerWaiter{at: s.now.Add(d), ch: make(chan AbsTime, 1), fn: f}
	heap.Push(&s.waiters, w)
	s.mu.Unlock()
	return &simTimer{w: w, s: s}
}
