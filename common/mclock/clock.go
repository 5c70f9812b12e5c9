// Package mclock provides a monotonic clock abstraction so timer-driven
// components (handshake GC, request-registry GC, revalidation) can be
// driven deterministically in tests without sleeping real time.
package mclock

import "time"

// AbsTime represents absolute monotonic time.
type AbsTime time.Duration

// Add returns t + d.
func (t AbsTime) Add(d time.Duration) AbsTime {
	return t + AbsTime(d)
}

// Sub returns t - t2.
func (t AbsTime) Sub(t2 AbsTime) time.Duration {
	return time.Duration(t - t2)
}

// Timer represents a cancellable pending timer callback.
type Timer interface {
	Stop() bool
}

// Clock abstracts over time.Now and time.Since for testability.
type Clock interface {
	Now() AbsTime
	Sleep(time.Duration)
	NewTimer(time.Duration) (<-chan struct{}, func() bool)
	After(time.Duration) <-chan AbsTime
	AfterFunc(d time.Duration, f func()) Timer
}

// System implements Clock using the system clock.
type System struct{}

var systemStart = time.Now()

func (System) Now() AbsTime {
	return AbsTime(time.Since(systemStart))
}

func (System) Sleep(d time.Duration) {
	time.Sleep(d)
}

func (System) After(d time.Duration) <-chan AbsTime {
	ch := make(chan AbsTime, 1)
	time.AfterFunc(d, func() {
		ch <- System{}.Now()
	})
	return ch
}

func (System) NewTimer(d time.Duration) (<-chan struct{}, func() bool) {
	t := time.NewTimer(d)
	ch := make(chan struct{}, 1)
	go func() {
		if _, ok := <-t.C; ok {
			ch <- struct{}{}
		}
	}()
	return ch, t.Stop
}

func (System) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
