// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync"
	"time"
)

// Fake is a Clock whose time only moves when Advance is called. Timers
// and tickers fire synchronously inside Advance, in deadline order, so
// tests observe a deterministic sequence of events.
//
// Channel sends are non-blocking against the capacity-1 channels,
// matching time.Ticker's drop-on-slow-consumer behavior.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*fakeTimer
	tickers []*fakeTicker
}

type fakeTimer struct {
	deadline time.Time
	ch       chan time.Time
}

type fakeTicker struct {
	interval time.Duration
	next     time.Time
	ch       chan time.Time
	stopped  bool
}

// NewFake returns a Fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After returns a channel that receives once Advance moves time past d.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	timer := &fakeTimer{
		deadline: f.now.Add(d),
		ch:       make(chan time.Time, 1),
	}
	f.timers = append(f.timers, timer)
	return timer.ch
}

// NewTicker returns a ticker that fires each time Advance moves time
// across an interval boundary.
func (f *Fake) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ticker := &fakeTicker{
		interval: d,
		next:     f.now.Add(d),
		ch:       make(chan time.Time, 1),
	}
	f.tickers = append(f.tickers, ticker)
	return &Ticker{
		C: ticker.ch,
		stopFunc: func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			ticker.stopped = true
		},
	}
}

// Advance moves the fake time forward by d, firing every timer and
// ticker whose deadline falls within the advanced window, in deadline
// order.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := f.now.Add(d)
	for {
		event, ok := f.nextEvent(target)
		if !ok {
			break
		}
		f.now = event
		f.fireDue()
	}
	f.now = target
}

// nextEvent returns the earliest pending timer or ticker deadline at or
// before target.
func (f *Fake) nextEvent(target time.Time) (time.Time, bool) {
	var earliest time.Time
	found := false
	consider := func(t time.Time) {
		if t.After(target) {
			return
		}
		if !found || t.Before(earliest) {
			earliest = t
			found = true
		}
	}
	for _, timer := range f.timers {
		consider(timer.deadline)
	}
	for _, ticker := range f.tickers {
		if !ticker.stopped {
			consider(ticker.next)
		}
	}
	return earliest, found
}

// fireDue delivers to every timer and ticker due at the current fake
// time. Expired timers are removed; tickers schedule their next fire.
func (f *Fake) fireDue() {
	remaining := f.timers[:0]
	for _, timer := range f.timers {
		if timer.deadline.After(f.now) {
			remaining = append(remaining, timer)
			continue
		}
		select {
		case timer.ch <- f.now:
		default:
		}
	}
	f.timers = remaining

	for _, ticker := range f.tickers {
		if ticker.stopped {
			continue
		}
		for !ticker.next.After(f.now) {
			select {
			case ticker.ch <- ticker.next:
			default:
			}
			ticker.next = ticker.next.Add(ticker.interval)
		}
	}
}
