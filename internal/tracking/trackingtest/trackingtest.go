// Package trackingtest provides a scriptable geolocation provider and a manual
// clock for exercising tracking logic without a device.
package trackingtest

import (
	"sort"
	"sync"
	"time"

	"github.com/uttop/campusmap/internal/tracking"
)

// Request is an outstanding one-shot or watch registration.
type Request struct {
	ID      int64
	Options tracking.Options
	OnFix   func(tracking.Fix)
	OnErr   func(tracking.Error)
}

// Provider records requests and lets the test decide how each one ends.
type Provider struct {
	mu       sync.Mutex
	nextID   int64
	pending  []Request
	watches  map[tracking.WatchID]Request
	cleared  []tracking.WatchID
	requests []tracking.Options
}

// NewProvider returns an empty stub provider.
func NewProvider() *Provider {
	return &Provider{watches: make(map[tracking.WatchID]Request)}
}

func (p *Provider) CurrentPosition(opts tracking.Options, onFix func(tracking.Fix), onErr func(tracking.Error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.pending = append(p.pending, Request{ID: p.nextID, Options: opts, OnFix: onFix, OnErr: onErr})
	p.requests = append(p.requests, opts)
}

func (p *Provider) Watch(opts tracking.Options, onFix func(tracking.Fix), onErr func(tracking.Error)) tracking.WatchID {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := tracking.WatchID(p.nextID)
	p.watches[id] = Request{ID: p.nextID, Options: opts, OnFix: onFix, OnErr: onErr}
	return id
}

// ClearWatch removes the watch and records the cancellation.
func (p *Provider) ClearWatch(id tracking.WatchID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.watches, id)
	p.cleared = append(p.cleared, id)
}

// Pending returns the number of unanswered one-shot requests.
func (p *Provider) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Watches returns the number of active watches.
func (p *Provider) Watches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.watches)
}

// Cleared returns the ids of every cancelled watch, in order.
func (p *Provider) Cleared() []tracking.WatchID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tracking.WatchID(nil), p.cleared...)
}

// Requests returns the options of every one-shot request made so far.
func (p *Provider) Requests() []tracking.Options {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tracking.Options(nil), p.requests...)
}

func (p *Provider) popPending() (Request, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return Request{}, false
	}
	r := p.pending[0]
	p.pending = p.pending[1:]
	return r, true
}

func (p *Provider) activeWatches() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request, 0, len(p.watches))
	for _, r := range p.watches {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ResolveNext answers the oldest one-shot request with f.
func (p *Provider) ResolveNext(f tracking.Fix) bool {
	r, ok := p.popPending()
	if ok {
		r.OnFix(f)
	}
	return ok
}

// RejectNext fails the oldest one-shot request.
func (p *Provider) RejectNext(kind tracking.ErrorKind, msg string) bool {
	r, ok := p.popPending()
	if ok {
		r.OnErr(tracking.Error{Kind: kind, Message: msg})
	}
	return ok
}

// EmitWatch delivers f to every active watch and returns how many received it.
func (p *Provider) EmitWatch(f tracking.Fix) int {
	ws := p.activeWatches()
	for _, r := range ws {
		r.OnFix(f)
	}
	return len(ws)
}

// FailWatches delivers an error to every active watch.
func (p *Provider) FailWatches(kind tracking.ErrorKind, msg string) int {
	ws := p.activeWatches()
	for _, r := range ws {
		r.OnErr(tracking.Error{Kind: kind, Message: msg})
	}
	return len(ws)
}

// Clock is a manually advanced tracking.Clock.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*timer
	delays []time.Duration
}

type timer struct {
	c       *Clock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *timer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// NewClock returns a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) AfterFunc(d time.Duration, f func()) tracking.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &timer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	c.delays = append(c.delays, d)
	return t
}

// Delays returns the duration of every timer ever scheduled.
func (c *Clock) Delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// FireNext jumps to the earliest pending timer and runs it.
func (c *Clock) FireNext() bool {
	c.mu.Lock()
	var next *timer
	for _, t := range c.timers {
		if t.stopped || t.fired {
			continue
		}
		if next == nil || t.at.Before(next.at) {
			next = t
		}
	}
	if next == nil {
		c.mu.Unlock()
		return false
	}
	next.fired = true
	if next.at.After(c.now) {
		c.now = next.at
	}
	c.mu.Unlock()

	next.f()
	return true
}

// Advance moves time forward, running every timer that becomes due.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *timer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}
