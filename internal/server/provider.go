package server

import (
	"sync"
	"time"

	"github.com/uttop/campusmap/internal/tracking"
)

// requestGrace is added to the browser-side timeout before the server gives
// up on an unanswered one-shot request.
const requestGrace = 5 * time.Second

type pendingRequest struct {
	onFix func(tracking.Fix)
	onErr func(tracking.Error)
	timer tracking.Timer
	watch bool
}

// RemoteProvider is a tracking.Provider backed by the browser's geolocation
// API. Requests go out as messages; answers come back through Resolve and
// Reject.
type RemoteProvider struct {
	send  func(any) bool
	clock tracking.Clock

	mu      sync.Mutex
	nextID  int64
	pending map[int64]*pendingRequest
	closed  bool
}

// NewRemoteProvider creates a provider writing requests with send.
func NewRemoteProvider(send func(any) bool, clock tracking.Clock) *RemoteProvider {
	if clock == nil {
		clock = tracking.SystemClock{}
	}
	return &RemoteProvider{
		send:    send,
		clock:   clock,
		pending: make(map[int64]*pendingRequest),
	}
}

func (p *RemoteProvider) register(req *pendingRequest) (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, false
	}
	p.nextID++
	p.pending[p.nextID] = req
	return p.nextID, true
}

func (p *RemoteProvider) take(id int64) (*pendingRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req, ok := p.pending[id]
	if !ok {
		return nil, false
	}
	if !req.watch {
		delete(p.pending, id)
		if req.timer != nil {
			req.timer.Stop()
		}
	}
	return req, true
}

// CurrentPosition asks the browser for one fix.
func (p *RemoteProvider) CurrentPosition(opts tracking.Options, onFix func(tracking.Fix), onErr func(tracking.Error)) {
	req := &pendingRequest{onFix: onFix, onErr: onErr}
	id, ok := p.register(req)
	if !ok {
		onErr(tracking.Error{Kind: tracking.PositionUnavailable, Message: "session closed"})
		return
	}

	if opts.Timeout > 0 {
		t := p.clock.AfterFunc(opts.Timeout+requestGrace, func() {
			p.Reject(id, 3, "no answer from the browser")
		})
		p.mu.Lock()
		req.timer = t
		p.mu.Unlock()
	}

	o := toGeoOptions(opts)
	if !p.send(geoRequest{Type: msgGetCurrentPosition, RequestID: id, Options: &o}) {
		p.Reject(id, 2, "request not delivered")
	}
}

// Watch starts a continuous watch on the browser. The request id doubles as
// the WatchID.
func (p *RemoteProvider) Watch(opts tracking.Options, onFix func(tracking.Fix), onErr func(tracking.Error)) tracking.WatchID {
	id, ok := p.register(&pendingRequest{onFix: onFix, onErr: onErr, watch: true})
	if !ok {
		return 0
	}
	o := toGeoOptions(opts)
	p.send(geoRequest{Type: msgWatch, RequestID: id, Options: &o})
	return tracking.WatchID(id)
}

// ClearWatch stops a watch. Unknown ids are ignored.
func (p *RemoteProvider) ClearWatch(id tracking.WatchID) {
	p.mu.Lock()
	_, ok := p.pending[int64(id)]
	delete(p.pending, int64(id))
	p.mu.Unlock()

	if ok {
		p.send(geoRequest{Type: msgClearWatch, RequestID: int64(id)})
	}
}

// Resolve delivers a fix for a request. It reports false for unknown or
// already answered requests.
func (p *RemoteProvider) Resolve(id int64, fix tracking.Fix) bool {
	req, ok := p.take(id)
	if !ok {
		return false
	}
	req.onFix(fix)
	return true
}

// Reject delivers a W3C error code for a request.
func (p *RemoteProvider) Reject(id int64, code int, message string) bool {
	req, ok := p.take(id)
	if !ok {
		return false
	}
	req.onErr(tracking.Error{Kind: tracking.KindFromCode(code), Message: message})
	return true
}

// Outstanding returns the number of unanswered requests and active watches.
func (p *RemoteProvider) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close forgets every request. Later answers are ignored.
func (p *RemoteProvider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, req := range p.pending {
		if req.timer != nil {
			req.timer.Stop()
		}
		delete(p.pending, id)
	}
	p.closed = true
}
