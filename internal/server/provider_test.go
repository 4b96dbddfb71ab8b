package server

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uttop/campusmap/internal/tracking"
	"github.com/uttop/campusmap/internal/tracking/trackingtest"
)

type outbox struct {
	mu   sync.Mutex
	msgs []any
	fail bool
}

func (o *outbox) send(v any) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail {
		return false
	}
	o.msgs = append(o.msgs, v)
	return true
}

func (o *outbox) requests() []geoRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []geoRequest
	for _, m := range o.msgs {
		if r, ok := m.(geoRequest); ok {
			out = append(out, r)
		}
	}
	return out
}

type answers struct {
	fixes  []tracking.Fix
	errors []tracking.Error
}

func (a *answers) onFix(f tracking.Fix)   { a.fixes = append(a.fixes, f) }
func (a *answers) onErr(e tracking.Error) { a.errors = append(a.errors, e) }

func newTestProvider() (*RemoteProvider, *outbox, *trackingtest.Clock) {
	out := &outbox{}
	clock := trackingtest.NewClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	return NewRemoteProvider(out.send, clock), out, clock
}

func TestRemoteProvider_OneShot(t *testing.T) {
	p, out, _ := newTestProvider()
	a := &answers{}

	p.CurrentPosition(tracking.Options{HighAccuracy: true, Timeout: 10 * time.Second}, a.onFix, a.onErr)

	reqs := out.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, msgGetCurrentPosition, reqs[0].Type)
	require.NotNil(t, reqs[0].Options)
	assert.True(t, reqs[0].Options.EnableHighAccuracy)
	assert.Equal(t, int64(10000), reqs[0].Options.Timeout)

	id := reqs[0].RequestID
	assert.True(t, p.Resolve(id, tracking.Fix{Latitude: 43.2, Longitude: 0.05, Accuracy: 8}))
	assert.False(t, p.Resolve(id, tracking.Fix{}), "a one-shot request is answered once")
	assert.Len(t, a.fixes, 1)
	assert.Empty(t, a.errors)
	assert.Equal(t, 0, p.Outstanding())
}

func TestRemoteProvider_RejectMapsCode(t *testing.T) {
	p, out, _ := newTestProvider()
	a := &answers{}

	p.CurrentPosition(tracking.Options{}, a.onFix, a.onErr)
	id := out.requests()[0].RequestID

	assert.True(t, p.Reject(id, 1, "User denied Geolocation"))
	require.Len(t, a.errors, 1)
	assert.Equal(t, tracking.PermissionDenied, a.errors[0].Kind)
	assert.Equal(t, "User denied Geolocation", a.errors[0].Message)
}

func TestRemoteProvider_WatchDeliversRepeatedly(t *testing.T) {
	p, out, _ := newTestProvider()
	a := &answers{}

	wid := p.Watch(tracking.Options{HighAccuracy: true, MaximumAge: 5 * time.Second}, a.onFix, a.onErr)
	reqs := out.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, msgWatch, reqs[0].Type)
	assert.Equal(t, int64(wid), reqs[0].RequestID)
	assert.Equal(t, int64(5000), reqs[0].Options.MaximumAge)

	for i := 0; i < 3; i++ {
		require.True(t, p.Resolve(int64(wid), tracking.Fix{Latitude: 43.2, Longitude: 0.05}))
	}
	assert.Len(t, a.fixes, 3)

	p.ClearWatch(wid)
	reqs = out.requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, msgClearWatch, reqs[1].Type)
	assert.Nil(t, reqs[1].Options)
	assert.False(t, p.Resolve(int64(wid), tracking.Fix{}))

	p.ClearWatch(wid)
	assert.Len(t, out.requests(), 2, "clearing twice sends nothing")
}

func TestRemoteProvider_UnansweredRequestTimesOut(t *testing.T) {
	p, _, clock := newTestProvider()
	a := &answers{}

	p.CurrentPosition(tracking.Options{Timeout: 10 * time.Second}, a.onFix, a.onErr)
	require.Equal(t, 1, clock.Pending())
	assert.Equal(t, []time.Duration{10*time.Second + requestGrace}, clock.Delays())

	require.True(t, clock.FireNext())
	require.Len(t, a.errors, 1)
	assert.Equal(t, tracking.Timeout, a.errors[0].Kind)
	assert.Equal(t, 0, p.Outstanding())
}

func TestRemoteProvider_AnswerStopsDeadline(t *testing.T) {
	p, out, clock := newTestProvider()
	a := &answers{}

	p.CurrentPosition(tracking.Options{Timeout: time.Second}, a.onFix, a.onErr)
	require.True(t, p.Resolve(out.requests()[0].RequestID, tracking.Fix{Latitude: 1, Longitude: 2}))

	assert.Equal(t, 0, clock.Pending())
	assert.Len(t, a.fixes, 1)
	assert.Empty(t, a.errors)
}

func TestRemoteProvider_UndeliveredRequestFails(t *testing.T) {
	p, out, _ := newTestProvider()
	out.fail = true
	a := &answers{}

	p.CurrentPosition(tracking.Options{}, a.onFix, a.onErr)
	require.Len(t, a.errors, 1)
	assert.Equal(t, tracking.PositionUnavailable, a.errors[0].Kind)
}

func TestRemoteProvider_Close(t *testing.T) {
	p, out, clock := newTestProvider()
	a := &answers{}

	p.CurrentPosition(tracking.Options{Timeout: time.Second}, a.onFix, a.onErr)
	id := out.requests()[0].RequestID
	p.Close()

	assert.Equal(t, 0, clock.Pending())
	assert.False(t, p.Resolve(id, tracking.Fix{}))
	assert.Empty(t, a.fixes)

	p.CurrentPosition(tracking.Options{}, a.onFix, a.onErr)
	require.Len(t, a.errors, 1, "requests after close fail at once")
	assert.Equal(t, tracking.WatchID(0), p.Watch(tracking.Options{}, a.onFix, a.onErr))
}
