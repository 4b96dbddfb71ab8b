package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uttop/campusmap/internal/config"
	"github.com/uttop/campusmap/internal/geo"
	"github.com/uttop/campusmap/internal/render"
	"github.com/uttop/campusmap/internal/tracking"
)

type browser struct {
	t       *testing.T
	conn    *ws.Conn
	seen    []map[string]any
	pending []map[string]any
}

func (ts *testServer) connect(t *testing.T) *browser {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/ws"
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &browser{t: t, conn: conn}
}

func (b *browser) send(v any) {
	b.t.Helper()
	require.NoError(b.t, b.conn.WriteJSON(v))
}

// take returns the oldest unreturned message matching fn, reading more from
// the socket as needed. Messages may arrive in any order relative to others.
func (b *browser) take(what string, fn func(map[string]any) bool) map[string]any {
	b.t.Helper()
	for i, m := range b.pending {
		if fn(m) {
			b.pending = append(b.pending[:i:i], b.pending[i+1:]...)
			return m
		}
	}

	require.NoError(b.t, b.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		_, data, err := b.conn.ReadMessage()
		require.NoError(b.t, err, "waiting for %s", what)
		var m map[string]any
		require.NoError(b.t, json.Unmarshal(data, &m))
		b.seen = append(b.seen, m)
		if fn(m) {
			return m
		}
		b.pending = append(b.pending, m)
	}
}

func (b *browser) next(typ string) map[string]any {
	b.t.Helper()
	return b.take(typ, func(m map[string]any) bool { return m["type"] == typ })
}

func (b *browser) render(view render.Kind, op string) map[string]any {
	b.t.Helper()
	return b.take(string(view)+" "+op, func(m map[string]any) bool {
		return m["type"] == "render" && m["view"] == string(view) && m["op"] == op
	})
}

func requestID(m map[string]any) int64 {
	return int64(m["requestId"].(float64))
}

func (b *browser) acquire(lat, lon float64) map[string]any {
	b.t.Helper()
	b.send(map[string]any{"type": "tracking.start"})
	req := b.next(msgGetCurrentPosition)
	b.send(map[string]any{
		"type":      "geolocation.fix",
		"requestId": requestID(req),
		"fix":       tracking.Fix{Latitude: lat, Longitude: lon, Accuracy: 8},
	})
	return b.next(msgPosition)
}

func TestWebSocket_SessionAndInitialPOIs(t *testing.T) {
	ts := newTestServer(t)

	empty := ts.connect(t)
	sess := empty.next(msgSession)
	assert.NotEmpty(t, sess["id"])

	resp, _ := ts.do(t, http.MethodPost, "/api/pois", `{"name":"Bench","lat":43.2,"lng":0.05}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	added := empty.next(msgPOIAdded)
	assert.Equal(t, "Bench", added["data"].(map[string]any)["name"])

	late := ts.connect(t)
	initial := late.next(msgInitialPOIs)
	assert.Len(t, initial["data"], 1)

	assert.Eventually(t, func() bool { return ts.srv.Sessions() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_PositionRelaySkipsSender(t *testing.T) {
	ts := newTestServer(t)

	a := ts.connect(t)
	a.next(msgSession)
	b := ts.connect(t)
	b.next(msgSession)

	a.send(map[string]any{"type": "position_update", "data": map[string]any{"lat": 43.2, "lng": 0.05}})
	got := b.next(msgPositionUpdated)
	assert.Equal(t, map[string]any{"lat": 43.2, "lng": 0.05}, got["data"])

	// a round trip on a's own connection proves nothing was relayed back
	a.send(map[string]any{"type": "mode.toggle"})
	a.next(msgMode)
	for _, m := range a.seen {
		assert.NotEqual(t, msgPositionUpdated, m["type"])
	}
}

func TestWebSocket_TrackingRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	b := ts.connect(t)

	pos := b.acquire(43.225018, 0.052059)
	assert.Equal(t, 43.225018, pos["lat"])
	assert.Equal(t, 0.052059, pos["lng"])
	assert.Equal(t, string(geo.SourceGPS), pos["source"])
	assert.Equal(t, "43.225018, 0.052059", pos["display"])

	marker2D := b.render(render.View2D, render.OpMarkerCreate)
	assert.Equal(t, []any{43.225018, 0.052059}, marker2D["latlng"])
	marker3D := b.render(render.View3D, render.OpMarkerCreate)
	assert.Equal(t, []any{0.052059, 43.225018}, marker3D["lnglat"])

	watch := b.next(msgWatch)
	assert.Equal(t, true, watch["options"].(map[string]any)["enableHighAccuracy"])

	assert.Eventually(t, func() bool { return ts.telemetry.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_ManualModeClearsWatch(t *testing.T) {
	ts := newTestServer(t)
	b := ts.connect(t)
	b.acquire(43.225018, 0.052059)
	watch := b.next(msgWatch)

	b.send(map[string]any{"type": "mode.toggle"})
	mode := b.next(msgMode)
	assert.Equal(t, "MANUAL", mode["mode"])

	cleared := b.next(msgClearWatch)
	assert.Equal(t, requestID(watch), requestID(cleared))

	b.send(map[string]any{"type": "tracking.start"})
	failed := b.next(msgError)
	assert.Equal(t, "tracking.start", failed["for"])
	assert.Contains(t, failed["message"], "manual mode")
}

func TestWebSocket_DragInManualMode(t *testing.T) {
	ts := newTestServer(t)
	b := ts.connect(t)
	b.acquire(43.225018, 0.052059)

	b.send(map[string]any{"type": "mode.toggle"})
	b.next(msgMode)

	b.send(map[string]any{"type": "camera", "view": "2d", "zoom": 18})
	b.send(map[string]any{"type": "drag.start", "view": "2d"})
	b.send(map[string]any{"type": "drag.move", "dx": 40, "dy": -40})
	b.send(map[string]any{"type": "drag.end"})

	pos := b.next(msgPosition)
	for pos["dragged"] != true {
		pos = b.next(msgPosition)
	}
	assert.Equal(t, string(geo.SourceManual), pos["source"])
	assert.Greater(t, pos["lat"].(float64), 43.225018)
	assert.Greater(t, pos["lng"].(float64), 0.052059)
}

func TestWebSocket_RouteRequest(t *testing.T) {
	ts := newTestServer(t)
	b := ts.connect(t)
	b.acquire(43.2251, 0.0519)

	b.send(map[string]any{"type": "route.request", "from": "gps", "to": "Cafeteria"})
	route := b.next(msgRoute)
	assert.Equal(t, "Route found: 0.9 km • 10 min walking", route["summary"])
	assert.Equal(t, "gps", route["from"].(map[string]any)["name"])
	assert.Equal(t, 43.2251, route["from"].(map[string]any)["lat"])

	b.render(render.View2D, render.OpRouteDraw)
	b.render(render.View3D, render.OpRouteDraw)

	for {
		n := b.next(msgNotification)
		if n["message"] == route["summary"] {
			assert.Equal(t, "success", n["level"])
			assert.Equal(t, float64(5000), n["durationMs"])
			break
		}
	}
}

func TestWebSocket_RouteToUnknownPlace(t *testing.T) {
	ts := newTestServer(t)
	b := ts.connect(t)
	b.next(msgSession)

	b.send(map[string]any{"type": "route.request", "from": "gps", "to": "Atlantis"})
	n := b.next(msgNotification)
	assert.Equal(t, MsgRouteSelections, n["message"])
	assert.Equal(t, "error", n["level"])
}

func TestServer_PolicyRetryBases(t *testing.T) {
	ts := newTestServer(t)

	p := ts.srv.policy()
	assert.Equal(t, tracking.DefaultPolicy().Bases, p.Bases)

	ts.srv.tracking.RetryBase = config.RetryBaseConfig{
		Unavailable: 3 * time.Second,
		Timeout:     2 * time.Second,
		Unknown:     500 * time.Millisecond,
	}
	p = ts.srv.policy()
	assert.Equal(t, map[tracking.ErrorKind]time.Duration{
		tracking.PositionUnavailable: 3 * time.Second,
		tracking.Timeout:             2 * time.Second,
		tracking.Unknown:             500 * time.Millisecond,
	}, p.Bases)
	assert.Equal(t, 1500*time.Millisecond, tracking.DefaultPolicy().Bases[tracking.PositionUnavailable])
}

func TestServer_CloseEndsSessions(t *testing.T) {
	ts := newTestServer(t)
	b := ts.connect(t)
	b.next(msgSession)
	require.Eventually(t, func() bool { return ts.srv.Sessions() == 1 }, 2*time.Second, 10*time.Millisecond)

	ts.srv.Close()

	assert.Equal(t, 0, ts.srv.Sessions())
	require.NoError(t, b.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := b.conn.ReadMessage(); err != nil {
			assert.True(t, ws.IsCloseError(err, ws.CloseNormalClosure), "got %v", err)
			break
		}
	}
}

func TestServer_CloseWaitsForRouteRequests(t *testing.T) {
	ts := newTestServer(t)
	entered := make(chan struct{}, 1)
	ts.routes.mu.Lock()
	ts.routes.entered = entered
	ts.routes.mu.Unlock()

	b := ts.connect(t)
	b.acquire(43.2251, 0.0519)
	b.send(map[string]any{"type": "route.request", "from": "gps", "to": "Cafeteria"})

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("route was never requested")
	}

	ts.srv.Close()
	assert.Equal(t, int32(1), ts.routes.finished.Load())
}
