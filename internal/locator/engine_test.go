package locator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uttop/campusmap/internal/geo"
	"github.com/uttop/campusmap/internal/notify"
	"github.com/uttop/campusmap/internal/position"
	"github.com/uttop/campusmap/internal/render"
	"github.com/uttop/campusmap/internal/tracking"
	"github.com/uttop/campusmap/internal/tracking/trackingtest"
)

type recorder struct {
	mu   sync.Mutex
	cmds []render.Command
}

func (r *recorder) Send(cmd render.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = append(r.cmds, cmd)
	return nil
}

func (r *recorder) count(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.cmds {
		if c.Op == op {
			n++
		}
	}
	return n
}

type env struct {
	engine   *Engine
	provider *trackingtest.Provider
	clock    *trackingtest.Clock
	r2, r3   *recorder

	mu      sync.Mutex
	notices []notify.Notification
}

func (e *env) messages() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.notices))
	for _, n := range e.notices {
		out = append(out, n.Message)
	}
	return out
}

func (e *env) snapshot(t *testing.T) Snapshot {
	t.Helper()
	s, err := e.engine.Snapshot(context.Background())
	require.NoError(t, err)
	return s
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		provider: trackingtest.NewProvider(),
		clock:    trackingtest.NewClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
		r2:       &recorder{},
		r3:       &recorder{},
	}

	engine, err := New(Dependencies{
		Provider: e.provider,
		Clock:    e.clock,
		Views:    []render.View{render.NewLeafletView(e.r2), render.NewMapLibreView(e.r3, 17)},
		Notify: func(n notify.Notification) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.notices = append(e.notices, n)
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	e.engine = engine

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.Run(ctx)
	}()
	t.Cleanup(func() {
		engine.Close()
		cancel()
		<-done
	})
	return e
}

func (e *env) acquire(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.engine.StartTracking(ctx))
	require.True(t, e.provider.ResolveNext(tracking.Fix{Latitude: 43.225018, Longitude: 0.052059, Accuracy: 8}))
	s := e.snapshot(t)
	require.True(t, s.Watching)
	require.Equal(t, 1, e.provider.Watches())
}

func TestEngine_TrackingCommitsAndRenders(t *testing.T) {
	e := newEnv(t)
	e.acquire(t)

	s := e.snapshot(t)
	assert.True(t, s.HasPosition)
	assert.Equal(t, geo.SourceGPS, s.Position.Source)
	assert.Equal(t, tracking.StatusSuccess, s.Status)
	assert.Equal(t, 1, e.r2.count(render.OpMarkerCreate))
	assert.Equal(t, 1, e.r3.count(render.OpMarkerCreate))
	assert.Equal(t, 1, e.r2.count(render.OpCameraPan))
	assert.Equal(t, []string{tracking.MsgLoading, tracking.MsgSuccess}, e.messages())

	e.provider.EmitWatch(tracking.Fix{Latitude: 43.2252, Longitude: 0.0521, Accuracy: 8})
	p, ok, err := e.engine.CurrentPosition(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	// smoothed towards the new sample with weight 0.4
	assert.InDelta(t, 43.225018*0.6+43.2252*0.4, p.Latitude, 1e-9)
	assert.Equal(t, 1, e.r2.count(render.OpMarkerMove))
}

func TestEngine_ManualToggleClearsWatch(t *testing.T) {
	e := newEnv(t)
	e.acquire(t)

	mode, err := e.engine.ToggleManualMode(context.Background())
	require.NoError(t, err)
	assert.Equal(t, position.Manual, mode)

	assert.Equal(t, 0, e.provider.Watches())
	assert.Len(t, e.provider.Cleared(), 1)
	s := e.snapshot(t)
	assert.False(t, s.Tracking)
	assert.False(t, s.Watching)
	assert.Equal(t, 1, e.r2.count(render.OpMarkerDraggable))
	assert.Equal(t, 1, e.r3.count(render.OpMarkerStyle))
	assert.Contains(t, e.messages(), MsgManualMode)

	err = e.engine.StartTracking(context.Background())
	assert.ErrorIs(t, err, position.ErrManualOverride)
}

func TestEngine_ManualToggleCancelsRetryTimer(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.engine.StartTracking(context.Background()))
	require.True(t, e.provider.RejectNext(tracking.Timeout, "timeout"))
	s := e.snapshot(t)
	require.Equal(t, 1, s.Retry.AttemptCount)
	require.Equal(t, 1, e.clock.Pending())

	_, err := e.engine.ToggleManualMode(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, e.clock.Pending())
	assert.False(t, e.clock.FireNext())
	assert.Equal(t, 0, e.provider.Pending())
}

func TestEngine_StaleFixCannotOverrideManualPosition(t *testing.T) {
	e := newEnv(t)
	e.acquire(t)
	ctx := context.Background()

	// lose the watch so a retry request is outstanding
	require.Equal(t, 1, e.provider.FailWatches(tracking.Timeout, ""))
	e.snapshot(t)
	require.True(t, e.clock.FireNext())
	e.snapshot(t)
	require.Equal(t, 1, e.provider.Pending())

	_, err := e.engine.ToggleManualMode(ctx)
	require.NoError(t, err)
	pans := e.r2.count(render.OpCameraPan)

	require.NoError(t, e.engine.BeginDrag(ctx, render.View2D))
	require.NoError(t, e.engine.MoveDrag(30, -30))

	// the retry answers mid-drag
	require.True(t, e.provider.ResolveNext(tracking.Fix{Latitude: 43.3, Longitude: 0.06, Accuracy: 5}))

	final, err := e.engine.EndDrag(ctx)
	require.NoError(t, err)
	assert.Equal(t, geo.SourceManual, final.Source)

	p, _, err := e.engine.CurrentPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, final, p)
	assert.Equal(t, 0, e.provider.Watches())
	assert.Equal(t, pans, e.r2.count(render.OpCameraPan), "drag must not recenter")
	assert.Contains(t, e.messages(), "Position set to: "+final.String())
}

func TestEngine_LeavingManualRecentersAndRestarts(t *testing.T) {
	e := newEnv(t)
	e.acquire(t)
	ctx := context.Background()

	_, err := e.engine.ToggleManualMode(ctx)
	require.NoError(t, err)
	pending := e.provider.Pending()

	mode, err := e.engine.ToggleManualMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, position.Automatic, mode)

	assert.Equal(t, pending+1, e.provider.Pending(), "tracking restarts immediately")
	assert.Equal(t, 2, e.r2.count(render.OpCameraPan))
	assert.Equal(t, 2, e.r3.count(render.OpCameraFly))
	assert.Contains(t, e.messages(), MsgAutomaticMode)
	s := e.snapshot(t)
	assert.True(t, s.Tracking)
	assert.Equal(t, tracking.StatusLoading, s.Status)
}

func TestEngine_ToggleCancelsDrag(t *testing.T) {
	e := newEnv(t)
	e.acquire(t)
	ctx := context.Background()

	_, err := e.engine.ToggleManualMode(ctx)
	require.NoError(t, err)
	require.NoError(t, e.engine.BeginDrag(ctx, render.View3D))
	require.True(t, e.snapshot(t).Dragging)

	_, err = e.engine.ToggleManualMode(ctx)
	require.NoError(t, err)

	assert.False(t, e.snapshot(t).Dragging)
	assert.Equal(t, 2, e.r3.count(render.OpGestures))
}

func TestEngine_FallbackAfterExhaustedRetries(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.engine.StartTracking(context.Background()))

	for i := 0; i < 6; i++ {
		require.True(t, e.provider.RejectNext(tracking.Timeout, ""))
		e.snapshot(t)
		if i < 5 {
			require.True(t, e.clock.FireNext())
			e.snapshot(t)
		}
	}
	require.True(t, e.provider.RejectNext(tracking.Timeout, ""))

	s := e.snapshot(t)
	assert.Equal(t, geo.SourceFallback, s.Position.Source)
	assert.Equal(t, 100.0, s.Position.AccuracyMeters)
	assert.Equal(t, 0, s.Retry.AttemptCount)
	assert.False(t, s.Tracking)
	assert.Contains(t, e.messages(), tracking.MsgFallback)
}

func TestEngine_CameraAndRoute(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	require.NoError(t, e.engine.UpdateCamera(render.View3D, geo.Camera{Zoom: 16, Bearing: 10}))
	ls, err := geo.LineFromLngLat([][]float64{{0.052059, 43.225018}, {0.050948, 43.227491}})
	require.NoError(t, err)
	require.NoError(t, e.engine.ShowRoute(ctx, ls))

	assert.Equal(t, 1, e.r2.count(render.OpRouteDraw))
	assert.Equal(t, 1, e.r3.count(render.OpRouteDraw))
}

func TestEngine_CloseRemovesMarkers(t *testing.T) {
	e := newEnv(t)
	e.acquire(t)

	e.engine.Close()

	assert.Equal(t, 1, e.r2.count(render.OpMarkerRemove))
	assert.Equal(t, 1, e.r3.count(render.OpMarkerRemove))
	assert.Equal(t, 0, e.provider.Watches())
	_, err := e.engine.Snapshot(context.Background())
	assert.Error(t, err)
}
