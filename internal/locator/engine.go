// Package locator assembles the position state, automatic tracking, the two map
// views and the drag controller into one per-session actor. Every mutation runs
// on the dispatcher goroutine; the exported methods only post work to it.
package locator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/uttop/campusmap/internal/correction"
	"github.com/uttop/campusmap/internal/dispatcher"
	"github.com/uttop/campusmap/internal/geo"
	"github.com/uttop/campusmap/internal/notify"
	"github.com/uttop/campusmap/internal/position"
	"github.com/uttop/campusmap/internal/render"
	"github.com/uttop/campusmap/internal/tracking"
)

// Mode toggle messages.
const (
	MsgManualMode    = "Manual GPS mode: Drag the marker to set your position"
	MsgAutomaticMode = "Automatic GPS mode: Following your location"
)

// Dispatcher commands.
const (
	cmdGeoFix     = "geo.fix"
	cmdGeoError   = "geo.error"
	cmdRetryFire  = "retry.fire"
	cmdStart      = "tracking.start"
	cmdToggle     = "mode.toggle"
	cmdSnapshot   = "snapshot"
	cmdDragStart  = "drag.start"
	cmdDragMove   = "drag.move"
	cmdDragEnd    = "drag.end"
	cmdDragCancel = "drag.cancel"
	cmdCamera     = "camera"
	cmdRoute      = "route.show"
	cmdClose      = "close"
)

// Dependencies are the collaborators of one Engine.
type Dependencies struct {
	Provider tracking.Provider
	// Clock defaults to the wall clock.
	Clock tracking.Clock
	// Views defaults to nothing drawn; normally a Leaflet and a MapLibre view.
	Views []render.View
	// Notify receives user notifications after rate limiting.
	Notify func(notify.Notification)

	Logger           *slog.Logger
	DispatcherLogger dispatcher.Logger

	Policy         *tracking.Policy
	Smoothing      float64
	NotifyInterval time.Duration
	QueueLimit     int
}

// Snapshot is a consistent view of the engine state.
type Snapshot struct {
	Position    geo.Position
	HasPosition bool
	Mode        position.Mode
	Status      tracking.Status
	Retry       tracking.RetryState
	Tracking    bool
	Watching    bool
	Dragging    bool
}

type (
	moveArgs   struct{ dx, dy float64 }
	cameraArgs struct {
		kind render.Kind
		cam  geo.Camera
	}
)

// Engine owns the state of one map session.
type Engine struct {
	logger   *slog.Logger
	d        *dispatcher.Dispatcher
	store    *position.Store
	tracker  *tracking.Tracker
	sync     *render.Sync
	drag     *correction.Controller
	notifier *notify.Notifier
	unsub    func()
}

// New wires an Engine. It does nothing until Run is called.
func New(deps Dependencies) (*Engine, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dlog := deps.DispatcherLogger
	if dlog == nil {
		dlog = logger
	}
	clock := deps.Clock
	if clock == nil {
		clock = tracking.SystemClock{}
	}
	interval := deps.NotifyInterval
	if interval == 0 {
		interval = notify.DefaultInterval
	}

	d, err := dispatcher.New(dlog, deps.QueueLimit)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	e := &Engine{logger: logger, d: d}

	storeOpts := []position.Option{position.WithClock(clock.Now)}
	if deps.Smoothing > 0 {
		storeOpts = append(storeOpts, position.WithSmoothing(deps.Smoothing))
	}
	e.store = position.NewStore(logger, storeOpts...)
	e.notifier = notify.New(deps.Notify, notify.WithInterval(interval), notify.WithClock(clock.Now))

	e.sync = render.NewSync(logger, deps.Views...)
	e.unsub = e.store.Subscribe(e.sync.OnPosition)

	trackOpts := []tracking.Option{tracking.WithStatus(e.onStatus)}
	if deps.Policy != nil {
		trackOpts = append(trackOpts, tracking.WithPolicy(*deps.Policy))
	}
	e.tracker = tracking.New(
		&serialProvider{inner: deps.Provider, post: e.post},
		&serialClock{inner: clock, post: e.post},
		e.store, logger, trackOpts...)

	e.drag = correction.New(e.store, e.sync, e.notifier, logger)

	e.register()
	return e, nil
}

func (e *Engine) register() {
	thunk := func(ev dispatcher.Event) (any, error) {
		ev.Payload.(func())()
		return nil, nil
	}
	e.d.Register(cmdGeoFix, thunk)
	e.d.Register(cmdGeoError, thunk)
	e.d.Register(cmdRetryFire, thunk)

	e.d.Register(cmdStart, func(dispatcher.Event) (any, error) {
		return nil, e.startTracking()
	}, dispatcher.Logged())
	e.d.Register(cmdToggle, func(dispatcher.Event) (any, error) {
		return e.toggle(), nil
	}, dispatcher.Logged())
	e.d.Register(cmdSnapshot, func(dispatcher.Event) (any, error) {
		return e.snapshot(), nil
	})

	e.d.Register(cmdDragStart, func(ev dispatcher.Event) (any, error) {
		return nil, e.drag.Begin(ev.Payload.(render.Kind))
	}, dispatcher.Logged())
	e.d.Register(cmdDragMove, func(ev dispatcher.Event) (any, error) {
		m := ev.Payload.(moveArgs)
		return nil, e.drag.Move(m.dx, m.dy)
	}, dispatcher.Droppable())
	e.d.Register(cmdDragEnd, func(dispatcher.Event) (any, error) {
		return e.drag.End()
	}, dispatcher.Logged())
	e.d.Register(cmdDragCancel, func(ev dispatcher.Event) (any, error) {
		return nil, e.drag.Cancel(ev.Payload.(string))
	}, dispatcher.Logged())

	e.d.Register(cmdCamera, func(ev dispatcher.Event) (any, error) {
		c := ev.Payload.(cameraArgs)
		e.drag.SetCamera(c.kind, c.cam)
		return nil, nil
	}, dispatcher.Droppable())
	e.d.Register(cmdRoute, func(ev dispatcher.Event) (any, error) {
		e.sync.DrawRoute(ev.Payload.(geom.LineString))
		return nil, nil
	}, dispatcher.Logged())

	e.d.Register(cmdClose, func(dispatcher.Event) (any, error) {
		if _, active := e.drag.Active(); active {
			e.drag.Cancel("session closed")
		}
		e.tracker.Stop()
		e.sync.Close()
		e.unsub()
		return nil, nil
	})
}

func (e *Engine) post(command string, fn func()) {
	if err := e.d.Post(dispatcher.Event{Command: command, Payload: fn}); err != nil {
		e.logger.Debug("Dropped engine callback", "command", command, "error", err)
	}
}

func (e *Engine) onStatus(s tracking.Status, msg string) {
	level := notify.Info
	switch s {
	case tracking.StatusSuccess:
		level = notify.Success
	case tracking.StatusDegraded:
		level = notify.Warning
	case tracking.StatusError:
		level = notify.Error
	}
	e.notifier.Notify(level, msg, notify.DefaultDuration)
}

func (e *Engine) startTracking() error {
	if e.store.Mode() == position.Manual {
		return fmt.Errorf("cannot start tracking: %w", position.ErrManualOverride)
	}
	e.store.ResetSmoothing()
	e.tracker.Start()
	return nil
}

func (e *Engine) toggle() position.Mode {
	if _, active := e.drag.Active(); active {
		if err := e.drag.Cancel("mode change"); err != nil {
			e.logger.Warn("Failed to cancel drag", "error", err)
		}
	}

	next := position.Manual
	if e.store.Mode() == position.Manual {
		next = position.Automatic
	}
	e.store.SetMode(next)
	e.sync.ApplyMode(next)

	if next == position.Manual {
		e.tracker.Stop()
		e.notifier.Notify(notify.Info, MsgManualMode, notify.DefaultDuration)
		e.logger.Info("Switched to manual positioning")
		return next
	}

	e.store.ResetSmoothing()
	if p, ok := e.store.Current(); ok {
		e.sync.Recenter(p)
	}
	e.notifier.Notify(notify.Info, MsgAutomaticMode, notify.DefaultDuration)
	e.logger.Info("Switched to automatic positioning")
	e.tracker.Start()
	return next
}

func (e *Engine) snapshot() Snapshot {
	p, ok := e.store.Current()
	_, dragging := e.drag.Active()
	return Snapshot{
		Position:    p,
		HasPosition: ok,
		Mode:        e.store.Mode(),
		Status:      e.tracker.Status(),
		Retry:       e.tracker.RetryState(),
		Tracking:    e.tracker.Active(),
		Watching:    e.tracker.Watching(),
		Dragging:    dragging,
	}
}

// Run processes the engine queue until ctx is done or Close is called.
func (e *Engine) Run(ctx context.Context) error {
	return e.d.Run(ctx)
}

// Close stops tracking, removes the markers and stops Run.
func (e *Engine) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := e.d.Call(ctx, dispatcher.Event{Command: cmdClose}); err != nil {
		e.logger.Debug("Engine closed without cleanup", "error", err)
	}
	e.d.Close()
}

func (e *Engine) call(ctx context.Context, command string, payload any) (any, error) {
	return e.d.Call(ctx, dispatcher.Event{Command: command, Payload: payload})
}

// StartTracking (re)starts automatic acquisition. It fails in MANUAL mode.
func (e *Engine) StartTracking(ctx context.Context) error {
	_, err := e.call(ctx, cmdStart, nil)
	return err
}

// ToggleManualMode flips between AUTOMATIC and MANUAL and returns the new mode.
func (e *Engine) ToggleManualMode(ctx context.Context) (position.Mode, error) {
	v, err := e.call(ctx, cmdToggle, nil)
	if err != nil {
		return "", err
	}
	return v.(position.Mode), nil
}

// Snapshot returns the engine state after every previously queued event ran.
func (e *Engine) Snapshot(ctx context.Context) (Snapshot, error) {
	v, err := e.call(ctx, cmdSnapshot, nil)
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

// CurrentPosition returns the current Position, if any.
func (e *Engine) CurrentPosition(ctx context.Context) (geo.Position, bool, error) {
	s, err := e.Snapshot(ctx)
	return s.Position, s.HasPosition, err
}

// Subscribe registers fn for every stored Position. fn runs on the engine goroutine.
func (e *Engine) Subscribe(fn position.Subscriber) func() {
	return e.store.Subscribe(fn)
}

// BeginDrag starts dragging the user marker on one view.
func (e *Engine) BeginDrag(ctx context.Context, kind render.Kind) error {
	_, err := e.call(ctx, cmdDragStart, kind)
	return err
}

// MoveDrag reports the pointer offset from the drag start, in pixels.
// Moves are dropped when the engine is backed up.
func (e *Engine) MoveDrag(dx, dy float64) error {
	return e.d.Post(dispatcher.Event{Command: cmdDragMove, Payload: moveArgs{dx: dx, dy: dy}})
}

// EndDrag finishes the drag and returns the final Position.
func (e *Engine) EndDrag(ctx context.Context) (geo.Position, error) {
	v, err := e.call(ctx, cmdDragEnd, nil)
	if err != nil {
		return geo.Position{}, err
	}
	return v.(geo.Position), nil
}

// CancelDrag aborts an interrupted drag.
func (e *Engine) CancelDrag(ctx context.Context, reason string) error {
	_, err := e.call(ctx, cmdDragCancel, reason)
	return err
}

// UpdateCamera records the camera of a view, used to interpret drag offsets.
func (e *Engine) UpdateCamera(kind render.Kind, cam geo.Camera) error {
	return e.d.Post(dispatcher.Event{Command: cmdCamera, Payload: cameraArgs{kind: kind, cam: cam}})
}

// ShowRoute draws path on both views.
func (e *Engine) ShowRoute(ctx context.Context, path geom.LineString) error {
	_, err := e.call(ctx, cmdRoute, path)
	return err
}

// serialProvider moves provider callbacks onto the engine queue.
type serialProvider struct {
	inner tracking.Provider
	post  func(command string, fn func())
}

func (p *serialProvider) CurrentPosition(opts tracking.Options, onFix func(tracking.Fix), onErr func(tracking.Error)) {
	p.inner.CurrentPosition(opts,
		func(f tracking.Fix) { p.post(cmdGeoFix, func() { onFix(f) }) },
		func(err tracking.Error) { p.post(cmdGeoError, func() { onErr(err) }) })
}

func (p *serialProvider) Watch(opts tracking.Options, onFix func(tracking.Fix), onErr func(tracking.Error)) tracking.WatchID {
	return p.inner.Watch(opts,
		func(f tracking.Fix) { p.post(cmdGeoFix, func() { onFix(f) }) },
		func(err tracking.Error) { p.post(cmdGeoError, func() { onErr(err) }) })
}

func (p *serialProvider) ClearWatch(id tracking.WatchID) {
	p.inner.ClearWatch(id)
}

// serialClock moves timer callbacks onto the engine queue.
type serialClock struct {
	inner tracking.Clock
	post  func(command string, fn func())
}

func (c *serialClock) Now() time.Time { return c.inner.Now() }

func (c *serialClock) AfterFunc(d time.Duration, f func()) tracking.Timer {
	return c.inner.AfterFunc(d, func() { c.post(cmdRetryFire, f) })
}
