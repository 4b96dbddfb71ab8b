// Package correction turns marker drag gestures into manual Position commits.
package correction

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uttop/campusmap/internal/geo"
	"github.com/uttop/campusmap/internal/notify"
	"github.com/uttop/campusmap/internal/position"
	"github.com/uttop/campusmap/internal/render"
)

var (
	// ErrNotDraggable is returned when a drag starts on a view whose marker is
	// missing or not draggable, or outside MANUAL mode.
	ErrNotDraggable = errors.New("marker is not draggable")
	// ErrNoSession is returned by Move, End and Cancel when no drag is active.
	ErrNoSession = errors.New("no drag in progress")
	// ErrDragActive is returned when a drag starts while another one is running.
	ErrDragActive = errors.New("drag already in progress")
)

// SuccessDuration is how long the finalized coordinate stays on screen.
const SuccessDuration = 2 * time.Second

// DefaultCamera is assumed for a view until the client reports its camera.
var DefaultCamera = geo.Camera{Zoom: 17}

// Committer is the subset of position.Store the controller writes through.
type Committer interface {
	Commit(lat, lon, accuracy float64, source geo.Source, opts position.CommitOptions) (position.Result, error)
	Mode() position.Mode
	Current() (geo.Position, bool)
}

// Views resolves a view kind to its adapter and marker binding.
type Views interface {
	View(k render.Kind) (render.View, bool)
	Binding(k render.Kind) (render.ViewBinding, bool)
}

// Notifier shows transient messages to the user.
type Notifier interface {
	Notify(level notify.Level, message string, d time.Duration) bool
}

type session struct {
	kind    render.Kind
	view    render.View
	marker  render.Handle
	origin  geo.Position
	lat     float64
	lon     float64
	moved   bool
	started time.Time
}

// Controller runs at most one drag session at a time. Like the rest of the
// engine state it is owned by a single goroutine.
type Controller struct {
	store   Committer
	views   Views
	notify  Notifier
	logger  *slog.Logger
	cameras map[render.Kind]geo.Camera

	session *session
}

// New creates a drag controller.
func New(store Committer, views Views, n Notifier, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:   store,
		views:   views,
		notify:  n,
		logger:  logger,
		cameras: make(map[render.Kind]geo.Camera),
	}
}

// SetCamera records the camera a view currently shows.
func (c *Controller) SetCamera(k render.Kind, cam geo.Camera) {
	c.cameras[k] = cam
}

// Camera returns the last known camera of a view.
func (c *Controller) Camera(k render.Kind) geo.Camera {
	if cam, ok := c.cameras[k]; ok {
		return cam
	}
	return DefaultCamera
}

// Active reports whether a drag is in progress and on which view.
func (c *Controller) Active() (render.Kind, bool) {
	if c.session == nil {
		return "", false
	}
	return c.session.kind, true
}

// Begin starts a drag of the user marker on view k.
func (c *Controller) Begin(k render.Kind) error {
	if c.session != nil {
		return ErrDragActive
	}
	if c.store.Mode() != position.Manual {
		return fmt.Errorf("%w: mode is %s", ErrNotDraggable, c.store.Mode())
	}
	view, ok := c.views.View(k)
	if !ok {
		return fmt.Errorf("%w: unknown view %q", ErrNotDraggable, k)
	}
	b, bound := c.views.Binding(k)
	if !bound || !b.Draggable {
		return fmt.Errorf("%w: %s view", ErrNotDraggable, k)
	}
	origin, ok := c.store.Current()
	if !ok {
		return fmt.Errorf("%w: no position yet", ErrNotDraggable)
	}

	c.session = &session{
		kind:    k,
		view:    view,
		marker:  b.Marker,
		origin:  origin,
		lat:     origin.Latitude,
		lon:     origin.Longitude,
		started: time.Now(),
	}
	if err := view.SetGestures(false); err != nil {
		c.logger.Warn("Could not disable map gestures", "view", k, "error", err)
	}
	if err := view.SetDragging(b.Marker, true); err != nil {
		c.logger.Warn("Could not mark marker as dragging", "view", k, "error", err)
	}
	c.logger.Debug("Drag started", "view", k, "position", origin.String())
	return nil
}

// Move applies a pointer offset, in pixels from where the drag started.
// A commit failure ends the session.
func (c *Controller) Move(dx, dy float64) (err error) {
	s := c.session
	if s == nil {
		return ErrNoSession
	}
	defer func() {
		if err != nil {
			c.cleanup("move failed")
		}
	}()

	lat, lon, err := s.view.Projection().Unproject(s.origin.Latitude, s.origin.Longitude, dx, dy, c.Camera(s.kind))
	if err != nil {
		return fmt.Errorf("unprojecting drag: %w", err)
	}
	if err := c.commit(lat, lon); err != nil {
		return err
	}
	s.lat, s.lon, s.moved = lat, lon, true
	return nil
}

// End finishes the drag with a final commit and shows the resulting coordinate.
func (c *Controller) End() (geo.Position, error) {
	s := c.session
	if s == nil {
		return geo.Position{}, ErrNoSession
	}
	defer c.cleanup("end")

	if err := c.commit(s.lat, s.lon); err != nil {
		return geo.Position{}, err
	}
	final, _ := c.store.Current()
	if c.notify != nil {
		c.notify.Notify(notify.Success, fmt.Sprintf("Position set to: %.6f, %.6f", final.Latitude, final.Longitude), SuccessDuration)
	}
	c.logger.Info("Manual position set", "position", final.String(), "view", s.kind, "took", time.Since(s.started))
	return final, nil
}

// Cancel aborts an interrupted drag. The marker stays where it was last moved to.
func (c *Controller) Cancel(reason string) error {
	s := c.session
	if s == nil {
		return ErrNoSession
	}
	defer c.cleanup(reason)

	if !s.moved {
		return nil
	}
	return c.commit(s.lat, s.lon)
}

func (c *Controller) commit(lat, lon float64) error {
	_, err := c.store.Commit(lat, lon, c.session.origin.AccuracyMeters, geo.SourceManual, position.CommitOptions{FromDrag: true})
	return err
}

func (c *Controller) cleanup(reason string) {
	s := c.session
	if s == nil {
		return
	}
	c.session = nil

	if err := s.view.SetGestures(true); err != nil {
		c.logger.Warn("Could not re-enable map gestures", "view", s.kind, "error", err)
	}
	if err := s.view.SetDragging(s.marker, false); err != nil {
		c.logger.Warn("Could not clear dragging style", "view", s.kind, "error", err)
	}
	c.logger.Debug("Drag finished", "view", s.kind, "reason", reason)
}
