// Package render keeps the 2D and 3D map views consistent with the current
// position. Each view is reached through an adapter that owns its axis order.
package render

import (
	"errors"
	"fmt"
	"log/slog"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/uttop/campusmap/internal/geo"
	"github.com/uttop/campusmap/internal/position"
)

// ErrRenderFailure wraps any error or panic raised by a single view.
var ErrRenderFailure = errors.New("render failure")

// ViewBinding is the user marker state on one view.
type ViewBinding struct {
	Marker    Handle
	Accuracy  Handle
	Draggable bool
}

type binding struct {
	view View
	ViewBinding
}

// Sync applies position updates and mode changes to every registered view.
// It is driven from the engine goroutine and is not safe for concurrent use.
type Sync struct {
	logger   *slog.Logger
	bindings []*binding
	mode     position.Mode
	onFail   func(kind Kind, err error)
}

// NewSync creates a Sync over the given views.
func NewSync(logger *slog.Logger, views ...View) *Sync {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sync{logger: logger, mode: position.Automatic}
	for _, v := range views {
		s.bindings = append(s.bindings, &binding{view: v})
	}
	return s
}

// OnFailure registers a callback for view failures.
func (s *Sync) OnFailure(fn func(kind Kind, err error)) {
	s.onFail = fn
}

// OnPosition is a position.Subscriber.
func (s *Sync) OnPosition(u position.Update) {
	s.mode = u.Mode
	draggable := u.Mode == position.Manual
	recenter := u.Mode == position.Automatic && !u.FromDrag

	for _, b := range s.bindings {
		b := b
		s.guard(b.view, "update", func() error {
			if b.Marker == "" {
				marker, accuracy, err := b.view.CreateMarker(u.Position, draggable, StyleFor(u.Mode))
				if err != nil {
					return err
				}
				b.Marker, b.Accuracy, b.Draggable = marker, accuracy, draggable
			} else if err := b.view.MoveMarker(b.Marker, b.Accuracy, u.Position); err != nil {
				return err
			}
			if recenter {
				return b.view.Recenter(u.Position)
			}
			return nil
		})
	}
}

// ApplyMode re-applies the draggable flag and mode style on every bound marker.
func (s *Sync) ApplyMode(m position.Mode) {
	s.mode = m
	draggable := m == position.Manual
	style := StyleFor(m)

	for _, b := range s.bindings {
		if b.Marker == "" {
			continue
		}
		b := b
		s.guard(b.view, "mode", func() error {
			if err := b.view.SetDraggable(b.Marker, draggable); err != nil {
				return err
			}
			b.Draggable = draggable
			return b.view.SetStyle(b.Marker, b.Accuracy, style)
		})
	}
}

// Recenter moves every camera to p.
func (s *Sync) Recenter(p geo.Position) {
	for _, b := range s.bindings {
		b := b
		s.guard(b.view, "recenter", func() error { return b.view.Recenter(p) })
	}
}

// DrawRoute draws path on every view.
func (s *Sync) DrawRoute(path geom.LineString) {
	for _, b := range s.bindings {
		b := b
		s.guard(b.view, "route", func() error { return b.view.DrawRoute(path) })
	}
}

// View returns the view of the given kind.
func (s *Sync) View(k Kind) (View, bool) {
	for _, b := range s.bindings {
		if b.view.Kind() == k {
			return b.view, true
		}
	}
	return nil, false
}

// Binding returns the marker binding of the given view.
func (s *Sync) Binding(k Kind) (ViewBinding, bool) {
	for _, b := range s.bindings {
		if b.view.Kind() == k {
			return b.ViewBinding, b.Marker != ""
		}
	}
	return ViewBinding{}, false
}

// Close removes every marker and forgets the bindings.
func (s *Sync) Close() {
	for _, b := range s.bindings {
		if b.Marker == "" {
			continue
		}
		b := b
		s.guard(b.view, "close", func() error { return b.view.Remove(b.Marker, b.Accuracy) })
		b.ViewBinding = ViewBinding{}
	}
}

// guard runs fn for one view, converting errors and panics into a logged
// render failure so the other view is still updated.
func (s *Sync) guard(v View, op string, fn func() error) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = fn()
	}()
	if err == nil {
		return
	}

	err = fmt.Errorf("%w: %s view %s: %v", ErrRenderFailure, v.Kind(), op, err)
	s.logger.Error("View update failed", "view", v.Kind(), "op", op, "error", err)
	if s.onFail != nil {
		s.onFail(v.Kind(), err)
	}
}
