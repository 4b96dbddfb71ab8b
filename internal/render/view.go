package render

import (
	"encoding/json"
	"fmt"
	"sync"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/uttop/campusmap/internal/geo"
	"github.com/uttop/campusmap/internal/position"
)

// Marker colors per mode.
const (
	ColorAutomatic = "#4285F4"
	ColorManual    = "#EA4335"
)

// Style is the mode-dependent look of the user marker and its accuracy shape.
type Style struct {
	Color string
}

// StyleFor returns the marker style for a mode.
func StyleFor(m position.Mode) Style {
	if m == position.Manual {
		return Style{Color: ColorManual}
	}
	return Style{Color: ColorAutomatic}
}

// View is the primitive surface of one map engine.
type View interface {
	Kind() Kind
	Projection() geo.Projection
	CreateMarker(p geo.Position, draggable bool, style Style) (marker, accuracy Handle, err error)
	MoveMarker(marker, accuracy Handle, p geo.Position) error
	SetDraggable(marker Handle, draggable bool) error
	SetStyle(marker, accuracy Handle, style Style) error
	SetDragging(marker Handle, dragging bool) error
	SetGestures(enabled bool) error
	Recenter(p geo.Position) error
	DrawRoute(path geom.LineString) error
	Remove(marker, accuracy Handle) error
	MarkerPosition(marker Handle) (geo.Position, bool)
}

// adapter holds the bookkeeping shared by both engine adapters.
type adapter struct {
	kind Kind
	sink Sink

	mu      sync.Mutex
	seq     int
	markers map[Handle]geo.Position
}

func (a *adapter) init(kind Kind, sink Sink) {
	a.kind = kind
	a.sink = sink
	a.markers = make(map[Handle]geo.Position)
}

func (a *adapter) Kind() Kind { return a.kind }

func (a *adapter) newHandles() (Handle, Handle) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.seq++
	return Handle(fmt.Sprintf("%s-marker-%d", a.kind, a.seq)), Handle(fmt.Sprintf("%s-accuracy-%d", a.kind, a.seq))
}

func (a *adapter) send(cmd Command) error {
	cmd.Type = "render"
	cmd.View = a.kind
	if err := a.sink.Send(cmd); err != nil {
		return fmt.Errorf("%s %s: %w", a.kind, cmd.Op, err)
	}
	return nil
}

func (a *adapter) track(h Handle, p geo.Position) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.markers[h] = p
}

func (a *adapter) MarkerPosition(h Handle) (geo.Position, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.markers[h]
	return p, ok
}

func (a *adapter) SetDraggable(marker Handle, draggable bool) error {
	return a.send(Command{Op: OpMarkerDraggable, Marker: marker, Draggable: boolPtr(draggable)})
}

func (a *adapter) SetStyle(marker, accuracy Handle, style Style) error {
	return a.send(Command{Op: OpMarkerStyle, Marker: marker, Accuracy: accuracy, Color: style.Color})
}

func (a *adapter) SetDragging(marker Handle, dragging bool) error {
	return a.send(Command{Op: OpMarkerDragging, Marker: marker, Dragging: boolPtr(dragging)})
}

func (a *adapter) SetGestures(enabled bool) error {
	return a.send(Command{Op: OpGestures, Enabled: boolPtr(enabled)})
}

func (a *adapter) Remove(marker, accuracy Handle) error {
	a.mu.Lock()
	delete(a.markers, marker)
	a.mu.Unlock()
	return a.send(Command{Op: OpMarkerRemove, Marker: marker, Accuracy: accuracy})
}

// LeafletView drives the 2D tile map. Coordinates go out in [lat, lon] order and
// the accuracy shape is a native circle.
type LeafletView struct {
	adapter
}

// NewLeafletView creates a 2D adapter writing to sink.
func NewLeafletView(sink Sink) *LeafletView {
	v := &LeafletView{}
	v.init(View2D, sink)
	return v
}

func (v *LeafletView) Projection() geo.Projection { return geo.Flat }

func (v *LeafletView) CreateMarker(p geo.Position, draggable bool, style Style) (Handle, Handle, error) {
	marker, accuracy := v.newHandles()
	err := v.send(Command{
		Op:        OpMarkerCreate,
		Marker:    marker,
		Accuracy:  accuracy,
		LatLng:    pair(p.Latitude, p.Longitude),
		Radius:    p.AccuracyMeters,
		Draggable: boolPtr(draggable),
		Color:     style.Color,
	})
	if err != nil {
		return "", "", err
	}
	v.track(marker, p)
	return marker, accuracy, nil
}

func (v *LeafletView) MoveMarker(marker, accuracy Handle, p geo.Position) error {
	err := v.send(Command{
		Op:       OpMarkerMove,
		Marker:   marker,
		Accuracy: accuracy,
		LatLng:   pair(p.Latitude, p.Longitude),
		Radius:   p.AccuracyMeters,
	})
	if err != nil {
		return err
	}
	v.track(marker, p)
	return nil
}

func (v *LeafletView) Recenter(p geo.Position) error {
	return v.send(Command{Op: OpCameraPan, LatLng: pair(p.Latitude, p.Longitude)})
}

func (v *LeafletView) DrawRoute(path geom.LineString) error {
	return v.send(Command{Op: OpRouteDraw, Path: geo.LatLngPath(path)})
}

// MapLibreView drives the 3D vector map. Coordinates go out in [lon, lat] order
// and the accuracy shape is a GeoJSON polygon.
type MapLibreView struct {
	adapter
	flyZoom float64
}

// NewMapLibreView creates a 3D adapter writing to sink. flyZoom is the zoom level
// used when recentering; zero keeps the current zoom.
func NewMapLibreView(sink Sink, flyZoom float64) *MapLibreView {
	v := &MapLibreView{flyZoom: flyZoom}
	v.init(View3D, sink)
	return v
}

func (v *MapLibreView) Projection() geo.Projection { return geo.Globe }

func (v *MapLibreView) accuracyGeometry(p geo.Position) (json.RawMessage, error) {
	raw, err := json.Marshal(geo.AccuracyPolygon(p.Latitude, p.Longitude, p.AccuracyMeters))
	if err != nil {
		return nil, fmt.Errorf("encoding accuracy polygon: %w", err)
	}
	return raw, nil
}

func (v *MapLibreView) CreateMarker(p geo.Position, draggable bool, style Style) (Handle, Handle, error) {
	geometry, err := v.accuracyGeometry(p)
	if err != nil {
		return "", "", err
	}
	marker, accuracy := v.newHandles()
	err = v.send(Command{
		Op:        OpMarkerCreate,
		Marker:    marker,
		Accuracy:  accuracy,
		LngLat:    pair(p.Longitude, p.Latitude),
		Geometry:  geometry,
		Draggable: boolPtr(draggable),
		Color:     style.Color,
	})
	if err != nil {
		return "", "", err
	}
	v.track(marker, p)
	return marker, accuracy, nil
}

func (v *MapLibreView) MoveMarker(marker, accuracy Handle, p geo.Position) error {
	geometry, err := v.accuracyGeometry(p)
	if err != nil {
		return err
	}
	err = v.send(Command{
		Op:       OpMarkerMove,
		Marker:   marker,
		Accuracy: accuracy,
		LngLat:   pair(p.Longitude, p.Latitude),
		Geometry: geometry,
	})
	if err != nil {
		return err
	}
	v.track(marker, p)
	return nil
}

func (v *MapLibreView) Recenter(p geo.Position) error {
	return v.send(Command{Op: OpCameraFly, LngLat: pair(p.Longitude, p.Latitude), Zoom: v.flyZoom})
}

func (v *MapLibreView) DrawRoute(path geom.LineString) error {
	raw, err := json.Marshal(path)
	if err != nil {
		return fmt.Errorf("encoding route: %w", err)
	}
	return v.send(Command{Op: OpRouteDraw, Geometry: raw})
}
