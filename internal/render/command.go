package render

import (
	"encoding/json"
)

// Kind identifies one of the two map views.
type Kind string

const (
	View2D Kind = "2d"
	View3D Kind = "3d"
)

// Handle is an opaque reference to an object drawn on a view.
type Handle string

// Render operations understood by the browser client.
const (
	OpMarkerCreate    = "marker.create"
	OpMarkerMove      = "marker.move"
	OpMarkerDraggable = "marker.draggable"
	OpMarkerStyle     = "marker.style"
	OpMarkerDragging  = "marker.dragging"
	OpMarkerRemove    = "marker.remove"
	OpGestures        = "gestures"
	OpCameraPan       = "camera.pan"
	OpCameraFly       = "camera.fly"
	OpRouteDraw       = "route.draw"
)

// Command is one draw instruction for a view. 2D commands carry coordinates in
// LatLng, 3D commands in LngLat and Geometry.
type Command struct {
	Type      string          `json:"type"`
	View      Kind            `json:"view"`
	Op        string          `json:"op"`
	Marker    Handle          `json:"marker,omitempty"`
	Accuracy  Handle          `json:"accuracy,omitempty"`
	LatLng    *[2]float64     `json:"latlng,omitempty"`
	LngLat    *[2]float64     `json:"lnglat,omitempty"`
	Radius    float64         `json:"radius,omitempty"`
	Geometry  json.RawMessage `json:"geometry,omitempty"`
	Path      [][2]float64    `json:"path,omitempty"`
	Draggable *bool           `json:"draggable,omitempty"`
	Dragging  *bool           `json:"dragging,omitempty"`
	Enabled   *bool           `json:"enabled,omitempty"`
	Color     string          `json:"color,omitempty"`
	Zoom      float64         `json:"zoom,omitempty"`
}

// Sink delivers commands to the client that owns the views.
type Sink interface {
	Send(cmd Command) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Command) error

func (f SinkFunc) Send(cmd Command) error { return f(cmd) }

func boolPtr(b bool) *bool { return &b }

func pair(a, b float64) *[2]float64 { return &[2]float64{a, b} }
