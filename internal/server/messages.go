package server

import (
	"encoding/json"
	"math"

	"github.com/uttop/campusmap/internal/geo"
	"github.com/uttop/campusmap/internal/notify"
	"github.com/uttop/campusmap/internal/position"
	"github.com/uttop/campusmap/internal/routing"
	"github.com/uttop/campusmap/internal/storage"
	"github.com/uttop/campusmap/internal/tracking"
)

// Client to server message types.
const (
	msgTrackingStart  = "tracking.start"
	msgModeToggle     = "mode.toggle"
	msgDragStart      = "drag.start"
	msgDragMove       = "drag.move"
	msgDragEnd        = "drag.end"
	msgDragCancel     = "drag.cancel"
	msgCamera         = "camera"
	msgGeoFix         = "geolocation.fix"
	msgGeoError       = "geolocation.error"
	msgRouteRequest   = "route.request"
	msgPositionUpdate = "position_update"
)

// Server to client message types.
const (
	msgGetCurrentPosition = "geolocation.getCurrentPosition"
	msgWatch              = "geolocation.watch"
	msgClearWatch         = "geolocation.clearWatch"
	msgNotification       = "notification"
	msgPosition           = "position"
	msgMode               = "mode"
	msgRoute              = "route"
	msgError              = "error"
	msgInitialPOIs        = "initial_pois"
	msgPOIAdded           = "poi_added"
	msgPositionUpdated    = "position_updated"
)

// inbound is the union of every message a browser may send.
type inbound struct {
	Type string `json:"type"`

	RequestID int64         `json:"requestId,omitempty"`
	Fix       *tracking.Fix `json:"fix,omitempty"`
	Code      int           `json:"code,omitempty"`
	Message   string        `json:"message,omitempty"`

	View    string  `json:"view,omitempty"`
	DX      float64 `json:"dx,omitempty"`
	DY      float64 `json:"dy,omitempty"`
	Reason  string  `json:"reason,omitempty"`
	Zoom    float64 `json:"zoom,omitempty"`
	Bearing float64 `json:"bearing,omitempty"`
	Pitch   float64 `json:"pitch,omitempty"`

	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`

	Data json.RawMessage `json:"data,omitempty"`
}

type geoOptions struct {
	EnableHighAccuracy bool  `json:"enableHighAccuracy"`
	Timeout            int64 `json:"timeout,omitempty"`
	MaximumAge         int64 `json:"maximumAge"`
}

func toGeoOptions(o tracking.Options) geoOptions {
	return geoOptions{
		EnableHighAccuracy: o.HighAccuracy,
		Timeout:            o.Timeout.Milliseconds(),
		MaximumAge:         o.MaximumAge.Milliseconds(),
	}
}

type geoRequest struct {
	Type      string      `json:"type"`
	RequestID int64       `json:"requestId"`
	Options   *geoOptions `json:"options,omitempty"`
}

type notificationMessage struct {
	Type       string       `json:"type"`
	Level      notify.Level `json:"level"`
	Message    string       `json:"message"`
	DurationMs int64        `json:"durationMs"`
}

func newNotificationMessage(n notify.Notification) notificationMessage {
	return notificationMessage{
		Type:       msgNotification,
		Level:      n.Level,
		Message:    n.Message,
		DurationMs: n.DurationMs(),
	}
}

// positionMessage feeds the coordinate display.
type positionMessage struct {
	Type      string        `json:"type"`
	Latitude  float64       `json:"lat"`
	Longitude float64       `json:"lng"`
	Accuracy  float64       `json:"accuracy"`
	Source    geo.Source    `json:"source"`
	Mode      position.Mode `json:"mode"`
	Dragged   bool          `json:"dragged"`
	Timestamp int64         `json:"timestamp"`
	Display   string        `json:"display"`
}

func newPositionMessage(u position.Update) positionMessage {
	p := u.Position
	return positionMessage{
		Type:      msgPosition,
		Latitude:  round6(p.Latitude),
		Longitude: round6(p.Longitude),
		Accuracy:  p.AccuracyMeters,
		Source:    p.Source,
		Mode:      u.Mode,
		Dragged:   u.FromDrag,
		Timestamp: p.TimestampMs,
		Display:   p.String(),
	}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

type modeMessage struct {
	Type string        `json:"type"`
	Mode position.Mode `json:"mode"`
}

type routeMessage struct {
	Type string `json:"type"`
	routing.Route
	Path     [][2]float64 `json:"path"`
	Summary  string       `json:"summary"`
	ShareURL string       `json:"shareUrl,omitempty"`
}

type errorMessage struct {
	Type    string `json:"type"`
	For     string `json:"for"`
	Message string `json:"message"`
}

type poiListMessage struct {
	Type string        `json:"type"`
	Data []storage.POI `json:"data"`
}

type poiMessage struct {
	Type string      `json:"type"`
	Data storage.POI `json:"data"`
}

type relayMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}
