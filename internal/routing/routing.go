// Package routing computes walking routes between campus endpoints through
// an OSRM v1 compatible service.
package routing

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/uttop/campusmap/internal/campus"
	"github.com/uttop/campusmap/internal/geo"
)

// GPS names the session's own position as a route endpoint.
const GPS = "gps"

var (
	// ErrNoRoute is returned when the service finds no path.
	ErrNoRoute = errors.New("no route found between the selected points")
	// ErrUnknownLocation is returned for an endpoint that is neither a
	// catalog name, "gps" nor a coordinate.
	ErrUnknownLocation = errors.New("unknown location")
)

// Endpoint is one end of a route.
type Endpoint struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

func (e Endpoint) String() string {
	return formatLatLon(e.Latitude, e.Longitude)
}

// Step is one maneuver of a route.
type Step struct {
	Instruction string  `json:"instruction"`
	Road        string  `json:"road,omitempty"`
	Distance    float64 `json:"distance"`
	Duration    float64 `json:"duration"`
}

// Route is a computed walking route. Distance is in meters, Duration in
// seconds.
type Route struct {
	From     Endpoint        `json:"from"`
	To       Endpoint        `json:"to"`
	Distance float64         `json:"distance"`
	Duration float64         `json:"duration"`
	Path     geom.LineString `json:"-"`
	Steps    []Step          `json:"steps"`
}

// Minutes is the walking time rounded to the minute.
func (r Route) Minutes() int {
	return int(math.Round(r.Duration / 60))
}

// Summary is the user-facing description of the route.
func (r Route) Summary() string {
	return fmt.Sprintf("Route found: %.1f km • %d min walking", r.Distance/1000, r.Minutes())
}

// Resolver turns endpoint names into coordinates.
type Resolver struct {
	catalog *campus.Catalog
}

// NewResolver creates a resolver over catalog.
func NewResolver(catalog *campus.Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve accepts a catalog name, "gps" or "lat,lon". For "gps" the current
// position is used when known, the campus entrance otherwise.
func (r *Resolver) Resolve(name string, current geo.Position, hasCurrent bool) (Endpoint, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Endpoint{}, fmt.Errorf("%w: empty", ErrUnknownLocation)
	}

	if strings.EqualFold(name, GPS) {
		if hasCurrent {
			return Endpoint{Name: GPS, Latitude: current.Latitude, Longitude: current.Longitude}, nil
		}
		return Endpoint{Name: GPS, Latitude: geo.DefaultLatitude, Longitude: geo.DefaultLongitude}, nil
	}

	if l, ok := r.catalog.Lookup(name); ok {
		return Endpoint{Name: l.Name, Latitude: l.Latitude, Longitude: l.Longitude}, nil
	}

	if strings.Contains(name, ",") {
		lat, lon, err := geo.ParseLatLon(name)
		if err != nil {
			return Endpoint{}, err
		}
		return Endpoint{Latitude: lat, Longitude: lon}, nil
	}

	return Endpoint{}, fmt.Errorf("%w: %q", ErrUnknownLocation, name)
}

// ShareURL builds a link that reopens the route. The current position is
// appended with 6 decimals when given.
func ShareURL(base string, start, end Endpoint, current *geo.Position) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("share url: %w", err)
	}
	for _, e := range []Endpoint{start, end} {
		if err := geo.Validate(e.Latitude, e.Longitude); err != nil {
			return "", fmt.Errorf("no valid route to share: %w", err)
		}
	}

	q := u.Query()
	q.Set("origin", start.String())
	q.Set("destination", end.String())
	if current != nil && geo.Validate(current.Latitude, current.Longitude) == nil {
		q.Set("lat", strconv.FormatFloat(current.Latitude, 'f', 6, 64))
		q.Set("lng", strconv.FormatFloat(current.Longitude, 'f', 6, 64))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func formatLatLon(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64)
}
