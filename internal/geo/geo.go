package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidCoordinate is returned when a latitude/longitude pair is non-finite or out of range.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Source tells where a Position came from.
type Source string

const (
	SourceGPS      Source = "GPS"
	SourceManual   Source = "MANUAL"
	SourceFallback Source = "FALLBACK"
)

const (
	MinAccuracy     = 1.0
	MaxAccuracy     = 1000.0
	DefaultAccuracy = 10.0

	// MoveThreshold is the per-axis change in degrees (about 1.1 m) below which
	// two positions are considered the same.
	MoveThreshold = 0.00001

	earthRadius = 6371008.8
)

// Campus entrance, used when no fix can be obtained at all.
const (
	DefaultLatitude  = 43.225018
	DefaultLongitude = 0.052059
)

// Position is the canonical user location. It is a value type: a new Position
// replaces the previous one, it is never modified in place.
type Position struct {
	Latitude       float64 `json:"lat"`
	Longitude      float64 `json:"lng"`
	AccuracyMeters float64 `json:"accuracy"`
	TimestampMs    int64   `json:"timestamp"`
	Source         Source  `json:"source"`
}

// LatLng returns the coordinate in [lat, lon] order (2D map engines).
func (p Position) LatLng() [2]float64 {
	return [2]float64{p.Latitude, p.Longitude}
}

// LngLat returns the coordinate in [lon, lat] order (3D / GeoJSON engines).
func (p Position) LngLat() [2]float64 {
	return [2]float64{p.Longitude, p.Latitude}
}

func (p Position) String() string {
	return fmt.Sprintf("%.6f, %.6f", p.Latitude, p.Longitude)
}

// Validate checks that lat/lon are finite and inside the WGS84 ranges.
func Validate(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return fmt.Errorf("%w: non-finite value (%v, %v)", ErrInvalidCoordinate, lat, lon)
	}
	if lat < -90 || lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinate, lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinate, lon)
	}
	return nil
}

// ClampAccuracy bounds an accuracy radius to [MinAccuracy, MaxAccuracy].
// Zero and non-finite values are replaced by DefaultAccuracy.
func ClampAccuracy(a float64) float64 {
	if a == 0 || math.IsNaN(a) || math.IsInf(a, 0) {
		a = DefaultAccuracy
	}
	return math.Max(MinAccuracy, math.Min(MaxAccuracy, a))
}

// Moved reports whether b differs from a by more than MoveThreshold on either axis.
func Moved(a, b Position) bool {
	return math.Abs(a.Latitude-b.Latitude) > MoveThreshold ||
		math.Abs(a.Longitude-b.Longitude) > MoveThreshold
}

// ParseLatLon parses a "lat,lon" string, as used by share links and route endpoints.
func ParseLatLon(s string) (lat, lon float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidCoordinate, s)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidCoordinate, s)
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidCoordinate, s)
	}
	if err := Validate(lat, lon); err != nil {
		return 0, 0, err
	}
	return lat, lon, nil
}

// Haversine returns the great-circle distance in meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) + math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadius * math.Asin(math.Min(1, math.Sqrt(h)))
}

// destination moves distance meters from (lat, lon) along bearing (degrees clockwise from north).
func destination(lat, lon, distance, bearing float64) (float64, float64) {
	delta := distance / earthRadius
	theta := bearing * math.Pi / 180
	phi1 := lat * math.Pi / 180
	lambda1 := lon * math.Pi / 180

	phi2 := math.Asin(math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta))
	lambda2 := lambda1 + math.Atan2(math.Sin(theta)*math.Sin(delta)*math.Cos(phi1), math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2))

	return phi2 * 180 / math.Pi, normalizeLon(lambda2 * 180 / math.Pi)
}

func normalizeLon(lon float64) float64 {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
