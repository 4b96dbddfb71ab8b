package geo

import (
	"encoding/json"
	"fmt"
	"math"

	geom "github.com/peterstace/simplefeatures/geom"
)

const accuracySegments = 64

// ParsePolyline parses a JSON array of [lon,lat] pairs into a geom.LineString.
// Input format: "[[lon1,lat1],[lon2,lat2],...]"
func ParsePolyline(input string) (geom.LineString, error) {
	var coords [][]float64
	if err := json.Unmarshal([]byte(input), &coords); err != nil {
		return geom.LineString{}, fmt.Errorf("failed to parse polyline JSON: %w", err)
	}
	return LineFromLngLat(coords)
}

// LineFromLngLat builds a route line from GeoJSON ordered coordinates.
// Vertices that are not valid WGS84 coordinates are skipped.
func LineFromLngLat(coords [][]float64) (geom.LineString, error) {
	flat := make([]float64, 0, len(coords)*2)
	for _, c := range coords {
		if len(c) < 2 || Validate(c[1], c[0]) != nil {
			continue
		}
		flat = append(flat, c[0], c[1])
	}
	if len(flat) < 4 {
		return geom.LineString{}, fmt.Errorf("polyline must have at least 2 valid points, got %d", len(flat)/2)
	}

	seq := geom.NewSequence(flat, geom.DimXY)
	return geom.NewLineString(seq), nil
}

// LatLngPath returns the vertices of ls in [lat, lon] order.
func LatLngPath(ls geom.LineString) [][2]float64 {
	seq := ls.Coordinates()
	out := make([][2]float64, seq.Length())
	for i := range out {
		xy := seq.GetXY(i)
		out[i] = [2]float64{xy.Y, xy.X}
	}
	return out
}

// LngLatPath returns the vertices of ls in [lon, lat] order.
func LngLatPath(ls geom.LineString) [][2]float64 {
	seq := ls.Coordinates()
	out := make([][2]float64, seq.Length())
	for i := range out {
		xy := seq.GetXY(i)
		out[i] = [2]float64{xy.X, xy.Y}
	}
	return out
}

// AccuracyPolygon approximates the accuracy circle around (lat, lon) as a closed
// ring in [lon, lat] order. Engines without a native circle primitive draw this.
func AccuracyPolygon(lat, lon, radius float64) geom.Polygon {
	flat := make([]float64, 0, (accuracySegments+1)*2)
	for i := 0; i < accuracySegments; i++ {
		bearing := 360 * float64(i) / accuracySegments
		pLat, pLon := destination(lat, lon, radius, bearing)
		flat = append(flat, pLon, pLat)
	}
	flat = append(flat, flat[0], flat[1])

	ring := geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
	return geom.NewPolygon([]geom.LineString{ring})
}

// RingRadius returns the mean distance in meters between the centre and the
// vertices of poly's exterior ring.
func RingRadius(lat, lon float64, poly geom.Polygon) float64 {
	seq := poly.ExteriorRing().Coordinates()
	n := seq.Length()
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		xy := seq.GetXY(i)
		sum += Haversine(lat, lon, xy.Y, xy.X)
	}
	return math.Round(sum/float64(n)*100) / 100
}
