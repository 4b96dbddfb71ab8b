package geo

import (
	"math"

	"github.com/wroge/wgs84"
)

// Web Mercator circumference at the equator, in meters.
const mercatorCircumference = 40075016.68557849

const maxPitch = 85.0

// Camera is the view state a pointer delta is interpreted against.
type Camera struct {
	Zoom    float64 `json:"zoom"`
	Bearing float64 `json:"bearing"`
	Pitch   float64 `json:"pitch"`
}

// Projection converts between screen pixel deltas and geographic coordinates
// for one kind of map engine.
type Projection struct {
	TileSize float64
	Rotates  bool
	Tilts    bool
}

var (
	// Flat is the projection of a 2D tile map: 256px tiles, north always up.
	Flat = Projection{TileSize: 256}
	// Globe is the projection of a 3D vector map: 512px tiles with bearing and pitch.
	Globe = Projection{TileSize: 512, Rotates: true, Tilts: true}
)

var (
	toMercator   = wgs84.EPSG().Transform(4326, 3857)
	fromMercator = wgs84.EPSG().Transform(3857, 4326)
)

// Resolution returns the mercator meters covered by one screen pixel at the given zoom.
func (p Projection) Resolution(zoom float64) float64 {
	return mercatorCircumference / (p.TileSize * math.Pow(2, zoom))
}

// Unproject returns the coordinate reached by moving the pointer (dx, dy) pixels
// away from (lat, lon). dx grows to the right and dy grows downwards.
func (p Projection) Unproject(lat, lon, dx, dy float64, cam Camera) (float64, float64, error) {
	if err := Validate(lat, lon); err != nil {
		return 0, 0, err
	}
	x, y, _ := toMercator(lon, lat, 0)
	east, north := p.screenToMap(dx, dy, cam)
	lon2, lat2, _ := fromMercator(x+east, y+north, 0)
	if err := Validate(lat2, lon2); err != nil {
		return 0, 0, err
	}
	return lat2, lon2, nil
}

// Offset returns the pointer delta that moves a marker from one coordinate to another.
func (p Projection) Offset(fromLat, fromLon, toLat, toLon float64, cam Camera) (dx, dy float64) {
	x1, y1, _ := toMercator(fromLon, fromLat, 0)
	x2, y2, _ := toMercator(toLon, toLat, 0)
	return p.mapToScreen(x2-x1, y2-y1, cam)
}

func (p Projection) screenToMap(dx, dy float64, cam Camera) (east, north float64) {
	sx, sy := dx, -dy
	if p.Tilts {
		sy /= math.Cos(clampPitch(cam.Pitch) * math.Pi / 180)
	}
	if p.Rotates && cam.Bearing != 0 {
		t := cam.Bearing * math.Pi / 180
		sx, sy = sx*math.Cos(t)+sy*math.Sin(t), -sx*math.Sin(t)+sy*math.Cos(t)
	}
	r := p.Resolution(cam.Zoom)
	return sx * r, sy * r
}

func (p Projection) mapToScreen(east, north float64, cam Camera) (dx, dy float64) {
	r := p.Resolution(cam.Zoom)
	sx, sy := east/r, north/r
	if p.Rotates && cam.Bearing != 0 {
		t := cam.Bearing * math.Pi / 180
		sx, sy = sx*math.Cos(t)-sy*math.Sin(t), sx*math.Sin(t)+sy*math.Cos(t)
	}
	if p.Tilts {
		sy *= math.Cos(clampPitch(cam.Pitch) * math.Pi / 180)
	}
	return sx, -sy
}

func clampPitch(pitch float64) float64 {
	return math.Max(0, math.Min(maxPitch, pitch))
}
