package routing

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uttop/campusmap/internal/campus"
	"github.com/uttop/campusmap/internal/geo"
)

func TestSummary(t *testing.T) {
	r := Route{Distance: 870, Duration: 629}
	assert.Equal(t, "Route found: 0.9 km • 10 min walking", r.Summary())
	assert.Equal(t, 10, r.Minutes())
}

func TestResolve(t *testing.T) {
	res := NewResolver(campus.Default())
	current := geo.Position{Latitude: 43.2261, Longitude: 0.0499}

	e, err := res.Resolve("library", current, true)
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Name: "Library", Latitude: 43.224945, Longitude: 0.051151}, e)

	e, err = res.Resolve("gps", current, true)
	require.NoError(t, err)
	assert.Equal(t, 43.2261, e.Latitude)

	e, err = res.Resolve("GPS", geo.Position{}, false)
	require.NoError(t, err)
	assert.Equal(t, geo.DefaultLatitude, e.Latitude)
	assert.Equal(t, geo.DefaultLongitude, e.Longitude)

	e, err = res.Resolve("43.2255, 0.0511", current, false)
	require.NoError(t, err)
	assert.Equal(t, 0.0511, e.Longitude)

	_, err = res.Resolve("91,0", current, false)
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)

	_, err = res.Resolve("Moon base", current, false)
	assert.ErrorIs(t, err, ErrUnknownLocation)

	_, err = res.Resolve("  ", current, false)
	assert.ErrorIs(t, err, ErrUnknownLocation)
}

func TestShareURL(t *testing.T) {
	start := Endpoint{Latitude: 43.225018, Longitude: 0.052059}
	end := Endpoint{Latitude: 43.227491, Longitude: 0.050948}
	cur := geo.Position{Latitude: 43.22512345678, Longitude: 0.0521}

	link, err := ShareURL("https://map.example.org/index.html?lang=en", start, end, &cur)
	require.NoError(t, err)

	u, err := url.Parse(link)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "/index.html", u.Path)
	assert.Equal(t, "en", q.Get("lang"))
	assert.Equal(t, "43.225018,0.052059", q.Get("origin"))
	assert.Equal(t, "43.227491,0.050948", q.Get("destination"))
	assert.Equal(t, "43.225123", q.Get("lat"))
	assert.Equal(t, "0.052100", q.Get("lng"))

	link, err = ShareURL("https://map.example.org/", start, end, nil)
	require.NoError(t, err)
	u, _ = url.Parse(link)
	assert.False(t, u.Query().Has("lat"))

	_, err = ShareURL("https://map.example.org/", start, Endpoint{Latitude: 100}, nil)
	assert.ErrorIs(t, err, geo.ErrInvalidCoordinate)
}
