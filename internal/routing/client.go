package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/uttop/campusmap/internal/config"
	"github.com/uttop/campusmap/internal/geo"
)

// Client talks to an OSRM v1 route service.
type Client struct {
	baseURL    string
	profile    string
	httpClient *http.Client
}

// New creates a new routing client.
func New(cfg config.RoutingConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		profile:    cfg.Profile,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type osrmResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Routes  []osrmRoute `json:"routes"`
}

type osrmRoute struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
	Geometry struct {
		Coordinates [][]float64 `json:"coordinates"`
	} `json:"geometry"`
	Legs []struct {
		Steps []osrmStep `json:"steps"`
	} `json:"legs"`
}

type osrmStep struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
	Name     string  `json:"name"`
	Maneuver struct {
		Type     string `json:"type"`
		Modifier string `json:"modifier"`
	} `json:"maneuver"`
}

// Route requests a walking route from one endpoint to the other.
func (c *Client) Route(ctx context.Context, from, to Endpoint) (Route, error) {
	// OSRM wants lon,lat pairs
	coords := fmt.Sprintf("%s;%s",
		formatLatLon(from.Longitude, from.Latitude),
		formatLatLon(to.Longitude, to.Latitude))
	endpoint := fmt.Sprintf("%s/%s/%s?overview=full&geometries=geojson&steps=true", c.baseURL, c.profile, coords)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Route{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Route{}, fmt.Errorf("route request failed: %w", err)
	}
	defer resp.Body.Close()

	var body osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Route{}, fmt.Errorf("route returned status %d: %w", resp.StatusCode, err)
	}

	switch {
	case body.Code == "NoRoute" || (body.Code == "Ok" && len(body.Routes) == 0):
		return Route{}, ErrNoRoute
	case body.Code != "Ok":
		return Route{}, fmt.Errorf("route service %s: %s", body.Code, body.Message)
	}

	best := body.Routes[0]
	path, err := geo.LineFromLngLat(best.Geometry.Coordinates)
	if err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrNoRoute, err)
	}

	r := Route{
		From:     from,
		To:       to,
		Distance: best.Distance,
		Duration: best.Duration,
		Path:     path,
	}
	for _, leg := range best.Legs {
		for _, s := range leg.Steps {
			r.Steps = append(r.Steps, Step{
				Instruction: instruction(s),
				Road:        s.Name,
				Distance:    s.Distance,
				Duration:    s.Duration,
			})
		}
	}
	return r, nil
}

func instruction(s osrmStep) string {
	var text string
	switch s.Maneuver.Type {
	case "depart":
		text = "Head " + orDefault(s.Maneuver.Modifier, "out")
	case "arrive":
		return "You have arrived at your destination"
	case "roundabout", "rotary":
		text = "Enter the roundabout"
	default:
		switch s.Maneuver.Modifier {
		case "", "straight":
			text = "Continue straight"
		case "uturn":
			text = "Make a U-turn"
		default:
			text = "Turn " + s.Maneuver.Modifier
		}
	}
	if s.Name != "" {
		text += " onto " + s.Name
	}
	return text
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
