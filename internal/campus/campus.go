// Package campus holds the fixed set of named campus locations used as route
// endpoints.
package campus

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed campus.yaml
var defaultCatalog []byte

var validate = validator.New()

// Location is a named point on campus.
type Location struct {
	Name      string  `yaml:"name" json:"name" validate:"required"`
	Latitude  float64 `yaml:"lat" json:"lat" validate:"gte=-90,lte=90"`
	Longitude float64 `yaml:"lng" json:"lng" validate:"gte=-180,lte=180"`
}

// DisplayName is the name as shown in pickers.
func (l Location) DisplayName() string {
	return strings.ReplaceAll(l.Name, "_", " ")
}

type file struct {
	Center    []float64  `yaml:"center" validate:"len=2"`
	Locations []Location `yaml:"locations" validate:"required,min=1,dive"`
}

// Catalog is an immutable set of locations.
type Catalog struct {
	center [2]float64
	byKey  map[string]Location
	sorted []Location
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("campus: built-in catalog: %v", err))
	}
	return c
}

// Load reads a YAML catalog from path. An empty path selects the built-in one.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	c := &Catalog{
		center: [2]float64{f.Center[0], f.Center[1]},
		byKey:  make(map[string]Location, len(f.Locations)),
	}
	for _, l := range f.Locations {
		k := key(l.Name)
		if _, dup := c.byKey[k]; dup {
			return nil, fmt.Errorf("invalid catalog: duplicate location %q", l.Name)
		}
		c.byKey[k] = l
		c.sorted = append(c.sorted, l)
	}
	sort.Slice(c.sorted, func(i, j int) bool {
		return c.sorted[i].DisplayName() < c.sorted[j].DisplayName()
	})
	return c, nil
}

// key folds case and treats spaces as underscores.
func key(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
}

// Lookup finds a location by name, ignoring case.
func (c *Catalog) Lookup(name string) (Location, bool) {
	l, ok := c.byKey[key(name)]
	return l, ok
}

// List returns the locations sorted by display name.
func (c *Catalog) List() []Location {
	out := make([]Location, len(c.sorted))
	copy(out, c.sorted)
	return out
}

// Center is the initial map center as [lat, lon].
func (c *Catalog) Center() [2]float64 {
	return c.center
}

// Len is the number of locations.
func (c *Catalog) Len() int {
	return len(c.sorted)
}
