// Package storage persists information points and shared POIs.
package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxImageBytes bounds the size of an information point image.
const MaxImageBytes = 5 * 1024 * 1024

const (
	DefaultTitle      = "Untitled"
	DefaultMarkerType = "default"
)

var (
	// ErrNotFound is returned when deleting or reading an unknown record.
	ErrNotFound = errors.New("not found")
	// ErrInvalidImage is returned for an image that is not an image data URL.
	ErrInvalidImage = errors.New("invalid image")
	// ErrImageTooLarge is returned for images over MaxImageBytes.
	ErrImageTooLarge = errors.New("image exceeds 5MB")
	// ErrInvalidPOI is returned when a POI lacks a name or coordinates.
	ErrInvalidPOI = errors.New("missing required fields: name, lat, lng")
)

// InfoPoint is a user-authored note pinned to the map.
type InfoPoint struct {
	ID          uint      `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	MarkerType  string    `json:"markerType"`
	Image       string    `json:"image,omitempty"`
	Latitude    float64   `json:"lat"`
	Longitude   float64   `json:"lng"`
	Timestamp   time.Time `json:"timestamp"`
}

// POI is a point shared between all connected clients.
type POI struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Latitude  float64        `json:"lat"`
	Longitude float64        `json:"lng"`
	Extra     map[string]any `json:"extra,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error

	// Information points. CreateInfo assigns ID.
	CreateInfo(ctx context.Context, p *InfoPoint) error
	ListInfos(ctx context.Context) ([]InfoPoint, error)
	DeleteInfo(ctx context.Context, id uint) error

	// Shared POIs, in creation order.
	CreatePOI(ctx context.Context, p *POI) error
	ListPOIs(ctx context.Context) ([]POI, error)
}

// NormalizeInfo trims the text fields, fills defaults and checks the image.
func NormalizeInfo(p *InfoPoint, now time.Time) error {
	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" {
		p.Title = DefaultTitle
	}
	p.Description = strings.TrimSpace(p.Description)
	if p.MarkerType == "" {
		p.MarkerType = DefaultMarkerType
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = now.UTC()
	}
	if p.Image == "" {
		return nil
	}
	size, err := ImageSize(p.Image)
	if err != nil {
		return err
	}
	if size > MaxImageBytes {
		return ErrImageTooLarge
	}
	return nil
}

// ImageSize returns the size in bytes of the file carried by an image data
// URL, which is what the 5MB limit applies to.
func ImageSize(dataURL string) (int, error) {
	header, payload, ok := strings.Cut(dataURL, ",")
	if !ok || !strings.HasPrefix(header, "data:image/") {
		return 0, fmt.Errorf("%w: expected an image data URL", ErrInvalidImage)
	}
	if !strings.HasSuffix(header, ";base64") {
		return len(payload), nil
	}
	if len(payload)%4 != 0 {
		return base64.RawStdEncoding.DecodedLen(len(payload)), nil
	}
	pad := len(payload) - len(strings.TrimRight(payload, "="))
	return base64.StdEncoding.DecodedLen(len(payload)) - min(pad, 2), nil
}

// ValidatePOI checks the fields a POI cannot do without.
func ValidatePOI(p *POI) error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrInvalidPOI
	}
	if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: coordinates out of range", ErrInvalidPOI)
	}
	return nil
}
