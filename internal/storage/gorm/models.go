package gormstorage

import (
	"time"

	"gorm.io/datatypes"

	"github.com/uttop/campusmap/internal/storage"
)

// InfoPoint is the information_points row.
type InfoPoint struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	Title       string    `gorm:"size:200;not null"`
	Description string    `gorm:"type:text"`
	MarkerType  string    `gorm:"size:32;not null"`
	Image       string    `gorm:"type:text"`
	Latitude    float64   `gorm:"not null"`
	Longitude   float64   `gorm:"not null"`
	Timestamp   time.Time `gorm:"index;not null"`
}

// TableName overrides the default pluralized name.
func (InfoPoint) TableName() string { return "information_points" }

// POI is the shared_pois row.
type POI struct {
	Seq       uint    `gorm:"primaryKey;autoIncrement"`
	ID        string  `gorm:"size:64;uniqueIndex;not null"`
	Name      string  `gorm:"size:200;not null"`
	Latitude  float64 `gorm:"not null"`
	Longitude float64 `gorm:"not null"`
	Extra     datatypes.JSONMap
	CreatedAt time.Time `gorm:"index"`
}

// TableName overrides the default pluralized name.
func (POI) TableName() string { return "shared_pois" }

// Models lists every table the backend migrates.
var Models = []any{&InfoPoint{}, &POI{}}

func infoToRow(p storage.InfoPoint) InfoPoint {
	return InfoPoint{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		MarkerType:  p.MarkerType,
		Image:       p.Image,
		Latitude:    p.Latitude,
		Longitude:   p.Longitude,
		Timestamp:   p.Timestamp,
	}
}

func infoFromRow(r InfoPoint) storage.InfoPoint {
	return storage.InfoPoint{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		MarkerType:  r.MarkerType,
		Image:       r.Image,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		Timestamp:   r.Timestamp.UTC(),
	}
}

func poiToRow(p storage.POI) POI {
	row := POI{
		ID:        p.ID,
		Name:      p.Name,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		CreatedAt: p.CreatedAt,
	}
	if len(p.Extra) > 0 {
		row.Extra = datatypes.JSONMap(p.Extra)
	}
	return row
}

func poiFromRow(r POI) storage.POI {
	p := storage.POI{
		ID:        r.ID,
		Name:      r.Name,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if len(r.Extra) > 0 {
		p.Extra = map[string]any(r.Extra)
	}
	return p
}
