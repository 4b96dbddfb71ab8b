// Package gormstorage implements the storage.Backend interface on top of
// GORM, for both the SQLite and the PostgreSQL dialects.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/uttop/campusmap/internal/database"
	"github.com/uttop/campusmap/internal/storage"
)

// Backend persists records through a database.Manager.
type Backend struct {
	db     *database.Manager
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a backend over an already connected manager.
func New(db *database.Manager) *Backend {
	return &Backend{
		db:     db,
		logger: db.Logger.With().Str("component", "storage").Logger(),
		now:    time.Now,
	}
}

// Init migrates the schema.
func (b *Backend) Init(ctx context.Context) error {
	return b.db.Setup(Models...)
}

// Close releases the database.
func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) conn(ctx context.Context) (*gorm.DB, error) {
	if !b.db.IsValid || b.db.DB == nil {
		return nil, fmt.Errorf("database not available")
	}
	return b.db.DB.WithContext(ctx), nil
}

// CreateInfo normalizes p and inserts it. The database assigns the ID.
func (b *Backend) CreateInfo(ctx context.Context, p *storage.InfoPoint) error {
	if err := storage.NormalizeInfo(p, b.now()); err != nil {
		return err
	}
	db, err := b.conn(ctx)
	if err != nil {
		return err
	}

	row := infoToRow(*p)
	row.ID = 0
	if err := db.Create(&row).Error; err != nil {
		return fmt.Errorf("insert info point: %w", err)
	}
	p.ID = row.ID
	b.logger.Debug().Uint("id", row.ID).Str("title", row.Title).Msg("Info point saved")
	return nil
}

// ListInfos returns information points ordered by timestamp, then ID.
func (b *Backend) ListInfos(ctx context.Context) ([]storage.InfoPoint, error) {
	db, err := b.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rows []InfoPoint
	if err := db.Order("timestamp ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list info points: %w", err)
	}
	out := make([]storage.InfoPoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, infoFromRow(r))
	}
	return out, nil
}

// DeleteInfo removes one information point.
func (b *Backend) DeleteInfo(ctx context.Context, id uint) error {
	db, err := b.conn(ctx)
	if err != nil {
		return err
	}

	res := db.Delete(&InfoPoint{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete info point %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("info point %d: %w", id, storage.ErrNotFound)
	}
	return nil
}

// CreatePOI validates and inserts p. The caller assigns the ID.
func (b *Backend) CreatePOI(ctx context.Context, p *storage.POI) error {
	if err := storage.ValidatePOI(p); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = b.now().UTC()
	}
	db, err := b.conn(ctx)
	if err != nil {
		return err
	}

	row := poiToRow(*p)
	if err := db.Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("poi %s already exists: %w", p.ID, err)
		}
		return fmt.Errorf("insert poi: %w", err)
	}
	return nil
}

// ListPOIs returns the POIs in creation order.
func (b *Backend) ListPOIs(ctx context.Context) ([]storage.POI, error) {
	db, err := b.conn(ctx)
	if err != nil {
		return nil, err
	}

	var rows []POI
	if err := db.Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list pois: %w", err)
	}
	out := make([]storage.POI, 0, len(rows))
	for _, r := range rows {
		out = append(out, poiFromRow(r))
	}
	return out, nil
}
