// Package memory keeps information points and POIs in memory and persists
// them to a JSON snapshot in the configured output directory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/uttop/campusmap/internal/config"
	"github.com/uttop/campusmap/internal/storage"
)

// Backend stores records in memory and exports them to JSON
type Backend struct {
	cfg config.MemoryConfig
	now func() time.Time

	infos map[uint]storage.InfoPoint
	pois  []storage.POI

	idCounter uint
	mu        sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:   cfg,
		now:   time.Now,
		infos: make(map[uint]storage.InfoPoint),
	}
}

// Init loads the last snapshot, if any.
func (b *Backend) Init(ctx context.Context) error {
	if b.cfg.OutputDir == "" {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	snap, err := b.readSnapshot()
	if err != nil {
		return err
	}
	for _, p := range snap.Infos {
		b.infos[p.ID] = p
		if p.ID > b.idCounter {
			b.idCounter = p.ID
		}
	}
	b.pois = snap.POIs
	return nil
}

// Close writes a final snapshot.
func (b *Backend) Close() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.persist()
}

// CreateInfo normalizes p, assigns the next ID and stores it.
func (b *Backend) CreateInfo(ctx context.Context, p *storage.InfoPoint) error {
	if err := storage.NormalizeInfo(p, b.now()); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.idCounter++
	p.ID = b.idCounter
	b.infos[p.ID] = *p
	return b.persist()
}

// ListInfos returns information points ordered by timestamp, then ID.
func (b *Backend) ListInfos(ctx context.Context) ([]storage.InfoPoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]storage.InfoPoint, 0, len(b.infos))
	for _, p := range b.infos {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteInfo removes one information point.
func (b *Backend) DeleteInfo(ctx context.Context, id uint) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.infos[id]; !ok {
		return fmt.Errorf("info point %d: %w", id, storage.ErrNotFound)
	}
	delete(b.infos, id)
	return b.persist()
}

// CreatePOI validates and appends p. The caller assigns the ID.
func (b *Backend) CreatePOI(ctx context.Context, p *storage.POI) error {
	if err := storage.ValidatePOI(p); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = b.now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.pois = append(b.pois, *p)
	return b.persist()
}

// ListPOIs returns the POIs in creation order.
func (b *Backend) ListPOIs(ctx context.Context) ([]storage.POI, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]storage.POI, len(b.pois))
	copy(out, b.pois)
	return out, nil
}
