package gormstorage

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uttop/campusmap/internal/config"
	"github.com/uttop/campusmap/internal/database"
	"github.com/uttop/campusmap/internal/storage"
)

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	m := database.NewManager(zerolog.Nop())
	require.NoError(t, m.Connect(config.StorageConfig{Type: "sqlite"}))
	b := New(m)
	require.NoError(t, b.Init(context.Background()))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestInit_CreatesTables(t *testing.T) {
	b := newTestBackend(t)
	assert.True(t, b.db.DB.Migrator().HasTable("information_points"))
	assert.True(t, b.db.DB.Migrator().HasTable("shared_pois"))
	assert.True(t, b.db.DB.Migrator().HasIndex(&InfoPoint{}, "Timestamp"))
}

func TestInfoPoints_CRUD(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	late := storage.InfoPoint{Title: "late", Latitude: 43.22, Longitude: 0.05, Timestamp: base.Add(time.Minute)}
	early := storage.InfoPoint{Description: "no title", Timestamp: base, Image: "data:image/png;base64,AAAA"}
	require.NoError(t, b.CreateInfo(ctx, &late))
	require.NoError(t, b.CreateInfo(ctx, &early))
	assert.NotZero(t, late.ID)
	assert.Greater(t, early.ID, late.ID)

	list, err := b.ListInfos(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, storage.DefaultTitle, list[0].Title)
	assert.Equal(t, storage.DefaultMarkerType, list[0].MarkerType)
	assert.Equal(t, "data:image/png;base64,AAAA", list[0].Image)
	assert.True(t, list[0].Timestamp.Equal(base))
	assert.Equal(t, "late", list[1].Title)
	assert.Equal(t, 43.22, list[1].Latitude)

	require.NoError(t, b.DeleteInfo(ctx, late.ID))
	assert.ErrorIs(t, b.DeleteInfo(ctx, late.ID), storage.ErrNotFound)

	list, err = b.ListInfos(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateInfo_Validation(t *testing.T) {
	b := newTestBackend(t)
	p := storage.InfoPoint{Image: "javascript:alert(1)"}
	assert.ErrorIs(t, b.CreateInfo(context.Background(), &p), storage.ErrInvalidImage)
}

func TestPOIs(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(t)

	first := storage.POI{ID: "b", Name: "Library", Latitude: 43.2260, Longitude: 0.0512, Extra: map[string]any{"category": "study"}}
	second := storage.POI{ID: "a", Name: "Gym", Latitude: 43.2241, Longitude: 0.0530}
	require.NoError(t, b.CreatePOI(ctx, &first))
	require.NoError(t, b.CreatePOI(ctx, &second))
	assert.False(t, first.CreatedAt.IsZero())

	assert.ErrorIs(t, b.CreatePOI(ctx, &storage.POI{ID: "c"}), storage.ErrInvalidPOI)
	assert.Error(t, b.CreatePOI(ctx, &storage.POI{ID: "a", Name: "dup"}))

	pois, err := b.ListPOIs(ctx)
	require.NoError(t, err)
	require.Len(t, pois, 2)
	assert.Equal(t, "Library", pois[0].Name)
	assert.Equal(t, "study", pois[0].Extra["category"])
	assert.Equal(t, "Gym", pois[1].Name)
	assert.Nil(t, pois[1].Extra)
}

func TestClosedDatabase(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, b.Close())

	_, err := b.ListInfos(context.Background())
	assert.Error(t, err)
}
