// Package factory builds the storage backend selected by configuration.
package factory

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/uttop/campusmap/internal/config"
	"github.com/uttop/campusmap/internal/database"
	"github.com/uttop/campusmap/internal/storage"
	gormstorage "github.com/uttop/campusmap/internal/storage/gorm"
	"github.com/uttop/campusmap/internal/storage/memory"
)

// NewBackend creates a storage backend based on configuration
func NewBackend(cfg config.StorageConfig, logger zerolog.Logger) (storage.Backend, error) {
	switch cfg.Type {
	case "postgres", "sqlite":
		m := database.NewManager(logger)
		if err := m.Connect(cfg); err != nil {
			return nil, err
		}
		return gormstorage.New(m), nil
	case "memory":
		return memory.New(cfg.Memory), nil
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
