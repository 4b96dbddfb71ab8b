package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/uttop/campusmap/internal/config"
)

// Manager handles database connections and operations.
type Manager struct {
	DB              *gorm.DB
	SqlDB           *sql.DB
	IsValid         bool
	ShouldSaveLocal bool
	Logger          zerolog.Logger
}

// NewManager creates a new database manager.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		IsValid:         false,
		ShouldSaveLocal: false,
		Logger:          log,
	}
}

// Connect opens the database selected by cfg.Type. A postgres backend that
// cannot be reached falls back to the SQLite file so the server still starts.
func (m *Manager) Connect(cfg config.StorageConfig) error {
	var err error

	switch cfg.Type {
	case "postgres":
		m.DB, err = m.GetPostgresDB(cfg.Postgres)
		if err == nil {
			m.SqlDB, err = m.DB.DB()
		}
		if err == nil {
			err = m.SqlDB.Ping()
		}
		if err != nil {
			m.Logger.Error().Err(err).Msg("Failed to connect to Postgres DB, trying SQLite")
			m.ShouldSaveLocal = true
			return m.connectSqlite(cfg.SQLite.Path)
		}
		m.SqlDB.SetMaxOpenConns(10)
		m.SqlDB.SetConnMaxIdleTime(5 * time.Minute)
		m.Logger.Info().Str("host", cfg.Postgres.Host).Msg("Connected to database")
		m.IsValid = true
		return nil
	case "sqlite":
		m.ShouldSaveLocal = true
		return m.connectSqlite(cfg.SQLite.Path)
	default:
		return fmt.Errorf("storage type %q has no database", cfg.Type)
	}
}

func (m *Manager) connectSqlite(path string) error {
	var err error
	m.DB, err = m.GetSqliteDB(path)
	if err != nil || m.DB == nil {
		m.IsValid = false
		return fmt.Errorf("failed to get local SQLite DB: %w", err)
	}

	m.SqlDB, err = m.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access sql interface: %w", err)
	}
	// single writer
	m.SqlDB.SetMaxOpenConns(1)

	if err := m.SqlDB.Ping(); err != nil {
		m.IsValid = false
		return fmt.Errorf("failed to validate SQLite connection: %w", err)
	}
	m.IsValid = true
	return nil
}

// GetPostgresDB returns a connection to the Postgres database.
func (m *Manager) GetPostgresDB(cfg config.PostgresConfig) (*gorm.DB, error) {
	m.Logger.Debug().Str("host", cfg.Host).Str("port", cfg.Port).Str("database", cfg.Database).
		Msg("Connecting to Postgres DB")

	return gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN(),
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
}

// GetSqliteDB returns a connection to a SQLite database.
// If path is empty, uses a private in-memory database.
func (m *Manager) GetSqliteDB(path string) (*gorm.DB, error) {
	dsn := path
	if path == "" {
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		m.IsValid = false
		return nil, err
	}
	if path == "" {
		m.Logger.Info().Msg("Using in-memory SQLite DB")
	} else {
		m.Logger.Info().Str("path", path).Msg("Using local SQLite DB")
	}

	// set PRAGMAS
	pragmas := []string{
		"PRAGMA user_version = 1;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA cache_size = -8000;",
		"PRAGMA temp_store = MEMORY;",
		"PRAGMA busy_timeout = 5000;",
	}

	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %w", err)
		}
	}

	return db, nil
}

// Setup migrates the given models.
func (m *Manager) Setup(models ...any) error {
	if m.DB == nil {
		return fmt.Errorf("db not connected")
	}

	m.Logger.Info().Int("models", len(models)).Msg("Migrating schema")
	if err := m.DB.AutoMigrate(models...); err != nil {
		m.IsValid = false
		return fmt.Errorf("failed to migrate schema: %w", err)
	}

	m.Logger.Info().Str("dialect", m.DB.Dialector.Name()).Msg("Database setup complete")
	return nil
}

// Close releases the connection pool.
func (m *Manager) Close() error {
	if m.SqlDB == nil {
		return nil
	}
	m.IsValid = false
	return m.SqlDB.Close()
}
