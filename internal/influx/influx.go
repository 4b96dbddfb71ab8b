package influx

import (
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_api "github.com/influxdata/influxdb-client-go/v2/api"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/uttop/campusmap/internal/config"
	"github.com/uttop/campusmap/internal/logging"
	"github.com/uttop/campusmap/internal/position"
)

// MeasurementPosition is the measurement of committed positions.
const MeasurementPosition = "position"

// retention of the positions bucket
const retentionSeconds = 60 * 60 * 24 * 30

// Manager writes position telemetry to InfluxDB, or to a gzip line-protocol
// backup file when the server cannot be reached.
type Manager struct {
	Client  influxdb2.Client
	Writer  influxdb2_api.WriteAPI
	IsValid bool
	Logger  zerolog.Logger

	cfg          config.InfluxConfig
	backupPath   string
	backupFile   *os.File
	backupWriter *gzip.Writer
	mu           sync.Mutex
}

// NewManager creates a new InfluxDB manager.
func NewManager(cfg config.InfluxConfig, log zerolog.Logger, backupPath string) *Manager {
	return &Manager{
		Logger:     log,
		cfg:        cfg,
		backupPath: backupPath,
	}
}

// Connect establishes a connection to InfluxDB.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.cfg.Enabled {
		return fmt.Errorf("influx telemetry is disabled")
	}

	m.Client = influxdb2.NewClientWithOptions(
		m.cfg.URL(),
		m.cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(500).
			SetFlushInterval(1000),
	)

	// validate client connection health
	running, err := m.Client.Ping(ctx)
	if err != nil || !running {
		m.IsValid = false
		m.Logger.Warn().Err(err).Str("backupPath", m.backupPath).
			Msg("Failed to initialize InfluxDB client, writing to backup file")
		return m.openBackup()
	}

	if err := m.setupOrganizationAndBucket(ctx); err != nil {
		return err
	}
	m.createWriter()
	m.IsValid = true
	m.Logger.Info().Str("url", m.cfg.URL()).Str("bucket", m.cfg.Bucket).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) openBackup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.backupWriter != nil {
		return nil
	}
	file, err := os.OpenFile(m.backupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error creating backup file: %w", err)
	}
	m.backupFile = file
	m.backupWriter = gzip.NewWriter(file)
	return nil
}

func (m *Manager) setupOrganizationAndBucket(ctx context.Context) error {
	orgName := m.cfg.Org

	// ensure org exists
	influxOrg, err := m.Client.OrganizationsAPI().FindOrganizationByName(ctx, orgName)
	if err != nil {
		m.Logger.Info().Str("org", orgName).Msg("Organization not found, creating")
		influxOrg, err = m.Client.OrganizationsAPI().CreateOrganizationWithName(ctx, orgName)
		if err != nil {
			m.Logger.Error().Err(err).Str("org", orgName).Msg("Error creating organization")
			return err
		}
	}

	if _, err := m.Client.BucketsAPI().FindBucketByName(ctx, m.cfg.Bucket); err == nil {
		return nil
	}

	m.Logger.Info().Str("bucket", m.cfg.Bucket).Msg("Bucket not found, creating")
	rule := domain.RetentionRuleTypeExpire
	_, err = m.Client.BucketsAPI().CreateBucketWithName(ctx, influxOrg, m.cfg.Bucket, domain.RetentionRule{
		Type:         &rule,
		EverySeconds: retentionSeconds,
	})
	if err != nil {
		m.Logger.Error().Err(err).Str("bucket", m.cfg.Bucket).Msg("Error creating bucket")
		return err
	}
	return nil
}

func (m *Manager) createWriter() {
	m.Writer = m.Client.WriteAPI(m.cfg.Org, m.cfg.Bucket)

	sampled := logging.Sampled(m.Logger)
	go func(errorsCh <-chan error) {
		for writeErr := range errorsCh {
			sampled.Error().Err(writeErr).Str("bucket", m.cfg.Bucket).
				Msg("Error sending data to InfluxDB")
		}
	}(m.Writer.Errors())
}

// PositionPoint converts a committed position to a point.
func PositionPoint(session string, u position.Update) *influxdb2_write.Point {
	p := u.Position
	return influxdb2_write.NewPoint(
		MeasurementPosition,
		map[string]string{
			"session": session,
			"source":  string(p.Source),
			"mode":    string(u.Mode),
		},
		map[string]any{
			"lat":      p.Latitude,
			"lng":      p.Longitude,
			"accuracy": p.AccuracyMeters,
			"dragged":  u.FromDrag,
		},
		time.UnixMilli(p.TimestampMs).UTC(),
	)
}

// WritePosition records a committed position for a session.
func (m *Manager) WritePosition(session string, u position.Update) error {
	return m.WritePoint(PositionPoint(session, u))
}

// WritePoint writes a point to InfluxDB or backup file.
func (m *Manager) WritePoint(point *influxdb2_write.Point) error {
	if m.IsValid {
		m.Writer.WritePoint(point)
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.backupWriter == nil {
		return fmt.Errorf("influxDB client not initialized and backup writer not available")
	}

	lineProtocol := strings.TrimRight(influxdb2_write.PointToLineProtocol(point, time.Millisecond), "\n")
	if _, err := m.backupWriter.Write([]byte(lineProtocol + "\n")); err != nil {
		return fmt.Errorf("error writing to InfluxDB backup file: %w", err)
	}
	return nil
}

// Close flushes pending points and releases the client and the backup file.
func (m *Manager) Close() error {
	if m.Writer != nil {
		m.Writer.Flush()
	}
	if m.Client != nil {
		m.Client.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.backupWriter == nil {
		return nil
	}
	err := m.backupWriter.Close()
	if cerr := m.backupFile.Close(); err == nil {
		err = cerr
	}
	m.backupWriter = nil
	m.backupFile = nil
	return err
}
