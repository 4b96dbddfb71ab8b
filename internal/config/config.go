package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// FileName is the configuration file looked up in the config directory.
const FileName = "campusmap.cfg.json"

// EnvPrefix prefixes environment overrides, e.g. CAMPUSMAP_SERVER_ADDR.
const EnvPrefix = "CAMPUSMAP"

var validate = validator.New()

// ServerConfig holds HTTP and WebSocket settings.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr" validate:"required"`
	StaticDir      string        `mapstructure:"staticDir"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout" validate:"gt=0"`
	RequestTimeout time.Duration `mapstructure:"requestTimeout" validate:"gt=0"`
	MaxSessions    int           `mapstructure:"maxSessions" validate:"gte=0"`
}

// TrackingConfig holds the position acquisition and smoothing parameters.
type TrackingConfig struct {
	MaxRetries        int             `mapstructure:"maxRetries" validate:"gte=0"`
	MaxDelay          time.Duration   `mapstructure:"maxDelay" validate:"gt=0"`
	Smoothing         float64         `mapstructure:"smoothing" validate:"gt=0,lte=1"`
	FallbackLatitude  float64         `mapstructure:"fallbackLatitude" validate:"gte=-90,lte=90"`
	FallbackLongitude float64         `mapstructure:"fallbackLongitude" validate:"gte=-180,lte=180"`
	FallbackAccuracy  float64         `mapstructure:"fallbackAccuracy" validate:"gte=1,lte=1000"`
	NotifyInterval    time.Duration   `mapstructure:"notifyInterval" validate:"gte=0"`
	FlyZoom           float64         `mapstructure:"flyZoom" validate:"gte=0,lte=24"`
	QueueLimit        int             `mapstructure:"queueLimit" validate:"gte=0"`
	RetryBase         RetryBaseConfig `mapstructure:"retryBase"`
}

// RetryBaseConfig holds the first retry delay for each kind of position error.
type RetryBaseConfig struct {
	Unavailable time.Duration `mapstructure:"unavailable" validate:"gt=0"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Unknown     time.Duration `mapstructure:"unknown" validate:"gt=0"`
}

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds the embedded database settings.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PostgresConfig holds the connection settings of a PostgreSQL backend.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// DSN returns the connection string understood by the postgres driver.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.Username, c.Password, c.Database)
}

// StorageConfig selects and configures the info point / POI store.
type StorageConfig struct {
	Type     string         `mapstructure:"type" validate:"oneof=memory sqlite postgres"`
	Memory   MemoryConfig   `mapstructure:"memory"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RoutingConfig configures the walking route service.
type RoutingConfig struct {
	BaseURL  string        `mapstructure:"baseUrl" validate:"required,url"`
	Profile  string        `mapstructure:"profile" validate:"required"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gt=0"`
	ShareURL string        `mapstructure:"shareUrl" validate:"omitempty,url"`
}

// CampusConfig points to an optional catalog file replacing the built-in one.
type CampusConfig struct {
	CatalogFile string `mapstructure:"catalogFile"`
}

// InfluxConfig configures position telemetry.
type InfluxConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Protocol string `mapstructure:"protocol" validate:"omitempty,oneof=http https"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Token    string `mapstructure:"token"`
	Org      string `mapstructure:"org"`
	Bucket   string `mapstructure:"bucket"`
}

// URL returns the server address.
func (c InfluxConfig) URL() string {
	return fmt.Sprintf("%s://%s:%s", c.Protocol, c.Host, c.Port)
}

// GraylogConfig configures GELF log shipping.
type GraylogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address" validate:"required_if=Enabled true"`
}

// OTelConfig configures the OpenTelemetry log pipeline.
type OTelConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ServiceName  string        `mapstructure:"serviceName"`
	BatchTimeout time.Duration `mapstructure:"batchTimeout"`
	LogToStdout  bool          `mapstructure:"logToStdout"`
	Endpoint     string        `mapstructure:"endpoint"`
	Insecure     bool          `mapstructure:"insecure"`
}

func setDefaults() {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./logs")

	viper.SetDefault("server.addr", ":8000")
	viper.SetDefault("server.staticDir", "./public")
	viper.SetDefault("server.writeTimeout", 10*time.Second)
	viper.SetDefault("server.requestTimeout", 15*time.Second)
	viper.SetDefault("server.maxSessions", 0)

	viper.SetDefault("tracking.maxRetries", 5)
	viper.SetDefault("tracking.maxDelay", 30*time.Second)
	viper.SetDefault("tracking.smoothing", 0.4)
	viper.SetDefault("tracking.fallbackLatitude", 43.225018)
	viper.SetDefault("tracking.fallbackLongitude", 0.052059)
	viper.SetDefault("tracking.fallbackAccuracy", 100.0)
	viper.SetDefault("tracking.notifyInterval", 5*time.Second)
	viper.SetDefault("tracking.flyZoom", 17.0)
	viper.SetDefault("tracking.queueLimit", 256)
	viper.SetDefault("tracking.retryBase.unavailable", 1500*time.Millisecond)
	viper.SetDefault("tracking.retryBase.timeout", time.Second)
	viper.SetDefault("tracking.retryBase.unknown", time.Second)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./data")
	viper.SetDefault("storage.memory.compressOutput", false)
	viper.SetDefault("storage.sqlite.path", "./data/campusmap.db")
	viper.SetDefault("storage.postgres.host", "localhost")
	viper.SetDefault("storage.postgres.port", "5432")
	viper.SetDefault("storage.postgres.username", "postgres")
	viper.SetDefault("storage.postgres.password", "postgres")
	viper.SetDefault("storage.postgres.database", "campusmap")

	viper.SetDefault("routing.baseUrl", "https://routing.openstreetmap.de/routed-foot/route/v1")
	viper.SetDefault("routing.profile", "foot")
	viper.SetDefault("routing.timeout", 30*time.Second)
	viper.SetDefault("routing.shareUrl", "")

	viper.SetDefault("campus.catalogFile", "")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "campusmap")
	viper.SetDefault("influx.bucket", "positions")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "campusmap")
	viper.SetDefault("otel.batchTimeout", 5*time.Second)
	viper.SetDefault("otel.logToStdout", false)
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", false)
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. A missing file is
// not an error: defaults and environment overrides apply.
func Load(configDir string) error {
	setDefaults()

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// settings mirrors the whole configuration tree. Unmarshalling the root, not
// a sub-key, keeps environment overrides of nested keys in effect.
type settings struct {
	Server   ServerConfig   `mapstructure:"server"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Routing  RoutingConfig  `mapstructure:"routing"`
	Campus   CampusConfig   `mapstructure:"campus"`
	Influx   InfluxConfig   `mapstructure:"influx"`
	Graylog  GraylogConfig  `mapstructure:"graylog"`
	OTel     OTelConfig     `mapstructure:"otel"`
}

func get[T any](key string, pick func(settings) T) (T, error) {
	var s settings
	if err := viper.Unmarshal(&s); err != nil {
		var zero T
		return zero, fmt.Errorf("decoding %s config: %w", key, err)
	}
	cfg := pick(s)
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid %s config: %w", key, err)
	}
	return cfg, nil
}

// GetServerConfig returns the validated server settings.
func GetServerConfig() (ServerConfig, error) {
	return get("server", func(s settings) ServerConfig { return s.Server })
}

// GetTrackingConfig returns the validated tracking settings.
func GetTrackingConfig() (TrackingConfig, error) {
	return get("tracking", func(s settings) TrackingConfig { return s.Tracking })
}

// GetStorageConfig returns the validated storage settings.
func GetStorageConfig() (StorageConfig, error) {
	return get("storage", func(s settings) StorageConfig { return s.Storage })
}

// GetRoutingConfig returns the validated routing settings.
func GetRoutingConfig() (RoutingConfig, error) {
	return get("routing", func(s settings) RoutingConfig { return s.Routing })
}

// GetCampusConfig returns the campus catalog settings.
func GetCampusConfig() (CampusConfig, error) {
	return get("campus", func(s settings) CampusConfig { return s.Campus })
}

// GetInfluxConfig returns the validated telemetry settings.
func GetInfluxConfig() (InfluxConfig, error) {
	return get("influx", func(s settings) InfluxConfig { return s.Influx })
}

// GetGraylogConfig returns the validated GELF settings.
func GetGraylogConfig() (GraylogConfig, error) {
	return get("graylog", func(s settings) GraylogConfig { return s.Graylog })
}

// GetOTelConfig returns the OpenTelemetry settings.
func GetOTelConfig() (OTelConfig, error) {
	return get("otel", func(s settings) OTelConfig { return s.OTel })
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}
