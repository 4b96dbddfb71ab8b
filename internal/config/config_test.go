package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0644))
	return dir
}

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := writeConfig(t, `{
		"logLevel": "debug",
		"server": { "addr": ":9000", "staticDir": "/srv/www" },
		"tracking": { "maxRetries": 3, "maxDelay": "10s", "smoothing": 0.5 },
		"storage": { "type": "sqlite", "sqlite": { "path": "/tmp/x.db" } }
	}`)

	require.NoError(t, Load(dir))

	assert.Equal(t, "debug", viper.GetString("logLevel"))

	srv, err := GetServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9000", srv.Addr)
	assert.Equal(t, "/srv/www", srv.StaticDir)
	assert.Equal(t, 10*time.Second, srv.WriteTimeout)

	tr, err := GetTrackingConfig()
	require.NoError(t, err)
	assert.Equal(t, 3, tr.MaxRetries)
	assert.Equal(t, 10*time.Second, tr.MaxDelay)
	assert.Equal(t, 0.5, tr.Smoothing)
	assert.Equal(t, 100.0, tr.FallbackAccuracy)

	st, err := GetStorageConfig()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", st.Type)
	assert.Equal(t, "/tmp/x.db", st.SQLite.Path)
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{}`)))

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./logs", viper.GetString("logsDir"))

	srv, err := GetServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8000", srv.Addr)
	assert.Equal(t, "./public", srv.StaticDir)

	tr, err := GetTrackingConfig()
	require.NoError(t, err)
	assert.Equal(t, TrackingConfig{
		MaxRetries:        5,
		MaxDelay:          30 * time.Second,
		Smoothing:         0.4,
		FallbackLatitude:  43.225018,
		FallbackLongitude: 0.052059,
		FallbackAccuracy:  100,
		NotifyInterval:    5 * time.Second,
		FlyZoom:           17,
		QueueLimit:        256,
		RetryBase: RetryBaseConfig{
			Unavailable: 1500 * time.Millisecond,
			Timeout:     time.Second,
			Unknown:     time.Second,
		},
	}, tr)

	st, err := GetStorageConfig()
	require.NoError(t, err)
	assert.Equal(t, "memory", st.Type)
	assert.Equal(t, "./data", st.Memory.OutputDir)
	assert.Equal(t, "host=localhost port=5432 user=postgres password=postgres dbname=campusmap sslmode=disable", st.Postgres.DSN())

	rt, err := GetRoutingConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://routing.openstreetmap.de/routed-foot/route/v1", rt.BaseURL)
	assert.Equal(t, "foot", rt.Profile)
	assert.Equal(t, 30*time.Second, rt.Timeout)

	in, err := GetInfluxConfig()
	require.NoError(t, err)
	assert.False(t, in.Enabled)
	assert.Equal(t, "http://localhost:8086", in.URL())

	gl, err := GetGraylogConfig()
	require.NoError(t, err)
	assert.False(t, gl.Enabled)
	assert.Equal(t, "localhost:12201", gl.Address)

	ot, err := GetOTelConfig()
	require.NoError(t, err)
	assert.Equal(t, "campusmap", ot.ServiceName)
	assert.Equal(t, 5*time.Second, ot.BatchTimeout)

	cc, err := GetCampusConfig()
	require.NoError(t, err)
	assert.Empty(t, cc.CatalogFile)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(t.TempDir()))
	assert.Equal(t, ":8000", GetString("server.addr"))
	assert.Equal(t, 5, GetInt("tracking.maxRetries"))
	assert.False(t, GetBool("graylog.enabled"))
}

func TestLoad_InvalidJSON(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load(writeConfig(t, `{not json`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Setenv("CAMPUSMAP_SERVER_ADDR", ":7777")
	t.Setenv("CAMPUSMAP_STORAGE_TYPE", "postgres")

	require.NoError(t, Load(writeConfig(t, `{"server": {"addr": ":9000"}}`)))

	srv, err := GetServerConfig()
	require.NoError(t, err)
	assert.Equal(t, ":7777", srv.Addr)

	st, err := GetStorageConfig()
	require.NoError(t, err)
	assert.Equal(t, "postgres", st.Type)
}

func TestLoad_RetryBaseOverride(t *testing.T) {
	t.Cleanup(viper.Reset)

	require.NoError(t, Load(writeConfig(t, `{"tracking": {"retryBase": {"timeout": "2s"}}}`)))

	tr, err := GetTrackingConfig()
	require.NoError(t, err)
	assert.Equal(t, RetryBaseConfig{
		Unavailable: 1500 * time.Millisecond,
		Timeout:     2 * time.Second,
		Unknown:     time.Second,
	}, tr.RetryBase)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		get  func() error
	}{
		{"bad storage type", `{"storage": {"type": "redis"}}`, func() error { _, err := GetStorageConfig(); return err }},
		{"smoothing out of range", `{"tracking": {"smoothing": 1.5}}`, func() error { _, err := GetTrackingConfig(); return err }},
		{"fallback off the globe", `{"tracking": {"fallbackLatitude": 91}}`, func() error { _, err := GetTrackingConfig(); return err }},
		{"zero retry base", `{"tracking": {"retryBase": {"timeout": "0s"}}}`, func() error { _, err := GetTrackingConfig(); return err }},
		{"negative retry base", `{"tracking": {"retryBase": {"unavailable": "-1s"}}}`, func() error { _, err := GetTrackingConfig(); return err }},
		{"routing url", `{"routing": {"baseUrl": "not a url"}}`, func() error { _, err := GetRoutingConfig(); return err }},
		{"graylog without address", `{"graylog": {"enabled": true, "address": ""}}`, func() error { _, err := GetGraylogConfig(); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Cleanup(viper.Reset)
			require.NoError(t, Load(writeConfig(t, tt.body)))
			err := tt.get()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid")
		})
	}
}
