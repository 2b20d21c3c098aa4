package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dashboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:5000", cfg.Dashboard.ServiceURL)
	assert.Equal(t, 30*time.Second, cfg.Dashboard.RequestTimeout)
	assert.Equal(t, 5*time.Second, cfg.Dashboard.PollInterval)
	assert.Equal(t, 5, cfg.Dashboard.RecentLimit)
	assert.Equal(t, 0.5, cfg.Dashboard.DefaultThreshold)
	assert.Equal(t, 5*time.Second, cfg.Notifications.Dwell)
	assert.Equal(t, 16*MiB, cfg.Limits.ImageMaxBytes)
	assert.Equal(t, 100*MiB, cfg.Limits.VideoMaxBytes)
	assert.Contains(t, cfg.Limits.ImageTypes, "image/png")
	assert.Contains(t, cfg.Limits.VideoTypes, "video/mkv")
	assert.True(t, cfg.Web.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileValues(t *testing.T) {
	path := writeConfig(t, `
dashboard:
  service_url: http://detector:5000
  poll_interval: 2s
  recent_limit: 3
notifications:
  dwell: 1s
web:
  enabled: false
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://detector:5000", cfg.Dashboard.ServiceURL)
	assert.Equal(t, 2*time.Second, cfg.Dashboard.PollInterval)
	assert.Equal(t, 3, cfg.Dashboard.RecentLimit)
	assert.Equal(t, time.Second, cfg.Notifications.Dwell)
	assert.False(t, cfg.Web.Enabled)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DASHBOARD_SERVICE_URL", "http://override:9000")
	t.Setenv("DASHBOARD_WEB_PORT", "9999")

	cfg, err := Load(writeConfig(t, "dashboard:\n  service_url: http://file:5000\n"))
	require.NoError(t, err)

	assert.Equal(t, "http://override:9000", cfg.Dashboard.ServiceURL)
	assert.Equal(t, 9999, cfg.Web.Port)
}

func TestLoad_BadEnvPort(t *testing.T) {
	t.Setenv("DASHBOARD_WEB_PORT", "eighty")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "dashboard: [unterminated"))
	assert.Error(t, err)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Dashboard.ServiceURL = "not a url"
	cfg.Dashboard.DefaultThreshold = 1.5
	cfg.Dashboard.PollInterval = -time.Second
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dashboard.service_url")
	assert.Contains(t, err.Error(), "default_threshold")
	assert.Contains(t, err.Error(), "poll_interval")
	assert.Contains(t, err.Error(), "log.format")
}
