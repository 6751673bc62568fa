package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, 0.6, cfg.Verification.Threshold)
	require.Equal(t, 128, cfg.Verification.DescriptorDim)
	require.Equal(t, 0.65, cfg.Capture.MinConfidence)
	require.Equal(t, 0.4, cfg.Capture.ConfidenceFloor)
	require.Equal(t, "memory", cfg.RateLimit.Backend)
	require.Equal(t, 100.0, cfg.Device.TravelKm)
	require.Equal(t, time.Hour, cfg.Device.TravelWindow)
	require.Equal(t, 24*time.Hour, cfg.Anomaly.Lookback)
	require.Equal(t, 90, cfg.Retention.Days)
	require.Equal(t, "@daily", cfg.Retention.Cron)
}

func TestLoadPoliciesAndKeys(t *testing.T) {
	body := `
server:
  api_keys:
    - key: abc
      org_id: 7f9c2a8e-7a43-4a0c-8a57-0d7b4d0a4e11
    - key: root
      admin: true
rate_limit:
  backend: redis
  policies:
    face:
      window: 10m
      max: 3
      block: 1h
      skip_successful: true
anomaly:
  timezone: Europe/Berlin
`
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)
	require.Len(t, cfg.Server.APIKeys, 2)
	require.True(t, cfg.Server.APIKeys[1].Admin)
	require.Equal(t, "redis", cfg.RateLimit.Backend)
	p := cfg.RateLimit.Policies["face"]
	require.Equal(t, 10*time.Minute, p.Window)
	require.Equal(t, 3, p.Max)
	require.Equal(t, time.Hour, p.Block)
	require.True(t, p.SkipSuccessful)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FG_SERVER_PORT", "7070")
	t.Setenv("FG_DB_HOST", "db.internal")
	t.Setenv("FG_VERIFY_THRESHOLD", "0.5")
	t.Setenv("FG_API_KEY", "env-key")
	t.Setenv("FG_RATE_LIMIT_BACKEND", "redis")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "db.internal", cfg.Database.Host)
	require.Equal(t, 0.5, cfg.Verification.Threshold)
	require.Equal(t, "redis", cfg.RateLimit.Backend)
	require.Len(t, cfg.Server.APIKeys, 1)
	require.True(t, cfg.Server.APIKeys[0].Admin)
	require.Contains(t, cfg.Database.DSN(), "@db.internal:5432/")
}

func TestValidate(t *testing.T) {
	_, err := Load(writeConfig(t, "rate_limit:\n  backend: etcd\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "capture:\n  min_brightness: 200\n  max_brightness: 100\n"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, "anomaly:\n  timezone: Mars/Olympus\n"))
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
