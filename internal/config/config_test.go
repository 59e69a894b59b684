package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "buildify.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "buildify.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Second, cfg.Automation.RuleTimeout)
	assert.Equal(t, 100, cfg.Automation.MaxSteps)
	assert.Equal(t, 4, cfg.Automation.ScheduledConcurrency)
	assert.Equal(t, 200*time.Millisecond, cfg.Actions.Endpoint.InitialBackoff)
	assert.Equal(t, "buildify:notifications", cfg.Notify.Redis.Stream)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestFileAndEnv(t *testing.T) {
	path := writeFile(t, `
database:
  path: /var/lib/buildify/engine.db
log:
  level: debug
  format: json
automation:
  rule_timeout: 5s
  max_steps: 20
actions:
  endpoint:
    max_attempts: 5
notify:
  redis:
    addr: localhost:6379
metrics:
  enabled: true
`)
	t.Setenv("BUILDIFY_AUTOMATION_MAX_STEPS", "7")
	t.Setenv("BUILDIFY_NOTIFY_REDIS_STREAM", "ops:notify")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/buildify/engine.db", cfg.Database.Path)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 5*time.Second, cfg.Automation.RuleTimeout)
	assert.Equal(t, 7, cfg.Automation.MaxSteps, "environment wins over the file")
	assert.Equal(t, 5, cfg.Actions.Endpoint.MaxAttempts)
	assert.Equal(t, "localhost:6379", cfg.Notify.Redis.Addr)
	assert.Equal(t, "ops:notify", cfg.Notify.Redis.Stream)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestExplicitFileMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	path := writeFile(t, `
log:
  level: loud
  format: xml
automation:
  max_steps: 0
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorContains(t, err, `unknown level "loud"`)
	assert.ErrorContains(t, err, "log.format must be text or json")
	assert.ErrorContains(t, err, "automation.max_steps must be positive")
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Actions.Endpoint.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Actions.Endpoint.Timeout)
}
