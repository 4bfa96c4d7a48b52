package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scheduler.yaml")
	data := `server:
  port: 9090
  read_timeout: 5s
  cors_origins: ["https://plan.example.com"]
database:
  path: /var/lib/scheduler.db
redis:
  addr: localhost:6379
  utilization_ttl: 30s
scheduler:
  enabled: true
  interval: 10m
  allow_priority_rescheduling: true
search:
  max_alternatives: 5
logging:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := load(path, "")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, []string{"https://plan.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "/var/lib/scheduler.db", cfg.Database.Path)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 30*time.Second, cfg.Redis.UtilizationTTL)
	assert.Equal(t, 5*time.Minute, cfg.Redis.LockTTL)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.Interval)
	assert.True(t, cfg.Scheduler.AllowPriorityRescheduling)
	assert.Equal(t, 5, cfg.Search.MaxAlternatives)
	assert.Equal(t, 30, cfg.Search.SearchWindowDays)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := load("", "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr())
	assert.Equal(t, "scheduler.db", cfg.Database.Path)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 3, cfg.Search.MaxAlternatives)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SCHED_SERVER__PORT", "9000")
	t.Setenv("SCHED_DATABASE__PATH", ":memory:")
	t.Setenv("SCHED_SCHEDULER__INTERVAL", "2m")

	cfg, err := load("", "")
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.Interval)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("SCHED_REDIS__ADDR=cache:6379\n"), 0o644))
	t.Setenv("SCHED_REDIS__ADDR", "")
	require.NoError(t, os.Unsetenv("SCHED_REDIS__ADDR"))

	cfg, err := load("", dotenv)
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := load(filepath.Join(dir, "scheduler.toml"), "")
	assert.ErrorContains(t, err, "unsupported config format")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"logging": {"level": "loud"}}`), 0o644))
	_, err = load(bad, "")
	assert.ErrorContains(t, err, "logging: unknown level loud")

	port := filepath.Join(dir, "port.json")
	require.NoError(t, os.WriteFile(port, []byte(`{"server": {"port": 70000}}`), 0o644))
	_, err = load(port, "")
	assert.ErrorContains(t, err, "server: port 70000 out of range")
}

func TestSchedulerConfig_Validate(t *testing.T) {
	assert.NoError(t, SchedulerConfig{Enabled: false, Interval: time.Millisecond}.Validate())
	assert.Error(t, SchedulerConfig{Enabled: true, Interval: time.Millisecond}.Validate())
}
