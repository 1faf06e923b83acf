package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultRoleCeiling, cfg.Scheduler.DefaultRoleCeiling)
	assert.Equal(t, DefaultMaxConcurrentDispatch, cfg.Session.MaxConcurrentDispatch)
	assert.Equal(t, DefaultMaxRounds, cfg.Session.MaxRounds)
	assert.Equal(t, DefaultHistoryCapacity, cfg.Events.HistoryCapacity)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestConfigNormalize(t *testing.T) {
	cfg := Config{
		Scheduler: SchedulerConfig{
			DefaultRoleCeiling: 0,
			RoleCeilings:       map[Role]int{RoleBackend: 2, RoleQA: -1},
		},
		Session: SessionConfig{MaxConcurrentDispatch: -3, MaxRounds: 0},
		Events:  EventsConfig{HistoryCapacity: -1},
	}
	cfg.Normalize()

	assert.Equal(t, DefaultRoleCeiling, cfg.Scheduler.DefaultRoleCeiling)
	assert.Equal(t, 2, cfg.Scheduler.RoleCeilings[RoleBackend])
	// Invalid per-role override removed, falls back to default
	_, ok := cfg.Scheduler.RoleCeilings[RoleQA]
	assert.False(t, ok)
	assert.Equal(t, DefaultMaxConcurrentDispatch, cfg.Session.MaxConcurrentDispatch)
	assert.Equal(t, DefaultMaxRounds, cfg.Session.MaxRounds)
	assert.Equal(t, DefaultHistoryCapacity, cfg.Events.HistoryCapacity)
}

func TestConfigNormalizeKeepsZeroHistory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Events.HistoryCapacity = 0
	cfg.Normalize()
	// 0 means retention disabled, not "use default"
	assert.Equal(t, 0, cfg.Events.HistoryCapacity)
}

func TestRoleCeiling(t *testing.T) {
	sc := SchedulerConfig{
		DefaultRoleCeiling: 3,
		RoleCeilings:       map[Role]int{RoleBackend: 1},
	}
	assert.Equal(t, 1, sc.RoleCeiling(RoleBackend))
	assert.Equal(t, 3, sc.RoleCeiling(RoleQA))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentflow.yaml")
	content := `
scheduler:
  default_role_ceiling: 4
  role_ceilings:
    backend: 2
session:
  max_concurrent_dispatch: 8
events:
  history_capacity: 50
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Scheduler.DefaultRoleCeiling)
	assert.Equal(t, 2, cfg.Scheduler.RoleCeiling(RoleBackend))
	assert.Equal(t, 8, cfg.Session.MaxConcurrentDispatch)
	// Unset fields keep defaults
	assert.Equal(t, DefaultMaxRounds, cfg.Session.MaxRounds)
	assert.Equal(t, 50, cfg.Events.HistoryCapacity)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadConfigMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler: [not, a, map]"), 0644))
	_, err := LoadConfig(path)
	require.Error(t, err)
}
