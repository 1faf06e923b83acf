package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Session   SessionConfig   `yaml:"session"`
	Events    EventsConfig    `yaml:"events"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type SchedulerConfig struct {
	// DefaultRoleCeiling caps in-flight tasks per role unless overridden.
	DefaultRoleCeiling int `yaml:"default_role_ceiling"`
	// RoleCeilings overrides the default for specific roles.
	RoleCeilings map[Role]int `yaml:"role_ceilings,omitempty"`
}

type SessionConfig struct {
	// MaxConcurrentDispatch bounds how many tasks one round dispatches at
	// once. Effective parallelism is the smaller of this and the role
	// ceiling.
	MaxConcurrentDispatch int `yaml:"max_concurrent_dispatch"`
	// MaxRounds is the iteration ceiling guarding against sessions that
	// never drain. Hitting it ends the session with a partial result.
	MaxRounds int `yaml:"max_rounds"`
}

type EventsConfig struct {
	// HistoryCapacity bounds the event replay buffer. 0 disables retention.
	HistoryCapacity int `yaml:"history_capacity"`
	// AuditLog is a JSONL file path for the audit sink. Empty disables it.
	AuditLog string `yaml:"audit_log,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

const (
	DefaultRoleCeiling           = 3
	DefaultMaxConcurrentDispatch = 5
	DefaultMaxRounds             = 20
	DefaultHistoryCapacity       = 1000
)

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Scheduler: SchedulerConfig{
			DefaultRoleCeiling: DefaultRoleCeiling,
		},
		Session: SessionConfig{
			MaxConcurrentDispatch: DefaultMaxConcurrentDispatch,
			MaxRounds:             DefaultMaxRounds,
		},
		Events: EventsConfig{
			HistoryCapacity: DefaultHistoryCapacity,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Normalize clamps out-of-range values back to defaults. Ceilings and
// bounds must be >= 1; history capacity may be 0 (retention disabled) but
// not negative.
func (c *Config) Normalize() {
	if c.Scheduler.DefaultRoleCeiling < 1 {
		c.Scheduler.DefaultRoleCeiling = DefaultRoleCeiling
	}
	for role, ceiling := range c.Scheduler.RoleCeilings {
		if ceiling < 1 {
			delete(c.Scheduler.RoleCeilings, role)
		}
	}
	if c.Session.MaxConcurrentDispatch < 1 {
		c.Session.MaxConcurrentDispatch = DefaultMaxConcurrentDispatch
	}
	if c.Session.MaxRounds < 1 {
		c.Session.MaxRounds = DefaultMaxRounds
	}
	if c.Events.HistoryCapacity < 0 {
		c.Events.HistoryCapacity = DefaultHistoryCapacity
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// RoleCeiling returns the effective in-flight ceiling for a role.
func (c *SchedulerConfig) RoleCeiling(role Role) int {
	if ceiling, ok := c.RoleCeilings[role]; ok {
		return ceiling
	}
	return c.DefaultRoleCeiling
}

// LoadConfig reads a YAML config file and normalizes it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.Normalize()
	return cfg, nil
}
