// Package bot wires the GateClaw engines together: the WhatsApp gateway,
// the message pipeline, rate limiting, leveling, moderation, and the
// periodic maintenance jobs.
package bot

import (
	"github.com/jholhewres/gateclaw/pkg/gateclaw/channels/whatsapp"
	"github.com/jholhewres/gateclaw/pkg/gateclaw/leveling"
	"github.com/jholhewres/gateclaw/pkg/gateclaw/moderation"
	"github.com/jholhewres/gateclaw/pkg/gateclaw/pipeline"
	"github.com/jholhewres/gateclaw/pkg/gateclaw/ratelimit"
	"github.com/jholhewres/gateclaw/pkg/gateclaw/responder"
)

// Config holds all bot configuration.
type Config struct {
	// Name is the bot name shown in logs and responses.
	Name string `yaml:"name"`

	// DataDir is where persisted documents live (blacklist, levels,
	// promotion windows, session metadata, audit log).
	DataDir string `yaml:"data_dir"`

	// Pipeline configures message routing (owner, trigger, dedup).
	Pipeline pipeline.Config `yaml:"pipeline"`

	// WhatsApp configures the gateway session lifecycle.
	WhatsApp whatsapp.Config `yaml:"whatsapp"`

	// RateLimit configures per-user quotas and the blacklist.
	RateLimit ratelimit.Config `yaml:"rate_limit"`

	// Leveling configures XP accrual and promotion windows.
	Leveling leveling.Config `yaml:"leveling"`

	// Moderation configures per-group policies and spam detection.
	Moderation moderation.Config `yaml:"moderation"`

	// Responder configures the LLM backend for replies.
	Responder responder.Config `yaml:"responder"`

	// Maintenance configures the periodic housekeeping jobs.
	Maintenance MaintenanceConfig `yaml:"maintenance"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// MaintenanceConfig holds the cron schedules for housekeeping.
type MaintenanceConfig struct {
	// SweepSchedule evicts expired rate windows and dedup entries.
	SweepSchedule string `yaml:"sweep_schedule"`

	// StalenessSchedule re-checks credential age while running.
	StalenessSchedule string `yaml:"staleness_schedule"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the log format ("json", "text").
	Format string `yaml:"format"`
}

// DefaultConfig returns the default bot configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:       "GateClaw",
		DataDir:    "./data",
		Pipeline:   pipeline.DefaultConfig(),
		WhatsApp:   whatsapp.DefaultConfig(),
		RateLimit:  ratelimit.DefaultConfig(),
		Leveling:   leveling.DefaultConfig(),
		Moderation: moderation.DefaultConfig(),
		Responder:  responder.DefaultConfig(),
		Maintenance: MaintenanceConfig{
			SweepSchedule:     "*/10 * * * *",
			StalenessSchedule: "0 * * * *",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
