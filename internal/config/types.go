package config

import (
	"fmt"
	"strings"

	"orangeclock/internal/alarm"
)

type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Audio     AudioConfig     `json:"audio" yaml:"audio"`
	Scheduler SchedulerConfig `json:"scheduler" yaml:"scheduler"`

	// Notifier controls the async event notification pipeline. If the whole
	// section is omitted, the notifier stays disabled.
	Notifier *NotifierConfig `json:"notifier,omitempty" yaml:"notifier,omitempty"`
}

// ServerConfig controls the HTTP management API.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type ServerConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"` // default ":8000"

	// CORSOrigins lists allowed origins for browser clients.
	// Empty means allow all, matching a dashboard served from anywhere.
	CORSOrigins []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty" yaml:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty" yaml:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level" yaml:"level"`
	Console bool        `json:"console" yaml:"console"`
	File    LoggingFile `json:"file" yaml:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// StorageConfig controls the sqlite alarm store.
type StorageConfig struct {
	Path        string `json:"path" yaml:"path"`                                     // default "alarms.db"
	BusyTimeout string `json:"busy_timeout,omitempty" yaml:"busy_timeout,omitempty"` // Go duration string
}

// AudioConfig controls the clip library and playback.
type AudioConfig struct {
	Dir string `json:"dir" yaml:"dir"` // default "audios"

	// PlayerCommand overrides the external player invocation. The clip path
	// is appended as the final argument. Empty uses ffplay.
	PlayerCommand []string `json:"player_command,omitempty" yaml:"player_command,omitempty"`

	// DisablePlayback swaps the player for a no-op. Useful on headless CI
	// boxes that have no audio device.
	DisablePlayback bool `json:"disable_playback,omitempty" yaml:"disable_playback,omitempty"`
}

// SchedulerConfig controls trigger behavior and rule policies.
type SchedulerConfig struct {
	// Enabled is a pointer so "omitted" defaults to true while an explicit
	// false still turns the scheduler off.
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	// ConflictPolicy is "permissive" (default) or "strict".
	ConflictPolicy string `json:"conflict_policy,omitempty" yaml:"conflict_policy,omitempty"`

	// MonthlyOverflow is "skip" (default) or "clamp": what day-31 rules do
	// in short months.
	MonthlyOverflow string `json:"monthly_overflow,omitempty" yaml:"monthly_overflow,omitempty"`

	// ActionTimeout bounds one playback invocation. "0s" disables the bound.
	ActionTimeout string `json:"action_timeout,omitempty" yaml:"action_timeout,omitempty"`

	// UpcomingWindow is the horizon of the upcoming-alarms query.
	// Default "24h".
	UpcomingWindow string `json:"upcoming_window,omitempty" yaml:"upcoming_window,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// All durations are Go duration strings.
type NotifierConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	WebhookURL  string `json:"webhook_url,omitempty" yaml:"webhook_url,omitempty"`
	Workers     int    `json:"workers,omitempty" yaml:"workers,omitempty"`
	QueueSize   int    `json:"queue_size,omitempty" yaml:"queue_size,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty" yaml:"rate_per_sec,omitempty"`
	DedupWindow string `json:"dedup_window,omitempty" yaml:"dedup_window,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty" yaml:"send_timeout,omitempty"`
}

// SchedulerEnabled resolves the enabled pointer; omitted means on.
func (c *Config) SchedulerEnabled() bool {
	if c.Scheduler.Enabled == nil {
		return true
	}
	return *c.Scheduler.Enabled
}

// Validate checks cross-field consistency and the policy enums. It is also
// installed as the watch validator so a bad edit never reaches subscribers.
func (c *Config) Validate() error {
	if _, err := alarm.ParseConflictPolicy(c.Scheduler.ConflictPolicy); err != nil {
		return err
	}
	if _, err := alarm.ParseMonthlyOverflowPolicy(c.Scheduler.MonthlyOverflow); err != nil {
		return err
	}
	for _, f := range []struct{ path, raw string }{
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
		{"server.idle_timeout", c.Server.IdleTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"scheduler.action_timeout", c.Scheduler.ActionTimeout},
		{"scheduler.upcoming_window", c.Scheduler.UpcomingWindow},
	} {
		if _, err := Duration(f.path, f.raw); err != nil {
			return err
		}
	}
	if n := c.Notifier; n != nil && n.Enabled {
		if strings.TrimSpace(n.WebhookURL) == "" {
			return fmt.Errorf("notifier.webhook_url: required when notifier is enabled")
		}
		for _, f := range []struct{ path, raw string }{
			{"notifier.dedup_window", n.DedupWindow},
			{"notifier.send_timeout", n.SendTimeout},
		} {
			if _, err := Duration(f.path, f.raw); err != nil {
				return err
			}
		}
	}
	return nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Addr: ":8000"},
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{Path: "alarms.db"},
		Audio:   AudioConfig{Dir: "audios"},
	}
}
