package config

import (
	"reflect"
	"sort"
	"strings"

	"orangeclock/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging (never includes anything secret-shaped, like
// webhook URLs with embedded tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Server, newCfg.Server) {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", strings.TrimSpace(newCfg.Server.Addr)),
			logx.Int("server.cors_origins", len(newCfg.Server.CORSOrigins)),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.path", strings.TrimSpace(newCfg.Storage.Path)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Audio, newCfg.Audio) {
		changed = append(changed, "audio")
		attrs = append(attrs,
			logx.String("audio.dir", strings.TrimSpace(newCfg.Audio.Dir)),
			logx.Bool("audio.playback_disabled", newCfg.Audio.DisablePlayback),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.SchedulerEnabled()),
			logx.String("scheduler.conflict_policy", newCfg.Scheduler.ConflictPolicy),
			logx.String("scheduler.monthly_overflow", newCfg.Scheduler.MonthlyOverflow),
			logx.String("scheduler.upcoming_window", newCfg.Scheduler.UpcomingWindow),
		)
	}

	oN := derefNotifier(oldCfg.Notifier)
	nN := derefNotifier(newCfg.Notifier)
	if (oldCfg.Notifier != nil) != (newCfg.Notifier != nil) || !reflect.DeepEqual(oN, nN) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.present", newCfg.Notifier != nil),
			logx.Bool("notifier.enabled", nN.Enabled),
			logx.Bool("notifier.webhook_set", strings.TrimSpace(nN.WebhookURL) != ""),
			logx.Int("notifier.workers", nN.Workers),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefNotifier(n *NotifierConfig) NotifierConfig {
	if n == nil {
		return NotifierConfig{}
	}
	return *n
}
