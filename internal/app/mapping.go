package app

import (
	"time"

	"orangeclock/internal/alarm"
	"orangeclock/internal/config"
	"orangeclock/internal/control"
	"orangeclock/internal/httpapi"
	"orangeclock/internal/notifier"
	"orangeclock/internal/scheduler"
)

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	overflow, err := alarm.ParseMonthlyOverflowPolicy(cfg.Scheduler.MonthlyOverflow)
	if err != nil {
		return scheduler.Config{}, err
	}
	timeout, err := config.Duration("scheduler.action_timeout", cfg.Scheduler.ActionTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:         cfg.SchedulerEnabled(),
		MonthlyOverflow: overflow,
		ActionTimeout:   timeout,
	}, nil
}

func mapControlConfig(cfg *config.Config) (control.Config, error) {
	conflict, err := alarm.ParseConflictPolicy(cfg.Scheduler.ConflictPolicy)
	if err != nil {
		return control.Config{}, err
	}
	overflow, err := alarm.ParseMonthlyOverflowPolicy(cfg.Scheduler.MonthlyOverflow)
	if err != nil {
		return control.Config{}, err
	}
	horizon, err := config.DurationOr("scheduler.upcoming_window",
		cfg.Scheduler.UpcomingWindow, alarm.DefaultHorizon)
	if err != nil {
		return control.Config{}, err
	}
	return control.Config{
		Conflict:        conflict,
		MonthlyOverflow: overflow,
		Horizon:         horizon,
	}, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{}, nil
	}
	dedup, err := config.Duration("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	sendTimeout, err := config.Duration("notifier.send_timeout", n.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:     n.Enabled,
		WebhookURL:  n.WebhookURL,
		Workers:     n.Workers,
		QueueSize:   n.QueueSize,
		RatePerSec:  n.RatePerSec,
		DedupWindow: dedup,
		SendTimeout: sendTimeout,
	}, nil
}

func mapServerConfig(cfg *config.Config) (httpapi.Config, error) {
	read, err := config.Duration("server.read_timeout", cfg.Server.ReadTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	write, err := config.Duration("server.write_timeout", cfg.Server.WriteTimeout)
	if err != nil {
		return httpapi.Config{}, err
	}
	idle, err := config.DurationOr("server.idle_timeout", cfg.Server.IdleTimeout, time.Minute)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Addr:         cfg.Server.Addr,
		CORSOrigins:  cfg.Server.CORSOrigins,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}, nil
}
