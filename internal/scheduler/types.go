package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"orangeclock/internal/alarm"
)

// Action is the injected side effect invoked when a trigger fires
// (audio playback). It may block for the duration of playback; the
// scheduler dispatches it outside the registry lock.
type Action func(ctx context.Context, a alarm.Alarm) error

// Config controls the scheduler service.
type Config struct {
	Enabled bool

	// MonthlyOverflow decides what Monthly(day) does in short months.
	MonthlyOverflow alarm.MonthlyOverflowPolicy

	// ActionTimeout bounds a single action invocation. 0 disables the bound
	// (playback then runs to completion, however long the clip is).
	ActionTimeout time.Duration
}

// trigger is one armed scheduling entry. Recurring rules hold a cron entry;
// one-time rules hold a timer tracked separately with a version guard.
type trigger struct {
	alarm   alarm.Alarm
	entryID cron.EntryID // recurring only
	once    bool

	// inflight makes firing non-reentrant per trigger: an overlapping fire
	// of the same alarm is skipped, not queued.
	inflight atomic.Bool
}

// TriggerInfo is a diagnostic view of one armed trigger.
type TriggerInfo struct {
	ID       int64     `json:"id"`
	AudioRef string    `json:"audio_ref"`
	Rule     string    `json:"rule"`
	Time     string    `json:"time"`
	Next     time.Time `json:"next"`
	OneTime  bool      `json:"one_time"`
}

// Snapshot is a point-in-time view of the scheduler for status endpoints.
type Snapshot struct {
	Running        bool          `json:"running"`
	Armed          []TriggerInfo `json:"armed"`
	Fired          uint64        `json:"fired"`
	Failed         uint64        `json:"failed"`
	SkippedOverlap uint64        `json:"skipped_overlap"`
}
