package scheduler

import (
	"time"

	"orangeclock/internal/alarm"
)

// ruleSchedule adapts a recurrence rule to cron.Schedule, so the cron
// runner's dispatch loop drives re-arming: after each fire it asks for the
// next instant strictly after "now".
type ruleSchedule struct {
	rule   alarm.Rule
	tod    alarm.TimeOfDay
	policy alarm.MonthlyOverflowPolicy
}

func (s ruleSchedule) Next(t time.Time) time.Time {
	return s.rule.Next(t, s.tod, s.policy)
}
