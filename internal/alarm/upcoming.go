package alarm

import (
	"sort"
	"time"
)

// DefaultHorizon is the forward window used for "upcoming" listings.
const DefaultHorizon = 24 * time.Hour

// Occurrence is one concrete fire instant of an alarm.
type Occurrence struct {
	Alarm Alarm
	At    time.Time
}

// Upcoming computes the next occurrence of every alarm and keeps those inside
// [now, now+horizon], ordered by occurrence time (original alarm order breaks
// ties). It is a pure function of its inputs; it does not touch or depend on
// the scheduler's armed triggers.
func Upcoming(alarms []Alarm, now time.Time, horizon time.Duration, policy MonthlyOverflowPolicy) []Occurrence {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	limit := now.Add(horizon)

	var out []Occurrence
	for _, a := range alarms {
		at := a.NextFire(now, policy)
		if at.IsZero() || at.After(limit) {
			continue
		}
		out = append(out, Occurrence{Alarm: a, At: at})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].At.Before(out[j].At)
	})
	return out
}
