package alarm

import "time"

// Alarm is a stored alarm record in its typed form.
type Alarm struct {
	ID       int64
	Time     TimeOfDay
	AudioRef string
	Rule     Rule
}

// NextFire computes the alarm's next fire instant after the reference time.
// The zero time means no future occurrence.
func (a Alarm) NextFire(after time.Time, policy MonthlyOverflowPolicy) time.Time {
	return a.Rule.Next(after, a.Time, policy)
}
