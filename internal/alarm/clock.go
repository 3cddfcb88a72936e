package alarm

import "time"

// Clock abstracts "now" so scheduling logic can be tested at a fixed instant.
type Clock interface {
	Now() time.Time
}

// RealClock reads the actual system time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// FixedClock always reports the same instant. Test helper.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }
