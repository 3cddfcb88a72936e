package alarm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidRule = errors.New("invalid recurrence rule")

// TimeOfDay is a naive wall-clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("%w: invalid time %q, expected HH:MM", ErrInvalidRule, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("%w: invalid hour in %q", ErrInvalidRule, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: invalid minute in %q", ErrInvalidRule, s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On places the time of day on the given calendar date, in loc.
// Seconds are always zero (minute precision).
func (t TimeOfDay) On(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, t.Hour, t.Minute, 0, 0, loc)
}

// WeekdaySet is a set of calendar weekdays, stored as a bitmask
// (bit 0 = Sunday, matching time.Weekday).
type WeekdaySet uint8

func (s WeekdaySet) Has(d time.Weekday) bool  { return s&(1<<uint(d)) != 0 }
func (s *WeekdaySet) Add(d time.Weekday)      { *s |= 1 << uint(d) }
func (s WeekdaySet) Intersect(o WeekdaySet) WeekdaySet { return s & o }
func (s WeekdaySet) Empty() bool              { return s == 0 }

// Days returns the members in Monday-first calendar order, matching the
// order recurrence tokens are rendered in.
func (s WeekdaySet) Days() []time.Weekday {
	order := []time.Weekday{
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
		time.Friday, time.Saturday, time.Sunday,
	}
	var out []time.Weekday
	for _, d := range order {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

var weekdayTokens = map[string]time.Weekday{
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
	"sun": time.Sunday,
}

func weekdayToken(d time.Weekday) string {
	switch d {
	case time.Monday:
		return "mon"
	case time.Tuesday:
		return "tue"
	case time.Wednesday:
		return "wed"
	case time.Thursday:
		return "thu"
	case time.Friday:
		return "fri"
	case time.Saturday:
		return "sat"
	default:
		return "sun"
	}
}

// Kind discriminates the closed set of recurrence variants.
type Kind int

const (
	KindDaily Kind = iota
	KindOneTime
	KindWeekly
	KindMonthly
	KindAnnual
)

func (k Kind) String() string {
	switch k {
	case KindDaily:
		return "daily"
	case KindOneTime:
		return "once"
	case KindWeekly:
		return "weekly"
	case KindMonthly:
		return "monthly"
	case KindAnnual:
		return "annual"
	default:
		return "unknown"
	}
}

// Rule is the typed form of a persisted recurrence token (or explicit date).
// Exactly one variant applies, selected by Kind; the other fields are zero.
type Rule struct {
	Kind Kind

	// OneTime: the calendar date (midnight, local).
	Date time.Time

	// Weekly: non-empty weekday set.
	Days WeekdaySet

	// Monthly: day of month 1-31.
	DayOfMonth int

	// Annual: month 1-12 and day 1-31.
	Month time.Month
	Day   int
}

// MonthlyOverflowPolicy decides what Monthly(day) does in months shorter
// than day: skip the month entirely, or clamp to its last day.
type MonthlyOverflowPolicy int

const (
	MonthlySkip MonthlyOverflowPolicy = iota
	MonthlyClamp
)

// ParseMonthlyOverflowPolicy maps a config string onto a policy.
func ParseMonthlyOverflowPolicy(s string) (MonthlyOverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "skip":
		return MonthlySkip, nil
	case "clamp":
		return MonthlyClamp, nil
	}
	return MonthlySkip, fmt.Errorf("%w: unknown monthly overflow policy %q", ErrInvalidRule, s)
}

// ParseRule turns a persisted recurrence token and/or explicit date into a
// typed rule.
//
// Recognized token shapes, in priority order:
//   - hyphen-joined weekday abbreviations ("mon", "mon-wed-fri") -> weekly
//   - exactly 5 chars with '-' at position 2 ("12-25")           -> annual
//   - all digits ("15")                                          -> monthly
//
// An explicit date always wins. A recurrence token alongside a date is a
// malformed record, but legacy rows (written before the date column existed)
// can look like that, so it is reported as a warning rather than rejected.
// Both absent means a bare daily alarm.
func ParseRule(token, date string) (Rule, string, error) {
	token = strings.TrimSpace(token)
	date = strings.TrimSpace(date)

	if date != "" {
		d, err := time.ParseInLocation("2006-01-02", date, time.Local)
		if err != nil {
			return Rule{}, "", fmt.Errorf("%w: invalid date %q, expected YYYY-MM-DD", ErrInvalidRule, date)
		}
		warn := ""
		if token != "" {
			warn = fmt.Sprintf("recurrence token %q ignored: explicit date takes precedence", token)
		}
		return Rule{Kind: KindOneTime, Date: d}, warn, nil
	}

	if token == "" {
		return Rule{Kind: KindDaily}, "", nil
	}

	// Weekly: every hyphen-separated part must be a valid weekday token.
	if set, ok := parseWeekdaySet(token); ok {
		return Rule{Kind: KindWeekly, Days: set}, "", nil
	}

	// Annual: "MM-DD".
	if len(token) == 5 && token[2] == '-' {
		mon, err1 := strconv.Atoi(token[:2])
		day, err2 := strconv.Atoi(token[3:])
		if err1 != nil || err2 != nil || mon < 1 || mon > 12 || day < 1 || day > 31 {
			return Rule{}, "", fmt.Errorf("%w: invalid annual token %q, expected MM-DD", ErrInvalidRule, token)
		}
		return Rule{Kind: KindAnnual, Month: time.Month(mon), Day: day}, "", nil
	}

	// Monthly: day-of-month digits.
	if isAllDigits(token) {
		day, err := strconv.Atoi(token)
		if err != nil || day < 1 || day > 31 {
			return Rule{}, "", fmt.Errorf("%w: invalid day of month %q", ErrInvalidRule, token)
		}
		return Rule{Kind: KindMonthly, DayOfMonth: day}, "", nil
	}

	return Rule{}, "", fmt.Errorf("%w: unrecognized recurrence token %q", ErrInvalidRule, token)
}

func parseWeekdaySet(token string) (WeekdaySet, bool) {
	var set WeekdaySet
	for _, part := range strings.Split(strings.ToLower(token), "-") {
		d, ok := weekdayTokens[part]
		if !ok {
			return 0, false
		}
		set.Add(d)
	}
	return set, !set.Empty()
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Token renders the canonical persisted form of the rule. Daily and one-time
// rules persist an empty token (one-time rules persist the date separately).
func (r Rule) Token() string {
	switch r.Kind {
	case KindWeekly:
		var parts []string
		for _, d := range r.Days.Days() {
			parts = append(parts, weekdayToken(d))
		}
		return strings.Join(parts, "-")
	case KindMonthly:
		return strconv.Itoa(r.DayOfMonth)
	case KindAnnual:
		return fmt.Sprintf("%02d-%02d", int(r.Month), r.Day)
	default:
		return ""
	}
}

// DateString renders the one-time date, empty for other kinds.
func (r Rule) DateString() string {
	if r.Kind != KindOneTime || r.Date.IsZero() {
		return ""
	}
	return r.Date.Format("2006-01-02")
}

// DisplayString renders a human-readable label for listings.
func (r Rule) DisplayString() string {
	switch r.Kind {
	case KindDaily:
		return "every day"
	case KindOneTime:
		return "once on " + r.Date.Format("2006-01-02")
	case KindWeekly:
		var parts []string
		for _, d := range r.Days.Days() {
			parts = append(parts, d.String())
		}
		return strings.Join(parts, "-")
	case KindMonthly:
		return fmt.Sprintf("day %d of every month", r.DayOfMonth)
	case KindAnnual:
		return fmt.Sprintf("every year on %02d-%02d", int(r.Month), r.Day)
	default:
		return "unknown"
	}
}

// Recurring reports whether the rule re-arms after firing.
func (r Rule) Recurring() bool { return r.Kind != KindOneTime }

// Next computes the first instant matching the rule at the given time of day
// that is strictly after the reference time. The zero time means the rule has
// no future occurrence (only possible for one-time rules).
func (r Rule) Next(after time.Time, tod TimeOfDay, policy MonthlyOverflowPolicy) time.Time {
	loc := after.Location()

	switch r.Kind {
	case KindOneTime:
		at := tod.On(r.Date.Year(), r.Date.Month(), r.Date.Day(), loc)
		if at.After(after) {
			return at
		}
		return time.Time{}

	case KindDaily:
		at := tod.On(after.Year(), after.Month(), after.Day(), loc)
		if !at.After(after) {
			at = at.AddDate(0, 0, 1)
		}
		return at

	case KindWeekly:
		// Smallest day offset whose instant lands after the reference time.
		// Offset 7 covers "today is in the set but today's time already passed"
		// when no other member is closer.
		for d := 0; d <= 7; d++ {
			day := after.AddDate(0, 0, d)
			if !r.Days.Has(day.Weekday()) {
				continue
			}
			at := tod.On(day.Year(), day.Month(), day.Day(), loc)
			if at.After(after) {
				return at
			}
		}
		return time.Time{}

	case KindMonthly:
		// Walk forward month by month, starting with the current one. Months
		// shorter than DayOfMonth are skipped or clamped per policy. Day 31
		// recurs at most a few months out, so the bound is generous.
		year, month := after.Year(), after.Month()
		for i := 0; i < 24; i++ {
			day := r.DayOfMonth
			if n := daysIn(year, month); day > n {
				if policy == MonthlySkip {
					year, month = nextMonth(year, month)
					continue
				}
				day = n
			}
			at := tod.On(year, month, day, loc)
			if at.After(after) {
				return at
			}
			year, month = nextMonth(year, month)
		}
		return time.Time{}

	case KindAnnual:
		// Feb 29 only exists in leap years; skip or clamp per policy.
		for y := after.Year(); y <= after.Year()+8; y++ {
			day := r.Day
			if n := daysIn(y, r.Month); day > n {
				if policy == MonthlySkip {
					continue
				}
				day = n
			}
			at := tod.On(y, r.Month, day, loc)
			if at.After(after) {
				return at
			}
		}
		return time.Time{}

	default:
		return time.Time{}
	}
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func nextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}
