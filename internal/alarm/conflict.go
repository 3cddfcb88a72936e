package alarm

import (
	"errors"
	"fmt"
	"strings"
)

var ErrConflict = errors.New("alarm conflict")

// ConflictPolicy selects how strictly alarms sharing a time of day are
// rejected.
//
//   - ConflictPermissive: reject only combinations that would audibly fire
//     together on a predictable basis (two bare dailies, the same explicit
//     date, intersecting weekly sets).
//   - ConflictStrict: reject any second alarm at the same time of day.
type ConflictPolicy int

const (
	ConflictPermissive ConflictPolicy = iota
	ConflictStrict
)

// ParseConflictPolicy maps a config string onto a policy.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "permissive":
		return ConflictPermissive, nil
	case "strict":
		return ConflictStrict, nil
	default:
		return ConflictPermissive, fmt.Errorf("unknown conflict policy %q (use permissive or strict)", s)
	}
}

// ConflictError reports which existing alarm a candidate collides with.
type ConflictError struct {
	ID     int64      // existing alarm id
	Time   TimeOfDay  // shared time of day
	Days   WeekdaySet // intersecting weekdays, weekly/weekly case only
	Reason string
}

func (e *ConflictError) Error() string {
	if !e.Days.Empty() {
		var parts []string
		for _, d := range e.Days.Days() {
			parts = append(parts, weekdayToken(d))
		}
		return fmt.Sprintf("conflicts with alarm %d at %s on %s", e.ID, e.Time, strings.Join(parts, "-"))
	}
	return fmt.Sprintf("conflicts with alarm %d at %s: %s", e.ID, e.Time, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// CheckConflict decides whether the candidate may coexist with every existing
// alarm. Sharing a time of day is a precondition for any conflict; beyond
// that the policy decides. The candidate's own id (when editing) is skipped.
func CheckConflict(candidate Alarm, existing []Alarm, policy ConflictPolicy) error {
	for _, other := range existing {
		if other.ID == candidate.ID && candidate.ID != 0 {
			continue
		}
		if other.Time != candidate.Time {
			continue
		}

		if policy == ConflictStrict {
			return &ConflictError{ID: other.ID, Time: other.Time, Reason: "time slot already taken"}
		}

		switch {
		case candidate.Rule.Kind == KindDaily && other.Rule.Kind == KindDaily:
			return &ConflictError{ID: other.ID, Time: other.Time, Reason: "both fire every day"}

		case candidate.Rule.Kind == KindOneTime && other.Rule.Kind == KindOneTime:
			if sameDate(candidate.Rule, other.Rule) {
				return &ConflictError{ID: other.ID, Time: other.Time, Reason: "same date"}
			}

		case candidate.Rule.Kind == KindWeekly && other.Rule.Kind == KindWeekly:
			if overlap := candidate.Rule.Days.Intersect(other.Rule.Days); !overlap.Empty() {
				return &ConflictError{ID: other.ID, Time: other.Time, Days: overlap}
			}
		}
	}
	return nil
}

func sameDate(a, b Rule) bool {
	return a.Date.Year() == b.Date.Year() &&
		a.Date.Month() == b.Date.Month() &&
		a.Date.Day() == b.Date.Day()
}
