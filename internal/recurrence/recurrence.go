// Package recurrence decides on which calendar dates a recurring rule is due.
// Everything here is pure: the result depends only on the rule and the date.
package recurrence

import (
	"time"

	"cloud.google.com/go/civil"

	"RecurLedger/internal/model"
)

// DefaultHorizonDays bounds the forward scan of NextOccurrence.
const DefaultHorizonDays = 730

// IsDue reports whether rule has an occurrence on date.
func IsDue(rule *model.RecurringRule, date civil.Date) bool {
	if rule == nil || !rule.IsActive {
		return false
	}
	return matches(rule, date)
}

// matches is IsDue without the activity check. The display scan uses it so
// paused rules still show where they would fire.
func matches(rule *model.RecurringRule, date civil.Date) bool {
	if !InRange(rule, date) {
		return false
	}
	switch rule.RecurrenceType {
	case model.RecurDaily:
		return true
	case model.RecurWeekly:
		return containsInt(rule.WeeklyDays, int(Weekday(date)))
	case model.RecurWeekdays:
		wd := Weekday(date)
		return wd >= time.Monday && wd <= time.Friday
	case model.RecurMonthly:
		// A day missing from this month (31 in April) simply has no occurrence.
		return containsInt(rule.MonthlyDays, date.Day)
	}
	return false
}

// InRange reports whether date falls within [StartDate, EndDate].
func InRange(rule *model.RecurringRule, date civil.Date) bool {
	if date.Before(rule.StartDate) {
		return false
	}
	if rule.EndDate != nil && date.After(*rule.EndDate) {
		return false
	}
	return true
}

// Weekday returns the day of week of d, Sunday=0.
func Weekday(d civil.Date) time.Weekday {
	return d.In(time.UTC).Weekday()
}

// ScanStart is the first date worth scanning for the next occurrence:
// the later of today and the day after the last execution.
func ScanStart(today civil.Date, lastExecuted *civil.Date) civil.Date {
	if lastExecuted != nil {
		if next := lastExecuted.AddDays(1); next.After(today) {
			return next
		}
	}
	return today
}

// NextOccurrence scans forward from `from` for the first date the rule
// matches, looking at most horizonDays days ahead. It ignores IsActive.
// The boolean is false when no occurrence exists within the horizon or
// before EndDate.
func NextOccurrence(rule *model.RecurringRule, from civil.Date, horizonDays int) (civil.Date, bool) {
	if rule == nil {
		return civil.Date{}, false
	}
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	if from.Before(rule.StartDate) {
		from = rule.StartDate
	}
	for i := 0; i < horizonDays; i++ {
		d := from.AddDays(i)
		if rule.EndDate != nil && d.After(*rule.EndDate) {
			break
		}
		if matches(rule, d) {
			return d, true
		}
	}
	return civil.Date{}, false
}

// Occurrences lists every date in [from, to] on which rule is due.
func Occurrences(rule *model.RecurringRule, from, to civil.Date) []civil.Date {
	var out []civil.Date
	for d := from; !d.After(to); d = d.AddDays(1) {
		if IsDue(rule, d) {
			out = append(out, d)
		}
	}
	return out
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
