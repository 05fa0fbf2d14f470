package billing

import (
	"time"

	"github.com/ManuelReschke/ForumFox/app/models"
)

// AddMonthsClamped adds calendar months to t. When the day does not exist
// in the target month it is clamped to that month's last day
// (Jan 31 + 1 month = Feb 29 in 2024).
func AddMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	loc := t.Location()

	target := time.Date(y, m+time.Month(months), 1, hh, mm, ss, t.Nanosecond(), loc)
	last := daysIn(target.Year(), target.Month(), loc)
	if d > last {
		d = last
	}
	return time.Date(target.Year(), target.Month(), d, hh, mm, ss, t.Nanosecond(), loc)
}

// AddYearsClamped adds calendar years; Feb 29 becomes Feb 28 in non-leap years.
func AddYearsClamped(t time.Time, years int) time.Time {
	return AddMonthsClamped(t, years*12)
}

// PeriodEnd returns the end of a one-time purchase period for planType.
func PeriodEnd(start time.Time, planType string) time.Time {
	if planType == models.PlanTypeYearly {
		return AddYearsClamped(start, 1)
	}
	return AddMonthsClamped(start, 1)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
