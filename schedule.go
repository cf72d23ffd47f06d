package vaultpay

import (
	"fmt"
	"time"

	"github.com/blnkfinance/vaultpay/internal/apierror"
	"github.com/blnkfinance/vaultpay/model"
)

func validateSchedule(schedule model.Schedule) error {
	switch schedule {
	case model.ScheduleWeekly, model.ScheduleBiweekly, model.ScheduleMonthly:
		return nil
	default:
		return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("unsupported schedule %q", schedule), nil)
	}
}

// NextDue advances a due date by one period. Monthly schedules land on anchorDay,
// clamped to the last day of shorter months, so Jan 31 is followed by Feb 28 (or 29)
// and then Mar 31.
func NextDue(prev time.Time, schedule model.Schedule, anchorDay int) (time.Time, error) {
	switch schedule {
	case model.ScheduleWeekly:
		return prev.AddDate(0, 0, 7), nil
	case model.ScheduleBiweekly:
		return prev.AddDate(0, 0, 14), nil
	case model.ScheduleMonthly:
		if anchorDay <= 0 {
			anchorDay = prev.Day()
		}
		// first of the following month, then the anchor clamped into it
		first := time.Date(prev.Year(), prev.Month()+1, 1, prev.Hour(), prev.Minute(), prev.Second(), prev.Nanosecond(), prev.Location())
		day := anchorDay
		if last := daysIn(first.Year(), first.Month()); day > last {
			day = last
		}
		return first.AddDate(0, 0, day-1), nil
	default:
		return time.Time{}, validateSchedule(schedule)
	}
}

// FirstDue returns the first due date of a new template and its anchor day. Without
// a start date the template first runs one period after the start of today.
func FirstDue(now time.Time, startDate *time.Time, schedule model.Schedule) (time.Time, int, error) {
	if err := validateSchedule(schedule); err != nil {
		return time.Time{}, 0, err
	}
	if startDate != nil {
		start := startDate.UTC()
		return start, start.Day(), nil
	}
	today := startOfDay(now.UTC())
	next, err := NextDue(today, schedule, today.Day())
	return next, today.Day(), err
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
