package vaultpay

import (
	"testing"
	"time"

	"github.com/blnkfinance/vaultpay/internal/apierror"
	"github.com/blnkfinance/vaultpay/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func TestNextDue(t *testing.T) {
	tests := []struct {
		name     string
		prev     time.Time
		schedule model.Schedule
		anchor   int
		want     time.Time
	}{
		{name: "weekly", prev: date(2025, 1, 1), schedule: model.ScheduleWeekly, want: date(2025, 1, 8)},
		{name: "weekly across year", prev: date(2024, 12, 28), schedule: model.ScheduleWeekly, want: date(2025, 1, 4)},
		{name: "biweekly", prev: date(2025, 2, 20), schedule: model.ScheduleBiweekly, want: date(2025, 3, 6)},
		{name: "monthly clamps to february", prev: date(2025, 1, 31), schedule: model.ScheduleMonthly, anchor: 31, want: date(2025, 2, 28)},
		{name: "monthly clamps to leap february", prev: date(2024, 1, 31), schedule: model.ScheduleMonthly, anchor: 31, want: date(2024, 2, 29)},
		{name: "monthly returns to anchor", prev: date(2025, 2, 28), schedule: model.ScheduleMonthly, anchor: 31, want: date(2025, 3, 31)},
		{name: "monthly thirty day month", prev: date(2025, 3, 31), schedule: model.ScheduleMonthly, anchor: 31, want: date(2025, 4, 30)},
		{name: "monthly across year", prev: date(2024, 12, 15), schedule: model.ScheduleMonthly, anchor: 15, want: date(2025, 1, 15)},
		{name: "monthly without anchor uses day", prev: date(2025, 5, 10), schedule: model.ScheduleMonthly, want: date(2025, 6, 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextDue(tt.prev, tt.schedule, tt.anchor)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextDue_NoDriftOverAYear(t *testing.T) {
	due := date(2025, 1, 31)
	var got []int
	for i := 0; i < 12; i++ {
		next, err := NextDue(due, model.ScheduleMonthly, 31)
		require.NoError(t, err)
		got = append(got, next.Day())
		due = next
	}
	assert.Equal(t, []int{28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31, 31}, got)
}

func TestNextDue_UnsupportedSchedule(t *testing.T) {
	_, err := NextDue(date(2025, 1, 1), "daily", 0)
	assert.True(t, apierror.Is(err, apierror.ErrInvalidInput))
}

func TestFirstDue(t *testing.T) {
	now := time.Date(2025, 3, 10, 15, 4, 5, 0, time.UTC)

	next, anchor, err := FirstDue(now, nil, model.ScheduleWeekly)
	require.NoError(t, err)
	assert.Equal(t, date(2025, 3, 17), next)
	assert.Equal(t, 10, anchor)

	start := date(2025, 4, 30)
	next, anchor, err = FirstDue(now, &start, model.ScheduleMonthly)
	require.NoError(t, err)
	assert.Equal(t, start, next)
	assert.Equal(t, 30, anchor)

	_, _, err = FirstDue(now, nil, "yearly")
	assert.Error(t, err)
}
