package scene

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// localDate builds a local-time instant on a known weekday.
// 2026-08-24 is a Monday.
func localDate(day, hour, minute int) time.Time {
	return time.Date(2026, 8, day, hour, minute, 0, 0, time.Local)
}

func TestSchedule_Compile(t *testing.T) {
	good := &Schedule{Start: "08:00", End: "17:30"}
	require.NoError(t, good.Compile())

	for _, bad := range []*Schedule{
		{Start: "25:00", End: "17:00"},
		{Start: "08:00", End: "17:61"},
		{Start: "morning", End: "17:00"},
	} {
		require.Error(t, bad.Compile(), "start=%q end=%q", bad.Start, bad.End)
	}
}

func TestSchedule_InWindow(t *testing.T) {
	s := &Schedule{Start: "09:00", End: "17:00"}
	require.NoError(t, s.Compile())

	require.True(t, s.InWindow(localDate(24, 12, 0)))
	require.True(t, s.InWindow(localDate(24, 9, 0)))
	require.False(t, s.InWindow(localDate(24, 8, 59)))
	require.False(t, s.InWindow(localDate(24, 17, 30)))
	require.False(t, s.InWindow(localDate(24, 23, 0)))
}

func TestSchedule_InWindowCrossingMidnight(t *testing.T) {
	s := &Schedule{Start: "22:00", End: "06:00"}
	require.NoError(t, s.Compile())

	require.True(t, s.InWindow(localDate(24, 23, 30)))
	require.True(t, s.InWindow(localDate(24, 2, 0)))
	require.False(t, s.InWindow(localDate(24, 12, 0)))
	require.False(t, s.InWindow(localDate(24, 21, 59)))
}

func TestSchedule_WeekdaysCrossingMidnight(t *testing.T) {
	// Monday nights only: the window runs into Tuesday morning, and no
	// other day of the week may report in-window.
	s := &Schedule{
		Weekdays: []time.Weekday{time.Monday},
		Start:    "22:00",
		End:      "02:00",
	}
	require.NoError(t, s.Compile())

	require.True(t, s.InWindow(localDate(24, 23, 30)))  // Monday night
	require.True(t, s.InWindow(localDate(25, 1, 15)))   // Tuesday small hours
	require.False(t, s.InWindow(localDate(24, 15, 0)))  // Monday afternoon
	require.False(t, s.InWindow(localDate(25, 2, 0)))   // Tuesday, window closed
	require.False(t, s.InWindow(localDate(25, 15, 0)))  // Tuesday afternoon
	require.False(t, s.InWindow(localDate(26, 1, 0)))   // Wednesday small hours
	require.False(t, s.InWindow(localDate(23, 23, 30))) // Sunday night
	require.False(t, s.InWindow(localDate(29, 12, 0)))  // Saturday
}

func TestSchedule_MultiDayMaskCrossingMidnight(t *testing.T) {
	s := &Schedule{
		Weekdays: []time.Weekday{time.Monday, time.Friday},
		Start:    "23:00",
		End:      "01:00",
	}
	require.NoError(t, s.Compile())

	require.True(t, s.InWindow(localDate(24, 23, 30)))  // Monday night
	require.True(t, s.InWindow(localDate(25, 0, 30)))   // Tuesday small hours
	require.True(t, s.InWindow(localDate(28, 23, 5)))   // Friday night
	require.True(t, s.InWindow(localDate(29, 0, 30)))   // Saturday small hours
	require.False(t, s.InWindow(localDate(28, 12, 0)))  // Friday noon
	require.False(t, s.InWindow(localDate(29, 2, 0)))   // Saturday, closed
	require.False(t, s.InWindow(localDate(26, 23, 30))) // Wednesday night
}

func TestSchedule_Weekdays(t *testing.T) {
	// Monday-only window.
	s := &Schedule{
		Weekdays: []time.Weekday{time.Monday},
		Start:    "09:00",
		End:      "17:00",
	}
	require.NoError(t, s.Compile())

	require.True(t, s.InWindow(localDate(24, 12, 0)))  // Monday
	require.False(t, s.InWindow(localDate(25, 12, 0))) // Tuesday
	require.False(t, s.InWindow(localDate(23, 12, 0))) // Sunday
}

func TestSchedule_InWindowUncompiled(t *testing.T) {
	s := &Schedule{Start: "09:00", End: "17:00"}
	require.False(t, s.InWindow(localDate(24, 12, 0)))
}
