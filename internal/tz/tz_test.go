package tz_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/realtygenie/nurture-scheduler/internal/core"
	"github.com/realtygenie/nurture-scheduler/internal/tz"
)

func loc(t *testing.T, name string) *time.Location {
	t.Helper()
	l, err := time.LoadLocation(name)
	require.NoError(t, err)
	return l
}

func TestResolvePriority(t *testing.T) {
	lead := core.Lead{Timezone: "Europe/Berlin", City: "Toronto"}
	require.Equal(t, "Europe/Berlin", tz.Resolve(lead, "America/Vancouver"))

	lead.Timezone = ""
	require.Equal(t, "America/Toronto", tz.Resolve(lead, "America/Vancouver"))

	lead.City = "Atlantis"
	require.Equal(t, "America/Vancouver", tz.Resolve(lead, "America/Vancouver"))

	require.Equal(t, tz.Fallback, tz.Resolve(lead, ""))
}

func TestResolveInvalidValuesFallThrough(t *testing.T) {
	lead := core.Lead{Timezone: "Mars/Olympus_Mons", City: "Winnipeg"}
	require.Equal(t, "America/Chicago", tz.Resolve(lead, "UTC"))

	lead.City = ""
	require.Equal(t, tz.Fallback, tz.Resolve(lead, "not-a-zone"))
}

func TestLocalTargetBasic(t *testing.T) {
	ny := loc(t, "America/New_York")
	// Jan 1 noon UTC = 7 AM New York; 8 AM target is still ahead that day.
	anchor := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	got := tz.LocalTarget(anchor, 10, ny, 8, 0)
	require.Equal(t, time.Date(2024, 1, 11, 13, 0, 0, 0, time.UTC), got)
	require.Equal(t, 8, got.In(ny).Hour())
}

func TestLocalTargetRollsToNextDayWhenHourPassed(t *testing.T) {
	ny := loc(t, "America/New_York")
	// Jan 1 18:00 UTC = 1 PM New York; 8 AM already passed, so day 11 -> Jan 12.
	anchor := time.Date(2024, 1, 1, 18, 0, 0, 0, time.UTC)
	got := tz.LocalTarget(anchor, 10, ny, 8, 0)
	require.Equal(t, time.Date(2024, 1, 12, 13, 0, 0, 0, time.UTC), got)
}

func TestLocalTargetDSTSpringForward(t *testing.T) {
	ny := loc(t, "America/New_York")
	// US spring-forward day. 12:00 UTC is 8 AM EDT; the computed target must be
	// 8 AM local wall clock with the post-transition offset, not a fixed -05:00.
	anchor := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	got := tz.LocalTarget(anchor, 0, ny, 8, 0)

	local := got.In(ny)
	require.Equal(t, 8, local.Hour())
	require.Equal(t, 0, local.Minute())
	_, offset := local.Zone()
	require.Equal(t, -4*3600, offset, "8 AM on transition day is EDT")
	require.Equal(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), got)
}

func TestLocalTargetDSTFallBack(t *testing.T) {
	ny := loc(t, "America/New_York")
	// US fall-back day 2024-11-03: target must still come out 8 AM local.
	anchor := time.Date(2024, 11, 3, 1, 0, 0, 0, time.UTC)
	got := tz.LocalTarget(anchor, 0, ny, 8, 0)
	require.Equal(t, 8, got.In(ny).Hour())
}

func TestInWindow(t *testing.T) {
	ny := loc(t, "America/New_York")
	// 13:00 UTC in January = 8 AM New York: inclusive lower bound.
	require.True(t, tz.InWindow(time.Date(2024, 1, 15, 13, 0, 0, 0, time.UTC), ny, 8, 20))
	// 01:00 UTC = 8 PM previous evening: exclusive upper bound.
	require.False(t, tz.InWindow(time.Date(2024, 1, 16, 1, 0, 0, 0, time.UTC), ny, 8, 20))
	// 3 AM local.
	require.False(t, tz.InWindow(time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC), ny, 8, 20))
}

func TestNextWindowOpenAfterClose(t *testing.T) {
	ny := loc(t, "America/New_York")
	// 9 PM local (hour 21) -> 8 AM next local day, minutes normalized.
	in := time.Date(2024, 1, 15, 21, 42, 17, 0, ny)
	got := tz.NextWindowOpen(in.UTC(), ny, 8, 20)
	local := got.In(ny)
	require.Equal(t, 16, local.Day())
	require.Equal(t, 8, local.Hour())
	require.Equal(t, 0, local.Minute())
	require.Equal(t, 0, local.Second())
}

func TestNextWindowOpenBeforeStart(t *testing.T) {
	ny := loc(t, "America/New_York")
	in := time.Date(2024, 1, 15, 5, 30, 0, 0, ny)
	got := tz.NextWindowOpen(in.UTC(), ny, 8, 20)
	local := got.In(ny)
	require.Equal(t, 15, local.Day())
	require.Equal(t, 8, local.Hour())
}

func TestNextWindowOpenInsideWindowUnchanged(t *testing.T) {
	ny := loc(t, "America/New_York")
	in := time.Date(2024, 1, 15, 14, 25, 0, 0, ny).UTC()
	require.Equal(t, in, tz.NextWindowOpen(in, ny, 8, 20))
}

func TestLocationFallsBack(t *testing.T) {
	l := tz.Location("definitely/not_real")
	require.Equal(t, tz.Fallback, l.String())
}
