// Package tz holds the pure timezone arithmetic behind recipient-aware
// scheduling: resolving which zone a lead lives in and computing UTC send
// instants that land at a target local wall-clock time.
package tz

import (
	"time"

	"github.com/realtygenie/nurture-scheduler/internal/core"
)

// Fallback is the system-wide default zone when nothing else resolves.
const Fallback = "America/Toronto"

// cityZones maps known lead cities to IANA zones. Unknown cities fall through
// to the campaign default.
var cityZones = map[string]string{
	"Toronto":    "America/Toronto",
	"Vancouver":  "America/Vancouver",
	"Montreal":   "America/Toronto",
	"Calgary":    "America/Denver",
	"Edmonton":   "America/Denver",
	"Ottawa":     "America/Toronto",
	"Winnipeg":   "America/Chicago",
	"Quebec":     "America/Toronto",
	"Hamilton":   "America/Toronto",
	"Kitchener":  "America/Toronto",
	"London":     "America/Toronto",
	"Victoria":   "America/Vancouver",
	"Halifax":    "America/Halifax",
	"St. John's": "America/St_Johns",
	"Saskatoon":  "America/Chicago",
	"Regina":     "America/Chicago",
}

// Resolve picks the zone used to schedule one lead. Priority: the lead's own
// timezone, then a city lookup, then the campaign default, then Fallback.
// Invalid identifiers at any tier fall through to the next; Resolve never
// fails.
func Resolve(lead core.Lead, campaignDefault string) string {
	if valid(lead.Timezone) {
		return lead.Timezone
	}
	if z, ok := cityZones[lead.City]; ok {
		return z
	}
	if valid(campaignDefault) {
		return campaignDefault
	}
	return Fallback
}

func valid(name string) bool {
	if name == "" {
		return false
	}
	_, err := time.LoadLocation(name)
	return err == nil
}

// Location loads the zone for a resolved identifier, falling back to the
// system default if the stored value has gone stale.
func Location(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc, _ = time.LoadLocation(Fallback)
	}
	return loc
}

// LocalTarget converts anchor+offsetDays into the zone's local calendar date,
// pins the wall clock to hour:minute on that date, and converts back to UTC.
// If that instant has already passed relative to the shifted anchor, it moves
// one local day forward. Using time.Date in loc keeps the result correct
// across DST transitions: 8 AM local stays 8 AM local.
func LocalTarget(anchor time.Time, offsetDays int, loc *time.Location, hour, minute int) time.Time {
	base := anchor.UTC().Add(time.Duration(offsetDays) * 24 * time.Hour)
	local := base.In(loc)
	target := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if target.Before(local) {
		target = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return target.UTC()
}

// InWindow reports whether t's local hour in loc lies in [start, end).
func InWindow(t time.Time, loc *time.Location, start, end int) bool {
	h := t.In(loc).Hour()
	return h >= start && h < end
}

// NextWindowOpen advances t to the window's next opening: before start moves
// to start the same local day, at/after end moves to start the next local day,
// and an in-window instant is returned unchanged. Minutes and seconds are
// normalized to :00:00 when advancing.
func NextWindowOpen(t time.Time, loc *time.Location, start, end int) time.Time {
	local := t.In(loc)
	switch {
	case local.Hour() < start:
		return time.Date(local.Year(), local.Month(), local.Day(), start, 0, 0, 0, loc).UTC()
	case local.Hour() >= end:
		return time.Date(local.Year(), local.Month(), local.Day()+1, start, 0, 0, 0, loc).UTC()
	default:
		return t
	}
}

// LocalDisplay renders a UTC instant as the recipient's local wall-clock time,
// used by the schedule preview endpoint.
func LocalDisplay(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("3:04 PM MST")
}
