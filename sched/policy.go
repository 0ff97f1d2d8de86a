package sched

import (
	"time"
)

// businessDateLayout is the wire format for join/exit dates.
const businessDateLayout = "2006-01-02"

// ComputeRunAt computes when a pre-hire job should run from a business date.
//
// If businessDate ("YYYY-MM-DD") parses, the target is
// (businessDate − offsetDays) at hour:minute in zone. A target strictly
// after now is returned as-is; a target already reached falls back to
// now + quickFallback, as does an absent or unparseable date. The result
// is always an absolute UTC instant.
func ComputeRunAt(businessDate string, hour, minute, offsetDays int, zone *time.Location, now time.Time, quickFallback time.Duration) time.Time {
	quick := now.Add(quickFallback).UTC()

	if businessDate == "" {
		return quick
	}
	date, err := time.ParseInLocation(businessDateLayout, businessDate, zone)
	if err != nil {
		return quick
	}

	target := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, zone).
		AddDate(0, 0, -offsetDays)
	if target.After(now) {
		return target.UTC()
	}
	return quick
}

// OffboardRunAt computes the instant a disable/delete should trigger: the
// exit date itself at hour:minute in zone, with no offset. The boolean is
// false when exitDate is absent or unparseable; callers treat that, and any
// returned instant at or before now, as the immediate branch (execute
// synchronously, schedule nothing).
func OffboardRunAt(exitDate string, hour, minute int, zone *time.Location) (time.Time, bool) {
	if exitDate == "" {
		return time.Time{}, false
	}
	date, err := time.ParseInLocation(businessDateLayout, exitDate, zone)
	if err != nil {
		return time.Time{}, false
	}

	target := time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, zone)
	return target.UTC(), true
}
