// Package sla computes ticket resolution deadlines.
package sla

import (
	"strings"
	"time"
)

// Categories with a dedicated SLA window. Any other category is treated as general.
const (
	CategoryNetwork  = "NETWORK"
	CategoryHardware = "HARDWARE"
	CategorySoftware = "SOFTWARE"
	CategoryAccess   = "ACCESS"
)

const (
	criticalWindow = 4 * time.Hour
	hardwareDays   = 3
	softwareDays   = 2
	generalDays    = 5
	urgentPriority = "URGENT"
)

// ComputeDue maps a start time, category and priority to the SLA deadline.
// Category and priority are compared case-insensitively.
func ComputeDue(start time.Time, category, priority string) time.Time {
	category = strings.ToUpper(strings.TrimSpace(category))
	priority = strings.ToUpper(strings.TrimSpace(priority))

	switch {
	case priority == urgentPriority || category == CategoryNetwork:
		return start.Add(criticalWindow)
	case category == CategoryHardware:
		return AddBusinessDays(start, hardwareDays)
	case category == CategorySoftware || category == CategoryAccess:
		return AddBusinessDays(start, softwareDays)
	default:
		return AddBusinessDays(start, generalDays)
	}
}

// ComputeDueIn is ComputeDue with weekdays taken in loc, so the result does
// not depend on the zone start happens to carry. The deadline is in UTC.
func ComputeDueIn(start time.Time, loc *time.Location, category, priority string) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return ComputeDue(start.In(loc), category, priority).UTC()
}

// AddBusinessDays advances start one calendar day at a time, counting only
// Monday to Friday, and keeps the time of day.
func AddBusinessDays(start time.Time, days int) time.Time {
	t := start
	for added := 0; added < days; {
		t = t.AddDate(0, 0, 1)
		if isWeekday(t) {
			added++
		}
	}
	return t
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
