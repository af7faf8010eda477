// Package expiry decides which annotations are still valid and normalizes
// user-selected end days to an inclusive end-of-day instant.
package expiry

import (
	"time"

	"github.com/map-annotator/backend/internal/models"
)

// EndOfDay returns the last second of the calendar day containing t in loc,
// i.e. 23:59:59 local time. The day's actual length is taken from the
// calendar, so days shortened or stretched by a daylight-saving transition
// still map to local 23:59:59 rather than start-of-day plus a fixed 86400s.
func EndOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	year, month, day := t.In(loc).Date()
	nextStart := time.Date(year, month, day+1, 0, 0, 0, 0, loc)
	return nextStart.Add(-time.Second)
}

// Active reports whether the annotation's validity window has not yet ended
// at now. An annotation without an end date never expires.
func Active(a *models.Annotation, now time.Time) bool {
	if a.EndDate == nil {
		return true
	}
	return !now.After(*a.EndDate)
}
