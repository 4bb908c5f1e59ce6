// Package daylog creates dated work-log pages from a template: one for
// today and one for the next business day, skipping weekends and dates
// whose page already exists.
package daylog

import (
	"fmt"
	"time"
)

// The workspace runs on Korean time regardless of where the process runs.
const kstOffset = 9 * time.Hour

// NowKST returns the current time shifted to UTC+9.
func NowKST() time.Time {
	return time.Now().UTC().Add(kstOffset)
}

var weekdayLabels = map[time.Weekday]string{
	time.Sunday:    "일",
	time.Monday:    "월",
	time.Tuesday:   "화",
	time.Wednesday: "수",
	time.Thursday:  "목",
	time.Friday:    "금",
	time.Saturday:  "토",
}

// DateInfo is the derived calendar value a single log page is named after.
type DateInfo struct {
	Year      int
	Month     int
	Day       int
	Weekday   string
	IsWeekend bool
	Title     string
	ISODate   string
}

// Resolve computes the DateInfo for a calendar date. The canonical page
// title is "<year>년 <month>월 <day>일 (<weekday>)".
func Resolve(t time.Time) DateInfo {
	weekday := t.Weekday()
	label := weekdayLabels[weekday]
	return DateInfo{
		Year:      t.Year(),
		Month:     int(t.Month()),
		Day:       t.Day(),
		Weekday:   label,
		IsWeekend: weekday == time.Saturday || weekday == time.Sunday,
		Title:     fmt.Sprintf("%d년 %d월 %d일 (%s)", t.Year(), int(t.Month()), t.Day(), label),
		ISODate:   t.Format("2006-01-02"),
	}
}

// NextBusinessDay advances one day at a time until the date is no longer a
// Saturday or Sunday.
func NextBusinessDay(t time.Time) time.Time {
	next := t.AddDate(0, 0, 1)
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
