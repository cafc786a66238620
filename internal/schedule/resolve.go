// Package schedule decides which calendar date a meal or timetable query
// should target and when the next automatic refresh is due.
package schedule

import (
	"time"

	"todaywhat/internal/config"
)

// Weekdays in the 1=Sunday..7=Saturday convention used by the domain.
const (
	Sunday   = 1
	Saturday = 7
)

// Cutover hours for the skip-after-dinner rule. The app screens switch to
// the next day at 19:00; widget timelines switch at 20:00. They are kept
// apart on purpose until the two are confirmed to be the same rule.
const (
	MealCutoverHour   = 19
	WidgetCutoverHour = 20
)

// Clock supplies wall-clock time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now in a fixed location.
type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// Weekday returns t's weekday as 1=Sunday..7=Saturday.
func Weekday(t time.Time) int {
	return int(t.Weekday()) + 1
}

// Resolve maps a clock reading and the preferences to the date whose data
// should be shown. Only the first matching rule fires:
//
//  1. skip weekend on Saturday: +2 days
//  2. skip weekend on Sunday: +1 day
//  3. skip after dinner at or after cutoverHour: +1 day
//  4. otherwise now
//
// The result keeps now's wall-clock time and location and is never
// earlier than now.
func Resolve(now time.Time, prefs config.Preferences, cutoverHour int) time.Time {
	switch wd := Weekday(now); {
	case prefs.SkipWeekend && wd == Saturday:
		return now.AddDate(0, 0, 2)
	case prefs.SkipWeekend && wd == Sunday:
		return now.AddDate(0, 0, 1)
	case now.Hour() >= cutoverHour && prefs.SkipAfterDinner:
		return now.AddDate(0, 0, 1)
	default:
		return now
	}
}

// ResolveMeal is Resolve at the app-screen cutover.
func ResolveMeal(now time.Time, prefs config.Preferences) time.Time {
	return Resolve(now, prefs, MealCutoverHour)
}

// ResolveWidget is Resolve at the widget cutover.
func ResolveWidget(now time.Time, prefs config.Preferences) time.Time {
	return Resolve(now, prefs, WidgetCutoverHour)
}

// DisplayDate applies only the weekend rules. It is the date label of the
// main screen header, which ignores the after-dinner shift.
func DisplayDate(now time.Time, prefs config.Preferences) time.Time {
	if !prefs.SkipWeekend {
		return now
	}
	switch Weekday(now) {
	case Saturday:
		return now.AddDate(0, 0, 2)
	case Sunday:
		return now.AddDate(0, 0, 1)
	}
	return now
}

// StartOfDay truncates t to local midnight in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
