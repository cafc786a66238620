// Package ics renders meals and the manual timetable as an iCalendar feed,
// reads manual timetables back from ICS payloads, and expands the weekly
// recurrences for the week view.
package ics

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"todaywhat/internal/model"
	"todaywhat/internal/schedule"
)

// Custom properties carried on exported events.
const (
	PropKind   = "X-TODAYWHAT-KIND"
	PropPeriod = "X-TODAYWHAT-PERIOD"

	kindMeal     = "meal"
	kindOverride = "override"

	uidDomain  = "@todaywhat"
	dateLayout = "20060102"
)

// MealDay is the meal of one calendar date.
type MealDay struct {
	Date time.Time
	Meal model.Meal
}

// FeedOptions controls calendar rendering.
type FeedOptions struct {
	Name     string
	Location *time.Location
	// Anchor is the first date the weekly overrides may start on.
	Anchor time.Time
	// Stamp is written as DTSTAMP; zero means time.Now.
	Stamp time.Time
}

var mealPartLabels = []struct {
	part  model.MealPartTime
	label string
}{
	{model.Breakfast, "조식"},
	{model.Lunch, "중식"},
	{model.Dinner, "석식"},
}

// BuildCalendar renders one all-day event per non-empty meal part and one
// weekly all-day event per manual override.
func BuildCalendar(days []MealDay, overrides []model.ManualOverride, opts FeedOptions) (*ical.Calendar, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	stamp := opts.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}
	name := opts.Name
	if name == "" {
		name = "오늘뭐임"
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId("-//todaywhat//meal and timetable//KO")
	cal.SetName(name)
	cal.SetXWRCalName(name)
	cal.SetXWRTimezone(loc.String())

	for _, day := range days {
		date := schedule.StartOfDay(day.Date.In(loc))
		for _, p := range mealPartLabels {
			part := day.Meal.Part(p.part)
			if len(part.Meals) == 0 {
				continue
			}
			uid := fmt.Sprintf("meal-%s-%s%s", date.Format(dateLayout), p.part, uidDomain)
			ev := cal.AddEvent(uid)
			ev.SetDtStampTime(stamp)
			ev.SetAllDayStartAt(date)
			ev.SetAllDayEndAt(date.AddDate(0, 0, 1))
			ev.SetSummary(p.label)
			ev.SetDescription(mealDescription(part))
			ev.SetProperty(ical.ComponentProperty(PropKind), kindMeal)
		}
	}

	anchor := schedule.StartOfDay(opts.Anchor.In(loc))
	for _, o := range overrides {
		rule, start, err := weeklyRule(o, anchor)
		if err != nil {
			return nil, err
		}
		id := o.ID
		if id == "" {
			id = fmt.Sprintf("w%dp%d", o.Weekday, o.Period)
		}
		ev := cal.AddEvent(id + uidDomain)
		ev.SetDtStampTime(stamp)
		ev.SetAllDayStartAt(start)
		ev.SetAllDayEndAt(start.AddDate(0, 0, 1))
		ev.SetSummary(overrideSummary(o))
		ev.AddRrule(rule.OrigOptions.RRuleString())
		ev.SetProperty(ical.ComponentProperty(PropKind), kindOverride)
		ev.SetProperty(ical.ComponentProperty(PropPeriod), strconv.Itoa(o.Period))
	}
	return cal, nil
}

// Render is BuildCalendar serialized to text.
func Render(days []MealDay, overrides []model.ManualOverride, opts FeedOptions) (string, error) {
	cal, err := BuildCalendar(days, overrides, opts)
	if err != nil {
		return "", err
	}
	return cal.Serialize(), nil
}

func mealDescription(p model.MealPart) string {
	var b strings.Builder
	for _, dish := range p.Meals {
		name, _ := model.SplitDish(dish)
		b.WriteString(name)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%.1f kcal", p.Cal)
	return b.String()
}

func overrideSummary(o model.ManualOverride) string {
	return fmt.Sprintf("%d교시 %s", o.Period, o.Content)
}

var rruleWeekdays = []rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// weeklyRule builds the recurrence of an override starting on the first
// matching weekday on or after anchor.
func weeklyRule(o model.ManualOverride, anchor time.Time) (*rrule.RRule, time.Time, error) {
	if o.Weekday < schedule.Sunday || o.Weekday > schedule.Saturday {
		return nil, time.Time{}, fmt.Errorf("ics: override %q has weekday %d", o.ID, o.Weekday)
	}
	offset := (o.Weekday - schedule.Weekday(anchor) + 7) % 7
	start := anchor.AddDate(0, 0, offset)
	r, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Dtstart:   start,
		Byweekday: []rrule.Weekday{rruleWeekdays[o.Weekday-1]},
	})
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("ics: build rule: %w", err)
	}
	return r, start, nil
}
