// Package widget builds the home-screen widget timelines: one entry for the
// effective date plus the instant the host should ask again.
package widget

import (
	"context"
	"time"

	"todaywhat/internal/feature"
	appLog "todaywhat/internal/log"
	"todaywhat/internal/model"
	"todaywhat/internal/schedule"
)

// Timeline is a widget payload and its reload policy.
type Timeline[E any] struct {
	Entries    []E       `json:"entries"`
	NextUpdate time.Time `json:"next_update"`
}

type MealEntry struct {
	Date         time.Time          `json:"date"`
	Meal         model.Meal         `json:"meal"`
	MealPartTime model.MealPartTime `json:"meal_part_time"`
	AllergyList  []model.Allergy    `json:"allergy_list"`
}

// EmptyMealEntry is shown when the meal cannot be loaded.
func EmptyMealEntry(now time.Time) MealEntry {
	return MealEntry{
		Date:         now,
		Meal:         model.EmptyMeal(),
		MealPartTime: model.Breakfast,
		AllergyList:  []model.Allergy{},
	}
}

type TimeTableEntry struct {
	Date      time.Time         `json:"date"`
	TimeTable []model.TimeTable `json:"time_table"`
}

func EmptyTimeTableEntry(now time.Time) TimeTableEntry {
	return TimeTableEntry{Date: now, TimeTable: []model.TimeTable{}}
}

// Provider answers widget timeline requests. Allergies and Overrides are
// optional.
type Provider struct {
	Clock       schedule.Clock
	Preferences feature.PreferenceSource
	Meals       feature.MealFetcher
	TimeTables  feature.TimeTableFetcher
	Overrides   feature.OverrideReader
	Allergies   feature.AllergyReader
}

// MealTimeline returns the meal entry for the widget date. display picks
// the part; DisplayAuto follows the clock and "" uses the stored preference.
func (p *Provider) MealTimeline(ctx context.Context, display model.DisplayMeal) Timeline[MealEntry] {
	now := p.Clock.Now()
	prefs := p.Preferences.Preferences()
	if display == "" {
		display = prefs.WidgetMealDisplay
	}
	date := schedule.ResolveWidget(now, prefs)
	next := schedule.Horizon(now)

	meal, err := p.Meals.FetchMeal(ctx, date)
	if err != nil {
		appLog.Error("widget meal fetch failed", err, "date", date.Format("2006-01-02"))
		return Timeline[MealEntry]{Entries: []MealEntry{EmptyMealEntry(now)}, NextUpdate: next}
	}

	allergies := []model.Allergy{}
	if p.Allergies != nil {
		list, err := p.Allergies.ReadAllergies(ctx)
		if err != nil {
			appLog.Error("widget allergy read failed", err)
			return Timeline[MealEntry]{Entries: []MealEntry{EmptyMealEntry(now)}, NextUpdate: next}
		}
		allergies = list
	}

	entry := MealEntry{
		Date:         date,
		Meal:         meal,
		MealPartTime: display.PartTime(date),
		AllergyList:  allergies,
	}
	return Timeline[MealEntry]{Entries: []MealEntry{entry}, NextUpdate: next}
}

// TimeTableTimeline returns the timetable entry for the widget date,
// honoring the manual timetable preference.
func (p *Provider) TimeTableTimeline(ctx context.Context) Timeline[TimeTableEntry] {
	now := p.Clock.Now()
	prefs := p.Preferences.Preferences()
	date := schedule.ResolveWidget(now, prefs)
	next := schedule.Horizon(now)

	if prefs.ModifiedTimeTable {
		entry := TimeTableEntry{Date: date, TimeTable: feature.LoadOverrides(ctx, p.Overrides, date)}
		return Timeline[TimeTableEntry]{Entries: []TimeTableEntry{entry}, NextUpdate: next}
	}

	list, err := p.TimeTables.FetchTimeTable(ctx, date)
	if err != nil {
		appLog.Error("widget timetable fetch failed", err, "date", date.Format("2006-01-02"))
		return Timeline[TimeTableEntry]{Entries: []TimeTableEntry{EmptyTimeTableEntry(now)}, NextUpdate: next}
	}
	entry := TimeTableEntry{Date: date, TimeTable: feature.Truncate(list)}
	return Timeline[TimeTableEntry]{Entries: []TimeTableEntry{entry}, NextUpdate: next}
}
