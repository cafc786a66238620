package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"todaywhat/internal/config"
)

var seoul = time.FixedZone("KST", 9*60*60)

// 2024-03-02 is a Saturday.
func at(day, hour int) time.Time {
	return time.Date(2024, time.March, day, hour, 30, 0, 0, seoul)
}

func TestWeekdayConvention(t *testing.T) {
	assert.Equal(t, Sunday, Weekday(at(3, 10)))
	assert.Equal(t, 2, Weekday(at(4, 10)))
	assert.Equal(t, Saturday, Weekday(at(2, 10)))
}

func TestResolveSaturdaySkipsTwoDaysAtAnyHour(t *testing.T) {
	prefs := config.Preferences{SkipWeekend: true, SkipAfterDinner: true}
	for h := 0; h < 24; h++ {
		now := at(2, h)
		assert.Equal(t, now.AddDate(0, 0, 2), ResolveMeal(now, prefs), "hour %d", h)
		assert.Equal(t, now.AddDate(0, 0, 2), ResolveWidget(now, prefs), "hour %d", h)
	}
}

func TestResolveSundaySkipsOneDay(t *testing.T) {
	prefs := config.Preferences{SkipWeekend: true}
	for h := 0; h < 24; h++ {
		now := at(3, h)
		assert.Equal(t, now.AddDate(0, 0, 1), ResolveMeal(now, prefs), "hour %d", h)
	}
}

func TestResolveAfterDinnerThresholds(t *testing.T) {
	prefs := config.Preferences{SkipAfterDinner: true}
	// Wednesday.
	for h := 0; h < 24; h++ {
		now := at(6, h)

		wantMeal := now
		if h >= MealCutoverHour {
			wantMeal = now.AddDate(0, 0, 1)
		}
		assert.Equal(t, wantMeal, ResolveMeal(now, prefs), "meal hour %d", h)

		wantWidget := now
		if h >= WidgetCutoverHour {
			wantWidget = now.AddDate(0, 0, 1)
		}
		assert.Equal(t, wantWidget, ResolveWidget(now, prefs), "widget hour %d", h)
	}
}

func TestResolveIdentityWhenNoRuleApplies(t *testing.T) {
	cases := []struct {
		name  string
		now   time.Time
		prefs config.Preferences
	}{
		{"weekday morning", at(6, 9), config.Preferences{SkipWeekend: true, SkipAfterDinner: true}},
		{"late but opted out", at(6, 22), config.Preferences{SkipAfterDinner: false}},
		{"saturday without skip weekend", at(2, 10), config.Preferences{}},
		{"sunday without skip weekend", at(3, 10), config.Preferences{SkipAfterDinner: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.now, ResolveMeal(tc.now, tc.prefs))
		})
	}
}

func TestResolveSaturdayNightWeekendRuleWins(t *testing.T) {
	now := at(2, 21)
	prefs := config.Preferences{SkipWeekend: true, SkipAfterDinner: true}
	got := ResolveMeal(now, prefs)
	assert.Equal(t, now.AddDate(0, 0, 2), got)
	assert.Equal(t, time.Monday, got.Weekday())
}

func TestResolveNeverGoesBackward(t *testing.T) {
	all := []config.Preferences{
		{}, {SkipWeekend: true}, {SkipAfterDinner: true}, {SkipWeekend: true, SkipAfterDinner: true},
	}
	for day := 1; day <= 14; day++ {
		for h := 0; h < 24; h++ {
			now := at(day, h)
			for _, p := range all {
				got := ResolveMeal(now, p)
				assert.False(t, got.Before(now))
				assert.LessOrEqual(t, got.Sub(now), 48*time.Hour+time.Hour)
			}
		}
	}
}

// Resolving midnight of a resolved date must not shift again, as long as
// that date is a school day.
func TestResolveDoesNotDoubleShift(t *testing.T) {
	all := []config.Preferences{
		{}, {SkipWeekend: true}, {SkipAfterDinner: true}, {SkipWeekend: true, SkipAfterDinner: true},
	}
	for day := 1; day <= 14; day++ {
		for h := 0; h < 24; h++ {
			for _, p := range all {
				first := ResolveMeal(at(day, h), p)
				wd := Weekday(first)
				if p.SkipWeekend && (wd == Saturday || wd == Sunday) {
					// Friday after dinner lands on Saturday; the weekend rule
					// would legitimately move it again.
					continue
				}
				mid := StartOfDay(first)
				assert.Equal(t, mid, ResolveMeal(mid, p), "day %d hour %d prefs %+v", day, h, p)
			}
		}
	}
}

func TestDisplayDateIgnoresAfterDinner(t *testing.T) {
	prefs := config.Preferences{SkipWeekend: true, SkipAfterDinner: true}
	assert.Equal(t, at(6, 22), DisplayDate(at(6, 22), prefs))
	assert.Equal(t, at(2, 8).AddDate(0, 0, 2), DisplayDate(at(2, 8), prefs))
	assert.Equal(t, at(3, 8).AddDate(0, 0, 1), DisplayDate(at(3, 8), prefs))
	assert.Equal(t, at(3, 8), DisplayDate(at(3, 8), config.Preferences{}))
}

func TestResolveAcrossMonthBoundary(t *testing.T) {
	now := time.Date(2024, time.March, 30, 12, 0, 0, 0, seoul) // Saturday
	got := ResolveMeal(now, config.Preferences{SkipWeekend: true})
	assert.Equal(t, time.Date(2024, time.April, 1, 12, 0, 0, 0, seoul), got)
}
