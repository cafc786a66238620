package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitDish(t *testing.T) {
	name, list := SplitDish("돈까스(1.5.10.)")
	assert.Equal(t, "돈까스", name)
	assert.Equal(t, []Allergy{AllergyEgg, AllergySoybean, AllergyPork}, list)

	name, list = SplitDish(" 쌀밥 ")
	assert.Equal(t, "쌀밥", name)
	assert.Empty(t, list)

	assert.True(t, DishContainsAny("우유(2)", []Allergy{AllergyMilk}))
	assert.False(t, DishContainsAny("우유(2)", nil))
	assert.False(t, DishContainsAny("사과", []Allergy{AllergyPeach}))
}

func TestMealPartTimeAt(t *testing.T) {
	at := func(h int) time.Time { return time.Date(2024, time.March, 5, h, 0, 0, 0, time.UTC) }
	for hour, want := range map[int]MealPartTime{
		0: Breakfast, 7: Breakfast, 8: Lunch, 12: Lunch, 13: Dinner, 19: Dinner, 20: Breakfast, 23: Breakfast,
	} {
		assert.Equal(t, want, MealPartTimeAt(at(hour)), "hour %d", hour)
	}
}

func TestParseDisplayMeal(t *testing.T) {
	d, err := ParseDisplayMeal(" Lunch ")
	require.NoError(t, err)
	assert.Equal(t, DisplayLunch, d)

	d, err = ParseDisplayMeal("")
	require.NoError(t, err)
	assert.Equal(t, DisplayAuto, d)
	assert.Equal(t, Dinner, DisplayDinner.PartTime(time.Date(2024, 3, 5, 7, 0, 0, 0, time.UTC)))

	_, err = ParseDisplayMeal("brunch")
	assert.Error(t, err)
}

func TestOverridesForWeekday(t *testing.T) {
	got := OverridesForWeekday([]ManualOverride{
		{Weekday: 3, Period: 3, Content: "영어"},
		{Weekday: 2, Period: 1, Content: "체육"},
		{Weekday: 3, Period: 1, Content: "국어"},
	}, 3)
	assert.Equal(t, []TimeTable{{Period: 1, Content: "국어"}, {Period: 3, Content: "영어"}}, got)
	assert.Empty(t, OverridesForWeekday(nil, 1))
	assert.NotNil(t, OverridesForWeekday(nil, 1))
}
