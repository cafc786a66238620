package model

import (
	"fmt"
	"strings"
	"time"
)

// MealPartTime marks which meal is "now" for highlighting.
type MealPartTime string

const (
	Breakfast MealPartTime = "breakfast"
	Lunch     MealPartTime = "lunch"
	Dinner    MealPartTime = "dinner"
)

// Hour boundaries for MealPartTimeAt:
// breakfast 0-7, lunch 8-12, dinner 13-19, tomorrow's breakfast 20-23.
const (
	lunchStartHour   = 8
	dinnerStartHour  = 13
	nextDayStartHour = 20
)

// MealPartTimeAt derives the current meal part from the hour of t.
func MealPartTimeAt(t time.Time) MealPartTime {
	h := t.Hour()
	switch {
	case h < lunchStartHour:
		return Breakfast
	case h < dinnerStartHour:
		return Lunch
	case h < nextDayStartHour:
		return Dinner
	default:
		return Breakfast
	}
}

// DisplayMeal is the widget configuration choosing which part to show.
type DisplayMeal string

const (
	DisplayAuto      DisplayMeal = "auto"
	DisplayBreakfast DisplayMeal = "breakfast"
	DisplayLunch     DisplayMeal = "lunch"
	DisplayDinner    DisplayMeal = "dinner"
)

// ParseDisplayMeal accepts the config/query spelling; empty means auto.
func ParseDisplayMeal(s string) (DisplayMeal, error) {
	switch d := DisplayMeal(strings.ToLower(strings.TrimSpace(s))); d {
	case "", DisplayAuto:
		return DisplayAuto, nil
	case DisplayBreakfast, DisplayLunch, DisplayDinner:
		return d, nil
	default:
		return "", fmt.Errorf("model: unknown display meal %q", s)
	}
}

// PartTime resolves the display setting against the clock.
func (d DisplayMeal) PartTime(now time.Time) MealPartTime {
	switch d {
	case DisplayBreakfast:
		return Breakfast
	case DisplayLunch:
		return Lunch
	case DisplayDinner:
		return Dinner
	default:
		return MealPartTimeAt(now)
	}
}
