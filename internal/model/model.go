package model

import (
	"sort"
	"time"
)

// MealPart is one serving (breakfast, lunch or dinner) of a school day.
type MealPart struct {
	Meals []string `json:"meals"`
	Cal   float64  `json:"cal"`
}

// Meal holds the three meal parts for a single date.
type Meal struct {
	Breakfast MealPart `json:"breakfast"`
	Lunch     MealPart `json:"lunch"`
	Dinner    MealPart `json:"dinner"`
}

// EmptyMeal returns the fallback shown when a meal fetch fails: zero
// calories and no items in every part.
func EmptyMeal() Meal {
	return Meal{
		Breakfast: MealPart{Meals: []string{}, Cal: 0},
		Lunch:     MealPart{Meals: []string{}, Cal: 0},
		Dinner:    MealPart{Meals: []string{}, Cal: 0},
	}
}

// Part returns the meal part for p.
func (m Meal) Part(p MealPartTime) MealPart {
	switch p {
	case Lunch:
		return m.Lunch
	case Dinner:
		return m.Dinner
	default:
		return m.Breakfast
	}
}

// IsEmpty reports whether no part has any dish.
func (m Meal) IsEmpty() bool {
	return len(m.Breakfast.Meals) == 0 && len(m.Lunch.Meals) == 0 && len(m.Dinner.Meals) == 0
}

// TimeTable is a single period of a school day.
type TimeTable struct {
	Period  int    `json:"perio"`
	Content string `json:"content"`
}

// SchoolType distinguishes the NEIS timetable endpoint family.
type SchoolType string

const (
	SchoolElementary SchoolType = "elementary"
	SchoolMiddle     SchoolType = "middle"
	SchoolHigh       SchoolType = "high"
)

// School is a row of the school directory.
type School struct {
	Name       string     `json:"name" yaml:"name"`
	OrgCode    string     `json:"org_code" yaml:"org_code"`
	SchoolCode string     `json:"school_code" yaml:"school_code"`
	SchoolType SchoolType `json:"school_type" yaml:"school_type"`
	Address    string     `json:"address,omitempty" yaml:"address,omitempty"`
}

// SchoolIdentity is the user's selected school plus grade/class/major.
type SchoolIdentity struct {
	School School `json:"school" yaml:",inline"`
	Grade  int    `json:"grade" yaml:"grade"`
	Class  int    `json:"class" yaml:"class"`
	// Major is empty when the school has no majors or none was picked.
	Major string `json:"major,omitempty" yaml:"major,omitempty"`
}

// Configured reports whether enough of the identity is present to query NEIS.
func (s SchoolIdentity) Configured() bool {
	return s.School.OrgCode != "" && s.School.SchoolCode != ""
}

// ManualOverride is a user-authored timetable period for a weekday
// (1=Sunday..7=Saturday).
type ManualOverride struct {
	ID      string `json:"id"`
	Weekday int    `json:"weekday"`
	Period  int    `json:"perio"`
	Content string `json:"content"`
}

// TimeTable converts the override to a display row.
func (o ManualOverride) TimeTable() TimeTable {
	return TimeTable{Period: o.Period, Content: o.Content}
}

// OverridesForWeekday keeps the overrides of weekday (1=Sunday..7) as
// timetable rows sorted by ascending period.
func OverridesForWeekday(all []ManualOverride, weekday int) []TimeTable {
	out := make([]TimeTable, 0)
	for _, o := range all {
		if o.Weekday == weekday {
			out = append(out, o.TimeTable())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}

// Notice is an emergency notice published by the operator.
type Notice struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
