package ics

import (
	"errors"
	"sort"
	"time"

	appLog "todaywhat/internal/log"
	"todaywhat/internal/model"
	"todaywhat/internal/schedule"
)

const defaultMaxDays = 62

// ExpandConfig bounds a recurrence expansion.
type ExpandConfig struct {
	// Location is the zone days are cut in; nil means time.Local.
	Location *time.Location

	// RangeStart / RangeEnd are inclusive dates.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxDays caps the window; zero means defaultMaxDays.
	MaxDays int
}

// Day is the manual timetable of one date.
type Day struct {
	Date      time.Time         `json:"date"`
	Weekday   int               `json:"weekday"`
	TimeTable []model.TimeTable `json:"time_table"`
}

// ExpandOverrides expands each override's weekly recurrence over the range
// and returns one Day per date, periods ascending. Dates without overrides
// get an empty list.
func ExpandOverrides(overrides []model.ManualOverride, cfg ExpandConfig) ([]Day, error) {
	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return nil, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.MaxDays <= 0 {
		cfg.MaxDays = defaultMaxDays
	}

	start := schedule.StartOfDay(cfg.RangeStart.In(cfg.Location))
	end := schedule.StartOfDay(cfg.RangeEnd.In(cfg.Location))
	if limit := start.AddDate(0, 0, cfg.MaxDays-1); end.After(limit) {
		appLog.Error("expand: range truncated", errors.New("max days reached"),
			"start", start.Format(time.DateOnly), "end", end.Format(time.DateOnly), "cap", cfg.MaxDays)
		end = limit
	}

	days := make([]Day, 0)
	index := make(map[string]int)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		index[d.Format(dateLayout)] = len(days)
		days = append(days, Day{Date: d, Weekday: schedule.Weekday(d), TimeTable: []model.TimeTable{}})
	}

	for _, o := range overrides {
		rule, _, err := weeklyRule(o, start)
		if err != nil {
			appLog.Error("expand: skipped override", err, "id", o.ID)
			continue
		}
		for _, occ := range rule.Between(start, end, true) {
			i, ok := index[occ.In(cfg.Location).Format(dateLayout)]
			if !ok {
				continue
			}
			days[i].TimeTable = append(days[i].TimeTable, o.TimeTable())
		}
	}

	for i := range days {
		tt := days[i].TimeTable
		sort.SliceStable(tt, func(a, b int) bool { return tt[a].Period < tt[b].Period })
	}
	return days, nil
}
