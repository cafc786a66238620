package feature

import (
	"context"
	"time"

	appLog "todaywhat/internal/log"
	"todaywhat/internal/model"
	"todaywhat/internal/schedule"
)

// TimeTableState is the timetable screen snapshot.
type TimeTableState struct {
	Phase         Phase             `json:"phase"`
	TimeTableList []model.TimeTable `json:"time_table_list"`
	IsLoading     bool              `json:"is_loading"`
	IsError       bool              `json:"is_error"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	EffectiveDate time.Time         `json:"effective_date"`
}

type TimeTableAction interface {
	isTimeTableAction()
}

type (
	TimeTableOnAppear struct{}
	TimeTableRefresh  struct{}

	timeTableResponse struct {
		list []model.TimeTable
		err  error
	}
)

func (TimeTableOnAppear) isTimeTableAction() {}
func (TimeTableRefresh) isTimeTableAction()  {}
func (timeTableResponse) isTimeTableAction() {}

const timeTableFetchID = "timetable.fetch"

// TimeTableDeps are the collaborators of the timetable reducer. Overrides
// is only consulted when the ModifiedTimeTable preference is on.
type TimeTableDeps struct {
	Clock       schedule.Clock
	Preferences PreferenceSource
	Fetcher     TimeTableFetcher
	Overrides   OverrideReader
}

type TimeTableFeature struct {
	*Store[TimeTableState, TimeTableAction]
}

func NewTimeTable(deps TimeTableDeps) *TimeTableFeature {
	initial := TimeTableState{
		Phase:         PhaseIdle,
		TimeTableList: []model.TimeTable{},
	}
	return &TimeTableFeature{Store: NewStore(initial, deps.reduce)}
}

// Refresh re-resolves the date and reloads.
func (f *TimeTableFeature) Refresh(context.Context) {
	f.Send(TimeTableRefresh{})
}

func (d TimeTableDeps) reduce(state *TimeTableState, action TimeTableAction) []Effect[TimeTableAction] {
	switch a := action.(type) {
	case TimeTableOnAppear, TimeTableRefresh:
		return d.startLoad(state)

	case timeTableResponse:
		state.IsLoading = false
		if a.err != nil {
			state.Phase = PhaseFailed
			state.TimeTableList = []model.TimeTable{}
			state.IsError = true
			state.ErrorMessage = a.err.Error()
			return nil
		}
		state.Phase = PhaseLoaded
		state.TimeTableList = a.list
		state.IsError = false
		state.ErrorMessage = ""
	}
	return nil
}

func (d TimeTableDeps) startLoad(state *TimeTableState) []Effect[TimeTableAction] {
	prefs := d.Preferences.Preferences()
	date := schedule.ResolveMeal(d.Clock.Now(), prefs)
	state.IsLoading = true
	state.Phase = PhaseLoading
	state.EffectiveDate = date

	return []Effect[TimeTableAction]{{
		ID: timeTableFetchID,
		Run: func(ctx context.Context) (TimeTableAction, bool) {
			if prefs.ModifiedTimeTable {
				return timeTableResponse{list: LoadOverrides(ctx, d.Overrides, date)}, true
			}
			list, err := d.Fetcher.FetchTimeTable(ctx, date)
			if err != nil {
				if ctx.Err() != nil {
					return nil, false
				}
				appLog.Error("timetable fetch failed", err, "date", date.Format("2006-01-02"))
				return timeTableResponse{err: err}, true
			}
			return timeTableResponse{list: Truncate(list)}, true
		},
	}}
}

// LoadOverrides returns the manual timetable for date's weekday sorted by
// period. A missing reader or a read failure yields an empty day.
func LoadOverrides(ctx context.Context, r OverrideReader, date time.Time) []model.TimeTable {
	if r == nil {
		return []model.TimeTable{}
	}
	all, err := r.ReadOverrides(ctx)
	if err != nil {
		appLog.Error("override read failed", err)
		return []model.TimeTable{}
	}
	return model.OverridesForWeekday(all, schedule.Weekday(date))
}

// Truncate keeps the first MaxPeriods fetched periods.
func Truncate(list []model.TimeTable) []model.TimeTable {
	if list == nil {
		return []model.TimeTable{}
	}
	if len(list) > MaxPeriods {
		return list[:MaxPeriods]
	}
	return list
}
