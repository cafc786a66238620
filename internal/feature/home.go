package feature

import (
	"context"
	"strconv"
	"time"

	appLog "todaywhat/internal/log"
	"todaywhat/internal/model"
	"todaywhat/internal/schedule"
)

// Tabs of the main screen.
const (
	TabMeal      = 0
	TabTimeTable = 1
)

// MainState is the main screen header and navigation state.
type MainState struct {
	School             string        `json:"school"`
	Grade              string        `json:"grade"`
	Class              string        `json:"class"`
	DisplayDate        time.Time     `json:"display_date"`
	CurrentTab         int           `json:"current_tab"`
	IsNavigateSettings bool          `json:"is_navigate_settings"`
	HasNewVersion      bool          `json:"has_new_version"`
	Notice             *model.Notice `json:"notice,omitempty"`
	IsNoticePresented  bool          `json:"is_notice_presented"`
	// IsInitial is cleared by the first notice shown in a session.
	IsInitial bool `json:"is_initial"`
}

type MainAction interface {
	isMainAction()
}

type (
	MainOnAppear          struct{}
	MainTabChanged        struct{ Tab int }
	MainSettingsTapped    struct{}
	MainSettingsDismissed struct{}
	// MainChildRefreshed is sent when the meal or timetable screen refreshes.
	MainChildRefreshed        struct{}
	MainSchoolSettingFinished struct{}
	MainNoticeToastDismissed  struct{}
	MainNoticeTapped          struct{}
	MainNoticeDismissed       struct{}

	versionResponse struct {
		latest string
		err    error
	}
	noticeResponse struct {
		notice *model.Notice
		err    error
	}
)

func (MainOnAppear) isMainAction()              {}
func (MainTabChanged) isMainAction()            {}
func (MainSettingsTapped) isMainAction()        {}
func (MainSettingsDismissed) isMainAction()     {}
func (MainChildRefreshed) isMainAction()        {}
func (MainSchoolSettingFinished) isMainAction() {}
func (MainNoticeToastDismissed) isMainAction()  {}
func (MainNoticeTapped) isMainAction()          {}
func (MainNoticeDismissed) isMainAction()       {}
func (versionResponse) isMainAction()           {}
func (noticeResponse) isMainAction()            {}

const (
	mainVersionID = "main.version"
	mainNoticeID  = "main.notice"
)

// MainDeps are the collaborators of the main reducer. Version and Notice
// are optional.
type MainDeps struct {
	Clock          schedule.Clock
	Preferences    PreferenceSource
	Identity       IdentitySource
	Version        VersionChecker
	Notice         NoticeFetcher
	Platform       string
	CurrentVersion string
}

type MainFeature struct {
	*Store[MainState, MainAction]
}

func NewMain(deps MainDeps) *MainFeature {
	initial := MainState{
		DisplayDate: deps.Clock.Now(),
		CurrentTab:  TabMeal,
		IsInitial:   true,
	}
	return &MainFeature{Store: NewStore(initial, deps.reduce)}
}

func (d MainDeps) reduce(state *MainState, action MainAction) []Effect[MainAction] {
	switch a := action.(type) {
	case MainOnAppear:
		state.DisplayDate = schedule.DisplayDate(state.DisplayDate, d.Preferences.Preferences())
		d.loadLabels(state)
		return d.appearEffects()

	case MainChildRefreshed:
		state.DisplayDate = schedule.DisplayDate(d.Clock.Now(), d.Preferences.Preferences())

	case MainTabChanged:
		state.CurrentTab = a.Tab

	case MainSettingsTapped:
		state.IsNavigateSettings = true

	case MainSettingsDismissed:
		state.IsNavigateSettings = false

	case MainSchoolSettingFinished:
		state.IsNavigateSettings = false
		d.loadLabels(state)

	case versionResponse:
		if a.err != nil {
			appLog.Error("version check failed", a.err)
			break
		}
		if a.latest == "" {
			break
		}
		state.HasNewVersion = a.latest != d.CurrentVersion

	case noticeResponse:
		if a.err != nil {
			appLog.Error("notice fetch failed", a.err)
			break
		}
		if a.notice == nil || !state.IsInitial {
			break
		}
		state.Notice = a.notice
		state.IsInitial = false

	case MainNoticeToastDismissed:
		state.Notice = nil

	case MainNoticeTapped:
		if state.Notice != nil {
			state.IsNoticePresented = true
		}

	case MainNoticeDismissed:
		state.Notice = nil
		state.IsNoticePresented = false
	}
	return nil
}

func (d MainDeps) loadLabels(state *MainState) {
	id := d.Identity.School()
	grade, class := id.Grade, id.Class
	if grade == 0 {
		grade = 1
	}
	if class == 0 {
		class = 1
	}
	state.School = id.School.Name
	state.Grade = strconv.Itoa(grade)
	state.Class = strconv.Itoa(class)
}

func (d MainDeps) appearEffects() []Effect[MainAction] {
	var effects []Effect[MainAction]
	if d.Version != nil {
		effects = append(effects, Effect[MainAction]{
			ID: mainVersionID,
			Run: func(ctx context.Context) (MainAction, bool) {
				latest, err := d.Version.LatestVersion(ctx, d.Platform)
				if ctx.Err() != nil {
					return nil, false
				}
				return versionResponse{latest: latest, err: err}, true
			},
		})
	}
	if d.Notice != nil {
		effects = append(effects, Effect[MainAction]{
			ID: mainNoticeID,
			Run: func(ctx context.Context) (MainAction, bool) {
				n, err := d.Notice.FetchNotice(ctx)
				if ctx.Err() != nil {
					return nil, false
				}
				return noticeResponse{notice: n, err: err}, true
			},
		})
	}
	return effects
}

// Home composes the main, meal and timetable features the way the main
// screen hosts them. It is the refresh target of the scheduler.
type Home struct {
	Main      *MainFeature
	Meal      *MealFeature
	TimeTable *TimeTableFeature
}

// Appear starts every screen.
func (h *Home) Appear() {
	h.Main.Send(MainOnAppear{})
	h.Meal.Send(MealOnAppear{})
	h.TimeTable.Send(TimeTableOnAppear{})
}

// Refresh re-resolves dates and refetches meal and timetable.
func (h *Home) Refresh(ctx context.Context) {
	h.Main.Send(MainChildRefreshed{})
	h.Meal.Refresh(ctx)
	h.TimeTable.Refresh(ctx)
}

// RefreshMeal refreshes the meal screen and resets the display date.
func (h *Home) RefreshMeal(ctx context.Context) {
	h.Main.Send(MainChildRefreshed{})
	h.Meal.Refresh(ctx)
}

// RefreshTimeTable refreshes the timetable screen and resets the display date.
func (h *Home) RefreshTimeTable(ctx context.Context) {
	h.Main.Send(MainChildRefreshed{})
	h.TimeTable.Refresh(ctx)
}

// SchoolChanged reloads labels and data after a new identity was saved.
func (h *Home) SchoolChanged(ctx context.Context) {
	h.Main.Send(MainSchoolSettingFinished{})
	h.Refresh(ctx)
}

// Settle waits for every screen's in-flight work.
func (h *Home) Settle(ctx context.Context) error {
	if err := h.Main.Settle(ctx); err != nil {
		return err
	}
	if err := h.Meal.Settle(ctx); err != nil {
		return err
	}
	return h.TimeTable.Settle(ctx)
}

func (h *Home) Close() {
	h.Main.Close()
	h.Meal.Close()
	h.TimeTable.Close()
}
