package feature

import (
	"todaywhat/internal/config"
	appLog "todaywhat/internal/log"
)

// SettingsState mirrors the persisted preferences and the identity labels.
type SettingsState struct {
	SchoolName        string `json:"school_name"`
	Grade             int    `json:"grade"`
	Class             int    `json:"class"`
	Major             string `json:"major,omitempty"`
	SkipWeekend       bool   `json:"skip_weekend"`
	SkipAfterDinner   bool   `json:"skip_after_dinner"`
	ModifiedTimeTable bool   `json:"modified_timetable"`
	ErrorMessage      string `json:"error_message,omitempty"`
}

type SettingsAction interface {
	isSettingsAction()
}

type (
	SettingsOnAppear         struct{}
	SkipWeekendChanged       struct{ Value bool }
	SkipAfterDinnerChanged   struct{ Value bool }
	ModifiedTimeTableChanged struct{ Value bool }
)

func (SettingsOnAppear) isSettingsAction()         {}
func (SkipWeekendChanged) isSettingsAction()       {}
func (SkipAfterDinnerChanged) isSettingsAction()   {}
func (ModifiedTimeTableChanged) isSettingsAction() {}

type SettingsDeps struct {
	Preferences PreferenceStore
	Identity    IdentitySource
}

type SettingsFeature struct {
	*Store[SettingsState, SettingsAction]
}

func NewSettings(deps SettingsDeps) *SettingsFeature {
	var initial SettingsState
	deps.load(&initial)
	return &SettingsFeature{Store: NewStore(initial, deps.reduce)}
}

func (d SettingsDeps) reduce(state *SettingsState, action SettingsAction) []Effect[SettingsAction] {
	switch a := action.(type) {
	case SettingsOnAppear:
		d.load(state)

	case SkipWeekendChanged:
		d.persist(state, func(p *config.Preferences) { p.SkipWeekend = a.Value })

	case SkipAfterDinnerChanged:
		d.persist(state, func(p *config.Preferences) { p.SkipAfterDinner = a.Value })

	case ModifiedTimeTableChanged:
		d.persist(state, func(p *config.Preferences) { p.ModifiedTimeTable = a.Value })
	}
	return nil
}

func (d SettingsDeps) load(state *SettingsState) {
	prefs := d.Preferences.Preferences()
	state.SkipWeekend = prefs.SkipWeekend
	state.SkipAfterDinner = prefs.SkipAfterDinner
	state.ModifiedTimeTable = prefs.ModifiedTimeTable
	if d.Identity != nil {
		id := d.Identity.School()
		state.SchoolName = id.School.Name
		state.Grade = id.Grade
		state.Class = id.Class
		state.Major = id.Major
	}
}

// persist applies one preference change. The stored record is the truth,
// so a failed save leaves the toggle where it was.
func (d SettingsDeps) persist(state *SettingsState, fn func(*config.Preferences)) {
	prefs, err := d.Preferences.UpdatePreferences(fn)
	state.ErrorMessage = ""
	if err != nil {
		appLog.Error("preference save failed", err)
		state.ErrorMessage = err.Error()
		prefs = d.Preferences.Preferences()
	}
	state.SkipWeekend = prefs.SkipWeekend
	state.SkipAfterDinner = prefs.SkipAfterDinner
	state.ModifiedTimeTable = prefs.ModifiedTimeTable
}
