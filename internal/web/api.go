package web

import (
	"net/http"
	"strings"

	"todaywhat/internal/config"
	"todaywhat/internal/feature"
	"todaywhat/internal/ics"
	appLog "todaywhat/internal/log"
	"todaywhat/internal/model"
)

func (s *Server) handleMain(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Home.Main.State())
}

func (s *Server) handleNoticeDismiss(w http.ResponseWriter, _ *http.Request) {
	s.Home.Main.Send(feature.MainNoticeDismissed{})
	writeJSON(w, http.StatusOK, s.Home.Main.State())
}

func (s *Server) handleMeal(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Home.Meal.State())
}

func (s *Server) handleMealRefresh(w http.ResponseWriter, r *http.Request) {
	s.Home.RefreshMeal(r.Context())
	s.settle(r.Context(), s.Home.Meal.Settle)
	writeJSON(w, http.StatusOK, s.Home.Meal.State())
}

func (s *Server) handleTimeTable(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Home.TimeTable.State())
}

func (s *Server) handleTimeTableRefresh(w http.ResponseWriter, r *http.Request) {
	s.Home.RefreshTimeTable(r.Context())
	s.settle(r.Context(), s.Home.TimeTable.Settle)
	writeJSON(w, http.StatusOK, s.Home.TimeTable.State())
}

type preferencesResponse struct {
	feature.SettingsState
	WidgetMealDisplay model.DisplayMeal `json:"widget_meal_display"`
}

// preferencesPatch changes only the fields present in the request.
type preferencesPatch struct {
	SkipWeekend       *bool   `json:"skip_weekend"`
	SkipAfterDinner   *bool   `json:"skip_after_dinner"`
	ModifiedTimeTable *bool   `json:"modified_timetable"`
	WidgetMealDisplay *string `json:"widget_meal_display"`
}

func (s *Server) preferences() preferencesResponse {
	return preferencesResponse{
		SettingsState:     s.Settings.State(),
		WidgetMealDisplay: s.Config.Preferences().WidgetMealDisplay,
	}
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, _ *http.Request) {
	s.Settings.Send(feature.SettingsOnAppear{})
	writeJSON(w, http.StatusOK, s.preferences())
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var patch preferencesPatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid preferences: "+err.Error())
		return
	}

	if patch.WidgetMealDisplay != nil {
		display, err := model.ParseDisplayMeal(*patch.WidgetMealDisplay)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if _, err := s.Config.UpdatePreferences(func(p *config.Preferences) { p.WidgetMealDisplay = display }); err != nil {
			appLog.Error("failed to save widget display", err)
			writeError(w, http.StatusInternalServerError, "failed to save preferences")
			return
		}
	}
	if patch.SkipWeekend != nil {
		s.Settings.Send(feature.SkipWeekendChanged{Value: *patch.SkipWeekend})
	}
	if patch.SkipAfterDinner != nil {
		s.Settings.Send(feature.SkipAfterDinnerChanged{Value: *patch.SkipAfterDinner})
	}
	if patch.ModifiedTimeTable != nil {
		s.Settings.Send(feature.ModifiedTimeTableChanged{Value: *patch.ModifiedTimeTable})
	}

	resp := s.preferences()
	if resp.ErrorMessage != "" {
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	// Date rules changed; reload screens on the new effective date.
	s.Home.Appear()
	s.invalidateCaches()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetOverrides(w http.ResponseWriter, r *http.Request) {
	list, err := s.Records.ReadOverrides(r.Context())
	if err != nil {
		appLog.Error("failed to read overrides", err)
		writeError(w, http.StatusInternalServerError, "failed to read overrides")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handlePutOverrides(w http.ResponseWriter, r *http.Request) {
	var list []model.ManualOverride
	if err := decodeJSON(r, &list); err != nil {
		writeError(w, http.StatusBadRequest, "invalid overrides: "+err.Error())
		return
	}
	s.replaceOverrides(w, r, list)
}

// handleImportOverrides replaces the manual timetable with the weekly
// events of an uploaded ICS calendar.
func (s *Server) handleImportOverrides(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := ics.ParseOverrides(body, s.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid calendar: "+err.Error())
		return
	}
	s.replaceOverrides(w, r, list)
}

func (s *Server) replaceOverrides(w http.ResponseWriter, r *http.Request, list []model.ManualOverride) {
	saved, err := s.Records.ReplaceOverrides(r.Context(), list)
	if err != nil {
		if isInvalidOverride(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		appLog.Error("failed to save overrides", err)
		writeError(w, http.StatusInternalServerError, "failed to save overrides")
		return
	}
	appLog.Info("overrides replaced", "count", len(saved))
	s.invalidateCaches()
	if s.Config.Preferences().ModifiedTimeTable {
		s.Home.RefreshTimeTable(r.Context())
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleGetAllergies(w http.ResponseWriter, r *http.Request) {
	list, err := s.Records.ReadAllergies(r.Context())
	if err != nil {
		appLog.Error("failed to read allergies", err)
		writeError(w, http.StatusInternalServerError, "failed to read allergies")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handlePutAllergies(w http.ResponseWriter, r *http.Request) {
	var list []model.Allergy
	if err := decodeJSON(r, &list); err != nil {
		writeError(w, http.StatusBadRequest, "invalid allergies: "+err.Error())
		return
	}
	for _, a := range list {
		if !a.Valid() {
			writeError(w, http.StatusBadRequest, "unknown allergy "+a.String())
			return
		}
	}
	if err := s.Records.SaveAllergies(r.Context(), list); err != nil {
		appLog.Error("failed to save allergies", err)
		writeError(w, http.StatusInternalServerError, "failed to save allergies")
		return
	}
	s.Home.RefreshMeal(r.Context())
	s.settle(r.Context(), s.Home.Meal.Settle)
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSearchSchools(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusOK, []model.School{})
		return
	}
	list, err := s.Schools.SearchSchools(r.Context(), q)
	if err != nil {
		appLog.Error("school search failed", err, "query", q)
		writeError(w, http.StatusBadGateway, "school search failed")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleMajors returns the majors of a school, or the cached list of the
// selected school when no codes are given.
func (s *Server) handleMajors(w http.ResponseWriter, r *http.Request) {
	org := r.URL.Query().Get("org")
	code := r.URL.Query().Get("code")
	if org == "" || code == "" {
		list, err := s.Records.ReadMajors(r.Context())
		if err != nil {
			appLog.Error("failed to read majors", err)
			writeError(w, http.StatusInternalServerError, "failed to read majors")
			return
		}
		writeJSON(w, http.StatusOK, list)
		return
	}
	list, err := s.Schools.FetchMajors(r.Context(), org, code)
	if err != nil {
		appLog.Error("major lookup failed", err, "org", org, "school", code)
		writeError(w, http.StatusBadGateway, "major lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type schoolRequest struct {
	School model.School `json:"school"`
	Grade  string       `json:"grade"`
	Class  string       `json:"class"`
	Major  string       `json:"major"`
}

type schoolResponse struct {
	feature.SchoolSettingState
	TitleMessage    string               `json:"title_message"`
	NextButtonTitle string               `json:"next_button_title"`
	Identity        model.SchoolIdentity `json:"identity"`
}

// handlePutSchool runs the school picker flow for an already chosen school:
// select it, fill the form, confirm.
func (s *Server) handlePutSchool(w http.ResponseWriter, r *http.Request) {
	var req schoolRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid school: "+err.Error())
		return
	}
	if req.School.OrgCode == "" || req.School.SchoolCode == "" {
		writeError(w, http.StatusBadRequest, "school org_code and school_code are required")
		return
	}

	picker := feature.NewSchoolSetting(feature.SchoolSettingDeps{
		Schools:  s.Schools,
		Identity: s.Config,
		Majors:   s.Records,
	})
	defer picker.Close()

	picker.Send(feature.SchoolSelected{School: req.School})
	picker.Send(feature.GradeChanged{Grade: req.Grade})
	picker.Send(feature.ClassChanged{Class: req.Class})
	s.settle(r.Context(), picker.Settle)
	picker.Send(feature.MajorChanged{Major: req.Major})
	picker.Send(feature.SchoolNextTapped{})
	s.settle(r.Context(), picker.Settle)

	st := picker.State()
	resp := schoolResponse{
		SchoolSettingState: st,
		TitleMessage:       st.TitleMessage(),
		NextButtonTitle:    st.NextButtonTitle(),
		Identity:           s.Config.School(),
	}
	if !st.Finished {
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}

	appLog.Info("school changed", "school", req.School.Name, "grade", resp.Identity.Grade, "class", resp.Identity.Class)
	s.invalidateCaches()
	s.Settings.Send(feature.SettingsOnAppear{})
	s.Home.SchoolChanged(r.Context())
	writeJSON(w, http.StatusOK, resp)
}

// handleWatchIdentity hands the school identity to a paired watch, which
// has no picker of its own.
func (s *Server) handleWatchIdentity(w http.ResponseWriter, _ *http.Request) {
	id := s.Config.School()
	if !id.Configured() {
		writeError(w, http.StatusNotFound, "school is not set")
		return
	}
	writeJSON(w, http.StatusOK, id)
}
