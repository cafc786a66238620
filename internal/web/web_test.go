package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todaywhat/internal/config"
	"todaywhat/internal/feature"
	"todaywhat/internal/ics"
	"todaywhat/internal/model"
	"todaywhat/internal/schedule"
	"todaywhat/internal/store"
	"todaywhat/internal/widget"
)

var kst = time.FixedZone("KST", 9*60*60)

// tuesday is 2024-03-05 11:00 KST.
var tuesday = time.Date(2024, time.March, 5, 11, 0, 0, 0, kst)

type fakeMeals struct {
	meal model.Meal
	err  error
}

func (f *fakeMeals) FetchMeal(context.Context, time.Time) (model.Meal, error) {
	return f.meal, f.err
}

type fakeTables struct {
	mu      sync.Mutex
	list    []model.TimeTable
	failOn  map[string]bool
	fetched int
}

func (f *fakeTables) FetchTimeTable(_ context.Context, date time.Time) ([]model.TimeTable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched++
	if f.failOn[date.Format(time.DateOnly)] {
		return nil, errors.New("neis unavailable")
	}
	return f.list, nil
}

type fakeSchools struct {
	schools []model.School
	majors  []string
}

func (f *fakeSchools) SearchSchools(_ context.Context, name string) ([]model.School, error) {
	var out []model.School
	for _, s := range f.schools {
		if strings.Contains(s.Name, name) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSchools) FetchMajors(context.Context, string, string) ([]string, error) {
	return f.majors, nil
}

type testEnv struct {
	handler http.Handler
	cfg     *config.Store
	records *store.LocalStore
	meals   *fakeMeals
	tables  *fakeTables
	schools *fakeSchools
}

var lunch = model.Meal{
	Breakfast: model.MealPart{Meals: []string{}},
	Lunch:     model.MealPart{Meals: []string{"쌀밥", "우유(2)", "돈까스(1.5.10)"}, Cal: 812.4},
	Dinner:    model.MealPart{Meals: []string{}},
}

func newEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	c := config.DefaultConfig()
	if mutate != nil {
		mutate(c)
	}
	cfg := config.NewStore("", c)

	records, err := store.Open(filepath.Join(t.TempDir(), "todaywhat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = records.Close() })

	env := &testEnv{
		cfg:     cfg,
		records: records,
		meals:   &fakeMeals{meal: lunch},
		tables:  &fakeTables{list: []model.TimeTable{{Period: 1, Content: "국어"}, {Period: 2, Content: "수학"}}},
		schools: &fakeSchools{
			schools: []model.School{{Name: "선린인터넷고등학교", OrgCode: "B10", SchoolCode: "7010536", SchoolType: model.SchoolHigh}},
			majors:  []string{"소프트웨어과", "정보보호과"},
		},
	}

	clock := schedule.ClockFunc(func() time.Time { return tuesday })
	home := &feature.Home{
		Main: feature.NewMain(feature.MainDeps{Clock: clock, Preferences: cfg, Identity: cfg}),
		Meal: feature.NewMeal(feature.MealDeps{Clock: clock, Preferences: cfg, Fetcher: env.meals, Allergies: records}),
		TimeTable: feature.NewTimeTable(feature.TimeTableDeps{
			Clock: clock, Preferences: cfg, Fetcher: env.tables, Overrides: records,
		}),
	}
	settings := feature.NewSettings(feature.SettingsDeps{Preferences: cfg, Identity: cfg})
	t.Cleanup(func() {
		home.Close()
		settings.Close()
	})

	srv := NewServer(Deps{
		Config:     cfg,
		Clock:      clock,
		Location:   kst,
		Home:       home,
		Settings:   settings,
		Schools:    env.schools,
		Meals:      env.meals,
		TimeTables: env.tables,
		Records:    records,
		Widgets: &widget.Provider{
			Clock:       clock,
			Preferences: cfg,
			Meals:       env.meals,
			TimeTables:  env.tables,
			Overrides:   records,
			Allergies:   records,
		},
		SettleTimeout: 2 * time.Second,
	})
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestBasicAuthSkipsHealth(t *testing.T) {
	env := newEnv(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	})

	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/main", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "TodayWhat")

	req := httptest.NewRequest(http.MethodGet, "/api/main", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMealRefreshReturnsLoadedState(t *testing.T) {
	env := newEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/meal/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)

	st := decode[feature.MealState](t, rec)
	assert.Equal(t, feature.PhaseLoaded, st.Phase)
	require.NotNil(t, st.Meal)
	assert.Equal(t, lunch.Lunch.Meals, st.Meal.Lunch.Meals)
	assert.False(t, st.IsLoading)
}

func TestTimeTableRefreshFailureIsEmpty(t *testing.T) {
	env := newEnv(t, nil)
	env.tables.failOn = map[string]bool{"2024-03-05": true}

	rec := env.do(t, http.MethodPost, "/api/timetable/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)

	st := decode[feature.TimeTableState](t, rec)
	assert.True(t, st.IsError)
	assert.Empty(t, st.TimeTableList)
}

func TestPutPreferences(t *testing.T) {
	env := newEnv(t, nil)

	rec := env.do(t, http.MethodPut, "/api/preferences", `{"skip_weekend":true,"widget_meal_display":"lunch"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[preferencesResponse](t, rec)
	assert.True(t, resp.SkipWeekend)
	assert.True(t, resp.SkipAfterDinner)
	assert.Equal(t, model.DisplayLunch, resp.WidgetMealDisplay)

	prefs := env.cfg.Preferences()
	assert.True(t, prefs.SkipWeekend)
	assert.Equal(t, model.DisplayLunch, prefs.WidgetMealDisplay)

	rec = env.do(t, http.MethodPut, "/api/preferences", `{"widget_meal_display":"snack"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/preferences", `{"dark_mode":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOverridesReplaceAndImport(t *testing.T) {
	env := newEnv(t, nil)

	rec := env.do(t, http.MethodPut, "/api/overrides", `[{"weekday":9,"perio":1,"content":"국어"}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/overrides", `[{"id":"x","weekday":2,"perio":1,"content":"국어"},{"id":"x","weekday":2,"perio":2,"content":"수학"}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/overrides", `[{"weekday":3,"perio":2,"content":"수학"},{"weekday":3,"perio":1,"content":"국어"}]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decode[[]model.ManualOverride](t, rec)
	require.Len(t, saved, 2)
	assert.NotEmpty(t, saved[0].ID)

	feed, err := ics.Render(nil, []model.ManualOverride{{ID: "a", Weekday: 4, Period: 3, Content: "체육"}}, ics.FeedOptions{
		Location: kst,
		Anchor:   tuesday,
		Stamp:    tuesday,
	})
	require.NoError(t, err)

	rec = env.do(t, http.MethodPost, "/api/overrides/import", feed)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	all, err := env.records.ReadOverrides(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 4, all[0].Weekday)
	assert.Equal(t, 3, all[0].Period)
	assert.Equal(t, "체육", all[0].Content)

	rec = env.do(t, http.MethodPost, "/api/overrides/import", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWeekFromManualTimeTable(t *testing.T) {
	env := newEnv(t, func(c *config.Config) { c.Preferences.ModifiedTimeTable = true })
	_, err := env.records.ReplaceOverrides(context.Background(), []model.ManualOverride{
		{Weekday: 3, Period: 2, Content: "수학"},
		{Weekday: 3, Period: 1, Content: "국어"},
	})
	require.NoError(t, err)

	rec := env.do(t, http.MethodGet, "/api/timetable/week?start=2024-03-04&days=7", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[weekResponse](t, rec)
	assert.Equal(t, "manual", resp.Source)
	require.Len(t, resp.Days, 7)
	assert.Empty(t, resp.Days[0].TimeTable)
	assert.Equal(t, []model.TimeTable{{Period: 1, Content: "국어"}, {Period: 2, Content: "수학"}}, resp.Days[1].TimeTable)
	assert.Zero(t, env.tables.fetched)
}

func TestWeekFromNEISMarksFailedDays(t *testing.T) {
	env := newEnv(t, nil)
	env.tables.failOn = map[string]bool{"2024-03-06": true}

	rec := env.do(t, http.MethodGet, "/api/timetable/week?start=2024-03-04&days=3", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[weekResponse](t, rec)
	assert.Equal(t, "neis", resp.Source)
	require.Len(t, resp.Days, 3)
	assert.Len(t, resp.Days[0].TimeTable, 2)
	assert.Empty(t, resp.Days[2].TimeTable)
	assert.Equal(t, []string{"2024-03-06"}, resp.Errors)

	rec = env.do(t, http.MethodGet, "/api/timetable/week?days=30", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCalendarFeed(t *testing.T) {
	env := newEnv(t, func(c *config.Config) { c.HorizonDays = 2 })

	rec := env.do(t, http.MethodGet, "/calendar.ics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	body := rec.Body.String()
	assert.Contains(t, body, "BEGIN:VCALENDAR")
	assert.Contains(t, body, "중식")
	assert.Contains(t, body, "meal-20240305-lunch@todaywhat")
	assert.Contains(t, body, "meal-20240306-lunch@todaywhat")
}

func TestPutSchoolRunsPicker(t *testing.T) {
	env := newEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/watch/identity", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/schools?q="+url.QueryEscape("선린"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	schools := decode[[]model.School](t, rec)
	require.Len(t, schools, 1)

	body, err := json.Marshal(schoolRequest{School: schools[0], Grade: "2", Class: "3", Major: "소프트웨어과"})
	require.NoError(t, err)
	rec = env.do(t, http.MethodPut, "/api/school", string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[schoolResponse](t, rec)
	assert.True(t, resp.Finished)
	assert.Equal(t, "확인", resp.NextButtonTitle)

	id := env.cfg.School()
	assert.Equal(t, "7010536", id.School.SchoolCode)
	assert.Equal(t, 2, id.Grade)
	assert.Equal(t, 3, id.Class)
	assert.Equal(t, "소프트웨어과", id.Major)

	majors, err := env.records.ReadMajors(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"", "소프트웨어과", "정보보호과"}, majors)

	rec = env.do(t, http.MethodGet, "/api/watch/identity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode[model.SchoolIdentity](t, rec))

	rec = env.do(t, http.MethodPut, "/api/school", `{"school":{"name":"x"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWidgetMealPageMarksAllergies(t *testing.T) {
	env := newEnv(t, nil)
	require.NoError(t, env.records.SaveAllergies(context.Background(), []model.Allergy{model.Allergy(10)}))

	rec := env.do(t, http.MethodGet, "/widget/meal?family=large", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := rec.Body.String()
	assert.Contains(t, page, `data-ready="true"`)
	assert.Contains(t, page, `class="widget large"`)
	assert.Contains(t, page, "점심")
	assert.Contains(t, page, `<li class="allergic">돈까스</li>`)
	assert.Contains(t, page, "<li>우유</li>")

	rec = env.do(t, http.MethodGet, "/widget/meal?family=huge", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutAllergiesReloadsMealScreen(t *testing.T) {
	env := newEnv(t, nil)

	rec := env.do(t, http.MethodPut, "/api/allergies", `[2,10]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/meal", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[feature.MealState](t, rec)
	assert.Equal(t, []model.Allergy{model.AllergyMilk, model.AllergyPork}, st.AllergyList)

	rec = env.do(t, http.MethodPut, "/api/allergies", `[99]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWidgetMealTimelineDisplayOverride(t *testing.T) {
	env := newEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/widget/meal?display=dinner", "")
	require.Equal(t, http.StatusOK, rec.Code)
	tl := decode[widget.Timeline[widget.MealEntry]](t, rec)
	require.Len(t, tl.Entries, 1)
	assert.Equal(t, model.Dinner, tl.Entries[0].MealPartTime)
	assert.True(t, tl.NextUpdate.Equal(tuesday.Add(time.Hour)))

	rec = env.do(t, http.MethodGet, "/api/widget/meal?display=brunch", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreviewDisabledWithoutSnapshotter(t *testing.T) {
	env := newEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/preview.png", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
